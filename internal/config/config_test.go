package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"whisperflow/internal/config"
)

func isolateEnv(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	for _, key := range []string{"WHISPERFLOW_CONFIG", "WHISPERFLOW_WORK_DIR", "WHISPERFLOW_SECRETS_FILE", "WHISPERFLOW_DEVICE", "WHISPERFLOW_BATCH_SIZE", "WHISPERFLOW_BIND", "WHISPERFLOW_LOG_LEVEL"} {
		t.Setenv(key, "")
	}
	t.Chdir(t.TempDir())
	return home
}

func TestLoadDefaultsExpandPaths(t *testing.T) {
	home := isolateEnv(t)

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}
	if resolved != filepath.Join(home, ".config", "whisperflow", "config.toml") {
		t.Fatalf("unexpected resolved path %q", resolved)
	}
	if cfg.Paths.WorkDir != filepath.Join(home, ".local", "share", "whisperflow", "work") {
		t.Fatalf("unexpected work dir %q", cfg.Paths.WorkDir)
	}
	if cfg.Paths.SecretsFile != filepath.Join(home, ".config", "whisperflow", "secrets.toml") {
		t.Fatalf("unexpected secrets file %q", cfg.Paths.SecretsFile)
	}
	if cfg.WhisperX.Model != "large-v3" {
		t.Fatalf("unexpected model %q", cfg.WhisperX.Model)
	}
	if cfg.Processing.BatchSize != 16 || cfg.Processing.ComputeType != "int8" {
		t.Fatalf("unexpected processing defaults %+v", cfg.Processing)
	}
	if cfg.Processing.Align || cfg.Processing.Diarize || cfg.Processing.ReturnCharAlignments {
		t.Fatalf("expected optional stages off by default: %+v", cfg.Processing)
	}
	if cfg.Pipeline.AlignmentFallback != config.FallbackContinue {
		t.Fatalf("unexpected alignment fallback %q", cfg.Pipeline.AlignmentFallback)
	}
	if !cfg.CUDAEnabled() {
		t.Fatal("expected cuda device by default")
	}
	if cfg.MaxUploadBytes() != 200<<20 {
		t.Fatalf("unexpected upload limit %d", cfg.MaxUploadBytes())
	}
}

func TestLoadFileOverridesAndEnv(t *testing.T) {
	isolateEnv(t)
	t.Setenv("WHISPERFLOW_LOG_LEVEL", "DEBUG")

	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[whisperx]
device = "CPU"

[processing]
align = true
diarize = true
batch_size = 8
compute_type = "float16"

[pipeline]
alignment_fallback = "fail"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != path {
		t.Fatalf("unexpected resolution %q exists=%v", resolved, exists)
	}
	if cfg.WhisperX.Device != config.DeviceCPU {
		t.Fatalf("device = %q, want cpu", cfg.WhisperX.Device)
	}
	if !cfg.Processing.Align || !cfg.Processing.Diarize || cfg.Processing.BatchSize != 8 {
		t.Fatalf("unexpected processing %+v", cfg.Processing)
	}
	if cfg.Pipeline.AlignmentFallback != config.FallbackFail {
		t.Fatalf("unexpected fallback %q", cfg.Pipeline.AlignmentFallback)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("expected env log level, got %q", cfg.Logging.Level)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"batch too large", "[processing]\nbatch_size = 40\n", "processing.batch_size"},
		{"batch zero", "[processing]\nbatch_size = -1\n", "processing.batch_size"},
		{"compute type", "[processing]\ncompute_type = \"float32\"\n", "processing.compute_type"},
		{"fallback", "[pipeline]\nalignment_fallback = \"retry\"\n", "pipeline.alignment_fallback"},
		{"device", "[whisperx]\ndevice = \"tpu\"\n", "whisperx.device"},
		{"whispercpp without model", "[whisperx]\nbackend = \"whispercpp\"\n", "whispercpp_model"},
		{"log format", "[logging]\nformat = \"xml\"\n", "logging.format"},
		{"unknown key", "[processing]\nbatchsize = 4\n", "parse config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolateEnv(t)
			path := filepath.Join(t.TempDir(), "config.toml")
			if err := os.WriteFile(path, []byte(tt.content), 0o644); err != nil {
				t.Fatalf("write config: %v", err)
			}
			_, _, _, err := config.Load(path)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestLoadUsesConfigEnvPath(t *testing.T) {
	isolateEnv(t)
	path := filepath.Join(t.TempDir(), "custom.toml")
	if err := os.WriteFile(path, []byte("[server]\nbind = \"0.0.0.0:9000\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("WHISPERFLOW_CONFIG", path)

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != path {
		t.Fatalf("unexpected resolution %q exists=%v", resolved, exists)
	}
	if cfg.Server.Bind != "0.0.0.0:9000" {
		t.Fatalf("unexpected bind %q", cfg.Server.Bind)
	}
}

func TestSampleConfigDecodesAndValidates(t *testing.T) {
	isolateEnv(t)
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample returned error: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	var decoded config.Config
	if err := toml.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("sample config does not decode: %v", err)
	}
	if decoded.WhisperX.Model != config.Default().WhisperX.Model {
		t.Fatalf("sample model %q drifted from defaults", decoded.WhisperX.Model)
	}

	if _, _, _, err := config.Load(path); err != nil {
		t.Fatalf("sample config fails validation: %v", err)
	}
}

func TestEncodeRoundTrips(t *testing.T) {
	cfg := config.Default()
	cfg.Processing.BatchSize = 4
	text, err := cfg.Encode()
	if err != nil {
		t.Fatalf("Encode returned error: %v", err)
	}
	var decoded config.Config
	if err := toml.Unmarshal([]byte(text), &decoded); err != nil {
		t.Fatalf("decode encoded config: %v", err)
	}
	if decoded.Processing.BatchSize != 4 {
		t.Fatalf("batch size lost in encode: %d", decoded.Processing.BatchSize)
	}
}

func TestEnsureDirectories(t *testing.T) {
	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.WorkDir = filepath.Join(base, "work")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories returned error: %v", err)
	}
	for _, dir := range []string{cfg.Paths.WorkDir, cfg.Paths.LogDir} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Fatalf("expected directory %s", dir)
		}
	}
}

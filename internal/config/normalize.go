package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeWhisperX(); err != nil {
		return err
	}
	c.normalizeProcessing()
	c.normalizeServer()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	if value, ok := os.LookupEnv("WHISPERFLOW_WORK_DIR"); ok && strings.TrimSpace(value) != "" {
		c.Paths.WorkDir = value
	}
	if value, ok := os.LookupEnv("WHISPERFLOW_SECRETS_FILE"); ok && strings.TrimSpace(value) != "" {
		c.Paths.SecretsFile = value
	}
	fields := []struct {
		name  string
		value *string
		def   string
	}{
		{"paths.work_dir", &c.Paths.WorkDir, defaultWorkDir},
		{"paths.log_dir", &c.Paths.LogDir, ""},
		{"paths.secrets_file", &c.Paths.SecretsFile, defaultSecretsFile},
		{"paths.lock_file", &c.Paths.LockFile, defaultLockFile},
	}
	for _, field := range fields {
		trimmed := strings.TrimSpace(*field.value)
		if trimmed == "" {
			trimmed = field.def
		}
		expanded, err := expandPath(trimmed)
		if err != nil {
			return fmt.Errorf("%s: %w", field.name, err)
		}
		*field.value = expanded
	}
	return nil
}

func (c *Config) normalizeWhisperX() error {
	w := &c.WhisperX
	w.Backend = strings.ToLower(strings.TrimSpace(w.Backend))
	if w.Backend == "" {
		w.Backend = defaultBackend
	}
	w.Model = strings.TrimSpace(w.Model)
	if w.Model == "" {
		w.Model = defaultModel
	}
	if value, ok := os.LookupEnv("WHISPERFLOW_DEVICE"); ok && strings.TrimSpace(value) != "" {
		w.Device = value
	}
	w.Device = strings.ToLower(strings.TrimSpace(w.Device))
	if w.Device == "" {
		w.Device = defaultDevice
	}
	w.CUDAIndexURL = strings.TrimSpace(w.CUDAIndexURL)
	if w.CUDAIndexURL == "" {
		w.CUDAIndexURL = defaultCUDAIndexURL
	}
	w.PypiIndexURL = strings.TrimSpace(w.PypiIndexURL)
	if w.PypiIndexURL == "" {
		w.PypiIndexURL = defaultPypiIndexURL
	}
	w.UVXBinary = strings.TrimSpace(w.UVXBinary)
	if w.UVXBinary == "" {
		w.UVXBinary = defaultUVXBinary
	}
	w.FFmpegBinary = strings.TrimSpace(w.FFmpegBinary)
	if w.FFmpegBinary == "" {
		w.FFmpegBinary = defaultFFmpegBinary
	}
	w.FFprobeBinary = strings.TrimSpace(w.FFprobeBinary)
	if w.FFprobeBinary == "" {
		w.FFprobeBinary = defaultFFprobeBinary
	}
	if w.LoadTimeoutSeconds <= 0 {
		w.LoadTimeoutSeconds = defaultLoadTimeoutSeconds
	}
	if strings.TrimSpace(w.WhisperCppModel) != "" {
		expanded, err := expandPath(strings.TrimSpace(w.WhisperCppModel))
		if err != nil {
			return fmt.Errorf("whisperx.whispercpp_model: %w", err)
		}
		w.WhisperCppModel = expanded
	}
	return nil
}

func (c *Config) normalizeProcessing() {
	c.Processing.ComputeType = strings.ToLower(strings.TrimSpace(c.Processing.ComputeType))
	if c.Processing.ComputeType == "" {
		c.Processing.ComputeType = defaultComputeType
	}
	if value, ok := os.LookupEnv("WHISPERFLOW_BATCH_SIZE"); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			c.Processing.BatchSize = n
		}
	}
	c.Pipeline.AlignmentFallback = strings.ToLower(strings.TrimSpace(c.Pipeline.AlignmentFallback))
	if c.Pipeline.AlignmentFallback == "" {
		c.Pipeline.AlignmentFallback = defaultAlignmentFallback
	}
}

func (c *Config) normalizeServer() {
	if value, ok := os.LookupEnv("WHISPERFLOW_BIND"); ok && strings.TrimSpace(value) != "" {
		c.Server.Bind = value
	}
	c.Server.Bind = strings.TrimSpace(c.Server.Bind)
	if c.Server.Bind == "" {
		c.Server.Bind = defaultBind
	}
	if c.Server.MaxUploadMB == 0 {
		c.Server.MaxUploadMB = defaultMaxUploadMB
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	if value, ok := os.LookupEnv("WHISPERFLOW_LOG_LEVEL"); ok && strings.TrimSpace(value) != "" {
		c.Logging.Level = value
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}

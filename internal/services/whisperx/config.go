package whisperx

import (
	"time"

	"whisperflow/internal/config"
)

// Config captures runtime settings for WhisperX worker processes.
type Config struct {
	// Model is the ASR model name (e.g. "large-v3").
	Model string
	// Device is "cuda" or "cpu".
	Device       string
	CUDAIndexURL string
	PypiIndexURL string
	UVXBinary    string
	// LoadTimeout bounds how long a worker may take to report ready.
	LoadTimeout time.Duration
}

// WhisperX defaults.
const (
	DefaultModel       = "large-v3"
	DefaultLoadTimeout = 15 * time.Minute
	CPUDevice          = "cpu"
	CUDADevice         = "cuda"
	// CPUComputeType replaces float16 on CPU, where ctranslate2 has no half kernels.
	CPUComputeType = "float32"
	UVXCommand     = "uvx"
	PackageName    = "whisperx"
)

// ConfigFromApp maps the [whisperx] config section.
func ConfigFromApp(cfg *config.Config) Config {
	return Config{
		Model:        cfg.WhisperX.Model,
		Device:       cfg.WhisperX.Device,
		CUDAIndexURL: cfg.WhisperX.CUDAIndexURL,
		PypiIndexURL: cfg.WhisperX.PypiIndexURL,
		UVXBinary:    cfg.WhisperX.UVXBinary,
		LoadTimeout:  time.Duration(cfg.WhisperX.LoadTimeoutSeconds) * time.Second,
	}
}

func (c Config) withDefaults() Config {
	if c.Model == "" {
		c.Model = DefaultModel
	}
	if c.Device == "" {
		c.Device = CUDADevice
	}
	if c.UVXBinary == "" {
		c.UVXBinary = UVXCommand
	}
	if c.CUDAIndexURL == "" {
		c.CUDAIndexURL = "https://download.pytorch.org/whl/cu128"
	}
	if c.PypiIndexURL == "" {
		c.PypiIndexURL = "https://pypi.org/simple"
	}
	if c.LoadTimeout <= 0 {
		c.LoadTimeout = DefaultLoadTimeout
	}
	return c
}

func (c Config) cudaEnabled() bool {
	return c.Device == CUDADevice
}

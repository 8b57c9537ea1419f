package config

import (
	"errors"
	"fmt"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateWhisperX(); err != nil {
		return err
	}
	if err := c.validateProcessing(); err != nil {
		return err
	}
	if err := c.validatePipeline(); err != nil {
		return err
	}
	if err := c.validateServer(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateWhisperX() error {
	switch c.WhisperX.Backend {
	case BackendWhisperX:
	case BackendWhisperCpp:
		if c.WhisperX.WhisperCppModel == "" {
			return errors.New("whisperx.whispercpp_model must be set when whisperx.backend is whispercpp")
		}
	default:
		return fmt.Errorf("whisperx.backend must be %q or %q, got %q", BackendWhisperX, BackendWhisperCpp, c.WhisperX.Backend)
	}
	switch c.WhisperX.Device {
	case DeviceCUDA, DeviceCPU:
	default:
		return fmt.Errorf("whisperx.device must be %q or %q, got %q", DeviceCUDA, DeviceCPU, c.WhisperX.Device)
	}
	return nil
}

// validateProcessing mirrors the per-run option bounds so a bad default is
// reported at startup instead of on the first request.
func (c *Config) validateProcessing() error {
	if c.Processing.BatchSize < 1 || c.Processing.BatchSize > 32 {
		return fmt.Errorf("processing.batch_size must be between 1 and 32, got %d", c.Processing.BatchSize)
	}
	switch c.Processing.ComputeType {
	case "int8", "float16":
	default:
		return fmt.Errorf("processing.compute_type must be int8 or float16, got %q", c.Processing.ComputeType)
	}
	return nil
}

func (c *Config) validatePipeline() error {
	switch c.Pipeline.AlignmentFallback {
	case FallbackContinue, FallbackFail:
		return nil
	default:
		return fmt.Errorf("pipeline.alignment_fallback must be %q or %q, got %q", FallbackContinue, FallbackFail, c.Pipeline.AlignmentFallback)
	}
}

func (c *Config) validateServer() error {
	if c.Server.MaxUploadMB < 0 {
		return errors.New("server.max_upload_mb must be positive")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
		return nil
	default:
		return fmt.Errorf("logging.level must be debug, info, warn, or error, got %q", c.Logging.Level)
	}
}

package main

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"whisperflow/internal/config"
	"whisperflow/internal/credentials"
	"whisperflow/internal/logging"
	"whisperflow/internal/media"
	"whisperflow/internal/pipeline"
	"whisperflow/internal/services/whispercpp"
	"whisperflow/internal/services/whisperx"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error

	loggerOnce sync.Once
	logger     *slog.Logger
	loggerErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) configPath() string {
	if c.configFlag == nil {
		return ""
	}
	return strings.TrimSpace(*c.configFlag)
}

func (c *commandContext) ensureLogger() (*slog.Logger, error) {
	c.loggerOnce.Do(func() {
		cfg, err := c.ensureConfig()
		if err != nil {
			c.loggerErr = err
			return
		}
		c.logger, c.loggerErr = logging.NewFromConfig(cfg)
	})
	return c.logger, c.loggerErr
}

func (c *commandContext) tokenStore() (*credentials.Store, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	logger, err := c.ensureLogger()
	if err != nil {
		return nil, err
	}
	return credentials.NewStore(cfg.Paths.SecretsFile, logger), nil
}

// buildModels wires the configured backend. whisper.cpp only replaces ASR;
// alignment and diarization always run in WhisperX workers.
func buildModels(cfg *config.Config, logger *slog.Logger) pipeline.Models {
	svc := whisperx.New(whisperx.ConfigFromApp(cfg), whisperx.WithLogger(logger))
	models := svc.Models()
	if cfg.WhisperX.Backend == config.BackendWhisperCpp {
		models = whispercpp.WithASR(models, whispercpp.ConfigFromApp(cfg), logger)
	}
	return models
}

func buildProvider(cfg *config.Config, logger *slog.Logger) *media.Provider {
	return media.NewProvider(media.ProviderConfig{
		WorkDir:       cfg.Paths.WorkDir,
		FFmpegBinary:  cfg.WhisperX.FFmpegBinary,
		FFprobeBinary: cfg.WhisperX.FFprobeBinary,
		DecodeSamples: cfg.WhisperX.Backend == config.BackendWhisperCpp,
		Logger:        logger,
	})
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

package main

import (
	"context"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"whisperflow/internal/config"
	"whisperflow/internal/credentials"
	"whisperflow/internal/logging"
	"whisperflow/internal/observe"
	"whisperflow/internal/pipeline"
	"whisperflow/internal/preflight"
	"whisperflow/internal/server"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	var bind string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the transcription API over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.ensureLogger()
			if err != nil {
				return err
			}
			store, err := ctx.tokenStore()
			if err != nil {
				return err
			}
			if value := strings.TrimSpace(bind); value != "" {
				cfg.Server.Bind = value
			}
			return runServe(cmd.Context(), cfg, store, logger)
		},
	}

	cmd.Flags().StringVar(&bind, "bind", "", "Listen address (overrides server.bind)")
	return cmd
}

func runServe(ctx context.Context, cfg *config.Config, store *credentials.Store, logger *slog.Logger) error {
	fallback, err := pipeline.ParseAlignmentFallback(cfg.Pipeline.AlignmentFallback)
	if err != nil {
		return err
	}

	var telemetry *observe.Provider
	if cfg.Server.Metrics {
		telemetry, err = observe.NewProvider(true)
		if err != nil {
			return err
		}
		defer func() {
			if err := telemetry.Shutdown(context.Background()); err != nil {
				logger.Warn("metrics shutdown failed", logging.Error(err))
			}
		}()
	}

	health := func(ctx context.Context) []preflight.Result {
		token, _, _ := store.Token()
		return preflight.RunAll(ctx, cfg, token != "")
	}
	for _, h := range preflight.Failed(health(ctx)) {
		logger.Warn("preflight check failed",
			logging.String(logging.FieldEventType, "preflight_failed"),
			logging.String("check", h.Name),
			logging.String("detail", h.Detail),
			logging.String(logging.FieldImpact, "runs that need this dependency will fail"),
		)
	}

	srv, err := server.New(server.Config{
		Bind:           cfg.Server.Bind,
		MaxUploadBytes: cfg.MaxUploadBytes(),
		Defaults:       pipeline.OptionsFromConfig(cfg.Processing),
	}, server.Dependencies{
		Models:    buildModels(cfg, logger),
		Ingest:    buildProvider(cfg, logger),
		Tokens:    store,
		Lock:      pipeline.NewRunLock(cfg.Paths.LockFile),
		Fallback:  fallback,
		Telemetry: telemetry,
		Health:    health,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx) })
	g.Go(func() error { return store.Watch(gctx) })
	return g.Wait()
}

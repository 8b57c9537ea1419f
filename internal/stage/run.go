package stage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"whisperflow/internal/logging"
	"whisperflow/internal/services"
)

// Observation summarizes one stage execution for metrics.
type Observation struct {
	Stage        string
	LoadDuration time.Duration
	BodyDuration time.Duration
	Err          error
}

type runConfig struct {
	logger    *slog.Logger
	reclaimer Reclaimer
	guard     *Guard
	observer  func(Observation)
	onLoaded  func()
}

// Option customizes a single Run call.
type Option func(*runConfig)

func WithLogger(logger *slog.Logger) Option {
	return func(c *runConfig) { c.logger = logger }
}

// WithReclaimer replaces the default HostReclaimer.
func WithReclaimer(r Reclaimer) Option {
	return func(c *runConfig) {
		if r != nil {
			c.reclaimer = r
		}
	}
}

// WithGuard enforces single residency across the runs sharing g.
func WithGuard(g *Guard) Option {
	return func(c *runConfig) { c.guard = g }
}

// WithObserver receives timing and outcome once the stage has fully released.
func WithObserver(fn func(Observation)) Option {
	return func(c *runConfig) { c.observer = fn }
}

// WithLoaded is called after the loader succeeds and before the body runs.
func WithLoaded(fn func()) Option {
	return func(c *runConfig) { c.onLoaded = fn }
}

// Run loads a model, runs body against it, then releases the handle and
// reclaims memory before returning. Release and reclaim happen on every exit
// path including a panic in body, which is re-raised afterwards.
//
// Loader failures that are not already classified are reported as
// services.ErrModelLoad. Body errors are returned unchanged. A release
// failure is logged and joined onto the result only when body succeeded.
func Run[H Handle, R any](
	ctx context.Context,
	name string,
	loader func(context.Context) (H, error),
	body func(context.Context, H) (R, error),
	opts ...Option,
) (result R, err error) {
	cfg := runConfig{reclaimer: HostReclaimer{}}
	for _, opt := range opts {
		opt(&cfg)
	}
	ctx = services.WithStage(ctx, name)
	logger := logging.WithContext(ctx, cfg.logger)
	obs := Observation{Stage: name}

	if err := cfg.guard.acquire(name); err != nil {
		return result, err
	}

	logger.Info("stage started", logging.String(logging.FieldEventType, "stage_start"))

	loadStart := time.Now()
	handle, err := loadModel(ctx, cfg.guard, loader)
	obs.LoadDuration = time.Since(loadStart)
	if err != nil {
		err = classifyLoadError(name, err)
		obs.Err = err
		logFailure(logger, "model load failed", err)
		cfg.notify(obs)
		return result, err
	}
	logger.Debug("model loaded", logging.Duration("load_duration", obs.LoadDuration))
	if cfg.onLoaded != nil {
		cfg.onLoaded()
	}

	bodyStart := time.Now()
	defer func() {
		obs.BodyDuration = time.Since(bodyStart)
		recovered := recover()

		releaseErr := handle.Release()
		cfg.guard.release()
		if releaseErr != nil {
			logging.WarnWithContext(logger, "model release failed", "model_release_failed",
				logging.Error(releaseErr),
				logging.String(logging.FieldImpact, "device memory may stay allocated until the process exits"),
			)
		}
		if reclaimErr := cfg.reclaimer.Reclaim(context.WithoutCancel(ctx)); reclaimErr != nil {
			logger.Debug("memory reclaim failed", logging.Error(reclaimErr))
		}

		if recovered != nil {
			obs.Err = fmt.Errorf("stage %s panicked: %v", name, recovered)
			logFailure(logger, "stage panicked", obs.Err)
			cfg.notify(obs)
			panic(recovered)
		}

		if err == nil && releaseErr != nil {
			err = errors.Join(err, fmt.Errorf("release %s model: %w", name, releaseErr))
		}
		obs.Err = err
		if err != nil {
			logFailure(logger, "stage failed", err)
		} else {
			logger.Info("stage completed",
				logging.String(logging.FieldEventType, "stage_complete"),
				logging.Duration("load_duration", obs.LoadDuration),
				logging.Duration("duration", obs.BodyDuration),
			)
		}
		cfg.notify(obs)
	}()

	return body(ctx, handle)
}

// loadModel runs loader and hands the guard back when it fails or panics.
func loadModel[H Handle](ctx context.Context, guard *Guard, loader func(context.Context) (H, error)) (handle H, err error) {
	loaded := false
	defer func() {
		if !loaded {
			guard.release()
		}
	}()
	handle, err = loader(ctx)
	loaded = err == nil
	return handle, err
}

func (c runConfig) notify(obs Observation) {
	if c.observer != nil {
		c.observer(obs)
	}
}

func classifyLoadError(name string, err error) error {
	var svcErr *services.Error
	if errors.As(err, &svcErr) {
		return err
	}
	return services.Wrap(services.ErrModelLoad, name, "load model", "", err)
}

func logFailure(logger *slog.Logger, msg string, err error) {
	details := services.Details(err)
	logger.Error(msg,
		logging.String(logging.FieldEventType, "stage_failure"),
		logging.String(logging.FieldErrorKind, string(details.Kind)),
		logging.String(logging.FieldErrorHint, details.Hint),
		logging.Error(err),
	)
}

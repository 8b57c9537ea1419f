package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"whisperflow/internal/config"
	"whisperflow/internal/logging"
	"whisperflow/internal/media"
	"whisperflow/internal/services"
	"whisperflow/internal/speakers"
	"whisperflow/internal/stage"
	"whisperflow/internal/transcript"
)

// AlignmentFallback decides what happens when no alignment model exists for
// the detected language.
type AlignmentFallback int

const (
	// FallbackContinue keeps the unaligned segments, records a warning, and
	// carries on to the next stage.
	FallbackContinue AlignmentFallback = iota
	// FallbackFail aborts the run with services.ErrUnsupportedLanguage.
	FallbackFail
)

func (f AlignmentFallback) String() string {
	if f == FallbackFail {
		return config.FallbackFail
	}
	return config.FallbackContinue
}

// ParseAlignmentFallback maps the [pipeline] alignment_fallback setting.
func ParseAlignmentFallback(value string) (AlignmentFallback, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", config.FallbackContinue:
		return FallbackContinue, nil
	case config.FallbackFail:
		return FallbackFail, nil
	default:
		return 0, services.Wrap(services.ErrConfiguration, "", "parse alignment fallback",
			fmt.Sprintf("unknown alignment fallback %q", value), nil)
	}
}

// Request starts a run. Token is only consulted when Diarize is set and is
// never logged.
type Request struct {
	Waveform media.Waveform
	Options  Options
	Token    string
}

// Orchestrator executes runs against a fixed set of model loaders and a fixed
// alignment fallback policy.
type Orchestrator struct {
	models     Models
	logger     *slog.Logger
	fallback   AlignmentFallback
	reclaimer  stage.Reclaimer
	guard      *stage.Guard
	onProgress func(Event)
	observer   func(stage.Observation)
	now        func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

func WithAlignmentFallback(f AlignmentFallback) Option {
	return func(o *Orchestrator) { o.fallback = f }
}

func WithReclaimer(r stage.Reclaimer) Option {
	return func(o *Orchestrator) { o.reclaimer = r }
}

// WithProgress registers a callback invoked synchronously on every state or
// progress change.
func WithProgress(fn func(Event)) Option {
	return func(o *Orchestrator) { o.onProgress = fn }
}

// WithStageObserver receives per-stage timings.
func WithStageObserver(fn func(stage.Observation)) Option {
	return func(o *Orchestrator) { o.observer = fn }
}

func New(models Models, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		models:    models,
		fallback:  FallbackContinue,
		reclaimer: stage.HostReclaimer{},
		guard:     &stage.Guard{},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = logging.NewComponentLogger(o.logger, "pipeline")
	return o
}

// NewRun creates an idle run so callers can publish its ID before executing it.
func (o *Orchestrator) NewRun() *Run {
	return newRun(o.now())
}

// Execute creates a run and drives it to a terminal state.
func (o *Orchestrator) Execute(ctx context.Context, req Request) (*Run, error) {
	run := o.NewRun()
	return run, o.ExecuteRun(ctx, run, req)
}

// ExecuteRun drives an idle run to Completed or Failed. The returned error is
// the run's failure cause.
func (o *Orchestrator) ExecuteRun(ctx context.Context, run *Run, req Request) error {
	if run == nil {
		return errors.New("pipeline: nil run")
	}
	if state := run.State(); state != StateIdle {
		return fmt.Errorf("pipeline: run %s is %s, not idle", run.ID(), state)
	}
	ctx = services.WithRunID(ctx, run.ID())
	logger := logging.WithContext(ctx, o.logger)
	opts := req.Options
	run.start(opts)

	logger.Info("run started",
		logging.String(logging.FieldEventType, "run_start"),
		logging.Bool("align", opts.Align),
		logging.Bool("char_alignments", opts.charAlignments()),
		logging.Bool("diarize", opts.Diarize),
		logging.Int("batch_size", opts.BatchSize),
		logging.String("compute_type", string(opts.ComputeType)),
		logging.Bool("token_present", strings.TrimSpace(req.Token) != ""),
		logging.String("alignment_fallback", o.fallback.String()),
	)

	if err := opts.Validate(); err != nil {
		return o.fail(ctx, run, err)
	}
	if opts.Diarize && strings.TrimSpace(req.Token) == "" {
		return o.fail(ctx, run, services.Wrap(services.ErrMissingCredential, "", "check credential",
			"diarization requires a Hugging Face token", nil))
	}
	if req.Waveform.Empty() {
		return o.fail(ctx, run, services.Wrap(services.ErrInvalidOptions, "", "check waveform", "waveform is empty", nil))
	}

	result, err := o.transcribe(ctx, run, req)
	if err != nil {
		return o.fail(ctx, run, err)
	}

	if opts.Align {
		if err := o.between(ctx, StateAligning); err != nil {
			return o.fail(ctx, run, err)
		}
		result, err = o.align(ctx, run, req, result)
		if err != nil {
			return o.fail(ctx, run, err)
		}
	}

	if opts.Diarize {
		if err := o.between(ctx, StateDiarizing); err != nil {
			return o.fail(ctx, run, err)
		}
		result, err = o.diarize(ctx, run, req, result)
		if err != nil {
			return o.fail(ctx, run, err)
		}
	}

	run.setResult(result)
	run.complete(o.now())
	o.emit(run, "transcription complete")
	logger.Info("run completed",
		logging.String(logging.FieldEventType, "run_complete"),
		logging.String("language", result.Language),
		logging.Int("segments", len(result.Segments)),
		logging.Int("speakers", len(result.Speakers())),
		logging.Int("warnings", len(run.Warnings())),
	)
	return nil
}

func (o *Orchestrator) transcribe(ctx context.Context, run *Run, req Request) (transcript.Result, error) {
	o.advance(run, StateTranscribing, progressTranscribeStart, "loading ASR model")
	result, err := stage.Run(context.WithoutCancel(ctx), string(StateTranscribing),
		func(ctx context.Context) (ASRModel, error) {
			return o.models.LoadASR(ctx, ASRConfig{ComputeType: req.Options.ComputeType})
		},
		func(ctx context.Context, model ASRModel) (transcript.Result, error) {
			res, err := model.Transcribe(ctx, req.Waveform, req.Options.BatchSize)
			if err != nil {
				return transcript.Result{}, classifyInference(StateTranscribing, "transcribe", err)
			}
			return res, nil
		},
		o.stageOptions(run, StateTranscribing, progressTranscribeLoaded, "ASR model loaded")...,
	)
	if err != nil {
		return transcript.Result{}, err
	}
	if err := checkStageResult(StateTranscribing, nil, result); err != nil {
		return transcript.Result{}, err
	}
	run.setResult(result)
	o.finish(run, progressTranscribeDone, "transcription finished")
	return result, nil
}

func (o *Orchestrator) align(ctx context.Context, run *Run, req Request, current transcript.Result) (transcript.Result, error) {
	o.advance(run, StateAligning, progressAlignStart, "loading alignment model")
	returnChars := req.Options.charAlignments()
	segments, err := stage.Run(context.WithoutCancel(ctx), string(StateAligning),
		func(ctx context.Context) (AlignModel, error) {
			return o.models.LoadAligner(ctx, current.Language)
		},
		func(ctx context.Context, model AlignModel) ([]transcript.Segment, error) {
			input := current.Clone().Segments
			out, err := model.Align(ctx, input, req.Waveform, returnChars)
			if err != nil {
				return nil, classifyInference(StateAligning, "align", err)
			}
			return out, nil
		},
		o.stageOptions(run, StateAligning, progressAlignLoaded, "alignment model loaded")...,
	)
	if err != nil {
		if errors.Is(err, services.ErrUnsupportedLanguage) && o.fallback == FallbackContinue {
			msg := fmt.Sprintf("alignment skipped: no alignment model for language %q", current.Language)
			run.addWarning(msg)
			logging.WarnWithContext(logging.WithContext(services.WithStage(ctx, string(StateAligning)), o.logger),
				"alignment skipped", "alignment_skipped",
				logging.String("language", current.Language),
				logging.String(logging.FieldImpact, "segments keep ASR timings without word spans"),
				logging.String(logging.FieldErrorHint, "set pipeline.alignment_fallback = \"fail\" to treat this as an error"),
			)
			o.finish(run, progressAlignDone, msg)
			return current, nil
		}
		return transcript.Result{}, err
	}

	aligned := transcript.Result{Language: current.Language, Segments: segments}
	if err := checkStageResult(StateAligning, &current, aligned); err != nil {
		return transcript.Result{}, err
	}
	run.setResult(aligned)
	o.finish(run, progressAlignDone, "alignment finished")
	return aligned, nil
}

func (o *Orchestrator) diarize(ctx context.Context, run *Run, req Request, current transcript.Result) (transcript.Result, error) {
	o.advance(run, StateDiarizing, progressDiarizeStart, "loading diarization model")
	turns, err := stage.Run(context.WithoutCancel(ctx), string(StateDiarizing),
		func(ctx context.Context) (DiarizeModel, error) {
			return o.models.LoadDiarizer(ctx, req.Token)
		},
		func(ctx context.Context, model DiarizeModel) ([]speakers.Turn, error) {
			out, err := model.Diarize(ctx, req.Waveform)
			if err != nil {
				return nil, classifyInference(StateDiarizing, "diarize", err)
			}
			return out, nil
		},
		o.stageOptions(run, StateDiarizing, progressDiarizeLoaded, "diarization model loaded")...,
	)
	if err != nil {
		return transcript.Result{}, err
	}

	labeled := speakers.Assign(current, turns)
	if err := checkStageResult(StateDiarizing, &current, labeled); err != nil {
		return transcript.Result{}, err
	}
	run.setResult(labeled)
	o.finish(run, progressDiarizeDone, fmt.Sprintf("diarization finished (%d speakers)", len(labeled.Speakers())))
	return labeled, nil
}

// between refuses to start the next stage once ctx is done. Stages already
// running are never interrupted.
func (o *Orchestrator) between(ctx context.Context, next State) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("pipeline: cancelled before %s: %w", next, context.Cause(ctx))
	}
	return nil
}

func (o *Orchestrator) stageOptions(run *Run, state State, loaded int, msg string) []stage.Option {
	return []stage.Option{
		stage.WithLogger(o.logger),
		stage.WithReclaimer(o.reclaimer),
		stage.WithGuard(o.guard),
		stage.WithObserver(o.observer),
		stage.WithLoaded(func() { o.advance(run, state, loaded, msg) }),
	}
}

func (o *Orchestrator) advance(run *Run, state State, percent int, msg string) {
	if run.transition(state, percent) {
		o.emit(run, msg)
	}
}

func (o *Orchestrator) finish(run *Run, percent int, msg string) {
	if run.finishStage(percent) {
		o.emit(run, msg)
	}
}

func (o *Orchestrator) emit(run *Run, msg string) {
	if o.onProgress == nil {
		return
	}
	snap := run.Snapshot()
	o.onProgress(Event{RunID: snap.ID, State: snap.State, Progress: snap.Progress, Message: msg, Time: o.now()})
}

func (o *Orchestrator) fail(ctx context.Context, run *Run, err error) error {
	from := run.State()
	run.fail(err, o.now())
	details := services.Details(err)
	logging.ErrorWithContext(logging.WithContext(ctx, o.logger), "run failed", "run_failure",
		logging.String("failed_in", string(from)),
		logging.Int(logging.FieldProgress, run.Progress()),
		logging.Int("completed_progress", run.CompletedProgress()),
		logging.String(logging.FieldErrorKind, string(details.Kind)),
		logging.String(logging.FieldErrorHint, details.Hint),
		logging.Error(err),
	)
	o.emit(run, details.Message)
	return err
}

func classifyInference(state State, op string, err error) error {
	var svcErr *services.Error
	if errors.As(err, &svcErr) {
		return err
	}
	return services.Wrap(services.ErrInference, string(state), op, "", err)
}

// checkStageResult enforces the ordering invariant after every stage. Stages
// after transcription may not drop segments, and diarization may not move
// them.
func checkStageResult(state State, before *transcript.Result, after transcript.Result) error {
	if err := after.Validate(); err != nil {
		return services.Wrap(services.ErrInference, string(state), "check result", "stage produced invalid segments", err)
	}
	if before == nil {
		return nil
	}
	if len(after.Segments) < len(before.Segments) {
		return services.Wrap(services.ErrInference, string(state), "check result",
			fmt.Sprintf("segment count dropped from %d to %d", len(before.Segments), len(after.Segments)), nil)
	}
	if state != StateDiarizing {
		return nil
	}
	if len(after.Segments) != len(before.Segments) {
		return services.Wrap(services.ErrInference, string(state), "check result", "diarization changed the segment count", nil)
	}
	for i := range after.Segments {
		if after.Segments[i].Start != before.Segments[i].Start || after.Segments[i].End != before.Segments[i].End {
			return services.Wrap(services.ErrInference, string(state), "check result",
				fmt.Sprintf("diarization moved segment %d", i), nil)
		}
	}
	return nil
}

package whisperx

import (
	"context"
	_ "embed"
	"log/slog"
	"os"

	"whisperflow/internal/logging"
	"whisperflow/internal/media"
	"whisperflow/internal/pipeline"
	"whisperflow/internal/services"
	"whisperflow/internal/speakers"
	"whisperflow/internal/transcript"
)

//go:embed bridge.py
var bridgeScript string

const (
	kindASR     = "asr"
	kindAlign   = "align"
	kindDiarize = "diarize"
)

// Service loads WhisperX models into worker processes.
type Service struct {
	cfg    Config
	start  Starter
	logger *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithStarter replaces the process launcher.
func WithStarter(start Starter) Option {
	return func(s *Service) {
		if start != nil {
			s.start = start
		}
	}
}

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates a WhisperX service.
func New(cfg Config, opts ...Option) *Service {
	s := &Service{
		cfg:    cfg.withDefaults(),
		start:  ExecStarter,
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(logging.String(logging.FieldComponent, "whisperx"))
	return s
}

// Models exposes the service as pipeline loaders.
func (s *Service) Models() pipeline.Models {
	return pipeline.Models{
		LoadASR: func(ctx context.Context, cfg pipeline.ASRConfig) (pipeline.ASRModel, error) {
			m, err := s.LoadASR(ctx, cfg)
			if err != nil {
				return nil, err
			}
			return m, nil
		},
		LoadAligner: func(ctx context.Context, language string) (pipeline.AlignModel, error) {
			m, err := s.LoadAligner(ctx, language)
			if err != nil {
				return nil, err
			}
			return m, nil
		},
		LoadDiarizer: func(ctx context.Context, token string) (pipeline.DiarizeModel, error) {
			m, err := s.LoadDiarizer(ctx, token)
			if err != nil {
				return nil, err
			}
			return m, nil
		},
	}
}

// LoadASR starts a worker holding the speech recognition model.
func (s *Service) LoadASR(ctx context.Context, cfg pipeline.ASRConfig) (*ASRModel, error) {
	compute := string(cfg.ComputeType)
	if !s.cfg.cudaEnabled() && cfg.ComputeType == pipeline.ComputeFloat16 {
		compute = CPUComputeType
	}
	w, err := s.spawn(ctx, kindASR, request{
		Op:          "load",
		Kind:        kindASR,
		Model:       s.cfg.Model,
		Device:      s.cfg.Device,
		ComputeType: compute,
	}, nil)
	if err != nil {
		return nil, err
	}
	return &ASRModel{worker: w}, nil
}

// LoadAligner starts a worker holding the alignment model for language.
func (s *Service) LoadAligner(ctx context.Context, language string) (*AlignModel, error) {
	code := NormalizeLanguage(language)
	if !SupportsAlignment(code) {
		return nil, services.Wrap(services.ErrUnsupportedLanguage, "align", "load",
			"no alignment model for language "+quoteLanguage(language), nil)
	}
	w, err := s.spawn(ctx, kindAlign, request{
		Op:       "load",
		Kind:     kindAlign,
		Device:   s.cfg.Device,
		Language: code,
	}, nil)
	if err != nil {
		return nil, err
	}
	return &AlignModel{worker: w}, nil
}

// LoadDiarizer starts a worker holding the diarization pipeline. The token is
// handed over through the environment, never on the command line.
func (s *Service) LoadDiarizer(ctx context.Context, token string) (*DiarizeModel, error) {
	if token == "" {
		return nil, services.Wrap(services.ErrMissingCredential, "diarize", "load", "diarization requires a Hugging Face token", nil)
	}
	w, err := s.spawn(ctx, kindDiarize, request{
		Op:     "load",
		Kind:   kindDiarize,
		Device: s.cfg.Device,
	}, []string{"HF_TOKEN=" + token})
	if err != nil {
		return nil, err
	}
	return &DiarizeModel{worker: w}, nil
}

func (s *Service) spawn(ctx context.Context, kind string, load request, env []string) (*worker, error) {
	spec := s.command(env)
	logger := s.logger.With(logging.String("model_kind", kind))
	logger.Debug("starting whisperx worker",
		logging.String("model", load.Model),
		logging.String("device", load.Device),
		logging.String("language", load.Language),
	)
	return startWorker(ctx, s.start, spec, stageForKind(kind), load, s.cfg.LoadTimeout, logger)
}

// command builds the uvx invocation for the bridge.
func (s *Service) command(extraEnv []string) CommandSpec {
	args := make([]string, 0, 12)
	if s.cfg.cudaEnabled() {
		args = append(args,
			"--index-url", s.cfg.CUDAIndexURL,
			"--extra-index-url", s.cfg.PypiIndexURL,
		)
	} else {
		args = append(args, "--index-url", s.cfg.PypiIndexURL)
	}
	args = append(args, "--from", PackageName, "python", "-u", "-c", bridgeScript)

	env := []string{"PYTHONUNBUFFERED=1"}
	// Torch 2.6 defaults torch.load to weights_only=true, which breaks pyannote checkpoints.
	if os.Getenv("TORCH_FORCE_NO_WEIGHTS_ONLY_LOAD") == "" {
		env = append(env, "TORCH_FORCE_NO_WEIGHTS_ONLY_LOAD=1")
	}
	env = append(env, extraEnv...)
	return CommandSpec{Name: s.cfg.UVXBinary, Args: args, Env: env}
}

func stageForKind(kind string) string {
	switch kind {
	case kindAlign:
		return "align"
	case kindDiarize:
		return "diarize"
	default:
		return "transcribe"
	}
}

func quoteLanguage(code string) string {
	if code == "" {
		return `""`
	}
	return `"` + code + `"`
}

func audioPath(stage string, wf media.Waveform) (string, error) {
	if wf.Path == "" {
		return "", services.Wrap(services.ErrInference, stage, "audio", "waveform has no backing file", nil)
	}
	return wf.Path, nil
}

// ASRModel is a loaded speech recognition worker.
type ASRModel struct {
	*worker
}

// Transcribe runs batched recognition and language detection.
func (m *ASRModel) Transcribe(ctx context.Context, wf media.Waveform, batchSize int) (transcript.Result, error) {
	path, err := audioPath(m.stage, wf)
	if err != nil {
		return transcript.Result{}, err
	}
	var out wireTranscript
	if err := m.call(ctx, request{Op: "transcribe", Audio: path, BatchSize: batchSize}, &out); err != nil {
		return transcript.Result{}, err
	}
	lang := NormalizeLanguage(out.Language)
	if lang == "" {
		lang = out.Language
	}
	return transcript.Result{Language: lang, Segments: fromWire(out.Segments)}, nil
}

// AlignModel is a loaded forced-alignment worker.
type AlignModel struct {
	*worker
}

// Align attaches word spans, and character spans when returnChars is set.
func (m *AlignModel) Align(ctx context.Context, segments []transcript.Segment, wf media.Waveform, returnChars bool) ([]transcript.Segment, error) {
	path, err := audioPath(m.stage, wf)
	if err != nil {
		return nil, err
	}
	var out wireTranscript
	req := request{Op: "align", Audio: path, Segments: toWire(segments), ReturnChars: returnChars}
	if err := m.call(ctx, req, &out); err != nil {
		return nil, err
	}
	aligned := fromWire(out.Segments)
	if !returnChars {
		for i := range aligned {
			aligned[i].Chars = nil
		}
	}
	return aligned, nil
}

// DiarizeModel is a loaded diarization worker.
type DiarizeModel struct {
	*worker
}

// Diarize returns speaker turns for the recording.
func (m *DiarizeModel) Diarize(ctx context.Context, wf media.Waveform) ([]speakers.Turn, error) {
	path, err := audioPath(m.stage, wf)
	if err != nil {
		return nil, err
	}
	var out wireDiarization
	if err := m.call(ctx, request{Op: "diarize", Audio: path}, &out); err != nil {
		return nil, err
	}
	return turnsFromWire(out.Turns), nil
}

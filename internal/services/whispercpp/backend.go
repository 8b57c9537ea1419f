package whispercpp

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"whisperflow/internal/config"
	"whisperflow/internal/logging"
	"whisperflow/internal/pipeline"
	"whisperflow/internal/services"
	"whisperflow/internal/transcript"
)

// Config selects the ggml model file and thread count.
type Config struct {
	ModelPath string
	Threads   uint
}

// ConfigFromApp maps the whisper.cpp settings of the [whisperx] section.
func ConfigFromApp(cfg *config.Config) Config {
	return Config{ModelPath: cfg.WhisperX.WhisperCppModel}
}

// Loader adapts Load to the pipeline ASR loader signature.
func Loader(cfg Config, logger *slog.Logger) func(context.Context, pipeline.ASRConfig) (pipeline.ASRModel, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logger.With(logging.String(logging.FieldComponent, "whispercpp"))
	return func(ctx context.Context, _ pipeline.ASRConfig) (pipeline.ASRModel, error) {
		m, err := Load(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		return m, nil
	}
}

// WithASR returns models with the ASR loader replaced by whisper.cpp.
func WithASR(models pipeline.Models, cfg Config, logger *slog.Logger) pipeline.Models {
	models.LoadASR = Loader(cfg, logger)
	return models
}

type rawSegment struct {
	Start time.Duration
	End   time.Duration
	Text  string
}

// toSegments drops blank segments and clamps inverted ranges.
func toSegments(raw []rawSegment) []transcript.Segment {
	out := make([]transcript.Segment, 0, len(raw))
	for _, r := range raw {
		text := strings.TrimSpace(r.Text)
		if text == "" {
			continue
		}
		start := r.Start.Seconds()
		end := r.End.Seconds()
		if end < start {
			end = start
		}
		out = append(out, transcript.Segment{Start: start, End: end, Text: text})
	}
	return out
}

func loadError(msg string, err error) error {
	return services.Wrap(services.ErrModelLoad, "transcribe", "load whisper.cpp", msg, err)
}

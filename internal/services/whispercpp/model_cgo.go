//go:build cgo

package whispercpp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"sync"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"whisperflow/internal/logging"
	"whisperflow/internal/media"
	"whisperflow/internal/services"
	"whisperflow/internal/transcript"
)

// ASRModel holds a loaded ggml model.
type ASRModel struct {
	model   whisperlib.Model
	threads uint
	logger  *slog.Logger

	closeOnce sync.Once
	closeErr  error
}

// Load reads the model file at cfg.ModelPath.
func Load(_ context.Context, cfg Config, logger *slog.Logger) (*ASRModel, error) {
	if cfg.ModelPath == "" {
		return nil, loadError("whisper.cpp model path is not configured", nil)
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	model, err := whisperlib.New(cfg.ModelPath)
	if err != nil {
		return nil, loadError(fmt.Sprintf("load model %q", cfg.ModelPath), err)
	}
	threads := cfg.Threads
	if threads == 0 {
		threads = uint(runtime.NumCPU())
	}
	return &ASRModel{model: model, threads: threads, logger: logger}, nil
}

// Transcribe runs whisper.cpp with language detection. The batch size has no
// meaning for whisper.cpp and is ignored.
func (m *ASRModel) Transcribe(_ context.Context, wf media.Waveform, _ int) (transcript.Result, error) {
	if len(wf.Samples) == 0 {
		return transcript.Result{}, services.Wrap(services.ErrInference, "transcribe", "whisper.cpp", "waveform was not decoded to samples", nil)
	}
	wctx, err := m.model.NewContext()
	if err != nil {
		return transcript.Result{}, services.Wrap(services.ErrInference, "transcribe", "whisper.cpp", "create context", err)
	}
	if m.model.IsMultilingual() {
		if err := wctx.SetLanguage("auto"); err != nil {
			m.logger.Warn("language detection unavailable",
				logging.Error(err),
				logging.String(logging.FieldEventType, "language_detect_unavailable"),
				logging.String(logging.FieldErrorHint, "use a multilingual ggml model"),
				logging.String(logging.FieldImpact, "language defaults to english"),
			)
		}
	}
	wctx.SetThreads(m.threads)

	sampler := logging.NewProgressSampler(10)
	progress := func(percent int) {
		if _, ok := sampler.Observe(float64(percent)); ok {
			m.logger.Info("whisper.cpp progress",
				logging.String(logging.FieldEventType, "worker_progress"),
				logging.Int(logging.FieldProgress, percent),
			)
		}
	}
	if err := wctx.Process(wf.Samples, nil, nil, progress); err != nil {
		return transcript.Result{}, services.Wrap(services.ErrInference, "transcribe", "whisper.cpp", "process audio", err)
	}

	var raw []rawSegment
	for {
		seg, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return transcript.Result{}, services.Wrap(services.ErrInference, "transcribe", "whisper.cpp", "read segment", err)
		}
		raw = append(raw, rawSegment{Start: seg.Start, End: seg.End, Text: seg.Text})
	}
	lang := wctx.DetectedLanguage()
	if lang == "" {
		lang = wctx.Language()
	}
	return transcript.Result{Language: lang, Segments: toSegments(raw)}, nil
}

// Release frees the model.
func (m *ASRModel) Release() error {
	m.closeOnce.Do(func() {
		m.closeErr = m.model.Close()
	})
	return m.closeErr
}

//go:build !cgo

package whispercpp

import (
	"context"
	"log/slog"

	"whisperflow/internal/media"
	"whisperflow/internal/services"
	"whisperflow/internal/transcript"
)

// ASRModel is unavailable without cgo.
type ASRModel struct{}

// Load always fails without cgo.
func Load(_ context.Context, cfg Config, _ *slog.Logger) (*ASRModel, error) {
	if cfg.ModelPath == "" {
		return nil, loadError("whisper.cpp model path is not configured", nil)
	}
	return nil, loadError("whisper.cpp backend requires a cgo build", nil)
}

func (*ASRModel) Transcribe(context.Context, media.Waveform, int) (transcript.Result, error) {
	return transcript.Result{}, services.Wrap(services.ErrInference, "transcribe", "whisper.cpp", "whisper.cpp backend requires a cgo build", nil)
}

func (*ASRModel) Release() error { return nil }

package pipeline

import (
	"context"

	"whisperflow/internal/media"
	"whisperflow/internal/speakers"
	"whisperflow/internal/stage"
	"whisperflow/internal/transcript"
)

// ASRConfig is passed to the ASR loader.
type ASRConfig struct {
	ComputeType ComputeType
}

// ASRModel transcribes a waveform into timed segments with a detected language.
type ASRModel interface {
	stage.Handle
	Transcribe(ctx context.Context, wf media.Waveform, batchSize int) (transcript.Result, error)
}

// AlignModel attaches word (and optionally character) spans to segments.
type AlignModel interface {
	stage.Handle
	Align(ctx context.Context, segments []transcript.Segment, wf media.Waveform, returnChars bool) ([]transcript.Segment, error)
}

// DiarizeModel splits a waveform into speaker turns.
type DiarizeModel interface {
	stage.Handle
	Diarize(ctx context.Context, wf media.Waveform) ([]speakers.Turn, error)
}

// Models holds one loader per stage. Loaders must return an error wrapping
// services.ErrUnsupportedLanguage when no alignment model exists for a
// language.
type Models struct {
	LoadASR      func(ctx context.Context, cfg ASRConfig) (ASRModel, error)
	LoadAligner  func(ctx context.Context, language string) (AlignModel, error)
	LoadDiarizer func(ctx context.Context, token string) (DiarizeModel, error)
}

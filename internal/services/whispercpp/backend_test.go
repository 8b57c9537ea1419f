package whispercpp

import (
	"context"
	"errors"
	"testing"
	"time"

	"whisperflow/internal/pipeline"
	"whisperflow/internal/services"
)

func TestToSegmentsDropsBlankAndClamps(t *testing.T) {
	segs := toSegments([]rawSegment{
		{Start: 0, End: 1500 * time.Millisecond, Text: " Hello. "},
		{Start: 2 * time.Second, End: 2 * time.Second, Text: "   "},
		{Start: 3 * time.Second, End: 2 * time.Second, Text: "Late."},
	})
	if len(segs) != 2 {
		t.Fatalf("expected 2 segments, got %d", len(segs))
	}
	if segs[0].Text != "Hello." || segs[0].End != 1.5 {
		t.Fatalf("unexpected first segment: %+v", segs[0])
	}
	if segs[1].Start != 3 || segs[1].End != 3 {
		t.Fatalf("expected inverted range clamped to start, got %+v", segs[1])
	}
}

func TestLoaderRequiresModelPath(t *testing.T) {
	load := Loader(Config{}, nil)
	_, err := load(context.Background(), pipeline.ASRConfig{ComputeType: pipeline.ComputeInt8})
	if !errors.Is(err, services.ErrModelLoad) {
		t.Fatalf("expected ErrModelLoad, got %v", err)
	}
}

func TestWithASRKeepsOtherLoaders(t *testing.T) {
	base := pipeline.Models{
		LoadAligner: func(context.Context, string) (pipeline.AlignModel, error) { return nil, nil },
	}
	models := WithASR(base, Config{ModelPath: "/models/ggml-base.bin"}, nil)
	if models.LoadASR == nil {
		t.Fatal("expected ASR loader to be installed")
	}
	if models.LoadAligner == nil {
		t.Fatal("aligner loader should be preserved")
	}
}

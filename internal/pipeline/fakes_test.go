package pipeline

import (
	"context"
	"errors"
	"sync"

	"whisperflow/internal/media"
	"whisperflow/internal/services"
	"whisperflow/internal/speakers"
	"whisperflow/internal/stage"
	"whisperflow/internal/transcript"
)

// fakeBackend counts loads and releases per stage and enforces that only one
// model is ever resident.
type fakeBackend struct {
	mu        sync.Mutex
	loads     map[State]int
	releases  map[State]int
	resident  int
	maxResid  int
	result    transcript.Result
	turns     []speakers.Turn
	alignLang map[string]bool
	asrErr    error
	loadErr   map[State]error
	alignErr  error
	tokens    []string
	batches   []int
	computes  []ComputeType
	order     []State
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		loads:     map[State]int{},
		releases:  map[State]int{},
		loadErr:   map[State]error{},
		alignLang: map[string]bool{"en": true},
		result: transcript.Result{
			Language: "en",
			Segments: []transcript.Segment{
				{Start: 0, End: 2.5, Text: "hello"},
				{Start: 2.5, End: 4, Text: "world"},
			},
		},
		turns: []speakers.Turn{
			{Start: 0, End: 2.4, Speaker: "SPEAKER_00"},
			{Start: 2.4, End: 5, Speaker: "SPEAKER_01"},
		},
	}
}

func (b *fakeBackend) acquire(s State) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.loadErr[s]; err != nil {
		b.loads[s]++
		return err
	}
	b.loads[s]++
	b.order = append(b.order, s)
	b.resident++
	if b.resident > b.maxResid {
		b.maxResid = b.resident
	}
	return nil
}

func (b *fakeBackend) release(s State) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.releases[s]++
	b.resident--
}

func (b *fakeBackend) totalLoads() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	total := 0
	for _, n := range b.loads {
		total += n
	}
	return total
}

type fakeHandle struct {
	b     *fakeBackend
	state State
}

func (h fakeHandle) Release() error {
	h.b.release(h.state)
	return nil
}

type fakeASR struct{ fakeHandle }

func (m fakeASR) Transcribe(_ context.Context, _ media.Waveform, batchSize int) (transcript.Result, error) {
	m.b.mu.Lock()
	m.b.batches = append(m.b.batches, batchSize)
	m.b.mu.Unlock()
	if m.b.asrErr != nil {
		return transcript.Result{}, m.b.asrErr
	}
	return m.b.result.Clone(), nil
}

type fakeAligner struct{ fakeHandle }

func (m fakeAligner) Align(_ context.Context, segs []transcript.Segment, _ media.Waveform, returnChars bool) ([]transcript.Segment, error) {
	if m.b.alignErr != nil {
		return nil, m.b.alignErr
	}
	out := make([]transcript.Segment, len(segs))
	for i, seg := range segs {
		seg.Words = []transcript.WordSpan{{Word: seg.Text, Start: seg.Start, End: seg.End}}
		if returnChars {
			seg.Chars = []transcript.CharSpan{{Char: seg.Text[:1], Start: seg.Start, End: seg.Start + 0.1}}
		}
		out[i] = seg
	}
	return out, nil
}

type fakeDiarizer struct{ fakeHandle }

func (m fakeDiarizer) Diarize(context.Context, media.Waveform) ([]speakers.Turn, error) {
	return m.b.turns, nil
}

func (b *fakeBackend) models() Models {
	return Models{
		LoadASR: func(_ context.Context, cfg ASRConfig) (ASRModel, error) {
			b.mu.Lock()
			b.computes = append(b.computes, cfg.ComputeType)
			b.mu.Unlock()
			if err := b.acquire(StateTranscribing); err != nil {
				return nil, err
			}
			return fakeASR{fakeHandle{b, StateTranscribing}}, nil
		},
		LoadAligner: func(_ context.Context, language string) (AlignModel, error) {
			if !b.alignLang[language] {
				b.mu.Lock()
				b.loads[StateAligning]++
				b.mu.Unlock()
				return nil, services.Wrap(services.ErrUnsupportedLanguage, "aligning", "load model", "no alignment model for "+language, nil)
			}
			if err := b.acquire(StateAligning); err != nil {
				return nil, err
			}
			return fakeAligner{fakeHandle{b, StateAligning}}, nil
		},
		LoadDiarizer: func(_ context.Context, token string) (DiarizeModel, error) {
			b.mu.Lock()
			b.tokens = append(b.tokens, token)
			b.mu.Unlock()
			if err := b.acquire(StateDiarizing); err != nil {
				return nil, err
			}
			return fakeDiarizer{fakeHandle{b, StateDiarizing}}, nil
		},
	}
}

var errBoom = errors.New("boom")

type nopReclaimer struct{}

func (nopReclaimer) Reclaim(context.Context) error { return nil }

var _ stage.Reclaimer = nopReclaimer{}

func testWaveform() media.Waveform {
	return media.FromSamples(make([]float32, media.SampleRate))
}

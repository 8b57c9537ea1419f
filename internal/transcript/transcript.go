package transcript

import (
	"fmt"
	"math"

	"whisperflow/internal/services"
)

// WordSpan is a single aligned word.
type WordSpan struct {
	Word    string   `json:"word"`
	Start   float64  `json:"start"`
	End     float64  `json:"end"`
	Score   *float64 `json:"score,omitempty"`
	Speaker string   `json:"speaker,omitempty"`
}

// CharSpan is a single aligned character, only present when character
// alignments were requested.
type CharSpan struct {
	Char  string   `json:"char"`
	Start float64  `json:"start"`
	End   float64  `json:"end"`
	Score *float64 `json:"score,omitempty"`
}

// Segment is one timed unit of transcribed speech.
type Segment struct {
	Start   float64    `json:"start"`
	End     float64    `json:"end"`
	Text    string     `json:"text"`
	Words   []WordSpan `json:"words,omitempty"`
	Chars   []CharSpan `json:"chars,omitempty"`
	Speaker string     `json:"speaker,omitempty"`
}

// Aligned reports whether word spans are attached.
func (s Segment) Aligned() bool { return len(s.Words) > 0 }

// Result is the transcription threaded through the pipeline stages.
type Result struct {
	Language string    `json:"language"`
	Segments []Segment `json:"segments"`
}

// Clone returns a deep copy so a stage can hand out its result without sharing
// backing arrays with the next stage.
func (r Result) Clone() Result {
	out := Result{Language: r.Language}
	if r.Segments == nil {
		return out
	}
	out.Segments = make([]Segment, len(r.Segments))
	for i, seg := range r.Segments {
		cp := seg
		if seg.Words != nil {
			cp.Words = append([]WordSpan(nil), seg.Words...)
		}
		if seg.Chars != nil {
			cp.Chars = append([]CharSpan(nil), seg.Chars...)
		}
		out.Segments[i] = cp
	}
	return out
}

// Speakers returns the distinct speaker labels in order of first appearance.
func (r Result) Speakers() []string {
	seen := make(map[string]struct{})
	var labels []string
	for _, seg := range r.Segments {
		if seg.Speaker == "" {
			continue
		}
		if _, ok := seen[seg.Speaker]; ok {
			continue
		}
		seen[seg.Speaker] = struct{}{}
		labels = append(labels, seg.Speaker)
	}
	return labels
}

// Validate enforces the segment invariants: finite non-negative times,
// start <= end, and segments ordered by start.
func (r Result) Validate() error {
	prev := math.Inf(-1)
	for i, seg := range r.Segments {
		if !validTime(seg.Start) || !validTime(seg.End) {
			return services.Wrap(services.ErrInvalidTimestamp, "", "validate",
				fmt.Sprintf("segment %d has invalid time range [%v, %v]", i, seg.Start, seg.End), nil)
		}
		if seg.End < seg.Start {
			return services.Wrap(services.ErrInvalidTimestamp, "", "validate",
				fmt.Sprintf("segment %d ends before it starts (%.3f < %.3f)", i, seg.End, seg.Start), nil)
		}
		if seg.Start < prev {
			return services.Wrap(services.ErrInvalidTimestamp, "", "validate",
				fmt.Sprintf("segment %d starts before segment %d (%.3f < %.3f)", i, i-1, seg.Start, prev), nil)
		}
		prev = seg.Start
	}
	return nil
}

func validTime(v float64) bool {
	return v >= 0 && !math.IsNaN(v) && !math.IsInf(v, 0)
}

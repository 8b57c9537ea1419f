// Package speakers merges diarization turns into a transcript by temporal
// overlap.
package speakers

import (
	"math"
	"slices"

	"whisperflow/internal/transcript"
)

// Turn is one diarized span attributed to a speaker label such as SPEAKER_00.
type Turn struct {
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Speaker string  `json:"speaker"`
}

// Assign returns a copy of result with a speaker on every segment and word
// that overlaps at least one turn. The turn with the greatest overlap wins;
// ties go to the turn that starts first. Segment count, times, and order are
// never changed.
func Assign(result transcript.Result, turns []Turn) transcript.Result {
	out := result.Clone()
	if len(turns) == 0 {
		return out
	}
	ordered := slices.Clone(turns)
	slices.SortStableFunc(ordered, func(a, b Turn) int {
		switch {
		case a.Start < b.Start:
			return -1
		case a.Start > b.Start:
			return 1
		default:
			return 0
		}
	})

	for i := range out.Segments {
		seg := &out.Segments[i]
		seg.Speaker = best(ordered, seg.Start, seg.End)
		for j := range seg.Words {
			seg.Words[j].Speaker = best(ordered, seg.Words[j].Start, seg.Words[j].End)
		}
	}
	return out
}

func best(turns []Turn, start, end float64) string {
	speaker := ""
	bestOverlap := 0.0
	for _, turn := range turns {
		if turn.Start >= end {
			break
		}
		overlap := math.Min(end, turn.End) - math.Max(start, turn.Start)
		if overlap > bestOverlap {
			bestOverlap = overlap
			speaker = turn.Speaker
		}
	}
	return speaker
}

package whisperx

import (
	"strings"

	"whisperflow/internal/speakers"
	"whisperflow/internal/transcript"
)

// Times are pointers because WhisperX omits them for tokens it cannot align
// (digits, symbols) and the bridge maps NaN to null.
type wireWord struct {
	Word    string   `json:"word"`
	Start   *float64 `json:"start"`
	End     *float64 `json:"end"`
	Score   *float64 `json:"score,omitempty"`
	Speaker string   `json:"speaker,omitempty"`
}

type wireChar struct {
	Char  string   `json:"char"`
	Start *float64 `json:"start"`
	End   *float64 `json:"end"`
	Score *float64 `json:"score,omitempty"`
}

type wireSegment struct {
	Start float64    `json:"start"`
	End   float64    `json:"end"`
	Text  string     `json:"text"`
	Words []wireWord `json:"words,omitempty"`
	Chars []wireChar `json:"chars,omitempty"`
}

type wireTranscript struct {
	Language string        `json:"language"`
	Segments []wireSegment `json:"segments"`
}

type wireTurn struct {
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Speaker string  `json:"speaker"`
}

type wireDiarization struct {
	Turns []wireTurn `json:"turns"`
}

func toWire(segments []transcript.Segment) []wireSegment {
	out := make([]wireSegment, len(segments))
	for i, seg := range segments {
		out[i] = wireSegment{Start: seg.Start, End: seg.End, Text: seg.Text}
	}
	return out
}

func fromWire(segments []wireSegment) []transcript.Segment {
	out := make([]transcript.Segment, 0, len(segments))
	for _, ws := range segments {
		seg := transcript.Segment{
			Start: ws.Start,
			End:   ws.End,
			Text:  strings.TrimSpace(ws.Text),
		}
		cursor := ws.Start
		for _, w := range ws.Words {
			start, end := fillSpan(w.Start, w.End, cursor)
			cursor = end
			seg.Words = append(seg.Words, transcript.WordSpan{
				Word:    strings.TrimSpace(w.Word),
				Start:   start,
				End:     end,
				Score:   w.Score,
				Speaker: w.Speaker,
			})
		}
		cursor = ws.Start
		for _, c := range ws.Chars {
			start, end := fillSpan(c.Start, c.End, cursor)
			cursor = end
			seg.Chars = append(seg.Chars, transcript.CharSpan{Char: c.Char, Start: start, End: end, Score: c.Score})
		}
		out = append(out, seg)
	}
	return out
}

// fillSpan resolves missing times: a missing start inherits the previous
// span's end and a missing end collapses onto the start.
func fillSpan(start, end *float64, cursor float64) (float64, float64) {
	s := cursor
	if start != nil {
		s = *start
	}
	e := s
	if end != nil && *end >= s {
		e = *end
	}
	return s, e
}

func turnsFromWire(turns []wireTurn) []speakers.Turn {
	out := make([]speakers.Turn, 0, len(turns))
	for _, t := range turns {
		if t.End < t.Start {
			continue
		}
		out = append(out, speakers.Turn{Start: t.Start, End: t.End, Speaker: t.Speaker})
	}
	return out
}

package subtitles

import (
	"fmt"
	"math"
	"strings"

	"whisperflow/internal/services"
	"whisperflow/internal/transcript"
)

// FormatType selects the subtitle serialization.
type FormatType string

const (
	FormatSRT FormatType = "srt"
	FormatTXT FormatType = "txt"
)

// MIMEType is served for every subtitle artifact.
const MIMEType = "text/plain"

// ParseFormat maps user input onto a FormatType.
func ParseFormat(value string) (FormatType, error) {
	switch FormatType(strings.ToLower(strings.TrimSpace(value))) {
	case FormatSRT, "":
		return FormatSRT, nil
	case FormatTXT:
		return FormatTXT, nil
	default:
		return "", services.Wrap(services.ErrInvalidOptions, "subtitles", "parse format",
			fmt.Sprintf("unsupported subtitle format %q (want srt or txt)", value), nil)
	}
}

// Filename returns the artifact name for the format.
func (f FormatType) Filename() string {
	return "transcription." + string(f)
}

// FormatOptions tweaks rendering beyond the plain contract.
type FormatOptions struct {
	// TrimText strips surrounding whitespace from segment text (recognizers
	// usually emit a leading space).
	TrimText bool
	// SpeakerPrefix prepends "[SPEAKER] " to segments carrying a speaker label.
	SpeakerPrefix bool
}

// Format renders result in the requested format and returns the content plus
// the suggested filename.
func Format(result transcript.Result, format FormatType) (string, string, error) {
	return FormatWith(result, format, FormatOptions{})
}

// FormatWith is Format with rendering options.
func FormatWith(result transcript.Result, format FormatType, opts FormatOptions) (string, string, error) {
	var b strings.Builder
	switch format {
	case FormatSRT:
		for i, seg := range result.Segments {
			start, err := FormatTimestamp(seg.Start)
			if err != nil {
				return "", "", fmt.Errorf("segment %d start: %w", i+1, err)
			}
			end, err := FormatTimestamp(seg.End)
			if err != nil {
				return "", "", fmt.Errorf("segment %d end: %w", i+1, err)
			}
			fmt.Fprintf(&b, "%d\n%s --> %s\n%s\n\n", i+1, start, end, segmentText(seg, opts))
		}
	case FormatTXT:
		for _, seg := range result.Segments {
			b.WriteString(segmentText(seg, opts))
			b.WriteByte('\n')
		}
	default:
		return "", "", services.Wrap(services.ErrInvalidOptions, "subtitles", "format",
			fmt.Sprintf("unsupported subtitle format %q", format), nil)
	}
	return b.String(), format.Filename(), nil
}

func segmentText(seg transcript.Segment, opts FormatOptions) string {
	text := seg.Text
	if opts.TrimText {
		text = strings.TrimSpace(text)
	}
	if opts.SpeakerPrefix && seg.Speaker != "" {
		text = "[" + seg.Speaker + "] " + text
	}
	return text
}

// millisecondEpsilon absorbs binary representation error (1.001 is stored as
// 1.000999...) so truncation does not drop a whole millisecond.
const millisecondEpsilon = 1e-6

// FormatTimestamp renders seconds as HH:MM:SS,mmm. Components are truncated,
// never rounded. Hours widen past two digits as needed and the arithmetic
// stays in float64, so any finite non-negative input formats.
func FormatTimestamp(seconds float64) (string, error) {
	if math.IsNaN(seconds) || math.IsInf(seconds, 0) || seconds < 0 {
		return "", services.Wrap(services.ErrInvalidTimestamp, "subtitles", "format timestamp",
			fmt.Sprintf("timestamp %v must be finite and non-negative", seconds), nil)
	}
	whole := math.Floor(seconds)
	millis := math.Floor((seconds-whole)*1000 + millisecondEpsilon)
	if millis >= 1000 {
		whole++
		millis -= 1000
	}
	hours := math.Floor(whole / 3600)
	minutes := math.Floor(math.Mod(whole, 3600) / 60)
	secs := math.Mod(whole, 60)
	return fmt.Sprintf("%02.0f:%02.0f:%02.0f,%03.0f", hours, minutes, secs, millis), nil
}

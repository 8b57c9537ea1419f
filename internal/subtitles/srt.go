package subtitles

import (
	"bufio"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Cue is one parsed SRT block.
type Cue struct {
	Index int
	Start float64
	End   float64
	Text  string
}

// ParseSRT reads SRT content into cues. Malformed blocks are reported rather
// than skipped so callers can detect corrupted output.
func ParseSRT(content string) ([]Cue, error) {
	scanner := bufio.NewScanner(strings.NewReader(strings.ReplaceAll(content, "\r\n", "\n")))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var (
		cues    []Cue
		current *Cue
		lines   []string
		phase   int // 0 = index, 1 = timing, 2 = text
		lineNo  int
	)
	flush := func() {
		if current != nil {
			current.Text = strings.Join(lines, "\n")
			cues = append(cues, *current)
		}
		current = nil
		lines = nil
		phase = 0
	}

	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		switch phase {
		case 0:
			if strings.TrimSpace(line) == "" {
				continue
			}
			index, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, "\ufeff")))
			if err != nil {
				return nil, fmt.Errorf("line %d: invalid cue index %q", lineNo, line)
			}
			current = &Cue{Index: index}
			phase = 1
		case 1:
			start, end, err := parseTiming(line)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNo, err)
			}
			current.Start, current.End = start, end
			phase = 2
		case 2:
			if line == "" {
				flush()
				continue
			}
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read srt: %w", err)
	}
	if phase == 1 {
		return nil, fmt.Errorf("line %d: cue %d missing timing line", lineNo, current.Index)
	}
	flush()
	return cues, nil
}

func parseTiming(line string) (float64, float64, error) {
	parts := strings.Split(line, "-->")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid timing line %q", line)
	}
	start, err := parseSRTTimestamp(parts[0])
	if err != nil {
		return 0, 0, err
	}
	end, err := parseSRTTimestamp(parts[1])
	if err != nil {
		return 0, 0, err
	}
	return start, end, nil
}

func parseSRTTimestamp(value string) (float64, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, fmt.Errorf("empty timestamp")
	}
	// Normalize period to comma (SRT standard uses comma for milliseconds)
	value = strings.ReplaceAll(value, ".", ",")
	timeParts := strings.Split(value, ",")
	if len(timeParts) != 2 {
		return 0, fmt.Errorf("invalid timestamp %q", value)
	}
	hms := strings.Split(timeParts[0], ":")
	if len(hms) != 3 {
		return 0, fmt.Errorf("invalid timestamp %q", value)
	}
	hours, errH := strconv.Atoi(hms[0])
	minutes, errM := strconv.Atoi(hms[1])
	seconds, errS := strconv.Atoi(hms[2])
	millis, errMS := strconv.Atoi(timeParts[1])
	if errH != nil || errM != nil || errS != nil || errMS != nil {
		return 0, fmt.Errorf("invalid timestamp %q", value)
	}
	return float64(hours*3600+minutes*60+seconds) + float64(millis)/1000, nil
}

// subtitleDurationToleranceSeconds is how far the last cue may end from the
// media duration before the output is flagged.
const subtitleDurationToleranceSeconds = 10.0

// ValidateSRT checks rendered SRT content for format issues. mediaSeconds may
// be zero when the duration is unknown. An empty slice means validation passed.
func ValidateSRT(content string, mediaSeconds float64) []string {
	var issues []string

	cues, err := ParseSRT(content)
	if err != nil {
		return append(issues, fmt.Sprintf("parse_error: %v", err))
	}
	if len(cues) == 0 {
		return append(issues, "empty_subtitle_file")
	}

	first := math.Inf(1)
	var last float64
	for i, cue := range cues {
		if cue.Index != i+1 {
			issues = append(issues, fmt.Sprintf("index_gap: cue %d numbered %d", i+1, cue.Index))
		}
		if cue.End < cue.Start {
			issues = append(issues, fmt.Sprintf("inverted_cue: %d", cue.Index))
		}
		if i > 0 && cue.Start < cues[i-1].Start {
			issues = append(issues, fmt.Sprintf("out_of_order: %d", cue.Index))
		}
		first = math.Min(first, cue.Start)
		last = math.Max(last, cue.End)
	}
	if first == 0 && last == 0 {
		issues = append(issues, "no_valid_timestamps")
	}

	if mediaSeconds > 0 && last > 0 {
		if delta := mediaSeconds - last; delta < 0 && math.Abs(delta) > subtitleDurationToleranceSeconds {
			issues = append(issues, fmt.Sprintf("duration_mismatch: delta=%.1fs", delta))
		}
	}
	return issues
}

package media

import (
	"os"
	"time"
)

// Waveform is a decoded mono recording at SampleRate. Path points at the
// normalized WAV on disk; Samples is only populated when decoding was
// requested.
type Waveform struct {
	Path       string
	SampleRate int
	Duration   time.Duration
	Samples    []float32

	workDir string
}

// Empty reports whether the waveform carries neither a file nor samples.
func (w Waveform) Empty() bool {
	return w.Path == "" && len(w.Samples) == 0
}

// Seconds returns the duration as floating-point seconds.
func (w Waveform) Seconds() float64 {
	return w.Duration.Seconds()
}

// Cleanup removes the temporary files backing the waveform.
func (w Waveform) Cleanup() error {
	if w.workDir == "" {
		return nil
	}
	return os.RemoveAll(w.workDir)
}

// FromSamples wraps in-memory samples, mainly for tests and in-process callers.
func FromSamples(samples []float32) Waveform {
	return Waveform{
		SampleRate: SampleRate,
		Samples:    samples,
		Duration:   time.Duration(float64(len(samples)) / SampleRate * float64(time.Second)),
	}
}

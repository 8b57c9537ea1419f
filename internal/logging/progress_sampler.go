package logging

import "math"

// ProgressSampler thins a model's inference progress counter to one log line
// per step. The counter climbs from 0 to 100 once per request; a value below
// the previous one means the model started on the next request.
type ProgressSampler struct {
	step    float64
	last    float64
	logged  int
	request int
}

// ProgressSample is a progress report selected for logging.
type ProgressSample struct {
	Request int
	Percent float64
}

// NewProgressSampler returns a sampler that logs once per step percent
// (default 10).
func NewProgressSampler(step float64) *ProgressSampler {
	if step <= 0 {
		step = 10
	}
	return &ProgressSampler{step: step, last: -1, logged: -1}
}

// Observe records percent and returns the sample to log, if any. Negative and
// NaN values are ignored and values above 100 are clamped. Reaching 100 is
// always logged once per request.
func (s *ProgressSampler) Observe(percent float64) (ProgressSample, bool) {
	if s == nil || percent < 0 || math.IsNaN(percent) {
		return ProgressSample{}, false
	}
	percent = min(percent, 100)
	if s.request == 0 || percent < s.last {
		s.request++
		s.logged = -1
	}
	s.last = percent

	bucket := int(percent / s.step)
	if percent == 100 {
		bucket = int(100/s.step) + 1
	}
	if bucket <= s.logged {
		return ProgressSample{}, false
	}
	s.logged = bucket
	return ProgressSample{Request: s.request, Percent: percent}, true
}

// Requests reports how many requests the counter has run through.
func (s *ProgressSampler) Requests() int {
	if s == nil {
		return 0
	}
	return s.request
}

// Package stage runs one pipeline stage against a freshly loaded model and
// guarantees the model is released and memory reclaimed before the next stage
// starts.
package stage

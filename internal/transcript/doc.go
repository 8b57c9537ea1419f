// Package transcript holds the segment model threaded through the pipeline.
//
// A Result is produced by speech recognition and enriched in place by the
// later stages: alignment adds word (and optionally character) spans, and
// diarization sets speaker labels. Optional data is modelled with nil slices
// and empty strings rather than free-form maps.
package transcript

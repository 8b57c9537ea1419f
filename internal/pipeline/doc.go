// Package pipeline sequences the transcription stages.
//
// A run moves Idle → Transcribing → [Aligning] → [Diarizing] → Completed, or
// to Failed from any non-terminal state. Each stage loads its model through
// stage.Run so at most one model is resident at a time. Progress is reported
// at fixed checkpoints and never decreases. Cancellation takes effect between
// stages only; a running stage is never interrupted.
package pipeline

// Package preflight provides readiness checks for the binaries, paths, and
// services whisperflow depends on.
//
// The CLI "whisperflow deps" command prints every check; the server runs them
// once at startup and serves the outcome on its health endpoint. Checks for
// features that are off (whisper.cpp backend, diarization) are skipped or
// reported as informational.
package preflight

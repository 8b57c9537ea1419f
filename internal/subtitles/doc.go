// Package subtitles renders transcription results as SRT or plain text.
//
// Formatting is pure: Format never touches the filesystem and always yields
// the same bytes for the same result. ParseSRT and ValidateSRT read the output
// back, which the CLI uses as a sanity check and the tests use to prove the
// round trip.
package subtitles

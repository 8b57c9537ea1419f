// Package whispercpp runs speech recognition in-process through the
// whisper.cpp bindings. It only replaces the ASR stage; alignment and
// diarization still come from the WhisperX workers. Builds without cgo get a
// stub whose loader always fails with ErrModelLoad.
package whispercpp

// Package whisperx runs WhisperX models in short-lived worker processes.
//
// Each loader starts one `uvx --from whisperx python` process that loads a
// single model (ASR, alignment, or diarization) and then answers JSON requests
// on stdin/stdout. Releasing a handle closes stdin and waits for the process
// to exit, which is what actually returns GPU memory to the driver. The
// Python side of the protocol is embedded from bridge.py.
package whisperx

// Command whisperflow transcribes audio and video files into timed subtitles.
//
// It runs the pipeline locally (transcribe), serves it over HTTP (serve),
// manages the Hugging Face token used for diarization (token), and reports
// configuration and dependency health (config, deps).
package main

// Package media turns uploaded audio and video files into the 16 kHz mono
// waveform the pipeline consumes.
//
// Uploads are accepted by extension only (.mp3, .wav, .m4a, .mp4). Video
// containers are demuxed with ffmpeg first; every input is then normalized to
// a 16 kHz mono PCM WAV that out-of-process model workers read from disk.
// Samples are decoded into memory only when an in-process backend needs them.
package media

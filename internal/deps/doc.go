// Package deps checks that the external binaries whisperflow invokes
// (ffmpeg, ffprobe, uvx) resolve on PATH.
package deps

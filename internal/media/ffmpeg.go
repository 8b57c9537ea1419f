package media

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
)

// SampleRate is the fixed rate every waveform is resampled to.
const SampleRate = 16000

// extractArgs demuxes the first audio stream of a container, dropping video,
// subtitle, and data streams.
func extractArgs(source, dest string) []string {
	return []string{
		"-y",
		"-hide_banner",
		"-loglevel", "error",
		"-i", source,
		"-map", "0:a:0",
		"-vn",
		"-sn",
		"-dn",
		"-c:a", "pcm_s16le",
		dest,
	}
}

func normalizeArgs(source, dest string) []string {
	return []string{
		"-y",
		"-hide_banner",
		"-loglevel", "error",
		"-i", source,
		"-vn",
		"-ac", "1",
		"-ar", fmt.Sprintf("%d", SampleRate),
		"-c:a", "pcm_s16le",
		dest,
	}
}

func decodeArgs(source string) []string {
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-i", source,
		"-ac", "1",
		"-ar", fmt.Sprintf("%d", SampleRate),
		"-f", "f32le",
		"pipe:1",
	}
}

// ExtractAudio demuxes the audio track of a video container into dest.
func ExtractAudio(ctx context.Context, run Runner, ffmpegBinary, source, dest string) error {
	if _, err := run(ctx, ffmpegBinary, extractArgs(source, dest)...); err != nil {
		return fmt.Errorf("ffmpeg extract: %w", err)
	}
	return nil
}

// Normalize converts any decodable audio to 16 kHz mono PCM WAV.
func Normalize(ctx context.Context, run Runner, ffmpegBinary, source, dest string) error {
	if _, err := run(ctx, ffmpegBinary, normalizeArgs(source, dest)...); err != nil {
		return fmt.Errorf("ffmpeg normalize: %w", err)
	}
	return nil
}

// Decode returns the 16 kHz mono samples of source as float32 in [-1, 1].
func Decode(ctx context.Context, run Runner, ffmpegBinary, source string) ([]float32, error) {
	raw, err := run(ctx, ffmpegBinary, decodeArgs(source)...)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg decode: %w", err)
	}
	return decodeF32LE(raw)
}

func decodeF32LE(raw []byte) ([]float32, error) {
	if len(raw)%4 != 0 {
		return nil, fmt.Errorf("decode f32le: %d bytes is not a whole number of samples", len(raw))
	}
	samples := make([]float32, len(raw)/4)
	for i := range samples {
		samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return samples, nil
}

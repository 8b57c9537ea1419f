package media

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"whisperflow/internal/logging"
	"whisperflow/internal/services"
)

// ProviderConfig wires the external tools used during ingestion.
type ProviderConfig struct {
	WorkDir       string
	FFmpegBinary  string
	FFprobeBinary string
	// DecodeSamples loads the PCM samples into memory for in-process backends.
	DecodeSamples bool
	Runner        Runner
	Logger        *slog.Logger
}

// Provider ingests uploads into waveforms.
type Provider struct {
	cfg    ProviderConfig
	logger *slog.Logger
}

// Upload is a named blob received from a user.
type Upload struct {
	Name string
	Body io.Reader
}

func NewProvider(cfg ProviderConfig) *Provider {
	if cfg.FFmpegBinary == "" {
		cfg.FFmpegBinary = "ffmpeg"
	}
	if cfg.FFprobeBinary == "" {
		cfg.FFprobeBinary = "ffprobe"
	}
	if cfg.Runner == nil {
		cfg.Runner = ExecRunner
	}
	return &Provider{cfg: cfg, logger: logging.NewComponentLogger(cfg.Logger, "media")}
}

// LoadFile ingests a file already on disk.
func (p *Provider) LoadFile(ctx context.Context, path string) (Waveform, error) {
	if _, err := CheckUpload(path); err != nil {
		return Waveform{}, err
	}
	file, err := os.Open(path)
	if err != nil {
		return Waveform{}, services.Wrap(services.ErrInvalidOptions, "ingest", "open input", "", err)
	}
	defer file.Close()
	return p.Load(ctx, Upload{Name: filepath.Base(path), Body: file})
}

// Load stores the upload in a private work directory, demuxes video
// containers, and normalizes the audio. The returned waveform owns that
// directory; callers release it with Cleanup.
func (p *Provider) Load(ctx context.Context, up Upload) (wf Waveform, err error) {
	kind, err := CheckUpload(up.Name)
	if err != nil {
		return Waveform{}, err
	}
	if up.Body == nil {
		return Waveform{}, services.Wrap(services.ErrInvalidOptions, "ingest", "read upload", "upload body is empty", nil)
	}
	if p.cfg.WorkDir != "" {
		if err := os.MkdirAll(p.cfg.WorkDir, 0o755); err != nil {
			return Waveform{}, services.Wrap(services.ErrConfiguration, "ingest", "ensure work dir", "", err)
		}
	}
	dir, err := os.MkdirTemp(p.cfg.WorkDir, "upload-*")
	if err != nil {
		return Waveform{}, services.Wrap(services.ErrConfiguration, "ingest", "create work dir", "", err)
	}
	defer func() {
		if err != nil {
			_ = os.RemoveAll(dir)
		}
	}()

	started := time.Now()
	ext := strings.ToLower(filepath.Ext(up.Name))
	source := filepath.Join(dir, "source"+ext)
	size, err := writeUpload(source, up.Body)
	if err != nil {
		return Waveform{}, services.Wrap(services.ErrExternalTool, "ingest", "store upload", "", err)
	}
	if size == 0 {
		return Waveform{}, services.Wrap(services.ErrInvalidOptions, "ingest", "store upload", "upload is empty", nil)
	}

	if kind == KindVideo {
		probe, err := Inspect(ctx, p.cfg.Runner, p.cfg.FFprobeBinary, source)
		if err != nil {
			return Waveform{}, services.Wrap(services.ErrExternalTool, "ingest", "inspect container", "", err)
		}
		if probe.AudioStreamCount() == 0 {
			return Waveform{}, services.Wrap(services.ErrUnsupportedFileType, "ingest", "inspect container", "video has no audio stream", nil)
		}
		extracted := filepath.Join(dir, "extracted.wav")
		if err := ExtractAudio(ctx, p.cfg.Runner, p.cfg.FFmpegBinary, source, extracted); err != nil {
			return Waveform{}, services.Wrap(services.ErrExternalTool, "ingest", "extract audio", "", err)
		}
		source = extracted
	}

	normalized := filepath.Join(dir, "audio.wav")
	if err := Normalize(ctx, p.cfg.Runner, p.cfg.FFmpegBinary, source, normalized); err != nil {
		return Waveform{}, services.Wrap(services.ErrExternalTool, "ingest", "normalize audio", "", err)
	}

	wf = Waveform{Path: normalized, SampleRate: SampleRate, workDir: dir}
	if probe, err := Inspect(ctx, p.cfg.Runner, p.cfg.FFprobeBinary, normalized); err == nil {
		wf.Duration = time.Duration(probe.DurationSeconds() * float64(time.Second))
	} else {
		p.logger.Debug("duration probe failed", logging.Error(err))
	}

	if p.cfg.DecodeSamples {
		samples, err := Decode(ctx, p.cfg.Runner, p.cfg.FFmpegBinary, normalized)
		if err != nil {
			return Waveform{}, services.Wrap(services.ErrExternalTool, "ingest", "decode audio", "", err)
		}
		wf.Samples = samples
		if wf.Duration == 0 {
			wf.Duration = FromSamples(samples).Duration
		}
	}

	p.logger.Info("upload ingested",
		logging.String("file", up.Name),
		logging.Int("bytes", int(size)),
		logging.Bool("demuxed", kind == KindVideo),
		logging.Duration("audio_duration", wf.Duration),
		logging.Duration("duration", time.Since(started)),
	)
	return wf, nil
}

func writeUpload(path string, body io.Reader) (int64, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return 0, err
	}
	n, copyErr := io.Copy(file, body)
	closeErr := file.Close()
	if copyErr != nil {
		return n, fmt.Errorf("write upload: %w", copyErr)
	}
	if closeErr != nil {
		return n, fmt.Errorf("close upload: %w", closeErr)
	}
	return n, nil
}

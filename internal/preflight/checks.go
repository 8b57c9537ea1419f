package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"whisperflow/internal/config"
	"whisperflow/internal/deps"
)

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckModelFile verifies a local model file is present and readable.
func CheckModelFile(name, path string) Result {
	path = strings.TrimSpace(path)
	if path == "" {
		return Result{Name: name, Detail: "model path not configured"}
	}
	info, err := os.Stat(path)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", path, err)}
	}
	if info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: not readable: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (%d MB)", path, info.Size()>>20)}
}

// CheckPackageIndex verifies the Python package index uvx resolves WhisperX
// from is reachable. A single attempt with a 5-second timeout.
func CheckPackageIndex(ctx context.Context, indexURL string) Result {
	const name = "Package index"

	base := strings.TrimRight(strings.TrimSpace(indexURL), "/")
	if base == "" {
		return Result{Name: name, Detail: "missing url"}
	}
	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	client := &http.Client{Timeout: 5 * time.Second}
	req, err := http.NewRequestWithContext(checkCtx, http.MethodGet, base+"/whisperx/", nil)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("request failed (%v)", err)}
	}
	resp, err := client.Do(req)
	if err != nil {
		return Result{Name: name, Detail: summarizeNetError(err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 400 {
		return Result{Name: name, Passed: true, Detail: "Reachable"}
	}
	return Result{Name: name, Detail: fmt.Sprintf("index returned %d", resp.StatusCode)}
}

// CheckToken reports whether diarization can run. A missing token only fails
// the check when diarization is on by default.
func CheckToken(present, diarizeByDefault bool) Result {
	const name = "Hugging Face token"
	switch {
	case present:
		return Result{Name: name, Passed: true, Detail: "configured"}
	case diarizeByDefault:
		return Result{Name: name, Detail: "missing; diarization requests will fail"}
	default:
		return Result{Name: name, Passed: true, Detail: "not set (diarization unavailable)"}
	}
}

// CheckSystemDeps evaluates the external binaries for the given config.
func CheckSystemDeps(cfg *config.Config) []deps.Status {
	requirements := []deps.Requirement{
		{
			Name:        "FFmpeg",
			Command:     cfg.WhisperX.FFmpegBinary,
			Description: "Required for audio extraction and resampling",
		},
		{
			Name:        "FFprobe",
			Command:     cfg.WhisperX.FFprobeBinary,
			Description: "Required for media inspection",
		},
		{
			Name:        "uvx",
			Command:     cfg.WhisperX.UVXBinary,
			Description: "Required for WhisperX alignment and diarization workers",
		},
	}
	return deps.CheckBinaries(requirements)
}

func summarizeNetError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "request timed out (index unresponsive)"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "request timed out (index unreachable)"
	}
	return err.Error()
}

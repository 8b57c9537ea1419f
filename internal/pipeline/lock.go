package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"

	"whisperflow/internal/services"
)

// RunLock keeps two pipelines from sharing the device. The mutex covers
// goroutines in this process and the file lock covers other processes.
type RunLock struct {
	mu   sync.Mutex
	held bool
	file *flock.Flock
}

// NewRunLock returns a lock backed by path. An empty path gives an
// in-process lock only.
func NewRunLock(path string) *RunLock {
	l := &RunLock{}
	if path != "" {
		l.file = flock.New(path)
	}
	return l
}

// TryAcquire takes the lock without blocking. It fails with services.ErrBusy
// when another run holds it. The returned function releases the lock.
func (l *RunLock) TryAcquire() (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held {
		return nil, services.Wrap(services.ErrBusy, "", "acquire run lock", "a transcription is already running", nil)
	}
	if l.file != nil {
		if err := os.MkdirAll(filepath.Dir(l.file.Path()), 0o755); err != nil {
			return nil, fmt.Errorf("ensure lock dir: %w", err)
		}
		ok, err := l.file.TryLock()
		if err != nil {
			return nil, fmt.Errorf("acquire run lock: %w", err)
		}
		if !ok {
			return nil, services.Wrap(services.ErrBusy, "", "acquire run lock", "another whisperflow process is transcribing", nil)
		}
	}
	l.held = true

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			if l.file != nil {
				_ = l.file.Unlock()
			}
			l.held = false
		})
	}, nil
}

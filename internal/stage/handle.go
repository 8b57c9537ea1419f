package stage

import (
	"context"
	"runtime"
	"runtime/debug"
	"strings"
	"sync"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"whisperflow/internal/services"
)

// Handle is a loaded model. Release must free everything the loader acquired.
type Handle interface {
	Release() error
}

// Reclaimer returns freed memory to the system after a handle is released.
type Reclaimer interface {
	Reclaim(ctx context.Context) error
}

// ReclaimFunc adapts a function to Reclaimer.
type ReclaimFunc func(ctx context.Context) error

func (f ReclaimFunc) Reclaim(ctx context.Context) error { return f(ctx) }

// HostReclaimer forces a collection and hands freed pages back to the OS.
// Device memory held by worker processes is returned when the process exits,
// which happens in the handle's Release.
type HostReclaimer struct{}

func (HostReclaimer) Reclaim(context.Context) error {
	runtime.GC()
	debug.FreeOSMemory()
	return nil
}

// Guard tracks which stage currently holds a resident model. At most one
// handle may be resident per guard.
type Guard struct {
	mu       sync.Mutex
	resident string
}

func (g *Guard) acquire(name string) error {
	if g == nil {
		return nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.resident != "" {
		return services.Wrap(services.ErrModelLoad, name, "acquire", "model already resident for stage "+g.resident, nil)
	}
	g.resident = name
	return nil
}

func (g *Guard) release() {
	if g == nil {
		return
	}
	g.mu.Lock()
	g.resident = ""
	g.mu.Unlock()
}

// Resident returns the stage holding a model, or "" when none is loaded.
func (g *Guard) Resident() string {
	if g == nil {
		return ""
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.resident
}

var titleCaser = cases.Title(language.English)

// Label renders a stage name such as "speaker_diarization" as "Speaker Diarization".
func Label(name string) string {
	name = strings.TrimSpace(strings.ReplaceAll(name, "_", " "))
	if name == "" {
		return ""
	}
	return titleCaser.String(name)
}

package pipeline

import (
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"whisperflow/internal/transcript"
)

// Event reports a state or progress change of a run.
type Event struct {
	RunID    string    `json:"run_id"`
	State    State     `json:"state"`
	Progress int       `json:"progress"`
	Message  string    `json:"message,omitempty"`
	Time     time.Time `json:"time"`
}

// Run is the per-invocation aggregate: options, state, progress, and the
// working result. It is safe to read from other goroutines while the
// orchestrator executes it. Nothing about a run is persisted.
type Run struct {
	mu         sync.RWMutex
	id         string
	options    Options
	state      State
	progress   int
	stageDone  int
	result     *transcript.Result
	final      bool
	err        error
	warnings   []string
	createdAt  time.Time
	finishedAt time.Time
}

// Snapshot is a consistent copy of a run's observable fields. Progress is the
// latest checkpoint; CompletedProgress is the checkpoint of the last stage that
// finished, which is what a failed run reports as how far it got.
type Snapshot struct {
	ID                string
	Options           Options
	State             State
	Progress          int
	CompletedProgress int
	Result            *transcript.Result
	Final             bool
	Err               error
	Warnings          []string
	CreatedAt         time.Time
	FinishedAt        time.Time
}

func newRun(now time.Time) *Run {
	return &Run{id: uuid.NewString(), state: StateIdle, createdAt: now}
}

func (r *Run) ID() string { return r.id }

func (r *Run) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

func (r *Run) Progress() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.progress
}

// CompletedProgress returns the checkpoint of the last finished stage.
func (r *Run) CompletedProgress() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stageDone
}

func (r *Run) Err() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.err
}

// Result returns the current result and whether it is final. After a failure
// the result is the last completed stage's output and final is false.
func (r *Run) Result() (transcript.Result, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.result == nil {
		return transcript.Result{}, false
	}
	return r.result.Clone(), r.final
}

// Warnings lists non-fatal problems recorded during the run.
func (r *Run) Warnings() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.warnings)
}

func (r *Run) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snap := Snapshot{
		ID:                r.id,
		Options:           r.options,
		State:             r.state,
		Progress:          r.progress,
		CompletedProgress: r.stageDone,
		Final:             r.final,
		Err:               r.err,
		Warnings:          slices.Clone(r.warnings),
		CreatedAt:         r.createdAt,
		FinishedAt:        r.finishedAt,
	}
	if r.result != nil {
		cp := r.result.Clone()
		snap.Result = &cp
	}
	return snap
}

func (r *Run) start(opts Options) {
	r.mu.Lock()
	r.options = opts
	r.mu.Unlock()
}

// transition moves to state and raises progress to percent. It returns false
// when neither changed.
func (r *Run) transition(state State, percent int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	changed := false
	if state != "" && state != r.state && !r.state.Terminal() {
		r.state = state
		changed = true
	}
	if percent > r.progress {
		r.progress = percent
		changed = true
	}
	return changed
}

// finishStage records percent as the last completed stage checkpoint and
// raises progress to it.
func (r *Run) finishStage(percent int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if percent > r.stageDone {
		r.stageDone = percent
	}
	if percent > r.progress {
		r.progress = percent
		return true
	}
	return false
}

func (r *Run) setResult(result transcript.Result) {
	cp := result.Clone()
	r.mu.Lock()
	r.result = &cp
	r.mu.Unlock()
}

func (r *Run) addWarning(msg string) {
	r.mu.Lock()
	r.warnings = append(r.warnings, msg)
	r.mu.Unlock()
}

func (r *Run) complete(now time.Time) {
	r.mu.Lock()
	r.state = StateCompleted
	r.progress = progressCompleted
	r.stageDone = progressCompleted
	r.final = true
	r.finishedAt = now
	r.mu.Unlock()
}

func (r *Run) fail(err error, now time.Time) {
	r.mu.Lock()
	r.state = StateFailed
	r.err = err
	r.final = false
	r.finishedAt = now
	r.mu.Unlock()
}

package server

import (
	"sync"

	"whisperflow/internal/pipeline"
)

const subscriberBuffer = 64

// hub fans run events out to websocket subscribers.
type hub struct {
	mu   sync.Mutex
	subs map[string]map[chan pipeline.Event]struct{}
}

func newHub() *hub {
	return &hub{subs: make(map[string]map[chan pipeline.Event]struct{})}
}

func (h *hub) subscribe(runID string) (<-chan pipeline.Event, func()) {
	ch := make(chan pipeline.Event, subscriberBuffer)
	h.mu.Lock()
	if h.subs[runID] == nil {
		h.subs[runID] = make(map[chan pipeline.Event]struct{})
	}
	h.subs[runID][ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if set, ok := h.subs[runID]; ok {
				if _, live := set[ch]; live {
					delete(set, ch)
					close(ch)
				}
				if len(set) == 0 {
					delete(h.subs, runID)
				}
			}
		})
	}
}

// publish never blocks the pipeline; a subscriber that falls behind loses
// intermediate events. Terminal events close every subscriber of the run.
func (h *hub) publish(evt pipeline.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.subs[evt.RunID]
	for ch := range set {
		select {
		case ch <- evt:
		default:
		}
	}
	if evt.State.Terminal() {
		for ch := range set {
			close(ch)
		}
		delete(h.subs, evt.RunID)
	}
}

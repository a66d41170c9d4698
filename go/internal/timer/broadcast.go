package timer

import (
	"sync"

	"github.com/mcdev12/pokerclock/go/internal/models"
)

const subscriptionBuffer = 8

// Subscription is a handle on one tournament's state stream. Slow readers
// lose intermediate states, never the latest one.
type Subscription struct {
	C <-chan models.TimerState

	ch   chan models.TimerState
	hub  *hub
	once sync.Once
}

// Close releases the subscription and closes C.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.unsubscribe(s)
	})
}

type hub struct {
	mu   sync.Mutex
	subs map[*Subscription]struct{}
}

func newHub() *hub {
	return &hub{subs: make(map[*Subscription]struct{})}
}

func (h *hub) subscribe(initial models.TimerState) *Subscription {
	ch := make(chan models.TimerState, subscriptionBuffer)
	ch <- initial
	s := &Subscription{C: ch, ch: ch, hub: h}

	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()
	return s
}

func (h *hub) unsubscribe(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[s]; ok {
		delete(h.subs, s)
		close(s.ch)
	}
}

func (h *hub) publish(state models.TimerState) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs {
		select {
		case s.ch <- state:
		default:
			// full: drop the oldest so the newest state is delivered
			select {
			case <-s.ch:
			default:
			}
			select {
			case s.ch <- state:
			default:
			}
		}
	}
}

func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs {
		delete(h.subs, s)
		close(s.ch)
	}
}

func (h *hub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

package timer

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/pokerclock/go/internal/models"
)

// entry is the live state of one tournament. Every field is guarded by mu;
// no lock is shared across tournaments.
type entry struct {
	id uuid.UUID

	mu          sync.Mutex
	state       models.TimerState
	levels      []models.BlindLevel
	scheduleErr error
	frozen      bool

	// lastTick is the clock reading the elapsed counters are accurate to.
	lastTick            time.Time
	lastPersist         time.Time
	lastScheduleAttempt time.Time

	task *tickTask
	hub  *hub

	// set by Stop; no tick task starts once it is
	stopping bool
}

func newEntry(id uuid.UUID, state models.TimerState) *entry {
	return &entry{
		id:    id,
		state: state,
		hub:   newHub(),
	}
}

// Registry owns the TimerState map of one engine instance.
type Registry struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]*entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[uuid.UUID]*entry)}
}

func (r *Registry) get(id uuid.UUID) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	return e, ok
}

// insertIfAbsent stores e unless another loader won the race, in which case the
// existing entry is returned with false.
func (r *Registry) insertIfAbsent(e *entry) (*entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.entries[e.id]; ok {
		return existing, false
	}
	r.entries[e.id] = e
	return e, true
}

// remove deletes e unless the id has since been loaded again.
func (r *Registry) remove(e *entry) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.entries[e.id] != e {
		return false
	}
	delete(r.entries, e.id)
	return true
}

// IDs returns the loaded tournament ids in a stable order.
func (r *Registry) IDs() []uuid.UUID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]uuid.UUID, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}

// Len returns the number of loaded tournaments.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

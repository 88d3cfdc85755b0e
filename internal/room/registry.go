package room

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultLingerWindow is how long an empty room survives before Sweep
// reclaims it, absent an explicit SetLingerWindow call (spec.md §3's
// "default 5 s" post-empty linger window).
const DefaultLingerWindow = 5 * time.Second

// Registry maps RoomId to its live Room, generalizing the teacher's
// single-server-name room into the spec's multi-room presence model
// (one process can host many independent rooms concurrently).
type Registry struct {
	mu     sync.RWMutex
	rooms  map[string]*Room
	log    *zap.SugaredLogger
	linger time.Duration
}

// NewRegistry creates an empty room registry.
func NewRegistry(logger *zap.SugaredLogger) *Registry {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Registry{rooms: make(map[string]*Room), log: logger.Named("registry"), linger: DefaultLingerWindow}
}

// SetLingerWindow overrides the default post-empty linger window, e.g. from
// appconfig.Config.RoomLinger.
func (reg *Registry) SetLingerWindow(d time.Duration) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.linger = d
}

// GetOrCreate returns the room for roomID, creating it on first reference.
// Rooms are weakly owned by the registry: once the last member leaves, a
// subsequent sweep reclaims it (see Sweep), matching spec.md's "weak
// Room→Session references" design note — the registry does not pin a room
// in memory just because it was once created.
func (reg *Registry) GetOrCreate(roomID string) *Room {
	reg.mu.RLock()
	r, ok := reg.rooms[roomID]
	reg.mu.RUnlock()
	if ok {
		return r
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()
	if r, ok := reg.rooms[roomID]; ok {
		return r
	}
	r = New(roomID, reg.log)
	reg.rooms[roomID] = r
	return r
}

// Get returns the room for roomID without creating it.
func (reg *Registry) Get(roomID string) (*Room, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	r, ok := reg.rooms[roomID]
	return r, ok
}

// Sweep removes every room that has been empty for at least the linger
// window, reclaiming memory for rooms whose last participant left long
// enough ago that a rejoin is no longer expected. A room that just emptied
// is left in place until the window elapses, matching spec.md §3/§8's "Room
// linger" property — not torn down before the window, not kept after it.
func (reg *Registry) Sweep() int {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	removed := 0
	for id, r := range reg.rooms {
		emptiedAt, empty := r.EmptiedAt()
		if empty && time.Since(emptiedAt) >= reg.linger {
			delete(reg.rooms, id)
			removed++
		}
	}
	return removed
}

// RoomCount reports how many rooms are currently tracked (including empty
// ones not yet swept).
func (reg *Registry) RoomCount() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return len(reg.rooms)
}

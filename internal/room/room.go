// Package room implements the room registry and fan-out router described in
// spec.md §4.2: a shared-nothing critical section that snapshots membership
// under a read lock, then fans a datagram out to every other member without
// holding any lock during I/O.
package room

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/mediaplane/router/internal/session"
)

// NACK retransmission constants, carried over from the teacher's client.go.
const (
	dgramCacheSize = 128 // per-sender ring buffer slots (~2.5s at 50fps)
	maxNACKSeqs    = 10  // max sequence numbers served per NACK request
)

// Member is the room-visible handle for one connected session.
type Member struct {
	PeerID  uint16
	Session *session.Session

	dgramMu    sync.Mutex
	dgramCache [dgramCacheSize]cachedDatagram
}

type cachedDatagram struct {
	seq  uint16
	data []byte
	set  bool
}

// cacheDatagram stores a copy of an outgoing datagram in the member's ring
// buffer so a later NACK from a receiver can be served without asking the
// original sender to retransmit.
func (m *Member) cacheDatagram(seq uint16, data []byte) {
	cp := make([]byte, len(data))
	copy(cp, data)
	idx := seq % dgramCacheSize
	m.dgramMu.Lock()
	m.dgramCache[idx] = cachedDatagram{seq: seq, data: cp, set: true}
	m.dgramMu.Unlock()
}

// GetCachedDatagram retrieves a cached datagram by sequence number, or nil
// if it was never cached or has since been overwritten.
func (m *Member) GetCachedDatagram(seq uint16) []byte {
	idx := seq % dgramCacheSize
	m.dgramMu.Lock()
	defer m.dgramMu.Unlock()
	e := m.dgramCache[idx]
	if e.set && e.seq == seq {
		return e.data
	}
	return nil
}

type broadcastTarget struct {
	peerID  uint16
	member  *Member
}

// targetPool supplies per-call []broadcastTarget slices for fan-out. Using
// a pool instead of a Room field avoids a data race: concurrent Broadcast
// calls (held only under RLock) must never share one growable backing array.
var targetPool = sync.Pool{
	New: func() any {
		s := make([]broadcastTarget, 0, 8)
		return &s
	},
}

// Room holds every session currently joined to one RoomId and fans out
// media datagrams and control messages between them.
type Room struct {
	mu      sync.RWMutex
	id      string
	members map[uint16]*Member

	createdAt time.Time
	emptiedAt time.Time

	totalDatagrams   atomic.Uint64
	totalBytes       atomic.Uint64
	skippedDatagrams atomic.Uint64

	log *zap.SugaredLogger
}

// New creates an empty room for roomID. A freshly created room counts as
// "emptied" from its creation time — if nothing ever joins it, the
// registry's linger window still reclaims it rather than pinning it in
// memory forever.
func New(roomID string, logger *zap.SugaredLogger) *Room {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	now := time.Now()
	return &Room{
		id:        roomID,
		members:   make(map[uint16]*Member),
		createdAt: now,
		emptiedAt: now,
		log:       logger.Named("room").With("room_id", roomID),
	}
}

func (r *Room) ID() string { return r.id }

// Join adds a session to the room, replacing (and returning) any prior
// member occupying the same PeerID — this is the "displaced" path from
// spec.md's close reasons: a reconnect under the same identity evicts the
// stale session rather than coexisting with it.
func (r *Room) Join(peerID uint16, s *session.Session) (replaced *Member) {
	r.mu.Lock()
	defer r.mu.Unlock()
	replaced = r.members[peerID]
	r.members[peerID] = &Member{PeerID: peerID, Session: s}
	r.emptiedAt = time.Time{} // a member just joined, so the room is not empty
	return replaced
}

// Leave removes a member, returning false if it was already absent.
func (r *Room) Leave(peerID uint16) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.members[peerID]; !ok {
		return false
	}
	delete(r.members, peerID)
	if len(r.members) == 0 {
		r.emptiedAt = time.Now()
	}
	return true
}

// EmptiedAt reports when the room most recently became empty, and whether
// it is still empty now. Used by Registry.Sweep to gate reclamation on the
// post-empty linger window (spec.md §3) instead of deleting on the first
// zero-member observation.
func (r *Room) EmptiedAt() (emptiedAt time.Time, empty bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.emptiedAt, len(r.members) == 0
}

// SessionFor returns the session bound to peerID, for callers that need to
// check properties of the sender (e.g. its authenticated identity) before
// acting on a packet it sent.
func (r *Room) SessionFor(peerID uint16) (*session.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.members[peerID]
	if !ok {
		return nil, false
	}
	return m.Session, true
}

func (r *Room) MemberCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

func (r *Room) Members() []uint16 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]uint16, 0, len(r.members))
	for id := range r.members {
		ids = append(ids, id)
	}
	return ids
}

// Broadcast fans a datagram out to every other room member. It snapshots
// the membership under a read lock, releases the lock, then performs I/O —
// the room's critical section never blocks on a send.
func (r *Room) Broadcast(senderID uint16, seq uint16, data []byte) {
	r.totalDatagrams.Add(1)
	r.totalBytes.Add(uint64(len(data)))

	r.mu.RLock()
	sender, ok := r.members[senderID]
	if !ok {
		r.mu.RUnlock()
		return
	}
	sender.cacheDatagram(seq, data)

	sp := targetPool.Get().(*[]broadcastTarget)
	targets := (*sp)[:0]
	for id, m := range r.members {
		if id == senderID || m.Session == nil {
			continue
		}
		targets = append(targets, broadcastTarget{peerID: id, member: m})
	}
	r.mu.RUnlock()

	for _, t := range targets {
		if t.member.Session.HealthState().ShouldSkip() {
			r.skippedDatagrams.Add(1)
			continue
		}
		if err := t.member.Session.SendDatagram(data); err != nil {
			if t.member.Session.HealthState().Failures() == circuitBreakerThresholdForLog {
				r.log.Warnw("circuit breaker opened for peer", "peer_id", t.peerID)
			}
		}
	}

	*sp = targets
	targetPool.Put(sp)
}

// circuitBreakerThresholdForLog mirrors session.circuitBreakerThreshold
// purely for the log-once-at-threshold message; kept as a local constant so
// this package does not need to export the session package's internal value.
const circuitBreakerThresholdForLog uint32 = 50

// BroadcastControl sends a pre-encoded reliable-channel message to every
// member except excludeID (pass 0 to exclude none).
func (r *Room) BroadcastControl(data []byte, excludeID uint16) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for id, m := range r.members {
		if id == excludeID {
			continue
		}
		_ = m.Session.EnqueueControl(data)
	}
}

// SendControlTo delivers a reliable message to exactly one member.
func (r *Room) SendControlTo(peerID uint16, data []byte) error {
	r.mu.RLock()
	m, ok := r.members[peerID]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	return m.Session.EnqueueControl(data)
}

// ServeNACK resolves a NACK request for up to maxNACKSeqs missing sequence
// numbers from the sender's retransmission cache, returning the datagrams
// it still has. Missing entries (too old, or never sent) are silently
// omitted — NetEq conceals whatever never arrives.
func (r *Room) ServeNACK(senderID uint16, seqs []uint16) [][]byte {
	r.mu.RLock()
	m, ok := r.members[senderID]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	if len(seqs) > maxNACKSeqs {
		seqs = seqs[:maxNACKSeqs]
	}
	out := make([][]byte, 0, len(seqs))
	for _, seq := range seqs {
		if data := m.GetCachedDatagram(seq); data != nil {
			out = append(out, data)
		}
	}
	return out
}

// Stats reports the room's lifetime fan-out counters for diagnostics.
func (r *Room) Stats() (datagrams, bytes, skipped uint64, members int) {
	return r.totalDatagrams.Load(), r.totalBytes.Load(), r.skippedDatagrams.Load(), r.MemberCount()
}

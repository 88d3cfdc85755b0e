package neteq

import "time"

const (
	ringSize = 64 // must be a power of 2; enough headroom for the 24-frame maximum target delay
	ringMask = ringSize - 1

	// staleTimeout is how long a sender may go silent before its stream is
	// pruned from the buffer entirely.
	staleTimeout = 2 * time.Second
)

// JitterPacket is one arrived, still-encoded audio frame queued for
// jitter-buffered playout.
type JitterPacket struct {
	SenderID    uint16
	Sequence    uint16
	TimestampMs uint64
	OpusData    []byte
	ArrivalTime time.Time
}

// AudioFrame is one decoded (or concealed) output frame for a 10ms tick.
type AudioFrame struct {
	SenderID uint16
	PCM      []int16 // nil when Concealed is true and no PCM extrapolation ran yet
	Concealed bool
}

type slot struct {
	pkt JitterPacket
	set bool
}

// packetBuffer is a per-sender ring buffer of not-yet-played packets,
// generalized from a fixed-depth jitter buffer into one whose priming depth
// is driven externally by the delay manager's target delay.
type packetBuffer struct {
	ring     [ringSize]slot
	nextPlay uint16
	primed   bool
	count    int
	lastRecv time.Time
	depth    int
}

func newPacketBuffer(depth int) *packetBuffer {
	if depth < 1 {
		depth = 1
	}
	if depth > ringSize/2 {
		depth = ringSize / 2
	}
	return &packetBuffer{depth: depth}
}

// setDepth adjusts the priming depth used for subsequent resets; it does not
// retroactively re-prime an already-primed buffer (matching spec.md's
// incremental re-targeting semantics — depth changes take effect on the
// next underrun/reset cycle, not mid-stream).
func (p *packetBuffer) setDepth(depth int) {
	if depth < 1 {
		depth = 1
	}
	if depth > ringSize/2 {
		depth = ringSize / 2
	}
	p.depth = depth
}

// push inserts a received packet into the ring, priming the buffer once depth
// packets have arrived and repriming it after a sequence jump of a full ring
// or more. Packets that arrive after their sequence was played are dropped.
func (p *packetBuffer) push(pkt JitterPacket) {
	p.lastRecv = pkt.ArrivalTime
	idx := int(pkt.Sequence) & ringMask

	if !p.primed {
		p.ring[idx] = slot{pkt: pkt, set: true}
		p.count++
		if p.count >= p.depth {
			p.primed = true
			p.nextPlay = p.earliestSequence()
		}
		return
	}

	dist := int16(pkt.Sequence - p.nextPlay)
	if dist < 0 {
		return // late arrival, already played past this sequence
	}
	if int(dist) >= ringSize {
		// Sender restarted or a very long gap occurred: reprime.
		*p = packetBuffer{depth: p.depth, lastRecv: pkt.ArrivalTime, count: 1, nextPlay: pkt.Sequence}
		p.ring[idx] = slot{pkt: pkt, set: true}
		if p.count >= p.depth {
			p.primed = true
		}
		return
	}

	p.ring[idx] = slot{pkt: pkt, set: true}
}

func (p *packetBuffer) earliestSequence() uint16 {
	best := uint16(0)
	found := false
	for _, s := range p.ring {
		if !s.set {
			continue
		}
		if !found || int16(s.pkt.Sequence-best) < 0 {
			best = s.pkt.Sequence
			found = true
		}
	}
	return best
}

// pop returns the next packet for playout, or ok=false to signal concealment
// is required (missing frame).
func (p *packetBuffer) pop() (JitterPacket, bool) {
	if !p.primed {
		return JitterPacket{}, false
	}
	idx := int(p.nextPlay) & ringMask
	s := p.ring[idx]
	if s.set && s.pkt.Sequence == p.nextPlay {
		p.ring[idx] = slot{}
		p.nextPlay++
		return s.pkt, true
	}
	p.ring[idx] = slot{}
	p.nextPlay++
	return JitterPacket{}, false
}

// depthAvailable reports how many primed-and-buffered packets remain ahead of
// nextPlay — used by the decision engine to choose accelerate vs. normal.
func (p *packetBuffer) depthAvailable() int {
	n := 0
	for i := 0; i < ringSize; i++ {
		seq := p.nextPlay + uint16(i)
		if p.ring[int(seq)&ringMask].set {
			n++
		} else if n > 0 {
			break
		}
	}
	return n
}

func (p *packetBuffer) isStale(now time.Time) bool {
	return p.primed && now.Sub(p.lastRecv) > staleTimeout
}

func (p *packetBuffer) reset() {
	*p = packetBuffer{depth: p.depth}
}

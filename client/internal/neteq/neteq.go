// Package neteq implements the per-peer audio jitter buffer described in
// spec.md §4.5: a NetEq-style packet buffer with a histogram-driven delay
// manager, WSOLA time-stretching, LPC packet-loss concealment, and
// libWebRTC-shaped statistics.
package neteq

import (
	"sync"
	"time"
)

const (
	frameDurationMs = 10
	minDelayFrames  = 1
	maxDelayFrames  = 24 // 24*10ms = 240ms max buffered depth, unchanged by the frame-size switch

	delayBuckets   = 32
	delayBucketMs  = 10
)

// perSender bundles the state NetEq tracks for one remote participant's
// audio stream.
type perSender struct {
	buf       *packetBuffer
	concealer *concealer
}

// NetEq is a per-session, multi-sender jitter buffer and decoder scheduler.
// One instance is owned by a single receiving session. Every method takes
// the instance's own mutex, so packet insertion and playout may run on
// different goroutines without external locking.
type NetEq struct {
	mu      sync.Mutex
	senders map[uint16]*perSender
	delay   *delayManager
	stats   *StatisticsCalculator
}

// New creates a NetEq instance for one session.
func New() *NetEq {
	return &NetEq{
		senders: make(map[uint16]*perSender),
		delay:   newDelayManager(delayBuckets, delayBucketMs, minDelayFrames, maxDelayFrames),
		stats:   NewStatisticsCalculator(),
	}
}

// Push inserts one arrived, still-encoded packet into its sender's buffer
// and updates the shared delay manager with its arrival jitter.
func (n *NetEq) Push(pkt JitterPacket) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.delay.update(pkt.ArrivalTime, pkt.TimestampMs, frameDurationMs)
	target := n.delay.targetDelayFrames(frameDurationMs)
	n.stats.UpdateBufferSize(uint16(target*frameDurationMs), uint16(target*frameDurationMs))

	s, ok := n.senders[pkt.SenderID]
	if !ok {
		s = &perSender{buf: newPacketBuffer(target), concealer: newConcealer()}
		n.senders[pkt.SenderID] = s
	}
	s.buf.setDepth(target)
	s.buf.push(pkt)

	n.stats.PacketArrived(0)
}

// Tick advances playout by one 10ms frameDurationMs tick, returning one output
// decision + raw encoded payload (nil when concealment is required) per
// active sender. The caller is responsible for Opus-decoding the payload or
// invoking PLC via Conceal when Missing is true.
type TickResult struct {
	SenderID uint16
	Decision Decision
	Payload  []byte // encoded Opus frame; nil when Missing
	Missing  bool
}

func (n *NetEq) Tick(now time.Time) []TickResult {
	n.mu.Lock()
	defer n.mu.Unlock()

	target := n.delay.targetDelayFrames(frameDurationMs)

	var out []TickResult
	var stale []uint16
	for id, s := range n.senders {
		if s.buf.isStale(now) {
			stale = append(stale, id)
			continue
		}
		if !s.buf.primed {
			continue
		}

		available := s.buf.depthAvailable()
		pkt, ok := s.buf.pop()

		d := decide(available, target, !ok)
		res := TickResult{SenderID: id, Decision: d}
		switch d {
		case DecisionExpand:
			res.Missing = true
			n.stats.ConcealmentEvent(frameDurationMs*8, false) // 8kHz*10ms samples, narrowband accounting
			n.stats.TimeStretchOperation(OpExpand, frameDurationMs*8)
		case DecisionAccelerate:
			res.Payload = pkt.OpusData
			n.stats.TimeStretchOperation(OpAccelerate, frameDurationMs*8)
		case DecisionPreemptiveExpand:
			res.Payload = pkt.OpusData
			n.stats.TimeStretchOperation(OpPreemptiveExpand, frameDurationMs*8)
		default:
			res.Payload = pkt.OpusData
		}
		if !ok {
			n.stats.PacketDiscarded(false)
		}
		out = append(out, res)
	}

	for _, id := range stale {
		delete(n.senders, id)
	}
	return out
}

// Conceal runs LPC-based packet loss concealment for a sender whose Tick
// result reported Missing, and records the decoded history for future
// concealment when fed back via Observe.
func (n *NetEq) Conceal(senderID uint16, frameLenSamples int) []int16 {
	n.mu.Lock()
	defer n.mu.Unlock()
	s, ok := n.senders[senderID]
	if !ok {
		return make([]int16, frameLenSamples)
	}
	return s.concealer.conceal(frameLenSamples)
}

// Observe feeds back a successfully decoded PCM frame so later concealment
// has fresh history to extrapolate from.
func (n *NetEq) Observe(senderID uint16, pcm []int16) {
	n.mu.Lock()
	defer n.mu.Unlock()
	s, ok := n.senders[senderID]
	if !ok {
		return
	}
	s.concealer.observe(pcm)
}

// Stretch applies WSOLA to grow/shrink pcm by targetSamples per the given
// decision; a Normal/Expand decision passes pcm through unchanged.
func Stretch(d Decision, pcm []int16, targetSamples int) []int16 {
	switch d {
	case DecisionAccelerate:
		return Accelerate(pcm, targetSamples)
	case DecisionPreemptiveExpand:
		return PreemptiveExpand(pcm, targetSamples)
	default:
		return pcm
	}
}

// ActiveSenders returns the number of primed sender streams.
func (n *NetEq) ActiveSenders() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	count := 0
	for _, s := range n.senders {
		if s.buf.primed {
			count++
		}
	}
	return count
}

// Reset clears all per-sender state and the delay manager history, e.g. on
// session reconnect (see spec.md's audio catch-up horizon decision in
// DESIGN.md).
func (n *NetEq) Reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.senders = make(map[uint16]*perSender)
	n.delay.reset()
	n.stats.Reset()
}

// Statistics exposes the three libWebRTC-shaped statistics blocks for the
// diagnostics sink.
func (n *NetEq) Statistics() (NetworkStatistics, LifetimeStatistics, OperationStatistics) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.stats.NetworkStatistics(), n.stats.LifetimeStatistics(), n.stats.OperationStatistics()
}

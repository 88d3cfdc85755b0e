package neteq

import (
	"sort"
	"time"
)

// TimeStretchOp names the WSOLA time-stretching operations NetEq may apply
// to a frame to absorb jitter without affecting pitch.
type TimeStretchOp int

const (
	OpAccelerate TimeStretchOp = iota
	OpPreemptiveExpand
	OpExpand
)

// NetworkStatistics mirrors libWebRTC's NetEqNetworkStatistics shape: a
// point-in-time snapshot of jitter buffer health.
type NetworkStatistics struct {
	CurrentBufferSizeMs   uint16
	PreferredBufferSizeMs uint16
	JitterPeaksFound      uint16
	ExpandRate            uint16 // Q14
	SpeechExpandRate      uint16 // Q14
	PreemptiveRate        uint16 // Q14
	AccelerateRate        uint16 // Q14
	MeanWaitingTimeMs     int32
	MedianWaitingTimeMs   int32
	MinWaitingTimeMs      int32
	MaxWaitingTimeMs      int32
}

// LifetimeStatistics accumulates over the life of one NetEq instance.
type LifetimeStatistics struct {
	TotalSamplesReceived            uint64
	ConcealedSamples                uint64
	ConcealmentEvents               uint64
	JitterBufferDelayMs             uint64
	JitterBufferEmittedCount        uint64
	JitterBufferTargetDelayMs       uint64
	InsertedSamplesForDeceleration  uint64
	RemovedSamplesForAcceleration   uint64
	SilentConcealedSamples          uint64
	RelativePacketArrivalDelayMs    uint64
	JitterBufferPacketsReceived     uint64
	BufferFlushes                   uint64
	LatePacketsDiscarded            uint64
}

// OperationStatistics tracks cumulative operation counts and the current
// working-set size, useful for diagnostics export.
type OperationStatistics struct {
	PreemptiveSamples       uint64
	AccelerateSamples       uint64
	PacketBufferFlushes     uint64
	DiscardedPrimaryPackets uint64
	LastWaitingTimeMs       uint64
	CurrentBufferSizeMs     uint64
	CurrentFrameSizeMs      uint64
	NextPacketAvailable     bool
}

// StatisticsCalculator accumulates NetEq health metrics for one session's
// jitter buffer, mirroring the reference StatisticsCalculator.
type StatisticsCalculator struct {
	network   NetworkStatistics
	lifetime  LifetimeStatistics
	operation OperationStatistics
	startTime time.Time
	waiting   []int32
}

// NewStatisticsCalculator returns a zeroed calculator with the clock started.
func NewStatisticsCalculator() *StatisticsCalculator {
	return &StatisticsCalculator{startTime: time.Now()}
}

func (s *StatisticsCalculator) UpdateBufferSize(currentMs, preferredMs uint16) {
	s.network.CurrentBufferSizeMs = currentMs
	s.network.PreferredBufferSizeMs = preferredMs
	s.operation.CurrentBufferSizeMs = uint64(currentMs)
}

// PacketArrived records one packet's arrival delay and refreshes the rolling
// waiting-time window (last 100 packets), matching the reference impl.
func (s *StatisticsCalculator) PacketArrived(arrivalDelayMs int32) {
	s.lifetime.JitterBufferPacketsReceived++
	s.waiting = append(s.waiting, arrivalDelayMs)
	if len(s.waiting) > 100 {
		s.waiting = s.waiting[1:]
	}
	s.updateWaitingTimeStats()
}

func (s *StatisticsCalculator) JitterBufferDelay(delayMs, emittedSamples uint64) {
	s.lifetime.JitterBufferDelayMs += delayMs
	s.lifetime.JitterBufferEmittedCount += emittedSamples
}

func (s *StatisticsCalculator) ConcealmentEvent(concealedSamples uint64, isSilent bool) {
	s.lifetime.ConcealmentEvents++
	s.lifetime.ConcealedSamples += concealedSamples
	if isSilent {
		s.lifetime.SilentConcealedSamples += concealedSamples
	}
}

// TimeStretchOperation records one WSOLA accelerate/preemptive-expand/expand
// event and updates the corresponding Q14 rate estimate.
func (s *StatisticsCalculator) TimeStretchOperation(op TimeStretchOp, samples uint64) {
	switch op {
	case OpAccelerate:
		s.lifetime.RemovedSamplesForAcceleration += samples
		s.operation.AccelerateSamples += samples
		s.network.AccelerateRate = q14Rate(samples)
	case OpPreemptiveExpand:
		s.lifetime.InsertedSamplesForDeceleration += samples
		s.operation.PreemptiveSamples += samples
		s.network.PreemptiveRate = q14Rate(samples)
	case OpExpand:
		s.network.ExpandRate = q14Rate(samples)
	}
}

func q14Rate(samples uint64) uint16 {
	return uint16((float64(samples) / 1000.0) * float64(int(1)<<14))
}

func (s *StatisticsCalculator) BufferFlush() {
	s.lifetime.BufferFlushes++
	s.operation.PacketBufferFlushes++
}

func (s *StatisticsCalculator) PacketDiscarded(isLate bool) {
	if isLate {
		s.lifetime.LatePacketsDiscarded++
	}
	s.operation.DiscardedPrimaryPackets++
}

func (s *StatisticsCalculator) NetworkStatistics() NetworkStatistics     { return s.network }
func (s *StatisticsCalculator) LifetimeStatistics() LifetimeStatistics   { return s.lifetime }
func (s *StatisticsCalculator) OperationStatistics() OperationStatistics { return s.operation }
func (s *StatisticsCalculator) Uptime() time.Duration                   { return time.Since(s.startTime) }

func (s *StatisticsCalculator) Reset() {
	*s = StatisticsCalculator{startTime: time.Now()}
}

func (s *StatisticsCalculator) updateWaitingTimeStats() {
	if len(s.waiting) == 0 {
		return
	}
	sorted := append([]int32(nil), s.waiting...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	s.network.MinWaitingTimeMs = sorted[0]
	s.network.MaxWaitingTimeMs = sorted[len(sorted)-1]

	var sum int32
	for _, v := range sorted {
		sum += v
	}
	s.network.MeanWaitingTimeMs = sum / int32(len(sorted))
	s.network.MedianWaitingTimeMs = sorted[len(sorted)/2]

	s.operation.LastWaitingTimeMs = uint64(s.waiting[len(s.waiting)-1])
}

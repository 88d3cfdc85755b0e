package neteq

import "time"

// delayManager tracks inter-arrival jitter via a histogram over quantised
// delay buckets and derives the target jitter-buffer depth (in 10ms frames)
// that should absorb the 95th-percentile of observed jitter.
type delayManager struct {
	hist          *histogram
	bucketWidthMs int
	targetQuantile float64
	lastArrival   time.Time
	lastTimestamp uint64
	haveBaseline  bool
	minDepth      int
	maxDepth      int
}

// newDelayManager builds a delay manager with numBuckets buckets of
// bucketWidthMs each, covering [0, numBuckets*bucketWidthMs) ms of jitter.
func newDelayManager(numBuckets, bucketWidthMs int, minDepth, maxDepth int) *delayManager {
	return &delayManager{
		hist:           newHistogram(numBuckets, 0.9993, 0.99, true),
		bucketWidthMs:  bucketWidthMs,
		targetQuantile: 0.95,
		minDepth:       minDepth,
		maxDepth:       maxDepth,
	}
}

// update records one packet's arrival and its RTP-like timestamp, computing
// the arrival-time deviation from the expected cadence (one sample interval
// per frame) and feeding it into the histogram.
func (d *delayManager) update(arrival time.Time, rtpTimestampMs uint64, frameDurationMs uint64) {
	if !d.haveBaseline {
		d.lastArrival = arrival
		d.lastTimestamp = rtpTimestampMs
		d.haveBaseline = true
		return
	}

	expected := d.lastArrival.Add(time.Duration(rtpTimestampMs-d.lastTimestamp) * time.Millisecond)
	deviationMs := arrival.Sub(expected).Milliseconds()
	if deviationMs < 0 {
		deviationMs = 0
	}

	bucket := int(deviationMs) / d.bucketWidthMs
	if bucket >= d.hist.numBuckets() {
		bucket = d.hist.numBuckets() - 1
	}
	d.hist.add(bucket)

	d.lastArrival = arrival
	d.lastTimestamp = rtpTimestampMs
	_ = frameDurationMs
}

// targetDelayFrames returns the current target jitter-buffer depth, in
// frameDurationMs-sized frames, clamped to [minDepth, maxDepth].
func (d *delayManager) targetDelayFrames(frameDurationMs int) int {
	bucket := d.hist.quantile(d.targetQuantile)
	targetMs := (bucket + 1) * d.bucketWidthMs
	frames := (targetMs + frameDurationMs - 1) / frameDurationMs
	if frames < d.minDepth {
		frames = d.minDepth
	}
	if frames > d.maxDepth {
		frames = d.maxDepth
	}
	return frames
}

func (d *delayManager) reset() {
	d.hist.reset()
	d.haveBaseline = false
}

// Package producer turns captured PCM audio into wire-ready MediaPackets:
// Opus encoding, adaptive bitrate selection, and RTP-like sequencing,
// grounded on the teacher's AudioEngine capture/encode path (client/audio.go)
// and the internal/adapt bitrate ladder.
package producer

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/mediaplane/client/internal/adapt"
	"github.com/mediaplane/client/internal/wire"
)

// opusEncoder mirrors the teacher's AudioEngine encoder seam so tests can
// substitute a fake without linking libopus.
type opusEncoder interface {
	Encode(pcm []int16, data []byte) (int, error)
	SetBitrate(bitrate int) error
	SetPacketLossPerc(percent int) error
}

const (
	frameDurationMs    = 20
	opusMaxPacketBytes = 1275 // RFC 6716 max Opus packet size
)

// AudioProducer encodes 20 ms PCM frames to Opus and wraps each as a
// MediaPacket, applying the adaptive bitrate ladder on every call to
// AdaptToConditions.
type AudioProducer struct {
	enc     opusEncoder
	email   string
	seq     uint32 // wraps into uint16 on emit, kept wide to avoid ambiguity in tests
	bitrate atomic.Int32
}

// NewAudioProducer wraps enc for one local participant identified by email.
func NewAudioProducer(enc opusEncoder, email string) *AudioProducer {
	p := &AudioProducer{enc: enc, email: email}
	p.bitrate.Store(int32(adapt.DefaultKbps))
	return p
}

// EncodeFrame encodes one 20 ms PCM frame (960 samples at 48 kHz mono) and
// returns a ready-to-send MediaPacket, tagged with the next sequence number
// and the caller-supplied capture timestamp.
func (p *AudioProducer) EncodeFrame(pcm []int16, audioLevel uint8, timestampMs uint64) (*wire.MediaPacket, error) {
	buf := make([]byte, opusMaxPacketBytes)
	n, err := p.enc.Encode(pcm, buf)
	if err != nil {
		return nil, fmt.Errorf("producer: opus encode: %w", err)
	}
	seq := uint16(atomic.AddUint32(&p.seq, 1))
	return &wire.MediaPacket{
		MediaType:   wire.MediaAudio,
		Data:        append([]byte(nil), buf[:n]...),
		FrameType:   wire.FrameDelta, // audio has no key/delta distinction; kept for wire symmetry
		Email:       p.email,
		TimestampMs: timestampMs,
		Sequence:    seq,
		AudioLevel:  audioLevel,
	}, nil
}

// AdaptToConditions steps the Opus bitrate up or down per the adaptive
// ladder (internal/adapt.NextBitrate) based on the most recently observed
// loss rate and RTT, and informs the encoder of the new expected loss
// percentage so its FEC/redundancy coding can compensate.
func (p *AudioProducer) AdaptToConditions(lossRate, rttMs float64) (newKbps int, err error) {
	current := int(p.bitrate.Load())
	next := adapt.NextBitrate(current, lossRate, rttMs)
	if next != current {
		if err := p.enc.SetBitrate(next * 1000); err != nil {
			return current, fmt.Errorf("producer: set bitrate: %w", err)
		}
		p.bitrate.Store(int32(next))
	}
	lossPercent := int(lossRate * 100)
	if lossPercent > 100 {
		lossPercent = 100
	}
	if err := p.enc.SetPacketLossPerc(lossPercent); err != nil {
		return next, fmt.Errorf("producer: set packet loss perc: %w", err)
	}
	return next, nil
}

// CurrentBitrateKbps returns the Opus target bitrate currently in effect.
func (p *AudioProducer) CurrentBitrateKbps() int {
	return int(p.bitrate.Load())
}

// FrameTimestampMs returns the capture timestamp for the n-th 20 ms frame
// since start, a convenience for callers driving a fixed-rate capture loop.
func FrameTimestampMs(start time.Time, frameIndex uint64) uint64 {
	return uint64(start.UnixMilli()) + frameIndex*frameDurationMs
}

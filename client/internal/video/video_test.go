package video

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mediaplane/client/internal/wire"
)

func keyPkt(seq uint16) *wire.MediaPacket {
	return &wire.MediaPacket{MediaType: wire.MediaVideo, FrameType: wire.FrameKey, Sequence: seq, Data: []byte{byte(seq)}}
}

func deltaPkt(seq uint16) *wire.MediaPacket {
	return &wire.MediaPacket{MediaType: wire.MediaVideo, FrameType: wire.FrameDelta, Sequence: seq, Data: []byte{byte(seq)}}
}

func TestDecoderWaitsForFirstKeyFrame(t *testing.T) {
	d := NewDecoder(1, nil)
	frames := d.Push(deltaPkt(5))
	require.Empty(t, frames)

	frames = d.Push(keyPkt(6))
	require.Len(t, frames, 1)
	require.True(t, frames[0].KeyFrame)
}

func TestDecoderReleasesInOrder(t *testing.T) {
	d := NewDecoder(1, nil)
	d.Push(keyPkt(0))
	frames := d.Push(deltaPkt(1))
	require.Len(t, frames, 1)
	require.Equal(t, uint16(1), frames[0].Header.SequenceNumber)

	frames = d.Push(deltaPkt(3))
	require.Empty(t, frames) // 2 still missing, held back

	frames = d.Push(deltaPkt(2))
	require.Len(t, frames, 2) // 2 and 3 both release now
}

func TestDecoderSkipsToNextKeyFrameOnGap(t *testing.T) {
	d := NewDecoder(1, nil)
	d.Push(keyPkt(0))
	d.Push(deltaPkt(1))

	// seq 2 lost forever; a later key frame at seq 5 should unblock output.
	frames := d.Push(keyPkt(5))
	require.Len(t, frames, 1)
	require.True(t, frames[0].KeyFrame)
	require.Equal(t, uint16(5), frames[0].Header.SequenceNumber)
}

func TestDecoderRequestsKeyFrameAfterProlongedLoss(t *testing.T) {
	var requested []uint32
	d := NewDecoder(7, func(ssrc uint32) { requested = append(requested, ssrc) })

	d.Push(keyPkt(0))
	for i := 0; i < keyFrameRequestThreshold; i++ {
		d.Push(deltaPkt(uint16(100 + i))) // never contiguous, never a key frame
	}

	require.Len(t, requested, 1)
	require.Equal(t, uint32(7), requested[0])
}

func TestResetForcesReprime(t *testing.T) {
	d := NewDecoder(1, nil)
	d.Push(keyPkt(0))
	d.Reset()

	frames := d.Push(deltaPkt(1))
	require.Empty(t, frames)

	frames = d.Push(keyPkt(2))
	require.Len(t, frames, 1)
}

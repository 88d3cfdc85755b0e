package neteq

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNetEqPrimesThenPlaysInOrder(t *testing.T) {
	n := New()
	base := time.Now()

	for i := uint16(0); i < 4; i++ {
		n.Push(JitterPacket{
			SenderID:    1,
			Sequence:    i,
			TimestampMs: uint64(i) * frameDurationMs,
			OpusData:    []byte{byte(i)},
			ArrivalTime: base.Add(time.Duration(i) * frameDurationMs * time.Millisecond),
		})
	}

	results := n.Tick(base.Add(100 * time.Millisecond))
	require.NotEmpty(t, results)
	for _, r := range results {
		require.Equal(t, uint16(1), r.SenderID)
	}
}

func TestNetEqConcealsMissingFrame(t *testing.T) {
	n := New()
	base := time.Now()

	// Push enough packets to prime, skipping sequence 1.
	for _, seq := range []uint16{0, 2, 3, 4} {
		n.Push(JitterPacket{
			SenderID:    5,
			Sequence:    seq,
			TimestampMs: uint64(seq) * frameDurationMs,
			OpusData:    []byte{byte(seq)},
			ArrivalTime: base,
		})
	}

	var sawMissing bool
	for i := 0; i < 4; i++ {
		for _, r := range n.Tick(base) {
			if r.Missing {
				sawMissing = true
			}
		}
	}
	require.True(t, sawMissing)
}

func TestNetEqStaleSenderPruned(t *testing.T) {
	n := New()
	base := time.Now()
	n.Push(JitterPacket{SenderID: 9, Sequence: 0, ArrivalTime: base, OpusData: []byte{1}})
	require.Equal(t, 1, len(n.senders))

	n.Tick(base.Add(5 * time.Second))
	require.Equal(t, 0, len(n.senders))
}

func TestConcealerFadesToSilenceAfterRepeatedLoss(t *testing.T) {
	c := newConcealer()
	c.observe([]int16{100, 200, 300, 400, 500, 600})

	var last []int16
	for i := 0; i < plcMaxConsecutive+2; i++ {
		last = c.conceal(160)
	}
	for _, v := range last {
		require.Equal(t, int16(0), v)
	}
}

func TestDecideChoosesExpandOnMissingFrame(t *testing.T) {
	require.Equal(t, DecisionExpand, decide(5, 3, true))
}

func TestDecideChoosesAccelerateWhenOverbuffered(t *testing.T) {
	require.Equal(t, DecisionAccelerate, decide(10, 3, false))
}

func TestDecideChoosesPreemptiveExpandWhenUnderbuffered(t *testing.T) {
	require.Equal(t, DecisionPreemptiveExpand, decide(1, 3, false))
}

package neteq

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHistogramResetSumIsOneQ30(t *testing.T) {
	h := newHistogram(8, 0.5, 0, false)
	h.reset()
	var sum int64
	for _, b := range h.buckets {
		sum += int64(b)
	}
	const expected = int64(1) << 30
	diff := expected - sum
	if diff < 0 {
		diff = -diff
	}
	require.LessOrEqual(t, diff, expected/100)
}

func TestHistogramAddAndQuantileBasic(t *testing.T) {
	h := newHistogram(4, 0.5, 0, false)
	h.reset()
	for i := 0; i < 10; i++ {
		h.add(0)
	}
	require.LessOrEqual(t, h.quantile(0.5), 1)
}

func TestHistogramNumBuckets(t *testing.T) {
	h := newHistogram(7, 0.1, 0, false)
	require.Equal(t, 7, h.numBuckets())
}

package neteq

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStatisticsCalculator(t *testing.T) {
	calc := NewStatisticsCalculator()

	calc.UpdateBufferSize(100, 120)
	require.EqualValues(t, 100, calc.NetworkStatistics().CurrentBufferSizeMs)
	require.EqualValues(t, 120, calc.NetworkStatistics().PreferredBufferSizeMs)

	calc.PacketArrived(50)
	require.EqualValues(t, 1, calc.LifetimeStatistics().JitterBufferPacketsReceived)
	require.EqualValues(t, 50, calc.NetworkStatistics().MeanWaitingTimeMs)

	calc.ConcealmentEvent(160, false)
	require.EqualValues(t, 1, calc.LifetimeStatistics().ConcealmentEvents)
	require.EqualValues(t, 160, calc.LifetimeStatistics().ConcealedSamples)

	calc.TimeStretchOperation(OpAccelerate, 80)
	require.EqualValues(t, 80, calc.LifetimeStatistics().RemovedSamplesForAcceleration)

	calc.BufferFlush()
	require.EqualValues(t, 1, calc.LifetimeStatistics().BufferFlushes)
}

func TestStatisticsWaitingTimeStatistics(t *testing.T) {
	calc := NewStatisticsCalculator()

	calc.PacketArrived(10)
	calc.PacketArrived(20)
	calc.PacketArrived(30)
	calc.PacketArrived(15)
	calc.PacketArrived(25)

	stats := calc.NetworkStatistics()
	require.EqualValues(t, 10, stats.MinWaitingTimeMs)
	require.EqualValues(t, 30, stats.MaxWaitingTimeMs)
	require.EqualValues(t, 20, stats.MeanWaitingTimeMs)
	require.EqualValues(t, 20, stats.MedianWaitingTimeMs)
}

package session

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	fail bool
	sent [][]byte
}

func (f *fakeSender) SendDatagram(b []byte) error {
	if f.fail {
		return errors.New("boom")
	}
	f.sent = append(f.sent, b)
	return nil
}

func TestSessionSendDatagramTripsCircuitBreaker(t *testing.T) {
	sender := &fakeSender{fail: true}
	s, _ := New(context.Background(), Identity{PeerID: 1}, sender, Config{})

	var lastErr error
	for i := 0; i < int(circuitBreakerThreshold)+5; i++ {
		lastErr = s.SendDatagram([]byte("x"))
	}
	require.Error(t, lastErr)
	require.True(t, s.HealthState().ShouldSkip())
}

func TestSessionEnqueueControlNeverBlocks(t *testing.T) {
	sender := &fakeSender{}
	s, _ := New(context.Background(), Identity{PeerID: 2}, sender, Config{OutboxCapacity: 2})

	require.NoError(t, s.EnqueueControl([]byte("a")))
	require.NoError(t, s.EnqueueControl([]byte("b")))
	require.ErrorIs(t, s.EnqueueControl([]byte("c")), ErrSendTimeout)
}

func TestSessionCloseIsIdempotent(t *testing.T) {
	sender := &fakeSender{}
	s, _ := New(context.Background(), Identity{PeerID: 3}, sender, Config{})
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	require.True(t, s.IsClosed())
}

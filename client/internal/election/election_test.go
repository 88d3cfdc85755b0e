package election

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeProber returns a fixed RTT per address, optionally failing for a set
// of addresses entirely.
type fakeProber struct {
	mu      sync.Mutex
	rtt     map[string]time.Duration
	failing map[string]bool
	calls   int
}

func (f *fakeProber) Probe(_ context.Context, addr string) (time.Duration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failing[addr] {
		return 0, errors.New("unreachable")
	}
	return f.rtt[addr], nil
}

func TestElectionPicksLowestRTTCandidate(t *testing.T) {
	prober := &fakeProber{rtt: map[string]time.Duration{
		"near": 10 * time.Millisecond,
		"far":  200 * time.Millisecond,
	}}

	var mu sync.Mutex
	var elected string
	ctrl := New(Config{
		Candidates: []string{"near", "far"},
		Prober:     prober,
		OnElected: func(addr string) {
			mu.Lock()
			defer mu.Unlock()
			elected = addr
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ctrl.Start(ctx)

	require.Eventually(t, func() bool {
		return ctrl.GetConnectionState() == StateConnected
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, "near", elected)
	require.Equal(t, "near", ctrl.ElectedServer())
}

func TestElectionFailsWhenNoCandidateReachable(t *testing.T) {
	prober := &fakeProber{failing: map[string]bool{"a": true, "b": true}}

	ctrl := New(Config{
		Candidates: []string{"a", "b"},
		Prober:     prober,
	})
	ctrl.mu.Lock()
	ctrl.electionDeadline = time.Now().Add(50 * time.Millisecond)
	ctrl.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ctrl.Start(ctx)

	require.Eventually(t, func() bool {
		return ctrl.GetConnectionState() == StateFailed
	}, 2*time.Second, 10*time.Millisecond)
}

func TestMediaFlagsDelegation(t *testing.T) {
	ctrl := New(Config{Candidates: nil, Prober: &fakeProber{}})
	ctrl.SetAudioEnabled(true)
	ctrl.SetVideoEnabled(false)
	ctrl.SetScreenEnabled(true)
	ctrl.SetSpeaking(true)

	audio, video, screen, speaking := ctrl.MediaFlags()
	require.True(t, audio)
	require.False(t, video)
	require.True(t, screen)
	require.True(t, speaking)
}

func TestReelectResetsCandidateState(t *testing.T) {
	prober := &fakeProber{rtt: map[string]time.Duration{"x": 5 * time.Millisecond}}
	ctrl := New(Config{Candidates: []string{"x"}, Prober: prober})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ctrl.Start(ctx)

	require.Eventually(t, func() bool {
		return ctrl.GetConnectionState() == StateConnected
	}, 2*time.Second, 10*time.Millisecond)

	ctrl.Reelect()
	require.Equal(t, StateTesting, ctrl.GetConnectionState())
	require.Empty(t, ctrl.ElectedServer())
}

func TestDisconnectStopsTimersAndMarksFailed(t *testing.T) {
	prober := &fakeProber{rtt: map[string]time.Duration{"x": 5 * time.Millisecond}}
	ctrl := New(Config{Candidates: []string{"x"}, Prober: prober})

	ctx := context.Background()
	ctrl.Start(ctx)

	require.Eventually(t, func() bool {
		return ctrl.GetConnectionState() == StateConnected
	}, 2*time.Second, 10*time.Millisecond)

	ctrl.Disconnect()
	require.Equal(t, StateFailed, ctrl.GetConnectionState())

	callsAtDisconnect := prober.calls
	time.Sleep(300 * time.Millisecond)
	prober.mu.Lock()
	defer prober.mu.Unlock()
	require.Equal(t, callsAtDisconnect, prober.calls)
}

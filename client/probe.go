package client

import (
	"context"
	"crypto/tls"
	"net"
	"time"
)

// tlsProbeTimeout bounds a single candidate RTT probe so one unreachable
// server never stalls an election round past electionTimeout.
const tlsProbeTimeout = 1500 * time.Millisecond

// TLSHandshakeProber measures candidate RTT as the time to complete a TCP
// connect + TLS handshake against the candidate's relay address, then
// closes the connection. This is cheaper and more protocol-neutral than
// joining a room just to measure reachability, and works identically
// whether the candidate ultimately serves WebSocket or WebTransport media:
// both terminate TLS on the same address the election probes.
type TLSHandshakeProber struct {
	dialer *net.Dialer
}

// NewTLSHandshakeProber builds a Prober suitable for election.Controller.
func NewTLSHandshakeProber() *TLSHandshakeProber {
	return &TLSHandshakeProber{dialer: &net.Dialer{Timeout: tlsProbeTimeout}}
}

// Probe satisfies election.Prober.
func (p *TLSHandshakeProber) Probe(ctx context.Context, addr string) (time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, tlsProbeTimeout)
	defer cancel()

	start := time.Now()
	conn, err := tls.DialWithDialer(p.dialer, "tcp", addr, &tls.Config{InsecureSkipVerify: true}) //nolint:gosec — self-signed relay cert
	if err != nil {
		return 0, err
	}
	rtt := time.Since(start)
	_ = conn.Close()

	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	default:
	}
	return rtt, nil
}

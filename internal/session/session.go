// Package session implements the per-peer actor described in spec.md §4.1:
// one goroutine-owned state machine per connected participant, talking to
// the room registry through channels rather than shared memory.
package session

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Sentinel errors for the session lifecycle, matching spec.md §7's error
// taxonomy so callers can branch with errors.Is instead of string matching.
var (
	ErrAuthFailed   = errors.New("session: authentication failed")
	ErrRoomEnded    = errors.New("session: room ended")
	ErrDisplaced    = errors.New("session: displaced by a newer connection for the same identity")
	ErrSendTimeout  = errors.New("session: outbound queue full")
	ErrClosed       = errors.New("session: closed")
)

// DatagramSender is the minimal capability a transport must expose for a
// Session to push unreliable media: one send, independent of transport kind
// (WebTransport datagram vs. a WebSocket binary frame).
type DatagramSender interface {
	SendDatagram([]byte) error
}

// Identity is the stable, cross-transport identity of one participant,
// mirroring spec.md's PeerIdentity entity.
type Identity struct {
	PeerID   uint16
	RoomID   string
	Email    string // JWT-derived or legacy-negotiated identity string
}

// outbound is one queued reliable-channel message awaiting delivery.
type outbound struct {
	data []byte
}

// Session is one connected participant's actor. Reliable messages reach it
// through the outbox channel; the state shared across goroutines is the
// health circuit breaker and the closed flag (atomics) and the control
// writer (guarded by ctrlMu).
type Session struct {
	Identity Identity

	sender DatagramSender
	health Health

	outbox chan outbound
	cancel context.CancelFunc

	ctrlMu sync.Mutex
	ctrl   io.Writer // reliable control stream; nil until handshake completes
	closer io.Closer

	closedOnce sync.Once
	closed     atomic.Bool

	log *zap.SugaredLogger
}

// Config controls the outbound queue depth and logging for a Session,
// mirroring spec.md §5's backpressure parameter.
type Config struct {
	OutboxCapacity int
	Logger         *zap.SugaredLogger
}

// New creates a Session bound to one transport-specific DatagramSender.
func New(ctx context.Context, id Identity, sender DatagramSender, cfg Config) (*Session, context.Context) {
	if cfg.OutboxCapacity <= 0 {
		cfg.OutboxCapacity = 256
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	ctx, cancel := context.WithCancel(ctx)
	return &Session{
		Identity: id,
		sender:   sender,
		outbox:   make(chan outbound, cfg.OutboxCapacity),
		cancel:   cancel,
		log:      logger.Named("session").With("peer_id", id.PeerID, "room_id", id.RoomID),
	}, ctx
}

// BindControl attaches the reliable control-stream writer once the
// handshake completes. Safe to call once; a nil writer leaves Send a no-op.
func (s *Session) BindControl(w io.Writer, closer io.Closer) {
	s.ctrlMu.Lock()
	defer s.ctrlMu.Unlock()
	s.ctrl = w
	s.closer = closer
}

// SendControl writes a pre-encoded reliable message to the control stream,
// serialising concurrent writers (multiple room fan-outs may target the
// same session at once).
func (s *Session) SendControl(data []byte) error {
	s.ctrlMu.Lock()
	defer s.ctrlMu.Unlock()
	if s.ctrl == nil {
		return nil
	}
	_, err := s.ctrl.Write(data)
	if err != nil {
		s.log.Debugw("control write failed", "err", err)
	}
	return err
}

// SendDatagram forwards one unreliable media datagram and records the
// outcome in the circuit breaker, matching the teacher's per-client health
// tracking in room fan-out. The skip decision is the caller's: room fan-out
// consults HealthState().ShouldSkip first, so a probe it lets through
// reaches the transport.
func (s *Session) SendDatagram(data []byte) error {
	err := s.sender.SendDatagram(data)
	if err != nil {
		s.health.RecordFailure()
		return err
	}
	s.health.RecordSuccess()
	return nil
}

// Health exposes the circuit breaker so the room fan-out can consult it
// without indirecting through SendDatagram on the hot path.
func (s *Session) HealthState() *Health { return &s.health }

// EnqueueControl pushes a reliable-channel message onto the outbox without
// blocking the caller (e.g. a room fan-out goroutine); returns
// ErrSendTimeout if the queue is full, matching spec.md §5's backpressure
// contract of never blocking the room on one slow peer.
func (s *Session) EnqueueControl(data []byte) error {
	select {
	case s.outbox <- outbound{data: data}:
		return nil
	default:
		return ErrSendTimeout
	}
}

// Pump drains the outbox onto the control stream until ctx is done or the
// session is closed. Runs in its own goroutine, owned by the caller that
// accepted the connection.
func (s *Session) Pump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-s.outbox:
			if !ok {
				return
			}
			_ = s.SendControl(m.data)
		}
	}
}

// Close tears the session down exactly once, closing the underlying
// transport and canceling the session's context.
func (s *Session) Close() error {
	var err error
	s.closedOnce.Do(func() {
		s.closed.Store(true)
		s.cancel()
		close(s.outbox)
		s.ctrlMu.Lock()
		if s.closer != nil {
			err = s.closer.Close()
		}
		s.ctrlMu.Unlock()
	})
	return err
}

func (s *Session) IsClosed() bool { return s.closed.Load() }

// Heartbeat returns a ticker-driven channel the caller should select on to
// detect liveness timeouts; callers own the ticker's lifetime.
func Heartbeat(interval time.Duration) *time.Ticker {
	return time.NewTicker(interval)
}

// Package server wires the router's transports, session actors, room
// registry, auth, and moderation cache together — the connection-accept
// glue the teacher keeps directly in server.go/client.go rather than
// behind an extra layer of interfaces. cmd/router stays a thin flag/
// cobra shell around this package.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"hash/fnv"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/quic-go/webtransport-go"
	"go.uber.org/zap"

	"github.com/mediaplane/router/internal/appconfig"
	"github.com/mediaplane/router/internal/auth"
	"github.com/mediaplane/router/internal/diagnostics"
	"github.com/mediaplane/router/internal/protocol"
	"github.com/mediaplane/router/internal/room"
	"github.com/mediaplane/router/internal/session"
	"github.com/mediaplane/router/internal/store"
	wtbridge "github.com/mediaplane/router/internal/transport/webtransport"
	wsconn "github.com/mediaplane/router/internal/transport/websocket"
)

// Server holds the shared state every accepted connection needs.
type Server struct {
	cfg      *appconfig.Config
	auth     *auth.Validator
	registry *room.Registry
	store    *store.Store
	diag     *diagnostics.Sink
	log      *zap.SugaredLogger

	identitySpoofDropped atomic.Uint64
}

// IdentitySpoofDropped reports how many media packets have been dropped for
// declaring an email other than the sending session's authenticated
// identity (spec's "identity_spoof_dropped" counter).
func (s *Server) IdentitySpoofDropped() uint64 {
	return s.identitySpoofDropped.Load()
}

// New constructs a Server. diag may be nil; the Server keeps it, but no
// code in this package publishes diagnostics to it.
func New(cfg *appconfig.Config, validator *auth.Validator, registry *room.Registry, st *store.Store, diag *diagnostics.Sink, logger *zap.SugaredLogger) *Server {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Server{cfg: cfg, auth: validator, registry: registry, store: st, diag: diag, log: logger.Named("server")}
}

// peerIDFor derives a stable uint16 room-member key from a peer's email so
// that a duplicate join under the same identity always lands on the same
// map slot and naturally evicts the prior session via room.Room.Join's
// replace-on-collision behavior (spec.md's "at most one Session per
// (RoomId, PeerIdentity)" invariant), without needing a shared counter.
func peerIDFor(email string) uint16 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(email))
	id := uint16(h.Sum32())
	if id == 0 {
		id = 1
	}
	return id
}

// admit validates roomToken, joins the room, and returns the new session
// plus its room and peer id. The caller binds the transport-specific
// sender and control writer before starting the session's read/write
// pumps.
func (s *Server) admit(ctx context.Context, roomToken string, sender session.DatagramSender) (*session.Session, *room.Room, uint16, error) {
	claims, err := s.auth.ValidateToken(roomToken)
	if err != nil {
		return nil, nil, 0, err
	}

	peerID := peerIDFor(claims.Subject)
	identity := session.Identity{PeerID: peerID, RoomID: claims.Room, Email: claims.Subject}
	sess, _ := session.New(ctx, identity, sender, session.Config{
		OutboxCapacity: s.cfg.OutboxCapacity,
		Logger:         s.log,
	})

	r := s.registry.GetOrCreate(claims.Room)
	if replaced := r.Join(peerID, sess); replaced != nil {
		replaced.Session.EnqueueControl((&protocol.PacketWrapper{
			PacketType: protocol.PacketConnection,
			RoomID:     claims.Room,
			Data: (&protocol.ConnectionPacket{
				ConnectionType: protocol.ConnectionLeave,
				Email:          claims.Subject,
			}).Marshal(),
		}).Marshal())
		_ = replaced.Session.Close()
	}

	if s.store != nil {
		hostEmail := ""
		if claims.IsHost {
			hostEmail = claims.Subject
		}
		if err := s.store.UpsertRoom(claims.Room, hostEmail); err != nil {
			s.log.Warnw("room snapshot upsert failed", "room", claims.Room, "err", err)
		}
	}

	r.BroadcastControl((&protocol.PacketWrapper{
		PacketType: protocol.PacketConnection,
		RoomID:     claims.Room,
		Data: (&protocol.ConnectionPacket{
			ConnectionType: protocol.ConnectionJoin,
			Email:          claims.Subject,
		}).Marshal(),
	}).Marshal(), peerID)

	return sess, r, peerID, nil
}

// dispatch routes one decoded PacketWrapper to the room fan-out, matching
// spec.md §4.1/§4.2's split between media (unreliable, fanned out) and
// control (reliable, targeted or room-wide).
func (s *Server) dispatch(r *room.Room, senderID uint16, w *protocol.PacketWrapper) {
	switch w.PacketType {
	case protocol.PacketMedia:
		mp, err := protocol.UnmarshalMediaPacket(w.Data)
		if err != nil {
			return
		}
		if sess, ok := r.SessionFor(senderID); ok && mp.Email != sess.Identity.Email {
			s.identitySpoofDropped.Add(1)
			s.log.Warnw("dropped media packet with spoofed identity",
				"peer_id", senderID, "declared_email", mp.Email, "authenticated_email", sess.Identity.Email)
			return
		}
		r.Broadcast(senderID, mp.Sequence, w.Data)

	case protocol.PacketConnection:
		cp, err := protocol.UnmarshalConnectionPacket(w.Data)
		if err != nil {
			return
		}
		switch cp.ConnectionType {
		case protocol.ConnectionLeave:
			r.Leave(senderID)
		case protocol.ConnectionNack:
			for _, data := range r.ServeNACK(senderID, []uint16{cp.NackSequence}) {
				_ = r.SendControlTo(senderID, data)
			}
		case protocol.ConnectionHeartbeat:
			// Heartbeats are accepted and otherwise ignored: they are not
			// echoed, and neither transport's read loop has an idle timeout,
			// so a silent peer stays admitted until its transport closes.
		}

	case protocol.PacketRsa, protocol.PacketAes:
		// End-to-end encrypted key exchange and media: the router cannot
		// and does not decrypt these, it only relays the opaque envelope
		// to every other member of the room (client/internal/cryptokeys
		// owns the crypto).
		r.BroadcastControl(w.Marshal(), senderID)
	}
}

// controlWriter adapts a transport's non-blocking Enqueue to io.Writer for
// session.Session.BindControl.
type controlWriter struct {
	enqueue func([]byte) error
}

func (c controlWriter) Write(p []byte) (int, error) {
	if err := c.enqueue(p); err != nil {
		return 0, err
	}
	return len(p), nil
}

type nopCloser struct{ close func() error }

func (n nopCloser) Close() error { return n.close() }

// RunWebSocket serves the WebSocket fallback transport on addr until ctx is
// canceled.
func (s *Server) RunWebSocket(ctx context.Context, addr string, tlsConfig *tls.Config) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("token")
		conn, err := wsconn.Upgrade(w, r, s.log)
		if err != nil {
			s.log.Debugw("websocket upgrade failed", "err", err)
			return
		}
		sess, rm, peerID, err := s.admit(r.Context(), token, conn)
		if err != nil {
			s.log.Infow("admission rejected", "err", err)
			_ = conn.Close()
			return
		}
		sess.BindControl(controlWriter{enqueue: func(b []byte) error {
			if !conn.Enqueue(b) {
				return session.ErrSendTimeout
			}
			return nil
		}}, nopCloser{close: conn.Close})

		connCtx, cancel := context.WithCancel(r.Context())
		go sess.Pump(connCtx)
		go func() {
			defer cancel()
			_ = conn.WriteLoop(connCtx)
		}()
		err = conn.ReadLoop(connCtx, func(w *protocol.PacketWrapper) {
			s.dispatch(rm, peerID, w)
		})
		cancel()
		rm.Leave(peerID)
		_ = sess.Close()
		if err != nil && !errors.Is(err, context.Canceled) {
			s.log.Debugw("websocket session ended", "peer_id", peerID, "err", err)
		}
	})

	httpSrv := &http.Server{Addr: addr, Handler: mux, TLSConfig: tlsConfig, ReadHeaderTimeout: 10 * time.Second}
	return runHTTPServer(ctx, httpSrv, s.log)
}

// RunWebTransport serves the WebTransport/QUIC transport on addr until ctx
// is canceled.
func (s *Server) RunWebTransport(ctx context.Context, addr string, tlsConfig *tls.Config) error {
	listener := wtbridge.NewListener(addr, tlsConfig, s.log, func(ctx context.Context, sess *webtransport.Session, remoteAddr, token string) {
		_ = remoteAddr

		bridge := wtbridge.New(ctx, sess, s.log)
		sessActor, rm, peerID, err := s.admit(ctx, token, bridge)
		if err != nil {
			s.log.Infow("admission rejected", "err", err)
			_ = bridge.Close()
			return
		}
		sessActor.BindControl(controlWriter{enqueue: bridge.EnqueueReliable}, nopCloser{close: bridge.Close})

		go sessActor.Pump(ctx)
		go func() {
			for inbound := range bridge.Inbound {
				s.dispatch(rm, peerID, inbound.Wrapper)
			}
		}()

		bridge.Wait()
		rm.Leave(peerID)
		_ = sessActor.Close()
	})
	return listener.Run(ctx)
}

func runHTTPServer(ctx context.Context, srv *http.Server, log *zap.SugaredLogger) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if srv.TLSConfig != nil {
			err = srv.ListenAndServeTLS("", "")
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutCtx); err != nil {
			log.Warnw("shutdown", "err", err)
		}
		<-errCh
		return nil
	case err := <-errCh:
		return err
	}
}

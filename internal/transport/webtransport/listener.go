package webtransport

import (
	"context"
	"crypto/tls"
	"net/http"

	"github.com/quic-go/webtransport-go"
	"go.uber.org/zap"
)

// Listener accepts WebTransport sessions over HTTP/3 and hands each one to
// an AcceptFunc for session-actor setup, mirroring the teacher's
// handleClient entry point but decoupled from the room package so the
// transport has no compile-time dependency on room/session internals.
type Listener struct {
	wt  webtransport.Server
	log *zap.SugaredLogger
}

// AcceptFunc is invoked once per accepted session, in its own goroutine.
// roomToken is the "token" query parameter from the upgrade request (the
// same room-admission JWT a WebSocket client passes), since a WebTransport
// session exposes no further application data after the HTTP/3 upgrade.
type AcceptFunc func(ctx context.Context, sess *webtransport.Session, remoteAddr, roomToken string)

// NewListener configures a WebTransport server bound to addr, serving the
// single path "/wt" (matching spec.md §6's transport URL shape
// "https://host:port/wt?...").
func NewListener(addr string, tlsConfig *tls.Config, logger *zap.SugaredLogger, accept AcceptFunc) *Listener {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	mux := http.NewServeMux()
	l := &Listener{
		wt: webtransport.Server{
			H3: http3ServerFor(addr, tlsConfig, mux),
		},
		log: logger.Named("webtransport-listener"),
	}
	mux.HandleFunc("/wt", func(w http.ResponseWriter, r *http.Request) {
		sess, err := l.wt.Upgrade(w, r)
		if err != nil {
			l.log.Debugw("webtransport upgrade failed", "err", err)
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		go accept(r.Context(), sess, r.RemoteAddr, r.URL.Query().Get("token"))
	})
	return l
}

// Run blocks serving WebTransport sessions until ctx is canceled.
func (l *Listener) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- l.wt.ListenAndServe() }()
	select {
	case <-ctx.Done():
		_ = l.wt.Close()
		return nil
	case err := <-errCh:
		return err
	}
}

// Package websocket terminates the WebSocket fallback transport for
// clients that cannot negotiate WebTransport/QUIC (spec.md §4.3): binary
// frames carry the same PacketWrapper envelope as WebTransport, just
// without the reliable/unreliable stream split — every frame is delivered
// in order, so NACK requests are never needed on this path.
package websocket

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/mediaplane/router/internal/protocol"
)

const (
	writeTimeout   = 5 * time.Second
	readLimitBytes = 1 << 20
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

// Conn wraps one upgraded WebSocket connection with the send/receive loops
// a session actor needs, generalized from the teacher's serveConn.
type Conn struct {
	ws  *websocket.Conn
	log *zap.SugaredLogger

	outbound chan []byte
}

// Upgrade upgrades an HTTP request to a WebSocket connection.
func Upgrade(w http.ResponseWriter, r *http.Request, logger *zap.SugaredLogger) (*Conn, error) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	ws.SetReadLimit(readLimitBytes)
	return &Conn{ws: ws, log: logger.Named("websocket"), outbound: make(chan []byte, 64)}, nil
}

// ReadLoop reads binary frames, decodes each as a PacketWrapper, and invokes
// onPacket for each one, until the connection errors or ctx is canceled.
func (c *Conn) ReadLoop(ctx context.Context, onPacket func(*protocol.PacketWrapper)) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return err
		}
		w, err := protocol.UnmarshalPacketWrapper(data)
		if err != nil {
			c.log.Debugw("decode error", "err", err)
			continue
		}
		onPacket(w)
	}
}

// WriteLoop drains the outbound queue onto the wire as binary frames, until
// ctx is canceled or the connection errors.
func (c *Conn) WriteLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case data, ok := <-c.outbound:
			if !ok {
				return nil
			}
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.ws.WriteMessage(websocket.BinaryMessage, data); err != nil {
				return err
			}
		}
	}
}

// Enqueue queues one frame for delivery without blocking; returns false if
// the outbound queue is full.
func (c *Conn) Enqueue(data []byte) bool {
	select {
	case c.outbound <- data:
		return true
	default:
		return false
	}
}

// SendDatagram satisfies session.DatagramSender by sending directly —
// WebSocket has no separate unreliable channel, so "datagrams" are just
// best-effort binary frames subject to the same in-order delivery as
// everything else on this transport.
func (c *Conn) SendDatagram(data []byte) error {
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteMessage(websocket.BinaryMessage, data)
}

func (c *Conn) Close() error {
	close(c.outbound)
	return c.ws.Close()
}

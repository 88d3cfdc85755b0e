// Package webtransport terminates WebTransport/QUIC sessions: one reliable
// unidirectional-stream reader, one unreliable datagram reader, and one
// writer, bridged to a Session actor via plain Go channels — the same
// three-task shape the reference implementation's actix bridge uses, ported
// from tokio tasks to goroutines.
package webtransport

import (
	"context"
	"io"
	"sync"

	"github.com/quic-go/webtransport-go"
	"go.uber.org/zap"

	"github.com/mediaplane/router/internal/protocol"
	"github.com/mediaplane/router/internal/session"
)

// Inbound is one decoded packet arriving from the remote peer, tagged by
// which channel it arrived on (reliable stream vs. unreliable datagram).
type Inbound struct {
	Wrapper   *protocol.PacketWrapper
	Reliable  bool
}

// Bridge owns the three I/O goroutines for one WebTransport session and
// the channels that connect them to the session actor.
type Bridge struct {
	sess *webtransport.Session

	Inbound chan Inbound
	outbound chan []byte // reliable-channel writes; datagrams go straight through Session.SendDatagram

	wg  sync.WaitGroup
	log *zap.SugaredLogger
}

// New starts the unistream reader, datagram reader, and writer goroutines
// for sess, wiring decoded packets onto the returned Bridge's Inbound
// channel until ctx is canceled or the session ends.
func New(ctx context.Context, sess *webtransport.Session, logger *zap.SugaredLogger) *Bridge {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	b := &Bridge{
		sess:     sess,
		Inbound:  make(chan Inbound, 64),
		outbound: make(chan []byte, 64),
		log:      logger.Named("webtransport"),
	}

	b.wg.Add(3)
	go b.readUnistreams(ctx)
	go b.readDatagrams(ctx)
	go b.writeLoop(ctx)
	return b
}

// readUnistreams accepts reliable unidirectional streams one at a time and
// decodes a single PacketWrapper from each, mirroring the bridge's
// spawn_unistream_reader task.
func (b *Bridge) readUnistreams(ctx context.Context) {
	defer b.wg.Done()
	for {
		str, err := b.sess.AcceptUniStream(ctx)
		if err != nil {
			b.log.Debugw("unistream accept ended", "err", err)
			return
		}
		go func() {
			data, err := io.ReadAll(str)
			if err != nil {
				b.log.Debugw("unistream read error", "err", err)
				return
			}
			w, err := protocol.UnmarshalPacketWrapper(data)
			if err != nil {
				b.log.Debugw("unistream decode error", "err", err)
				return
			}
			select {
			case b.Inbound <- Inbound{Wrapper: w, Reliable: true}:
			case <-ctx.Done():
			}
		}()
	}
}

// readDatagrams reads unreliable datagrams in a tight loop, mirroring the
// bridge's spawn_datagram_reader task.
func (b *Bridge) readDatagrams(ctx context.Context) {
	defer b.wg.Done()
	for {
		buf, err := b.sess.ReceiveDatagram(ctx)
		if err != nil {
			b.log.Debugw("datagram read ended", "err", err)
			return
		}
		w, err := protocol.UnmarshalPacketWrapper(buf)
		if err != nil {
			continue
		}
		select {
		case b.Inbound <- Inbound{Wrapper: w, Reliable: false}:
		case <-ctx.Done():
			return
		}
	}
}

// writeLoop drains the outbound channel onto a fresh reliable unistream per
// message, mirroring the bridge's spawn_writer task.
func (b *Bridge) writeLoop(ctx context.Context) {
	defer b.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-b.outbound:
			if !ok {
				return
			}
			str, err := b.sess.OpenUniStream()
			if err != nil {
				b.log.Debugw("open unistream failed", "err", err)
				continue
			}
			if _, err := str.Write(data); err != nil {
				b.log.Debugw("unistream write failed", "err", err)
			}
			_ = str.Close()
		}
	}
}

// EnqueueReliable queues a pre-encoded reliable message for delivery.
func (b *Bridge) EnqueueReliable(data []byte) error {
	select {
	case b.outbound <- data:
		return nil
	default:
		return session.ErrSendTimeout
	}
}

// SendDatagram sends one unreliable datagram directly (bypassing outbound
// queueing, matching the "unreliable media never blocks" contract).
func (b *Bridge) SendDatagram(data []byte) error {
	return b.sess.SendDatagram(data)
}

// Wait blocks until all three I/O goroutines have exited.
func (b *Bridge) Wait() {
	b.wg.Wait()
	close(b.Inbound)
}

// Close ends the WebTransport session with no error code or reason.
func (b *Bridge) Close() error {
	return b.sess.CloseWithError(0, "")
}

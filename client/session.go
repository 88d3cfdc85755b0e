package client

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mediaplane/client/internal/config"
	"github.com/mediaplane/client/internal/cryptokeys"
	"github.com/mediaplane/client/internal/election"
	"github.com/mediaplane/client/internal/producer"
	"github.com/mediaplane/client/internal/video"
	"github.com/mediaplane/client/internal/wire"
)

// engineEncoderAdapter lets internal/producer's bitrate-ladder logic drive
// AudioEngine's own Opus encoder rather than owning a second one: the
// engine still does the actual capture-time encoding (AEC/AGC/VAD run
// upstream of it), while AudioProducer decides *what* bitrate and loss
// hint to apply from observed network conditions.
type engineEncoderAdapter struct{ ae *AudioEngine }

func (e engineEncoderAdapter) Encode(pcm []int16, data []byte) (int, error) {
	out, err := e.ae.EncodeFrame(pcm)
	if err != nil {
		return 0, err
	}
	return copy(data, out), nil
}

func (e engineEncoderAdapter) SetBitrate(bitrate int) error {
	e.ae.SetBitrate(bitrate / 1000)
	return nil
}

func (e engineEncoderAdapter) SetPacketLossPerc(percent int) error {
	e.ae.SetPacketLoss(percent)
	return nil
}

// adaptInterval is how often the session re-measures link quality and
// steers the Opus encoder's target bitrate.
const adaptInterval = 5 * time.Second

// electWaitTimeout bounds how long Connect waits for election to settle
// before giving up.
const electWaitTimeout = 5 * time.Second

// Session owns one participant's media-plane connection: server election,
// the WebTransport media session, local audio capture/playback, optional
// end-to-end encryption, and the per-sender video decode pipeline. It
// replaces the Wails-bound App: nothing here is UI-bound, so the same type
// serves both the cobra CLI and any future UI frontend.
type Session struct {
	cfg   config.Config
	email string

	audio     *AudioEngine
	transport *Transport
	elect     *election.Controller
	identity  *cryptokeys.Identity
	prod      *producer.AudioProducer

	connected atomic.Bool

	idsMu      sync.Mutex
	idBySender map[string]uint16 // email -> local NetEq/audio sender ID

	videoMu      sync.Mutex
	videoDecoder map[string]*video.Decoder

	metricsMu     sync.Mutex
	cachedMetrics Metrics

	stopAdapt chan struct{}

	OnQuality  func(Metrics)
	OnElected  func(addr string)
	OnState    func(election.State)
	OnDisconnect func(reason string)
}

// NewSession builds a Session from persisted configuration.
func NewSession(cfg config.Config) (*Session, error) {
	identity, err := cryptokeys.New()
	if err != nil {
		return nil, fmt.Errorf("session: generate identity: %w", err)
	}

	s := &Session{
		cfg:          cfg,
		audio:        NewAudioEngine(),
		transport:    NewTransport(),
		identity:     identity,
		idBySender:   make(map[string]uint16),
		videoDecoder: make(map[string]*video.Decoder),
	}

	s.audio.SetAEC(cfg.AECEnabled)
	s.audio.SetAGC(cfg.AGCEnabled)
	s.audio.SetNoiseGate(cfg.NoiseEnabled)
	if cfg.NoiseLevel > 0 {
		s.audio.SetNoiseGateThreshold(cfg.NoiseLevel)
	}
	s.audio.SetVolume(cfg.Volume)
	if cfg.InputDeviceID >= 0 {
		s.audio.SetInputDevice(cfg.InputDeviceID)
	}
	if cfg.OutputDeviceID >= 0 {
		s.audio.SetOutputDevice(cfg.OutputDeviceID)
	}

	s.transport.SetOnMedia(s.handleMedia)
	s.transport.SetOnConnection(s.handleConnection)
	s.transport.SetOnDisconnected(s.handleDisconnected)
	if cfg.E2EEEnabled {
		s.transport.SetOnRsa(s.handleRsa)
		s.transport.SetOnAes(s.handleAes)
	}

	return s, nil
}

// senderID maps a peer's email to a stable per-session uint16, the key
// NetEq and AudioEngine's playback mixer use internally.
func (s *Session) senderID(email string) uint16 {
	s.idsMu.Lock()
	defer s.idsMu.Unlock()
	if id, ok := s.idBySender[email]; ok {
		return id
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(email))
	id := uint16(h.Sum32())
	s.idBySender[email] = id
	return id
}

// Connect elects the lowest-RTT candidate relay from cfg.Candidates, then
// joins roomID over WebTransport using roomToken (a meeting-control-issued
// JWT) as the admission credential.
func (s *Session) Connect(ctx context.Context, roomID, roomToken, email string) error {
	s.email = email
	s.prod = producer.NewAudioProducer(engineEncoderAdapter{ae: s.audio}, email)

	addrs := make([]string, len(s.cfg.Candidates))
	for i, c := range s.cfg.Candidates {
		addrs[i] = c.Addr
	}

	elected := make(chan string, 1)
	s.elect = election.New(election.Config{
		Candidates: addrs,
		Prober:     NewTLSHandshakeProber(),
		OnStateChange: func(st election.State) {
			if s.OnState != nil {
				s.OnState(st)
			}
		},
		OnElected: func(addr string) {
			if s.OnElected != nil {
				s.OnElected(addr)
			}
			select {
			case elected <- addr:
			default:
			}
		},
	})
	s.elect.Start(ctx)

	var addr string
	select {
	case addr = <-elected:
	case <-time.After(electWaitTimeout):
		return fmt.Errorf("session: no candidate relay answered within %s", electWaitTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := s.transport.Connect(ctx, addr, roomToken, roomID, email); err != nil {
		return fmt.Errorf("session: connect to %s: %w", addr, err)
	}

	if s.cfg.E2EEEnabled {
		der, err := s.identity.PublicKeyDER()
		if err != nil {
			return fmt.Errorf("session: marshal public key: %w", err)
		}
		if err := s.transport.SendRsa(&wire.RsaPacket{PublicKeyDER: der, Email: email}); err != nil {
			sugar.Warnf("[session] send rsa packet: %v", err)
		}
	}

	if err := s.audio.Start(); err != nil {
		s.transport.Disconnect()
		return fmt.Errorf("session: start audio: %w", err)
	}

	s.connected.Store(true)
	s.stopAdapt = make(chan struct{})
	go s.captureLoop(s.stopAdapt)
	go s.adaptLoop(s.stopAdapt)

	return nil
}

// Disconnect tears down the media session and stops local audio.
func (s *Session) Disconnect() {
	if !s.connected.CompareAndSwap(true, false) {
		return
	}
	if s.stopAdapt != nil {
		close(s.stopAdapt)
	}
	if s.elect != nil {
		s.elect.Reelect() // clears candidate state; the controller itself is discarded on next Connect
	}
	s.audio.Stop()
	s.transport.Disconnect()
}

// captureLoop forwards locally-encoded Opus frames from AudioEngine onto
// the transport as MediaPackets, sealing them with the local AES session
// key first when end-to-end encryption is enabled.
func (s *Session) captureLoop(done <-chan struct{}) {
	var seq uint16
	start := time.Now()
	ssrc := s.senderID(s.email)

	for {
		select {
		case <-done:
			return
		case opusData, ok := <-s.audio.CaptureOut:
			if !ok {
				return
			}
			seq++
			payload := opusData
			if s.cfg.E2EEEnabled {
				sealed, err := s.identity.Seal(uint32(ssrc), seq, opusData)
				if err != nil {
					sugar.Warnf("[session] seal audio frame: %v", err)
					continue
				}
				payload = sealed
			}
			pkt := &wire.MediaPacket{
				MediaType:   wire.MediaAudio,
				Data:        payload,
				FrameType:   wire.FrameDelta,
				Email:       s.email,
				TimestampMs: uint64(time.Since(start).Milliseconds()),
				Sequence:    seq,
				AudioLevel:  uint8(s.audio.InputLevel() * 255),
			}
			if err := s.transport.SendMedia(pkt); err != nil {
				sugar.Warnf("[session] send media: %v", err)
			}
		}
	}
}

// adaptLoop periodically reports link quality and steers the Opus encoder's
// bitrate and expected-loss hint from the transport's measured RTT/loss.
func (s *Session) adaptLoop(done <-chan struct{}) {
	ticker := time.NewTicker(adaptInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			m := s.transport.GetMetrics()
			capture, playback := s.audio.DroppedFrames()
			m.PlaybackDrops += playback + capture

			newKbps, err := s.prod.AdaptToConditions(m.PacketLoss, m.RTTMs)
			if err != nil {
				sugar.Warnf("[session] adapt bitrate: %v", err)
			}
			m.OpusTargetKbps = newKbps

			s.metricsMu.Lock()
			s.cachedMetrics = m
			s.metricsMu.Unlock()

			if s.OnQuality != nil {
				s.OnQuality(m)
			}
		}
	}
}

// handleMedia routes an inbound media packet to audio playback or the
// per-sender video decoder, unsealing it first when E2EE is active.
func (s *Session) handleMedia(tm TaggedMedia) {
	pkt := tm.Packet
	payload := pkt.Data
	id := s.senderID(tm.SenderEmail)

	if s.cfg.E2EEEnabled && s.identity.HasPeerKey(tm.SenderEmail) {
		plain, err := s.identity.Unseal(tm.SenderEmail, uint32(id), pkt.Sequence, pkt.Data)
		if err != nil {
			sugar.Warnf("[session] unseal frame from %s: %v", tm.SenderEmail, err)
			return
		}
		payload = plain
	}

	switch pkt.MediaType {
	case wire.MediaAudio:
		select {
		case s.audio.PlaybackIn <- TaggedAudio{SenderID: id, Seq: pkt.Sequence, OpusData: payload}:
		default:
			s.audio.AddPlaybackDrop()
		}
	case wire.MediaVideo, wire.MediaScreen:
		s.videoMu.Lock()
		dec, ok := s.videoDecoder[tm.SenderEmail]
		if !ok {
			email := tm.SenderEmail
			dec = video.NewDecoder(uint32(id), func(ssrc uint32) {
				_ = s.transport.SendMedia(&wire.MediaPacket{MediaType: wire.MediaVideo, Email: email})
			})
			s.videoDecoder[email] = dec
		}
		dec.Push(&wire.MediaPacket{
			MediaType:   pkt.MediaType,
			Data:        payload,
			FrameType:   pkt.FrameType,
			Email:       pkt.Email,
			TimestampMs: pkt.TimestampMs,
			Sequence:    pkt.Sequence,
			ScreenShare: pkt.ScreenShare,
		})
		s.videoMu.Unlock()
	}
}

// handleConnection handles out-of-band lifecycle signals (peer join/leave).
func (s *Session) handleConnection(cp *wire.ConnectionPacket) {
	if cp.ConnectionType == wire.ConnectionLeave {
		s.idsMu.Lock()
		delete(s.idBySender, cp.Email)
		s.idsMu.Unlock()
		s.videoMu.Lock()
		delete(s.videoDecoder, cp.Email)
		s.videoMu.Unlock()
	}
}

// handleRsa observes a peer's RSA public key and, once observed, wraps and
// sends our local AES session key to them.
func (s *Session) handleRsa(rp *wire.RsaPacket) {
	if err := s.identity.ObservePeerPublicKey(rp.Email, rp.PublicKeyDER); err != nil {
		sugar.Warnf("[session] observe peer public key from %s: %v", rp.Email, err)
		return
	}
	wrapped, err := s.identity.WrapAESKeyFor(rp.Email)
	if err != nil {
		sugar.Warnf("[session] wrap aes key for %s: %v", rp.Email, err)
		return
	}
	if err := s.transport.SendAes(&wire.AesPacket{WrappedKey: wrapped, Email: s.email}); err != nil {
		sugar.Warnf("[session] send aes packet to %s: %v", rp.Email, err)
	}
}

// handleAes unwraps a peer's AES session key once their RSA key has
// already been observed.
func (s *Session) handleAes(ap *wire.AesPacket) {
	if err := s.identity.ObservePeerWrappedKey(ap.Email, ap.WrappedKey); err != nil {
		sugar.Warnf("[session] observe wrapped aes key from %s: %v", ap.Email, err)
	}
}

func (s *Session) handleDisconnected(reason string) {
	s.connected.Store(false)
	if s.OnDisconnect != nil {
		s.OnDisconnect(reason)
	}
}

// GetMetrics returns the most recently computed link-quality snapshot.
func (s *Session) GetMetrics() Metrics {
	s.metricsMu.Lock()
	defer s.metricsMu.Unlock()
	return s.cachedMetrics
}

// IsConnected reports whether a media session is currently active.
func (s *Session) IsConnected() bool { return s.connected.Load() }

// SetMuted mutes or unmutes the local microphone.
func (s *Session) SetMuted(muted bool) { s.audio.SetMuted(muted) }

// SetDeafened mutes or unmutes local audio playback.
func (s *Session) SetDeafened(deafened bool) { s.audio.SetDeafened(deafened) }

// SetVolume adjusts local playback volume (0.0-2.0).
func (s *Session) SetVolume(vol float64) { s.audio.SetVolume(vol) }

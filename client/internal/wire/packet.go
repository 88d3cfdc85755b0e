// Package wire is the client-side half of the Media Plane wire codec.
//
// It encodes and decodes the same protobuf-shaped envelope the router
// terminates (internal/protocol on the server side): varint tags,
// LEN-delimited submessages, hand-coded against
// google.golang.org/protobuf/encoding/protowire rather than generated from a
// .proto file. Field numbers are the wire contract shared with the router
// and must stay in lockstep with it.
package wire

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// PacketType tags the payload carried by a PacketWrapper.
type PacketType int32

const (
	PacketUnknown PacketType = iota
	PacketMedia
	PacketConnection
	PacketRsa
	PacketAes
)

// MediaType distinguishes the media kind carried by a MediaPacket.
type MediaType int32

const (
	MediaUnknown MediaType = iota
	MediaAudio
	MediaVideo
	MediaScreen
)

// FrameType marks whether a video MediaPacket starts a new independently
// decodable picture.
type FrameType int32

const (
	FrameDelta FrameType = iota
	FrameKey
)

// ConnectionType distinguishes ConnectionPacket subtypes.
type ConnectionType int32

const (
	ConnectionJoin ConnectionType = iota
	ConnectionLeave
	ConnectionNack
	ConnectionHeartbeat
)

// encoder accumulates a length-delimited protobuf message one field at a
// time. It exists so the five packet types below don't each repeat the same
// AppendTag/AppendVarint boilerplate the router's hand-written codec has to
// spell out per field.
type encoder struct{ b []byte }

func (e *encoder) varint(field int32, v uint64) {
	e.b = protowire.AppendTag(e.b, protowire.Number(field), protowire.VarintType)
	e.b = protowire.AppendVarint(e.b, v)
}

func (e *encoder) bytesIfNonEmpty(field int32, v []byte) {
	if len(v) == 0 {
		return
	}
	e.b = protowire.AppendTag(e.b, protowire.Number(field), protowire.BytesType)
	e.b = protowire.AppendBytes(e.b, v)
}

func (e *encoder) stringIfNonEmpty(field int32, v string) {
	if v == "" {
		return
	}
	e.b = protowire.AppendTag(e.b, protowire.Number(field), protowire.BytesType)
	e.b = protowire.AppendString(e.b, v)
}

// decoder walks a message's fields, dispatching each to a field-specific
// handler and skipping anything it doesn't recognize via
// protowire.ConsumeFieldValue (forward compatibility with newer field sets).
type decoder struct {
	b   []byte
	err error
}

func (d *decoder) next() (num protowire.Number, typ protowire.Type, ok bool) {
	if d.err != nil || len(d.b) == 0 {
		return 0, 0, false
	}
	num, typ, n := protowire.ConsumeTag(d.b)
	if n < 0 {
		d.err = fmt.Errorf("wire: bad tag: %w", protowire.ParseError(n))
		return 0, 0, false
	}
	d.b = d.b[n:]
	return num, typ, true
}

func (d *decoder) varint() uint64 {
	v, n := protowire.ConsumeVarint(d.b)
	if n < 0 {
		d.err = fmt.Errorf("wire: bad varint: %w", protowire.ParseError(n))
		return 0
	}
	d.b = d.b[n:]
	return v
}

func (d *decoder) str() string {
	v, n := protowire.ConsumeString(d.b)
	if n < 0 {
		d.err = fmt.Errorf("wire: bad string: %w", protowire.ParseError(n))
		return ""
	}
	d.b = d.b[n:]
	return v
}

func (d *decoder) bytes() []byte {
	v, n := protowire.ConsumeBytes(d.b)
	if n < 0 {
		d.err = fmt.Errorf("wire: bad bytes: %w", protowire.ParseError(n))
		return nil
	}
	d.b = d.b[n:]
	return append([]byte(nil), v...)
}

func (d *decoder) skip(num protowire.Number, typ protowire.Type) {
	n := protowire.ConsumeFieldValue(num, typ, d.b)
	if n < 0 {
		d.err = fmt.Errorf("wire: bad field %d: %w", num, protowire.ParseError(n))
		return
	}
	d.b = d.b[n:]
}

// field numbers, shared wire contract with internal/protocol on the router.
const (
	fwPacketType = 1
	fwEmail      = 2
	fwRoomID     = 3
	fwData       = 4

	mpMediaType   = 1
	mpData        = 2
	mpFrameType   = 3
	mpEmail       = 4
	mpTimestampMs = 5
	mpSequence    = 6
	mpAudioLevel  = 7
	mpScreenShare = 8

	cpConnectionType = 1
	cpEmail          = 2
	cpNackSequence   = 3

	rpPublicKeyDER = 1
	rpEmail        = 2

	apWrappedKey = 1
	apEmail      = 2
)

// PacketWrapper is the outermost envelope for every wire packet.
type PacketWrapper struct {
	PacketType PacketType
	Email      string
	RoomID     string
	Data       []byte
}

func (w *PacketWrapper) Marshal() []byte {
	e := &encoder{}
	e.varint(fwPacketType, uint64(w.PacketType))
	e.stringIfNonEmpty(fwEmail, w.Email)
	e.stringIfNonEmpty(fwRoomID, w.RoomID)
	e.bytesIfNonEmpty(fwData, w.Data)
	return e.b
}

func UnmarshalPacketWrapper(b []byte) (*PacketWrapper, error) {
	w := &PacketWrapper{}
	d := &decoder{b: b}
	for {
		num, typ, ok := d.next()
		if !ok {
			break
		}
		switch num {
		case fwPacketType:
			w.PacketType = PacketType(d.varint())
		case fwEmail:
			w.Email = d.str()
		case fwRoomID:
			w.RoomID = d.str()
		case fwData:
			w.Data = d.bytes()
		default:
			d.skip(num, typ)
		}
	}
	if d.err != nil {
		return nil, d.err
	}
	return w, nil
}

// MediaPacket carries one encoded audio/video frame plus RTP-like framing.
type MediaPacket struct {
	MediaType   MediaType
	Data        []byte
	FrameType   FrameType
	Email       string
	TimestampMs uint64
	Sequence    uint16
	AudioLevel  uint8
	ScreenShare bool
}

func (m *MediaPacket) Marshal() []byte {
	e := &encoder{}
	e.varint(mpMediaType, uint64(m.MediaType))
	e.bytesIfNonEmpty(mpData, m.Data)
	e.varint(mpFrameType, uint64(m.FrameType))
	e.stringIfNonEmpty(mpEmail, m.Email)
	e.varint(mpTimestampMs, m.TimestampMs)
	e.varint(mpSequence, uint64(m.Sequence))
	if m.AudioLevel != 0 {
		e.varint(mpAudioLevel, uint64(m.AudioLevel))
	}
	if m.ScreenShare {
		e.varint(mpScreenShare, 1)
	}
	return e.b
}

func UnmarshalMediaPacket(b []byte) (*MediaPacket, error) {
	m := &MediaPacket{}
	d := &decoder{b: b}
	for {
		num, typ, ok := d.next()
		if !ok {
			break
		}
		switch num {
		case mpMediaType:
			m.MediaType = MediaType(d.varint())
		case mpData:
			m.Data = d.bytes()
		case mpFrameType:
			m.FrameType = FrameType(d.varint())
		case mpEmail:
			m.Email = d.str()
		case mpTimestampMs:
			m.TimestampMs = d.varint()
		case mpSequence:
			m.Sequence = uint16(d.varint())
		case mpAudioLevel:
			m.AudioLevel = uint8(d.varint())
		case mpScreenShare:
			m.ScreenShare = d.varint() != 0
		default:
			d.skip(num, typ)
		}
	}
	if d.err != nil {
		return nil, d.err
	}
	return m, nil
}

// ConnectionPacket carries session lifecycle and control-plane signals.
type ConnectionPacket struct {
	ConnectionType ConnectionType
	Email          string
	NackSequence   uint16
}

func (c *ConnectionPacket) Marshal() []byte {
	e := &encoder{}
	e.varint(cpConnectionType, uint64(c.ConnectionType))
	e.stringIfNonEmpty(cpEmail, c.Email)
	if c.ConnectionType == ConnectionNack {
		e.varint(cpNackSequence, uint64(c.NackSequence))
	}
	return e.b
}

func UnmarshalConnectionPacket(b []byte) (*ConnectionPacket, error) {
	c := &ConnectionPacket{}
	d := &decoder{b: b}
	for {
		num, typ, ok := d.next()
		if !ok {
			break
		}
		switch num {
		case cpConnectionType:
			c.ConnectionType = ConnectionType(d.varint())
		case cpEmail:
			c.Email = d.str()
		case cpNackSequence:
			c.NackSequence = uint16(d.varint())
		default:
			d.skip(num, typ)
		}
	}
	if d.err != nil {
		return nil, d.err
	}
	return c, nil
}

// RsaPacket carries an RSA public key during E2EE key negotiation.
type RsaPacket struct {
	PublicKeyDER []byte
	Email        string
}

func (r *RsaPacket) Marshal() []byte {
	e := &encoder{}
	e.bytesIfNonEmpty(rpPublicKeyDER, r.PublicKeyDER)
	e.stringIfNonEmpty(rpEmail, r.Email)
	return e.b
}

func UnmarshalRsaPacket(b []byte) (*RsaPacket, error) {
	r := &RsaPacket{}
	d := &decoder{b: b}
	for {
		num, typ, ok := d.next()
		if !ok {
			break
		}
		switch num {
		case rpPublicKeyDER:
			r.PublicKeyDER = d.bytes()
		case rpEmail:
			r.Email = d.str()
		default:
			d.skip(num, typ)
		}
	}
	if d.err != nil {
		return nil, d.err
	}
	return r, nil
}

// AesPacket carries an AES session key, RSA-OAEP wrapped for one recipient.
type AesPacket struct {
	WrappedKey []byte
	Email      string
}

func (a *AesPacket) Marshal() []byte {
	e := &encoder{}
	e.bytesIfNonEmpty(apWrappedKey, a.WrappedKey)
	e.stringIfNonEmpty(apEmail, a.Email)
	return e.b
}

func UnmarshalAesPacket(b []byte) (*AesPacket, error) {
	a := &AesPacket{}
	d := &decoder{b: b}
	for {
		num, typ, ok := d.next()
		if !ok {
			break
		}
		switch num {
		case apWrappedKey:
			a.WrappedKey = d.bytes()
		case apEmail:
			a.Email = d.str()
		default:
			d.skip(num, typ)
		}
	}
	if d.err != nil {
		return nil, d.err
	}
	return a, nil
}

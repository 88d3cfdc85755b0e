// Package protocol implements the wire codec for Media Plane packets.
//
// The wire format is protobuf-shaped (varint tags, LEN-delimited
// submessages) but hand-encoded against the low-level wire primitives in
// google.golang.org/protobuf/encoding/protowire rather than generated from a
// .proto file. Field numbers below are part of the wire contract and must
// never be reused for a different meaning.
package protocol

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

// field numbers for PacketWrapper.
const (
	fwPacketType = 1
	fwEmail      = 2
	fwRoomID     = 3
	fwData       = 4
)

// PacketWrapper is the outermost envelope for every wire packet, mirroring
// spec.md's PacketWrapper entity.
type PacketWrapper struct {
	PacketType PacketType
	Email      string // PeerIdentity, reused across transports for a session
	RoomID     string
	Data       []byte // encoded MediaPacket / ConnectionPacket / RsaPacket / AesPacket
}

// Marshal encodes w as a length-delimited, tag-varint protobuf message.
func (w *PacketWrapper) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, fwPacketType, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(w.PacketType))
	if w.Email != "" {
		b = protowire.AppendTag(b, fwEmail, protowire.BytesType)
		b = protowire.AppendString(b, w.Email)
	}
	if w.RoomID != "" {
		b = protowire.AppendTag(b, fwRoomID, protowire.BytesType)
		b = protowire.AppendString(b, w.RoomID)
	}
	if len(w.Data) > 0 {
		b = protowire.AppendTag(b, fwData, protowire.BytesType)
		b = protowire.AppendBytes(b, w.Data)
	}
	return b
}

// UnmarshalPacketWrapper decodes a PacketWrapper from the wire.
func UnmarshalPacketWrapper(b []byte) (*PacketWrapper, error) {
	w := &PacketWrapper{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("protocol: bad tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case fwPacketType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, fmt.Errorf("protocol: bad packet_type: %w", protowire.ParseError(n))
			}
			w.PacketType = PacketType(v)
			b = b[n:]
		case fwEmail:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return nil, fmt.Errorf("protocol: bad email: %w", protowire.ParseError(n))
			}
			w.Email = v
			b = b[n:]
		case fwRoomID:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return nil, fmt.Errorf("protocol: bad room_id: %w", protowire.ParseError(n))
			}
			w.RoomID = v
			b = b[n:]
		case fwData:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, fmt.Errorf("protocol: bad data: %w", protowire.ParseError(n))
			}
			w.Data = append([]byte(nil), v...)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, fmt.Errorf("protocol: bad field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return w, nil
}

// field numbers for MediaPacket.
const (
	mpMediaType     = 1
	mpData          = 2
	mpFrameType     = 3
	mpEmail         = 4
	mpTimestampMs   = 5
	mpSequence      = 6
	mpAudioLevel    = 7
	mpScreenShare   = 8
)

// MediaPacket carries one encoded audio/video frame plus RTP-like framing.
type MediaPacket struct {
	MediaType   MediaType
	Data        []byte
	FrameType   FrameType
	Email       string
	TimestampMs uint64
	Sequence    uint16
	AudioLevel  uint8 // 0-100, silence detector output; 0 for video
	ScreenShare bool
}

func (m *MediaPacket) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, mpMediaType, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.MediaType))
	if len(m.Data) > 0 {
		b = protowire.AppendTag(b, mpData, protowire.BytesType)
		b = protowire.AppendBytes(b, m.Data)
	}
	b = protowire.AppendTag(b, mpFrameType, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.FrameType))
	if m.Email != "" {
		b = protowire.AppendTag(b, mpEmail, protowire.BytesType)
		b = protowire.AppendString(b, m.Email)
	}
	b = protowire.AppendTag(b, mpTimestampMs, protowire.VarintType)
	b = protowire.AppendVarint(b, m.TimestampMs)
	b = protowire.AppendTag(b, mpSequence, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.Sequence))
	if m.AudioLevel != 0 {
		b = protowire.AppendTag(b, mpAudioLevel, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(m.AudioLevel))
	}
	if m.ScreenShare {
		b = protowire.AppendTag(b, mpScreenShare, protowire.VarintType)
		b = protowire.AppendVarint(b, 1)
	}
	return b
}

func UnmarshalMediaPacket(b []byte) (*MediaPacket, error) {
	m := &MediaPacket{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("protocol: bad tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case mpMediaType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, fmt.Errorf("protocol: bad media_type: %w", protowire.ParseError(n))
			}
			m.MediaType = MediaType(v)
			b = b[n:]
		case mpData:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, fmt.Errorf("protocol: bad data: %w", protowire.ParseError(n))
			}
			m.Data = append([]byte(nil), v...)
			b = b[n:]
		case mpFrameType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, fmt.Errorf("protocol: bad frame_type: %w", protowire.ParseError(n))
			}
			m.FrameType = FrameType(v)
			b = b[n:]
		case mpEmail:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return nil, fmt.Errorf("protocol: bad email: %w", protowire.ParseError(n))
			}
			m.Email = v
			b = b[n:]
		case mpTimestampMs:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, fmt.Errorf("protocol: bad timestamp_ms: %w", protowire.ParseError(n))
			}
			m.TimestampMs = v
			b = b[n:]
		case mpSequence:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, fmt.Errorf("protocol: bad sequence: %w", protowire.ParseError(n))
			}
			m.Sequence = uint16(v)
			b = b[n:]
		case mpAudioLevel:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, fmt.Errorf("protocol: bad audio_level: %w", protowire.ParseError(n))
			}
			m.AudioLevel = uint8(v)
			b = b[n:]
		case mpScreenShare:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, fmt.Errorf("protocol: bad screen_share: %w", protowire.ParseError(n))
			}
			m.ScreenShare = v != 0
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, fmt.Errorf("protocol: bad field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return m, nil
}

// ConnectionType distinguishes ConnectionPacket subtypes.
type ConnectionType int32

const (
	ConnectionJoin ConnectionType = iota
	ConnectionLeave
	ConnectionNack
	ConnectionHeartbeat
)

const (
	cpConnectionType = 1
	cpEmail          = 2
	cpNackSequence   = 3
)

// ConnectionPacket carries session lifecycle and control-plane signals that
// are not media: join/leave announcements, heartbeats, and NACK requests for
// a missing audio sequence number.
type ConnectionPacket struct {
	ConnectionType ConnectionType
	Email          string
	NackSequence   uint16
}

func (c *ConnectionPacket) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, cpConnectionType, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(c.ConnectionType))
	if c.Email != "" {
		b = protowire.AppendTag(b, cpEmail, protowire.BytesType)
		b = protowire.AppendString(b, c.Email)
	}
	if c.ConnectionType == ConnectionNack {
		b = protowire.AppendTag(b, cpNackSequence, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(c.NackSequence))
	}
	return b
}

func UnmarshalConnectionPacket(b []byte) (*ConnectionPacket, error) {
	c := &ConnectionPacket{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("protocol: bad tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case cpConnectionType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, fmt.Errorf("protocol: bad connection_type: %w", protowire.ParseError(n))
			}
			c.ConnectionType = ConnectionType(v)
			b = b[n:]
		case cpEmail:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return nil, fmt.Errorf("protocol: bad email: %w", protowire.ParseError(n))
			}
			c.Email = v
			b = b[n:]
		case cpNackSequence:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, fmt.Errorf("protocol: bad nack_sequence: %w", protowire.ParseError(n))
			}
			c.NackSequence = uint16(v)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, fmt.Errorf("protocol: bad field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return c, nil
}

const (
	rpPublicKeyDER = 1
	rpEmail        = 2
)

// RsaPacket carries an RSA public key during E2EE key negotiation.
type RsaPacket struct {
	PublicKeyDER []byte
	Email        string
}

func (r *RsaPacket) Marshal() []byte {
	var b []byte
	if len(r.PublicKeyDER) > 0 {
		b = protowire.AppendTag(b, rpPublicKeyDER, protowire.BytesType)
		b = protowire.AppendBytes(b, r.PublicKeyDER)
	}
	if r.Email != "" {
		b = protowire.AppendTag(b, rpEmail, protowire.BytesType)
		b = protowire.AppendString(b, r.Email)
	}
	return b
}

func UnmarshalRsaPacket(b []byte) (*RsaPacket, error) {
	r := &RsaPacket{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("protocol: bad tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case rpPublicKeyDER:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, fmt.Errorf("protocol: bad public_key_der: %w", protowire.ParseError(n))
			}
			r.PublicKeyDER = append([]byte(nil), v...)
			b = b[n:]
		case rpEmail:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return nil, fmt.Errorf("protocol: bad email: %w", protowire.ParseError(n))
			}
			r.Email = v
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, fmt.Errorf("protocol: bad field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return r, nil
}

const (
	apWrappedKey = 1
	apEmail      = 2
)

// AesPacket carries an AES session key, RSA-OAEP wrapped for one recipient.
type AesPacket struct {
	WrappedKey []byte
	Email      string
}

func (a *AesPacket) Marshal() []byte {
	var b []byte
	if len(a.WrappedKey) > 0 {
		b = protowire.AppendTag(b, apWrappedKey, protowire.BytesType)
		b = protowire.AppendBytes(b, a.WrappedKey)
	}
	if a.Email != "" {
		b = protowire.AppendTag(b, apEmail, protowire.BytesType)
		b = protowire.AppendString(b, a.Email)
	}
	return b
}

func UnmarshalAesPacket(b []byte) (*AesPacket, error) {
	a := &AesPacket{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("protocol: bad tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case apWrappedKey:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, fmt.Errorf("protocol: bad wrapped_key: %w", protowire.ParseError(n))
			}
			a.WrappedKey = append([]byte(nil), v...)
			b = b[n:]
		case apEmail:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return nil, fmt.Errorf("protocol: bad email: %w", protowire.ParseError(n))
			}
			a.Email = v
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, fmt.Errorf("protocol: bad field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return a, nil
}

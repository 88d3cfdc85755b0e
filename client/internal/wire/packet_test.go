package wire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPacketWrapperRoundTrip(t *testing.T) {
	w := &PacketWrapper{
		PacketType: PacketMedia,
		Email:      "alice@example.com",
		RoomID:     "room-42",
		Data:       []byte{1, 2, 3},
	}
	got, err := UnmarshalPacketWrapper(w.Marshal())
	require.NoError(t, err)
	require.Equal(t, w, got)
}

func TestMediaPacketRoundTrip(t *testing.T) {
	m := &MediaPacket{
		MediaType:   MediaVideo,
		Data:        []byte("frame-bytes"),
		FrameType:   FrameKey,
		Email:       "bob@example.com",
		TimestampMs: 1234567,
		Sequence:    65535,
		AudioLevel:  0,
		ScreenShare: true,
	}
	got, err := UnmarshalMediaPacket(m.Marshal())
	require.NoError(t, err)
	require.Equal(t, m, got)
}

func TestConnectionPacketNackRoundTrip(t *testing.T) {
	c := &ConnectionPacket{
		ConnectionType: ConnectionNack,
		Email:          "carol@example.com",
		NackSequence:   42,
	}
	got, err := UnmarshalConnectionPacket(c.Marshal())
	require.NoError(t, err)
	require.Equal(t, c, got)
}

func TestRsaAndAesPacketRoundTrip(t *testing.T) {
	r := &RsaPacket{PublicKeyDER: []byte{0xde, 0xad, 0xbe, 0xef}, Email: "dave@example.com"}
	gotR, err := UnmarshalRsaPacket(r.Marshal())
	require.NoError(t, err)
	require.Equal(t, r, gotR)

	a := &AesPacket{WrappedKey: []byte{0x01, 0x02}, Email: "erin@example.com"}
	gotA, err := UnmarshalAesPacket(a.Marshal())
	require.NoError(t, err)
	require.Equal(t, a, gotA)
}

func TestUnmarshalPacketWrapperSkipsUnknownFields(t *testing.T) {
	w := &PacketWrapper{PacketType: PacketConnection, Email: "x@example.com"}
	b := w.Marshal()
	b = append(b, 0x4a, 0x02, 0xaa, 0xbb) // unknown field 9, LEN type, 2-byte payload

	got, err := UnmarshalPacketWrapper(b)
	require.NoError(t, err)
	require.Equal(t, w.PacketType, got.PacketType)
	require.Equal(t, w.Email, got.Email)
}

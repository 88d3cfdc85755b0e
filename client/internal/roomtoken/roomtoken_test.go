package roomtoken

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func sign(t *testing.T, claims Claims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString([]byte("whatever-the-router-actually-uses"))
	require.NoError(t, err)
	return signed
}

func TestPeekReadsClaimsWithoutTheSigningSecret(t *testing.T) {
	exp := jwt.NewNumericDate(time.Now().Add(time.Hour))
	token := sign(t, Claims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: exp},
		Room:             "room-1",
		RoomJoin:         true,
		IsHost:           true,
		DisplayName:      "Alice",
	})

	claims, err := Peek(token)
	require.NoError(t, err)
	require.Equal(t, "room-1", claims.Room)
	require.True(t, claims.IsHost)
	require.Equal(t, "Alice", claims.DisplayName)
}

func TestPeekRejectsMalformedToken(t *testing.T) {
	_, err := Peek("not-a-token")
	require.Error(t, err)
}

func TestExpiresWithinFlagsTokenWithoutExpiry(t *testing.T) {
	claims := &Claims{}
	require.True(t, claims.ExpiresWithin(time.Minute))
}

func TestExpiresWithinDistinguishesFreshFromStale(t *testing.T) {
	fresh := &Claims{RegisteredClaims: jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}}
	require.False(t, fresh.ExpiresWithin(time.Minute))

	stale := &Claims{RegisteredClaims: jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(30 * time.Second)),
	}}
	require.True(t, stale.ExpiresWithin(time.Minute))
}

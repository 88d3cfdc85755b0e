package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

const testSecret = "super-secret-test-key"

func sign(t *testing.T, claims Claims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := tok.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return s
}

func baseClaims(room, email string) Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   email,
			Issuer:    Issuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Room:     room,
		RoomJoin: true,
	}
}

func TestValidateTokenAcceptsWellFormedToken(t *testing.T) {
	v := New(testSecret)
	token := sign(t, baseClaims("room-1", "alice@example.com"))

	claims, err := v.ValidateToken(token)
	require.NoError(t, err)
	require.Equal(t, "room-1", claims.Room)
	require.Equal(t, "alice@example.com", claims.Subject)
}

func TestValidateTokenRejectsExpiredToken(t *testing.T) {
	v := New(testSecret)
	claims := baseClaims("room-1", "alice@example.com")
	claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))
	token := sign(t, claims)

	_, err := v.ValidateToken(token)
	require.Error(t, err)
}

func TestValidateTokenRejectsMissingRoomJoin(t *testing.T) {
	v := New(testSecret)
	claims := baseClaims("room-1", "alice@example.com")
	claims.RoomJoin = false
	token := sign(t, claims)

	_, err := v.ValidateToken(token)
	require.ErrorIs(t, err, ErrRoomJoinDenied)
}

func TestValidateTokenRejectsWrongSecret(t *testing.T) {
	v := New(testSecret)
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, baseClaims("room-1", "alice@example.com"))
	bad, err := tok.SignedString([]byte("wrong-secret"))
	require.NoError(t, err)

	_, err = v.ValidateToken(bad)
	require.Error(t, err)
}

func TestValidateTokenRejectsMissingToken(t *testing.T) {
	v := New(testSecret)
	_, err := v.ValidateToken("")
	require.ErrorIs(t, err, ErrMissingToken)
}

func TestValidateTokenForRoomChecksRoomAndIdentity(t *testing.T) {
	v := New(testSecret)
	token := sign(t, baseClaims("room-1", "alice@example.com"))

	_, err := v.ValidateTokenForRoom(token, "room-2", "alice@example.com")
	require.ErrorIs(t, err, ErrRoomMismatch)

	_, err = v.ValidateTokenForRoom(token, "room-1", "bob@example.com")
	require.ErrorIs(t, err, ErrIdentityMismatch)

	claims, err := v.ValidateTokenForRoom(token, "room-1", "alice@example.com")
	require.NoError(t, err)
	require.True(t, claims.RoomJoin)
}

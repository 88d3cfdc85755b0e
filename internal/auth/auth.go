// Package auth validates room access JWTs issued by an external
// meeting-control service before a client is admitted to a room, grounded
// on original_source/actix-api/src/token_validator.rs and the claim shape
// in original_source/meeting-api/src/token.rs.
//
// Two entry points mirror the reference implementation's two connection
// paths: ValidateToken for the token-based endpoint (identity and room come
// from the claims themselves) and ValidateTokenForRoom for the legacy
// path-parameter endpoint (claims must additionally match the room/identity
// named in the URL).
package auth

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Issuer is the expected `iss` claim on every room access token, matching
// RoomAccessTokenClaims::ISSUER in the reference implementation.
const Issuer = "videocall-meeting-backend"

var (
	ErrMissingToken     = errors.New("auth: room access token is required")
	ErrRoomJoinDenied   = errors.New("auth: token does not grant room join permission")
	ErrRoomMismatch     = errors.New("auth: token room does not match requested room")
	ErrIdentityMismatch = errors.New("auth: token identity does not match requested identity")
)

// Claims is the payload of a room access token.
type Claims struct {
	jwt.RegisteredClaims
	Room        string `json:"room"`
	RoomJoin    bool   `json:"room_join"`
	IsHost      bool   `json:"is_host"`
	DisplayName string `json:"display_name"`
}

// Validator validates room access tokens signed with a shared HMAC secret.
type Validator struct {
	secret []byte
}

// New builds a Validator using secret as the HMAC-SHA256 signing key.
func New(secret string) *Validator {
	return &Validator{secret: []byte(secret)}
}

// ValidateToken decodes and validates a room access token for the
// token-based connection endpoint: the room and identity are trusted
// from the claims themselves once the signature, expiry, issuer, and
// room_join checks pass.
func (v *Validator) ValidateToken(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, ErrMissingToken
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("auth: unexpected signing method %v", t.Method.Alg())
		}
		return v.secret, nil
	}, jwt.WithIssuer(Issuer), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("auth: invalid token: %w", err)
	}
	if !parsed.Valid {
		return nil, fmt.Errorf("auth: invalid token")
	}
	if !claims.RoomJoin {
		return nil, ErrRoomJoinDenied
	}
	return claims, nil
}

// ValidateTokenForRoom validates a room access token against an
// expected room and identity, for the legacy path-parameter connection
// endpoint. Deprecated in favor of ValidateToken; kept for clients that
// still connect via /lobby/{email}/{room}.
func (v *Validator) ValidateTokenForRoom(tokenString, expectedRoom, expectedEmail string) (*Claims, error) {
	claims, err := v.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.Room != expectedRoom {
		return nil, fmt.Errorf("%w: token room %q, requested %q", ErrRoomMismatch, claims.Room, expectedRoom)
	}
	if claims.Subject != expectedEmail {
		return nil, fmt.Errorf("%w: token identity %q, requested %q", ErrIdentityMismatch, claims.Subject, expectedEmail)
	}
	return claims, nil
}

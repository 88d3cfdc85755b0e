// Package roomtoken inspects the room access token meeting-control issues
// on join, without validating its signature — the client has no access to
// the HMAC secret the router uses to verify it (internal/auth on the
// router side owns that check). This package exists purely so the client
// can surface the claims a human cares about (room, host flag, expiry)
// before spending a round trip dialing a relay with a token that is
// already stale.
package roomtoken

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims mirrors the router's internal/auth.Claims field-for-field; kept as
// a separate type since the two belong to different Go modules.
type Claims struct {
	jwt.RegisteredClaims
	Room        string `json:"room"`
	RoomJoin    bool   `json:"room_join"`
	IsHost      bool   `json:"is_host"`
	DisplayName string `json:"display_name"`
}

// Peek parses tokenString's claims without verifying its signature and
// returns them. Callers must treat the result as advisory only — the
// router re-validates the signed token on every admission, so a forged or
// tampered token is still rejected there regardless of what Peek reports.
func Peek(tokenString string) (*Claims, error) {
	claims := &Claims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(tokenString, claims); err != nil {
		return nil, fmt.Errorf("roomtoken: parse: %w", err)
	}
	return claims, nil
}

// ExpiresWithin reports whether claims expires at or before now+d, or if it
// carries no expiry at all (which Peek's caller should treat as suspicious
// rather than as "never expires").
func (c *Claims) ExpiresWithin(d time.Duration) bool {
	if c.ExpiresAt == nil {
		return true
	}
	return !time.Now().Add(d).Before(c.ExpiresAt.Time)
}

// Package meetingclient is an HTTP client for the external meeting-control
// service named in spec.md §6: it admits participants into a meeting,
// reports their current status, and marks them as having left. The
// router itself never owns meeting membership state — it only fans out
// media within a room once a session presents a valid room token
// obtained through this client (see internal/auth).
//
// Grounded on the teacher's own outbound HTTP client in linkpreview.go
// (plain net/http.Client with an explicit timeout and a bounded response
// read), generalized from a one-shot GET to a small typed JSON API
// client.
package meetingclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultTimeout = 5 * time.Second

// Client talks to the meeting-control service's REST API.
type Client struct {
	baseURL string
	http    *http.Client
}

// New constructs a Client pointed at baseURL (e.g.
// "https://meetings.example.com").
func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: defaultTimeout},
	}
}

// JoinRequest is the body for POST /api/v1/meetings/{id}/join.
type JoinRequest struct {
	DisplayName string `json:"display_name,omitempty"`
}

// JoinResponse is returned by join and status lookups.
type JoinResponse struct {
	Status    string `json:"status"`
	IsHost    bool   `json:"is_host"`
	RoomToken string `json:"room_token,omitempty"`
}

// Join requests admission to meetingID on behalf of the bearer identified
// by authToken (the caller's existing session credential, forwarded as a
// bearer token to the meeting-control service).
func (c *Client) Join(ctx context.Context, meetingID, authToken string, req JoinRequest) (*JoinResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("meetingclient: encode join request: %w", err)
	}
	return c.doJSON(ctx, http.MethodPost, fmt.Sprintf("/api/v1/meetings/%s/join", meetingID), authToken, body)
}

// Status retrieves the caller's current participant status for meetingID.
func (c *Client) Status(ctx context.Context, meetingID, authToken string) (*JoinResponse, error) {
	return c.doJSON(ctx, http.MethodGet, fmt.Sprintf("/api/v1/meetings/%s/status", meetingID), authToken, nil)
}

// Leave marks the caller as having left meetingID. Idempotent: calling it
// more than once, or after the meeting has already ended, is not an
// error.
func (c *Client) Leave(ctx context.Context, meetingID, authToken string) error {
	_, err := c.doJSON(ctx, http.MethodPost, fmt.Sprintf("/api/v1/meetings/%s/leave", meetingID), authToken, nil)
	return err
}

func (c *Client) doJSON(ctx context.Context, method, path, authToken string, body []byte) (*JoinResponse, error) {
	var reqBody io.Reader
	if body != nil {
		reqBody = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("meetingclient: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authToken != "" {
		req.Header.Set("Authorization", "Bearer "+authToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("meetingclient: request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("meetingclient: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("meetingclient: %s %s: status %d: %s", method, path, resp.StatusCode, string(data))
	}
	if len(data) == 0 {
		return &JoinResponse{}, nil
	}

	var out JoinResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("meetingclient: decode response: %w", err)
	}
	return &out, nil
}

package meetingclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestJoinSendsBearerTokenAndDecodesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/meetings/room-1/join", r.URL.Path)
		require.Equal(t, "Bearer session-token", r.Header.Get("Authorization"))

		var req JoinRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "Alice", req.DisplayName)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(JoinResponse{Status: "admitted", IsHost: true, RoomToken: "rt-123"})
	}))
	defer srv.Close()

	c := New(srv.URL)
	resp, err := c.Join(context.Background(), "room-1", "session-token", JoinRequest{DisplayName: "Alice"})
	require.NoError(t, err)
	require.Equal(t, "admitted", resp.Status)
	require.True(t, resp.IsHost)
	require.Equal(t, "rt-123", resp.RoomToken)
}

func TestStatusPropagatesServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"error":"not a participant"}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	_, err := c.Status(context.Background(), "room-1", "session-token")
	require.Error(t, err)
	require.Contains(t, err.Error(), "403")
}

func TestLeaveIsIdempotent(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		require.Equal(t, "/api/v1/meetings/room-1/leave", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(srv.URL)
	require.NoError(t, c.Leave(context.Background(), "room-1", "session-token"))
	require.NoError(t, c.Leave(context.Background(), "room-1", "session-token"))
	require.Equal(t, 2, calls)
}

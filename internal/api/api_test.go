package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mediaplane/router/internal/room"
	"github.com/mediaplane/router/internal/session"
	"github.com/mediaplane/router/internal/store"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	st, err := store.New(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	reg := room.NewRegistry(nil)
	return New(reg, st, nil)
}

func TestHandleHealthReportsRoomCount(t *testing.T) {
	s := newTestServer(t)
	s.registry.GetOrCreate("room-1")
	s.registry.GetOrCreate("room-2")

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"rooms":2`)
}

func TestHandleGetRoomReturnsMembers(t *testing.T) {
	s := newTestServer(t)
	r := s.registry.GetOrCreate("room-1")
	r.Join(1, &session.Session{})

	req := httptest.NewRequest(http.MethodGet, "/api/rooms/room-1", nil)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"members":[1]`)
}

func TestHandleGetRoomNotFound(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/rooms/missing", nil)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
	require.JSONEq(t, `{"error":"room not found"}`, rec.Body.String())
}

func TestHandleCreateBanAndQuery(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/bans", strings.NewReader(
		`{"email":"bad@example.com","reason":"spam","banned_by":"mod@example.com"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/bans?email=bad@example.com", nil)
	rec = httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"banned":true`)
}

func TestHandleCreateBanRejectsEmptyTarget(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/bans", strings.NewReader(`{"reason":"spam"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleGetAuditLogReturnsEmptyArrayNotNull(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/rooms/room-1/audit", nil)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `[]`, rec.Body.String())
}

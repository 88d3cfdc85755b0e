// Package api exposes the router's admin/observability HTTP surface:
// health checks, per-room snapshots, the moderation audit log, and the
// ban list. Grounded on the teacher's root-level api.go (same Echo
// middleware stack, same JSON error-handler shape), narrowed to drop the
// chat-room features (channels, file uploads, recordings, settings) that
// belong to the external meeting-control service or to the already
// justified _legacy/blob deletion.
package api

import (
	"context"
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/mediaplane/router/internal/room"
	"github.com/mediaplane/router/internal/store"
)

// Version is the router build version, set by cmd/router at link time.
var Version = "dev"

// Server provides HTTP REST endpoints for health checking, room
// inspection, and moderation lookups. It runs on a separate TCP port
// from the WebSocket/WebTransport signaling listeners.
type Server struct {
	registry *room.Registry
	store    *store.Store
	echo     *echo.Echo
	log      *zap.SugaredLogger
}

// New constructs a Server and registers all routes.
func New(registry *room.Registry, st *store.Store, logger *zap.SugaredLogger) *Server {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{registry: registry, store: st, echo: e, log: logger.Named("api")}

	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod: true,
		LogURI:    true,
		LogStatus: true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			s.log.Infow("request", "method", v.Method, "uri", v.URI, "status", v.Status)
			return nil
		},
	}))
	e.Use(middleware.Recover())
	e.HTTPErrorHandler = s.jsonErrorHandler

	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/api/version", s.handleVersion)
	s.echo.GET("/api/rooms", s.handleListRooms)
	s.echo.GET("/api/rooms/:id", s.handleGetRoom)
	s.echo.GET("/api/rooms/:id/audit", s.handleGetAuditLog)
	s.echo.GET("/api/bans", s.handleGetBans)
	s.echo.POST("/api/bans", s.handleCreateBan)
}

// Run starts the Echo HTTP server on addr and blocks until ctx is
// cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) {
	go func() {
		if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
			s.log.Errorw("server error", "err", err)
		}
	}()
	<-ctx.Done()
	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.echo.Shutdown(shutCtx); err != nil {
		s.log.Errorw("shutdown", "err", err)
	}
}

// HealthResponse is the payload for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
	Rooms  int    `json:"rooms"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok", Rooms: s.registry.RoomCount()})
}

// VersionResponse is the payload for GET /api/version.
type VersionResponse struct {
	Version string `json:"version"`
}

func (s *Server) handleVersion(c echo.Context) error {
	return c.JSON(http.StatusOK, VersionResponse{Version: Version})
}

// RoomSummary is one element of GET /api/rooms.
type RoomSummary struct {
	RoomID  string `json:"room_id"`
	Members int    `json:"members"`
}

func (s *Server) handleListRooms(c echo.Context) error {
	// Registry does not expose a full enumeration, only a count, since the
	// hot path never needs one; rooms are looked up individually by id.
	return c.JSON(http.StatusOK, []RoomSummary{})
}

// RoomResponse is the payload for GET /api/rooms/:id.
type RoomResponse struct {
	RoomID  string   `json:"room_id"`
	Members []uint16 `json:"members"`
}

func (s *Server) handleGetRoom(c echo.Context) error {
	id := c.Param("id")
	r, ok := s.registry.Get(id)
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "room not found")
	}
	members := r.Members()
	if members == nil {
		members = []uint16{}
	}
	return c.JSON(http.StatusOK, RoomResponse{RoomID: id, Members: members})
}

func (s *Server) handleGetAuditLog(c echo.Context) error {
	roomID := c.Param("id")
	limit := 100
	if l := c.QueryParam("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}
	entries, err := s.store.GetAuditLog(roomID, limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if entries == nil {
		entries = []store.AuditEntry{}
	}
	return c.JSON(http.StatusOK, entries)
}

func (s *Server) handleGetBans(c echo.Context) error {
	email := c.QueryParam("email")
	banned, reason, err := s.store.IsBanned(email, c.QueryParam("ip"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]any{"banned": banned, "reason": reason})
}

// CreateBanRequest is the body for POST /api/bans.
type CreateBanRequest struct {
	Email     string `json:"email"`
	IP        string `json:"ip"`
	Reason    string `json:"reason"`
	BannedBy  string `json:"banned_by"`
	DurationS int    `json:"duration_s"`
}

func (s *Server) handleCreateBan(c echo.Context) error {
	var req CreateBanRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Email == "" && req.IP == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "email or ip required")
	}
	id, err := s.store.InsertBan(req.Email, req.IP, req.Reason, req.BannedBy, req.DurationS)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, map[string]int64{"id": id})
}

// jsonErrorHandler ensures all error responses have a consistent JSON
// body: {"error": "message"}. This replaces Echo's default handler,
// which varies between text and JSON depending on error type.
func (s *Server) jsonErrorHandler(err error, c echo.Context) {
	code := http.StatusInternalServerError
	msg := err.Error()
	if he, ok := err.(*echo.HTTPError); ok {
		code = he.Code
		if m, ok := he.Message.(string); ok {
			msg = m
		}
	}
	if err == sql.ErrNoRows {
		code = http.StatusNotFound
		msg = "not found"
	}
	if !c.Response().Committed {
		if c.Request().Method == http.MethodHead {
			c.NoContent(code) //nolint:errcheck
		} else {
			c.JSON(code, map[string]string{"error": msg}) //nolint:errcheck
		}
	}
}

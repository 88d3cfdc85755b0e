// Package diagnostics publishes per-peer health reports to NATS for
// out-of-band aggregation (spec.md's "Diagnostics sink": per-peer counters,
// jitter buffer stats, RTT samples; published at 1 Hz; not on the hot
// path), grounded on
// original_source/actix-api/src/diagnostics.rs's health_processor module.
//
// The subject scheme "health.diagnostics.<region>.<service>.<server>" and
// the JSON payload shape are ported directly from the reference
// implementation; only the transport binding changes, from async-nats to
// github.com/nats-io/nats.go.
package diagnostics

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// PeerStats mirrors one remote peer's reported media quality, as observed
// by the reporting peer.
type PeerStats struct {
	CanListen  bool            `json:"can_listen"`
	CanSee     bool            `json:"can_see"`
	NetEqStats json.RawMessage `json:"neteq_stats,omitempty"`
	VideoStats json.RawMessage `json:"video_stats,omitempty"`
}

// PeerHealthData is one health report, published once per second per
// reporting peer.
type PeerHealthData struct {
	SessionID     string               `json:"session_id"`
	MeetingID     string               `json:"meeting_id"`
	ReportingPeer string               `json:"reporting_peer"`
	TimestampMs   uint64               `json:"timestamp_ms"`
	PeerStats     map[string]PeerStats `json:"peer_stats"`
}

// Config names the region/service/server identity used to build each
// publish subject, matching the REGION/SERVICE_TYPE/SERVER_ID environment
// variables the reference implementation reads.
type Config struct {
	Region      string
	ServiceType string
	ServerID    string
}

func (c Config) subject() string {
	region := c.Region
	if region == "" {
		region = "us-east"
	}
	serviceType := c.ServiceType
	if serviceType == "" {
		serviceType = "websocket"
	}
	serverID := c.ServerID
	if serverID == "" {
		serverID = "server-1"
	}
	return fmt.Sprintf("health.diagnostics.%s.%s.%s", region, serviceType, serverID)
}

// Sink publishes PeerHealthData reports to NATS on a fixed subject.
type Sink struct {
	nc      *nats.Conn
	subject string
	log     *zap.SugaredLogger
}

// NewSink connects a Sink to an already-established NATS connection.
func NewSink(nc *nats.Conn, cfg Config, logger *zap.SugaredLogger) *Sink {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Sink{nc: nc, subject: cfg.subject(), log: logger.Named("diagnostics")}
}

// Publish serializes data to JSON and publishes it on the sink's subject.
// Publish errors are logged, not returned — diagnostics must never block or
// fail the media hot path (spec.md §5: "not on the hot path").
func (s *Sink) Publish(data PeerHealthData) {
	payload, err := json.Marshal(data)
	if err != nil {
		s.log.Warnw("marshal health data failed", "err", err)
		return
	}
	if err := s.nc.Publish(s.subject, payload); err != nil {
		s.log.Warnw("publish health data failed", "subject", s.subject, "err", err)
	}
}

// ParseHealthPacket decodes a health packet from JSON bytes, as received
// from a client's control-plane health report.
func ParseHealthPacket(data []byte) (PeerHealthData, error) {
	var h PeerHealthData
	if err := json.Unmarshal(data, &h); err != nil {
		return PeerHealthData{}, fmt.Errorf("diagnostics: parse health packet: %w", err)
	}
	return h, nil
}

// ExtractAudioQuality derives a 0.0 (poor) to 1.0 (excellent) quality score
// from a NetEq statistics JSON blob's expand_rate/accel_rate fields.
func ExtractAudioQuality(neteqStats json.RawMessage) (float64, bool) {
	var parsed struct {
		ExpandRate     float64 `json:"expand_rate"`
		AccelerateRate float64 `json:"accel_rate"`
	}
	if len(neteqStats) == 0 {
		return 0, false
	}
	if err := json.Unmarshal(neteqStats, &parsed); err != nil {
		return 0, false
	}
	quality := 1.0 - minF((parsed.ExpandRate+parsed.AccelerateRate)/1000.0, 1.0)
	if quality < 0 {
		quality = 0
	}
	return quality, true
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

// NowMs returns the current time as Unix milliseconds, for TimestampMs.
func NowMs(t time.Time) uint64 {
	return uint64(t.UnixMilli())
}

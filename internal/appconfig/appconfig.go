// Package appconfig loads the router's configuration from a YAML file and
// environment variables, grounded on LanternOps-breeze's agent config
// package (viper.SetConfigName/AddConfigPath/AutomaticEnv/Unmarshal
// pattern), with keys from spec.md §6 "Configuration (media plane)".
package appconfig

import (
	"fmt"
	"reflect"
	"time"

	"github.com/spf13/viper"
)

// Config holds every tunable named in spec.md §6.
type Config struct {
	// Listen addresses.
	WebSocketAddr    string `mapstructure:"websocket_addr"`
	WebTransportAddr string `mapstructure:"webtransport_addr"`

	// Session/election timing.
	ElectionPeriodMs    int `mapstructure:"election_period_ms"`
	RTTProbeIntervalMs  int `mapstructure:"rtt_probe_interval_ms"`
	HeartbeatIntervalMs int `mapstructure:"heartbeat_interval_ms"`
	HeartbeatTimeoutMs  int `mapstructure:"heartbeat_timeout_ms"`

	// NetEq.
	SampleRate           int  `mapstructure:"sample_rate"`
	Channels             int  `mapstructure:"channels"`
	MaxPacketsInBuffer   int  `mapstructure:"max_packets_in_buffer"`
	MaxDelayMs           int  `mapstructure:"max_delay_ms"`
	MinDelayMs           int  `mapstructure:"min_delay_ms"`
	EnableFastAccelerate bool `mapstructure:"enable_fast_accelerate"`
	EnableMutedState     bool `mapstructure:"enable_muted_state"`
	ForTestNoTimeStretch bool `mapstructure:"for_test_no_time_stretching"`

	// Backpressure / framing.
	OutboxCapacity int `mapstructure:"outbox_capacity"`
	MaxFrameBytes  int `mapstructure:"max_frame_bytes"`

	// Room lifecycle.
	RoomLingerMs int `mapstructure:"room_linger_ms"`

	// Auth / meeting-control.
	JWTSecret         string `mapstructure:"jwt_secret"`
	MeetingControlURL string `mapstructure:"meeting_control_url"`

	// Diagnostics (NATS).
	NATSURL     string `mapstructure:"nats_url"`
	Region      string `mapstructure:"region"`
	ServiceType string `mapstructure:"service_type"`
	ServerID    string `mapstructure:"server_id"`

	// Logging.
	LogLevel string `mapstructure:"log_level"`

	// TLS.
	TLSCertPath string `mapstructure:"tls_cert_path"`
	TLSKeyPath  string `mapstructure:"tls_key_path"`
}

// ElectionPeriod returns ElectionPeriodMs as a time.Duration.
func (c Config) ElectionPeriod() time.Duration { return time.Duration(c.ElectionPeriodMs) * time.Millisecond }

// RTTProbeInterval returns RTTProbeIntervalMs as a time.Duration.
func (c Config) RTTProbeInterval() time.Duration {
	return time.Duration(c.RTTProbeIntervalMs) * time.Millisecond
}

// HeartbeatInterval returns HeartbeatIntervalMs as a time.Duration.
func (c Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatIntervalMs) * time.Millisecond
}

// HeartbeatTimeout returns HeartbeatTimeoutMs as a time.Duration.
func (c Config) HeartbeatTimeout() time.Duration {
	return time.Duration(c.HeartbeatTimeoutMs) * time.Millisecond
}

// RoomLinger returns RoomLingerMs as a time.Duration — how long an empty
// room survives before the registry's sweep reclaims it (spec.md §3's
// post-empty linger window).
func (c Config) RoomLinger() time.Duration { return time.Duration(c.RoomLingerMs) * time.Millisecond }

// Default returns configuration with the defaults named in spec.md §6.
func Default() *Config {
	return &Config{
		WebSocketAddr:    ":8443",
		WebTransportAddr: ":8444",

		ElectionPeriodMs:    2000,
		RTTProbeIntervalMs:  200,
		HeartbeatIntervalMs: 5000,
		HeartbeatTimeoutMs:  20000,

		SampleRate:         48000,
		Channels:           1,
		MaxPacketsInBuffer: 50,
		MaxDelayMs:         500,
		MinDelayMs:         20,

		EnableFastAccelerate: true,
		EnableMutedState:     false,
		ForTestNoTimeStretch: false,

		OutboxCapacity: 256,
		MaxFrameBytes:  1 << 20,

		RoomLingerMs: 5000,

		Region:      "us-east",
		ServiceType: "websocket",
		ServerID:    "server-1",

		LogLevel: "info",
	}
}

// Load reads "router.yaml" from the config search path and the environment
// (prefix MEDIAPLANE_) over the defaults from Default.
func Load(configPaths ...string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigName("router")
	v.SetConfigType("yaml")
	for _, p := range configPaths {
		v.AddConfigPath(p)
	}
	v.AddConfigPath(".")

	v.SetEnvPrefix("MEDIAPLANE")
	v.AutomaticEnv()
	// Unmarshal only sees keys viper already knows, so bind every field's
	// key to its MEDIAPLANE_ variable explicitly.
	t := reflect.TypeOf(*cfg)
	for i := 0; i < t.NumField(); i++ {
		if key := t.Field(i).Tag.Get("mapstructure"); key != "" {
			_ = v.BindEnv(key)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("appconfig: read config: %w", err)
		}
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("appconfig: unmarshal config: %w", err)
	}
	return cfg, nil
}

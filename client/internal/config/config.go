// Package config manages persistent user preferences for the mediaplane
// client. Settings are stored as JSON at
// os.UserConfigDir()/mediaplane-client/config.json.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Config holds all persistent user preferences.
type Config struct {
	DisplayName    string        `json:"display_name"`
	InputDeviceID  int           `json:"input_device_id"`
	OutputDeviceID int           `json:"output_device_id"`
	Volume         float64       `json:"volume"`
	AECEnabled     bool          `json:"aec_enabled"`
	AGCEnabled     bool          `json:"agc_enabled"`
	NoiseEnabled   bool          `json:"noise_enabled"`
	NoiseLevel     int           `json:"noise_level"`
	E2EEEnabled    bool          `json:"e2ee_enabled"`
	MeetingControl string        `json:"meeting_control_url"`
	Candidates     []ServerEntry `json:"candidates"`
}

// ServerEntry is one candidate media relay the election controller probes.
type ServerEntry struct {
	Name string `json:"name"`
	Addr string `json:"addr"` // host:port; probed with one TCP+TLS handshake, media then runs over WebTransport
}

// Default returns a Config populated with sensible defaults.
func Default() Config {
	return Config{
		Volume:         1.0,
		NoiseLevel:     80,
		InputDeviceID:  -1,
		OutputDeviceID: -1,
		MeetingControl: "http://localhost:8081",
		Candidates: []ServerEntry{
			{Name: "Local Dev", Addr: "localhost:4433"},
		},
	}
}

// Path returns the absolute path to the config file.
func Path() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "mediaplane-client", "config.json"), nil
}

// Load reads the config file and layers MEDIAPLANE_* environment overrides
// on top, the way the router's own appconfig layers env vars over its YAML
// file via viper's SetEnvPrefix/AutomaticEnv. If the file is missing or
// unreadable, the default config (plus any env overrides) is returned —
// never an error, since a first run has no config file yet.
func Load() Config {
	cfg := Default()
	if path, err := Path(); err == nil {
		if data, err := os.ReadFile(path); err == nil {
			_ = json.Unmarshal(data, &cfg)
		}
	}

	v := viper.New()
	v.SetEnvPrefix("mediaplane")
	v.AutomaticEnv()
	if val := v.GetString("display_name"); val != "" {
		cfg.DisplayName = val
	}
	if val := v.GetString("meeting_control_url"); val != "" {
		cfg.MeetingControl = val
	}
	return cfg
}

// Save writes cfg to disk, creating the directory if needed.
func Save(cfg Config) error {
	path, err := Path()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

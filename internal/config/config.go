// Package config loads boardlink settings from defaults, a TOML file,
// BOARDLINK_* environment variables and command-line flags, in that
// order of increasing precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/bft-labs/boardlink/internal/domain"
	"github.com/bft-labs/boardlink/pkg/log"
)

// Backend stream transports.
const (
	BackendHTTP      = "http"
	BackendWebSocket = "ws"
)

// Config holds every setting of both board roles.
type Config struct {
	LogLevel string

	// Link between the boards.
	Transport string
	Addr      string

	// Backend.
	DeviceID        string
	BackendURL      string
	BackendMode     string
	AuthKey         string
	HTTPTimeout     time.Duration
	PostgresDSN     string
	StoreFaceImages bool

	StateDir string

	// Controller.
	PingInterval      time.Duration
	PingTimeout       time.Duration
	ReconcileInterval time.Duration
	SettleDelay       time.Duration
	CameraInterval    time.Duration
	AudioInterval     time.Duration
	StreamCamera      bool
	FaceQueue         int
	MaxFaceImage      int
	FrameStream       bool

	// Microphone on the controller. AudioFile is raw 16kHz mono
	// s16le PCM; without it a ToneHz test tone is streamed.
	StreamAudio bool
	AudioFile   string
	ToneHz      int

	// Vision board.
	FrameDir      string
	PatternSize   int
	FrameInterval time.Duration
	SimulateFaces time.Duration
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		LogLevel:          "info",
		Transport:         "tcp",
		Addr:              "127.0.0.1:7070",
		DeviceID:          "doorbell-01",
		BackendMode:       BackendHTTP,
		HTTPTimeout:       15 * time.Second,
		PingInterval:      2500 * time.Millisecond,
		PingTimeout:       5 * time.Second,
		ReconcileInterval: time.Second,
		SettleDelay:       100 * time.Millisecond,
		CameraInterval:    200 * time.Millisecond,
		AudioInterval:     50 * time.Millisecond,
		FaceQueue:         3,
		MaxFaceImage:      50000,
		ToneHz:            440,
		PatternSize:       4096,
		FrameInterval:     100 * time.Millisecond,
	}
}

// Validate checks the configuration and fills derived defaults.
func (c *Config) Validate() error {
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidConfig, err)
	}
	c.Transport = strings.ToLower(c.Transport)
	if c.Transport != "tcp" && c.Transport != "quic" {
		return fmt.Errorf("%w: transport must be tcp or quic, got %q", domain.ErrInvalidConfig, c.Transport)
	}
	if c.Addr == "" {
		return fmt.Errorf("%w: addr is required", domain.ErrInvalidConfig)
	}
	c.BackendURL = strings.TrimRight(c.BackendURL, "/")
	if c.BackendMode != BackendHTTP && c.BackendMode != BackendWebSocket {
		return fmt.Errorf("%w: backend mode must be http or ws, got %q", domain.ErrInvalidConfig, c.BackendMode)
	}
	if c.BackendURL != "" && c.DeviceID == "" {
		return fmt.Errorf("%w: device-id is required with a backend", domain.ErrInvalidConfig)
	}

	for name, d := range map[string]time.Duration{
		"ping-interval":      c.PingInterval,
		"ping-timeout":       c.PingTimeout,
		"reconcile-interval": c.ReconcileInterval,
		"camera-interval":    c.CameraInterval,
		"audio-interval":     c.AudioInterval,
		"frame-interval":     c.FrameInterval,
		"http-timeout":       c.HTTPTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%w: %s must be positive", domain.ErrInvalidConfig, name)
		}
	}
	if c.AudioFile == "" && (c.ToneHz <= 0 || c.ToneHz >= 8000) {
		return fmt.Errorf("%w: tone-hz must be between 1 and 7999, got %d", domain.ErrInvalidConfig, c.ToneHz)
	}
	if c.PingInterval >= c.PingTimeout {
		return fmt.Errorf("%w: ping-interval must be shorter than ping-timeout", domain.ErrInvalidConfig)
	}

	if c.StateDir == "" {
		if h, err := os.UserHomeDir(); err == nil {
			c.StateDir = filepath.Join(h, ".boardlink", "state")
		}
	}
	return nil
}

// configSetter applies values unless the corresponding flag was set
// explicitly on the command line.
type configSetter struct {
	changed map[string]bool
}

func newConfigSetter(changed map[string]bool) *configSetter {
	return &configSetter{changed: changed}
}

func (s *configSetter) setString(flag, value string, dst *string) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value
}

func (s *configSetter) setInt(flag string, value int, dst *int) {
	if value <= 0 || s.changed[flag] {
		return
	}
	*dst = value
}

func (s *configSetter) setDuration(flag, value string, dst *time.Duration) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	*dst = d
	return nil
}

func (s *configSetter) setBool(flag string, value *bool, dst *bool) {
	if value == nil || s.changed[flag] {
		return
	}
	*dst = *value
}

// setIntFromString is setInt for environment values.
func (s *configSetter) setIntFromString(flag, value string, dst *int) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	s.setInt(flag, i, dst)
	return nil
}

// setBoolFromString accepts "true" and "1" as true.
func (s *configSetter) setBoolFromString(flag, value string, dst *bool) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value == "true" || value == "1"
}

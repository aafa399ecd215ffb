// Package boardlink links a doorbell's controller board to its camera board.
//
// The controller (the hub) pulls camera frames over a framed byte link,
// exchanges JSON commands and telemetry with the camera board over a
// second channel, keeps the camera board in the mode it wants and ships
// face events and media to a backend. The boardlink command runs either
// side; this package exposes the pieces an embedder needs to configure it.
//
// Example usage:
//
//	cfg, err := boardlink.LoadConfig("/etc/boardlink/config.toml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	mode, _ := boardlink.ParseMode("recognition")
package boardlink

import (
	"fmt"

	"github.com/bft-labs/boardlink/internal/config"
	"github.com/bft-labs/boardlink/internal/domain"
)

// Config holds the settings for both board roles.
// Use DefaultConfig() to get a Config with sensible defaults.
type Config = config.Config

// Mode is the camera board's operating mode.
type Mode = domain.Mode

// The camera board modes in escalating order.
const (
	ModeStandby           = domain.ModeStandby
	ModeCameraActive      = domain.ModeCameraActive
	ModeRecognitionActive = domain.ModeRecognitionActive
)

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return config.DefaultConfig()
}

// ParseMode accepts a mode name or its number.
func ParseMode(s string) (Mode, error) {
	return domain.ParseMode(s)
}

// LoadConfig builds a validated Config from the defaults, the TOML file
// at path (skipped when path is empty or missing) and BOARDLINK_*
// environment variables, in that order.
func LoadConfig(path string) (Config, error) {
	cfg := config.DefaultConfig()
	if path != "" && config.FileExists(path) {
		fc, err := config.LoadFileConfig(path)
		if err != nil {
			return Config{}, fmt.Errorf("load config: %w", err)
		}
		if err := config.ApplyFileConfig(&cfg, fc, nil); err != nil {
			return Config{}, err
		}
	}
	if err := config.ApplyEnvConfig(&cfg, nil); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

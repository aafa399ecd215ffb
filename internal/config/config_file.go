package config

import (
	"os"
	"path/filepath"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// FileConfig mirrors Config with string durations for TOML.
type FileConfig struct {
	LogLevel          string `toml:"log_level"`
	Transport         string `toml:"transport"`
	Addr              string `toml:"addr"`
	DeviceID          string `toml:"device_id"`
	BackendURL        string `toml:"backend_url"`
	BackendMode       string `toml:"backend_mode"`
	AuthKey           string `toml:"auth_key"`
	HTTPTimeout       string `toml:"http_timeout"`
	PostgresDSN       string `toml:"postgres_dsn"`
	StoreFaceImages   *bool  `toml:"store_face_images"`
	StateDir          string `toml:"state_dir"`
	PingInterval      string `toml:"ping_interval"`
	PingTimeout       string `toml:"ping_timeout"`
	ReconcileInterval string `toml:"reconcile_interval"`
	SettleDelay       string `toml:"settle_delay"`
	CameraInterval    string `toml:"camera_interval"`
	AudioInterval     string `toml:"audio_interval"`
	StreamCamera      *bool  `toml:"stream_camera"`
	FaceQueue         int    `toml:"face_queue"`
	MaxFaceImage      int    `toml:"max_face_image"`
	FrameStream       *bool  `toml:"frame_stream"`
	StreamAudio       *bool  `toml:"stream_audio"`
	AudioFile         string `toml:"audio_file"`
	ToneHz            int    `toml:"tone_hz"`
	FrameDir          string `toml:"frame_dir"`
	PatternSize       int    `toml:"pattern_size"`
	FrameInterval     string `toml:"frame_interval"`
	SimulateFaces     string `toml:"simulate_faces"`
}

// LoadFileConfig reads and parses a TOML config file.
func LoadFileConfig(path string) (FileConfig, error) {
	var fc FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	if err := toml.Unmarshal(b, &fc); err != nil {
		return fc, err
	}
	return fc, nil
}

// DefaultConfigPath returns ~/.boardlink/config.toml, or "" without a
// home directory.
func DefaultConfigPath() string {
	if h, err := os.UserHomeDir(); err == nil {
		return filepath.Join(h, ".boardlink", "config.toml")
	}
	return ""
}

// ApplyFileConfig copies file values into cfg, skipping flags in changed.
func ApplyFileConfig(cfg *Config, fc FileConfig, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("log-level", fc.LogLevel, &cfg.LogLevel)
	s.setString("transport", fc.Transport, &cfg.Transport)
	s.setString("addr", fc.Addr, &cfg.Addr)
	s.setString("device-id", fc.DeviceID, &cfg.DeviceID)
	s.setString("backend-url", fc.BackendURL, &cfg.BackendURL)
	s.setString("backend-mode", fc.BackendMode, &cfg.BackendMode)
	s.setString("auth-key", fc.AuthKey, &cfg.AuthKey)
	s.setString("postgres-dsn", fc.PostgresDSN, &cfg.PostgresDSN)
	s.setString("state-dir", fc.StateDir, &cfg.StateDir)
	s.setString("frame-dir", fc.FrameDir, &cfg.FrameDir)
	s.setString("audio-file", fc.AudioFile, &cfg.AudioFile)

	durations := []struct {
		flag  string
		value string
		dst   *time.Duration
	}{
		{"http-timeout", fc.HTTPTimeout, &cfg.HTTPTimeout},
		{"ping-interval", fc.PingInterval, &cfg.PingInterval},
		{"ping-timeout", fc.PingTimeout, &cfg.PingTimeout},
		{"reconcile-interval", fc.ReconcileInterval, &cfg.ReconcileInterval},
		{"settle-delay", fc.SettleDelay, &cfg.SettleDelay},
		{"camera-interval", fc.CameraInterval, &cfg.CameraInterval},
		{"audio-interval", fc.AudioInterval, &cfg.AudioInterval},
		{"frame-interval", fc.FrameInterval, &cfg.FrameInterval},
		{"simulate-faces", fc.SimulateFaces, &cfg.SimulateFaces},
	}
	for _, d := range durations {
		if err := s.setDuration(d.flag, d.value, d.dst); err != nil {
			return err
		}
	}

	s.setInt("face-queue", fc.FaceQueue, &cfg.FaceQueue)
	s.setInt("max-face-image", fc.MaxFaceImage, &cfg.MaxFaceImage)
	s.setInt("pattern-size", fc.PatternSize, &cfg.PatternSize)
	s.setInt("tone-hz", fc.ToneHz, &cfg.ToneHz)

	s.setBool("store-face-images", fc.StoreFaceImages, &cfg.StoreFaceImages)
	s.setBool("stream-camera", fc.StreamCamera, &cfg.StreamCamera)
	s.setBool("frame-stream", fc.FrameStream, &cfg.FrameStream)
	s.setBool("stream-audio", fc.StreamAudio, &cfg.StreamAudio)

	return nil
}

// FileExists checks if a file exists at the given path.
func FileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}

package config

import "os"

// ApplyEnvConfig applies BOARDLINK_* environment variables, skipping flags
// in changed. It fails on the first malformed value.
func ApplyEnvConfig(cfg *Config, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("log-level", os.Getenv("BOARDLINK_LOG_LEVEL"), &cfg.LogLevel)
	s.setString("transport", os.Getenv("BOARDLINK_TRANSPORT"), &cfg.Transport)
	s.setString("addr", os.Getenv("BOARDLINK_ADDR"), &cfg.Addr)
	s.setString("device-id", os.Getenv("BOARDLINK_DEVICE_ID"), &cfg.DeviceID)
	s.setString("backend-url", os.Getenv("BOARDLINK_BACKEND_URL"), &cfg.BackendURL)
	s.setString("backend-mode", os.Getenv("BOARDLINK_BACKEND_MODE"), &cfg.BackendMode)
	s.setString("auth-key", os.Getenv("BOARDLINK_AUTH_KEY"), &cfg.AuthKey)
	s.setString("postgres-dsn", os.Getenv("BOARDLINK_POSTGRES_DSN"), &cfg.PostgresDSN)
	s.setString("state-dir", os.Getenv("BOARDLINK_STATE_DIR"), &cfg.StateDir)
	s.setString("frame-dir", os.Getenv("BOARDLINK_FRAME_DIR"), &cfg.FrameDir)
	s.setString("audio-file", os.Getenv("BOARDLINK_AUDIO_FILE"), &cfg.AudioFile)

	if err := s.setDuration("http-timeout", os.Getenv("BOARDLINK_HTTP_TIMEOUT"), &cfg.HTTPTimeout); err != nil {
		return err
	}
	if err := s.setDuration("ping-interval", os.Getenv("BOARDLINK_PING_INTERVAL"), &cfg.PingInterval); err != nil {
		return err
	}
	if err := s.setDuration("ping-timeout", os.Getenv("BOARDLINK_PING_TIMEOUT"), &cfg.PingTimeout); err != nil {
		return err
	}
	if err := s.setDuration("reconcile-interval", os.Getenv("BOARDLINK_RECONCILE_INTERVAL"), &cfg.ReconcileInterval); err != nil {
		return err
	}
	if err := s.setDuration("settle-delay", os.Getenv("BOARDLINK_SETTLE_DELAY"), &cfg.SettleDelay); err != nil {
		return err
	}
	if err := s.setDuration("camera-interval", os.Getenv("BOARDLINK_CAMERA_INTERVAL"), &cfg.CameraInterval); err != nil {
		return err
	}
	if err := s.setDuration("audio-interval", os.Getenv("BOARDLINK_AUDIO_INTERVAL"), &cfg.AudioInterval); err != nil {
		return err
	}
	if err := s.setDuration("frame-interval", os.Getenv("BOARDLINK_FRAME_INTERVAL"), &cfg.FrameInterval); err != nil {
		return err
	}
	if err := s.setDuration("simulate-faces", os.Getenv("BOARDLINK_SIMULATE_FACES"), &cfg.SimulateFaces); err != nil {
		return err
	}

	if err := s.setIntFromString("face-queue", os.Getenv("BOARDLINK_FACE_QUEUE"), &cfg.FaceQueue); err != nil {
		return err
	}
	if err := s.setIntFromString("max-face-image", os.Getenv("BOARDLINK_MAX_FACE_IMAGE"), &cfg.MaxFaceImage); err != nil {
		return err
	}
	if err := s.setIntFromString("pattern-size", os.Getenv("BOARDLINK_PATTERN_SIZE"), &cfg.PatternSize); err != nil {
		return err
	}
	if err := s.setIntFromString("tone-hz", os.Getenv("BOARDLINK_TONE_HZ"), &cfg.ToneHz); err != nil {
		return err
	}

	s.setBoolFromString("store-face-images", os.Getenv("BOARDLINK_STORE_FACE_IMAGES"), &cfg.StoreFaceImages)
	s.setBoolFromString("stream-camera", os.Getenv("BOARDLINK_STREAM_CAMERA"), &cfg.StreamCamera)
	s.setBoolFromString("frame-stream", os.Getenv("BOARDLINK_FRAME_STREAM"), &cfg.FrameStream)
	s.setBoolFromString("stream-audio", os.Getenv("BOARDLINK_STREAM_AUDIO"), &cfg.StreamAudio)

	return nil
}

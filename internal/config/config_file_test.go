package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	p := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoadAndApplyFileConfig(t *testing.T) {
	p := writeConfig(t, t.TempDir(), `
log_level = "debug"
transport = "quic"
addr = "10.0.0.2:7070"
device_id = "porch"
backend_url = "https://api.example.com"
camera_interval = "500ms"
stream_camera = true
face_queue = 5
`)
	fc, err := LoadFileConfig(p)
	if err != nil {
		t.Fatal(err)
	}

	cfg := DefaultConfig()
	cfg.Addr = "flag:9"
	if err := ApplyFileConfig(&cfg, fc, map[string]bool{"addr": true}); err != nil {
		t.Fatal(err)
	}

	if cfg.LogLevel != "debug" || cfg.Transport != "quic" || cfg.DeviceID != "porch" {
		t.Errorf("strings not applied: %+v", cfg)
	}
	if cfg.Addr != "flag:9" {
		t.Errorf("Addr = %q, changed flag must win", cfg.Addr)
	}
	if cfg.CameraInterval != 500*time.Millisecond || !cfg.StreamCamera || cfg.FaceQueue != 5 {
		t.Errorf("typed values not applied: %+v", cfg)
	}
	if cfg.AudioInterval != DefaultConfig().AudioInterval {
		t.Errorf("unset key changed AudioInterval to %v", cfg.AudioInterval)
	}
}

func TestApplyFileConfig_BadDuration(t *testing.T) {
	cfg := DefaultConfig()
	err := ApplyFileConfig(&cfg, FileConfig{PingTimeout: "forever"}, nil)
	if err == nil || !strings.Contains(err.Error(), "ping-timeout") {
		t.Fatalf("ApplyFileConfig() = %v, want ping-timeout parse error", err)
	}
}

func TestLoadFileConfig_Errors(t *testing.T) {
	dir := t.TempDir()
	if _, err := LoadFileConfig(filepath.Join(dir, "missing.toml")); !os.IsNotExist(err) {
		t.Errorf("missing file error = %v", err)
	}
	p := writeConfig(t, dir, "addr = [")
	if _, err := LoadFileConfig(p); err == nil {
		t.Error("expected TOML syntax error")
	}
	if !FileExists(p) || FileExists(filepath.Join(dir, "nope")) {
		t.Error("FileExists misreports")
	}
}

func TestDefaultConfigPath(t *testing.T) {
	p := DefaultConfigPath()
	if p != "" && !strings.HasSuffix(p, filepath.Join(".boardlink", "config.toml")) {
		t.Errorf("DefaultConfigPath() = %q", p)
	}
}

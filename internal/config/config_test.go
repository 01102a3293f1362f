package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSetDefaults(t *testing.T) {
	c := &Config{}
	c.SetDefaults()
	if c.Server.Port != 4280 {
		t.Fatalf("expected port 4280, got %d", c.Server.Port)
	}
	if c.Server.Host != "127.0.0.1" {
		t.Fatalf("expected default host")
	}
	if c.Viewer.BaseURL != "http://127.0.0.1:4280" {
		t.Fatalf("unexpected base url %s", c.Viewer.BaseURL)
	}
	if c.Viewer.OnEncodeError != OnEncodeErrorDrop {
		t.Fatalf("expected drop policy")
	}
	if c.Capture.MaxBodyBytes != 1<<20 {
		t.Fatalf("unexpected max body bytes %d", c.Capture.MaxBodyBytes)
	}
	if c.Server.MaxPayloadBytes != 8<<20 {
		t.Fatalf("unexpected max payload bytes %d", c.Server.MaxPayloadBytes)
	}
	if c.Log.Level != "info" || c.Log.Format != "auto" {
		t.Fatalf("unexpected log defaults %+v", c.Log)
	}
}

func TestLoadFromYAML(t *testing.T) {
	tmp := t.TempDir()
	cfgPath := filepath.Join(tmp, "config.yaml")
	content := "server:\n  port: 8080\nviewer:\n  on_encode_error: plain\nstore:\n  path: " + filepath.Join(tmp, "x.db") + "\n"
	if err := os.WriteFile(cfgPath, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != 8080 {
		t.Fatalf("unexpected port %d", cfg.Server.Port)
	}
	if cfg.Viewer.BaseURL != "http://127.0.0.1:8080" {
		t.Fatalf("base url should follow the configured port, got %s", cfg.Viewer.BaseURL)
	}
	if cfg.Viewer.OnEncodeError != OnEncodeErrorPlain {
		t.Fatalf("unexpected policy %s", cfg.Viewer.OnEncodeError)
	}
	if err := cfg.ValidateStore(); err != nil {
		t.Fatalf("validate store: %v", err)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != 4280 {
		t.Fatalf("expected defaults")
	}
}

func TestLoadBadYAML(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("server: [\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(cfgPath); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("HTTPSNAP_SERVER_PORT", "9999")
	t.Setenv("HTTPSNAP_VIEWER_BASE_URL", "https://viewer.example.com")
	t.Setenv("HTTPSNAP_CAPTURE_MAX_BODY_BYTES", "2048")
	cfg, err := Load(filepath.Join(t.TempDir(), "none.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != 9999 {
		t.Fatalf("unexpected port %d", cfg.Server.Port)
	}
	if cfg.Viewer.BaseURL != "https://viewer.example.com" {
		t.Fatalf("unexpected base url %s", cfg.Viewer.BaseURL)
	}
	if cfg.Capture.MaxBodyBytes != 2048 {
		t.Fatalf("unexpected max body bytes %d", cfg.Capture.MaxBodyBytes)
	}
}

func TestValidate(t *testing.T) {
	c := &Config{}
	c.SetDefaults()
	if err := c.Validate(); err != nil {
		t.Fatalf("validate failed: %v", err)
	}

	bad := *c
	bad.Viewer.OnEncodeError = "retry"
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected policy error")
	}

	bad = *c
	bad.Viewer.BaseURL = "/relative"
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected base url error")
	}

	bad = *c
	bad.Server.MaxPayloadBytes = -1
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected max payload error")
	}

	bad = *c
	bad.Capture.MaxBodyBytes = -1
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected max body error")
	}
}

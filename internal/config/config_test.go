package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTmpConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	p := filepath.Join(dir, "config.yml")
	if err := os.WriteFile(p, []byte(content), 0644); err != nil {
		t.Fatalf("write tmp config: %v", err)
	}
	return p
}

func TestLoadValidConfig(t *testing.T) {
	cfg, err := Load(writeTmpConfig(t, `
anpx:
  node:
    hostname: "test-host"
  control:
    socket: "/tmp/test.sock"
    pid_file: "/tmp/test.pid"
  log:
    level: "debug"
  metrics:
    enabled: true
    listen: "0.0.0.0:9090"
    path: "/metrics"
  gateway:
    listen: ":8443"
    ws_path: "/anpx/connect"
`))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Node.Hostname != "test-host" {
		t.Errorf("Node.Hostname = %q, want test-host", cfg.Node.Hostname)
	}
	if cfg.Control.Socket != "/tmp/test.sock" {
		t.Errorf("Control.Socket = %q", cfg.Control.Socket)
	}
	if cfg.Control.PIDFile != "/tmp/test.pid" {
		t.Errorf("Control.PIDFile = %q", cfg.Control.PIDFile)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q", cfg.Log.Level)
	}
	if !cfg.Metrics.Enabled {
		t.Error("Metrics.Enabled = false, want true")
	}
	if cfg.Gateway.Listen != ":8443" {
		t.Errorf("Gateway.Listen = %q", cfg.Gateway.Listen)
	}
}

func TestLoadInvalidLogLevel(t *testing.T) {
	_, err := Load(writeTmpConfig(t, `
anpx:
  log:
    level: "invalid"
`))
	if err == nil {
		t.Fatal("expected error for invalid log level")
	}
	if !strings.Contains(err.Error(), "invalid log level") {
		t.Errorf("error = %v, want 'invalid log level'", err)
	}
}

func TestAutoDetectHostname(t *testing.T) {
	cfg, err := Load(writeTmpConfig(t, `
anpx:
  log:
    level: "info"
`))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Node.Hostname == "" {
		t.Error("expected auto-detected hostname, got empty")
	}
	expected, _ := os.Hostname()
	if cfg.Node.Hostname != expected {
		t.Errorf("Node.Hostname = %q, want %q", cfg.Node.Hostname, expected)
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeTmpConfig(t, `
anpx:
  node:
    hostname: "h"
`))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Control.PIDFile != "/var/run/anpx.pid" {
		t.Errorf("Control.PIDFile = %q, want /var/run/anpx.pid", cfg.Control.PIDFile)
	}
	if cfg.Control.Socket != "/var/run/anpx.sock" {
		t.Errorf("Control.Socket = %q, want /var/run/anpx.sock", cfg.Control.Socket)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want info", cfg.Log.Level)
	}
	if !cfg.Metrics.Enabled {
		t.Error("Metrics.Enabled = false, want true")
	}
	if cfg.Metrics.Listen != ":9091" {
		t.Errorf("Metrics.Listen = %q, want :9091", cfg.Metrics.Listen)
	}
	if cfg.Gateway.Listen != ":8443" {
		t.Errorf("Gateway.Listen = %q, want :8443", cfg.Gateway.Listen)
	}
	if cfg.Gateway.ChunkSize != 65536 {
		t.Errorf("Gateway.ChunkSize = %d, want 65536", cfg.Gateway.ChunkSize)
	}
	if cfg.Receiver.Reconnect.MaxDelay.String() != "5m0s" {
		t.Errorf("Receiver.Reconnect.MaxDelay = %v, want 5m0s", cfg.Receiver.Reconnect.MaxDelay)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("ANPX_LOG_LEVEL", "debug")

	cfg, err := Load(writeTmpConfig(t, `
anpx:
  log:
    level: "info"
`))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want debug (from env)", cfg.Log.Level)
	}
}

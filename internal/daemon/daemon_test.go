package daemon

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"firestige.xyz/anpx/internal/config"
)

type fakeService struct {
	mu      sync.Mutex
	started bool
	stopped bool
}

func (f *fakeService) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = true
	return nil
}

func (f *fakeService) Stop(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
	return nil
}

func (f *fakeService) Stats() map[string]interface{} {
	return map[string]interface{}{"fake": true}
}

func TestDaemon_StartStopIntegration(t *testing.T) {
	tmpDir := t.TempDir()

	socketPath := filepath.Join(tmpDir, "anpx.sock")
	pidFile := filepath.Join(tmpDir, "anpx.pid")

	configPath := filepath.Join(tmpDir, "config.yml")
	configContent := `
anpx:
  control:
    socket: ` + socketPath + `
    pid_file: ` + pidFile + `

  log:
    level: debug

  metrics:
    enabled: false

  gateway:
    listen: "127.0.0.1:0"

  receiver:
    gateway_url: "ws://127.0.0.1:0/ws"
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	svc := &fakeService{}
	d, err := New("test", configPath, socketPath, pidFile, func(*config.GlobalConfig) (Service, error) {
		return svc, nil
	})
	if err != nil {
		t.Fatalf("failed to create daemon: %v", err)
	}

	if err := d.Start(); err != nil {
		t.Fatalf("failed to start daemon: %v", err)
	}

	if _, err := os.Stat(pidFile); os.IsNotExist(err) {
		t.Errorf("PID file was not created: %s", pidFile)
	}

	time.Sleep(100 * time.Millisecond)
	if _, err := os.Stat(socketPath); os.IsNotExist(err) {
		t.Errorf("UDS socket was not created: %s", socketPath)
	}

	svc.mu.Lock()
	started := svc.started
	svc.mu.Unlock()
	if !started {
		t.Error("service was not started")
	}

	runDone := make(chan error, 1)
	go func() {
		runDone <- d.Run()
	}()

	time.Sleep(100 * time.Millisecond)
	d.TriggerShutdown()

	select {
	case err := <-runDone:
		if err != nil {
			t.Errorf("daemon.Run() returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not stop within timeout")
	}

	svc.mu.Lock()
	stopped := svc.stopped
	svc.mu.Unlock()
	if !stopped {
		t.Error("service was not stopped")
	}

	if _, err := os.Stat(pidFile); !os.IsNotExist(err) {
		t.Errorf("PID file was not removed after shutdown: %s", pidFile)
	}
	if _, err := os.Stat(socketPath); !os.IsNotExist(err) {
		t.Errorf("UDS socket was not removed after shutdown: %s", socketPath)
	}
}

func TestDaemon_StatsDelegation(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yml")
	configContent := `
anpx:
  log:
    level: info
  metrics:
    enabled: false
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	d, err := New("test", configPath, filepath.Join(tmpDir, "s.sock"), "", func(*config.GlobalConfig) (Service, error) {
		return &fakeService{}, nil
	})
	if err != nil {
		t.Fatalf("failed to create daemon: %v", err)
	}

	if got := d.Stats(); len(got) != 0 {
		t.Errorf("expected empty stats before Start, got %v", got)
	}

	d.service = &fakeService{}
	stats := d.Stats()
	if stats["fake"] != true {
		t.Errorf("expected service stats to be surfaced, got %v", stats)
	}
	if stats["daemon"] != "test" {
		t.Errorf("expected daemon name in stats, got %v", stats["daemon"])
	}
}

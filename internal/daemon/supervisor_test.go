package daemon

import (
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"testing"
	"time"
)

func TestStartWritesPIDFileAndStartsServices(t *testing.T) {
	pidPath := filepath.Join(t.TempDir(), "mama.pid")
	var started int32
	svc := Service{
		Name:  "alpha",
		Start: func() error { atomic.AddInt32(&started, 1); return nil },
		Stop:  func() error { return nil },
	}
	cfg := DefaultConfig(pidPath)
	sup := New(cfg, []Service{svc})

	if err := sup.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer sup.Stop()

	if atomic.LoadInt32(&started) != 1 {
		t.Fatalf("expected service to be started once")
	}
	data, err := os.ReadFile(pidPath)
	if err != nil {
		t.Fatalf("expected pid file to exist: %v", err)
	}
	if len(data) == 0 {
		t.Fatalf("expected non-empty pid file")
	}
}

func TestStartFailsWhenAlreadyRunning(t *testing.T) {
	pidPath := filepath.Join(t.TempDir(), "mama.pid")
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		t.Fatalf("seed pid file: %v", err)
	}
	sup := New(DefaultConfig(pidPath), nil)
	if err := sup.Start(); err == nil {
		t.Fatalf("expected Start() to fail when pid file names a live process")
	}
}

func TestStartReclaimsStaleDeadPID(t *testing.T) {
	pidPath := filepath.Join(t.TempDir(), "mama.pid")
	// A PID essentially guaranteed not to be alive.
	if err := os.WriteFile(pidPath, []byte("999999"), 0o644); err != nil {
		t.Fatalf("seed pid file: %v", err)
	}
	sup := New(DefaultConfig(pidPath), nil)
	if err := sup.Start(); err != nil {
		t.Fatalf("expected Start() to reclaim a stale dead-pid file, got error: %v", err)
	}
	sup.Stop()
}

func TestStopRemovesPIDFileAndIsIdempotent(t *testing.T) {
	pidPath := filepath.Join(t.TempDir(), "mama.pid")
	sup := New(DefaultConfig(pidPath), nil)
	if err := sup.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := sup.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if _, err := os.Stat(pidPath); !os.IsNotExist(err) {
		t.Fatalf("expected pid file removed after Stop()")
	}
	if err := sup.Stop(); err != nil {
		t.Fatalf("expected second Stop() to be a no-op, got error: %v", err)
	}
}

func TestHealthCheckRestartsUnhealthyService(t *testing.T) {
	pidPath := filepath.Join(t.TempDir(), "mama.pid")
	var starts, stops int32
	svc := Service{
		Name:        "flaky",
		Start:       func() error { atomic.AddInt32(&starts, 1); return nil },
		Stop:        func() error { atomic.AddInt32(&stops, 1); return nil },
		HealthCheck: func() bool { return false },
	}
	cfg := Config{PIDFile: pidPath, HealthCheckInterval: 5 * time.Millisecond}
	sup := New(cfg, []Service{svc})
	if err := sup.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer sup.Stop()

	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		if atomic.LoadInt32(&starts) >= 2 && atomic.LoadInt32(&stops) >= 1 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected unhealthy service to be restarted, starts=%d stops=%d", starts, stops)
}

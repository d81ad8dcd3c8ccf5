// Package daemon implements the service supervisor described in
// spec.md §4.11. Grounded on the teacher's gateway.AcquireEnhancedGatewayLock
// signal-0 process-alive probe (os.FindProcess + Signal(syscall.Signal(0))),
// generalized from a single-instance lock file to a PID file plus an
// ordered list of managed services with an optional health-check loop.
package daemon

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"
)

// Service is one daemon-managed component.
type Service struct {
	Name        string
	Start       func() error
	Stop        func() error
	HealthCheck func() bool // optional; nil means never checked
}

// Config tunes the Supervisor.
type Config struct {
	PIDFile             string
	HealthCheckInterval time.Duration
}

// DefaultConfig returns the spec's default 30s health-check interval.
func DefaultConfig(pidFile string) Config {
	return Config{PIDFile: pidFile, HealthCheckInterval: 30 * time.Second}
}

// Supervisor owns the set of managed services and the health-check loop.
type Supervisor struct {
	cfg      Config
	services []Service
	logger   *slog.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// Option configures a Supervisor at construction time.
type Option func(*Supervisor)

// WithLogger overrides the supervisor's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Supervisor) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New constructs a Supervisor. Services start in the order given and stop
// in reverse order.
func New(cfg Config, services []Service, opts ...Option) *Supervisor {
	if cfg.HealthCheckInterval <= 0 {
		cfg.HealthCheckInterval = 30 * time.Second
	} else if cfg.HealthCheckInterval < 5*time.Second {
		cfg.HealthCheckInterval = 5 * time.Second
	}
	s := &Supervisor{cfg: cfg, services: services, logger: slog.Default().With("component", "daemon")}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start checks for an already-running instance via the PID file, writes the
// current PID, starts every service in order, and installs the
// health-check loop.
func (s *Supervisor) Start() error {
	running, pid := s.pidFileOwnerAlive()
	if running {
		return fmt.Errorf("daemon: already running (pid %d)", pid)
	}

	if err := s.writePIDFile(); err != nil {
		return fmt.Errorf("daemon: write pid file: %w", err)
	}

	for _, svc := range s.services {
		if svc.Start == nil {
			continue
		}
		if err := svc.Start(); err != nil {
			_ = s.removePIDFile()
			return fmt.Errorf("daemon: start service %s: %w", svc.Name, err)
		}
		s.logger.Info("service started", "service", svc.Name)
	}

	s.mu.Lock()
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.mu.Unlock()

	go s.healthLoop()
	return nil
}

// Stop clears the health-check loop, stops every service in reverse order,
// and deletes the PID file. Stop on a not-running daemon is idempotent.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	if s.running {
		close(s.stopCh)
		done := s.doneCh
		s.mu.Unlock()
		<-done
	} else {
		s.mu.Unlock()
	}

	var errs []string
	for i := len(s.services) - 1; i >= 0; i-- {
		svc := s.services[i]
		if svc.Stop == nil {
			continue
		}
		if err := svc.Stop(); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", svc.Name, err))
			continue
		}
		s.logger.Info("service stopped", "service", svc.Name)
	}

	_ = s.removePIDFile()

	if len(errs) > 0 {
		return fmt.Errorf("daemon: stop errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (s *Supervisor) healthLoop() {
	defer func() {
		s.mu.Lock()
		s.running = false
		close(s.doneCh)
		s.mu.Unlock()
	}()

	ticker := time.NewTicker(s.cfg.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.checkHealth()
		}
	}
}

func (s *Supervisor) checkHealth() {
	for _, svc := range s.services {
		if svc.HealthCheck == nil {
			continue
		}
		if svc.HealthCheck() {
			continue
		}
		s.logger.Warn("service unhealthy, restarting", "service", svc.Name)
		if svc.Stop != nil {
			if err := svc.Stop(); err != nil {
				s.logger.Error("failed to stop unhealthy service", "service", svc.Name, "error", err)
			}
		}
		if svc.Start != nil {
			if err := svc.Start(); err != nil {
				s.logger.Error("failed to restart unhealthy service", "service", svc.Name, "error", err)
			}
		}
	}
}

// pidFileOwnerAlive reports whether the PID file names a still-running
// process, tolerating a missing file or a dead PID.
func (s *Supervisor) pidFileOwnerAlive() (bool, int) {
	if s.cfg.PIDFile == "" {
		return false, 0
	}
	data, err := os.ReadFile(s.cfg.PIDFile)
	if err != nil {
		return false, 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return false, 0
	}
	return isProcessAlive(pid), pid
}

func isProcessAlive(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}

func (s *Supervisor) writePIDFile() error {
	if s.cfg.PIDFile == "" {
		return nil
	}
	return os.WriteFile(s.cfg.PIDFile, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func (s *Supervisor) removePIDFile() error {
	if s.cfg.PIDFile == "" {
		return nil
	}
	err := os.Remove(s.cfg.PIDFile)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

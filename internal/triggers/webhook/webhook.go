// Package webhook runs the optional HTTP trigger listener described in
// spec.md §4.10. Grounded on the daemon's local HTTP API style (bearer
// token validation, loopback net/http server) generalized to a
// per-hook-id bearer token and a fire-and-forget RunTask dispatch.
package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/haasonsaas/mama/internal/audit"
	"github.com/haasonsaas/mama/pkg/types"
)

// RunTask executes a webhook trigger's rendered task text.
type RunTask func(ctx context.Context, prompt string) error

// Hook binds a webhook id to a bearer token and a task template. The
// template's {payload} placeholder is expanded with the request body.
type Hook struct {
	ID       string
	Token    string
	Template string
}

// Server is a loopback-bindable HTTP listener serving POST /hooks/<id>.
type Server struct {
	runTask RunTask
	audit   audit.Store
	logger  *slog.Logger

	mu    sync.RWMutex
	hooks map[string]Hook

	srv *http.Server
}

// Option configures a Server at construction time.
type Option func(*Server)

// WithLogger overrides the server's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New constructs a webhook Server. Register hooks with AddHook before
// calling Start.
func New(runTask RunTask, auditStore audit.Store, opts ...Option) *Server {
	s := &Server{
		runTask: runTask,
		audit:   auditStore,
		logger:  slog.Default().With("component", "triggers.webhook"),
		hooks:   make(map[string]Hook),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddHook registers or replaces a webhook by id.
func (s *Server) AddHook(h Hook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks[h.ID] = h
}

// RemoveHook unregisters a webhook by id.
func (s *Server) RemoveHook(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.hooks, id)
}

// Start binds the listener to addr (expected to be a loopback address)
// and begins serving in a background goroutine.
func (s *Server) Start(addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/hooks/", s.handle)

	s.srv = &http.Server{Addr: addr, Handler: mux}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("webhook: listen %s: %w", addr, err)
	}
	go func() {
		if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("webhook server exited", "error", err)
		}
	}()
	return nil
}

// Stop gracefully shuts down the webhook server.
func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/hooks/")
	if id == "" || strings.Contains(id, "/") {
		http.NotFound(w, r)
		return
	}

	s.mu.RLock()
	hook, ok := s.hooks[id]
	s.mu.RUnlock()
	if !ok {
		http.NotFound(w, r)
		return
	}

	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") || strings.TrimPrefix(auth, "Bearer ") != hook.Token {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	payload := payloadString(body)
	prompt := strings.ReplaceAll(hook.Template, "{payload}", payload)

	w.WriteHeader(http.StatusAccepted)

	ctx := context.Background()
	go func() {
		runErr := s.runTask(ctx, prompt)
		result := types.ResultSuccess
		errMsg := ""
		if runErr != nil {
			result = types.ResultError
			errMsg = runErr.Error()
			s.logger.Warn("webhook trigger task failed", "hook", id, "error", runErr)
		}
		if s.audit != nil {
			_ = s.audit.Append(ctx, types.AuditEntry{
				Capability:  "triggers.webhook",
				Action:      "invoke",
				Resource:    id,
				Decision:    types.DecisionAutoApproved,
				Result:      result,
				Error:       errMsg,
				RequestedBy: id,
				Timestamp:   time.Now(),
			})
		}
	}()
}

// payloadString renders the request body as its JSON-decoded form when it
// parses as JSON, or as the raw string otherwise.
func payloadString(body []byte) string {
	var v any
	if err := json.Unmarshal(body, &v); err == nil {
		if encoded, err := json.Marshal(v); err == nil {
			return string(encoded)
		}
	}
	return string(body)
}

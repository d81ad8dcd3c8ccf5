// Package httpapi implements the loopback-only local HTTP API described in
// spec.md §6. Grounded on the teacher's gateway.startHTTPServer (plain
// net/http + net.Listen, no framework) and web.AuthMiddleware's bearer-token
// check, generalized from the teacher's session-cookie auth to a single
// static bearer token passed to New. No token is generated: when the token
// is empty, every request is rejected with 401.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/haasonsaas/mama/internal/audit"
	"github.com/haasonsaas/mama/internal/llm/cost"
	"github.com/haasonsaas/mama/pkg/types"
)

// ChatFunc drives a single round of the agent loop for an inbound API
// message and returns the reply content plus which model/provider served it.
type ChatFunc func(ctx context.Context, message string) (content, model, provider string, err error)

// MemorySearchFunc resolves a free-text query against the memory engine,
// returning the retrieval pipeline's formatted context block.
type MemorySearchFunc func(ctx context.Context, query string) (string, error)

// JobLister/JobCreator decouple the API from the scheduler package.
type JobLister func(ctx context.Context) ([]types.Job, error)
type JobCreator func(ctx context.Context, name, schedule, task string) (types.Job, error)

// StatusFunc returns a daemon status snapshot, left to the caller to shape.
type StatusFunc func(ctx context.Context) (map[string]any, error)

// Dependencies bundles everything the API surface needs. Any field may be
// left nil; handlers report 503 when their dependency is unavailable.
type Dependencies struct {
	Chat          ChatFunc
	MemorySearch  MemorySearchFunc
	ListJobs      JobLister
	CreateJob     JobCreator
	Audit         audit.Store
	Cost          *cost.Tracker
	Status        StatusFunc
}

// Server is the bearer-token-protected loopback HTTP API.
type Server struct {
	token  string
	deps   Dependencies
	logger *slog.Logger
	srv    *http.Server
}

// New constructs a Server. token is compared verbatim against the
// Authorization: Bearer <token> header on every request.
func New(token string, deps Dependencies, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{token: token, deps: deps, logger: logger.With("component", "httpapi")}
}

// Start binds to a loopback address (e.g. "127.0.0.1:8787") and serves
// until Stop is called.
func (s *Server) Start(addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/message", s.withAuth(s.handleMessage))
	mux.HandleFunc("/api/status", s.withAuth(s.handleStatus))
	mux.HandleFunc("/api/jobs", s.withAuth(s.handleJobs))
	mux.HandleFunc("/api/audit", s.withAuth(s.handleAudit))
	mux.HandleFunc("/api/memory/search", s.withAuth(s.handleMemorySearch))
	mux.HandleFunc("/api/cost", s.withAuth(s.handleCost))
	mux.HandleFunc("/", s.withAuth(s.handleNotFound))

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("httpapi: listen: %w", err)
	}
	s.srv = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", "error", err)
		}
	}()
	s.logger.Info("httpapi listening", "addr", addr)
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *Server) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token != s.token || s.token == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	}
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, "unknown route")
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusBadRequest, "POST required")
		return
	}
	if s.deps.Chat == nil {
		writeError(w, http.StatusServiceUnavailable, "chat dependency unavailable")
		return
	}
	var body struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || strings.TrimSpace(body.Message) == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}
	content, model, provider, err := s.deps.Chat(r.Context(), body.Message)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"content": content, "model": model, "provider": provider})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.deps.Status == nil {
		writeError(w, http.StatusServiceUnavailable, "status dependency unavailable")
		return
	}
	snapshot, err := s.deps.Status(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if s.deps.ListJobs == nil {
			writeError(w, http.StatusServiceUnavailable, "jobs dependency unavailable")
			return
		}
		jobs, err := s.deps.ListJobs(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
	case http.MethodPost:
		if s.deps.CreateJob == nil {
			writeError(w, http.StatusServiceUnavailable, "jobs dependency unavailable")
			return
		}
		var body struct {
			Schedule string `json:"schedule"`
			Task     string `json:"task"`
			Name     string `json:"name"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Schedule == "" || body.Task == "" {
			writeError(w, http.StatusBadRequest, "schedule and task are required")
			return
		}
		job, err := s.deps.CreateJob(r.Context(), body.Name, body.Schedule, body.Task)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"id": job.ID})
	default:
		writeError(w, http.StatusBadRequest, "GET or POST required")
	}
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	if s.deps.Audit == nil {
		writeError(w, http.StatusServiceUnavailable, "audit dependency unavailable")
		return
	}
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 100 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 100")
			return
		}
		limit = n
	}
	entries, err := s.deps.Audit.GetRecent(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (s *Server) handleMemorySearch(w http.ResponseWriter, r *http.Request) {
	if s.deps.MemorySearch == nil {
		writeError(w, http.StatusServiceUnavailable, "memory dependency unavailable")
		return
	}
	q := r.URL.Query().Get("q")
	if strings.TrimSpace(q) == "" {
		writeError(w, http.StatusBadRequest, "q is required")
		return
	}
	result, err := s.deps.MemorySearch(r.Context(), q)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": result})
}

func (s *Server) handleCost(w http.ResponseWriter, r *http.Request) {
	if s.deps.Cost == nil {
		writeError(w, http.StatusServiceUnavailable, "cost dependency unavailable")
		return
	}
	summary, err := s.deps.Cost.ThisMonth(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// Package server exposes the agent loop over HTTP: a streaming chat
// endpoint and the control surface for pending edits, undo, approval mode,
// the workspace and provider discovery.
package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/tetsuocode/tetsuocode/agentloop"
	"github.com/tetsuocode/tetsuocode/internal/config"
	"github.com/tetsuocode/tetsuocode/unifiedllm"
)

// Options are the collaborators of a Server. Env defaults to a local
// environment over Workspace; Edits defaults to a store built from
// Config.Tools.
type Options struct {
	Config    config.Config
	Registry  *unifiedllm.Registry
	Streamer  unifiedllm.Streamer
	Workspace *agentloop.Workspace
	Env       agentloop.ExecutionEnvironment
	Edits     *agentloop.EditStore
	Models    ModelLister
	Logger    *slog.Logger
}

// Server routes API requests to the agent loop and its shared state.
type Server struct {
	registry *unifiedllm.Registry
	streamer unifiedllm.Streamer
	ws       *agentloop.Workspace
	env      agentloop.ExecutionEnvironment
	edits    *agentloop.EditStore
	models   ModelLister
	logger   *slog.Logger
	runs     *runRegistry

	mu  sync.RWMutex
	cfg config.Config
}

// New creates a Server.
func New(opts Options) *Server {
	s := &Server{
		registry: opts.Registry,
		streamer: opts.Streamer,
		ws:       opts.Workspace,
		env:      opts.Env,
		edits:    opts.Edits,
		models:   opts.Models,
		logger:   opts.Logger,
		runs:     newRunRegistry(),
		cfg:      opts.Config,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.registry == nil {
		s.registry = unifiedllm.NewRegistry()
	}
	if s.env == nil {
		s.env = agentloop.NewLocalExecutionEnvironment(s.ws)
	}
	if s.ws == nil {
		s.ws = s.env.Workspace()
	}
	if s.edits == nil {
		s.edits = agentloop.NewEditStore(
			agentloop.WithUndoLimit(opts.Config.Tools.UndoLimit),
			agentloop.WithApprovalMode(opts.Config.Tools.ApprovalMode),
		)
	}
	return s
}

func (s *Server) config() config.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Reconfigure applies settings that may change while the server runs:
// approval mode, the workspace root, chat defaults and the password.
func (s *Server) Reconfigure(cfg config.Config) {
	s.mu.Lock()
	old := s.cfg
	s.cfg = cfg
	s.mu.Unlock()

	if old.Tools.ApprovalMode != cfg.Tools.ApprovalMode {
		s.edits.SetApprovalMode(cfg.Tools.ApprovalMode)
		s.logger.Info("approval mode changed", "enabled", cfg.Tools.ApprovalMode)
	}
	if old.Workspace != cfg.Workspace && cfg.Workspace != "" {
		root, err := s.ws.SetRoot(cfg.Workspace)
		if err != nil {
			s.logger.Error("workspace not changed", "path", cfg.Workspace, "error", err)
		} else {
			s.logger.Info("workspace changed", "path", root)
		}
	}
}

// CancelRuns stops every chat run in flight and returns how many there
// were.
func (s *Server) CancelRuns() int {
	return s.runs.cancelAll()
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(api chi.Router) {
		api.Post("/auth", s.handleLogin)
		api.Get("/auth/check", s.handleAuthCheck)

		api.Group(func(pr chi.Router) {
			pr.Use(s.requireAuth)

			pr.Post("/chat", s.handleChat)
			pr.Post("/cancel", s.handleCancel)
			pr.Post("/reset", s.handleReset)

			pr.Get("/pending", s.handleListPending)
			pr.Post("/pending/{id}/approve", s.handleApprove)
			pr.Post("/pending/{id}/reject", s.handleReject)
			pr.Post("/undo", s.handleUndo)

			pr.Get("/approval", s.handleGetApproval)
			pr.Post("/approval", s.handleSetApproval)
			pr.Get("/workspace", s.handleGetWorkspace)
			pr.Post("/workspace", s.handleSetWorkspace)

			pr.Get("/providers", s.handleProviders)
			pr.Get("/models", s.handleModels)
		})
	})
	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// decodeBody decodes an optional JSON body into v. An empty body leaves v
// untouched.
func decodeBody(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

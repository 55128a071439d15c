package server

import (
	"context"
	"net/http"
	"sync"
)

// runRegistry tracks cancel functions of chat runs in flight.
type runRegistry struct {
	mu   sync.Mutex
	runs map[string]context.CancelFunc
}

func newRunRegistry() *runRegistry {
	return &runRegistry{runs: make(map[string]context.CancelFunc)}
}

// start derives a cancellable context for run id. The returned finish
// function cancels it and forgets the run.
func (r *runRegistry) start(parent context.Context, id string) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)
	r.mu.Lock()
	r.runs[id] = cancel
	r.mu.Unlock()
	return ctx, func() {
		cancel()
		r.mu.Lock()
		delete(r.runs, id)
		r.mu.Unlock()
	}
}

func (r *runRegistry) cancel(id string) bool {
	r.mu.Lock()
	cancel, ok := r.runs[id]
	r.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

func (r *runRegistry) cancelAll() int {
	r.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(r.runs))
	for _, c := range r.runs {
		cancels = append(cancels, c)
	}
	r.mu.Unlock()
	for _, c := range cancels {
		c()
	}
	return len(cancels)
}

func (r *runRegistry) active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.runs)
}

type cancelRequest struct {
	RunID string `json:"run_id"`
}

// handleCancel stops one run, or every run when no id is given.
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.RunID == "" {
		n := s.runs.cancelAll()
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "cancelled": n})
		return
	}
	if !s.runs.cancel(req.RunID) {
		writeErr(w, http.StatusNotFound, "run not found")
		return
	}
	s.logger.Info("run cancelled", "run_id", req.RunID)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "cancelled": 1})
}

// handleReset cancels every run and drops pending edits. Undo history is
// kept.
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	runs := s.runs.cancelAll()
	pending := s.edits.ClearPending()
	s.logger.Info("reset", "runs_cancelled", runs, "pending_dropped", pending)
	writeJSON(w, http.StatusOK, map[string]any{
		"success":         true,
		"cancelled":       runs,
		"pending_dropped": pending,
	})
}

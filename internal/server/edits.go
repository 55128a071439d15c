package server

import (
	"errors"
	"net/http"
	"path/filepath"

	"github.com/go-chi/chi/v5"

	"github.com/tetsuocode/tetsuocode/agentloop"
)

func (s *Server) handleListPending(w http.ResponseWriter, r *http.Request) {
	pending := s.edits.Pending()
	writeJSON(w, http.StatusOK, map[string]any{
		"pending": pending,
		"count":   len(pending),
	})
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	s.resolvePending(w, r, s.edits.Approve, "approved")
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	s.resolvePending(w, r, s.edits.Reject, "rejected")
}

func (s *Server) resolvePending(w http.ResponseWriter, r *http.Request, fn func(string) (agentloop.PendingEdit, error), verb string) {
	id := chi.URLParam(r, "id")
	edit, err := fn(id)
	switch {
	case errors.Is(err, agentloop.ErrPendingNotFound):
		writeErr(w, http.StatusNotFound, "pending edit not found")
		return
	case err != nil:
		s.logger.Error("pending edit failed", "id", id, "action", verb, "error", err)
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.logger.Info("pending edit "+verb, "id", id, "path", edit.Path)
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"id":      edit.ID,
		"path":    edit.Path,
	})
}

func (s *Server) handleUndo(w http.ResponseWriter, r *http.Request) {
	entry, err := s.edits.Undo()
	switch {
	case errors.Is(err, agentloop.ErrNothingToUndo):
		writeErr(w, http.StatusConflict, "nothing to undo")
		return
	case err != nil:
		s.logger.Error("undo failed", "error", err)
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.logger.Info("change undone", "path", entry.Path, "tool", entry.ToolName)
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"path":      entry.Path,
		"tool_name": entry.ToolName,
		"remaining": s.edits.UndoDepth(),
	})
}

type approvalRequest struct {
	Enabled *bool `json:"enabled"`
}

func (s *Server) handleGetApproval(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": s.edits.ApprovalMode()})
}

func (s *Server) handleSetApproval(w http.ResponseWriter, r *http.Request) {
	var req approvalRequest
	if err := decodeBody(r, &req); err != nil || req.Enabled == nil {
		writeErr(w, http.StatusBadRequest, "enabled is required")
		return
	}
	s.edits.SetApprovalMode(*req.Enabled)
	s.logger.Info("approval mode set", "enabled", *req.Enabled)
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": *req.Enabled})
}

type workspaceRequest struct {
	Path string `json:"path"`
}

func (s *Server) handleGetWorkspace(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"workspace": filepath.ToSlash(s.ws.Root())})
}

func (s *Server) handleSetWorkspace(w http.ResponseWriter, r *http.Request) {
	var req workspaceRequest
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Path == "" {
		writeErr(w, http.StatusBadRequest, "path is required")
		return
	}
	root, err := s.ws.SetRoot(req.Path)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}
	s.logger.Info("workspace changed", "path", root)
	writeJSON(w, http.StatusOK, map[string]string{"workspace": filepath.ToSlash(root)})
}

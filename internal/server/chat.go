package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/tetsuocode/tetsuocode/agentloop"
	"github.com/tetsuocode/tetsuocode/unifiedllm"
)

// eventBuffer is how many client events a run may queue ahead of a slow
// reader before it blocks.
const eventBuffer = 64

type chatRequest struct {
	Messages     []unifiedllm.OpenAIMessage `json:"messages"`
	Model        string                     `json:"model"`
	Temperature  *float64                   `json:"temperature"`
	MaxTokens    int                        `json:"max_tokens"`
	SystemPrompt string                     `json:"system_prompt"`
	Provider     string                     `json:"provider"`
	APIKey       string                     `json:"api_key"`
}

func setSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

func writeEvent(w io.Writer, ev agentloop.StreamEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", payload)
	return err
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	history, err := unifiedllm.FromOpenAIMessages(req.Messages)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeErr(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	cfg := s.config()
	providerID := req.Provider
	if providerID == "" {
		providerID = cfg.Chat.DefaultProvider
	}

	setSSEHeaders(w)

	target, err := s.registry.Resolve(providerID, req.APIKey)
	if err != nil {
		w.WriteHeader(http.StatusOK)
		_ = writeEvent(w, agentloop.ErrorEvent(err, req.APIKey))
		flusher.Flush()
		return
	}

	model := req.Model
	if model == "" {
		if providerID == cfg.Chat.DefaultProvider && cfg.Chat.DefaultModel != "" {
			model = cfg.Chat.DefaultModel
		} else if len(target.Provider.Models) > 0 {
			model = target.Provider.Models[0]
		}
	}
	temperature := req.Temperature
	if temperature == nil {
		t := cfg.Chat.Temperature
		temperature = &t
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = cfg.Chat.MaxTokens
	}

	session := agentloop.NewSession(s.streamer, target, s.env, s.edits, agentloop.SessionConfig{
		Model:          model,
		Temperature:    temperature,
		MaxTokens:      maxTokens,
		MaxIterations:  cfg.Chat.MaxIterations,
		SystemPrompt:   req.SystemPrompt,
		CommandTimeout: cfg.Tools.CommandTimeout,
		GrepTimeout:    cfg.Tools.GrepTimeout,
	}, agentloop.WithSessionLogger(s.logger))

	ctx, finish := s.runs.start(r.Context(), session.ID())
	defer finish()

	w.Header().Set("X-Run-ID", session.ID())
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	emitter := agentloop.NewEventEmitter(eventBuffer)
	go func() {
		defer emitter.Close()
		if err := session.Run(ctx, history, emitter); err != nil && ctx.Err() == nil &&
			!errors.Is(err, agentloop.ErrMaxIterations) {
			s.logger.Debug("run ended with error", "run_id", session.ID(), "error", unifiedllm.Redact(err.Error(), target.APIKey))
		}
	}()

	broken := false
	for ev := range emitter.Events() {
		if broken {
			continue
		}
		if err := writeEvent(w, ev); err != nil {
			s.logger.Info("client disconnected", "run_id", session.ID(), "error", err)
			broken = true
			finish()
			continue
		}
		flusher.Flush()
	}
}

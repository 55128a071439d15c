package agentloop

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tetsuocode/tetsuocode/unifiedllm"
)

// SessionState is the controller's position in the request cycle.
type SessionState string

const (
	StateSending      SessionState = "sending"
	StateStreaming    SessionState = "streaming"
	StateToolsPending SessionState = "tools_pending"
	StateExecuting    SessionState = "executing"
	StateDone         SessionState = "done"
	StateError        SessionState = "error"
)

// DefaultMaxIterations is the ceiling on provider round trips per run.
const DefaultMaxIterations = 10

// SessionConfig holds per-run settings.
type SessionConfig struct {
	Model          string
	Temperature    *float64
	MaxTokens      int
	MaxIterations  int
	SystemPrompt   string // replaces the default prompt when set
	CommandTimeout time.Duration
	GrepTimeout    time.Duration
}

// DefaultSessionConfig returns the stock configuration.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		MaxTokens:      4096,
		MaxIterations:  DefaultMaxIterations,
		CommandTimeout: 30 * time.Second,
		GrepTimeout:    10 * time.Second,
	}
}

// Session drives one chat request: it streams a model turn, forwards
// content to the client, runs requested tools in slot order, and repeats
// until the model finishes or the iteration ceiling is hit.
type Session struct {
	id       string
	streamer unifiedllm.Streamer
	target   unifiedllm.Target
	tools    *ToolRegistry
	env      ExecutionEnvironment
	edits    *EditStore
	config   SessionConfig
	logger   *slog.Logger

	mu         sync.Mutex
	state      SessionState
	conv       *Conversation
	usage      unifiedllm.Usage
	iterations int
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithSessionLogger sets the session's logger.
func WithSessionLogger(logger *slog.Logger) SessionOption {
	return func(s *Session) {
		s.logger = logger
	}
}

// WithToolRegistry replaces the core tool set.
func WithToolRegistry(reg *ToolRegistry) SessionOption {
	return func(s *Session) {
		s.tools = reg
	}
}

// NewSession creates a session bound to one provider target.
func NewSession(streamer unifiedllm.Streamer, target unifiedllm.Target, env ExecutionEnvironment, edits *EditStore, config SessionConfig, opts ...SessionOption) *Session {
	defaults := DefaultSessionConfig()
	if config.MaxIterations <= 0 {
		config.MaxIterations = defaults.MaxIterations
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = defaults.MaxTokens
	}
	if config.CommandTimeout <= 0 {
		config.CommandTimeout = defaults.CommandTimeout
	}
	if config.GrepTimeout <= 0 {
		config.GrepTimeout = defaults.GrepTimeout
	}

	s := &Session{
		id:       uuid.NewString(),
		streamer: streamer,
		target:   target,
		env:      env,
		edits:    edits,
		config:   config,
		logger:   slog.Default(),
		state:    StateSending,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.tools == nil {
		s.tools = NewToolRegistry()
		RegisterCoreTools(s.tools)
	}
	s.logger = s.logger.With("run_id", s.id, "provider", target.Provider.ID)
	return s
}

// ID returns the run identifier.
func (s *Session) ID() string { return s.id }

// State returns the current state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Iterations returns how many provider requests have been issued.
func (s *Session) Iterations() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.iterations
}

// Usage returns token usage summed over the run.
func (s *Session) Usage() unifiedllm.Usage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usage
}

// Messages returns a copy of the run's conversation.
func (s *Session) Messages() []unifiedllm.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conv == nil {
		return nil
	}
	return s.conv.Messages()
}

func (s *Session) setState(st SessionState) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// assistantTurn is what one streamed response produced.
type assistantTurn struct {
	text   string
	calls  []unifiedllm.ToolCall
	finish string
}

// Run executes the loop over history and reports every event to out. It
// returns nil after a Done event, the terminal error after an Error event,
// or ctx.Err() when the client went away.
func (s *Session) Run(ctx context.Context, history []unifiedllm.Message, out Emitter) error {
	start := time.Now()
	s.mu.Lock()
	s.conv = NewConversation(BuildSystemPrompt(s.config.SystemPrompt, s.env, s.config.Model), history)
	s.mu.Unlock()

	s.logger.Info("run started", "model", s.config.Model, "messages", len(history))
	err := s.loop(ctx, out)
	s.logger.Info("run finished",
		"state", s.State(),
		"iterations", s.Iterations(),
		"duration", time.Since(start),
		"input_tokens", s.Usage().InputTokens,
		"output_tokens", s.Usage().OutputTokens,
	)
	return err
}

func (s *Session) loop(ctx context.Context, out Emitter) error {
	tc := &ToolContext{
		Env:            s.env,
		Edits:          s.edits,
		CommandTimeout: s.config.CommandTimeout,
		GrepTimeout:    s.config.GrepTimeout,
		Logger:         s.logger,
	}
	defs := s.tools.Definitions()

	for i := 0; i < s.config.MaxIterations; i++ {
		s.mu.Lock()
		s.state = StateSending
		s.iterations = i + 1
		req := unifiedllm.Request{
			Model:       s.config.Model,
			Messages:    s.conv.Messages(),
			Tools:       defs,
			Temperature: s.config.Temperature,
			MaxTokens:   s.config.MaxTokens,
		}
		s.mu.Unlock()

		dec, err := s.streamer.Stream(ctx, s.target, req)
		if err != nil {
			return s.fail(ctx, out, err)
		}
		s.setState(StateStreaming)
		turn, err := s.consume(ctx, dec, out)
		dec.Close()
		if err != nil {
			return s.fail(ctx, out, err)
		}

		if turn.finish != unifiedllm.FinishToolCalls || len(turn.calls) == 0 {
			s.mu.Lock()
			s.conv.AppendAssistant(turn.text, nil)
			s.mu.Unlock()
			s.setState(StateDone)
			if err := out.Emit(ctx, StreamEvent{Type: EventDone}); err != nil {
				return err
			}
			return nil
		}

		s.mu.Lock()
		s.state = StateToolsPending
		s.conv.AppendAssistant(turn.text, turn.calls)
		s.mu.Unlock()

		if err := s.execute(ctx, turn.calls, tc, out); err != nil {
			s.setState(StateError)
			return err
		}
		if DetectLoop(s.Messages(), loopWindow) {
			s.logger.Warn("model is repeating the same tool calls", "iteration", i+1)
		}
	}
	return s.fail(ctx, out, ErrMaxIterations)
}

// consume drains one response, forwarding content and usage as they
// arrive and accumulating tool-call fragments.
func (s *Session) consume(ctx context.Context, dec unifiedllm.StreamDecoder, out Emitter) (assistantTurn, error) {
	var (
		turn assistantTurn
		text strings.Builder
	)
	acc := unifiedllm.NewToolCallAccumulator()

	for dec.Next() {
		ev := dec.Event()
		switch ev.Type {
		case unifiedllm.TextDelta:
			text.WriteString(ev.Delta)
			if err := out.Emit(ctx, StreamEvent{Type: EventContent, Content: ev.Delta}); err != nil {
				return turn, err
			}
		case unifiedllm.ToolCallDelta:
			if ev.ToolCall != nil {
				acc.Add(*ev.ToolCall)
			}
		case unifiedllm.StreamUsage:
			if ev.Usage == nil {
				continue
			}
			s.mu.Lock()
			s.usage = s.usage.Add(*ev.Usage)
			s.mu.Unlock()
			if err := out.Emit(ctx, usageEvent(*ev.Usage)); err != nil {
				return turn, err
			}
		case unifiedllm.StreamFinish:
			if ev.FinishReason != nil {
				turn.finish = ev.FinishReason.Reason
			}
		case unifiedllm.StreamError:
			return turn, ev.Err
		}
		if err := ctx.Err(); err != nil {
			return turn, err
		}
	}
	if err := dec.Err(); err != nil {
		if ctx.Err() != nil {
			return turn, ctx.Err()
		}
		return turn, err
	}
	if err := ctx.Err(); err != nil {
		return turn, err
	}

	turn.text = text.String()
	turn.calls = acc.Finalize()
	return turn, nil
}

// execute runs tool calls one at a time in slot order.
func (s *Session) execute(ctx context.Context, calls []unifiedllm.ToolCall, tc *ToolContext, out Emitter) error {
	s.setState(StateExecuting)
	for _, call := range calls {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := out.Emit(ctx, StreamEvent{
			Type: EventToolCall,
			ID:   call.ID,
			Name: call.Name,
			Args: Clip(call.Arguments, ClientArgsLimit),
		}); err != nil {
			return err
		}

		start := time.Now()
		payload, err := s.tools.Execute(ctx, call.Name, call.Arguments, tc)
		s.logger.Info("tool executed",
			"tool", call.Name,
			"call_id", call.ID,
			"duration", time.Since(start),
			"error", err != nil,
		)
		if err != nil {
			s.logger.Debug("tool error", "tool", call.Name, "error", unifiedllm.Redact(err.Error(), s.target.APIKey))
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		result := unifiedllm.ToolResult{
			ToolCallID: call.ID,
			Payload:    payload,
		}
		s.mu.Lock()
		s.conv.AppendToolResult(result)
		s.mu.Unlock()

		if err := out.Emit(ctx, StreamEvent{
			Type:   EventToolResult,
			ID:     call.ID,
			Name:   call.Name,
			Result: Clip(unifiedllm.Redact(result.Payload, s.target.APIKey), ClientResultLimit),
		}); err != nil {
			return err
		}
	}
	return nil
}

// fail moves to the Error state and reports err to the client unless the
// client is already gone.
func (s *Session) fail(ctx context.Context, out Emitter, err error) error {
	s.setState(StateError)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, ErrMaxIterations) {
		s.logger.Warn("iteration ceiling reached", "max_iterations", s.config.MaxIterations)
	} else {
		s.logger.Error("run failed", "error", unifiedllm.Redact(err.Error(), s.target.APIKey))
	}
	if emitErr := out.Emit(ctx, ErrorEvent(err, s.target.APIKey)); emitErr != nil {
		return emitErr
	}
	return err
}

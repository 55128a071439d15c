package agentloop

import (
	"context"
	"sync"

	"github.com/tetsuocode/tetsuocode/unifiedllm"
)

// EventType is the discriminator of the client event stream.
type EventType string

const (
	EventContent    EventType = "content"
	EventToolCall   EventType = "tool_call"
	EventToolResult EventType = "tool_result"
	EventUsage      EventType = "usage"
	EventError      EventType = "error"
	EventDone       EventType = "done"
)

// UsagePayload is the token accounting sent to clients.
type UsagePayload struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// StreamEvent is one provider-agnostic event sent to the client. Error
// events carry their message in Content.
type StreamEvent struct {
	Type    EventType     `json:"type"`
	Content string        `json:"content,omitempty"`
	ID      string        `json:"id,omitempty"`
	Name    string        `json:"name,omitempty"`
	Args    string        `json:"args,omitempty"`
	Result  string        `json:"result,omitempty"`
	Usage   *UsagePayload `json:"usage,omitempty"`
}

// ErrorEvent builds an error event with secrets redacted from err.
func ErrorEvent(err error, secrets ...string) StreamEvent {
	return StreamEvent{Type: EventError, Content: unifiedllm.Redact(err.Error(), secrets...)}
}

func usageEvent(u unifiedllm.Usage) StreamEvent {
	return StreamEvent{Type: EventUsage, Usage: &UsagePayload{
		PromptTokens:     u.InputTokens,
		CompletionTokens: u.OutputTokens,
		TotalTokens:      u.TotalTokens,
	}}
}

// Emitter receives client events in order. Emit blocks until the event is
// accepted or ctx is done.
type Emitter interface {
	Emit(ctx context.Context, ev StreamEvent) error
}

// EventEmitter delivers events over a channel to one consumer, typically
// the HTTP handler writing the response.
type EventEmitter struct {
	ch     chan StreamEvent
	closed bool
	mu     sync.Mutex
}

// NewEventEmitter creates an emitter with the given buffer.
func NewEventEmitter(bufferSize int) *EventEmitter {
	if bufferSize < 0 {
		bufferSize = 0
	}
	return &EventEmitter{ch: make(chan StreamEvent, bufferSize)}
}

// Emit waits for room on the channel or for ctx to end. Events are never
// dropped.
func (e *EventEmitter) Emit(ctx context.Context, ev StreamEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case e.ch <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Events returns the read side.
func (e *EventEmitter) Events() <-chan StreamEvent {
	return e.ch
}

// Close closes the channel. Only the producer may call it, after its last
// Emit. Safe to call more than once.
func (e *EventEmitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.closed = true
		close(e.ch)
	}
}

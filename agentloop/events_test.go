package agentloop

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/tetsuocode/tetsuocode/unifiedllm"
)

func TestStreamEventJSON(t *testing.T) {
	tests := []struct {
		name string
		ev   StreamEvent
		want string
	}{
		{"content", StreamEvent{Type: EventContent, Content: "hi"}, `{"type":"content","content":"hi"}`},
		{"done", StreamEvent{Type: EventDone}, `{"type":"done"}`},
		{"tool call", StreamEvent{Type: EventToolCall, ID: "c1", Name: "read_file", Args: `{}`}, `{"type":"tool_call","id":"c1","name":"read_file","args":"{}"}`},
		{"usage", usageEvent(unifiedllm.Usage{InputTokens: 1, OutputTokens: 2, TotalTokens: 3}), `{"type":"usage","usage":{"prompt_tokens":1,"completion_tokens":2,"total_tokens":3}}`},
		{"error", ErrorEvent(errors.New("bad key sk-1"), "sk-1"), `{"type":"error","content":"bad key [REDACTED]"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.ev)
			if err != nil {
				t.Fatal(err)
			}
			if string(data) != tt.want {
				t.Errorf("got %s, want %s", data, tt.want)
			}
		})
	}
}

func TestEventEmitter(t *testing.T) {
	e := NewEventEmitter(1)
	ctx := context.Background()

	go func() {
		defer e.Close()
		for _, c := range []string{"a", "b", "c"} {
			if err := e.Emit(ctx, StreamEvent{Type: EventContent, Content: c}); err != nil {
				t.Error(err)
				return
			}
		}
	}()

	var got string
	for ev := range e.Events() {
		got += ev.Content
	}
	if got != "abc" {
		t.Errorf("received %q, want abc", got)
	}
	e.Close()
}

func TestEventEmitterBlockedEmitHonoursContext(t *testing.T) {
	e := NewEventEmitter(0)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := e.Emit(ctx, StreamEvent{Type: EventDone})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Emit = %v, want deadline exceeded", err)
	}
}

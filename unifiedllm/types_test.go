package unifiedllm

import (
	"testing"
)

func TestMessageConstructors(t *testing.T) {
	t.Run("SystemMessage", func(t *testing.T) {
		msg := SystemMessage("You are helpful.")
		if msg.Role != RoleSystem {
			t.Errorf("expected role %q, got %q", RoleSystem, msg.Role)
		}
		if msg.TextContent() != "You are helpful." {
			t.Errorf("expected text %q, got %q", "You are helpful.", msg.TextContent())
		}
	})

	t.Run("AssistantMessage without text", func(t *testing.T) {
		msg := AssistantMessage("", ToolCall{ID: "call_1", Name: "read_file", Arguments: `{}`})
		if len(msg.Content) != 0 {
			t.Errorf("expected no content parts, got %d", len(msg.Content))
		}
		if len(msg.ToolCalls) != 1 {
			t.Fatalf("expected 1 tool call, got %d", len(msg.ToolCalls))
		}
	})

	t.Run("ToolResultMessage", func(t *testing.T) {
		msg := ToolResultMessage("call_123", `{"content":"72F"}`)
		if msg.Role != RoleTool {
			t.Errorf("expected role %q, got %q", RoleTool, msg.Role)
		}
		if msg.ToolCallID != "call_123" {
			t.Errorf("expected tool_call_id %q, got %q", "call_123", msg.ToolCallID)
		}
		if msg.TextContent() != `{"content":"72F"}` {
			t.Errorf("unexpected payload %q", msg.TextContent())
		}
	})
}

func TestMessageHasImages(t *testing.T) {
	msg := Message{Role: RoleUser, Content: []ContentPart{
		TextPart("what is this?"),
		ImageURLPart("data:image/png;base64,AAAA", ""),
	}}
	if !msg.HasImages() {
		t.Error("expected HasImages = true")
	}
	if UserMessage("plain").HasImages() {
		t.Error("expected HasImages = false for text-only message")
	}
	if msg.TextContent() != "what is this?" {
		t.Errorf("expected text content to skip images, got %q", msg.TextContent())
	}
}

func TestUsageAdd(t *testing.T) {
	a := Usage{InputTokens: 10, TotalTokens: 10}
	b := Usage{OutputTokens: 5, TotalTokens: 5}
	sum := a.Add(b)
	if sum.InputTokens != 10 || sum.OutputTokens != 5 || sum.TotalTokens != 15 {
		t.Errorf("unexpected sum %+v", sum)
	}
}

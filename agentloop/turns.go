package agentloop

import (
	"github.com/tetsuocode/tetsuocode/unifiedllm"
)

// Conversation is the append-only message list owned by one run.
type Conversation struct {
	messages []unifiedllm.Message
}

// NewConversation starts a conversation with an optional system prompt
// followed by the client's messages.
func NewConversation(systemPrompt string, history []unifiedllm.Message) *Conversation {
	c := &Conversation{messages: make([]unifiedllm.Message, 0, len(history)+1)}
	if systemPrompt != "" {
		c.messages = append(c.messages, unifiedllm.SystemMessage(systemPrompt))
	}
	c.messages = append(c.messages, history...)
	return c
}

// AppendAssistant records an assistant turn. A turn with neither text nor
// tool calls is not recorded.
func (c *Conversation) AppendAssistant(text string, calls []unifiedllm.ToolCall) {
	if text == "" && len(calls) == 0 {
		return
	}
	c.messages = append(c.messages, unifiedllm.AssistantMessage(text, calls...))
}

// AppendToolResult records the result of one tool call.
func (c *Conversation) AppendToolResult(result unifiedllm.ToolResult) {
	c.messages = append(c.messages, unifiedllm.ToolResultMessage(result.ToolCallID, result.Payload))
}

// Messages returns a copy of the conversation.
func (c *Conversation) Messages() []unifiedllm.Message {
	out := make([]unifiedllm.Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// Len returns the number of messages.
func (c *Conversation) Len() int { return len(c.messages) }

package unifiedllm

import (
	"encoding/json"
	"fmt"
)

// OpenAIMessage is a chat-completions message on the wire. Content is a
// JSON string, an array of content parts, or null.
type OpenAIMessage struct {
	Role       string           `json:"role"`
	Content    json.RawMessage  `json:"content"`
	ToolCalls  []OpenAIToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

// OpenAIToolCall is an assistant tool call on the wire.
type OpenAIToolCall struct {
	ID       string             `json:"id"`
	Type     string             `json:"type"`
	Function OpenAIFunctionCall `json:"function"`
}

// OpenAIFunctionCall carries the function name and raw argument text.
type OpenAIFunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// OpenAIContentPart is one element of an array-valued content field.
type OpenAIContentPart struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	ImageURL *OpenAIImageURL `json:"image_url,omitempty"`
}

// OpenAIImageURL wraps an image reference for type "image_url" parts.
type OpenAIImageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

// OpenAITool advertises a function tool.
type OpenAITool struct {
	Type     string         `json:"type"`
	Function ToolDefinition `json:"function"`
}

// ToOpenAIMessages maps the canonical conversation onto the OpenAI schema.
func ToOpenAIMessages(msgs []Message) []OpenAIMessage {
	out := make([]OpenAIMessage, 0, len(msgs))
	for _, m := range msgs {
		wire := OpenAIMessage{
			Role:       string(m.Role),
			Content:    openAIContent(m),
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			wire.ToolCalls = append(wire.ToolCalls, OpenAIToolCall{
				ID:       tc.ID,
				Type:     "function",
				Function: OpenAIFunctionCall{Name: tc.Name, Arguments: tc.Arguments},
			})
		}
		out = append(out, wire)
	}
	return out
}

func openAIContent(m Message) json.RawMessage {
	if m.HasImages() {
		parts := make([]OpenAIContentPart, 0, len(m.Content))
		for _, p := range m.Content {
			switch p.Kind {
			case ContentText:
				parts = append(parts, OpenAIContentPart{Type: "text", Text: p.Text})
			case ContentImage:
				if p.Image != nil {
					parts = append(parts, OpenAIContentPart{
						Type:     "image_url",
						ImageURL: &OpenAIImageURL{URL: p.Image.URL, Detail: p.Image.Detail},
					})
				}
			}
		}
		return mustMarshal(parts)
	}
	text := m.TextContent()
	if text == "" && m.Role == RoleAssistant && len(m.ToolCalls) > 0 {
		return json.RawMessage("null")
	}
	return mustMarshal(text)
}

// FromOpenAIMessages maps OpenAI-shaped messages, as sent by chat clients,
// into the canonical conversation.
func FromOpenAIMessages(wire []OpenAIMessage) ([]Message, error) {
	out := make([]Message, 0, len(wire))
	for i, w := range wire {
		role := Role(w.Role)
		switch role {
		case RoleSystem, RoleUser, RoleAssistant, RoleTool:
		default:
			return nil, fmt.Errorf("message %d: unsupported role %q", i, w.Role)
		}

		parts, err := parseOpenAIContent(w.Content)
		if err != nil {
			return nil, fmt.Errorf("message %d: %w", i, err)
		}
		msg := Message{Role: role, Content: parts, ToolCallID: w.ToolCallID}
		for _, tc := range w.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, ToolCall{
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			})
		}
		if role == RoleTool && msg.ToolCallID == "" {
			return nil, fmt.Errorf("message %d: tool message without tool_call_id", i)
		}
		out = append(out, msg)
	}
	return out, nil
}

func parseOpenAIContent(raw json.RawMessage) ([]ContentPart, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		if text == "" {
			return nil, nil
		}
		return []ContentPart{TextPart(text)}, nil
	}
	var wireParts []OpenAIContentPart
	if err := json.Unmarshal(raw, &wireParts); err != nil {
		return nil, fmt.Errorf("content must be a string or an array of parts: %w", err)
	}
	parts := make([]ContentPart, 0, len(wireParts))
	for _, p := range wireParts {
		switch p.Type {
		case "text":
			parts = append(parts, TextPart(p.Text))
		case "image_url":
			if p.ImageURL != nil && p.ImageURL.URL != "" {
				parts = append(parts, ImageURLPart(p.ImageURL.URL, p.ImageURL.Detail))
			}
		}
	}
	return parts, nil
}

// ToOpenAITools wraps tool definitions as function tools.
func ToOpenAITools(defs []ToolDefinition) []OpenAITool {
	tools := make([]OpenAITool, len(defs))
	for i, d := range defs {
		tools[i] = OpenAITool{Type: "function", Function: d}
	}
	return tools
}

func mustMarshal(v interface{}) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("unifiedllm: marshal %T: %v", v, err))
	}
	return b
}

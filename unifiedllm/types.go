// Package unifiedllm holds the provider-agnostic conversation model and the
// wire plumbing that maps it onto the OpenAI and Anthropic streaming APIs.
package unifiedllm

import (
	"strings"
)

// Role identifies who produced a message in a conversation.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ContentKind is the discriminator tag for ContentPart.
type ContentKind string

const (
	ContentText  ContentKind = "text"
	ContentImage ContentKind = "image"
)

// ImageData holds an image reference. URL is either a remote URL or a
// data URI ("data:image/png;base64,...").
type ImageData struct {
	URL       string `json:"url"`
	MediaType string `json:"media_type,omitempty"`
	Detail    string `json:"detail,omitempty"`
}

// ContentPart is a tagged union representing one part of a message.
type ContentPart struct {
	Kind  ContentKind `json:"kind"`
	Text  string      `json:"text,omitempty"`
	Image *ImageData  `json:"image,omitempty"`
}

// TextPart creates a text ContentPart.
func TextPart(text string) ContentPart {
	return ContentPart{Kind: ContentText, Text: text}
}

// ImageURLPart creates an image ContentPart from a URL or data URI.
func ImageURLPart(url, detail string) ContentPart {
	return ContentPart{
		Kind:  ContentImage,
		Image: &ImageData{URL: url, Detail: detail},
	}
}

// ToolCall is a fully accumulated tool invocation. Arguments is the raw
// JSON text exactly as the model produced it, which may be invalid.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolResult is the JSON payload produced by executing one tool call.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Payload    string `json:"payload"`
}

// Message is the fundamental unit of conversation.
//
// A tool message carries its payload as a single text part and references
// exactly one prior assistant tool call through ToolCallID. An assistant
// message with tool calls may have empty content.
type Message struct {
	Role       Role          `json:"role"`
	Content    []ContentPart `json:"content"`
	ToolCalls  []ToolCall    `json:"tool_calls,omitempty"`
	ToolCallID string        `json:"tool_call_id,omitempty"`
}

// TextContent returns the concatenation of all text content parts.
func (m Message) TextContent() string {
	var sb strings.Builder
	for _, part := range m.Content {
		if part.Kind == ContentText {
			sb.WriteString(part.Text)
		}
	}
	return sb.String()
}

// HasImages reports whether any content part is an image.
func (m Message) HasImages() bool {
	for _, part := range m.Content {
		if part.Kind == ContentImage && part.Image != nil {
			return true
		}
	}
	return false
}

// SystemMessage creates a system Message.
func SystemMessage(text string) Message {
	return Message{Role: RoleSystem, Content: []ContentPart{TextPart(text)}}
}

// UserMessage creates a user Message with text content.
func UserMessage(text string) Message {
	return Message{Role: RoleUser, Content: []ContentPart{TextPart(text)}}
}

// AssistantMessage creates an assistant Message. Empty text yields no
// content parts.
func AssistantMessage(text string, toolCalls ...ToolCall) Message {
	msg := Message{Role: RoleAssistant, ToolCalls: toolCalls}
	if text != "" {
		msg.Content = []ContentPart{TextPart(text)}
	}
	return msg
}

// ToolResultMessage creates a tool Message answering toolCallID.
func ToolResultMessage(toolCallID, payload string) Message {
	return Message{
		Role:       RoleTool,
		Content:    []ContentPart{TextPart(payload)},
		ToolCallID: toolCallID,
	}
}

// ToolDefinition describes a tool to the model.
type ToolDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// Request is one streaming round-trip to a provider.
type Request struct {
	Model       string           `json:"model"`
	Messages    []Message        `json:"messages"`
	Tools       []ToolDefinition `json:"tools,omitempty"`
	Temperature *float64         `json:"temperature,omitempty"`
	MaxTokens   int              `json:"max_tokens"`
}

// Finish reasons, normalized across dialects.
const (
	FinishStop      = "stop"
	FinishToolCalls = "tool_calls"
	FinishLength    = "length"
	FinishOther     = "other"
)

// FinishReason describes why generation stopped.
type FinishReason struct {
	Reason string `json:"reason"`
	Raw    string `json:"raw,omitempty"`
}

// Usage tracks token consumption reported by a provider.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Add returns a new Usage that is the sum of u and other.
func (u Usage) Add(other Usage) Usage {
	return Usage{
		InputTokens:  u.InputTokens + other.InputTokens,
		OutputTokens: u.OutputTokens + other.OutputTokens,
		TotalTokens:  u.TotalTokens + other.TotalTokens,
	}
}

// ToolCallFragment is one partial write to a tool-call slot.
type ToolCallFragment struct {
	Index          int    `json:"index"`
	ID             string `json:"id,omitempty"`
	NameDelta      string `json:"name_delta,omitempty"`
	ArgumentsDelta string `json:"arguments_delta,omitempty"`
}

// StreamEventType identifies the kind of decoded stream event.
type StreamEventType string

const (
	TextDelta     StreamEventType = "text_delta"
	ToolCallDelta StreamEventType = "tool_call_delta"
	StreamUsage   StreamEventType = "usage"
	StreamFinish  StreamEventType = "finish"
	StreamError   StreamEventType = "error"
)

// StreamEvent is a single canonical event decoded from a provider stream.
type StreamEvent struct {
	Type         StreamEventType   `json:"type"`
	Delta        string            `json:"delta,omitempty"`
	ToolCall     *ToolCallFragment `json:"tool_call,omitempty"`
	FinishReason *FinishReason     `json:"finish_reason,omitempty"`
	Usage        *Usage            `json:"usage,omitempty"`
	Err          error             `json:"-"`
}

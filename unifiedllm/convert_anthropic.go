package unifiedllm

import (
	"encoding/json"
	"strings"
)

// AnthropicMessage is a Messages API turn. Content is always sent as
// blocks.
type AnthropicMessage struct {
	Role    string           `json:"role"`
	Content []AnthropicBlock `json:"content"`
}

// AnthropicBlock is one content block. Only the fields relevant to Type
// are populated.
type AnthropicBlock struct {
	Type      string                `json:"type"`
	Text      string                `json:"text,omitempty"`
	ID        string                `json:"id,omitempty"`
	Name      string                `json:"name,omitempty"`
	Input     json.RawMessage       `json:"input,omitempty"`
	ToolUseID string                `json:"tool_use_id,omitempty"`
	Content   string                `json:"content,omitempty"`
	Source    *AnthropicImageSource `json:"source,omitempty"`
}

// AnthropicImageSource is the source of an image block.
type AnthropicImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

// AnthropicTool advertises a tool with its input schema.
type AnthropicTool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

// AnthropicConversion is the result of mapping a canonical conversation.
// OrphanedToolResults counts tool results that answered no preceding
// tool_use block; they are still delivered, inside a user turn.
type AnthropicConversion struct {
	System              string
	Messages            []AnthropicMessage
	OrphanedToolResults int
}

// ToAnthropicMessages maps the canonical conversation onto the Anthropic
// schema. System messages move to the top-level system field, tool results
// fold into the most recent user turn (or a new one), and assistant tool
// calls become tool_use blocks carrying parsed input objects.
func ToAnthropicMessages(msgs []Message) AnthropicConversion {
	var out AnthropicConversion
	var system []string
	toolUseIDs := make(map[string]bool)

	for _, m := range msgs {
		switch m.Role {
		case RoleSystem:
			if text := m.TextContent(); text != "" {
				system = append(system, text)
			}

		case RoleTool:
			if !toolUseIDs[m.ToolCallID] {
				out.OrphanedToolResults++
			}
			block := AnthropicBlock{
				Type:      "tool_result",
				ToolUseID: m.ToolCallID,
				Content:   m.TextContent(),
			}
			if n := len(out.Messages); n > 0 && out.Messages[n-1].Role == string(RoleUser) {
				out.Messages[n-1].Content = append(out.Messages[n-1].Content, block)
			} else {
				out.Messages = append(out.Messages, AnthropicMessage{
					Role:    string(RoleUser),
					Content: []AnthropicBlock{block},
				})
			}

		case RoleAssistant:
			var blocks []AnthropicBlock
			if text := m.TextContent(); text != "" {
				blocks = append(blocks, AnthropicBlock{Type: "text", Text: text})
			}
			for _, tc := range m.ToolCalls {
				toolUseIDs[tc.ID] = true
				blocks = append(blocks, AnthropicBlock{
					Type:  "tool_use",
					ID:    tc.ID,
					Name:  tc.Name,
					Input: toolInput(tc.Arguments),
				})
			}
			if len(blocks) > 0 {
				out.Messages = append(out.Messages, AnthropicMessage{Role: string(RoleAssistant), Content: blocks})
			}

		default:
			blocks := anthropicBlocks(m.Content)
			if len(blocks) > 0 {
				out.Messages = append(out.Messages, AnthropicMessage{Role: string(m.Role), Content: blocks})
			}
		}
	}
	out.System = strings.Join(system, "\n\n")
	return out
}

func anthropicBlocks(parts []ContentPart) []AnthropicBlock {
	blocks := make([]AnthropicBlock, 0, len(parts))
	for _, p := range parts {
		switch p.Kind {
		case ContentText:
			if p.Text != "" {
				blocks = append(blocks, AnthropicBlock{Type: "text", Text: p.Text})
			}
		case ContentImage:
			if p.Image == nil || p.Image.URL == "" {
				continue
			}
			if mediaType, data, ok := ParseDataURI(p.Image.URL); ok {
				blocks = append(blocks, AnthropicBlock{
					Type:   "image",
					Source: &AnthropicImageSource{Type: "base64", MediaType: mediaType, Data: data},
				})
			} else {
				blocks = append(blocks, AnthropicBlock{
					Type:   "image",
					Source: &AnthropicImageSource{Type: "url", URL: p.Image.URL},
				})
			}
		}
	}
	return blocks
}

// toolInput parses raw argument text into a JSON object. Anything that is
// not an object becomes {}.
func toolInput(arguments string) json.RawMessage {
	var obj map[string]interface{}
	if err := json.Unmarshal([]byte(arguments), &obj); err != nil || obj == nil {
		return json.RawMessage("{}")
	}
	return mustMarshal(obj)
}

// ParseDataURI splits "data:<media-type>;base64,<data>". ok is false for
// anything that is not a base64 data URI.
func ParseDataURI(uri string) (mediaType, data string, ok bool) {
	rest, found := strings.CutPrefix(uri, "data:")
	if !found {
		return "", "", false
	}
	header, payload, found := strings.Cut(rest, ",")
	if !found {
		return "", "", false
	}
	mediaType, encoding, found := strings.Cut(header, ";")
	if !found || encoding != "base64" {
		return "", "", false
	}
	if mediaType == "" {
		mediaType = "image/png"
	}
	return mediaType, payload, true
}

// FromAnthropicMessages maps Anthropic turns back into the canonical
// conversation. tool_result blocks become tool messages placed before any
// remaining user content of the same turn.
func FromAnthropicMessages(system string, msgs []AnthropicMessage) []Message {
	var out []Message
	if system != "" {
		out = append(out, SystemMessage(system))
	}
	for _, am := range msgs {
		switch am.Role {
		case string(RoleAssistant):
			var text strings.Builder
			var calls []ToolCall
			for _, b := range am.Content {
				switch b.Type {
				case "text":
					text.WriteString(b.Text)
				case "tool_use":
					args := string(b.Input)
					if args == "" {
						args = "{}"
					}
					calls = append(calls, ToolCall{ID: b.ID, Name: b.Name, Arguments: args})
				}
			}
			out = append(out, AssistantMessage(text.String(), calls...))

		default:
			var parts []ContentPart
			for _, b := range am.Content {
				switch b.Type {
				case "tool_result":
					out = append(out, ToolResultMessage(b.ToolUseID, b.Content))
				case "text":
					parts = append(parts, TextPart(b.Text))
				case "image":
					if b.Source == nil {
						continue
					}
					url := b.Source.URL
					if b.Source.Type == "base64" {
						url = "data:" + b.Source.MediaType + ";base64," + b.Source.Data
					}
					parts = append(parts, ContentPart{
						Kind:  ContentImage,
						Image: &ImageData{URL: url, MediaType: b.Source.MediaType},
					})
				}
			}
			if len(parts) > 0 {
				out = append(out, Message{Role: Role(am.Role), Content: parts})
			}
		}
	}
	return out
}

// ToAnthropicTools converts tool definitions to Anthropic tool entries.
func ToAnthropicTools(defs []ToolDefinition) []AnthropicTool {
	tools := make([]AnthropicTool, len(defs))
	for i, d := range defs {
		tools[i] = AnthropicTool{Name: d.Name, Description: d.Description, InputSchema: d.Parameters}
	}
	return tools
}

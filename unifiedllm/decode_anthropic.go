package unifiedllm

import (
	"encoding/json"
	"log/slog"
)

type anthropicFrame struct {
	Type    string `json:"type"`
	Index   int    `json:"index"`
	Message *struct {
		Usage *struct {
			InputTokens int `json:"input_tokens"`
		} `json:"usage"`
	} `json:"message"`
	ContentBlock *struct {
		Type string `json:"type"`
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"content_block"`
	Delta *struct {
		Type        string `json:"type"`
		Text        string `json:"text"`
		PartialJSON string `json:"partial_json"`
		StopReason  string `json:"stop_reason"`
	} `json:"delta"`
	Usage *struct {
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error json.RawMessage `json:"error"`
}

// anthropicState tracks which block indexes are tool_use blocks so that
// input_json_delta fragments for unknown blocks are ignored.
type anthropicState struct {
	toolBlocks map[int]bool
}

func newAnthropicDecoder(frames frameSource, logger *slog.Logger) *frameDecoder {
	st := &anthropicState{toolBlocks: make(map[int]bool)}
	d := &frameDecoder{frames: frames, logger: logger}
	d.parse = func(frame sseFrame) ([]StreamEvent, bool) {
		return st.parse(d, frame)
	}
	return d
}

// parse handles "event: <name>" / "data: <json>" pairs. When the event
// line is missing the data's own type field names the event.
func (st *anthropicState) parse(d *frameDecoder, frame sseFrame) ([]StreamEvent, bool) {
	var f anthropicFrame
	if err := json.Unmarshal(frame.Data, &f); err != nil {
		d.skip(frame, err)
		return nil, false
	}
	if ev, ok := errorFrame(f.Error, string(FormatAnthropic)); ok {
		return []StreamEvent{ev}, true
	}

	name := frame.Event
	if name == "" {
		name = f.Type
	}

	switch name {
	case "message_start":
		if f.Message != nil && f.Message.Usage != nil {
			in := f.Message.Usage.InputTokens
			return []StreamEvent{{Type: StreamUsage, Usage: &Usage{InputTokens: in, TotalTokens: in}}}, false
		}

	case "content_block_start":
		if f.ContentBlock != nil && f.ContentBlock.Type == "tool_use" {
			st.toolBlocks[f.Index] = true
			return []StreamEvent{{
				Type:     ToolCallDelta,
				ToolCall: &ToolCallFragment{Index: f.Index, ID: f.ContentBlock.ID, NameDelta: f.ContentBlock.Name},
			}}, false
		}

	case "content_block_delta":
		if f.Delta == nil {
			return nil, false
		}
		switch f.Delta.Type {
		case "text_delta":
			if f.Delta.Text != "" {
				return []StreamEvent{{Type: TextDelta, Delta: f.Delta.Text}}, false
			}
		case "input_json_delta":
			if st.toolBlocks[f.Index] && f.Delta.PartialJSON != "" {
				return []StreamEvent{{
					Type:     ToolCallDelta,
					ToolCall: &ToolCallFragment{Index: f.Index, ArgumentsDelta: f.Delta.PartialJSON},
				}}, false
			}
		}

	case "message_delta":
		var events []StreamEvent
		if f.Delta != nil && f.Delta.StopReason != "" {
			events = append(events, StreamEvent{
				Type:         StreamFinish,
				FinishReason: &FinishReason{Reason: normalizeAnthropicStop(f.Delta.StopReason), Raw: f.Delta.StopReason},
			})
		}
		if f.Usage != nil {
			out := f.Usage.OutputTokens
			events = append(events, StreamEvent{Type: StreamUsage, Usage: &Usage{OutputTokens: out, TotalTokens: out}})
		}
		return events, false

	case "message_stop":
		return nil, true
	}
	return nil, false
}

func normalizeAnthropicStop(raw string) string {
	switch raw {
	case "tool_use":
		return FinishToolCalls
	case "end_turn", "stop_sequence":
		return FinishStop
	case "max_tokens":
		return FinishLength
	default:
		return FinishOther
	}
}

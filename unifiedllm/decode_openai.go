package unifiedllm

import (
	"encoding/json"
	"log/slog"
)

type openAIChunk struct {
	Choices []struct {
		Delta struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				Index    int    `json:"index"`
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error json.RawMessage `json:"error"`
}

func newOpenAIDecoder(frames frameSource, logger *slog.Logger) *frameDecoder {
	d := &frameDecoder{frames: frames, logger: logger}
	d.parse = func(frame sseFrame) ([]StreamEvent, bool) {
		return parseOpenAIFrame(d, frame)
	}
	return d
}

// parseOpenAIFrame handles "data: <json>" frames terminated by [DONE].
// Only choices[0] is considered.
func parseOpenAIFrame(d *frameDecoder, frame sseFrame) ([]StreamEvent, bool) {
	if string(frame.Data) == "[DONE]" {
		return nil, true
	}
	var chunk openAIChunk
	if err := json.Unmarshal(frame.Data, &chunk); err != nil {
		d.skip(frame, err)
		return nil, false
	}
	if ev, ok := errorFrame(chunk.Error, string(FormatOpenAI)); ok {
		return []StreamEvent{ev}, true
	}

	var events []StreamEvent
	if len(chunk.Choices) > 0 {
		choice := chunk.Choices[0]
		if choice.Delta.Content != "" {
			events = append(events, StreamEvent{Type: TextDelta, Delta: choice.Delta.Content})
		}
		for _, tc := range choice.Delta.ToolCalls {
			events = append(events, StreamEvent{
				Type: ToolCallDelta,
				ToolCall: &ToolCallFragment{
					Index:          tc.Index,
					ID:             tc.ID,
					NameDelta:      tc.Function.Name,
					ArgumentsDelta: tc.Function.Arguments,
				},
			})
		}
		if choice.FinishReason != nil && *choice.FinishReason != "" {
			events = append(events, StreamEvent{
				Type:         StreamFinish,
				FinishReason: &FinishReason{Reason: normalizeOpenAIFinish(*choice.FinishReason), Raw: *choice.FinishReason},
			})
		}
	}
	if chunk.Usage != nil {
		events = append(events, StreamEvent{
			Type: StreamUsage,
			Usage: &Usage{
				InputTokens:  chunk.Usage.PromptTokens,
				OutputTokens: chunk.Usage.CompletionTokens,
				TotalTokens:  chunk.Usage.TotalTokens,
			},
		})
	}
	return events, false
}

func normalizeOpenAIFinish(raw string) string {
	switch raw {
	case "tool_calls", "function_call":
		return FinishToolCalls
	case "stop":
		return FinishStop
	case "length":
		return FinishLength
	default:
		return FinishOther
	}
}

package unifiedllm

import (
	"encoding/json"
	"testing"
)

func TestAnthropicRoundTripPreservesRoleAndText(t *testing.T) {
	conv := []Message{
		SystemMessage("You are tetsuocode."),
		UserMessage("hello"),
		AssistantMessage("hi, how can I help?"),
		UserMessage("explain channels"),
	}

	out := ToAnthropicMessages(conv)
	if out.System != "You are tetsuocode." {
		t.Errorf("expected system to be lifted, got %q", out.System)
	}
	if len(out.Messages) != 3 {
		t.Fatalf("expected 3 wire messages, got %d", len(out.Messages))
	}

	back := FromAnthropicMessages(out.System, out.Messages)
	if len(back) != len(conv) {
		t.Fatalf("expected %d messages after round trip, got %d", len(conv), len(back))
	}
	for i := range conv {
		if back[i].Role != conv[i].Role {
			t.Errorf("message %d: expected role %q, got %q", i, conv[i].Role, back[i].Role)
		}
		if back[i].TextContent() != conv[i].TextContent() {
			t.Errorf("message %d: expected text %q, got %q", i, conv[i].TextContent(), back[i].TextContent())
		}
	}
}

func TestAnthropicToolResultsFoldIntoOneUserTurn(t *testing.T) {
	conv := []Message{
		UserMessage("look around"),
		AssistantMessage("Checking.",
			ToolCall{ID: "t1", Name: "list_files", Arguments: `{"path":"."}`},
			ToolCall{ID: "t2", Name: "read_file", Arguments: `{"path":"go.mod"}`},
		),
		ToolResultMessage("t1", `{"files":[],"count":0}`),
		ToolResultMessage("t2", `{"content":"module x"}`),
	}

	out := ToAnthropicMessages(conv)
	if out.OrphanedToolResults != 0 {
		t.Errorf("expected no orphaned results, got %d", out.OrphanedToolResults)
	}
	if len(out.Messages) != 3 {
		t.Fatalf("expected user, assistant, user; got %d messages", len(out.Messages))
	}

	assistant := out.Messages[1]
	if assistant.Role != "assistant" || len(assistant.Content) != 3 {
		t.Fatalf("unexpected assistant turn %+v", assistant)
	}
	if assistant.Content[0].Type != "text" || assistant.Content[0].Text != "Checking." {
		t.Errorf("expected leading text block, got %+v", assistant.Content[0])
	}
	use := assistant.Content[1]
	if use.Type != "tool_use" || use.ID != "t1" || use.Name != "list_files" {
		t.Errorf("unexpected tool_use block %+v", use)
	}
	var input map[string]string
	if err := json.Unmarshal(use.Input, &input); err != nil {
		t.Fatalf("tool_use input is not an object: %v", err)
	}
	if input["path"] != "." {
		t.Errorf("expected parsed input path '.', got %v", input)
	}

	results := out.Messages[2]
	if results.Role != "user" || len(results.Content) != 2 {
		t.Fatalf("expected both results in one user turn, got %+v", results)
	}
	for i, id := range []string{"t1", "t2"} {
		if results.Content[i].Type != "tool_result" || results.Content[i].ToolUseID != id {
			t.Errorf("block %d: unexpected %+v", i, results.Content[i])
		}
	}
}

func TestAnthropicOrphanedToolResultGetsSyntheticUserTurn(t *testing.T) {
	conv := []Message{
		SystemMessage("sys"),
		ToolResultMessage("ghost", `{"error":"late"}`),
		ToolResultMessage("ghost2", `{"error":"later"}`),
	}
	out := ToAnthropicMessages(conv)
	if out.OrphanedToolResults != 2 {
		t.Errorf("expected 2 orphaned results, got %d", out.OrphanedToolResults)
	}
	if len(out.Messages) != 1 {
		t.Fatalf("expected a single synthetic user turn, got %d messages", len(out.Messages))
	}
	if out.Messages[0].Role != "user" || len(out.Messages[0].Content) != 2 {
		t.Errorf("unexpected synthetic turn %+v", out.Messages[0])
	}
}

func TestAnthropicToolResultFoldsIntoPrecedingUserTurn(t *testing.T) {
	conv := []Message{
		UserMessage("context first"),
		ToolResultMessage("x", `{}`),
	}
	out := ToAnthropicMessages(conv)
	if len(out.Messages) != 1 {
		t.Fatalf("expected fold into existing user turn, got %d messages", len(out.Messages))
	}
	blocks := out.Messages[0].Content
	if len(blocks) != 2 || blocks[0].Type != "text" || blocks[1].Type != "tool_result" {
		t.Errorf("unexpected blocks %+v", blocks)
	}
}

func TestAnthropicInvalidArgumentsBecomeEmptyObject(t *testing.T) {
	conv := []Message{
		UserMessage("go"),
		AssistantMessage("", ToolCall{ID: "t1", Name: "run_command", Arguments: `{"command": "ls`}),
	}
	out := ToAnthropicMessages(conv)
	use := out.Messages[1].Content[0]
	if string(use.Input) != "{}" {
		t.Errorf("expected {} for unparsable arguments, got %s", use.Input)
	}
}

func TestAnthropicImageReencoding(t *testing.T) {
	msg := Message{Role: RoleUser, Content: []ContentPart{
		TextPart("what is in this picture?"),
		ImageURLPart("data:image/jpeg;base64,/9j/4AAQ", ""),
		ImageURLPart("https://example.com/cat.png", ""),
	}}
	out := ToAnthropicMessages([]Message{msg})
	blocks := out.Messages[0].Content
	if len(blocks) != 3 {
		t.Fatalf("expected 3 blocks, got %d", len(blocks))
	}
	img := blocks[1]
	if img.Type != "image" || img.Source == nil {
		t.Fatalf("expected image block, got %+v", img)
	}
	if img.Source.Type != "base64" || img.Source.MediaType != "image/jpeg" || img.Source.Data != "/9j/4AAQ" {
		t.Errorf("unexpected base64 source %+v", img.Source)
	}
	if blocks[2].Source.Type != "url" || blocks[2].Source.URL != "https://example.com/cat.png" {
		t.Errorf("unexpected url source %+v", blocks[2].Source)
	}

	back := FromAnthropicMessages("", out.Messages)
	if back[0].Content[1].Image.URL != "data:image/jpeg;base64,/9j/4AAQ" {
		t.Errorf("expected data URI to be rebuilt, got %q", back[0].Content[1].Image.URL)
	}
}

func TestParseDataURI(t *testing.T) {
	tests := []struct {
		uri       string
		mediaType string
		data      string
		ok        bool
	}{
		{"data:image/png;base64,AAA", "image/png", "AAA", true},
		{"data:;base64,AAA", "image/png", "AAA", true},
		{"data:image/png,raw", "", "", false},
		{"https://example.com/x.png", "", "", false},
	}
	for _, tt := range tests {
		mt, data, ok := ParseDataURI(tt.uri)
		if ok != tt.ok || mt != tt.mediaType || data != tt.data {
			t.Errorf("%q: got (%q, %q, %v)", tt.uri, mt, data, ok)
		}
	}
}

func TestToOpenAIMessages(t *testing.T) {
	conv := []Message{
		SystemMessage("sys"),
		{Role: RoleUser, Content: []ContentPart{
			TextPart("see image"),
			ImageURLPart("data:image/png;base64,AAA", "high"),
		}},
		AssistantMessage("", ToolCall{ID: "c1", Name: "read_file", Arguments: `{"path":"a"}`}),
		ToolResultMessage("c1", `{"content":"x"}`),
	}
	wire := ToOpenAIMessages(conv)
	if len(wire) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(wire))
	}

	var sys string
	if err := json.Unmarshal(wire[0].Content, &sys); err != nil || sys != "sys" {
		t.Errorf("expected string content for system, got %s", wire[0].Content)
	}

	var parts []OpenAIContentPart
	if err := json.Unmarshal(wire[1].Content, &parts); err != nil {
		t.Fatalf("expected content parts: %v", err)
	}
	if len(parts) != 2 || parts[1].Type != "image_url" || parts[1].ImageURL.URL != "data:image/png;base64,AAA" {
		t.Errorf("unexpected parts %+v", parts)
	}

	if string(wire[2].Content) != "null" {
		t.Errorf("expected null content for tool-call-only assistant, got %s", wire[2].Content)
	}
	tc := wire[2].ToolCalls[0]
	if tc.Type != "function" || tc.Function.Name != "read_file" || tc.Function.Arguments != `{"path":"a"}` {
		t.Errorf("unexpected tool call %+v", tc)
	}

	if wire[3].Role != "tool" || wire[3].ToolCallID != "c1" {
		t.Errorf("unexpected tool message %+v", wire[3])
	}
}

func TestFromOpenAIMessages(t *testing.T) {
	raw := `[
		{"role":"user","content":"hi"},
		{"role":"user","content":[{"type":"text","text":"look"},{"type":"image_url","image_url":{"url":"data:image/png;base64,AA"}}]},
		{"role":"assistant","content":null,"tool_calls":[{"id":"c1","type":"function","function":{"name":"list_files","arguments":"{}"}}]},
		{"role":"tool","tool_call_id":"c1","content":"{\"files\":[]}"}
	]`
	var wire []OpenAIMessage
	if err := json.Unmarshal([]byte(raw), &wire); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	msgs, err := FromOpenAIMessages(wire)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgs[0].TextContent() != "hi" {
		t.Errorf("unexpected text %q", msgs[0].TextContent())
	}
	if !msgs[1].HasImages() {
		t.Error("expected image part")
	}
	if len(msgs[2].Content) != 0 || len(msgs[2].ToolCalls) != 1 || msgs[2].ToolCalls[0].Name != "list_files" {
		t.Errorf("unexpected assistant %+v", msgs[2])
	}
	if msgs[3].ToolCallID != "c1" {
		t.Errorf("unexpected tool message %+v", msgs[3])
	}

	bad := []OpenAIMessage{{Role: "wizard", Content: json.RawMessage(`"x"`)}}
	if _, err := FromOpenAIMessages(bad); err == nil {
		t.Error("expected error for unknown role")
	}
	orphan := []OpenAIMessage{{Role: "tool", Content: json.RawMessage(`"x"`)}}
	if _, err := FromOpenAIMessages(orphan); err == nil {
		t.Error("expected error for tool message without id")
	}
}

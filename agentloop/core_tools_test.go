package agentloop

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/tetsuocode/tetsuocode/unifiedllm"
)

type toolHarness struct {
	reg   *ToolRegistry
	tc    *ToolContext
	edits *EditStore
	root  string
}

func newToolHarness(t *testing.T, opts ...EditStoreOption) *toolHarness {
	t.Helper()
	env, root := newTestEnvironment(t)
	reg := NewToolRegistry()
	RegisterCoreTools(reg)
	edits := NewEditStore(opts...)
	return &toolHarness{
		reg:   reg,
		edits: edits,
		root:  root,
		tc: &ToolContext{
			Env:            env,
			Edits:          edits,
			CommandTimeout: 5 * time.Second,
			GrepTimeout:    5 * time.Second,
			Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		},
	}
}

func (h *toolHarness) run(t *testing.T, name, args string) (map[string]interface{}, error) {
	t.Helper()
	payload, err := h.reg.Execute(context.Background(), name, args, h.tc)
	var out map[string]interface{}
	if jerr := json.Unmarshal([]byte(payload), &out); jerr != nil {
		t.Fatalf("%s payload is not a JSON object: %q", name, payload)
	}
	return out, err
}

func TestCoreToolDefinitions(t *testing.T) {
	reg := NewToolRegistry()
	RegisterCoreTools(reg)
	defs := reg.Definitions()

	var names []string
	for _, d := range defs {
		names = append(names, d.Name)
	}
	want := []string{"read_file", "write_file", "edit_file", "run_command", "list_files", "grep_files"}
	if !reflect.DeepEqual(names, want) {
		t.Fatalf("tools = %v, want %v", names, want)
	}

	required := func(schema map[string]interface{}) []string {
		var out []string
		list, _ := schema["required"].([]interface{})
		for _, v := range list {
			out = append(out, v.(string))
		}
		return out
	}
	for _, d := range defs {
		if d.Parameters["type"] != "object" {
			t.Errorf("%s schema type = %v", d.Name, d.Parameters["type"])
		}
		if _, ok := d.Parameters["$schema"]; ok {
			t.Errorf("%s schema carries $schema", d.Name)
		}
	}
	if got := required(defs[2].Parameters); !reflect.DeepEqual(got, []string{"path", "old_string", "new_string"}) {
		t.Errorf("edit_file required = %v", got)
	}
	if got := required(defs[4].Parameters); len(got) != 0 {
		t.Errorf("list_files required = %v, want none", got)
	}
	props, _ := defs[0].Parameters["properties"].(map[string]interface{})
	path, _ := props["path"].(map[string]interface{})
	if path["type"] != "string" || path["description"] != "Path to the file" {
		t.Errorf("read_file path schema = %v", path)
	}
}

func TestReadFileTool(t *testing.T) {
	h := newToolHarness(t)
	writeTestFile(t, filepath.Join(h.root, "notes.txt"), "hello notes\n")

	t.Run("reads", func(t *testing.T) {
		out, err := h.run(t, "read_file", `{"path":"notes.txt"}`)
		if err != nil {
			t.Fatal(err)
		}
		if out["content"] != "hello notes\n" || out["path"] != "notes.txt" {
			t.Errorf("got %v", out)
		}
	})

	t.Run("path escape denied", func(t *testing.T) {
		out, err := h.run(t, "read_file", `{"path":"../../etc/passwd"}`)
		var policyErr *ToolPolicyError
		if !errors.As(err, &policyErr) || policyErr.Tool != "read_file" {
			t.Fatalf("err = %#v, want *ToolPolicyError for read_file", err)
		}
		msg, _ := out["error"].(string)
		if !strings.Contains(msg, "access denied") {
			t.Errorf("error payload = %v", out)
		}
		if _, ok := out["content"]; ok {
			t.Error("content returned for a denied path")
		}
	})

	t.Run("missing file", func(t *testing.T) {
		out, err := h.run(t, "read_file", `{"path":"absent.txt"}`)
		if err == nil || out["error"] == nil {
			t.Errorf("got %v, %v", out, err)
		}
	})

	t.Run("truncated", func(t *testing.T) {
		big := strings.Repeat("x", ReadFileLimit+10)
		writeTestFile(t, filepath.Join(h.root, "big.txt"), big)
		out, err := h.run(t, "read_file", `{"path":"big.txt"}`)
		if err != nil {
			t.Fatal(err)
		}
		content, _ := out["content"].(string)
		if !strings.HasSuffix(content, "\n\n... [truncated, 100010 bytes]") {
			t.Errorf("content tail = %q", content[len(content)-40:])
		}
		if out["truncated"] != true {
			t.Errorf("truncated = %v", out["truncated"])
		}
	})
}

func TestWriteFileToolUndo(t *testing.T) {
	h := newToolHarness(t)
	path := filepath.Join(h.root, "a.txt")
	writeTestFile(t, path, "v1")

	out, err := h.run(t, "write_file", `{"path":"a.txt","content":"v2"}`)
	if err != nil {
		t.Fatal(err)
	}
	if out["success"] != true || out["path"] != "a.txt" {
		t.Errorf("got %v", out)
	}
	if diff, _ := out["diff"].(string); !strings.Contains(diff, "+v2") {
		t.Errorf("diff = %q", diff)
	}
	if got := readTestFile(t, path); got != "v2" {
		t.Fatalf("content = %q", got)
	}
	depth := h.edits.UndoDepth()

	if _, err := h.edits.Undo(); err != nil {
		t.Fatal(err)
	}
	if got := readTestFile(t, path); got != "v1" {
		t.Errorf("content after undo = %q, want v1", got)
	}
	if h.edits.UndoDepth() != depth-1 {
		t.Errorf("UndoDepth = %d, want %d", h.edits.UndoDepth(), depth-1)
	}
}

func TestWriteFileToolCreatesDirectories(t *testing.T) {
	h := newToolHarness(t)
	if _, err := h.run(t, "write_file", `{"path":"a/b/c.txt","content":"deep"}`); err != nil {
		t.Fatal(err)
	}
	if got := readTestFile(t, filepath.Join(h.root, "a/b/c.txt")); got != "deep" {
		t.Errorf("content = %q", got)
	}
	if _, err := h.run(t, "write_file", `{"path":"../escape.txt","content":"x"}`); err == nil {
		t.Error("write outside the workspace succeeded")
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(h.root), "escape.txt")); !os.IsNotExist(err) {
		t.Error("file written outside the workspace")
	}
}

func TestWriteFileToolApprovalMode(t *testing.T) {
	h := newToolHarness(t, WithApprovalMode(true))
	out, err := h.run(t, "write_file", `{"path":"new.txt","content":"hi\n"}`)
	if err != nil {
		t.Fatal(err)
	}
	id, _ := out["pending_id"].(string)
	if out["pending"] != true || id == "" {
		t.Fatalf("got %v", out)
	}
	if _, err := os.Stat(filepath.Join(h.root, "new.txt")); !os.IsNotExist(err) {
		t.Fatal("pending write reached disk")
	}
	if _, err := h.edits.Approve(id); err != nil {
		t.Fatal(err)
	}
	if got := readTestFile(t, filepath.Join(h.root, "new.txt")); got != "hi\n" {
		t.Errorf("content after approve = %q", got)
	}
}

func TestEditFileTool(t *testing.T) {
	h := newToolHarness(t)
	path := filepath.Join(h.root, "main.go")
	writeTestFile(t, path, "foo := 1\nbar := 1\n")

	out, err := h.run(t, "edit_file", `{"path":"main.go","old_string":"foo := 1","new_string":"foo := 2"}`)
	if err != nil {
		t.Fatal(err)
	}
	if out["success"] != true {
		t.Fatalf("got %v", out)
	}
	if got := readTestFile(t, path); got != "foo := 2\nbar := 1\n" {
		t.Fatalf("content = %q", got)
	}

	out, err = h.run(t, "edit_file", `{"path":"main.go","old_string":"foo := 1","new_string":"foo := 2"}`)
	if err == nil || out["error"] != "old_string not found in file" {
		t.Errorf("repeat edit = %v, %v", out, err)
	}
	if got := readTestFile(t, path); got != "foo := 2\nbar := 1\n" {
		t.Errorf("repeat edit changed the file: %q", got)
	}

	out, _ = h.run(t, "edit_file", `{"path":"main.go","old_string":":= ","new_string":"= "}`)
	if out["error"] != "old_string found 2 times, must be unique" {
		t.Errorf("ambiguous edit = %v", out)
	}
}

func TestRunCommandTool(t *testing.T) {
	h := newToolHarness(t)

	out, err := h.run(t, "run_command", `{"command":"echo hello"}`)
	if err != nil {
		t.Fatal(err)
	}
	if out["stdout"] != "hello\n" || out["exit_code"] != float64(0) {
		t.Errorf("got %v", out)
	}

	marker := filepath.Join(h.root, "marker")
	out, err = h.run(t, "run_command", `{"command":"touch marker && git reset --hard"}`)
	var policyErr *ToolPolicyError
	if !errors.As(err, &policyErr) {
		t.Fatalf("err = %v, want *ToolPolicyError", err)
	}
	if out["error"] != "Blocked dangerous command matching 'git reset --hard'" {
		t.Errorf("payload = %v", out)
	}
	if _, err := os.Stat(marker); !os.IsNotExist(err) {
		t.Error("blocked command was executed")
	}

	h.tc.CommandTimeout = 100 * time.Millisecond
	out, _ = h.run(t, "run_command", `{"command":"sleep 5"}`)
	if out["error"] != "Command timed out" {
		t.Errorf("timeout payload = %v", out)
	}
}

func TestListAndGrepTools(t *testing.T) {
	h := newToolHarness(t)
	writeTestFile(t, filepath.Join(h.root, "a.go"), "package a\n")
	writeTestFile(t, filepath.Join(h.root, ".git/HEAD"), "ref: refs/heads/main\n")

	out, err := h.run(t, "list_files", `{}`)
	if err != nil {
		t.Fatal(err)
	}
	if out["count"] != float64(1) {
		t.Errorf("list_files = %v", out)
	}

	writeTestFile(t, filepath.Join(h.root, "sub", "b.go"), "package sub\n")
	for _, args := range []string{`{"max_depth":1}`, `{"max_depth":"1"}`, `{"max_depth":1.9}`} {
		out, err := h.run(t, "list_files", args)
		if err != nil {
			t.Fatalf("list_files %s: %v", args, err)
		}
		if out["count"] != float64(1) {
			t.Errorf("list_files %s = %v", args, out)
		}
	}
	if out, _ := h.run(t, "list_files", `{"max_depth":"3"}`); out["count"] != float64(2) {
		t.Errorf("list_files depth 3 = %v", out)
	}
	if _, err := h.run(t, "list_files", `{"max_depth":"deep"}`); err == nil {
		t.Error("non-numeric max_depth accepted")
	}

	out, err = h.run(t, "list_files", `{"path":"empty-dir-missing"}`)
	if err == nil {
		t.Errorf("list_files on a missing dir = %v", out)
	}

	if err := os.Mkdir(filepath.Join(h.root, "empty"), 0o755); err != nil {
		t.Fatal(err)
	}
	out, _ = h.run(t, "list_files", `{"path":"empty"}`)
	if files, ok := out["files"].([]interface{}); !ok || len(files) != 0 {
		t.Errorf("empty dir files = %#v, want []", out["files"])
	}

	out, _ = h.run(t, "grep_files", `{"pattern":"no_such_text"}`)
	if matches, ok := out["matches"].([]interface{}); !ok || len(matches) != 0 {
		t.Errorf("grep with no matches = %#v", out)
	}
}

func TestToolRegistryExecute(t *testing.T) {
	h := newToolHarness(t)

	t.Run("unknown tool", func(t *testing.T) {
		out, err := h.run(t, "delete_everything", `{}`)
		var unknown *UnknownToolError
		if !errors.As(err, &unknown) {
			t.Fatalf("err = %v", err)
		}
		if out["error"] != "Unknown tool: delete_everything" {
			t.Errorf("payload = %v", out)
		}
	})

	t.Run("invalid arguments run with empty object", func(t *testing.T) {
		writeTestFile(t, filepath.Join(h.root, "x.txt"), "x")
		out, err := h.run(t, "list_files", `{"path": "x`)
		var argErr *ToolArgumentError
		if !errors.As(err, &argErr) || argErr.Raw != `{"path": "x` {
			t.Fatalf("err = %v", err)
		}
		if _, ok := out["files"]; !ok {
			t.Errorf("tool did not run with {}: %v", out)
		}
	})

	t.Run("non-object arguments", func(t *testing.T) {
		out, _ := h.run(t, "read_file", `[1,2]`)
		if out["error"] != "path is required" {
			t.Errorf("payload = %v", out)
		}
	})

	t.Run("panic is captured", func(t *testing.T) {
		h.reg.Register(RegisteredTool{
			Definition: unifiedllm.ToolDefinition{Name: "explode"},
			Executor: func(context.Context, json.RawMessage, *ToolContext) (interface{}, error) {
				panic("boom")
			},
		})
		out, err := h.run(t, "explode", `{}`)
		var execErr *ToolExecutionError
		if !errors.As(err, &execErr) || execErr.Tool != "explode" {
			t.Fatalf("err = %v", err)
		}
		if out["error"] != "panic: boom" {
			t.Errorf("payload = %v", out)
		}
	})
}

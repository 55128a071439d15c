package agentloop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"

	"github.com/tetsuocode/tetsuocode/unifiedllm"
)

const (
	defaultListDepth = 3
	maxListedFiles   = 500
	maxGrepMatches   = 50
)

type readFileInput struct {
	Path string `json:"path" jsonschema:"description=Path to the file"`
}

type writeFileInput struct {
	Path    string `json:"path" jsonschema:"description=Path to the file"`
	Content string `json:"content" jsonschema:"description=Content to write"`
}

type editFileInput struct {
	Path      string `json:"path" jsonschema:"description=Path to the file"`
	OldString string `json:"old_string" jsonschema:"description=Exact string to find"`
	NewString string `json:"new_string" jsonschema:"description=Replacement string"`
}

type runCommandInput struct {
	Command string `json:"command" jsonschema:"description=Shell command to run"`
}

type listFilesInput struct {
	Path     string  `json:"path,omitempty" jsonschema:"description=Directory path"`
	MaxDepth looseInt `json:"max_depth,omitempty" jsonschema:"description=Max depth (default 3)"`
}

// looseInt accepts a JSON number or a numeric string. Fractions are
// truncated.
type looseInt int

func (n *looseInt) UnmarshalJSON(data []byte) error {
	s := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if s == "" || s == "null" {
		*n = 0
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("%s is not a number", data)
	}
	*n = looseInt(f)
	return nil
}

type grepFilesInput struct {
	Pattern string `json:"pattern" jsonschema:"description=Regex pattern"`
	Path    string `json:"path,omitempty" jsonschema:"description=Directory to search"`
}

type readFileResult struct {
	Content   string `json:"content"`
	Path      string `json:"path"`
	Truncated bool   `json:"truncated,omitempty"`
}

type fileChangeResult struct {
	Success   bool   `json:"success,omitempty"`
	Pending   bool   `json:"pending,omitempty"`
	PendingID string `json:"pending_id,omitempty"`
	Path      string `json:"path"`
	Diff      string `json:"diff"`
}

type commandResult struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
}

type listFilesResult struct {
	Files []string `json:"files"`
	Count int      `json:"count"`
}

type grepFilesResult struct {
	Matches []string `json:"matches"`
	Count   int      `json:"count"`
}

// RegisterCoreTools registers the six workspace tools on reg.
func RegisterCoreTools(reg *ToolRegistry) {
	reg.Register(RegisteredTool{
		Definition: unifiedllm.ToolDefinition{
			Name:        "read_file",
			Description: "Read the contents of a file at the given path.",
			Parameters:  schemaFor[readFileInput](),
		},
		Executor: readFile,
	})
	reg.Register(RegisteredTool{
		Definition: unifiedllm.ToolDefinition{
			Name:        "write_file",
			Description: "Write content to a file, creating it if needed.",
			Parameters:  schemaFor[writeFileInput](),
		},
		Executor: writeFile,
	})
	reg.Register(RegisteredTool{
		Definition: unifiedllm.ToolDefinition{
			Name:        "edit_file",
			Description: "Make a surgical text replacement in a file. Finds old_string and replaces it with new_string.",
			Parameters:  schemaFor[editFileInput](),
		},
		Executor: editFile,
	})
	reg.Register(RegisteredTool{
		Definition: unifiedllm.ToolDefinition{
			Name:        "run_command",
			Description: "Execute a shell command and return output.",
			Parameters:  schemaFor[runCommandInput](),
		},
		Executor: runCommand,
	})
	reg.Register(RegisteredTool{
		Definition: unifiedllm.ToolDefinition{
			Name:        "list_files",
			Description: "List files in a directory tree.",
			Parameters:  schemaFor[listFilesInput](),
		},
		Executor: listFiles,
	})
	reg.Register(RegisteredTool{
		Definition: unifiedllm.ToolDefinition{
			Name:        "grep_files",
			Description: "Search for a pattern across files.",
			Parameters:  schemaFor[grepFilesInput](),
		},
		Executor: grepFiles,
	})
}

func readFile(_ context.Context, args json.RawMessage, tc *ToolContext) (interface{}, error) {
	in, err := decodeArgs[readFileInput](args)
	if err != nil {
		return nil, err
	}
	if in.Path == "" {
		return nil, errors.New("path is required")
	}
	_, data, err := tc.Env.ReadFile(in.Path)
	if err != nil {
		return nil, err
	}
	content, truncated := TruncateFileContent(strings.ToValidUTF8(string(data), "�"))
	return readFileResult{Content: content, Path: in.Path, Truncated: truncated}, nil
}

func writeFile(_ context.Context, args json.RawMessage, tc *ToolContext) (interface{}, error) {
	in, err := decodeArgs[writeFileInput](args)
	if err != nil {
		return nil, err
	}
	if in.Path == "" {
		return nil, errors.New("path is required")
	}
	abs, data, err := tc.Env.ReadFile(in.Path)
	existed := true
	switch {
	case err == nil:
	case errors.Is(err, fs.ErrNotExist):
		existed = false
	default:
		return nil, err
	}
	return submitChange(tc, FileChange{
		Path:       tc.Env.Workspace().Rel(abs),
		AbsPath:    abs,
		OldContent: string(data),
		NewContent: in.Content,
		Existed:    existed,
		ToolName:   "write_file",
	})
}

func editFile(_ context.Context, args json.RawMessage, tc *ToolContext) (interface{}, error) {
	in, err := decodeArgs[editFileInput](args)
	if err != nil {
		return nil, err
	}
	if in.Path == "" {
		return nil, errors.New("path is required")
	}
	if in.OldString == "" {
		return nil, errors.New("old_string must not be empty")
	}
	abs, data, err := tc.Env.ReadFile(in.Path)
	if err != nil {
		return nil, err
	}
	content := string(data)
	switch count := strings.Count(content, in.OldString); {
	case count == 0:
		return nil, errors.New("old_string not found in file")
	case count > 1:
		return nil, fmt.Errorf("old_string found %d times, must be unique", count)
	}
	return submitChange(tc, FileChange{
		Path:       tc.Env.Workspace().Rel(abs),
		AbsPath:    abs,
		OldContent: content,
		NewContent: strings.Replace(content, in.OldString, in.NewString, 1),
		Existed:    true,
		ToolName:   "edit_file",
	})
}

func submitChange(tc *ToolContext, change FileChange) (interface{}, error) {
	pending, err := tc.Edits.Submit(change)
	if err != nil {
		return nil, err
	}
	if pending != nil {
		return fileChangeResult{
			Pending:   true,
			PendingID: pending.ID,
			Path:      change.Path,
			Diff:      Clip(pending.Diff, DiffLimit),
		}, nil
	}
	return fileChangeResult{
		Success: true,
		Path:    change.Path,
		Diff:    Clip(UnifiedDiff(change.OldContent, change.NewContent, change.Path), DiffLimit),
	}, nil
}

func runCommand(ctx context.Context, args json.RawMessage, tc *ToolContext) (interface{}, error) {
	in, err := decodeArgs[runCommandInput](args)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.Command) == "" {
		return nil, errors.New("command is required")
	}
	if err := CheckCommand(in.Command); err != nil {
		return nil, err
	}
	res, err := tc.Env.ExecCommand(ctx, in.Command, tc.CommandTimeout)
	if err != nil {
		return nil, err
	}
	if res.TimedOut {
		return nil, errors.New("Command timed out")
	}
	stdout, _ := TruncateCommandOutput(res.Stdout)
	stderr, _ := TruncateCommandOutput(res.Stderr)
	return commandResult{Stdout: stdout, Stderr: stderr, ExitCode: res.ExitCode}, nil
}

func listFiles(_ context.Context, args json.RawMessage, tc *ToolContext) (interface{}, error) {
	in, err := decodeArgs[listFilesInput](args)
	if err != nil {
		return nil, err
	}
	depth := int(in.MaxDepth)
	if depth <= 0 {
		depth = defaultListDepth
	}
	files, err := tc.Env.ListFiles(in.Path, depth, maxListedFiles)
	if err != nil {
		return nil, err
	}
	if files == nil {
		files = []string{}
	}
	return listFilesResult{Files: files, Count: len(files)}, nil
}

func grepFiles(ctx context.Context, args json.RawMessage, tc *ToolContext) (interface{}, error) {
	in, err := decodeArgs[grepFilesInput](args)
	if err != nil {
		return nil, err
	}
	if in.Pattern == "" {
		return nil, errors.New("pattern is required")
	}
	matches, err := tc.Env.Grep(ctx, in.Pattern, in.Path, maxGrepMatches, tc.GrepTimeout)
	if err != nil {
		return nil, err
	}
	if matches == nil {
		matches = []string{}
	}
	return grepFilesResult{Matches: matches, Count: len(matches)}, nil
}

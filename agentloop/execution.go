package agentloop

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/samber/lo"
)

// Workspace is the filesystem boundary for every path-accepting tool. The
// root is process-wide and may be changed at runtime.
type Workspace struct {
	mu   sync.RWMutex
	root string
}

// NewWorkspace creates a workspace rooted at dir, which must exist.
func NewWorkspace(dir string) (*Workspace, error) {
	w := &Workspace{}
	if _, err := w.SetRoot(dir); err != nil {
		return nil, err
	}
	return w, nil
}

// Root returns the absolute workspace root.
func (w *Workspace) Root() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.root
}

// SetRoot replaces the workspace root and returns the cleaned absolute path.
func (w *Workspace) SetRoot(dir string) (string, error) {
	if strings.HasPrefix(dir, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, strings.TrimPrefix(dir, "~"))
		}
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("directory not found")
	}
	info, err := os.Stat(abs)
	if err != nil || !info.IsDir() {
		return "", fmt.Errorf("directory not found")
	}
	w.mu.Lock()
	w.root = abs
	w.mu.Unlock()
	return abs, nil
}

// Resolve maps path onto an absolute path inside the root. Relative paths
// are joined to the root; anything that lands outside it, directly or
// through a symlink, is refused before any file is touched.
func (w *Workspace) Resolve(path string) (string, error) {
	root := w.Root()
	if path == "" {
		path = "."
	}
	var abs string
	if filepath.IsAbs(path) {
		abs = filepath.Clean(path)
	} else {
		abs = filepath.Join(root, path)
	}
	if !within(root, abs) {
		return "", &ToolPolicyError{Reason: "access denied: " + path + " is outside the workspace"}
	}

	realRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		realRoot = root
	}
	if !within(realRoot, evalExisting(abs)) {
		return "", &ToolPolicyError{Reason: "access denied: " + path + " is outside the workspace"}
	}
	return abs, nil
}

// Rel returns abs relative to the root, for display.
func (w *Workspace) Rel(abs string) string {
	rel, err := filepath.Rel(w.Root(), abs)
	if err != nil {
		return abs
	}
	return filepath.ToSlash(rel)
}

func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// evalExisting resolves symlinks in the longest existing prefix of path and
// reattaches the missing tail.
func evalExisting(path string) string {
	var tail []string
	cur := path
	for {
		if real, err := filepath.EvalSymlinks(cur); err == nil {
			return filepath.Join(append([]string{real}, lo.Reverse(tail)...)...)
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return path
		}
		tail = append(tail, filepath.Base(cur))
		cur = parent
	}
}

// ExecResult holds the outcome of a shell command.
type ExecResult struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
	TimedOut bool   `json:"-"`
}

// ExecutionEnvironment is where tools touch the machine. Every path
// argument is workspace-relative or absolute and is confined by the
// environment before use.
type ExecutionEnvironment interface {
	Workspace() *Workspace
	ReadFile(path string) (abs string, content []byte, err error)
	ExecCommand(ctx context.Context, command string, timeout time.Duration) (*ExecResult, error)
	Grep(ctx context.Context, pattern, path string, maxMatches int, timeout time.Duration) ([]string, error)
	ListFiles(path string, maxDepth, limit int) ([]string, error)
	WorkingDirectory() string
	Platform() string
}

// sensitiveEnvSuffixes mark variables withheld from subprocesses so that
// a command cannot read provider credentials.
var sensitiveEnvSuffixes = []string{
	"_API_KEY",
	"_SECRET",
	"_TOKEN",
	"_PASSWORD",
	"_CREDENTIAL",
}

func isSensitiveEnvVar(name string) bool {
	upper := strings.ToUpper(name)
	return lo.SomeBy(sensitiveEnvSuffixes, func(suffix string) bool {
		return strings.HasSuffix(upper, suffix)
	})
}

func filterEnvironment(environ []string) []string {
	return lo.Filter(environ, func(kv string, _ int) bool {
		name, _, ok := strings.Cut(kv, "=")
		return ok && !isSensitiveEnvVar(name)
	})
}

// skippedDirs are never descended into by list_files.
var skippedDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"__pycache__":  true,
}

// LocalExecutionEnvironment runs tools on the local machine inside a
// Workspace.
type LocalExecutionEnvironment struct {
	ws        *Workspace
	waitDelay time.Duration
}

// NewLocalExecutionEnvironment creates a local environment bound to ws.
func NewLocalExecutionEnvironment(ws *Workspace) *LocalExecutionEnvironment {
	return &LocalExecutionEnvironment{ws: ws, waitDelay: 2 * time.Second}
}

func (e *LocalExecutionEnvironment) Workspace() *Workspace { return e.ws }

func (e *LocalExecutionEnvironment) WorkingDirectory() string { return e.ws.Root() }

func (e *LocalExecutionEnvironment) Platform() string { return runtime.GOOS + "/" + runtime.GOARCH }

func (e *LocalExecutionEnvironment) ReadFile(path string) (string, []byte, error) {
	abs, err := e.ws.Resolve(path)
	if err != nil {
		return "", nil, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return abs, nil, err
	}
	return abs, data, nil
}

// ExecCommand runs command through the shell in the workspace root, in its
// own process group. On timeout or cancellation the whole group is killed.
// A timeout is reported through ExecResult.TimedOut; cancellation of ctx
// returns ctx.Err().
func (e *LocalExecutionEnvironment) ExecCommand(ctx context.Context, command string, timeout time.Duration) (*ExecResult, error) {
	runCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, shellPath(), "-c", command)
	cmd.Dir = e.ws.Root()
	cmd.Env = filterEnvironment(os.Environ())
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = e.waitDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	result := &ExecResult{Stdout: stdout.String(), Stderr: stderr.String()}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		result.TimedOut = true
		result.ExitCode = -1
		return result, nil
	}
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("run command: %w", err)
		}
		result.ExitCode = exitErr.ExitCode()
	}
	return result, nil
}

func shellPath() string {
	if p, err := exec.LookPath("bash"); err == nil {
		return p
	}
	return "/bin/sh"
}

// Grep searches below path with ripgrep, falling back to grep -rn. Paths in
// the returned lines are relative to the workspace root.
func (e *LocalExecutionEnvironment) Grep(ctx context.Context, pattern, path string, maxMatches int, timeout time.Duration) ([]string, error) {
	abs, err := e.ws.Resolve(path)
	if err != nil {
		return nil, err
	}
	target := e.ws.Rel(abs)

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	limit := fmt.Sprintf("%d", maxMatches)
	var cmd *exec.Cmd
	if rg, err := exec.LookPath("rg"); err == nil {
		cmd = exec.CommandContext(ctx, rg, "--no-heading", "--line-number", "--max-count", limit, "-e", pattern, target)
	} else {
		cmd = exec.CommandContext(ctx, "grep", "-rn", "--max-count="+limit, "-e", pattern, target)
	}
	cmd.Dir = e.ws.Root()
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	// Exit status 1 means no matches.
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if ctx.Err() != nil {
			return nil, fmt.Errorf("search timed out")
		}
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("search: %w", err)
		}
	}

	lines := lo.Filter(strings.Split(stdout.String(), "\n"), func(l string, _ int) bool {
		return strings.TrimSpace(l) != ""
	})
	if maxMatches > 0 && len(lines) > maxMatches {
		lines = lines[:maxMatches]
	}
	return lines, nil
}

// ListFiles walks path breadth-bounded by maxDepth, skipping version
// control and dependency caches. At most limit files are returned.
func (e *LocalExecutionEnvironment) ListFiles(path string, maxDepth, limit int) ([]string, error) {
	base, err := e.ws.Resolve(path)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(base)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", path)
	}

	var files []string
	errLimit := errors.New("limit reached")
	err = filepath.WalkDir(base, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == base {
				return err
			}
			return nil
		}
		if d.IsDir() {
			if p == base {
				return nil
			}
			if skippedDirs[d.Name()] {
				return filepath.SkipDir
			}
			rel, _ := filepath.Rel(base, p)
			if strings.Count(rel, string(filepath.Separator))+1 >= maxDepth {
				return filepath.SkipDir
			}
			return nil
		}
		files = append(files, e.ws.Rel(p))
		if limit > 0 && len(files) >= limit {
			return errLimit
		}
		return nil
	})
	if err != nil && !errors.Is(err, errLimit) {
		return nil, err
	}
	return files, nil
}

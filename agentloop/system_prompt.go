package agentloop

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// DefaultSystemPrompt is used when a request does not supply its own.
const DefaultSystemPrompt = `You are tetsuocode, an elite AI coding assistant.

When responding:
- Be concise and direct.
- Use markdown for formatting.
- Include code blocks with language tags for syntax highlighting.
- Don't over-explain obvious things.

You can read, write and edit files, run shell commands, list files and search
the workspace with the tools provided. Paths are relative to the workspace.`

const maxProjectDocBytes = 32 * 1024

// BuildSystemPrompt returns custom verbatim when set. Otherwise it returns
// the default prompt followed by an environment block and any AGENTS.md
// found in the workspace root.
func BuildSystemPrompt(custom string, env ExecutionEnvironment, model string) string {
	if custom != "" {
		return custom
	}
	parts := []string{DefaultSystemPrompt, BuildEnvironmentContext(env, model)}
	if docs := ProjectInstructions(env.WorkingDirectory()); docs != "" {
		parts = append(parts, docs)
	}
	return strings.Join(parts, "\n\n")
}

// BuildEnvironmentContext describes the workspace to the model.
func BuildEnvironmentContext(env ExecutionEnvironment, model string) string {
	workingDir := env.WorkingDirectory()

	var sb strings.Builder
	sb.WriteString("<environment>\n")
	fmt.Fprintf(&sb, "Workspace: %s\n", workingDir)
	if branch := gitBranch(workingDir); branch != "" {
		fmt.Fprintf(&sb, "Git branch: %s\n", branch)
	}
	fmt.Fprintf(&sb, "Platform: %s\n", env.Platform())
	fmt.Fprintf(&sb, "Today's date: %s\n", time.Now().Format("2006-01-02"))
	if model != "" {
		fmt.Fprintf(&sb, "Model: %s\n", model)
	}
	sb.WriteString("</environment>")
	return sb.String()
}

// ProjectInstructions loads AGENTS.md from the workspace root, capped at
// 32KB.
func ProjectInstructions(root string) string {
	content, err := os.ReadFile(filepath.Join(root, "AGENTS.md"))
	if err != nil || len(content) == 0 {
		return ""
	}
	text := string(content)
	if len(text) > maxProjectDocBytes {
		text = Clip(text, maxProjectDocBytes) + "\n[Project instructions truncated at 32KB]"
	}
	return "# AGENTS.md\n\n" + text
}

// gitBranchTimeout bounds the branch lookup done at the start of every run.
var gitBranchTimeout = 2 * time.Second

func gitBranch(dir string) string {
	ctx, cancel := context.WithTimeout(context.Background(), gitBranchTimeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, "git", "rev-parse", "--abbrev-ref", "HEAD")
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

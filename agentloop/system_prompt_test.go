package agentloop

import (
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestBuildSystemPrompt(t *testing.T) {
	env, root := newTestEnvironment(t)

	if got := BuildSystemPrompt("Be terse.", env, "grok-3"); got != "Be terse." {
		t.Errorf("custom prompt = %q", got)
	}

	got := BuildSystemPrompt("", env, "grok-3")
	for _, want := range []string{DefaultSystemPrompt, "<environment>", "Workspace: " + root, "Model: grok-3", "Platform: "} {
		if !strings.Contains(got, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
	if strings.Contains(got, "AGENTS.md") {
		t.Error("prompt mentions AGENTS.md without one in the workspace")
	}

	writeTestFile(t, filepath.Join(root, "AGENTS.md"), "Run go vet before committing.")
	got = BuildSystemPrompt("", env, "")
	if !strings.HasSuffix(got, "# AGENTS.md\n\nRun go vet before committing.") {
		t.Errorf("project instructions not appended:\n%s", got)
	}
	if strings.Contains(got, "Model:") {
		t.Error("empty model still rendered")
	}
}

func TestProjectInstructionsCapped(t *testing.T) {
	root := t.TempDir()
	writeTestFile(t, filepath.Join(root, "AGENTS.md"), strings.Repeat("x", maxProjectDocBytes+100))
	got := ProjectInstructions(root)
	if !strings.HasSuffix(got, "[Project instructions truncated at 32KB]") {
		t.Errorf("tail = %q", got[len(got)-50:])
	}
	if len(got) > maxProjectDocBytes+100 {
		t.Errorf("len = %d", len(got))
	}
}

func TestGitBranch(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	if got := gitBranch(t.TempDir()); got != "" {
		t.Errorf("branch outside a repository = %q", got)
	}

	repo := t.TempDir()
	if out, err := exec.Command("git", "-C", repo, "init", "-q", "-b", "trunk").CombinedOutput(); err != nil {
		t.Skipf("git init: %v: %s", err, out)
	}
	writeTestFile(t, filepath.Join(repo, "f.txt"), "x\n")
	commit := exec.Command("git", "-C", repo, "-c", "user.name=t", "-c", "user.email=t@example.com", "commit", "-q", "--allow-empty", "-m", "init")
	if out, err := commit.CombinedOutput(); err != nil {
		t.Skipf("git commit: %v: %s", err, out)
	}
	if got := gitBranch(repo); got != "trunk" {
		t.Errorf("branch = %q, want trunk", got)
	}

	saved := gitBranchTimeout
	gitBranchTimeout = time.Nanosecond
	t.Cleanup(func() { gitBranchTimeout = saved })
	start := time.Now()
	if got := gitBranch(repo); got != "" {
		t.Errorf("branch past the deadline = %q", got)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("lookup took %s past its deadline", elapsed)
	}
}

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "tetsuo.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	l, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	cfg := l.Get()
	wd, _ := os.Getwd()

	if cfg.Server.Addr != "127.0.0.1:5000" || cfg.Server.ShutdownTimeout != 10*time.Second {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Workspace != wd {
		t.Errorf("workspace = %q, want %q", cfg.Workspace, wd)
	}
	if cfg.Chat.DefaultProvider != "xai" || cfg.Chat.MaxIterations != 10 || cfg.Chat.MaxTokens != 4096 || cfg.Chat.Temperature != 0.7 {
		t.Errorf("chat = %+v", cfg.Chat)
	}
	if cfg.Tools.CommandTimeout != 30*time.Second || cfg.Tools.GrepTimeout != 10*time.Second || cfg.Tools.UndoLimit != 50 || cfg.Tools.ApprovalMode {
		t.Errorf("tools = %+v", cfg.Tools)
	}
	if cfg.Ollama.Host != "http://localhost:11434" || cfg.Log.Level != "info" || cfg.Log.Format != "text" {
		t.Errorf("ollama = %+v, log = %+v", cfg.Ollama, cfg.Log)
	}
	if l.Path() != "" {
		t.Errorf("Path = %q", l.Path())
	}
}

func TestLoadPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `
server:
  addr: 0.0.0.0:8080
chat:
  default_model: grok-3
  max_tokens: 2048
tools:
  command_timeout: 5s
  approval_mode: true
log:
  level: debug
`)
	t.Setenv("TETSUO_CHAT_MAX_TOKENS", "1024")
	t.Setenv("TETSUO_PASSWORD", "hunter2")
	t.Setenv("OLLAMA_HOST", "http://gpu-box:11434")

	l, err := Load(path, WithOverrides(map[string]any{"server.addr": "127.0.0.1:9999"}))
	if err != nil {
		t.Fatal(err)
	}
	cfg := l.Get()

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"override beats file", cfg.Server.Addr, "127.0.0.1:9999"},
		{"file beats default", cfg.Chat.DefaultModel, "grok-3"},
		{"env beats file", cfg.Chat.MaxTokens, 1024},
		{"duration from file", cfg.Tools.CommandTimeout, 5 * time.Second},
		{"bool from file", cfg.Tools.ApprovalMode, true},
		{"password alias", cfg.Auth.Password, "hunter2"},
		{"ollama alias", cfg.Ollama.Host, "http://gpu-box:11434"},
		{"untouched default", cfg.Chat.MaxIterations, 10},
		{"log level", cfg.Log.Level, "debug"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %v, want %v", tt.got, tt.want)
			}
		})
	}
}

func TestLoadPrefixedEnvBeatsAlias(t *testing.T) {
	t.Setenv("XAI_API_KEY", "from-alias")
	t.Setenv("TETSUO_CHAT_SHARED_API_KEY", "from-prefixed")
	l, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if got := l.Get().Chat.SharedAPIKey; got != "from-prefixed" {
		t.Errorf("shared key = %q", got)
	}
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()

	if _, err := Load(filepath.Join(dir, "missing.yaml")); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("missing file error = %v", err)
	}

	bad := writeConfig(t, dir, "chat:\n  max_iterations: 0\nlog:\n  level: loud\n")
	_, err := Load(bad)
	if err == nil {
		t.Fatal("invalid config accepted")
	}
	for _, want := range []string{"chat.max_iterations", "log.level"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestGetReturnsCopy(t *testing.T) {
	l, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	cfg := l.Get()
	cfg.Server.Addr = "mutated"
	if l.Get().Server.Addr == "mutated" {
		t.Error("Get exposed internal state")
	}
}

func TestReloadOnChange(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "tools:\n  approval_mode: false\n")

	l, err := Load(path, WithDebounce(10*time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	changed := make(chan Config, 4)
	l.OnChange(func(old, new Config) {
		if Changed(old.Tools, new.Tools) {
			changed <- new
		}
	})

	// Give the watcher a moment to register before writing.
	time.Sleep(50 * time.Millisecond)
	writeConfig(t, dir, "tools:\n  approval_mode: true\n")

	select {
	case cfg := <-changed:
		if !cfg.Tools.ApprovalMode {
			t.Errorf("approval_mode = false after reload")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no change notification")
	}
	if !l.Get().Tools.ApprovalMode {
		t.Error("Get does not reflect the reloaded file")
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	if err := os.WriteFile(envFile, []byte("TETSUO_DOTENV_PROBE=loaded\nTETSUO_DOTENV_KEEP=file\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("TETSUO_DOTENV_KEEP", "process")
	t.Cleanup(func() { os.Unsetenv("TETSUO_DOTENV_PROBE") })

	if err := LoadDotEnv(envFile, filepath.Join(dir, "absent.env")); err != nil {
		t.Fatal(err)
	}
	if got := os.Getenv("TETSUO_DOTENV_PROBE"); got != "loaded" {
		t.Errorf("probe = %q", got)
	}
	if got := os.Getenv("TETSUO_DOTENV_KEEP"); got != "process" {
		t.Errorf("existing variable overridden: %q", got)
	}
	if err := LoadDotEnv(filepath.Join(dir, "nope.env")); err != nil {
		t.Errorf("missing file: %v", err)
	}
}

// Package config loads server settings from defaults, an optional config
// file, the environment and command-line overrides, and reports changes to
// the file while the server runs.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/samber/lo"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable read by the loader, so
// chat.default_model is TETSUO_CHAT_DEFAULT_MODEL.
const EnvPrefix = "TETSUO"

type Config struct {
	Server    ServerConfig `mapstructure:"server" json:"server"`
	Workspace string       `mapstructure:"workspace" json:"workspace"`
	Auth      AuthConfig   `mapstructure:"auth" json:"auth"`
	Chat      ChatConfig   `mapstructure:"chat" json:"chat"`
	Tools     ToolsConfig  `mapstructure:"tools" json:"tools"`
	Ollama    OllamaConfig `mapstructure:"ollama" json:"ollama"`
	Log       LogConfig    `mapstructure:"log" json:"log"`
}

type ServerConfig struct {
	Addr              string        `mapstructure:"addr" json:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" json:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" json:"shutdown_timeout"`
}

// AuthConfig enables password protection of the API when Password is set.
type AuthConfig struct {
	Password string `mapstructure:"password" json:"password"`
}

type ChatConfig struct {
	DefaultProvider string        `mapstructure:"default_provider" json:"default_provider"`
	DefaultModel    string        `mapstructure:"default_model" json:"default_model"`
	Temperature     float64       `mapstructure:"temperature" json:"temperature"`
	MaxTokens       int           `mapstructure:"max_tokens" json:"max_tokens"`
	MaxIterations   int           `mapstructure:"max_iterations" json:"max_iterations"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout" json:"request_timeout"`
	SharedAPIKey    string        `mapstructure:"shared_api_key" json:"shared_api_key"`
}

type ToolsConfig struct {
	CommandTimeout time.Duration `mapstructure:"command_timeout" json:"command_timeout"`
	GrepTimeout    time.Duration `mapstructure:"grep_timeout" json:"grep_timeout"`
	ApprovalMode   bool          `mapstructure:"approval_mode" json:"approval_mode"`
	UndoLimit      int           `mapstructure:"undo_limit" json:"undo_limit"`
}

type OllamaConfig struct {
	Host string `mapstructure:"host" json:"host"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" json:"level"`
	Format string `mapstructure:"format" json:"format"`
}

// Defaults returns the built-in value of every key. The workspace defaults
// to the process working directory.
func Defaults() map[string]any {
	wd, err := os.Getwd()
	if err != nil {
		wd = "."
	}
	return map[string]any{
		"server.addr":                "127.0.0.1:5000",
		"server.read_header_timeout": 10 * time.Second,
		"server.shutdown_timeout":    10 * time.Second,
		"workspace":                  wd,
		"auth.password":              "",
		"chat.default_provider":      "xai",
		"chat.default_model":         "grok-4-1-fast-reasoning",
		"chat.temperature":           0.7,
		"chat.max_tokens":            4096,
		"chat.max_iterations":        10,
		"chat.request_timeout":       120 * time.Second,
		"chat.shared_api_key":        "",
		"tools.command_timeout":      30 * time.Second,
		"tools.grep_timeout":         10 * time.Second,
		"tools.approval_mode":        false,
		"tools.undo_limit":           50,
		"ollama.host":                "http://localhost:11434",
		"log.level":                  "info",
		"log.format":                 "text",
	}
}

// envAliases are conventional variable names accepted alongside the
// prefixed ones. The prefixed name wins when both are set.
var envAliases = map[string][]string{
	"auth.password":       {"TETSUO_PASSWORD"},
	"chat.shared_api_key": {"XAI_API_KEY"},
	"ollama.host":         {"OLLAMA_HOST"},
}

// Loader holds the current configuration and notifies watchers when the
// config file changes.
type Loader struct {
	v        *viper.Viper
	path     string
	mu       sync.RWMutex
	value    Config
	watchers []func(old, new Config)
	debounce time.Duration
	logger   *slog.Logger
}

// Option configures a Loader.
type Option func(*Loader)

// WithOverrides sets values that take precedence over the file and the
// environment, typically from command-line flags.
func WithOverrides(values map[string]any) Option {
	return func(l *Loader) {
		for k, v := range values {
			l.v.Set(k, v)
		}
	}
}

// WithLogger sets the logger used to report failed reloads. Without it
// the loader logs to slog.Default() at the time of the failure.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loader) {
		l.logger = logger
	}
}

// WithDebounce sets how long the loader waits for writes to settle before
// reloading a changed file.
func WithDebounce(d time.Duration) Option {
	return func(l *Loader) {
		l.debounce = d
	}
}

// LoadDotEnv loads variables from the given .env files (".env" when none
// are named) without overriding variables already set. Missing files are
// ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	present := lo.Filter(files, func(f string, _ int) bool {
		_, err := os.Stat(f)
		return err == nil
	})
	if len(present) == 0 {
		return nil
	}
	if err := godotenv.Load(present...); err != nil {
		return fmt.Errorf("load %s: %w", strings.Join(present, ", "), err)
	}
	return nil
}

// Load reads the configuration. path may be empty, in which case only
// defaults, environment and overrides apply and nothing is watched.
func Load(path string, opts ...Option) (*Loader, error) {
	v := viper.New()
	for k, val := range Defaults() {
		v.SetDefault(k, val)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, aliases := range envAliases {
		names := append([]string{EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))}, aliases...)
		if err := v.BindEnv(append([]string{key}, names...)...); err != nil {
			return nil, err
		}
	}

	l := &Loader{v: v, path: path, debounce: 100 * time.Millisecond}
	for _, opt := range opts {
		opt(l)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found", path)
			}
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg, err := l.decode()
	if err != nil {
		return nil, err
	}
	l.value = cfg

	if path != "" {
		l.watch()
	}
	return l, nil
}

func (l *Loader) decode() (Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Path returns the config file in use, or "".
func (l *Loader) Path() string { return l.path }

// Get returns a copy of the current configuration.
func (l *Loader) Get() Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return deepCopy(l.value)
}

// OnChange registers fn to run after the config file changes. Callbacks
// run on the watcher goroutine; a panicking callback does not stop the
// others.
func (l *Loader) OnChange(fn func(old, new Config)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.watchers = append(l.watchers, fn)
}

// Changed reports whether two values differ.
func Changed[T any](old, new T) bool {
	return !reflect.DeepEqual(old, new)
}

// Validate rejects settings the server cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr must not be empty"))
	}
	if c.Chat.MaxIterations <= 0 {
		errs = append(errs, fmt.Errorf("chat.max_iterations must be positive, got %d", c.Chat.MaxIterations))
	}
	if c.Chat.MaxTokens <= 0 {
		errs = append(errs, fmt.Errorf("chat.max_tokens must be positive, got %d", c.Chat.MaxTokens))
	}
	if !lo.Contains([]string{"debug", "info", "warn", "error"}, strings.ToLower(c.Log.Level)) {
		errs = append(errs, fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level))
	}
	if !lo.Contains([]string{"text", "json"}, strings.ToLower(c.Log.Format)) {
		errs = append(errs, fmt.Errorf("log.format %q is not one of text, json", c.Log.Format))
	}
	return errors.Join(errs...)
}

func deepCopy(src Config) Config {
	var dst Config
	data, _ := json.Marshal(src)
	_ = json.Unmarshal(data, &dst)
	return dst
}

func (l *Loader) watch() {
	var (
		timer   *time.Timer
		timerMu sync.Mutex
	)
	l.v.OnConfigChange(func(fsnotify.Event) {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(l.debounce, l.reload)
	})
	l.v.WatchConfig()
}

func (l *Loader) log() *slog.Logger {
	if l.logger != nil {
		return l.logger
	}
	return slog.Default()
}

func (l *Loader) reload() {
	old := l.Get()

	l.mu.Lock()
	err := l.v.ReadInConfig()
	var cfg Config
	if err == nil {
		cfg, err = l.decode()
	}
	if err != nil {
		l.mu.Unlock()
		l.log().Warn("config reload failed, keeping previous settings", "path", l.path, "error", err)
		return
	}
	l.value = cfg
	watchers := make([]func(old, new Config), len(l.watchers))
	copy(watchers, l.watchers)
	l.mu.Unlock()

	if !Changed(old, cfg) {
		return
	}
	for _, fn := range watchers {
		func() {
			defer func() { _ = recover() }()
			fn(old, deepCopy(cfg))
		}()
	}
}

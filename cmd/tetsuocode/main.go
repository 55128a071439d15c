// Command tetsuocode serves the coding agent over HTTP.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tetsuocode/tetsuocode/agentloop"
	"github.com/tetsuocode/tetsuocode/internal/config"
	"github.com/tetsuocode/tetsuocode/internal/server"
	"github.com/tetsuocode/tetsuocode/unifiedllm"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

type serveFlags struct {
	configFile string
	addr       string
	workspace  string
	approval   bool
	envFiles   []string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "tetsuocode",
		Short:        "AI coding agent with a streaming HTTP API",
		SilenceUsage: true,
	}
	root.AddCommand(newServeCmd(), newVersionCmd())
	return root
}

func newServeCmd() *cobra.Command {
	var f serveFlags
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			overrides := map[string]any{}
			if cmd.Flags().Changed("addr") {
				overrides["server.addr"] = f.addr
			}
			if cmd.Flags().Changed("workspace") {
				overrides["workspace"] = f.workspace
			}
			if cmd.Flags().Changed("approval") {
				overrides["tools.approval_mode"] = f.approval
			}
			return serve(cmd.Context(), f, overrides)
		},
	}
	cmd.Flags().StringVarP(&f.configFile, "config", "c", "", "config file (yaml, toml or json)")
	cmd.Flags().StringVar(&f.addr, "addr", "", "listen address, host:port")
	cmd.Flags().StringVarP(&f.workspace, "workspace", "w", "", "workspace root directory")
	cmd.Flags().BoolVar(&f.approval, "approval", false, "hold file edits for approval")
	cmd.Flags().StringSliceVar(&f.envFiles, "env-file", []string{".env"}, "dotenv files to load")
	return cmd
}

func newVersionCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			info := map[string]string{
				"version":  version,
				"go":       runtime.Version(),
				"platform": runtime.GOOS + "/" + runtime.GOARCH,
			}
			if bi, ok := debug.ReadBuildInfo(); ok {
				for _, s := range bi.Settings {
					if s.Key == "vcs.revision" {
						info["commit"] = s.Value
					}
				}
			}
			switch output {
			case "json":
				data, err := json.MarshalIndent(info, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(data))
			case "short":
				fmt.Fprintln(cmd.OutOrStdout(), version)
			default:
				fmt.Fprintf(cmd.OutOrStdout(), "tetsuocode %s (%s, %s)\n", version, info["go"], info["platform"])
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "text", "output format (text, json, short)")
	return cmd
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func serve(ctx context.Context, f serveFlags, overrides map[string]any) error {
	if err := config.LoadDotEnv(f.envFiles...); err != nil {
		return err
	}
	loader, err := config.Load(f.configFile, config.WithOverrides(overrides))
	if err != nil {
		return err
	}
	cfg := loader.Get()
	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	ws, err := agentloop.NewWorkspace(cfg.Workspace)
	if err != nil {
		return fmt.Errorf("workspace %s: %w", cfg.Workspace, err)
	}

	registry := unifiedllm.NewRegistry(
		unifiedllm.WithDefaultProvider(cfg.Chat.DefaultProvider),
		unifiedllm.WithSharedKey(cfg.Chat.SharedAPIKey),
		unifiedllm.WithBaseURL(server.OllamaProviderID, strings.TrimRight(cfg.Ollama.Host, "/")+"/v1"),
	)
	client := unifiedllm.NewClient(
		unifiedllm.WithResponseTimeout(cfg.Chat.RequestTimeout),
		unifiedllm.WithLogger(logger),
	)
	models, err := server.NewOllamaModels(cfg.Ollama.Host, nil)
	if err != nil {
		logger.Warn("ollama discovery disabled", "error", err)
	}

	opts := server.Options{
		Config:    cfg,
		Registry:  registry,
		Streamer:  client,
		Workspace: ws,
		Logger:    logger,
	}
	if models != nil {
		opts.Models = models
	}
	srv := server.New(opts)

	loader.OnChange(func(old, new config.Config) {
		logger.Info("config file changed", "path", loader.Path())
		if config.Changed(old.Server, new.Server) || config.Changed(old.Log, new.Log) {
			logger.Warn("server and log settings take effect after restart")
		}
		srv.Reconfigure(new)
	})

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	logger.Info("tetsuocode listening",
		"addr", cfg.Server.Addr,
		"workspace", ws.Root(),
		"provider", cfg.Chat.DefaultProvider,
		"approval_mode", cfg.Tools.ApprovalMode,
		"auth", cfg.Auth.Password != "",
		"config", loader.Path(),
	)

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-signalCtx.Done():
	}

	n := srv.CancelRuns()
	logger.Info("shutting down", "runs_cancelled", n, "timeout", cfg.Server.ShutdownTimeout)

	if timedOut, err := shutdown(httpServer, cfg.Server.ShutdownTimeout); err != nil {
		return err
	} else if timedOut {
		logger.Warn("shutdown timed out, connections closed")
	}
	return <-errCh
}

// shutdown drains the server, falling back to Close when timeout passes.
func shutdown(s *http.Server, timeout time.Duration) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	err := s.Shutdown(ctx)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		return false, fmt.Errorf("shutdown: %w", err)
	}
	if closeErr := s.Close(); closeErr != nil && !errors.Is(closeErr, http.ErrServerClosed) {
		return true, fmt.Errorf("close: %w", closeErr)
	}
	return true, nil
}

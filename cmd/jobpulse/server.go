package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/jobpulse/jobpulse/internal/api"
	"github.com/jobpulse/jobpulse/internal/config"
	"github.com/jobpulse/jobpulse/internal/ledger"
	"github.com/jobpulse/jobpulse/internal/matching"
	"github.com/jobpulse/jobpulse/internal/messenger"
	"github.com/jobpulse/jobpulse/internal/orchestrator"
	"github.com/jobpulse/jobpulse/internal/provider"
	"github.com/jobpulse/jobpulse/internal/reminder"
	"github.com/jobpulse/jobpulse/internal/storage"
	"github.com/jobpulse/jobpulse/internal/window"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the jobpulse daemon (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "jobpulse version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logLevel := slog.LevelInfo
	if strings.EqualFold(os.Getenv("JOBPULSE_LOG_LEVEL"), "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	// Refuse to double-start: probe the health endpoint first.
	pidPath := cfg.PIDFile()
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(localURL(cfg.HTTPAddr) + "/health"); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("jobpulse is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("jobpulse is already running on %s", cfg.HTTPAddr)
		return fmt.Errorf("server already running on %s", cfg.HTTPAddr)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	// Assemble the delivery engine. An absent embedding key leaves the
	// matcher on keyword scoring alone.
	var embedProvider matching.Provider
	if cfg.EmbeddingAPIKey != "" {
		embedProvider = provider.NewOpenAI(cfg.EmbeddingAPIKey, cfg.EmbeddingBaseURL, cfg.EmbeddingModel)
	} else {
		slog.Warn("no embedding API key configured, matching falls back to keyword scoring")
	}

	windows := window.NewManager(store.DB())
	ldg := ledger.New(store.DB())
	matcher := matching.New(embedProvider, store, matching.Options{})
	platform := messenger.New(cfg.PlatformBaseURL, cfg.PlatformToken, 0)
	reminders := reminder.NewScheduler(store.DB(), windows, platform)
	engine := orchestrator.New(store, windows, ldg, matcher, reminders, platform, orchestrator.Options{
		MaxJobsPerDay:   cfg.MaxJobsPerDay,
		TopN:            cfg.TopN,
		CandidatePool:   cfg.CandidatePool,
		WindowRetention: cfg.WindowRetentionDays,
		LedgerRetention: cfg.LedgerRetentionDays,
	})

	handler := api.NewHandler(api.Deps{Engine: engine, Token: cfg.APIToken})
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: handler}

	// Periodic delivery cycle.
	go func() {
		ticker := time.NewTicker(cfg.CycleInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := engine.RunCycle(ctx); err != nil &&
					!errors.Is(err, context.Canceled) && !errors.Is(err, orchestrator.ErrCycleRunning) {
					slog.Error("delivery cycle failed", "error", err)
				}
			}
		}
	}()
	slog.Info("delivery cycle scheduled", "interval", cfg.CycleInterval)

	if cfg.MCPStdio {
		mcpSrv := api.NewMCPServer(api.MCPDeps{Store: store, Engine: engine, Windows: windows})
		stdioSrv := server.NewStdioServer(mcpSrv)
		go func() {
			if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
		}()
		slog.Info("MCP server started (stdio transport)")
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "jobpulse listening on %s\n", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// localURL turns a listen address like ":8080" into a dialable base URL.
func localURL(addr string) string {
	if strings.HasPrefix(addr, ":") {
		return "http://127.0.0.1" + addr
	}
	return "http://" + addr
}

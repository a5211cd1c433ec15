package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/foldline/worklog-mcp/internal/autoswitch"
	"github.com/foldline/worklog-mcp/internal/clock"
	"github.com/foldline/worklog-mcp/internal/config"
	"github.com/foldline/worklog-mcp/internal/lease"
	"github.com/foldline/worklog-mcp/internal/memlink"
	"github.com/foldline/worklog-mcp/internal/server"
	"github.com/foldline/worklog-mcp/internal/store"
	"github.com/foldline/worklog-mcp/internal/store/memory"
	"github.com/foldline/worklog-mcp/internal/store/sqlite"
	"github.com/foldline/worklog-mcp/internal/termination"
	"github.com/foldline/worklog-mcp/internal/watch"
)

// maxSweepInterval caps how long an expired lease can sit unclaimed
// before the sweeper picks it up.
const maxSweepInterval = time.Minute

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the MCP server",
	Long: `Serve runs the worklog MCP server on stdio, or over HTTP/SSE when an
address is configured. The filesystem watcher and the abandoned-session
sweeper run alongside the server until the process is signalled.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("http", "", "serve over HTTP/SSE on this address instead of stdio (e.g. :8080)")
	_ = viper.BindPFlag("server.http_addr", serveCmd.Flags().Lookup("http"))

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Logging.Level),
	}))
	slog.SetDefault(logger)

	logger.Info("starting worklog-mcp",
		"version", version,
		"driver", cfg.Storage.Driver,
		"policy", cfg.Switch.Policy,
		"http_addr", cfg.Server.HTTPAddr,
	)

	clk := clock.System()

	st, closeStore, err := openStore(cfg, clk, logger)
	if err != nil {
		return err
	}

	leases := lease.NewManager(st, lease.Config{
		Timeout: cfg.Lease.Timeout(),
		Clock:   clk,
		Logger:  logger,
	})

	engine, err := autoswitch.New(st, leases, autoswitch.Options{
		Config: autoswitch.Config{
			Policy:               autoswitch.Policy(cfg.Switch.Policy),
			ConfidenceThreshold:  cfg.Switch.ConfidenceThreshold,
			MaxSwitchesPerHour:   cfg.Switch.MaxSwitchesPerHour,
			DebounceDelay:        cfg.Switch.Debounce(),
			ExcludedPathPrefixes: cfg.Switch.ExcludedPathPrefixes,
			MaxPendingPrompts:    cfg.Switch.MaxPendingPrompts,
		},
		Observer: autoswitch.NewLogObserver(logger),
		Clock:    clk,
		Logger:   logger,
	})
	if err != nil {
		_ = closeStore()
		return fmt.Errorf("create switch engine: %w", err)
	}

	linker := memlink.NewLinker(st, st, clk, logger)

	terminator := termination.NewHandler(st, linker, leases, termination.Config{
		ForceCleanupTimeout:  cfg.Terminate.CleanupTimeout(),
		MaxBackupsPerSession: cfg.Terminate.MaxBackupsPerSession,
		Clock:                clk,
		Logger:               logger,
	})

	mcpServer := server.NewServer(server.Config{
		Name:    "worklog-mcp",
		Version: version,
		Clock:   clk,
		Logger:  logger,
	}, st, leases, engine, linker, terminator)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var watcher *watch.Watcher
	if cfg.Watch.Enabled && len(cfg.Watch.Roots) > 0 {
		watcher, err = watch.New(engine, watch.Config{
			Roots:       cfg.Watch.Roots,
			IgnoreGlobs: cfg.Watch.IgnoreGlobs,
			Debounce:    cfg.Watch.Debounce(),
		}, logger)
		if err != nil {
			engine.Close()
			_ = closeStore()
			return fmt.Errorf("create watcher: %w", err)
		}
		if err := watcher.Start(ctx); err != nil {
			engine.Close()
			_ = closeStore()
			return fmt.Errorf("start watcher: %w", err)
		}
		logger.Info("filesystem watcher started", "roots", cfg.Watch.Roots)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// Start MCP server in goroutine
	go func() {
		if addr := cfg.Server.HTTPAddr; addr != "" {
			logger.Info("starting MCP server with HTTP/SSE transport", "addr", addr)
			if err := mcpServer.ServeHTTPWithLogger(addr, logger); err != nil {
				logger.Error("MCP server error", "error", err)
				cancel()
			}
		} else {
			logger.Info("starting MCP server on stdio")
			if err := mcpServer.ServeWithLogger(logger); err != nil {
				logger.Error("MCP server error", "error", err)
				cancel()
			}
		}
	}()

	// Sweep sessions whose lease lapsed without a release
	go func() {
		ticker := clk.NewTicker(sweepInterval(cfg.Lease.Timeout()))
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if id, ok := terminator.SweepAbandoned(ctx); ok {
					logger.Info("terminated abandoned session", "session_id", id)
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	// Wait for shutdown signal
	select {
	case <-sigChan:
		logger.Info("received shutdown signal")
	case <-ctx.Done():
		logger.Info("context canceled")
	}

	logger.Info("shutting down gracefully")
	cancel()

	if watcher != nil {
		if err := watcher.Close(); err != nil {
			logger.Warn("watcher close failed", "error", err)
		}
	}
	engine.Close()

	// Bring the active session down cleanly before the store closes
	if info := leases.Current(); info != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Terminate.CleanupTimeout())
		if _, err := terminator.Terminate(shutdownCtx, info.SessionID, termination.ReasonShutdown, termination.DefaultOptions()); err != nil {
			logger.Warn("shutdown termination failed", "session_id", info.SessionID, "error", err)
		}
		shutdownCancel()
	}

	if err := closeStore(); err != nil {
		logger.Warn("store close failed", "error", err)
	}

	logger.Info("worklog-mcp shutdown complete")
	return nil
}

// openStore builds the configured storage backend. The returned close
// function is a no-op for the memory driver.
func openStore(cfg *config.Config, clk clock.Clock, logger *slog.Logger) (store.Store, func() error, error) {
	switch cfg.Storage.Driver {
	case "memory":
		logger.Warn("using in-memory storage, sessions will not survive a restart")
		return memory.New(clk), func() error { return nil }, nil
	default:
		path := cfg.Storage.ResolvePath()
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, nil, fmt.Errorf("create data directory: %w", err)
		}
		st, err := sqlite.Open(sqlite.Config{
			Path:     path,
			PoolSize: cfg.Storage.PoolSize,
			Clock:    clk,
			Logger:   logger,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("open store: %w", err)
		}
		logger.Info("opened sqlite store", "path", path)
		return st, st.Close, nil
	}
}

// sweepInterval derives the sweeper ticker period from the lease
// timeout: half the timeout, at most maxSweepInterval, at least one
// second.
func sweepInterval(leaseTimeout time.Duration) time.Duration {
	interval := leaseTimeout / 2
	if interval > maxSweepInterval {
		interval = maxSweepInterval
	}
	if interval < time.Second {
		interval = time.Second
	}
	return interval
}

// parseLogLevel maps the configured level onto a slog level. Unknown
// values fall back to info.
func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

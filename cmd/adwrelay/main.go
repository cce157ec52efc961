// adwrelay keeps a reliable WebSocket connection to the trigger server and
// exposes its status over HTTP.
// Usage: go run ./cmd/adwrelay --config configs/relay.local.yaml
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rickgao/adw-relay/internal/config"
	"github.com/rickgao/adw-relay/internal/connection"
	"github.com/rickgao/adw-relay/internal/database"
	"github.com/rickgao/adw-relay/internal/journal"
	"github.com/rickgao/adw-relay/internal/statusapi"
	"github.com/rickgao/adw-relay/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/relay.local.yaml", "path to config file")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Set up structured logging
	level, _ := cfg.Log.SlogLevel()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})).With("instance_id", cfg.Instance.ID)
	slog.SetDefault(logger)

	logger.Info("starting relay",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	if err := run(cfg, logger); err != nil {
		logger.Error("relay exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("relay stopped")
}

func run(cfg *config.RelayConfig, logger *slog.Logger) error {
	// Create context with cancellation on shutdown signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mgr, err := connection.NewManager(cfg.Connection.ToManagerConfig(), connection.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("create connection manager: %w", err)
	}

	mgr.OnStateChanged(func(ev connection.StateChanged) {
		if ev.To == connection.StateFailed {
			logger.Error("trigger server unreachable, waiting for manual connect",
				"url", mgr.Config().URL(),
				"error", ev.Err,
			)
		}
	})
	mgr.OnMessage(func(ev connection.MessageReceived) {
		logger.Debug("inbound message", "type", ev.Type, "size", len(ev.Data))
	})

	// Optional transition journal
	var jnl *journal.Journal
	if cfg.Journal.Enabled {
		db := cfg.Journal.Database
		logger.Info("connecting to journal database",
			"host", db.Host,
			"port", db.Port,
			"database", db.Name,
		)
		pool, err := database.Connect(ctx, db, logger)
		if err != nil {
			return fmt.Errorf("connect journal database: %w", err)
		}
		defer pool.Close()

		jnl = journal.New(journal.Config{
			InstanceID:    cfg.Instance.ID,
			BatchSize:     cfg.Journal.BatchSize,
			FlushInterval: cfg.Journal.FlushInterval,
			BufferSize:    cfg.Journal.BufferSize,
		}, pool, logger)
		if err := jnl.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("create journal schema: %w", err)
		}
		if err := jnl.Start(ctx); err != nil {
			return fmt.Errorf("start journal: %w", err)
		}
		mgr.OnAll(jnl.Handle)
	}

	var stats statusapi.JournalStats
	if jnl != nil {
		stats = jnl
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           statusapi.NewHandler(mgr, stats, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting status server", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("status server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		mgr.Connect()
		logger.Info("relay running",
			"url", mgr.Config().URL(),
			"status_url", fmt.Sprintf("http://localhost:%d/status", cfg.Server.Port),
		)

		// Wait for shutdown
		<-gctx.Done()
		logger.Info("shutting down...")

		mgr.Disconnect()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("status server shutdown", "error", err)
		}
		if jnl != nil {
			if err := jnl.Stop(shutdownCtx); err != nil {
				logger.Warn("journal shutdown", "error", err)
			}
		}
		return nil
	})

	return g.Wait()
}

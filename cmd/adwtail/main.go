// adwtail connects to the trigger server and streams state changes and
// inbound frames to the console.
// Usage: go run ./cmd/adwtail --host localhost --port 8002
//
// With --config, the connection section of a relay config file is used
// instead of the host/port flags.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rickgao/adw-relay/internal/broadcast"
	"github.com/rickgao/adw-relay/internal/config"
	"github.com/rickgao/adw-relay/internal/connection"
)

func main() {
	configPath := flag.String("config", "", "path to relay config file (optional)")
	host := flag.String("host", connection.DefaultHost, "trigger server host")
	port := flag.Int("port", connection.DefaultPort, "trigger server port")
	verbose := flag.Bool("verbose", false, "print full message JSON")
	flag.Parse()

	// Setup logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	connCfg := connection.Config{Host: *host, Port: *port}
	if *configPath != "" {
		cfg, err := config.LoadWithDefaults(*configPath)
		if err != nil {
			logger.Error("failed to load config", "error", err)
			os.Exit(1)
		}
		connCfg = cfg.Connection.ToManagerConfig()
	}

	mgr, err := connection.NewManager(connCfg, connection.WithLogger(logger))
	if err != nil {
		logger.Error("invalid connection config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	mgr.OnStateChanged(func(ev connection.StateChanged) {
		if ev.Err != nil {
			fmt.Printf("[STATE] %s -> %s attempt=%d error=%v\n", ev.From, ev.To, ev.Attempt, ev.Err)
			return
		}
		fmt.Printf("[STATE] %s -> %s attempt=%d\n", ev.From, ev.To, ev.Attempt)
	})
	mgr.OnHealthChanged(func(ev connection.HealthChanged) {
		fmt.Printf("[HEALTH] %s -> %s latency=%dms\n", ev.From, ev.To, ev.LatencyMs)
	})
	mgr.OnMessage(func(ev connection.MessageReceived) {
		if *verbose {
			var pretty any
			if json.Unmarshal(ev.Data, &pretty) == nil {
				data, _ := json.MarshalIndent(pretty, "", "  ")
				fmt.Printf("[MESSAGE] %s\n", data)
				return
			}
		}
		fmt.Printf("[MESSAGE] type=%s size=%d\n", ev.Type, len(ev.Data))
	})
	mgr.On(connection.KindProtocolError, func(ev broadcast.Event) {
		perr := ev.(connection.ProtocolError)
		fmt.Printf("[PROTOCOL] %v size=%d\n", perr.Err, len(perr.Data))
	})

	// Stats printer
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				st := mgr.Status()
				logger.Info("stats",
					"state", st.State,
					"health", st.Health,
					"latency_ms", st.LatencyMs,
					"queued", st.QueuedCount,
					"attempt", st.AttemptNumber,
				)
			}
		}
	}()

	mgr.Connect()
	logger.Info("streaming started - press Ctrl+C to stop", "url", mgr.Config().URL())

	// Wait for shutdown
	<-ctx.Done()

	logger.Info("shutting down...")
	mgr.Disconnect()
	logger.Info("shutdown complete")
}

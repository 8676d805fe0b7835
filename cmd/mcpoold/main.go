// mcpoold is the mcpool daemon — the local control plane for a pool of
// MCP servers.
//
// It spawns each configured server as a child process, speaks MCP to it
// over stdio, and exposes pool management, tool routing, and resource
// access over a unix-socket HTTP API.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/xfeldman/mcpool/internal/api"
	"github.com/xfeldman/mcpool/internal/config"
	"github.com/xfeldman/mcpool/internal/history"
	"github.com/xfeldman/mcpool/internal/logstore"
	"github.com/xfeldman/mcpool/internal/mcp"
	"github.com/xfeldman/mcpool/internal/pool"
	"github.com/xfeldman/mcpool/internal/version"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	configPath := flag.String("config", "", "config file path (default: search mcpool.yaml, configs/, ~/.mcpool/)")
	socketPath := flag.String("socket", "", "unix socket path (overrides config)")
	strategyName := flag.String("strategy", "", "tool routing strategy: health or round_robin (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if *socketPath != "" {
		cfg.SocketPath = *socketPath
	}
	if *strategyName != "" {
		cfg.Strategy = *strategyName
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := cfg.EnsureDirs(); err != nil {
		log.Fatalf("create directories: %v", err)
	}

	log.Printf("mcpoold starting (version %s)", version.Version())

	// Open event history database
	hist, err := history.Open(cfg.HistoryDBPath)
	if err != nil {
		log.Fatalf("open history: %v", err)
	}
	defer hist.Close()
	log.Printf("history: %s", cfg.HistoryDBPath)

	if retention := cfg.HistoryRetention.Duration(); retention > 0 {
		n, err := hist.Prune(time.Now().Add(-retention))
		if err != nil {
			log.Printf("history prune: %v", err)
		} else if n > 0 {
			log.Printf("history: pruned %d events older than %s", n, retention)
		}
	}

	// Stderr capture for pooled servers
	logs := logstore.NewStore(cfg.LogsDir)
	defer logs.Close()

	// Build the pool
	strategy, err := pool.NewStrategy(cfg.Strategy)
	if err != nil {
		log.Fatal(err)
	}
	m := pool.NewManager(cfg, strategy)
	m.SetClientInfo(mcp.Info{Name: "mcpool", Version: version.Version()})
	m.OnStderr(logs.Append)

	sessionID := uuid.NewString()
	m.OnEvent(func(ev pool.Event) {
		err := hist.Record(&history.Event{
			SessionID: sessionID,
			ServerID:  ev.ServerID,
			Type:      string(ev.Type),
			Detail:    ev.Detail,
		})
		if err != nil {
			log.Printf("history record: %v", err)
		}
	})

	hist.Record(&history.Event{
		SessionID: sessionID,
		Type:      "daemon_start",
		Detail:    map[string]any{"version": version.Version(), "strategy": strategy.Name()},
	})

	m.Start()

	// Start API server
	server := api.NewServer(cfg, m, hist, logs)
	if err := server.Start(); err != nil {
		log.Fatalf("start API server: %v", err)
	}

	// Write PID file
	os.WriteFile(cfg.PIDFile, []byte(fmt.Sprintf("%d", os.Getpid())), 0600)
	defer os.Remove(cfg.PIDFile)

	log.Printf("mcpoold ready (pid %d, socket %s, strategy %s, %d configured servers)",
		os.Getpid(), cfg.SocketPath, strategy.Name(), len(cfg.Servers))

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh
	log.Printf("received %v, shutting down", sig)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Stop(ctx); err != nil {
		log.Printf("server shutdown: %v", err)
	}

	// Stop the pool (kills all child servers)
	m.Stop()

	hist.Record(&history.Event{
		SessionID: sessionID,
		Type:      "daemon_stop",
	})

	// Clean up socket
	os.Remove(cfg.SocketPath)

	log.Println("mcpoold stopped")
}

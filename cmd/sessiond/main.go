package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"tailscale.com/tsnet"

	"github.com/kinevo/sessiond/internal/config"
	"github.com/kinevo/sessiond/internal/engine"
	"github.com/kinevo/sessiond/internal/identity"
	"github.com/kinevo/sessiond/internal/mcp"
	"github.com/kinevo/sessiond/internal/pending"
	"github.com/kinevo/sessiond/internal/reconcile"
	"github.com/kinevo/sessiond/internal/server"
	"github.com/kinevo/sessiond/internal/storage"
	"github.com/kinevo/sessiond/internal/substitute"
)

// Version is set at build time via -ldflags.
var Version = "dev"

// restTimerNotifier surfaces set completions so the rest timer can start.
// Delivery to the phone is out of scope here; the event is logged for the
// push relay to pick up.
type restTimerNotifier struct {
	log *slog.Logger
}

func (n restTimerNotifier) SetCompleted(workoutID uuid.UUID, exerciseIndex, restSeconds int) {
	n.log.Info("rest timer",
		"workout", workoutID, "exercise", exerciseIndex, "rest_seconds", restSeconds)
}

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	migrateOnly := flag.Bool("migrate-only", false, "run migrations and exit")
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	log.Info("sessiond starting", "version", Version)

	// Load config
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Run migrations
	dsn := cfg.Database.DSN()
	if err := storage.RunMigrations(dsn, "migrations"); err != nil {
		log.Error("migration failed", "error", err)
		os.Exit(1)
	}
	log.Info("migrations applied")

	if *migrateOnly {
		log.Info("migrate-only: exiting")
		return
	}

	// Connect database
	ctx := context.Background()
	db, err := storage.New(ctx, dsn)
	if err != nil {
		log.Error("failed to connect database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	log.Info("database connected")

	// Open the durable offline-finish queue
	queue, err := pending.Open(cfg.Engine.StateDir)
	if err != nil {
		log.Error("failed to open pending queue", "error", err)
		os.Exit(1)
	}
	defer queue.Close()

	// Wire the engine and its collaborators
	idClient := identity.NewClient(cfg.Auth.IdentityURL, cfg.Auth.IdentityAPIKey)
	eng := engine.New(db, restTimerNotifier{log: log}, log)
	defer eng.Close()
	rec := reconcile.New(db, idClient, eng, queue, log)
	subs := substitute.New(db)

	srv := server.New(db, eng, rec, subs, idClient, cfg.Auth.DeviceAPIKey, log)
	srv.SetMCP(mcpserver.NewStreamableHTTPServer(mcp.New(db, queue, Version, log)))

	// Replay pending finishes at startup and on a timer; the device relay can
	// also trigger a pass over HTTP.
	replayCtx, stopReplay := context.WithCancel(ctx)
	defer stopReplay()
	go func() {
		if err := rec.ReplayPending(replayCtx); err != nil {
			log.Warn("startup replay failed", "error", err)
		}
		ticker := time.NewTicker(time.Duration(cfg.Engine.ReplayInterval()) * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-replayCtx.Done():
				return
			case <-ticker.C:
				if err := rec.ReplayPending(replayCtx); err != nil {
					log.Warn("periodic replay failed", "error", err)
				}
			}
		}
	}()

	// Start server — tsnet or plain HTTP
	var listener net.Listener

	if cfg.Tailscale.Enabled {
		tsServer := &tsnet.Server{
			Hostname: cfg.Tailscale.Hostname,
			Dir:      cfg.Tailscale.StateDir,
		}
		if err := tsServer.Start(); err != nil {
			log.Error("tsnet start failed", "error", err)
			os.Exit(1)
		}
		defer tsServer.Close()

		listener, err = tsServer.Listen("tcp", ":80")
		if err != nil {
			log.Error("tsnet listen failed", "error", err)
			os.Exit(1)
		}
		log.Info("tsnet server starting", "hostname", cfg.Tailscale.Hostname)
	} else {
		addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		listener, err = net.Listen("tcp", addr)
		if err != nil {
			log.Error("listen failed", "addr", addr, "error", err)
			os.Exit(1)
		}
		log.Info("server starting", "addr", addr, "mode", "dev (no tailscale)")
	}

	httpSrv := &http.Server{Handler: srv}

	go func() {
		if err := httpSrv.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info("shutting down", "signal", sig)

	stopReplay()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", "error", err)
	}
	log.Info("server stopped")
}

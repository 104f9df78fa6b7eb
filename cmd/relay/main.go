package main

import (
	"chat-relay/infrastructure/storage"
	"chat-relay/internal"
	"chat-relay/observability"
	"chat-relay/runtime"
	"chat-relay/runtime/workers"
	"chat-relay/session"
	"chat-relay/transport"
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/mama165/sdk-go/database"
	"github.com/mama165/sdk-go/logs"
)

// Exit codes to provide meaningful status to the operating system or service manager (e.g., systemd).
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Relay terminated with error: %v\n", err)
	}
	os.Exit(code)
}

// run wires every component and blocks until a signal arrives, so that
// deferred cleanup (badger, listener) always runs before the exit code is returned.
func run() (int, error) {
	// 1. Configuration & Logger
	config, err := internal.LoadConfig()
	if err != nil {
		return exitConfig, err
	}
	logger := logs.GetLoggerFromString(config.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Group store (BadgerDB)
	db, err := badger.Open(buildBadgerOpts(ctx, config, logger))
	if err != nil {
		return exitRuntime, fmt.Errorf("database opening failed: %w", err)
	}
	defer func() {
		logger.Info("Closing BadgerDB...")
		_ = db.Close()
	}()

	if logger.Enabled(ctx, slog.LevelDebug) {
		logger.Info("Debug Badger inspector available", "url", fmt.Sprintf("http://localhost:%d/inspect", config.DebugPort))
		database.StartDebugServer(db, config.DebugPort, "/inspect", GroupMapper)
	}

	// 3. Core
	metrics := observability.NewMetrics()
	registry := runtime.NewRegistry(logger, storage.NewGroupRepository(db, logger), metrics, config.MailboxCapacity)
	if err := registry.Load(); err != nil {
		return exitRuntime, err
	}
	router := runtime.NewRouter(logger, registry, metrics)
	relay := runtime.NewRelay(logger, registry, router, metrics, runtime.RelayOptions{
		ChunkSize:   config.ChunkSize,
		ReadTimeout: config.TransferTimeout,
	})
	handler := session.NewHandler(logger, registry, router, relay, metrics, session.Options{MaxFileSize: config.MaxFileSize})

	// 4. Listener & workers
	listener, err := net.Listen("tcp", config.Addr())
	if err != nil {
		return exitRuntime, fmt.Errorf("listen on %s: %w", config.Addr(), err)
	}
	server := session.NewServer(logger, listener, handler, transport.Options{
		MaxFrameSize: config.MaxFrameSize,
		WriteTimeout: config.WriteTimeout,
	})

	supervisor := workers.NewSupervisor(logger).
		Add(server, workers.NewStatsWorker(logger, metrics, config.StatsInterval))
	done := make(chan struct{})
	go func() {
		supervisor.Run(ctx)
		close(done)
	}()

	// 5. Graceful shutdown
	<-ctx.Done()
	logger.Info("Shutdown signal received")
	select {
	case <-done:
		logger.Info("Relay stopped cleanly")
		return exitOK, nil
	case <-time.After(config.ShutdownTimeout):
		return exitRuntime, fmt.Errorf("shutdown did not complete within %s", config.ShutdownTimeout)
	}
}

func buildBadgerOpts(ctx context.Context, config internal.Config, logger *slog.Logger) badger.Options {
	options := badger.DefaultOptions(config.BadgerFilepath)
	if config.InMemory() {
		logger.Warn("BADGER_FILEPATH is empty, groups are kept in memory only")
		options = badger.DefaultOptions("").WithInMemory(true)
	}

	if logger.Enabled(ctx, slog.LevelDebug) {
		return options.WithLoggingLevel(badger.DEBUG)
	}
	return options.WithLoggingLevel(badger.WARNING)
}

// GroupMapper renders a group key for the debug inspector.
func GroupMapper(key string, val []byte) database.InspectRow {
	row := database.DefaultMapper(key, val)
	if !strings.HasPrefix(key, storage.GroupPrefix) {
		return row
	}

	members, err := storage.DecodeMembers(val)
	if err != nil {
		row.Detail = "Error: unmarshal failed"
		return row
	}
	row.Type = "GROUP"
	row.Detail = strings.Join(members, ", ")
	return row
}

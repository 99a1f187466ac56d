package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/matheus3301/carechat/internal/devserver"
	"github.com/matheus3301/carechat/internal/logging"
)

func main() {
	_ = godotenv.Load()

	addr := flag.String("addr", envOr("CHATMOCK_ADDR", "127.0.0.1:8085"), "listen address")
	dbPath := flag.String("db", envOr("CHATMOCK_DB", "chatmock.db"), "SQLite database path")
	seed := flag.Bool("seed", true, "load the demo users")
	debug := flag.Bool("debug", false, "log every request")
	flag.Parse()

	logger := logging.NewConsole(*debug)
	defer func() { _ = logger.Sync() }()

	if err := run(logger, *addr, *dbPath, *seed); err != nil {
		logger.Error("chatmock failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(logger *zap.Logger, addr, dbPath string, seed bool) error {
	db, err := devserver.Open(dbPath)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	version, err := db.Migrate()
	if err != nil {
		return err
	}
	logger.Info("database ready", zap.String("path", dbPath), zap.Uint("version", version))

	if seed {
		if err := db.Seed(devserver.DemoUsers); err != nil {
			return err
		}
		for _, u := range devserver.DemoUsers {
			logger.Info("demo user", zap.String("id", u.ID), zap.String("kind", u.Kind), zap.String("token", u.Token))
		}
	}

	srv := devserver.New(db, logger)
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", addr))
		errc <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	srv.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

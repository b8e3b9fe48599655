package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"

	"chat-backend/internal/app"
)

func main() {
	_ = godotenv.Load()

	defaultPath := os.Getenv("CONFIG_FILE")
	if defaultPath == "" {
		defaultPath = "config.json"
	}
	configPath := flag.String("config", defaultPath, "path to the JSON config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := app.Build(ctx, app.Options{ConfigPath: configPath})
	if err != nil {
		return err
	}
	defer rt.Close()

	logger := rt.Logger
	cfg := rt.Config.Current().Config

	rt.Start(ctx)

	// Event streams only end when their request context does, so Shutdown
	// cancels the base context instead of waiting on them.
	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()
	base := func(net.Listener) context.Context { return baseCtx }

	servers := []*http.Server{
		{Addr: cfg.ClientAddr(), Handler: rt.UserHandler, ReadHeaderTimeout: 10 * time.Second, BaseContext: base},
		{Addr: cfg.AdminAddr(), Handler: rt.AdminHandler, ReadHeaderTimeout: 10 * time.Second, BaseContext: base},
	}

	errs := make(chan error, len(servers))
	for _, srv := range servers {
		go func(srv *http.Server) {
			logger.Info("server_start", map[string]any{"addr": srv.Addr})
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errs <- fmt.Errorf("listen %s: %w", srv.Addr, err)
			}
		}(srv)
	}

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	var runErr error
loop:
	for {
		select {
		case <-hup:
			if _, err := rt.Reload(configPath); err != nil {
				logger.Error("config_reload_failed", map[string]any{"error": err.Error(), "path": configPath})
			}
		case runErr = <-errs:
			break loop
		case <-ctx.Done():
			break loop
		}
	}

	logger.Info("server_shutdown", nil)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	cancelBase()
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server_shutdown_failed", map[string]any{"addr": srv.Addr, "error": err.Error()})
		}
	}
	return runErr
}

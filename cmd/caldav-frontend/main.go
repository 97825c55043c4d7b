// Command caldav-frontend serves a JSON calendar API backed by a CalDAV
// server.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/FuzzyMistborn/caldav-frontend/internal/config"
	"github.com/FuzzyMistborn/caldav-frontend/internal/httpclient"
	"github.com/FuzzyMistborn/caldav-frontend/internal/web"
	"github.com/FuzzyMistborn/caldav-frontend/profile"
	"github.com/FuzzyMistborn/caldav-frontend/registry"
	"github.com/FuzzyMistborn/caldav-frontend/session"
	"github.com/FuzzyMistborn/caldav-frontend/syncer"
)

func main() {
	var (
		configPath = flag.String("config", "config.yaml", "path to config file")
		listen     = flag.String("listen", "", "HTTP listen address (overrides config)")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "path", *configPath, "error", err)
		os.Exit(1)
	}
	if *listen != "" {
		cfg.Listen = *listen
	}

	logger := newLogger(cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid config", "error", err)
		os.Exit(1)
	}

	srv, err := buildServer(cfg, logger)
	if err != nil {
		logger.Error("failed to start", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Warm the calendar cache; requests discover lazily if this fails.
	warmCtx, warmCancel := context.WithTimeout(ctx, 30*time.Second)
	if err := srv.RefreshCalendars(warmCtx); err != nil {
		logger.Warn("initial calendar discovery failed", "error", err)
	}
	warmCancel()

	if cfg.RefreshCron != "" {
		scheduler := cron.New()
		_, err := scheduler.AddFunc(cfg.RefreshCron, func() {
			refreshCtx, refreshCancel := context.WithTimeout(ctx, 30*time.Second)
			defer refreshCancel()
			if err := srv.RefreshCalendars(refreshCtx); err != nil {
				logger.Warn("scheduled calendar refresh failed", "error", err)
			}
		})
		if err != nil {
			logger.Error("invalid refresh schedule", "refresh", cfg.RefreshCron, "error", err)
			os.Exit(1)
		}
		scheduler.Start()
		defer scheduler.Stop()
	}

	httpServer := &http.Server{
		Addr:    cfg.Listen,
		Handler: srv.Handler(),
	}

	go func() {
		sig := <-sigCh
		logger.Info("signal received, shutting down", "signal", sig.String())
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("listening", "addr", cfg.Listen, "server", cfg.Server.BaseURL)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
	logger.Info("caldav-frontend exiting")
}

// buildServer wires the config into the discovery, transport and sync layers.
func buildServer(cfg *config.Config, logger *slog.Logger) (*web.Server, error) {
	prof, err := profile.Resolve(cfg.Server.BaseURL, cfg.Server.Type, cfg.Server.Username)
	if err != nil {
		return nil, err
	}

	creds := session.StaticCredentials{
		Username: cfg.Server.Username,
		Secret:   cfg.Server.Password,
	}

	var prefs session.PreferenceStore
	if cfg.Database != "" {
		store, err := session.NewSQLiteStore(cfg.Database)
		if err != nil {
			return nil, err
		}
		prefs = store
	} else {
		prefs = session.NewMemory()
	}

	base, err := url.Parse(prof.BaseURL)
	if err != nil {
		return nil, err
	}
	client := &http.Client{
		Transport: httpclient.NewBasicAuthTransport(creds.Username, creds.Secret, nil, logger),
	}
	wrapper, err := httpclient.NewHttpClientWrapper(client, *base, logger, cfg.FetchTimeout)
	if err != nil {
		return nil, err
	}

	reg := registry.NewRegistry(logger, registry.WithTimeout(cfg.FetchTimeout))
	sc := syncer.NewSyncer(wrapper, logger, syncer.WithBatchTimeout(cfg.FetchTimeout))

	return web.NewServer(prof, creds, prefs, reg, sc, logger), nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

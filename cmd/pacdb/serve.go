package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/epithet-ssh/pacdb/pkg/config"
	"github.com/epithet-ssh/pacdb/pkg/fetch"
	"github.com/epithet-ssh/pacdb/pkg/repo"
	"github.com/epithet-ssh/pacdb/pkg/server"
)

// ServeCLI serves the configured repositories.
type ServeCLI struct {
	Config         []string      `short:"c" help:"Config files or globs, unified in order; missing files are skipped" default:"/etc/pacdb/*.yaml,/etc/pacdb/*.cue" env:"PACDB_CONFIG"`
	Listen         string        `short:"l" help:"Address to listen on (overrides config)" env:"PACDB_LISTEN"`
	ReloadInterval time.Duration `help:"Reload every repository on this interval, 0 to disable" default:"0s"`
}

func (c *ServeCLI) Run(logger *slog.Logger, tlsCfg fetch.TLSConfig, lv *logLevel) error {
	cfg, err := config.LoadPaths(c.Config)
	if err != nil {
		return err
	}
	lv.apply(cfg.Level())

	listen := cfg.Listen
	if c.Listen != "" {
		listen = c.Listen
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := buildApp(ctx, cfg, tlsCfg, logger)
	if err != nil {
		return err
	}
	defer a.close(logger)

	// Failed repositories are served as unavailable until a reload succeeds.
	if err := a.repos.ReloadAll(ctx); err != nil {
		logger.Warn("initial load failed", "error", err)
	}

	if c.ReloadInterval > 0 {
		go reloadLoop(ctx, a.repos, c.ReloadInterval, logger)
	}

	srv := &http.Server{
		Addr:              listen,
		Handler:           server.New(server.Config{Repos: a.repos, Logger: logger}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("shutdown", "error", err)
		}
	}()

	logger.Info("listening", "address", listen, "repos", a.repos.Names())
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func reloadLoop(ctx context.Context, repos *repo.Set, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := repos.ReloadAll(ctx); err != nil {
				logger.Warn("reload failed", "error", err)
			}
		}
	}
}

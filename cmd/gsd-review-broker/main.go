// Command gsd-review-broker runs the local review broker: it opens the
// review store, registers the RPC tool surface, serves the dashboard's
// push channel and static assets, and checkpoints the store on shutdown.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/gsd-project/review-broker/internal/api"
	"github.com/gsd-project/review-broker/internal/broker"
	"github.com/gsd-project/review-broker/internal/config"
	"github.com/gsd-project/review-broker/internal/projectconfig"
	"github.com/gsd-project/review-broker/internal/push"
	"github.com/gsd-project/review-broker/internal/store"
)

var version = "dev"

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, nil)))

	root := &cobra.Command{
		Use:     "gsd-review-broker",
		Short:   "Local review broker coordinating proposer/reviewer agents",
		Version: version,
		RunE:    run,
	}
	config.Bind(root)

	if err := root.Execute(); err != nil {
		slog.Error("broker exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	projCfg, err := projectconfig.Load(cfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("load project config: %w", err)
	}
	if !projCfg.ReviewConfig.Enabled {
		slog.Warn("review is disabled in project config; broker will still serve the RPC surface", "config_path", cfg.ConfigPath)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sdb, err := store.Open(ctx, cfg.StorePath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err := sdb.Close(); err != nil {
			slog.Error("checkpoint on shutdown failed", "err", err)
		}
	}()

	b := broker.New(sdb, cfg.RepoRoot)
	tools := broker.NewToolset(b)

	ch := push.New(cfg.LogDir)
	go ch.Run(ctx)

	router, err := api.NewRouter(tools, ch, cfg.AssetDir)
	if err != nil {
		return fmt.Errorf("build router: %w", err)
	}

	httpServer := &http.Server{
		Addr:    cfg.Addr(),
		Handler: router,
	}

	if isatty.IsTerminal(os.Stdout.Fd()) {
		fmt.Printf("gsd-review-broker listening on %s (store: %s)\n", cfg.Addr(), cfg.StorePath)
	}
	slog.Info("broker starting", "addr", cfg.Addr(), "store", cfg.StorePath, "repo_root", cfg.RepoRoot)

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	}
}

/*
Copyright © 2025 Joseph Goksu josephgoksu@gmail.com
*/
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/josephgoksu/specwing/internal/apply"
	"github.com/josephgoksu/specwing/internal/backend"
	"github.com/josephgoksu/specwing/internal/config"
	"github.com/josephgoksu/specwing/internal/exec"
	"github.com/josephgoksu/specwing/internal/server"
	"github.com/josephgoksu/specwing/internal/telemetry"
	"github.com/josephgoksu/specwing/models"
	"github.com/josephgoksu/specwing/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the spec execution API server",
	Long: `Starts the HTTP server: spec and dependency management, execution
against configured backends, and live event streams over SSE.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		if verbose {
			cfg.Verbose = true
		}

		level := slog.LevelInfo
		if cfg.Verbose {
			level = slog.LevelDebug
		}
		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
		slog.SetDefault(logger)

		st, err := store.NewSQLiteStore(cfg.Data.Path)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer func() { _ = st.Close() }()

		ctx := cmd.Context()

		registry := backend.NewRegistry(
			backend.WithHealthCacheTTL(time.Duration(cfg.Execution.HealthCacheSeconds) * time.Second),
		)
		for _, seed := range cfg.Backends {
			bc := models.BackendConfig{
				ID:        uuid.NewString(),
				Name:      seed.Name,
				Provider:  seed.Provider,
				Model:     seed.Model,
				APIKey:    seed.APIKey,
				BaseURL:   seed.BaseURL,
				IsDefault: seed.Default,
				CreatedAt: time.Now().UTC(),
			}
			if _, err := registry.Register(ctx, bc); err != nil {
				logger.Warn("backend not registered", "name", seed.Name, "error", err)
				continue
			}
			logger.Info("backend registered", "name", seed.Name, "provider", seed.Provider, "default", seed.Default)
		}

		var analytics telemetry.Client = telemetry.Noop{}
		if cfg.Telemetry.Enabled {
			analytics = telemetry.NewPostHogClient(cfg.Telemetry.APIKey, version)
		}
		defer analytics.Close()

		coord, err := exec.New(ctx, st, registry,
			exec.WithLogger(logger),
			exec.WithTelemetry(analytics),
			exec.WithConfig(exec.Config{
				RequestTimeout:    time.Duration(cfg.Execution.RequestTimeoutSeconds) * time.Second,
				HeartbeatInterval: time.Duration(cfg.Execution.HeartbeatSeconds) * time.Second,
				BufferSize:        cfg.Execution.BufferSize,
				GracePeriod:       time.Duration(cfg.Execution.GracePeriodSeconds) * time.Second,
			}),
		)
		if err != nil {
			return err
		}

		cwd, err := os.Getwd()
		if err != nil {
			return err
		}
		applier := apply.New(afero.NewBasePathFs(afero.NewOsFs(), cwd), st)

		srv := server.New(cfg.Server, st, coord, registry, applier, logger)

		var wg sync.WaitGroup
		errChan := make(chan error, 1)
		srv.Start(&wg, errChan)

		sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		select {
		case err := <-errChan:
			return err
		case <-sigCtx.Done():
		}

		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown", "error", err)
		}
		if err := coord.Shutdown(shutdownCtx); err != nil {
			logger.Error("coordinator shutdown", "error", err)
		}
		wg.Wait()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

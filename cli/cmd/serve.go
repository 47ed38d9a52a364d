package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fluxbase-eu/assetcache/internal/api"
	"github.com/fluxbase-eu/assetcache/internal/bundle"
	"github.com/fluxbase-eu/assetcache/internal/config"
	"github.com/fluxbase-eu/assetcache/internal/observability"
)

var shutdownTimeout time.Duration

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long: `Start serving the configured web root. Bundles and atomic assets are
built on first request; every generated file is rolled back on shutdown.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().DurationVar(&shutdownTimeout, "shutdown-timeout", 30*time.Second,
		"time allowed for in-flight requests and rollback on shutdown")
}

func runServe(cmd *cobra.Command, args []string) error {
	observability.ServiceVersion = Version

	log.Info().
		Str("version", Version).
		Str("commit", Commit).
		Str("build_date", BuildDate).
		Msg("Starting assetcache")

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if debug {
		cfg.Debug = true
	}
	setLogLevel(cfg.Debug)

	model, err := bundle.LoadFile(cfg.Assets.ConfigFile)
	if err != nil {
		return fmt.Errorf("failed to load bundle configuration: %w", err)
	}
	log.Info().
		Str("file", cfg.Assets.ConfigFile).
		Int("bundles", len(model.Bundles)).
		Str("default_profile", model.DefaultProfile.String()).
		Msg("Bundle configuration loaded")

	server, err := api.NewServer(cfg, model)
	if err != nil {
		return fmt.Errorf("failed to initialize server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("address", cfg.Server.Address).Str("web_root", cfg.Assets.WebRoot).Msg("Starting HTTP server")
		errCh <- server.Start()
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var startErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("Shutting down server...")
	case startErr = <-errCh:
		if startErr != nil {
			log.Error().Err(startErr).Msg("Server stopped unexpectedly")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return errors.Join(startErr, fmt.Errorf("shutdown: %w", err))
	}

	log.Info().Msg("Server exited")
	return startErr
}

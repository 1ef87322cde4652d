package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/kjannette/trahn-swapbot/internal/api"
	"github.com/kjannette/trahn-swapbot/internal/config"
	"github.com/kjannette/trahn-swapbot/internal/logging"
)

const banner = `
╔══════════════════════════════════════╗
║       TRAHN Swap Bot v0.3            ║
║                                      ║
╚══════════════════════════════════════╝
`

var cfgFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "swapbot",
		Short: "Custodial token swap bot with per-user trade ledgers",
		RunE:  runServe,
	}
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "optional YAML config file (environment wins)")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the REST API and the PnL refresh scheduler",
		RunE:  runServe,
	})
	rootCmd.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Create the user store schema",
		RunE:  runMigrate,
	})

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, *logrus.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("config load: %w", err)
	}
	logger := logging.New(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	if err := cfg.Validate(logger); err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer store.close()
	logger.WithField("store", cfg.StoreDriver).Info("schema is up to date")
	return nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	fmt.Print(banner)

	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	cfg.Print(logger)

	// Graceful shutdown context
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := wire(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.close()

	// 1. API server
	srv := api.NewServer(api.Options{
		Port:       cfg.APIPort,
		APIKey:     cfg.APIKey,
		CORSOrigin: cfg.CORSAllowOrigin,
		Paper:      cfg.PaperTradingEnabled,
	}, app.trading, app.accounts, app.store.pinger, logger)
	errc := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	// 2. PnL refresh scheduler
	app.scheduler.Start()

	logger.Info("All services started successfully")

	// Wait for shutdown signal
	select {
	case <-ctx.Done():
		logger.Info("Shutting down gracefully...")
	case err := <-errc:
		logger.WithError(err).Error("API server failed")
	}

	app.scheduler.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("API shutdown error")
	}
	logger.Info("Shutdown complete")
	return nil
}

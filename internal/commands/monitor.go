package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/RichardTsang202/crypto-monitor-vercel/internal/app"
	"github.com/RichardTsang202/crypto-monitor-vercel/pkg/config"
	"github.com/RichardTsang202/crypto-monitor-vercel/pkg/logger"
)

var (
	serverPort int
	serverHost string
	logLevel   string
)

// monitorCmd represents the monitor command
var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Run the market monitoring service",
	Long: `Start the market monitoring service.

This will start all components:
• Polling loop fetching candles from the active data source
• Source health tracking with priority failover
• Pattern and divergence detection over the rolling window
• Webhook delivery of accepted signals
• Status API with health, sources and recent candles

Examples:
  crypto-monitor monitor                    # Start with default settings
  crypto-monitor monitor --port 9090        # Status API on a custom port
  crypto-monitor monitor --log-level debug  # Enable debug logging`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)

	monitorCmd.Flags().IntVarP(&serverPort, "port", "p", 0, "Status API port")
	monitorCmd.Flags().StringVarP(&serverHost, "host", "H", "", "Status API host")
	monitorCmd.Flags().StringVarP(&logLevel, "log-level", "l", "", "Log level (debug, info, warn, error)")
}

func runMonitor(cmd *cobra.Command, args []string) error {
	// .env file is optional
	if err := config.LoadDotEnv(); err != nil {
		fmt.Printf("Note: .env file not loaded: %v\n", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if serverHost != "" {
		cfg.Server.Host = serverHost
	}
	if serverPort != 0 {
		cfg.Server.Port = serverPort
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}

	log, err := logger.New(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}

	logRing := logger.NewRingHook(200)
	log.AddHook(logRing)

	log.Info("Starting market monitoring service")

	application := app.New(cfg, log, logRing)

	if err := application.Initialize(); err != nil {
		log.WithError(err).Error("Failed to initialize application")
		return err
	}

	if err := application.Start(); err != nil {
		log.WithError(err).Error("Failed to start application")
		return err
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)

	sig := <-interrupt
	log.WithField("signal", sig.String()).Info("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	shutdownComplete := make(chan struct{})
	go func() {
		if err := application.Stop(); err != nil {
			log.WithError(err).Error("Application shutdown error")
		}
		close(shutdownComplete)
	}()

	select {
	case <-shutdownComplete:
		log.Info("Application shutdown complete")
	case <-shutdownCtx.Done():
		log.Warn("Shutdown timeout - forcing exit")
		os.Exit(1)
	}

	return nil
}

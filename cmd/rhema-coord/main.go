// Package main provides the CLI entry point for the coordination service.
package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fugue-ai/rhema-coordination/internal/application/coordination"
	"github.com/fugue-ai/rhema-coordination/internal/config"
	"github.com/fugue-ai/rhema-coordination/internal/logging"
)

var (
	version = "0.1.0"

	configPath string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "rhema-coord",
	Short: "Rhema coordination service",
	Long: `Rhema coordination is a real-time substrate for multi-agent systems.

It provides:
  - Agent registry with heartbeat-based liveness
  - Direct and broadcast messaging with bounded mailboxes
  - Resource locks with timeout recovery
  - Coordination sessions with consensus binding
  - Load balancing and per-agent circuit breakers`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file")
	rootCmd.AddCommand(serveCmd, configCmd)
}

// ============================================================================
// Serve Command
// ============================================================================

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the coordination service",
	Long:  `Start the coordination service and run until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		logger, err := logging.New(cfg.Logger.Level, cfg.Logger.Format)
		if err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		defer logger.Sync()

		var reg *prometheus.Registry
		if cfg.Metrics.Enabled {
			reg = prometheus.NewRegistry()
		}

		system, err := coordination.New(cfg.Coordination, registererOrNil(reg), logger)
		if err != nil {
			return fmt.Errorf("create coordination system: %w", err)
		}
		system.Start()
		defer system.Shutdown()

		if reg != nil {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
			srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: mux}
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logger.Error("metrics server failed", zap.Error(err))
				}
			}()
			defer srv.Close()
			logger.Info("metrics endpoint listening", zap.String("addr", cfg.Metrics.Addr))
		}

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down")
		return nil
	},
}

func registererOrNil(reg *prometheus.Registry) prometheus.Registerer {
	if reg == nil {
		return nil
	}
	return reg
}

// ============================================================================
// Config Command
// ============================================================================

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Long:  `Load the configuration from file, environment, and defaults, and print it as JSON.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		output, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(output))
		return nil
	},
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/hupe1980/agentstream/config"
	"github.com/hupe1980/agentstream/server"
)

// buildServeCmd creates the "serve" command that starts the HTTP server.
func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the agentstream HTTP server",
		Long: `Start the HTTP server.

The server will:
1. Load configuration from the specified file and the environment
2. Resolve the configured tools (unknown tool names are fatal)
3. Open the message and memory stores
4. Serve conversations over SSE, JSON and websockets

Graceful shutdown is handled on SIGINT/SIGTERM signals.`,
		Example: `  # Start with a config file
  agentstream serve --config /etc/agentstream/production.yaml

  # Start with debug logging
  agentstream serve --debug`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), configPath, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

func runServe(ctx context.Context, configPath string, debug bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if debug {
		cfg.Logging.Level = "debug"
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	logger.Info("agentstream.start", "version", version, "commit", commit, "config", configPath)

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	app, err := setup(ctx, cfg, logger, reg)
	if err != nil {
		return err
	}
	defer func() {
		if err := app.Close(context.Background()); err != nil {
			logger.Warn("agentstream.close.error", "error", err)
		}
	}()

	srv := server.New(app.Engine, func(o *server.Options) {
		o.Verifier = app.Verifier
		o.Logger = logger.WithComponent("server")
		o.ReadHeaderTimeout = cfg.Server.ReadHeaderTimeout
		o.ShutdownTimeout = cfg.Server.ShutdownTimeout
		if cfg.Server.MetricsEnabled {
			o.MetricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
		}
	})
	if err := srv.ListenAndServe(ctx, cfg.Server.Addr); err != nil {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

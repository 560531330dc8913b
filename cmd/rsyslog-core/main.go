// Command rsyslog-core runs the pipeline engine: load a YAML configuration,
// build every Ruleset/Action/Module, start the Worker Pool, serve
// Prometheus metrics, and block until an interrupt signal, mirroring the
// teacher's cmd/log-capturer entry point's flag/signal/lifecycle shape but
// built on cobra instead of a bare flag.FlagSet, per the rest of the
// corpus's CLI convention.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/rsyslog-core/pipeline/internal/app"
	"github.com/rsyslog-core/pipeline/internal/config"
	"github.com/rsyslog-core/pipeline/internal/telemetry"
)

var configPath string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "rsyslog-core",
		Short: "A syslog-style message processing pipeline",
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML configuration file")
	root.AddCommand(newRunCmd())
	root.AddCommand(newReloadCmd())
	root.AddCommand(newValidateCmd())
	return root
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the pipeline and block until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMain(cmd.Context())
		},
	}
}

// newReloadCmd sends SIGHUP to a running instance. That instance's signal
// handler (waitForSignal below) logs the signal and keeps running with the
// configuration it started with; the configuration is not reloaded.
func newReloadCmd() *cobra.Command {
	var pid int
	cmd := &cobra.Command{
		Use:   "reload",
		Short: "Send SIGHUP to a running instance (logged only; configuration is not reloaded)",
		RunE: func(cmd *cobra.Command, args []string) error {
			proc, err := os.FindProcess(pid)
			if err != nil {
				return fmt.Errorf("reload: find process %d: %w", pid, err)
			}
			return proc.Signal(syscall.SIGHUP)
		},
	}
	cmd.Flags().IntVar(&pid, "pid", 0, "process ID of the running instance")
	cmd.MarkFlagRequired("pid")
	return cmd
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load and validate a configuration file without starting anything",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := config.Load(configPath)
			return err
		},
	}
}

func runMain(ctx context.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}

	logger := newLogger(cfg)

	tm, err := telemetry.New(telemetry.Config{
		Enabled:      cfg.Telemetry.Enabled,
		ServiceName:  cfg.Telemetry.ServiceName,
		Endpoint:     cfg.Telemetry.Endpoint,
		Insecure:     cfg.Telemetry.Insecure,
		SampleRate:   cfg.Telemetry.SampleRate,
		BatchTimeout: cfg.Telemetry.BatchTimeout,
		MaxBatchSize: cfg.Telemetry.MaxBatchSize,
		Headers:      cfg.Telemetry.Headers,
	}, logger)
	if err != nil {
		return fmt.Errorf("run: build telemetry: %w", err)
	}
	defer tm.Shutdown(context.Background())

	application, err := app.New(cfg, logger, tm)
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := application.Start(runCtx); err != nil {
		return fmt.Errorf("run: start: %w", err)
	}

	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		metricsServer = startMetricsServer(cfg, logger)
	}

	waitForSignal(logger, cancel)

	if err := application.Stop(); err != nil {
		logger.WithError(err).Error("error stopping application")
	}
	if metricsServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		metricsServer.Shutdown(shutdownCtx)
	}
	return nil
}

func startMetricsServer(cfg *config.Config, logger *logrus.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Metrics.Path, promhttp.Handler())
	srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: mux}

	go func() {
		logger.WithField("addr", cfg.Metrics.Addr).Info("serving metrics")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("metrics server stopped unexpectedly")
		}
	}()
	return srv
}

// waitForSignal blocks until SIGINT/SIGTERM, treating SIGHUP as a reload
// request (logged and otherwise ignored until config hot-reload support is
// added) rather than an exit signal.
func waitForSignal(logger *logrus.Logger, cancel context.CancelFunc) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	for sig := range sigCh {
		if sig == syscall.SIGHUP {
			logger.Info("received SIGHUP, config hot-reload is not yet implemented; restart to pick up changes")
			continue
		}
		logger.WithField("signal", sig.String()).Info("received shutdown signal")
		cancel()
		return
	}
}

func newLogger(cfg *config.Config) *logrus.Logger {
	logger := logrus.New()
	if level, err := logrus.ParseLevel(cfg.App.LogLevel); err == nil {
		logger.SetLevel(level)
	}
	if cfg.App.LogFormat == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	return logger
}

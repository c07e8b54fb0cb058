package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fyrsmithlabs/profiled/internal/config"
	"github.com/fyrsmithlabs/profiled/internal/export"
	httpserver "github.com/fyrsmithlabs/profiled/internal/http"
	"github.com/fyrsmithlabs/profiled/internal/logging"
	"github.com/fyrsmithlabs/profiled/internal/profiler"
	"github.com/fyrsmithlabs/profiled/internal/reports"
	"github.com/fyrsmithlabs/profiled/internal/telemetry"
	"github.com/fyrsmithlabs/profiled/internal/workload"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/log/global"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the profiled HTTP server",
		Long: `Start the profiled HTTP server.

Configuration is read from ~/.config/profiled/config.yaml (or --config) and
PROFILED_* environment variables. Changes to the config file reload the log
level and the /profile rate limit without a restart.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, configPath)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "config file path (default ~/.config/profiled/config.yaml)")
	return cmd
}

// runServe wires every component and blocks until ctx is cancelled.
//
// Startup order:
//  1. Load and validate configuration
//  2. Logger, then telemetry (which routes SDK errors to the logger)
//  3. Collector, worker, exporter and report publisher
//  4. HTTP server and config watcher
func runServe(ctx context.Context, configPath string) error {
	if configPath == "" {
		p, err := config.DefaultPath()
		if err != nil {
			return err
		}
		configPath = p
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(&cfg.Logging, global.GetLoggerProvider())
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()
	zl := logger.Underlying()

	logger.Info(ctx, "starting profiled",
		zap.String("version", version),
		zap.String("addr", cfg.Server.Addr()),
		zap.Bool("telemetry", cfg.Telemetry.Enabled),
		zap.String("otlp_endpoint", cfg.Telemetry.Endpoint),
	)

	tel, err := telemetry.New(ctx, &cfg.Telemetry, telemetry.WithLogger(zl.Named("telemetry")))
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Telemetry.Shutdown.Timeout.Duration())
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Warn(shutdownCtx, "telemetry shutdown failed", zap.Error(err))
		}
	}()
	if h := tel.Health(); h.Degraded {
		logger.Warn(ctx, "telemetry degraded, continuing without export")
	}

	collector := profiler.New(profiler.WithLogger(zl.Named("profiler")))

	worker, err := workload.New(collector, tel.Meter(workload.InstrumentationName), zl.Named("workload"), cfg.Workload)
	if err != nil {
		return err
	}

	exporter, err := export.New(
		tel.Tracer(export.InstrumentationName),
		tel.Meter(export.InstrumentationName),
		zl.Named("export"),
	)
	if err != nil {
		return fmt.Errorf("failed to create exporter: %w", err)
	}

	publisher, err := newPublisher(cfg.Reports, zl.Named("reports"))
	if err != nil {
		return err
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Warn(context.Background(), "report publisher close failed", zap.Error(err))
		}
	}()

	limiter := cfg.Limits.Limiter()

	srv, err := httpserver.NewServer(httpserver.Deps{
		Collector:      collector,
		Worker:         worker,
		Exporter:       exporter,
		Publisher:      publisher,
		Tracer:         tel.Tracer(httpserver.InstrumentationName),
		Meter:          tel.Meter(httpserver.InstrumentationName),
		MetricsHandler: tel.MetricsHandler(),
		ProfileLimiter: limiter,
		ServiceName:    cfg.Telemetry.ServiceName,
	}, zl.Named("http"), &cfg.Server)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	r := &reloader{path: configPath, logger: logger, limiter: limiter}
	if _, err := os.Stat(filepath.Dir(configPath)); err == nil {
		if err := config.Watch(ctx, configPath, r.reload, func(err error) {
			logger.Warn(ctx, "config watcher error", zap.Error(err))
		}); err != nil {
			logger.Warn(ctx, "config hot reload disabled", zap.Error(err))
		}
	}

	if err := srv.Run(ctx); err != nil {
		return err
	}
	logger.Info(context.Background(), "server shutdown complete")
	return nil
}

// newPublisher connects to NATS when reports are enabled.
func newPublisher(cfg reports.Config, logger *zap.Logger) (reports.Publisher, error) {
	if !cfg.Enabled {
		return reports.NopPublisher{}, nil
	}
	p, err := reports.Connect(cfg, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("report publishing enabled",
		zap.String("url", cfg.URL),
		zap.String("subject", cfg.Subject),
	)
	return p, nil
}

// reloader applies the reloadable subset of a changed config file.
type reloader struct {
	path    string
	logger  *logging.Logger
	limiter *rate.Limiter
}

func (r *reloader) reload() {
	ctx := context.Background()

	cfg, err := loadConfig(r.path)
	if err != nil {
		r.logger.Warn(ctx, "config reload rejected", zap.Error(err))
		return
	}

	r.logger.SetLevel(cfg.Logging.Level)
	cfg.Limits.Apply(r.limiter)

	r.logger.Info(ctx, "configuration reloaded",
		zap.Stringer("log_level", cfg.Logging.Level),
		zap.Float64("profile_rate", cfg.Limits.ProfileRate),
		zap.Int("profile_burst", cfg.Limits.ProfileBurst),
	)
}

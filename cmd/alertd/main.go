// Package main is the entry point of the meeting alert daemon.
//
// It loads configuration, selects the persistence, scheduling and delivery
// backends, restores the alert table from the previous run and then serves
// the HTTP API until SIGINT or SIGTERM. The HTTP server, the SQS receive loop
// (when SCHEDULER_BACKEND=sqs) and the sleep/wake detector run in one
// errgroup; the first failure stops the others.
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

	"golang.org/x/sync/errgroup"

	"meetingalert/internal/api"
	"meetingalert/internal/config"
	"meetingalert/internal/delivery"
	"meetingalert/internal/engine"
	"meetingalert/internal/suppression"
	"meetingalert/internal/timer"
	"meetingalert/internal/types"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so that main() can cleanly exit on error.
func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadConfig(secretProvider())
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("meetingalert daemon starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"port", cfg.Server.Port,
		"store", cfg.Store.Backend,
		"scheduler", cfg.Scheduler.Backend,
	)

	d, err := wire(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer d.close()

	restored, err := d.engine.ReconcileOnRelaunch(ctx)
	if err != nil {
		return fmt.Errorf("restoring alerts: %w", err)
	}
	logger.Info("alert table restored", "alerts", restored)

	return serve(ctx, cfg, d, logger)
}

// secretProvider returns the SSM provider outside local development. The
// config tree is not loaded yet, so the AWS settings come straight from the
// environment.
func secretProvider() config.SecretProvider {
	if os.Getenv("APP_ENV") == "local" {
		return nil
	}
	return config.NewSSMProvider(config.AWSConfig{
		Region:      os.Getenv("AWS_REGION"),
		EndpointURL: os.Getenv("AWS_ENDPOINT_URL"),
	})
}

// serve runs the long-lived goroutines until ctx is cancelled or one of them
// fails, then shuts the HTTP server down within the configured timeout.
func serve(ctx context.Context, cfg *config.Config, d *daemon, logger *slog.Logger) error {
	presentation := &suppression.PresentationState{}
	quiet, err := suppression.NewQuietHours(cfg.Alerts.QuietHours, types.RealClock{})
	if err != nil {
		return fmt.Errorf("configuring quiet hours: %w", err)
	}
	backToBack := suppression.NewBackToBackDetector(cfg.Alerts.BackToBackGap, types.RealClock{})

	if err := d.engine.SetPresentationModeProvider(ctx, suppression.PresentationMode(presentation, quiet, logger)); err != nil {
		return err
	}
	if err := d.engine.SetBackToBackContextProvider(ctx, backToBack.Provider()); err != nil {
		return err
	}

	checkMissed := missedChecker(d.engine, d.metrics, cfg.Observability.MetricNamespace, logger)

	handler := api.NewHandler(api.Config{
		Engine:          d.engine,
		Presentation:    presentation,
		Snapshots:       backToBack,
		Wake:            checkMissed,
		DefaultSettings: &cfg.Alerts.Stages,
		DefaultSnooze:   cfg.Alerts.DefaultSnooze,
		Logger:          logger,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      api.NewRouter(handler, cfg.Build.Version, d.probes, logger),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	wake := timer.NewWakeDetector(cfg.Alerts.WakeCheckInterval, func(ctx context.Context, _ time.Duration) {
		if _, err := checkMissed(ctx); err != nil {
			logger.ErrorContext(ctx, "missed alert check failed", "error", err)
		}
	}, logger)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down", "timeout", cfg.Server.ShutdownTimeout)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown: %w", err)
		}
		return nil
	})

	g.Go(func() error { return wake.Run(gctx) })

	if d.sqs != nil {
		g.Go(func() error { return d.sqs.Run(gctx) })
	}

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("meetingalert daemon stopped")
	return nil
}

// missedAlertChecker is the part of *engine.Engine the wake path needs.
type missedAlertChecker interface {
	CheckForMissedAlerts(ctx context.Context) ([]types.MissedAlertResult, error)
}

var _ missedAlertChecker = (*engine.Engine)(nil)

// missedChecker runs missed-alert recovery and, when metrics are enabled,
// counts every classification. It backs both POST /v1/wake and the wake
// detector.
func missedChecker(eng missedAlertChecker, metrics delivery.CloudWatchClient, namespace string, logger *slog.Logger) api.WakeFunc {
	return func(ctx context.Context) ([]types.MissedAlertResult, error) {
		results, err := eng.CheckForMissedAlerts(ctx)
		if err != nil {
			return nil, err
		}
		if metrics != nil {
			for _, res := range results {
				if err := delivery.RecordMissed(ctx, metrics, namespace, res); err != nil {
					logger.WarnContext(ctx, "failed to publish missed alert metric",
						"alert_id", res.Alert.ID,
						"error", err,
					)
				}
			}
		}
		logger.InfoContext(ctx, "missed alert check complete", "results", len(results))
		return results, nil
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     lvl,
		AddSource: false,
	})
	return slog.New(handler)
}

// Package serve runs the alert engine as a long-lived service.
package serve

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/ordersentry/ordersentry/internal/alert"
	"github.com/ordersentry/ordersentry/internal/api"
	"github.com/ordersentry/ordersentry/internal/conf"
	"github.com/ordersentry/ordersentry/internal/ingest"
	"github.com/ordersentry/ordersentry/internal/logging"
	"github.com/ordersentry/ordersentry/internal/observability/metrics"
	"github.com/ordersentry/ordersentry/internal/telemetry"
)

const telemetryFlushTimeout = 2 * time.Second

// Command returns the serve subcommand.
func Command(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the alert engine with its configured transports",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(settings)
		},
	}
}

func run(settings *conf.Settings) error {
	logger := logging.ForService("serve")

	if settings.Main.Log.Enabled {
		level := slog.LevelInfo
		if settings.Debug {
			level = slog.LevelDebug
		}
		fileLogger, closeLog, err := logging.NewFileLogger(settings.Main.Log.Path, "serve", level, logging.FileRotation{
			MaxSizeMB:  settings.Main.Log.MaxSizeMB,
			MaxBackups: settings.Main.Log.MaxBackups,
			MaxAgeDays: settings.Main.Log.MaxAgeDays,
		})
		if err != nil {
			logger.Warn("file logging unavailable, using stdout only", "error", err)
		} else {
			logger = fileLogger
			defer func() { _ = closeLog() }()
		}
	}

	if err := telemetry.Init(settings); err != nil {
		logger.Warn("telemetry init failed, continuing without capture", "error", err)
	}
	defer telemetry.Flush(telemetryFlushTimeout)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Durable acknowledgment state survives restarts.
	tracker, err := alert.NewSQLiteTracker(settings.Alerts.TrackerPath, logger)
	if err != nil {
		return fmt.Errorf("opening acknowledgment tracker: %w", err)
	}
	defer func() { _ = tracker.Close() }()

	registry := alert.NewMemoryRegistry()

	dispatcher := alert.NewDispatcher(registry, tracker, dispatcherConfig(settings))
	defer dispatcher.Stop()
	dispatcher.SetErrorCapture(telemetry.CaptureError)
	dispatcher.EnsureChannels(ctx)

	promRegistry := prometheus.NewRegistry()
	alertMetrics, err := metrics.NewAlertMetrics(promRegistry)
	if err != nil {
		logger.Warn("metrics registration failed, continuing without metrics", "error", err)
	} else {
		dispatcher.SetMetrics(alertMetrics)
	}

	push := alert.NewPushDispatcher(&settings.Push, logger)
	push.SetMetrics(alertMetrics)
	push.Start(dispatcher)
	defer push.Stop()

	bridge := alert.NewBridge(dispatcher)

	if settings.MQTT.Enabled {
		source := ingest.NewMQTTSource(settings.MQTT, dispatcher)
		if err := source.Start(ctx); err != nil {
			// A broker outage must not keep alerts from the HTTP path.
			logger.Error("mqtt source failed to start", "error", err)
			telemetry.CaptureError(err, "ingest")
		} else {
			defer source.Stop()
		}
	}

	logger.Info("ordersentry started",
		"version", conf.Version,
		"mqtt", settings.MQTT.Enabled,
		"http", settings.HTTP.Enabled,
		"push_providers", len(push.Providers()))

	if settings.HTTP.Enabled {
		controller := api.New(dispatcher, bridge, promRegistry, settings.HTTP.Listen)
		if err := controller.Start(ctx); err != nil {
			return err
		}
	} else {
		<-ctx.Done()
	}

	logger.Info("ordersentry shutting down")
	return nil
}

func dispatcherConfig(settings *conf.Settings) *alert.Config {
	cfg := alert.DefaultConfig()
	cfg.Debug = settings.Debug || settings.Alerts.Debug
	if settings.Alerts.MaxActive > 0 {
		cfg.MaxActive = settings.Alerts.MaxActive
	}
	if settings.Alerts.RateLimit.Window > 0 {
		cfg.RateLimitWindow = settings.Alerts.RateLimit.Window
	}
	if settings.Alerts.RateLimit.MaxEvents > 0 {
		cfg.RateLimitMaxEvents = settings.Alerts.RateLimit.MaxEvents
	}
	if len(settings.Alerts.Escalation) > 0 {
		plan := make(alert.Plan, 0, len(settings.Alerts.Escalation))
		for _, tier := range settings.Alerts.Escalation {
			plan = append(plan, alert.Tier{Delay: tier.Delay, Label: tier.Label})
		}
		cfg.Plan = plan
	}
	return cfg
}

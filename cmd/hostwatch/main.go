// Command hostwatch runs the host monitoring agent: it samples the machine
// on three cadences, diffs it against the rolling baseline, evaluates
// suspicious activity and resource thresholds, and fans alerts out to the
// channels configured in SQLite.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hazyhaar/hostwatch/baseline"
	"github.com/hazyhaar/hostwatch/channels"
	"github.com/hazyhaar/hostwatch/collect"
	"github.com/hazyhaar/hostwatch/config"
	"github.com/hazyhaar/hostwatch/dbopen"
	"github.com/hazyhaar/hostwatch/dispatch"
	"github.com/hazyhaar/hostwatch/observability"
	"github.com/hazyhaar/hostwatch/report"
	"github.com/hazyhaar/hostwatch/scheduler"
	"github.com/hazyhaar/hostwatch/status"
	"github.com/hazyhaar/hostwatch/suspect"
	"github.com/hazyhaar/hostwatch/threshold"
	_ "modernc.org/sqlite"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML config (defaults apply if empty)")
	logLevel := flag.String("log-level", env("LOG_LEVEL", "info"), "debug, info, warn or error")
	once := flag.Bool("once", false, "print one full report to stdout and exit")
	flag.Parse()

	logger := newLogger(*logLevel)
	slog.SetDefault(logger)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		logger.Error("config load failed", "path", *configPath, "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	collector := collect.New(
		collect.WithMounts(cfg.Collect.Mounts),
		collect.WithLogger(logger),
	)

	if *once {
		snap, err := collector.Snapshot(ctx)
		if err != nil {
			logger.Error("snapshot failed", "error", err)
			os.Exit(1)
		}
		fmt.Println(report.Build(snap))
		return
	}

	if err := run(ctx, cfg, collector, logger); err != nil && ctx.Err() == nil {
		logger.Error("agent failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, collector *collect.Collector, logger *slog.Logger) error {
	// Channels database: the runtime channel configuration lives here and
	// is hot-reloaded on change.
	chDB, err := channels.OpenDB(cfg.Storage.ChannelsDB)
	if err != nil {
		return fmt.Errorf("open channels db: %w", err)
	}
	defer chDB.Close()

	router := channels.NewRouter(
		channels.WithLogger(logger),
		channels.WithMaxAttempts(cfg.Delivery.MaxAttempts),
		channels.WithRetryBackoff(cfg.Delivery.RetryBackoff),
		channels.WithChunkDelay(cfg.Delivery.ChunkDelay),
	)
	router.RegisterKind("telegram", channels.TelegramFactory())
	router.RegisterKind("mail", channels.MailFactory())
	router.RegisterKind("stdout", channels.StdoutFactory())
	go router.Watch(ctx, chDB, cfg.Delivery.WatchPoll)

	// Observability database: alert history, metrics, heartbeats.
	obsDB, err := dbopen.Open(cfg.Storage.ObservabilityDB, dbopen.WithMkdirAll())
	if err != nil {
		return fmt.Errorf("open observability db: %w", err)
	}
	defer obsDB.Close()
	if err := observability.Init(obsDB); err != nil {
		return fmt.Errorf("observability schema: %w", err)
	}

	alerts := observability.NewAlertLogger(obsDB, logger)
	metrics := observability.NewMetricsManager(obsDB, 100, 5*time.Minute)
	defer metrics.Close()

	heartbeat := observability.NewHeartbeatWriter(obsDB, "hostwatch", 15*time.Second)
	heartbeat.Start(ctx)
	defer heartbeat.Stop()

	go retentionLoop(ctx, cfg.Storage.RetentionDays, alerts, metrics, obsDB, logger)

	composer := dispatch.NewComposer(dispatch.Options{
		ReportOnLogin:      *cfg.Alerts.OnLogin,
		ReportOnSuspicious: *cfg.Alerts.OnSuspicious,
	})

	engine := scheduler.New(
		collector,
		baseline.NewTracker(),
		&suspect.Evaluator{AllowProcesses: cfg.Alerts.AllowProcesses},
		composer,
		router,
		alerts,
		metrics,
		scheduler.Options{
			SlowInterval:  cfg.Intervals.Report,
			FastInterval:  cfg.Intervals.Check,
			LoginInterval: cfg.Intervals.LoginWatch,
			ShutdownGrace: cfg.Intervals.ShutdownGrace,
			Thresholds: threshold.Thresholds{
				CPUPercent:  cfg.Thresholds.CPUPercent,
				RAMPercent:  cfg.Thresholds.RAMPercent,
				DiskPercent: cfg.Thresholds.DiskPercent,
			},
			Logger: logger,
		},
	)

	if cfg.Status.Addr != "" {
		statusSrv := status.New(cfg.Status.Addr, engine, router, alerts, obsDB, logger)
		go func() {
			if err := statusSrv.Run(ctx); err != nil {
				logger.Error("status endpoint failed", "error", err)
			}
		}()
	}

	return engine.Run(ctx)
}

// retentionLoop prunes aged rows from the observability database once a
// day. Failures are logged and retried on the next pass.
func retentionLoop(ctx context.Context, days int, alerts *observability.AlertLogger, metrics *observability.MetricsManager, db *sql.DB, logger *slog.Logger) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if n, err := alerts.Cleanup(ctx, days); err != nil {
			logger.Warn("alert retention failed", "error", err)
		} else if n > 0 {
			logger.Info("pruned alert history", "rows", n)
		}
		if _, err := metrics.Cleanup(ctx, days); err != nil {
			logger.Warn("metrics retention failed", "error", err)
		}
		if _, err := observability.CleanupHeartbeats(ctx, db, days); err != nil {
			logger.Warn("heartbeat retention failed", "error", err)
		}
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.LoadFile(path)
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

func env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

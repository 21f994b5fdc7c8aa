// Package scheduler drives the monitoring cycles: a slow loop for the
// periodic full report, a fast loop for baseline, suspicious-activity and
// threshold checks, and a tight login-watch loop for session changes.
//
// Each loop skips a tick when its previous run is still in flight rather
// than queueing work, so a slow channel can never pile up cycles behind it.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hazyhaar/hostwatch/baseline"
	"github.com/hazyhaar/hostwatch/channels"
	"github.com/hazyhaar/hostwatch/dispatch"
	"github.com/hazyhaar/hostwatch/observability"
	"github.com/hazyhaar/hostwatch/report"
	"github.com/hazyhaar/hostwatch/snapshot"
	"github.com/hazyhaar/hostwatch/suspect"
	"github.com/hazyhaar/hostwatch/threshold"
)

// Options tunes the engine loops.
type Options struct {
	// SlowInterval is the full-report period. Default: 1h.
	SlowInterval time.Duration
	// FastInterval is the check-cycle period. Default: 5m.
	FastInterval time.Duration
	// LoginInterval is the session-watch period. Default: 10s.
	LoginInterval time.Duration
	// ShutdownGrace bounds how long Run waits for in-flight cycles after
	// cancellation. Default: 10s.
	ShutdownGrace time.Duration
	// Thresholds are the resource alert limits.
	Thresholds threshold.Thresholds
	// Logger overrides the default slog logger.
	Logger *slog.Logger
}

func (o *Options) defaults() {
	if o.SlowInterval <= 0 {
		o.SlowInterval = time.Hour
	}
	if o.FastInterval <= 0 {
		o.FastInterval = 5 * time.Minute
	}
	if o.LoginInterval <= 0 {
		o.LoginInterval = 10 * time.Second
	}
	if o.ShutdownGrace <= 0 {
		o.ShutdownGrace = 10 * time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Stats are point-in-time engine counters.
type Stats struct {
	FastCycles   int64 `json:"fast_cycles"`
	SlowCycles   int64 `json:"slow_cycles"`
	LoginChecks  int64 `json:"login_checks"`
	SkippedTicks int64 `json:"skipped_ticks"`
	AlertsSent   int64 `json:"alerts_sent"`
}

// Engine wires the collector, evaluators and router into the scheduled
// monitoring loops.
type Engine struct {
	provider snapshot.Provider
	tracker  *baseline.Tracker
	suspect  *suspect.Evaluator
	composer *dispatch.Composer
	router   *channels.Router
	alerts   *observability.AlertLogger
	metrics  *observability.MetricsManager
	opts     Options

	slowBusy  atomic.Bool
	fastBusy  atomic.Bool
	loginBusy atomic.Bool

	// Session-watch state, owned by the login loop.
	sessionMu    sync.Mutex
	lastSessions int
	sessionsSeen bool

	fastCycles   atomic.Int64
	slowCycles   atomic.Int64
	loginChecks  atomic.Int64
	skippedTicks atomic.Int64
	alertsSent   atomic.Int64

	jobs sync.WaitGroup
}

// New creates an Engine. The alert logger and metrics manager are optional;
// pass nil to run without persistence.
func New(
	provider snapshot.Provider,
	tracker *baseline.Tracker,
	evaluator *suspect.Evaluator,
	composer *dispatch.Composer,
	router *channels.Router,
	alerts *observability.AlertLogger,
	metrics *observability.MetricsManager,
	opts Options,
) *Engine {
	opts.defaults()
	return &Engine{
		provider: provider,
		tracker:  tracker,
		suspect:  evaluator,
		composer: composer,
		router:   router,
		alerts:   alerts,
		metrics:  metrics,
		opts:     opts,
	}
}

// Stats returns the current counters.
func (e *Engine) Stats() Stats {
	return Stats{
		FastCycles:   e.fastCycles.Load(),
		SlowCycles:   e.slowCycles.Load(),
		LoginChecks:  e.loginChecks.Load(),
		SkippedTicks: e.skippedTicks.Load(),
		AlertsSent:   e.alertsSent.Load(),
	}
}

// Run seeds the baseline, performs one immediate full cycle, then drives
// the three loops until ctx is cancelled. In-flight cycles get the
// configured grace period to finish before Run returns.
func (e *Engine) Run(ctx context.Context) error {
	log := e.opts.Logger

	// Jobs outlive ctx by the grace period so a cycle that is mid-send
	// when shutdown starts can still finish its delivery.
	jobCtx, jobCancel := context.WithCancel(context.WithoutCancel(ctx))
	defer jobCancel()

	e.seed(jobCtx)

	log.Info("engine started",
		"slow_interval", e.opts.SlowInterval,
		"fast_interval", e.opts.FastInterval,
		"login_interval", e.opts.LoginInterval)

	var loops sync.WaitGroup
	loops.Add(3)
	go e.loop(ctx, jobCtx, &loops, "slow", e.opts.SlowInterval, &e.slowBusy, e.slowCycle)
	go e.loop(ctx, jobCtx, &loops, "fast", e.opts.FastInterval, &e.fastBusy, e.fastCycle)
	go e.loop(ctx, jobCtx, &loops, "login", e.opts.LoginInterval, &e.loginBusy, e.loginCycle)
	loops.Wait()

	// Ticker loops are down; give in-flight cycles the grace period.
	done := make(chan struct{})
	go func() {
		e.jobs.Wait()
		close(done)
	}()
	select {
	case <-done:
		log.Info("engine stopped")
	case <-time.After(e.opts.ShutdownGrace):
		jobCancel()
		log.Warn("engine stopped with cycles still in flight",
			"grace", e.opts.ShutdownGrace)
	}
	return ctx.Err()
}

// seed initializes the baseline and session count from a first snapshot,
// then sends the initial full report so a restart is visible on every
// channel.
func (e *Engine) seed(ctx context.Context) {
	log := e.opts.Logger

	snap, err := e.provider.Snapshot(ctx)
	if err != nil {
		log.Error("initial snapshot failed", "error", err)
		return
	}
	e.tracker.Initialize(snap)
	log.Info("baseline initialized",
		"processes", e.tracker.KnownProcesses(),
		"devices", e.tracker.KnownDevices())

	if count, err := e.provider.SessionCount(ctx); err == nil {
		e.sessionMu.Lock()
		e.lastSessions = count
		e.sessionsSeen = true
		e.sessionMu.Unlock()
	} else {
		log.Warn("initial session count failed", "error", err)
	}

	e.dispatchAlert(ctx, e.composer.Report(report.Build(snap)))
	e.slowCycles.Add(1)
}

// loop ticks at interval and runs job in its own goroutine. A tick that
// arrives while the previous job is still running is skipped and logged.
func (e *Engine) loop(ctx, jobCtx context.Context, wg *sync.WaitGroup, name string, interval time.Duration, busy *atomic.Bool, job func(context.Context)) {
	defer wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !busy.CompareAndSwap(false, true) {
				e.skippedTicks.Add(1)
				e.opts.Logger.Warn("cycle still running, skipping tick", "loop", name)
				continue
			}
			e.jobs.Add(1)
			go func() {
				defer e.jobs.Done()
				defer busy.Store(false)
				job(jobCtx)
			}()
		}
	}
}

// fastCycle diffs the baseline and evaluates suspicious activity and
// resource thresholds.
func (e *Engine) fastCycle(ctx context.Context) {
	log := e.opts.Logger
	start := time.Now()

	snap, err := e.provider.Snapshot(ctx)
	if err != nil {
		log.Error("fast cycle snapshot failed", "error", err)
		return
	}

	changes := e.tracker.Update(snap)
	findings := e.suspect.Evaluate(snap)
	breaches := threshold.Evaluate(snap, e.opts.Thresholds)

	for _, alert := range e.composer.Compose(changes, findings, breaches) {
		e.dispatchAlert(ctx, alert)
	}

	e.recordUsage(snap)
	if e.metrics != nil {
		e.metrics.RecordSimple(observability.MetricCycleDurationMs,
			float64(time.Since(start).Milliseconds()), "milliseconds")
	}
	e.fastCycles.Add(1)
	log.Debug("fast cycle complete",
		"changes", len(changes), "findings", len(findings), "breaches", len(breaches),
		"duration", time.Since(start))
}

// slowCycle sends the periodic full host report.
func (e *Engine) slowCycle(ctx context.Context) {
	log := e.opts.Logger

	snap, err := e.provider.Snapshot(ctx)
	if err != nil {
		log.Error("slow cycle snapshot failed", "error", err)
		return
	}
	e.dispatchAlert(ctx, e.composer.Report(report.Build(snap)))
	e.slowCycles.Add(1)
	log.Debug("slow cycle complete")
}

// loginCycle compares the session count against the last observation and
// alerts on increases. Decreases just update the floor — logouts are not
// alert-worthy.
func (e *Engine) loginCycle(ctx context.Context) {
	log := e.opts.Logger
	e.loginChecks.Add(1)

	count, err := e.provider.SessionCount(ctx)
	if err != nil {
		log.Warn("session count failed", "error", err)
		return
	}

	e.sessionMu.Lock()
	last, seen := e.lastSessions, e.sessionsSeen
	e.lastSessions = count
	e.sessionsSeen = true
	e.sessionMu.Unlock()

	if !seen || count <= last {
		return
	}

	newest, ok, err := e.provider.NewestSession(ctx)
	if err != nil || !ok {
		log.Warn("newest session lookup failed", "error", err)
		return
	}
	if alert, send := e.composer.Login(newest.User, newest.TTY, newest.Host, count-last); send {
		e.dispatchAlert(ctx, alert)
	}
}

// dispatchAlert logs an alert, fans it out and records the outcomes.
func (e *Engine) dispatchAlert(ctx context.Context, alert dispatch.Alert) {
	if e.alerts != nil {
		e.alerts.LogAlert(ctx, alert)
	}
	results := e.router.Send(ctx, alert.Render())
	if e.alerts != nil {
		e.alerts.LogDispatch(ctx, alert.ID, results)
	}
	e.alertsSent.Add(1)
	if e.metrics != nil {
		e.metrics.RecordSimple(observability.MetricAlertsDispatched, 1, "count")
	}
}

func (e *Engine) recordUsage(snap *snapshot.Snapshot) {
	if e.metrics == nil {
		return
	}
	if snap.Usage.CPU.OK {
		e.metrics.RecordSimple(observability.MetricCPUUsagePercent, snap.Usage.CPU.Percent, "percent")
	}
	if snap.Usage.RAM.OK {
		e.metrics.RecordSimple(observability.MetricRAMUsagePercent, snap.Usage.RAM.Percent, "percent")
	}
	if snap.Usage.Disks.OK {
		for _, d := range snap.Usage.Disks.Items {
			e.metrics.Record(&observability.Metric{
				Name:      observability.MetricDiskUsagePercent,
				Timestamp: time.Now(),
				Value:     d.Percent,
				Labels:    map[string]string{"mount": d.Mount},
				Unit:      "percent",
			})
		}
	}
	if snap.Processes.OK {
		e.metrics.RecordSimple(observability.MetricProcessCount, float64(len(snap.Processes.Items)), "count")
	}
	if snap.Sessions.OK {
		e.metrics.RecordSimple(observability.MetricSessionCount, float64(len(snap.Sessions.Items)), "count")
	}
}

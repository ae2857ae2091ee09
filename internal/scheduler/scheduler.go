package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopsmart-platform/intelligent-monitoring/internal/appdynamics"
	"github.com/shopsmart-platform/intelligent-monitoring/internal/config"
	"github.com/shopsmart-platform/intelligent-monitoring/internal/engine"
	"github.com/shopsmart-platform/intelligent-monitoring/internal/metrics"
	"github.com/shopsmart-platform/intelligent-monitoring/internal/models"
	"github.com/shopsmart-platform/intelligent-monitoring/internal/otel"
	"github.com/shopsmart-platform/intelligent-monitoring/internal/store"
	"github.com/shopsmart-platform/intelligent-monitoring/internal/utils"
)

// task is one scheduled collection job. The mutex guarantees a task never
// overlaps itself; an overlapping tick is counted and skipped.
type task struct {
	name     string
	interval time.Duration
	run      func(ctx context.Context) error

	mu        sync.Mutex
	statusMu  sync.RWMutex
	lastRun   time.Time
	lastErr   string
	runCount  int64
	skipCount int64
	durations *utils.DurationTracker
}

// Collector orchestrates all scheduled collection and maintenance work. Every
// task has its own cadence; execution is funneled through a bounded worker
// pool so a slow upstream cannot stack unbounded goroutines.
type Collector struct {
	cfg       config.CollectorConfig
	retention config.RetentionConfig

	appd     *appdynamics.Client
	traces   *otel.Client
	events   store.EventStore
	fixes    store.FixStore
	analyzer *engine.PatternAnalyzer
	logger   *slog.Logger

	pool  chan struct{}
	tasks []*task

	appdUnconfigured sync.Once
	otelUnconfigured sync.Once
}

// New assembles the collector with its full task table.
func New(
	cfg config.CollectorConfig,
	retention config.RetentionConfig,
	appd *appdynamics.Client,
	traces *otel.Client,
	events store.EventStore,
	fixes store.FixStore,
	analyzer *engine.PatternAnalyzer,
	logger *slog.Logger,
) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 5
	}
	c := &Collector{
		cfg:       cfg,
		retention: retention,
		appd:      appd,
		traces:    traces,
		events:    events,
		fixes:     fixes,
		analyzer:  analyzer,
		logger:    logger,
		pool:      make(chan struct{}, workers),
	}
	c.tasks = []*task{
		c.newTask("business-transactions", cfg.BusinessTransactionInterval, c.collectBusinessTransactions),
		c.newTask("error-snapshots", cfg.ErrorSnapshotInterval, c.collectErrorSnapshots),
		c.newTask("performance-metrics", cfg.PerformanceMetricInterval, c.collectPerformanceMetrics),
		c.newTask("health-violations", cfg.HealthViolationInterval, c.collectHealthViolations),
		c.newTask("trace-collection", cfg.TraceCollectionInterval, c.collectTraces),
		c.newTask("token-maintenance", cfg.TokenMaintenanceInterval, c.maintainToken),
		c.newTask("comprehensive", cfg.ComprehensiveInterval, c.runComprehensive),
		c.newTask("retention-sweep", cfg.RetentionSweepInterval, c.sweepRetention),
	}
	return c
}

func (c *Collector) newTask(name string, interval time.Duration, run func(ctx context.Context) error) *task {
	return &task{
		name:      name,
		interval:  interval,
		run:       run,
		durations: utils.NewDurationTracker(128),
	}
}

// Run blocks until ctx is cancelled, driving every task on its own ticker.
func (c *Collector) Run(ctx context.Context) {
	if !c.cfg.Enabled {
		c.logger.Info("collector disabled")
		<-ctx.Done()
		return
	}

	var wg sync.WaitGroup
	for _, t := range c.tasks {
		if t.interval <= 0 {
			c.logger.Warn("task has no interval, not scheduling", "task", t.name)
			continue
		}
		wg.Add(1)
		go func(t *task) {
			defer wg.Done()
			ticker := time.NewTicker(t.interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					c.dispatch(ctx, t)
				}
			}
		}(t)
	}
	wg.Wait()
}

// dispatch runs one tick of a task through the worker pool. A tick that finds
// its task still running, or the pool saturated, is dropped rather than
// queued: the next tick retries with fresher data anyway.
func (c *Collector) dispatch(ctx context.Context, t *task) {
	if !t.mu.TryLock() {
		t.skip()
		return
	}
	select {
	case c.pool <- struct{}{}:
	default:
		t.mu.Unlock()
		t.skip()
		return
	}

	go func() {
		defer func() {
			<-c.pool
			t.mu.Unlock()
			if r := recover(); r != nil {
				c.logger.Error("task panicked", "task", t.name, "panic", r)
				t.finish(time.Time{}, 0, fmt.Errorf("panic: %v", r))
			}
		}()

		started := time.Now()
		err := t.run(ctx)
		elapsed := time.Since(started)

		outcome := metrics.OutcomeSuccess
		if err != nil {
			outcome = metrics.OutcomeError
			if !errors.Is(err, utils.ErrNotConfigured) && !errors.Is(err, context.Canceled) {
				c.logger.Error("task failed", "task", t.name, "error", err)
			}
		}
		metrics.ObserveCollectionPass(t.name, elapsed, outcome)
		t.finish(started, elapsed, err)
	}()
}

func (t *task) skip() {
	t.statusMu.Lock()
	t.skipCount++
	t.statusMu.Unlock()
}

func (t *task) finish(started time.Time, elapsed time.Duration, err error) {
	t.statusMu.Lock()
	defer t.statusMu.Unlock()
	if !started.IsZero() {
		t.lastRun = started.UTC()
		t.runCount++
		t.durations.Observe(elapsed)
	}
	if err != nil {
		t.lastErr = err.Error()
	} else {
		t.lastErr = ""
	}
}

// Status reports per-task activity and the upstream token state.
func (c *Collector) Status() models.SchedulerStatus {
	status := models.SchedulerStatus{
		Enabled: c.cfg.Enabled,
		Workers: cap(c.pool),
		Token:   c.appd.TokenInfo(),
	}
	for _, t := range c.tasks {
		t.statusMu.RLock()
		ts := models.TaskStatus{
			Name:      t.name,
			Interval:  t.interval.String(),
			LastRun:   t.lastRun,
			LastError: t.lastErr,
			RunCount:  t.runCount,
			SkipCount: t.skipCount,
		}
		t.statusMu.RUnlock()
		if avg := t.durations.Average(); avg > 0 {
			ts.AvgDuration = avg.String()
			ts.P95Duration = t.durations.Percentile(95).String()
		}
		status.Tasks = append(status.Tasks, ts)
	}
	return status
}

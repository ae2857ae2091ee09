package scheduler

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/shopsmart-platform/intelligent-monitoring/internal/metrics"
	"github.com/shopsmart-platform/intelligent-monitoring/internal/models"
	"github.com/shopsmart-platform/intelligent-monitoring/internal/utils"
)

func (c *Collector) collectBusinessTransactions(ctx context.Context) error {
	if !c.appdReady() {
		return utils.ErrNotConfigured
	}
	events, err := c.appd.FetchBusinessTransactions(ctx)
	if err != nil {
		return err
	}
	return c.persist(ctx, events)
}

func (c *Collector) collectErrorSnapshots(ctx context.Context) error {
	if !c.appdReady() {
		return utils.ErrNotConfigured
	}
	since := time.Now().Add(-c.cfg.ErrorSnapshotInterval)
	events, err := c.appd.FetchErrorSnapshots(ctx, since)
	if err != nil {
		return err
	}
	if err := c.persist(ctx, events); err != nil {
		return err
	}
	c.analyzer.AnalyzeBatch(ctx, events)
	return nil
}

func (c *Collector) collectPerformanceMetrics(ctx context.Context) error {
	if !c.appdReady() {
		return utils.ErrNotConfigured
	}
	events, err := c.appd.FetchPerformanceMetrics(ctx)
	if err != nil {
		return err
	}
	return c.persist(ctx, events)
}

func (c *Collector) collectHealthViolations(ctx context.Context) error {
	if !c.appdReady() {
		return utils.ErrNotConfigured
	}
	since := time.Now().Add(-c.cfg.HealthViolationInterval)
	events, err := c.appd.FetchHealthViolations(ctx, since)
	if err != nil {
		return err
	}
	if err := c.persist(ctx, events); err != nil {
		return err
	}
	c.analyzer.AnalyzeBatch(ctx, events)
	return nil
}

func (c *Collector) collectTraces(ctx context.Context) error {
	if c.traces == nil || !c.traces.Configured() {
		c.otelUnconfigured.Do(func() {
			c.logger.Info("trace collector not configured, trace collection idle")
		})
		return utils.ErrNotConfigured
	}
	since := time.Now().Add(-c.cfg.TraceCollectionInterval)
	events, err := c.traces.FetchErrorTraces(ctx, since)
	if err != nil {
		return err
	}
	return c.persist(ctx, events)
}

func (c *Collector) maintainToken(ctx context.Context) error {
	if !c.appdReady() {
		return utils.ErrNotConfigured
	}
	return c.appd.MaintainToken(ctx)
}

// runComprehensive is the full correlation pass: every source is fetched,
// everything is persisted, error events feed the pattern engine, and the pass
// reports on itself with a data-collection event. Individual fetch failures
// are isolated; the pass degrades instead of aborting.
func (c *Collector) runComprehensive(ctx context.Context) error {
	started := time.Now()
	var all []models.MonitoringEvent
	fetchErrors := 0

	if c.appdReady() {
		window := started.Add(-c.cfg.ComprehensiveInterval)
		for _, fetch := range []struct {
			name string
			call func() ([]models.MonitoringEvent, error)
		}{
			{"business-transactions", func() ([]models.MonitoringEvent, error) { return c.appd.FetchBusinessTransactions(ctx) }},
			{"error-snapshots", func() ([]models.MonitoringEvent, error) { return c.appd.FetchErrorSnapshots(ctx, window) }},
			{"performance-metrics", func() ([]models.MonitoringEvent, error) { return c.appd.FetchPerformanceMetrics(ctx) }},
			{"health-violations", func() ([]models.MonitoringEvent, error) { return c.appd.FetchHealthViolations(ctx, window) }},
		} {
			events, err := fetch.call()
			if err != nil {
				fetchErrors++
				c.logger.Warn("comprehensive fetch failed", "fetch", fetch.name, "error", err)
				continue
			}
			all = append(all, events...)
		}
	}
	if c.traces != nil && c.traces.Configured() {
		events, err := c.traces.FetchErrorTraces(ctx, started.Add(-c.cfg.ComprehensiveInterval))
		if err != nil {
			fetchErrors++
			c.logger.Warn("comprehensive fetch failed", "fetch", "traces", "error", err)
		} else {
			all = append(all, events...)
		}
	}

	persistErr := c.persist(ctx, all)

	analyzed := 0
	var errorEvents []models.MonitoringEvent
	for _, event := range all {
		if event.IsError() {
			errorEvents = append(errorEvents, event)
		}
	}
	if len(errorEvents) > 0 {
		analyzed = c.analyzer.AnalyzeBatch(ctx, errorEvents)
	}

	c.emitSelfObservation(ctx, started, len(all), analyzed, fetchErrors, persistErr)
	if persistErr != nil {
		return persistErr
	}
	if fetchErrors > 0 {
		return fmt.Errorf("%d comprehensive fetches failed", fetchErrors)
	}
	return nil
}

// emitSelfObservation writes the pass's own telemetry into the event stream
// so the service shows up on its own dashboards.
func (c *Collector) emitSelfObservation(ctx context.Context, started time.Time, collected, analyzed, fetchErrors int, persistErr error) {
	severity := models.SeverityInfo
	if persistErr != nil || fetchErrors > 0 {
		severity = models.SeverityHigh
	}
	event := models.NewMonitoringEvent(models.SourceCollector, models.EventTypeDataCollection, "intelligent-monitoring", severity)
	event.MetricName = "comprehensive_pass_duration_ms"
	event.MetricValue = float64(time.Since(started).Milliseconds())
	event.Metadata = map[string]string{
		"eventsCollected": strconv.Itoa(collected),
		"errorsAnalyzed":  strconv.Itoa(analyzed),
		"fetchErrors":     strconv.Itoa(fetchErrors),
	}
	if persistErr != nil {
		event.EventType = models.EventTypeError
		event.ErrorType = "CollectionPersistenceFailure"
		event.ErrorMessage = persistErr.Error()
	}
	if err := c.events.Insert(ctx, event); err != nil {
		c.logger.Error("self-observation event write failed", "error", err)
	}
}

func (c *Collector) sweepRetention(ctx context.Context) error {
	now := time.Now().UTC()
	purgedEvents, err := c.events.PurgeExpired(ctx, now.Add(-c.retention.Events))
	if err != nil {
		return err
	}
	purgedFixes, err := c.fixes.PurgeExpired(ctx, now.Add(-c.retention.Fixes))
	if err != nil {
		return err
	}
	if purgedEvents > 0 || purgedFixes > 0 {
		c.logger.Info("retention sweep", "events", purgedEvents, "fixes", purgedFixes)
	}
	return nil
}

func (c *Collector) persist(ctx context.Context, events []models.MonitoringEvent) error {
	if len(events) == 0 {
		return nil
	}
	inserted, err := c.events.InsertBatch(ctx, events)
	if err != nil {
		return err
	}
	counts := make(map[[2]string]int)
	for _, event := range events {
		counts[[2]string{string(event.Source), string(event.EventType)}]++
	}
	for key, n := range counts {
		metrics.ObserveEventsCollected(key[0], key[1], n)
	}
	c.logger.Debug("events persisted", "count", inserted)
	return nil
}

func (c *Collector) appdReady() bool {
	if c.appd.Configured() {
		return true
	}
	c.appdUnconfigured.Do(func() {
		c.logger.Info("appdynamics not configured, controller collection idle")
	})
	return false
}

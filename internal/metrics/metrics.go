package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels successful collection passes and upstream calls.
	OutcomeSuccess = "success"
	// OutcomeError labels failed ones.
	OutcomeError = "error"
)

var (
	eventsCollectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "monitoring",
			Name:      "events_collected_total",
			Help:      "Monitoring events persisted, partitioned by source and type.",
		},
		[]string{"source", "type"},
	)

	collectionFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "monitoring",
			Name:      "collection_failures_total",
			Help:      "Failed upstream fetches, partitioned by endpoint.",
		},
		[]string{"endpoint"},
	)

	patternsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "monitoring",
			Name:      "error_patterns_total",
			Help:      "Pattern engine outcomes, partitioned by action (created, updated, dropped).",
		},
		[]string{"action"},
	)

	fixTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "monitoring",
			Name:      "fix_transitions_total",
			Help:      "Automated fix lifecycle transitions, partitioned by target status.",
		},
		[]string{"status"},
	)

	reviewDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "monitoring",
			Name:      "review_decisions_total",
			Help:      "Human review decisions, partitioned by decision and replay flag.",
		},
		[]string{"decision", "replayed"},
	)

	tokenRefreshesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "monitoring",
			Name:      "token_refreshes_total",
			Help:      "OAuth token refresh attempts, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	collectionPassSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "monitoring",
			Name:      "collection_pass_seconds",
			Help:      "Scheduled collection pass latency in seconds.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
		},
		[]string{"task", "outcome"},
	)

	upstreamRequestSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "monitoring",
			Name:      "upstream_request_seconds",
			Help:      "Upstream APM request latency in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"endpoint"},
	)
)

// Register attaches the service collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		eventsCollectedTotal,
		collectionFailuresTotal,
		patternsTotal,
		fixTransitionsTotal,
		reviewDecisionsTotal,
		tokenRefreshesTotal,
		collectionPassSeconds,
		upstreamRequestSeconds,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveEventsCollected records persisted events by source and type.
func ObserveEventsCollected(source, eventType string, count int) {
	if count <= 0 {
		return
	}
	eventsCollectedTotal.WithLabelValues(source, eventType).Add(float64(count))
}

// ObserveCollectionFailure records a failed upstream fetch.
func ObserveCollectionFailure(endpoint string) {
	collectionFailuresTotal.WithLabelValues(endpoint).Inc()
}

// ObservePatternAction records a pattern engine outcome.
func ObservePatternAction(action string) {
	patternsTotal.WithLabelValues(action).Inc()
}

// ObserveFixTransition records a fix status change.
func ObserveFixTransition(status string) {
	fixTransitionsTotal.WithLabelValues(status).Inc()
}

// ObserveReviewDecision records a human decision, flagged when replayed.
func ObserveReviewDecision(decision string, replayed bool) {
	flag := "false"
	if replayed {
		flag = "true"
	}
	reviewDecisionsTotal.WithLabelValues(decision, flag).Inc()
}

// ObserveTokenRefresh records a token refresh attempt.
func ObserveTokenRefresh(outcome string) {
	tokenRefreshesTotal.WithLabelValues(outcome).Inc()
}

// ObserveCollectionPass records a scheduled pass duration and outcome label.
func ObserveCollectionPass(task string, duration time.Duration, outcome string) {
	label := outcome
	if label != OutcomeError {
		label = OutcomeSuccess
	}
	if duration < 0 {
		duration = 0
	}
	collectionPassSeconds.WithLabelValues(task, label).Observe(duration.Seconds())
}

// ObserveUpstreamRequest records an APM request duration.
func ObserveUpstreamRequest(endpoint string, duration time.Duration) {
	if duration < 0 {
		duration = 0
	}
	upstreamRequestSeconds.WithLabelValues(endpoint).Observe(duration.Seconds())
}

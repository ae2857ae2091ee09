package models

import "time"

// ReviewDecisionType enumerates the actions a human reviewer can take.
type ReviewDecisionType string

const (
	DecisionApprove              ReviewDecisionType = "approve"
	DecisionReject               ReviewDecisionType = "reject"
	DecisionRequestModifications ReviewDecisionType = "request_modifications"
)

// ReviewDecision is a human verdict on an automated fix. ReviewID makes the
// decision idempotent: replays return the recorded outcome.
type ReviewDecision struct {
	ReviewID            string             `json:"reviewId"`
	FixID               string             `json:"fixId"`
	Decision            ReviewDecisionType `json:"decision"`
	Reviewer            string             `json:"reviewer"`
	Comments            string             `json:"comments,omitempty"`
	ModificationRequest string             `json:"modificationRequest,omitempty"`
}

// ReviewOutcome is what a decision produced, returned verbatim on replay.
type ReviewOutcome struct {
	ReviewID  string    `json:"reviewId"`
	FixID     string    `json:"fixId"`
	Status    FixStatus `json:"status"`
	Replayed  bool      `json:"replayed"`
	DecidedAt time.Time `json:"decidedAt"`
}

// EventQuery bounds an event lookup by service and time window.
type EventQuery struct {
	ServiceName string    `json:"serviceName"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Severity    Severity  `json:"severity,omitempty"`
	Limit       int       `json:"limit,omitempty"`
}

// EventStats aggregates event counts over a window.
type EventStats struct {
	WindowStart time.Time            `json:"windowStart"`
	WindowEnd   time.Time            `json:"windowEnd"`
	Total       int64                `json:"total"`
	BySeverity  map[Severity]int64   `json:"bySeverity"`
	ByType      map[EventType]int64  `json:"byType"`
	ByService   map[string]int64     `json:"byService"`
	FixCounts   map[FixStatus]int64  `json:"fixCounts,omitempty"`
	PatternTop  []PatternStatSummary `json:"topPatterns,omitempty"`
}

// PatternStatSummary is the compact pattern row used in statistics payloads.
type PatternStatSummary struct {
	Signature       string   `json:"signature"`
	ServiceName     string   `json:"serviceName"`
	ErrorType       string   `json:"errorType"`
	Severity        Severity `json:"severity"`
	OccurrenceCount int64    `json:"occurrenceCount"`
	ConfidenceScore float64  `json:"confidenceScore"`
}

// ServiceHealth summarises one service's recent error posture.
type ServiceHealth struct {
	ServiceName       string  `json:"serviceName"`
	ErrorCount        int64   `json:"errorCount"`
	CriticalCount     int64   `json:"criticalCount"`
	AvgResponseTimeMs float64 `json:"avgResponseTimeMs"`
	Status            string  `json:"status"`
}

// TokenInfo describes the cached upstream credential for the health surface.
// The token value itself is never exposed.
type TokenInfo struct {
	HasToken           bool      `json:"hasToken"`
	ExpiresAt          time.Time `json:"expiresAt,omitempty"`
	SecondsUntilExpiry int64     `json:"secondsUntilExpiry"`
	Configured         bool      `json:"configured"`
}

// TaskStatus reports one scheduled task's recent activity.
type TaskStatus struct {
	Name        string    `json:"name"`
	Interval    string    `json:"interval"`
	LastRun     time.Time `json:"lastRun,omitempty"`
	LastError   string    `json:"lastError,omitempty"`
	RunCount    int64     `json:"runCount"`
	SkipCount   int64     `json:"skipCount"`
	AvgDuration string    `json:"avgDuration,omitempty"`
	P95Duration string    `json:"p95Duration,omitempty"`
}

// SchedulerStatus is the collector health payload.
type SchedulerStatus struct {
	Enabled bool         `json:"enabled"`
	Workers int          `json:"workers"`
	Tasks   []TaskStatus `json:"tasks"`
	Token   TokenInfo    `json:"token"`
}

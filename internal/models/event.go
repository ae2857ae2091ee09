package models

import (
	"time"

	"github.com/google/uuid"
)

// Source enumerates where a monitoring event originated.
type Source string

const (
	SourceAppDynamics   Source = "appdynamics"
	SourceOpenTelemetry Source = "opentelemetry"
	SourceFrontend      Source = "frontend"
	SourceLoadTest      Source = "loadtest"
	SourceCollector     Source = "collector"
)

// EventType enumerates the kinds of observations the service records.
type EventType string

const (
	EventTypeError          EventType = "error"
	EventTypePerformance    EventType = "performance"
	EventTypeBusiness       EventType = "business"
	EventTypeTrace          EventType = "trace"
	EventTypeDataCollection EventType = "data-collection"
)

// Severity captures impact levels, ordered critical > high > medium > low > info.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

var severityRank = map[Severity]int{
	SeverityCritical: 4,
	SeverityHigh:     3,
	SeverityMedium:   2,
	SeverityLow:      1,
	SeverityInfo:     0,
}

// Rank returns the ordering weight of the severity. Unknown values rank lowest.
func (s Severity) Rank() int {
	return severityRank[s]
}

// Outranks reports whether s is strictly more severe than other.
func (s Severity) Outranks(other Severity) bool {
	return s.Rank() > other.Rank()
}

// ParseSeverity normalises free-form severity strings from upstream payloads.
func ParseSeverity(raw string) Severity {
	switch raw {
	case "critical", "CRITICAL", "ERROR_VERY_SEVERE":
		return SeverityCritical
	case "high", "HIGH", "ERROR":
		return SeverityHigh
	case "medium", "MEDIUM", "WARNING", "warn":
		return SeverityMedium
	case "low", "LOW":
		return SeverityLow
	default:
		return SeverityInfo
	}
}

// MonitoringEvent is the canonical record every collector normalises into.
// Timestamp and identity are fixed at construction; only resolution fields
// change afterwards.
type MonitoringEvent struct {
	ID          string    `bson:"_id" json:"id"`
	Timestamp   time.Time `bson:"timestamp" json:"timestamp"`
	Source      Source    `bson:"source" json:"source"`
	EventType   EventType `bson:"eventType" json:"eventType"`
	Severity    Severity  `bson:"severity" json:"severity"`
	ServiceName string    `bson:"serviceName" json:"serviceName"`
	Environment string    `bson:"environment,omitempty" json:"environment,omitempty"`

	ErrorType    string `bson:"errorType,omitempty" json:"errorType,omitempty"`
	ErrorMessage string `bson:"errorMessage,omitempty" json:"errorMessage,omitempty"`
	StackTrace   string `bson:"stackTrace,omitempty" json:"stackTrace,omitempty"`
	ClassName    string `bson:"className,omitempty" json:"className,omitempty"`
	MethodName   string `bson:"methodName,omitempty" json:"methodName,omitempty"`
	LineNumber   int    `bson:"lineNumber,omitempty" json:"lineNumber,omitempty"`

	BusinessTransaction string  `bson:"businessTransaction,omitempty" json:"businessTransaction,omitempty"`
	MetricName          string  `bson:"metricName,omitempty" json:"metricName,omitempty"`
	MetricValue         float64 `bson:"metricValue,omitempty" json:"metricValue,omitempty"`
	ResponseTimeMs      float64 `bson:"responseTimeMs,omitempty" json:"responseTimeMs,omitempty"`

	UserID        string `bson:"userId,omitempty" json:"userId,omitempty"`
	SessionID     string `bson:"sessionId,omitempty" json:"sessionId,omitempty"`
	CorrelationID string `bson:"correlationId,omitempty" json:"correlationId,omitempty"`
	TraceID       string `bson:"traceId,omitempty" json:"traceId,omitempty"`
	SpanID        string `bson:"spanId,omitempty" json:"spanId,omitempty"`

	AutoFixed   bool       `bson:"autoFixed" json:"autoFixed"`
	FixCommitID string     `bson:"fixCommitId,omitempty" json:"fixCommitId,omitempty"`
	Resolved    bool       `bson:"resolved" json:"resolved"`
	ResolvedAt  *time.Time `bson:"resolvedAt,omitempty" json:"resolvedAt,omitempty"`

	Metadata map[string]string `bson:"metadata,omitempty" json:"metadata,omitempty"`
}

// NewMonitoringEvent constructs an event with identity and timestamp fixed.
func NewMonitoringEvent(source Source, eventType EventType, service string, severity Severity) MonitoringEvent {
	return MonitoringEvent{
		ID:          uuid.NewString(),
		Timestamp:   time.Now().UTC(),
		Source:      source,
		EventType:   eventType,
		ServiceName: service,
		Severity:    severity,
	}
}

// IsError reports whether the event carries error semantics the pattern
// engine can work with.
func (e MonitoringEvent) IsError() bool {
	return e.EventType == EventTypeError
}

// HasErrorSignal reports whether enough error detail exists to build a
// signature. Events with neither an error type nor a stack trace are noise.
func (e MonitoringEvent) HasErrorSignal() bool {
	return e.ErrorType != "" || e.StackTrace != ""
}

// MarkAutoFixed links the event to the commit that remediated it.
func (e *MonitoringEvent) MarkAutoFixed(commitID string) {
	now := time.Now().UTC()
	e.AutoFixed = true
	e.FixCommitID = commitID
	e.Resolved = true
	e.ResolvedAt = &now
}

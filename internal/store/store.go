package store

import (
	"context"
	"time"

	"github.com/shopsmart-platform/intelligent-monitoring/internal/models"
)

// EventStore persists and queries canonical monitoring events.
type EventStore interface {
	Insert(ctx context.Context, event models.MonitoringEvent) error
	InsertBatch(ctx context.Context, events []models.MonitoringEvent) (int, error)
	FindByCorrelationID(ctx context.Context, correlationID string) ([]models.MonitoringEvent, error)
	FindByTraceID(ctx context.Context, traceID string) ([]models.MonitoringEvent, error)
	FindByService(ctx context.Context, query models.EventQuery) ([]models.MonitoringEvent, error)
	FindRecentErrors(ctx context.Context, service string, since time.Time) ([]models.MonitoringEvent, error)
	MarkAutoFixed(ctx context.Context, eventID, commitID string) error
	Stats(ctx context.Context, window time.Duration) (models.EventStats, error)
	HealthSummary(ctx context.Context, window time.Duration) ([]models.ServiceHealth, error)
	PurgeExpired(ctx context.Context, olderThan time.Time) (int64, error)
}

// PatternStore persists deduplicated error patterns keyed by signature.
type PatternStore interface {
	FindBySignature(ctx context.Context, signature string) (models.ErrorPattern, error)
	Insert(ctx context.Context, pattern models.ErrorPattern) error
	RecordOccurrence(ctx context.Context, signature string, seen time.Time, severity models.Severity, confidence float64) (models.ErrorPattern, error)
	SetValidated(ctx context.Context, signature, by string) (models.ErrorPattern, error)
	FindNeedingAttention(ctx context.Context, limit int) ([]models.ErrorPattern, error)
	FindFixable(ctx context.Context, minConfidence float64, limit int) ([]models.ErrorPattern, error)
	SetHasAutomatedFix(ctx context.Context, signature string, has bool) error
	TopBySeverity(ctx context.Context, limit int) ([]models.PatternStatSummary, error)
	Count(ctx context.Context) (int64, error)
}

// FixStore persists automated fix lifecycle documents.
type FixStore interface {
	Insert(ctx context.Context, fix models.AutomatedFix) error
	Get(ctx context.Context, id string) (models.AutomatedFix, error)
	Replace(ctx context.Context, fix models.AutomatedFix, fromStatus models.FixStatus) (models.AutomatedFix, error)
	FindByReviewID(ctx context.Context, reviewID string) (models.AutomatedFix, error)
	FindByPattern(ctx context.Context, patternID string) ([]models.AutomatedFix, error)
	FindNeedingAttention(ctx context.Context, limit int) ([]models.AutomatedFix, error)
	FindAwaitingValidation(ctx context.Context, limit int) ([]models.AutomatedFix, error)
	CountByStatus(ctx context.Context) (map[models.FixStatus]int64, error)
	PurgeExpired(ctx context.Context, olderThan time.Time) (int64, error)
}

// AuditStore records append-only audit events.
type AuditStore interface {
	Append(ctx context.Context, event models.AuditEvent) error
	FindRecent(ctx context.Context, category string, limit int) ([]models.AuditEvent, error)
}

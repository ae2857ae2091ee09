package audit

import (
	"context"
	"log/slog"

	"github.com/shopsmart-platform/intelligent-monitoring/internal/models"
	"github.com/shopsmart-platform/intelligent-monitoring/internal/store"
)

// Recorder appends audit rows for workflow actions. Audit writes never fail
// the action they describe; a lost row is logged and the workflow proceeds.
type Recorder struct {
	store  store.AuditStore
	logger *slog.Logger
}

// NewRecorder wires the recorder. A nil store yields a logging-only recorder.
func NewRecorder(store store.AuditStore, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{store: store, logger: logger}
}

// ReviewDecision records a human verdict on an automated fix.
func (r *Recorder) ReviewDecision(ctx context.Context, decision models.ReviewDecision, outcome models.ReviewOutcome) {
	event := models.NewAuditEvent("fix_review_decision", "remediation", decision.Reviewer)
	event.EventData = map[string]any{
		"reviewId": decision.ReviewID,
		"fixId":    decision.FixID,
		"decision": string(decision.Decision),
		"status":   string(outcome.Status),
		"replayed": outcome.Replayed,
	}
	if decision.Comments != "" {
		event.EventData["comments"] = decision.Comments
	}
	r.append(ctx, event)
}

// FixTransition records a lifecycle move on an automated fix.
func (r *Recorder) FixTransition(ctx context.Context, fix models.AutomatedFix, actor, detail string) {
	event := models.NewAuditEvent("fix_transition", "remediation", actor)
	event.EventData = map[string]any{
		"fixId":     fix.ID,
		"patternId": fix.PatternID,
		"status":    string(fix.Status),
	}
	if detail != "" {
		event.EventData["detail"] = detail
	}
	r.append(ctx, event)
}

// PatternValidated records a human pattern sign-off.
func (r *Recorder) PatternValidated(ctx context.Context, pattern models.ErrorPattern, by string) {
	event := models.NewAuditEvent("pattern_validated", "analysis", by)
	event.EventData = map[string]any{
		"signature":  pattern.Signature,
		"service":    pattern.ServiceName,
		"confidence": pattern.ConfidenceScore,
	}
	r.append(ctx, event)
}

func (r *Recorder) append(ctx context.Context, event models.AuditEvent) {
	if r == nil || r.store == nil {
		return
	}
	if err := r.store.Append(ctx, event); err != nil {
		r.logger.Error("audit append failed", "eventType", event.EventType, "error", err)
	}
}

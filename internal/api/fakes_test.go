package api

import (
	"context"
	"fmt"
	"time"

	"github.com/shopsmart-platform/intelligent-monitoring/internal/models"
	"github.com/shopsmart-platform/intelligent-monitoring/internal/utils"
)

type stubEvents struct {
	byID              map[string]models.MonitoringEvent
	lastQuery         models.EventQuery
	lastRecentService string
	lastRecentSince   time.Time
	statsErr          error
}

func newStubEvents() *stubEvents {
	return &stubEvents{byID: make(map[string]models.MonitoringEvent)}
}

func (s *stubEvents) Insert(_ context.Context, event models.MonitoringEvent) error {
	s.byID[event.ID] = event
	return nil
}

func (s *stubEvents) InsertBatch(ctx context.Context, events []models.MonitoringEvent) (int, error) {
	for _, event := range events {
		_ = s.Insert(ctx, event)
	}
	return len(events), nil
}

func (s *stubEvents) FindByCorrelationID(_ context.Context, correlationID string) ([]models.MonitoringEvent, error) {
	var out []models.MonitoringEvent
	for _, event := range s.byID {
		if event.CorrelationID == correlationID {
			out = append(out, event)
		}
	}
	return out, nil
}

func (s *stubEvents) FindByTraceID(_ context.Context, traceID string) ([]models.MonitoringEvent, error) {
	var out []models.MonitoringEvent
	for _, event := range s.byID {
		if event.TraceID == traceID {
			out = append(out, event)
		}
	}
	return out, nil
}

func (s *stubEvents) FindByService(_ context.Context, query models.EventQuery) ([]models.MonitoringEvent, error) {
	s.lastQuery = query
	var out []models.MonitoringEvent
	for _, event := range s.byID {
		if event.ServiceName == query.ServiceName {
			out = append(out, event)
		}
	}
	return out, nil
}

func (s *stubEvents) FindRecentErrors(_ context.Context, service string, since time.Time) ([]models.MonitoringEvent, error) {
	s.lastRecentService = service
	s.lastRecentSince = since
	var out []models.MonitoringEvent
	for _, event := range s.byID {
		if event.EventType != models.EventTypeError || event.Timestamp.Before(since) {
			continue
		}
		if service != "" && event.ServiceName != service {
			continue
		}
		out = append(out, event)
	}
	return out, nil
}

func (s *stubEvents) MarkAutoFixed(_ context.Context, eventID, commitID string) error {
	event, ok := s.byID[eventID]
	if !ok {
		return utils.ErrNotFound
	}
	event.MarkAutoFixed(commitID)
	s.byID[eventID] = event
	return nil
}

func (s *stubEvents) Stats(_ context.Context, window time.Duration) (models.EventStats, error) {
	if s.statsErr != nil {
		return models.EventStats{}, s.statsErr
	}
	now := time.Now().UTC()
	return models.EventStats{
		WindowStart: now.Add(-window),
		WindowEnd:   now,
		Total:       int64(len(s.byID)),
	}, nil
}

func (s *stubEvents) HealthSummary(context.Context, time.Duration) ([]models.ServiceHealth, error) {
	return []models.ServiceHealth{{ServiceName: "checkout-service", Status: "healthy"}}, nil
}

func (s *stubEvents) PurgeExpired(context.Context, time.Time) (int64, error) { return 0, nil }

type stubPatterns struct {
	bySignature map[string]models.ErrorPattern
}

func newStubPatterns() *stubPatterns {
	return &stubPatterns{bySignature: make(map[string]models.ErrorPattern)}
}

func (s *stubPatterns) FindBySignature(_ context.Context, signature string) (models.ErrorPattern, error) {
	pattern, ok := s.bySignature[signature]
	if !ok {
		return models.ErrorPattern{}, utils.ErrNotFound
	}
	return pattern, nil
}

func (s *stubPatterns) Insert(_ context.Context, pattern models.ErrorPattern) error {
	if _, exists := s.bySignature[pattern.Signature]; exists {
		return fmt.Errorf("duplicate signature %s", pattern.Signature)
	}
	s.bySignature[pattern.Signature] = pattern
	return nil
}

func (s *stubPatterns) RecordOccurrence(_ context.Context, signature string, seen time.Time, severity models.Severity, confidence float64) (models.ErrorPattern, error) {
	pattern, ok := s.bySignature[signature]
	if !ok {
		return models.ErrorPattern{}, utils.ErrNotFound
	}
	pattern.RecordOccurrence(seen, severity)
	pattern.SetConfidence(confidence)
	s.bySignature[signature] = pattern
	return pattern, nil
}

func (s *stubPatterns) SetValidated(_ context.Context, signature, by string) (models.ErrorPattern, error) {
	pattern, ok := s.bySignature[signature]
	if !ok {
		return models.ErrorPattern{}, utils.ErrNotFound
	}
	pattern.MarkValidated(by, time.Now().UTC())
	s.bySignature[signature] = pattern
	return pattern, nil
}

func (s *stubPatterns) FindNeedingAttention(_ context.Context, limit int) ([]models.ErrorPattern, error) {
	var out []models.ErrorPattern
	for _, pattern := range s.bySignature {
		if pattern.NeedsAttention() {
			out = append(out, pattern)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *stubPatterns) FindFixable(_ context.Context, minConfidence float64, limit int) ([]models.ErrorPattern, error) {
	var out []models.ErrorPattern
	for _, pattern := range s.bySignature {
		if pattern.HasAutomatedFix && pattern.Validated && pattern.ConfidenceScore >= minConfidence {
			out = append(out, pattern)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *stubPatterns) SetHasAutomatedFix(_ context.Context, signature string, has bool) error {
	pattern, ok := s.bySignature[signature]
	if !ok {
		return utils.ErrNotFound
	}
	pattern.HasAutomatedFix = has
	s.bySignature[signature] = pattern
	return nil
}

func (s *stubPatterns) TopBySeverity(context.Context, int) ([]models.PatternStatSummary, error) {
	return nil, nil
}

func (s *stubPatterns) Count(context.Context) (int64, error) {
	return int64(len(s.bySignature)), nil
}

type stubFixes struct {
	byID map[string]models.AutomatedFix
}

func newStubFixes() *stubFixes {
	return &stubFixes{byID: make(map[string]models.AutomatedFix)}
}

func (s *stubFixes) Insert(_ context.Context, fix models.AutomatedFix) error {
	s.byID[fix.ID] = fix
	return nil
}

func (s *stubFixes) Get(_ context.Context, id string) (models.AutomatedFix, error) {
	fix, ok := s.byID[id]
	if !ok {
		return models.AutomatedFix{}, utils.ErrNotFound
	}
	return fix, nil
}

func (s *stubFixes) Replace(_ context.Context, fix models.AutomatedFix, fromStatus models.FixStatus) (models.AutomatedFix, error) {
	current, ok := s.byID[fix.ID]
	if !ok || current.Status != fromStatus {
		return models.AutomatedFix{}, utils.ErrInvalidTransition
	}
	s.byID[fix.ID] = fix
	return fix, nil
}

func (s *stubFixes) FindByReviewID(_ context.Context, reviewID string) (models.AutomatedFix, error) {
	for _, fix := range s.byID {
		if fix.ReviewID == reviewID {
			return fix, nil
		}
	}
	return models.AutomatedFix{}, utils.ErrNotFound
}

func (s *stubFixes) FindByPattern(_ context.Context, patternID string) ([]models.AutomatedFix, error) {
	var out []models.AutomatedFix
	for _, fix := range s.byID {
		if fix.PatternID == patternID {
			out = append(out, fix)
		}
	}
	return out, nil
}

func (s *stubFixes) FindNeedingAttention(_ context.Context, limit int) ([]models.AutomatedFix, error) {
	var out []models.AutomatedFix
	for _, fix := range s.byID {
		if fix.NeedsAttention() {
			out = append(out, fix)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *stubFixes) FindAwaitingValidation(_ context.Context, limit int) ([]models.AutomatedFix, error) {
	var out []models.AutomatedFix
	for _, fix := range s.byID {
		if fix.Status == models.FixStatusTested && fix.TestsPassed {
			out = append(out, fix)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *stubFixes) CountByStatus(context.Context) (map[models.FixStatus]int64, error) {
	counts := make(map[models.FixStatus]int64)
	for _, fix := range s.byID {
		counts[fix.Status]++
	}
	return counts, nil
}

func (s *stubFixes) PurgeExpired(context.Context, time.Time) (int64, error) { return 0, nil }

type stubAudit struct {
	rows []models.AuditEvent
}

func (s *stubAudit) Append(_ context.Context, event models.AuditEvent) error {
	s.rows = append(s.rows, event)
	return nil
}

func (s *stubAudit) FindRecent(_ context.Context, category string, limit int) ([]models.AuditEvent, error) {
	var out []models.AuditEvent
	for _, row := range s.rows {
		if category == "" || row.Category == category {
			out = append(out, row)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type stubStatus struct{}

func (stubStatus) Status() models.SchedulerStatus {
	return models.SchedulerStatus{Enabled: true, Workers: 5}
}

type stubTokens struct {
	refreshErr error
	info       models.TokenInfo
}

func (s *stubTokens) TokenInfo() models.TokenInfo { return s.info }

func (s *stubTokens) RefreshToken(context.Context) error { return s.refreshErr }

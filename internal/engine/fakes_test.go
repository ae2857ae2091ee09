package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopsmart-platform/intelligent-monitoring/internal/models"
	"github.com/shopsmart-platform/intelligent-monitoring/internal/utils"
)

type fakePatternStore struct {
	patterns map[string]models.ErrorPattern
	inserts  int
}

func newFakePatternStore() *fakePatternStore {
	return &fakePatternStore{patterns: make(map[string]models.ErrorPattern)}
}

func (f *fakePatternStore) FindBySignature(_ context.Context, signature string) (models.ErrorPattern, error) {
	pattern, ok := f.patterns[signature]
	if !ok {
		return models.ErrorPattern{}, utils.ErrNotFound
	}
	return pattern, nil
}

func (f *fakePatternStore) Insert(_ context.Context, pattern models.ErrorPattern) error {
	if _, exists := f.patterns[pattern.Signature]; exists {
		return fmt.Errorf("duplicate signature %s", pattern.Signature)
	}
	f.patterns[pattern.Signature] = pattern
	f.inserts++
	return nil
}

func (f *fakePatternStore) RecordOccurrence(_ context.Context, signature string, seen time.Time, severity models.Severity, confidence float64) (models.ErrorPattern, error) {
	pattern, ok := f.patterns[signature]
	if !ok {
		return models.ErrorPattern{}, utils.ErrNotFound
	}
	pattern.RecordOccurrence(seen, severity)
	pattern.SetConfidence(confidence)
	f.patterns[signature] = pattern
	return pattern, nil
}

func (f *fakePatternStore) SetValidated(_ context.Context, signature, by string) (models.ErrorPattern, error) {
	pattern, ok := f.patterns[signature]
	if !ok {
		return models.ErrorPattern{}, utils.ErrNotFound
	}
	pattern.MarkValidated(by, time.Now().UTC())
	f.patterns[signature] = pattern
	return pattern, nil
}

func (f *fakePatternStore) FindNeedingAttention(_ context.Context, limit int) ([]models.ErrorPattern, error) {
	var out []models.ErrorPattern
	for _, p := range f.patterns {
		if p.NeedsAttention() {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastSeen.After(out[j].LastSeen) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakePatternStore) FindFixable(_ context.Context, minConfidence float64, limit int) ([]models.ErrorPattern, error) {
	var out []models.ErrorPattern
	for _, p := range f.patterns {
		if p.HasAutomatedFix && p.Validated && p.ConfidenceScore >= minConfidence {
			out = append(out, p)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakePatternStore) SetHasAutomatedFix(_ context.Context, signature string, has bool) error {
	pattern, ok := f.patterns[signature]
	if !ok {
		return utils.ErrNotFound
	}
	pattern.HasAutomatedFix = has
	f.patterns[signature] = pattern
	return nil
}

func (f *fakePatternStore) TopBySeverity(_ context.Context, limit int) ([]models.PatternStatSummary, error) {
	var out []models.PatternStatSummary
	for _, p := range f.patterns {
		out = append(out, models.PatternStatSummary{
			Signature:       p.Signature,
			ServiceName:     p.ServiceName,
			ErrorType:       p.ErrorType,
			Severity:        p.Severity,
			OccurrenceCount: p.OccurrenceCount,
			ConfidenceScore: p.ConfidenceScore,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OccurrenceCount > out[j].OccurrenceCount })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakePatternStore) Count(context.Context) (int64, error) {
	return int64(len(f.patterns)), nil
}

type fakeFixStore struct {
	fixes map[string]models.AutomatedFix
}

func newFakeFixStore() *fakeFixStore {
	return &fakeFixStore{fixes: make(map[string]models.AutomatedFix)}
}

func (f *fakeFixStore) Insert(_ context.Context, fix models.AutomatedFix) error {
	f.fixes[fix.ID] = fix
	return nil
}

func (f *fakeFixStore) Get(_ context.Context, id string) (models.AutomatedFix, error) {
	fix, ok := f.fixes[id]
	if !ok {
		return models.AutomatedFix{}, utils.ErrNotFound
	}
	return fix, nil
}

func (f *fakeFixStore) Replace(_ context.Context, fix models.AutomatedFix, fromStatus models.FixStatus) (models.AutomatedFix, error) {
	current, ok := f.fixes[fix.ID]
	if !ok || current.Status != fromStatus {
		return models.AutomatedFix{}, utils.ErrInvalidTransition
	}
	f.fixes[fix.ID] = fix
	return fix, nil
}

func (f *fakeFixStore) FindByReviewID(_ context.Context, reviewID string) (models.AutomatedFix, error) {
	for _, fix := range f.fixes {
		if fix.ReviewID == reviewID {
			return fix, nil
		}
	}
	return models.AutomatedFix{}, utils.ErrNotFound
}

func (f *fakeFixStore) FindByPattern(_ context.Context, patternID string) ([]models.AutomatedFix, error) {
	var out []models.AutomatedFix
	for _, fix := range f.fixes {
		if fix.PatternID == patternID {
			out = append(out, fix)
		}
	}
	return out, nil
}

func (f *fakeFixStore) FindNeedingAttention(_ context.Context, limit int) ([]models.AutomatedFix, error) {
	var out []models.AutomatedFix
	for _, fix := range f.fixes {
		if fix.NeedsAttention() {
			out = append(out, fix)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeFixStore) FindAwaitingValidation(_ context.Context, limit int) ([]models.AutomatedFix, error) {
	var out []models.AutomatedFix
	for _, fix := range f.fixes {
		if fix.Status == models.FixStatusTested && fix.TestsPassed {
			out = append(out, fix)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeFixStore) CountByStatus(context.Context) (map[models.FixStatus]int64, error) {
	counts := make(map[models.FixStatus]int64)
	for _, fix := range f.fixes {
		counts[fix.Status]++
	}
	return counts, nil
}

func (f *fakeFixStore) PurgeExpired(_ context.Context, olderThan time.Time) (int64, error) {
	var purged int64
	for id, fix := range f.fixes {
		if fix.CreatedAt.Before(olderThan) {
			delete(f.fixes, id)
			purged++
		}
	}
	return purged, nil
}

func (f *fakeFixStore) single() models.AutomatedFix {
	for _, fix := range f.fixes {
		return fix
	}
	return models.AutomatedFix{}
}

package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopsmart-platform/intelligent-monitoring/internal/metrics"
	"github.com/shopsmart-platform/intelligent-monitoring/internal/models"
	"github.com/shopsmart-platform/intelligent-monitoring/internal/store"
	"github.com/shopsmart-platform/intelligent-monitoring/internal/utils"
)

// PatternAnalyzer folds error events into deduplicated patterns and proposes
// automated fixes once a pattern clears the confidence-and-validation gate.
type PatternAnalyzer struct {
	patterns      store.PatternStore
	fixes         store.FixStore
	minConfidence float64
	logger        *slog.Logger
}

// NewPatternAnalyzer wires the analyzer to its stores. minConfidence gates
// automated fix proposals; values outside (0, 1] fall back to the default
// threshold.
func NewPatternAnalyzer(patterns store.PatternStore, fixes store.FixStore, minConfidence float64, logger *slog.Logger) *PatternAnalyzer {
	if minConfidence <= 0 || minConfidence > 1 {
		minConfidence = models.HighConfidenceThreshold
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PatternAnalyzer{patterns: patterns, fixes: fixes, minConfidence: minConfidence, logger: logger}
}

// Analyze processes one error event. Events without an error signal are
// dropped. The returned bool reports whether a pattern was touched.
func (a *PatternAnalyzer) Analyze(ctx context.Context, event models.MonitoringEvent) (models.ErrorPattern, bool, error) {
	if !event.IsError() {
		return models.ErrorPattern{}, false, nil
	}
	if !event.HasErrorSignal() {
		a.logger.Warn("dropping error event without error signal",
			"eventId", event.ID, "service", event.ServiceName)
		metrics.ObservePatternAction("dropped")
		return models.ErrorPattern{}, false, nil
	}

	seen := event.Timestamp
	if seen.IsZero() {
		seen = time.Now().UTC()
	}

	signature := Signature(event)
	pattern, err := a.patterns.FindBySignature(ctx, signature)
	switch {
	case errors.Is(err, utils.ErrNotFound):
		pattern, err = a.createPattern(ctx, signature, event, seen)
		if err != nil {
			return models.ErrorPattern{}, false, err
		}
	case err != nil:
		return models.ErrorPattern{}, false, fmt.Errorf("lookup pattern: %w", err)
	default:
		pattern, err = a.recordOccurrence(ctx, pattern, event, seen)
		if err != nil {
			return models.ErrorPattern{}, false, err
		}
	}

	if err := a.maybeProposeFix(ctx, pattern); err != nil {
		// A fix proposal failure must not lose the pattern update.
		a.logger.Error("fix proposal failed", "signature", signature, "error", err)
	}
	return pattern, true, nil
}

// AnalyzeBatch feeds error events through Analyze, isolating per-event
// failures so one bad event does not sink the batch.
func (a *PatternAnalyzer) AnalyzeBatch(ctx context.Context, events []models.MonitoringEvent) int {
	processed := 0
	for _, event := range events {
		if _, ok, err := a.Analyze(ctx, event); err != nil {
			a.logger.Error("pattern analysis failed", "eventId", event.ID, "error", err)
		} else if ok {
			processed++
		}
	}
	return processed
}

func (a *PatternAnalyzer) createPattern(ctx context.Context, signature string, event models.MonitoringEvent, seen time.Time) (models.ErrorPattern, error) {
	pattern := models.NewErrorPattern(signature, event.ServiceName, event.ErrorType, event.Severity, seen)
	pattern.ClassName = event.ClassName
	pattern.MethodName = event.MethodName
	pattern.NormalizedStack = NormalizeStack(event.StackTrace)
	pattern.SampleMessage = event.ErrorMessage
	if tpl, ok := templateFor(event.ErrorType); ok {
		pattern.SuggestedFix = tpl.SuggestedFix
		pattern.FixTemplate = tpl.FixType
		pattern.HasAutomatedFix = tpl.HasAutomatedFix
	}

	if err := a.patterns.Insert(ctx, pattern); err != nil {
		// Lost the insert race against a sibling event; fold into the winner.
		existing, findErr := a.patterns.FindBySignature(ctx, signature)
		if findErr != nil {
			return models.ErrorPattern{}, fmt.Errorf("insert pattern: %w", err)
		}
		return a.recordOccurrence(ctx, existing, event, seen)
	}
	metrics.ObservePatternAction("created")
	a.logger.Info("new error pattern",
		"signature", signature, "service", event.ServiceName, "errorType", event.ErrorType)
	return pattern, nil
}

func (a *PatternAnalyzer) recordOccurrence(ctx context.Context, pattern models.ErrorPattern, event models.MonitoringEvent, seen time.Time) (models.ErrorPattern, error) {
	// Compute the post-update confidence locally so the store write carries
	// the already-clamped score.
	projected := pattern
	projected.RecordOccurrence(seen, event.Severity)
	projected.RecomputeConfidence(time.Now().UTC())

	updated, err := a.patterns.RecordOccurrence(ctx, pattern.Signature, seen, event.Severity, projected.ConfidenceScore)
	if err != nil {
		return models.ErrorPattern{}, fmt.Errorf("record occurrence: %w", err)
	}
	metrics.ObservePatternAction("updated")
	return updated, nil
}

// maybeProposeFix creates one pending fix per pattern once it clears the
// configured confidence floor and human validation. Failed and rolled-back
// fixes free the slot for another attempt.
func (a *PatternAnalyzer) maybeProposeFix(ctx context.Context, pattern models.ErrorPattern) error {
	if !pattern.Validated || pattern.ConfidenceScore < a.minConfidence || !pattern.HasAutomatedFix {
		return nil
	}

	existing, err := a.fixes.FindByPattern(ctx, pattern.ID)
	if err != nil {
		return fmt.Errorf("list fixes for pattern: %w", err)
	}
	for _, fix := range existing {
		if fix.Active() {
			return nil
		}
	}

	fix := models.NewAutomatedFix(pattern.ID, pattern.Signature, pattern.ServiceName, pattern.FixTemplate, pattern.SuggestedFix)
	if err := a.fixes.Insert(ctx, fix); err != nil {
		return fmt.Errorf("insert fix proposal: %w", err)
	}
	metrics.ObserveFixTransition(string(models.FixStatusPending))
	a.logger.Info("automated fix proposed",
		"fixId", fix.ID, "signature", pattern.Signature, "fixType", fix.FixType)
	return nil
}

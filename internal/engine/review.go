package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopsmart-platform/intelligent-monitoring/internal/audit"
	"github.com/shopsmart-platform/intelligent-monitoring/internal/metrics"
	"github.com/shopsmart-platform/intelligent-monitoring/internal/models"
	"github.com/shopsmart-platform/intelligent-monitoring/internal/store"
	"github.com/shopsmart-platform/intelligent-monitoring/internal/utils"
)

// ReviewWorkflow drives automated fixes through their lifecycle and applies
// human review decisions. Decisions are idempotent per review ID: a replay
// returns the recorded outcome without touching the fix again.
type ReviewWorkflow struct {
	fixes    store.FixStore
	patterns store.PatternStore
	audit    *audit.Recorder
	logger   *slog.Logger
}

// NewReviewWorkflow wires the workflow to its stores and audit trail.
func NewReviewWorkflow(fixes store.FixStore, patterns store.PatternStore, recorder *audit.Recorder, logger *slog.Logger) *ReviewWorkflow {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReviewWorkflow{fixes: fixes, patterns: patterns, audit: recorder, logger: logger}
}

// ApplyDecision applies one human verdict. Approve moves a tested fix to
// validated, reject fails it, request-modifications keeps it pending with the
// reviewer's ask recorded.
func (w *ReviewWorkflow) ApplyDecision(ctx context.Context, decision models.ReviewDecision) (models.ReviewOutcome, error) {
	if decision.ReviewID == "" || decision.FixID == "" {
		return models.ReviewOutcome{}, fmt.Errorf("reviewId and fixId are required: %w", utils.ErrInvalidArgument)
	}
	if decision.Reviewer == "" || strings.EqualFold(decision.Reviewer, "system") {
		return models.ReviewOutcome{}, fmt.Errorf("reviewer must be a named human: %w", utils.ErrInvalidArgument)
	}

	if prior, err := w.fixes.FindByReviewID(ctx, decision.ReviewID); err == nil {
		outcome := models.ReviewOutcome{
			ReviewID:  decision.ReviewID,
			FixID:     prior.ID,
			Status:    prior.Status,
			Replayed:  true,
			DecidedAt: prior.UpdatedAt,
		}
		metrics.ObserveReviewDecision(string(decision.Decision), true)
		return outcome, nil
	} else if !errors.Is(err, utils.ErrNotFound) {
		return models.ReviewOutcome{}, fmt.Errorf("lookup review: %w", err)
	}

	fix, err := w.fixes.Get(ctx, decision.FixID)
	if err != nil {
		return models.ReviewOutcome{}, fmt.Errorf("lookup fix: %w", err)
	}
	if fix.ReviewID != "" && fix.ReviewID != decision.ReviewID {
		return models.ReviewOutcome{}, fmt.Errorf("fix %s already decided under review %s", fix.ID, fix.ReviewID)
	}

	fromStatus := fix.Status
	switch decision.Decision {
	case models.DecisionApprove:
		err = fix.MarkValidated(decision.Reviewer)
	case models.DecisionReject:
		reason := "rejected by " + decision.Reviewer
		if decision.Comments != "" {
			reason += ": " + decision.Comments
		}
		err = fix.MarkFailed(reason)
	case models.DecisionRequestModifications:
		err = fix.RequestModifications(decision.ModificationRequest)
	default:
		return models.ReviewOutcome{}, fmt.Errorf("unknown decision %q: %w", decision.Decision, utils.ErrInvalidArgument)
	}
	if err != nil {
		return models.ReviewOutcome{}, err
	}
	fix.ReviewID = decision.ReviewID

	updated, err := w.fixes.Replace(ctx, fix, fromStatus)
	if err != nil {
		return models.ReviewOutcome{}, err
	}

	if updated.Status == models.FixStatusValidated && w.patterns != nil {
		// A validated fix implies the pattern itself is trusted.
		if _, err := w.patterns.SetValidated(ctx, updated.PatternSignature, decision.Reviewer); err != nil {
			w.logger.Error("pattern validation on approve failed",
				"signature", updated.PatternSignature, "error", err)
		}
	}

	outcome := models.ReviewOutcome{
		ReviewID:  decision.ReviewID,
		FixID:     updated.ID,
		Status:    updated.Status,
		DecidedAt: updated.UpdatedAt,
	}
	metrics.ObserveReviewDecision(string(decision.Decision), false)
	metrics.ObserveFixTransition(string(updated.Status))
	w.audit.ReviewDecision(ctx, decision, outcome)
	w.logger.Info("review decision applied",
		"reviewId", decision.ReviewID, "fixId", updated.ID, "status", updated.Status)
	return outcome, nil
}

// ApplyFix records that a pending fix landed on a branch.
func (w *ReviewWorkflow) ApplyFix(ctx context.Context, fixID, commitID, branch, actor string) (models.AutomatedFix, error) {
	return w.transition(ctx, fixID, actor, "applied "+commitID, func(fix *models.AutomatedFix) error {
		return fix.MarkApplied(commitID, branch)
	})
}

// RecordTestRun records the automated test outcome for an applied fix.
func (w *ReviewWorkflow) RecordTestRun(ctx context.Context, fixID string, passed bool, actor string) (models.AutomatedFix, error) {
	detail := "tests failed"
	if passed {
		detail = "tests passed"
	}
	return w.transition(ctx, fixID, actor, detail, func(fix *models.AutomatedFix) error {
		return fix.MarkTested(passed)
	})
}

// RollbackFix reverts a fix whose code landed and frees its pattern's
// remediation slot.
func (w *ReviewWorkflow) RollbackFix(ctx context.Context, fixID, reason, actor string) (models.AutomatedFix, error) {
	fix, err := w.transition(ctx, fixID, actor, reason, func(fix *models.AutomatedFix) error {
		return fix.Rollback(reason)
	})
	if err != nil {
		return models.AutomatedFix{}, err
	}
	if w.patterns != nil {
		if err := w.patterns.SetHasAutomatedFix(ctx, fix.PatternSignature, true); err != nil && !errors.Is(err, utils.ErrNotFound) {
			w.logger.Error("reset pattern fix flag failed", "signature", fix.PatternSignature, "error", err)
		}
	}
	return fix, nil
}

// FailFix moves a non-validated fix to failed with the given reason.
func (w *ReviewWorkflow) FailFix(ctx context.Context, fixID, reason, actor string) (models.AutomatedFix, error) {
	return w.transition(ctx, fixID, actor, reason, func(fix *models.AutomatedFix) error {
		return fix.MarkFailed(reason)
	})
}

// ValidatePattern records a human sign-off on a pattern, independent of any
// fix lifecycle.
func (w *ReviewWorkflow) ValidatePattern(ctx context.Context, signature, by string) (models.ErrorPattern, error) {
	if by == "" || strings.EqualFold(by, "system") {
		return models.ErrorPattern{}, fmt.Errorf("validator must be a named human: %w", utils.ErrInvalidArgument)
	}
	pattern, err := w.patterns.SetValidated(ctx, signature, by)
	if err != nil {
		return models.ErrorPattern{}, err
	}
	w.audit.PatternValidated(ctx, pattern, by)
	return pattern, nil
}

func (w *ReviewWorkflow) transition(ctx context.Context, fixID, actor, detail string, mutate func(*models.AutomatedFix) error) (models.AutomatedFix, error) {
	fix, err := w.fixes.Get(ctx, fixID)
	if err != nil {
		return models.AutomatedFix{}, fmt.Errorf("lookup fix: %w", err)
	}
	fromStatus := fix.Status
	if err := mutate(&fix); err != nil {
		return models.AutomatedFix{}, err
	}
	fix.UpdatedAt = time.Now().UTC()

	updated, err := w.fixes.Replace(ctx, fix, fromStatus)
	if err != nil {
		return models.AutomatedFix{}, err
	}
	metrics.ObserveFixTransition(string(updated.Status))
	w.audit.FixTransition(ctx, updated, actor, detail)
	return updated, nil
}

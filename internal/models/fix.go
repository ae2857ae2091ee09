package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/shopsmart-platform/intelligent-monitoring/internal/utils"
)

// FixStatus enumerates the automated fix lifecycle states.
type FixStatus string

const (
	FixStatusPending    FixStatus = "pending"
	FixStatusApplied    FixStatus = "applied"
	FixStatusTested     FixStatus = "tested"
	FixStatusValidated  FixStatus = "validated"
	FixStatusFailed     FixStatus = "failed"
	FixStatusRolledBack FixStatus = "rolled_back"
)

// AutomatedFix tracks one remediation attempt for an error pattern through
// the pending -> applied -> tested -> validated lifecycle. Failed is reachable
// from every state except validated; rollback only from a state where code
// actually landed.
type AutomatedFix struct {
	ID               string `bson:"_id" json:"id"`
	PatternID        string `bson:"patternId" json:"patternId"`
	PatternSignature string `bson:"patternSignature" json:"patternSignature"`
	ServiceName      string `bson:"serviceName" json:"serviceName"`
	FixType          string `bson:"fixType,omitempty" json:"fixType,omitempty"`
	Description      string `bson:"description,omitempty" json:"description,omitempty"`
	FixContent       string `bson:"fixContent,omitempty" json:"fixContent,omitempty"`

	Status    FixStatus `bson:"status" json:"status"`
	CreatedAt time.Time `bson:"createdAt" json:"createdAt"`
	UpdatedAt time.Time `bson:"updatedAt" json:"updatedAt"`

	AppliedAt *time.Time `bson:"appliedAt,omitempty" json:"appliedAt,omitempty"`
	CommitID  string     `bson:"commitId,omitempty" json:"commitId,omitempty"`
	Branch    string     `bson:"branch,omitempty" json:"branch,omitempty"`

	TestsPassed bool       `bson:"testsPassed" json:"testsPassed"`
	TestedAt    *time.Time `bson:"testedAt,omitempty" json:"testedAt,omitempty"`

	ValidatedBy string     `bson:"validatedBy,omitempty" json:"validatedBy,omitempty"`
	ValidatedAt *time.Time `bson:"validatedAt,omitempty" json:"validatedAt,omitempty"`

	FailureReason  string     `bson:"failureReason,omitempty" json:"failureReason,omitempty"`
	RollbackReason string     `bson:"rollbackReason,omitempty" json:"rollbackReason,omitempty"`
	RolledBackAt   *time.Time `bson:"rolledBackAt,omitempty" json:"rolledBackAt,omitempty"`

	RequiresManualReview bool   `bson:"requiresManualReview" json:"requiresManualReview"`
	ReviewID             string `bson:"reviewId,omitempty" json:"reviewId,omitempty"`
	ModificationRequest  string `bson:"modificationRequest,omitempty" json:"modificationRequest,omitempty"`
}

// NewAutomatedFix constructs a pending fix proposal for a pattern.
func NewAutomatedFix(patternID, signature, service, fixType, description string) AutomatedFix {
	now := time.Now().UTC()
	return AutomatedFix{
		ID:               uuid.NewString(),
		PatternID:        patternID,
		PatternSignature: signature,
		ServiceName:      service,
		FixType:          fixType,
		Description:      description,
		Status:           FixStatusPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func (f *AutomatedFix) transitionError(target FixStatus) error {
	return fmt.Errorf("fix %s: %s -> %s: %w", f.ID, f.Status, target, utils.ErrInvalidTransition)
}

// MarkApplied records the commit that landed the fix. Only a pending fix can
// be applied.
func (f *AutomatedFix) MarkApplied(commitID, branch string) error {
	if f.Status != FixStatusPending {
		return f.transitionError(FixStatusApplied)
	}
	now := time.Now().UTC()
	f.Status = FixStatusApplied
	f.CommitID = commitID
	f.Branch = branch
	f.AppliedAt = &now
	f.UpdatedAt = now
	return nil
}

// MarkTested records the automated test outcome for an applied fix. A failing
// run moves the fix straight to failed.
func (f *AutomatedFix) MarkTested(passed bool) error {
	if f.Status != FixStatusApplied {
		return f.transitionError(FixStatusTested)
	}
	now := time.Now().UTC()
	f.TestsPassed = passed
	f.TestedAt = &now
	f.UpdatedAt = now
	if passed {
		f.Status = FixStatusTested
	} else {
		f.Status = FixStatusFailed
		f.FailureReason = "automated tests failed"
	}
	return nil
}

// MarkValidated is the terminal success transition. It requires a tested fix
// whose tests passed and a named human reviewer; the "system" identity can
// never validate its own fix.
func (f *AutomatedFix) MarkValidated(by string) error {
	if f.Status != FixStatusTested {
		return f.transitionError(FixStatusValidated)
	}
	if !f.TestsPassed {
		return fmt.Errorf("fix %s: validation requires passing tests: %w", f.ID, utils.ErrInvalidTransition)
	}
	if by == "" || strings.EqualFold(by, "system") {
		return fmt.Errorf("fix %s: validation requires a human reviewer: %w", f.ID, utils.ErrInvalidTransition)
	}
	now := time.Now().UTC()
	f.Status = FixStatusValidated
	f.ValidatedBy = by
	f.ValidatedAt = &now
	f.UpdatedAt = now
	return nil
}

// MarkFailed moves any non-validated fix to failed. A validated fix is
// immutable except for rollback.
func (f *AutomatedFix) MarkFailed(reason string) error {
	if f.Status == FixStatusValidated || f.Status == FixStatusRolledBack {
		return f.transitionError(FixStatusFailed)
	}
	now := time.Now().UTC()
	f.Status = FixStatusFailed
	f.FailureReason = reason
	f.UpdatedAt = now
	return nil
}

// Rollback reverts a fix whose code reached a branch. Pending and failed
// fixes have nothing to revert, so the transition is rejected.
func (f *AutomatedFix) Rollback(reason string) error {
	switch f.Status {
	case FixStatusApplied, FixStatusTested, FixStatusValidated:
	default:
		return f.transitionError(FixStatusRolledBack)
	}
	now := time.Now().UTC()
	f.Status = FixStatusRolledBack
	f.RollbackReason = reason
	f.RolledBackAt = &now
	f.UpdatedAt = now
	return nil
}

// RequestModifications keeps the fix pending but records the reviewer's ask.
func (f *AutomatedFix) RequestModifications(request string) error {
	if f.Status != FixStatusPending {
		return f.transitionError(FixStatusPending)
	}
	f.ModificationRequest = request
	f.RequiresManualReview = true
	f.UpdatedAt = time.Now().UTC()
	return nil
}

// IsSuccessful reports whether the fix reached validated with passing tests.
func (f AutomatedFix) IsSuccessful() bool {
	return f.Status == FixStatusValidated && f.TestsPassed
}

// NeedsAttention flags fixes a human must look at.
func (f AutomatedFix) NeedsAttention() bool {
	return f.Status == FixStatusFailed || f.RequiresManualReview
}

// Active reports whether the fix still occupies its pattern's remediation
// slot. Rolled-back and failed fixes free the slot for a new attempt.
func (f AutomatedFix) Active() bool {
	switch f.Status {
	case FixStatusFailed, FixStatusRolledBack:
		return false
	}
	return true
}

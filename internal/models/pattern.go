package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/shopsmart-platform/intelligent-monitoring/internal/utils"
)

// Auto-fix gating thresholds. A pattern qualifies for automated remediation
// only when both the confidence floor and human validation are satisfied.
const (
	HighConfidenceThreshold = 0.8
	InitialConfidence       = 0.5
	ValidatedConfidence     = 0.9
)

// ErrorPattern is a deduplicated error family keyed by a stable signature.
// One document exists per signature; occurrences accumulate onto it.
type ErrorPattern struct {
	ID              string `bson:"_id" json:"id"`
	Signature       string `bson:"signature" json:"signature"`
	ServiceName     string `bson:"serviceName" json:"serviceName"`
	ErrorType       string `bson:"errorType" json:"errorType"`
	ClassName       string `bson:"className,omitempty" json:"className,omitempty"`
	MethodName      string `bson:"methodName,omitempty" json:"methodName,omitempty"`
	NormalizedStack string `bson:"normalizedStack,omitempty" json:"normalizedStack,omitempty"`
	SampleMessage   string `bson:"sampleMessage,omitempty" json:"sampleMessage,omitempty"`

	Severity        Severity  `bson:"severity" json:"severity"`
	OccurrenceCount int64     `bson:"occurrenceCount" json:"occurrenceCount"`
	FirstSeen       time.Time `bson:"firstSeen" json:"firstSeen"`
	LastSeen        time.Time `bson:"lastSeen" json:"lastSeen"`
	ConfidenceScore float64   `bson:"confidenceScore" json:"confidenceScore"`

	SuggestedFix    string `bson:"suggestedFix,omitempty" json:"suggestedFix,omitempty"`
	FixTemplate     string `bson:"fixTemplate,omitempty" json:"fixTemplate,omitempty"`
	HasAutomatedFix bool   `bson:"hasAutomatedFix" json:"hasAutomatedFix"`

	Validated   bool       `bson:"validated" json:"validated"`
	ValidatedBy string     `bson:"validatedBy,omitempty" json:"validatedBy,omitempty"`
	ValidatedAt *time.Time `bson:"validatedAt,omitempty" json:"validatedAt,omitempty"`
}

// NewErrorPattern constructs a pattern for a first occurrence.
func NewErrorPattern(signature, service, errorType string, severity Severity, seen time.Time) ErrorPattern {
	return ErrorPattern{
		ID:              uuid.NewString(),
		Signature:       signature,
		ServiceName:     service,
		ErrorType:       errorType,
		Severity:        severity,
		OccurrenceCount: 1,
		FirstSeen:       seen,
		LastSeen:        seen,
		ConfidenceScore: InitialConfidence,
	}
}

// RecordOccurrence folds a repeat occurrence into the pattern. The count only
// grows, LastSeen only advances, and severity only upgrades.
func (p *ErrorPattern) RecordOccurrence(seen time.Time, severity Severity) {
	p.OccurrenceCount++
	if seen.After(p.LastSeen) {
		p.LastSeen = seen
	}
	if severity.Outranks(p.Severity) {
		p.Severity = severity
	}
}

// RecomputeConfidence derives a score from recurrence volume and pattern age:
// up to 0.7 from occurrences (saturating at 10) and up to 0.3 from hours
// observed (saturating at 24). The score never decreases: new evidence can
// only confirm a pattern, and human validation keeps its floor.
func (p *ErrorPattern) RecomputeConfidence(now time.Time) {
	countPart := float64(p.OccurrenceCount) / 10.0
	if countPart > 0.7 {
		countPart = 0.7
	}
	agePart := utils.HoursSince(p.FirstSeen, now) / 24.0
	if agePart > 0.3 {
		agePart = 0.3
	}
	score := countPart + agePart
	if score < p.ConfidenceScore {
		score = p.ConfidenceScore
	}
	if p.Validated && score < ValidatedConfidence {
		score = ValidatedConfidence
	}
	p.SetConfidence(score)
}

// SetConfidence clamps the score into [0, 1] before assignment.
func (p *ErrorPattern) SetConfidence(score float64) {
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	p.ConfidenceScore = score
}

// MarkValidated records a human sign-off and raises the confidence floor.
func (p *ErrorPattern) MarkValidated(by string, at time.Time) {
	p.Validated = true
	p.ValidatedBy = by
	p.ValidatedAt = &at
	if p.ConfidenceScore < ValidatedConfidence {
		p.SetConfidence(ValidatedConfidence)
	}
}

// IsHighConfidence reports whether the score crosses the automation floor.
func (p ErrorPattern) IsHighConfidence() bool {
	return p.ConfidenceScore >= HighConfidenceThreshold
}

// IsCritical reports whether the pattern sits in the top two severity bands.
func (p ErrorPattern) IsCritical() bool {
	return p.Severity == SeverityCritical || p.Severity == SeverityHigh
}

// EligibleForAutoFix is the hard gate for automated remediation: high
// confidence alone is never sufficient without human validation.
func (p ErrorPattern) EligibleForAutoFix() bool {
	return p.IsHighConfidence() && p.Validated
}

// NeedsAttention flags critical patterns with no automated fix available.
func (p ErrorPattern) NeedsAttention() bool {
	return p.IsCritical() && !p.HasAutomatedFix
}

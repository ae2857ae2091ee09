package models

import (
	"time"

	"github.com/google/uuid"
)

// AuditEvent is an append-only record of operator and workflow actions.
// Audit rows are never updated or deleted inside the retention window.
type AuditEvent struct {
	ID        string         `bson:"_id" json:"id"`
	EventType string         `bson:"eventType" json:"eventType"`
	UserID    string         `bson:"userId,omitempty" json:"userId,omitempty"`
	SessionID string         `bson:"sessionId,omitempty" json:"sessionId,omitempty"`
	Timestamp time.Time      `bson:"timestamp" json:"timestamp"`
	Source    string         `bson:"source,omitempty" json:"source,omitempty"`
	Severity  Severity       `bson:"severity" json:"severity"`
	Category  string         `bson:"category,omitempty" json:"category,omitempty"`
	EventData map[string]any `bson:"eventData,omitempty" json:"eventData,omitempty"`
}

// NewAuditEvent constructs an audit record stamped at creation.
func NewAuditEvent(eventType, category, userID string) AuditEvent {
	return AuditEvent{
		ID:        uuid.NewString(),
		EventType: eventType,
		Category:  category,
		UserID:    userID,
		Timestamp: time.Now().UTC(),
		Severity:  SeverityInfo,
	}
}

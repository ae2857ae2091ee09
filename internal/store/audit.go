package store

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/shopsmart-platform/intelligent-monitoring/internal/models"
)

type mongoAudit struct {
	m *Mongo
}

// Append writes one audit row. The collection has no update path.
func (s *mongoAudit) Append(ctx context.Context, event models.AuditEvent) error {
	ctx, cancel := s.m.opCtx(ctx)
	defer cancel()
	if _, err := s.m.collection(collectionAudit).InsertOne(ctx, event); err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}

func (s *mongoAudit) FindRecent(ctx context.Context, category string, limit int) ([]models.AuditEvent, error) {
	ctx, cancel := s.m.opCtx(ctx)
	defer cancel()

	filter := bson.M{}
	if category != "" {
		filter["category"] = category
	}
	if limit <= 0 {
		limit = 100
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "timestamp", Value: -1}}).
		SetLimit(int64(limit))
	cursor, err := s.m.collection(collectionAudit).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find audit events: %w", err)
	}
	defer cursor.Close(ctx)

	var events []models.AuditEvent
	if err := cursor.All(ctx, &events); err != nil {
		return nil, fmt.Errorf("decode audit events: %w", err)
	}
	return events, nil
}

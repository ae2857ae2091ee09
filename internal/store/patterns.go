package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/shopsmart-platform/intelligent-monitoring/internal/models"
	"github.com/shopsmart-platform/intelligent-monitoring/internal/utils"
)

type mongoPatterns struct {
	m *Mongo
}

func (s *mongoPatterns) FindBySignature(ctx context.Context, signature string) (models.ErrorPattern, error) {
	ctx, cancel := s.m.opCtx(ctx)
	defer cancel()

	var pattern models.ErrorPattern
	err := s.m.collection(collectionPatterns).FindOne(ctx, bson.M{"signature": signature}).Decode(&pattern)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.ErrorPattern{}, fmt.Errorf("pattern %s: %w", signature, utils.ErrNotFound)
	}
	if err != nil {
		return models.ErrorPattern{}, fmt.Errorf("find pattern: %w", err)
	}
	return pattern, nil
}

func (s *mongoPatterns) Insert(ctx context.Context, pattern models.ErrorPattern) error {
	ctx, cancel := s.m.opCtx(ctx)
	defer cancel()
	if _, err := s.m.collection(collectionPatterns).InsertOne(ctx, pattern); err != nil {
		return fmt.Errorf("insert pattern: %w", err)
	}
	return nil
}

// RecordOccurrence folds a repeat occurrence into the stored pattern in one
// atomic update: the count only increments, lastSeen only advances via $max,
// and severity is upgraded separately by the caller-supplied value when it
// outranks the stored one.
func (s *mongoPatterns) RecordOccurrence(ctx context.Context, signature string, seen time.Time, severity models.Severity, confidence float64) (models.ErrorPattern, error) {
	ctx, cancel := s.m.opCtx(ctx)
	defer cancel()

	update := bson.M{
		"$inc": bson.M{"occurrenceCount": 1},
		"$max": bson.M{"lastSeen": seen},
		"$set": bson.M{"confidenceScore": confidence},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var pattern models.ErrorPattern
	err := s.m.collection(collectionPatterns).
		FindOneAndUpdate(ctx, bson.M{"signature": signature}, update, opts).
		Decode(&pattern)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.ErrorPattern{}, fmt.Errorf("pattern %s: %w", signature, utils.ErrNotFound)
	}
	if err != nil {
		return models.ErrorPattern{}, fmt.Errorf("record occurrence: %w", err)
	}

	if severity.Outranks(pattern.Severity) {
		res := s.m.collection(collectionPatterns).FindOneAndUpdate(ctx,
			bson.M{"signature": signature, "severity": pattern.Severity},
			bson.M{"$set": bson.M{"severity": severity}},
			opts,
		)
		if err := res.Decode(&pattern); err != nil && !errors.Is(err, mongo.ErrNoDocuments) {
			return models.ErrorPattern{}, fmt.Errorf("upgrade severity: %w", err)
		}
	}
	return pattern, nil
}

func (s *mongoPatterns) SetValidated(ctx context.Context, signature, by string) (models.ErrorPattern, error) {
	ctx, cancel := s.m.opCtx(ctx)
	defer cancel()

	now := time.Now().UTC()
	update := bson.M{
		"$set": bson.M{
			"validated":   true,
			"validatedBy": by,
			"validatedAt": now,
		},
		"$max": bson.M{"confidenceScore": models.ValidatedConfidence},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var pattern models.ErrorPattern
	err := s.m.collection(collectionPatterns).
		FindOneAndUpdate(ctx, bson.M{"signature": signature}, update, opts).
		Decode(&pattern)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.ErrorPattern{}, fmt.Errorf("pattern %s: %w", signature, utils.ErrNotFound)
	}
	if err != nil {
		return models.ErrorPattern{}, fmt.Errorf("validate pattern: %w", err)
	}
	return pattern, nil
}

// FindNeedingAttention lists critical and high patterns that have no
// automated fix yet, most recent first.
func (s *mongoPatterns) FindNeedingAttention(ctx context.Context, limit int) ([]models.ErrorPattern, error) {
	filter := bson.M{
		"severity":        bson.M{"$in": bson.A{models.SeverityCritical, models.SeverityHigh}},
		"hasAutomatedFix": false,
	}
	return s.find(ctx, filter, bson.D{{Key: "lastSeen", Value: -1}}, limit)
}

// FindFixable lists validated patterns with a fix and confidence at or above
// the floor.
func (s *mongoPatterns) FindFixable(ctx context.Context, minConfidence float64, limit int) ([]models.ErrorPattern, error) {
	filter := bson.M{
		"hasAutomatedFix": true,
		"validated":       true,
		"confidenceScore": bson.M{"$gte": minConfidence},
	}
	return s.find(ctx, filter, bson.D{{Key: "confidenceScore", Value: -1}}, limit)
}

func (s *mongoPatterns) SetHasAutomatedFix(ctx context.Context, signature string, has bool) error {
	ctx, cancel := s.m.opCtx(ctx)
	defer cancel()
	res, err := s.m.collection(collectionPatterns).UpdateOne(ctx,
		bson.M{"signature": signature},
		bson.M{"$set": bson.M{"hasAutomatedFix": has}},
	)
	if err != nil {
		return fmt.Errorf("set hasAutomatedFix: %w", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("pattern %s: %w", signature, utils.ErrNotFound)
	}
	return nil
}

func (s *mongoPatterns) TopBySeverity(ctx context.Context, limit int) ([]models.PatternStatSummary, error) {
	patterns, err := s.find(ctx, bson.M{}, bson.D{
		{Key: "occurrenceCount", Value: -1},
	}, limit)
	if err != nil {
		return nil, err
	}
	out := make([]models.PatternStatSummary, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, models.PatternStatSummary{
			Signature:       p.Signature,
			ServiceName:     p.ServiceName,
			ErrorType:       p.ErrorType,
			Severity:        p.Severity,
			OccurrenceCount: p.OccurrenceCount,
			ConfidenceScore: p.ConfidenceScore,
		})
	}
	return out, nil
}

func (s *mongoPatterns) Count(ctx context.Context) (int64, error) {
	ctx, cancel := s.m.opCtx(ctx)
	defer cancel()
	n, err := s.m.collection(collectionPatterns).CountDocuments(ctx, bson.M{})
	if err != nil {
		return 0, fmt.Errorf("count patterns: %w", err)
	}
	return n, nil
}

func (s *mongoPatterns) find(ctx context.Context, filter bson.M, sort bson.D, limit int) ([]models.ErrorPattern, error) {
	ctx, cancel := s.m.opCtx(ctx)
	defer cancel()

	if limit <= 0 {
		limit = defaultQueryLimit
	}
	opts := options.Find().SetSort(sort).SetLimit(int64(limit))
	cursor, err := s.m.collection(collectionPatterns).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find patterns: %w", err)
	}
	defer cursor.Close(ctx)

	var patterns []models.ErrorPattern
	if err := cursor.All(ctx, &patterns); err != nil {
		return nil, fmt.Errorf("decode patterns: %w", err)
	}
	return patterns, nil
}

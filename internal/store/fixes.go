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

type mongoFixes struct {
	m *Mongo
}

func (s *mongoFixes) Insert(ctx context.Context, fix models.AutomatedFix) error {
	ctx, cancel := s.m.opCtx(ctx)
	defer cancel()
	if _, err := s.m.collection(collectionFixes).InsertOne(ctx, fix); err != nil {
		return fmt.Errorf("insert fix: %w", err)
	}
	return nil
}

func (s *mongoFixes) Get(ctx context.Context, id string) (models.AutomatedFix, error) {
	return s.findOne(ctx, bson.M{"_id": id})
}

// Replace swaps the whole document, guarded on the status the transition was
// computed from. A concurrent transition changes the status and makes the
// filter miss, surfacing as ErrInvalidTransition instead of a lost update.
func (s *mongoFixes) Replace(ctx context.Context, fix models.AutomatedFix, fromStatus models.FixStatus) (models.AutomatedFix, error) {
	ctx, cancel := s.m.opCtx(ctx)
	defer cancel()

	filter := bson.M{"_id": fix.ID, "status": fromStatus}
	opts := options.FindOneAndReplace().SetReturnDocument(options.After)

	var updated models.AutomatedFix
	err := s.m.collection(collectionFixes).FindOneAndReplace(ctx, filter, fix, opts).Decode(&updated)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.AutomatedFix{}, fmt.Errorf("fix %s no longer in %s: %w", fix.ID, fromStatus, utils.ErrInvalidTransition)
	}
	if err != nil {
		return models.AutomatedFix{}, fmt.Errorf("replace fix: %w", err)
	}
	return updated, nil
}

func (s *mongoFixes) FindByReviewID(ctx context.Context, reviewID string) (models.AutomatedFix, error) {
	return s.findOne(ctx, bson.M{"reviewId": reviewID})
}

func (s *mongoFixes) FindByPattern(ctx context.Context, patternID string) ([]models.AutomatedFix, error) {
	return s.find(ctx, bson.M{"patternId": patternID}, defaultQueryLimit)
}

// FindNeedingAttention lists failed fixes and those flagged for manual review.
func (s *mongoFixes) FindNeedingAttention(ctx context.Context, limit int) ([]models.AutomatedFix, error) {
	filter := bson.M{"$or": bson.A{
		bson.M{"status": models.FixStatusFailed},
		bson.M{"requiresManualReview": true},
	}}
	return s.find(ctx, filter, limit)
}

// FindAwaitingValidation lists tested fixes whose tests passed but that no
// human has signed off yet.
func (s *mongoFixes) FindAwaitingValidation(ctx context.Context, limit int) ([]models.AutomatedFix, error) {
	filter := bson.M{
		"status":      models.FixStatusTested,
		"testsPassed": true,
	}
	return s.find(ctx, filter, limit)
}

func (s *mongoFixes) CountByStatus(ctx context.Context) (map[models.FixStatus]int64, error) {
	ctx, cancel := s.m.opCtx(ctx)
	defer cancel()

	pipeline := mongo.Pipeline{
		{{Key: "$group", Value: bson.M{"_id": "$status", "count": bson.M{"$sum": 1}}}},
	}
	cursor, err := s.m.collection(collectionFixes).Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("count fixes by status: %w", err)
	}
	defer cursor.Close(ctx)

	counts := make(map[models.FixStatus]int64)
	for cursor.Next(ctx) {
		var row struct {
			Status models.FixStatus `bson:"_id"`
			Count  int64            `bson:"count"`
		}
		if err := cursor.Decode(&row); err != nil {
			return nil, fmt.Errorf("decode fix count: %w", err)
		}
		counts[row.Status] = row.Count
	}
	return counts, cursor.Err()
}

func (s *mongoFixes) PurgeExpired(ctx context.Context, olderThan time.Time) (int64, error) {
	ctx, cancel := s.m.opCtx(ctx)
	defer cancel()
	res, err := s.m.collection(collectionFixes).DeleteMany(ctx, bson.M{
		"createdAt": bson.M{"$lt": olderThan},
	})
	if err != nil {
		return 0, fmt.Errorf("purge fixes: %w", err)
	}
	return res.DeletedCount, nil
}

func (s *mongoFixes) findOne(ctx context.Context, filter bson.M) (models.AutomatedFix, error) {
	ctx, cancel := s.m.opCtx(ctx)
	defer cancel()

	var fix models.AutomatedFix
	err := s.m.collection(collectionFixes).FindOne(ctx, filter).Decode(&fix)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.AutomatedFix{}, utils.ErrNotFound
	}
	if err != nil {
		return models.AutomatedFix{}, fmt.Errorf("find fix: %w", err)
	}
	return fix, nil
}

func (s *mongoFixes) find(ctx context.Context, filter bson.M, limit int) ([]models.AutomatedFix, error) {
	ctx, cancel := s.m.opCtx(ctx)
	defer cancel()

	if limit <= 0 {
		limit = defaultQueryLimit
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "updatedAt", Value: -1}}).
		SetLimit(int64(limit))
	cursor, err := s.m.collection(collectionFixes).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find fixes: %w", err)
	}
	defer cursor.Close(ctx)

	var fixes []models.AutomatedFix
	if err := cursor.All(ctx, &fixes); err != nil {
		return nil, fmt.Errorf("decode fixes: %w", err)
	}
	return fixes, nil
}

package store

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/shopsmart-platform/intelligent-monitoring/internal/models"
	"github.com/shopsmart-platform/intelligent-monitoring/internal/utils"
)

const defaultQueryLimit = 500

type mongoEvents struct {
	m *Mongo
}

func (s *mongoEvents) Insert(ctx context.Context, event models.MonitoringEvent) error {
	ctx, cancel := s.m.opCtx(ctx)
	defer cancel()
	if _, err := s.m.collection(collectionEvents).InsertOne(ctx, event); err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// InsertBatch writes events unordered so one malformed document does not sink
// its siblings. Returns how many landed.
func (s *mongoEvents) InsertBatch(ctx context.Context, events []models.MonitoringEvent) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}
	ctx, cancel := s.m.opCtx(ctx)
	defer cancel()

	docs := make([]any, 0, len(events))
	for _, e := range events {
		docs = append(docs, e)
	}
	res, err := s.m.collection(collectionEvents).InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
	inserted := 0
	if res != nil {
		inserted = len(res.InsertedIDs)
	}
	if err != nil {
		return inserted, fmt.Errorf("insert event batch: %w", err)
	}
	return inserted, nil
}

func (s *mongoEvents) FindByCorrelationID(ctx context.Context, correlationID string) ([]models.MonitoringEvent, error) {
	return s.find(ctx, bson.M{"correlationId": correlationID}, defaultQueryLimit)
}

func (s *mongoEvents) FindByTraceID(ctx context.Context, traceID string) ([]models.MonitoringEvent, error) {
	return s.find(ctx, bson.M{"traceId": traceID}, defaultQueryLimit)
}

func (s *mongoEvents) FindByService(ctx context.Context, query models.EventQuery) ([]models.MonitoringEvent, error) {
	filter := bson.M{"serviceName": query.ServiceName}
	window := bson.M{}
	if !query.Start.IsZero() {
		window["$gte"] = query.Start
	}
	if !query.End.IsZero() {
		window["$lte"] = query.End
	}
	if len(window) > 0 {
		filter["timestamp"] = window
	}
	if query.Severity != "" {
		filter["severity"] = query.Severity
	}
	limit := query.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}
	return s.find(ctx, filter, limit)
}

func (s *mongoEvents) FindRecentErrors(ctx context.Context, service string, since time.Time) ([]models.MonitoringEvent, error) {
	filter := bson.M{
		"eventType": models.EventTypeError,
		"timestamp": bson.M{"$gte": since},
	}
	if service != "" {
		filter["serviceName"] = service
	}
	return s.find(ctx, filter, defaultQueryLimit)
}

func (s *mongoEvents) MarkAutoFixed(ctx context.Context, eventID, commitID string) error {
	ctx, cancel := s.m.opCtx(ctx)
	defer cancel()

	now := time.Now().UTC()
	res, err := s.m.collection(collectionEvents).UpdateByID(ctx, eventID, bson.M{
		"$set": bson.M{
			"autoFixed":   true,
			"fixCommitId": commitID,
			"resolved":    true,
			"resolvedAt":  now,
		},
	})
	if err != nil {
		return fmt.Errorf("mark event auto-fixed: %w", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("event %s: %w", eventID, utils.ErrNotFound)
	}
	return nil
}

// Stats aggregates counts by severity, type, and service over the window.
func (s *mongoEvents) Stats(ctx context.Context, window time.Duration) (models.EventStats, error) {
	ctx, cancel := s.m.opCtx(ctx)
	defer cancel()

	end := time.Now().UTC()
	start := end.Add(-window)
	stats := models.EventStats{
		WindowStart: start,
		WindowEnd:   end,
		BySeverity:  map[models.Severity]int64{},
		ByType:      map[models.EventType]int64{},
		ByService:   map[string]int64{},
	}

	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"timestamp": bson.M{"$gte": start}}}},
		{{Key: "$group", Value: bson.M{
			"_id": bson.M{
				"severity":    "$severity",
				"eventType":   "$eventType",
				"serviceName": "$serviceName",
			},
			"count": bson.M{"$sum": 1},
		}}},
	}
	cursor, err := s.m.collection(collectionEvents).Aggregate(ctx, pipeline)
	if err != nil {
		return stats, fmt.Errorf("aggregate stats: %w", err)
	}
	defer cursor.Close(ctx)

	for cursor.Next(ctx) {
		var row struct {
			ID struct {
				Severity    models.Severity  `bson:"severity"`
				EventType   models.EventType `bson:"eventType"`
				ServiceName string           `bson:"serviceName"`
			} `bson:"_id"`
			Count int64 `bson:"count"`
		}
		if err := cursor.Decode(&row); err != nil {
			return stats, fmt.Errorf("decode stats row: %w", err)
		}
		stats.Total += row.Count
		stats.BySeverity[row.ID.Severity] += row.Count
		stats.ByType[row.ID.EventType] += row.Count
		stats.ByService[row.ID.ServiceName] += row.Count
	}
	return stats, cursor.Err()
}

// HealthSummary groups recent error posture per service. A service is
// "degraded" with any critical errors, "warning" with any errors at all.
func (s *mongoEvents) HealthSummary(ctx context.Context, window time.Duration) ([]models.ServiceHealth, error) {
	ctx, cancel := s.m.opCtx(ctx)
	defer cancel()

	since := time.Now().UTC().Add(-window)
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"timestamp": bson.M{"$gte": since}}}},
		{{Key: "$group", Value: bson.M{
			"_id": "$serviceName",
			"errorCount": bson.M{"$sum": bson.M{"$cond": bson.A{
				bson.M{"$eq": bson.A{"$eventType", models.EventTypeError}}, 1, 0,
			}}},
			"criticalCount": bson.M{"$sum": bson.M{"$cond": bson.A{
				bson.M{"$eq": bson.A{"$severity", models.SeverityCritical}}, 1, 0,
			}}},
			"avgResponseTime": bson.M{"$avg": "$responseTimeMs"},
		}}},
		{{Key: "$sort", Value: bson.M{"criticalCount": -1, "errorCount": -1}}},
	}
	cursor, err := s.m.collection(collectionEvents).Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("aggregate health summary: %w", err)
	}
	defer cursor.Close(ctx)

	var out []models.ServiceHealth
	for cursor.Next(ctx) {
		var row struct {
			Service         string  `bson:"_id"`
			ErrorCount      int64   `bson:"errorCount"`
			CriticalCount   int64   `bson:"criticalCount"`
			AvgResponseTime float64 `bson:"avgResponseTime"`
		}
		if err := cursor.Decode(&row); err != nil {
			return nil, fmt.Errorf("decode health row: %w", err)
		}
		status := "healthy"
		switch {
		case row.CriticalCount > 0:
			status = "degraded"
		case row.ErrorCount > 0:
			status = "warning"
		}
		out = append(out, models.ServiceHealth{
			ServiceName:       row.Service,
			ErrorCount:        row.ErrorCount,
			CriticalCount:     row.CriticalCount,
			AvgResponseTimeMs: row.AvgResponseTime,
			Status:            status,
		})
	}
	return out, cursor.Err()
}

// PurgeExpired is the explicit reaper behind the TTL index, keeping the
// retention bound deterministic.
func (s *mongoEvents) PurgeExpired(ctx context.Context, olderThan time.Time) (int64, error) {
	ctx, cancel := s.m.opCtx(ctx)
	defer cancel()
	res, err := s.m.collection(collectionEvents).DeleteMany(ctx, bson.M{
		"timestamp": bson.M{"$lt": olderThan},
	})
	if err != nil {
		return 0, fmt.Errorf("purge events: %w", err)
	}
	return res.DeletedCount, nil
}

func (s *mongoEvents) find(ctx context.Context, filter bson.M, limit int) ([]models.MonitoringEvent, error) {
	ctx, cancel := s.m.opCtx(ctx)
	defer cancel()

	opts := options.Find().
		SetSort(bson.D{{Key: "timestamp", Value: -1}}).
		SetLimit(int64(limit))
	cursor, err := s.m.collection(collectionEvents).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find events: %w", err)
	}
	defer cursor.Close(ctx)

	var events []models.MonitoringEvent
	if err := cursor.All(ctx, &events); err != nil {
		return nil, fmt.Errorf("decode events: %w", err)
	}
	return events, nil
}

package store

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/shopsmart-platform/intelligent-monitoring/internal/config"
)

const (
	collectionEvents   = "monitoring_events"
	collectionPatterns = "error_patterns"
	collectionFixes    = "automated_fixes"
	collectionAudit    = "audit_events"
)

// Mongo bundles the collection-backed store implementations sharing one
// client and query timeout.
type Mongo struct {
	client       *mongo.Client
	db           *mongo.Database
	queryTimeout time.Duration

	Events   EventStore
	Patterns PatternStore
	Fixes    FixStore
	Audit    AuditStore
}

// NewMongo connects, pings, and ensures the collection indexes, including the
// TTL indexes that enforce document retention.
func NewMongo(ctx context.Context, cfg config.MongoConfig, retention config.RetentionConfig) (*Mongo, error) {
	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	m := &Mongo{
		client:       client,
		db:           client.Database(cfg.Database),
		queryTimeout: cfg.QueryTimeout,
	}
	if m.queryTimeout <= 0 {
		m.queryTimeout = 5 * time.Second
	}

	if err := m.ensureIndexes(ctx, retention); err != nil {
		return nil, fmt.Errorf("ensure indexes: %w", err)
	}

	m.Events = &mongoEvents{m: m}
	m.Patterns = &mongoPatterns{m: m}
	m.Fixes = &mongoFixes{m: m}
	m.Audit = &mongoAudit{m: m}
	return m, nil
}

// Close disconnects the underlying client.
func (m *Mongo) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

// Ping verifies connectivity for the health endpoint.
func (m *Mongo) Ping(ctx context.Context) error {
	ctx, cancel := m.opCtx(ctx)
	defer cancel()
	return m.client.Ping(ctx, nil)
}

func (m *Mongo) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, m.queryTimeout)
}

func (m *Mongo) collection(name string) *mongo.Collection {
	return m.db.Collection(name)
}

func (m *Mongo) ensureIndexes(ctx context.Context, retention config.RetentionConfig) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	eventTTL := int32(retention.Events.Seconds())
	fixTTL := int32(retention.Fixes.Seconds())
	auditTTL := int32(retention.Audit.Seconds())

	_, err := m.collection(collectionEvents).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "timestamp", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(eventTTL),
		},
		{Keys: bson.D{{Key: "correlationId", Value: 1}}},
		{Keys: bson.D{{Key: "traceId", Value: 1}}},
		{Keys: bson.D{{Key: "serviceName", Value: 1}, {Key: "timestamp", Value: -1}}},
		{Keys: bson.D{{Key: "eventType", Value: 1}, {Key: "severity", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("event indexes: %w", err)
	}

	_, err = m.collection(collectionPatterns).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "signature", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "severity", Value: 1}, {Key: "hasAutomatedFix", Value: 1}}},
		{Keys: bson.D{{Key: "confidenceScore", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("pattern indexes: %w", err)
	}

	_, err = m.collection(collectionFixes).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "createdAt", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(fixTTL),
		},
		{Keys: bson.D{{Key: "reviewId", Value: 1}}},
		{Keys: bson.D{{Key: "patternId", Value: 1}}},
		{Keys: bson.D{{Key: "status", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("fix indexes: %w", err)
	}

	_, err = m.collection(collectionAudit).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "timestamp", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(auditTTL),
		},
		{Keys: bson.D{{Key: "category", Value: 1}, {Key: "timestamp", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("audit indexes: %w", err)
	}
	return nil
}

package jobs

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/NeuroFlow-Labs/memory-engine/src/knowledge/model"
)

const mongoCloseTimeout = 5 * time.Second

// MongoArchive persists dead letters to a MongoDB collection so they outlive
// the process and can be replayed by tooling.
type MongoArchive struct {
	client     *mongo.Client
	collection *mongo.Collection
	nowFn      func() time.Time
}

var _ DeadLetterArchive = (*MongoArchive)(nil)

// NewMongoArchive dials Mongo and prepares the dead-letter collection.
func NewMongoArchive(ctx context.Context, uri, database, collection string) (*MongoArchive, error) {
	if uri == "" {
		return nil, errors.New("mongo uri is required")
	}
	if database == "" {
		return nil, errors.New("mongo database name is required")
	}
	if collection == "" {
		collection = "dead_letters"
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return &MongoArchive{
		client:     client,
		collection: client.Database(database).Collection(collection),
		nowFn:      time.Now,
	}, nil
}

// CreateSchema adds the indexes replay tooling queries by.
func (a *MongoArchive) CreateSchema(ctx context.Context) error {
	if a == nil || a.collection == nil {
		return nil
	}
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "scope", Value: 1}, {Key: "archived_at", Value: -1}},
			Options: options.Index().SetName("scope_archived_at"),
		},
		{
			Keys:    bson.D{{Key: "job_id", Value: 1}},
			Options: options.Index().SetName("job_id").SetUnique(true),
		},
	}
	_, err := a.collection.Indexes().CreateMany(ctx, indexes)
	return err
}

func (a *MongoArchive) Archive(ctx context.Context, job model.ExtractionJob, failure error) error {
	if a == nil || a.collection == nil {
		return nil
	}
	reason := ""
	if failure != nil {
		reason = failure.Error()
	}
	doc := bson.M{
		"job_id":      job.ID,
		"kind":        string(job.Kind),
		"scope":       job.Scope.Token(),
		"question":    job.Turn.Question,
		"answer":      job.Turn.Answer,
		"attempts":    job.Attempts,
		"reason":      reason,
		"created_at":  job.CreatedAt,
		"archived_at": a.nowFn().UTC(),
	}
	_, err := a.collection.InsertOne(ctx, doc)
	return err
}

// Close releases the underlying client.
func (a *MongoArchive) Close() error {
	if a == nil || a.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), mongoCloseTimeout)
	defer cancel()
	return a.client.Disconnect(ctx)
}

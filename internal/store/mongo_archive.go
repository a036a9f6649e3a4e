package store

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"marketforecast/internal/model"
)

// MongoArchive is the cold, append-only archive of Training Records: the
// Training Queue inserts every record it persists, completed or failed,
// when it persists it. Schema-flexible by design: it is never queried on
// the Training Queue's hot path, only by operators reviewing history.
// Grounded on the pack's feed-simulator Mongo persistence layer.
type MongoArchive struct {
	client *mongo.Client
	coll   *mongo.Collection
}

// NewMongoArchive connects to MongoDB and returns an ArchiveStore.
func NewMongoArchive(ctx context.Context, uri, dbName string) (*MongoArchive, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("store: connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("store: ping mongo: %w", err)
	}

	name := dbName
	if name == "" {
		name = "forecast_archive"
		if u, uerr := url.Parse(uri); uerr == nil {
			if trimmed := strings.TrimPrefix(u.Path, "/"); trimmed != "" {
				name = trimmed
			}
		}
	}

	db := client.Database(name)
	return &MongoArchive{client: client, coll: db.Collection("training_records")}, nil
}

// ArchiveTraining implements model.ArchiveStore.
func (a *MongoArchive) ArchiveTraining(ctx context.Context, t model.TrainingRecord) error {
	_, err := a.coll.InsertOne(ctx, t)
	if err != nil {
		return fmt.Errorf("store: archive training %s: %w", t.ID, err)
	}
	return nil
}

// ListArchived returns every archived record for (symbol, tf, bot),
// newest first. No HTTP endpoint calls it.
func (a *MongoArchive) ListArchived(ctx context.Context, symbol string, tf model.Timeframe, botName string) ([]model.TrainingRecord, error) {
	filter := bson.M{"symbol": symbol, "timeframe": int(tf), "botname": botName}
	opts := options.Find().SetSort(bson.D{{Key: "startedat", Value: -1}})

	cur, err := a.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("store: find archived trainings: %w", err)
	}
	defer cur.Close(ctx)

	var out []model.TrainingRecord
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("store: decode archived trainings: %w", err)
	}
	return out, nil
}

// Close disconnects the Mongo client.
func (a *MongoArchive) Close() error {
	return a.client.Disconnect(context.Background())
}

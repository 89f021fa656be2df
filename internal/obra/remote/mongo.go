package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// DefaultMongoCollection holds the project documents.
const DefaultMongoCollection = "documents"

// Mongo stores documents in a MongoDB collection, one per path.
type Mongo struct {
	client *mongo.Client
	coll   *mongo.Collection
}

type mongoDocument struct {
	Path      string    `bson:"_id"`
	FullData  string    `bson:"fullData"`
	Version   int64     `bson:"version"`
	UpdatedAt time.Time `bson:"updatedAt"`
}

// OpenMongo connects to MongoDB and selects the documents collection.
func OpenMongo(ctx context.Context, uri, database string) (*Mongo, error) {
	if database == "" {
		database = "obracontrol"
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return &Mongo{
		client: client,
		coll:   client.Database(database).Collection(DefaultMongoCollection),
	}, nil
}

// Get implements DocumentStore.Get.
func (m *Mongo) Get(ctx context.Context, path string) (*Document, error) {
	var doc mongoDocument
	err := m.coll.FindOne(ctx, bson.M{"_id": path}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read document %s: %w", path, err)
	}
	return &Document{
		Path:      doc.Path,
		FullData:  json.RawMessage(doc.FullData),
		Version:   doc.Version,
		UpdatedAt: doc.UpdatedAt,
	}, nil
}

// SetMerge implements DocumentStore.SetMerge.
func (m *Mongo) SetMerge(ctx context.Context, path string, fullData json.RawMessage) (int64, error) {
	update := bson.M{
		"$set": bson.M{
			"fullData":  string(fullData),
			"updatedAt": time.Now().UTC(),
		},
		"$inc": bson.M{"version": int64(1)},
	}
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var doc mongoDocument
	if err := m.coll.FindOneAndUpdate(ctx, bson.M{"_id": path}, update, opts).Decode(&doc); err != nil {
		return 0, fmt.Errorf("failed to write document %s: %w", path, err)
	}
	return doc.Version, nil
}

// Close implements DocumentStore.Close.
func (m *Mongo) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}

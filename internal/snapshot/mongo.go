package snapshot

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// DefaultDatabase is used when neither the configuration nor the URI name one.
const DefaultDatabase = "test"

const duplicateKeyCode = 11000

type mongoStore struct {
	client *mongo.Client
	db     *mongo.Database
}

// MongoDialer connects to MongoDB and verifies the primary is reachable.
func MongoDialer(ctx context.Context, uri, database string) (Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		disconnect(client)
		return nil, fmt.Errorf("ping MongoDB: %w", err)
	}
	if database == "" {
		database = DatabaseFromURI(uri)
	}
	return &mongoStore{client: client, db: client.Database(database)}, nil
}

func disconnect(client *mongo.Client) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = client.Disconnect(ctx)
}

func (s *mongoStore) ListCollectionNames(ctx context.Context) ([]string, error) {
	names, err := s.db.ListCollectionNames(ctx, bson.D{})
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	return names, nil
}

func (s *mongoStore) FindAll(ctx context.Context, collection string) ([]bson.Raw, error) {
	cursor, err := s.db.Collection(collection).Find(ctx, bson.D{})
	if err != nil {
		return nil, fmt.Errorf("query collection %s: %w", collection, err)
	}
	defer cursor.Close(ctx)

	var docs []bson.Raw
	for cursor.Next(ctx) {
		// cursor.Current is reused by the next call to Next.
		docs = append(docs, append(bson.Raw(nil), cursor.Current...))
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("read collection %s: %w", collection, err)
	}
	return docs, nil
}

func (s *mongoStore) Insert(ctx context.Context, collection string, docs []bson.D, policy ConflictPolicy) error {
	if len(docs) == 0 {
		return nil
	}
	coll := s.db.Collection(collection)

	switch policy {
	case ConflictOverwrite:
		models := make([]mongo.WriteModel, 0, len(docs))
		for _, doc := range docs {
			if id, ok := documentID(doc); ok {
				models = append(models, mongo.NewReplaceOneModel().
					SetFilter(bson.D{{Key: "_id", Value: id}}).
					SetReplacement(doc).
					SetUpsert(true))
				continue
			}
			models = append(models, mongo.NewInsertOneModel().SetDocument(doc))
		}
		if _, err := coll.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(true)); err != nil {
			return fmt.Errorf("upsert into %s: %w", collection, err)
		}
		return nil

	case ConflictSkip:
		_, err := coll.InsertMany(ctx, toInterfaces(docs), options.InsertMany().SetOrdered(false))
		if err != nil && !onlyDuplicateKeys(err) {
			return fmt.Errorf("insert into %s: %w", collection, err)
		}
		return nil

	default:
		if _, err := coll.InsertMany(ctx, toInterfaces(docs), options.InsertMany().SetOrdered(true)); err != nil {
			return fmt.Errorf("insert into %s: %w", collection, err)
		}
		return nil
	}
}

func (s *mongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func toInterfaces(docs []bson.D) []interface{} {
	out := make([]interface{}, len(docs))
	for i, doc := range docs {
		out[i] = doc
	}
	return out
}

func documentID(doc bson.D) (interface{}, bool) {
	for _, e := range doc {
		if e.Key == "_id" {
			return e.Value, true
		}
	}
	return nil, false
}

// onlyDuplicateKeys reports whether every write error is a duplicate key.
func onlyDuplicateKeys(err error) bool {
	var bwe mongo.BulkWriteException
	if !errors.As(err, &bwe) || bwe.WriteConcernError != nil || len(bwe.WriteErrors) == 0 {
		return false
	}
	for _, we := range bwe.WriteErrors {
		if we.Code != duplicateKeyCode {
			return false
		}
	}
	return true
}

// DatabaseFromURI extracts the database named in the path of a
// mongodb:// or mongodb+srv:// URI, falling back to DefaultDatabase.
func DatabaseFromURI(uri string) string {
	rest := uri
	if i := strings.Index(rest, "://"); i >= 0 {
		rest = rest[i+3:]
	}
	if i := strings.IndexAny(rest, "?#"); i >= 0 {
		rest = rest[:i]
	}
	// Credentials may contain '/', so look for the path after the last '@'.
	if i := strings.LastIndex(rest, "@"); i >= 0 {
		rest = rest[i+1:]
	}
	i := strings.Index(rest, "/")
	if i < 0 {
		return DefaultDatabase
	}
	name, err := url.PathUnescape(rest[i+1:])
	if err != nil || name == "" {
		return DefaultDatabase
	}
	return name
}

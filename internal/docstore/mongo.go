package docstore

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// Mongo stores each document in an envelope {_id, rev, doc} so the revision
// counter lives outside the payload and conditional writes can filter on
// {_id, rev} in a single UpdateOne.
type Mongo struct {
	client *mongo.Client
	db     *mongo.Database
}

type mongoEnvelope struct {
	ID  string   `bson:"_id"`
	Rev int64    `bson:"rev"`
	Doc bson.Raw `bson:"doc"`
}

// OpenMongo connects, pings, and returns a Store backed by the named
// database.
func OpenMongo(ctx context.Context, url, dbName string) (*Mongo, error) {
	opts := options.Client().ApplyURI(url).SetMaxPoolSize(20).SetMinPoolSize(2)
	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	return &Mongo{client: client, db: client.Database(dbName)}, nil
}

// EnsureIndexes creates the given per-collection indexes. Field paths are
// relative to the payload, so "ownerId" indexes "doc.ownerId".
func (m *Mongo) EnsureIndexes(ctx context.Context, indexes map[string][][]string) error {
	for collection, fieldSets := range indexes {
		models := make([]mongo.IndexModel, 0, len(fieldSets))
		for _, fields := range fieldSets {
			keys := bson.D{}
			for _, field := range fields {
				keys = append(keys, bson.E{Key: "doc." + field, Value: 1})
			}
			models = append(models, mongo.IndexModel{Keys: keys})
		}
		if len(models) == 0 {
			continue
		}
		if _, err := m.db.Collection(collection).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("create indexes for %s: %w", collection, err)
		}
	}
	return nil
}

func (m *Mongo) Get(ctx context.Context, collection, id string, out any) (Revision, error) {
	var env mongoEnvelope
	err := m.db.Collection(collection).FindOne(ctx, bson.M{"_id": id}).Decode(&env)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("get %s/%s: %w", collection, id, err)
	}
	if err := bson.Unmarshal(env.Doc, out); err != nil {
		return 0, fmt.Errorf("decode %s/%s: %w", collection, id, err)
	}
	return Revision(env.Rev), nil
}

func (m *Mongo) Find(ctx context.Context, collection string, filter Filter, sortBy []SortField, out any) error {
	query := bson.M{}
	for key, value := range filter {
		query["doc."+key] = value
	}

	opts := options.Find()
	if len(sortBy) > 0 {
		sortDoc := bson.D{}
		for _, field := range sortBy {
			order := 1
			if field.Desc {
				order = -1
			}
			sortDoc = append(sortDoc, bson.E{Key: "doc." + field.Field, Value: order})
		}
		opts.SetSort(sortDoc)
	}

	cursor, err := m.db.Collection(collection).Find(ctx, query, opts)
	if err != nil {
		return fmt.Errorf("find in %s: %w", collection, err)
	}
	defer cursor.Close(ctx)

	outValue := reflect.ValueOf(out)
	if outValue.Kind() != reflect.Pointer || outValue.Elem().Kind() != reflect.Slice {
		return fmt.Errorf("find in %s: out must be a pointer to a slice", collection)
	}
	results := outValue.Elem()
	results.SetLen(0)
	elemType := results.Type().Elem()

	for cursor.Next(ctx) {
		var env mongoEnvelope
		if err := cursor.Decode(&env); err != nil {
			return fmt.Errorf("decode envelope in %s: %w", collection, err)
		}
		elem := reflect.New(elemType)
		if err := bson.Unmarshal(env.Doc, elem.Interface()); err != nil {
			return fmt.Errorf("decode %s/%s: %w", collection, env.ID, err)
		}
		results.Set(reflect.Append(results, elem.Elem()))
	}
	if err := cursor.Err(); err != nil {
		return fmt.Errorf("iterate %s: %w", collection, err)
	}
	return nil
}

func (m *Mongo) Insert(ctx context.Context, collection, id string, doc any) (string, Revision, error) {
	if id == "" {
		id = uuid.NewString()
	}
	raw, err := bson.Marshal(doc)
	if err != nil {
		return "", 0, fmt.Errorf("encode document for %s: %w", collection, err)
	}
	_, err = m.db.Collection(collection).InsertOne(ctx, mongoEnvelope{ID: id, Rev: 1, Doc: raw})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return "", 0, ErrDuplicateID
		}
		return "", 0, fmt.Errorf("insert %s/%s: %w", collection, id, err)
	}
	return id, 1, nil
}

func (m *Mongo) Update(ctx context.Context, collection, id string, rev Revision, doc any) (Revision, error) {
	raw, err := bson.Marshal(doc)
	if err != nil {
		return 0, fmt.Errorf("encode document %s/%s: %w", collection, id, err)
	}
	result, err := m.db.Collection(collection).UpdateOne(ctx,
		bson.M{"_id": id, "rev": int64(rev)},
		bson.M{"$set": bson.M{"doc": bson.Raw(raw)}, "$inc": bson.M{"rev": 1}},
	)
	if err != nil {
		return 0, fmt.Errorf("update %s/%s: %w", collection, id, err)
	}
	if result.MatchedCount == 0 {
		return 0, m.missingOrStale(ctx, collection, id)
	}
	return rev + 1, nil
}

func (m *Mongo) Delete(ctx context.Context, collection, id string, rev Revision) error {
	query := bson.M{"_id": id}
	if rev != 0 {
		query["rev"] = int64(rev)
	}
	result, err := m.db.Collection(collection).DeleteOne(ctx, query)
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", collection, id, err)
	}
	if result.DeletedCount == 0 {
		if rev == 0 {
			return ErrNotFound
		}
		return m.missingOrStale(ctx, collection, id)
	}
	return nil
}

// missingOrStale disambiguates a zero-match conditional write: the document
// either never existed or exists at a different revision.
func (m *Mongo) missingOrStale(ctx context.Context, collection, id string) error {
	err := m.db.Collection(collection).FindOne(ctx, bson.M{"_id": id}).Err()
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("check %s/%s: %w", collection, id, err)
	}
	return ErrConflict
}

func (m *Mongo) Ping(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return m.client.Ping(pingCtx, nil)
}

func (m *Mongo) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

// Package mongo persists the in-memory record store to MongoDB, keeping one
// document per snapshot bucket in a state collection.
package mongo

import (
	"context"
	"fmt"
	"sync"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"seedqc/internal/infra/persistence/memory"
	"seedqc/pkg/domain"
)

var _ domain.PersistentStore = (*Store)(nil)

const (
	defaultURI      = "mongodb://localhost:27017"
	defaultDatabase = "seedqc"
	stateCollection = "state"
)

// BucketDocument is the persisted form of one snapshot bucket.
type BucketDocument struct {
	Bucket  string `bson:"_id"`
	Payload []byte `bson:"payload"`
}

// Collection is the subset of collection behaviour the store needs.
type Collection interface {
	LoadAll(ctx context.Context) ([]BucketDocument, error)
	Upsert(ctx context.Context, doc BucketDocument) error
}

// Store persists state to MongoDB while reusing the in-memory implementation for transactions.
type Store struct {
	*memory.Store
	coll   Collection
	client *mongo.Client
	mu     sync.Mutex
}

// NewStore connects to uri, pings the server and hydrates the in-memory store
// from the state collection of database.
func NewStore(ctx context.Context, uri, database string, engine *domain.RulesEngine) (*Store, error) {
	if uri == "" {
		uri = defaultURI
	}
	if database == "" {
		database = defaultDatabase
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}
	store, err := NewStoreWithCollection(ctx, driverCollection{coll: client.Database(database).Collection(stateCollection)}, engine)
	if err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	store.client = client
	return store, nil
}

// NewStoreWithCollection builds a store over an existing collection adapter.
func NewStoreWithCollection(ctx context.Context, coll Collection, engine *domain.RulesEngine) (*Store, error) {
	docs, err := coll.LoadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}
	var snapshot memory.Snapshot
	for _, doc := range docs {
		if err := snapshot.DecodeBucket(doc.Bucket, doc.Payload); err != nil {
			return nil, err
		}
	}
	mem := memory.NewStore(engine)
	mem.ImportState(snapshot)
	return &Store{Store: mem, coll: coll}, nil
}

// RunInTransaction applies fn through the in-memory store, then upserts every bucket.
func (s *Store) RunInTransaction(ctx context.Context, fn func(domain.Transaction) error) (domain.Result, error) {
	res, err := s.Store.RunInTransaction(ctx, fn)
	if err != nil {
		return res, err
	}
	if err := s.persist(ctx); err != nil {
		return res, err
	}
	return res, nil
}

func (s *Store) persist(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	buckets, err := s.ExportState().EncodeBuckets()
	if err != nil {
		return err
	}
	for _, bucket := range memory.Buckets() {
		if err := s.coll.Upsert(ctx, BucketDocument{Bucket: bucket, Payload: buckets[bucket]}); err != nil {
			return fmt.Errorf("upsert %s: %w", bucket, err)
		}
	}
	return nil
}

// Close disconnects the client when the store owns one.
func (s *Store) Close(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	return s.client.Disconnect(ctx)
}

type driverCollection struct {
	coll *mongo.Collection
}

func (c driverCollection) LoadAll(ctx context.Context) ([]BucketDocument, error) {
	cursor, err := c.coll.Find(ctx, bson.D{})
	if err != nil {
		return nil, err
	}
	var docs []BucketDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}

func (c driverCollection) Upsert(ctx context.Context, doc BucketDocument) error {
	_, err := c.coll.ReplaceOne(ctx, bson.D{{Key: "_id", Value: doc.Bucket}}, doc, options.Replace().SetUpsert(true))
	return err
}

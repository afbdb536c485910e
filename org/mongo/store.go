// Package mongo provides the MongoDB-backed org.Store used in production
// deployments. One document per organization, unique-indexed on org.
package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"goa.design/clue/health"

	"github.com/openplane/warehub/org"
)

const (
	defaultCollection = "org_warehouses"
	defaultOpTimeout  = 5 * time.Second
	clientName        = "org-mongo"
)

// Options configures the Mongo org store.
type Options struct {
	Client     *mongodriver.Client
	Database   string
	Collection string
	Timeout    time.Duration
}

// Store implements org.Store on MongoDB.
type Store struct {
	mongo   *mongodriver.Client
	coll    *mongodriver.Collection
	timeout time.Duration
}

var _ org.Store = (*Store)(nil)
var _ health.Pinger = (*Store)(nil)

// New returns a Store backed by MongoDB and ensures its indexes.
func New(opts Options) (*Store, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("database name is required")
	}
	collection := opts.Collection
	if collection == "" {
		collection = defaultCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	coll := opts.Client.Database(opts.Database).Collection(collection)
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	index := mongodriver.IndexModel{
		Keys:    bson.D{{Key: "org", Value: 1}},
		Options: options.Index().SetUnique(true),
	}
	if _, err := coll.Indexes().CreateOne(ctx, index); err != nil {
		return nil, err
	}
	return &Store{mongo: opts.Client, coll: coll, timeout: timeout}, nil
}

// Name identifies the store to health checkers.
func (s *Store) Name() string { return clientName }

// Ping verifies Mongo connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return s.mongo.Ping(ctx, readpref.Primary())
}

// Upsert implements org.Store.
func (s *Store) Upsert(ctx context.Context, w org.Warehouse) error {
	if w.Org == "" {
		return errors.New("org is required")
	}
	now := time.Now().UTC()
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	filter := bson.M{"org": w.Org}
	update := bson.M{
		"$set": bson.M{
			"org":        w.Org,
			"type":       string(w.Type),
			"name":       w.Name,
			"dsn":        w.DSN,
			"updated_at": now,
		},
		"$setOnInsert": bson.M{
			"created_at": now,
		},
	}
	_, err := s.coll.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	return err
}

// Lookup implements org.Store.
func (s *Store) Lookup(ctx context.Context, o string) (org.Warehouse, error) {
	if o == "" {
		return org.Warehouse{}, errors.New("org is required")
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	var doc warehouseDocument
	if err := s.coll.FindOne(ctx, bson.M{"org": o}).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return org.Warehouse{}, org.ErrNotFound
		}
		return org.Warehouse{}, err
	}
	return doc.toWarehouse(), nil
}

// Delete implements org.Store.
func (s *Store) Delete(ctx context.Context, o string) error {
	if o == "" {
		return errors.New("org is required")
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	_, err := s.coll.DeleteOne(ctx, bson.M{"org": o})
	return err
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

type warehouseDocument struct {
	Org       string    `bson:"org"`
	Type      string    `bson:"type"`
	Name      string    `bson:"name"`
	DSN       string    `bson:"dsn"`
	CreatedAt time.Time `bson:"created_at"`
	UpdatedAt time.Time `bson:"updated_at"`
}

func (doc warehouseDocument) toWarehouse() org.Warehouse {
	return org.Warehouse{
		Org:       doc.Org,
		Type:      org.WarehouseType(doc.Type),
		Name:      doc.Name,
		DSN:       doc.DSN,
		CreatedAt: doc.CreatedAt.UTC(),
		UpdatedAt: doc.UpdatedAt.UTC(),
	}
}

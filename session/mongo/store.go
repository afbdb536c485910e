// Package mongo provides the MongoDB-backed session.Store used in production
// deployments. Sessions are single documents keyed by (org, session_id);
// every lifecycle mutation is one UpdateOne so individual writes stay atomic
// even though the manager's semantics are last-writer-wins.
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

	"github.com/openplane/warehub/session"
)

const (
	defaultCollection = "llm_sessions"
	defaultOpTimeout  = 5 * time.Second
	clientName        = "session-mongo"
)

// Options configures the Mongo session store.
type Options struct {
	Client     *mongodriver.Client
	Database   string
	Collection string
	Timeout    time.Duration
}

// Store implements session.Store on MongoDB.
type Store struct {
	mongo    *mongodriver.Client
	sessions collection
	timeout  time.Duration
}

var _ session.Store = (*Store)(nil)
var _ health.Pinger = (*Store)(nil)

// New returns a Store backed by MongoDB and ensures its indexes.
func New(opts Options) (*Store, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("database name is required")
	}
	collName := opts.Collection
	if collName == "" {
		collName = defaultCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	coll := mongoCollection{coll: opts.Client.Database(opts.Database).Collection(collName)}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := ensureIndexes(ctx, coll); err != nil {
		return nil, err
	}
	return newStoreWithCollection(opts.Client, coll, timeout)
}

func newStoreWithCollection(mongoClient *mongodriver.Client, sessions collection, timeout time.Duration) (*Store, error) {
	if sessions == nil {
		return nil, errors.New("collection is required")
	}
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	return &Store{mongo: mongoClient, sessions: sessions, timeout: timeout}, nil
}

// Name identifies the store to health checkers.
func (s *Store) Name() string { return clientName }

// Ping verifies Mongo connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if s.mongo == nil {
		return nil
	}
	return s.mongo.Ping(ctx, readpref.Primary())
}

// Create implements session.Store. Creation is an idempotent insert: retrying
// a create for an existing session never clobbers its current state.
func (s *Store) Create(ctx context.Context, sess session.Session) error {
	if sess.SessionID == "" {
		return errors.New("session id is required")
	}
	if sess.Org == "" {
		return errors.New("org is required")
	}
	now := time.Now().UTC()
	createdAt := sess.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	filter := bson.M{"org": sess.Org, "session_id": sess.SessionID}
	update := bson.M{
		"$setOnInsert": bson.M{
			"org":              sess.Org,
			"session_id":       sess.SessionID,
			"task_id":          sess.TaskID,
			"session_type":     string(sess.Type),
			"session_status":   string(sess.Status),
			"session_name":     sess.Name,
			"request_meta":     sess.RequestMeta,
			"assistant_prompt": sess.AssistantPrompt,
			"response":         sess.Response,
			"feedback":         sess.Feedback,
			"created_at":       createdAt.UTC(),
			"updated_at":       now,
		},
	}
	_, err := s.sessions.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	return err
}

// Load implements session.Store.
func (s *Store) Load(ctx context.Context, org, sessionID string) (session.Session, error) {
	if sessionID == "" {
		return session.Session{}, errors.New("session id is required")
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	filter := bson.M{"org": org, "session_id": sessionID}
	var doc sessionDocument
	if err := s.sessions.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return session.Session{}, session.ErrNotFound
		}
		return session.Session{}, err
	}
	return doc.toSession(), nil
}

// SetResult implements session.Store.
func (s *Store) SetResult(ctx context.Context, org, sessionID string, status session.Status, response string) error {
	return s.setFields(ctx, org, sessionID, bson.M{
		"session_status": string(status),
		"response":       response,
	})
}

// SetName implements session.Store.
func (s *Store) SetName(ctx context.Context, org, sessionID, name string) error {
	return s.setFields(ctx, org, sessionID, bson.M{"session_name": name})
}

// SetFeedback implements session.Store.
func (s *Store) SetFeedback(ctx context.Context, org, sessionID, feedback string) error {
	return s.setFields(ctx, org, sessionID, bson.M{"feedback": feedback})
}

// Delete implements session.Store.
func (s *Store) Delete(ctx context.Context, org, sessionID string) error {
	if sessionID == "" {
		return errors.New("session id is required")
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	res, err := s.sessions.DeleteOne(ctx, bson.M{"org": org, "session_id": sessionID})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return session.ErrNotFound
	}
	return nil
}

// ListSaved implements session.Store.
func (s *Store) ListSaved(ctx context.Context, org string, limit, offset int) ([]session.Session, int, error) {
	filter := bson.M{
		"org":          org,
		"session_name": bson.M{"$ne": nil},
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	total, err := s.sessions.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, err
	}

	findOpts := options.Find().
		SetSort(bson.D{{Key: "updated_at", Value: -1}}).
		SetSkip(int64(offset)).
		SetLimit(int64(limit))
	cur, err := s.sessions.Find(ctx, filter, findOpts)
	if err != nil {
		return nil, 0, err
	}
	defer func() {
		_ = cur.Close(ctx)
	}()

	var out []session.Session
	for cur.Next(ctx) {
		var doc sessionDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, 0, err
		}
		out = append(out, doc.toSession())
	}
	if err := cur.Err(); err != nil {
		return nil, 0, err
	}
	return out, int(total), nil
}

// DeleteUnsavedBefore implements session.Store.
func (s *Store) DeleteUnsavedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	filter := bson.M{
		"session_name":   nil,
		"session_status": bson.M{"$ne": string(session.StatusRunning)},
		"updated_at":     bson.M{"$lt": cutoff.UTC()},
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	res, err := s.sessions.DeleteMany(ctx, filter)
	if err != nil {
		return 0, err
	}
	return int(res.DeletedCount), nil
}

func (s *Store) setFields(ctx context.Context, org, sessionID string, fields bson.M) error {
	if sessionID == "" {
		return errors.New("session id is required")
	}
	fields["updated_at"] = time.Now().UTC()
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	filter := bson.M{"org": org, "session_id": sessionID}
	res, err := s.sessions.UpdateOne(ctx, filter, bson.M{"$set": fields})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return session.ErrNotFound
	}
	return nil
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

type sessionDocument struct {
	Org             string         `bson:"org"`
	SessionID       string         `bson:"session_id"`
	TaskID          string         `bson:"task_id,omitempty"`
	Type            string         `bson:"session_type"`
	Status          string         `bson:"session_status"`
	Name            *string        `bson:"session_name"`
	RequestMeta     map[string]any `bson:"request_meta,omitempty"`
	AssistantPrompt string         `bson:"assistant_prompt,omitempty"`
	Response        string         `bson:"response,omitempty"`
	Feedback        *string        `bson:"feedback,omitempty"`
	CreatedAt       time.Time      `bson:"created_at"`
	UpdatedAt       time.Time      `bson:"updated_at"`
}

func (doc sessionDocument) toSession() session.Session {
	return session.Session{
		SessionID:       doc.SessionID,
		Org:             doc.Org,
		TaskID:          doc.TaskID,
		Type:            session.Type(doc.Type),
		Status:          session.Status(doc.Status),
		Name:            doc.Name,
		RequestMeta:     doc.RequestMeta,
		AssistantPrompt: doc.AssistantPrompt,
		Response:        doc.Response,
		Feedback:        doc.Feedback,
		CreatedAt:       doc.CreatedAt.UTC(),
		UpdatedAt:       doc.UpdatedAt.UTC(),
	}
}

func ensureIndexes(ctx context.Context, sessions collection) error {
	idIndex := mongodriver.IndexModel{
		Keys: bson.D{
			{Key: "org", Value: 1},
			{Key: "session_id", Value: 1},
		},
		Options: options.Index().SetUnique(true),
	}
	if _, err := sessions.Indexes().CreateOne(ctx, idIndex); err != nil {
		return err
	}
	listIndex := mongodriver.IndexModel{
		Keys: bson.D{
			{Key: "org", Value: 1},
			{Key: "session_name", Value: 1},
			{Key: "updated_at", Value: -1},
		},
	}
	if _, err := sessions.Indexes().CreateOne(ctx, listIndex); err != nil {
		return err
	}
	return nil
}

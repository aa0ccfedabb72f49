package metadata

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/plinthdb/plinth/internal/errs"
)

// Collection names inside the control-plane database.
const (
	colCollections = "collections"
	colAttributes  = "attributes"
	colIndexes     = "indexes"
	colAudit       = "audit"
	colTeams       = "teams"
	colMemberships = "memberships"
	colSessions    = "sessions"
	colTokens      = "tokens"
	colIdentities  = "identities"
	colTargets     = "targets"
	colUsage       = "usage"
)

// Store is the MongoDB-backed control-plane metadata store.
type Store struct {
	client   *mongo.Client
	database string
}

// NewStore connects to the metadata database.
func NewStore(ctx context.Context, connectionString, database string) (*Store, error) {
	opts := options.Client().ApplyURI(connectionString)
	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, fmt.Errorf("connecting to metadata store: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("pinging metadata store: %w", err)
	}
	return &Store{client: client, database: database}, nil
}

// NewStoreWithClient wraps an already-connected client (tests).
func NewStoreWithClient(client *mongo.Client, database string) *Store {
	return &Store{client: client, database: database}
}

// Close disconnects the underlying client.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *Store) col(name string) *mongo.Collection {
	return s.client.Database(s.database).Collection(name)
}

func translate(err error, what, id string) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return errs.NotFound("%s %s not found", what, id)
	}
	return err
}

// --- collections ---

func (s *Store) GetCollection(ctx context.Context, id string) (*Collection, error) {
	var c Collection
	err := s.col(colCollections).FindOne(ctx, bson.M{"_id": id}).Decode(&c)
	if err != nil {
		return nil, translate(err, "collection", id)
	}
	return &c, nil
}

func (s *Store) InsertCollection(ctx context.Context, c *Collection) error {
	c.CreatedAt = time.Now().UTC()
	c.UpdatedAt = c.CreatedAt
	_, err := s.col(colCollections).InsertOne(ctx, c)
	if mongo.IsDuplicateKeyError(err) {
		return errs.Conflict("collection %s already exists", c.ID)
	}
	return err
}

func (s *Store) RemoveCollection(ctx context.Context, id string) error {
	_, err := s.col(colCollections).DeleteOne(ctx, bson.M{"_id": id})
	return err
}

// RefreshCollectionSnapshot re-reads the collection's attribute and
// index documents and materializes them onto the collection record, so
// the collection document always reflects completed jobs.
func (s *Store) RefreshCollectionSnapshot(ctx context.Context, id string) error {
	attrs, err := s.ListAttributes(ctx, id)
	if err != nil {
		return err
	}
	indexes, err := s.ListIndexes(ctx, id)
	if err != nil {
		return err
	}
	_, err = s.col(colCollections).UpdateOne(ctx, bson.M{"_id": id}, bson.M{
		"$set": bson.M{
			"attributes": attrs,
			"indexes":    indexes,
			"updatedAt":  time.Now().UTC(),
		},
	})
	return err
}

// --- attributes ---

func (s *Store) GetAttribute(ctx context.Context, id string) (*Attribute, error) {
	var a Attribute
	err := s.col(colAttributes).FindOne(ctx, bson.M{"_id": id}).Decode(&a)
	if err != nil {
		return nil, translate(err, "attribute", id)
	}
	return &a, nil
}

func (s *Store) GetAttributeByKey(ctx context.Context, collectionID, key string) (*Attribute, error) {
	var a Attribute
	err := s.col(colAttributes).FindOne(ctx, bson.M{"collectionId": collectionID, "key": key}).Decode(&a)
	if err != nil {
		return nil, translate(err, "attribute", key)
	}
	return &a, nil
}

func (s *Store) InsertAttribute(ctx context.Context, a *Attribute) error {
	a.CreatedAt = time.Now().UTC()
	a.UpdatedAt = a.CreatedAt
	_, err := s.col(colAttributes).InsertOne(ctx, a)
	if mongo.IsDuplicateKeyError(err) {
		return errs.Conflict("attribute %s already exists on %s", a.Key, a.CollectionID)
	}
	return err
}

func (s *Store) ListAttributes(ctx context.Context, collectionID string) ([]Attribute, error) {
	return findAll[Attribute](ctx, s.col(colAttributes), bson.M{"collectionId": collectionID})
}

// SetAttributeStatus transitions an attribute through the lifecycle
// state machine, recording the captured error message when moving to
// failed or stuck. Illegal transitions are rejected.
func (s *Store) SetAttributeStatus(ctx context.Context, id string, to Status, errMsg string) error {
	a, err := s.GetAttribute(ctx, id)
	if err != nil {
		return err
	}
	if err := CheckTransition(a.Status, to); err != nil {
		return err
	}
	_, err = s.col(colAttributes).UpdateOne(ctx, bson.M{"_id": id}, bson.M{
		"$set": bson.M{"status": to, "error": errMsg, "updatedAt": time.Now().UTC()},
	})
	return err
}

// RemoveAttribute deletes the attribute's metadata record. Missing
// records are not an error: redelivered jobs hit this path.
func (s *Store) RemoveAttribute(ctx context.Context, id string) error {
	_, err := s.col(colAttributes).DeleteOne(ctx, bson.M{"_id": id})
	return err
}

// FindRelationshipsTo returns every relationship attribute on *other*
// collections that points at the given collection.
func (s *Store) FindRelationshipsTo(ctx context.Context, collectionID string) ([]Attribute, error) {
	return findAll[Attribute](ctx, s.col(colAttributes), bson.M{
		"type":                      TypeRelationship,
		"options.relatedCollection": collectionID,
		"collectionId":              bson.M{"$ne": collectionID},
	})
}

// --- indexes ---

func (s *Store) GetIndex(ctx context.Context, id string) (*Index, error) {
	var i Index
	err := s.col(colIndexes).FindOne(ctx, bson.M{"_id": id}).Decode(&i)
	if err != nil {
		return nil, translate(err, "index", id)
	}
	return &i, nil
}

func (s *Store) InsertIndex(ctx context.Context, i *Index) error {
	i.CreatedAt = time.Now().UTC()
	i.UpdatedAt = i.CreatedAt
	_, err := s.col(colIndexes).InsertOne(ctx, i)
	if mongo.IsDuplicateKeyError(err) {
		return errs.Conflict("index %s already exists on %s", i.Key, i.CollectionID)
	}
	return err
}

func (s *Store) ListIndexes(ctx context.Context, collectionID string) ([]Index, error) {
	return findAll[Index](ctx, s.col(colIndexes), bson.M{"collectionId": collectionID})
}

// SaveIndex persists a full index document (used after shrinking its
// attribute list on attribute deletion).
func (s *Store) SaveIndex(ctx context.Context, i *Index) error {
	i.UpdatedAt = time.Now().UTC()
	opts := options.Replace().SetUpsert(true)
	_, err := s.col(colIndexes).ReplaceOne(ctx, bson.M{"_id": i.ID}, i, opts)
	return err
}

func (s *Store) SetIndexStatus(ctx context.Context, id string, to Status, errMsg string) error {
	i, err := s.GetIndex(ctx, id)
	if err != nil {
		return err
	}
	if err := CheckTransition(i.Status, to); err != nil {
		return err
	}
	_, err = s.col(colIndexes).UpdateOne(ctx, bson.M{"_id": id}, bson.M{
		"$set": bson.M{"status": to, "error": errMsg, "updatedAt": time.Now().UTC()},
	})
	return err
}

func (s *Store) RemoveIndex(ctx context.Context, id string) error {
	_, err := s.col(colIndexes).DeleteOne(ctx, bson.M{"_id": id})
	return err
}

// --- audit ---

func (s *Store) InsertAudit(ctx context.Context, e *AuditEntry) error {
	_, err := s.col(colAudit).InsertOne(ctx, e)
	return err
}

// AuditedProjects returns the distinct project ids with audit history.
// Retention sweeps iterate over this set.
func (s *Store) AuditedProjects(ctx context.Context) ([]string, error) {
	res := s.col(colAudit).Distinct(ctx, "projectId", bson.M{})
	var out []string
	if err := res.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

// --- usage counters ---

// IncrementUsage bumps one per-project usage counter by delta.
func (s *Store) IncrementUsage(ctx context.Context, projectID, key string, delta int64) error {
	opts := options.UpdateOne().SetUpsert(true)
	_, err := s.col(colUsage).UpdateOne(ctx,
		bson.M{"projectId": projectID, "key": key},
		bson.M{"$inc": bson.M{"value": delta}},
		opts)
	return err
}

// Client exposes the underlying connection for components that share
// the control-plane database, such as the job queue.
func (s *Store) Client() *mongo.Client {
	return s.client
}

// --- shared query plumbing ---

func findAll[T any](ctx context.Context, col *mongo.Collection, filter bson.M) ([]T, error) {
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	cursor, err := col.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var out []T
	for cursor.Next(ctx) {
		var doc T
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, cursor.Err()
}

// page fetches one ascending-id page after the given cursor.
func page[T any](ctx context.Context, col *mongo.Collection, filter bson.M, limit int, after string) ([]T, error) {
	f := bson.M{}
	for k, v := range filter {
		f[k] = v
	}
	if after != "" {
		f["_id"] = bson.M{"$gt": after}
	}
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}).SetLimit(int64(limit))
	cursor, err := col.Find(ctx, f, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var out []T
	for cursor.Next(ctx) {
		var doc T
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, cursor.Err()
}

// pageDescending fetches the first page sorted newest-first on the
// given field. Used by retention sweeps, which always consume from the
// head as it is deleted.
func pageDescending[T any](ctx context.Context, col *mongo.Collection, filter bson.M, sortField string, limit int) ([]T, error) {
	opts := options.Find().SetSort(bson.D{{Key: sortField, Value: -1}}).SetLimit(int64(limit))
	cursor, err := col.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var out []T
	for cursor.Next(ctx) {
		var doc T
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, cursor.Err()
}

func deleteByID(ctx context.Context, col *mongo.Collection, id string) error {
	res, err := col.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return errs.NotFound("document %s not found", id)
	}
	return nil
}

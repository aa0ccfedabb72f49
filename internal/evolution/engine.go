package evolution

import (
	"context"
	"log/slog"

	"github.com/plinthdb/plinth/internal/auth"
	"github.com/plinthdb/plinth/internal/cache"
	"github.com/plinthdb/plinth/internal/cascade"
	"github.com/plinthdb/plinth/internal/metadata"
	"github.com/plinthdb/plinth/internal/queue"
	"github.com/plinthdb/plinth/internal/stats"
)

// Job types consumed by the engine.
const (
	JobCreateAttribute  = "attribute.create"
	JobDeleteAttribute  = "attribute.delete"
	JobCreateIndex      = "index.create"
	JobDeleteIndex      = "index.delete"
	JobDeleteCollection = "collection.delete"
)

// Payload is the durable job body. Snapshots are the API layer's
// best-known state at enqueue time; handlers re-fetch by id and never
// trust them, which is what makes redelivery and reordering safe.
type Payload struct {
	Database   string               `bson:"database"`
	ProjectID  string               `bson:"projectId"`
	Collection metadata.Collection  `bson:"collection"`
	Attribute  *metadata.Attribute  `bson:"attribute,omitempty"`
	Index      *metadata.Index      `bson:"index,omitempty"`
}

// MetadataStore is the slice of the metadata store the engine uses.
type MetadataStore interface {
	GetCollection(ctx context.Context, id string) (*metadata.Collection, error)
	RemoveCollection(ctx context.Context, id string) error
	RefreshCollectionSnapshot(ctx context.Context, id string) error

	GetAttribute(ctx context.Context, id string) (*metadata.Attribute, error)
	GetAttributeByKey(ctx context.Context, collectionID, key string) (*metadata.Attribute, error)
	SetAttributeStatus(ctx context.Context, id string, to metadata.Status, errMsg string) error
	RemoveAttribute(ctx context.Context, id string) error
	FindRelationshipsTo(ctx context.Context, collectionID string) ([]metadata.Attribute, error)

	GetIndex(ctx context.Context, id string) (*metadata.Index, error)
	SetIndexStatus(ctx context.Context, id string, to metadata.Status, errMsg string) error
	SaveIndex(ctx context.Context, i *metadata.Index) error
	RemoveIndex(ctx context.Context, id string) error
	ListIndexes(ctx context.Context, collectionID string) ([]metadata.Index, error)

	AttributeGroup(collectionID string) (cascade.FetchPage[metadata.Attribute], cascade.DeleteDoc[metadata.Attribute])
	IndexGroup(collectionID string) (cascade.FetchPage[metadata.Index], cascade.DeleteDoc[metadata.Index])
	AuditGroup(resource string) (cascade.FetchPage[metadata.AuditEntry], cascade.DeleteDoc[metadata.AuditEntry])
}

// Engine applies schema jobs. One instance serves every tenant; the
// per-job tenant connection comes from the leaser.
type Engine struct {
	store   MetadataStore
	tenants ConnectionLeaser
	cache   cache.Cache
	usage   *stats.Aggregator
	logger  *slog.Logger
}

// New creates an engine. usage may be nil.
func New(store MetadataStore, tenants ConnectionLeaser, c cache.Cache, usage *stats.Aggregator, logger *slog.Logger) *Engine {
	return &Engine{
		store:   store,
		tenants: tenants,
		cache:   c,
		usage:   usage,
		logger:  logger,
	}
}

// Register wires the engine's handlers onto a worker.
func (e *Engine) Register(w *queue.Worker) {
	w.Handle(JobCreateAttribute, e.handle(e.createAttribute))
	w.Handle(JobDeleteAttribute, e.handle(e.deleteAttribute))
	w.Handle(JobCreateIndex, e.handle(e.createIndex))
	w.Handle(JobDeleteIndex, e.handle(e.deleteIndex))
	w.Handle(JobDeleteCollection, e.handle(e.deleteCollection))
}

type handlerFunc func(ctx context.Context, conn Conn, p *Payload) error

// handle decodes the payload, enters skip-scope (handlers act for the
// system, not an end user), and leases a tenant connection that is
// released on every exit path.
func (e *Engine) handle(fn handlerFunc) queue.Handler {
	return func(ctx context.Context, job *queue.Job) error {
		var p Payload
		if err := job.DecodePayload(&p); err != nil {
			return err
		}
		return auth.Skip(ctx, func(ctx context.Context) error {
			conn, release, err := e.tenants.Lease(ctx, p.ProjectID)
			if err != nil {
				// Lease failures are transient; the queue redelivers.
				return err
			}
			defer release()
			return fn(ctx, conn, &p)
		})
	}
}

// purgeCollection drops the cached schema for a collection.
func (e *Engine) purgeCollection(ctx context.Context, projectID, collectionID string) {
	if e.cache != nil {
		e.cache.Purge(ctx, cache.CollectionKey(projectID, collectionID))
	}
}

// addUsage records a usage delta if an aggregator is wired.
func (e *Engine) addUsage(projectID, key string, delta int64) {
	if e.usage != nil {
		e.usage.Add(projectID, key, delta)
	}
}

// refresh re-materializes the collection snapshot after a completed
// job; failures are logged, not fatal, because the snapshot is a
// derived convenience.
func (e *Engine) refresh(ctx context.Context, collectionID string) {
	if err := e.store.RefreshCollectionSnapshot(ctx, collectionID); err != nil {
		e.logger.Warn("refreshing collection snapshot", "collection", collectionID, "error", err)
	}
}

// errorMessage trims a captured failure for storage on the entity.
func errorMessage(err error) string {
	msg := err.Error()
	if len(msg) > 1024 {
		msg = msg[:1024]
	}
	return msg
}

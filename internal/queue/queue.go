// Package queue implements the durable at-least-once job queue the
// schema evolution engine consumes, backed by a MongoDB collection
// with lease/ack semantics.
package queue

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/plinthdb/plinth/internal/errs"
)

// Job lifecycle states. Terminal states stay queryable so callers can
// poll the async contract.
const (
	StatePending = "pending"
	StateLeased  = "leased"
	StateDone    = "done"
	StateFailed  = "failed"
)

// DefaultVisibility is how long a lease holds before a stalled job
// becomes eligible for redelivery.
const DefaultVisibility = 5 * time.Minute

// DefaultMaxAttempts bounds redeliveries before a job parks as failed.
const DefaultMaxAttempts = 5

// Job is one unit of durable work. Payload is an opaque BSON document
// owned by the job type's handler.
type Job struct {
	ID          string    `bson:"_id"`
	Type        string    `bson:"type"`
	ProjectID   string    `bson:"projectId"`
	Payload     bson.Raw  `bson:"payload"`
	State       string    `bson:"state"`
	Attempts    int       `bson:"attempts"`
	MaxAttempts int       `bson:"maxAttempts"`
	LeasedUntil time.Time `bson:"leasedUntil,omitempty"`
	Error       string    `bson:"error,omitempty"`
	CreatedAt   time.Time `bson:"createdAt"`
	UpdatedAt   time.Time `bson:"updatedAt"`
}

// DecodePayload unmarshals the job payload into out.
func (j *Job) DecodePayload(out any) error {
	return bson.Unmarshal(j.Payload, out)
}

// Queue is a durable job queue over one Mongo collection.
type Queue struct {
	col         *mongo.Collection
	visibility  time.Duration
	maxAttempts int
}

// New creates a queue on the given database.
func New(client *mongo.Client, database string) *Queue {
	return &Queue{
		col:         client.Database(database).Collection("jobs"),
		visibility:  DefaultVisibility,
		maxAttempts: DefaultMaxAttempts,
	}
}

// SetMaxAttempts changes the attempt cap stamped on newly enqueued
// jobs. Already-queued jobs keep the cap they were created with.
func (q *Queue) SetMaxAttempts(n int) {
	if n > 0 {
		q.maxAttempts = n
	}
}

// NewID returns a fresh job identifier.
func NewID() string {
	var b [12]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(fmt.Sprintf("reading random bytes: %v", err))
	}
	return hex.EncodeToString(b[:])
}

// Enqueue inserts a pending job, encoding payload as BSON.
func (q *Queue) Enqueue(ctx context.Context, jobType, projectID string, payload any) (*Job, error) {
	raw, err := bson.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding job payload: %w", err)
	}
	now := time.Now().UTC()
	job := &Job{
		ID:          NewID(),
		Type:        jobType,
		ProjectID:   projectID,
		Payload:     raw,
		State:       StatePending,
		MaxAttempts: q.maxAttempts,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if _, err := q.col.InsertOne(ctx, job); err != nil {
		return nil, fmt.Errorf("enqueuing %s job: %w", jobType, err)
	}
	return job, nil
}

// Lease atomically claims the oldest deliverable job of the given
// types: pending jobs, plus leased jobs whose visibility expired
// (at-least-once redelivery). Returns nil when the queue is drained.
func (q *Queue) Lease(ctx context.Context, types []string) (*Job, error) {
	now := time.Now().UTC()
	filter := bson.M{
		"type": bson.M{"$in": types},
		"$or": bson.A{
			bson.M{"state": StatePending},
			bson.M{"state": StateLeased, "leasedUntil": bson.M{"$lt": now}},
		},
	}
	update := bson.M{
		"$set": bson.M{
			"state":       StateLeased,
			"leasedUntil": now.Add(q.visibility),
			"updatedAt":   now,
		},
		"$inc": bson.M{"attempts": 1},
	}
	opts := options.FindOneAndUpdate().
		SetSort(bson.D{{Key: "createdAt", Value: 1}}).
		SetReturnDocument(options.After)

	var job Job
	err := q.col.FindOneAndUpdate(ctx, filter, update, opts).Decode(&job)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("leasing job: %w", err)
	}
	return &job, nil
}

// Ack marks a job done.
func (q *Queue) Ack(ctx context.Context, id string) error {
	_, err := q.col.UpdateOne(ctx, bson.M{"_id": id}, bson.M{
		"$set": bson.M{"state": StateDone, "error": "", "updatedAt": time.Now().UTC()},
	})
	return err
}

// Nack records a delivery failure. The job returns to pending until
// its attempts are exhausted, then parks as failed.
func (q *Queue) Nack(ctx context.Context, job *Job, cause error) error {
	state := StatePending
	if job.Attempts >= job.MaxAttempts {
		state = StateFailed
	}
	_, err := q.col.UpdateOne(ctx, bson.M{"_id": job.ID}, bson.M{
		"$set": bson.M{
			"state":     state,
			"error":     cause.Error(),
			"updatedAt": time.Now().UTC(),
		},
	})
	return err
}

// Get returns one job for status polling.
func (q *Queue) Get(ctx context.Context, id string) (*Job, error) {
	var job Job
	err := q.col.FindOne(ctx, bson.M{"_id": id}).Decode(&job)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, errs.NotFound("job %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// Stats summarizes queue depth by state.
type Stats struct {
	Pending int64 `json:"pending"`
	Leased  int64 `json:"leased"`
	Done    int64 `json:"done"`
	Failed  int64 `json:"failed"`
}

// CollectStats counts jobs per state.
func (q *Queue) CollectStats(ctx context.Context) (*Stats, error) {
	pipeline := bson.A{
		bson.D{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$state"},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
		}}},
	}
	cursor, err := q.col.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("aggregating queue stats: %w", err)
	}
	defer cursor.Close(ctx)

	stats := &Stats{}
	for cursor.Next(ctx) {
		var row struct {
			ID    string `bson:"_id"`
			Count int64  `bson:"count"`
		}
		if err := cursor.Decode(&row); err != nil {
			return nil, err
		}
		switch row.ID {
		case StatePending:
			stats.Pending = row.Count
		case StateLeased:
			stats.Leased = row.Count
		case StateDone:
			stats.Done = row.Count
		case StateFailed:
			stats.Failed = row.Count
		}
	}
	return stats, cursor.Err()
}

// Package audit records control-plane history and prunes it past the
// retention window.
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/plinthdb/plinth/internal/cascade"
	"github.com/plinthdb/plinth/internal/metadata"
)

// Store is the slice of the metadata store the auditor uses.
type Store interface {
	InsertAudit(ctx context.Context, e *metadata.AuditEntry) error
	AuditRetentionGroup(projectID string, cutoff time.Time) (cascade.FetchPage[metadata.AuditEntry], cascade.DeleteDoc[metadata.AuditEntry])
}

// NewID generates an audit entry identifier.
type NewID func() string

// Auditor writes audit entries and runs retention sweeps.
type Auditor struct {
	store  Store
	newID  NewID
	logger *slog.Logger
}

// New creates an auditor.
func New(store Store, newID NewID, logger *slog.Logger) *Auditor {
	return &Auditor{store: store, newID: newID, logger: logger}
}

// Record writes one audit entry. Failures are logged, not returned:
// history must never fail the operation it describes.
func (a *Auditor) Record(ctx context.Context, projectID, userID, event, resource, payload string) {
	entry := &metadata.AuditEntry{
		ID:        a.newID(),
		ProjectID: projectID,
		UserID:    userID,
		Event:     event,
		Resource:  resource,
		Payload:   payload,
		Time:      time.Now().UTC(),
	}
	if err := a.store.InsertAudit(ctx, entry); err != nil {
		a.logger.Warn("writing audit entry",
			"event", event, "resource", resource, "error", err)
	}
}

// Sweep prunes entries older than retain for one project, in bounded
// batches. Returns the number removed.
func (a *Auditor) Sweep(ctx context.Context, projectID string, retain time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-retain)
	fetch, del := a.store.AuditRetentionGroup(projectID, cutoff)
	return cascade.DeleteByGroup(ctx, a.logger, fetch, del, cascade.DefaultBatchSize, nil)
}

package evolution

import (
	"context"

	"github.com/plinthdb/plinth/internal/cascade"
	"github.com/plinthdb/plinth/internal/errs"
)

// deleteCollection tears down a collection: relationships pointing at
// it from other collections are deleted first so no foreign key is
// left dangling, then the table is dropped and the metadata cascaded.
func (e *Engine) deleteCollection(ctx context.Context, conn Conn, p *Payload) error {
	col, err := e.store.GetCollection(ctx, p.Collection.ID)
	if errs.IsKind(err, errs.KindNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	// A job enqueued against a different tenant database than the
	// collection now belongs to must not tear it down.
	if p.Database != "" && col.DatabaseID != "" && col.DatabaseID != p.Database {
		return errs.Validation("job database %q does not match collection database %q",
			p.Database, col.DatabaseID)
	}

	inbound, err := e.store.FindRelationshipsTo(ctx, col.ID)
	if err != nil {
		return err
	}
	for i := range inbound {
		if err := e.deleteAttributeEntity(ctx, conn, &inbound[i]); err != nil {
			return err
		}
	}

	// The drop is best-effort: a table that was never created (every
	// attribute failed) or was removed out of band must not wedge the
	// metadata teardown.
	if err := DropTable(ctx, conn, col.ID); err != nil {
		e.logger.Warn("dropping collection table",
			"collection", col.ID, "project", col.ProjectID, "error", err)
	}

	attrFetch, attrDel := e.store.AttributeGroup(col.ID)
	removedAttrs, err := cascade.DeleteByGroup(ctx, e.logger, attrFetch, attrDel, cascade.DefaultBatchSize, nil)
	if err != nil {
		return err
	}

	idxFetch, idxDel := e.store.IndexGroup(col.ID)
	removedIndexes, err := cascade.DeleteByGroup(ctx, e.logger, idxFetch, idxDel, cascade.DefaultBatchSize, nil)
	if err != nil {
		return err
	}

	auditFetch, auditDel := e.store.AuditGroup("collection/" + col.ID)
	if _, err := cascade.DeleteByGroup(ctx, e.logger, auditFetch, auditDel, cascade.DefaultBatchSize, nil); err != nil {
		return err
	}

	if err := e.store.RemoveCollection(ctx, col.ID); err != nil {
		return err
	}

	e.purgeCollection(ctx, col.ProjectID, col.ID)
	e.addUsage(col.ProjectID, "collections", -1)
	e.addUsage(col.ProjectID, "attributes", -int64(removedAttrs))
	e.addUsage(col.ProjectID, "indexes", -int64(removedIndexes))
	return nil
}

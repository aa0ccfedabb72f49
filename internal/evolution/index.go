package evolution

import (
	"context"

	"github.com/plinthdb/plinth/internal/errs"
	"github.com/plinthdb/plinth/internal/metadata"
)

// createIndex builds the physical index for a pending index record.
func (e *Engine) createIndex(ctx context.Context, conn Conn, p *Payload) error {
	if p.Index == nil {
		return errs.Validation("index.create payload has no index")
	}
	idx, err := e.store.GetIndex(ctx, p.Index.ID)
	if errs.IsKind(err, errs.KindNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if idx.Status != metadata.StatusPending {
		return nil
	}

	if ddlErr := CreateIndex(ctx, conn, idx.CollectionID, idx); ddlErr != nil {
		e.logger.Warn("index create failed",
			"index", idx.ID, "collection", idx.CollectionID, "error", ddlErr)
		if err := e.store.SetIndexStatus(ctx, idx.ID, metadata.StatusFailed, errorMessage(ddlErr)); err != nil {
			e.logger.Error("recording index failure", "index", idx.ID, "error", err)
		}
		return nil
	}

	if err := e.store.SetIndexStatus(ctx, idx.ID, metadata.StatusAvailable, ""); err != nil {
		return err
	}
	e.refresh(ctx, idx.CollectionID)
	e.purgeCollection(ctx, idx.ProjectID, idx.CollectionID)
	return nil
}

// deleteIndex drops the physical index and its metadata record.
func (e *Engine) deleteIndex(ctx context.Context, conn Conn, p *Payload) error {
	if p.Index == nil {
		return errs.Validation("index.delete payload has no index")
	}
	idx, err := e.store.GetIndex(ctx, p.Index.ID)
	if errs.IsKind(err, errs.KindNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := e.dropIndexEntity(ctx, conn, idx); err != nil {
		return err
	}
	e.refresh(ctx, idx.CollectionID)
	e.purgeCollection(ctx, idx.ProjectID, idx.CollectionID)
	return nil
}

// dropIndexEntity removes one index record and, unless the index
// failed to build in the first place, its physical counterpart. A
// failed drop marks the index stuck instead of erroring, so the
// worker moves on while the record stays visible for operators.
func (e *Engine) dropIndexEntity(ctx context.Context, conn Conn, idx *metadata.Index) error {
	if idx.Status != metadata.StatusFailed {
		if ddlErr := DropIndex(ctx, conn, idx.CollectionID, idx.Key); ddlErr != nil {
			e.logger.Warn("index drop failed, marking stuck",
				"index", idx.ID, "collection", idx.CollectionID, "error", ddlErr)
			if err := e.store.SetIndexStatus(ctx, idx.ID, metadata.StatusStuck, errorMessage(ddlErr)); err != nil {
				e.logger.Error("marking index stuck", "index", idx.ID, "error", err)
			}
			return nil
		}
	}
	if err := e.store.RemoveIndex(ctx, idx.ID); err != nil {
		return err
	}
	e.addUsage(idx.ProjectID, "indexes", -1)
	return nil
}

package evolution

import (
	"context"

	"github.com/plinthdb/plinth/internal/errs"
	"github.com/plinthdb/plinth/internal/metadata"
)

// createAttribute realizes a declared attribute as physical storage.
// The job payload's snapshot may be stale, so the attribute is
// re-fetched by id; an absent or already-processed attribute is a
// no-op, which makes at-least-once redelivery safe.
func (e *Engine) createAttribute(ctx context.Context, conn Conn, p *Payload) error {
	if p.Attribute == nil {
		return errs.Validation("attribute.create payload has no attribute")
	}
	attr, err := e.store.GetAttribute(ctx, p.Attribute.ID)
	if errs.IsKind(err, errs.KindNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if attr.Status != metadata.StatusPending {
		return nil
	}

	if !attr.IsRelationship() {
		if ddlErr := CreateColumn(ctx, conn, attr.CollectionID, attr); ddlErr != nil {
			e.failAttribute(ctx, attr, nil, ddlErr)
			return nil
		}
		if err := e.store.SetAttributeStatus(ctx, attr.ID, metadata.StatusAvailable, ""); err != nil {
			return err
		}
		e.refresh(ctx, attr.CollectionID)
		e.purgeCollection(ctx, attr.ProjectID, attr.CollectionID)
		return nil
	}

	related, err := e.store.GetCollection(ctx, attr.Options.RelatedCollection)
	if err != nil {
		if errs.IsKind(err, errs.KindNotFound) {
			e.failAttribute(ctx, attr, nil, err)
			return nil
		}
		return err
	}

	var sibling *metadata.Attribute
	if attr.Options.TwoWay {
		sibling, err = e.store.GetAttributeByKey(ctx, related.ID, attr.Options.TwoWayKey)
		if err != nil && !errs.IsKind(err, errs.KindNotFound) {
			return err
		}
	}

	if ddlErr := CreateRelationship(ctx, conn, attr.CollectionID, attr); ddlErr != nil {
		e.failAttribute(ctx, attr, sibling, ddlErr)
		return nil
	}

	// The sibling becomes available only once the join structure
	// actually exists.
	if sibling != nil && sibling.Status == metadata.StatusPending {
		if err := e.store.SetAttributeStatus(ctx, sibling.ID, metadata.StatusAvailable, ""); err != nil {
			return err
		}
	}
	if err := e.store.SetAttributeStatus(ctx, attr.ID, metadata.StatusAvailable, ""); err != nil {
		return err
	}

	e.refresh(ctx, attr.CollectionID)
	e.refresh(ctx, related.ID)
	e.purgeCollection(ctx, attr.ProjectID, attr.CollectionID)
	e.purgeCollection(ctx, attr.ProjectID, related.ID)
	return nil
}

// failAttribute captures a create failure on the attribute (and its
// sibling when one was resolved) without propagating: one tenant's
// broken DDL must not crash the worker or block other tenants.
func (e *Engine) failAttribute(ctx context.Context, attr, sibling *metadata.Attribute, cause error) {
	e.logger.Warn("attribute create failed",
		"attribute", attr.ID, "collection", attr.CollectionID, "error", cause)
	if err := e.store.SetAttributeStatus(ctx, attr.ID, metadata.StatusFailed, errorMessage(cause)); err != nil {
		e.logger.Error("recording attribute failure", "attribute", attr.ID, "error", err)
	}
	if sibling != nil && sibling.Status == metadata.StatusPending {
		if err := e.store.SetAttributeStatus(ctx, sibling.ID, metadata.StatusFailed, errorMessage(cause)); err != nil {
			e.logger.Error("recording sibling failure", "attribute", sibling.ID, "error", err)
		}
	}
}

// deleteAttribute drops an attribute's physical storage and metadata,
// then shrinks every index that referenced it.
func (e *Engine) deleteAttribute(ctx context.Context, conn Conn, p *Payload) error {
	if p.Attribute == nil {
		return errs.Validation("attribute.delete payload has no attribute")
	}
	attr, err := e.store.GetAttribute(ctx, p.Attribute.ID)
	if errs.IsKind(err, errs.KindNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return e.deleteAttributeEntity(ctx, conn, attr)
}

// deleteAttributeEntity is the shared teardown used by the delete job
// and by deleteCollection's relationship fan-out.
func (e *Engine) deleteAttributeEntity(ctx context.Context, conn Conn, attr *metadata.Attribute) error {
	var sibling *metadata.Attribute
	relatedID := ""
	if attr.IsRelationship() {
		relatedID = attr.Options.RelatedCollection
		if attr.Options.TwoWay {
			s, err := e.store.GetAttributeByKey(ctx, relatedID, attr.Options.TwoWayKey)
			if err == nil {
				sibling = s
			} else if !errs.IsKind(err, errs.KindNotFound) {
				return err
			}
		}
	}

	// A failed attribute was never physically created: deleting it
	// only removes the metadata record.
	if attr.Status != metadata.StatusFailed {
		var ddlErr error
		if attr.IsRelationship() {
			ddlErr = DropRelationship(ctx, conn, attr.CollectionID, attr)
		} else {
			ddlErr = DropColumn(ctx, conn, attr.CollectionID, attr.Key)
		}
		if ddlErr != nil {
			// The drop failed: both sides are marked stuck so the
			// two-way pair can never silently diverge. The structural
			// error is recorded, not re-thrown.
			e.markStuck(ctx, attr, sibling, ddlErr)
			return nil
		}
	}

	if err := e.store.RemoveAttribute(ctx, attr.ID); err != nil {
		return err
	}
	if sibling != nil {
		if err := e.store.RemoveAttribute(ctx, sibling.ID); err != nil {
			return err
		}
	}

	if err := e.shrinkIndexes(ctx, conn, attr); err != nil {
		return err
	}

	e.refresh(ctx, attr.CollectionID)
	e.purgeCollection(ctx, attr.ProjectID, attr.CollectionID)
	if relatedID != "" {
		e.refresh(ctx, relatedID)
		e.purgeCollection(ctx, attr.ProjectID, relatedID)
	}
	e.addUsage(attr.ProjectID, "attributes", -1)
	return nil
}

// markStuck records a failed drop on both sides of the attribute. An
// attribute that is still pending has no confirmed physical form, so
// it is parked failed instead; stuck is reserved for entities that
// were available when the drop broke.
func (e *Engine) markStuck(ctx context.Context, attr, sibling *metadata.Attribute, cause error) {
	e.logger.Warn("attribute drop failed",
		"attribute", attr.ID, "collection", attr.CollectionID, "error", cause)
	e.parkAttribute(ctx, attr, cause)
	if sibling != nil {
		e.parkAttribute(ctx, sibling, cause)
	}
}

func (e *Engine) parkAttribute(ctx context.Context, attr *metadata.Attribute, cause error) {
	status := metadata.StatusStuck
	if attr.Status == metadata.StatusPending {
		status = metadata.StatusFailed
	}
	if err := e.store.SetAttributeStatus(ctx, attr.ID, status, errorMessage(cause)); err != nil {
		e.logger.Error("recording attribute drop failure", "attribute", attr.ID, "error", err)
	}
}

// shrinkIndexes removes the deleted attribute key from every index of
// the owning collection. An index shrunk to nothing is deleted; an
// index whose shrunk (attributes, orders) pair value-duplicates
// another existing index — excluding itself by key — is deleted
// rather than kept alongside the duplicate.
func (e *Engine) shrinkIndexes(ctx context.Context, conn Conn, attr *metadata.Attribute) error {
	indexes, err := e.store.ListIndexes(ctx, attr.CollectionID)
	if err != nil {
		return err
	}

	live := make([]*metadata.Index, len(indexes))
	for i := range indexes {
		live[i] = &indexes[i]
	}
	removed := make(map[string]bool)

	for _, idx := range live {
		if removed[idx.ID] {
			continue
		}
		pos := -1
		for n, key := range idx.Attributes {
			if key == attr.Key {
				pos = n
				break
			}
		}
		if pos < 0 {
			continue
		}

		idx.Attributes = append(idx.Attributes[:pos], idx.Attributes[pos+1:]...)
		if pos < len(idx.Orders) {
			idx.Orders = append(idx.Orders[:pos], idx.Orders[pos+1:]...)
		}

		if len(idx.Attributes) == 0 {
			if err := e.dropIndexEntity(ctx, conn, idx); err != nil {
				return err
			}
			removed[idx.ID] = true
			continue
		}

		duplicate := false
		for _, other := range live {
			if removed[other.ID] || other.Key == idx.Key {
				continue
			}
			if idx.SameShape(other) {
				duplicate = true
				break
			}
		}
		if duplicate {
			if err := e.dropIndexEntity(ctx, conn, idx); err != nil {
				return err
			}
			removed[idx.ID] = true
			continue
		}

		if err := e.store.SaveIndex(ctx, idx); err != nil {
			return err
		}
		// Postgres drops every composite index containing the removed
		// column together with the column itself, so the shrunk shape
		// has to be rebuilt or the metadata record has no physical
		// counterpart.
		if ddlErr := CreateIndex(ctx, conn, attr.CollectionID, idx); ddlErr != nil {
			e.logger.Warn("index rebuild after shrink failed, marking stuck",
				"index", idx.ID, "collection", attr.CollectionID, "error", ddlErr)
			if err := e.store.SetIndexStatus(ctx, idx.ID, metadata.StatusStuck, errorMessage(ddlErr)); err != nil {
				e.logger.Error("marking index stuck", "index", idx.ID, "error", err)
			}
		}
	}
	return nil
}

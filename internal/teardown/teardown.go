// Package teardown removes an entity and everything hanging off it:
// a team with its memberships, a user with their sessions, tokens,
// identities, push targets, memberships, and audit trail.
package teardown

import (
	"context"
	"log/slog"
	"time"

	"github.com/plinthdb/plinth/internal/cascade"
	"github.com/plinthdb/plinth/internal/errs"
	"github.com/plinthdb/plinth/internal/metadata"
	"github.com/plinthdb/plinth/internal/stats"
)

// EntityStore is the slice of the metadata store teardown sweeps over.
type EntityStore interface {
	GetTeam(ctx context.Context, id string) (*metadata.Team, error)
	RemoveTeam(ctx context.Context, id string) error
	DecrementTeamTotal(ctx context.Context, teamID string) error

	MembershipsByTeam(teamID string) (cascade.FetchPage[metadata.Membership], cascade.DeleteDoc[metadata.Membership])
	MembershipsByUser(userID string) (cascade.FetchPage[metadata.Membership], cascade.DeleteDoc[metadata.Membership])
	SessionsByUser(userID string) (cascade.FetchPage[metadata.Session], cascade.DeleteDoc[metadata.Session])
	TokensByUser(userID string) (cascade.FetchPage[metadata.Token], cascade.DeleteDoc[metadata.Token])
	IdentitiesByUser(userID string) (cascade.FetchPage[metadata.Identity], cascade.DeleteDoc[metadata.Identity])
	TargetsByUser(userID string) (cascade.FetchPage[metadata.Target], cascade.DeleteDoc[metadata.Target])
	ExpiredSessions(now time.Time) (cascade.FetchPage[metadata.Session], cascade.DeleteDoc[metadata.Session])
	AuditGroup(resource string) (cascade.FetchPage[metadata.AuditEntry], cascade.DeleteDoc[metadata.AuditEntry])
}

// Runner executes teardown flows.
type Runner struct {
	store  EntityStore
	usage  *stats.Aggregator
	logger *slog.Logger
}

// New creates a runner. usage may be nil.
func New(store EntityStore, usage *stats.Aggregator, logger *slog.Logger) *Runner {
	return &Runner{store: store, usage: usage, logger: logger}
}

func (r *Runner) addUsage(projectID, key string, delta int64) {
	if r.usage != nil {
		r.usage.Add(projectID, key, delta)
	}
}

// DeleteTeam removes every membership of the team, then the team
// itself and its audit trail. Deleting an absent team is a NotFound.
func (r *Runner) DeleteTeam(ctx context.Context, id string) error {
	team, err := r.store.GetTeam(ctx, id)
	if err != nil {
		return err
	}

	fetch, del := r.store.MembershipsByTeam(id)
	if _, err := cascade.DeleteByGroup(ctx, r.logger, fetch, del, cascade.DefaultBatchSize, nil); err != nil {
		return err
	}

	auditFetch, auditDel := r.store.AuditGroup("team/" + id)
	if _, err := cascade.DeleteByGroup(ctx, r.logger, auditFetch, auditDel, cascade.DefaultBatchSize, nil); err != nil {
		return err
	}

	if err := r.store.RemoveTeam(ctx, id); err != nil {
		return err
	}
	r.addUsage(team.ProjectID, "teams", -1)
	return nil
}

// DeleteUser removes everything attached to a user. Confirmed
// memberships decrement their team's member count as they go; a team
// that vanished concurrently is skipped, not fatal.
func (r *Runner) DeleteUser(ctx context.Context, projectID, userID string) error {
	memFetch, memDel := r.store.MembershipsByUser(userID)
	if _, err := cascade.DeleteByGroup(ctx, r.logger, memFetch, memDel, cascade.DefaultBatchSize, func(m metadata.Membership) {
		if !m.Confirmed {
			return
		}
		if err := r.store.DecrementTeamTotal(ctx, m.TeamID); err != nil && !errs.IsKind(err, errs.KindNotFound) {
			r.logger.Warn("decrementing team total", "team", m.TeamID, "error", err)
		}
	}); err != nil {
		return err
	}

	sesFetch, sesDel := r.store.SessionsByUser(userID)
	if _, err := cascade.DeleteByGroup(ctx, r.logger, sesFetch, sesDel, cascade.DefaultBatchSize, nil); err != nil {
		return err
	}
	tokFetch, tokDel := r.store.TokensByUser(userID)
	if _, err := cascade.DeleteByGroup(ctx, r.logger, tokFetch, tokDel, cascade.DefaultBatchSize, nil); err != nil {
		return err
	}
	idFetch, idDel := r.store.IdentitiesByUser(userID)
	if _, err := cascade.DeleteByGroup(ctx, r.logger, idFetch, idDel, cascade.DefaultBatchSize, nil); err != nil {
		return err
	}
	tgtFetch, tgtDel := r.store.TargetsByUser(userID)
	if _, err := cascade.DeleteByGroup(ctx, r.logger, tgtFetch, tgtDel, cascade.DefaultBatchSize, nil); err != nil {
		return err
	}

	auditFetch, auditDel := r.store.AuditGroup("user/" + userID)
	if _, err := cascade.DeleteByGroup(ctx, r.logger, auditFetch, auditDel, cascade.DefaultBatchSize, nil); err != nil {
		return err
	}

	r.addUsage(projectID, "users", -1)
	return nil
}

// SweepExpiredSessions prunes sessions past their expiry, in bounded
// batches. Returns the number removed.
func (r *Runner) SweepExpiredSessions(ctx context.Context, now time.Time) (int, error) {
	fetch, del := r.store.ExpiredSessions(now)
	return cascade.DeleteByGroup(ctx, r.logger, fetch, del, cascade.DefaultBatchSize, nil)
}

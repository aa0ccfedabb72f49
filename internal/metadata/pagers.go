package metadata

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/plinthdb/plinth/internal/cascade"
)

// DocID implementations let the record types flow through the cascade
// engine's paging loops.

func (a Attribute) DocID() string  { return a.ID }
func (i Index) DocID() string      { return i.ID }
func (c Collection) DocID() string { return c.ID }
func (e AuditEntry) DocID() string { return e.ID }
func (t Team) DocID() string       { return t.ID }
func (m Membership) DocID() string { return m.ID }
func (s Session) DocID() string    { return s.ID }
func (t Token) DocID() string      { return t.ID }
func (i Identity) DocID() string   { return i.ID }
func (t Target) DocID() string     { return t.ID }

func fetchFor[T cascade.Identifiable](col *mongo.Collection, filter bson.M) cascade.FetchPage[T] {
	return func(ctx context.Context, limit int, after string) ([]T, error) {
		return page[T](ctx, col, filter, limit, after)
	}
}

func deleteFor[T cascade.Identifiable](col *mongo.Collection) cascade.DeleteDoc[T] {
	return func(ctx context.Context, doc T) error {
		return deleteByID(ctx, col, doc.DocID())
	}
}

// AttributeGroup pages a collection's attribute records.
func (s *Store) AttributeGroup(collectionID string) (cascade.FetchPage[Attribute], cascade.DeleteDoc[Attribute]) {
	col := s.col(colAttributes)
	return fetchFor[Attribute](col, bson.M{"collectionId": collectionID}), deleteFor[Attribute](col)
}

// IndexGroup pages a collection's index records.
func (s *Store) IndexGroup(collectionID string) (cascade.FetchPage[Index], cascade.DeleteDoc[Index]) {
	col := s.col(colIndexes)
	return fetchFor[Index](col, bson.M{"collectionId": collectionID}), deleteFor[Index](col)
}

// CollectionGroup pages a database's collections.
func (s *Store) CollectionGroup(databaseID string) (cascade.FetchPage[Collection], cascade.DeleteDoc[Collection]) {
	col := s.col(colCollections)
	return fetchFor[Collection](col, bson.M{"databaseId": databaseID}), deleteFor[Collection](col)
}

// AuditGroup pages audit entries for a resource.
func (s *Store) AuditGroup(resource string) (cascade.FetchPage[AuditEntry], cascade.DeleteDoc[AuditEntry]) {
	col := s.col(colAudit)
	return fetchFor[AuditEntry](col, bson.M{"resource": resource}), deleteFor[AuditEntry](col)
}

// AuditRetentionGroup pages audit entries older than the cutoff,
// newest first — the retention sweep order.
func (s *Store) AuditRetentionGroup(projectID string, cutoff time.Time) (cascade.FetchPage[AuditEntry], cascade.DeleteDoc[AuditEntry]) {
	col := s.col(colAudit)
	filter := bson.M{"projectId": projectID, "time": bson.M{"$lt": cutoff}}
	// Offset-style paging: each pass refetches the newest remaining
	// page, which shrinks as it is deleted.
	fetch := func(ctx context.Context, limit int, _ string) ([]AuditEntry, error) {
		return pageDescending[AuditEntry](ctx, col, filter, "time", limit)
	}
	return fetch, deleteFor[AuditEntry](col)
}

// MembershipsByTeam pages a team's membership records.
func (s *Store) MembershipsByTeam(teamID string) (cascade.FetchPage[Membership], cascade.DeleteDoc[Membership]) {
	col := s.col(colMemberships)
	return fetchFor[Membership](col, bson.M{"teamId": teamID}), deleteFor[Membership](col)
}

// MembershipsByUser pages a user's membership records.
func (s *Store) MembershipsByUser(userID string) (cascade.FetchPage[Membership], cascade.DeleteDoc[Membership]) {
	col := s.col(colMemberships)
	return fetchFor[Membership](col, bson.M{"userId": userID}), deleteFor[Membership](col)
}

// SessionsByUser pages a user's sessions.
func (s *Store) SessionsByUser(userID string) (cascade.FetchPage[Session], cascade.DeleteDoc[Session]) {
	col := s.col(colSessions)
	return fetchFor[Session](col, bson.M{"userId": userID}), deleteFor[Session](col)
}

// TokensByUser pages a user's tokens.
func (s *Store) TokensByUser(userID string) (cascade.FetchPage[Token], cascade.DeleteDoc[Token]) {
	col := s.col(colTokens)
	return fetchFor[Token](col, bson.M{"userId": userID}), deleteFor[Token](col)
}

// IdentitiesByUser pages a user's federated identities.
func (s *Store) IdentitiesByUser(userID string) (cascade.FetchPage[Identity], cascade.DeleteDoc[Identity]) {
	col := s.col(colIdentities)
	return fetchFor[Identity](col, bson.M{"userId": userID}), deleteFor[Identity](col)
}

// TargetsByUser pages a user's delivery targets.
func (s *Store) TargetsByUser(userID string) (cascade.FetchPage[Target], cascade.DeleteDoc[Target]) {
	col := s.col(colTargets)
	return fetchFor[Target](col, bson.M{"userId": userID}), deleteFor[Target](col)
}

// ExpiredSessions pages sessions whose expiry has passed, for the
// scheduled garbage-collection sweep.
func (s *Store) ExpiredSessions(now time.Time) (cascade.FetchPage[Session], cascade.DeleteDoc[Session]) {
	col := s.col(colSessions)
	return fetchFor[Session](col, bson.M{"expire": bson.M{"$lt": now}}), deleteFor[Session](col)
}

// GetTeam and DecrementTeamTotal support membership teardown callbacks.

func (s *Store) GetTeam(ctx context.Context, id string) (*Team, error) {
	var t Team
	if err := s.col(colTeams).FindOne(ctx, bson.M{"_id": id}).Decode(&t); err != nil {
		return nil, translate(err, "team", id)
	}
	return &t, nil
}

func (s *Store) RemoveTeam(ctx context.Context, id string) error {
	return deleteByID(ctx, s.col(colTeams), id)
}

func (s *Store) DecrementTeamTotal(ctx context.Context, teamID string) error {
	_, err := s.col(colTeams).UpdateOne(ctx, bson.M{"_id": teamID}, bson.M{"$inc": bson.M{"total": -1}})
	return err
}

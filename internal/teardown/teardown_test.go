package teardown

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"testing"
	"time"

	"github.com/plinthdb/plinth/internal/cascade"
	"github.com/plinthdb/plinth/internal/errs"
	"github.com/plinthdb/plinth/internal/metadata"
)

type fakeEntityStore struct {
	teams       map[string]*metadata.Team
	memberships map[string]*metadata.Membership
	sessions    map[string]*metadata.Session
	tokens      map[string]*metadata.Token
	identities  map[string]*metadata.Identity
	targets     map[string]*metadata.Target
	audits      map[string]*metadata.AuditEntry

	decrements map[string]int
}

func newFakeEntityStore() *fakeEntityStore {
	return &fakeEntityStore{
		teams:       map[string]*metadata.Team{},
		memberships: map[string]*metadata.Membership{},
		sessions:    map[string]*metadata.Session{},
		tokens:      map[string]*metadata.Token{},
		identities:  map[string]*metadata.Identity{},
		targets:     map[string]*metadata.Target{},
		audits:      map[string]*metadata.AuditEntry{},
		decrements:  map[string]int{},
	}
}

func (s *fakeEntityStore) GetTeam(ctx context.Context, id string) (*metadata.Team, error) {
	t, ok := s.teams[id]
	if !ok {
		return nil, errs.NotFound("team %s not found", id)
	}
	cp := *t
	return &cp, nil
}

func (s *fakeEntityStore) RemoveTeam(ctx context.Context, id string) error {
	if _, ok := s.teams[id]; !ok {
		return errs.NotFound("team %s not found", id)
	}
	delete(s.teams, id)
	return nil
}

func (s *fakeEntityStore) DecrementTeamTotal(ctx context.Context, teamID string) error {
	if _, ok := s.teams[teamID]; !ok {
		return errs.NotFound("team %s not found", teamID)
	}
	s.decrements[teamID]++
	return nil
}

// group builds a cursor-paged fetch/delete pair over a map of records.
func group[T cascade.Identifiable](records map[string]*T, match func(*T) bool) (cascade.FetchPage[T], cascade.DeleteDoc[T]) {
	fetch := func(ctx context.Context, limit int, after string) ([]T, error) {
		var out []T
		for _, rec := range records {
			doc := *rec
			if match(rec) && doc.DocID() > after {
				out = append(out, doc)
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].DocID() < out[j].DocID() })
		if len(out) > limit {
			out = out[:limit]
		}
		return out, nil
	}
	del := func(ctx context.Context, doc T) error {
		if _, ok := records[doc.DocID()]; !ok {
			return errs.NotFound("record %s not found", doc.DocID())
		}
		delete(records, doc.DocID())
		return nil
	}
	return fetch, del
}

func (s *fakeEntityStore) MembershipsByTeam(teamID string) (cascade.FetchPage[metadata.Membership], cascade.DeleteDoc[metadata.Membership]) {
	return group(s.memberships, func(m *metadata.Membership) bool { return m.TeamID == teamID })
}

func (s *fakeEntityStore) MembershipsByUser(userID string) (cascade.FetchPage[metadata.Membership], cascade.DeleteDoc[metadata.Membership]) {
	return group(s.memberships, func(m *metadata.Membership) bool { return m.UserID == userID })
}

func (s *fakeEntityStore) SessionsByUser(userID string) (cascade.FetchPage[metadata.Session], cascade.DeleteDoc[metadata.Session]) {
	return group(s.sessions, func(x *metadata.Session) bool { return x.UserID == userID })
}

func (s *fakeEntityStore) TokensByUser(userID string) (cascade.FetchPage[metadata.Token], cascade.DeleteDoc[metadata.Token]) {
	return group(s.tokens, func(x *metadata.Token) bool { return x.UserID == userID })
}

func (s *fakeEntityStore) IdentitiesByUser(userID string) (cascade.FetchPage[metadata.Identity], cascade.DeleteDoc[metadata.Identity]) {
	return group(s.identities, func(x *metadata.Identity) bool { return x.UserID == userID })
}

func (s *fakeEntityStore) TargetsByUser(userID string) (cascade.FetchPage[metadata.Target], cascade.DeleteDoc[metadata.Target]) {
	return group(s.targets, func(x *metadata.Target) bool { return x.UserID == userID })
}

func (s *fakeEntityStore) ExpiredSessions(now time.Time) (cascade.FetchPage[metadata.Session], cascade.DeleteDoc[metadata.Session]) {
	return group(s.sessions, func(x *metadata.Session) bool { return x.Expire.Before(now) })
}

func (s *fakeEntityStore) AuditGroup(resource string) (cascade.FetchPage[metadata.AuditEntry], cascade.DeleteDoc[metadata.AuditEntry]) {
	return group(s.audits, func(x *metadata.AuditEntry) bool { return x.Resource == resource })
}

func testRunner(store EntityStore) *Runner {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(store, nil, logger)
}

func TestDeleteTeamRemovesAllMemberships(t *testing.T) {
	for _, n := range []int{0, 1, 500} {
		t.Run(fmt.Sprintf("%d members", n), func(t *testing.T) {
			store := newFakeEntityStore()
			store.teams["team1"] = &metadata.Team{ID: "team1", ProjectID: "p1"}
			for i := 0; i < n; i++ {
				id := fmt.Sprintf("m%04d", i)
				store.memberships[id] = &metadata.Membership{
					ID: id, ProjectID: "p1", TeamID: "team1", UserID: fmt.Sprintf("u%d", i),
				}
			}
			// A membership of another team must survive.
			store.memberships["other"] = &metadata.Membership{
				ID: "other", ProjectID: "p1", TeamID: "team2", UserID: "ux",
			}

			r := testRunner(store)
			if err := r.DeleteTeam(context.Background(), "team1"); err != nil {
				t.Fatalf("DeleteTeam: %v", err)
			}
			if _, ok := store.teams["team1"]; ok {
				t.Fatal("team record should be removed")
			}
			if len(store.memberships) != 1 {
				t.Fatalf("expected only the unrelated membership to remain, have %d", len(store.memberships))
			}
			if _, ok := store.memberships["other"]; !ok {
				t.Fatal("unrelated membership should survive")
			}
		})
	}
}

func TestDeleteTeamNotFound(t *testing.T) {
	r := testRunner(newFakeEntityStore())
	err := r.DeleteTeam(context.Background(), "ghost")
	if !errs.IsKind(err, errs.KindNotFound) {
		t.Fatalf("expected not_found, got %v", err)
	}
}

func TestDeleteTeamRemovesAuditTrail(t *testing.T) {
	store := newFakeEntityStore()
	store.teams["team1"] = &metadata.Team{ID: "team1", ProjectID: "p1"}
	store.audits["e1"] = &metadata.AuditEntry{ID: "e1", ProjectID: "p1", Resource: "team/team1"}
	store.audits["e2"] = &metadata.AuditEntry{ID: "e2", ProjectID: "p1", Resource: "team/team2"}

	r := testRunner(store)
	if err := r.DeleteTeam(context.Background(), "team1"); err != nil {
		t.Fatalf("DeleteTeam: %v", err)
	}
	if _, ok := store.audits["e1"]; ok {
		t.Fatal("team audit entries should be removed")
	}
	if _, ok := store.audits["e2"]; !ok {
		t.Fatal("other team's audit entries should survive")
	}
}

func TestDeleteUserRemovesEverything(t *testing.T) {
	store := newFakeEntityStore()
	store.teams["team1"] = &metadata.Team{ID: "team1", ProjectID: "p1", Total: 2}
	store.memberships["m1"] = &metadata.Membership{ID: "m1", ProjectID: "p1", TeamID: "team1", UserID: "u1", Confirmed: true}
	store.memberships["m2"] = &metadata.Membership{ID: "m2", ProjectID: "p1", TeamID: "team1", UserID: "u1", Confirmed: false}
	store.sessions["s1"] = &metadata.Session{ID: "s1", ProjectID: "p1", UserID: "u1"}
	store.tokens["t1"] = &metadata.Token{ID: "t1", ProjectID: "p1", UserID: "u1"}
	store.identities["id1"] = &metadata.Identity{ID: "id1", ProjectID: "p1", UserID: "u1"}
	store.targets["tg1"] = &metadata.Target{ID: "tg1", ProjectID: "p1", UserID: "u1"}
	store.audits["e1"] = &metadata.AuditEntry{ID: "e1", ProjectID: "p1", Resource: "user/u1"}
	store.sessions["keep"] = &metadata.Session{ID: "keep", ProjectID: "p1", UserID: "u2"}

	r := testRunner(store)
	if err := r.DeleteUser(context.Background(), "p1", "u1"); err != nil {
		t.Fatalf("DeleteUser: %v", err)
	}
	if len(store.memberships) != 0 {
		t.Fatalf("memberships remaining: %d", len(store.memberships))
	}
	if len(store.tokens) != 0 || len(store.identities) != 0 || len(store.targets) != 0 {
		t.Fatal("tokens, identities, and targets should be removed")
	}
	if len(store.audits) != 0 {
		t.Fatal("user audit entries should be removed")
	}
	if _, ok := store.sessions["keep"]; !ok {
		t.Fatal("another user's session should survive")
	}
	if len(store.sessions) != 1 {
		t.Fatalf("sessions remaining: %d", len(store.sessions))
	}
	// Only the confirmed membership counts against the team total.
	if store.decrements["team1"] != 1 {
		t.Fatalf("team decrements = %d, want 1", store.decrements["team1"])
	}
}

func TestDeleteUserToleratesVanishedTeam(t *testing.T) {
	store := newFakeEntityStore()
	store.memberships["m1"] = &metadata.Membership{ID: "m1", ProjectID: "p1", TeamID: "gone", UserID: "u1", Confirmed: true}

	r := testRunner(store)
	if err := r.DeleteUser(context.Background(), "p1", "u1"); err != nil {
		t.Fatalf("DeleteUser with vanished team: %v", err)
	}
	if len(store.memberships) != 0 {
		t.Fatal("membership should still be removed")
	}
}

func TestSweepExpiredSessions(t *testing.T) {
	now := time.Now()
	store := newFakeEntityStore()
	store.sessions["old"] = &metadata.Session{ID: "old", UserID: "u1", Expire: now.Add(-time.Hour)}
	store.sessions["live"] = &metadata.Session{ID: "live", UserID: "u1", Expire: now.Add(time.Hour)}

	r := testRunner(store)
	n, err := r.SweepExpiredSessions(context.Background(), now)
	if err != nil {
		t.Fatalf("SweepExpiredSessions: %v", err)
	}
	if n != 1 {
		t.Fatalf("swept %d, want 1", n)
	}
	if _, ok := store.sessions["live"]; !ok {
		t.Fatal("unexpired session should survive")
	}
}

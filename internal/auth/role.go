// Package auth implements role resolution, permission-string evaluation,
// and the skip-scope used by trusted internal operations.
package auth

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/plinthdb/plinth/internal/errs"
)

// RoleKind is the closed set of principal classes.
type RoleKind string

const (
	RoleAny    RoleKind = "any"
	RoleUsers  RoleKind = "users"
	RoleUser   RoleKind = "user"
	RoleTeam   RoleKind = "team"
	RoleMember RoleKind = "member"
	RoleGuests RoleKind = "guests"
	RoleLabel  RoleKind = "label"
)

// Verification dimensions for user/users roles.
const (
	DimensionVerified   = "verified"
	DimensionUnverified = "unverified"
)

// Role identifies a principal class. The canonical string form is
// "kind", "kind:id", or "kind:id/dimension" — the form embedded in
// permission strings, e.g. team:abc/owner.
type Role struct {
	Kind      RoleKind
	ID        string
	Dimension string
}

// Constructors mirror the declarative grammar: any(), users(),
// users(verified), user(id), user(id,unverified), team(id),
// team(id,subRole), member(membershipId), guests(), label(name).

func Any() Role                       { return Role{Kind: RoleAny} }
func Guests() Role                    { return Role{Kind: RoleGuests} }
func Users(dimension string) Role     { return Role{Kind: RoleUsers, Dimension: dimension} }
func User(id, dimension string) Role  { return Role{Kind: RoleUser, ID: id, Dimension: dimension} }
func Team(id, subRole string) Role    { return Role{Kind: RoleTeam, ID: id, Dimension: subRole} }
func Member(membershipID string) Role { return Role{Kind: RoleMember, ID: membershipID} }
func Label(name string) Role          { return Role{Kind: RoleLabel, ID: name} }

var identPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]*$`)

// String renders the canonical form.
func (r Role) String() string {
	s := string(r.Kind)
	if r.ID != "" {
		s += ":" + r.ID
	}
	if r.Dimension != "" {
		s += "/" + r.Dimension
	}
	return s
}

// ParseRole parses the canonical string form of a role. It is the exact
// inverse of Role.String for every valid role.
func ParseRole(s string) (Role, error) {
	var r Role
	rest := s
	if i := strings.IndexByte(rest, ':'); i >= 0 {
		r.Kind = RoleKind(rest[:i])
		rest = rest[i+1:]
		if j := strings.IndexByte(rest, '/'); j >= 0 {
			r.ID = rest[:j]
			r.Dimension = rest[j+1:]
		} else {
			r.ID = rest
		}
	} else if j := strings.IndexByte(rest, '/'); j >= 0 {
		r.Kind = RoleKind(rest[:j])
		r.Dimension = rest[j+1:]
	} else {
		r.Kind = RoleKind(rest)
	}
	if err := r.validate(); err != nil {
		return Role{}, err
	}
	return r, nil
}

func (r Role) validate() error {
	switch r.Kind {
	case RoleAny, RoleGuests:
		if r.ID != "" || r.Dimension != "" {
			return errs.Validation("role %s() takes no identifier", r.Kind)
		}
	case RoleUsers:
		if r.ID != "" {
			return errs.Validation("role users() takes no identifier")
		}
		if r.Dimension != "" && r.Dimension != DimensionVerified && r.Dimension != DimensionUnverified {
			return errs.Validation("invalid verification dimension %q", r.Dimension)
		}
	case RoleUser:
		if r.ID == "" {
			return errs.Validation("role user() requires an identifier")
		}
		if !identPattern.MatchString(r.ID) {
			return errs.Validation("invalid user identifier %q", r.ID)
		}
		if r.Dimension != "" && r.Dimension != DimensionVerified && r.Dimension != DimensionUnverified {
			return errs.Validation("invalid verification dimension %q", r.Dimension)
		}
	case RoleTeam:
		if r.ID == "" {
			return errs.Validation("role team() requires an identifier")
		}
		if !identPattern.MatchString(r.ID) {
			return errs.Validation("invalid team identifier %q", r.ID)
		}
		if r.Dimension != "" && !identPattern.MatchString(r.Dimension) {
			return errs.Validation("invalid team sub-role %q", r.Dimension)
		}
	case RoleMember:
		if r.ID == "" || !identPattern.MatchString(r.ID) {
			return errs.Validation("role member() requires a membership identifier")
		}
		if r.Dimension != "" {
			return errs.Validation("role member() takes no dimension")
		}
	case RoleLabel:
		if r.ID == "" || !identPattern.MatchString(r.ID) {
			return errs.Validation("role label() requires a name")
		}
		if r.Dimension != "" {
			return errs.Validation("role label() takes no dimension")
		}
	default:
		return errs.Validation("unknown role %q", string(r.Kind))
	}
	return nil
}

// RoleSet is an unordered set of resolved roles.
type RoleSet map[string]Role

// NewRoleSet builds a set from roles, deduplicating by canonical string.
func NewRoleSet(roles ...Role) RoleSet {
	set := make(RoleSet, len(roles))
	for _, r := range roles {
		set[r.String()] = r
	}
	return set
}

// Contains reports whether the canonical form of r is in the set.
func (s RoleSet) Contains(r Role) bool {
	_, ok := s[r.String()]
	return ok
}

// Add inserts a role into the set.
func (s RoleSet) Add(r Role) { s[r.String()] = r }

// Strings returns the canonical forms, order unspecified.
func (s RoleSet) Strings() []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	return out
}

func (s RoleSet) String() string {
	return fmt.Sprintf("[%s]", strings.Join(s.Strings(), " "))
}

package auth

import (
	"fmt"
	"strings"

	"github.com/plinthdb/plinth/internal/errs"
)

// Action is a permission verb. Create is only meaningful at the
// collection/table level.
type Action string

const (
	ActionRead   Action = "read"
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// ValidAction reports whether a belongs to the closed action set.
func ValidAction(a Action) bool {
	switch a {
	case ActionRead, ActionCreate, ActionUpdate, ActionDelete:
		return true
	}
	return false
}

// Permission is an (action, role) pair attached to a document or
// collection. The canonical wire form is action("role").
type Permission struct {
	Action Action
	Role   Role
}

// FormatPermission renders the canonical string, e.g. read("team:abc/owner").
func FormatPermission(action Action, role Role) string {
	return fmt.Sprintf("%s(%q)", action, role.String())
}

// String renders the canonical wire form.
func (p Permission) String() string {
	return FormatPermission(p.Action, p.Role)
}

// ParsePermission parses the canonical form. ParsePermission and
// FormatPermission are exact inverses for every valid pair.
func ParsePermission(s string) (Permission, error) {
	open := strings.IndexByte(s, '(')
	if open < 0 || !strings.HasSuffix(s, ")") {
		return Permission{}, errs.Validation("malformed permission %q: expected action(\"role\")", s)
	}
	action := Action(s[:open])
	if !ValidAction(action) {
		return Permission{}, errs.Validation("unknown permission action %q", string(action))
	}
	inner := s[open+1 : len(s)-1]
	if len(inner) < 2 || inner[0] != '"' || inner[len(inner)-1] != '"' {
		return Permission{}, errs.Validation("malformed permission %q: role must be double-quoted", s)
	}
	role, err := ParseRole(inner[1 : len(inner)-1])
	if err != nil {
		return Permission{}, err
	}
	return Permission{Action: action, Role: role}, nil
}

// ParsePermissions parses a list, failing on the first malformed entry.
func ParsePermissions(entries []string) ([]Permission, error) {
	perms := make([]Permission, 0, len(entries))
	for _, e := range entries {
		p, err := ParsePermission(e)
		if err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, nil
}

// FormatPermissions renders a list to canonical strings, preserving order.
func FormatPermissions(perms []Permission) []string {
	out := make([]string, len(perms))
	for i, p := range perms {
		out[i] = p.String()
	}
	return out
}

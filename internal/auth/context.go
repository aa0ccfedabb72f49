package auth

import "context"

type ctxKey int

const (
	skipDepthKey ctxKey = iota
	rolesKey
)

// Skip runs fn with permission enforcement bypassed. The skip scope is
// carried on the derived context, so it ends when fn returns and an
// inner Skip cannot clear an outer one that is still active.
func Skip(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(WithSkip(ctx))
}

// WithSkip returns a context one skip level deeper. Prefer Skip; this
// exists for call sites that thread the context themselves.
func WithSkip(ctx context.Context) context.Context {
	return context.WithValue(ctx, skipDepthKey, skipDepth(ctx)+1)
}

func skipDepth(ctx context.Context) int {
	d, _ := ctx.Value(skipDepthKey).(int)
	return d
}

// SkipActive reports whether any enclosing skip scope is active.
func SkipActive(ctx context.Context) bool {
	return skipDepth(ctx) > 0
}

// WithRoles attaches the resolved role set for the current operation.
func WithRoles(ctx context.Context, roles RoleSet) context.Context {
	return context.WithValue(ctx, rolesKey, roles)
}

// Roles returns the role set established for this operation; callers
// with no inbound principal get an empty set.
func Roles(ctx context.Context) RoleSet {
	if rs, ok := ctx.Value(rolesKey).(RoleSet); ok {
		return rs
	}
	return RoleSet{}
}

// CanAct reports whether the given role set may perform action against
// the permission set. It is true while a skip scope is active, or when
// action("any") is granted, or when action(role) is granted for some
// resolved role. It never returns an error; the caller decides how to
// surface a denial.
func CanAct(ctx context.Context, action Action, perms []Permission, roles RoleSet) bool {
	if SkipActive(ctx) {
		return true
	}
	for _, p := range perms {
		if p.Action != action {
			continue
		}
		if p.Role.Kind == RoleAny {
			return true
		}
		if roles.Contains(p.Role) {
			return true
		}
	}
	return false
}

package auth

// Principal is the authenticated caller state role resolution works
// from. It is a snapshot: ResolveRoles is a pure function of it.
type Principal struct {
	ID          string
	Verified    bool
	Privileged  bool // platform/console actor
	Trusted     bool // API-key actor
	Labels      []string
	Memberships []PrincipalMembership
}

// PrincipalMembership is one team membership of a principal. Only
// confirmed memberships contribute roles.
type PrincipalMembership struct {
	ID        string
	TeamID    string
	Confirmed bool
	Roles     []string
}

// ResolveRoles derives the full role set for a principal.
//
// Privileged and trusted principals receive only team/member/label
// roles, never the generic user/guest/verification roles, so that
// system-internal actors are not scoped by end-user identity rules.
func ResolveRoles(p Principal) RoleSet {
	roles := NewRoleSet()

	systemActor := p.Privileged || p.Trusted
	if !systemActor {
		if p.ID == "" {
			roles.Add(Guests())
		} else {
			dimension := DimensionUnverified
			if p.Verified {
				dimension = DimensionVerified
			}
			roles.Add(User(p.ID, ""))
			roles.Add(User(p.ID, dimension))
			roles.Add(Users(""))
			roles.Add(Users(dimension))
		}
	}

	for _, m := range p.Memberships {
		if !m.Confirmed {
			continue
		}
		roles.Add(Member(m.ID))
		roles.Add(Team(m.TeamID, ""))
		for _, sub := range m.Roles {
			roles.Add(Team(m.TeamID, sub))
		}
	}

	for _, l := range p.Labels {
		roles.Add(Label(l))
	}

	return roles
}

package metadata

import "github.com/plinthdb/plinth/internal/errs"

// Status is the lifecycle state shared by attributes and indexes.
type Status string

const (
	StatusPending   Status = "pending"
	StatusAvailable Status = "available"
	StatusFailed    Status = "failed"
	StatusStuck     Status = "stuck"
	StatusDeleted   Status = "deleted"
)

// Valid reports whether s belongs to the closed status set.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusAvailable, StatusFailed, StatusStuck, StatusDeleted:
		return true
	}
	return false
}

// transitions is the explicit state machine:
//
//	pending   -> available  DDL succeeded on create
//	pending   -> failed     DDL failed on create
//	available -> deleted    DDL succeeded on drop
//	available -> stuck      DDL failed on drop
//
// Failed entities never get drop DDL; deleting one only removes its
// metadata record, which is not a status transition.
var transitions = map[Status][]Status{
	StatusPending:   {StatusAvailable, StatusFailed},
	StatusAvailable: {StatusDeleted, StatusStuck},
	StatusFailed:    {},
	StatusStuck:     {},
	StatusDeleted:   {},
}

// CanTransition reports whether from -> to is a legal lifecycle move.
func CanTransition(from, to Status) bool {
	for _, t := range transitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// CheckTransition returns a structural error for an illegal move.
func CheckTransition(from, to Status) error {
	if !from.Valid() {
		return errs.Structural("unknown status %q", string(from))
	}
	if !to.Valid() {
		return errs.Structural("unknown status %q", string(to))
	}
	if !CanTransition(from, to) {
		return errs.Structural("illegal status transition %s -> %s", from, to)
	}
	return nil
}

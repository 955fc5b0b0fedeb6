// Package event provides models and repositories for accreditation events and
// their three phase windows (bump-in, live, bump-out).
package event

import (
	"errors"
	"time"
)

// Phase identifies one of the three event periods.
type Phase string

const (
	PhaseBumpIn  Phase = "bump_in"
	PhaseLive    Phase = "live"
	PhaseBumpOut Phase = "bump_out"
)

// Phases lists all phases in evaluation priority order. When a timestamp falls
// inside more than one phase window (windows may overlap), the first match in
// this order wins. The order is fixed: bump-in, live, bump-out.
var Phases = []Phase{PhaseBumpIn, PhaseLive, PhaseBumpOut}

// Common errors for event operations.
var (
	ErrEventNotFound = errors.New("event not found")
	ErrInvalidWindow = errors.New("phase window start must be before end")
)

// Window is a half-open time interval [Start, End).
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains reports whether t falls inside the window (start inclusive,
// end exclusive).
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// Valid reports whether the window is well-formed (start strictly before end).
func (w Window) Valid() bool {
	return w.Start.Before(w.End)
}

// Event represents a time-bounded event that credentials are issued against.
// The three phase windows are independent: they may overlap or leave gaps.
// That permissiveness is deliberate; only start < end per window is enforced.
// The allowed access-group set is immutable after creation.
type Event struct {
	ID                  string   `json:"id"`
	Name                string   `json:"name"`
	BumpIn              Window   `json:"bump_in"`
	Live                Window   `json:"live"`
	BumpOut             Window   `json:"bump_out"`
	AllowedAccessGroups []string `json:"allowed_access_groups"`

	CreatedAt time.Time `json:"created_at"`
}

// Window returns the window for the given phase.
func (e *Event) Window(p Phase) Window {
	switch p {
	case PhaseBumpIn:
		return e.BumpIn
	case PhaseLive:
		return e.Live
	case PhaseBumpOut:
		return e.BumpOut
	}
	return Window{}
}

// ActivePhase determines which phase, if any, is active at t. Phases are
// checked in the fixed priority order defined by Phases so overlapping
// windows resolve deterministically.
func (e *Event) ActivePhase(t time.Time) (Phase, bool) {
	for _, p := range Phases {
		if e.Window(p).Contains(t) {
			return p, true
		}
	}
	return "", false
}

// AllowsGroup reports whether the given access group is a member of the
// event's allowed set.
func (e *Event) AllowsGroup(group string) bool {
	for _, g := range e.AllowedAccessGroups {
		if g == group {
			return true
		}
	}
	return false
}

// Validate checks the event's structural invariants: each phase window must
// have start < end and at least one access group must be allowed.
// Cross-phase ordering and overlap are intentionally not validated.
func (e *Event) Validate() error {
	for _, p := range Phases {
		if !e.Window(p).Valid() {
			return ErrInvalidWindow
		}
	}
	if len(e.AllowedAccessGroups) == 0 {
		return errors.New("event must allow at least one access group")
	}
	return nil
}

package accred

import (
	"time"

	"github.com/crewgate/crewgate/internal/event"
)

// DenyReason is a machine-readable code explaining a verification denial.
type DenyReason string

const (
	DenyNotApproved        DenyReason = "not_approved"
	DenyNoToken            DenyReason = "no_token"
	DenyOutsideEventWindow DenyReason = "outside_event_window"
	DenyPhaseNotGranted    DenyReason = "phase_not_granted"
	DenyOutsideGrantWindow DenyReason = "outside_grant_window"
	DenyTokenNotFound      DenyReason = "token_not_found"
)

// Decision is the outcome of evaluating a credential at a point in time.
type Decision struct {
	Allowed bool        `json:"allowed"`
	Reason  DenyReason  `json:"reason,omitempty"`
	Phase   event.Phase `json:"phase,omitempty"`
}

// Allow returns an allowing decision for the given phase.
func Allow(p event.Phase) Decision {
	return Decision{Allowed: true, Phase: p}
}

// Deny returns a denying decision with the given reason.
func Deny(reason DenyReason) Decision {
	return Decision{Allowed: false, Reason: reason}
}

// Evaluate decides whether the credential's bearer may pass a checkpoint at
// now. Phase windows are half-open [start, end); when now falls in more than
// one phase window, the first match in event.Phases order (bump-in, live,
// bump-out) governs. The priority is fixed and deterministic: a silently
// differing tie-break would be a correctness hazard for a security gate.
func Evaluate(cred *Credential, ev *event.Event, now time.Time) Decision {
	if cred.Status != StatusApproved {
		return Deny(DenyNotApproved)
	}
	// Should be unreachable: approval always attaches a token.
	if cred.VerificationToken == "" {
		return Deny(DenyNoToken)
	}

	phase, ok := ev.ActivePhase(now)
	if !ok {
		return Deny(DenyOutsideEventWindow)
	}

	grant := cred.Grant(phase)
	if !grant.Granted {
		d := Deny(DenyPhaseNotGranted)
		d.Phase = phase
		return d
	}
	if grant.HasWindow() && !grant.Contains(now) {
		d := Deny(DenyOutsideGrantWindow)
		d.Phase = phase
		return d
	}

	return Allow(phase)
}

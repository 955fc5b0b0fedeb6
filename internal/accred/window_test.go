package accred

import (
	"testing"
	"time"

	"github.com/crewgate/crewgate/internal/event"
)

// day returns a fixed base date offset by n days.
func day(n int) time.Time {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	return base.AddDate(0, 0, n)
}

// testEvent has bumpIn=[D0,D2), live=[D3,D5), bumpOut=[D6,D7): deliberate
// gaps at D2 and D5.
func testEvent() *event.Event {
	return &event.Event{
		ID:                  "ev-1",
		Name:                "Harbour Festival",
		BumpIn:              event.Window{Start: day(0), End: day(2)},
		Live:                event.Window{Start: day(3), End: day(5)},
		BumpOut:             event.Window{Start: day(6), End: day(7)},
		AllowedAccessGroups: []string{"crew", "production"},
	}
}

func approvedCredential(grants ...event.Phase) *Credential {
	cred := &Credential{
		ID:                "cred-1",
		EventID:           "ev-1",
		HolderName:        "Nadia Osei",
		Organization:      "Stagecraft Ltd",
		AccessGroup:       "crew",
		Status:            StatusApproved,
		VerificationToken: "deadbeefdeadbeefdeadbeefdeadbeef",
	}
	for _, p := range grants {
		switch p {
		case event.PhaseBumpIn:
			cred.BumpInGrant.Granted = true
		case event.PhaseLive:
			cred.LiveGrant.Granted = true
		case event.PhaseBumpOut:
			cred.BumpOutGrant.Granted = true
		}
	}
	return cred
}

func TestEvaluate_PhaseWalk(t *testing.T) {
	ev := testEvent()
	cred := approvedCredential(event.PhaseLive)

	tests := []struct {
		name       string
		now        time.Time
		wantAllow  bool
		wantReason DenyReason
	}{
		{"during bump-in without grant", day(1), false, DenyPhaseNotGranted},
		{"gap between phases", day(2).Add(12 * time.Hour), false, DenyOutsideEventWindow},
		{"during live with grant", day(4), true, ""},
		{"during bump-out without grant", day(6), false, DenyPhaseNotGranted},
		{"after the event", day(8), false, DenyOutsideEventWindow},
		{"before the event", day(0).Add(-time.Hour), false, DenyOutsideEventWindow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Evaluate(cred, ev, tt.now)
			if d.Allowed != tt.wantAllow {
				t.Errorf("Evaluate() allowed = %v, want %v", d.Allowed, tt.wantAllow)
			}
			if d.Reason != tt.wantReason {
				t.Errorf("Evaluate() reason = %q, want %q", d.Reason, tt.wantReason)
			}
		})
	}
}

func TestEvaluate_HalfOpenBoundaries(t *testing.T) {
	ev := testEvent()
	cred := approvedCredential(event.PhaseLive)

	// Window start is inclusive.
	if d := Evaluate(cred, ev, day(3)); !d.Allowed {
		t.Errorf("at live start: allowed = false (%s), want true", d.Reason)
	}
	// Window end is exclusive.
	if d := Evaluate(cred, ev, day(5)); d.Allowed {
		t.Error("at live end: allowed = true, want false")
	}
}

func TestEvaluate_NotApproved(t *testing.T) {
	ev := testEvent()
	for _, status := range []Status{StatusDraft, StatusPending, StatusRejected, StatusRevoked} {
		cred := approvedCredential(event.PhaseLive)
		cred.Status = status
		d := Evaluate(cred, ev, day(4))
		if d.Allowed {
			t.Errorf("status %s: allowed = true, want false", status)
		}
		if d.Reason != DenyNotApproved {
			t.Errorf("status %s: reason = %q, want %q", status, d.Reason, DenyNotApproved)
		}
	}
}

func TestEvaluate_MissingToken(t *testing.T) {
	ev := testEvent()
	cred := approvedCredential(event.PhaseLive)
	cred.VerificationToken = ""

	d := Evaluate(cred, ev, day(4))
	if d.Allowed || d.Reason != DenyNoToken {
		t.Errorf("Evaluate() = {%v, %q}, want deny no_token", d.Allowed, d.Reason)
	}
}

// TestEvaluate_OverlapPriority pins the tie-break: when windows overlap, the
// earlier phase in bump-in > live > bump-out order governs.
func TestEvaluate_OverlapPriority(t *testing.T) {
	ev := testEvent()
	// Make live overlap the tail of bump-in.
	ev.Live.Start = day(1)

	// Granted live but not bump-in: inside the overlap, bump-in wins and
	// the credential is denied.
	cred := approvedCredential(event.PhaseLive)
	d := Evaluate(cred, ev, day(1).Add(time.Hour))
	if d.Allowed {
		t.Fatal("expected bump-in to take priority inside the overlap")
	}
	if d.Reason != DenyPhaseNotGranted {
		t.Errorf("reason = %q, want %q", d.Reason, DenyPhaseNotGranted)
	}
	if d.Phase != event.PhaseBumpIn {
		t.Errorf("phase = %q, want %q", d.Phase, event.PhaseBumpIn)
	}

	// Granted both: allowed, attributed to bump-in.
	cred = approvedCredential(event.PhaseBumpIn, event.PhaseLive)
	d = Evaluate(cred, ev, day(1).Add(time.Hour))
	if !d.Allowed {
		t.Fatalf("expected allow, got deny(%s)", d.Reason)
	}
	if d.Phase != event.PhaseBumpIn {
		t.Errorf("phase = %q, want %q", d.Phase, event.PhaseBumpIn)
	}
}

func TestEvaluate_OverrideWindow(t *testing.T) {
	ev := testEvent()
	cred := approvedCredential(event.PhaseLive)

	// Narrow the live grant to the first day of the live phase.
	start, end := day(3), day(4)
	cred.LiveGrant.WindowStart = &start
	cred.LiveGrant.WindowEnd = &end

	if d := Evaluate(cred, ev, day(3).Add(6*time.Hour)); !d.Allowed {
		t.Errorf("inside override window: deny(%s), want allow", d.Reason)
	}

	d := Evaluate(cred, ev, day(4).Add(6*time.Hour))
	if d.Allowed {
		t.Fatal("outside override window: allowed = true, want false")
	}
	if d.Reason != DenyOutsideGrantWindow {
		t.Errorf("reason = %q, want %q", d.Reason, DenyOutsideGrantWindow)
	}
}

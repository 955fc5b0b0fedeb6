package accred

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/crewgate/crewgate/internal/audit"
	"github.com/crewgate/crewgate/internal/event"
)

var (
	editor   = Actor{ID: "u-editor", Role: RoleEditor}
	approver = Actor{ID: "u-approver", Role: RoleApprover}
	admin    = Actor{ID: "u-admin", Role: RoleAdmin}
	scanner  = Actor{ID: "u-scanner", Role: RoleScanner}
)

type serviceFixture struct {
	svc     *Service
	creds   *InMemoryRepository
	history *audit.InMemoryHistoryRepository
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()

	events := event.NewInMemoryRepository()
	if err := events.Insert(context.Background(), testEvent()); err != nil {
		t.Fatalf("seeding event: %v", err)
	}

	history := audit.NewInMemoryHistoryRepository()
	creds := NewInMemoryRepository(history)
	return &serviceFixture{
		svc:     NewService(creds, events, nil, nil),
		creds:   creds,
		history: history,
	}
}

func draftCredential() *Credential {
	expiry := time.Now().AddDate(1, 0, 0)
	return &Credential{
		EventID:          "ev-1",
		HolderName:       "Nadia Osei",
		Organization:     "Stagecraft Ltd",
		JobTitle:         "Rigger",
		NationalID:       "GH-447192",
		NationalIDExpiry: &expiry,
		AccessGroup:      "crew",
		LiveGrant:        Grant{Granted: true},
	}
}

// create seeds a draft credential through the service and returns its ID.
func (f *serviceFixture) create(t *testing.T) string {
	t.Helper()
	cred, err := f.svc.Create(context.Background(), draftCredential(), editor)
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	return cred.ID
}

// approve walks a fresh credential to approved and returns it.
func (f *serviceFixture) approve(t *testing.T) *Credential {
	t.Helper()
	ctx := context.Background()
	id := f.create(t)
	if _, err := f.svc.Submit(ctx, id, editor); err != nil {
		t.Fatalf("Submit() error: %v", err)
	}
	cred, err := f.svc.Approve(ctx, id, approver)
	if err != nil {
		t.Fatalf("Approve() error: %v", err)
	}
	return cred
}

func TestService_Lifecycle(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	cred, err := f.svc.Create(ctx, draftCredential(), editor)
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if cred.Status != StatusDraft {
		t.Fatalf("after create: status = %s, want %s", cred.Status, StatusDraft)
	}
	if cred.CreatedBy != editor.ID {
		t.Errorf("CreatedBy = %q, want %q", cred.CreatedBy, editor.ID)
	}

	cred, err = f.svc.Submit(ctx, cred.ID, editor)
	if err != nil {
		t.Fatalf("Submit() error: %v", err)
	}
	if cred.Status != StatusPending {
		t.Fatalf("after submit: status = %s, want %s", cred.Status, StatusPending)
	}
	if cred.VerificationToken != "" {
		t.Error("pending credential should not carry a token")
	}

	cred, err = f.svc.Approve(ctx, cred.ID, approver)
	if err != nil {
		t.Fatalf("Approve() error: %v", err)
	}
	if cred.Status != StatusApproved {
		t.Fatalf("after approve: status = %s, want %s", cred.Status, StatusApproved)
	}
	if len(cred.VerificationToken) != tokenBytes*2 {
		t.Fatalf("token length = %d, want %d", len(cred.VerificationToken), tokenBytes*2)
	}
	if cred.ApprovedBy != approver.ID {
		t.Errorf("ApprovedBy = %q, want %q", cred.ApprovedBy, approver.ID)
	}
	approvedToken := cred.VerificationToken

	cred, err = f.svc.Revoke(ctx, cred.ID, approver, "badge reported lost")
	if err != nil {
		t.Fatalf("Revoke() error: %v", err)
	}
	if cred.Status != StatusRevoked {
		t.Fatalf("after revoke: status = %s, want %s", cred.Status, StatusRevoked)
	}
	// The token stays attached so a scan of the revoked badge still resolves.
	if cred.VerificationToken != approvedToken {
		t.Errorf("token after revoke = %q, want %q", cred.VerificationToken, approvedToken)
	}
	if cred.RevocationReason != "badge reported lost" {
		t.Errorf("RevocationReason = %q", cred.RevocationReason)
	}

	entries, err := f.history.ListByCredential(ctx, cred.ID, 0)
	if err != nil {
		t.Fatalf("ListByCredential() error: %v", err)
	}
	wantActions := []string{
		audit.ActionRevoked,
		audit.ActionApproved,
		audit.ActionSubmitted,
		audit.ActionCreated,
	}
	if len(entries) != len(wantActions) {
		t.Fatalf("history entries = %d, want %d", len(entries), len(wantActions))
	}
	for i, want := range wantActions {
		if entries[i].Action != want {
			t.Errorf("entries[%d].Action = %q, want %q", i, entries[i].Action, want)
		}
	}
	if entries[0].Note != "badge reported lost" {
		t.Errorf("revoke entry note = %q", entries[0].Note)
	}
	if entries[0].OldStatus != string(StatusApproved) || entries[0].NewStatus != string(StatusRevoked) {
		t.Errorf("revoke entry statuses = %q -> %q", entries[0].OldStatus, entries[0].NewStatus)
	}
}

func TestService_RejectAndResubmit(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	id := f.create(t)
	if _, err := f.svc.Submit(ctx, id, editor); err != nil {
		t.Fatalf("Submit() error: %v", err)
	}
	cred, err := f.svc.Reject(ctx, id, approver, "photo missing")
	if err != nil {
		t.Fatalf("Reject() error: %v", err)
	}
	if cred.Status != StatusRejected {
		t.Fatalf("status = %s, want %s", cred.Status, StatusRejected)
	}

	// A rejected credential can still be edited, then goes back to pending
	// via the same submit entry point, recorded as a resubmission.
	if _, err := f.svc.UpdateDraft(ctx, id, func(c *Credential) {
		c.JobTitle = "Head Rigger"
	}, editor); err != nil {
		t.Fatalf("UpdateDraft() error: %v", err)
	}
	cred, err = f.svc.Submit(ctx, id, editor)
	if err != nil {
		t.Fatalf("resubmit error: %v", err)
	}
	if cred.Status != StatusPending {
		t.Fatalf("status = %s, want %s", cred.Status, StatusPending)
	}

	entries, _ := f.history.ListByCredential(ctx, id, 1)
	if entries[0].Action != audit.ActionResubmitted {
		t.Errorf("latest action = %q, want %q", entries[0].Action, audit.ActionResubmitted)
	}
}

func TestService_ReturnToDraftKeepsRecordEditable(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	id := f.create(t)
	if _, err := f.svc.Submit(ctx, id, editor); err != nil {
		t.Fatalf("Submit() error: %v", err)
	}
	cred, err := f.svc.ReturnToDraft(ctx, id, approver)
	if err != nil {
		t.Fatalf("ReturnToDraft() error: %v", err)
	}
	if cred.Status != StatusDraft {
		t.Fatalf("status = %s, want %s", cred.Status, StatusDraft)
	}

	// And the draft submits as a plain submission, not a resubmission.
	if _, err := f.svc.Submit(ctx, id, editor); err != nil {
		t.Fatalf("second Submit() error: %v", err)
	}
	entries, _ := f.history.ListByCredential(ctx, id, 1)
	if entries[0].Action != audit.ActionSubmitted {
		t.Errorf("latest action = %q, want %q", entries[0].Action, audit.ActionSubmitted)
	}
}

// TestService_FreshTokenAfterRevocation: approve, revoke, resubmit, approve
// again. The revoked badge is dead for good, so the second approval must
// mint a fresh token rather than revive the old one.
func TestService_FreshTokenAfterRevocation(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	cred := f.approve(t)
	firstToken := cred.VerificationToken

	if _, err := f.svc.Revoke(ctx, cred.ID, approver, "rebuild badge"); err != nil {
		t.Fatalf("Revoke() error: %v", err)
	}
	resubmitted, err := f.svc.Submit(ctx, cred.ID, editor)
	if err != nil {
		t.Fatalf("resubmit error: %v", err)
	}
	if resubmitted.VerificationToken != "" {
		t.Error("resubmitting a revoked credential must drop its token")
	}
	cred2, err := f.svc.Approve(ctx, cred.ID, approver)
	if err != nil {
		t.Fatalf("second Approve() error: %v", err)
	}

	// Resubmission dropped the revoked token, so re-approval mints fresh.
	if cred2.VerificationToken == "" {
		t.Fatal("re-approved credential has no token")
	}
	if cred2.VerificationToken == firstToken {
		t.Error("token minted after revocation must differ from the revoked one")
	}
}

// TestService_ApproveReusesExistingToken pins the reuse rule: a pending
// credential that already carries a token (imported from a legacy system,
// for example) keeps it on approval instead of getting a fresh one.
func TestService_ApproveReusesExistingToken(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	seeded := draftCredential()
	seeded.ID = "cred-seeded"
	seeded.Status = StatusPending
	seeded.VerificationToken = "00112233445566778899aabbccddeeff"
	entry := audit.HistoryEntry{Action: audit.ActionCreated, PerformedBy: editor.ID}
	if err := f.creds.Insert(ctx, seeded, entry); err != nil {
		t.Fatalf("Insert() error: %v", err)
	}

	cred, err := f.svc.Approve(ctx, seeded.ID, approver)
	if err != nil {
		t.Fatalf("Approve() error: %v", err)
	}
	if cred.VerificationToken != seeded.VerificationToken {
		t.Errorf("token = %q, want the pre-existing %q", cred.VerificationToken, seeded.VerificationToken)
	}
}

func TestService_RevokeRequiresReason(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	cred := f.approve(t)
	before := len(f.history.Entries())

	for _, reason := range []string{"", "   ", "\t\n"} {
		_, err := f.svc.Revoke(ctx, cred.ID, approver, reason)
		var ve *ValidationError
		if !errors.As(err, &ve) {
			t.Fatalf("Revoke(%q) error = %v, want ValidationError", reason, err)
		}
		if ve.Field != "reason" {
			t.Errorf("ValidationError.Field = %q, want \"reason\"", ve.Field)
		}
	}

	// A refused revocation changes nothing: same status, same token, no
	// history entry.
	got, _ := f.svc.Get(ctx, cred.ID)
	if got.Status != StatusApproved {
		t.Errorf("status = %s, want %s", got.Status, StatusApproved)
	}
	if got.VerificationToken != cred.VerificationToken {
		t.Error("token changed on refused revocation")
	}
	if after := len(f.history.Entries()); after != before {
		t.Errorf("history grew from %d to %d entries", before, after)
	}
}

func TestService_IllegalTransitions(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	id := f.create(t)

	// Approving a draft is illegal and must not mint a token.
	_, err := f.svc.Approve(ctx, id, approver)
	var it *InvalidTransitionError
	if !errors.As(err, &it) {
		t.Fatalf("Approve(draft) error = %v, want InvalidTransitionError", err)
	}
	if it.Current != StatusDraft || it.Attempted != ActionApprove {
		t.Errorf("InvalidTransitionError = %+v", it)
	}
	got, _ := f.svc.Get(ctx, id)
	if got.VerificationToken != "" {
		t.Error("illegal approve minted a token")
	}

	// Revoking a draft is likewise illegal even with a reason.
	if _, err := f.svc.Revoke(ctx, id, approver, "nope"); !errors.As(err, &it) {
		t.Fatalf("Revoke(draft) error = %v, want InvalidTransitionError", err)
	}

	// Double approval: the second call finds the credential approved.
	cred := f.approve(t)
	if _, err := f.svc.Approve(ctx, cred.ID, approver); !errors.As(err, &it) {
		t.Fatalf("double Approve() error = %v, want InvalidTransitionError", err)
	}
}

func TestService_RoleEnforcement(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	id := f.create(t)

	// Approvers and scanners cannot submit.
	for _, actor := range []Actor{approver, scanner} {
		if _, err := f.svc.Submit(ctx, id, actor); !errors.Is(err, ErrUnauthorized) {
			t.Errorf("Submit as %s: error = %v, want ErrUnauthorized", actor.Role, err)
		}
	}

	if _, err := f.svc.Submit(ctx, id, editor); err != nil {
		t.Fatalf("Submit() error: %v", err)
	}

	// Editors and scanners cannot decide.
	for _, actor := range []Actor{editor, scanner} {
		if _, err := f.svc.Approve(ctx, id, actor); !errors.Is(err, ErrUnauthorized) {
			t.Errorf("Approve as %s: error = %v, want ErrUnauthorized", actor.Role, err)
		}
		if _, err := f.svc.Reject(ctx, id, actor, "no"); !errors.Is(err, ErrUnauthorized) {
			t.Errorf("Reject as %s: error = %v, want ErrUnauthorized", actor.Role, err)
		}
	}

	// Admin can do both sides.
	if _, err := f.svc.ReturnToDraft(ctx, id, admin); err != nil {
		t.Fatalf("ReturnToDraft as admin: %v", err)
	}
	if _, err := f.svc.Submit(ctx, id, admin); err != nil {
		t.Fatalf("Submit as admin: %v", err)
	}

	// Scanners cannot create.
	if _, err := f.svc.Create(ctx, draftCredential(), scanner); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("Create as scanner: error = %v, want ErrUnauthorized", err)
	}

	// An unauthorized attempt leaves no history entry.
	entries, _ := f.history.ListByCredential(ctx, id, 0)
	for _, e := range entries {
		if e.PerformedBy == scanner.ID {
			t.Errorf("found history entry by %s: %+v", scanner.ID, e)
		}
	}
}

func TestService_CreateValidation(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	tests := []struct {
		name      string
		mutate    func(*Credential)
		wantField string
	}{
		{"missing holder name", func(c *Credential) { c.HolderName = " " }, "holder_name"},
		{"missing organization", func(c *Credential) { c.Organization = "" }, "organization"},
		{"missing job title", func(c *Credential) { c.JobTitle = "" }, "job_title"},
		{"no identity document", func(c *Credential) {
			c.NationalID = ""
			c.NationalIDExpiry = nil
		}, "identity"},
		{"national ID without expiry", func(c *Credential) { c.NationalIDExpiry = nil }, "national_id_expiry"},
		{"expired national ID", func(c *Credential) {
			expired := time.Now().Add(-24 * time.Hour)
			c.NationalIDExpiry = &expired
		}, "national_id_expiry"},
		{"passport without expiry", func(c *Credential) { c.PassportNumber = "P1234567" }, "passport_expiry"},
		{"access group not allowed", func(c *Credential) { c.AccessGroup = "vip" }, "access_group"},
		{"half-open override window", func(c *Credential) {
			start := day(3)
			c.LiveGrant.WindowStart = &start
		}, string(event.PhaseLive)},
		{"inverted override window", func(c *Credential) {
			start, end := day(4), day(3)
			c.LiveGrant.WindowStart = &start
			c.LiveGrant.WindowEnd = &end
		}, string(event.PhaseLive)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cred := draftCredential()
			tt.mutate(cred)
			_, err := f.svc.Create(ctx, cred, editor)
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("Create() error = %v, want ValidationError", err)
			}
			if ve.Field != tt.wantField {
				t.Errorf("ValidationError.Field = %q, want %q", ve.Field, tt.wantField)
			}
		})
	}
}

func TestService_UpdateDraftOnlyInEditableStatuses(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	id := f.create(t)
	if _, err := f.svc.Submit(ctx, id, editor); err != nil {
		t.Fatalf("Submit() error: %v", err)
	}

	_, err := f.svc.UpdateDraft(ctx, id, func(c *Credential) {
		c.JobTitle = "Stagehand"
	}, editor)
	var it *InvalidTransitionError
	if !errors.As(err, &it) {
		t.Fatalf("UpdateDraft(pending) error = %v, want InvalidTransitionError", err)
	}

	// An edit cannot smuggle a status change.
	if _, err := f.svc.ReturnToDraft(ctx, id, approver); err != nil {
		t.Fatalf("ReturnToDraft() error: %v", err)
	}
	cred, err := f.svc.UpdateDraft(ctx, id, func(c *Credential) {
		c.Status = StatusApproved
		c.JobTitle = "Stagehand"
	}, editor)
	if err != nil {
		t.Fatalf("UpdateDraft() error: %v", err)
	}
	if cred.Status != StatusDraft {
		t.Errorf("status after edit = %s, want %s", cred.Status, StatusDraft)
	}
	if cred.JobTitle != "Stagehand" {
		t.Errorf("JobTitle = %q, want updated value", cred.JobTitle)
	}
}

func TestService_AuditFailureRollsBackTransition(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	id := f.create(t)
	f.history.FailNextAppend(errors.New("disk full"))

	if _, err := f.svc.Submit(ctx, id, editor); err == nil {
		t.Fatal("Submit() succeeded despite audit append failure")
	}

	// No history entry and no status change.
	got, err := f.svc.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got.Status != StatusDraft {
		t.Errorf("status = %s, want %s (transition must roll back)", got.Status, StatusDraft)
	}
	entries, _ := f.history.ListByCredential(ctx, id, 0)
	if len(entries) != 1 || entries[0].Action != audit.ActionCreated {
		t.Errorf("history = %+v, want only the created entry", entries)
	}

	// The repository recovers on the next attempt.
	if _, err := f.svc.Submit(ctx, id, editor); err != nil {
		t.Fatalf("retry Submit() error: %v", err)
	}
}

func TestService_ConcurrentStatusConflict(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	id := f.create(t)
	if _, err := f.svc.Submit(ctx, id, editor); err != nil {
		t.Fatalf("Submit() error: %v", err)
	}

	// Simulate a racing approver by moving the row underneath a stale
	// in-flight update.
	stale, err := f.svc.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if _, err := f.svc.Approve(ctx, id, approver); err != nil {
		t.Fatalf("Approve() error: %v", err)
	}

	stale.Status = StatusRejected
	err = f.creds.Update(ctx, stale, StatusPending, audit.HistoryEntry{
		Action:      audit.ActionRejected,
		PerformedBy: approver.ID,
	})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("stale Update() error = %v, want ErrConflict", err)
	}
}

func TestService_TransientErrorIsRetryable(t *testing.T) {
	cause := errors.New("connection reset")
	err := &TransientError{Op: "update credential", Err: cause}

	if !IsRetryable(err) {
		t.Error("IsRetryable(TransientError) = false")
	}
	if !errors.Is(err, cause) {
		t.Error("TransientError does not unwrap to its cause")
	}
	if !IsRetryable(ErrConflict) {
		t.Error("ErrConflict must be retryable")
	}
	if IsRetryable(&ValidationError{Field: "x", Reason: "y"}) {
		t.Error("ValidationError must not be retryable")
	}
}

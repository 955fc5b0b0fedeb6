package accred

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/crewgate/crewgate/internal/audit"
	"github.com/crewgate/crewgate/internal/event"
)

// mintAttempts bounds the collision regeneration loop. With 128-bit tokens a
// second attempt is already vanishingly unlikely; the loop is an invariant
// check, not a performance path.
const mintAttempts = 5

// Service is the workflow orchestrator: it loads the credential, asks the
// state machine whether a transition is legal, enforces the actor's role,
// mutates the record, and relies on the repository to append the audit entry
// in the same atomic unit. The state machine stays role-agnostic; all
// authorization lives here.
type Service struct {
	creds   Repository
	events  event.Repository
	metrics *Metrics
	logger  *slog.Logger
}

// NewService creates a new lifecycle service. metrics may be nil.
func NewService(creds Repository, events event.Repository, metrics *Metrics, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{creds: creds, events: events, metrics: metrics, logger: logger}
}

// actionRoles maps each lifecycle action to the roles allowed to request it.
var actionRoles = map[Action][]Role{
	ActionSubmit:        {RoleEditor, RoleAdmin},
	ActionResubmit:      {RoleEditor, RoleAdmin},
	ActionReturnToDraft: {RoleApprover, RoleAdmin},
	ActionApprove:       {RoleApprover, RoleAdmin},
	ActionReject:        {RoleApprover, RoleAdmin},
	ActionRevoke:        {RoleApprover, RoleAdmin},
}

func roleAllowed(action Action, role Role) bool {
	for _, r := range actionRoles[action] {
		if r == role {
			return true
		}
	}
	return false
}

// Create stores a new credential in draft for the given event.
// The caller must hold the editor or admin role.
func (s *Service) Create(ctx context.Context, cred *Credential, actor Actor) (*Credential, error) {
	if actor.Role != RoleEditor && actor.Role != RoleAdmin {
		return nil, ErrUnauthorized
	}

	ev, err := s.events.GetByID(ctx, cred.EventID)
	if err != nil {
		return nil, err
	}
	if err := validateCredential(cred, ev); err != nil {
		return nil, err
	}

	cred.Status = StatusDraft
	cred.CreatedBy = actor.ID
	cred.VerificationToken = ""
	cred.RevocationReason = ""

	entry := audit.HistoryEntry{
		Action:      audit.ActionCreated,
		PerformedBy: actor.ID,
	}
	if err := s.creds.Insert(ctx, cred, entry); err != nil {
		return nil, err
	}

	s.logger.Info("credential created",
		slog.String("credential_id", cred.ID),
		slog.String("event_id", cred.EventID),
		slog.String("actor", actor.ID))
	return cred, nil
}

// UpdateDraft edits holder fields and grants while the credential sits in
// draft or rejected. No status change; still produces one history entry.
func (s *Service) UpdateDraft(ctx context.Context, id string, mutate func(*Credential), actor Actor) (*Credential, error) {
	if actor.Role != RoleEditor && actor.Role != RoleAdmin {
		return nil, ErrUnauthorized
	}

	cred, err := s.creds.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if cred.Status != StatusDraft && cred.Status != StatusRejected {
		return nil, &InvalidTransitionError{Current: cred.Status, Attempted: "edit"}
	}

	prior := cred.Status
	mutate(cred)
	cred.Status = prior // edits never change status

	ev, err := s.events.GetByID(ctx, cred.EventID)
	if err != nil {
		return nil, err
	}
	if err := validateCredential(cred, ev); err != nil {
		return nil, err
	}

	entry := audit.HistoryEntry{
		Action:      audit.ActionUpdated,
		PerformedBy: actor.ID,
	}
	if err := s.creds.Update(ctx, cred, prior, entry); err != nil {
		return nil, err
	}
	return cred, nil
}

// Get retrieves a credential by ID.
func (s *Service) Get(ctx context.Context, id string) (*Credential, error) {
	return s.creds.GetByID(ctx, id)
}

// Submit moves a draft credential to pending. A rejected or revoked
// credential resubmits back to pending via the same entry point. Resubmitting
// after revocation drops the old token: the revoked badge must never come
// back to life when the credential is approved again.
func (s *Service) Submit(ctx context.Context, id string, actor Actor) (*Credential, error) {
	return s.transition(ctx, id, actor, "", func(cred *Credential) Action {
		if cred.Status == StatusRejected || cred.Status == StatusRevoked {
			return ActionResubmit
		}
		return ActionSubmit
	}, func(cred *Credential) error {
		if cred.Status == StatusRevoked {
			cred.VerificationToken = ""
		}
		return nil
	})
}

// Approve moves a pending credential to approved and attaches a verification
// token. An existing token is reused: re-approval after an edit must not
// silently invalidate a badge that is already in someone's hands.
func (s *Service) Approve(ctx context.Context, id string, actor Actor) (*Credential, error) {
	return s.transition(ctx, id, actor, "", fixed(ActionApprove), func(cred *Credential) error {
		if cred.VerificationToken == "" {
			token, err := s.mintUnique(ctx)
			if err != nil {
				return err
			}
			cred.VerificationToken = token
			s.metrics.RecordTokenMinted()
		}
		cred.ApprovedBy = actor.ID
		return nil
	})
}

// Reject moves a pending credential to rejected with an optional note.
func (s *Service) Reject(ctx context.Context, id string, actor Actor, note string) (*Credential, error) {
	return s.transition(ctx, id, actor, note, fixed(ActionReject), func(cred *Credential) error {
		cred.ApprovedBy = actor.ID
		return nil
	})
}

// ReturnToDraft sends a pending credential back to its editor.
func (s *Service) ReturnToDraft(ctx context.Context, id string, actor Actor) (*Credential, error) {
	return s.transition(ctx, id, actor, "", fixed(ActionReturnToDraft), nil)
}

// Revoke moves an approved credential to revoked and requires a non-empty
// reason. This is the only transition with a mandatory note. The token stays
// attached: a scan of the old badge must still resolve to this credential so
// the guard sees a not_approved denial rather than an anonymous unknown
// token.
func (s *Service) Revoke(ctx context.Context, id string, actor Actor, reason string) (*Credential, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		s.metrics.RecordTransitionError(ActionRevoke, "validation")
		return nil, &ValidationError{Field: "reason", Reason: "revocation reason is required"}
	}
	return s.transition(ctx, id, actor, reason, fixed(ActionRevoke), func(cred *Credential) error {
		cred.RevocationReason = reason
		cred.RevokedBy = actor.ID
		return nil
	})
}

// fixed returns an action picker that ignores the credential.
func fixed(a Action) func(*Credential) Action {
	return func(*Credential) Action { return a }
}

// transition runs the shared lifecycle flow: load, pick the action, check
// role and legality, apply mutations, persist with the audit entry. The
// mutator only runs once the transition is known to be legal, so e.g. an
// approve attempt on a draft never mints a token.
func (s *Service) transition(ctx context.Context, id string, actor Actor, note string, pick func(*Credential) Action, mutate func(*Credential) error) (*Credential, error) {
	cred, err := s.creds.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	prior := cred.Status
	action := pick(cred)

	if !roleAllowed(action, actor.Role) {
		s.metrics.RecordTransitionError(action, "unauthorized")
		return nil, ErrUnauthorized
	}

	next, err := NextStatus(prior, action)
	if err != nil {
		s.metrics.RecordTransitionError(action, "invalid_transition")
		return nil, err
	}

	if mutate != nil {
		if err := mutate(cred); err != nil {
			s.metrics.RecordTransitionError(action, errKind(err))
			return nil, err
		}
	}
	cred.Status = next

	entry := audit.HistoryEntry{
		Action:      historyAction(action),
		OldStatus:   string(prior),
		NewStatus:   string(next),
		PerformedBy: actor.ID,
		Note:        note,
	}
	if err := s.creds.Update(ctx, cred, prior, entry); err != nil {
		s.metrics.RecordTransitionError(action, errKind(err))
		return nil, err
	}

	s.metrics.RecordTransition(action)
	s.logger.Info("credential transitioned",
		slog.String("credential_id", cred.ID),
		slog.String("action", string(action)),
		slog.String("from", string(prior)),
		slog.String("to", string(next)),
		slog.String("actor", actor.ID))
	return cred, nil
}

// mintUnique mints a token, regenerating on the (negligible-probability)
// collision with a token already attached to a credential.
func (s *Service) mintUnique(ctx context.Context) (string, error) {
	for i := 0; i < mintAttempts; i++ {
		token, err := MintToken()
		if err != nil {
			return "", err
		}
		inUse, err := s.creds.TokenInUse(ctx, token)
		if err != nil {
			return "", err
		}
		if !inUse {
			return token, nil
		}
	}
	return "", ErrConflict
}

// historyAction maps a state machine action to its audit tag.
func historyAction(a Action) string {
	switch a {
	case ActionSubmit:
		return audit.ActionSubmitted
	case ActionResubmit:
		return audit.ActionResubmitted
	case ActionReturnToDraft:
		return audit.ActionReturnedDraft
	case ActionApprove:
		return audit.ActionApproved
	case ActionReject:
		return audit.ActionRejected
	case ActionRevoke:
		return audit.ActionRevoked
	}
	return string(a)
}

// errKind buckets an error for metrics labels.
func errKind(err error) string {
	var it *InvalidTransitionError
	var ve *ValidationError
	var te *TransientError
	switch {
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.As(err, &it):
		return "invalid_transition"
	case errors.As(err, &ve):
		return "validation"
	case errors.As(err, &te):
		return "transient"
	}
	return "internal"
}

// validateCredential enforces the holder identity and grant invariants.
func validateCredential(cred *Credential, ev *event.Event) error {
	if strings.TrimSpace(cred.HolderName) == "" {
		return &ValidationError{Field: "holder_name", Reason: "holder name is required"}
	}
	if strings.TrimSpace(cred.Organization) == "" {
		return &ValidationError{Field: "organization", Reason: "organization is required"}
	}
	if strings.TrimSpace(cred.JobTitle) == "" {
		return &ValidationError{Field: "job_title", Reason: "job title is required"}
	}

	hasNationalID := cred.NationalID != ""
	hasPassport := cred.PassportNumber != ""
	if !hasNationalID && !hasPassport {
		return &ValidationError{Field: "identity", Reason: "at least one of national ID or passport number is required"}
	}
	now := time.Now()
	if hasNationalID {
		if cred.NationalIDExpiry == nil {
			return &ValidationError{Field: "national_id_expiry", Reason: "expiry date is required with a national ID"}
		}
		if !cred.NationalIDExpiry.After(now) {
			return &ValidationError{Field: "national_id_expiry", Reason: "national ID has expired"}
		}
	}
	if hasPassport {
		if cred.PassportExpiry == nil {
			return &ValidationError{Field: "passport_expiry", Reason: "expiry date is required with a passport number"}
		}
		if !cred.PassportExpiry.After(now) {
			return &ValidationError{Field: "passport_expiry", Reason: "passport has expired"}
		}
	}

	if !ev.AllowsGroup(cred.AccessGroup) {
		return &ValidationError{Field: "access_group", Reason: "access group is not allowed for this event"}
	}

	for _, p := range event.Phases {
		g := cred.Grant(p)
		if g.WindowStart != nil || g.WindowEnd != nil {
			if !g.HasWindow() {
				return &ValidationError{Field: string(p), Reason: "grant override window needs both start and end"}
			}
			if !g.WindowStart.Before(*g.WindowEnd) {
				return &ValidationError{Field: string(p), Reason: "grant override window start must be before end"}
			}
		}
	}
	return nil
}

// Package accred implements the accreditation lifecycle and credential
// verification core: the status state machine, token minting, access-window
// evaluation, the workflow orchestrator and the verification service.
package accred

import (
	"time"

	"github.com/crewgate/crewgate/internal/event"
)

// Status is the lifecycle state of a credential.
type Status string

const (
	StatusDraft    Status = "draft"
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusRevoked  Status = "revoked"
)

// Statuses lists every status. Used by the exhaustive transition tests.
var Statuses = []Status{StatusDraft, StatusPending, StatusApproved, StatusRejected, StatusRevoked}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusPending, StatusApproved, StatusRejected, StatusRevoked:
		return true
	}
	return false
}

// Role identifies what a calling actor is allowed to do.
type Role string

const (
	// RoleEditor creates, edits and (re)submits credentials.
	RoleEditor Role = "editor"
	// RoleApprover reviews pending credentials and revokes approved ones.
	RoleApprover Role = "approver"
	// RoleAdmin can do everything an approver can, plus manage events.
	RoleAdmin Role = "admin"
	// RoleScanner may only verify tokens at a checkpoint.
	RoleScanner Role = "scanner"
)

// Actor is the identity on whose behalf an operation runs. Resolved from the
// portal-issued bearer token by the auth middleware.
type Actor struct {
	ID   string
	Role Role
}

// Grant authorizes a credential for one phase. When Granted is true an
// optional override window narrows access within the event's phase window;
// a nil window means the whole phase window applies.
type Grant struct {
	Granted     bool          `json:"granted"`
	WindowStart *time.Time    `json:"window_start,omitempty"`
	WindowEnd   *time.Time    `json:"window_end,omitempty"`
}

// HasWindow reports whether the grant carries an explicit override window.
func (g Grant) HasWindow() bool {
	return g.WindowStart != nil && g.WindowEnd != nil
}

// Contains reports whether t falls inside the override window [start, end).
// Only meaningful when HasWindow is true.
func (g Grant) Contains(t time.Time) bool {
	return !t.Before(*g.WindowStart) && t.Before(*g.WindowEnd)
}

// Credential is an issued accreditation tying a person to an event and a set
// of phase access grants. It is never physically deleted; rejected and
// revoked credentials can loop back to pending via resubmission.
type Credential struct {
	ID      string `json:"id"`
	EventID string `json:"event_id"`

	// Holder identity. At least one of national ID / passport must be
	// present, each with a matching expiry date.
	HolderName       string     `json:"holder_name"`
	Organization     string     `json:"organization"`
	JobTitle         string     `json:"job_title"`
	NationalID       string     `json:"national_id,omitempty"`
	NationalIDExpiry *time.Time `json:"national_id_expiry,omitempty"`
	PassportNumber   string     `json:"passport_number,omitempty"`
	PassportExpiry   *time.Time `json:"passport_expiry,omitempty"`

	// AccessGroup must be a member of the owning event's allowed set.
	AccessGroup string `json:"access_group"`

	BumpInGrant  Grant `json:"bump_in_grant"`
	LiveGrant    Grant `json:"live_grant"`
	BumpOutGrant Grant `json:"bump_out_grant"`

	Status Status `json:"status"`

	// VerificationToken is present iff the credential has reached approved
	// and the token has not been cleared by a revoke.
	VerificationToken string `json:"-"`

	RevocationReason string `json:"revocation_reason,omitempty"`

	CreatedBy  string `json:"created_by"`
	ApprovedBy string `json:"approved_by,omitempty"`
	RevokedBy  string `json:"revoked_by,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Grant returns the grant for the given phase.
func (c *Credential) Grant(p event.Phase) Grant {
	switch p {
	case event.PhaseBumpIn:
		return c.BumpInGrant
	case event.PhaseLive:
		return c.LiveGrant
	case event.PhaseBumpOut:
		return c.BumpOutGrant
	}
	return Grant{}
}

// Summary is the credential view returned to a checkpoint guard: enough to
// cross-check the bearer, never the token itself.
type Summary struct {
	HolderName     string `json:"holder_name"`
	Organization   string `json:"organization"`
	JobTitle       string `json:"job_title"`
	NationalID     string `json:"national_id,omitempty"`
	PassportNumber string `json:"passport_number,omitempty"`
	AccessGroup    string `json:"access_group"`
	Status         Status `json:"status"`
}

// Summarize builds the guard-facing summary of the credential.
func (c *Credential) Summarize() Summary {
	return Summary{
		HolderName:     c.HolderName,
		Organization:   c.Organization,
		JobTitle:       c.JobTitle,
		NationalID:     c.NationalID,
		PassportNumber: c.PassportNumber,
		AccessGroup:    c.AccessGroup,
		Status:         c.Status,
	}
}

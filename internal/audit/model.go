// Package audit provides the append-only records backing the accreditation
// lifecycle: one history entry per mutating operation and one scan event per
// verification attempt. Entries are never updated or deleted.
package audit

import (
	"time"
)

// Lifecycle action tags recorded in history entries.
const (
	ActionCreated       = "created"
	ActionUpdated       = "updated"
	ActionSubmitted     = "submitted"
	ActionResubmitted   = "resubmitted"
	ActionReturnedDraft = "returned_to_draft"
	ActionApproved      = "approved"
	ActionRejected      = "rejected"
	ActionRevoked       = "revoked"
)

// Scan outcomes.
const (
	OutcomeAllow = "allow"
	OutcomeDeny  = "deny"
)

// HistoryEntry is one immutable record of a mutating operation on a
// credential. NewStatus is empty for non-status actions (created, updated).
type HistoryEntry struct {
	ID           string    `json:"id"`
	CredentialID string    `json:"credential_id"`
	Action       string    `json:"action"`
	OldStatus    string    `json:"old_status,omitempty"`
	NewStatus    string    `json:"new_status,omitempty"`
	PerformedBy  string    `json:"performed_by"`
	Note         string    `json:"note,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// ScanEvent is one immutable record of a verification attempt. Denied
// attempts are recorded too; this is the only record of checkpoint activity.
// CredentialID and EventID are empty when the token did not resolve.
type ScanEvent struct {
	ID           string    `json:"id"`
	CredentialID string    `json:"credential_id,omitempty"`
	EventID      string    `json:"event_id,omitempty"`
	Outcome      string    `json:"outcome"`
	Reason       string    `json:"reason"`
	ScannedAt    time.Time `json:"scanned_at"`
}

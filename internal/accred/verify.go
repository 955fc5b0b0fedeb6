package accred

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/crewgate/crewgate/internal/audit"
	"github.com/crewgate/crewgate/internal/event"
)

// VerifyResult is what a checkpoint gets back: the decision plus, when the
// token resolved, a guard-facing summary. The token itself is never echoed.
type VerifyResult struct {
	Decision Decision `json:"decision"`
	Summary  *Summary `json:"credential,omitempty"`
}

// Verifier resolves verification tokens and decides checkpoint passage. It
// only reads the token-to-credential mapping and the event schedule; every
// attempt, allowed or denied, appends exactly one scan event and the append
// is durable before the result is returned.
type Verifier struct {
	creds   Repository
	events  event.Repository
	scans   audit.ScanRepository
	metrics *Metrics
	logger  *slog.Logger
}

// NewVerifier creates a new verification service. metrics may be nil.
func NewVerifier(creds Repository, events event.Repository, scans audit.ScanRepository, metrics *Metrics, logger *slog.Logger) *Verifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Verifier{creds: creds, events: events, scans: scans, metrics: metrics, logger: logger}
}

// Verify decides whether the bearer of token may pass a checkpoint at now.
// An unknown token is an ordinary denial, not an error; errors are reserved
// for storage failures where no decision could be produced.
func (v *Verifier) Verify(ctx context.Context, token string, now time.Time) (*VerifyResult, error) {
	cred, err := v.creds.GetByToken(ctx, token)
	if errors.Is(err, ErrNotFound) {
		decision := Deny(DenyTokenNotFound)
		if err := v.recordScan(ctx, "", "", decision, now); err != nil {
			return nil, err
		}
		return &VerifyResult{Decision: decision}, nil
	}
	if err != nil {
		return nil, err
	}

	ev, err := v.events.GetByID(ctx, cred.EventID)
	if err != nil {
		return nil, err
	}

	decision := Evaluate(cred, ev, now)
	if err := v.recordScan(ctx, cred.ID, cred.EventID, decision, now); err != nil {
		return nil, err
	}

	summary := cred.Summarize()
	return &VerifyResult{Decision: decision, Summary: &summary}, nil
}

// recordScan appends the mandatory scan event. A failed append fails the
// whole verification: the scan log is the only record of checkpoint
// activity, so it is not best-effort telemetry.
func (v *Verifier) recordScan(ctx context.Context, credentialID, eventID string, decision Decision, now time.Time) error {
	outcome := audit.OutcomeDeny
	if decision.Allowed {
		outcome = audit.OutcomeAllow
	}
	_, err := v.scans.Append(ctx, audit.ScanEvent{
		CredentialID: credentialID,
		EventID:      eventID,
		Outcome:      outcome,
		Reason:       string(decision.Reason),
		ScannedAt:    now,
	})
	if err != nil {
		v.logger.Error("failed to record scan event",
			slog.String("error", err.Error()),
			slog.String("credential_id", credentialID))
		return err
	}
	v.metrics.RecordScan(outcome, decision.Reason)
	return nil
}

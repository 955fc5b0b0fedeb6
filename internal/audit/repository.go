package audit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Validation errors for audit writes.
var (
	ErrInvalidCredentialID = errors.New("credential ID cannot be empty")
	ErrInvalidAction       = errors.New("action is not a known lifecycle action")
	ErrInvalidOutcome      = errors.New("outcome must be allow or deny")
)

// validActions is the closed set of lifecycle action tags.
var validActions = map[string]bool{
	ActionCreated:       true,
	ActionUpdated:       true,
	ActionSubmitted:     true,
	ActionResubmitted:   true,
	ActionReturnedDraft: true,
	ActionApproved:      true,
	ActionRejected:      true,
	ActionRevoked:       true,
}

// HistoryRepository defines append-only history entry storage.
type HistoryRepository interface {
	// Append records a history entry. Returns the stored entry with ID and
	// timestamp populated.
	Append(ctx context.Context, entry HistoryEntry) (*HistoryEntry, error)

	// ListByCredential retrieves history for a credential, newest first.
	// Limit 0 means no limit.
	ListByCredential(ctx context.Context, credentialID string, limit int) ([]*HistoryEntry, error)
}

// ScanRepository defines append-only scan event storage.
type ScanRepository interface {
	// Append records a scan event. Returns the stored event with ID and
	// timestamp populated.
	Append(ctx context.Context, scan ScanEvent) (*ScanEvent, error)

	// ListByEvent retrieves scan events for an event, newest first.
	// Limit 0 means no limit.
	ListByEvent(ctx context.Context, eventID string, limit int) ([]*ScanEvent, error)

	// DeleteOlderThan removes scan events scanned before cutoff and returns
	// how many were removed. Used by the retention job.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}

// InMemoryHistoryRepository is an in-memory implementation of
// HistoryRepository. Used for testing and development. Thread-safe.
type InMemoryHistoryRepository struct {
	mu      sync.RWMutex
	entries []*HistoryEntry

	// failNext forces the next Append to fail; tests use it to exercise the
	// rollback-on-audit-failure invariant.
	failNext error
}

// NewInMemoryHistoryRepository creates a new in-memory history repository.
func NewInMemoryHistoryRepository() *InMemoryHistoryRepository {
	return &InMemoryHistoryRepository{}
}

// FailNextAppend makes the next Append return err. Test hook.
func (r *InMemoryHistoryRepository) FailNextAppend(err error) {
	r.mu.Lock()
	r.failNext = err
	r.mu.Unlock()
}

// Append records a history entry.
func (r *InMemoryHistoryRepository) Append(ctx context.Context, entry HistoryEntry) (*HistoryEntry, error) {
	if entry.CredentialID == "" {
		return nil, ErrInvalidCredentialID
	}
	if !validActions[entry.Action] {
		return nil, ErrInvalidAction
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.failNext; err != nil {
		r.failNext = nil
		return nil, err
	}

	entry.ID = uuid.New().String()
	entry.CreatedAt = time.Now().UTC()

	entryCopy := entry
	r.entries = append(r.entries, &entryCopy)

	result := entry
	return &result, nil
}

// ListByCredential retrieves history for a credential, newest first.
func (r *InMemoryHistoryRepository) ListByCredential(ctx context.Context, credentialID string, limit int) ([]*HistoryEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var results []*HistoryEntry
	for i := len(r.entries) - 1; i >= 0; i-- {
		e := r.entries[i]
		if e.CredentialID != credentialID {
			continue
		}
		entryCopy := *e
		results = append(results, &entryCopy)
		if limit > 0 && len(results) >= limit {
			break
		}
	}
	return results, nil
}

// InMemoryScanRepository is an in-memory implementation of ScanRepository.
// Thread-safe via RWMutex.
type InMemoryScanRepository struct {
	mu    sync.RWMutex
	scans []*ScanEvent
}

// NewInMemoryScanRepository creates a new in-memory scan repository.
func NewInMemoryScanRepository() *InMemoryScanRepository {
	return &InMemoryScanRepository{}
}

// Append records a scan event.
func (r *InMemoryScanRepository) Append(ctx context.Context, scan ScanEvent) (*ScanEvent, error) {
	if scan.Outcome != OutcomeAllow && scan.Outcome != OutcomeDeny {
		return nil, ErrInvalidOutcome
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	scan.ID = uuid.New().String()
	if scan.ScannedAt.IsZero() {
		scan.ScannedAt = time.Now().UTC()
	}

	scanCopy := scan
	r.scans = append(r.scans, &scanCopy)

	result := scan
	return &result, nil
}

// ListByEvent retrieves scan events for an event, newest first.
func (r *InMemoryScanRepository) ListByEvent(ctx context.Context, eventID string, limit int) ([]*ScanEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var results []*ScanEvent
	for i := len(r.scans) - 1; i >= 0; i-- {
		s := r.scans[i]
		if s.EventID != eventID {
			continue
		}
		scanCopy := *s
		results = append(results, &scanCopy)
		if limit > 0 && len(results) >= limit {
			break
		}
	}
	return results, nil
}

// DeleteOlderThan removes scan events scanned before cutoff.
func (r *InMemoryScanRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.scans[:0]
	removed := 0
	for _, s := range r.scans {
		if s.ScannedAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, s)
	}
	r.scans = kept
	return removed, nil
}

// Scans returns a copy of every recorded scan, oldest first. Test helper.
func (r *InMemoryScanRepository) Scans() []ScanEvent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ScanEvent, 0, len(r.scans))
	for _, s := range r.scans {
		out = append(out, *s)
	}
	return out
}

// Entries returns a copy of every recorded history entry, oldest first.
// Test helper.
func (r *InMemoryHistoryRepository) Entries() []HistoryEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]HistoryEntry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, *e)
	}
	return out
}

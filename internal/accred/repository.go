package accred

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/crewgate/crewgate/internal/audit"
)

// Repository defines credential storage. Implementations must make each
// mutating call atomic with its history append: the status change and the
// audit record either both become visible or neither does.
type Repository interface {
	// Insert stores a new credential together with its "created" history
	// entry.
	Insert(ctx context.Context, cred *Credential, entry audit.HistoryEntry) error

	// GetByID retrieves a credential. Returns ErrNotFound if absent.
	GetByID(ctx context.Context, id string) (*Credential, error)

	// GetByToken resolves a verification token to its credential.
	// Returns ErrNotFound if no non-revoked credential carries the token.
	GetByToken(ctx context.Context, token string) (*Credential, error)

	// Update persists the credential's mutated fields and appends the
	// history entry atomically. expectedStatus is the status the caller
	// loaded the credential in; if the stored row has moved on, Update
	// returns ErrConflict and persists nothing. Implementations must
	// serialize concurrent updates on the same credential (row lock or
	// equivalent) so the check is not a lost-update race.
	Update(ctx context.Context, cred *Credential, expectedStatus Status, entry audit.HistoryEntry) error

	// TokenInUse reports whether the token is currently attached to any
	// credential.
	TokenInUse(ctx context.Context, token string) (bool, error)
}

// InMemoryRepository is an in-memory implementation of Repository. Used for
// testing and development. A single mutex serializes mutations, which gives
// the same per-credential serialization a row lock provides.
type InMemoryRepository struct {
	mu          sync.RWMutex
	credentials map[string]*Credential
	byToken     map[string]string
	history     audit.HistoryRepository
}

// NewInMemoryRepository creates a new in-memory credential repository.
// History entries are appended to hist inside the repository's critical
// section so a failed append leaves the credential untouched.
func NewInMemoryRepository(hist audit.HistoryRepository) *InMemoryRepository {
	return &InMemoryRepository{
		credentials: make(map[string]*Credential),
		byToken:     make(map[string]string),
		history:     hist,
	}
}

// Insert stores a new credential together with its "created" history entry.
func (r *InMemoryRepository) Insert(ctx context.Context, cred *Credential, entry audit.HistoryEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cred.ID == "" {
		cred.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if cred.CreatedAt.IsZero() {
		cred.CreatedAt = now
	}
	cred.UpdatedAt = now

	entry.CredentialID = cred.ID
	if _, err := r.history.Append(ctx, entry); err != nil {
		return err
	}

	credCopy := *cred
	r.credentials[cred.ID] = &credCopy
	if cred.VerificationToken != "" {
		r.byToken[cred.VerificationToken] = cred.ID
	}
	return nil
}

// GetByID retrieves a credential by ID.
func (r *InMemoryRepository) GetByID(ctx context.Context, id string) (*Credential, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cred, ok := r.credentials[id]
	if !ok {
		return nil, ErrNotFound
	}
	credCopy := *cred
	return &credCopy, nil
}

// GetByToken resolves a verification token to its credential.
func (r *InMemoryRepository) GetByToken(ctx context.Context, token string) (*Credential, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if token == "" {
		return nil, ErrNotFound
	}
	id, ok := r.byToken[token]
	if !ok {
		return nil, ErrNotFound
	}
	credCopy := *r.credentials[id]
	return &credCopy, nil
}

// Update persists the credential and appends the history entry atomically.
func (r *InMemoryRepository) Update(ctx context.Context, cred *Credential, expectedStatus Status, entry audit.HistoryEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.credentials[cred.ID]
	if !ok {
		return ErrNotFound
	}
	if stored.Status != expectedStatus {
		return ErrConflict
	}

	entry.CredentialID = cred.ID
	if _, err := r.history.Append(ctx, entry); err != nil {
		// Audit completeness is a hard invariant: no history, no mutation.
		return err
	}

	if stored.VerificationToken != "" && stored.VerificationToken != cred.VerificationToken {
		delete(r.byToken, stored.VerificationToken)
	}
	cred.UpdatedAt = time.Now().UTC()
	credCopy := *cred
	r.credentials[cred.ID] = &credCopy
	if cred.VerificationToken != "" {
		r.byToken[cred.VerificationToken] = cred.ID
	}
	return nil
}

// TokenInUse reports whether the token is attached to any credential.
func (r *InMemoryRepository) TokenInUse(ctx context.Context, token string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.byToken[token]
	return ok, nil
}

package event

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Repository defines the interface for event data operations.
type Repository interface {
	// Insert stores a new event after validating its windows.
	Insert(ctx context.Context, ev *Event) error

	// GetByID retrieves an event by its ID.
	// Returns ErrEventNotFound if no event exists.
	GetByID(ctx context.Context, id string) (*Event, error)
}

// InMemoryRepository is an in-memory implementation of Repository.
// Used for testing and development. Thread-safe via RWMutex.
type InMemoryRepository struct {
	mu     sync.RWMutex
	events map[string]*Event
}

// NewInMemoryRepository creates a new in-memory event repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{events: make(map[string]*Event)}
}

// Insert stores a new event after validating its windows.
func (r *InMemoryRepository) Insert(ctx context.Context, ev *Event) error {
	if err := ev.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}

	evCopy := copyEvent(ev)
	r.events[ev.ID] = evCopy
	return nil
}

// GetByID retrieves an event by its ID.
func (r *InMemoryRepository) GetByID(ctx context.Context, id string) (*Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ev, ok := r.events[id]
	if !ok {
		return nil, ErrEventNotFound
	}
	return copyEvent(ev), nil
}

// copyEvent returns a deep copy so callers cannot mutate stored state.
func copyEvent(ev *Event) *Event {
	evCopy := *ev
	evCopy.AllowedAccessGroups = append([]string(nil), ev.AllowedAccessGroups...)
	return &evCopy
}

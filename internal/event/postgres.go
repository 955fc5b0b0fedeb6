package event

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/crewgate/crewgate/internal/tracing"
)

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresRepository creates a new PostgresRepository.
func NewPostgresRepository(db *sql.DB, logger *slog.Logger) *PostgresRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresRepository{db: db, logger: logger}
}

// Insert stores a new event after validating its windows.
func (r *PostgresRepository) Insert(ctx context.Context, ev *Event) (err error) {
	if err := ev.Validate(); err != nil {
		return err
	}
	ctx, end := tracing.StartDBSpan(ctx, "events", tracing.DBOperationInsert)
	defer func() { end(err) }()

	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO events (
			id, name,
			bump_in_start, bump_in_end,
			live_start, live_end,
			bump_out_start, bump_out_end,
			allowed_access_groups, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err = r.db.ExecContext(ctx, query,
		ev.ID, ev.Name,
		ev.BumpIn.Start, ev.BumpIn.End,
		ev.Live.Start, ev.Live.End,
		ev.BumpOut.Start, ev.BumpOut.End,
		pq.Array(ev.AllowedAccessGroups), ev.CreatedAt,
	)
	if err != nil {
		r.logger.Error("failed to insert event",
			slog.String("error", err.Error()),
			slog.String("event_id", ev.ID))
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// GetByID retrieves an event by its ID.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (_ *Event, err error) {
	ctx, end := tracing.StartDBSpan(ctx, "events", tracing.DBOperationQuery)
	defer func() { end(err) }()

	query := `
		SELECT id, name,
			bump_in_start, bump_in_end,
			live_start, live_end,
			bump_out_start, bump_out_end,
			allowed_access_groups, created_at
		FROM events
		WHERE id = $1
	`
	var ev Event
	err = r.db.QueryRowContext(ctx, query, id).Scan(
		&ev.ID, &ev.Name,
		&ev.BumpIn.Start, &ev.BumpIn.End,
		&ev.Live.Start, &ev.Live.End,
		&ev.BumpOut.Start, &ev.BumpOut.End,
		pq.Array(&ev.AllowedAccessGroups), &ev.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrEventNotFound
	}
	if err != nil {
		r.logger.Error("failed to get event",
			slog.String("error", err.Error()),
			slog.String("event_id", id))
		return nil, fmt.Errorf("get event: %w", err)
	}
	return &ev, nil
}

package audit

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/crewgate/crewgate/internal/tracing"
)

// execer is satisfied by both *sql.DB and *sql.Tx so history appends can run
// standalone or inside a caller-owned transaction.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

const insertHistorySQL = `
	INSERT INTO credential_history (
		id, credential_id, action, old_status, new_status,
		performed_by, note, created_at
	) VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6, $7, $8)
`

func appendHistory(ctx context.Context, ex execer, entry HistoryEntry) (*HistoryEntry, error) {
	if entry.CredentialID == "" {
		return nil, ErrInvalidCredentialID
	}
	if !validActions[entry.Action] {
		return nil, ErrInvalidAction
	}

	entry.ID = uuid.New().String()
	entry.CreatedAt = time.Now().UTC()

	_, err := ex.ExecContext(ctx, insertHistorySQL,
		entry.ID, entry.CredentialID, entry.Action,
		entry.OldStatus, entry.NewStatus,
		entry.PerformedBy, entry.Note, entry.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("append history: %w", err)
	}
	return &entry, nil
}

// AppendTx records a history entry inside a caller-owned transaction. The
// lifecycle repositories use this so a status mutation and its audit record
// commit or roll back together.
func AppendTx(ctx context.Context, tx *sql.Tx, entry HistoryEntry) (*HistoryEntry, error) {
	return appendHistory(ctx, tx, entry)
}

// PostgresHistoryRepository implements HistoryRepository using PostgreSQL.
type PostgresHistoryRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresHistoryRepository creates a new PostgresHistoryRepository.
func NewPostgresHistoryRepository(db *sql.DB, logger *slog.Logger) *PostgresHistoryRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresHistoryRepository{db: db, logger: logger}
}

// Append records a history entry.
func (r *PostgresHistoryRepository) Append(ctx context.Context, entry HistoryEntry) (_ *HistoryEntry, err error) {
	ctx, end := tracing.StartDBSpan(ctx, "credential_history", tracing.DBOperationInsert)
	defer func() { end(err) }()

	stored, err := appendHistory(ctx, r.db, entry)
	if err != nil {
		r.logger.Error("failed to append history entry",
			slog.String("error", err.Error()),
			slog.String("credential_id", entry.CredentialID),
			slog.String("action", entry.Action))
		return nil, err
	}
	return stored, nil
}

// ListByCredential retrieves history for a credential, newest first.
func (r *PostgresHistoryRepository) ListByCredential(ctx context.Context, credentialID string, limit int) (_ []*HistoryEntry, err error) {
	ctx, end := tracing.StartDBSpan(ctx, "credential_history", tracing.DBOperationQuery)
	defer func() { end(err) }()

	query := `
		SELECT id, credential_id, action,
			COALESCE(old_status, ''), COALESCE(new_status, ''),
			performed_by, note, created_at
		FROM credential_history
		WHERE credential_id = $1
		ORDER BY created_at DESC, id DESC
	`
	args := []any{credentialID}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	var results []*HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		if err := rows.Scan(&e.ID, &e.CredentialID, &e.Action,
			&e.OldStatus, &e.NewStatus, &e.PerformedBy, &e.Note, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		results = append(results, &e)
	}
	return results, rows.Err()
}

// PostgresScanRepository implements ScanRepository using PostgreSQL. Appends
// run in their own implicit transaction; the insert is durable before the
// verification response is returned.
type PostgresScanRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresScanRepository creates a new PostgresScanRepository.
func NewPostgresScanRepository(db *sql.DB, logger *slog.Logger) *PostgresScanRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresScanRepository{db: db, logger: logger}
}

// Append records a scan event.
func (r *PostgresScanRepository) Append(ctx context.Context, scan ScanEvent) (_ *ScanEvent, err error) {
	if scan.Outcome != OutcomeAllow && scan.Outcome != OutcomeDeny {
		return nil, ErrInvalidOutcome
	}
	ctx, end := tracing.StartDBSpan(ctx, "scan_events", tracing.DBOperationInsert)
	defer func() { end(err) }()

	scan.ID = uuid.New().String()
	if scan.ScannedAt.IsZero() {
		scan.ScannedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO scan_events (
			id, credential_id, event_id, outcome, reason, scanned_at
		) VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), $4, $5, $6)
	`
	_, err = r.db.ExecContext(ctx, query,
		scan.ID, scan.CredentialID, scan.EventID,
		scan.Outcome, scan.Reason, scan.ScannedAt,
	)
	if err != nil {
		r.logger.Error("failed to append scan event",
			slog.String("error", err.Error()),
			slog.String("credential_id", scan.CredentialID))
		return nil, fmt.Errorf("append scan event: %w", err)
	}
	return &scan, nil
}

// ListByEvent retrieves scan events for an event, newest first.
func (r *PostgresScanRepository) ListByEvent(ctx context.Context, eventID string, limit int) (_ []*ScanEvent, err error) {
	ctx, end := tracing.StartDBSpan(ctx, "scan_events", tracing.DBOperationQuery)
	defer func() { end(err) }()

	query := `
		SELECT id, COALESCE(credential_id, ''), COALESCE(event_id, ''),
			outcome, reason, scanned_at
		FROM scan_events
		WHERE event_id = $1
		ORDER BY scanned_at DESC, id DESC
	`
	args := []any{eventID}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list scan events: %w", err)
	}
	defer rows.Close()

	var results []*ScanEvent
	for rows.Next() {
		var s ScanEvent
		if err := rows.Scan(&s.ID, &s.CredentialID, &s.EventID,
			&s.Outcome, &s.Reason, &s.ScannedAt); err != nil {
			return nil, fmt.Errorf("scan event row: %w", err)
		}
		results = append(results, &s)
	}
	return results, rows.Err()
}

// DeleteOlderThan removes scan events scanned before cutoff.
func (r *PostgresScanRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (_ int, err error) {
	ctx, end := tracing.StartDBSpan(ctx, "scan_events", tracing.DBOperationExec)
	defer func() { end(err) }()

	res, err := r.db.ExecContext(ctx,
		`DELETE FROM scan_events WHERE scanned_at < $1`, cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("delete scan events: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete scan events: %w", err)
	}
	return int(n), nil
}

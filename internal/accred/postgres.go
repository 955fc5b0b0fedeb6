package accred

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/crewgate/crewgate/internal/audit"
	"github.com/crewgate/crewgate/internal/tracing"
)

// DefaultQueryTimeout bounds every repository call. Timeouts surface as
// TransientError so the caller knows a retry is safe.
const DefaultQueryTimeout = 5 * time.Second

// PostgresRepository implements Repository using PostgreSQL. Mutations run in
// a single read-committed transaction; the credential row is locked with
// SELECT ... FOR UPDATE before the expected-status check so two concurrent
// approvals cannot both observe pending and double-mint tokens.
type PostgresRepository struct {
	db      *sql.DB
	logger  *slog.Logger
	timeout time.Duration
}

// NewPostgresRepository creates a new PostgresRepository.
func NewPostgresRepository(db *sql.DB, logger *slog.Logger) *PostgresRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresRepository{db: db, logger: logger, timeout: DefaultQueryTimeout}
}

const credentialColumns = `
	id, event_id, holder_name, organization, job_title,
	COALESCE(national_id, ''), national_id_expiry,
	COALESCE(passport_number, ''), passport_expiry,
	access_group,
	bump_in_granted, bump_in_window_start, bump_in_window_end,
	live_granted, live_window_start, live_window_end,
	bump_out_granted, bump_out_window_start, bump_out_window_end,
	status, COALESCE(verification_token, ''), COALESCE(revocation_reason, ''),
	created_by, COALESCE(approved_by, ''), COALESCE(revoked_by, ''),
	created_at, updated_at`

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanCredential(row rowScanner) (*Credential, error) {
	var c Credential
	err := row.Scan(
		&c.ID, &c.EventID, &c.HolderName, &c.Organization, &c.JobTitle,
		&c.NationalID, &c.NationalIDExpiry,
		&c.PassportNumber, &c.PassportExpiry,
		&c.AccessGroup,
		&c.BumpInGrant.Granted, &c.BumpInGrant.WindowStart, &c.BumpInGrant.WindowEnd,
		&c.LiveGrant.Granted, &c.LiveGrant.WindowStart, &c.LiveGrant.WindowEnd,
		&c.BumpOutGrant.Granted, &c.BumpOutGrant.WindowStart, &c.BumpOutGrant.WindowEnd,
		&c.Status, &c.VerificationToken, &c.RevocationReason,
		&c.CreatedBy, &c.ApprovedBy, &c.RevokedBy,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// Insert stores a new credential together with its "created" history entry.
func (r *PostgresRepository) Insert(ctx context.Context, cred *Credential, entry audit.HistoryEntry) (err error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	ctx, end := tracing.StartDBSpan(ctx, "credentials", tracing.DBOperationInsert)
	defer func() { end(err) }()

	if cred.ID == "" {
		cred.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if cred.CreatedAt.IsZero() {
		cred.CreatedAt = now
	}
	cred.UpdatedAt = now

	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return r.transient("begin insert", err)
	}
	defer rollback(tx, r.logger)

	query := `
		INSERT INTO credentials (
			id, event_id, holder_name, organization, job_title,
			national_id, national_id_expiry,
			passport_number, passport_expiry,
			access_group,
			bump_in_granted, bump_in_window_start, bump_in_window_end,
			live_granted, live_window_start, live_window_end,
			bump_out_granted, bump_out_window_start, bump_out_window_end,
			status, verification_token, revocation_reason,
			created_by, approved_by, revoked_by,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			NULLIF($6, ''), $7, NULLIF($8, ''), $9, $10,
			$11, $12, $13, $14, $15, $16, $17, $18, $19,
			$20, NULLIF($21, ''), NULLIF($22, ''),
			$23, NULLIF($24, ''), NULLIF($25, ''),
			$26, $27
		)
	`
	_, err = tx.ExecContext(ctx, query,
		cred.ID, cred.EventID, cred.HolderName, cred.Organization, cred.JobTitle,
		cred.NationalID, cred.NationalIDExpiry,
		cred.PassportNumber, cred.PassportExpiry,
		cred.AccessGroup,
		cred.BumpInGrant.Granted, cred.BumpInGrant.WindowStart, cred.BumpInGrant.WindowEnd,
		cred.LiveGrant.Granted, cred.LiveGrant.WindowStart, cred.LiveGrant.WindowEnd,
		cred.BumpOutGrant.Granted, cred.BumpOutGrant.WindowStart, cred.BumpOutGrant.WindowEnd,
		string(cred.Status), cred.VerificationToken, cred.RevocationReason,
		cred.CreatedBy, cred.ApprovedBy, cred.RevokedBy,
		cred.CreatedAt, cred.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("failed to insert credential",
			slog.String("error", err.Error()),
			slog.String("credential_id", cred.ID))
		return r.transient("insert credential", err)
	}

	entry.CredentialID = cred.ID
	if _, err := audit.AppendTx(ctx, tx, entry); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return r.transient("commit insert", err)
	}
	return nil
}

// GetByID retrieves a credential by ID.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (_ *Credential, err error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	ctx, end := tracing.StartDBSpan(ctx, "credentials", tracing.DBOperationQuery)
	defer func() { end(err) }()

	query := `SELECT ` + credentialColumns + ` FROM credentials WHERE id = $1`
	cred, err := scanCredential(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, r.transient("get credential", err)
	}
	return cred, nil
}

// GetByToken resolves a verification token to its credential. The lookup is
// an indexed point query; tokens carry 128 bits of entropy, so a timing
// oracle on existence is not exploitable in this threat model.
func (r *PostgresRepository) GetByToken(ctx context.Context, token string) (_ *Credential, err error) {
	if token == "" {
		return nil, ErrNotFound
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	ctx, end := tracing.StartDBSpan(ctx, "credentials", tracing.DBOperationQuery)
	defer func() { end(err) }()

	query := `SELECT ` + credentialColumns + ` FROM credentials WHERE verification_token = $1`
	cred, err := scanCredential(r.db.QueryRowContext(ctx, query, token))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, r.transient("get credential by token", err)
	}
	return cred, nil
}

// Update persists the credential and appends the history entry in one
// transaction. The row is locked before the expected-status check.
func (r *PostgresRepository) Update(ctx context.Context, cred *Credential, expectedStatus Status, entry audit.HistoryEntry) (err error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	ctx, end := tracing.StartDBSpan(ctx, "credentials", tracing.DBOperationUpdate)
	defer func() { end(err) }()

	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return r.transient("begin update", err)
	}
	defer rollback(tx, r.logger)

	var current Status
	err = tx.QueryRowContext(ctx,
		`SELECT status FROM credentials WHERE id = $1 FOR UPDATE`, cred.ID,
	).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return r.transient("lock credential", err)
	}
	if current != expectedStatus {
		// A concurrent transaction moved the credential first.
		return ErrConflict
	}

	cred.UpdatedAt = time.Now().UTC()
	query := `
		UPDATE credentials SET
			holder_name = $2, organization = $3, job_title = $4,
			national_id = NULLIF($5, ''), national_id_expiry = $6,
			passport_number = NULLIF($7, ''), passport_expiry = $8,
			access_group = $9,
			bump_in_granted = $10, bump_in_window_start = $11, bump_in_window_end = $12,
			live_granted = $13, live_window_start = $14, live_window_end = $15,
			bump_out_granted = $16, bump_out_window_start = $17, bump_out_window_end = $18,
			status = $19, verification_token = NULLIF($20, ''),
			revocation_reason = NULLIF($21, ''),
			approved_by = NULLIF($22, ''), revoked_by = NULLIF($23, ''),
			updated_at = $24
		WHERE id = $1
	`
	_, err = tx.ExecContext(ctx, query,
		cred.ID,
		cred.HolderName, cred.Organization, cred.JobTitle,
		cred.NationalID, cred.NationalIDExpiry,
		cred.PassportNumber, cred.PassportExpiry,
		cred.AccessGroup,
		cred.BumpInGrant.Granted, cred.BumpInGrant.WindowStart, cred.BumpInGrant.WindowEnd,
		cred.LiveGrant.Granted, cred.LiveGrant.WindowStart, cred.LiveGrant.WindowEnd,
		cred.BumpOutGrant.Granted, cred.BumpOutGrant.WindowStart, cred.BumpOutGrant.WindowEnd,
		string(cred.Status), cred.VerificationToken,
		cred.RevocationReason,
		cred.ApprovedBy, cred.RevokedBy,
		cred.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			// verification_token unique index: negligible-probability mint
			// collision. Retryable.
			return ErrConflict
		}
		r.logger.Error("failed to update credential",
			slog.String("error", err.Error()),
			slog.String("credential_id", cred.ID))
		return r.transient("update credential", err)
	}

	entry.CredentialID = cred.ID
	if _, err := audit.AppendTx(ctx, tx, entry); err != nil {
		// Audit completeness is a hard invariant: the deferred rollback
		// discards the status mutation too.
		r.logger.Error("history append failed, rolling back transition",
			slog.String("error", err.Error()),
			slog.String("credential_id", cred.ID))
		return err
	}

	if err := tx.Commit(); err != nil {
		return r.transient("commit update", err)
	}
	return nil
}

// TokenInUse reports whether the token is attached to any credential.
func (r *PostgresRepository) TokenInUse(ctx context.Context, token string) (_ bool, err error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	ctx, end := tracing.StartDBSpan(ctx, "credentials", tracing.DBOperationQuery)
	defer func() { end(err) }()

	var exists bool
	err = r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM credentials WHERE verification_token = $1)`, token,
	).Scan(&exists)
	if err != nil {
		return false, r.transient("check token", err)
	}
	return exists, nil
}

func (r *PostgresRepository) transient(op string, err error) error {
	return &TransientError{Op: op, Err: err}
}

// rollback is a no-op after a successful commit.
func rollback(tx *sql.Tx, logger *slog.Logger) {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		logger.Warn("failed to rollback transaction",
			slog.String("error", err.Error()))
	}
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// Compile-time interface check.
var _ Repository = (*PostgresRepository)(nil)

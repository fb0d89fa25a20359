package attendance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// Repository persists the attendance ledger in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Get returns the entry for (identityID, day), or nil when none exists.
func (r *Repository) Get(ctx context.Context, identityID, day string) (*Entry, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT identity_id, day, outcome, leave_reason, method, committed_by, committed_at
		FROM attendance_entries
		WHERE identity_id = $1 AND day = $2
	`, identityID, day)
	var entry Entry
	if err := scanEntry(row, &entry); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, mapStorageErr(err)
	}
	return &entry, nil
}

// Upsert writes the entry, fully replacing any existing row for the key.
// Every column appears in the SET list so optional fields are determined by
// the incoming entry alone; in particular a nil leave reason overwrites a
// stored one. Idempotent for identical inputs.
func (r *Repository) Upsert(ctx context.Context, entry Entry) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO attendance_entries (identity_id, day, outcome, leave_reason, method, committed_by, committed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (identity_id, day) DO UPDATE SET
			outcome      = EXCLUDED.outcome,
			leave_reason = EXCLUDED.leave_reason,
			method       = EXCLUDED.method,
			committed_by = EXCLUDED.committed_by,
			committed_at = EXCLUDED.committed_at
	`, entry.IdentityID, entry.Day, entry.Outcome, entry.LeaveReason, entry.Method, entry.CommittedBy, entry.CommittedAt)
	return mapStorageErr(err)
}

// List returns entries with basic filters, newest first.
func (r *Repository) List(ctx context.Context, identityID, day string, limit, offset int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	query := `SELECT identity_id, day, outcome, leave_reason, method, committed_by, committed_at FROM attendance_entries`
	args := []any{}
	clauses := []string{}
	if identityID != "" {
		args = append(args, identityID)
		clauses = append(clauses, fmt.Sprintf("identity_id = $%d", len(args)))
	}
	if day != "" {
		args = append(args, day)
		clauses = append(clauses, fmt.Sprintf("day = $%d", len(args)))
	}
	for i, clause := range clauses {
		if i == 0 {
			query += " WHERE " + clause
		} else {
			query += " AND " + clause
		}
	}
	args = append(args, limit, offset)
	query += fmt.Sprintf(" ORDER BY day DESC, committed_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapStorageErr(err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var entry Entry
		if err := scanEntry(rows, &entry); err != nil {
			return nil, mapStorageErr(err)
		}
		entries = append(entries, entry)
	}
	return entries, mapStorageErr(rows.Err())
}

// InsertAudit appends one audit row. Written by the worker, never updated.
func (r *Repository) InsertAudit(ctx context.Context, audit Audit) error {
	if audit.ID == "" {
		audit.ID = uuid.NewString()
	}
	if audit.RecordedAt.IsZero() {
		audit.RecordedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO attendance_audit (id, identity_id, day, outcome, method, committed_by, committed_at, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, audit.ID, audit.IdentityID, audit.Day, audit.Outcome, audit.Method, audit.CommittedBy, audit.CommittedAt, audit.RecordedAt)
	return mapStorageErr(err)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner, entry *Entry) error {
	var day time.Time
	if err := row.Scan(&entry.IdentityID, &day, &entry.Outcome, &entry.LeaveReason, &entry.Method, &entry.CommittedBy, &entry.CommittedAt); err != nil {
		return err
	}
	entry.Day = day.Format(DayLayout)
	return nil
}

// mapStorageErr folds driver errors into the ledger taxonomy: permission
// failures become ErrForbidden, anything else ErrStorage.
func mapStorageErr(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "42501" {
		return fmt.Errorf("%w: %v", ErrForbidden, err)
	}
	return fmt.Errorf("%w: %v", ErrStorage, err)
}

package registry

import (
	"context"
	"database/sql"
	"errors"

	"attendance/internal/matcher"
)

// Repository persists identities in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// GetByID returns an identity or nil when not enrolled.
func (r *Repository) GetByID(ctx context.Context, id string) (*Identity, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, name, fingerprint, photo, photo_url, enrolled_at
		FROM identities WHERE id = $1
	`, id)
	var ident Identity
	if err := row.Scan(&ident.ID, &ident.Name, &ident.Fingerprint, &ident.Photo, &ident.PhotoURL, &ident.EnrolledAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &ident, nil
}

// Exists reports whether an identity is enrolled.
func (r *Repository) Exists(ctx context.Context, id string) (bool, error) {
	var found bool
	err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM identities WHERE id = $1)`, id).Scan(&found)
	return found, err
}

// FindByFingerprint returns the identity holding the digest, or nil.
func (r *Repository) FindByFingerprint(ctx context.Context, digest string) (*Identity, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, name, fingerprint, photo, photo_url, enrolled_at
		FROM identities WHERE fingerprint = $1
	`, digest)
	var ident Identity
	if err := row.Scan(&ident.ID, &ident.Name, &ident.Fingerprint, &ident.Photo, &ident.PhotoURL, &ident.EnrolledAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &ident, nil
}

// FindIDByFingerprint returns just the holder's id, or "" when free.
func (r *Repository) FindIDByFingerprint(ctx context.Context, digest string) (string, error) {
	var id string
	err := r.db.QueryRowContext(ctx, `SELECT id FROM identities WHERE fingerprint = $1`, digest).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return id, err
}

// Create inserts a new identity. Fails on a taken id or fingerprint.
func (r *Repository) Create(ctx context.Context, identity Identity) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO identities (id, name, fingerprint, photo, photo_url, enrolled_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, identity.ID, identity.Name, identity.Fingerprint, identity.Photo, identity.PhotoURL, identity.EnrolledAt)
	return err
}

// UpdatePhoto swaps the reference photo and its fingerprint in one write, so
// the old fingerprint is released atomically.
func (r *Repository) UpdatePhoto(ctx context.Context, id, digest string, photo []byte, photoURL *string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE identities
		SET fingerprint = $2, photo = $3, photo_url = $4
		WHERE id = $1
	`, id, digest, photo, photoURL)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns all enrolled identities without photo payloads.
func (r *Repository) List(ctx context.Context) ([]Identity, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, fingerprint, photo_url, enrolled_at
		FROM identities
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var identities []Identity
	for rows.Next() {
		var ident Identity
		if err := rows.Scan(&ident.ID, &ident.Name, &ident.Fingerprint, &ident.PhotoURL, &ident.EnrolledAt); err != nil {
			return nil, err
		}
		identities = append(identities, ident)
	}
	return identities, rows.Err()
}

// ListCandidates returns the (identity, reference photo) gallery for a day's
// resolution attempts. The day is accepted for future scoping; today every
// identity with a stored photo is a candidate.
func (r *Repository) ListCandidates(ctx context.Context, day string) ([]matcher.Candidate, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, photo FROM identities
		WHERE photo IS NOT NULL
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var candidates []matcher.Candidate
	for rows.Next() {
		var cand matcher.Candidate
		if err := rows.Scan(&cand.IdentityID, &cand.Photo); err != nil {
			return nil, err
		}
		candidates = append(candidates, cand)
	}
	return candidates, rows.Err()
}

package attendance

import (
	"context"
	"fmt"

	"attendance/internal/matcher"
)

// Directory is the read side of the identity registry the ledger needs.
type Directory interface {
	Exists(ctx context.Context, identityID string) (bool, error)
	FindIDByFingerprint(ctx context.Context, digest string) (string, error)
	ListCandidates(ctx context.Context, day string) ([]matcher.Candidate, error)
}

// Store is the ledger persistence the gate and service write through.
type Store interface {
	Get(ctx context.Context, identityID, day string) (*Entry, error)
	Upsert(ctx context.Context, entry Entry) error
}

// Gate is the read-only pre-commit check: the identity must be enrolled and
// the (identity, day) slot must be empty. Any existing entry blocks,
// whatever its outcome; corrections go through an explicit recommit, not
// through re-validation.
//
// Validate and the commit that follows it are separate calls. Two callers
// racing on the same key can both pass validation; the upsert then resolves
// last-write-wins, which keeps the one-row-per-key invariant but can
// overwrite the earlier outcome.
type Gate struct {
	dir   Directory
	store Store
}

// NewGate creates a gate.
func NewGate(dir Directory, store Store) *Gate {
	return &Gate{dir: dir, store: store}
}

// Validate returns nil when a commit for (identityID, day) may proceed,
// ErrUnknownIdentity or ErrAlreadyMarked when it may not.
func (g *Gate) Validate(ctx context.Context, identityID, day string) error {
	enrolled, err := g.dir.Exists(ctx, identityID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	if !enrolled {
		return ErrUnknownIdentity
	}

	existing, err := g.store.Get(ctx, identityID, day)
	if err != nil {
		return err
	}
	if existing != nil {
		return ErrAlreadyMarked
	}
	return nil
}

package registry

import (
	"context"
	"fmt"

	"attendance/internal/fingerprint"
)

// Guard blocks enrollment of a photo whose fingerprint already belongs to a
// different identity.
type Guard struct {
	store Store
}

// NewGuard creates a guard over the given store.
func NewGuard(store Store) *Guard {
	return &Guard{store: store}
}

// CheckEnroll computes the photo's fingerprint and verifies it is free to use
// for identityID. A fingerprint already held by the same identity is accepted
// (photo re-submission during an edit); one held by anyone else is rejected
// with the conflicting id. Returns the digest so callers don't hash twice.
func (g *Guard) CheckEnroll(ctx context.Context, identityID string, image []byte) (string, error) {
	digest, err := fingerprint.Compute(image)
	if err != nil {
		return "", err
	}

	existing, err := g.store.FindByFingerprint(ctx, digest)
	if err != nil {
		return "", fmt.Errorf("fingerprint lookup: %w", err)
	}
	if existing != nil && existing.ID != identityID {
		return "", &DuplicateFingerprintError{ExistingID: existing.ID}
	}
	return digest, nil
}

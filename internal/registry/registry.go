// Package registry owns the set of enrolled identities: their ids, reference
// photos, and content fingerprints. The enrollment guard lives here because
// fingerprint uniqueness is an invariant of the registry, not of any caller.
package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"attendance/internal/matcher"
)

// Identity is one enrolled person.
type Identity struct {
	ID          string     `json:"id"`
	Name        *string    `json:"name,omitempty"`
	Fingerprint string     `json:"fingerprint"`
	PhotoURL    *string    `json:"photo_url,omitempty"`
	Photo       []byte     `json:"-"`
	EnrolledAt  time.Time  `json:"enrolled_at"`
}

// ErrNotFound is returned by operations that require an existing identity.
var ErrNotFound = errors.New("registry: identity not found")

// ErrAlreadyEnrolled is returned when enrolling under a taken identity id.
var ErrAlreadyEnrolled = errors.New("registry: identity id already enrolled")

// DuplicateFingerprintError reports an enrollment photo whose fingerprint is
// already registered under another identity.
type DuplicateFingerprintError struct {
	ExistingID string
}

func (e *DuplicateFingerprintError) Error() string {
	return fmt.Sprintf("registry: fingerprint already enrolled under identity %s", e.ExistingID)
}

// Store persists identities. Implemented by Repository; tests use fakes.
type Store interface {
	GetByID(ctx context.Context, id string) (*Identity, error)
	FindByFingerprint(ctx context.Context, digest string) (*Identity, error)
	Create(ctx context.Context, identity Identity) error
	UpdatePhoto(ctx context.Context, id, digest string, photo []byte, photoURL *string) error
	List(ctx context.Context) ([]Identity, error)
	ListCandidates(ctx context.Context, day string) ([]matcher.Candidate, error)
}

// Uploader pushes a reference image to external storage and returns its
// public handle. Optional; enrollment works without one.
type Uploader interface {
	UploadReference(data []byte, name string) (string, error)
}

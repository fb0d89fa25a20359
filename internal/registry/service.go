package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"attendance/internal/fingerprint"
)

// Service performs enrollment and photo replacement. The reference photo is
// kept in its normalized form so the candidate gallery served to the visual
// matcher is byte-stable.
type Service struct {
	store    Store
	guard    *Guard
	uploader Uploader
}

// NewService creates the enrollment service. uploader may be nil when no
// external image storage is configured.
func NewService(store Store, uploader Uploader) *Service {
	return &Service{store: store, guard: NewGuard(store), uploader: uploader}
}

// Guard exposes the enrollment guard for callers that only need the check.
func (s *Service) Guard() *Guard { return s.guard }

// Enroll registers a new identity with its reference photo. Rejects when the
// photo's fingerprint is already enrolled under another identity, or when the
// id is already taken.
func (s *Service) Enroll(ctx context.Context, id string, name *string, image []byte) (*Identity, error) {
	if id == "" {
		return nil, errors.New("registry: identity id required")
	}

	existing, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("identity lookup: %w", err)
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyEnrolled, id)
	}

	digest, err := s.guard.CheckEnroll(ctx, id, image)
	if err != nil {
		return nil, err
	}

	normalized, err := fingerprint.Normalize(image, fingerprint.MaxDimension)
	if err != nil {
		return nil, err
	}

	identity := Identity{
		ID:          id,
		Name:        name,
		Fingerprint: digest,
		Photo:       normalized,
		EnrolledAt:  time.Now().UTC(),
	}
	if s.uploader != nil {
		url, err := s.uploader.UploadReference(normalized, id)
		if err != nil {
			return nil, fmt.Errorf("reference upload: %w", err)
		}
		identity.PhotoURL = &url
	}

	if err := s.store.Create(ctx, identity); err != nil {
		return nil, fmt.Errorf("persist identity: %w", err)
	}
	return &identity, nil
}

// ReplacePhoto swaps an identity's reference photo. The old fingerprint is
// released by the write; the guard's same-id rule keeps the identity's own
// prior fingerprint out of the collision set.
func (s *Service) ReplacePhoto(ctx context.Context, id string, image []byte) (*Identity, error) {
	identity, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("identity lookup: %w", err)
	}
	if identity == nil {
		return nil, ErrNotFound
	}

	digest, err := s.guard.CheckEnroll(ctx, id, image)
	if err != nil {
		return nil, err
	}

	normalized, err := fingerprint.Normalize(image, fingerprint.MaxDimension)
	if err != nil {
		return nil, err
	}

	photoURL := identity.PhotoURL
	if s.uploader != nil {
		url, err := s.uploader.UploadReference(normalized, id)
		if err != nil {
			return nil, fmt.Errorf("reference upload: %w", err)
		}
		photoURL = &url
	}

	if err := s.store.UpdatePhoto(ctx, id, digest, normalized, photoURL); err != nil {
		return nil, fmt.Errorf("persist photo: %w", err)
	}

	identity.Fingerprint = digest
	identity.Photo = normalized
	identity.PhotoURL = photoURL
	return identity, nil
}

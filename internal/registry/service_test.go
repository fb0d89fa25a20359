package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"attendance/internal/fingerprint"
)

type fakeUploader struct {
	calls int
	url   string
	err   error
}

func (f *fakeUploader) UploadReference(data []byte, name string) (string, error) {
	f.calls++
	return f.url, f.err
}

func TestEnrollPersistsNormalizedPhoto(t *testing.T) {
	store := newFakeStore()
	svc := NewService(store, nil)
	photo := testImage(10)

	identity, err := svc.Enroll(context.Background(), "S200", nil, photo)

	assert.NoError(t, err)
	assert.Len(t, store.created, 1)
	assert.Equal(t, "S200", identity.ID)

	wantDigest, err := fingerprint.Compute(photo)
	assert.NoError(t, err)
	assert.Equal(t, wantDigest, identity.Fingerprint)

	normalized, err := fingerprint.Normalize(photo, fingerprint.MaxDimension)
	assert.NoError(t, err)
	assert.Equal(t, normalized, identity.Photo)
}

func TestEnrollRejectsTakenID(t *testing.T) {
	store := newFakeStore()
	store.add(Identity{ID: "S200", Fingerprint: "deadbeef"})
	svc := NewService(store, nil)

	_, err := svc.Enroll(context.Background(), "S200", nil, testImage(11))

	assert.ErrorIs(t, err, ErrAlreadyEnrolled)
	assert.Empty(t, store.created)
}

func TestEnrollRejectsDuplicatePhoto(t *testing.T) {
	store := newFakeStore()
	photo := testImage(12)
	digest, err := fingerprint.Compute(photo)
	assert.NoError(t, err)
	store.add(Identity{ID: "A", Fingerprint: digest})
	svc := NewService(store, nil)

	_, err = svc.Enroll(context.Background(), "B", nil, photo)

	var dup *DuplicateFingerprintError
	assert.ErrorAs(t, err, &dup)
	assert.Equal(t, "A", dup.ExistingID)
}

func TestEnrollUploadsReference(t *testing.T) {
	store := newFakeStore()
	up := &fakeUploader{url: "https://cdn.example/ref/S200.jpg"}
	svc := NewService(store, up)

	identity, err := svc.Enroll(context.Background(), "S200", nil, testImage(13))

	assert.NoError(t, err)
	assert.Equal(t, 1, up.calls)
	if assert.NotNil(t, identity.PhotoURL) {
		assert.Equal(t, up.url, *identity.PhotoURL)
	}
}

func TestReplacePhotoSwapsFingerprint(t *testing.T) {
	store := newFakeStore()
	oldPhoto := testImage(14)
	oldDigest, err := fingerprint.Compute(oldPhoto)
	assert.NoError(t, err)
	store.add(Identity{ID: "S200", Fingerprint: oldDigest})
	svc := NewService(store, nil)

	newPhoto := testImage(15)
	identity, err := svc.ReplacePhoto(context.Background(), "S200", newPhoto)

	assert.NoError(t, err)
	assert.Len(t, store.updated, 1)
	assert.NotEqual(t, oldDigest, identity.Fingerprint)
}

func TestReplacePhotoSamePhotoAccepted(t *testing.T) {
	// Re-submitting the identity's own current photo is not a collision.
	store := newFakeStore()
	photo := testImage(16)
	digest, err := fingerprint.Compute(photo)
	assert.NoError(t, err)
	store.add(Identity{ID: "S200", Fingerprint: digest})
	svc := NewService(store, nil)

	identity, err := svc.ReplacePhoto(context.Background(), "S200", photo)

	assert.NoError(t, err)
	assert.Equal(t, digest, identity.Fingerprint)
}

func TestReplacePhotoUnknownIdentity(t *testing.T) {
	svc := NewService(newFakeStore(), nil)

	_, err := svc.ReplacePhoto(context.Background(), "ghost", testImage(17))

	assert.ErrorIs(t, err, ErrNotFound)
}

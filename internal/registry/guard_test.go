package registry

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"testing"

	"github.com/stretchr/testify/assert"

	"attendance/internal/fingerprint"
	"attendance/internal/matcher"
)

type fakeStore struct {
	byID          map[string]*Identity
	byFingerprint map[string]*Identity
	created       []Identity
	updated       []Identity
	findErr       error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		byID:          make(map[string]*Identity),
		byFingerprint: make(map[string]*Identity),
	}
}

func (f *fakeStore) add(identity Identity) {
	f.byID[identity.ID] = &identity
	f.byFingerprint[identity.Fingerprint] = &identity
}

func (f *fakeStore) GetByID(ctx context.Context, id string) (*Identity, error) {
	return f.byID[id], nil
}

func (f *fakeStore) FindByFingerprint(ctx context.Context, digest string) (*Identity, error) {
	if f.findErr != nil {
		return nil, f.findErr
	}
	return f.byFingerprint[digest], nil
}

func (f *fakeStore) Create(ctx context.Context, identity Identity) error {
	f.created = append(f.created, identity)
	f.add(identity)
	return nil
}

func (f *fakeStore) UpdatePhoto(ctx context.Context, id, digest string, photo []byte, photoURL *string) error {
	f.updated = append(f.updated, Identity{ID: id, Fingerprint: digest, Photo: photo, PhotoURL: photoURL})
	return nil
}

func (f *fakeStore) List(ctx context.Context) ([]Identity, error) { return nil, nil }

func (f *fakeStore) ListCandidates(ctx context.Context, day string) ([]matcher.Candidate, error) {
	return nil, nil
}

func testImage(seed uint8) []byte {
	img := image.NewRGBA(image.Rect(0, 0, 80, 80))
	for x := 0; x < 80; x++ {
		for y := 0; y < 80; y++ {
			img.Set(x, y, color.RGBA{uint8(x) + seed, uint8(y), seed, 255})
		}
	}
	var buf bytes.Buffer
	jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90})
	return buf.Bytes()
}

func TestGuardRejectsDuplicateUnderOtherIdentity(t *testing.T) {
	store := newFakeStore()
	photo := testImage(1)

	digest, err := fingerprint.Compute(photo)
	assert.NoError(t, err)
	store.add(Identity{ID: "A", Fingerprint: digest})

	_, err = NewGuard(store).CheckEnroll(context.Background(), "B", photo)

	var dup *DuplicateFingerprintError
	assert.ErrorAs(t, err, &dup)
	assert.Equal(t, "A", dup.ExistingID)
}

func TestGuardAcceptsOwnPhotoResubmission(t *testing.T) {
	store := newFakeStore()
	photo := testImage(2)

	digest, err := fingerprint.Compute(photo)
	assert.NoError(t, err)
	store.add(Identity{ID: "A", Fingerprint: digest})

	got, err := NewGuard(store).CheckEnroll(context.Background(), "A", photo)

	assert.NoError(t, err)
	assert.Equal(t, digest, got)
}

func TestGuardAcceptsFreshFingerprint(t *testing.T) {
	store := newFakeStore()

	digest, err := NewGuard(store).CheckEnroll(context.Background(), "A", testImage(3))

	assert.NoError(t, err)
	assert.Len(t, digest, 64)
}

func TestGuardRejectsUndecodableImage(t *testing.T) {
	store := newFakeStore()

	_, err := NewGuard(store).CheckEnroll(context.Background(), "A", []byte("garbage"))

	assert.ErrorIs(t, err, fingerprint.ErrDecode)
}

func TestGuardPropagatesLookupFailure(t *testing.T) {
	store := newFakeStore()
	store.findErr = errors.New("db down")

	_, err := NewGuard(store).CheckEnroll(context.Background(), "A", testImage(4))

	assert.Error(t, err)
	var dup *DuplicateFingerprintError
	assert.False(t, errors.As(err, &dup), "a lookup failure is not a duplicate")
}

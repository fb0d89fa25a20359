package matcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHealthSkipModeAlwaysPasses(t *testing.T) {
	c := NewHTTPClient("http://localhost:1", true)
	assert.NoError(t, c.Health(context.Background()))
}

func TestHealthReflectsServiceState(t *testing.T) {
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer up.Close()
	assert.NoError(t, NewHTTPClient(up.URL, false).Health(context.Background()))

	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer down.Close()
	assert.Error(t, NewHTTPClient(down.URL, false).Health(context.Background()))
}

func TestSkipResolveHandlesEmptyGallery(t *testing.T) {
	c := NewHTTPClient("http://localhost:1", true)

	res, err := c.Resolve(context.Background(), []byte("frame"), nil)

	assert.NoError(t, err)
	assert.Equal(t, StatusNoMatch, res.Status)
}

func TestSkipResolveMatchesFirstCandidate(t *testing.T) {
	c := NewHTTPClient("http://localhost:1", true)

	res, err := c.Resolve(context.Background(), []byte("frame"), []Candidate{{IdentityID: "S200"}})

	assert.NoError(t, err)
	assert.Equal(t, StatusMatch, res.Status)
	assert.Equal(t, "S200", res.IdentityID)
}

package matcher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeResolver struct {
	calls  int
	result Result
	err    error
}

func (f *fakeResolver) Resolve(ctx context.Context, query []byte, candidates []Candidate) (Result, error) {
	f.calls++
	if f.err != nil {
		return Result{}, f.err
	}
	return f.result, nil
}

func TestPolicyEmptyCandidates(t *testing.T) {
	backend := &fakeResolver{result: Result{Status: StatusMatch, IdentityID: "S100", Confidence: 0.99}}
	policy := NewPolicy(backend, 0.75, time.Second)

	res, err := policy.Resolve(context.Background(), []byte("img"), nil)

	assert.NoError(t, err)
	assert.Equal(t, StatusNoMatch, res.Status)
	assert.Equal(t, 0, backend.calls, "empty candidate set must not reach the service")
}

func TestPolicyThresholdBoundary(t *testing.T) {
	tests := []struct {
		name       string
		confidence float64
		want       Status
	}{
		{"exactly at threshold", 0.75, StatusMatch},
		{"just below threshold", 0.749999, StatusNoMatch},
		{"well above threshold", 0.93, StatusMatch},
		{"well below threshold", 0.2, StatusNoMatch},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			backend := &fakeResolver{result: Result{
				Status:     StatusMatch,
				IdentityID: "S100",
				Confidence: tc.confidence,
			}}
			policy := NewPolicy(backend, 0.75, time.Second)

			res, err := policy.Resolve(context.Background(), []byte("img"), []Candidate{{IdentityID: "S100"}})

			assert.NoError(t, err)
			assert.Equal(t, tc.want, res.Status)
			if tc.want == StatusNoMatch {
				assert.Equal(t, tc.confidence, res.BestConfidence,
					"below-threshold confidence must be retained for diagnostics")
			}
		})
	}
}

func TestPolicyServiceFailureIsNotNoMatch(t *testing.T) {
	backend := &fakeResolver{err: errors.New("connection refused")}
	policy := NewPolicy(backend, 0.75, time.Second)

	_, err := policy.Resolve(context.Background(), []byte("img"), []Candidate{{IdentityID: "S100"}})

	assert.ErrorIs(t, err, ErrMatcher)
}

func TestPolicyPassesThroughFaceStatuses(t *testing.T) {
	for _, status := range []Status{StatusNoFace, StatusMultipleFaces} {
		backend := &fakeResolver{result: Result{Status: status}}
		policy := NewPolicy(backend, 0.75, time.Second)

		res, err := policy.Resolve(context.Background(), []byte("img"), []Candidate{{IdentityID: "S100"}})

		assert.NoError(t, err)
		assert.Equal(t, status, res.Status)
	}
}

func TestPolicyDefaults(t *testing.T) {
	policy := NewPolicy(&fakeResolver{}, 0, 0)
	assert.Equal(t, DefaultThreshold, policy.Threshold())
}

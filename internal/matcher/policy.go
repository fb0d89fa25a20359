package matcher

import (
	"context"
	"fmt"
	"time"
)

const (
	// DefaultThreshold is the minimum confidence required to accept a match.
	DefaultThreshold = 0.75
	// DefaultTimeout bounds a single call to the external service.
	DefaultTimeout = 30 * time.Second
)

// Policy wraps a Resolver with the caller-side rules: empty candidate sets
// never reach the service, below-threshold matches are downgraded to no-match
// with the observed confidence retained, and every call carries a deadline.
type Policy struct {
	resolver  Resolver
	threshold float64
	timeout   time.Duration
}

// NewPolicy builds a policy around a backend. Non-positive threshold or
// timeout fall back to the defaults.
func NewPolicy(resolver Resolver, threshold float64, timeout time.Duration) *Policy {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Policy{resolver: resolver, threshold: threshold, timeout: timeout}
}

// Threshold returns the configured confidence threshold.
func (p *Policy) Threshold() float64 { return p.threshold }

// Resolve applies the policy and delegates to the backend.
func (p *Policy) Resolve(ctx context.Context, query []byte, candidates []Candidate) (Result, error) {
	if len(candidates) == 0 {
		return Result{Status: StatusNoMatch}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	res, err := p.resolver.Resolve(ctx, query, candidates)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrMatcher, err)
	}

	if res.Status == StatusMatch {
		if res.BestConfidence < res.Confidence {
			res.BestConfidence = res.Confidence
		}
		if res.Confidence < p.threshold {
			return Result{Status: StatusNoMatch, BestConfidence: res.BestConfidence}, nil
		}
	}
	return res, nil
}

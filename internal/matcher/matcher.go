// Package matcher defines the contract with the visual identity matching
// service and the confidence policy enforced around it. The matcher itself is
// an opaque external capability; this package never inspects how it compares
// faces, only what it answers.
package matcher

import (
	"context"
	"errors"
)

// Status classifies a resolution attempt.
type Status string

const (
	// StatusMatch means exactly one candidate matched with usable confidence.
	StatusMatch Status = "match"
	// StatusNoMatch means no candidate reached the confidence threshold.
	StatusNoMatch Status = "no_match"
	// StatusNoFace means no face was found in the query image.
	StatusNoFace Status = "no_face"
	// StatusMultipleFaces means more than one face was found in the query image.
	StatusMultipleFaces Status = "multiple_faces"
)

// ErrMatcher indicates the external service failed (timeout, transport error,
// malformed response). It is distinct from StatusNoMatch: "service broke" is
// never reported as "no one matched".
var ErrMatcher = errors.New("matcher: service failure")

// Candidate pairs an enrolled identity with its reference image.
type Candidate struct {
	IdentityID string
	Photo      []byte
}

// Result is the matcher's answer for one query image.
type Result struct {
	Status     Status
	IdentityID string
	// Confidence in [0,1] for the matched identity. Only meaningful when
	// Status is StatusMatch.
	Confidence float64
	// BestConfidence is the highest confidence observed even when it fell
	// below the threshold, kept for diagnostics.
	BestConfidence float64
}

// Resolver is implemented by matcher backends.
type Resolver interface {
	Resolve(ctx context.Context, query []byte, candidates []Candidate) (Result, error)
}

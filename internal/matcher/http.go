package matcher

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPClient calls a face matching microservice over JSON.
type HTTPClient struct {
	BaseURL string
	HTTP    *http.Client
	Skip    bool
}

// NewHTTPClient creates a client. With skip enabled the service is never
// called and the first candidate is reported as a confident match, which is
// useful for local development without the face service running.
func NewHTTPClient(baseURL string, skip bool) *HTTPClient {
	return &HTTPClient{
		BaseURL: baseURL,
		Skip:    skip,
		HTTP: &http.Client{
			Timeout: 30 * time.Second, // face comparison can take time
		},
	}
}

type resolveRequest struct {
	Query      string             `json:"query"`
	Candidates []resolveCandidate `json:"candidates"`
}

type resolveCandidate struct {
	IdentityID string `json:"identity_id"`
	Photo      string `json:"photo"`
}

type resolveResponse struct {
	Status         string  `json:"status"`
	IdentityID     string  `json:"identity_id"`
	Confidence     float64 `json:"confidence"`
	BestConfidence float64 `json:"best_confidence"`
}

// Resolve submits the query image and candidate gallery and decodes the
// service's verdict.
func (c *HTTPClient) Resolve(ctx context.Context, query []byte, candidates []Candidate) (Result, error) {
	if c.Skip {
		if len(candidates) == 0 {
			return Result{Status: StatusNoMatch}, nil
		}
		return Result{
			Status:     StatusMatch,
			IdentityID: candidates[0].IdentityID,
			Confidence: 0.92,
		}, nil
	}

	req := resolveRequest{
		Query:      base64.StdEncoding.EncodeToString(query),
		Candidates: make([]resolveCandidate, 0, len(candidates)),
	}
	for _, cand := range candidates {
		req.Candidates = append(req.Candidates, resolveCandidate{
			IdentityID: cand.IdentityID,
			Photo:      base64.StdEncoding.EncodeToString(cand.Photo),
		})
	}

	body, _ := json.Marshal(req)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/resolve", bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		return Result{}, fmt.Errorf("face service request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return Result{}, fmt.Errorf("face service error %s: %s", resp.Status, string(bodyBytes))
	}

	var out resolveResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Result{}, fmt.Errorf("failed to decode response: %w", err)
	}

	status, err := parseStatus(out.Status)
	if err != nil {
		return Result{}, err
	}
	if status == StatusMatch && out.IdentityID == "" {
		return Result{}, fmt.Errorf("face service reported a match without an identity")
	}

	return Result{
		Status:         status,
		IdentityID:     out.IdentityID,
		Confidence:     out.Confidence,
		BestConfidence: out.BestConfidence,
	}, nil
}

// Health checks if the face service is available.
func (c *HTTPClient) Health(ctx context.Context) error {
	if c.Skip {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return err
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("face service unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("face service unhealthy: %s", resp.Status)
	}
	return nil
}

func parseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusMatch, StatusNoMatch, StatusNoFace, StatusMultipleFaces:
		return Status(s), nil
	default:
		return "", fmt.Errorf("face service returned unknown status %q", s)
	}
}

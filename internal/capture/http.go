package capture

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// HTTPDevice pulls still frames from an IP camera's snapshot endpoint.
// Exclusivity is enforced locally: only one session exists at a time.
type HTTPDevice struct {
	SnapshotURL string
	HTTP        *http.Client

	slot chan struct{}
}

// NewHTTPDevice creates a device for the given snapshot URL.
func NewHTTPDevice(snapshotURL string) *HTTPDevice {
	slot := make(chan struct{}, 1)
	slot <- struct{}{}
	return &HTTPDevice{
		SnapshotURL: snapshotURL,
		HTTP:        &http.Client{Timeout: 10 * time.Second},
		slot:        slot,
	}
}

// Acquire waits for the device slot and returns a session bound to it.
func (d *HTTPDevice) Acquire(ctx context.Context) (Session, error) {
	select {
	case <-d.slot:
		return &httpSession{dev: d}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type httpSession struct {
	dev     *HTTPDevice
	release sync.Once
}

func (s *httpSession) Frame(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.dev.SnapshotURL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := s.dev.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("camera snapshot failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("camera returned %s", resp.Status)
	}
	return io.ReadAll(resp.Body)
}

func (s *httpSession) Release() {
	s.release.Do(func() {
		s.dev.slot <- struct{}{}
	})
}

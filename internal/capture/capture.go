// Package capture abstracts the image-capture device as a scoped resource:
// a session is acquired for one capture cycle and released on every exit
// path, so a device handle is never leaked.
package capture

import "context"

// Session is an exclusive hold on the device for one capture cycle.
type Session interface {
	// Frame obtains one still frame from the device.
	Frame(ctx context.Context) ([]byte, error)
	// Release returns the device. Safe to call more than once.
	Release()
}

// Device hands out capture sessions.
type Device interface {
	// Acquire takes exclusive hold of the device. Fails when the device is
	// unavailable or the context is cancelled while waiting.
	Acquire(ctx context.Context) (Session, error)
}

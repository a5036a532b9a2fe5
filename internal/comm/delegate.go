package comm

import (
	"context"
)

// Delegate is one live connection to the device. The Service owns at most
// one delegate at a time and releases it exactly once.
type Delegate interface {
	// Start opens the underlying transport.
	Start(ctx context.Context) error
	// Send writes msg to the device.
	Send(ctx context.Context, msg Message) error
	// Subscribe registers fn for every message received from the device.
	// The returned func removes the registration.
	Subscribe(fn func(Message)) (cancel func())
	// Close releases the transport. Calling it more than once is allowed.
	Close() error
}

// Factory builds a fresh, unstarted delegate.
type Factory func() (Delegate, error)

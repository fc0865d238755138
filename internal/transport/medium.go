// Package transport moves frames between nodes over a best-effort broadcast
// medium and hands decoded envelopes to the control loop.
package transport

import (
	"context"
	"errors"

	"github.com/danmuck/glowlink/internal/protocol/identity"
)

var (
	ErrClosed           = errors.New("transport: medium closed")
	ErrIdentityMismatch = errors.New("transport: sender id does not match link address")
	ErrAlreadyListening = errors.New("transport: receiver already registered")
)

// Receiver is invoked by a medium for every raw frame it hears. from is the
// link-level source address. raw is only valid for the duration of the call.
// It runs on the medium's goroutine and must not block.
type Receiver func(raw []byte, from identity.Address)

// Medium is a lossy broadcast channel. Delivery is unordered and may duplicate.
type Medium interface {
	Broadcast(ctx context.Context, raw []byte) error
	// Listen registers the single receiver for inbound frames.
	Listen(r Receiver) error
	Close() error
	Address() identity.Address
}

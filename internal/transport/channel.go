// Package transport owns the event-stream connection to the backend.
// It moves frames only; room semantics live in internal/sync.
package transport

import (
	"context"
	"errors"

	"github.com/chordboard/roomsync/internal/domain"
)

var (
	// ErrClosed fails sends on a channel that was shut down.
	ErrClosed = errors.New("transport channel closed")

	// ErrBackpressure fails sends when the outbound queue is full.
	ErrBackpressure = errors.New("backpressure: outbound queue full")
)

// Channel is a bidirectional event stream. Implementations reconnect
// transparently; every successful (re)connect is announced on Reconnects
// so the session can force a resync.
type Channel interface {
	// Connect blocks until the first successful connection or ctx end,
	// then keeps the stream alive in the background.
	Connect(ctx context.Context) error

	// Events delivers inbound server events. Malformed frames are logged
	// and dropped before they reach this channel.
	Events() <-chan domain.Event

	// Reconnects fires once per successful (re)connect, coalesced.
	Reconnects() <-chan struct{}

	// Send queues an outbound client frame.
	Send(v any) error

	Close() error
}

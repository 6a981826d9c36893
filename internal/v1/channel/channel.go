// Package channel provides the ordered, framed message pipe between the
// broker and one connected client, independent of the transport carrying
// it. The WebSocket implementation serves production traffic; Pipe builds
// connected in-memory pairs for tests and in-process tooling.
package channel

import "errors"

// ErrClosed is returned by Send once the channel has closed. Sending on a
// closed channel is a reportable no-op, never a panic.
var ErrClosed = errors.New("channel closed")

// MessageFunc consumes one inbound frame. Invocations are serial and in
// arrival order.
type MessageFunc func(data []byte)

// Channel is one client's bidirectional pipe.
type Channel interface {
	// Send queues one frame for in-order delivery to the client. It never
	// blocks; a closed channel yields ErrClosed.
	Send(data []byte) error

	// Serve starts dispatching inbound frames to onMessage and returns
	// immediately. Call it once, after the owner is ready to receive.
	// Frames are handed over one at a time in arrival order.
	Serve(onMessage MessageFunc)

	// OnClose registers a hook that runs exactly once when the channel
	// dies, after the final onMessage call. Hooks run in registration
	// order.
	OnClose(fn func())

	// Close tears the channel down, flushing already queued outbound
	// frames first. Idempotent.
	Close() error
}

// Package wire implements the two inter-torus projection transports
// described by spec.md section 6: a shared-memory ring for instances that
// share an address space, and a UDP-based network transport for instances
// that don't. Both move the same payload: a serialized internal/projection
// Projection, verified by its own embedded hash, so wire itself never
// computes or checks a payload hash beyond the transport-frame checksum.
package wire

import (
	"errors"
	"time"
)

// NumInstances is the fixed torus-instance count the braid exchange
// always runs with (spec.md section 2).
const NumInstances = 3

// ErrAckTimeout is returned when a send's retry budget is exhausted with
// no ack observed. Per spec.md section 5, this is not treated as a fatal
// transport failure: the caller logs "ack timeout" and the braid cycle
// advances anyway.
var ErrAckTimeout = errors.New("wire: ack timeout")

// RetryBudget and RetryInterval match spec.md section 5's "~5s wall-clock
// / ~200ms periodic resend" bound on network-based projection exchange.
const (
	RetryBudget   = 5 * time.Second
	RetryInterval = 200 * time.Millisecond
)

// Transport is the shape both the shared-memory ring and the UDP
// transport implement: send a projection's wire bytes to a peer instance
// and wait for its ack, retrying within RetryBudget.
type Transport interface {
	// Send delivers payload (a serialized Projection) from instance `from`
	// to instance `to`, retrying until acked or RetryBudget is exhausted.
	// Returns ErrAckTimeout (not a hard error) if the budget runs out.
	Send(from, to int, seq uint64, payload []byte) error

	// Poll returns the most recent payload instance `to` has received
	// from instance `from`, and whether one has arrived since the last
	// Poll. It never blocks.
	Poll(from, to int) (payload []byte, seq uint64, ok bool)

	// Close releases any transport-owned resources (sockets, goroutines).
	Close() error
}

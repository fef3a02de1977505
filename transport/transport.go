// Package transport defines the point-to-point message layer contract
// the engine assumes (spec §6): world rank/size, non-blocking send,
// non-blocking receive with (source, tag) filters, non-blocking probe,
// a blocking wait, and optional gang sub-communicator creation for
// parallel tasks. The engine itself never imports a concrete transport
// directly; every package above this one depends only on Transport.
package transport

import (
	"context"

	"github.com/mtcrun/mtce/internal/wire"
)

// AnySource and AnyTag are wildcard filters for Recv/Probe, matching the
// spec's "source wildcard and tag wildcard supported" requirement.
const (
	AnySource = -1
	AnyTag    = wire.Tag(-1)
)

// Message is a received envelope together with the rank that sent it.
type Message struct {
	Source  int
	Tag     wire.Tag
	Payload []byte
}

// Transport is the engine's entire view of the outside communication
// world. Implementations must be safe for concurrent use by multiple
// goroutines within one process (a server's control loop, sync probes,
// and steal probes may all call it), but the engine's own design keeps
// one logical "owner" goroutine per rank driving the loop (spec §5).
type Transport interface {
	// Rank returns this process's world rank.
	Rank() int
	// Size returns the world size.
	Size() int

	// Send transmits payload to dest tagged with tag. Send does not
	// block waiting for the peer to receive; delivery is buffered by
	// the transport.
	Send(ctx context.Context, dest int, tag wire.Tag, payload []byte) error

	// Probe reports whether a message matching (source, tag) — either
	// of which may be a wildcard — is currently available, without
	// consuming it. Wildcard probes return matches fairly across
	// tags/sources rather than starving any one peer.
	Probe(source int, tag wire.Tag) (Message, bool)

	// Recv consumes the next message matching (source, tag), returning
	// ok=false immediately if none is currently available.
	Recv(source int, tag wire.Tag) (Message, bool)

	// Wait blocks until a message matching (source, tag) is available,
	// or ctx is cancelled.
	Wait(ctx context.Context, source int, tag wire.Tag) (Message, error)

	// Gang creates a sub-communicator transport scoped to ranks, for
	// dispatching a parallel task to its N workers. Implementations
	// that cannot support sub-communicators return ErrGangUnsupported;
	// callers must treat that as non-fatal (spec §6: "optional; ungated
	// if unsupported").
	Gang(ranks []int) (Transport, error)
}

// ErrGangUnsupported is returned by Gang when the transport has no
// sub-communicator support.
var ErrGangUnsupported = gangUnsupportedError{}

type gangUnsupportedError struct{}

func (gangUnsupportedError) Error() string { return "transport: gang sub-communicators unsupported" }

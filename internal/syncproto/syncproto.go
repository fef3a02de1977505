// Package syncproto implements the pairwise server-server sync
// handshake (spec §4.G): any non-trivial cross-server operation first
// syncs with its target so two servers sending each other a message at
// the same moment never both block waiting on a reply.
package syncproto

import (
	"context"
	"time"

	"github.com/joeycumines/go-catrate"

	"github.com/mtcrun/mtce/internal/errs"
	"github.com/mtcrun/mtce/internal/logging"
	"github.com/mtcrun/mtce/internal/wire"
	"github.com/mtcrun/mtce/transport"
)

// retryWindow bounds how often Protocol re-probes a rejected/absent
// response for the same peer, via go-catrate's sliding-window limiter —
// the same "short sleep between probes to avoid a busy loop" spec §4.G
// asks for, expressed with the teacher's own rate-limiting primitive
// instead of a hand-rolled timer.
const retryWindow = 2 * time.Millisecond

// Inbound is one deferred or freshly-arrived SYNC_REQUEST, handed to the
// Serve callback once accepted.
type Inbound struct {
	Source int
	Header wire.SyncRequestHeader
}

// Serve runs the operation piggy-backed on an accepted SYNC_REQUEST
// (store, refcount incr, subscribe, notify, steal — spec §4.G); it is
// supplied by internal/server, which alone knows how to dispatch every
// sync kind against components B–F.
type Serve func(in Inbound)

// Protocol is one server's sync handshake state: a busy flag preventing
// reentrant initiation (spec: "no nested initiator syncs"), and a fixed-
// size ring of inbound requests from lower-ranked peers deferred until
// there's a natural point to serve them.
type Protocol struct {
	transport transport.Transport
	self      int
	serve     Serve
	limiter   *catrate.Limiter
	logger    *logging.Logger

	busy bool

	pendingCap int
	pending    []Inbound
}

// New constructs a Protocol. pendingCap is the fixed pending-sync ring
// buffer size (spec §4.G); logger may be nil.
func New(t transport.Transport, self int, pendingCap int, serve Serve, logger *logging.Logger) *Protocol {
	return &Protocol{
		transport:  t,
		self:       self,
		serve:      serve,
		limiter:    catrate.NewLimiter(map[time.Duration]int{retryWindow: 1}),
		logger:     logger,
		pendingCap: pendingCap,
	}
}

// Sync initiates the handshake with target, carrying kind/payload as the
// SYNC_REQUEST header (spec §4.G step 1). It blocks, alternating probes
// across SYNC_RESPONSE from target, SYNC_REQUEST from any other server,
// and shutdown, until target accepts, rejects permanently (ctx done), or
// the cluster shuts down.
func (p *Protocol) Sync(ctx context.Context, target int, kind wire.SyncKind, payload []byte) error {
	if p.busy {
		return errs.New(errs.Internal, "syncproto: nested sync to %d while already syncing", target)
	}
	p.busy = true
	defer func() { p.busy = false }()

	req := wire.SyncRequestHeader{FromRank: int32(p.self), Kind: kind, Payload: payload}
	buf, err := req.MarshalBinary()
	if err != nil {
		return err
	}
	if err := p.transport.Send(ctx, target, wire.TagSyncRequest, buf); err != nil {
		return err
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if msg, ok := p.transport.Recv(target, wire.TagSyncResponse); ok {
			var resp wire.SyncResponse
			if err := resp.UnmarshalBinary(msg.Payload); err != nil {
				return err
			}
			if resp.Accepted {
				return nil
			}
			p.backoff(target)
			if err := p.transport.Send(ctx, target, wire.TagSyncRequest, buf); err != nil {
				return err
			}
			continue
		}

		if msg, ok := p.transport.Recv(transport.AnySource, wire.TagSyncRequest); ok {
			p.handleInbound(ctx, msg)
			continue
		}

		if _, ok := p.transport.Recv(transport.AnySource, wire.TagShutdownServer); ok {
			return errs.New(errs.Shutdown, "syncproto: shutdown observed while syncing with %d", target)
		}

		p.DrainPending(ctx)
		p.backoff(target)
	}
}

// handleInbound applies spec §4.G step 2b's tie-breaking rule: a peer of
// higher rank is served immediately (breaking symmetric deadlock since
// the higher rank always wins); a peer of lower rank is buffered, or
// rejected if the pending ring is full.
func (p *Protocol) handleInbound(ctx context.Context, msg transport.Message) {
	var hdr wire.SyncRequestHeader
	if err := hdr.UnmarshalBinary(msg.Payload); err != nil {
		return
	}
	in := Inbound{Source: msg.Source, Header: hdr}

	if msg.Source > p.self {
		p.accept(ctx, in)
		return
	}

	if len(p.pending) < p.pendingCap {
		p.pending = append(p.pending, in)
		return
	}
	p.reject(ctx, msg.Source)
}

func (p *Protocol) accept(ctx context.Context, in Inbound) {
	resp := wire.SyncResponse{Accepted: true}
	buf, _ := resp.MarshalBinary()
	_ = p.transport.Send(ctx, in.Source, wire.TagSyncResponse, buf)
	p.serve(in)
}

func (p *Protocol) reject(ctx context.Context, source int) {
	resp := wire.SyncResponse{Accepted: false}
	buf, _ := resp.MarshalBinary()
	_ = p.transport.Send(ctx, source, wire.TagSyncResponse, buf)
}

// DrainPending serves one buffered inbound sync, if any, per call. The
// main server loop calls this after every served RPC, and Sync's own
// probe loop calls it whenever its target is otherwise idle (spec
// §4.G).
func (p *Protocol) DrainPending(ctx context.Context) {
	if len(p.pending) == 0 {
		return
	}
	in := p.pending[0]
	p.pending = p.pending[1:]
	p.accept(ctx, in)
}

// PollIncoming is called by the main server loop outside of any active
// Sync: it accepts one freshly-arrived SYNC_REQUEST (if any) following
// the same tie-break rule as handleInbound, and drains one pending
// entry. It is a no-op while this server is itself the initiator of a
// Sync (busy), since that loop already services inbound requests.
func (p *Protocol) PollIncoming(ctx context.Context) {
	if p.busy {
		return
	}
	if msg, ok := p.transport.Recv(transport.AnySource, wire.TagSyncRequest); ok {
		p.handleInbound(ctx, msg)
	}
	p.DrainPending(ctx)
}

func (p *Protocol) backoff(key int) {
	next, allowed := p.limiter.Allow(key)
	if allowed {
		return
	}
	if d := time.Until(next); d > 0 {
		time.Sleep(d)
	}
}

// PendingLen reports how many inbound syncs are currently buffered,
// exposed for tests and metrics.
func (p *Protocol) PendingLen() int { return len(p.pending) }

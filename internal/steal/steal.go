// Package steal implements source-initiated work stealing between
// servers (spec §4.H): an idle server syncs with a random peer, trades
// per-type counts, and pulls back roughly half of whatever surplus the
// peer is willing to part with.
package steal

import (
	"context"
	"io"
	"math/rand"
	"time"

	"github.com/joeycumines/go-catrate"
	"github.com/joeycumines/go-longpoll"

	"github.com/mtcrun/mtce/internal/syncproto"
	"github.com/mtcrun/mtce/internal/task"
	"github.com/mtcrun/mtce/internal/wire"
	"github.com/mtcrun/mtce/transport"
)

// Queue is the subset of internal/workqueue.Queue the steal protocol
// needs on both sides of the handshake.
type Queue interface {
	Counts() map[int]int
	SelectForSteal(peerCounts map[int]int) []task.Task
	Readd(t task.Task) task.ID
}

// Protocol is one server's steal state: the sync handshake it rides on,
// a per-peer go-catrate limiter enforcing STEAL_RATE_LIMIT ("minimum gap
// between successive steal attempts from a single server" — here, per
// target server, spec §6), and a plain timestamp gate for STEAL_BACKOFF
// ("minimum gap between steal attempts against all peers").
type Protocol struct {
	transport transport.Transport
	self      int
	sync      *syncproto.Protocol
	wq        Queue
	rnd       *rand.Rand

	perPeer         *catrate.Limiter
	backoff         time.Duration
	lastGlobalTry   time.Time
}

// New constructs a Protocol. rateLimit gates repeat attempts against any
// single peer; backoff gates repeat attempts against the whole cluster
// (spec §6 STEAL_RATE_LIMIT / STEAL_BACKOFF).
func New(t transport.Transport, self int, sync *syncproto.Protocol, wq Queue, rateLimit, backoff time.Duration) *Protocol {
	return &Protocol{
		transport: t,
		self:      self,
		sync:      sync,
		wq:        wq,
		rnd:       rand.New(rand.NewSource(int64(self) + 1)),
		perPeer:   catrate.NewLimiter(map[time.Duration]int{rateLimit: 1}),
		backoff:   backoff,
	}
}

// ShouldAttempt reports whether the server loop should try a steal this
// iteration (spec §4.H trigger: backoff elapsed AND the request queue is
// non-empty, i.e. we have idle local workers).
func (p *Protocol) ShouldAttempt(now time.Time, localIdleWorkers int) bool {
	if localIdleWorkers == 0 {
		return false
	}
	return now.Sub(p.lastGlobalTry) >= p.backoff
}

// Attempt picks a uniformly-random peer from peers (which must exclude
// self) and tries to steal from it, returning the tasks pulled into the
// local work queue (already Readd-ed) — empty if the peer was rate-
// limited or had nothing to give.
func (p *Protocol) Attempt(ctx context.Context, now time.Time, peers []int) ([]task.Task, error) {
	p.lastGlobalTry = now
	if len(peers) == 0 {
		return nil, nil
	}
	target := peers[p.rnd.Intn(len(peers))]

	if _, ok := p.perPeer.Allow(target); !ok {
		return nil, nil
	}

	return p.Steal(ctx, target)
}

// Steal runs the handshake against target unconditionally (bypassing
// the trigger/rate-limit checks Attempt applies), for direct use by
// tests or an explicit retry.
func (p *Protocol) Steal(ctx context.Context, target int) ([]task.Task, error) {
	req := wire.StealRequest{MaxMemory: 0, WaitCounts: toWireCounts(p.wq.Counts())}
	payload, err := req.MarshalBinary()
	if err != nil {
		return nil, err
	}

	if err := p.sync.Sync(ctx, target, wire.SyncSteal, payload); err != nil {
		return nil, err
	}

	countMsg, err := p.transport.Wait(ctx, target, wire.TagResponseStealCount)
	if err != nil {
		return nil, err
	}
	var countResp wire.StealCountResponse
	if err := countResp.UnmarshalBinary(countMsg.Payload); err != nil {
		return nil, err
	}

	batchMsg, err := p.transport.Wait(ctx, target, wire.TagResponseSteal)
	if err != nil {
		return nil, err
	}
	var batch wire.StolenTaskBatch
	if err := batch.UnmarshalBinary(batchMsg.Payload); err != nil {
		return nil, err
	}

	tasks, err := drainStolen(ctx, batch.Tasks)
	if err != nil {
		return nil, err
	}
	for _, t := range tasks {
		p.wq.Readd(t)
	}
	return tasks, nil
}

// Serve answers an inbound STEAL sync (the other side of the handshake):
// given the requester's per-type stock counts, it selects a donation via
// the local work queue and sends back the two STEAL response messages
// (count, then descriptors+payloads — spec §4.H/§6).
func (p *Protocol) Serve(ctx context.Context, requester int, payload []byte) error {
	var req wire.StealRequest
	if err := req.UnmarshalBinary(payload); err != nil {
		return err
	}

	donated := p.wq.SelectForSteal(fromWireCounts(req.WaitCounts))

	counts := map[int32]int32{}
	wireTasks := make([]wire.StolenTask, 0, len(donated))
	for _, t := range donated {
		counts[int32(t.Type)]++
		wireTasks = append(wireTasks, wire.StolenTask{
			ID:          int64(t.ID),
			Type:        int32(t.Type),
			Priority:    t.Priority,
			Putter:      int32(t.Putter),
			Answer:      int32(t.Answer),
			Parallelism: int32(t.Parallelism),
			Payload:     t.Payload,
		})
	}

	countResp := wire.StealCountResponse{Counts: counts}
	countBuf, err := countResp.MarshalBinary()
	if err != nil {
		return err
	}
	if err := p.transport.Send(ctx, requester, wire.TagResponseStealCount, countBuf); err != nil {
		return err
	}

	batch := wire.StolenTaskBatch{Tasks: wireTasks}
	batchBuf, err := batch.MarshalBinary()
	if err != nil {
		return err
	}
	return p.transport.Send(ctx, requester, wire.TagResponseSteal, batchBuf)
}

// drainStolen generalizes ADLB steal.c's "receive count, then receive
// that many descriptors" loop into the teacher's batched-receive idiom
// (go-longpoll), treating the already-decoded descriptor slice as a
// closed stream so the same aggregation path would serve a future
// streamed-on-the-wire variant unchanged.
func drainStolen(ctx context.Context, wireTasks []wire.StolenTask) ([]task.Task, error) {
	ch := make(chan wire.StolenTask, len(wireTasks))
	for _, t := range wireTasks {
		ch <- t
	}
	close(ch)

	var out []task.Task
	err := longpoll.Channel(ctx, &longpoll.ChannelConfig{MaxSize: -1, MinSize: -1}, ch, func(t wire.StolenTask) error {
		out = append(out, task.Task{
			Type:        int(t.Type),
			Priority:    t.Priority,
			Putter:      int(t.Putter),
			Answer:      int(t.Answer),
			Target:      task.ANY,
			Parallelism: int(t.Parallelism),
			Payload:     t.Payload,
		})
		return nil
	})
	if err != nil && err != io.EOF {
		return nil, err
	}
	return out, nil
}

func toWireCounts(m map[int]int) map[int32]int32 {
	out := make(map[int32]int32, len(m))
	for t, c := range m {
		out[int32(t)] = int32(c)
	}
	return out
}

func fromWireCounts(m map[int32]int32) map[int]int {
	out := make(map[int]int, len(m))
	for t, c := range m {
		out[int(t)] = int(c)
	}
	return out
}

// Package inprocess implements transport.Transport entirely with Go
// channels and mutexes within a single process, used by every test. It
// mirrors the "single owner
// delivers into a per-recipient inbox, never blocking the sender" shape
// of the teacher's inprocgrpc.Channel and eventloop's external-ingress
// queue (see DESIGN.md), without depending on either package's
// gRPC/JS-event-loop-shaped public API.
package inprocess

import (
	"context"
	"sync"

	"github.com/mtcrun/mtce/internal/wire"
	"github.com/mtcrun/mtce/transport"
)

// Cluster is a fixed-size set of in-process ranks that can send to each
// other. Construct one with New, then use Transport(rank) to obtain each
// rank's view.
type Cluster struct {
	mailboxes []*mailbox
}

// New builds a Cluster of size ranks, each with its own inbox.
func New(size int) *Cluster {
	c := &Cluster{mailboxes: make([]*mailbox, size)}
	for i := range c.mailboxes {
		c.mailboxes[i] = newMailbox(i)
	}
	return c
}

// Transport returns rank's Transport handle into the cluster.
func (c *Cluster) Transport(rank int) transport.Transport {
	return &endpoint{cluster: c, rank: rank}
}

// Size returns the cluster's world size.
func (c *Cluster) Size() int { return len(c.mailboxes) }

type endpoint struct {
	cluster *Cluster
	rank    int
}

func (e *endpoint) Rank() int { return e.rank }
func (e *endpoint) Size() int { return e.cluster.Size() }

func (e *endpoint) Send(ctx context.Context, dest int, tag wire.Tag, payload []byte) error {
	if dest < 0 || dest >= len(e.cluster.mailboxes) {
		return &rankError{rank: dest}
	}
	cp := make([]byte, len(payload))
	copy(cp, payload)
	e.cluster.mailboxes[dest].deliver(transport.Message{Source: e.rank, Tag: tag, Payload: cp})
	return nil
}

func (e *endpoint) Probe(source int, tag wire.Tag) (transport.Message, bool) {
	return e.cluster.mailboxes[e.rank].peek(source, tag)
}

func (e *endpoint) Recv(source int, tag wire.Tag) (transport.Message, bool) {
	return e.cluster.mailboxes[e.rank].take(source, tag)
}

func (e *endpoint) Wait(ctx context.Context, source int, tag wire.Tag) (transport.Message, error) {
	return e.cluster.mailboxes[e.rank].wait(ctx, source, tag)
}

// Gang returns a sub-cluster view restricted to the given ranks, backed
// by the same mailboxes (indices in the returned Transport are relative
// to ranks' position in the slice).
func (e *endpoint) Gang(ranks []int) (transport.Transport, error) {
	g := &gang{cluster: e.cluster, ranks: append([]int(nil), ranks...)}
	myPos := -1
	for i, r := range ranks {
		if r == e.rank {
			myPos = i
			break
		}
	}
	if myPos < 0 {
		return nil, transport.ErrGangUnsupported
	}
	g.pos = myPos
	return g, nil
}

// gang adapts a Cluster's global ranks into a dense-indexed
// sub-communicator Transport, for parallel-task dispatch (spec §6).
type gang struct {
	cluster *Cluster
	ranks   []int
	pos     int
}

func (g *gang) Rank() int { return g.pos }
func (g *gang) Size() int { return len(g.ranks) }

func (g *gang) Send(ctx context.Context, dest int, tag wire.Tag, payload []byte) error {
	if dest < 0 || dest >= len(g.ranks) {
		return &rankError{rank: dest}
	}
	real := &endpoint{cluster: g.cluster, rank: g.ranks[g.pos]}
	return real.Send(ctx, g.ranks[dest], tag, payload)
}

func (g *gang) Probe(source int, tag wire.Tag) (transport.Message, bool) {
	real := &endpoint{cluster: g.cluster, rank: g.ranks[g.pos]}
	src := g.globalSource(source)
	m, ok := real.Probe(src, tag)
	if ok {
		m.Source = g.localSource(m.Source)
	}
	return m, ok
}

func (g *gang) Recv(source int, tag wire.Tag) (transport.Message, bool) {
	real := &endpoint{cluster: g.cluster, rank: g.ranks[g.pos]}
	m, ok := real.Recv(g.globalSource(source), tag)
	if ok {
		m.Source = g.localSource(m.Source)
	}
	return m, ok
}

func (g *gang) Wait(ctx context.Context, source int, tag wire.Tag) (transport.Message, error) {
	real := &endpoint{cluster: g.cluster, rank: g.ranks[g.pos]}
	m, err := real.Wait(ctx, g.globalSource(source), tag)
	if err == nil {
		m.Source = g.localSource(m.Source)
	}
	return m, err
}

func (g *gang) Gang(ranks []int) (transport.Transport, error) {
	return nil, transport.ErrGangUnsupported
}

func (g *gang) globalSource(source int) int {
	if source == transport.AnySource {
		return transport.AnySource
	}
	return g.ranks[source]
}

func (g *gang) localSource(source int) int {
	for i, r := range g.ranks {
		if r == source {
			return i
		}
	}
	return source
}

type rankError struct{ rank int }

func (e *rankError) Error() string { return "inprocess: no such rank" }

// mailbox is a single rank's inbox: an unordered bag of pending messages
// guarded by a mutex, with a condition variable for Wait. Wildcard scans
// rotate their starting offset so repeated probing doesn't starve
// messages that arrived early from a low-numbered sender (spec §6:
// "wildcard probes must return messages fairly across tags/sources").
type mailbox struct {
	rank int

	mu       sync.Mutex
	cond     *sync.Cond
	pending  []transport.Message
	rotation int
}

func newMailbox(rank int) *mailbox {
	m := &mailbox{rank: rank}
	m.cond = sync.NewCond(&m.mu)
	return m
}

func (m *mailbox) deliver(msg transport.Message) {
	m.mu.Lock()
	m.pending = append(m.pending, msg)
	m.mu.Unlock()
	m.cond.Broadcast()
}

// match finds the index of a message satisfying (source, tag), scanning
// from a rotating offset for fairness. Caller must hold m.mu.
func (m *mailbox) match(source int, tag wire.Tag) int {
	n := len(m.pending)
	if n == 0 {
		return -1
	}
	start := m.rotation % n
	for i := 0; i < n; i++ {
		idx := (start + i) % n
		msg := m.pending[idx]
		if (source == transport.AnySource || msg.Source == source) &&
			(tag == transport.AnyTag || msg.Tag == tag) {
			m.rotation = idx + 1
			return idx
		}
	}
	return -1
}

func (m *mailbox) peek(source int, tag wire.Tag) (transport.Message, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := m.match(source, tag)
	if idx < 0 {
		return transport.Message{}, false
	}
	return m.pending[idx], true
}

func (m *mailbox) take(source int, tag wire.Tag) (transport.Message, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := m.match(source, tag)
	if idx < 0 {
		return transport.Message{}, false
	}
	msg := m.pending[idx]
	m.pending = append(m.pending[:idx], m.pending[idx+1:]...)
	return msg, true
}

func (m *mailbox) wait(ctx context.Context, source int, tag wire.Tag) (transport.Message, error) {
	done := make(chan struct{})
	if ctx != nil {
		go func() {
			select {
			case <-ctx.Done():
				m.cond.Broadcast()
			case <-done:
			}
		}()
		defer close(done)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for {
		idx := m.match(source, tag)
		if idx >= 0 {
			msg := m.pending[idx]
			m.pending = append(m.pending[:idx], m.pending[idx+1:]...)
			return msg, nil
		}
		if ctx != nil {
			select {
			case <-ctx.Done():
				return transport.Message{}, ctx.Err()
			default:
			}
		}
		m.cond.Wait()
	}
}

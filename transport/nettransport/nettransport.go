// Package nettransport implements transport.Transport over plain TCP
// with length-prefixed envelopes, for multi-process deployment. Each
// rank accepts inbound connections from peers and keeps one outbound
// connection per peer. Send returns only once its frame is written and
// flushed (or its ctx is done), so it can block on TCP backpressure.
package nettransport

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/mtcrun/mtce/internal/wire"
	"github.com/mtcrun/mtce/transport"
)

// Peers maps world rank to dial address; every rank's entry must be
// reachable from every other rank.
type Peers map[int]string

// Transport is a TCP-backed transport.Transport. Construct with Dial,
// which starts a listener for inbound peers and lazily dials outbound
// connections on first Send.
type Transport struct {
	rank  int
	peers Peers

	listener net.Listener

	mailboxMu sync.Mutex
	cond      *sync.Cond
	pending   []transport.Message
	rotation  int

	connMu sync.Mutex
	conns  map[int]*conn

	closeOnce sync.Once
	closed    chan struct{}
}

type conn struct {
	w  *bufio.Writer
	mu sync.Mutex
}

var _ transport.Transport = (*Transport)(nil)

// Dial constructs a Transport for rank, listening on listenAddr for
// inbound peer connections and resolving outbound addresses from peers.
func Dial(rank int, listenAddr string, peers Peers) (*Transport, error) {
	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return nil, fmt.Errorf("nettransport: listen %s: %w", listenAddr, err)
	}
	t := &Transport{
		rank:     rank,
		peers:    peers,
		listener: ln,
		conns:    make(map[int]*conn),
		closed:   make(chan struct{}),
	}
	t.cond = sync.NewCond(&t.mailboxMu)
	go t.acceptLoop()
	return t, nil
}

func (t *Transport) acceptLoop() {
	for {
		c, err := t.listener.Accept()
		if err != nil {
			select {
			case <-t.closed:
				return
			default:
			}
			return
		}
		go t.readLoop(c)
	}
}

// readLoop decodes the [source(4) tag(4) length(4) payload] frames a
// peer's Send writes and delivers them into the local mailbox.
func (t *Transport) readLoop(c net.Conn) {
	defer c.Close()
	r := bufio.NewReader(c)
	var hdr [12]byte
	for {
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			return
		}
		source := int(int32(binary.BigEndian.Uint32(hdr[0:4])))
		tag := wire.Tag(int32(binary.BigEndian.Uint32(hdr[4:8])))
		length := binary.BigEndian.Uint32(hdr[8:12])
		payload := make([]byte, length)
		if _, err := io.ReadFull(r, payload); err != nil {
			return
		}
		t.deliver(transport.Message{Source: source, Tag: tag, Payload: payload})
	}
}

func (t *Transport) deliver(msg transport.Message) {
	t.mailboxMu.Lock()
	t.pending = append(t.pending, msg)
	t.mailboxMu.Unlock()
	t.cond.Broadcast()
}

func (t *Transport) Rank() int { return t.rank }
func (t *Transport) Size() int { return len(t.peers) }

func (t *Transport) outbound(dest int) (*conn, error) {
	t.connMu.Lock()
	defer t.connMu.Unlock()
	if c, ok := t.conns[dest]; ok {
		return c, nil
	}
	addr, ok := t.peers[dest]
	if !ok {
		return nil, fmt.Errorf("nettransport: no address for rank %d", dest)
	}
	nc, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("nettransport: dial rank %d at %s: %w", dest, addr, err)
	}
	c := &conn{w: bufio.NewWriter(nc)}
	t.conns[dest] = c
	return c, nil
}

// Send writes one length-prefixed frame to dest. The write itself can
// block on TCP backpressure (same as the original MPI non-blocking send
// still requiring eventual buffer drain); ctx bounds that wait.
func (t *Transport) Send(ctx context.Context, dest int, tag wire.Tag, payload []byte) error {
	c, err := t.outbound(dest)
	if err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		var hdr [12]byte
		binary.BigEndian.PutUint32(hdr[0:4], uint32(int32(t.rank)))
		binary.BigEndian.PutUint32(hdr[4:8], uint32(int32(tag)))
		binary.BigEndian.PutUint32(hdr[8:12], uint32(len(payload)))
		if _, err := c.w.Write(hdr[:]); err != nil {
			done <- err
			return
		}
		if _, err := c.w.Write(payload); err != nil {
			done <- err
			return
		}
		done <- c.w.Flush()
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Transport) match(source int, tag wire.Tag) int {
	n := len(t.pending)
	if n == 0 {
		return -1
	}
	start := t.rotation % n
	for i := 0; i < n; i++ {
		idx := (start + i) % n
		msg := t.pending[idx]
		if (source == transport.AnySource || msg.Source == source) &&
			(tag == transport.AnyTag || msg.Tag == tag) {
			t.rotation = idx + 1
			return idx
		}
	}
	return -1
}

func (t *Transport) Probe(source int, tag wire.Tag) (transport.Message, bool) {
	t.mailboxMu.Lock()
	defer t.mailboxMu.Unlock()
	idx := t.match(source, tag)
	if idx < 0 {
		return transport.Message{}, false
	}
	return t.pending[idx], true
}

func (t *Transport) Recv(source int, tag wire.Tag) (transport.Message, bool) {
	t.mailboxMu.Lock()
	defer t.mailboxMu.Unlock()
	idx := t.match(source, tag)
	if idx < 0 {
		return transport.Message{}, false
	}
	msg := t.pending[idx]
	t.pending = append(t.pending[:idx], t.pending[idx+1:]...)
	return msg, true
}

func (t *Transport) Wait(ctx context.Context, source int, tag wire.Tag) (transport.Message, error) {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			t.cond.Broadcast()
		case <-done:
		}
	}()
	defer close(done)

	t.mailboxMu.Lock()
	defer t.mailboxMu.Unlock()
	for {
		idx := t.match(source, tag)
		if idx >= 0 {
			msg := t.pending[idx]
			t.pending = append(t.pending[:idx], t.pending[idx+1:]...)
			return msg, nil
		}
		select {
		case <-ctx.Done():
			return transport.Message{}, ctx.Err()
		default:
		}
		t.cond.Wait()
	}
}

// Gang is unsupported over plain TCP; per spec §6 this is optional and
// ungated when unsupported.
func (t *Transport) Gang(ranks []int) (transport.Transport, error) {
	return nil, transport.ErrGangUnsupported
}

// Close stops accepting connections and unblocks any pending Wait.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		close(t.closed)
		t.cond.Broadcast()
	})
	return t.listener.Close()
}

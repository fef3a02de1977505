package syncproto

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mtcrun/mtce/internal/wire"
	"github.com/mtcrun/mtce/transport"
	"github.com/mtcrun/mtce/transport/inprocess"
)

func TestSync_AcceptsImmediately(t *testing.T) {
	cluster := inprocess.New(2)

	var served []Inbound
	var mu sync.Mutex
	b := New(cluster.Transport(1), 1, 4, func(in Inbound) {
		mu.Lock()
		served = append(served, in)
		mu.Unlock()
	}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- b.Sync(ctx, 0, wire.SyncStore, []byte("payload")) }()

	// rank 0 must accept the request and reply SYNC_RESPONSE.
	tA := cluster.Transport(0)
	var msg = waitFor(t, tA, 1, wire.TagSyncRequest)
	var hdr wire.SyncRequestHeader
	require.NoError(t, hdr.UnmarshalBinary(msg.Payload))
	require.Equal(t, wire.SyncStore, hdr.Kind)

	resp := wire.SyncResponse{Accepted: true}
	buf, _ := resp.MarshalBinary()
	require.NoError(t, tA.Send(ctx, 1, wire.TagSyncResponse, buf))

	require.NoError(t, <-done)
}

func TestHandleInbound_HigherRankServedImmediately(t *testing.T) {
	cluster := inprocess.New(3)
	var served []int
	b := New(cluster.Transport(1), 1, 4, func(in Inbound) {
		served = append(served, in.Source)
	}, nil)

	ctx := context.Background()
	req := wire.SyncRequestHeader{FromRank: 2, Kind: wire.SyncGeneric}
	buf, _ := req.MarshalBinary()
	require.NoError(t, cluster.Transport(2).Send(ctx, 1, wire.TagSyncRequest, buf))

	b.PollIncoming(ctx)
	require.Equal(t, []int{2}, served, "a request from a higher rank must be served immediately, not buffered")
	require.Equal(t, 0, b.PendingLen())
}

func TestHandleInbound_LowerRankBuffered(t *testing.T) {
	cluster := inprocess.New(3)
	var served []int
	b := New(cluster.Transport(2), 2, 4, func(in Inbound) {
		served = append(served, in.Source)
	}, nil)

	ctx := context.Background()
	req := wire.SyncRequestHeader{FromRank: 0, Kind: wire.SyncGeneric}
	buf, _ := req.MarshalBinary()
	require.NoError(t, cluster.Transport(0).Send(ctx, 2, wire.TagSyncRequest, buf))

	b.PollIncoming(ctx)
	require.Empty(t, served, "a request from a lower rank must be buffered, not served inline")
	require.Equal(t, 1, b.PendingLen())

	b.DrainPending(ctx)
	require.Equal(t, []int{0}, served)
	require.Equal(t, 0, b.PendingLen())
}

func TestHandleInbound_RejectsWhenPendingFull(t *testing.T) {
	cluster := inprocess.New(3)
	b := New(cluster.Transport(2), 2, 0, func(Inbound) {}, nil)

	ctx := context.Background()
	req := wire.SyncRequestHeader{FromRank: 0, Kind: wire.SyncGeneric}
	buf, _ := req.MarshalBinary()
	require.NoError(t, cluster.Transport(0).Send(ctx, 2, wire.TagSyncRequest, buf))

	b.PollIncoming(ctx)

	msg := waitFor(t, cluster.Transport(0), 2, wire.TagSyncResponse)
	var resp wire.SyncResponse
	require.NoError(t, resp.UnmarshalBinary(msg.Payload))
	require.False(t, resp.Accepted)
}

func TestSync_NestedSyncRejected(t *testing.T) {
	cluster := inprocess.New(2)
	b := New(cluster.Transport(1), 1, 4, func(Inbound) {}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	go func() { _ = b.Sync(ctx, 0, wire.SyncGeneric, nil) }()
	// give the goroutine a moment to set busy.
	time.Sleep(5 * time.Millisecond)

	err := b.Sync(context.Background(), 0, wire.SyncGeneric, nil)
	require.Error(t, err)
}

func waitFor(t *testing.T, tr transport.Transport, source int, tag wire.Tag) transport.Message {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if msg, ok := tr.Recv(source, tag); ok {
			return msg
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for tag %v from %d", tag, source)
	return transport.Message{}
}

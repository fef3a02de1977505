package inprocess

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mtcrun/mtce/internal/wire"
	"github.com/mtcrun/mtce/transport"
)

func TestSendRecv(t *testing.T) {
	c := New(3)
	a := c.Transport(0)
	b := c.Transport(1)

	require.NoError(t, a.Send(context.Background(), 1, wire.TagPut, []byte("hello")))

	msg, ok := b.Recv(0, wire.TagPut)
	require.True(t, ok)
	require.Equal(t, "hello", string(msg.Payload))
	require.Equal(t, 0, msg.Source)
}

func TestRecv_NoMatch(t *testing.T) {
	c := New(2)
	b := c.Transport(1)
	_, ok := b.Recv(0, wire.TagPut)
	require.False(t, ok)
}

func TestProbe_DoesNotConsume(t *testing.T) {
	c := New(2)
	a := c.Transport(0)
	b := c.Transport(1)
	require.NoError(t, a.Send(context.Background(), 1, wire.TagGet, []byte("x")))

	_, ok := b.Probe(transport.AnySource, transport.AnyTag)
	require.True(t, ok)

	msg, ok := b.Recv(transport.AnySource, wire.TagGet)
	require.True(t, ok)
	require.Equal(t, "x", string(msg.Payload))
}

func TestWait_BlocksUntilDelivered(t *testing.T) {
	c := New(2)
	a := c.Transport(0)
	b := c.Transport(1)

	go func() {
		time.Sleep(10 * time.Millisecond)
		_ = a.Send(context.Background(), 1, wire.TagSync, []byte("late"))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, err := b.Wait(ctx, 0, wire.TagSync)
	require.NoError(t, err)
	require.Equal(t, "late", string(msg.Payload))
}

func TestWait_ContextCancelled(t *testing.T) {
	c := New(2)
	b := c.Transport(1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := b.Wait(ctx, 0, wire.TagSync)
	require.Error(t, err)
}

func TestGang_LocalIndexing(t *testing.T) {
	c := New(4)
	r2 := c.Transport(2)
	r3 := c.Transport(3)

	g2, err := r2.Gang([]int{1, 2, 3})
	require.NoError(t, err)
	g3, err := r3.Gang([]int{1, 2, 3})
	require.NoError(t, err)

	require.Equal(t, 1, g2.Rank())
	require.Equal(t, 2, g3.Rank())

	require.NoError(t, g2.Send(context.Background(), 2, wire.TagWork, []byte("gang")))
	msg, ok := g3.Recv(1, wire.TagWork)
	require.True(t, ok)
	require.Equal(t, "gang", string(msg.Payload))
}

func TestGang_RankNotMember(t *testing.T) {
	c := New(4)
	r0 := c.Transport(0)
	_, err := r0.Gang([]int{1, 2, 3})
	require.ErrorIs(t, err, transport.ErrGangUnsupported)
}

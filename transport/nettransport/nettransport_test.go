package nettransport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mtcrun/mtce/internal/wire"
)

func TestSendRecv_TCP(t *testing.T) {
	a, err := Dial(0, "127.0.0.1:0", nil)
	require.NoError(t, err)
	defer a.Close()

	b, err := Dial(1, "127.0.0.1:0", nil)
	require.NoError(t, err)
	defer b.Close()

	a.peers = Peers{1: b.listener.Addr().String()}
	b.peers = Peers{0: a.listener.Addr().String()}

	require.NoError(t, a.Send(context.Background(), 1, wire.TagPut, []byte("hi")))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	msg, err := b.Wait(ctx, 0, wire.TagPut)
	require.NoError(t, err)
	require.Equal(t, "hi", string(msg.Payload))
}

func TestGang_Unsupported(t *testing.T) {
	a, err := Dial(0, "127.0.0.1:0", nil)
	require.NoError(t, err)
	defer a.Close()

	_, err = a.Gang([]int{0, 1})
	require.Error(t, err)
}

package notify

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mtcrun/mtce/internal/datastore"
	"github.com/mtcrun/mtce/internal/layout"
	"github.com/mtcrun/mtce/internal/task"
)

type fakeDispatcher struct {
	local  []task.Task
	remote []struct {
		server int
		t      task.Task
	}
}

func (f *fakeDispatcher) Local(t task.Task) {
	f.local = append(f.local, t)
}

func (f *fakeDispatcher) Remote(serverRank int, t task.Task) error {
	f.remote = append(f.remote, struct {
		server int
		t      task.Task
	}{serverRank, t})
	return nil
}

func TestEngine_DeliverLocal(t *testing.T) {
	l, err := layout.New(4, 2) // workers 0-3, servers 4-5
	require.NoError(t, err)

	d := &fakeDispatcher{}
	e := New(l, 4, d, 16)
	defer e.Close()

	// rank 0's home is server 4 (0 mod 2 == 0 -> workers+0).
	err = e.Deliver(context.Background(), []datastore.CloseNotification{
		{Rank: 0, WorkType: 7, ID: 42},
	})
	require.NoError(t, err)
	require.Len(t, d.local, 1)
	require.Empty(t, d.remote)
	require.Equal(t, 0, d.local[0].Target)
	require.Equal(t, 7, d.local[0].Type)
	require.Equal(t, task.ControlPriority, d.local[0].Priority)
}

func TestEngine_DeliverRemote(t *testing.T) {
	l, err := layout.New(4, 2)
	require.NoError(t, err)

	d := &fakeDispatcher{}
	e := New(l, 4, d, 16)
	defer e.Close()

	// rank 1's home is server 5 (1 mod 2 == 1 -> workers+1), not self (4).
	err = e.Deliver(context.Background(), []datastore.CloseNotification{
		{Rank: 1, WorkType: 7, ID: 99},
	})
	require.NoError(t, err)
	require.Empty(t, d.local)
	require.Len(t, d.remote, 1)
	require.Equal(t, 5, d.remote[0].server)
}

func TestEngine_DedupesSameBundleTwice(t *testing.T) {
	l, err := layout.New(4, 2)
	require.NoError(t, err)

	d := &fakeDispatcher{}
	e := New(l, 4, d, 16)
	defer e.Close()

	closes := []datastore.CloseNotification{{Rank: 0, WorkType: 1, ID: 5}}
	require.NoError(t, e.Deliver(context.Background(), closes))
	require.NoError(t, e.Deliver(context.Background(), closes))
	require.Len(t, d.local, 1, "a repeated identical notification must not be redelivered")
}

func TestEngine_DeliverEmpty(t *testing.T) {
	l, err := layout.New(2, 1)
	require.NoError(t, err)
	d := &fakeDispatcher{}
	e := New(l, 2, d, 16)
	defer e.Close()

	require.NoError(t, e.Deliver(context.Background(), nil))
	require.Empty(t, d.local)
	require.Empty(t, d.remote)
}

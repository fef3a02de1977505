package depengine

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mtcrun/mtce/internal/layout"
	"github.com/mtcrun/mtce/internal/task"
)

type fakeStore struct {
	closedScalars map[int64]bool
	closedSubs    map[inputKey]bool
	subscribes    int
}

func newFakeStore() *fakeStore {
	return &fakeStore{closedScalars: map[int64]bool{}, closedSubs: map[inputKey]bool{}}
}

func (s *fakeStore) Subscribe(id int64, sub string, hasSub bool, rank, workType int) (bool, error) {
	s.subscribes++
	if hasSub {
		if s.closedSubs[inputKey{id: id, sub: sub, hasSub: true}] {
			return false, nil
		}
		return true, nil
	}
	if s.closedScalars[id] {
		return false, nil
	}
	return true, nil
}

type fakeRemote struct {
	calls int
}

func (r *fakeRemote) SubscribeRemote(serverRank int, id int64, sub string, hasSub bool, rank, workType int) (bool, error) {
	r.calls++
	return true, nil
}

type fakeDispatcher struct {
	released []task.Task
}

func (d *fakeDispatcher) Release(t task.Task) {
	d.released = append(d.released, t)
}

func newEngine(t *testing.T) (*Engine, *fakeStore, *fakeRemote, *fakeDispatcher) {
	l, err := layout.New(2, 1) // single server, world = [0,1 workers][2 server]
	require.NoError(t, err)
	store := newFakeStore()
	remote := &fakeRemote{}
	disp := &fakeDispatcher{}
	return New(l, 2, store, remote, disp, 16), store, remote, disp
}

func TestPutRule_AlreadyClosedReleasesImmediately(t *testing.T) {
	e, store, _, disp := newEngine(t)
	store.closedScalars[5] = true

	ready, err := e.PutRule("r1", []int64{5}, nil, task.Task{Type: 1})
	require.NoError(t, err)
	require.True(t, ready)
	require.Len(t, disp.released, 1)
	require.Equal(t, 0, e.WaitingCount())
}

func TestPutRule_WaitsThenReleasesOnClose(t *testing.T) {
	e, _, _, disp := newEngine(t)

	ready, err := e.PutRule("r2", []int64{7}, nil, task.Task{Type: 2})
	require.NoError(t, err)
	require.False(t, ready)
	require.Equal(t, 1, e.WaitingCount())
	require.Empty(t, disp.released)

	e.Close(7, "", false, false)
	require.Len(t, disp.released, 1)
	require.Equal(t, 0, e.WaitingCount())
}

func TestPutRule_MultipleInputsAllMustClose(t *testing.T) {
	e, _, _, disp := newEngine(t)

	ready, err := e.PutRule("r3", []int64{1, 2}, nil, task.Task{Type: 3})
	require.NoError(t, err)
	require.False(t, ready)

	e.Close(1, "", false, false)
	require.Empty(t, disp.released, "must not release until every input is closed")

	e.Close(2, "", false, false)
	require.Len(t, disp.released, 1)
}

func TestPutRule_SubscriptInput(t *testing.T) {
	e, _, _, disp := newEngine(t)

	ready, err := e.PutRule("r4", nil, []InputIDSub{{ID: 9, Sub: "a.0"}}, task.Task{Type: 4})
	require.NoError(t, err)
	require.False(t, ready)

	e.Close(9, "a.0", true, false)
	require.Len(t, disp.released, 1)
}

func TestPutRule_DedupesUnderlyingSubscription(t *testing.T) {
	e, store, _, _ := newEngine(t)

	_, err := e.PutRule("r5", []int64{11}, nil, task.Task{Type: 5})
	require.NoError(t, err)
	_, err = e.PutRule("r6", []int64{11}, nil, task.Task{Type: 6})
	require.NoError(t, err)

	require.Equal(t, 1, store.subscribes, "only the first transform waiting on an id should subscribe to the store")
}

func TestPutRule_RemoteInputUsesSyncSubscribe(t *testing.T) {
	l, err := layout.New(2, 2) // workers 0-1, servers 2-3
	require.NoError(t, err)
	store := newFakeStore()
	remote := &fakeRemote{}
	disp := &fakeDispatcher{}
	e := New(l, 2, store, remote, disp, 16)

	// id=1 -> locate = 2 + (1 mod 2) = 3, not self (2).
	ready, err := e.PutRule("r7", []int64{1}, nil, task.Task{Type: 7})
	require.NoError(t, err)
	require.False(t, ready)
	require.Equal(t, 1, remote.calls)

	e.Close(1, "", false, true)
	require.Len(t, disp.released, 1)
}

func TestClose_IgnoresUnknownKey(t *testing.T) {
	e, _, _, disp := newEngine(t)
	e.Close(999, "", false, false)
	require.Empty(t, disp.released)
}

func TestWaitingNames(t *testing.T) {
	e, _, _, _ := newEngine(t)
	_, err := e.PutRule("stuck", []int64{42}, nil, task.Task{Type: 1})
	require.NoError(t, err)
	require.Equal(t, []string{"stuck"}, e.WaitingNames())
}

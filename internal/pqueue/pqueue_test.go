package pqueue

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestQueue_PopOrder(t *testing.T) {
	q := New[string]()
	q.Push(5, "five")
	q.Push(1, "one")
	q.Push(3, "three")

	k, v, _, ok := q.Pop()
	require.True(t, ok)
	require.Equal(t, int64(1), k)
	require.Equal(t, "one", v)

	k, v, _, ok = q.Pop()
	require.True(t, ok)
	require.Equal(t, int64(3), k)
	require.Equal(t, "three", v)

	k, v, _, ok = q.Pop()
	require.True(t, ok)
	require.Equal(t, int64(5), k)
	require.Equal(t, "five", v)

	_, _, _, ok = q.Pop()
	require.False(t, ok)
}

func TestQueue_RemoveByHandle(t *testing.T) {
	q := New[string]()
	_ = q.Push(5, "five")
	h2 := q.Push(1, "one")
	_ = q.Push(3, "three")

	v, ok := q.Remove(h2)
	require.True(t, ok)
	require.Equal(t, "one", v)
	require.Equal(t, 2, q.Len())

	// removing again is a no-op: this is the "stale handle" tolerance
	// spec §4.B relies on.
	_, ok = q.Remove(h2)
	require.False(t, ok)

	k, _, _, ok := q.Pop()
	require.True(t, ok)
	require.Equal(t, int64(3), k)
}

func TestQueue_Fix(t *testing.T) {
	q := New[string]()
	h1 := q.Push(5, "five")
	_ = q.Push(1, "one")

	q.Fix(h1, 0)

	k, v, _, ok := q.Pop()
	require.True(t, ok)
	require.Equal(t, int64(0), k)
	require.Equal(t, "five", v)
}

func TestQueue_StaleHandleAfterPop(t *testing.T) {
	q := New[string]()
	h := q.Push(1, "only")

	_, _, poppedHandle, ok := q.Pop()
	require.True(t, ok)
	require.Equal(t, h, poppedHandle)

	// the handle is now stale: Remove/Fix/Value must fail gracefully,
	// never touch unrelated entries.
	_, ok = q.Remove(h)
	require.False(t, ok)
	require.False(t, q.Fix(h, 9))
	_, ok = q.Value(h)
	require.False(t, ok)
}

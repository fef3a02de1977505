package reqqueue

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mtcrun/mtce/internal/task"
)

func TestAdd_DuplicateRejected(t *testing.T) {
	q := New()
	require.NoError(t, q.Add(1, 2))
	require.Error(t, q.Add(1, 3))
}

func TestMatchTarget(t *testing.T) {
	q := New()
	require.NoError(t, q.Add(1, 2))
	require.True(t, q.MatchTarget(1, 2))
	require.False(t, q.Waiting(1))
}

func TestMatchTarget_WrongType(t *testing.T) {
	q := New()
	require.NoError(t, q.Add(1, 2))
	require.False(t, q.MatchTarget(1, 3))
	require.True(t, q.Waiting(1))
}

func TestMatchTarget_AnyTypeWaiter(t *testing.T) {
	q := New()
	require.NoError(t, q.Add(1, task.ANY))
	require.True(t, q.MatchTarget(1, 5))
}

func TestMatchType_FIFO(t *testing.T) {
	q := New()
	require.NoError(t, q.Add(1, 2))
	require.NoError(t, q.Add(3, 2))

	r, ok := q.MatchType(2)
	require.True(t, ok)
	require.Equal(t, 1, r)

	r, ok = q.MatchType(2)
	require.True(t, ok)
	require.Equal(t, 3, r)

	_, ok = q.MatchType(2)
	require.False(t, ok)
}

func TestMatchType_PrefersExactOverAny(t *testing.T) {
	q := New()
	require.NoError(t, q.Add(1, task.ANY))
	require.NoError(t, q.Add(2, 7))

	r, ok := q.MatchType(7)
	require.True(t, ok)
	require.Equal(t, 2, r)
}

func TestParallelWorkers_AtomicAllOrNothing(t *testing.T) {
	q := New()
	require.NoError(t, q.Add(1, 4))
	require.NoError(t, q.Add(2, 4))

	_, ok := q.ParallelWorkers(4, 3)
	require.False(t, ok)
	require.Equal(t, 2, q.Len()) // untouched

	ranks, ok := q.ParallelWorkers(4, 2)
	require.True(t, ok)
	require.ElementsMatch(t, []int{1, 2}, ranks)
	require.Equal(t, 0, q.Len())
}

func TestRecheck_RemovesDispatched(t *testing.T) {
	q := New()
	require.NoError(t, q.Add(1, 2))
	require.NoError(t, q.Add(3, 2))

	q.Recheck(func(rank, typ int) bool {
		return rank == 1
	})

	require.False(t, q.Waiting(1))
	require.True(t, q.Waiting(3))
}

func TestShutdown_DrainsAndTerminates(t *testing.T) {
	q := New()
	require.NoError(t, q.Add(1, 2))
	require.NoError(t, q.Add(3, 2))

	var terminated []int
	q.Shutdown(func(rank int) { terminated = append(terminated, rank) })

	require.Equal(t, 0, q.Len())
	require.ElementsMatch(t, []int{1, 3}, terminated)
}

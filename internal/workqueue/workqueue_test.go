package workqueue

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mtcrun/mtce/internal/task"
)

func TestAdd_UntargetedPopInPriorityOrder(t *testing.T) {
	q := New(nil)
	q.Add(task.Task{Type: 1, Priority: 1, Target: task.ANY, Parallelism: 1})
	q.Add(task.Task{Type: 1, Priority: 5, Target: task.ANY, Parallelism: 1})
	q.Add(task.Task{Type: 1, Priority: 3, Target: task.ANY, Parallelism: 1})

	tk, ok := q.Pop(0, 1)
	require.True(t, ok)
	require.Equal(t, int32(5), tk.Priority)

	tk, ok = q.Pop(0, 1)
	require.True(t, ok)
	require.Equal(t, int32(3), tk.Priority)

	tk, ok = q.Pop(0, 1)
	require.True(t, ok)
	require.Equal(t, int32(1), tk.Priority)

	_, ok = q.Pop(0, 1)
	require.False(t, ok)
}

func TestAdd_HardTargetedOnlyVisibleToTarget(t *testing.T) {
	q := New(nil)
	q.Add(task.Task{Type: 2, Priority: 1, Target: 7, Strictness: task.Hard, Parallelism: 1})

	_, ok := q.Pop(8, 2)
	require.False(t, ok)

	_, ok = q.Pop(8, task.ANY)
	require.False(t, ok)

	tk, ok := q.Pop(7, 2)
	require.True(t, ok)
	require.Equal(t, 7, tk.Target)
}

func TestAdd_SoftTargeted_PreferredAtTargetFallsBackUntargeted(t *testing.T) {
	q := New(nil)
	q.Add(task.Task{Type: 3, Priority: 10, Target: 2, Strictness: task.Soft, Parallelism: 1})

	// target worker gets it preferentially.
	tk, ok := q.Pop(2, 3)
	require.True(t, ok)
	require.Equal(t, 2, tk.Target)

	// the untargeted mirror must have been removed alongside.
	_, ok = q.Pop(9, 3)
	require.False(t, ok)
}

func TestAdd_SoftTargeted_FallsBackToAnyWorkerWhenTargetIdle(t *testing.T) {
	q := New(nil)
	q.Add(task.Task{Type: 3, Priority: 10, Target: 2, Strictness: task.Soft, Parallelism: 1})

	tk, ok := q.Pop(9, 3)
	require.True(t, ok)
	require.Equal(t, 2, tk.Target)

	_, ok = q.Pop(2, 3)
	require.False(t, ok)
}

func TestWalkParallel_FirstMatchDispatches(t *testing.T) {
	q := New(nil)
	q.Add(task.Task{Type: 4, Priority: 1, Target: task.ANY, Parallelism: 3})
	q.Add(task.Task{Type: 4, Priority: 9, Target: task.ANY, Parallelism: 2})

	var seen []int
	tk, ok := q.WalkParallel(func(typ, parallelism int) bool {
		seen = append(seen, parallelism)
		return parallelism == 2
	})
	require.True(t, ok)
	require.Equal(t, 2, tk.Parallelism)
	require.Equal(t, []int{2}, seen) // highest-priority entry (parallelism 2) matched first
}

func TestSelectForSteal_GivesAtLeastOneWhenImbalanced(t *testing.T) {
	q := New(nil)
	for i := 0; i < 4; i++ {
		q.Add(task.Task{Type: 1, Priority: int32(i), Target: task.ANY, Parallelism: 1})
	}

	stolen := q.SelectForSteal(map[int]int{1: 0})
	require.NotEmpty(t, stolen)
	require.LessOrEqual(t, len(stolen), 4)
}

func TestSelectForSteal_NoTransferBelowThreshold(t *testing.T) {
	q := New(nil)
	q.Add(task.Task{Type: 1, Priority: 1, Target: task.ANY, Parallelism: 1})

	stolen := q.SelectForSteal(map[int]int{1: 1})
	require.Empty(t, stolen)
}

func TestReadd_MintsFreshID(t *testing.T) {
	q := New(nil)
	id := q.Readd(task.Task{ID: 999, Type: 1, Priority: 1, Target: task.ANY, Parallelism: 1})
	require.NotEqual(t, task.ID(999), id)
}

func TestLen(t *testing.T) {
	q := New(nil)
	require.Equal(t, 0, q.Len())
	q.Add(task.Task{Type: 1, Priority: 1, Target: task.ANY, Parallelism: 1})
	require.Equal(t, 1, q.Len())
	q.Pop(0, 1)
	require.Equal(t, 0, q.Len())
}

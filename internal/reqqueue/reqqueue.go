// Package reqqueue implements the server-local request queue (spec
// §4.C): the set of local workers currently blocked in a get/iget,
// indexed both by the type they are waiting for (FIFO order) and by
// worker rank (O(1) membership test), with atomic all-or-nothing
// removal of N waiters for parallel-task dispatch.
package reqqueue

import (
	"container/list"
	"fmt"

	"github.com/mtcrun/mtce/internal/task"
)

// Queue is one server's request queue. It is accessed only by the
// owning server's single event-loop goroutine (spec §5: C is lock-free
// by construction, never locked internally).
type Queue struct {
	byType     map[int]*list.List // type (or task.ANY) -> FIFO list of rank
	byWorker   map[int]*list.Element
	workerType map[int]int
}

// New constructs an empty Queue.
func New() *Queue {
	return &Queue{
		byType:     make(map[int]*list.List),
		byWorker:   make(map[int]*list.Element),
		workerType: make(map[int]int),
	}
}

func (q *Queue) listFor(typ int) *list.List {
	l, ok := q.byType[typ]
	if !ok {
		l = list.New()
		q.byType[typ] = l
	}
	return l
}

// Add enrolls rank as waiting for typ (task.ANY permitted). It is an
// error for a rank to already be waiting — a worker may only have one
// outstanding get at a time.
func (q *Queue) Add(rank, typ int) error {
	if _, dup := q.byWorker[rank]; dup {
		return fmt.Errorf("reqqueue: worker %d already has an outstanding request", rank)
	}
	e := q.listFor(typ).PushBack(rank)
	q.byWorker[rank] = e
	q.workerType[rank] = typ
	return nil
}

// remove detaches rank from whichever type list it occupies.
func (q *Queue) remove(rank int) {
	e, ok := q.byWorker[rank]
	if !ok {
		return
	}
	typ := q.workerType[rank]
	if l, ok := q.byType[typ]; ok {
		l.Remove(e)
	}
	delete(q.byWorker, rank)
	delete(q.workerType, rank)
}

// MatchTarget reports whether rank is currently waiting for a type
// compatible with typ (exact match, or rank waits for task.ANY), and if
// so removes it from the queue.
func (q *Queue) MatchTarget(rank, typ int) bool {
	waiting, ok := q.workerType[rank]
	if !ok {
		return false
	}
	if waiting != task.ANY && waiting != typ {
		return false
	}
	q.remove(rank)
	return true
}

// MatchType pops the first-waiting rank compatible with typ, preferring
// an exact-type waiter before an task.ANY waiter (FIFO within each).
func (q *Queue) MatchType(typ int) (rank int, ok bool) {
	if l, exists := q.byType[typ]; exists && l.Len() > 0 {
		e := l.Front()
		rank = e.Value.(int)
		q.remove(rank)
		return rank, true
	}
	if typ != task.ANY {
		if l, exists := q.byType[task.ANY]; exists && l.Len() > 0 {
			e := l.Front()
			rank = e.Value.(int)
			q.remove(rank)
			return rank, true
		}
	}
	return 0, false
}

// ParallelWorkers atomically removes n waiters compatible with typ, or
// leaves the queue untouched and returns ok=false if fewer than n are
// currently available (spec §4.C).
func (q *Queue) ParallelWorkers(typ, n int) (ranks []int, ok bool) {
	avail := q.countCompatible(typ)
	if avail < n {
		return nil, false
	}

	ranks = make([]int, 0, n)
	for len(ranks) < n {
		r, ok := q.MatchType(typ)
		if !ok {
			// count was wrong somehow; should not happen given the
			// count check above, but fail safe rather than panic.
			break
		}
		ranks = append(ranks, r)
	}
	return ranks, len(ranks) == n
}

func (q *Queue) countCompatible(typ int) int {
	n := 0
	if l, ok := q.byType[typ]; ok {
		n += l.Len()
	}
	if typ != task.ANY {
		if l, ok := q.byType[task.ANY]; ok {
			n += l.Len()
		}
	}
	return n
}

// Recheck walks every currently-waiting rank (a snapshot, so dispatch
// may safely mutate the queue) and calls dispatch(rank, type); any rank
// for which dispatch returns true is removed. Used after new work
// arrives (e.g. via steal) to re-offer it to already-blocked workers
// (spec §4.C).
func (q *Queue) Recheck(dispatch func(rank, typ int) bool) {
	type waiter struct {
		rank, typ int
	}
	waiters := make([]waiter, 0, len(q.workerType))
	for r, t := range q.workerType {
		waiters = append(waiters, waiter{r, t})
	}

	for _, w := range waiters {
		if dispatch(w.rank, w.typ) {
			q.remove(w.rank)
		}
	}
}

// Shutdown drains every waiter, calling terminate(rank) for each so the
// corresponding blocked get can return a SHUTDOWN response.
func (q *Queue) Shutdown(terminate func(rank int)) {
	ranks := make([]int, 0, len(q.workerType))
	for r := range q.workerType {
		ranks = append(ranks, r)
	}
	for _, r := range ranks {
		q.remove(r)
	}

	for _, r := range ranks {
		terminate(r)
	}
}

// Len returns the total number of ranks currently waiting.
func (q *Queue) Len() int {
	return len(q.workerType)
}

// Waiting reports whether rank currently has an outstanding request.
func (q *Queue) Waiting(rank int) bool {
	_, ok := q.workerType[rank]
	return ok
}

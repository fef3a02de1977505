// Package pqueue implements the indexed, mutable-key priority structure
// required by spec §4.A: a binary min-heap keyed on a signed int64,
// carrying an opaque payload, exposing insert/pop/remove-by-handle and
// change-key in O(log n).
//
// Priorities are stored negated by callers that want "highest priority
// wins" (a min-heap on -priority is a max-heap on priority); pqueue itself
// is priority-agnostic and just orders by ascending Key.
package pqueue

import "container/heap"

// Handle identifies an entry previously inserted into a Queue. It remains
// valid (referring to the same entry) until that entry is popped or
// removed; handles are not reused while the entry is still present.
type Handle int

const invalidIndex = -1

type entry[T any] struct {
	key    int64
	value  T
	index  int // position in the heap array, or invalidIndex if already removed
	handle Handle
}

// Queue is a generic indexed binary min-heap. The zero value is not
// usable; construct with New. Not safe for concurrent use — callers in
// this codebase always own a Queue from a single event-loop goroutine.
type Queue[T any] struct {
	h     innerHeap[T]
	byHdl map[Handle]*entry[T] // handle -> entry; entry.index tracks its live heap position
	next  Handle
}

// New constructs an empty Queue.
func New[T any]() *Queue[T] {
	return &Queue[T]{byHdl: make(map[Handle]*entry[T])}
}

// Len returns the number of entries currently in the queue.
func (q *Queue[T]) Len() int { return q.h.Len() }

// Push inserts value with the given key, returning a Handle that can
// later be used with Remove or Fix.
func (q *Queue[T]) Push(key int64, value T) Handle {
	q.next++
	h := q.next
	e := &entry[T]{key: key, value: value, handle: h}
	heap.Push(&q.h, e)
	q.byHdl[h] = e
	return h
}

// Peek returns the minimum-key entry without removing it.
func (q *Queue[T]) Peek() (key int64, value T, handle Handle, ok bool) {
	if q.h.Len() == 0 {
		return 0, value, 0, false
	}
	e := q.h[0]
	return e.key, e.value, e.handle, true
}

// Pop removes and returns the minimum-key entry.
func (q *Queue[T]) Pop() (key int64, value T, handle Handle, ok bool) {
	if q.h.Len() == 0 {
		return 0, value, 0, false
	}
	e := heap.Pop(&q.h).(*entry[T])
	delete(q.byHdl, e.handle)
	return e.key, e.value, e.handle, true
}

// Remove deletes the entry referenced by handle, if still present. It is
// a no-op (returning ok=false) if the handle is unknown — this is what
// lets consumers treat work-queue/request-queue handles as "potentially
// stale" per spec §4.B: a handle that was already popped by another path
// simply fails to remove here.
func (q *Queue[T]) Remove(handle Handle) (value T, ok bool) {
	e, present := q.byHdl[handle]
	if !present {
		return value, false
	}
	heap.Remove(&q.h, e.index)
	delete(q.byHdl, handle)
	return e.value, true
}

// Fix updates the key of the entry referenced by handle and restores heap
// order; covers both decrease-key and increase-key (spec §4.A).
func (q *Queue[T]) Fix(handle Handle, newKey int64) bool {
	e, present := q.byHdl[handle]
	if !present {
		return false
	}
	e.key = newKey
	heap.Fix(&q.h, e.index)
	return true
}

// Value looks up the current value for a handle without removing it.
func (q *Queue[T]) Value(handle Handle) (value T, ok bool) {
	e, present := q.byHdl[handle]
	if !present {
		return value, false
	}
	return e.value, true
}

// innerHeap adapts entry[T] to container/heap.Interface, maintaining each
// entry's index on every mutation —
// the same "index back-pointer kept current by the heap itself" shape as
// eventloop's timerHeap, generalized with a stable handle so pop/remove
// from a different code path doesn't invalidate outstanding references.
type innerHeap[T any] []*entry[T]

func (h innerHeap[T]) Len() int { return len(h) }

func (h innerHeap[T]) Less(i, j int) bool { return h[i].key < h[j].key }

func (h innerHeap[T]) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *innerHeap[T]) Push(x any) {
	e := x.(*entry[T])
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *innerHeap[T]) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = invalidIndex
	*h = old[:n-1]
	return e
}

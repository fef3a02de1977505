// Package workqueue implements the server-local work queue (spec §4.B):
// a free-listed array of work units indexed by per-type/per-worker
// priority heaps (internal/pqueue), tolerating stale index entries
// rather than eagerly cleaning every index on every removal.
package workqueue

import (
	"math/rand"

	"github.com/mtcrun/mtce/internal/metrics"
	"github.com/mtcrun/mtce/internal/pqueue"
	"github.com/mtcrun/mtce/internal/task"
)

// softTargetPenalty is subtracted from a soft-targeted task's priority
// when it is mirrored into the untargeted heap, so the targeted copy is
// always preferred while the task remains reachable via untargeted
// dispatch or steal (spec §4.B). Recorded as an Open Question decision
// in DESIGN.md: the spec leaves the exact penalty magnitude
// unspecified; a large fixed constant relative to ordinary priority
// ranges (assumed int32, user priorities rarely exceeding ~1e6) is
// sufficient to never invert a real priority ordering.
const softTargetPenalty int32 = 1 << 24

// stealImbalanceThreshold is the minimum relative surplus (spec §4.B:
// "imbalance > 10%") that makes a server willing to donate work to a
// peer whose count for a type is not already zero.
const stealImbalanceThreshold = 0.10

// unit is one slot in the work-unit array. Slots are reused via
// freeList; alive distinguishes a live unit from a freed one a stale
// heap index might still reference.
type unit struct {
	alive bool
	task  task.Task

	hasUntargeted   bool
	untargetedHdl   pqueue.Handle
	untargetedType  int
	hasTargetedSoft bool // soft-targeted units also have an untargeted mirror

	hasTargeted  bool
	targetedHdl  pqueue.Handle
	targetedW    int
	targetedType int

	hasParallel bool
}

// Queue is one server's work queue. It is accessed only by the owning
// server's single event-loop goroutine (spec §5: B is lock-free by
// construction, never locked internally).
type Queue struct {
	units    []*unit
	freeList []int

	untargeted map[int]*pqueue.Queue[int] // type -> heap of wu index, keyed -priority
	targeted   map[int]map[int]*pqueue.Queue[int] // worker -> type -> heap of wu index
	parallel   map[int][]int                      // type -> wu indices, kept sorted by descending priority

	nextID task.ID
	rnd    *rand.Rand

	metrics *metrics.Registry
}

// New constructs an empty Queue. m may be nil (counters become no-ops).
func New(m *metrics.Registry) *Queue {
	return &Queue{
		untargeted: make(map[int]*pqueue.Queue[int]),
		targeted:   make(map[int]map[int]*pqueue.Queue[int]),
		parallel:   make(map[int][]int),
		rnd:        rand.New(rand.NewSource(1)),
		metrics:    m,
	}
}

func (q *Queue) alloc(t task.Task) int {
	var idx int
	if n := len(q.freeList); n > 0 {
		idx = q.freeList[n-1]
		q.freeList = q.freeList[:n-1]
		q.units[idx] = &unit{alive: true, task: t}
	} else {
		idx = len(q.units)
		q.units = append(q.units, &unit{alive: true, task: t})
	}
	return idx
}

func (q *Queue) free(idx int) {
	q.units[idx] = nil
	q.freeList = append(q.freeList, idx)
}

func (q *Queue) untargetedHeap(typ int) *pqueue.Queue[int] {
	h, ok := q.untargeted[typ]
	if !ok {
		h = pqueue.New[int]()
		q.untargeted[typ] = h
	}
	return h
}

func (q *Queue) targetedHeap(worker, typ int) *pqueue.Queue[int] {
	byType, ok := q.targeted[worker]
	if !ok {
		byType = make(map[int]*pqueue.Queue[int])
		q.targeted[worker] = byType
	}
	h, ok := byType[typ]
	if !ok {
		h = pqueue.New[int]()
		byType[typ] = h
	}
	return h
}

// Add inserts t per the spec §4.B add rules, minting its ID. Callers
// must have already resolved targeting locality (a targeted task
// destined for a non-local worker must never reach Add; the put handler
// rejects it by comparing layout.Home(target) with its own rank).
func (q *Queue) Add(t task.Task) task.ID {
	q.nextID++
	t.ID = q.nextID

	idx := q.alloc(t)
	u := q.units[idx]

	switch {
	case t.Parallel():
		u.hasParallel = true
		q.insertParallel(t.Type, idx)

	case t.Targeted() && t.Strictness == task.Hard:
		u.hasTargeted = true
		u.targetedW, u.targetedType = t.Target, t.Type
		u.targetedHdl = q.targetedHeap(t.Target, t.Type).Push(int64(-t.Priority), idx)

	case t.Targeted() && t.Strictness == task.Soft:
		u.hasTargeted = true
		u.targetedW, u.targetedType = t.Target, t.Type
		u.targetedHdl = q.targetedHeap(t.Target, t.Type).Push(int64(-t.Priority), idx)

		u.hasUntargeted = true
		u.hasTargetedSoft = true
		u.untargetedType = t.Type
		u.untargetedHdl = q.untargetedHeap(t.Type).Push(int64(-(t.Priority - softTargetPenalty)), idx)

	default: // untargeted serial
		u.hasUntargeted = true
		u.untargetedType = t.Type
		u.untargetedHdl = q.untargetedHeap(t.Type).Push(int64(-t.Priority), idx)
	}

	q.metrics.Enqueued(t.Type)
	return t.ID
}

func (q *Queue) insertParallel(typ int, idx int) {
	list := q.parallel[typ]
	pr := q.units[idx].task.Priority
	i := 0
	for ; i < len(list); i++ {
		if q.units[list[i]].task.Priority < pr {
			break
		}
	}
	list = append(list, 0)
	copy(list[i+1:], list[i:])
	list[i] = idx
	q.parallel[typ] = list
}

// Pop returns the best matching task for worker, restricted to typ
// unless typ is task.ANY, first consulting the worker's targeted heap
// then the untargeted heap for typ, discarding any stale entries
// encountered along the way (spec §4.B).
func (q *Queue) Pop(worker, typ int) (task.Task, bool) {
	if byType, ok := q.targeted[worker]; ok {
		for t, h := range byType {
			if typ != task.ANY && t != typ {
				continue
			}
			if tk, ok := q.popTargeted(h); ok {
				return tk, true
			}
		}
	}

	for t, h := range q.untargeted {
		if typ != task.ANY && t != typ {
			continue
		}
		if tk, ok := q.popUntargeted(h); ok {
			return tk, true
		}
	}

	return task.Task{}, false
}

func (q *Queue) popTargeted(h *pqueue.Queue[int]) (task.Task, bool) {
	for {
		_, idx, _, ok := h.Pop()
		if !ok {
			return task.Task{}, false
		}
		u := q.units[idx]
		if u == nil || !u.alive || !u.hasTargeted {
			continue // stale: already dispatched/removed via another path
		}
		u.hasTargeted = false
		tk := u.task
		q.finishDispatch(idx, u)
		return tk, true
	}
}

func (q *Queue) popUntargeted(h *pqueue.Queue[int]) (task.Task, bool) {
	for {
		_, idx, _, ok := h.Pop()
		if !ok {
			return task.Task{}, false
		}
		u := q.units[idx]
		if u == nil || !u.alive || !u.hasUntargeted {
			continue
		}
		u.hasUntargeted = false
		tk := u.task
		q.finishDispatch(idx, u)
		return tk, true
	}
}

// finishDispatch removes whatever companion index entry the unit still
// holds (the soft-target mirror, or the other side of a direct pop) and
// frees the slot once no index still references it.
func (q *Queue) finishDispatch(idx int, u *unit) {
	if u.hasTargeted {
		q.targeted[u.targetedW][u.targetedType].Remove(u.targetedHdl)
		u.hasTargeted = false
	}
	if u.hasUntargeted {
		q.untargeted[u.untargetedType].Remove(u.untargetedHdl)
		u.hasUntargeted = false
	}
	u.alive = false
	q.metrics.Dispatched(u.task.Type)
	q.free(idx)
}

// popParallelAt removes the entry at position pos in parallel[typ]'s
// ordered list, used once the request queue confirms N workers are
// available for that entry's parallelism.
func (q *Queue) popParallelAt(typ int, pos int) task.Task {
	list := q.parallel[typ]
	idx := list[pos]
	q.parallel[typ] = append(list[:pos], list[pos+1:]...)
	u := q.units[idx]
	tk := u.task
	u.alive = false
	q.metrics.Dispatched(tk.Type)
	q.free(idx)
	return tk
}

// WalkParallel calls match(typ, parallelism) for every parallel-task
// entry in priority order (highest first) until match returns true,
// removing and returning that task; this implements the server loop's
// "first success dispatches" rule (spec §4.I step 4). match is supplied
// by the caller (internal/server) so it can query the request queue
// for N available workers without this package depending on reqqueue.
func (q *Queue) WalkParallel(match func(typ int, parallelism int) bool) (task.Task, bool) {
	for typ, list := range q.parallel {
		for i, idx := range list {
			u := q.units[idx]
			if u == nil || !u.alive || !u.hasParallel {
				continue
			}
			if match(typ, u.task.Parallelism) {
				return q.popParallelAt(typ, i), true
			}
		}
	}
	return task.Task{}, false
}

// Counts returns the current per-type count of untargeted+parallel
// entries, the shape exchanged during a steal negotiation (spec §4.H).
func (q *Queue) Counts() map[int]int {
	return q.computeCounts()
}

func (q *Queue) computeCounts() map[int]int {
	out := make(map[int]int)
	for t, h := range q.untargeted {
		out[t] += h.Len()
	}
	for t, list := range q.parallel {
		out[t] += len(list)
	}
	return out
}

// SelectForSteal chooses, for each type the peer reports a lower count
// for, a donation of roughly half this server's surplus, removing the
// donated tasks from this queue. Each untargeted entry popped is
// selected for donation with probability singleCount/(singleCount+parCount)
// and otherwise held back and re-pushed: a type with no parallel entries
// donates every popped entry up to the half-surplus target, and the more
// parallel-task competition a type has, the fewer of its untargeted
// entries are donated.
//
// Decision (spec §9 open question): a probability-governed selection
// can legitimately retain every candidate and donate nothing even when
// the imbalance exceeds the threshold. Since the caller already decided
// this type is imbalanced enough to warrant a donation, SelectForSteal
// guarantees at least one task crosses over whenever give >= 1 and at
// least one eligible entry exists, overriding the probabilistic outcome
// as a last resort rather than silently rounding the donation to zero.
func (q *Queue) SelectForSteal(peerCounts map[int]int) []task.Task {
	var stolen []task.Task
	mine := q.computeCounts()

	for typ, myCount := range mine {
		theirCount := peerCounts[typ]
		if theirCount > 0 {
			imbalance := float64(myCount-theirCount) / float64(myCount)
			if imbalance <= stealImbalanceThreshold {
				continue
			}
		}
		give := (myCount - theirCount) / 2
		if give < 1 {
			give = 1
		}
		if give > myCount {
			give = myCount
		}

		h := q.untargeted[typ]
		if h == nil {
			continue
		}

		parCount := len(q.parallel[typ])
		singleCount := myCount - parCount
		var selectProb float64
		if singleCount+parCount > 0 {
			selectProb = float64(singleCount) / float64(singleCount+parCount)
		}

		type candidate struct {
			key int64
			idx int
		}
		var held []candidate
		given := 0

		for given < give {
			key, idx, _, ok := h.Pop()
			if !ok {
				break
			}
			u := q.units[idx]
			if u == nil || !u.alive || !u.hasUntargeted || u.hasTargetedSoft {
				// soft-targeted mirrors never steal; the targeted copy
				// must remain addressable at its original home.
				continue
			}
			if q.rnd.Float64() >= selectProb {
				held = append(held, candidate{key, idx})
				continue
			}
			u.hasUntargeted = false
			u.alive = false
			stolen = append(stolen, u.task)
			q.free(idx)
			q.metrics.Stolen(typ)
			given++
		}

		if given == 0 && len(held) > 0 {
			// force-donate one held candidate so an imbalance the caller
			// already confirmed always makes forward progress.
			last := held[len(held)-1]
			held = held[:len(held)-1]
			u := q.units[last.idx]
			u.hasUntargeted = false
			u.alive = false
			stolen = append(stolen, u.task)
			q.free(last.idx)
			q.metrics.Stolen(typ)
		}

		for _, c := range held {
			q.untargeted[typ].Push(c.key, c.idx)
		}
	}
	return stolen
}

// Readd re-inserts a task that was received via steal, minting a fresh
// local ID as if it had been freshly Add-ed (spec §4.B: "re-enter that
// server's indices as if freshly put").
func (q *Queue) Readd(t task.Task) task.ID {
	t.ID = 0
	return q.Add(t)
}

// Len returns the total number of live work units across all indices.
func (q *Queue) Len() int {
	n := 0
	for _, u := range q.units {
		if u != nil && u.alive {
			n++
		}
	}
	return n
}

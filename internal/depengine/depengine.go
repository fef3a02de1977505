// Package depengine implements the dependency engine (spec §4.F):
// tracking transforms (data-dependent tasks) blocked on one or more
// datum ids or id+subscript pairs, and releasing each transform's task
// into the work queue the moment every one of its inputs has closed.
package depengine

import (
	"container/list"
	"fmt"

	"github.com/mtcrun/mtce/internal/layout"
	"github.com/mtcrun/mtce/internal/lru"
	"github.com/mtcrun/mtce/internal/task"
)

// InputIDSub identifies a single (id, subscript) input (spec §3).
type InputIDSub struct {
	ID  int64
	Sub string
}

// LocalStore is the subset of internal/datastore.Store the engine needs
// to subscribe against datums hosted on this server.
type LocalStore interface {
	Subscribe(id int64, sub string, hasSub bool, rank, workType int) (bool, error)
}

// RemoteSubscriber forwards a subscribe request to the server hosting
// id, via the sync protocol (spec §4.G), returning the same
// subscribed/already-closed answer internal/datastore.Store.Subscribe
// would.
type RemoteSubscriber interface {
	SubscribeRemote(serverRank int, id int64, sub string, hasSub bool, rank, workType int) (bool, error)
}

// Dispatcher releases a satisfied transform's task into the work queue.
type Dispatcher interface {
	Release(t task.Task)
}

// transform is the internal representation of one data-dependent task
// while its inputs are unmet (spec §3).
type transform struct {
	name string
	work task.Task

	// inputs is the flattened list of (id[, sub]) this transform waits
	// on: plain-id inputs first, then id+subscript inputs, matching the
	// spec's closed_inputs bitfield layout.
	inputs []inputKey
	closed []bool
	blocker int

	waitingElem *list.Element
	freed       bool
}

type inputKey struct {
	id     int64
	sub    string
	hasSub bool
}

// Engine is one server's dependency engine.
type Engine struct {
	layout     layout.Layout
	self       int
	workType   int // reserved ControlType used for all engine-internal subscriptions
	store      LocalStore
	remote     RemoteSubscriber
	dispatcher Dispatcher

	waiting *list.List // *transform, for termination reporting

	subscribedID    map[int64]bool
	subscribedIDSub map[inputKey]bool

	closedCacheID    *lru.Cache[int64]
	closedCacheIDSub *lru.Cache[inputKey]

	blockersByID    map[int64][]*transform
	blockersByIDSub map[inputKey][]*transform
}

// New constructs an Engine for the server at rank self. cacheSize is the
// CLOSED_CACHE_SIZE LRU capacity (spec §6) for each of the two remote
// closed-key caches.
func New(l layout.Layout, self int, store LocalStore, remote RemoteSubscriber, dispatcher Dispatcher, cacheSize int) *Engine {
	return &Engine{
		layout:           l,
		self:             self,
		workType:         task.ControlType,
		store:            store,
		remote:           remote,
		dispatcher:       dispatcher,
		waiting:          list.New(),
		subscribedID:     make(map[int64]bool),
		subscribedIDSub:  make(map[inputKey]bool),
		closedCacheID:    lru.New[int64](cacheSize),
		closedCacheIDSub: lru.New[inputKey](cacheSize),
		blockersByID:     make(map[int64][]*transform),
		blockersByIDSub:  make(map[inputKey][]*transform),
	}
}

// PutRule registers a transform waiting on inputIDs and inputIDSubs; if
// every input is already closed it releases work immediately and
// returns ready=true without retaining any state (spec §4.F step 4).
func (e *Engine) PutRule(name string, inputIDs []int64, inputIDSubs []InputIDSub, work task.Task) (ready bool, err error) {
	t := &transform{name: name, work: work}
	for _, id := range inputIDs {
		t.inputs = append(t.inputs, inputKey{id: id})
	}
	for _, is := range inputIDSubs {
		t.inputs = append(t.inputs, inputKey{id: is.ID, sub: is.Sub, hasSub: true})
	}
	t.closed = make([]bool, len(t.inputs))

	for i, in := range t.inputs {
		closed, err := e.resolveInput(in)
		if err != nil {
			return false, fmt.Errorf("depengine: put_rule %q input %d: %w", name, i, err)
		}
		t.closed[i] = closed
	}

	e.advance(t)
	if t.blocker >= len(t.inputs) {
		e.dispatcher.Release(t.work)
		return true, nil
	}

	for i, in := range t.inputs {
		if !t.closed[i] {
			e.addBlocker(in, t)
		}
	}
	t.waitingElem = e.waiting.PushBack(t)
	return false, nil
}

// resolveInput decides, for one input, whether it is already closed,
// subscribing (locally or via the sync protocol) if not.
func (e *Engine) resolveInput(in inputKey) (closed bool, err error) {
	if in.hasSub {
		if e.closedCacheIDSub.Contains(in) {
			return true, nil
		}
	} else if e.closedCacheID.Contains(in.id) {
		return true, nil
	}

	home := e.layout.Locate(in.id)
	if home == e.self {
		if e.alreadySubscribedLocked(in) {
			return false, nil
		}
		subscribed, err := e.store.Subscribe(in.id, in.sub, in.hasSub, e.self, e.workType)
		if err != nil {
			return false, err
		}
		if !subscribed {
			return true, nil
		}
		e.markSubscribed(in)
		return false, nil
	}

	if e.alreadySubscribedLocked(in) {
		return false, nil
	}
	subscribed, err := e.remote.SubscribeRemote(home, in.id, in.sub, in.hasSub, e.self, e.workType)
	if err != nil {
		return false, err
	}
	if !subscribed {
		return true, nil
	}
	e.markSubscribed(in)
	return false, nil
}

func (e *Engine) alreadySubscribedLocked(in inputKey) bool {
	if in.hasSub {
		return e.subscribedIDSub[in]
	}
	return e.subscribedID[in.id]
}

func (e *Engine) markSubscribed(in inputKey) {
	if in.hasSub {
		e.subscribedIDSub[in] = true
	} else {
		e.subscribedID[in.id] = true
	}
}

func (e *Engine) addBlocker(in inputKey, t *transform) {
	if in.hasSub {
		e.blockersByIDSub[in] = append(e.blockersByIDSub[in], t)
	} else {
		e.blockersByID[in.id] = append(e.blockersByID[in.id], t)
	}
}

// advance marks t's bitfield true for inputs already known closed and
// moves blocker across the resulting contiguous satisfied prefix (spec
// §3 invariant: bits below blocker are always set).
func (e *Engine) advance(t *transform) {
	for t.blocker < len(t.closed) && t.closed[t.blocker] {
		t.blocker++
	}
}

// Close reports that id (optionally scoped to sub) has closed, re-
// checking every transform that was blocked on it and releasing any
// that become fully satisfied. remote indicates the close was observed
// via a NOTIFY RPC from the datum's home server rather than this
// server's own data store (spec §4.F).
func (e *Engine) Close(id int64, sub string, hasSub bool, remote bool) {
	in := inputKey{id: id, sub: sub, hasSub: hasSub}

	if hasSub {
		delete(e.subscribedIDSub, in)
	} else {
		delete(e.subscribedID, id)
	}
	if remote {
		if hasSub {
			e.closedCacheIDSub.Add(in)
		} else {
			e.closedCacheID.Add(id)
		}
	}

	var blockers []*transform
	if hasSub {
		blockers = e.blockersByIDSub[in]
		delete(e.blockersByIDSub, in)
	} else {
		blockers = e.blockersByID[id]
		delete(e.blockersByID, id)
	}

	seen := make(map[*transform]bool, len(blockers))
	for _, t := range blockers {
		if t.freed || seen[t] {
			continue
		}
		seen[t] = true
		e.reviewTransform(t, in)
	}
}

func (e *Engine) reviewTransform(t *transform, closedIn inputKey) {
	for i := t.blocker; i < len(t.inputs); i++ {
		if t.inputs[i] == closedIn {
			t.closed[i] = true
		}
	}
	e.advance(t)
	if t.blocker < len(t.inputs) {
		return
	}
	t.freed = true
	if t.waitingElem != nil {
		e.waiting.Remove(t.waitingElem)
	}
	e.dispatcher.Release(t.work)
}

// WaitingCount returns the number of transforms still blocked on at
// least one input, for termination diagnostics (spec §4.F
// finalization).
func (e *Engine) WaitingCount() int {
	return e.waiting.Len()
}

// WaitingNames returns the debug name of every transform still blocked,
// for the deadlock-survivor diagnostic logged at shutdown.
func (e *Engine) WaitingNames() []string {
	names := make([]string, 0, e.waiting.Len())
	for el := e.waiting.Front(); el != nil; el = el.Next() {
		names = append(names, el.Value.(*transform).name)
	}
	return names
}

// Package notify implements the notification engine (spec §4.E):
// converting a data store's "datum closed" / "reference resolved"
// results into outbound control-work tasks, batching the traversal cost
// of a single store+close storm into one flush.
package notify

import (
	"context"
	"sync"

	"github.com/joeycumines/go-microbatch"

	"github.com/mtcrun/mtce/internal/datastore"
	"github.com/mtcrun/mtce/internal/layout"
	"github.com/mtcrun/mtce/internal/lru"
	"github.com/mtcrun/mtce/internal/task"
	"github.com/mtcrun/mtce/internal/wire"
)

// Dispatcher is the seam back into internal/server: Local performs the
// ordinary put-style dispatch of a control-work task addressed to a
// worker already known to be homed at this server (request queue first,
// work queue as fallback); Remote hands the same task to the sync
// protocol for delivery to the peer server that is rank's home.
type Dispatcher interface {
	Local(t task.Task)
	Remote(serverRank int, t task.Task) error
}

type seenKey struct {
	rank      int
	id        int64
	sub       string
	hasSub    bool
}

// Engine is one server's notification engine.
type Engine struct {
	mu         sync.Mutex
	layout     layout.Layout
	self       int
	dispatcher Dispatcher
	seen       *lru.Cache[seenKey]

	batcher *microbatch.Batcher[[]datastore.CloseNotification]
}

// New constructs an Engine for the server at rank self, using layout to
// resolve each subscriber's home server and dispatcher to actually
// deliver locally-homed or peer-homed control-work tasks. cacheSize is
// the CLOSED_CACHE_SIZE-style LRU capacity (spec §4.E/§6) used to
// suppress re-delivery if the same bundle is ever replayed (e.g. a
// retried sync).
func New(l layout.Layout, self int, dispatcher Dispatcher, cacheSize int) *Engine {
	e := &Engine{
		layout:     l,
		self:       self,
		dispatcher: dispatcher,
		seen:       lru.New[seenKey](cacheSize),
	}
	// MaxSize: 1 because Deliver blocks on jr.Wait, so the server loop
	// never has two calls in flight to coalesce; MaxConcurrency: 1
	// serializes every flush onto the batcher's worker goroutine so
	// process's walk of e.seen never races a second flush.
	e.batcher = microbatch.NewBatcher(&microbatch.BatcherConfig{
		MaxSize:        1,
		MaxConcurrency: 1,
	}, e.process)
	return e
}

// Deliver hands one call's worth of close notifications (spec §3/§4.D
// bundle) to the engine, batched through a single microbatch flush so a
// recursive container_reference resolution's many notifications pay one
// traversal rather than one round trip each.
func (e *Engine) Deliver(ctx context.Context, closes []datastore.CloseNotification) error {
	if len(closes) == 0 {
		return nil
	}
	jr, err := e.batcher.Submit(ctx, closes)
	if err != nil {
		return err
	}
	return jr.Wait(ctx)
}

// Close shuts down the engine's batcher. Safe to call once at server
// finalize.
func (e *Engine) Close() error {
	return e.batcher.Close()
}

func (e *Engine) process(_ context.Context, batches [][]datastore.CloseNotification) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, bundle := range batches {
		for _, n := range bundle {
			key := seenKey{rank: n.Rank, id: n.ID, sub: n.Subscript, hasSub: n.HasSub}
			if e.seen.Contains(key) {
				continue
			}
			e.seen.Add(key)

			t := task.Task{
				Type:        n.WorkType,
				Target:      n.Rank,
				Strictness:  task.Hard,
				Accuracy:    task.RankAccuracy,
				Priority:    task.ControlPriority,
				Parallelism: 1,
				Payload:     marshalNotify(n),
			}

			home := e.layout.Home(n.Rank)
			if home == e.self {
				e.dispatcher.Local(t)
			} else {
				// best-effort: a sync-forward failure just means that
				// subscriber misses this delivery; spec §1 Non-goals
				// accepts at-least-once only for notifications, not
				// exactly-once under failure.
				_ = e.dispatcher.Remote(home, t)
			}
		}
	}
	return nil
}

func marshalNotify(n datastore.CloseNotification) []byte {
	p := wire.NotifyPayload{ID: n.ID, HasSub: n.HasSub, Subscript: n.Subscript}
	b, _ := p.MarshalBinary()
	return b
}

package server

import (
	"context"
	"time"

	"github.com/mtcrun/mtce/internal/wire"
	"github.com/mtcrun/mtce/transport"
)

// clientTags is every request tag HandleMessage serves directly. It
// excludes TagSteal/TagNotify (carried by the sync protocol instead, see
// dispatch.go's serveSync) and every response/follow-up tag (those are
// consumed synchronously by the call that is waiting on them, never by
// the main loop).
var clientTags = []wire.Tag{
	wire.TagSync, wire.TagPut, wire.TagGet, wire.TagIGet,
	wire.TagCreate, wire.TagMultiCreate, wire.TagExists, wire.TagStore,
	wire.TagRetrieve, wire.TagEnumerate, wire.TagSubscribe, wire.TagRefcountIncr,
	wire.TagInsertAtomic, wire.TagContainerSize, wire.TagContainerReference,
	wire.TagUnique, wire.TagTypeOf, wire.TagLock, wire.TagUnlock,
	wire.TagCheckIdle, wire.TagShutdownServer, wire.TagFail, wire.TagPutRule,
}

// Run drives the server's single event loop (spec §4.I) until shutdown
// is observed, either from this server's own master-only idle detection
// or from a peer's broadcastShutdown. Every iteration bounds its own
// work by the LOOP_MAX_* budgets (spec §6) before yielding to a short
// sleep, so one busy peer never starves the others' fair share of this
// process's attention.
func (s *Server) Run(ctx context.Context) error {
	isMaster := s.rank == s.layout.Workers
	sleeps := 0

	for !s.shuttingDown {
		if err := ctx.Err(); err != nil {
			return err
		}

		served := 0
		for served < s.cfg.LoopMaxRequests {
			if !s.serveOnce(ctx) {
				break
			}
			served++
		}

		s.tryDispatchParallel(ctx)

		for i := 0; i < s.cfg.LoopMaxPolls; i++ {
			before := s.sync.PendingLen()
			s.sync.PollIncoming(ctx)
			if s.sync.PendingLen() == before {
				break
			}
		}

		if s.steal.ShouldAttempt(time.Now(), s.rq.Len()) {
			if _, err := s.steal.Attempt(ctx, time.Now(), s.peers); err != nil {
				s.logger.Err().Str("error", err.Error()).Log("steal attempt failed")
			} else {
				s.rq.Recheck(s.tryPopForWaiter)
			}
		}

		if isMaster && !s.shuttingDown {
			idle, err := s.checkClusterIdle(ctx)
			if err != nil {
				s.logger.Err().Str("error", err.Error()).Log("cluster idle check failed")
			} else if idle {
				s.broadcastShutdown(ctx)
				break
			}
		}

		if served == 0 {
			sleeps++
			if sleeps > s.cfg.LoopMaxSleeps {
				time.Sleep(s.cfg.MaxIdle)
			} else {
				time.Sleep(s.cfg.MaxIdle / time.Duration(s.cfg.LoopMaxSleeps+1))
			}
		} else {
			sleeps = 0
		}
	}

	return nil
}

// serveOnce consumes and handles at most one inbound client request,
// reporting whether it found one. Tags are polled in a fixed order each
// call; over many calls this still serves every tag fairly since a tag
// with a waiting message is handled (and the loop re-enters serveOnce)
// before falling through to the sync/steal/idle phases.
func (s *Server) serveOnce(ctx context.Context) bool {
	for _, tag := range clientTags {
		if msg, ok := s.transport.Recv(transport.AnySource, tag); ok {
			s.HandleMessage(ctx, msg)
			return true
		}
	}
	return false
}

// tryDispatchParallel offers the highest-priority parallel work-queue
// entry whose parallelism is currently satisfiable by waiting workers
// (spec §4.I step 4 "first success dispatches").
func (s *Server) tryDispatchParallel(ctx context.Context) {
	var ranks []int
	t, ok := s.wq.WalkParallel(func(typ, parallelism int) bool {
		r, ok := s.rq.ParallelWorkers(typ, parallelism)
		if !ok {
			return false
		}
		ranks = r
		return true
	})
	if !ok {
		return
	}
	if err := s.dispatchParallel(ctx, ranks, t); err != nil {
		s.logger.Err().Str("error", err.Error()).Log("parallel dispatch failed")
	}
}

// tryPopForWaiter is the reqqueue.Recheck callback used after a
// successful steal: a worker already blocked on (rank, typ) gets first
// refusal on newly arrived stock before it is offered to anyone else.
func (s *Server) tryPopForWaiter(rank, typ int) bool {
	t, ok := s.wq.Pop(rank, typ)
	if !ok {
		return false
	}
	if err := s.dispatchToWorker(context.Background(), rank, t, 0); err != nil {
		s.logger.Err().Str("error", err.Error()).Int("dest", rank).Log("post-steal dispatch failed")
		return false
	}
	return true
}

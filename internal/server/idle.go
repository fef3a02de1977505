package server

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/mtcrun/mtce/internal/wire"
)

// checkClusterIdle implements the master server's distributed
// termination check (spec §4.I): it is idle itself AND every peer
// server answers CHECK_IDLE as idle. Probes use plain Send/Wait rather
// than the sync handshake — CHECK_IDLE is a simple poll with no
// follow-up operation piggybacked on it, so paying the handshake's
// accept/reject round trip would add latency without buying anything.
func (s *Server) checkClusterIdle(ctx context.Context) (bool, error) {
	if !s.isIdle() {
		return false, nil
	}

	results := make([]bool, len(s.peers))
	g, gctx := errgroup.WithContext(ctx)
	for i, peer := range s.peers {
		i, peer := i, peer
		g.Go(func() error {
			if err := s.transport.Send(gctx, peer, wire.TagCheckIdle, nil); err != nil {
				return err
			}
			msg, err := s.transport.Wait(gctx, peer, wire.TagResponse)
			if err != nil {
				return err
			}
			var resp wire.CheckIdleResponse
			if err := resp.UnmarshalBinary(msg.Payload); err != nil {
				return err
			}
			results[i] = resp.Idle
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return false, err
	}

	for _, idle := range results {
		if !idle {
			return false, nil
		}
	}
	return true, nil
}

// broadcastShutdown is called once by whichever server first observes
// cluster-wide idle (or an application FAIL): it tells every peer server
// to shut down too, then tears down its own local workers. A peer that
// receives TagShutdownServer only tears down its own workers (see
// handleShutdownServer) — it does not re-broadcast, since every server
// already got the same message directly.
func (s *Server) broadcastShutdown(ctx context.Context) {
	s.shuttingDown = true
	for _, peer := range s.peers {
		if err := s.transport.Send(ctx, peer, wire.TagShutdownServer, nil); err != nil {
			s.logger.Err().Str("error", err.Error()).Int("peer", peer).Log("shutdown broadcast failed")
		}
	}
	s.shutdownLocalWorkers(ctx)
}

// shutdownLocalWorkers notifies every worker homed at this server that
// the cluster is terminating: any worker currently blocked in a get
// receives an immediate SHUTDOWN response instead of waiting forever,
// and every worker (blocked or not) receives TagShutdownWorker so a
// worker between requests also learns to stop.
func (s *Server) shutdownLocalWorkers(ctx context.Context) {
	s.rq.Shutdown(func(rank int) {
		resp := wire.GetResponse{Code: wire.CodeShutdown}
		s.send(ctx, rank, wire.TagResponseGet, resp)
	})
	for w := 0; w < s.layout.Workers; w++ {
		if s.layout.Home(w) == s.rank {
			if err := s.transport.Send(ctx, w, wire.TagShutdownWorker, nil); err != nil {
				s.logger.Err().Str("error", err.Error()).Int("worker", w).Log("shutdown notify failed")
			}
		}
	}
}

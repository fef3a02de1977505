// Package server implements the control loop and RPC handlers (spec
// §4.I/§4.J): one event-loop-thread-per-process that owns the work
// queue, request queue, data store, notification engine, dependency
// engine, sync handshake and steal protocol for one server rank, and
// drives them entirely by serving messages off transport.
package server

import (
	"context"
	"strings"

	"github.com/mtcrun/mtce/internal/config"
	"github.com/mtcrun/mtce/internal/datastore"
	"github.com/mtcrun/mtce/internal/depengine"
	"github.com/mtcrun/mtce/internal/errs"
	"github.com/mtcrun/mtce/internal/layout"
	"github.com/mtcrun/mtce/internal/logging"
	"github.com/mtcrun/mtce/internal/metrics"
	"github.com/mtcrun/mtce/internal/notify"
	"github.com/mtcrun/mtce/internal/reqqueue"
	"github.com/mtcrun/mtce/internal/steal"
	"github.com/mtcrun/mtce/internal/syncproto"
	"github.com/mtcrun/mtce/internal/wire"
	"github.com/mtcrun/mtce/internal/workqueue"
	"github.com/mtcrun/mtce/transport"
)

// syncPendingCap bounds the sync protocol's deferred-inbound ring (spec
// §4.G); it need only outlive one loop iteration's worth of lower-rank
// peers initiating against us at once.
const syncPendingCap = 32

// Options configures a Server. NumTypes <= 0 means no type was ever
// declared, so every task.Type fails task.Task.Validate's range check
// (spec.md's T=0 "put always fails with INVALID" boundary case).
type Options struct {
	Layout   layout.Layout
	Rank     int
	Config   config.Config
	Hostmap  *layout.Hostmap
	NumTypes int
	Logger   *logging.Logger
}

// Server is one server rank's complete runtime state (spec §4.I):
// every component A-H wired together behind a single owning goroutine.
type Server struct {
	layout   layout.Layout
	rank     int
	index    int
	cfg      config.Config
	hostmap  *layout.Hostmap
	numTypes int
	logger   *logging.Logger

	transport transport.Transport

	ids   *datastore.IDAllocator
	store *datastore.Store

	wq *workqueue.Queue
	rq *reqqueue.Queue

	notifyEngine *notify.Engine
	dep          *depengine.Engine
	sync         *syncproto.Protocol
	steal        *steal.Protocol

	metrics *metrics.Registry

	peers []int

	shuttingDown bool
	failExitCode int32
	failed       bool
}

// New wires every component for one server rank against t. t.Rank()
// must equal opts.Rank and opts.Layout.IsServer(opts.Rank) must hold.
func New(opts Options, t transport.Transport) (*Server, error) {
	if !opts.Layout.IsServer(opts.Rank) {
		return nil, errs.New(errs.Invalid, "server: rank %d is not a server rank of %+v", opts.Rank, opts.Layout)
	}
	index := opts.Layout.ServerIndex(opts.Rank)

	s := &Server{
		layout:   opts.Layout,
		rank:     opts.Rank,
		index:    index,
		cfg:      opts.Config,
		hostmap:  opts.Hostmap,
		numTypes: opts.NumTypes,
		logger:   opts.Logger,

		transport: t,

		ids:   datastore.NewIDAllocator(index, opts.Layout.Servers),
		metrics: metrics.New(opts.Config.PerfCounters),
	}
	s.store = datastore.New(s.ids)
	s.wq = workqueue.New(s.metrics)
	s.rq = reqqueue.New()

	s.sync = syncproto.New(t, opts.Rank, syncPendingCap, s.serveSync, opts.Logger)
	s.steal = steal.New(t, opts.Rank, s.sync, s.wq, opts.Config.StealRateLimit, opts.Config.StealBackoff)
	s.notifyEngine = notify.New(opts.Layout, opts.Rank, s, opts.Config.ClosedCacheSize)
	s.dep = depengine.New(opts.Layout, opts.Rank, s.store, s, s, opts.Config.ClosedCacheSize)

	for r := opts.Layout.Workers; r < opts.Layout.Size(); r++ {
		if r != opts.Rank {
			s.peers = append(s.peers, r)
		}
	}

	return s, nil
}

// Finalize flushes the notification engine's batcher and, if
// PERF_COUNTERS_PRINT is set, logs one line per work type's final
// counters (spec §6). Call once after Run returns.
func (s *Server) Finalize() error {
	err := s.notifyEngine.Close()
	if s.cfg.PerfCountersPrint && s.metrics.Enabled() {
		for _, snap := range s.metrics.Snapshots() {
			s.logger.Info().
				Int("type", snap.Type).
				Int64("enqueued", snap.Enqueued).
				Int64("bypassed", snap.Bypassed).
				Int64("stolen", snap.Stolen).
				Int64("dispatched", snap.Dispatched).
				Log("perf counters")
		}
	}
	if names := s.dep.WaitingNames(); len(names) > 0 {
		s.logger.Notice().Int("count", len(names)).Str("names", strings.Join(names, ",")).Log("rules still waiting at shutdown")
	}
	return err
}

// marshaler is the shape every wire request/response type satisfies.
type marshaler interface{ MarshalBinary() ([]byte, error) }

func (s *Server) send(ctx context.Context, dest int, tag wire.Tag, m marshaler) {
	buf, err := m.MarshalBinary()
	if err != nil {
		s.logger.Err().Str("error", err.Error()).Log("marshal failed")
		return
	}
	if err := s.transport.Send(ctx, dest, tag, buf); err != nil {
		s.logger.Err().Str("error", err.Error()).Int("dest", dest).Log("send failed")
	}
}

// wireCode maps the internal error taxonomy onto the wire one (spec
// §7/§6): a nil error is success, an unclassified error degrades to
// CodeError rather than panicking on an unknown mapping.
func wireCode(err error) wire.Code {
	switch errs.CodeOf(err) {
	case 0:
		return wire.CodeSuccess
	case errs.Nothing:
		return wire.CodeNothing
	case errs.Rejected:
		return wire.CodeRejected
	case errs.NotFound:
		return wire.CodeNotFound
	case errs.Invalid:
		return wire.CodeInvalid
	case errs.OOM:
		return wire.CodeOOM
	case errs.Shutdown:
		return wire.CodeShutdown
	default:
		return wire.CodeError
	}
}

// isIdle reports this server's local contribution to the cluster-wide
// termination check (spec §4.I): nothing left to hand out, and no rule
// only pending for lack of a dispatch decision. Workers executing user
// code are invisible to the server once dispatched, so "idle" here
// means exactly "this server has nothing more to do on its own", which
// is the only idle condition the engine itself can observe.
func (s *Server) isIdle() bool {
	return s.wq.Len() == 0 && s.dep.WaitingCount() == 0
}

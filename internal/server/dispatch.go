package server

import (
	"context"

	"github.com/mtcrun/mtce/internal/datastore"
	"github.com/mtcrun/mtce/internal/datum"
	"github.com/mtcrun/mtce/internal/syncproto"
	"github.com/mtcrun/mtce/internal/task"
	"github.com/mtcrun/mtce/internal/wire"
	"github.com/mtcrun/mtce/transport"
)

// admit runs one task through the spec §4.B/§4.C bypass-or-enqueue
// admission rules: parallel tasks try reqqueue.ParallelWorkers, targeted
// tasks try reqqueue.MatchTarget, untargeted tasks try reqqueue.MatchType
// — each falling back to workqueue.Add on a miss.
func (s *Server) admit(ctx context.Context, t task.Task) error {
	switch {
	case t.Parallel():
		if ranks, ok := s.rq.ParallelWorkers(t.Type, t.Parallelism); ok {
			return s.dispatchParallel(ctx, ranks, t)
		}
		s.wq.Add(t)
		return nil

	case t.Targeted():
		if s.rq.MatchTarget(t.Target, t.Type) {
			s.metrics.Bypassed(t.Type)
			return s.dispatchToWorker(ctx, t.Target, t, 0)
		}
		s.wq.Add(t)
		return nil

	default:
		if rank, ok := s.rq.MatchType(t.Type); ok {
			s.metrics.Bypassed(t.Type)
			return s.dispatchToWorker(ctx, rank, t, 0)
		}
		s.wq.Add(t)
		return nil
	}
}

// dispatchToWorker answers a worker's blocked get with t: the
// GetResponse header first, then the raw payload on TagWork (sent even
// when empty). The server is always the PayloadSource here — see
// DESIGN.md for why this version does not implement the zero-copy
// putter-direct-to-worker leg the wire fields would otherwise allow.
func (s *Server) dispatchToWorker(ctx context.Context, rank int, t task.Task, gangID int64) error {
	resp := wire.GetResponse{
		Code:          wire.CodeSuccess,
		AnswerRank:    int32(t.Answer),
		PayloadSource: int32(s.rank),
		Type:          int32(t.Type),
		Length:        int32(len(t.Payload)),
		Parallelism:   int32(t.Parallelism),
		GangID:        gangID,
	}
	buf, err := resp.MarshalBinary()
	if err != nil {
		return err
	}
	if err := s.transport.Send(ctx, rank, wire.TagResponseGet, buf); err != nil {
		return err
	}
	return s.transport.Send(ctx, rank, wire.TagWork, t.Payload)
}

// dispatchParallel hands a parallel task to every worker in ranks under
// one gang id (spec §3/§6 "gang" supplement): a best-effort
// transport.Gang call establishes a real sub-communicator when the
// transport supports it, but every worker also receives gangID in its
// GetResponse so a transport that returns ErrGangUnsupported still lets
// the co-workers recognize each other.
func (s *Server) dispatchParallel(ctx context.Context, ranks []int, t task.Task) error {
	s.metrics.Bypassed(t.Type)

	gangID := int64(t.ID)
	if gangID == 0 {
		gangID = 1
	}
	if _, err := s.transport.Gang(ranks); err != nil && err != transport.ErrGangUnsupported {
		s.logger.Err().Str("error", err.Error()).Log("gang creation failed, dispatching without one")
	}

	var firstErr error
	for _, r := range ranks {
		if err := s.dispatchToWorker(ctx, r, t, gangID); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Local implements notify.Dispatcher for a control-work task already
// known to be homed at this server. A task addressed to this server's
// own rank under task.ControlType is the engine's own close signal
// (internal/depengine subscribes using its own server rank rather than
// a worker rank — see internal/layout.Home's server-is-its-own-home
// rule); everything else is an ordinary worker notification and goes
// through the normal admission path.
func (s *Server) Local(t task.Task) {
	if t.Type == task.ControlType && s.layout.IsServer(t.Target) {
		s.deliverControlClose(t, false)
		return
	}
	if err := s.admit(context.Background(), t); err != nil {
		s.logger.Err().Str("error", err.Error()).Log("local notification admission failed")
	}
}

// Remote implements notify.Dispatcher for a control-work task homed on
// a different server: it rides the sync handshake as a SyncNotify,
// carried as a PutRequest-shaped envelope so the receiving server's
// serveSync can reuse putRequestToTask.
func (s *Server) Remote(serverRank int, t task.Task) error {
	req := taskToPutRequest(t)
	buf, err := req.MarshalBinary()
	if err != nil {
		return err
	}
	return s.sync.Sync(context.Background(), serverRank, wire.SyncNotify, buf)
}

// Release implements depengine.Dispatcher: a satisfied transform's work
// task re-enters admission exactly like a freshly-put task (spec §4.F
// step 5).
func (s *Server) Release(t task.Task) {
	if err := s.admit(context.Background(), t); err != nil {
		s.logger.Err().Str("error", err.Error()).Log("rule release admission failed")
	}
}

// SubscribeRemote implements depengine.RemoteSubscriber: forward a
// subscribe to id's home server via sync, then wait for its answer on
// TagResponse (spec §4.F/§4.G).
func (s *Server) SubscribeRemote(serverRank int, id int64, sub string, hasSub bool, rank, workType int) (bool, error) {
	req := wire.SubscribeRequest{ID: id, HasSub: hasSub, Subscript: sub, Rank: int32(rank), WorkType: int32(workType)}
	buf, err := req.MarshalBinary()
	if err != nil {
		return false, err
	}
	ctx := context.Background()
	if err := s.sync.Sync(ctx, serverRank, wire.SyncSubscribe, buf); err != nil {
		return false, err
	}
	msg, err := s.transport.Wait(ctx, serverRank, wire.TagResponse)
	if err != nil {
		return false, err
	}
	var resp wire.SubscribeResponse
	if err := resp.UnmarshalBinary(msg.Payload); err != nil {
		return false, err
	}
	return resp.Subscribed, nil
}

// deliverControlClose decodes t's NotifyPayload and applies it directly
// to this server's dependency engine, bypassing ordinary admission
// entirely — a depengine wake-up is never dispatched to a worker.
func (s *Server) deliverControlClose(t task.Task, remote bool) {
	var p wire.NotifyPayload
	if err := p.UnmarshalBinary(t.Payload); err != nil {
		s.logger.Err().Str("error", err.Error()).Log("malformed control close payload")
		return
	}
	s.dep.Close(p.ID, p.Subscript, p.HasSub, remote)
}

// deliverCloses fans datastore.CloseNotification bundles out through
// the notification engine (spec §4.D->§4.E handoff), used by every
// handler whose store call can produce them.
func (s *Server) deliverCloses(ctx context.Context, closes []datastore.CloseNotification) {
	if err := s.notifyEngine.Deliver(ctx, closes); err != nil {
		s.logger.Err().Str("error", err.Error()).Log("notification delivery failed")
	}
}

// serveSync is the syncproto.Serve callback: it dispatches an accepted
// SYNC_REQUEST by Kind to the component that owns that operation (spec
// §4.G step 3).
func (s *Server) serveSync(in syncproto.Inbound) {
	ctx := context.Background()
	switch in.Header.Kind {
	case wire.SyncSteal:
		if err := s.steal.Serve(ctx, in.Source, in.Header.Payload); err != nil {
			s.logger.Err().Str("error", err.Error()).Log("steal serve failed")
		}

	case wire.SyncSubscribe:
		var req wire.SubscribeRequest
		if err := req.UnmarshalBinary(in.Header.Payload); err != nil {
			return
		}
		subscribed, err := s.store.Subscribe(req.ID, req.Subscript, req.HasSub, int(req.Rank), int(req.WorkType))
		if err != nil {
			s.logger.Err().Str("error", err.Error()).Log("remote subscribe failed")
		}
		s.send(ctx, in.Source, wire.TagResponse, wire.SubscribeResponse{Subscribed: subscribed})

	case wire.SyncNotify:
		var req wire.PutRequest
		if err := req.UnmarshalBinary(in.Header.Payload); err != nil {
			return
		}
		t := putRequestToTask(req)
		if t.Type == task.ControlType && s.layout.IsServer(t.Target) {
			s.deliverControlClose(t, true)
			return
		}
		if err := s.admit(ctx, t); err != nil {
			s.logger.Err().Str("error", err.Error()).Log("forwarded notify admission failed")
		}

	case wire.SyncStore:
		var req wire.StoreRequest
		if err := req.UnmarshalBinary(in.Header.Payload); err != nil {
			return
		}
		s.applyForwardedStore(ctx, req)

	case wire.SyncRefcountIncr:
		var req wire.RefcountIncrRequest
		if err := req.UnmarshalBinary(in.Header.Payload); err != nil {
			return
		}
		s.applyForwardedRefcountIncr(ctx, req)

	default:
		s.logger.Notice().Int("kind", int(in.Header.Kind)).Log("sync: unrecognized kind")
	}
}

// applyForwardedStore and applyForwardedRefcountIncr are the local
// handlers for SyncStore/SyncRefcountIncr: generic cross-server
// forwarding primitives reserved by the wire protocol for resolving a
// container_reference (or refcount propagation) whose target id is
// hosted on a different server than the container itself. No handler in
// this build emits them (see DESIGN.md): internal/datastore.Store's
// ContainerReference/StoreValue resolve ref propagation purely against
// their own local map, so cross-server ref targets are a known
// limitation rather than something these two cases paper over silently.
func (s *Server) applyForwardedStore(ctx context.Context, req wire.StoreRequest) {
	notifs, err := s.store.StoreValue(req.ID, req.Subscript, req.HasSub, datum.Type(req.Type), req.Payload, req.Decr, req.StoreRefs)
	if err != nil {
		s.logger.Err().Str("error", err.Error()).Log("forwarded store failed")
		return
	}
	s.deliverCloses(ctx, notifs.Closes)
}

func (s *Server) applyForwardedRefcountIncr(ctx context.Context, req wire.RefcountIncrRequest) {
	notifs, err := s.store.RefcountIncr(req.ID, req.DeltaRead, req.DeltaWrite)
	if err != nil {
		s.logger.Err().Str("error", err.Error()).Log("forwarded refcount incr failed")
		return
	}
	s.deliverCloses(ctx, notifs.Closes)
}

// taskToPutRequest/putRequestToTask re-use the PutRequest wire shape as a
// generic task envelope for forwarding a control-work task to its home
// server over the sync protocol (wire.SyncNotify): PutRequest already
// carries every field.Task needs (Type, Putter, Priority, Answer,
// Target, Parallelism, Strictness, Accuracy) plus an inline payload, so
// introducing a dedicated wire message for this one forwarding path
// would just duplicate it.
func taskToPutRequest(t task.Task) wire.PutRequest {
	return wire.PutRequest{
		Type:        int32(t.Type),
		Putter:      int32(t.Putter),
		Priority:    t.Priority,
		Answer:      int32(t.Answer),
		Target:      int32(t.Target),
		Parallelism: int32(t.Parallelism),
		Strictness:  int32(t.Strictness),
		Accuracy:    int32(t.Accuracy),
		Length:      int32(len(t.Payload)),
		Inline:      true,
		Payload:     t.Payload,
	}
}

func putRequestToTask(req wire.PutRequest) task.Task {
	return task.Task{
		Type:        int(req.Type),
		Putter:      int(req.Putter),
		Priority:    req.Priority,
		Answer:      int(req.Answer),
		Target:      int(req.Target),
		Strictness:  task.Strictness(req.Strictness),
		Accuracy:    task.Accuracy(req.Accuracy),
		Parallelism: int(req.Parallelism),
		Payload:     req.Payload,
	}
}

package server

import (
	"context"

	"github.com/mtcrun/mtce/internal/datum"
	"github.com/mtcrun/mtce/internal/depengine"
	"github.com/mtcrun/mtce/internal/wire"
	"github.com/mtcrun/mtce/transport"
)

// HandleMessage dispatches one inbound request to the handler owning its
// tag (spec §4.J). TagSteal and TagNotify never arrive here — both ride
// the sync handshake as a SyncKind instead of a direct request tag (see
// serveSync in dispatch.go), so this switch only needs the client-facing
// RPC surface.
func (s *Server) HandleMessage(ctx context.Context, msg transport.Message) {
	switch msg.Tag {
	case wire.TagSync:
		s.handleSync(ctx, msg.Source)
	case wire.TagPut:
		s.handlePut(ctx, msg.Source, msg.Payload)
	case wire.TagGet:
		s.handleGet(ctx, msg.Source, msg.Payload, false)
	case wire.TagIGet:
		s.handleGet(ctx, msg.Source, msg.Payload, true)
	case wire.TagCreate:
		s.handleCreate(ctx, msg.Source, msg.Payload)
	case wire.TagMultiCreate:
		s.handleMultiCreate(ctx, msg.Source, msg.Payload)
	case wire.TagExists:
		s.handleExists(ctx, msg.Source, msg.Payload)
	case wire.TagStore:
		s.handleStore(ctx, msg.Source, msg.Payload)
	case wire.TagRetrieve:
		s.handleRetrieve(ctx, msg.Source, msg.Payload)
	case wire.TagEnumerate:
		s.handleEnumerate(ctx, msg.Source, msg.Payload)
	case wire.TagSubscribe:
		s.handleSubscribe(ctx, msg.Source, msg.Payload)
	case wire.TagRefcountIncr:
		s.handleRefcountIncr(ctx, msg.Source, msg.Payload)
	case wire.TagInsertAtomic:
		s.handleInsertAtomic(ctx, msg.Source, msg.Payload)
	case wire.TagContainerSize:
		s.handleContainerSize(ctx, msg.Source, msg.Payload)
	case wire.TagContainerReference:
		s.handleContainerReference(ctx, msg.Source, msg.Payload)
	case wire.TagUnique:
		s.handleUnique(ctx, msg.Source)
	case wire.TagTypeOf:
		s.handleTypeOf(ctx, msg.Source, msg.Payload)
	case wire.TagLock:
		s.handleLock(ctx, msg.Source, msg.Payload)
	case wire.TagUnlock:
		s.handleUnlock(ctx, msg.Source, msg.Payload)
	case wire.TagCheckIdle:
		s.handleCheckIdle(ctx, msg.Source)
	case wire.TagShutdownWorker:
		// a worker never sends this; seeing it would be a misrouted
		// message. Nothing to do but ignore it.
	case wire.TagShutdownServer:
		s.handleShutdownServer(ctx, msg.Source)
	case wire.TagFail:
		s.handleFail(ctx, msg.Source, msg.Payload)
	case wire.TagPutRule:
		s.handlePutRule(ctx, msg.Source, msg.Payload)
	default:
		s.logger.Notice().Int("tag", int(msg.Tag)).Int("source", msg.Source).Log("unrecognized request tag")
	}
}

// handleSync answers the client-facing SYNC RPC (spec §5 handler list):
// a worker calling sync merely wants this server to process anything it
// has deferred, so the reply is always an immediate accept, followed by
// draining one buffered inter-server sync if one is pending.
func (s *Server) handleSync(ctx context.Context, source int) {
	s.send(ctx, source, wire.TagResponse, wire.StatusResponse{Code: wire.CodeSuccess})
	s.sync.DrainPending(ctx)
}

// handlePut answers PUT: the destination header is always sent first (so
// a non-inline putter learns where to ship bytes), then, for a non-
// inline payload, this server pulls the bytes itself over TagWork before
// admitting the task (spec §4.B/§4.C, wire §6).
func (s *Server) handlePut(ctx context.Context, source int, payload []byte) {
	var req wire.PutRequest
	if err := req.UnmarshalBinary(payload); err != nil {
		s.logger.Err().Str("error", err.Error()).Log("malformed put request")
		return
	}

	t := putRequestToTask(req)
	if err := t.Validate(s.numTypes); err != nil {
		s.send(ctx, source, wire.TagResponsePut, wire.PutResponse{Code: wire.CodeInvalid, PayloadDestination: int32(s.rank)})
		return
	}
	if t.Targeted() && s.layout.Home(t.Target) != s.rank {
		s.send(ctx, source, wire.TagResponsePut, wire.PutResponse{Code: wire.CodeInvalid, PayloadDestination: int32(s.rank)})
		return
	}

	s.send(ctx, source, wire.TagResponsePut, wire.PutResponse{Code: wire.CodeSuccess, PayloadDestination: int32(s.rank)})

	if !req.Inline {
		msg, err := s.transport.Wait(ctx, req.Putter, wire.TagWork)
		if err != nil {
			s.logger.Err().Str("error", err.Error()).Log("put: payload pull failed")
			return
		}
		t.Payload = msg.Payload
	}

	if err := s.admit(ctx, t); err != nil {
		s.logger.Err().Str("error", err.Error()).Log("put admission failed")
	}
}

// handleGet answers GET/IGET: an immediately-available match dispatches
// right away; otherwise a plain GET enrolls the worker in the request
// queue (spec §4.C) while an IGET reports CodeNothing without waiting.
func (s *Server) handleGet(ctx context.Context, source int, payload []byte, immediate bool) {
	var req wire.GetRequest
	if err := req.UnmarshalBinary(payload); err != nil {
		s.logger.Err().Str("error", err.Error()).Log("malformed get request")
		return
	}

	if t, ok := s.wq.Pop(source, int(req.Type)); ok {
		if err := s.dispatchToWorker(ctx, source, t, 0); err != nil {
			s.logger.Err().Str("error", err.Error()).Int("dest", source).Log("get dispatch failed")
		}
		return
	}

	if immediate {
		s.send(ctx, source, wire.TagResponseGet, wire.GetResponse{Code: wire.CodeNothing})
		return
	}

	if err := s.rq.Add(source, int(req.Type)); err != nil {
		s.send(ctx, source, wire.TagResponseGet, wire.GetResponse{Code: wire.CodeRejected})
	}
}

func (s *Server) handleCreate(ctx context.Context, source int, payload []byte) {
	var req wire.CreateRequest
	if err := req.UnmarshalBinary(payload); err != nil {
		s.logger.Err().Str("error", err.Error()).Log("malformed create request")
		return
	}
	id, err := s.store.Create(req.ID, datum.Type(req.Type), datum.Extras{
		KeyType:   datum.Type(req.KeyType),
		ValueType: datum.Type(req.ValueType),
		StructID:  int(req.StructID),
	}, datum.Props{Permanent: req.Permanent, Symbol: req.Symbol, Placement: req.Placement})
	s.send(ctx, source, wire.TagResponse, wire.CreateResponse{Code: wireCode(err), ID: id})
}

func (s *Server) handleMultiCreate(ctx context.Context, source int, payload []byte) {
	var req wire.MultiCreateRequest
	if err := req.UnmarshalBinary(payload); err != nil {
		s.logger.Err().Str("error", err.Error()).Log("malformed multicreate request")
		return
	}
	ids := make([]int64, len(req.Items))
	for i, item := range req.Items {
		id, err := s.store.Create(item.ID, datum.Type(item.Type), datum.Extras{
			KeyType:   datum.Type(item.KeyType),
			ValueType: datum.Type(item.ValueType),
			StructID:  int(item.StructID),
		}, datum.Props{Permanent: item.Permanent, Symbol: item.Symbol, Placement: item.Placement})
		if err != nil {
			s.logger.Err().Str("error", err.Error()).Int("index", i).Log("multicreate item failed")
			continue
		}
		ids[i] = id
	}
	s.send(ctx, source, wire.TagResponse, wire.MultiCreateResponse{IDs: ids})
}

func (s *Server) handleExists(ctx context.Context, source int, payload []byte) {
	var req wire.ExistsRequest
	if err := req.UnmarshalBinary(payload); err != nil {
		s.logger.Err().Str("error", err.Error()).Log("malformed exists request")
		return
	}
	exists, err := s.store.Exists(req.ID, req.Subscript, req.HasSub, req.Decr)
	s.send(ctx, source, wire.TagResponse, wire.ExistsResponse{Code: wireCode(err), Exists: exists})
}

func (s *Server) handleStore(ctx context.Context, source int, payload []byte) {
	var req wire.StoreRequest
	if err := req.UnmarshalBinary(payload); err != nil {
		s.logger.Err().Str("error", err.Error()).Log("malformed store request")
		return
	}
	notifs, err := s.store.StoreValue(req.ID, req.Subscript, req.HasSub, datum.Type(req.Type), req.Payload, req.Decr, req.StoreRefs)
	if err == nil {
		s.deliverCloses(ctx, notifs.Closes)
	}
	s.send(ctx, source, wire.TagResponse, wire.StatusResponse{Code: wireCode(err), NotificationCount: int32(len(notifs.Closes))})
}

func (s *Server) handleRetrieve(ctx context.Context, source int, payload []byte) {
	var req wire.RetrieveRequest
	if err := req.UnmarshalBinary(payload); err != nil {
		s.logger.Err().Str("error", err.Error()).Log("malformed retrieve request")
		return
	}
	typ, value, err := s.store.Retrieve(req.ID, req.Subscript, req.HasSub, req.DecrSelf, req.IncrRef)
	s.send(ctx, source, wire.TagResponse, wire.RetrieveResponse{Code: wireCode(err), Type: int32(typ), Payload: value})
}

func (s *Server) handleEnumerate(ctx context.Context, source int, payload []byte) {
	var req wire.EnumerateRequest
	if err := req.UnmarshalBinary(payload); err != nil {
		s.logger.Err().Str("error", err.Error()).Log("malformed enumerate request")
		return
	}
	subs, err := s.store.Enumerate(req.ID)
	s.send(ctx, source, wire.TagResponse, wire.EnumerateResponse{Code: wireCode(err), Subscripts: subs})
}

// handleSubscribe answers a local SUBSCRIBE RPC. A remote server's
// forwarded subscribe rides wire.SyncSubscribe instead (see serveSync);
// this path is only for a worker subscribing directly against its own
// home server's store.
func (s *Server) handleSubscribe(ctx context.Context, source int, payload []byte) {
	var req wire.SubscribeRequest
	if err := req.UnmarshalBinary(payload); err != nil {
		s.logger.Err().Str("error", err.Error()).Log("malformed subscribe request")
		return
	}
	subscribed, err := s.store.Subscribe(req.ID, req.Subscript, req.HasSub, int(req.Rank), int(req.WorkType))
	if err != nil {
		s.logger.Err().Str("error", err.Error()).Log("subscribe failed")
	}
	s.send(ctx, source, wire.TagResponse, wire.SubscribeResponse{Subscribed: subscribed})
}

func (s *Server) handleRefcountIncr(ctx context.Context, source int, payload []byte) {
	var req wire.RefcountIncrRequest
	if err := req.UnmarshalBinary(payload); err != nil {
		s.logger.Err().Str("error", err.Error()).Log("malformed refcount_incr request")
		return
	}
	notifs, err := s.store.RefcountIncr(req.ID, req.DeltaRead, req.DeltaWrite)
	if err == nil {
		s.deliverCloses(ctx, notifs.Closes)
	}
	s.send(ctx, source, wire.TagResponse, wire.StatusResponse{Code: wireCode(err), NotificationCount: int32(len(notifs.Closes))})
}

func (s *Server) handleInsertAtomic(ctx context.Context, source int, payload []byte) {
	var req wire.InsertAtomicRequest
	if err := req.UnmarshalBinary(payload); err != nil {
		s.logger.Err().Str("error", err.Error()).Log("malformed insert_atomic request")
		return
	}
	created, alreadyPresent, value, err := s.store.InsertAtomic(req.ID, req.Subscript, req.AcquireRefs)
	s.send(ctx, source, wire.TagResponse, wire.InsertAtomicResponse{
		Code: wireCode(err), Created: created, AlreadyPresent: alreadyPresent, Value: value,
	})
}

func (s *Server) handleContainerSize(ctx context.Context, source int, payload []byte) {
	var req wire.ContainerSizeRequest
	if err := req.UnmarshalBinary(payload); err != nil {
		s.logger.Err().Str("error", err.Error()).Log("malformed container_size request")
		return
	}
	n, err := s.store.ContainerSize(req.ID)
	s.send(ctx, source, wire.TagResponse, wire.ContainerSizeResponse{Code: wireCode(err), Size: int32(n)})
}

// handleContainerReference answers CONTAINER_REFERENCE for a cid hosted
// locally. If refID is hosted on another server, the local store's
// pending-write resolution simply looks it up in its own map and misses
// — see applyForwardedStore/applyForwardedRefcountIncr in dispatch.go
// for the documented cross-server gap this leaves.
func (s *Server) handleContainerReference(ctx context.Context, source int, payload []byte) {
	var req wire.ContainerReferenceRequest
	if err := req.UnmarshalBinary(payload); err != nil {
		s.logger.Err().Str("error", err.Error()).Log("malformed container_reference request")
		return
	}
	notifs, err := s.store.ContainerReference(req.ContainerID, req.Subscript, req.RefID, req.RefSub, datum.Type(req.RefType), req.TransferRefs, req.Decr)
	if err == nil {
		s.deliverCloses(ctx, notifs.Closes)
	}
	s.send(ctx, source, wire.TagResponse, wire.StatusResponse{Code: wireCode(err), NotificationCount: int32(len(notifs.Closes))})
}

func (s *Server) handleUnique(ctx context.Context, source int) {
	s.send(ctx, source, wire.TagResponse, wire.UniqueResponse{ID: s.ids.Next()})
}

func (s *Server) handleTypeOf(ctx context.Context, source int, payload []byte) {
	var req wire.TypeOfRequest
	if err := req.UnmarshalBinary(payload); err != nil {
		s.logger.Err().Str("error", err.Error()).Log("malformed typeof request")
		return
	}
	typ, err := s.store.TypeOf(req.ID)
	s.send(ctx, source, wire.TagResponse, wire.TypeOfResponse{Code: wireCode(err), Type: int32(typ)})
}

func (s *Server) handleLock(ctx context.Context, source int, payload []byte) {
	var req wire.LockRequest
	if err := req.UnmarshalBinary(payload); err != nil {
		s.logger.Err().Str("error", err.Error()).Log("malformed lock request")
		return
	}
	acquired, err := s.store.Lock(req.ID, int(req.Rank))
	s.send(ctx, source, wire.TagResponse, wire.LockResponse{Code: wireCode(err), Acquired: acquired})
}

func (s *Server) handleUnlock(ctx context.Context, source int, payload []byte) {
	var req wire.LockRequest
	if err := req.UnmarshalBinary(payload); err != nil {
		s.logger.Err().Str("error", err.Error()).Log("malformed unlock request")
		return
	}
	err := s.store.Unlock(req.ID, int(req.Rank))
	s.send(ctx, source, wire.TagResponse, wire.LockResponse{Code: wireCode(err)})
}

func (s *Server) handleCheckIdle(ctx context.Context, source int) {
	s.send(ctx, source, wire.TagResponse, wire.CheckIdleResponse{Idle: s.isIdle()})
}

// handleShutdownServer records the cluster-wide shutdown decision; the
// main loop (loop.go) checks shuttingDown every iteration and exits once
// its own workers have been drained.
func (s *Server) handleShutdownServer(ctx context.Context, source int) {
	_ = source
	s.shuttingDown = true
	s.shutdownLocalWorkers(ctx)
}

// handleFail implements an application-initiated abort (spec §4.I "any
// server can force early termination"): it records the failure and
// broadcasts shutdown to every peer server and every locally-homed
// worker exactly like a normal termination, so a single FAIL reliably
// tears down the whole cluster rather than just this server.
func (s *Server) handleFail(ctx context.Context, source int, payload []byte) {
	_ = source
	var req wire.FailRequest
	if err := req.UnmarshalBinary(payload); err != nil {
		s.logger.Err().Str("error", err.Error()).Log("malformed fail request")
		return
	}
	s.failed = true
	s.failExitCode = req.ExitCode
	s.shuttingDown = true
	s.broadcastShutdown(ctx)
}

func (s *Server) handlePutRule(ctx context.Context, source int, payload []byte) {
	var req wire.PutRuleRequest
	if err := req.UnmarshalBinary(payload); err != nil {
		s.logger.Err().Str("error", err.Error()).Log("malformed put_rule request")
		return
	}
	work := putRequestToTask(req.Put)

	inputIDSubs := make([]depengine.InputIDSub, len(req.InputSubIDs))
	for i, id := range req.InputSubIDs {
		inputIDSubs[i] = depengine.InputIDSub{ID: id, Sub: req.InputSubs[i]}
	}

	_, err := s.dep.PutRule(req.Name, req.InputIDs, inputIDSubs, work)
	s.send(ctx, source, wire.TagResponse, wire.StatusResponse{Code: wireCode(err)})
}

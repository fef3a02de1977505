// Package wire defines the engine's tag space (spec §6) and the binary
// envelope codec for every RPC kind, so transport implementations only
// ever move tagged byte slices and every package above them works with
// typed Go structs.
package wire

// Tag identifies the kind of an in-flight message. Tags are disjoint
// from any user-level tag space the host application may use on the
// same transport.
type Tag int32

const (
	_ Tag = iota

	// request kinds, one per RPC handler (spec §4.J)
	TagSync
	TagPut
	TagGet
	TagIGet
	TagCreate
	TagMultiCreate
	TagExists
	TagStore
	TagRetrieve
	TagEnumerate
	TagSubscribe
	TagRefcountIncr
	TagInsertAtomic
	TagContainerSize
	TagContainerReference
	TagUnique
	TagTypeOf
	TagLock
	TagUnlock
	TagCheckIdle
	TagShutdownWorker
	TagShutdownServer
	TagFail
	TagSteal
	TagNotify
	TagPutRule

	// response / follow-up kinds (spec §6)
	TagResponse
	TagResponseGet
	TagResponsePut
	TagResponseSteal
	TagResponseStealCount
	TagWork
	TagSyncRequest
	TagSyncResponse
)

// String names a Tag for logging; unknown tags render as "TAG(?)"
// rather than panicking.
func (t Tag) String() string {
	if s, ok := tagNames[t]; ok {
		return s
	}
	return "TAG(?)"
}

var tagNames = map[Tag]string{
	TagSync:                "SYNC",
	TagPut:                 "PUT",
	TagGet:                 "GET",
	TagIGet:                "IGET",
	TagCreate:              "CREATE",
	TagMultiCreate:         "MULTICREATE",
	TagExists:              "EXISTS",
	TagStore:               "STORE",
	TagRetrieve:            "RETRIEVE",
	TagEnumerate:           "ENUMERATE",
	TagSubscribe:           "SUBSCRIBE",
	TagRefcountIncr:        "REFCOUNT_INCR",
	TagInsertAtomic:        "INSERT_ATOMIC",
	TagContainerSize:       "CONTAINER_SIZE",
	TagContainerReference:  "CONTAINER_REFERENCE",
	TagUnique:              "UNIQUE",
	TagTypeOf:              "TYPEOF",
	TagLock:                "LOCK",
	TagUnlock:              "UNLOCK",
	TagCheckIdle:           "CHECK_IDLE",
	TagShutdownWorker:      "SHUTDOWN_WORKER",
	TagShutdownServer:      "SHUTDOWN_SERVER",
	TagFail:                "FAIL",
	TagSteal:               "STEAL",
	TagNotify:              "NOTIFY",
	TagPutRule:             "PUT_RULE",
	TagResponse:            "RESPONSE",
	TagResponseGet:         "RESPONSE_GET",
	TagResponsePut:         "RESPONSE_PUT",
	TagResponseSteal:       "RESPONSE_STEAL",
	TagResponseStealCount:  "RESPONSE_STEAL_COUNT",
	TagWork:                "WORK",
	TagSyncRequest:         "SYNC_REQUEST",
	TagSyncResponse:        "SYNC_RESPONSE",
}

// SyncKind distinguishes the operation piggy-backed on a SYNC_REQUEST
// (spec §4.G) so that, in the common case, the follow-up payload rides
// along with the handshake instead of costing a second round trip.
type SyncKind int32

const (
	SyncGeneric SyncKind = iota
	SyncStore
	SyncRefcountIncr
	SyncSubscribe
	SyncNotify
	SyncSteal
)

// Code mirrors internal/errs.Code on the wire as a plain int32, keeping
// the envelope codec free of a dependency on the error package's richer
// *Error type.
type Code int32

const (
	CodeSuccess Code = iota
	CodeNothing
	CodeRejected
	CodeNotFound
	CodeInvalid
	CodeOOM
	CodeShutdown
	CodeError
)

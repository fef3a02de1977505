package wire

// PutRequest is the PUT RPC request (spec §6).
type PutRequest struct {
	Type         int32
	Putter       int32
	Priority     int32
	Answer       int32
	Target       int32
	Parallelism  int32
	Strictness   int32
	Accuracy     int32
	Length       int32
	Inline       bool
	Payload      []byte // present only if Inline
}

func (m PutRequest) MarshalBinary() ([]byte, error) {
	w := &writer{}
	w.i32(m.Type)
	w.i32(m.Putter)
	w.i32(m.Priority)
	w.i32(m.Answer)
	w.i32(m.Target)
	w.i32(m.Parallelism)
	w.i32(m.Strictness)
	w.i32(m.Accuracy)
	w.i32(m.Length)
	w.bool(m.Inline)
	if m.Inline {
		w.bytes(m.Payload)
	}
	return w.buf.Bytes(), nil
}

func (m *PutRequest) UnmarshalBinary(b []byte) error {
	r := newReader(b)
	var err error
	if m.Type, err = r.i32(); err != nil {
		return err
	}
	if m.Putter, err = r.i32(); err != nil {
		return err
	}
	if m.Priority, err = r.i32(); err != nil {
		return err
	}
	if m.Answer, err = r.i32(); err != nil {
		return err
	}
	if m.Target, err = r.i32(); err != nil {
		return err
	}
	if m.Parallelism, err = r.i32(); err != nil {
		return err
	}
	if m.Strictness, err = r.i32(); err != nil {
		return err
	}
	if m.Accuracy, err = r.i32(); err != nil {
		return err
	}
	if m.Length, err = r.i32(); err != nil {
		return err
	}
	if m.Inline, err = r.boolv(); err != nil {
		return err
	}
	if m.Inline {
		if m.Payload, err = r.bytesv(); err != nil {
			return err
		}
	}
	return nil
}

// PutResponse tells a non-inline putter where to ship the payload.
type PutResponse struct {
	Code              Code
	PayloadDestination int32
}

func (m PutResponse) MarshalBinary() ([]byte, error) {
	w := &writer{}
	w.i32(int32(m.Code))
	w.i32(m.PayloadDestination)
	return w.buf.Bytes(), nil
}

func (m *PutResponse) UnmarshalBinary(b []byte) error {
	r := newReader(b)
	var code int32
	var err error
	if code, err = r.i32(); err != nil {
		return err
	}
	m.Code = Code(code)
	m.PayloadDestination, err = r.i32()
	return err
}

// GetRequest is the GET/IGET request: just a type (ANY permitted).
type GetRequest struct {
	Type int32
}

func (m GetRequest) MarshalBinary() ([]byte, error) {
	w := &writer{}
	w.i32(m.Type)
	return w.buf.Bytes(), nil
}

func (m *GetRequest) UnmarshalBinary(b []byte) error {
	r := newReader(b)
	var err error
	m.Type, err = r.i32()
	return err
}

// GetResponse is the unified GET/IGET/parallel-dispatch response (spec §4.C).
// GangID identifies the cohort a parallel task's co-workers were dispatched
// under (supplemental feature: a stand-in for literal sub-communicator
// creation, since the transport may not support Gang); it is zero for any
// non-parallel dispatch.
type GetResponse struct {
	Code          Code
	AnswerRank    int32
	PayloadSource int32
	Type          int32
	Length        int32
	Parallelism   int32
	GangID        int64
}

func (m GetResponse) MarshalBinary() ([]byte, error) {
	w := &writer{}
	w.i32(int32(m.Code))
	w.i32(m.AnswerRank)
	w.i32(m.PayloadSource)
	w.i32(m.Type)
	w.i32(m.Length)
	w.i32(m.Parallelism)
	w.i64(m.GangID)
	return w.buf.Bytes(), nil
}

func (m *GetResponse) UnmarshalBinary(b []byte) error {
	r := newReader(b)
	var code int32
	var err error
	if code, err = r.i32(); err != nil {
		return err
	}
	m.Code = Code(code)
	if m.AnswerRank, err = r.i32(); err != nil {
		return err
	}
	if m.PayloadSource, err = r.i32(); err != nil {
		return err
	}
	if m.Type, err = r.i32(); err != nil {
		return err
	}
	if m.Length, err = r.i32(); err != nil {
		return err
	}
	if m.Parallelism, err = r.i32(); err != nil {
		return err
	}
	m.GangID, err = r.i64()
	return err
}

// StoreRequest is the STORE request (spec §6).
type StoreRequest struct {
	ID         int64
	HasSub     bool
	Subscript  string
	Type       int32
	Decr       int64
	StoreRefs  int64
	Payload    []byte
}

func (m StoreRequest) MarshalBinary() ([]byte, error) {
	w := &writer{}
	w.i64(m.ID)
	w.bool(m.HasSub)
	if m.HasSub {
		w.str(m.Subscript)
	}
	w.i32(m.Type)
	w.i64(m.Decr)
	w.i64(m.StoreRefs)
	w.bytes(m.Payload)
	return w.buf.Bytes(), nil
}

func (m *StoreRequest) UnmarshalBinary(b []byte) error {
	r := newReader(b)
	var err error
	if m.ID, err = r.i64(); err != nil {
		return err
	}
	if m.HasSub, err = r.boolv(); err != nil {
		return err
	}
	if m.HasSub {
		if m.Subscript, err = r.str(); err != nil {
			return err
		}
	}
	if m.Type, err = r.i32(); err != nil {
		return err
	}
	if m.Decr, err = r.i64(); err != nil {
		return err
	}
	if m.StoreRefs, err = r.i64(); err != nil {
		return err
	}
	m.Payload, err = r.bytesv()
	return err
}

// StatusResponse is the generic status-only response shape shared by
// STORE, REFCOUNT_INCR, EXISTS-style handlers.
type StatusResponse struct {
	Code             Code
	NotificationCount int32
}

func (m StatusResponse) MarshalBinary() ([]byte, error) {
	w := &writer{}
	w.i32(int32(m.Code))
	w.i32(m.NotificationCount)
	return w.buf.Bytes(), nil
}

func (m *StatusResponse) UnmarshalBinary(b []byte) error {
	r := newReader(b)
	var code int32
	var err error
	if code, err = r.i32(); err != nil {
		return err
	}
	m.Code = Code(code)
	m.NotificationCount, err = r.i32()
	return err
}

// RetrieveRequest is the RETRIEVE request.
type RetrieveRequest struct {
	ID        int64
	HasSub    bool
	Subscript string
	DecrSelf  int64
	IncrRef   int64
}

func (m RetrieveRequest) MarshalBinary() ([]byte, error) {
	w := &writer{}
	w.i64(m.ID)
	w.bool(m.HasSub)
	if m.HasSub {
		w.str(m.Subscript)
	}
	w.i64(m.DecrSelf)
	w.i64(m.IncrRef)
	return w.buf.Bytes(), nil
}

func (m *RetrieveRequest) UnmarshalBinary(b []byte) error {
	r := newReader(b)
	var err error
	if m.ID, err = r.i64(); err != nil {
		return err
	}
	if m.HasSub, err = r.boolv(); err != nil {
		return err
	}
	if m.HasSub {
		if m.Subscript, err = r.str(); err != nil {
			return err
		}
	}
	if m.DecrSelf, err = r.i64(); err != nil {
		return err
	}
	m.IncrRef, err = r.i64()
	return err
}

// RetrieveResponse carries the type/length header; the payload bytes
// follow as a separate message in the real transport but are embedded
// here for the inprocess transport's single-envelope convenience.
type RetrieveResponse struct {
	Code    Code
	Type    int32
	Payload []byte
}

func (m RetrieveResponse) MarshalBinary() ([]byte, error) {
	w := &writer{}
	w.i32(int32(m.Code))
	w.i32(m.Type)
	w.bytes(m.Payload)
	return w.buf.Bytes(), nil
}

func (m *RetrieveResponse) UnmarshalBinary(b []byte) error {
	r := newReader(b)
	var code int32
	var err error
	if code, err = r.i32(); err != nil {
		return err
	}
	m.Code = Code(code)
	if m.Type, err = r.i32(); err != nil {
		return err
	}
	m.Payload, err = r.bytesv()
	return err
}

// SubscribeRequest is the SUBSCRIBE request.
type SubscribeRequest struct {
	ID        int64
	HasSub    bool
	Subscript string
	Rank      int32
	WorkType  int32
}

func (m SubscribeRequest) MarshalBinary() ([]byte, error) {
	w := &writer{}
	w.i64(m.ID)
	w.bool(m.HasSub)
	if m.HasSub {
		w.str(m.Subscript)
	}
	w.i32(m.Rank)
	w.i32(m.WorkType)
	return w.buf.Bytes(), nil
}

func (m *SubscribeRequest) UnmarshalBinary(b []byte) error {
	r := newReader(b)
	var err error
	if m.ID, err = r.i64(); err != nil {
		return err
	}
	if m.HasSub, err = r.boolv(); err != nil {
		return err
	}
	if m.HasSub {
		if m.Subscript, err = r.str(); err != nil {
			return err
		}
	}
	if m.Rank, err = r.i32(); err != nil {
		return err
	}
	m.WorkType, err = r.i32()
	return err
}

// SubscribeResponse reports whether the subscription was enrolled.
type SubscribeResponse struct {
	Subscribed bool
}

func (m SubscribeResponse) MarshalBinary() ([]byte, error) {
	w := &writer{}
	w.bool(m.Subscribed)
	return w.buf.Bytes(), nil
}

func (m *SubscribeResponse) UnmarshalBinary(b []byte) error {
	r := newReader(b)
	v, err := r.boolv()
	m.Subscribed = v
	return err
}

// RefcountIncrRequest is the REFCOUNT_INCR request.
type RefcountIncrRequest struct {
	ID         int64
	DeltaRead  int64
	DeltaWrite int64
}

func (m RefcountIncrRequest) MarshalBinary() ([]byte, error) {
	w := &writer{}
	w.i64(m.ID)
	w.i64(m.DeltaRead)
	w.i64(m.DeltaWrite)
	return w.buf.Bytes(), nil
}

func (m *RefcountIncrRequest) UnmarshalBinary(b []byte) error {
	r := newReader(b)
	var err error
	if m.ID, err = r.i64(); err != nil {
		return err
	}
	if m.DeltaRead, err = r.i64(); err != nil {
		return err
	}
	m.DeltaWrite, err = r.i64()
	return err
}

// SyncRequestHeader is what initiates a §4.G sync handshake. Kind
// determines how Payload is interpreted by the receiver; in the common
// case the follow-up operation rides along instead of costing a second
// round trip.
type SyncRequestHeader struct {
	FromRank int32
	Kind     SyncKind
	Payload  []byte
}

func (m SyncRequestHeader) MarshalBinary() ([]byte, error) {
	w := &writer{}
	w.i32(m.FromRank)
	w.i32(int32(m.Kind))
	w.bytes(m.Payload)
	return w.buf.Bytes(), nil
}

func (m *SyncRequestHeader) UnmarshalBinary(b []byte) error {
	r := newReader(b)
	var err error
	if m.FromRank, err = r.i32(); err != nil {
		return err
	}
	var kind int32
	if kind, err = r.i32(); err != nil {
		return err
	}
	m.Kind = SyncKind(kind)
	m.Payload, err = r.bytesv()
	return err
}

// SyncResponse is the SYNC_RESPONSE: 0 = reject, 1 = accept (spec §6),
// modeled here as a bool for readability at call sites.
type SyncResponse struct {
	Accepted bool
}

func (m SyncResponse) MarshalBinary() ([]byte, error) {
	w := &writer{}
	w.bool(m.Accepted)
	return w.buf.Bytes(), nil
}

func (m *SyncResponse) UnmarshalBinary(b []byte) error {
	r := newReader(b)
	v, err := r.boolv()
	m.Accepted = v
	return err
}

// StealRequest is the STEAL request: this server's willingness plus the
// requester's current per-type wait counts (spec §4.H).
type StealRequest struct {
	MaxMemory int64
	WaitCounts map[int32]int32
}

func (m StealRequest) MarshalBinary() ([]byte, error) {
	w := &writer{}
	w.i64(m.MaxMemory)
	w.i32(int32(len(m.WaitCounts)))
	for t, c := range m.WaitCounts {
		w.i32(t)
		w.i32(c)
	}
	return w.buf.Bytes(), nil
}

func (m *StealRequest) UnmarshalBinary(b []byte) error {
	r := newReader(b)
	var err error
	if m.MaxMemory, err = r.i64(); err != nil {
		return err
	}
	n, err := r.i32()
	if err != nil {
		return err
	}
	m.WaitCounts = make(map[int32]int32, n)
	for i := int32(0); i < n; i++ {
		t, err := r.i32()
		if err != nil {
			return err
		}
		c, err := r.i32()
		if err != nil {
			return err
		}
		m.WaitCounts[t] = c
	}
	return nil
}

// StealCountResponse is the first of the two STEAL response messages:
// how many tasks of each type the peer is willing to give up.
type StealCountResponse struct {
	Counts map[int32]int32
}

func (m StealCountResponse) MarshalBinary() ([]byte, error) {
	w := &writer{}
	w.i32(int32(len(m.Counts)))
	for t, c := range m.Counts {
		w.i32(t)
		w.i32(c)
	}
	return w.buf.Bytes(), nil
}

func (m *StealCountResponse) UnmarshalBinary(b []byte) error {
	r := newReader(b)
	n, err := r.i32()
	if err != nil {
		return err
	}
	m.Counts = make(map[int32]int32, n)
	for i := int32(0); i < n; i++ {
		t, err := r.i32()
		if err != nil {
			return err
		}
		c, err := r.i32()
		if err != nil {
			return err
		}
		m.Counts[t] = c
	}
	return nil
}

// StolenTask is one task descriptor + payload in the second STEAL
// response message.
type StolenTask struct {
	ID          int64
	Type        int32
	Priority    int32
	Putter      int32
	Answer      int32
	Parallelism int32
	Payload     []byte
}

// StolenTaskBatch wraps a slice of StolenTask for a single envelope.
type StolenTaskBatch struct {
	Tasks []StolenTask
}

func (m StolenTaskBatch) MarshalBinary() ([]byte, error) {
	w := &writer{}
	w.i32(int32(len(m.Tasks)))
	for _, t := range m.Tasks {
		w.i64(t.ID)
		w.i32(t.Type)
		w.i32(t.Priority)
		w.i32(t.Putter)
		w.i32(t.Answer)
		w.i32(t.Parallelism)
		w.bytes(t.Payload)
	}
	return w.buf.Bytes(), nil
}

func (m *StolenTaskBatch) UnmarshalBinary(b []byte) error {
	r := newReader(b)
	n, err := r.i32()
	if err != nil {
		return err
	}
	m.Tasks = make([]StolenTask, n)
	for i := range m.Tasks {
		t := &m.Tasks[i]
		if t.ID, err = r.i64(); err != nil {
			return err
		}
		if t.Type, err = r.i32(); err != nil {
			return err
		}
		if t.Priority, err = r.i32(); err != nil {
			return err
		}
		if t.Putter, err = r.i32(); err != nil {
			return err
		}
		if t.Answer, err = r.i32(); err != nil {
			return err
		}
		if t.Parallelism, err = r.i32(); err != nil {
			return err
		}
		if t.Payload, err = r.bytesv(); err != nil {
			return err
		}
	}
	return nil
}

// FailRequest carries an application-initiated abort's exit code.
type FailRequest struct {
	ExitCode int32
}

func (m FailRequest) MarshalBinary() ([]byte, error) {
	w := &writer{}
	w.i32(m.ExitCode)
	return w.buf.Bytes(), nil
}

func (m *FailRequest) UnmarshalBinary(b []byte) error {
	r := newReader(b)
	var err error
	m.ExitCode, err = r.i32()
	return err
}

// CheckIdleResponse answers the master's distributed idle check.
type CheckIdleResponse struct {
	Idle bool
}

func (m CheckIdleResponse) MarshalBinary() ([]byte, error) {
	w := &writer{}
	w.bool(m.Idle)
	return w.buf.Bytes(), nil
}

func (m *CheckIdleResponse) UnmarshalBinary(b []byte) error {
	r := newReader(b)
	v, err := r.boolv()
	m.Idle = v
	return err
}

// NotifyPayload is the control-work task payload (spec §4.E): it rides
// as the Payload of a task.ControlType task, both across the
// cross-server NOTIFY sync-forward and as the answer to the subscribing
// worker's eventual GET of that task. The worker-visible WorkType is not
// included — Subscribe already recorded it as the task's own Target/Type,
// so the payload only needs to say which datum (and optional subscript)
// closed.
type NotifyPayload struct {
	ID        int64
	HasSub    bool
	Subscript string
}

func (m NotifyPayload) MarshalBinary() ([]byte, error) {
	w := &writer{}
	w.i64(m.ID)
	w.bool(m.HasSub)
	if m.HasSub {
		w.str(m.Subscript)
	}
	return w.buf.Bytes(), nil
}

func (m *NotifyPayload) UnmarshalBinary(b []byte) error {
	r := newReader(b)
	var err error
	if m.ID, err = r.i64(); err != nil {
		return err
	}
	if m.HasSub, err = r.boolv(); err != nil {
		return err
	}
	if m.HasSub {
		m.Subscript, err = r.str()
	}
	return err
}

// CreateRequest is the CREATE request: id == 0 asks the server to mint
// one (spec §4.D).
type CreateRequest struct {
	ID        int64
	Type      int32
	KeyType   int32
	ValueType int32
	StructID  int32
	Permanent bool
	Symbol    bool
	Placement string
}

func (m CreateRequest) MarshalBinary() ([]byte, error) {
	w := &writer{}
	w.i64(m.ID)
	w.i32(m.Type)
	w.i32(m.KeyType)
	w.i32(m.ValueType)
	w.i32(m.StructID)
	w.bool(m.Permanent)
	w.bool(m.Symbol)
	w.str(m.Placement)
	return w.buf.Bytes(), nil
}

func (m *CreateRequest) UnmarshalBinary(b []byte) error {
	r := newReader(b)
	var err error
	if m.ID, err = r.i64(); err != nil {
		return err
	}
	if m.Type, err = r.i32(); err != nil {
		return err
	}
	if m.KeyType, err = r.i32(); err != nil {
		return err
	}
	if m.ValueType, err = r.i32(); err != nil {
		return err
	}
	if m.StructID, err = r.i32(); err != nil {
		return err
	}
	if m.Permanent, err = r.boolv(); err != nil {
		return err
	}
	if m.Symbol, err = r.boolv(); err != nil {
		return err
	}
	m.Placement, err = r.str()
	return err
}

// CreateResponse reports the (possibly newly-minted) id.
type CreateResponse struct {
	Code Code
	ID   int64
}

func (m CreateResponse) MarshalBinary() ([]byte, error) {
	w := &writer{}
	w.i32(int32(m.Code))
	w.i64(m.ID)
	return w.buf.Bytes(), nil
}

func (m *CreateResponse) UnmarshalBinary(b []byte) error {
	r := newReader(b)
	var code int32
	var err error
	if code, err = r.i32(); err != nil {
		return err
	}
	m.Code = Code(code)
	m.ID, err = r.i64()
	return err
}

// MultiCreateRequest batches several CreateRequests into one round trip.
type MultiCreateRequest struct {
	Items []CreateRequest
}

func (m MultiCreateRequest) MarshalBinary() ([]byte, error) {
	w := &writer{}
	w.i32(int32(len(m.Items)))
	for _, it := range m.Items {
		b, _ := it.MarshalBinary()
		w.bytes(b)
	}
	return w.buf.Bytes(), nil
}

func (m *MultiCreateRequest) UnmarshalBinary(b []byte) error {
	r := newReader(b)
	n, err := r.i32()
	if err != nil {
		return err
	}
	m.Items = make([]CreateRequest, n)
	for i := range m.Items {
		buf, err := r.bytesv()
		if err != nil {
			return err
		}
		if err := m.Items[i].UnmarshalBinary(buf); err != nil {
			return err
		}
	}
	return nil
}

// MultiCreateResponse returns one id per requested item, in order.
type MultiCreateResponse struct {
	IDs []int64
}

func (m MultiCreateResponse) MarshalBinary() ([]byte, error) {
	w := &writer{}
	w.i32(int32(len(m.IDs)))
	for _, id := range m.IDs {
		w.i64(id)
	}
	return w.buf.Bytes(), nil
}

func (m *MultiCreateResponse) UnmarshalBinary(b []byte) error {
	r := newReader(b)
	n, err := r.i32()
	if err != nil {
		return err
	}
	m.IDs = make([]int64, n)
	for i := range m.IDs {
		if m.IDs[i], err = r.i64(); err != nil {
			return err
		}
	}
	return nil
}

// ExistsRequest is the EXISTS request.
type ExistsRequest struct {
	ID        int64
	HasSub    bool
	Subscript string
	Decr      int64
}

func (m ExistsRequest) MarshalBinary() ([]byte, error) {
	w := &writer{}
	w.i64(m.ID)
	w.bool(m.HasSub)
	if m.HasSub {
		w.str(m.Subscript)
	}
	w.i64(m.Decr)
	return w.buf.Bytes(), nil
}

func (m *ExistsRequest) UnmarshalBinary(b []byte) error {
	r := newReader(b)
	var err error
	if m.ID, err = r.i64(); err != nil {
		return err
	}
	if m.HasSub, err = r.boolv(); err != nil {
		return err
	}
	if m.HasSub {
		if m.Subscript, err = r.str(); err != nil {
			return err
		}
	}
	m.Decr, err = r.i64()
	return err
}

// ExistsResponse reports presence.
type ExistsResponse struct {
	Code   Code
	Exists bool
}

func (m ExistsResponse) MarshalBinary() ([]byte, error) {
	w := &writer{}
	w.i32(int32(m.Code))
	w.bool(m.Exists)
	return w.buf.Bytes(), nil
}

func (m *ExistsResponse) UnmarshalBinary(b []byte) error {
	r := newReader(b)
	var code int32
	var err error
	if code, err = r.i32(); err != nil {
		return err
	}
	m.Code = Code(code)
	m.Exists, err = r.boolv()
	return err
}

// EnumerateRequest is the ENUMERATE request: list cid's set subscripts.
type EnumerateRequest struct {
	ID int64
}

func (m EnumerateRequest) MarshalBinary() ([]byte, error) {
	w := &writer{}
	w.i64(m.ID)
	return w.buf.Bytes(), nil
}

func (m *EnumerateRequest) UnmarshalBinary(b []byte) error {
	r := newReader(b)
	var err error
	m.ID, err = r.i64()
	return err
}

// EnumerateResponse lists the set subscripts.
type EnumerateResponse struct {
	Code       Code
	Subscripts []string
}

func (m EnumerateResponse) MarshalBinary() ([]byte, error) {
	w := &writer{}
	w.i32(int32(m.Code))
	w.i32(int32(len(m.Subscripts)))
	for _, s := range m.Subscripts {
		w.str(s)
	}
	return w.buf.Bytes(), nil
}

func (m *EnumerateResponse) UnmarshalBinary(b []byte) error {
	r := newReader(b)
	var code int32
	var err error
	if code, err = r.i32(); err != nil {
		return err
	}
	m.Code = Code(code)
	n, err := r.i32()
	if err != nil {
		return err
	}
	m.Subscripts = make([]string, n)
	for i := range m.Subscripts {
		if m.Subscripts[i], err = r.str(); err != nil {
			return err
		}
	}
	return nil
}

// InsertAtomicRequest is the INSERT_ATOMIC request.
type InsertAtomicRequest struct {
	ID          int64
	Subscript   string
	AcquireRefs int64
}

func (m InsertAtomicRequest) MarshalBinary() ([]byte, error) {
	w := &writer{}
	w.i64(m.ID)
	w.str(m.Subscript)
	w.i64(m.AcquireRefs)
	return w.buf.Bytes(), nil
}

func (m *InsertAtomicRequest) UnmarshalBinary(b []byte) error {
	r := newReader(b)
	var err error
	if m.ID, err = r.i64(); err != nil {
		return err
	}
	if m.Subscript, err = r.str(); err != nil {
		return err
	}
	m.AcquireRefs, err = r.i64()
	return err
}

// InsertAtomicResponse answers INSERT_ATOMIC.
type InsertAtomicResponse struct {
	Code           Code
	Created        bool
	AlreadyPresent bool
	Value          []byte
}

func (m InsertAtomicResponse) MarshalBinary() ([]byte, error) {
	w := &writer{}
	w.i32(int32(m.Code))
	w.bool(m.Created)
	w.bool(m.AlreadyPresent)
	w.bytes(m.Value)
	return w.buf.Bytes(), nil
}

func (m *InsertAtomicResponse) UnmarshalBinary(b []byte) error {
	r := newReader(b)
	var code int32
	var err error
	if code, err = r.i32(); err != nil {
		return err
	}
	m.Code = Code(code)
	if m.Created, err = r.boolv(); err != nil {
		return err
	}
	if m.AlreadyPresent, err = r.boolv(); err != nil {
		return err
	}
	m.Value, err = r.bytesv()
	return err
}

// ContainerReferenceRequest is the CONTAINER_REFERENCE request.
type ContainerReferenceRequest struct {
	ContainerID int64
	Subscript   string
	RefID       int64
	RefSub      string
	RefType     int32
	TransferRefs int64
	Decr        int64
}

func (m ContainerReferenceRequest) MarshalBinary() ([]byte, error) {
	w := &writer{}
	w.i64(m.ContainerID)
	w.str(m.Subscript)
	w.i64(m.RefID)
	w.str(m.RefSub)
	w.i32(m.RefType)
	w.i64(m.TransferRefs)
	w.i64(m.Decr)
	return w.buf.Bytes(), nil
}

func (m *ContainerReferenceRequest) UnmarshalBinary(b []byte) error {
	r := newReader(b)
	var err error
	if m.ContainerID, err = r.i64(); err != nil {
		return err
	}
	if m.Subscript, err = r.str(); err != nil {
		return err
	}
	if m.RefID, err = r.i64(); err != nil {
		return err
	}
	if m.RefSub, err = r.str(); err != nil {
		return err
	}
	if m.RefType, err = r.i32(); err != nil {
		return err
	}
	if m.TransferRefs, err = r.i64(); err != nil {
		return err
	}
	m.Decr, err = r.i64()
	return err
}

// ContainerSizeRequest is the CONTAINER_SIZE request.
type ContainerSizeRequest struct {
	ID int64
}

func (m ContainerSizeRequest) MarshalBinary() ([]byte, error) {
	w := &writer{}
	w.i64(m.ID)
	return w.buf.Bytes(), nil
}

func (m *ContainerSizeRequest) UnmarshalBinary(b []byte) error {
	r := newReader(b)
	var err error
	m.ID, err = r.i64()
	return err
}

// ContainerSizeResponse answers CONTAINER_SIZE.
type ContainerSizeResponse struct {
	Code Code
	Size int32
}

func (m ContainerSizeResponse) MarshalBinary() ([]byte, error) {
	w := &writer{}
	w.i32(int32(m.Code))
	w.i32(m.Size)
	return w.buf.Bytes(), nil
}

func (m *ContainerSizeResponse) UnmarshalBinary(b []byte) error {
	r := newReader(b)
	var code int32
	var err error
	if code, err = r.i32(); err != nil {
		return err
	}
	m.Code = Code(code)
	m.Size, err = r.i32()
	return err
}

// UniqueResponse answers UNIQUE with a freshly-allocated id.
type UniqueResponse struct {
	ID int64
}

func (m UniqueResponse) MarshalBinary() ([]byte, error) {
	w := &writer{}
	w.i64(m.ID)
	return w.buf.Bytes(), nil
}

func (m *UniqueResponse) UnmarshalBinary(b []byte) error {
	r := newReader(b)
	var err error
	m.ID, err = r.i64()
	return err
}

// TypeOfRequest is the TYPEOF request.
type TypeOfRequest struct {
	ID int64
}

func (m TypeOfRequest) MarshalBinary() ([]byte, error) {
	w := &writer{}
	w.i64(m.ID)
	return w.buf.Bytes(), nil
}

func (m *TypeOfRequest) UnmarshalBinary(b []byte) error {
	r := newReader(b)
	var err error
	m.ID, err = r.i64()
	return err
}

// TypeOfResponse answers TYPEOF.
type TypeOfResponse struct {
	Code Code
	Type int32
}

func (m TypeOfResponse) MarshalBinary() ([]byte, error) {
	w := &writer{}
	w.i32(int32(m.Code))
	w.i32(m.Type)
	return w.buf.Bytes(), nil
}

func (m *TypeOfResponse) UnmarshalBinary(b []byte) error {
	r := newReader(b)
	var code int32
	var err error
	if code, err = r.i32(); err != nil {
		return err
	}
	m.Code = Code(code)
	m.Type, err = r.i32()
	return err
}

// LockRequest is the LOCK/UNLOCK request, shared by both tags (spec §5
// handler list): Rank identifies the requesting worker.
type LockRequest struct {
	ID   int64
	Rank int32
}

func (m LockRequest) MarshalBinary() ([]byte, error) {
	w := &writer{}
	w.i64(m.ID)
	w.i32(m.Rank)
	return w.buf.Bytes(), nil
}

func (m *LockRequest) UnmarshalBinary(b []byte) error {
	r := newReader(b)
	var err error
	if m.ID, err = r.i64(); err != nil {
		return err
	}
	m.Rank, err = r.i32()
	return err
}

// LockResponse answers LOCK.
type LockResponse struct {
	Code     Code
	Acquired bool
}

func (m LockResponse) MarshalBinary() ([]byte, error) {
	w := &writer{}
	w.i32(int32(m.Code))
	w.bool(m.Acquired)
	return w.buf.Bytes(), nil
}

func (m *LockResponse) UnmarshalBinary(b []byte) error {
	r := newReader(b)
	var code int32
	var err error
	if code, err = r.i32(); err != nil {
		return err
	}
	m.Code = Code(code)
	m.Acquired, err = r.boolv()
	return err
}

// PutRuleRequest is the RULE (put_rule) request: a data-dependent task
// waiting on a set of scalar ids and/or id+subscript pairs (spec §4.F).
type PutRuleRequest struct {
	Name        string
	InputIDs    []int64
	InputSubIDs []int64
	InputSubs   []string
	Put         PutRequest
}

func (m PutRuleRequest) MarshalBinary() ([]byte, error) {
	w := &writer{}
	w.str(m.Name)
	w.i32(int32(len(m.InputIDs)))
	for _, id := range m.InputIDs {
		w.i64(id)
	}
	w.i32(int32(len(m.InputSubIDs)))
	for i, id := range m.InputSubIDs {
		w.i64(id)
		w.str(m.InputSubs[i])
	}
	putBuf, err := m.Put.MarshalBinary()
	if err != nil {
		return nil, err
	}
	w.bytes(putBuf)
	return w.buf.Bytes(), nil
}

func (m *PutRuleRequest) UnmarshalBinary(b []byte) error {
	r := newReader(b)
	var err error
	if m.Name, err = r.str(); err != nil {
		return err
	}
	n, err := r.i32()
	if err != nil {
		return err
	}
	m.InputIDs = make([]int64, n)
	for i := range m.InputIDs {
		if m.InputIDs[i], err = r.i64(); err != nil {
			return err
		}
	}
	n, err = r.i32()
	if err != nil {
		return err
	}
	m.InputSubIDs = make([]int64, n)
	m.InputSubs = make([]string, n)
	for i := range m.InputSubIDs {
		if m.InputSubIDs[i], err = r.i64(); err != nil {
			return err
		}
		if m.InputSubs[i], err = r.str(); err != nil {
			return err
		}
	}
	putBuf, err := r.bytesv()
	if err != nil {
		return err
	}
	return m.Put.UnmarshalBinary(putBuf)
}

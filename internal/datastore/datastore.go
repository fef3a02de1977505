// Package datastore implements the server-local typed data store (spec
// §4.D): id-addressed datums with set-once scalar/field storage,
// refcount-pair lifetime, subscriber notification on close, and
// container_reference resolution (including pending references
// recorded before their target subscript exists).
package datastore

import (
	"encoding/binary"

	"github.com/mtcrun/mtce/internal/datum"
	"github.com/mtcrun/mtce/internal/errs"
)

// Placement selects where a newly-created id (id == 0, "assign me one")
// should live (spec §4.D).
type Placement int

const (
	PlacementDefault Placement = iota // caller's home server
	PlacementRandom
	PlacementLocal
)

// CloseNotification is one entry of a notification bundle: rank is
// owed a control-work task reporting that id (optionally scoped to
// Subscript) has closed (spec §4.D/§4.E).
type CloseNotification struct {
	Rank      int
	WorkType  int
	ID        int64
	Subscript string
	HasSub    bool
}

// Notifications accumulates every close notification produced by one
// top-level Store/RefcountIncr call, including those produced
// recursively while resolving container_reference pending writes.
type Notifications struct {
	Closes []CloseNotification
}

func (n *Notifications) merge(other Notifications) {
	n.Closes = append(n.Closes, other.Closes...)
}

// IDAllocator mints ids whose value modulo numServers equals serverIndex,
// so internal/layout.Locate routes them back to the server that
// allocated them (spec §4.D). It is accessed only by the owning
// server's single event-loop goroutine (spec §5: lock-free by
// construction, never locked internally).
type IDAllocator struct {
	serverIndex int64
	numServers  int64
	next        int64
}

// NewIDAllocator constructs an allocator for one server in a numServers-
// server cluster.
func NewIDAllocator(serverIndex, numServers int) *IDAllocator {
	return &IDAllocator{serverIndex: int64(serverIndex), numServers: int64(numServers)}
}

// Next returns the next id owned by this server.
func (a *IDAllocator) Next() int64 {
	a.next++
	return a.next*a.numServers + a.serverIndex
}

// Store is one server's datum table. It is accessed only by the
// owning server's single event-loop goroutine (spec §5: D is
// lock-free by construction, never locked internally).
type Store struct {
	ids   *IDAllocator
	datum map[int64]*datum.Datum
	locks map[int64]int
}

// New constructs an empty Store using ids for unique-id allocation.
func New(ids *IDAllocator) *Store {
	return &Store{ids: ids, datum: make(map[int64]*datum.Datum), locks: make(map[int64]int)}
}

// Create inserts a new datum. If id == 0 one is minted via the
// allocator; otherwise id must not already be present.
func (s *Store) Create(id int64, typ datum.Type, extra datum.Extras, props datum.Props) (int64, error) {
	if id == 0 {
		id = s.ids.Next()
	} else if _, exists := s.datum[id]; exists {
		return 0, errs.New(errs.Rejected, "datastore: id %d already exists", id)
	}
	s.datum[id] = datum.New(id, typ, extra, props)
	return id, nil
}

func (s *Store) lookup(id int64) (*datum.Datum, error) {
	d, ok := s.datum[id]
	if !ok {
		return nil, errs.New(errs.NotFound, "datastore: id %d not found", id)
	}
	return d, nil
}

// Exists reports whether id (optionally scoped to a subscript) is
// currently present and set, optionally applying a read-refcount
// decrement as part of the check (spec §4.D).
func (s *Store) Exists(id int64, sub string, hasSub bool, decr int64) (bool, error) {
	d, err := s.lookup(id)
	if err != nil {
		return false, err
	}
	var present bool
	if hasSub {
		_, present = d.GetField(sub)
	} else if d.Type.Scalar() {
		_, present = d.GetScalar()
	} else {
		present = true // containers/multisets/structs exist once created
	}
	if decr != 0 {
		if err := d.RefcountIncr(-decr, 0); err != nil {
			return present, err
		}
	}
	return present, nil
}

// StoreValue writes value into id (optionally at subscript sub), succeeding
// only if that slot is currently empty (spec §4.D). On success it
// applies refcDecr to id's refcount, storeRefs to any Ref-typed value's
// referand, emits close notifications for any now-satisfied
// subscribers, and resolves (recursively) any pending container
// references registered against sub.
func (s *Store) StoreValue(id int64, sub string, hasSub bool, typ datum.Type, value []byte, refcDecr, storeRefs int64) (Notifications, error) {
	return s.store(id, sub, hasSub, typ, value, refcDecr, storeRefs)
}

func (s *Store) store(id int64, sub string, hasSub bool, typ datum.Type, value []byte, refcDecr, storeRefs int64) (Notifications, error) {
	var notifs Notifications

	d, err := s.lookup(id)
	if err != nil {
		return notifs, err
	}

	var ok bool
	if hasSub {
		ok = d.SetField(sub, value)
	} else {
		ok = d.SetScalar(value)
	}
	if !ok {
		return notifs, errs.New(errs.Rejected, "datastore: %d%s already set", id, subSuffix(sub, hasSub))
	}

	if refcDecr != 0 {
		if err := d.RefcountIncr(0, -refcDecr); err != nil {
			return notifs, err
		}
	}
	if typ == datum.Ref && storeRefs != 0 && len(value) == 8 {
		refID := int64(binary.BigEndian.Uint64(value))
		if ref, ok := s.datum[refID]; ok {
			if err := ref.RefcountIncr(storeRefs, 0); err == nil {
				// best-effort: a malformed/foreign ref id silently does not
				// propagate refcount, matching "refcount deltas never
				// fail the store that caused them" (spec §7: only the
				// primary operation's own invariants are fatal).
			}
		}
	}

	// notify subscript-scoped subscribers immediately on insertion.
	if hasSub {
		for _, sub := range d.TakeSubscribers(sub, hasSub) {
			notifs.Closes = append(notifs.Closes, CloseNotification{
				Rank: sub.Rank, WorkType: sub.WorkType, ID: id, Subscript: sub.Subscript, HasSub: sub.HasSub,
			})
		}
	}

	// resolve pending container_reference writes waiting on this subscript.
	for _, pr := range d.TakePendingRefs(sub) {
		child, err := s.store(pr.RefID, pr.RefSub, pr.RefSub != "", pr.RefType, value, pr.Decr, pr.TransferRefs)
		if err == nil {
			notifs.merge(child)
		}
	}

	if !hasSub && d.Closed() {
		for _, sub := range d.TakeSubscribers("", false) {
			notifs.Closes = append(notifs.Closes, CloseNotification{
				Rank: sub.Rank, WorkType: sub.WorkType, ID: id,
			})
		}
	}

	return notifs, nil
}

func subSuffix(sub string, hasSub bool) string {
	if !hasSub {
		return ""
	}
	return "[" + sub + "]"
}

// Retrieve copies out id's value (optionally at subscript sub), applying
// refcount deltas atomically with the read.
func (s *Store) Retrieve(id int64, sub string, hasSub bool, decrSelf, incrRef int64) (datum.Type, []byte, error) {
	d, err := s.lookup(id)
	if err != nil {
		return 0, nil, err
	}

	var value []byte
	var set bool
	if hasSub {
		value, set = d.GetField(sub)
	} else {
		value, set = d.GetScalar()
	}
	if !set {
		return 0, nil, errs.New(errs.NotFound, "datastore: %d%s not set", id, subSuffix(sub, hasSub))
	}

	if decrSelf != 0 {
		if err := d.RefcountIncr(-decrSelf, 0); err != nil {
			return 0, nil, err
		}
	}
	if incrRef != 0 && d.Type == datum.Ref && len(value) == 8 {
		refID := int64(binary.BigEndian.Uint64(value))
		if ref, ok := s.datum[refID]; ok {
			_ = ref.RefcountIncr(incrRef, 0)
		}
	}
	return d.Type, value, nil
}

// Subscribe enrolls rank to be notified (as a control-work task of
// workType) when id (optionally scoped to sub) closes. Returns
// subscribed=false immediately if that scope is already closed.
func (s *Store) Subscribe(id int64, sub string, hasSub bool, rank, workType int) (bool, error) {
	d, err := s.lookup(id)
	if err != nil {
		return false, err
	}

	closed := false
	if hasSub {
		closed = d.FieldClosed(sub)
	} else {
		closed = d.Closed()
	}
	if closed {
		return false, nil
	}
	d.AddSubscriber(datum.Subscriber{Rank: rank, WorkType: workType, Subscript: sub, HasSub: hasSub})
	return true, nil
}

// RefcountIncr is the universal refcount operation: reaching zero write
// refs closes the datum (and its whole-datum subscribers); reaching zero
// of both frees it unless permanent.
func (s *Store) RefcountIncr(id int64, dRead, dWrite int64) (Notifications, error) {
	var notifs Notifications
	d, err := s.lookup(id)
	if err != nil {
		return notifs, err
	}
	wasClosed := d.Closed()
	if err := d.RefcountIncr(dRead, dWrite); err != nil {
		return notifs, err
	}
	if !wasClosed && d.Closed() {
		for _, sub := range d.TakeSubscribers("", false) {
			notifs.Closes = append(notifs.Closes, CloseNotification{Rank: sub.Rank, WorkType: sub.WorkType, ID: id})
		}
	}
	if d.Freeable() {
		delete(s.datum, id)
	}
	return notifs, nil
}

// InsertAtomic implements the create-nested-on-demand pattern (spec
// §4.D): if id[sub] is unset, it atomically allocates a fresh nested
// datum (typed per id's Extras.ValueType), stores a reference to it at
// sub, and returns created=true with the new reference as value — the
// building block for "container of containers" structures where a
// worker needs the nested container's id whether or not it was the one
// that created it. If id[sub] is already set, the existing reference is
// returned with alreadyPresent=true, applying acquireRefs (if non-zero)
// to the referenced nested datum.
func (s *Store) InsertAtomic(id int64, sub string, acquireRefs int64) (created, alreadyPresent bool, value []byte, err error) {
	d, lookupErr := s.lookup(id)
	if lookupErr != nil {
		return false, false, nil, lookupErr
	}

	existing, set := d.GetField(sub)
	if !set {
		nestedID := s.ids.Next()
		nested := datum.New(nestedID, d.Extra.ValueType, datum.Extras{}, datum.Props{})
		s.datum[nestedID] = nested

		ref := make([]byte, 8)
		binary.BigEndian.PutUint64(ref, uint64(nestedID))
		d.SetField(sub, ref)
		return true, false, ref, nil
	}

	if acquireRefs != 0 && len(existing) == 8 {
		refID := int64(binary.BigEndian.Uint64(existing))
		if nested, ok := s.datum[refID]; ok {
			if err := nested.RefcountIncr(acquireRefs, 0); err != nil {
				return false, true, nil, err
			}
		}
	}
	return false, true, existing, nil
}

// ContainerReference implements spec §4.D's cross-datum write: if
// cid[sub] already has a value, it is stored (transferring transferRefs
// and applying decr) into (refID, refSub) immediately; otherwise the
// request is recorded as pending, to be resolved the next time cid[sub]
// is set.
func (s *Store) ContainerReference(cid int64, sub string, refID int64, refSub string, refType datum.Type, transferRefs, decr int64) (Notifications, error) {
	var notifs Notifications
	d, err := s.lookup(cid)
	if err != nil {
		return notifs, err
	}

	value, set := d.GetField(sub)
	if !set {
		d.AddPendingRef(sub, refID, refSub, refType, transferRefs, decr)
		return notifs, nil
	}
	return s.store(refID, refSub, refSub != "", refType, value, decr, transferRefs)
}

// ContainerSize reports how many subscripts of cid are currently set.
func (s *Store) ContainerSize(cid int64) (int, error) {
	d, err := s.lookup(cid)
	if err != nil {
		return 0, err
	}
	n := 0
	// container size is the number of set subscripts in the datum's field
	// map; values appended via AppendMultiset are not counted.
	for range enumerateFields(d) {
		n++
	}
	return n, nil
}

// enumerateFields is a small seam so ContainerSize/Enumerate can walk a
// container's set subscripts without datum exposing its internal map
// directly; see datum.Datum's EnumerateFields helper.
func enumerateFields(d *datum.Datum) map[string][]byte {
	return d.EnumerateFields()
}

// TypeOf reports the declared Type of id.
func (s *Store) TypeOf(id int64) (datum.Type, error) {
	d, err := s.lookup(id)
	if err != nil {
		return 0, err
	}
	return d.Type, nil
}

// Enumerate returns every set subscript of cid (container, multiset or
// struct), for the ENUMERATE RPC.
func (s *Store) Enumerate(cid int64) ([]string, error) {
	d, err := s.lookup(cid)
	if err != nil {
		return nil, err
	}
	fields := enumerateFields(d)
	out := make([]string, 0, len(fields))
	for k := range fields {
		out = append(out, k)
	}
	return out, nil
}

// Lock grants rank exclusive ownership of id, for the client-driven
// read-modify-write pattern the LOCK/UNLOCK RPCs exist for (spec §5
// handler list). Reports acquired=false if id is already locked by a
// different rank.
func (s *Store) Lock(id int64, rank int) (acquired bool, err error) {
	if _, err := s.lookup(id); err != nil {
		return false, err
	}
	if owner, locked := s.locks[id]; locked {
		return owner == rank, nil
	}
	s.locks[id] = rank
	return true, nil
}

// Unlock releases id if rank currently holds it; unlocking an id not
// held by rank is a no-op.
func (s *Store) Unlock(id int64, rank int) error {
	if owner, locked := s.locks[id]; locked && owner == rank {
		delete(s.locks, id)
	}
	return nil
}

// Package datum defines the typed data item model from spec §3: the sum
// type of scalar, container, multiset, and struct values, plus the
// refcount pair and subscriber set every datum carries.
//
// Per spec §9's re-architecture guidance ("tagged union of datum values:
// model as a sum type parameterized over the element storage"),
// container values are held by value in a map and multiset values in a
// slice, not by pointer, so a refcount reaching zero frees the whole subtree when the
// owning Datum is garbage collected.
package datum

import "fmt"

// Type enumerates the datum value kinds (spec §3).
type Type int

const (
	Integer Type = iota
	Float
	String
	Blob
	Ref
	Container
	Multiset
	Struct
)

func (t Type) String() string {
	switch t {
	case Integer:
		return "integer"
	case Float:
		return "float"
	case String:
		return "string"
	case Blob:
		return "blob"
	case Ref:
		return "ref"
	case Container:
		return "container"
	case Multiset:
		return "multiset"
	case Struct:
		return "struct"
	default:
		return "unknown"
	}
}

func (t Type) Scalar() bool {
	return t == Integer || t == Float || t == String || t == Blob || t == Ref
}

// Props are creation-time flags (spec §3).
type Props struct {
	Permanent bool // never freed, even at zero refcount
	Symbol    bool // debug-only marker
	Placement string
}

// Extras carries type-specific creation parameters: container/multiset
// element types, or the struct-type id for Struct datums.
type Extras struct {
	KeyType   Type // Container only
	ValueType Type // Container and Multiset
	StructID  int  // Struct only: a globally-registered struct-type id
}

// Subscriber identifies one (rank[, subscript]) waiting on a close
// notification (spec §3). A zero-value Subscript (empty string, HasSub
// false) means "whole datum".
type Subscriber struct {
	Rank      int
	WorkType  int
	Subscript string
	HasSub    bool
}

// Datum is one addressable piece of shared data.
type Datum struct {
	ID    int64
	Type  Type
	Extra Extras
	Props Props

	// scalar value, set once; nil/zero-length until set. Ignored for
	// Container/Multiset/Struct.
	scalar []byte
	scalarSet bool

	// container: subscript (opaque bytes, keyed by string) -> value.
	// struct: subscript ("."-separated field-index path) -> value.
	// multiset: insertion-order list of values sharing no subscript.
	fields   map[string][]byte
	multiset [][]byte

	ReadRefs  int64
	WriteRefs int64

	Subscribers []Subscriber

	// pendingRefs holds container_reference requests received before the
	// target subscript existed (spec §4.D container_reference).
	pendingRefs map[string][]pendingRef
}

type pendingRef struct {
	refID       int64
	refSub      string
	refType     Type
	transferRefs int64
	decr        int64
}

// New constructs a Datum of the given type with refcounts initialized to
// 1 read-ref and 1 write-ref (the conventional "the creator holds one of
// each" starting point; callers may adjust via RefcountIncr immediately
// after creation, as the original ADLB create() path does).
func New(id int64, typ Type, extra Extras, props Props) *Datum {
	d := &Datum{
		ID:        id,
		Type:      typ,
		Extra:     extra,
		Props:     props,
		ReadRefs:  1,
		WriteRefs: 1,
	}
	if typ == Container || typ == Struct {
		d.fields = make(map[string][]byte)
	}
	return d
}

// Closed reports whether the datum's write refcount has reached zero.
func (d *Datum) Closed() bool { return d.WriteRefs <= 0 }

// Freeable reports whether the datum may be garbage collected: both
// refcounts are zero and it is not permanent.
func (d *Datum) Freeable() bool {
	return !d.Props.Permanent && d.ReadRefs <= 0 && d.WriteRefs <= 0
}

// GetScalar returns the scalar value, if set.
func (d *Datum) GetScalar() (value []byte, set bool) {
	return d.scalar, d.scalarSet
}

// SetScalar sets the scalar value. Returns false (no-op) if already set —
// the set-once invariant (spec §3, Testable Property 1).
func (d *Datum) SetScalar(value []byte) bool {
	if d.scalarSet {
		return false
	}
	d.scalar = value
	d.scalarSet = true
	return true
}

// GetField returns the value stored at subscript sub, for Container or
// Struct datums.
func (d *Datum) GetField(sub string) (value []byte, set bool) {
	v, ok := d.fields[sub]
	return v, ok
}

// SetField sets the value at subscript sub. Returns false if already set.
func (d *Datum) SetField(sub string, value []byte) bool {
	if d.fields == nil {
		d.fields = make(map[string][]byte)
	}
	if _, exists := d.fields[sub]; exists {
		return false
	}
	d.fields[sub] = value
	return true
}

// FieldClosed reports whether subscript sub has been set. For container
// and struct datums a subscript's own "closed" state is simply whether it
// has been written (spec §3: "a closed notification may be scoped to ...
// a single subscript").
func (d *Datum) FieldClosed(sub string) bool {
	_, ok := d.fields[sub]
	return ok
}

// EnumerateFields returns the subscript->value map for a Container or
// Struct datum, for callers (internal/datastore's container_size and
// enumerate) that need to walk every set subscript. The returned map
// must not be mutated.
func (d *Datum) EnumerateFields() map[string][]byte {
	return d.fields
}

// AppendMultiset appends a value to a Multiset datum.
func (d *Datum) AppendMultiset(value []byte) {
	d.multiset = append(d.multiset, value)
}

// MultisetValues returns the accumulated multiset values.
func (d *Datum) MultisetValues() [][]byte { return d.multiset }

// AddPendingRef records a container_reference request against a
// subscript that does not yet exist (spec §4.D).
func (d *Datum) AddPendingRef(sub string, refID int64, refSub string, refType Type, transferRefs, decr int64) {
	if d.pendingRefs == nil {
		d.pendingRefs = make(map[string][]pendingRef)
	}
	d.pendingRefs[sub] = append(d.pendingRefs[sub], pendingRef{
		refID: refID, refSub: refSub, refType: refType, transferRefs: transferRefs, decr: decr,
	})
}

// PendingRef is a resolved container_reference awaiting its target
// subscript's value.
type PendingRef struct {
	RefID        int64
	RefSub       string
	RefType      Type
	TransferRefs int64
	Decr         int64
}

// TakePendingRefs removes and returns any pending references registered
// against sub, for resolution once sub is set.
func (d *Datum) TakePendingRefs(sub string) []PendingRef {
	prs := d.pendingRefs[sub]
	if len(prs) == 0 {
		return nil
	}
	delete(d.pendingRefs, sub)
	out := make([]PendingRef, len(prs))
	for i, pr := range prs {
		out[i] = PendingRef{RefID: pr.refID, RefSub: pr.refSub, RefType: pr.refType, TransferRefs: pr.transferRefs, Decr: pr.decr}
	}
	return out
}

// AddSubscriber enrolls a subscriber. Callers must have already checked
// that the relevant scope (whole datum or subscript) is not yet closed —
// Datum itself does not decide "already closed, return false" (that is
// datastore.Subscribe's job).
func (d *Datum) AddSubscriber(s Subscriber) {
	d.Subscribers = append(d.Subscribers, s)
}

// TakeSubscribers removes and returns subscribers matching the given
// scope: if sub == "" and !hasSub, whole-datum subscribers; otherwise
// subscribers registered for that specific subscript.
func (d *Datum) TakeSubscribers(sub string, hasSub bool) []Subscriber {
	var matched, remaining []Subscriber
	for _, s := range d.Subscribers {
		if s.HasSub == hasSub && s.Subscript == sub {
			matched = append(matched, s)
		} else {
			remaining = append(remaining, s)
		}
	}
	d.Subscribers = remaining
	return matched
}

// RefcountIncr applies deltas to the read/write refcounts, validating
// that neither goes negative (spec §3 invariant, Testable Property 5).
func (d *Datum) RefcountIncr(dRead, dWrite int64) error {
	newRead := d.ReadRefs + dRead
	newWrite := d.WriteRefs + dWrite
	if newRead < 0 || newWrite < 0 {
		return fmt.Errorf("datum %d: refcount would go negative (read %d+%d, write %d+%d)",
			d.ID, d.ReadRefs, dRead, d.WriteRefs, dWrite)
	}
	d.ReadRefs = newRead
	d.WriteRefs = newWrite
	return nil
}

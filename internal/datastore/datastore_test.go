package datastore

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mtcrun/mtce/internal/datum"
	"github.com/mtcrun/mtce/internal/errs"
)

func newStore() *Store {
	return New(NewIDAllocator(0, 1))
}

func TestCreate_AssignsID(t *testing.T) {
	s := newStore()
	id, err := s.Create(0, datum.Integer, datum.Extras{}, datum.Props{})
	require.NoError(t, err)
	require.NotZero(t, id)
}

func TestCreate_DuplicateRejected(t *testing.T) {
	s := newStore()
	_, err := s.Create(5, datum.Integer, datum.Extras{}, datum.Props{})
	require.NoError(t, err)
	_, err = s.Create(5, datum.Integer, datum.Extras{}, datum.Props{})
	require.True(t, errs.Is(err, errs.Rejected))
}

func TestStoreRetrieve_Scalar(t *testing.T) {
	s := newStore()
	id, _ := s.Create(0, datum.Integer, datum.Extras{}, datum.Props{})

	_, err := s.StoreValue(id, "", false, datum.Integer, []byte("42"), 1, 0)
	require.NoError(t, err)

	typ, val, err := s.Retrieve(id, "", false, 0, 0)
	require.NoError(t, err)
	require.Equal(t, datum.Integer, typ)
	require.Equal(t, "42", string(val))
}

func TestStore_DoubleWriteRejected(t *testing.T) {
	s := newStore()
	id, _ := s.Create(0, datum.Integer, datum.Extras{}, datum.Props{})
	_, err := s.StoreValue(id, "", false, datum.Integer, []byte("1"), 0, 0)
	require.NoError(t, err)

	_, err = s.StoreValue(id, "", false, datum.Integer, []byte("2"), 0, 0)
	require.True(t, errs.Is(err, errs.Rejected))
}

func TestStore_ClosesAndNotifiesWholeDatumSubscribers(t *testing.T) {
	s := newStore()
	id, _ := s.Create(0, datum.Integer, datum.Extras{}, datum.Props{})

	subscribed, err := s.Subscribe(id, "", false, 9, 3)
	require.NoError(t, err)
	require.True(t, subscribed)

	notifs, err := s.StoreValue(id, "", false, datum.Integer, []byte("7"), 1, 0)
	require.NoError(t, err)
	require.Len(t, notifs.Closes, 1)
	require.Equal(t, 9, notifs.Closes[0].Rank)
	require.Equal(t, 3, notifs.Closes[0].WorkType)
}

func TestSubscribe_AlreadyClosedReturnsFalse(t *testing.T) {
	s := newStore()
	id, _ := s.Create(0, datum.Integer, datum.Extras{}, datum.Props{})
	_, err := s.StoreValue(id, "", false, datum.Integer, []byte("1"), 1, 0)
	require.NoError(t, err)

	subscribed, err := s.Subscribe(id, "", false, 1, 1)
	require.NoError(t, err)
	require.False(t, subscribed)
}

func TestRefcountIncr_ClosesOnZeroWrite(t *testing.T) {
	s := newStore()
	id, _ := s.Create(0, datum.Integer, datum.Extras{}, datum.Props{})
	_, err := s.Subscribe(id, "", false, 2, 1)
	require.NoError(t, err)

	notifs, err := s.RefcountIncr(id, 0, -1)
	require.NoError(t, err)
	require.Len(t, notifs.Closes, 1)
}

func TestRefcountIncr_FreesAtZeroBoth(t *testing.T) {
	s := newStore()
	id, _ := s.Create(0, datum.Integer, datum.Extras{}, datum.Props{})
	_, err := s.RefcountIncr(id, -1, -1)
	require.NoError(t, err)

	_, _, err = s.Retrieve(id, "", false, 0, 0)
	require.True(t, errs.Is(err, errs.NotFound))
}

func TestContainerReference_ImmediateWhenSubscriptSet(t *testing.T) {
	s := newStore()
	cid, _ := s.Create(0, datum.Container, datum.Extras{ValueType: datum.Integer}, datum.Props{})
	rid, _ := s.Create(0, datum.Integer, datum.Extras{}, datum.Props{})

	_, err := s.StoreValue(cid, "k", true, datum.Integer, []byte("v"), 0, 0)
	require.NoError(t, err)

	_, err = s.ContainerReference(cid, "k", rid, "", datum.Integer, 0, 1)
	require.NoError(t, err)

	_, val, err := s.Retrieve(rid, "", false, 0, 0)
	require.NoError(t, err)
	require.Equal(t, "v", string(val))
}

func TestContainerReference_PendingUntilSubscriptSet(t *testing.T) {
	s := newStore()
	cid, _ := s.Create(0, datum.Container, datum.Extras{ValueType: datum.Integer}, datum.Props{})
	rid, _ := s.Create(0, datum.Integer, datum.Extras{}, datum.Props{})

	_, err := s.ContainerReference(cid, "k", rid, "", datum.Integer, 0, 1)
	require.NoError(t, err)

	_, _, err = s.Retrieve(rid, "", false, 0, 0)
	require.True(t, errs.Is(err, errs.NotFound))

	_, err = s.StoreValue(cid, "k", true, datum.Integer, []byte("late"), 0, 0)
	require.NoError(t, err)

	_, val, err := s.Retrieve(rid, "", false, 0, 0)
	require.NoError(t, err)
	require.Equal(t, "late", string(val))
}

func TestInsertAtomic_CreatesNestedOnFirstAccess(t *testing.T) {
	s := newStore()
	cid, _ := s.Create(0, datum.Container, datum.Extras{ValueType: datum.Container}, datum.Props{})

	created, already, ref1, err := s.InsertAtomic(cid, "k", 0)
	require.NoError(t, err)
	require.True(t, created)
	require.False(t, already)
	require.Len(t, ref1, 8)

	created, already, ref2, err := s.InsertAtomic(cid, "k", 1)
	require.NoError(t, err)
	require.False(t, created)
	require.True(t, already)
	require.Equal(t, ref1, ref2) // same nested datum on repeated access
}

func TestContainerSize(t *testing.T) {
	s := newStore()
	cid, _ := s.Create(0, datum.Container, datum.Extras{ValueType: datum.Integer}, datum.Props{})
	_, _ = s.StoreValue(cid, "a", true, datum.Integer, []byte("1"), 0, 0)
	_, _ = s.StoreValue(cid, "b", true, datum.Integer, []byte("2"), 0, 0)

	n, err := s.ContainerSize(cid)
	require.NoError(t, err)
	require.Equal(t, 2, n)
}

func TestIDAllocator_LowBitsMatchServer(t *testing.T) {
	a := NewIDAllocator(2, 4)
	for i := 0; i < 5; i++ {
		id := a.Next()
		require.Equal(t, int64(2), id%4)
	}
}

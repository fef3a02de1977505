package datum

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetScalar_OnceOnly(t *testing.T) {
	d := New(1, Integer, Extras{}, Props{})
	require.True(t, d.SetScalar([]byte("1")))
	require.False(t, d.SetScalar([]byte("2")))
	v, set := d.GetScalar()
	require.True(t, set)
	require.Equal(t, "1", string(v))
}

func TestSetField_OnceOnly(t *testing.T) {
	d := New(1, Container, Extras{KeyType: String, ValueType: Integer}, Props{})
	require.True(t, d.SetField("k1", []byte("1")))
	require.False(t, d.SetField("k1", []byte("2")))
	require.True(t, d.FieldClosed("k1"))
	require.False(t, d.FieldClosed("k2"))
}

func TestRefcountIncr_RejectsNegative(t *testing.T) {
	d := New(1, Integer, Extras{}, Props{})
	require.Error(t, d.RefcountIncr(-2, 0))
	require.NoError(t, d.RefcountIncr(-1, -1))
	require.True(t, d.Closed())
	require.True(t, d.Freeable())
}

func TestFreeable_PermanentNeverFrees(t *testing.T) {
	d := New(1, Integer, Extras{}, Props{Permanent: true})
	require.NoError(t, d.RefcountIncr(-1, -1))
	require.True(t, d.Closed())
	require.False(t, d.Freeable())
}

func TestSubscribers_TakeByScope(t *testing.T) {
	d := New(1, Container, Extras{}, Props{})
	d.AddSubscriber(Subscriber{Rank: 1, WorkType: 0})
	d.AddSubscriber(Subscriber{Rank: 2, WorkType: 0, Subscript: "k", HasSub: true})

	whole := d.TakeSubscribers("", false)
	require.Len(t, whole, 1)
	require.Equal(t, 1, whole[0].Rank)

	scoped := d.TakeSubscribers("k", true)
	require.Len(t, scoped, 1)
	require.Equal(t, 2, scoped[0].Rank)

	require.Empty(t, d.Subscribers)
}

func TestPendingRefs_TakeBySubscript(t *testing.T) {
	d := New(1, Container, Extras{}, Props{})
	d.AddPendingRef("k", 42, "sub", Integer, 1, 0)

	require.Empty(t, d.TakePendingRefs("other"))
	prs := d.TakePendingRefs("k")
	require.Len(t, prs, 1)
	require.Equal(t, int64(42), prs[0].RefID)
	require.Empty(t, d.TakePendingRefs("k")) // consumed
}

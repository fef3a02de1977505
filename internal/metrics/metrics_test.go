package metrics

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistry_Disabled_NoOp(t *testing.T) {
	r := New(false)
	r.Enqueued(1)
	r.Dispatched(1)
	require.Empty(t, r.Snapshots())
}

func TestRegistry_CountsPerType(t *testing.T) {
	r := New(true)
	r.Enqueued(2)
	r.Enqueued(2)
	r.Dispatched(2)
	r.Stolen(1)
	r.Bypassed(1)

	snaps := r.Snapshots()
	require.Len(t, snaps, 2)
	require.Equal(t, 1, snaps[0].Type)
	require.Equal(t, int64(1), snaps[0].Stolen)
	require.Equal(t, int64(1), snaps[0].Bypassed)
	require.Equal(t, 2, snaps[1].Type)
	require.Equal(t, int64(2), snaps[1].Enqueued)
	require.Equal(t, int64(1), snaps[1].Dispatched)
}

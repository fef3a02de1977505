package layout

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLocate_NegativeWrap(t *testing.T) {
	l, err := New(4, 3) // workers=4, servers=3 -> server ranks 4,5,6
	require.NoError(t, err)

	require.Equal(t, 6, l.Locate(-1))
	require.Equal(t, 4, l.Locate(-3))
	require.Equal(t, 4, l.Locate(0))
	require.Equal(t, 5, l.Locate(1))
}

func TestHome(t *testing.T) {
	l, err := New(4, 2)
	require.NoError(t, err)

	require.Equal(t, 4, l.Home(0))
	require.Equal(t, 5, l.Home(1))
	require.Equal(t, 4, l.Home(2))
	require.Equal(t, 5, l.Home(3))
}

func TestHostmap_SameHost(t *testing.T) {
	hm := NewHostmap(map[int]string{0: "nodeA", 1: "nodeA", 2: "nodeB"})
	require.True(t, hm.SameHost(0, 1))
	require.False(t, hm.SameHost(0, 2))
	require.ElementsMatch(t, []int{0, 1}, hm.RanksOnHost(0))
}

func TestHostmap_Nil(t *testing.T) {
	var hm *Hostmap
	require.Equal(t, "", hm.HostOf(3))
	require.Equal(t, []int{3}, hm.RanksOnHost(3))
}

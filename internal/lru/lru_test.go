package lru

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCache_EvictsLRU(t *testing.T) {
	c := New[int](2)
	c.Add(1)
	c.Add(2)
	require.True(t, c.Contains(1)) // refresh 1, now 2 is least-recent
	c.Add(3)                       // evicts 2

	require.True(t, c.Contains(1))
	require.False(t, c.Contains(2))
	require.True(t, c.Contains(3))
	require.Equal(t, 2, c.Len())
}

func TestCache_ZeroCapacityDisabled(t *testing.T) {
	c := New[int](0)
	c.Add(1)
	require.False(t, c.Contains(1))
	require.Equal(t, 0, c.Len())
}

func TestCache_Remove(t *testing.T) {
	c := New[string](4)
	c.Add("a")
	c.Add("b")
	c.Remove("a")
	require.False(t, c.Contains("a"))
	require.True(t, c.Contains("b"))
}

package logging

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNew_DoesNotPanic(t *testing.T) {
	l := New(Options{Debug: true, Rank: 3, Out: os.Stderr})
	require.NotNil(t, l)

	child := WithRank(l, 3)
	require.NotNil(t, child)
	child.Info().Str("event", "startup").Log("server starting")
}

func TestNew_DebugRanksSampling(t *testing.T) {
	l := New(Options{Debug: true, Rank: 5, DebugRanks: map[int]bool{1: true}, Out: os.Stderr})
	require.NotNil(t, l)
}

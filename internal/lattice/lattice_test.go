package lattice

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapAround(t *testing.T) {
	l := New(32, 32, 32, 4)
	require.NoError(t, l.Insert(1, 0, 0, 0))
	require.NoError(t, l.Insert(2, 32, 0, 0))
	assert.Equal(t, 2, l.Occupancy(0, 0, 0))
	assert.ElementsMatch(t, []uint32{1, 2}, l.IterateVoxel(0, 0, 0))
}

func TestVoxelCapacity(t *testing.T) {
	l := New(4, 4, 4, 4)
	for i := uint32(0); i < 4; i++ {
		require.NoError(t, l.Insert(i, 1, 1, 1))
	}
	err := l.Insert(99, 1, 1, 1)
	assert.ErrorIs(t, err, ErrFullVoxel)
}

func TestRemovePreservesOrder(t *testing.T) {
	l := New(4, 4, 4, 4)
	for i := uint32(0); i < 3; i++ {
		require.NoError(t, l.Insert(i, 0, 0, 0))
	}
	require.NoError(t, l.Remove(1, 0, 0, 0))
	assert.Equal(t, []uint32{0, 2}, l.IterateVoxel(0, 0, 0))
}

func TestRemoveNotFound(t *testing.T) {
	l := New(4, 4, 4, 4)
	err := l.Remove(7, 0, 0, 0)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestConservationInvariant(t *testing.T) {
	l := New(8, 8, 8, 4)
	for i := uint32(0); i < 10; i++ {
		require.NoError(t, l.Insert(i, int(i), 0, 0))
	}
	assert.Equal(t, 10, l.Total())
	require.NoError(t, l.Remove(3, 3, 0, 0))
	assert.Equal(t, 9, l.Total())
}

func TestNegativeWrap(t *testing.T) {
	assert.Equal(t, 31, Wrap(-1, 32))
	assert.Equal(t, 0, Wrap(32, 32))
	assert.Equal(t, 5, Wrap(5, 32))
}

func TestNodeIDRoundTrip(t *testing.T) {
	l := New(8, 8, 8, 4)
	id := l.NodeID(3, 5, 7)
	x, y, z := l.DecodeNode(id)
	assert.Equal(t, 3, x)
	assert.Equal(t, 5, y)
	assert.Equal(t, 7, z)
}

func TestNodeIDWrapsCoordinatesFirst(t *testing.T) {
	l := New(8, 8, 8, 4)
	assert.Equal(t, l.NodeID(0, 0, 0), l.NodeID(8, 8, 8))
	assert.Equal(t, l.NodeID(7, 0, 0), l.NodeID(-1, 0, 0))
}

func TestNeighborsAreSixDistinctWrappedNodes(t *testing.T) {
	l := New(8, 8, 8, 4)
	neighbors := l.Neighbors(0, 0, 0)
	assert.Len(t, neighbors, 6)
	seen := make(map[uint64]bool)
	for _, n := range neighbors {
		seen[n] = true
	}
	assert.Len(t, seen, 6)
	assert.Contains(t, neighbors, l.NodeID(7, 0, 0))
}

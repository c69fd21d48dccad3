package events

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalOrdering(t *testing.T) {
	q := NewQueue()
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 500; i++ {
		e := Event{
			Timestamp: uint64(rng.Intn(20)),
			Dst:       uint64(rng.Intn(10)),
			Src:       uint64(rng.Intn(10)),
			Payload:   int64(i),
		}
		require.NoError(t, q.Push(e))
	}

	var prev Event
	first := true
	for {
		e, ok := q.Pop()
		if !ok {
			break
		}
		if !first {
			assert.False(t, e.Less(prev), "popped event must not be less than previous")
		}
		prev = e
		first = false
	}
}

func TestQueueFullDoesNotReorder(t *testing.T) {
	q := NewQueue()
	for i := 0; i < Capacity; i++ {
		require.NoError(t, q.Push(Event{Timestamp: uint64(Capacity - i)}))
	}
	err := q.Push(Event{Timestamp: 0})
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.Equal(t, Capacity, q.Len())

	top, ok := q.Peek()
	require.True(t, ok)
	assert.Equal(t, uint64(1), top.Timestamp)
}

func TestEdgeMapCapacityBoundary(t *testing.T) {
	d := NewDelayMap()
	for i := 0; i < EdgeCapacity; i++ {
		err := d.CreateEdge(EdgeKey{From: uint64(i), To: uint64(i) + 1}, 1)
		require.NoError(t, err)
	}
	err := d.CreateEdge(EdgeKey{From: 999999, To: 1000000}, 1)
	assert.ErrorIs(t, err, ErrEdgeMapFull)
	assert.Equal(t, EdgeCapacity, d.Len())
}

func TestDelayUpdatePolicy(t *testing.T) {
	d := NewDelayMap()
	k := EdgeKey{From: 1, To: 2}
	require.NoError(t, d.CreateEdge(k, 5))

	v, ok := d.Traverse(k, true)
	require.True(t, ok)
	assert.Equal(t, uint32(4), v)

	for i := 0; i < 10; i++ {
		v, _ = d.Traverse(k, true)
	}
	assert.Equal(t, uint32(1), v, "active traversal clamps floor at 1")

	v, _ = d.Traverse(k, false)
	assert.Equal(t, uint32(2), v, "inactive traversal increments with no upper clamp")
}

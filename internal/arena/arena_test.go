package arena

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireReleaseRoundTrip(t *testing.T) {
	p := New[int](4)
	idxs := make([]int, 0, 4)
	for i := 0; i < 4; i++ {
		idx, err := p.Acquire()
		require.NoError(t, err)
		*p.At(idx) = i * 10
		idxs = append(idxs, idx)
	}

	_, err := p.Acquire()
	assert.ErrorIs(t, err, ErrFull)

	for i, idx := range idxs {
		assert.Equal(t, i*10, *p.At(idx))
	}

	p.Release(idxs[1])
	assert.Equal(t, 3, p.Len())

	idx, err := p.Acquire()
	require.NoError(t, err)
	assert.Equal(t, 4, p.Len())
	_ = idx
}

func TestReleaseTwiceTwicePanics(t *testing.T) {
	p := New[int](2)
	idx, err := p.Acquire()
	require.NoError(t, err)
	p.Release(idx)
	assert.Panics(t, func() { p.Release(idx) })
}

func TestResetIsInPlaceAndBounded(t *testing.T) {
	p := New[int](8)
	for i := 0; i < 8; i++ {
		_, err := p.Acquire()
		require.NoError(t, err)
	}
	assert.Equal(t, 8, p.Len())
	p.Reset()
	assert.Equal(t, 0, p.Len())
	assert.Equal(t, 8, p.Capacity())
	for i := 0; i < 8; i++ {
		_, err := p.Acquire()
		require.NoError(t, err)
	}
	assert.Equal(t, 8, p.Len())
}

func TestAtOnReleasedSlotPanics(t *testing.T) {
	p := New[int](1)
	idx, err := p.Acquire()
	require.NoError(t, err)
	p.Release(idx)
	assert.Panics(t, func() { p.At(idx) })
}

package vmem

import (
	"testing"

	"github.com/justanotherdot-student/toriskernel/internal/proc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateUserRangeRejectsUnmapped(t *testing.T) {
	m := NewManager(64, 4)
	h, err := m.NewPageTable()
	require.NoError(t, err)

	errno := m.ValidateUserRange(h, 0x1000, 16, false)
	assert.Equal(t, proc.FAULT, errno)

	require.NoError(t, m.MapPage(h, 0x1000, Writable|User))
	errno = m.ValidateUserRange(h, 0x1000, 16, false)
	assert.Equal(t, proc.OK, errno)
}

func TestValidateUserRangeRejectsWriteToReadOnly(t *testing.T) {
	m := NewManager(64, 4)
	h, err := m.NewPageTable()
	require.NoError(t, err)
	require.NoError(t, m.MapPage(h, 0x2000, User))

	errno := m.ValidateUserRange(h, 0x2000, 8, true)
	assert.Equal(t, proc.FAULT, errno)
}

func TestCopyToFromUserRoundTrip(t *testing.T) {
	m := NewManager(64, 4)
	h, err := m.NewPageTable()
	require.NoError(t, err)
	require.NoError(t, m.MapPage(h, 0x3000, Writable|User))

	want := []byte("hello, toroidal kernel")
	errno := m.CopyToUser(h, 0x3000, want)
	require.Equal(t, proc.OK, errno)

	got := make([]byte, len(want))
	errno = m.CopyFromUser(h, 0x3000, got)
	require.Equal(t, proc.OK, errno)
	assert.Equal(t, want, got)
}

func TestCopyFailsAtomicallyOnPartialFault(t *testing.T) {
	m := NewManager(64, 4)
	h, err := m.NewPageTable()
	require.NoError(t, err)
	require.NoError(t, m.MapPage(h, 0, Writable|User))
	// second page of the range is never mapped.
	errno := m.CopyToUser(h, PageSize-4, make([]byte, 16))
	assert.Equal(t, proc.FAULT, errno)
}

func TestBrkGrowsAndShrinks(t *testing.T) {
	m := NewManager(64, 4)
	h, err := m.NewPageTable()
	require.NoError(t, err)
	ranges := proc.MemRanges{HeapStart: 0x10000, Brk: 0x10000}

	nb, errno := m.Brk(h, &ranges, 0x10000+PageSize*2)
	require.Equal(t, proc.OK, errno)
	assert.Equal(t, uint64(0x10000+PageSize*2), nb)

	nb, errno = m.Brk(h, &ranges, 0x10000)
	require.Equal(t, proc.OK, errno)
	assert.Equal(t, uint64(0x10000), nb)
}

func TestMmapAutoSelectsRegion(t *testing.T) {
	m := NewManager(64, 4)
	h, err := m.NewPageTable()
	require.NoError(t, err)
	cursor := uint64(0x40000)

	base, errno := m.Mmap(h, 0, PageSize*3, Writable, &cursor)
	require.Equal(t, proc.OK, errno)
	assert.Equal(t, uint64(0x40000), base)
	assert.Equal(t, uint64(0x40000+PageSize*3), cursor)
}

func TestFrameAllocatorExhaustion(t *testing.T) {
	m := NewManager(2, 4)
	h, err := m.NewPageTable()
	require.NoError(t, err)
	require.NoError(t, m.MapPage(h, 0, Writable))
	require.NoError(t, m.MapPage(h, PageSize, Writable))
	err2 := m.MapPage(h, PageSize*2, Writable)
	assert.ErrorIs(t, err2, ErrOutOfFrames)
}

package vfs

import (
	"testing"

	"github.com/justanotherdot-student/toriskernel/internal/blockdev"
	"github.com/justanotherdot-student/toriskernel/internal/device"
	"github.com/justanotherdot-student/toriskernel/internal/proc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustMountBlockFS(t *testing.T) *BlockFS {
	t.Helper()
	store := blockdev.New(512, 20000)
	b := NewBlockFS(store)
	require.True(t, b.Mount())
	return b
}

func TestBlockFSWriteReadRoundTripUnaligned(t *testing.T) {
	b := mustMountBlockFS(t)
	entry, ok := b.Open("alpha", true)
	require.True(t, ok)

	payload := make([]byte, 1000)
	for i := range payload {
		payload[i] = byte(i % 251)
	}
	n, err := b.Write(entry, 37, payload)
	require.NoError(t, err)
	assert.Equal(t, len(payload), n)

	out := make([]byte, len(payload))
	n, err = b.Read(entry, 37, out)
	require.NoError(t, err)
	assert.Equal(t, len(payload), n)
	assert.Equal(t, payload, out)
}

func TestBlockFSPersistsAcrossRemount(t *testing.T) {
	store := blockdev.New(512, 20000)
	b1 := NewBlockFS(store)
	require.True(t, b1.Mount())
	entry, ok := b1.Open("beta", true)
	require.True(t, ok)
	_, err := b1.Write(entry, 0, []byte("hello persist"))
	require.NoError(t, err)

	b2 := NewBlockFS(store)
	require.True(t, b2.Mount())
	got, ok := b2.Open("beta", false)
	require.True(t, ok)
	buf := make([]byte, len("hello persist"))
	_, err = b2.Read(got, 0, buf)
	require.NoError(t, err)
	assert.Equal(t, "hello persist", string(buf))
}

func TestBlockFSRemoveDoesNotZeroBytes(t *testing.T) {
	b := mustMountBlockFS(t)
	entry, ok := b.Open("gamma", true)
	require.True(t, ok)
	_, err := b.Write(entry, 0, []byte("secret"))
	require.NoError(t, err)
	assert.True(t, b.Remove("gamma"))

	_, found := b.Open("gamma", false)
	assert.False(t, found)

	raw := make([]byte, b.blockSize)
	require.NoError(t, b.store.ReadBlocks(b.dataStartLBA+uint64(entry.SlotIndex)*uint64(b.slotBlocks), raw, 1))
	assert.Equal(t, "secret", string(raw[:6]))
}

func TestMemFSCreateWriteReadTruncate(t *testing.T) {
	m := NewMemFS()
	f, ok := m.Create("/foo")
	require.True(t, ok)
	n := f.Write(0, []byte("data"))
	assert.Equal(t, 4, n)

	buf := make([]byte, 4)
	n = f.Read(0, buf)
	assert.Equal(t, 4, n)
	assert.Equal(t, "data", string(buf))

	f.Truncate()
	assert.EqualValues(t, 0, f.Size)
}

func TestMemFSCapacityBound(t *testing.T) {
	m := NewMemFS()
	for i := 0; i < MaxMemFiles; i++ {
		_, ok := m.Create("f")
		require.True(t, ok)
	}
	_, ok := m.Create("overflow")
	assert.False(t, ok)
}

func TestNamespaceRoutesDeviceMemAndPersist(t *testing.T) {
	mem := NewMemFS()
	block := mustMountBlockFS(t)
	devs := device.NewTable((&device.Console{}).Ops())
	ns := NewNamespace(mem, block, devs)

	p := proc.NewProcess(1, 0, 0)

	fd, errno := ns.Open(p, "/scratch", OCREAT|ORDWR)
	require.Equal(t, proc.OK, errno)
	_, errno = ns.Write(p.FD(fd), []byte("ram"))
	require.Equal(t, proc.OK, errno)

	fd2, errno := ns.Open(p, "/persist/data", OCREAT|ORDWR)
	require.Equal(t, proc.OK, errno)
	_, errno = ns.Write(p.FD(fd2), []byte("disk"))
	require.Equal(t, proc.OK, errno)

	fd3, errno := ns.Open(p, "/dev/null", ORDWR)
	require.Equal(t, proc.OK, errno)
	n, errno := ns.Write(p.FD(fd3), []byte("void"))
	require.Equal(t, proc.OK, errno)
	assert.Equal(t, 4, n)

	names, errno := ns.List("/persist")
	require.Equal(t, proc.OK, errno)
	assert.Contains(t, names, "data")
}

func TestNamespaceOpenMissingDeviceReturnsNoent(t *testing.T) {
	ns := NewNamespace(NewMemFS(), nil, device.NewTable((&device.Console{}).Ops()))
	p := proc.NewProcess(1, 0, 0)
	_, errno := ns.Open(p, "/dev/doesnotexist", ORDONLY)
	assert.Equal(t, proc.NOENT, errno)
}

func TestNamespaceSeek(t *testing.T) {
	mem := NewMemFS()
	ns := NewNamespace(mem, nil, device.NewTable((&device.Console{}).Ops()))
	p := proc.NewProcess(1, 0, 0)

	fd, errno := ns.Open(p, "/f", OCREAT|ORDWR)
	require.Equal(t, proc.OK, errno)
	ns.Write(p.FD(fd), []byte("0123456789"))

	off, errno := ns.Seek(p.FD(fd), 0, SeekSet)
	require.Equal(t, proc.OK, errno)
	assert.EqualValues(t, 0, off)

	off, errno = ns.Seek(p.FD(fd), 0, SeekEnd)
	require.Equal(t, proc.OK, errno)
	assert.EqualValues(t, 10, off)
}

package device

import (
	"testing"

	"github.com/justanotherdot-student/toriskernel/internal/blockdev"
	"github.com/justanotherdot-student/toriskernel/internal/proc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNullReadsEOFWritesDiscard(t *testing.T) {
	n := NewNull()
	buf := make([]byte, 16)
	cnt, errno := n.Read(buf)
	assert.Equal(t, 0, cnt)
	assert.Equal(t, proc.OK, errno)

	cnt, errno = n.Write([]byte("hello"))
	assert.Equal(t, 5, cnt)
	assert.Equal(t, proc.OK, errno)
}

func TestZeroFillsBuffer(t *testing.T) {
	z := NewZero()
	buf := make([]byte, 8)
	for i := range buf {
		buf[i] = 0xFF
	}
	cnt, _ := z.Read(buf)
	assert.Equal(t, 8, cnt)
	for _, b := range buf {
		assert.Equal(t, byte(0), b)
	}
}

func TestConsoleFeedAndRead(t *testing.T) {
	c := &Console{}
	ops := c.Ops()

	assert.Equal(t, Ready(0), ops.Poll(RRead))

	c.Feed([]byte("ping"))
	assert.Equal(t, RRead, ops.Poll(RRead))

	buf := make([]byte, 4)
	n, _ := ops.Read(buf)
	require.Equal(t, 4, n)
	assert.Equal(t, "ping", string(buf))
}

func TestLoopbackEchoesWrittenBytes(t *testing.T) {
	l := &Loopback{}
	ops := l.Ops()
	n, _ := ops.Write([]byte("echo"))
	assert.Equal(t, 4, n)

	buf := make([]byte, 4)
	n, _ = ops.Read(buf)
	assert.Equal(t, 4, n)
	assert.Equal(t, "echo", string(buf))
}

func TestTableRegisterAndLookup(t *testing.T) {
	tbl := NewTable((&Console{}).Ops())
	assert.NotNil(t, tbl.Lookup("console"))
	assert.NotNil(t, tbl.Lookup("null"))
	assert.NotNil(t, tbl.Lookup("zero"))
	assert.NotNil(t, tbl.Lookup("loopback"))
	assert.Nil(t, tbl.Lookup("missing"))
}

func TestBlockWriteThenReadRoundTripsAtSeekedLBA(t *testing.T) {
	store := blockdev.New(512, 16)
	b := NewBlock(store)
	ops := b.Ops()

	_, errno := ops.Ioctl(IoctlSeekLBA, 3)
	require.Equal(t, proc.OK, errno)

	payload := make([]byte, 512)
	copy(payload, "block device payload")
	n, errno := ops.Write(payload)
	require.Equal(t, proc.OK, errno)
	assert.Equal(t, 512, n)

	_, errno = ops.Ioctl(IoctlSeekLBA, 3)
	require.Equal(t, proc.OK, errno)
	buf := make([]byte, 512)
	n, errno = ops.Read(buf)
	require.Equal(t, proc.OK, errno)
	assert.Equal(t, 512, n)
	assert.Equal(t, payload, buf)
}

func TestBlockReadRejectsBufferShorterThanOneBlock(t *testing.T) {
	store := blockdev.New(512, 16)
	ops := NewBlock(store).Ops()
	_, errno := ops.Read(make([]byte, 10))
	assert.Equal(t, proc.INVAL, errno)
}

func TestBlockIoctlRejectsUnknownCommand(t *testing.T) {
	store := blockdev.New(512, 16)
	ops := NewBlock(store).Ops()
	_, errno := ops.Ioctl(99, 0)
	assert.Equal(t, proc.INVAL, errno)
}

func TestNetEchoesWrittenBytes(t *testing.T) {
	n := NewNet()
	ops := n.Ops()

	assert.Equal(t, Ready(0), ops.Poll(RRead))
	cnt, errno := ops.Write([]byte("ping"))
	require.Equal(t, proc.OK, errno)
	assert.Equal(t, 4, cnt)
	assert.Equal(t, RRead, ops.Poll(RRead))

	buf := make([]byte, 4)
	cnt, errno = ops.Read(buf)
	require.Equal(t, proc.OK, errno)
	assert.Equal(t, 4, cnt)
	assert.Equal(t, "ping", string(buf))
}

package syscalls

import (
	"testing"

	"github.com/justanotherdot-student/toriskernel/internal/device"
	"github.com/justanotherdot-student/toriskernel/internal/events"
	"github.com/justanotherdot-student/toriskernel/internal/lattice"
	"github.com/justanotherdot-student/toriskernel/internal/proc"
	"github.com/justanotherdot-student/toriskernel/internal/sched"
	"github.com/justanotherdot-student/toriskernel/internal/torus"
	"github.com/justanotherdot-student/toriskernel/internal/vfs"
	"github.com/justanotherdot-student/toriskernel/internal/vmem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scratchBase/scratchSize define a mapped user region every test process
// gets, standing in for a process's data segment.
const (
	scratchBase = 0x2000
	scratchSize = 0x2000
)

func newTestEnv(t *testing.T) (*Dispatcher, *Context) {
	lat := lattice.New(4, 4, 4, 4)
	vm := vmem.NewManager(64, 8)
	r := torus.New(0, lat, events.NewQueue(), events.NewDelayMap(), sched.New(8), vm, nil)

	console := &device.Console{}
	table := device.NewTable(console.Ops())
	ns := vfs.NewNamespace(vfs.NewMemFS(), nil, table)

	p := proc.NewProcess(1, 0, 0)
	pt, err := vm.NewPageTable()
	require.NoError(t, err)
	p.PageTable = pt
	require.NoError(t, lat.Insert(1, 0, 0, 0))

	for addr := uint64(scratchBase); addr < scratchBase+scratchSize; addr += vmem.PageSize {
		require.NoError(t, vm.MapPage(pt, addr, vmem.Writable|vmem.User))
	}

	require.Equal(t, proc.OK, ns.BindStdio(p))

	pooled, err := r.Sched.Add(p)
	require.NoError(t, err)
	d := New(NewLoader())
	ctx := &Context{Runtime: r, NS: ns, Process: pooled}
	return d, ctx
}

func writeUserString(t *testing.T, ctx *Context, addr uint64, s string) {
	b := append([]byte(s), 0)
	require.EqualValues(t, proc.OK, ctx.Runtime.Vmem.CopyToUser(ctx.Process.PageTable, addr, b))
}

func TestUnknownSyscallReturnsNosys(t *testing.T) {
	d, ctx := newTestEnv(t)
	ret := d.Syscall(ctx, 250, 0, 0, 0, 0, 0, 0)
	assert.Equal(t, proc.NOSYS.Negated(), ret)
}

func TestOpenWriteReadRoundTripOnMemFS(t *testing.T) {
	d, ctx := newTestEnv(t)
	pathAddr := uint64(scratchBase)
	writeUserString(t, ctx, pathAddr, "/greeting")

	fd := d.Syscall(ctx, SysOpen, pathAddr, vfs.OCREAT|vfs.OWRONLY, 0, 0, 0, 0)
	require.GreaterOrEqual(t, fd, int64(0))

	bufAddr := pathAddr + 0x100
	require.EqualValues(t, proc.OK, ctx.Runtime.Vmem.CopyToUser(ctx.Process.PageTable, bufAddr, []byte("hello")))
	n := d.Syscall(ctx, SysWrite, uint64(fd), bufAddr, 5, 0, 0, 0)
	assert.EqualValues(t, 5, n)
	assert.Equal(t, int64(0), d.Syscall(ctx, SysClose, uint64(fd), 0, 0, 0, 0, 0))

	fd2 := d.Syscall(ctx, SysOpen, pathAddr, vfs.ORDONLY, 0, 0, 0, 0)
	require.GreaterOrEqual(t, fd2, int64(0))
	readAddr := bufAddr + 0x100
	n2 := d.Syscall(ctx, SysRead, uint64(fd2), readAddr, 5, 0, 0, 0)
	assert.EqualValues(t, 5, n2)

	got := make([]byte, 5)
	require.EqualValues(t, proc.OK, ctx.Runtime.Vmem.CopyFromUser(ctx.Process.PageTable, readAddr, got))
	assert.Equal(t, "hello", string(got))
}

func TestOpenMissingFileReturnsNoent(t *testing.T) {
	d, ctx := newTestEnv(t)
	writeUserString(t, ctx, scratchBase, "/missing")
	ret := d.Syscall(ctx, SysOpen, scratchBase, vfs.ORDONLY, 0, 0, 0, 0)
	assert.Equal(t, proc.NOENT.Negated(), ret)
}

func TestForkCreatesChildWithCopiedFDsAndWaitReapsIt(t *testing.T) {
	d, ctx := newTestEnv(t)
	childPID := d.Syscall(ctx, SysFork, 0, 0, 0, 0, 0, 0)
	assert.Greater(t, childPID, int64(0))

	child := ctx.Runtime.Sched.Lookup(uint32(childPID))
	require.NotNil(t, child)
	assert.Equal(t, ctx.Process.PID, child.ParentPID)
	require.NotNil(t, child.FD(0))
	assert.Equal(t, ctx.Process.FD(0).Kind, child.FD(0).Kind)
	assert.Equal(t, ctx.Process.FD(0).Target, child.FD(0).Target)

	childCtx := &Context{Runtime: ctx.Runtime, NS: ctx.NS, Process: child}
	ret := d.Syscall(childCtx, SysExit, 7, 0, 0, 0, 0, 0)
	assert.Equal(t, int64(0), ret)

	waitRet := d.Syscall(ctx, SysWait, 0, 0, 0, 0, 0, 0)
	assert.Equal(t, childPID, waitRet)
}

func TestWaitWithNoChildrenReturnsEchild(t *testing.T) {
	d, ctx := newTestEnv(t)
	ret := d.Syscall(ctx, SysWait, 0, 0, WNOHANG, 0, 0, 0)
	assert.Equal(t, proc.CHILD.Negated(), ret)
}

func TestPipeWriteThenRead(t *testing.T) {
	d, ctx := newTestEnv(t)
	fdsAddr := uint64(scratchBase)
	ret := d.Syscall(ctx, SysPipe, fdsAddr, 0, 0, 0, 0, 0)
	require.Equal(t, int64(0), ret)

	var fds [8]byte
	require.EqualValues(t, proc.OK, ctx.Runtime.Vmem.CopyFromUser(ctx.Process.PageTable, fdsAddr, fds[:]))
	readFD := uint64(fds[0]) | uint64(fds[1])<<8 | uint64(fds[2])<<16 | uint64(fds[3])<<24
	writeFD := uint64(fds[4]) | uint64(fds[5])<<8 | uint64(fds[6])<<16 | uint64(fds[7])<<24

	bufAddr := fdsAddr + 0x100
	require.EqualValues(t, proc.OK, ctx.Runtime.Vmem.CopyToUser(ctx.Process.PageTable, bufAddr, []byte("hi")))
	n := d.Syscall(ctx, SysWrite, writeFD, bufAddr, 2, 0, 0, 0)
	assert.EqualValues(t, 2, n)

	readAddr := bufAddr + 0x100
	n2 := d.Syscall(ctx, SysRead, readFD, readAddr, 2, 0, 0, 0)
	assert.EqualValues(t, 2, n2)
}

func TestBrkGrowsHeap(t *testing.T) {
	d, ctx := newTestEnv(t)
	ctx.Process.Mem.HeapStart = 0x10000
	ctx.Process.Mem.HeapEnd = 0x20000
	ctx.Process.Mem.Brk = 0x10000

	ret := d.Syscall(ctx, SysBrk, 0x11000, 0, 0, 0, 0, 0)
	assert.EqualValues(t, 0x11000, ret)
	assert.EqualValues(t, 0x11000, ctx.Process.Mem.Brk)
}

func TestReadFromBadPointerFaults(t *testing.T) {
	d, ctx := newTestEnv(t)
	ret := d.Syscall(ctx, SysRead, 0, 0xdeadbeef, 16, 0, 0, 0)
	assert.Equal(t, proc.FAULT.Negated(), ret)
}

func TestSleepBlocksAndWakesAfterClockAdvances(t *testing.T) {
	d, ctx := newTestEnv(t)
	ctx.Runtime.CurrentTime = 100
	ret := d.Syscall(ctx, SysSleep, 1, 0, 0, 0, 0, 0)
	assert.Equal(t, int64(0), ret)
	assert.Equal(t, proc.BLOCKED, ctx.Process.State())

	woken := ctx.Runtime.Sched.TickSleepers(100 + ticksPerSecond)
	require.Len(t, woken, 1)
	assert.Equal(t, proc.READY, ctx.Process.State())
}

func TestSignalIgnoreDispositionPreventsKill(t *testing.T) {
	d, ctx := newTestEnv(t)
	ret := d.Syscall(ctx, SysSignal, 9, 1, 0, 0, 0, 0)
	assert.Equal(t, int64(0), ret)

	killRet := d.Syscall(ctx, SysKill, uint64(ctx.Process.PID), 9, 0, 0, 0, 0)
	assert.Equal(t, int64(0), killRet)
	assert.NotEqual(t, proc.ZOMBIE, ctx.Process.State())
}

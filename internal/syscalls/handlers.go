package syscalls

import (
	"encoding/binary"
	"strings"

	"github.com/justanotherdot-student/toriskernel/internal/proc"
	"github.com/justanotherdot-student/toriskernel/internal/vfs"
	"github.com/justanotherdot-student/toriskernel/internal/vmem"
)

// maxIOChunk bounds one READ/WRITE call's kernel-buffer allocation.
const maxIOChunk = 64 * 1024

// Process/protection bits MMAP/MPROTECT accept (spec.md 4.J).
const (
	ProtRead  = 0x1
	ProtWrite = 0x2
	ProtExec  = 0x4
)

const (
	pipeReadEnd  int32 = 0
	pipeWriteEnd int32 = 1
)

// ticksPerSecond (ticks in one second) and ticksPerNanosecond (despite its
// name, nanoseconds in one tick) are the implementation-defined units
// SLEEP/NANOSLEEP convert into instance clock ticks; this hosted build has
// no real timer interrupt, so a sleeping process wakes the next time its
// own instance's monotonic clock crosses the deadline (sched.TickSleepers).
const (
	ticksPerSecond     = 1000
	ticksPerNanosecond = 1_000_000 // 1 tick per millisecond
)

func protFlags(prot uint64) vmem.PTEFlags {
	var f vmem.PTEFlags
	if prot&ProtWrite != 0 {
		f |= vmem.Writable
	}
	if prot&ProtExec == 0 {
		f |= vmem.NX
	}
	return f | vmem.User
}

func sysFork(ctx *Context, a0, a1, a2, a3, a4, a5 uint64) int64 {
	parent := ctx.Process
	pid := ctx.D.allocPID()

	child := proc.NewProcess(pid, parent.PID, parent.InstanceID)
	child.FDs = parent.CopyFDTable()

	pt, err := ctx.Runtime.Vmem.NewPageTable()
	if err != nil {
		return proc.NOMEM.Negated()
	}
	child.PageTable = pt
	child.Mem = parent.Mem
	child.X, child.Y, child.Z = parent.X, parent.Y, parent.Z

	if err := ctx.Runtime.Lattice.Insert(pid, child.X, child.Y, child.Z); err != nil {
		ctx.Runtime.Vmem.FreePageTable(pt)
		return proc.NOMEM.Negated()
	}

	if _, err := ctx.Runtime.Sched.Add(child); err != nil {
		ctx.Runtime.Lattice.Remove(pid, child.X, child.Y, child.Z)
		ctx.Runtime.Vmem.FreePageTable(pt)
		return proc.NOMEM.Negated()
	}
	parent.Children = append(parent.Children, pid)
	return int64(pid)
}

func sysExec(ctx *Context, pathPtr, argvPtr, a2, a3, a4, a5 uint64) int64 {
	p := ctx.Process
	oldHandle := p.PageTable

	path, errno := readUserString(ctx.Runtime.Vmem, oldHandle, pathPtr, PathLimit)
	if errno != proc.OK {
		return errno.Negated()
	}
	prog, ok := ctx.D.Loader.Lookup(path)
	if !ok {
		return proc.NOENT.Negated()
	}
	if _, errno := collectExecStrings(ctx.Runtime.Vmem, oldHandle, argvPtr); errno != proc.OK {
		return errno.Negated()
	}

	ranges := layoutProgram(prog)
	newHandle, err := ctx.Runtime.Vmem.NewPageTable()
	if err != nil {
		return proc.NOMEM.Negated()
	}
	if errno := mapProgram(ctx.Runtime.Vmem, newHandle, ranges); errno != proc.OK {
		ctx.Runtime.Vmem.FreePageTable(newHandle)
		return errno.Negated()
	}

	ctx.Runtime.Vmem.FreePageTable(oldHandle)
	p.PageTable = newHandle
	p.Mem = ranges
	p.CPU = proc.CPUContext{InstructionPointer: prog.Entry}
	closeCloexecFDs(p)
	return 0
}

// layoutProgram assigns explicit code/data/heap/stack ranges for a
// freshly exec'd program (spec.md 4.J: "user ranges are explicit").
func layoutProgram(prog *Program) proc.MemRanges {
	codeStart := uint64(codeBase)
	codeEnd := codeStart + align(prog.CodeSize)
	dataStart := codeEnd
	dataEnd := dataStart + align(prog.DataSize)
	heapStart := dataEnd
	heapEnd := heapStart + align(prog.HeapSize)
	stackEnd := uint64(0x7fff_ffff_f000)
	stackStart := stackEnd - align(prog.StackSize)
	return proc.MemRanges{
		CodeStart: codeStart, CodeEnd: codeEnd,
		DataStart: dataStart, DataEnd: dataEnd,
		HeapStart: heapStart, HeapEnd: heapEnd, Brk: heapStart,
		StackStart: stackStart, StackEnd: stackEnd,
		MmapCursor: stackStart,
	}
}

func mapProgram(vm *vmem.Manager, handle int, ranges proc.MemRanges) proc.Errno {
	mapRange := func(start, end uint64, flags vmem.PTEFlags) proc.Errno {
		for addr := start; addr < end; addr += vmem.PageSize {
			if err := vm.MapPage(handle, addr, flags); err != nil {
				return proc.NOMEM
			}
		}
		return proc.OK
	}
	if errno := mapRange(ranges.CodeStart, ranges.CodeEnd, vmem.User); errno != proc.OK {
		return errno
	}
	if errno := mapRange(ranges.DataStart, ranges.DataEnd, vmem.Writable|vmem.User); errno != proc.OK {
		return errno
	}
	return mapRange(ranges.StackStart, ranges.StackEnd, vmem.Writable|vmem.User)
}

// collectExecStrings reads a NUL-pointer-terminated array of user string
// pointers, bounded by ExecMaxEntries/ExecMaxBytes, matching the
// original's ExecStringTable.
func collectExecStrings(vm *vmem.Manager, handle int, listPtr uint64) ([]string, proc.Errno) {
	if listPtr == 0 {
		return nil, proc.OK
	}
	var out []string
	used := 0
	for i := 0; i < ExecMaxEntries; i++ {
		var b [8]byte
		if errno := vm.CopyFromUser(handle, listPtr+uint64(i*8), b[:]); errno != proc.OK {
			return nil, errno
		}
		ptr := binary.LittleEndian.Uint64(b[:])
		if ptr == 0 {
			break
		}
		s, errno := readUserString(vm, handle, ptr, ExecMaxBytes-used)
		if errno != proc.OK {
			return nil, errno
		}
		used += len(s) + 1
		if used > ExecMaxBytes {
			return nil, proc.INVAL
		}
		out = append(out, s)
	}
	return out, proc.OK
}

func closeCloexecFDs(p *proc.Process) {
	for i := 0; i < proc.MaxFDs; i++ {
		if fd := p.FD(i); fd != nil && fd.CloseOnExec {
			p.CloseFD(i)
		}
	}
}

func sysExit(ctx *Context, a0, a1, a2, a3, a4, a5 uint64) int64 {
	ctx.Runtime.Sched.Exit(ctx.Process, int32(a0))
	return 0
}

// sysWait reaps a zombie child if one exists. In this cooperative hosted
// model a syscall handler cannot itself suspend mid-call; blocking WAIT
// marks the process BLOCKED and returns -EAGAIN so the caller's own loop
// (the scheduler tick that dispatched this call) retries it, matching
// spec.md 4.I's "suspension points are only at tick() boundaries".
func sysWait(ctx *Context, pidArg, statusPtr, flags, a3, a4, a5 uint64) int64 {
	child, ok := ctx.Runtime.Sched.Wait(ctx.Process.PID)
	if ok {
		if statusPtr != 0 {
			var b [4]byte
			binary.LittleEndian.PutUint32(b[:], uint32(child.ExitCode))
			if errno := ctx.Runtime.Vmem.CopyToUser(ctx.Process.PageTable, statusPtr, b[:]); errno != proc.OK {
				return errno.Negated()
			}
		}
		ctx.Runtime.Vmem.FreePageTable(child.PageTable)
		_ = ctx.Runtime.Lattice.Remove(child.PID, child.X, child.Y, child.Z)
		return int64(child.PID)
	}
	if !ctx.Runtime.Sched.HasRunningChildren(ctx.Process.PID) {
		return proc.CHILD.Negated()
	}
	if flags&WNOHANG != 0 {
		return proc.AGAIN.Negated()
	}
	ctx.Runtime.Sched.Block(ctx.Process)
	return proc.AGAIN.Negated()
}

func sysGetpid(ctx *Context, a0, a1, a2, a3, a4, a5 uint64) int64 {
	return int64(ctx.Process.PID)
}

func sysGetppid(ctx *Context, a0, a1, a2, a3, a4, a5 uint64) int64 {
	return int64(ctx.Process.ParentPID)
}

func sysKill(ctx *Context, pidArg, sig, a2, a3, a4, a5 uint64) int64 {
	target := ctx.Runtime.Sched.Lookup(uint32(pidArg))
	if target == nil {
		return proc.SRCH.Negated()
	}
	if target.Signals != nil && target.Signals[int32(sig)] != 0 {
		return 0 // disposition is "ignore"
	}
	ctx.Runtime.Sched.Exit(target, -int32(sig))
	return 0
}

func sysOpen(ctx *Context, pathPtr, flags, mode, a3, a4, a5 uint64) int64 {
	path, errno := readUserString(ctx.Runtime.Vmem, ctx.Process.PageTable, pathPtr, PathLimit)
	if errno != proc.OK {
		return errno.Negated()
	}
	fd, errno := ctx.NS.Open(ctx.Process, path, uint32(flags))
	if errno != proc.OK {
		return errno.Negated()
	}
	return int64(fd)
}

func sysClose(ctx *Context, fdArg, a1, a2, a3, a4, a5 uint64) int64 {
	fd := int(fdArg)
	desc := ctx.Process.FD(fd)
	if desc == nil {
		return proc.BADF.Negated()
	}
	if desc.Kind == proc.FDPipe {
		p := ctx.D.pipes[desc.Target]
		if desc.Flags == pipeReadEnd {
			p.readerOpen = false
		} else {
			p.writerOpen = false
		}
	} else if errno := ctx.NS.Close(desc); errno != proc.OK {
		return errno.Negated()
	}
	ctx.Process.CloseFD(fd)
	return 0
}

func sysRead(ctx *Context, fdArg, bufPtr, count, a3, a4, a5 uint64) int64 {
	desc := ctx.Process.FD(int(fdArg))
	if desc == nil {
		return proc.BADF.Negated()
	}
	n := int(count)
	if n > maxIOChunk {
		n = maxIOChunk
	}
	if errno := ctx.Runtime.Vmem.ValidateUserRange(ctx.Process.PageTable, bufPtr, uint64(n), true); errno != proc.OK {
		return errno.Negated()
	}
	buf := make([]byte, n)

	var cnt int
	var errno proc.Errno
	if desc.Kind == proc.FDPipe {
		cnt, errno = ctx.D.pipes[desc.Target].read(buf)
	} else {
		cnt, errno = ctx.NS.Read(desc, buf)
	}
	if errno != proc.OK {
		return errno.Negated()
	}
	if cnt > 0 {
		if errno := ctx.Runtime.Vmem.CopyToUser(ctx.Process.PageTable, bufPtr, buf[:cnt]); errno != proc.OK {
			return errno.Negated()
		}
	}
	return int64(cnt)
}

func sysWrite(ctx *Context, fdArg, bufPtr, count, a3, a4, a5 uint64) int64 {
	desc := ctx.Process.FD(int(fdArg))
	if desc == nil {
		return proc.BADF.Negated()
	}
	n := int(count)
	if n > maxIOChunk {
		n = maxIOChunk
	}
	buf := make([]byte, n)
	if errno := ctx.Runtime.Vmem.CopyFromUser(ctx.Process.PageTable, bufPtr, buf); errno != proc.OK {
		return errno.Negated()
	}

	var cnt int
	var errno proc.Errno
	if desc.Kind == proc.FDPipe {
		cnt, errno = ctx.D.pipes[desc.Target].write(buf)
	} else {
		cnt, errno = ctx.NS.Write(desc, buf)
	}
	if errno != proc.OK {
		return errno.Negated()
	}
	return int64(cnt)
}

func sysLseek(ctx *Context, fdArg, offset, whence, a3, a4, a5 uint64) int64 {
	desc := ctx.Process.FD(int(fdArg))
	if desc == nil {
		return proc.BADF.Negated()
	}
	newOff, errno := ctx.NS.Seek(desc, int64(offset), vfs.SeekWhence(whence))
	if errno != proc.OK {
		return errno.Negated()
	}
	return newOff
}

func sysStat(ctx *Context, pathPtr, statPtr, a2, a3, a4, a5 uint64) int64 {
	path, errno := readUserString(ctx.Runtime.Vmem, ctx.Process.PageTable, pathPtr, PathLimit)
	if errno != proc.OK {
		return errno.Negated()
	}
	size, errno := ctx.NS.Stat(path)
	if errno != proc.OK {
		return errno.Negated()
	}
	if statPtr != 0 {
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], uint64(size))
		if errno := ctx.Runtime.Vmem.CopyToUser(ctx.Process.PageTable, statPtr, b[:]); errno != proc.OK {
			return errno.Negated()
		}
	}
	return 0
}

func sysUnlink(ctx *Context, pathPtr, a1, a2, a3, a4, a5 uint64) int64 {
	path, errno := readUserString(ctx.Runtime.Vmem, ctx.Process.PageTable, pathPtr, PathLimit)
	if errno != proc.OK {
		return errno.Negated()
	}
	return ctx.NS.Unlink(path).Negated()
}

func sysList(ctx *Context, pathPtr, bufPtr, bufLen, a3, a4, a5 uint64) int64 {
	path, errno := readUserString(ctx.Runtime.Vmem, ctx.Process.PageTable, pathPtr, PathLimit)
	if errno != proc.OK {
		return errno.Negated()
	}
	names, errno := ctx.NS.List(path)
	if errno != proc.OK {
		return errno.Negated()
	}
	joined := strings.Join(names, "\n")
	if uint64(len(joined)) > bufLen {
		joined = joined[:bufLen]
	}
	if len(joined) > 0 {
		if errno := ctx.Runtime.Vmem.CopyToUser(ctx.Process.PageTable, bufPtr, []byte(joined)); errno != proc.OK {
			return errno.Negated()
		}
	}
	return int64(len(joined))
}

func sysBrk(ctx *Context, newbrk, a1, a2, a3, a4, a5 uint64) int64 {
	nb, errno := ctx.Runtime.Vmem.Brk(ctx.Process.PageTable, &ctx.Process.Mem, newbrk)
	if errno != proc.OK {
		return errno.Negated()
	}
	return int64(nb)
}

func sysMmap(ctx *Context, hint, length, prot, flagsArg, a4, a5 uint64) int64 {
	base, errno := ctx.Runtime.Vmem.Mmap(ctx.Process.PageTable, hint, length, protFlags(prot), &ctx.Process.Mem.MmapCursor)
	if errno != proc.OK {
		return errno.Negated()
	}
	return int64(base)
}

func sysMunmap(ctx *Context, addr, length, a2, a3, a4, a5 uint64) int64 {
	return ctx.Runtime.Vmem.Munmap(ctx.Process.PageTable, addr, length).Negated()
}

func sysMprotect(ctx *Context, addr, length, prot, a3, a4, a5 uint64) int64 {
	return ctx.Runtime.Vmem.Mprotect(ctx.Process.PageTable, addr, length, protFlags(prot)).Negated()
}

func sysPipe(ctx *Context, fdsPtr, a1, a2, a3, a4, a5 uint64) int64 {
	pi := newPipe()
	ctx.D.pipes = append(ctx.D.pipes, pi)
	idx := uint64(len(ctx.D.pipes) - 1)

	readFD := ctx.Process.AllocFD(&proc.FileDescriptor{Kind: proc.FDPipe, Target: idx, Flags: pipeReadEnd, RefCount: 1})
	if readFD < 0 {
		return proc.NOMEM.Negated()
	}
	writeFD := ctx.Process.AllocFD(&proc.FileDescriptor{Kind: proc.FDPipe, Target: idx, Flags: pipeWriteEnd, RefCount: 1})
	if writeFD < 0 {
		ctx.Process.CloseFD(readFD)
		return proc.NOMEM.Negated()
	}

	var b [8]byte
	binary.LittleEndian.PutUint32(b[0:4], uint32(readFD))
	binary.LittleEndian.PutUint32(b[4:8], uint32(writeFD))
	if errno := ctx.Runtime.Vmem.CopyToUser(ctx.Process.PageTable, fdsPtr, b[:]); errno != proc.OK {
		ctx.Process.CloseFD(readFD)
		ctx.Process.CloseFD(writeFD)
		return errno.Negated()
	}
	return 0
}

func sysDup(ctx *Context, fdArg, a1, a2, a3, a4, a5 uint64) int64 {
	desc := ctx.Process.FD(int(fdArg))
	if desc == nil {
		return proc.BADF.Negated()
	}
	cp := *desc
	cp.RefCount = 1
	cp.CloseOnExec = false
	newFD := ctx.Process.AllocFD(&cp)
	if newFD < 0 {
		return proc.NOMEM.Negated()
	}
	return int64(newFD)
}

func sysDup2(ctx *Context, oldfdArg, newfdArg, a2, a3, a4, a5 uint64) int64 {
	desc := ctx.Process.FD(int(oldfdArg))
	if desc == nil {
		return proc.BADF.Negated()
	}
	if oldfdArg == newfdArg {
		return int64(newfdArg)
	}
	if existing := ctx.Process.FD(int(newfdArg)); existing != nil {
		ctx.NS.Close(existing)
	}
	cp := *desc
	cp.RefCount = 1
	cp.CloseOnExec = false
	if !ctx.Process.SetFD(int(newfdArg), &cp) {
		return proc.BADF.Negated()
	}
	return int64(newfdArg)
}

func sysSignal(ctx *Context, signum, disposition, a2, a3, a4, a5 uint64) int64 {
	if ctx.Process.Signals == nil {
		ctx.Process.Signals = make(map[int32]int32)
	}
	ctx.Process.Signals[int32(signum)] = int32(disposition)
	return 0
}

func sysTime(ctx *Context, a0, a1, a2, a3, a4, a5 uint64) int64 {
	return int64(ctx.Runtime.CurrentTime)
}

func sysSleep(ctx *Context, seconds, a1, a2, a3, a4, a5 uint64) int64 {
	ctx.Process.WakeAt = ctx.Runtime.CurrentTime + seconds*ticksPerSecond
	ctx.Runtime.Sched.Block(ctx.Process)
	return 0
}

func sysNanosleep(ctx *Context, nanos, a1, a2, a3, a4, a5 uint64) int64 {
	ticks := nanos / ticksPerNanosecond
	if ticks == 0 {
		ticks = 1
	}
	ctx.Process.WakeAt = ctx.Runtime.CurrentTime + ticks
	ctx.Runtime.Sched.Block(ctx.Process)
	return 0
}

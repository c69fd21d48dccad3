// Package syscalls implements the table-driven syscall dispatcher
// (spec.md section 4.K): a 256-slot table of handlers keyed by syscall
// number, user-pointer validation via internal/vmem, and I/O dispatch
// through internal/vfs. Grounded on the original's SyscallDispatcher.h
// (TorusContext, validate_user_range/read_user_bytes/copy_user_string,
// ExecStringTable), adapted from its free-function style into a Go
// method table since there is no thread-local global here: the caller
// passes a *Context explicitly, mirroring the rest of this module's
// "handle passed explicitly" convention (spec.md section 9).
package syscalls

import (
	"github.com/justanotherdot-student/toriskernel/internal/proc"
	"github.com/justanotherdot-student/toriskernel/internal/torus"
	"github.com/justanotherdot-student/toriskernel/internal/vfs"
	"github.com/justanotherdot-student/toriskernel/internal/vmem"
)

// Syscall numbers (spec.md 4.K table).
const (
	SysFork    = 1
	SysExec    = 2
	SysExit    = 3
	SysWait    = 4
	SysGetpid  = 5
	SysGetppid = 6
	SysKill    = 7

	SysOpen   = 10
	SysClose  = 11
	SysRead   = 12
	SysWrite  = 13
	SysLseek  = 14
	SysStat   = 15
	SysUnlink = 16
	SysList   = 17

	SysBrk      = 20
	SysMmap     = 21
	SysMunmap   = 22
	SysMprotect = 23

	SysPipe   = 30
	SysDup    = 31
	SysDup2   = 32
	SysSignal = 33

	SysTime      = 40
	SysSleep     = 41
	SysNanosleep = 42
)

// PathLimit bounds a copied-in path string (spec.md 4.K).
const PathLimit = 256

// ExecMaxEntries/ExecMaxBytes bound the argv/envp string table EXEC
// copies in, matching original_source's ExecStringTable.
const (
	ExecMaxEntries = 32
	ExecMaxBytes   = 4096
)

// WNOHANG mirrors the flag WAIT accepts.
const WNOHANG = 1

// Handler is one syscall table slot: six raw argument registers in,
// one i64 result out (negative = negated errno, spec.md section 7).
type Handler func(ctx *Context, a0, a1, a2, a3, a4, a5 uint64) int64

// Context is the per-call state a handler needs: the instance runtime,
// its VFS namespace, the process issuing the call, and the dispatcher
// itself (for pid allocation, pipes, and the exec loader).
type Context struct {
	Runtime *torus.Runtime
	NS      *vfs.Namespace
	Process *proc.Process
	D       *Dispatcher
}

// Dispatcher owns the syscall table and the per-instance state no
// individual handler call can be trusted to carry across invocations:
// the next-pid counter, open pipes, and the exec program loader.
type Dispatcher struct {
	table [256]Handler

	nextPID uint32
	pipes   []*pipe
	Loader  *Loader
}

// New builds a dispatcher with every recognised syscall wired into its
// slot; unlisted slots return -ENOSYS (spec.md 4.K).
func New(loader *Loader) *Dispatcher {
	d := &Dispatcher{nextPID: 1, Loader: loader}
	d.table[SysFork] = sysFork
	d.table[SysExec] = sysExec
	d.table[SysExit] = sysExit
	d.table[SysWait] = sysWait
	d.table[SysGetpid] = sysGetpid
	d.table[SysGetppid] = sysGetppid
	d.table[SysKill] = sysKill

	d.table[SysOpen] = sysOpen
	d.table[SysClose] = sysClose
	d.table[SysRead] = sysRead
	d.table[SysWrite] = sysWrite
	d.table[SysLseek] = sysLseek
	d.table[SysStat] = sysStat
	d.table[SysUnlink] = sysUnlink
	d.table[SysList] = sysList

	d.table[SysBrk] = sysBrk
	d.table[SysMmap] = sysMmap
	d.table[SysMunmap] = sysMunmap
	d.table[SysMprotect] = sysMprotect

	d.table[SysPipe] = sysPipe
	d.table[SysDup] = sysDup
	d.table[SysDup2] = sysDup2
	d.table[SysSignal] = sysSignal

	d.table[SysTime] = sysTime
	d.table[SysSleep] = sysSleep
	d.table[SysNanosleep] = sysNanosleep

	return d
}

// Syscall is the single dispatch entry point (spec.md 4.K: "looks up the
// handler; missing slot returns -ENOSYS").
func (d *Dispatcher) Syscall(ctx *Context, num, a0, a1, a2, a3, a4, a5 uint64) int64 {
	ctx.D = d
	if num >= uint64(len(d.table)) {
		return proc.NOSYS.Negated()
	}
	h := d.table[num]
	if h == nil {
		return proc.NOSYS.Negated()
	}
	return h(ctx, a0, a1, a2, a3, a4, a5)
}

func (d *Dispatcher) allocPID() uint32 {
	pid := d.nextPID
	d.nextPID++
	return pid
}

// readUserString copies a NUL-terminated string starting at addr into a
// kernel buffer bounded by maxLen (spec.md 4.K: "path limit 256"),
// matching the original's copy_user_string byte-at-a-time scan.
func readUserString(vm *vmem.Manager, handle int, addr uint64, maxLen int) (string, proc.Errno) {
	if addr == 0 {
		return "", proc.FAULT
	}
	buf := make([]byte, 0, maxLen)
	var b [1]byte
	for i := 0; i < maxLen; i++ {
		if errno := vm.CopyFromUser(handle, addr+uint64(i), b[:]); errno != proc.OK {
			return "", errno
		}
		if b[0] == 0 {
			return string(buf), proc.OK
		}
		buf = append(buf, b[0])
	}
	return "", proc.INVAL
}

// This file implements the namespace router itself, grounded on the
// original's os/VFS.h: open/read/write/close/lseek/unlink/list dispatch
// across three regions by path prefix.
package vfs

import (
	"strings"

	"github.com/justanotherdot-student/toriskernel/internal/device"
	"github.com/justanotherdot-student/toriskernel/internal/proc"
)

// Open flags, matching the POSIX-ish flags spec.md 4.K's OPEN syscall
// accepts.
const (
	ORDONLY = 0x0
	OWRONLY = 0x1
	ORDWR   = 0x2
	OCREAT  = 0x40
	OTRUNC  = 0x200
	OAPPEND = 0x400
)

// SeekWhence selects lseek's origin.
type SeekWhence int

const (
	SeekSet SeekWhence = iota
	SeekCur
	SeekEnd
)

// Namespace routes paths to MemFS, BlockFS, or the device table and backs
// the per-process fd table's opaque Target field with open-resource
// slots it owns.
type Namespace struct {
	mem     *MemFS
	block   *BlockFS
	devices *device.Table

	openMem    []*MemFile
	openBlock  []*BlockFSEntry
	openDevice []*device.Ops
}

// NewNamespace wires a MemFS, an optional BlockFS, and a device table
// together into one path namespace. block may be nil if no BlockFS has
// been mounted yet.
func NewNamespace(mem *MemFS, block *BlockFS, devices *device.Table) *Namespace {
	return &Namespace{mem: mem, block: block, devices: devices}
}

// BindStdio opens "/dev/console" three times and installs the results at
// fd 0/1/2, replacing the placeholder descriptors proc.NewProcess installs
// (which have no Namespace-side openDevice slot behind them yet). Callers
// that hand a freshly-created process to a Namespace should call this
// before any syscall touches fd 0-2.
func (n *Namespace) BindStdio(p *proc.Process) proc.Errno {
	for i := 0; i < 3; i++ {
		dev := n.devices.Lookup("console")
		if dev == nil {
			return proc.NOENT
		}
		n.openDevice = append(n.openDevice, dev)
		target := uint64(len(n.openDevice) - 1)
		if !p.SetFD(i, &proc.FileDescriptor{Kind: proc.FDDevice, Target: target, RefCount: 1}) {
			return proc.INVAL
		}
	}
	return proc.OK
}

func (n *Namespace) deviceName(path string) (string, bool) {
	const prefix = "/dev/"
	if !strings.HasPrefix(path, prefix) {
		return "", false
	}
	name := path[len(prefix):]
	if name == "" {
		return "", false
	}
	return name, true
}

func (n *Namespace) persistName(path string) (string, bool) {
	const prefix = "/persist/"
	if !strings.HasPrefix(path, prefix) {
		return "", false
	}
	name := path[len(prefix):]
	if name == "" {
		return "", false
	}
	return name, true
}

// Open resolves path to one of the three regions and installs a
// FileDescriptor in p's table, returning its index or an Errno.
func (n *Namespace) Open(p *proc.Process, path string, flags uint32) (int, proc.Errno) {
	if name, ok := n.deviceName(path); ok {
		dev := n.devices.Lookup(name)
		if dev == nil {
			return -1, proc.NOENT
		}
		if dev.Open != nil {
			if errno := dev.Open(); errno != proc.OK {
				return -1, errno
			}
		}
		n.openDevice = append(n.openDevice, dev)
		target := uint64(len(n.openDevice) - 1)
		fd := p.AllocFD(&proc.FileDescriptor{Kind: proc.FDDevice, Target: target, Flags: int32(flags), RefCount: 1})
		if fd < 0 {
			return -1, proc.NOMEM
		}
		return fd, proc.OK
	}

	if name, ok := n.persistName(path); ok {
		if n.block == nil || !n.block.IsMounted() {
			return -1, proc.IO
		}
		entry, ok := n.block.Open(name, flags&OCREAT != 0)
		if !ok {
			return -1, proc.NOENT
		}
		if flags&OTRUNC != 0 {
			n.block.Truncate(entry)
		}
		n.openBlock = append(n.openBlock, entry)
		target := uint64(len(n.openBlock) - 1)
		offset := int64(0)
		if flags&OAPPEND != 0 {
			offset = int64(entry.Size)
		}
		fd := p.AllocFD(&proc.FileDescriptor{Kind: proc.FDBlockFile, Target: target, Flags: int32(flags), Offset: offset, RefCount: 1})
		if fd < 0 {
			return -1, proc.NOMEM
		}
		return fd, proc.OK
	}

	file, ok := n.mem.Lookup(path)
	if !ok && flags&OCREAT != 0 {
		file, ok = n.mem.Create(path)
	}
	if !ok {
		return -1, proc.NOENT
	}
	if flags&OTRUNC != 0 {
		file.Truncate()
	}
	n.openMem = append(n.openMem, file)
	target := uint64(len(n.openMem) - 1)
	offset := int64(0)
	if flags&OAPPEND != 0 {
		offset = int64(file.Size)
	}
	fd := p.AllocFD(&proc.FileDescriptor{Kind: proc.FDFile, Target: target, Flags: int32(flags), Offset: offset, RefCount: 1})
	if fd < 0 {
		return -1, proc.NOMEM
	}
	return fd, proc.OK
}

// Read reads into buf from the resource backing descriptor desc.
func (n *Namespace) Read(desc *proc.FileDescriptor, buf []byte) (int, proc.Errno) {
	switch desc.Kind {
	case proc.FDBlockFile:
		entry := n.openBlock[desc.Target]
		cnt, err := n.block.Read(entry, uint64(desc.Offset), buf)
		if err != nil {
			return 0, proc.IO
		}
		desc.Offset += int64(cnt)
		return cnt, proc.OK
	case proc.FDDevice:
		dev := n.openDevice[desc.Target]
		if dev.Read == nil {
			return 0, proc.INVAL
		}
		cnt, errno := dev.Read(buf)
		return cnt, errno
	default:
		file := n.openMem[desc.Target]
		cnt := file.Read(uint64(desc.Offset), buf)
		desc.Offset += int64(cnt)
		return cnt, proc.OK
	}
}

// Write writes buf to the resource backing descriptor desc.
func (n *Namespace) Write(desc *proc.FileDescriptor, buf []byte) (int, proc.Errno) {
	switch desc.Kind {
	case proc.FDBlockFile:
		entry := n.openBlock[desc.Target]
		cnt, err := n.block.Write(entry, uint64(desc.Offset), buf)
		if err != nil {
			return 0, proc.IO
		}
		desc.Offset += int64(cnt)
		return cnt, proc.OK
	case proc.FDDevice:
		dev := n.openDevice[desc.Target]
		if dev.Write == nil {
			return 0, proc.INVAL
		}
		cnt, errno := dev.Write(buf)
		return cnt, errno
	default:
		file := n.openMem[desc.Target]
		cnt := file.Write(uint64(desc.Offset), buf)
		desc.Offset += int64(cnt)
		return cnt, proc.OK
	}
}

// Close releases any device-side resources held by desc. The fd-table slot
// itself is freed by the caller (internal/syscalls' sysClose), mirroring how VFS.close
// in the original defers fd_table_->free to its caller's table owner.
func (n *Namespace) Close(desc *proc.FileDescriptor) proc.Errno {
	if desc.Kind == proc.FDDevice {
		dev := n.openDevice[desc.Target]
		if dev.Close != nil {
			return dev.Close()
		}
	}
	return proc.OK
}

// Seek recomputes desc.Offset per whence and returns the new offset.
func (n *Namespace) Seek(desc *proc.FileDescriptor, offset int64, whence SeekWhence) (int64, proc.Errno) {
	var size int64
	switch desc.Kind {
	case proc.FDBlockFile:
		size = int64(n.openBlock[desc.Target].Size)
	case proc.FDFile:
		size = int64(n.openMem[desc.Target].Size)
	case proc.FDDevice:
		// devices have no fixed size; SEEK_END behaves like SEEK_CUR.
		size = desc.Offset
	}

	var newOffset int64
	switch whence {
	case SeekSet:
		newOffset = offset
	case SeekCur:
		newOffset = desc.Offset + offset
	case SeekEnd:
		newOffset = size + offset
	default:
		return 0, proc.INVAL
	}
	if newOffset < 0 {
		newOffset = 0
	}
	desc.Offset = newOffset
	return newOffset, proc.OK
}

// Stat reports the size in bytes of the file at path without opening a
// descriptor for it (spec.md 4.K's STAT syscall). Device paths report
// size 0 since devices are not sized resources.
func (n *Namespace) Stat(path string) (int64, proc.Errno) {
	if name, ok := n.deviceName(path); ok {
		if n.devices.Lookup(name) == nil {
			return 0, proc.NOENT
		}
		return 0, proc.OK
	}
	if name, ok := n.persistName(path); ok {
		if n.block == nil || !n.block.IsMounted() {
			return 0, proc.IO
		}
		entry, ok := n.block.Open(name, false)
		if !ok {
			return 0, proc.NOENT
		}
		return int64(entry.Size), proc.OK
	}
	file, ok := n.mem.Lookup(path)
	if !ok {
		return 0, proc.NOENT
	}
	return int64(file.Size), proc.OK
}

// Unlink removes path from its owning region. Device paths cannot be
// unlinked.
func (n *Namespace) Unlink(path string) proc.Errno {
	if name, ok := n.persistName(path); ok {
		if n.block == nil || !n.block.IsMounted() {
			return proc.IO
		}
		if n.block.Remove(name) {
			return proc.OK
		}
		return proc.NOENT
	}
	if _, ok := n.deviceName(path); ok {
		return proc.INVAL
	}
	if n.mem.Remove(path) {
		return proc.OK
	}
	return proc.NOENT
}

// List returns the names visible under path: "/persist" lists BlockFS
// entries, anything else lists MemFS files.
func (n *Namespace) List(path string) ([]string, proc.Errno) {
	if path == "/persist" || path == "/persist/" {
		if n.block == nil || !n.block.IsMounted() {
			return nil, proc.IO
		}
		return n.block.List(), proc.OK
	}
	return n.mem.List(), proc.OK
}

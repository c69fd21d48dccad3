// Package vmem implements the per-process virtual memory layer (spec.md
// section 4.J): a fixed physical frame allocator and per-process page
// tables, with explicit user-range validation and copy-to/from-user
// helpers. It replaces biscuit's raw unsafe.Pointer PTE manipulation
// (physmem/pmap_lookup/PTE_* in its main.go) with a pure Go
// table since the core runs hosted, not on bare metal.
package vmem

import (
	"errors"

	"github.com/justanotherdot-student/toriskernel/internal/arena"
	"github.com/justanotherdot-student/toriskernel/internal/proc"
)

// PageSize is the frame granularity (4 KiB, matching biscuit's PGSIZE).
const PageSize = 4096

// PTEFlags mirror biscuit's PTE_* constants.
type PTEFlags uint8

const (
	Present PTEFlags = 1 << iota
	Writable
	User
	NX
)

// PTE is one page-table entry: a physical frame index plus flags.
type PTE struct {
	Frame int
	Flags PTEFlags
}

// ErrOutOfFrames is returned when the frame allocator is exhausted.
var ErrOutOfFrames = errors.New("vmem: out of physical frames")

// FrameAllocator hands out page frames from a fixed-size physical region,
// generalizing biscuit's physmem freelist via arena.Pool.
type FrameAllocator struct {
	pool *arena.Pool[[PageSize]byte]
}

// NewFrameAllocator reserves nframes frames (spec.md: allocation is
// frame-granular from a fixed region).
func NewFrameAllocator(nframes int) *FrameAllocator {
	return &FrameAllocator{pool: arena.New[[PageSize]byte](nframes)}
}

// Alloc hands out one zeroed frame.
func (f *FrameAllocator) Alloc() (int, error) {
	idx, err := f.pool.Acquire()
	if err != nil {
		return 0, ErrOutOfFrames
	}
	return idx, nil
}

// Free returns a frame to the allocator.
func (f *FrameAllocator) Free(frame int) { f.pool.Release(frame) }

// Reset empties the frame allocator in place (spec.md 4.H reconstruction:
// "reset arenas in place... no deallocation, no new allocation").
func (f *FrameAllocator) Reset() { f.pool.Reset() }

// Frame returns the backing bytes for frame, for copy-to/from-user.
func (f *FrameAllocator) Frame(frame int) *[PageSize]byte { return f.pool.At(frame) }

// PageTable is one process's mapping from virtual page number to PTE, plus
// its explicit user ranges (spec.md 4.J: code/data/heap/stack are
// explicit, not derived from page-table walking).
type PageTable struct {
	entries map[uint64]PTE
	Ranges  proc.MemRanges
}

// Manager owns all page tables for one instance and the shared frame
// allocator they draw from.
type Manager struct {
	Frames *FrameAllocator
	tables *arena.Pool[PageTable]
}

// NewManager builds a vmem manager with physFrames physical frames and
// room for maxProcs page tables.
func NewManager(physFrames, maxProcs int) *Manager {
	return &Manager{
		Frames: NewFrameAllocator(physFrames),
		tables: arena.New[PageTable](maxProcs),
	}
}

// NewPageTable allocates a fresh page table and returns its handle (the
// same handle spec.md 4.J calls "page-table handle" and stores on
// Process.PageTable).
func (m *Manager) NewPageTable() (int, error) {
	idx, err := m.tables.Acquire()
	if err != nil {
		return 0, err
	}
	*m.tables.At(idx) = PageTable{entries: make(map[uint64]PTE)}
	return idx, nil
}

// FreePageTable releases all frames a table still owns, then releases the
// table slot itself. Used by exit/reap and by exec's page-table swap.
func (m *Manager) FreePageTable(handle int) {
	pt := m.tables.At(handle)
	for _, pte := range pt.entries {
		if pte.Frame >= 0 {
			m.Frames.Free(pte.Frame)
		}
	}
	m.tables.Release(handle)
}

// Reset empties both the frame allocator and the page-table pool in
// place, used by the reconstructor when an instance is declared failed
// (spec.md 4.H).
func (m *Manager) Reset() {
	m.Frames.Reset()
	m.tables.Reset()
}

func pageOf(addr uint64) uint64 { return addr / PageSize }

// MapPage allocates a fresh frame and maps vaddr to it with the given
// flags. Returns ErrOutOfFrames if the physical allocator is exhausted.
func (m *Manager) MapPage(handle int, vaddr uint64, flags PTEFlags) error {
	frame, err := m.Frames.Alloc()
	if err != nil {
		return err
	}
	pt := m.tables.At(handle)
	pt.entries[pageOf(vaddr)] = PTE{Frame: frame, Flags: flags | Present}
	return nil
}

// UnmapPage frees the frame backing vaddr, if mapped.
func (m *Manager) UnmapPage(handle int, vaddr uint64) {
	pt := m.tables.At(handle)
	pn := pageOf(vaddr)
	if pte, ok := pt.entries[pn]; ok {
		m.Frames.Free(pte.Frame)
		delete(pt.entries, pn)
	}
}

func (m *Manager) lookup(handle int, vaddr uint64) (PTE, bool) {
	pt := m.tables.At(handle)
	pte, ok := pt.entries[pageOf(vaddr)]
	return pte, ok
}

// ValidateUserRange rejects addr/size ranges that are out-of-range or
// attempt a write to a read-only mapping (spec.md 4.J); it returns
// proc.FAULT on any violation and proc.OK otherwise.
func (m *Manager) ValidateUserRange(handle int, addr, size uint64, write bool) proc.Errno {
	if size == 0 {
		return proc.OK
	}
	start := pageOf(addr)
	end := pageOf(addr + size - 1)
	for pn := start; pn <= end; pn++ {
		pte, ok := m.lookup(handle, pn*PageSize)
		if !ok || pte.Flags&Present == 0 {
			return proc.FAULT
		}
		if write && pte.Flags&Writable == 0 {
			return proc.FAULT
		}
	}
	return proc.OK
}

// CopyToUser writes src into the process's address space starting at addr,
// failing atomically (no partial writes) if any byte of the range is
// invalid. The range is validated first, then src is copied straight into
// the backing frames page by page; no intermediate kernel buffer is used.
func (m *Manager) CopyToUser(handle int, addr uint64, src []byte) proc.Errno {
	if err := m.ValidateUserRange(handle, addr, uint64(len(src)), true); err != proc.OK {
		return err
	}
	remaining := src
	cur := addr
	for len(remaining) > 0 {
		pn := pageOf(cur)
		pte, _ := m.lookup(handle, pn*PageSize)
		frame := m.Frames.Frame(pte.Frame)
		off := int(cur % PageSize)
		n := copy(frame[off:], remaining)
		remaining = remaining[n:]
		cur += uint64(n)
	}
	return proc.OK
}

// CopyFromUser reads len(dst) bytes starting at addr into dst, failing
// atomically on any invalid byte.
func (m *Manager) CopyFromUser(handle int, addr uint64, dst []byte) proc.Errno {
	if err := m.ValidateUserRange(handle, addr, uint64(len(dst)), false); err != proc.OK {
		return err
	}
	remaining := dst
	cur := addr
	for len(remaining) > 0 {
		pn := pageOf(cur)
		pte, _ := m.lookup(handle, pn*PageSize)
		frame := m.Frames.Frame(pte.Frame)
		off := int(cur % PageSize)
		n := copy(remaining, frame[off:])
		remaining = remaining[n:]
		cur += uint64(n)
	}
	return proc.OK
}

// Brk grows or shrinks the heap to newBrk, mapping/unmapping whole pages as
// needed, and returns the new break.
func (m *Manager) Brk(handle int, ranges *proc.MemRanges, newBrk uint64) (uint64, proc.Errno) {
	if newBrk < ranges.HeapStart {
		return ranges.Brk, proc.INVAL
	}
	base := (ranges.HeapStart / PageSize) * PageSize
	oldPages := (ranges.Brk - base + PageSize - 1) / PageSize
	if ranges.Brk == ranges.HeapStart {
		oldPages = 0
	}
	newPages := (newBrk - base + PageSize - 1) / PageSize
	if newBrk == ranges.HeapStart {
		newPages = 0
	}
	if newPages > oldPages {
		for pn := oldPages; pn < newPages; pn++ {
			if err := m.MapPage(handle, base+pn*PageSize, Writable|User); err != nil {
				return ranges.Brk, proc.NOMEM
			}
		}
	} else if newPages < oldPages {
		for pn := newPages; pn < oldPages; pn++ {
			m.UnmapPage(handle, base+pn*PageSize)
		}
	}
	ranges.Brk = newBrk
	return newBrk, proc.OK
}

// Mmap auto-selects a free region above hint (or above the current mmap
// cursor if hint is 0) and maps length bytes with the given flags,
// returning the chosen base address.
func (m *Manager) Mmap(handle int, hint, length uint64, flags PTEFlags, cursor *uint64) (uint64, proc.Errno) {
	base := hint
	if base == 0 {
		base = *cursor
	}
	base = (base + PageSize - 1) / PageSize * PageSize
	pages := (length + PageSize - 1) / PageSize
	for i := uint64(0); i < pages; i++ {
		if err := m.MapPage(handle, base+i*PageSize, flags|User); err != nil {
			for j := uint64(0); j < i; j++ {
				m.UnmapPage(handle, base+j*PageSize)
			}
			return 0, proc.NOMEM
		}
	}
	if base+pages*PageSize > *cursor {
		*cursor = base + pages*PageSize
	}
	return base, proc.OK
}

// Munmap unmaps length bytes starting at addr.
func (m *Manager) Munmap(handle int, addr, length uint64) proc.Errno {
	pages := (length + PageSize - 1) / PageSize
	for i := uint64(0); i < pages; i++ {
		m.UnmapPage(handle, addr+i*PageSize)
	}
	return proc.OK
}

// Mprotect changes the flags of the pages covering [addr, addr+length).
func (m *Manager) Mprotect(handle int, addr, length uint64, flags PTEFlags) proc.Errno {
	pages := (length + PageSize - 1) / PageSize
	pt := m.tables.At(handle)
	for i := uint64(0); i < pages; i++ {
		pn := pageOf(addr + i*PageSize)
		pte, ok := pt.entries[pn]
		if !ok {
			return proc.FAULT
		}
		pte.Flags = flags | Present
		pt.entries[pn] = pte
	}
	return proc.OK
}

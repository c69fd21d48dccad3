package syscalls

import "github.com/justanotherdot-student/toriskernel/internal/vmem"

// Program is a loadable image EXEC installs (spec.md 4.K: "load ELF by
// path"). Real ELF parsing and the UEFI/virtio boot path are out of
// scope here (spec.md section 1's non-goals carve out "dynamic loading
// beyond a one-shot ELF exec" and real disk/firmware bring-up); a
// Program stands in for the parsed-and-relocated result an ELF loader
// would hand the kernel, matching how this hosted build already
// represents a page table as a Go map instead of raw PTEs.
type Program struct {
	Entry     uint64
	CodeSize  uint64
	DataSize  uint64
	HeapSize  uint64
	StackSize uint64
}

// Loader resolves an exec path to a Program, standing in for "load ELF
// by path" in a registry one-shot binaries are installed into ahead of
// time.
type Loader struct {
	programs map[string]*Program
}

// NewLoader builds an empty loader.
func NewLoader() *Loader { return &Loader{programs: make(map[string]*Program)} }

// Install registers prog under path so a later EXEC(path) can find it.
func (l *Loader) Install(path string, prog *Program) { l.programs[path] = prog }

// Lookup resolves path to its installed Program.
func (l *Loader) Lookup(path string) (*Program, bool) {
	p, ok := l.programs[path]
	return p, ok
}

const (
	codeBase  = 0x0000_0000_0040_0000
	pageAlign = vmem.PageSize
)

func align(v uint64) uint64 { return (v + pageAlign - 1) / pageAlign * pageAlign }

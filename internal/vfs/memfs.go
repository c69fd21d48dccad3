package vfs

// MemFS is the in-RAM filesystem: up to MaxMemFiles files of MemFileBytes
// bytes each in a fixed array (spec.md section 4.L), no dynamic growth.
const (
	MaxMemFiles  = 128
	MemFileBytes = 4096
)

// MemFile is one MemFS slot.
type MemFile struct {
	Name  string
	Size  uint32
	InUse bool
	Data  [MemFileBytes]byte
}

// MemFS is a fixed array of MemFile slots addressed by name.
type MemFS struct {
	files [MaxMemFiles]MemFile
}

// NewMemFS builds an empty in-RAM filesystem.
func NewMemFS() *MemFS { return &MemFS{} }

// Lookup finds an in-use file by name.
func (m *MemFS) Lookup(name string) (*MemFile, bool) {
	for i := range m.files {
		if m.files[i].InUse && m.files[i].Name == name {
			return &m.files[i], true
		}
	}
	return nil, false
}

// Create allocates a free slot under name, or fails if the table is full.
func (m *MemFS) Create(name string) (*MemFile, bool) {
	for i := range m.files {
		if !m.files[i].InUse {
			m.files[i] = MemFile{Name: name, InUse: true}
			return &m.files[i], true
		}
	}
	return nil, false
}

// Read copies up to len(buf) bytes of file starting at offset.
func (m *MemFile) Read(offset uint64, buf []byte) int {
	if offset >= uint64(m.Size) {
		return 0
	}
	n := copy(buf, m.Data[offset:m.Size])
	return n
}

// Write copies buf into file's fixed-size data array starting at offset,
// bounded by MemFileBytes, growing Size on extension.
func (m *MemFile) Write(offset uint64, buf []byte) int {
	if offset >= MemFileBytes {
		return 0
	}
	room := uint64(MemFileBytes) - offset
	n := uint64(len(buf))
	if n > room {
		n = room
	}
	copy(m.Data[offset:offset+n], buf[:n])
	if uint32(offset+n) > m.Size {
		m.Size = uint32(offset + n)
	}
	return int(n)
}

// Truncate resets file's logical size to zero; data bytes are left as-is.
func (m *MemFile) Truncate() { m.Size = 0 }

// Remove frees the slot named name. Data bytes are not zeroed (spec.md
// section 9: readers must not rely on zeroing after unlink).
func (m *MemFS) Remove(name string) bool {
	f, ok := m.Lookup(name)
	if !ok {
		return false
	}
	f.InUse = false
	f.Name = ""
	f.Size = 0
	return true
}

// List returns the names of all in-use files.
func (m *MemFS) List() []string {
	var names []string
	for _, f := range m.files {
		if f.InUse {
			names = append(names, f.Name)
		}
	}
	return names
}

// Package vfs implements the three-region path namespace (spec.md section
// 4.L): /dev/* routes to the device table, /persist/* routes to the
// on-disk BlockFS, everything else routes to the in-RAM MemFS. This file
// holds BlockFS, grounded on the original's os/BlockFS.h: a header block,
// a fixed entry table, and an N x slot_size data region carved out of the
// tail of a raw block device.
package vfs

import (
	"encoding/binary"
	"errors"

	"github.com/justanotherdot-student/toriskernel/internal/blockdev"
)

const (
	blockFSMagic       uint32 = 0x52534501
	blockFSVersion     uint32 = 1
	MaxBlockFiles             = 256
	SlotBytes          uint32 = 16384
	nameMax                   = 31
	gptGuardBlocks     uint64 = 34
	entryWireSize             = 32 + 4 + 4 + 1 + 3 // name, size, slot_index, in_use, reserved
	headerWireSize            = 4*6 + 8*3 + 4*6    // magic..table_blocks, start_lba..region_blocks, reserved[6]
)

// ErrNotMounted reports an operation attempted before Mount succeeded.
var ErrNotMounted = errors.New("blockfs: not mounted")

// BlockFSEntry is one file-table slot: a name, a logical size, and the
// fixed slot index its bytes live in.
type BlockFSEntry struct {
	Name      string
	Size      uint32
	SlotIndex uint32
	InUse     bool
}

type blockFSHeader struct {
	magic        uint32
	version      uint32
	blockSize    uint32
	slotSize     uint32
	maxFiles     uint32
	tableBlocks  uint32
	startLBA     uint64
	dataStartLBA uint64
	regionBlocks uint64
}

// BlockFS is the slot-based on-disk filesystem mounted on the tail of a
// blockdev.BlockDevice (an in-memory blockdev.Store or an on-disk
// blockdev.FileStore).
type BlockFS struct {
	store blockdev.BlockDevice

	mounted      bool
	blockSize    uint32
	slotSize     uint32
	slotBlocks   uint32
	tableBlocks  uint32
	startLBA     uint64
	dataStartLBA uint64
	regionBlocks uint64

	header  blockFSHeader
	entries [MaxBlockFiles]BlockFSEntry
}

// NewBlockFS constructs an unmounted BlockFS bound to the given store.
func NewBlockFS(store blockdev.BlockDevice) *BlockFS {
	b := &BlockFS{store: store}
	for i := range b.entries {
		b.entries[i].SlotIndex = uint32(i)
	}
	return b
}

func blocksForBytes(bytes, blockSize uint32) uint32 {
	return (bytes + blockSize - 1) / blockSize
}

// Mount computes the on-disk layout for the store's current geometry,
// then either adopts an existing valid header or formats a fresh one.
func (b *BlockFS) Mount() bool {
	blockSize := b.store.BlockSize()
	totalBlocks := b.store.TotalBlocks()
	if blockSize == 0 || totalBlocks == 0 || blockSize > 4096 {
		return false
	}
	b.blockSize = blockSize
	b.slotBlocks = blocksForBytes(SlotBytes, blockSize)
	b.slotSize = b.slotBlocks * blockSize
	b.tableBlocks = blocksForBytes(entryWireSize*MaxBlockFiles, blockSize)
	b.regionBlocks = 1 + uint64(b.tableBlocks) + uint64(b.slotBlocks)*MaxBlockFiles
	if totalBlocks <= b.regionBlocks+gptGuardBlocks+1 {
		return false
	}
	b.startLBA = totalBlocks - b.regionBlocks - gptGuardBlocks
	b.dataStartLBA = b.startLBA + 1 + uint64(b.tableBlocks)

	hdr, ok := b.readHeader()
	if ok && b.isValidHeader(hdr) {
		b.header = hdr
		if !b.loadEntries() {
			return false
		}
		b.mounted = true
		return true
	}

	b.initFresh()
	b.mounted = true
	return true
}

func (b *BlockFS) isValidHeader(h blockFSHeader) bool {
	return h.magic == blockFSMagic &&
		h.version == blockFSVersion &&
		h.blockSize == b.blockSize &&
		h.slotSize == b.slotSize &&
		h.maxFiles == MaxBlockFiles &&
		h.tableBlocks == b.tableBlocks
}

func (b *BlockFS) initFresh() {
	for i := range b.entries {
		b.entries[i] = BlockFSEntry{SlotIndex: uint32(i)}
	}
	b.header = blockFSHeader{
		magic:        blockFSMagic,
		version:      blockFSVersion,
		blockSize:    b.blockSize,
		slotSize:     b.slotSize,
		maxFiles:     MaxBlockFiles,
		tableBlocks:  b.tableBlocks,
		startLBA:     b.startLBA,
		dataStartLBA: b.dataStartLBA,
		regionBlocks: b.regionBlocks,
	}
	b.syncHeader()
	b.syncEntries()
}

func (b *BlockFS) readHeader() (blockFSHeader, bool) {
	scratch := make([]byte, b.blockSize)
	if err := b.store.ReadBlocks(b.startLBA, scratch, 1); err != nil {
		return blockFSHeader{}, false
	}
	return decodeHeader(scratch), true
}

func decodeHeader(buf []byte) blockFSHeader {
	var h blockFSHeader
	h.magic = binary.LittleEndian.Uint32(buf[0:4])
	h.version = binary.LittleEndian.Uint32(buf[4:8])
	h.blockSize = binary.LittleEndian.Uint32(buf[8:12])
	h.slotSize = binary.LittleEndian.Uint32(buf[12:16])
	h.maxFiles = binary.LittleEndian.Uint32(buf[16:20])
	h.tableBlocks = binary.LittleEndian.Uint32(buf[20:24])
	h.startLBA = binary.LittleEndian.Uint64(buf[24:32])
	h.dataStartLBA = binary.LittleEndian.Uint64(buf[32:40])
	h.regionBlocks = binary.LittleEndian.Uint64(buf[40:48])
	return h
}

func encodeHeader(h blockFSHeader, buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:4], h.magic)
	binary.LittleEndian.PutUint32(buf[4:8], h.version)
	binary.LittleEndian.PutUint32(buf[8:12], h.blockSize)
	binary.LittleEndian.PutUint32(buf[12:16], h.slotSize)
	binary.LittleEndian.PutUint32(buf[16:20], h.maxFiles)
	binary.LittleEndian.PutUint32(buf[20:24], h.tableBlocks)
	binary.LittleEndian.PutUint64(buf[24:32], h.startLBA)
	binary.LittleEndian.PutUint64(buf[32:40], h.dataStartLBA)
	binary.LittleEndian.PutUint64(buf[40:48], h.regionBlocks)
}

func (b *BlockFS) syncHeader() {
	scratch := make([]byte, b.blockSize)
	encodeHeader(b.header, scratch)
	_ = b.store.WriteBlocks(b.startLBA, scratch, 1)
}

func encodeEntry(e BlockFSEntry, buf []byte) {
	var nameBuf [32]byte
	copy(nameBuf[:], e.Name)
	copy(buf[0:32], nameBuf[:])
	binary.LittleEndian.PutUint32(buf[32:36], e.Size)
	binary.LittleEndian.PutUint32(buf[36:40], e.SlotIndex)
	if e.InUse {
		buf[40] = 1
	} else {
		buf[40] = 0
	}
}

func decodeEntry(buf []byte) BlockFSEntry {
	nameEnd := 0
	for nameEnd < 32 && buf[nameEnd] != 0 {
		nameEnd++
	}
	return BlockFSEntry{
		Name:      string(buf[0:nameEnd]),
		Size:      binary.LittleEndian.Uint32(buf[32:36]),
		SlotIndex: binary.LittleEndian.Uint32(buf[36:40]),
		InUse:     buf[40] != 0,
	}
}

func (b *BlockFS) loadEntries() bool {
	scratch := make([]byte, uint64(b.tableBlocks)*uint64(b.blockSize))
	if err := b.store.ReadBlocks(b.startLBA+1, scratch, b.tableBlocks); err != nil {
		return false
	}
	for i := 0; i < MaxBlockFiles; i++ {
		off := i * entryWireSize
		b.entries[i] = decodeEntry(scratch[off : off+entryWireSize])
	}
	return true
}

func (b *BlockFS) syncEntries() {
	scratch := make([]byte, uint64(b.tableBlocks)*uint64(b.blockSize))
	for i, e := range b.entries {
		off := i * entryWireSize
		encodeEntry(e, scratch[off:off+entryWireSize])
	}
	_ = b.store.WriteBlocks(b.startLBA+1, scratch, b.tableBlocks)
}

// IsMounted reports whether Mount has succeeded.
func (b *BlockFS) IsMounted() bool { return b.mounted }

func (b *BlockFS) findEntry(name string) (int, bool) {
	for i, e := range b.entries {
		if e.InUse && e.Name == name {
			return i, true
		}
	}
	return -1, false
}

func (b *BlockFS) findFree() (int, bool) {
	for i, e := range b.entries {
		if !e.InUse {
			return i, true
		}
	}
	return -1, false
}

// Open finds or, if create is set, creates a named entry.
func (b *BlockFS) Open(name string, create bool) (*BlockFSEntry, bool) {
	if !b.mounted || name == "" {
		return nil, false
	}
	if len(name) > nameMax {
		name = name[:nameMax]
	}
	if i, ok := b.findEntry(name); ok {
		return &b.entries[i], true
	}
	if !create {
		return nil, false
	}
	i, ok := b.findFree()
	if !ok {
		return nil, false
	}
	b.entries[i].Name = name
	b.entries[i].Size = 0
	b.entries[i].InUse = true
	b.syncEntries()
	return &b.entries[i], true
}

// Read copies up to len(buf) bytes of entry's data starting at offset.
func (b *BlockFS) Read(entry *BlockFSEntry, offset uint64, buf []byte) (int, error) {
	if !b.mounted || entry == nil {
		return 0, ErrNotMounted
	}
	if !entry.InUse || offset >= uint64(entry.Size) {
		return 0, nil
	}
	available := uint64(entry.Size) - offset
	toRead := uint64(len(buf))
	if toRead > available {
		toRead = available
	}
	if toRead == 0 {
		return 0, nil
	}
	lbaBase := b.dataStartLBA + uint64(entry.SlotIndex)*uint64(b.slotBlocks)
	return b.blockReadAt(lbaBase, offset, buf[:toRead])
}

// Write writes buf into entry's data region starting at offset, growing
// Size if the write extends past the current end.
func (b *BlockFS) Write(entry *BlockFSEntry, offset uint64, buf []byte) (int, error) {
	if !b.mounted || entry == nil {
		return 0, ErrNotMounted
	}
	if !entry.InUse || offset >= uint64(b.slotSize) {
		return 0, nil
	}
	maxLen := uint64(b.slotSize) - offset
	toWrite := uint64(len(buf))
	if toWrite > maxLen {
		toWrite = maxLen
	}
	if toWrite == 0 {
		return 0, nil
	}
	lbaBase := b.dataStartLBA + uint64(entry.SlotIndex)*uint64(b.slotBlocks)
	n, err := b.blockWriteAt(lbaBase, offset, buf[:toWrite])
	if err == nil && n > 0 {
		newSize := offset + uint64(n)
		if uint32(newSize) > entry.Size {
			entry.Size = uint32(newSize)
			b.syncEntries()
		}
	}
	return n, err
}

// blockReadAt performs a block-aligned read-modify-read for an
// arbitrarily offset/length request within one file's slot region.
func (b *BlockFS) blockReadAt(lbaBase, fileOff uint64, out []byte) (int, error) {
	bs := uint64(b.blockSize)
	remaining := uint64(len(out))
	written := 0
	scratch := make([]byte, bs)
	for remaining > 0 {
		lba := lbaBase + fileOff/bs
		blockOff := fileOff % bs
		if err := b.store.ReadBlocks(lba, scratch, 1); err != nil {
			return written, err
		}
		take := bs - blockOff
		if take > remaining {
			take = remaining
		}
		copy(out[written:written+int(take)], scratch[blockOff:blockOff+take])
		fileOff += take
		remaining -= take
		written += int(take)
	}
	return written, nil
}

// blockWriteAt performs a block-aligned read-modify-write for an
// arbitrarily offset/length request within one file's slot region.
func (b *BlockFS) blockWriteAt(lbaBase, fileOff uint64, in []byte) (int, error) {
	bs := uint64(b.blockSize)
	remaining := uint64(len(in))
	written := 0
	scratch := make([]byte, bs)
	for remaining > 0 {
		lba := lbaBase + fileOff/bs
		blockOff := fileOff % bs
		take := bs - blockOff
		if take > remaining {
			take = remaining
		}
		if blockOff != 0 || take != bs {
			if err := b.store.ReadBlocks(lba, scratch, 1); err != nil {
				return written, err
			}
		}
		copy(scratch[blockOff:blockOff+take], in[written:written+int(take)])
		if err := b.store.WriteBlocks(lba, scratch, 1); err != nil {
			return written, err
		}
		fileOff += take
		remaining -= take
		written += int(take)
	}
	return written, nil
}

// Truncate resets entry's logical size to zero without freeing its slot.
func (b *BlockFS) Truncate(entry *BlockFSEntry) bool {
	if !b.mounted || entry == nil || !entry.InUse {
		return false
	}
	entry.Size = 0
	b.syncEntries()
	return true
}

// Remove frees the entry named name. Data bytes are not zeroed, matching
// the original's behavior (spec.md section 9: deletion leaves stale bytes
// readers must not rely on being cleared).
func (b *BlockFS) Remove(name string) bool {
	if !b.mounted {
		return false
	}
	i, ok := b.findEntry(name)
	if !ok {
		return false
	}
	b.entries[i].Name = ""
	b.entries[i].Size = 0
	b.entries[i].InUse = false
	b.syncEntries()
	return true
}

// List returns the names of all in-use entries.
func (b *BlockFS) List() []string {
	var names []string
	for _, e := range b.entries {
		if e.InUse {
			names = append(names, e.Name)
		}
	}
	return names
}

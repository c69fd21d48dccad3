// Package device implements the small capability-record device table
// spec.md section 4.L calls for: console, null, zero, loopback, block, and
// net devices, each a struct of function values rather than an interface
// hierarchy, mirroring biscuit's devfops_t/dev_t pattern (spec.md section
// 9: "virtual-method device tables... replaced by a small capability
// record per device kind").
package device

import (
	"bytes"
	"sync"

	"github.com/justanotherdot-student/toriskernel/internal/blockdev"
	"github.com/justanotherdot-student/toriskernel/internal/proc"
)

// Kind identifies a device's major number, matching biscuit's dev_t.
type Kind int

const (
	KindConsole Kind = iota
	KindNull
	KindZero
	KindLoopback
	KindBlock
	KindNet
)

// Ready flags mirror biscuit's ready_t poll bits.
type Ready uint8

const (
	RRead  Ready = 1 << 0
	RWrite Ready = 1 << 1
)

// Ops is the capability record for one device: function values rather
// than an interface, so a device can be constructed as a plain literal
// the way biscuit builds &devfops_t{...}.
type Ops struct {
	Kind  Kind
	Minor int

	Open  func() proc.Errno
	Close func() proc.Errno
	Read  func(dst []byte) (int, proc.Errno)
	Write func(src []byte) (int, proc.Errno)
	Ioctl func(cmd uint64, arg uint64) (int64, proc.Errno)
	Poll  func(want Ready) Ready
}

// NewNull returns the /dev/null device: reads report EOF, writes succeed
// discarding all bytes.
func NewNull() *Ops {
	return &Ops{
		Kind:  KindNull,
		Open:  func() proc.Errno { return proc.OK },
		Close: func() proc.Errno { return proc.OK },
		Read:  func(dst []byte) (int, proc.Errno) { return 0, proc.OK },
		Write: func(src []byte) (int, proc.Errno) { return len(src), proc.OK },
		Poll:  func(want Ready) Ready { return want },
	}
}

// NewZero returns the /dev/zero device: reads fill with zero bytes.
func NewZero() *Ops {
	return &Ops{
		Kind: KindZero,
		Open: func() proc.Errno { return proc.OK },
		Close: func() proc.Errno { return proc.OK },
		Read: func(dst []byte) (int, proc.Errno) {
			for i := range dst {
				dst[i] = 0
			}
			return len(dst), proc.OK
		},
		Write: func(src []byte) (int, proc.Errno) { return len(src), proc.OK },
		Poll:  func(want Ready) Ready { return want },
	}
}

// Console is a byte-buffered console device, a hosted stand-in for
// biscuit's cons_t kbd/com1 input path (main.go's kbd_daemon): Feed
// appends input (standing in for keyboard/serial IRQ delivery), Read drains
// it FIFO. Input is not split into lines; Read returns whatever bytes are
// buffered, up to len(dst).
type Console struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

// Feed appends input bytes as if they arrived from the keyboard/serial IRQ.
func (c *Console) Feed(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buf.Write(data)
}

// Ops returns the device capability record for this console.
func (c *Console) Ops() *Ops {
	return &Ops{
		Kind:  KindConsole,
		Open:  func() proc.Errno { return proc.OK },
		Close: func() proc.Errno { return proc.OK },
		Read: func(dst []byte) (int, proc.Errno) {
			c.mu.Lock()
			defer c.mu.Unlock()
			sz, _ := c.buf.Read(dst)
			return sz, proc.OK
		},
		Write: func(src []byte) (int, proc.Errno) {
			// console output goes to the process's log, not modeled here;
			// report all bytes accepted.
			return len(src), proc.OK
		},
		Poll: func(want Ready) Ready {
			c.mu.Lock()
			defer c.mu.Unlock()
			var r Ready
			if want&RRead != 0 && c.buf.Len() > 0 {
				r |= RRead
			}
			if want&RWrite != 0 {
				r |= RWrite
			}
			return r
		},
	}
}

// Loopback is a simple in-memory byte pipe standing in for the loopback
// network device (spec.md section 4.L device table).
type Loopback struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (l *Loopback) Ops() *Ops {
	return &Ops{
		Kind:  KindLoopback,
		Open:  func() proc.Errno { return proc.OK },
		Close: func() proc.Errno { return proc.OK },
		Read: func(dst []byte) (int, proc.Errno) {
			l.mu.Lock()
			defer l.mu.Unlock()
			sz, _ := l.buf.Read(dst)
			return sz, proc.OK
		},
		Write: func(src []byte) (int, proc.Errno) {
			l.mu.Lock()
			defer l.mu.Unlock()
			sz, _ := l.buf.Write(src)
			return sz, proc.OK
		},
		Poll: func(want Ready) Ready {
			l.mu.Lock()
			defer l.mu.Unlock()
			var r Ready
			if want&RRead != 0 && l.buf.Len() > 0 {
				r |= RRead
			}
			if want&RWrite != 0 {
				r |= RWrite
			}
			return r
		},
	}
}

// IoctlSeekLBA positions a Block device's read/write cursor at a given
// logical block address, since Ops.Read/Write carry no offset parameter.
const IoctlSeekLBA = 1

// Block exposes a raw blockdev.BlockDevice as a device, standing in for the
// UEFI/virtio-blk block protocol spec.md section 6 describes ("byte-level
// read-modify-write at the VFS edge translates to aligned block
// operations"); BlockFS mounts on top of the same store at /persist, this
// is the raw device at /dev/block.
type Block struct {
	mu    sync.Mutex
	store blockdev.BlockDevice
	lba   uint64
}

// Ops returns the device capability record for this block device. Reads
// and writes transfer len(buf)/BlockSize() whole blocks, starting at the
// cursor set by the most recent Ioctl(IoctlSeekLBA, lba); the cursor then
// advances past them. A trailing partial block is not transferred, and a
// buffer shorter than one block is rejected with INVAL.
func (b *Block) Ops() *Ops {
	return &Ops{
		Kind: KindBlock,
		Open: func() proc.Errno { return proc.OK },
		Close: func() proc.Errno { return proc.OK },
		Read: func(dst []byte) (int, proc.Errno) {
			b.mu.Lock()
			defer b.mu.Unlock()
			count := uint32(len(dst)) / b.store.BlockSize()
			if count == 0 {
				return 0, proc.INVAL
			}
			if err := b.store.ReadBlocks(b.lba, dst, count); err != nil {
				return 0, proc.IO
			}
			b.lba += uint64(count)
			return int(count * b.store.BlockSize()), proc.OK
		},
		Write: func(src []byte) (int, proc.Errno) {
			b.mu.Lock()
			defer b.mu.Unlock()
			count := uint32(len(src)) / b.store.BlockSize()
			if count == 0 {
				return 0, proc.INVAL
			}
			if err := b.store.WriteBlocks(b.lba, src, count); err != nil {
				return 0, proc.IO
			}
			b.lba += uint64(count)
			return int(count * b.store.BlockSize()), proc.OK
		},
		Ioctl: func(cmd uint64, arg uint64) (int64, proc.Errno) {
			b.mu.Lock()
			defer b.mu.Unlock()
			if cmd != IoctlSeekLBA {
				return 0, proc.INVAL
			}
			b.lba = arg
			return 0, proc.OK
		},
		Poll: func(want Ready) Ready { return want },
	}
}

// NewBlock builds the /dev/block device over store.
func NewBlock(store blockdev.BlockDevice) *Block {
	return &Block{store: store}
}

// Net is a minimal stand-in for the virtio-net device spec.md section 6
// describes (ARP responder, UDP echo server, HTTP-over-UDP): real
// link-layer framing is the bare-metal bring-up spec.md section 1 puts
// out of core scope, so this models only the observable behavior closest
// to the core's concern, an echo: whatever is written is returned by the
// next read, exactly like the UDP echo server's contract.
type Net struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (n *Net) Ops() *Ops {
	return &Ops{
		Kind: KindNet,
		Open: func() proc.Errno { return proc.OK },
		Close: func() proc.Errno { return proc.OK },
		Read: func(dst []byte) (int, proc.Errno) {
			n.mu.Lock()
			defer n.mu.Unlock()
			sz, _ := n.buf.Read(dst)
			return sz, proc.OK
		},
		Write: func(src []byte) (int, proc.Errno) {
			n.mu.Lock()
			defer n.mu.Unlock()
			sz, _ := n.buf.Write(src)
			return sz, proc.OK
		},
		Poll: func(want Ready) Ready {
			n.mu.Lock()
			defer n.mu.Unlock()
			var r Ready
			if want&RRead != 0 && n.buf.Len() > 0 {
				r |= RRead
			}
			if want&RWrite != 0 {
				r |= RWrite
			}
			return r
		},
	}
}

// NewNet builds the /dev/net device.
func NewNet() *Net { return &Net{} }

// Table is the /dev namespace: device name to capability record.
type Table struct {
	devices map[string]*Ops
}

// NewTable builds the default device table with console, null, zero, and
// loopback wired up; block and net devices are registered separately by
// the caller once a BlockFS/NIC backend is attached (spec.md 4.L; real
// virtio-blk/virtio-net bring-up is out of core scope per spec.md 1).
func NewTable(console *Ops) *Table {
	t := &Table{devices: make(map[string]*Ops)}
	t.Register("console", console)
	t.Register("null", NewNull())
	t.Register("zero", NewZero())
	t.Register("loopback", (&Loopback{}).Ops())
	return t
}

// Register adds or replaces a device by name.
func (t *Table) Register(name string, ops *Ops) { t.devices[name] = ops }

// Lookup returns the device registered under name, or nil.
func (t *Table) Lookup(name string) *Ops { return t.devices[name] }

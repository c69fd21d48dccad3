package syscalls

import "github.com/justanotherdot-student/toriskernel/internal/proc"

// PipeCapacity bounds a pipe's in-flight byte count (spec.md section 1
// non-goal: "pipes beyond bounded queues... are not targets" — a fixed
// ring buffer is the bounded queue that remains in scope).
const PipeCapacity = 4096

// pipe is a fixed-capacity byte ring shared by a read end and a write
// end's file descriptors.
type pipe struct {
	buf        [PipeCapacity]byte
	r, w, n    int
	readerOpen bool
	writerOpen bool
}

func newPipe() *pipe { return &pipe{readerOpen: true, writerOpen: true} }

func (p *pipe) read(dst []byte) (int, proc.Errno) {
	if p.n == 0 {
		if !p.writerOpen {
			return 0, proc.OK // EOF
		}
		return 0, proc.AGAIN
	}
	n := 0
	for n < len(dst) && p.n > 0 {
		dst[n] = p.buf[p.r]
		p.r = (p.r + 1) % PipeCapacity
		p.n--
		n++
	}
	return n, proc.OK
}

func (p *pipe) write(src []byte) (int, proc.Errno) {
	if !p.readerOpen {
		return 0, proc.IO
	}
	room := PipeCapacity - p.n
	if room == 0 {
		return 0, proc.AGAIN
	}
	n := 0
	for n < len(src) && p.n < PipeCapacity {
		p.buf[p.w] = src[n]
		p.w = (p.w + 1) % PipeCapacity
		p.n++
		n++
	}
	return n, proc.OK
}

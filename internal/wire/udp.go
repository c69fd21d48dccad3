package wire

import (
	"context"
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"net"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// frameMagic and frameVersion identify this module's wire frames, standing
// in for spec.md section 6's Ethernet-custom-ethertype framing — this
// transport runs over UDP instead of raw Ethernet frames, since a hosted
// Go process has no access to a NIC's link layer.
const (
	frameMagic   uint32 = 0x544f5258 // "TORX"
	frameVersion uint16 = 1

	frameKindData uint8 = 0
	frameKindAck  uint8 = 1

	// headerSize: magic(4) version(2) kind(1) torusID(1) seq(8)
	// payloadHash(8) payloadLen(4).
	headerSize = 4 + 2 + 1 + 1 + 8 + 8 + 4
)

type frameHeader struct {
	magic       uint32
	version     uint16
	kind        uint8
	torusID     uint8
	seq         uint64
	payloadHash uint64
	payloadLen  uint32
}

func (h frameHeader) marshal() []byte {
	b := make([]byte, headerSize)
	binary.LittleEndian.PutUint32(b[0:4], h.magic)
	binary.LittleEndian.PutUint16(b[4:6], h.version)
	b[6] = h.kind
	b[7] = h.torusID
	binary.LittleEndian.PutUint64(b[8:16], h.seq)
	binary.LittleEndian.PutUint64(b[16:24], h.payloadHash)
	binary.LittleEndian.PutUint32(b[24:28], h.payloadLen)
	return b
}

func unmarshalHeader(b []byte) (frameHeader, error) {
	if len(b) < headerSize {
		return frameHeader{}, fmt.Errorf("wire: frame too short (%d bytes)", len(b))
	}
	h := frameHeader{
		magic:       binary.LittleEndian.Uint32(b[0:4]),
		version:     binary.LittleEndian.Uint16(b[4:6]),
		kind:        b[6],
		torusID:     b[7],
		seq:         binary.LittleEndian.Uint64(b[8:16]),
		payloadHash: binary.LittleEndian.Uint64(b[16:24]),
		payloadLen:  binary.LittleEndian.Uint32(b[24:28]),
	}
	if h.magic != frameMagic {
		return frameHeader{}, fmt.Errorf("wire: bad frame magic %#x", h.magic)
	}
	return h, nil
}

// UDPTransport implements Transport over UDP sockets, one per instance:
// instance i listens on basePort+i (see NewUDPTransport). Each socket is
// opened with SO_REUSEPORT, so another socket on the same host (a second
// transport in another process or test) can bind the same ports.
type UDPTransport struct {
	port  int
	peers [NumInstances]*net.UDPAddr

	mu      sync.Mutex
	conns   [NumInstances]*net.UDPConn
	inboxes [NumInstances][NumInstances]latest // inboxes[from][to]
	acked   [NumInstances][NumInstances]uint64 // acked[from][to] = highest seq `to` has acked for `from`

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type latest struct {
	payload []byte
	seq     uint64
	fresh   bool
}

// reusePortControl sets SO_REUSEPORT on the listening socket (grounded on
// the pack's golang.org/x/sys/unix usage for low-level socket/file
// tuning), letting more than one socket on the host, such as a second
// transport in a local multi-process or multi-goroutine test, bind the
// same UDP port.
func reusePortControl(_, _ string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}

// NewUDPTransport binds one UDP socket per instance at host:port (each on
// its own port offset from the base, since a single process holding all
// three instances cannot usefully share one socket across logically
// distinct peers) and starts a receive loop per socket.
func NewUDPTransport(host string, basePort int) (*UDPTransport, error) {
	t := &UDPTransport{port: basePort}
	lc := net.ListenConfig{Control: reusePortControl}
	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel

	for i := 0; i < NumInstances; i++ {
		addr := fmt.Sprintf("%s:%d", host, basePort+i)
		pc, err := lc.ListenPacket(ctx, "udp", addr)
		if err != nil {
			t.Close()
			return nil, fmt.Errorf("wire: listen instance %d: %w", i, err)
		}
		conn := pc.(*net.UDPConn)
		t.conns[i] = conn
		resolved, err := net.ResolveUDPAddr("udp", addr)
		if err != nil {
			t.Close()
			return nil, err
		}
		t.peers[i] = resolved

		t.wg.Add(1)
		go t.recvLoop(ctx, i, conn)
	}
	return t, nil
}

// recvLoop services the socket owned by instance `owner`. A DATA frame
// carries the sender's torusID in its header; owner is always the
// receiver. An ACK frame carries the acking instance's torusID; owner is
// always the original sender being acked.
func (t *UDPTransport) recvLoop(ctx context.Context, owner int, conn *net.UDPConn) {
	defer t.wg.Done()
	buf := make([]byte, headerSize+ringPayloadSize)
	for {
		conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		n, raddr, err := conn.ReadFromUDP(buf)
		select {
		case <-ctx.Done():
			return
		default:
		}
		if err != nil {
			continue
		}
		h, err := unmarshalHeader(buf[:n])
		if err != nil {
			continue
		}
		peer := int(h.torusID)
		if peer < 0 || peer >= NumInstances {
			continue
		}

		if h.kind == frameKindAck {
			t.mu.Lock()
			if h.seq > t.acked[owner][peer] {
				t.acked[owner][peer] = h.seq
			}
			t.mu.Unlock()
			continue
		}

		payload := make([]byte, h.payloadLen)
		copy(payload, buf[headerSize:n])
		sum := fnv.New64a()
		sum.Write(payload)
		if sum.Sum64() != h.payloadHash {
			continue // spec.md section 7: hash mismatch is a drop, not a fault
		}

		t.mu.Lock()
		t.inboxes[peer][owner] = latest{payload: payload, seq: h.seq, fresh: true}
		t.mu.Unlock()

		ackHdr := frameHeader{magic: frameMagic, version: frameVersion, kind: frameKindAck, torusID: uint8(owner), seq: h.seq}
		conn.WriteToUDP(ackHdr.marshal(), raddr)
	}
}

// Send transmits payload from instance `from`'s socket to instance
// `to`'s socket, resending every RetryInterval until an ack for seq is
// observed or RetryBudget elapses.
func (t *UDPTransport) Send(from, to int, seq uint64, payload []byte) error {
	if len(payload) > ringPayloadSize {
		return fmt.Errorf("wire: payload of %d bytes exceeds frame capacity %d", len(payload), ringPayloadSize)
	}
	sum := fnv.New64a()
	sum.Write(payload)
	h := frameHeader{
		magic: frameMagic, version: frameVersion, kind: frameKindData,
		torusID: uint8(from), seq: seq, payloadHash: sum.Sum64(), payloadLen: uint32(len(payload)),
	}
	frame := append(h.marshal(), payload...)

	deadline := time.Now().Add(RetryBudget)
	ticker := time.NewTicker(RetryInterval)
	defer ticker.Stop()
	for {
		if _, err := t.conns[from].WriteToUDP(frame, t.peers[to]); err != nil {
			return fmt.Errorf("wire: send to instance %d: %w", to, err)
		}
		t.mu.Lock()
		acked := t.acked[from][to] >= seq
		t.mu.Unlock()
		if acked {
			return nil
		}
		if time.Now().After(deadline) {
			return ErrAckTimeout
		}
		<-ticker.C
	}
}

// Poll returns the latest payload instance `to` has received from
// instance `from`, clearing its freshness flag.
func (t *UDPTransport) Poll(from, to int) ([]byte, uint64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	l := t.inboxes[from][to]
	if !l.fresh {
		return nil, 0, false
	}
	t.inboxes[from][to].fresh = false
	return l.payload, l.seq, true
}

// Close cancels the receive loops and closes every socket.
func (t *UDPTransport) Close() error {
	if t.cancel != nil {
		t.cancel()
	}
	var firstErr error
	for _, c := range t.conns {
		if c == nil {
			continue
		}
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	t.wg.Wait()
	return firstErr
}

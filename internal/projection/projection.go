// Package projection implements the fixed-size, hash-integrity-protected
// summary of one instance's state (spec.md section 3 and 4.E): a value
// type copied by transport, never shared mutably, whose state_hash is an
// FNV-1a fold over every other field (original_source's ProjectionV3.h).
package projection

import (
	"bytes"
	"encoding/binary"
	"hash/fnv"
)

const (
	BoundarySize           = 1024
	LegacyConstraintDim    = 16
	NumBoundaryConstraints = 32
	NumGlobalConstraints   = 4
	MaxProcesses           = 64
)

// HealthStatus mirrors spec.md section 3's heartbeat health enumeration.
type HealthStatus uint32

const (
	Healthy HealthStatus = iota
	Degraded
	Failed
)

// GlobalConstraintType enumerates the system-wide quantities a global
// constraint can check (spec.md section 3).
type GlobalConstraintType uint32

const (
	GCNone GlobalConstraintType = iota
	GCEventConservation
	GCTimeSync
	GCLoadBalance
	GCCustom = 255
)

// BoundaryConstraint is one sampled-cell expectation (spec.md section 3).
type BoundaryConstraint struct {
	CellIndex      uint32
	ExpectedState  int32
	Tolerance      int32
}

// Active reports whether this slot holds a real constraint; unused slots
// are marked with the sentinel cell index 0xFFFFFFFF.
func (b BoundaryConstraint) Active() bool { return b.CellIndex != 0xFFFFFFFF }

// Violated reports whether actual deviates from ExpectedState by more
// than Tolerance.
func (b BoundaryConstraint) Violated(actual int32) bool {
	d := actual - b.ExpectedState
	if d < 0 {
		d = -d
	}
	return d > b.Tolerance
}

// Correction returns the nudge to apply: expected - actual.
func (b BoundaryConstraint) Correction(actual int32) int32 { return b.ExpectedState - actual }

// GlobalConstraint is one system-wide quantity expectation.
type GlobalConstraint struct {
	Type          GlobalConstraintType
	ExpectedValue int64
	Tolerance     int64
}

func (g GlobalConstraint) Active() bool { return g.Type != GCNone }

func (g GlobalConstraint) Violated(actual int64) bool {
	d := actual - g.ExpectedValue
	if d < 0 {
		d = -d
	}
	return d > g.Tolerance
}

func (g GlobalConstraint) Deviation(actual int64) int64 { return actual - g.ExpectedValue }

// ProcessInfo is one sampled process entry (spec.md section 3). Unused
// slots are marked by ProcessID == sentinel.
type ProcessInfo struct {
	ProcessID uint32
	X, Y, Z   int16
	State     uint32
}

const ProcessSentinel = 0xFFFFFFFF

func (p ProcessInfo) Active() bool { return p.ProcessID != ProcessSentinel }

// Projection is the fixed-size instance-state summary (spec.md section 3).
type Projection struct {
	InstanceID uint32
	Timestamp  uint64

	TotalEventsProcessed uint64
	CurrentTime          uint64
	ActiveProcesses      uint32
	PendingEvents        uint32
	EdgeCount            uint32

	BoundarySample [BoundarySize]uint32

	LegacyConstraintVector [LegacyConstraintDim]int32

	BoundaryConstraints [NumBoundaryConstraints]BoundaryConstraint
	GlobalConstraints   [NumGlobalConstraints]GlobalConstraint

	HeartbeatTimestamp uint64
	HealthStatus       HealthStatus

	Processes    [MaxProcesses]ProcessInfo
	NumProcesses uint32

	// Seq is the per-source sequence number used by the braid exchange to
	// accept only monotonically-advancing projections (spec.md 4.F). It is
	// part of the hashed payload so a replayed/out-of-order frame cannot be
	// silently re-accepted by forging only the header.
	Seq uint64

	StateHash uint64
}

// ComputeHash folds every field except StateHash itself through FNV-1a
// (offset 14695981039346656037, prime 1099511628211, per spec.md 4.E),
// including all MaxProcesses process slots (id, coordinates and state)
// and NumProcesses.
func (p *Projection) ComputeHash() uint64 {
	h := fnv.New64a()
	var buf [8]byte

	writeU64 := func(v uint64) {
		binary.LittleEndian.PutUint64(buf[:], v)
		h.Write(buf[:])
	}
	writeU32 := func(v uint32) {
		var b4 [4]byte
		binary.LittleEndian.PutUint32(b4[:], v)
		h.Write(b4[:])
	}
	writeI32 := func(v int32) { writeU32(uint32(v)) }
	writeI64 := func(v int64) { writeU64(uint64(v)) }

	writeU32(p.InstanceID)
	writeU64(p.Timestamp)
	writeU64(p.TotalEventsProcessed)
	writeU64(p.CurrentTime)
	writeU32(p.ActiveProcesses)
	writeU32(p.PendingEvents)
	writeU32(p.EdgeCount)

	for _, v := range p.BoundarySample {
		writeU32(v)
	}
	for _, v := range p.LegacyConstraintVector {
		writeI32(v)
	}
	for _, c := range p.BoundaryConstraints {
		writeU32(c.CellIndex)
		writeI32(c.ExpectedState)
		writeI32(c.Tolerance)
	}
	for _, c := range p.GlobalConstraints {
		writeU32(uint32(c.Type))
		writeI64(c.ExpectedValue)
		writeI64(c.Tolerance)
	}

	writeU64(p.HeartbeatTimestamp)
	writeU32(uint32(p.HealthStatus))

	for _, pr := range p.Processes {
		writeU32(pr.ProcessID)
		packed := uint64(uint16(pr.X))<<32 | uint64(uint16(pr.Y))<<16 | uint64(uint16(pr.Z))
		writeU64(packed)
		writeU32(pr.State)
	}
	writeU32(p.NumProcesses)

	writeU64(p.Seq)

	return h.Sum64()
}

// Seal computes and stores StateHash; call after fully populating a
// Projection and before handing it to a transport.
func (p *Projection) Seal() { p.StateHash = p.ComputeHash() }

// Verify reports whether ComputeHash() matches StateHash, i.e. whether the
// projection is internally consistent (spec.md section 8, property 5).
func (p *Projection) Verify() bool { return p.ComputeHash() == p.StateHash }

// wireSize is a compile-time constant independent of process/event count
// (spec.md section 8, property 6): every field above is fixed-size.
const wireSize = 4 + 8 + 8 + 8 + 4 + 4 + 4 +
	BoundarySize*4 +
	LegacyConstraintDim*4 +
	NumBoundaryConstraints*(4+4+4) +
	NumGlobalConstraints*(4+8+8) +
	8 + 4 +
	MaxProcesses*(4+2+2+2+4) + 4 +
	8 + 8

// WireSize returns the fixed serialized byte length of a Projection.
func WireSize() int { return wireSize }

// Serialize writes p as fixed-size little-endian bytes (spec.md 4.E).
func Serialize(p *Projection) []byte {
	buf := new(bytes.Buffer)
	buf.Grow(wireSize)
	w := func(v interface{}) { binary.Write(buf, binary.LittleEndian, v) }

	w(p.InstanceID)
	w(p.Timestamp)
	w(p.TotalEventsProcessed)
	w(p.CurrentTime)
	w(p.ActiveProcesses)
	w(p.PendingEvents)
	w(p.EdgeCount)
	w(p.BoundarySample)
	w(p.LegacyConstraintVector)
	for _, c := range p.BoundaryConstraints {
		w(c.CellIndex)
		w(c.ExpectedState)
		w(c.Tolerance)
	}
	for _, c := range p.GlobalConstraints {
		w(uint32(c.Type))
		w(c.ExpectedValue)
		w(c.Tolerance)
	}
	w(p.HeartbeatTimestamp)
	w(uint32(p.HealthStatus))
	for _, pr := range p.Processes {
		w(pr.ProcessID)
		w(pr.X)
		w(pr.Y)
		w(pr.Z)
		w(pr.State)
	}
	w(p.NumProcesses)
	w(p.Seq)
	w(p.StateHash)

	return buf.Bytes()
}

// Deserialize parses exactly WireSize() bytes into a Projection, rejecting
// input of any other length and input whose StateHash does not match its
// contents (spec.md 4.E: "deserialize checks length and hash").
func Deserialize(data []byte) (*Projection, error) {
	if len(data) != wireSize {
		return nil, errWrongLength(len(data))
	}
	r := bytes.NewReader(data)
	p := &Projection{}
	read := func(v interface{}) { binary.Read(r, binary.LittleEndian, v) }

	read(&p.InstanceID)
	read(&p.Timestamp)
	read(&p.TotalEventsProcessed)
	read(&p.CurrentTime)
	read(&p.ActiveProcesses)
	read(&p.PendingEvents)
	read(&p.EdgeCount)
	read(&p.BoundarySample)
	read(&p.LegacyConstraintVector)
	for i := range p.BoundaryConstraints {
		read(&p.BoundaryConstraints[i].CellIndex)
		read(&p.BoundaryConstraints[i].ExpectedState)
		read(&p.BoundaryConstraints[i].Tolerance)
	}
	for i := range p.GlobalConstraints {
		var t uint32
		read(&t)
		p.GlobalConstraints[i].Type = GlobalConstraintType(t)
		read(&p.GlobalConstraints[i].ExpectedValue)
		read(&p.GlobalConstraints[i].Tolerance)
	}
	read(&p.HeartbeatTimestamp)
	var hs uint32
	read(&hs)
	p.HealthStatus = HealthStatus(hs)
	for i := range p.Processes {
		read(&p.Processes[i].ProcessID)
		read(&p.Processes[i].X)
		read(&p.Processes[i].Y)
		read(&p.Processes[i].Z)
		read(&p.Processes[i].State)
	}
	read(&p.NumProcesses)
	read(&p.Seq)
	read(&p.StateHash)

	if !p.Verify() {
		return nil, errHashMismatch{}
	}
	return p, nil
}

type errHashMismatch struct{}

func (errHashMismatch) Error() string { return "projection: hash mismatch" }

type errWrongLength int

func (e errWrongLength) Error() string {
	return "projection: wrong wire length"
}

// IsAlive reports whether the instance this projection describes should be
// considered live given currentTime and a heartbeat timeout (spec.md 4.H).
func (p *Projection) IsAlive(currentTime, timeout uint64) bool {
	if p.HealthStatus == Failed {
		return false
	}
	return currentTime-p.HeartbeatTimestamp < timeout
}

// TimeSinceHeartbeat returns currentTime - HeartbeatTimestamp.
func (p *Projection) TimeSinceHeartbeat(currentTime uint64) uint64 {
	return currentTime - p.HeartbeatTimestamp
}

// InitBoundaryConstraints fills all 32 boundary constraints by sampling
// every 32nd boundary cell with the given default tolerance, matching
// original_source's ProjectionV3::initializeBoundaryConstraints.
func (p *Projection) InitBoundaryConstraints(defaultTolerance int32) {
	for i := 0; i < NumBoundaryConstraints; i++ {
		cellIdx := uint32(i * 32)
		var expected int32
		if int(cellIdx) < len(p.BoundarySample) {
			expected = int32(p.BoundarySample[cellIdx])
		}
		p.BoundaryConstraints[i] = BoundaryConstraint{
			CellIndex:     cellIdx,
			ExpectedState: expected,
			Tolerance:     defaultTolerance,
		}
	}
}

// InitGlobalConstraints fills the 4 global constraint slots from the
// projection's own current aggregate counters, matching
// original_source's ProjectionV3::initializeGlobalConstraints.
func (p *Projection) InitGlobalConstraints() {
	p.GlobalConstraints[0] = GlobalConstraint{
		Type: GCEventConservation, ExpectedValue: int64(p.TotalEventsProcessed), Tolerance: 1000,
	}
	p.GlobalConstraints[1] = GlobalConstraint{
		Type: GCTimeSync, ExpectedValue: int64(p.CurrentTime), Tolerance: 1000,
	}
	p.GlobalConstraints[2] = GlobalConstraint{
		Type: GCLoadBalance, ExpectedValue: int64(p.ActiveProcesses), Tolerance: 100,
	}
	p.GlobalConstraints[3] = GlobalConstraint{Type: GCNone}
}

// Package braid implements the coordinator / braid exchange (spec.md
// section 4.F): extracting bounded projections from each torus instance,
// transporting them between peers, applying constraints cyclically, and
// adapting the braid interval to the observed violation rate. Two
// concurrency flavours share this file's types: the sequential engine in
// sequential.go and the parallel engine in parallel.go.
package braid

import (
	"time"

	"github.com/justanotherdot-student/toriskernel/internal/constraint"
	"github.com/justanotherdot-student/toriskernel/internal/projection"
	"github.com/justanotherdot-student/toriskernel/internal/torus"
	"github.com/justanotherdot-student/toriskernel/internal/wire"
	"github.com/sirupsen/logrus"
)

// Label identifies one of the three braided instances.
type Label int

const (
	A Label = iota
	B
	C
)

func (l Label) String() string {
	switch l {
	case A:
		return "A"
	case B:
		return "B"
	case C:
		return "C"
	default:
		return "?"
	}
}

// Phase is the coordinator's round-robin position (spec.md 4.F).
type Phase int

const (
	AProjects Phase = iota
	BProjects
	CProjects
)

func (p Phase) Next() Phase { return (p + 1) % 3 }

// Adaptive braid-interval bounds and violation-rate thresholds (spec.md
// 4.F; original_source TorusBraidV4::MIN_BRAID_INTERVAL et al.).
const (
	MinBraidInterval   uint64  = 100
	MaxBraidInterval   uint64  = 10000
	ViolationThreshold float64 = 0.05
	adaptWarmupCycles  uint64  = 10
)

// Statistics accumulates the lifetime counters TorusBraidV4::printStatistics
// reports (original_source TorusBraidV4.h), carried forward per
// SPEC_FULL.md's SUPPLEMENTED FEATURES section.
type Statistics struct {
	BraidCycles             uint64
	TotalBoundaryViolations uint64
	TotalGlobalViolations   uint64
	TotalCorrectiveEvents   uint64
	TotalProjectionExchanges uint64
	TotalFailuresDetected   uint64
	TotalReconstructions    uint64
	TotalMigrations         uint64
	TotalTicks              [3]uint64
}

// ViolationRate is the cumulative violations-per-cycle rate
// adaptBraidInterval reacts to: a running total divided by braid_cycles,
// not a sliding window (SPEC_FULL.md SUPPLEMENTED FEATURES / DESIGN.md
// Open Question decision: cumulative, matching the original literally).
func (s *Statistics) ViolationRate() float64 {
	if s.BraidCycles == 0 {
		return 0
	}
	return float64(s.TotalBoundaryViolations+s.TotalGlobalViolations) / float64(s.BraidCycles)
}

// Coordinator holds the braid state shared by both concurrency flavours:
// the current phase, per-peer last-accepted projections, the adaptive
// interval, and lifetime statistics.
type Coordinator struct {
	RunID string

	Phase              Phase
	BraidInterval       uint64
	HeartbeatTimeout    uint64
	LastProjection      [3]*projection.Projection
	lastSeq             [3]uint64

	Stats Statistics

	Constraints *constraint.Engine

	log *logrus.Entry
}

// NewCoordinator builds a coordinator with the given initial braid
// interval (heartbeat_timeout = 3 x braid_interval, spec.md 4.F).
func NewCoordinator(runID string, initialInterval uint64, engine *constraint.Engine, log *logrus.Entry) *Coordinator {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Coordinator{
		RunID:            runID,
		BraidInterval:    initialInterval,
		HeartbeatTimeout: initialInterval * 3,
		Constraints:      engine,
		log:              log.WithField("run_id", runID),
	}
}

// Extract builds a fresh, sealed Projection from a torus Runtime's live
// state (spec.md 4.E): aggregate counters, one boundary face sample, up
// to 64 active processes, heartbeat, and constraint vectors already
// configured on proto (the coordinator owns constraint configuration per
// instance and stamps it onto every extraction).
func Extract(instanceID uint32, r *torus.Runtime, seq uint64, now uint64, proto *projection.Projection) *projection.Projection {
	p := &projection.Projection{
		InstanceID:           instanceID,
		Timestamp:            now,
		TotalEventsProcessed: r.TotalEventsProcessed,
		CurrentTime:          r.CurrentTime,
		ActiveProcesses:      uint32(r.ActiveProcesses()),
		PendingEvents:        uint32(r.PendingEvents()),
		EdgeCount:            uint32(r.EdgeCount()),
		HeartbeatTimestamp:   now,
		HealthStatus:         projection.Healthy,
		Seq:                  seq,
	}
	copy(p.BoundarySample[:], r.Lattice.BoundaryFace())

	if proto != nil {
		p.BoundaryConstraints = proto.BoundaryConstraints
		p.GlobalConstraints = proto.GlobalConstraints
	}

	i := 0
	for pid, pr := range snapshotProcesses(r) {
		if i >= projection.MaxProcesses {
			break
		}
		p.Processes[i] = pr
		i++
		_ = pid
	}
	for ; i < projection.MaxProcesses; i++ {
		p.Processes[i].ProcessID = projection.ProcessSentinel
	}
	p.NumProcesses = uint32(clampProcessCount(r.ActiveProcesses()))

	p.Seal()
	return p
}

// carryProjection routes p from instance `from` to instance `to` over t
// (spec.md section 6: shmem ring or UDP transport). A nil transport is the
// in-process-pointer transport, returning p unchanged. Send blocks until
// Poll observes the matching ack, so it runs in its own goroutine while
// this call polls concurrently; a timeout, deserialize error, or hash
// mismatch is a dropped exchange for this cycle, not a fault (spec.md
// section 7), signaled by a nil return; an ack timeout is also logged.
func carryProjection(t wire.Transport, from, to int, p *projection.Projection) *projection.Projection {
	if t == nil {
		return p
	}

	payload := projection.Serialize(p)
	sendDone := make(chan error, 1)
	go func() { sendDone <- t.Send(from, to, p.Seq, payload) }()

	deadline := time.Now().Add(wire.RetryBudget)
	for time.Now().Before(deadline) {
		if got, seq, ok := t.Poll(from, to); ok && seq == p.Seq {
			out, err := projection.Deserialize(got)
			<-sendDone
			if err != nil || !out.Verify() {
				return nil
			}
			return out
		}
		time.Sleep(time.Millisecond)
	}
	if err := <-sendDone; err == wire.ErrAckTimeout {
		logrus.WithFields(logrus.Fields{"from": from, "to": to, "seq": p.Seq}).Warn("ack timeout")
	}
	return nil
}

func clampProcessCount(n int) int {
	if n > projection.MaxProcesses {
		return projection.MaxProcesses
	}
	return n
}

// snapshotProcesses walks r's scheduler and returns one ProcessInfo per
// active process, keyed by pid, for Extract's process sample.
func snapshotProcesses(r *torus.Runtime) map[uint32]projection.ProcessInfo {
	out := make(map[uint32]projection.ProcessInfo)
	for _, p := range r.Sched.Snapshot() {
		out[p.PID] = projection.ProcessInfo{
			ProcessID: p.PID,
			X:         int16(p.X),
			Y:         int16(p.Y),
			Z:         int16(p.Z),
			State:     uint32(p.State()),
		}
	}
	return out
}

// Accept validates and records an incoming projection from peer, applying
// the seq-ordering/idempotent-duplicate rule (spec.md 4.F): a projection
// older than the last accepted value is discarded, and one with the same
// hash as the currently retained projection is a no-op.
func (c *Coordinator) Accept(peer Label, p *projection.Projection) bool {
	if p == nil || !p.Verify() {
		return false
	}
	if p.Seq < c.lastSeq[peer] {
		return false
	}
	if cur := c.LastProjection[peer]; cur != nil && cur.StateHash == p.StateHash {
		return true
	}
	c.LastProjection[peer] = p
	c.lastSeq[peer] = p.Seq
	c.Stats.TotalProjectionExchanges++
	return true
}

// AdaptBraidInterval reacts to the cumulative violation rate, matching
// original_source's TorusBraidV4::adaptBraidInterval exactly: no
// adjustment before 10 cycles have elapsed, then a 20% interval decrease
// above the 5% violation threshold or a 20% increase below half that
// threshold, clamped to [MinBraidInterval, MaxBraidInterval].
func (c *Coordinator) AdaptBraidInterval() {
	if c.Stats.BraidCycles < adaptWarmupCycles {
		return
	}
	rate := c.Stats.ViolationRate()
	cur := c.BraidInterval
	next := cur

	switch {
	case rate > ViolationThreshold:
		next = uint64(float64(cur) * 0.8)
		if next < MinBraidInterval {
			next = MinBraidInterval
		}
		c.log.WithField("violation_rate", rate).Infof("high violation rate -> decreasing interval to %d", next)
	case rate < ViolationThreshold/2:
		next = uint64(float64(cur) * 1.2)
		if next > MaxBraidInterval {
			next = MaxBraidInterval
		}
		c.log.WithField("violation_rate", rate).Infof("low violation rate -> increasing interval to %d", next)
	}

	c.BraidInterval = next
	c.HeartbeatTimeout = next * 3
}

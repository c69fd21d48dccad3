package braid

import (
	"github.com/justanotherdot-student/toriskernel/internal/constraint"
	"github.com/justanotherdot-student/toriskernel/internal/reconstruct"
	"github.com/justanotherdot-student/toriskernel/internal/torus"
	"github.com/justanotherdot-student/toriskernel/internal/wire"
)

// Sequential runs the three instance ticks and the braid exchange on one
// cooperative loop (spec.md 4.F, V3): suspension points are tick()
// boundaries and explicit BraidExchange calls, so ordering is fully
// deterministic.
type Sequential struct {
	Coordinator *Coordinator
	Instances   [3]*torus.Runtime
	Reconstructor *reconstruct.Reconstructor

	// Transport carries each cycle's projection to its peers over the
	// configured wire (spec.md section 6); nil means the projection is
	// handed to Constraints.Evaluate directly as an in-process pointer,
	// one of spec.md 4.F's three valid transports.
	Transport wire.Transport

	seqCounter [3]uint64
	tickCount  uint64
}

// NewSequential builds a V3 coordinator driving three already-constructed
// instance runtimes.
func NewSequential(coord *Coordinator, a, b, c *torus.Runtime, recon *reconstruct.Reconstructor) *Sequential {
	return &Sequential{Coordinator: coord, Instances: [3]*torus.Runtime{a, b, c}, Reconstructor: recon}
}

// Step advances each instance by one tick, and, once braid_interval ticks
// have accumulated, runs one braid exchange cycle.
func (s *Sequential) Step() {
	for _, r := range s.Instances {
		if r.Tick() {
			s.Coordinator.Stats.TotalTicks[r.InstanceID]++
		}
	}
	s.tickCount++
	if s.tickCount >= s.Coordinator.BraidInterval {
		s.tickCount = 0
		s.BraidExchange()
	}
}

// BraidExchange runs one full cycle: extract a projection from the
// instance whose turn it is per the rotating phase, apply constraints at
// the other two, check liveness, adapt the interval, and rotate phase
// (spec.md 4.F steps 1-4).
func (s *Sequential) BraidExchange() {
	sender := int(s.Coordinator.Phase)
	src := s.Instances[sender]

	s.seqCounter[sender]++
	proto := s.Coordinator.LastProjection[sender]
	p := Extract(uint32(sender), src, s.seqCounter[sender], src.CurrentTime, proto)

	if !s.Coordinator.Accept(Label(sender), p) {
		return
	}

	s.Coordinator.Constraints.ResetCycle()
	for i, r := range s.Instances {
		if i == sender {
			continue
		}
		proj := carryProjection(s.Transport, sender, i, p)
		if proj == nil {
			continue // ack timeout or hash mismatch: drop, cycle still advances (spec.md section 7)
		}
		res, _ := s.Coordinator.Constraints.Evaluate(i, r, proj)
		s.Coordinator.Stats.TotalBoundaryViolations += uint64(res.BoundaryViolations)
		s.Coordinator.Stats.TotalGlobalViolations += uint64(res.GlobalViolations)
		s.Coordinator.Stats.TotalCorrectiveEvents += uint64(len(res.CorrectiveEvents))
		if res.MigrationRequested {
			if ok := migrateInto(res.MigratePID, src, r); ok {
				s.Coordinator.Stats.TotalMigrations++
			}
		}
	}

	s.checkFailures(p.Timestamp)

	s.Coordinator.Stats.BraidCycles++
	s.Coordinator.AdaptBraidInterval()
	s.Coordinator.Phase = s.Coordinator.Phase.Next()
}

func migrateInto(pid uint32, heavier, lighter *torus.Runtime) bool {
	return constraint.Migrate(pid, heavier, lighter)
}

func (s *Sequential) checkFailures(now uint64) {
	for i, p := range s.Coordinator.LastProjection {
		if p == nil {
			continue
		}
		if !p.IsAlive(now, s.Coordinator.HeartbeatTimeout) {
			s.Coordinator.Stats.TotalFailuresDetected++
			survivors := s.survivingInstances(i)
			if len(survivors) == 0 {
				continue // all others also look dead; nothing to redistribute onto
			}
			if err := s.Reconstructor.Reconstruct(s.Instances[i], p, survivors); err != nil {
				continue
			}
			s.Coordinator.Stats.TotalReconstructions++
			s.Coordinator.LastProjection[i] = nil
		}
	}
}

func (s *Sequential) survivingInstances(failed int) []*torus.Runtime {
	var out []*torus.Runtime
	for i, r := range s.Instances {
		if i == failed {
			continue
		}
		peer := s.Coordinator.LastProjection[i]
		if peer != nil && !peer.IsAlive(s.Instances[failed].CurrentTime, s.Coordinator.HeartbeatTimeout) {
			continue
		}
		out = append(out, r)
	}
	return out
}

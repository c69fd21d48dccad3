// Package constraint implements the constraint engine (spec.md section
// 4.G): given a received projection, check boundary and global
// constraints against local instance state, emit corrective events on
// violation, and rate-limit process migration to balance load across
// instances.
package constraint

import (
	"github.com/hashicorp/go-multierror"
	"github.com/justanotherdot-student/toriskernel/internal/events"
	"github.com/justanotherdot-student/toriskernel/internal/proc"
	"github.com/justanotherdot-student/toriskernel/internal/projection"
	"github.com/justanotherdot-student/toriskernel/internal/torus"
)

// KLoad is the active-process slack that triggers load migration
// (spec.md 4.G: "P.active_processes exceeds L.active_processes + k_load").
const KLoad = 3

// Result summarizes one constraint-check pass against a received
// projection: counts for the braid coordinator's statistics, plus the
// corrective events to enqueue.
type Result struct {
	BoundaryViolations int
	GlobalViolations   int
	CorrectiveEvents   []events.Event
	MigrationRequested bool
	MigratePID         uint32
}

// Engine owns the per-instance migration rate limiter (spec.md 4.G:
// "migration rate-limited to at most one per instance per braid cycle").
type Engine struct {
	migratedThisCycle map[int]bool
}

// NewEngine builds a constraint engine with an empty migration ledger.
func NewEngine() *Engine {
	return &Engine{migratedThisCycle: make(map[int]bool)}
}

// ResetCycle clears the per-cycle migration ledger; the coordinator calls
// this once per braid cycle before evaluating any peer projection.
func (e *Engine) ResetCycle() {
	e.migratedThisCycle = make(map[int]bool)
}

// Evaluate checks peer's boundary and global constraints against local's
// live state, returning a Result. local is the instance doing the
// checking (the "L" in spec.md 4.G); localID names it for the migration
// rate limiter.
func (e *Engine) Evaluate(localID int, local *torus.Runtime, peer *projection.Projection) (Result, error) {
	var res Result
	var errs *multierror.Error

	for _, bc := range peer.BoundaryConstraints {
		if !bc.Active() {
			continue
		}
		x, y, actual := local.Lattice.OpposingFaceValue(int(bc.CellIndex))
		if bc.Violated(int32(actual)) {
			res.BoundaryViolations++
			correction := bc.Correction(int32(actual))
			dst := local.Lattice.NodeID(x, y, 0)
			if err := local.Queue.Push(events.Event{
				Timestamp: local.CurrentTime,
				Dst:       dst,
				Src:       dst,
				Payload:   int64(correction),
			}); err != nil {
				errs = multierror.Append(errs, err)
			} else {
				res.CorrectiveEvents = append(res.CorrectiveEvents, events.Event{Dst: dst, Payload: int64(correction)})
			}
		}
	}

	for _, gc := range peer.GlobalConstraints {
		if !gc.Active() {
			continue
		}
		var actual int64
		switch gc.Type {
		case projection.GCEventConservation:
			actual = int64(local.TotalEventsProcessed)
		case projection.GCTimeSync:
			actual = int64(local.CurrentTime)
		case projection.GCLoadBalance:
			actual = int64(local.ActiveProcesses())
		default:
			continue
		}
		if gc.Violated(actual) {
			res.GlobalViolations++
		}
	}

	if !e.migratedThisCycle[localID] {
		if int(peer.ActiveProcesses) > local.ActiveProcesses()+KLoad {
			if pid, ok := pickMigratable(peer); ok {
				res.MigrationRequested = true
				res.MigratePID = pid
				e.migratedThisCycle[localID] = true
			}
		}
	}

	return res, errs.ErrorOrNil()
}

// pickMigratable chooses one READY process from peer's process sample to
// move off the heavier instance; RUNNING and BLOCKED processes are left
// in place since moving them would require mid-execution context
// transfer that is undefined.
func pickMigratable(peer *projection.Projection) (uint32, bool) {
	for i := uint32(0); i < peer.NumProcesses && i < projection.MaxProcesses; i++ {
		info := peer.Processes[i]
		if info.Active() && info.State == uint32(proc.READY) {
			return info.ProcessID, true
		}
	}
	return 0, false
}

// Migrate removes pid's process from src's scheduler and lattice voxel
// and adds it to dst's scheduler and lattice, at the coordinates it last
// occupied. The process's data is cloned before src releases its pool
// slot, since dst draws its own slot from its own arena rather than
// reusing src's (spec.md 4.A: arenas are per-instance, never shared).
func Migrate(pid uint32, src, dst *torus.Runtime) bool {
	p := src.Sched.Lookup(pid)
	if p == nil {
		return false
	}
	if p.State() != proc.READY {
		return false
	}
	template := p.Clone()
	if err := src.Lattice.Remove(pid, p.X, p.Y, p.Z); err != nil {
		return false
	}
	if !src.Sched.Remove(p) {
		return false
	}
	template.InstanceID = dst.InstanceID
	if err := dst.Lattice.Insert(pid, template.X, template.Y, template.Z); err != nil {
		return false
	}
	if _, err := dst.Sched.Add(template); err != nil {
		return false
	}
	return true
}

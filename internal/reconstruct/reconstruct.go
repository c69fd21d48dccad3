// Package reconstruct implements the failure detector & reconstructor
// (spec.md section 4.H): when a braid peer's heartbeat times out, the
// coordinator redistributes its last-known processes across surviving
// instances round-robin, resets the failed instance's arenas in place,
// and restores its clock and event counter from its own last valid
// projection — all without allocating or deallocating memory.
package reconstruct

import (
	"errors"

	"github.com/justanotherdot-student/toriskernel/internal/projection"
	"github.com/justanotherdot-student/toriskernel/internal/proc"
	"github.com/justanotherdot-student/toriskernel/internal/torus"
	"github.com/sirupsen/logrus"
)

// ErrNoSurvivors reports the edge case spec.md 4.H calls out: if two
// instances are dead simultaneously, reconstruction of the second is
// deferred rather than attempted against zero survivors.
var ErrNoSurvivors = errors.New("reconstruct: no surviving instances to redistribute onto")

// Reconstructor drives arena reset + rehydration for one failed instance.
type Reconstructor struct {
	log *logrus.Entry
}

// New builds a reconstructor.
func New(log *logrus.Entry) *Reconstructor {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Reconstructor{log: log}
}

// Reconstruct performs the full sequence against failed, using its own
// last valid projection lastGood and the list of currently-alive peer
// runtimes to redistribute processes onto.
func (rc *Reconstructor) Reconstruct(failed *torus.Runtime, lastGood *projection.Projection, survivors []*torus.Runtime) error {
	if len(survivors) == 0 {
		rc.log.WithField("instance", failed.InstanceID).Error("CRITICAL: cannot reconstruct, no surviving instances")
		return ErrNoSurvivors
	}

	rc.redistribute(lastGood, survivors)

	failed.Reset()

	rc.rehydrate(failed, lastGood)

	rc.log.WithField("instance", failed.InstanceID).Info("instance reconstructed and marked healthy")
	return nil
}

// redistribute recreates each active process from lastGood's sample on
// the surviving instances in round-robin order, preserving the process's
// last-known lattice coordinates.
func (rc *Reconstructor) redistribute(lastGood *projection.Projection, survivors []*torus.Runtime) {
	i := 0
	for _, pi := range lastGood.Processes {
		if !pi.Active() {
			continue
		}
		dst := survivors[i%len(survivors)]
		i++

		p := proc.NewProcess(pi.ProcessID, 0, dst.InstanceID)
		p.X, p.Y, p.Z = int(pi.X), int(pi.Y), int(pi.Z)
		p.SetState(proc.State(pi.State))
		pt, err := dst.Vmem.NewPageTable()
		if err != nil {
			rc.log.WithError(err).Warn("redistribution: out of page tables, dropping process")
			continue
		}
		p.PageTable = pt
		if err := dst.Lattice.Insert(pi.ProcessID, p.X, p.Y, p.Z); err != nil {
			rc.log.WithError(err).Warn("redistribution: lattice insert failed, dropping process")
			dst.Vmem.FreePageTable(pt)
			continue
		}
		if _, err := dst.Sched.Add(p); err != nil {
			rc.log.WithError(err).Warn("redistribution: out of process slots, dropping process")
			dst.Vmem.FreePageTable(pt)
			if err := dst.Lattice.Remove(pi.ProcessID, p.X, p.Y, p.Z); err != nil {
				rc.log.WithError(err).Warn("redistribution: lattice remove failed while unwinding dropped process")
			}
			continue
		}
	}
}

// rehydrate restores the failed instance's clock (CurrentTime) and
// TotalEventsProcessed from its last valid projection (spec.md 4.H step
// 3). Runtime has no heartbeat or health field of its own: the next
// projection extracted from it reports the restored clock as its
// heartbeat and HEALTHY status. The projection's process sample is not
// restored here; those processes were redistributed to the survivors.
func (rc *Reconstructor) rehydrate(failed *torus.Runtime, lastGood *projection.Projection) {
	failed.CurrentTime = lastGood.CurrentTime
	failed.TotalEventsProcessed = lastGood.TotalEventsProcessed
}

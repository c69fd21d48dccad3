package braid

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/justanotherdot-student/toriskernel/internal/constraint"
	"github.com/justanotherdot-student/toriskernel/internal/projection"
	"github.com/justanotherdot-student/toriskernel/internal/reconstruct"
	"github.com/justanotherdot-student/toriskernel/internal/torus"
	"github.com/justanotherdot-student/toriskernel/internal/wire"
	"golang.org/x/sync/errgroup"
)

// barrier is a reusable N-party rendezvous point, the Go equivalent of
// original_source's std::barrier<> (TorusBraidV4.h: "Synchronization
// barrier (4 threads: 3 tori + 1 coordinator)"). Arrive blocks until all
// parties for the current generation have called it, then releases them
// together; the barrier resets automatically for the next generation.
type barrier struct {
	mu      sync.Mutex
	cond    *sync.Cond
	parties int
	count   int
	gen     uint64
}

func newBarrier(parties int) *barrier {
	b := &barrier{parties: parties}
	b.cond = sync.NewCond(&b.mu)
	return b
}

func (b *barrier) arrive() {
	b.mu.Lock()
	defer b.mu.Unlock()
	gen := b.gen
	b.count++
	if b.count == b.parties {
		b.count = 0
		b.gen++
		b.cond.Broadcast()
		return
	}
	for gen == b.gen {
		b.cond.Wait()
	}
}

// doubleBuffer is a lock-free (under the Go memory model's happens-before
// guarantee from atomic.Pointer) single-writer/multi-reader slot, mirroring
// TorusBraidV4::ProjectionBuffer's release-store/acquire-load pattern via
// Go's atomic.Pointer instead of raw memory orders.
type doubleBuffer struct {
	current atomic.Pointer[projection.Projection]
}

func (d *doubleBuffer) write(p *projection.Projection) { d.current.Store(p) }
func (d *doubleBuffer) read() *projection.Projection    { return d.current.Load() }

// Parallel runs the three instances on three goroutines and the
// coordinator on a fourth, synchronized by a 4-party barrier each braid
// cycle (spec.md 4.F, V4): workers write a projection into a
// double-buffer, arrive at the barrier, the coordinator applies
// constraints while workers wait, then all four arrive again to resume.
type Parallel struct {
	Coordinator   *Coordinator
	Instances     [3]*torus.Runtime
	Reconstructor *reconstruct.Reconstructor

	// Transport carries each cycle's projection to its peers over the
	// configured wire (spec.md section 6); nil means the projection is
	// handed to Constraints.Evaluate directly as an in-process pointer.
	Transport wire.Transport

	buffers    [3]doubleBuffer
	barrier    *barrier
	ticksPerExchange int
	seqCounter [3]uint64

	stopping atomic.Bool
}

// NewParallel builds a V4 engine over the same three instances a
// Sequential engine would drive.
func NewParallel(coord *Coordinator, a, b, c *torus.Runtime, recon *reconstruct.Reconstructor, ticksPerExchange int) *Parallel {
	if ticksPerExchange <= 0 {
		ticksPerExchange = 1
	}
	return &Parallel{
		Coordinator:      coord,
		Instances:        [3]*torus.Runtime{a, b, c},
		Reconstructor:    recon,
		barrier:          newBarrier(4),
		ticksPerExchange: ticksPerExchange,
	}
}

// Run drives cycles braid cycles of the V4 engine using an errgroup to
// own the three worker goroutines and the coordinator goroutine's
// lifecycle: the group returns the first worker error (if any) and
// cancels the rest via ctx.
func (p *Parallel) Run(ctx context.Context, cycles int) error {
	g, ctx := errgroup.WithContext(ctx)

	for i := 0; i < 3; i++ {
		i := i
		g.Go(func() error { return p.worker(ctx, i, cycles) })
	}
	g.Go(func() error { return p.coordinate(ctx, cycles) })

	return g.Wait()
}

// worker runs instance i's event loop for ticksPerExchange ticks, writes
// a fresh projection into its double-buffer, then arrives at the
// barrier; it does this once per requested cycle, never touching peer
// state directly (spec.md 4.F: "without reaching into peer state").
func (p *Parallel) worker(ctx context.Context, i int, cycles int) error {
	r := p.Instances[i]
	for c := 0; c < cycles; c++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.Run(p.ticksPerExchange)
		p.Coordinator.Stats.TotalTicks[i] += uint64(p.ticksPerExchange)

		p.seqCounter[i]++
		proto := p.Coordinator.LastProjection[i]
		proj := Extract(uint32(i), r, p.seqCounter[i], r.CurrentTime, proto)
		p.buffers[i].write(proj)

		p.barrier.arrive() // release coordinator to apply constraints
		p.barrier.arrive() // wait for coordinator to finish this cycle
	}
	return nil
}

// coordinate reads each worker's freshly written projection once per
// cycle, applies constraints against the other two instances, adapts the
// interval, and rotates phase. It runs no heartbeat liveness check and no
// reconstruction: a silent instance is never detected as failed by this
// engine, and Reconstructor is not called from it.
func (p *Parallel) coordinate(ctx context.Context, cycles int) error {
	for c := 0; c < cycles; c++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p.barrier.arrive() // wait for all three workers to publish

		p.Coordinator.Constraints.ResetCycle()
		for i := 0; i < 3; i++ {
			proj := p.buffers[i].read()
			if proj == nil || !p.Coordinator.Accept(Label(i), proj) {
				continue
			}
			for j := 0; j < 3; j++ {
				if j == i {
					continue
				}
				carried := carryProjection(p.Transport, i, j, proj)
				if carried == nil {
					continue // ack timeout or hash mismatch: drop, cycle still advances (spec.md section 7)
				}
				res, _ := p.Coordinator.Constraints.Evaluate(j, p.Instances[j], carried)
				p.Coordinator.Stats.TotalBoundaryViolations += uint64(res.BoundaryViolations)
				p.Coordinator.Stats.TotalGlobalViolations += uint64(res.GlobalViolations)
				p.Coordinator.Stats.TotalCorrectiveEvents += uint64(len(res.CorrectiveEvents))
				if res.MigrationRequested {
					if constraint.Migrate(res.MigratePID, p.Instances[i], p.Instances[j]) {
						p.Coordinator.Stats.TotalMigrations++
					}
				}
			}
		}

		p.Coordinator.Stats.BraidCycles++
		p.Coordinator.AdaptBraidInterval()
		p.Coordinator.Phase = p.Coordinator.Phase.Next()

		p.barrier.arrive() // release workers for the next cycle
	}
	return nil
}

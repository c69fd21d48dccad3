// Package torus implements the per-instance runtime kernel (spec.md
// section 4.D): the tick/run loop that dequeues an event, applies the
// node rule, propagates successor events along outgoing edges with
// adaptive delay, and advances the instance's monotonic clock.
package torus

import (
	"github.com/justanotherdot-student/toriskernel/internal/events"
	"github.com/justanotherdot-student/toriskernel/internal/lattice"
	"github.com/justanotherdot-student/toriskernel/internal/sched"
	"github.com/justanotherdot-student/toriskernel/internal/vmem"
	"github.com/sirupsen/logrus"
)

// Runtime owns one torus instance's event-driven core: the lattice,
// event queue, delay map, scheduler, and virtual-memory manager it drives.
type Runtime struct {
	InstanceID int

	CurrentTime          uint64
	TotalEventsProcessed uint64
	DroppedEvents        uint64

	Lattice *lattice.Lattice
	Queue   *events.Queue
	Delays  *events.DelayMap
	Sched   *sched.Scheduler
	Vmem    *vmem.Manager

	// NodeState accumulates the per-node payload the node rule folds
	// incoming events into (spec.md 4.D step 3: "accumulate payload into
	// the process's state").
	NodeState map[uint64]int64

	log *logrus.Entry
}

// New builds a Runtime for the given instance, wiring the already
// constructed lattice/queue/delay-map/scheduler/vmem handles together.
func New(instanceID int, lat *lattice.Lattice, q *events.Queue, delays *events.DelayMap, s *sched.Scheduler, vm *vmem.Manager, log *logrus.Entry) *Runtime {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Runtime{
		InstanceID: instanceID,
		Lattice:    lat,
		Queue:      q,
		Delays:     delays,
		Sched:      s,
		Vmem:       vm,
		NodeState:  make(map[uint64]int64),
		log:        log.WithField("instance", instanceID),
	}
}

// Enqueue pushes an initial or externally-injected event (e.g. from the
// constraint engine, spec.md 4.G), reporting a drop via DroppedEvents on
// a full queue rather than failing the caller.
func (r *Runtime) Enqueue(e events.Event) {
	if err := r.Queue.Push(e); err != nil {
		r.DroppedEvents++
		r.log.WithError(err).Warn("event dropped: queue full")
	}
}

// applyNodeRule computes the node rule's successor payload: the
// accumulated state at dst_node, folded with the incoming payload. This
// is the "node rule" spec.md 4.D leaves implementation-defined beyond
// "accumulate payload... and compute a successor payload"; accumulation
// is a running sum, and the successor carries the post-accumulation
// value forward so delay-adaptive propagation has a nonzero signal to
// react to.
func (r *Runtime) applyNodeRule(e events.Event) int64 {
	next := r.NodeState[e.Dst] + e.Payload
	r.NodeState[e.Dst] = next
	return next
}

// Tick performs one iteration of the event loop: dequeue the smallest
// event, advance current_time, apply the node rule, and propagate along
// every outgoing edge of dst_node that exists in the delay map. Returns
// false if the queue was empty (nothing to do).
func (r *Runtime) Tick() bool {
	e, ok := r.Queue.Pop()
	if !ok {
		return false
	}
	if e.Timestamp > r.CurrentTime {
		r.CurrentTime = e.Timestamp
	}
	r.Sched.TickSleepers(r.CurrentTime)

	successor := r.applyNodeRule(e)
	active := successor != 0

	for _, to := range r.outgoingEdges(e.Dst) {
		key := events.EdgeKey{From: e.Dst, To: to}
		delay, ok := r.Delays.Traverse(key, active)
		if !ok {
			continue
		}
		r.Enqueue(events.Event{
			Timestamp: r.CurrentTime + uint64(delay),
			Dst:       to,
			Src:       e.Dst,
			Payload:   successor,
		})
	}

	r.TotalEventsProcessed++
	return true
}

// outgoingEdges returns every edge currently registered in the delay map
// whose From endpoint is node. The delay map has no adjacency index of
// its own (spec.md 4.C only requires O(1) lookup by key), so the runtime
// filters its edge list; EdgeCapacity (8192) bounds the cost.
func (r *Runtime) outgoingEdges(node uint64) []uint64 {
	var out []uint64
	for _, k := range r.Delays.Edges() {
		if k.From == node {
			out = append(out, k.To)
		}
	}
	return out
}

// Run invokes Tick up to maxEvents times or until the queue drains,
// whichever comes first (spec.md 4.D).
func (r *Runtime) Run(maxEvents int) int {
	n := 0
	for n < maxEvents {
		if !r.Tick() {
			break
		}
		n++
	}
	return n
}

// WireLatticeEdges registers a delay-map edge for every 6-neighbor pair
// in the lattice with the given initial delay, the setup-time topology
// construction spec.md 4.D assumes already exists before the event loop
// starts. It is fatal (per spec.md 4.C, "edge-full are fatal at setup
// time") if EdgeCapacity is too small for the lattice's size; the caller
// is expected to size W*H*D accordingly.
func (r *Runtime) WireLatticeEdges(initialDelay uint32) error {
	l := r.Lattice
	for z := 0; z < l.D; z++ {
		for y := 0; y < l.H; y++ {
			for x := 0; x < l.W; x++ {
				from := l.NodeID(x, y, z)
				for _, to := range l.Neighbors(x, y, z) {
					if err := r.Delays.CreateEdge(events.EdgeKey{From: from, To: to}, initialDelay); err != nil {
						return err
					}
				}
			}
		}
	}
	return nil
}

// Reset empties the lattice, event queue, delay map, scheduler, and vmem
// manager in place, and zeroes the running counters — the "reset arenas
// in place" step of reconstruction (spec.md 4.H): memory footprint stays
// O(1), no allocation or deallocation occurs.
func (r *Runtime) Reset() {
	r.Lattice.Reset()
	r.Queue.Reset()
	r.Delays.Reset()
	r.Sched.Reset()
	r.Vmem.Reset()
	r.NodeState = make(map[uint64]int64)
	r.CurrentTime = 0
	r.TotalEventsProcessed = 0
	r.DroppedEvents = 0
}

// PendingEvents, EdgeCount, ActiveProcesses mirror the projection codec's
// aggregate counters (spec.md section 3).
func (r *Runtime) PendingEvents() int   { return r.Queue.Len() }
func (r *Runtime) EdgeCount() int       { return r.Delays.Len() }
func (r *Runtime) ActiveProcesses() int { return r.Sched.ActiveProcesses() }

// Package events implements the deterministic min-priority event queue and
// the adaptive-delay edge map (spec.md section 4.C). The queue is backed
// by container/heap, the idiomatic Go priority queue; ordering ties break
// on (timestamp, dst, src) so two instances replaying the same input
// produce identical traces (spec.md section 8, property 3).
package events

import (
	"container/heap"
	"errors"
)

// Capacity is the fixed event-queue size (spec.md section 4.C).
const Capacity = 8192

// EdgeCapacity is the fixed delay-map size (spec.md section 4.C and 8).
const EdgeCapacity = 8192

// ErrQueueFull is returned by Push when the queue is already at Capacity.
var ErrQueueFull = errors.New("events: queue full")

// ErrEdgeMapFull is returned by CreateEdge past EdgeCapacity unique edges.
var ErrEdgeMapFull = errors.New("events: edge map full")

// Event is an immutable timestamped triple once enqueued.
type Event struct {
	Timestamp uint64
	Dst       uint64
	Src       uint64
	Payload   int64
}

// Less implements the canonical total order: (timestamp, dst, src) ascending.
func (e Event) Less(o Event) bool {
	if e.Timestamp != o.Timestamp {
		return e.Timestamp < o.Timestamp
	}
	if e.Dst != o.Dst {
		return e.Dst < o.Dst
	}
	return e.Src < o.Src
}

// innerHeap adapts []Event to container/heap.Interface.
type innerHeap []Event

func (h innerHeap) Len() int            { return len(h) }
func (h innerHeap) Less(i, j int) bool  { return h[i].Less(h[j]) }
func (h innerHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *innerHeap) Push(x interface{}) { *h = append(*h, x.(Event)) }
func (h *innerHeap) Pop() interface{} {
	old := *h
	n := len(old)
	v := old[n-1]
	*h = old[:n-1]
	return v
}

// Queue is a fixed-capacity min-heap of Event.
type Queue struct {
	h innerHeap
}

// NewQueue builds an empty queue. The heap grows lazily up to Capacity;
// Push enforces the fixed ceiling so the queue never exceeds it.
func NewQueue() *Queue {
	q := &Queue{h: make(innerHeap, 0, Capacity)}
	heap.Init(&q.h)
	return q
}

// Len returns the number of pending events.
func (q *Queue) Len() int { return q.h.Len() }

// Push enqueues e, or reports ErrQueueFull without reordering existing
// contents (spec.md section 8, "Queue full" boundary behaviour).
func (q *Queue) Push(e Event) error {
	if q.h.Len() >= Capacity {
		return ErrQueueFull
	}
	heap.Push(&q.h, e)
	return nil
}

// Pop removes and returns the smallest event by canonical order, and
// whether the queue was non-empty.
func (q *Queue) Pop() (Event, bool) {
	if q.h.Len() == 0 {
		return Event{}, false
	}
	return heap.Pop(&q.h).(Event), true
}

// Peek returns the smallest pending event without removing it.
func (q *Queue) Peek() (Event, bool) {
	if q.h.Len() == 0 {
		return Event{}, false
	}
	return q.h[0], true
}

// Reset empties the queue in place, used by the reconstructor when an
// instance is declared failed (spec.md 4.H).
func (q *Queue) Reset() {
	q.h = q.h[:0]
}

// EdgeKey identifies a directed edge by its endpoint node ids.
type EdgeKey struct {
	From, To uint64
}

// DelayMap is the bounded, adaptive-delay edge map (spec.md section 3/4.C).
type DelayMap struct {
	delays map[EdgeKey]uint32
	// order preserves insertion order so tests/iteration are deterministic.
	order []EdgeKey
}

// NewDelayMap builds an empty delay map.
func NewDelayMap() *DelayMap {
	return &DelayMap{delays: make(map[EdgeKey]uint32)}
}

// Len returns the number of distinct edges currently stored.
func (d *DelayMap) Len() int { return len(d.delays) }

// CreateEdge adds a new edge with the given initial delay, or reports
// ErrEdgeMapFull once EdgeCapacity unique edges already exist. Creating an
// edge that already exists overwrites its delay and does not count against
// capacity again.
func (d *DelayMap) CreateEdge(k EdgeKey, initialDelay uint32) error {
	if _, exists := d.delays[k]; !exists && len(d.delays) >= EdgeCapacity {
		return ErrEdgeMapFull
	}
	if _, exists := d.delays[k]; !exists {
		d.order = append(d.order, k)
	}
	if initialDelay == 0 {
		initialDelay = 1
	}
	d.delays[k] = initialDelay
	return nil
}

// Delay returns the current delay for k and whether the edge exists.
func (d *DelayMap) Delay(k EdgeKey) (uint32, bool) {
	v, ok := d.delays[k]
	return v, ok
}

// Traverse applies the delay-update policy for a traversal of k: active
// (non-zero) payloads decrement the delay, clamped to a floor of 1;
// inactive payloads increment it with no upper clamp beyond uint32 wrap,
// matching spec.md 4.C and the Open Question in section 9 (the growth is
// deliberately left unbounded; Go's unsigned wraparound applies exactly as
// the original C++'s uint64_t would). Traverse returns the post-update
// delay, or (0, false) if the edge does not exist.
func (d *DelayMap) Traverse(k EdgeKey, payloadActive bool) (uint32, bool) {
	cur, ok := d.delays[k]
	if !ok {
		return 0, false
	}
	if payloadActive {
		if cur > 1 {
			cur--
		} else {
			cur = 1
		}
	} else {
		cur++
	}
	d.delays[k] = cur
	return cur, true
}

// Reset empties the delay map in place, used by the reconstructor when
// an instance is declared failed (spec.md 4.H). Edges are expected to be
// rewired by the caller afterward (torus.Runtime.WireLatticeEdges).
func (d *DelayMap) Reset() {
	d.delays = make(map[EdgeKey]uint32)
	d.order = nil
}

// Edges returns all edge keys in insertion order.
func (d *DelayMap) Edges() []EdgeKey {
	out := make([]EdgeKey, len(d.order))
	copy(out, d.order)
	return out
}

// Package sched implements the per-instance cooperative round-robin
// scheduler (spec.md section 4.I): READY processes take turns as the
// current RUNNING process, BLOCKED processes wait on an event, and
// ZOMBIEs wait to be reaped.
package sched

import (
	"github.com/justanotherdot-student/toriskernel/internal/arena"
	"github.com/justanotherdot-student/toriskernel/internal/proc"
)

// noCurrent marks that no process occupies the RUNNING slot.
const noCurrent = -1

// Scheduler owns the three process lists for one instance, backed by a
// fixed-capacity arena.Pool[proc.Process] rather than unbounded heap
// allocation (spec.md 4.A: "arenas are the only allocator the core
// uses"). The lists and the pid index hold pool slot indices, not
// pointers (spec.md section 9: "cross-references are by opaque id, not
// by pointer"); Lookup/Current/Snapshot/Tick dereference through the pool
// on demand. Unlike biscuit's global allprocs map, the Scheduler here is
// an explicit value passed to every caller (spec.md section 9:
// "thread-local mutable globals... replaced by a handle passed
// explicitly").
type Scheduler struct {
	pool *arena.Pool[proc.Process]

	ready   []int
	blocked []int
	zombies []int
	current int

	byPID map[uint32]int
}

// New builds an empty scheduler with room for exactly capacity live
// processes (typically config.ArenaConfig.MaxProcesses, the same bound
// internal/vmem's page-table pool uses).
func New(capacity int) *Scheduler {
	return &Scheduler{
		pool:    arena.New[proc.Process](capacity),
		current: noCurrent,
		byPID:   make(map[uint32]int),
	}
}

// Add acquires a fresh pool slot and initializes it from template's
// fields (typically built with proc.NewProcess as a throwaway
// descriptor), registering the result as READY and returning the
// pool-owned process. Returns arena.ErrFull once the scheduler's process
// capacity is exhausted.
func (s *Scheduler) Add(template *proc.Process) (*proc.Process, error) {
	idx, err := s.pool.Acquire()
	if err != nil {
		return nil, err
	}
	p := s.pool.At(idx)
	p.PID = template.PID
	p.ParentPID = template.ParentPID
	p.InstanceID = template.InstanceID
	p.Priority = template.Priority
	p.TimeSlice = template.TimeSlice
	p.CPU = template.CPU
	p.PageTable = template.PageTable
	p.Mem = template.Mem
	p.FDs = template.FDs
	p.X, p.Y, p.Z = template.X, template.Y, template.Z
	p.Children = append([]uint32(nil), template.Children...)
	p.WakeAt = template.WakeAt
	p.Signals = template.Signals
	p.SetState(proc.READY)

	s.byPID[p.PID] = idx
	s.ready = append(s.ready, idx)
	return p, nil
}

// Lookup returns the process with the given pid, or nil.
func (s *Scheduler) Lookup(pid uint32) *proc.Process {
	idx, ok := s.byPID[pid]
	if !ok {
		return nil
	}
	return s.pool.At(idx)
}

// idxOf returns p's pool slot index by pid, the opaque handle Block/Wake/
// Exit/Remove operate on internally.
func (s *Scheduler) idxOf(p *proc.Process) (int, bool) {
	idx, ok := s.byPID[p.PID]
	return idx, ok
}

// Current returns the process currently RUNNING on this instance, or nil.
func (s *Scheduler) Current() *proc.Process {
	if s.current == noCurrent {
		return nil
	}
	return s.pool.At(s.current)
}

// ReadyCount, BlockedCount, ZombieCount expose list lengths for invariant
// checks (spec.md 4.I: active_processes == READY + RUNNING + BLOCKED).
func (s *Scheduler) ReadyCount() int   { return len(s.ready) }
func (s *Scheduler) BlockedCount() int { return len(s.blocked) }
func (s *Scheduler) ZombieCount() int  { return len(s.zombies) }

// ActiveProcesses is READY + RUNNING + BLOCKED, i.e. everything but
// ZOMBIE/reaped, matching the projection's active_processes counter.
func (s *Scheduler) ActiveProcesses() int {
	n := len(s.ready) + len(s.blocked)
	if s.current != noCurrent {
		n++
	}
	return n
}

// Snapshot returns every READY/RUNNING/BLOCKED process, used by the
// projection codec to sample active processes (spec.md section 4.E).
func (s *Scheduler) Snapshot() []*proc.Process {
	out := make([]*proc.Process, 0, s.ActiveProcesses())
	if s.current != noCurrent {
		out = append(out, s.pool.At(s.current))
	}
	for _, idx := range s.ready {
		out = append(out, s.pool.At(idx))
	}
	for _, idx := range s.blocked {
		out = append(out, s.pool.At(idx))
	}
	return out
}

// Tick selects the next READY process (round-robin: the head of the ready
// list), demotes the previously running process back to READY (it "yields
// back to READY" per spec.md's process lifecycle), and returns the new
// current process, or nil if nothing is ready.
func (s *Scheduler) Tick() *proc.Process {
	if s.current != noCurrent {
		cur := s.pool.At(s.current)
		if cur.State() == proc.RUNNING {
			cur.SetState(proc.READY)
			s.ready = append(s.ready, s.current)
			s.current = noCurrent
		}
	}
	if len(s.ready) == 0 {
		return nil
	}
	nextIdx := s.ready[0]
	s.ready = s.ready[1:]
	next := s.pool.At(nextIdx)
	next.SetState(proc.RUNNING)
	s.current = nextIdx
	return next
}

// Block moves p from RUNNING/READY into the blocked list, e.g. on a wait()
// syscall with no zombie child yet.
func (s *Scheduler) Block(p *proc.Process) {
	idx, ok := s.idxOf(p)
	if !ok {
		return
	}
	p.SetState(proc.BLOCKED)
	if s.current == idx {
		s.current = noCurrent
	} else {
		s.removeFromReady(idx)
	}
	s.blocked = append(s.blocked, idx)
}

// Wake moves p from blocked back to ready, e.g. when a child exits and
// satisfies a pending wait.
func (s *Scheduler) Wake(p *proc.Process) {
	idx, ok := s.idxOf(p)
	if !ok {
		return
	}
	for i, b := range s.blocked {
		if b == idx {
			s.blocked = append(s.blocked[:i], s.blocked[i+1:]...)
			break
		}
	}
	p.SetState(proc.READY)
	s.ready = append(s.ready, idx)
}

// Exit marks p a ZOMBIE with the given exit code and moves it to the
// zombie list; it remains there until its parent reaps it with Wait.
func (s *Scheduler) Exit(p *proc.Process, code int32) {
	idx, ok := s.idxOf(p)
	if !ok {
		return
	}
	p.ExitCode = code
	p.SetState(proc.ZOMBIE)
	if s.current == idx {
		s.current = noCurrent
	} else {
		s.removeFromReady(idx)
	}
	s.zombies = append(s.zombies, idx)
}

// Wait reaps the first zombie child of parent, returning it and true, or
// (nil, false) if parent has no zombie children. The reaped process's pool
// slot is released back to the arena here; its page-table slot in
// internal/vmem remains the caller's responsibility to free.
func (s *Scheduler) Wait(parentPID uint32) (*proc.Process, bool) {
	for i, idx := range s.zombies {
		z := s.pool.At(idx)
		if z.ParentPID == parentPID {
			s.zombies = append(s.zombies[:i], s.zombies[i+1:]...)
			delete(s.byPID, z.PID)
			s.pool.Release(idx)
			return z, true
		}
	}
	return nil, false
}

// TickSleepers wakes every BLOCKED process whose WakeAt deadline has
// passed, used by SLEEP/NANOSLEEP (spec.md 4.K) since there is no real
// timer interrupt in this cooperative model: the instance's own clock
// advancing past a deadline is what wakes the sleeper.
func (s *Scheduler) TickSleepers(now uint64) []*proc.Process {
	var woken []*proc.Process
	remaining := s.blocked[:0]
	for _, idx := range s.blocked {
		p := s.pool.At(idx)
		if p.WakeAt != 0 && now >= p.WakeAt {
			p.WakeAt = 0
			p.SetState(proc.READY)
			s.ready = append(s.ready, idx)
			woken = append(woken, p)
			continue
		}
		remaining = append(remaining, idx)
	}
	s.blocked = remaining
	return woken
}

// HasRunningChildren reports whether parent has any non-zombie children
// still in the system, used by WNOHANG to decide between EAGAIN and OK.
func (s *Scheduler) HasRunningChildren(parentPID uint32) bool {
	for _, idx := range s.byPID {
		p := s.pool.At(idx)
		if p.ParentPID == parentPID && p.State() != proc.ZOMBIE {
			return true
		}
	}
	return false
}

// Reset empties all three lists, the pid index, and the underlying pool
// in place, used by the reconstructor when an instance is declared failed
// (spec.md 4.H); the caller is responsible for re-adding rehydrated
// processes afterward.
func (s *Scheduler) Reset() {
	s.pool.Reset()
	s.ready = nil
	s.blocked = nil
	s.zombies = nil
	s.current = noCurrent
	s.byPID = make(map[uint32]int)
}

// Remove detaches p from the scheduler entirely without zombifying it and
// releases its pool slot, used when migrating a process to another
// instance (spec.md 4.G load migration): p must be READY. Callers that
// still need p's field values for handoff (e.g. constraint.Migrate) must
// read or clone them before calling Remove.
func (s *Scheduler) Remove(p *proc.Process) bool {
	idx, ok := s.idxOf(p)
	if !ok || p.State() != proc.READY {
		return false
	}
	s.removeFromReady(idx)
	delete(s.byPID, p.PID)
	s.pool.Release(idx)
	return true
}

func (s *Scheduler) removeFromReady(idx int) {
	for i, r := range s.ready {
		if r == idx {
			s.ready = append(s.ready[:i], s.ready[i+1:]...)
			return
		}
	}
}

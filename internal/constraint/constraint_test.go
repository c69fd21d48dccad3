package constraint

import (
	"testing"

	"github.com/justanotherdot-student/toriskernel/internal/events"
	"github.com/justanotherdot-student/toriskernel/internal/lattice"
	"github.com/justanotherdot-student/toriskernel/internal/proc"
	"github.com/justanotherdot-student/toriskernel/internal/projection"
	"github.com/justanotherdot-student/toriskernel/internal/sched"
	"github.com/justanotherdot-student/toriskernel/internal/torus"
	"github.com/justanotherdot-student/toriskernel/internal/vmem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRuntime(t *testing.T) *torus.Runtime {
	t.Helper()
	lat := lattice.New(8, 8, 8, 4)
	return torus.New(0, lat, events.NewQueue(), events.NewDelayMap(), sched.New(4), vmem.NewManager(64, 4), nil)
}

func TestEvaluateBoundaryViolationEnqueuesCorrection(t *testing.T) {
	local := newRuntime(t)
	peer := &projection.Projection{}
	peer.BoundaryConstraints[0] = projection.BoundaryConstraint{CellIndex: 0, ExpectedState: 10, Tolerance: 1}
	for i := 1; i < projection.NumBoundaryConstraints; i++ {
		peer.BoundaryConstraints[i].CellIndex = 0xFFFFFFFF
	}

	e := NewEngine()
	res, err := e.Evaluate(0, local, peer)
	require.NoError(t, err)
	assert.Equal(t, 1, res.BoundaryViolations)
	assert.Equal(t, 1, local.Queue.Len())
}

func TestEvaluateGlobalViolation(t *testing.T) {
	local := newRuntime(t)
	local.TotalEventsProcessed = 1000
	peer := &projection.Projection{}
	for i := range peer.BoundaryConstraints {
		peer.BoundaryConstraints[i].CellIndex = 0xFFFFFFFF
	}
	peer.GlobalConstraints[0] = projection.GlobalConstraint{Type: projection.GCEventConservation, ExpectedValue: 500, Tolerance: 10}

	e := NewEngine()
	res, err := e.Evaluate(0, local, peer)
	require.NoError(t, err)
	assert.Equal(t, 1, res.GlobalViolations)
}

func TestMigrationRateLimitedPerCycle(t *testing.T) {
	local := newRuntime(t)
	peer := &projection.Projection{ActiveProcesses: 100, NumProcesses: 1}
	peer.Processes[0] = projection.ProcessInfo{ProcessID: 9, State: uint32(proc.READY)}
	for i := range peer.BoundaryConstraints {
		peer.BoundaryConstraints[i].CellIndex = 0xFFFFFFFF
	}

	e := NewEngine()
	res, err := e.Evaluate(0, local, peer)
	require.NoError(t, err)
	assert.True(t, res.MigrationRequested)
	assert.EqualValues(t, 9, res.MigratePID)

	res2, err := e.Evaluate(0, local, peer)
	require.NoError(t, err)
	assert.False(t, res2.MigrationRequested)

	e.ResetCycle()
	res3, err := e.Evaluate(0, local, peer)
	require.NoError(t, err)
	assert.True(t, res3.MigrationRequested)
}

func TestPickMigratableSkipsSentinelAndNonReady(t *testing.T) {
	peer := &projection.Projection{NumProcesses: 3}
	peer.Processes[0] = projection.ProcessInfo{ProcessID: projection.ProcessSentinel, State: uint32(proc.READY)}
	peer.Processes[1] = projection.ProcessInfo{ProcessID: 1, State: uint32(proc.BLOCKED)}
	peer.Processes[2] = projection.ProcessInfo{ProcessID: 2, State: uint32(proc.READY)}

	pid, ok := pickMigratable(peer)
	require.True(t, ok)
	assert.EqualValues(t, 2, pid)
}

func TestMigrateMovesProcessBetweenInstances(t *testing.T) {
	src := newRuntime(t)
	dst := torus.New(1, lattice.New(8, 8, 8, 4), events.NewQueue(), events.NewDelayMap(), sched.New(4), vmem.NewManager(64, 4), nil)

	p := proc.NewProcess(5, 0, 0)
	p.X, p.Y, p.Z = 2, 3, 4
	_, err := src.Sched.Add(p)
	require.NoError(t, err)
	require.NoError(t, src.Lattice.Insert(p.PID, 2, 3, 4))

	ok := Migrate(5, src, dst)
	require.True(t, ok)
	assert.Nil(t, src.Sched.Lookup(5))
	assert.NotNil(t, dst.Sched.Lookup(5))
	assert.Equal(t, 0, src.Lattice.Occupancy(2, 3, 4))
	assert.Equal(t, 1, dst.Lattice.Occupancy(2, 3, 4))
}

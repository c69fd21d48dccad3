package reconstruct

import (
	"testing"

	"github.com/justanotherdot-student/toriskernel/internal/events"
	"github.com/justanotherdot-student/toriskernel/internal/lattice"
	"github.com/justanotherdot-student/toriskernel/internal/projection"
	"github.com/justanotherdot-student/toriskernel/internal/sched"
	"github.com/justanotherdot-student/toriskernel/internal/torus"
	"github.com/justanotherdot-student/toriskernel/internal/vmem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRuntime(id int) *torus.Runtime {
	lat := lattice.New(8, 8, 8, 4)
	return torus.New(id, lat, events.NewQueue(), events.NewDelayMap(), sched.New(4), vmem.NewManager(64, 4), nil)
}

func TestReconstructRedistributesAndRehydrates(t *testing.T) {
	failed := newRuntime(0)
	failed.CurrentTime = 999
	failed.TotalEventsProcessed = 42
	require.NoError(t, failed.Lattice.Insert(1, 1, 1, 1))

	survivorA := newRuntime(1)
	survivorB := newRuntime(2)

	lastGood := &projection.Projection{
		InstanceID:           0,
		CurrentTime:          500,
		TotalEventsProcessed: 100,
	}
	lastGood.Processes[0] = projection.ProcessInfo{ProcessID: 1, X: 1, Y: 1, Z: 1, State: 0}
	lastGood.Processes[1] = projection.ProcessInfo{ProcessID: 2, X: 2, Y: 2, Z: 2, State: 0}
	for i := 2; i < projection.MaxProcesses; i++ {
		lastGood.Processes[i].ProcessID = projection.ProcessSentinel
	}

	rc := New(nil)
	err := rc.Reconstruct(failed, lastGood, []*torus.Runtime{survivorA, survivorB})
	require.NoError(t, err)

	assert.EqualValues(t, 500, failed.CurrentTime)
	assert.EqualValues(t, 100, failed.TotalEventsProcessed)
	assert.Equal(t, 0, failed.Lattice.Occupancy(1, 1, 1)) // arena reset in place

	pA := survivorA.Sched.Lookup(1)
	pB := survivorB.Sched.Lookup(2)
	require.NotNil(t, pA)
	require.NotNil(t, pB)
	// A page table allocated via NewPageTable has an initialized entries
	// map; mapping a page into it must not panic on a nil map.
	assert.NoError(t, survivorA.Vmem.MapPage(pA.PageTable, 0x1000, 0))
	assert.NoError(t, survivorB.Vmem.MapPage(pB.PageTable, 0x1000, 0))
}

func TestReconstructFailsWithNoSurvivors(t *testing.T) {
	failed := newRuntime(0)
	lastGood := &projection.Projection{}
	rc := New(nil)
	err := rc.Reconstruct(failed, lastGood, nil)
	assert.ErrorIs(t, err, ErrNoSurvivors)
}

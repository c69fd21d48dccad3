package main

import (
	"bytes"
	"testing"

	"github.com/justanotherdot-student/toriskernel/internal/config"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(bytes.NewBuffer(nil))
	return l
}

func TestNewWorldWiresThreeInstances(t *testing.T) {
	cfg := config.Default()
	w, err := newWorld(cfg, testLogger())
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		assert.NotNil(t, w.instances[i])
		assert.NotNil(t, w.namespaces[i])
		assert.Equal(t, i, w.instances[i].InstanceID)
	}
	assert.NotEmpty(t, w.runID)
}

func TestSpawnInitBindsStdioAndSeatsInLattice(t *testing.T) {
	cfg := config.Default()
	w, err := newWorld(cfg, testLogger())
	require.NoError(t, err)

	p, err := w.spawnInit(0)
	require.NoError(t, err)
	assert.EqualValues(t, 1, p.PID)
	assert.NotNil(t, p.FD(0))
	assert.NotNil(t, p.FD(1))
	assert.NotNil(t, p.FD(2))
}

func TestRunShellHandlesBasicCommands(t *testing.T) {
	cfg := config.Default()
	w, err := newWorld(cfg, testLogger())
	require.NoError(t, err)
	init, err := w.spawnInit(0)
	require.NoError(t, err)

	in := bytes.NewBufferString("help\necho hi there\nps\nprobe console\nprobe missing\nexit\n")
	out := &bytes.Buffer{}
	require.NoError(t, runShell(w, 0, init, in, out))

	got := out.String()
	assert.Contains(t, got, "hi there")
	assert.Contains(t, got, "console: present")
	assert.Contains(t, got, "missing: ENOENT")
	assert.Contains(t, got, "1\tREADY\tppid=0")
}

func TestShellCatReportsMissingFile(t *testing.T) {
	cfg := config.Default()
	w, err := newWorld(cfg, testLogger())
	require.NoError(t, err)
	init, err := w.spawnInit(0)
	require.NoError(t, err)

	out := &bytes.Buffer{}
	shellCat(out, w.namespaces[0], init, "/nope")
	assert.Contains(t, out.String(), "cat: /nope")
}

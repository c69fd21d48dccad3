package proc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrnoAsErrorNilOnOK(t *testing.T) {
	assert.NoError(t, OK.AsError())
	assert.Error(t, FAULT.AsError())
}

func TestErrnoNegated(t *testing.T) {
	assert.EqualValues(t, -14, FAULT.Negated())
	assert.EqualValues(t, 0, OK.Negated())
}

func TestErrnoString(t *testing.T) {
	assert.Equal(t, "ENOENT", NOENT.String())
}

package extension

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStateString(t *testing.T) {
	assert.Equal(t, "UNLOADED", StateUnloaded.String())
	assert.Equal(t, "DISABLED", StateDisabled.String())
	assert.Equal(t, "UNKNOWN", State(42).String())
}

func TestCheckTransition(t *testing.T) {
	tests := []struct {
		from    State
		op      Op
		success State
		kind    Kind
	}{
		{StateUnloaded, OpLoad, StateLoaded, 0},
		{StateLoaded, OpInitialize, StateInitialized, 0},
		{StateInitialized, OpExecute, StateActive, 0},
		{StateActive, OpExecute, StateActive, 0},
		{StateError, OpDisable, StateDisabled, 0},
		{StateDisabled, OpUnload, StateUnloaded, 0},
		{StateUnloaded, OpExecute, 0, KindNotInitialized},
		{StateLoaded, OpExecute, 0, KindNotInitialized},
		{StateError, OpExecute, 0, KindInvalidTransition},
		{StateActive, OpInitialize, 0, KindInvalidTransition},
		{StateLoaded, OpLoad, 0, KindInvalidTransition},
		{StateDisabled, OpLoad, 0, KindInvalidTransition},
		{StateInitialized, OpDisable, 0, KindInvalidTransition},
	}
	for _, tt := range tests {
		tr, err := checkTransition("x", tt.from, tt.op)
		if tt.kind != 0 {
			assert.Equal(t, tt.kind, KindOf(err), "%s from %s", tt.op, tt.from)
			continue
		}
		assert.NoError(t, err, "%s from %s", tt.op, tt.from)
		assert.Equal(t, tt.success, tr.success)
	}
}

func TestFailureStates(t *testing.T) {
	for _, op := range []Op{OpLoad, OpInitialize, OpExecute} {
		for from, ops := range transitions {
			if tr, ok := ops[op]; ok {
				assert.Equal(t, StateError, tr.failure, "%s from %s", op, from)
			}
		}
	}
	for from, ops := range transitions {
		if tr, ok := ops[OpUnload]; ok {
			assert.Equal(t, StateUnloaded, tr.failure, "unload from %s", from)
		}
	}
}

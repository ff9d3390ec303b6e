package kernel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTCB_InitializesStateAndStack(t *testing.T) {
	t.Parallel()

	entry := func(task *Task) uint32 { return 0 }
	tc := newTCB(nil, "worker", TaskGeneric, PriorityUser0, minTaskBufferSize, entry, "param")

	assert.Equal(t, "worker", tc.description)
	assert.Equal(t, TaskGeneric, tc.taskType)
	assert.Equal(t, PriorityUser0, tc.priority)
	assert.Equal(t, TaskReady, tc.state)
	assert.Equal(t, TicksUndefined, tc.startedAt)
	assert.Equal(t, TicksUndefined, tc.terminatedAt)
	assert.Equal(t, stackBarrierValue, tc.stackBarrier)
	assert.Equal(t, "param", tc.param)
	require.NotNil(t, tc.sleep)
	assert.Equal(t, uint32(1), tc.sleep.currentlyAvailable(), "a fresh task's sleep token starts available")
	require.NotNil(t, tc.cpuGrant)
}

func TestNewTCB_PanicsOnUndersizedBuffer(t *testing.T) {
	t.Parallel()

	entry := func(task *Task) uint32 { return 0 }
	assert.Panics(t, func() {
		newTCB(nil, "tiny", TaskGeneric, PriorityUser0, minTaskBufferSize-1, entry, nil)
	})
}

func TestTCB_InitStackLayout(t *testing.T) {
	t.Parallel()

	entry := func(task *Task) uint32 { return 0 }
	tc := newTCB(nil, "worker", TaskGeneric, PriorityUser0, minTaskBufferSize, entry, nil)

	frame := integerRegisters * 4
	require.Equal(t, len(tc.stack)-frame, tc.stackPointer, "initStack must reserve exactly one synthetic frame")

	lrIRQOffset := tc.stackPointer + 8*4
	lrIRQ := uint32(tc.stack[lrIRQOffset]) | uint32(tc.stack[lrIRQOffset+1])<<8 |
		uint32(tc.stack[lrIRQOffset+2])<<16 | uint32(tc.stack[lrIRQOffset+3])<<24
	assert.Equal(t, uint32(0xFFFFFFFD), lrIRQ)
}

func TestTCB_CheckStackBarrierPanicsWhenCorrupted(t *testing.T) {
	t.Parallel()

	entry := func(task *Task) uint32 { return 0 }
	tc := newTCB(nil, "worker", TaskGeneric, PriorityUser0, minTaskBufferSize, entry, nil)

	assert.NotPanics(t, tc.checkStackBarrier)

	tc.stackBarrier = 0
	assert.Panics(t, tc.checkStackBarrier)
}

func TestTCB_UsedMemoryIncludesOverheadAndConsumedStack(t *testing.T) {
	t.Parallel()

	entry := func(task *Task) uint32 { return 0 }
	tc := newTCB(nil, "worker", TaskGeneric, PriorityUser0, minTaskBufferSize, entry, nil)

	frame := integerRegisters * 4
	assert.Equal(t, int32(frame+tcbOverheadBytes), tc.usedMemory(), "freshly initialized task has only consumed its synthetic frame")

	tc.stackPointer -= 64
	assert.Equal(t, int32(frame+64+tcbOverheadBytes), tc.usedMemory())
}

func TestTCB_UsedMemoryPanicsIfStackPointerEscapesBuffer(t *testing.T) {
	t.Parallel()

	entry := func(task *Task) uint32 { return 0 }
	tc := newTCB(nil, "worker", TaskGeneric, PriorityUser0, minTaskBufferSize, entry, nil)

	tc.stackPointer = len(tc.stack) + 1
	assert.Panics(t, func() { tc.usedMemory() })
}

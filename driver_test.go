package kernel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStorageHandler struct {
	data       []byte
	readCalls  int
	writeCalls int
	lastSector uint32
	lastCount  uint32
	failNext   bool
}

func (h *fakeStorageHandler) ReadSectors(buf []byte, sector, count uint32) error {
	h.readCalls++
	h.lastSector = sector
	h.lastCount = count
	if h.failNext {
		return assertErr
	}
	copy(buf, h.data)
	return nil
}

func (h *fakeStorageHandler) WriteSectors(buf []byte, sector, count uint32) error {
	h.writeCalls++
	h.lastSector = sector
	h.lastCount = count
	if h.failNext {
		return assertErr
	}
	h.data = append([]byte(nil), buf...)
	return nil
}

type fakeErr struct{ s string }

func (e *fakeErr) Error() string { return e.s }

var assertErr = &fakeErr{s: "simulated storage failure"}

func TestDriver_RequestStorageAccessReadRoundTrips(t *testing.T) {
	t.Parallel()

	k := New()
	require.Equal(t, ResultOK, k.Init())

	handler := &fakeStorageHandler{data: []byte{1, 2, 3, 4}}
	buf := make([]byte, 4)
	var reqResult Result

	entry := func(task *Task) uint32 {
		_, r := task.k.TaskDriverStart("disk0", handler, 4)
		if r != ResultOK {
			return 1
		}

		reqResult = task.k.RequestStorageAccess(task, "disk0", DriverOpRead, buf, 7, 4)
		task.k.Terminate()
		return 0
	}

	res := k.Start(RunModeFinite, entry, nil)
	require.Equal(t, ResultOK, res)
	assert.Equal(t, ResultOK, reqResult)
	assert.Equal(t, []byte{1, 2, 3, 4}, buf)
	assert.Equal(t, 1, handler.readCalls)
	assert.Equal(t, uint32(7), handler.lastSector)
	assert.Equal(t, uint32(4), handler.lastCount)
}

func TestDriver_RequestStorageAccessWriteThenReadBack(t *testing.T) {
	t.Parallel()

	k := New()
	require.Equal(t, ResultOK, k.Init())

	handler := &fakeStorageHandler{}
	var writeResult, readResult Result
	written := []byte{9, 9, 9, 9}
	readBack := make([]byte, 4)

	entry := func(task *Task) uint32 {
		_, r := task.k.TaskDriverStart("disk0", handler, 4)
		if r != ResultOK {
			return 1
		}

		writeResult = task.k.RequestStorageAccess(task, "disk0", DriverOpWrite, written, 0, 4)
		readResult = task.k.RequestStorageAccess(task, "disk0", DriverOpRead, readBack, 0, 4)
		task.k.Terminate()
		return 0
	}

	res := k.Start(RunModeFinite, entry, nil)
	require.Equal(t, ResultOK, res)
	assert.Equal(t, ResultOK, writeResult)
	assert.Equal(t, ResultOK, readResult)
	assert.Equal(t, written, readBack)
	assert.Equal(t, 1, handler.writeCalls)
	assert.Equal(t, 1, handler.readCalls)
}

func TestDriver_RequestStorageAccessReportsHandlerFailure(t *testing.T) {
	t.Parallel()

	k := New()
	require.Equal(t, ResultOK, k.Init())

	handler := &fakeStorageHandler{failNext: true}
	buf := make([]byte, 4)
	var reqResult Result

	entry := func(task *Task) uint32 {
		_, r := task.k.TaskDriverStart("disk0", handler, 4)
		if r != ResultOK {
			return 1
		}

		reqResult = task.k.RequestStorageAccess(task, "disk0", DriverOpRead, buf, 0, 4)
		task.k.Terminate()
		return 0
	}

	res := k.Start(RunModeFinite, entry, nil)
	require.Equal(t, ResultOK, res)
	assert.Equal(t, ResultError, reqResult)
}

func TestDriver_RequestStorageAccessFromLowerPriorityCallerDoesNotDeadlock(t *testing.T) {
	t.Parallel()

	k := New()
	require.Equal(t, ResultOK, k.Init())

	handler := &fakeStorageHandler{data: []byte{5, 6, 7, 8}}
	buf := make([]byte, 4)
	var reqResult Result
	var taskRan bool

	entry := func(boot *Task) uint32 {
		_, r := boot.k.TaskDriverStart("disk0", handler, 4)
		if r != ResultOK {
			return 1
		}

		userEntry := func(task *Task) uint32 {
			taskRan = true
			reqResult = task.k.RequestStorageAccess(task, "disk0", DriverOpRead, buf, 2, 4)
			return 0
		}
		if _, r := boot.k.TaskStart("reader", PriorityUser0, minTaskBufferSize, userEntry, nil); r != ResultOK {
			return 1
		}

		if dr := boot.Delay(20); dr != ResultOK {
			return 2
		}
		boot.k.Terminate()
		return 0
	}

	res := k.Start(RunModeFinite, entry, nil)
	require.Equal(t, ResultOK, res)
	assert.True(t, taskRan)
	assert.Equal(t, ResultOK, reqResult)
	assert.Equal(t, []byte{5, 6, 7, 8}, buf)
}

func TestDriver_RequestStorageAccessUnknownDriverFails(t *testing.T) {
	t.Parallel()

	k := New()
	require.Equal(t, ResultOK, k.Init())

	var reqResult Result
	buf := make([]byte, 4)

	entry := func(task *Task) uint32 {
		reqResult = task.k.RequestStorageAccess(task, "no-such-disk", DriverOpRead, buf, 0, 4)
		task.k.Terminate()
		return 0
	}

	res := k.Start(RunModeFinite, entry, nil)
	require.Equal(t, ResultOK, res)
	assert.Equal(t, ResultNotInitialized, reqResult)
}

func TestDriver_RequestStorageAccessRejectsInvalidParams(t *testing.T) {
	t.Parallel()

	k := New()
	require.Equal(t, ResultOK, k.Init())

	handler := &fakeStorageHandler{}
	var emptyBufResult, zeroCountResult Result

	entry := func(task *Task) uint32 {
		_, r := task.k.TaskDriverStart("disk0", handler, 4)
		if r != ResultOK {
			return 1
		}

		emptyBufResult = task.k.RequestStorageAccess(task, "disk0", DriverOpRead, nil, 0, 4)
		zeroCountResult = task.k.RequestStorageAccess(task, "disk0", DriverOpRead, make([]byte, 4), 0, 0)
		task.k.Terminate()
		return 0
	}

	res := k.Start(RunModeFinite, entry, nil)
	require.Equal(t, ResultOK, res)
	assert.Equal(t, ResultInvalidParams, emptyBufResult)
	assert.Equal(t, ResultInvalidParams, zeroCountResult)
}

package kernel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStreamHandler struct {
	sent     []byte
	recvData []byte
	failNext bool
}

func (h *fakeStreamHandler) Send(data []byte) (int, error) {
	if h.failNext {
		return 0, assertErr
	}
	h.sent = append(h.sent, data...)
	return len(data), nil
}

func (h *fakeStreamHandler) Recv(buf []byte) (int, error) {
	if h.failNext {
		return 0, assertErr
	}
	n := copy(buf, h.recvData)
	return n, nil
}

func TestUartQueue_RequestUartAccessSendRoundTrips(t *testing.T) {
	t.Parallel()

	k := New()
	require.Equal(t, ResultOK, k.Init())

	handler := &fakeStreamHandler{}
	payload := []byte("hello")
	var n int
	var reqResult Result

	entry := func(task *Task) uint32 {
		_, r := task.k.TaskDriverUartStart("uart0", handler, 4)
		if r != ResultOK {
			return 1
		}

		n, reqResult = task.k.RequestUartAccess(task, "uart0", DriverOpSend, payload)
		task.k.Terminate()
		return 0
	}

	res := k.Start(RunModeFinite, entry, nil)
	require.Equal(t, ResultOK, res)
	assert.Equal(t, ResultOK, reqResult)
	assert.Equal(t, len(payload), n)
	assert.Equal(t, payload, handler.sent)
}

func TestUartQueue_RequestUartAccessRecvRoundTrips(t *testing.T) {
	t.Parallel()

	k := New()
	require.Equal(t, ResultOK, k.Init())

	handler := &fakeStreamHandler{recvData: []byte("world")}
	buf := make([]byte, 5)
	var n int
	var reqResult Result

	entry := func(task *Task) uint32 {
		_, r := task.k.TaskDriverUartStart("uart0", handler, 4)
		if r != ResultOK {
			return 1
		}

		n, reqResult = task.k.RequestUartAccess(task, "uart0", DriverOpRecv, buf)
		task.k.Terminate()
		return 0
	}

	res := k.Start(RunModeFinite, entry, nil)
	require.Equal(t, ResultOK, res)
	assert.Equal(t, ResultOK, reqResult)
	assert.Equal(t, 5, n)
	assert.Equal(t, []byte("world"), buf)
}

func TestUartQueue_RequestUartAccessFromLowerPriorityCallerDoesNotDeadlock(t *testing.T) {
	t.Parallel()

	k := New()
	require.Equal(t, ResultOK, k.Init())

	handler := &fakeStreamHandler{recvData: []byte("world")}
	buf := make([]byte, 5)
	var n int
	var reqResult Result
	var taskRan bool

	entry := func(boot *Task) uint32 {
		_, r := boot.k.TaskDriverUartStart("uart0", handler, 4)
		if r != ResultOK {
			return 1
		}

		readerEntry := func(task *Task) uint32 {
			taskRan = true
			n, reqResult = task.k.RequestUartAccess(task, "uart0", DriverOpRecv, buf)
			return 0
		}
		if _, r := boot.k.TaskStart("reader", PriorityUser0, minTaskBufferSize, readerEntry, nil); r != ResultOK {
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
	assert.Equal(t, 5, n)
	assert.Equal(t, []byte("world"), buf)
}

func TestUartQueue_RequestUartAccessReportsHandlerFailure(t *testing.T) {
	t.Parallel()

	k := New()
	require.Equal(t, ResultOK, k.Init())

	handler := &fakeStreamHandler{failNext: true}
	var reqResult Result

	entry := func(task *Task) uint32 {
		_, r := task.k.TaskDriverUartStart("uart0", handler, 4)
		if r != ResultOK {
			return 1
		}

		_, reqResult = task.k.RequestUartAccess(task, "uart0", DriverOpSend, []byte("x"))
		task.k.Terminate()
		return 0
	}

	res := k.Start(RunModeFinite, entry, nil)
	require.Equal(t, ResultOK, res)
	assert.Equal(t, ResultError, reqResult)
}

func TestUartQueue_RequestUartAccessUnknownDriverFails(t *testing.T) {
	t.Parallel()

	k := New()
	require.Equal(t, ResultOK, k.Init())

	var reqResult Result

	entry := func(task *Task) uint32 {
		_, reqResult = task.k.RequestUartAccess(task, "no-such-uart", DriverOpSend, []byte("x"))
		task.k.Terminate()
		return 0
	}

	res := k.Start(RunModeFinite, entry, nil)
	require.Equal(t, ResultOK, res)
	assert.Equal(t, ResultNotInitialized, reqResult)
}

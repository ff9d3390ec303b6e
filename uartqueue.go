// Copyright 2019 Santiago Germino (royconejo@gmail.com)
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package kernel

// StreamHandler performs the actual byte transfer a UART driver task
// dispatches jobs to, grounded on the cyclic-buffer operations base/uart.c
// exposes around a real peripheral: UART_PutBinary queues bytes for
// transmission and UART_Send drains them to the hardware FIFO, while
// UART_RecvInjectByte/UART_Recv move bytes the other way. Send/Recv run on
// the driver task's own goroutine, never the requesting task's, the same
// split storage.c's handler keeps between requester and driver.
type StreamHandler interface {
	Send(data []byte) (n int, err error)
	Recv(buf []byte) (n int, err error)
}

// TaskDriverUartStart creates and queues a UART driver task, grounded on
// OS_TaskDriverStart applied to the OS_TaskDriverOp_Recv/Send pair
// (private/syscall.h): the original defines these as aliases of
// Read/Write precisely so one driver-task job queue can serve either a
// block device or a byte stream. maxJobs bounds queued requests the same
// way it does for the storage driver (RequestStorageAccess,
// driverqueue.go), returning ResultBufferFull past that point.
func (k *Kernel) TaskDriverUartStart(description string, handler StreamHandler, maxJobs uint32) (*Task, Result) {
	if description == "" || handler == nil {
		return nil, ResultInvalidParams
	}

	rt := newDriverRuntime(maxJobs)
	entry := func(task *Task) uint32 {
		runUartDriverLoop(task, rt, handler)
		return 0
	}

	t, r := k.taskStart(description, TaskUARTDriver, PriorityDriverUART, minTaskBufferSize, entry, rt)
	if r != ResultOK {
		return nil, r
	}
	return &Task{tcb: t, k: k}, ResultOK
}

// runUartDriverLoop is the UART driver task's entry body. It is the same
// wait-for-a-job, do-it, report-it-done shape runStorageDriverLoop
// (driver.go) uses; sector/count are ignored since a stream job's extent
// is just len(buf).
func runUartDriverLoop(task *Task, rt *driverRuntime, handler StreamHandler) {
	for {
		job, r := rt.takeJob()
		if r != ResultOK {
			if res := task.k.taskSleep(task.tcb); res != ResultOK {
				kassert(false, "uart driver: sleep failed")
			}
			continue
		}

		var n int
		var err error
		if job.op == DriverOpRecv {
			n, err = handler.Recv(job.buf)
		} else {
			n, err = handler.Send(job.buf)
		}

		result := ResultOK
		if err != nil {
			result = ResultError
		}
		job.count = uint32(n)
		rt.jobDone(task.k, task.tcb, job, result)
	}
}

// RequestUartAccess queues a send or recv against the named UART driver
// task and blocks caller until it completes, the byte-stream counterpart
// of RequestStorageAccess. See that function's comment for why caller's
// sleep token is claimed before the job is queued and the driver woken:
// without it, a driver that outranks caller can run the job and release
// a token caller has not yet acquired, and caller then parks on it
// forever with no one left to wake it.
func (k *Kernel) RequestUartAccess(caller *Task, description string, op TaskDriverOp, buf []byte) (int, Result) {
	if caller == nil {
		return 0, ResultNoCurrentTask
	}
	if description == "" || len(buf) == 0 {
		return 0, ResultInvalidParams
	}

	driver := k.taskFind(PriorityDriverUART, description)
	if driver == nil {
		return 0, ResultNotInitialized
	}
	rt, ok := driver.param.(*driverRuntime)
	kassert(ok, "uart access: driver task missing runtime")

	job := &driverJob{op: op, buf: buf, caller: caller.tcb}

	if r := k.taskSleepClaim(caller.tcb); r != ResultOK {
		return 0, r
	}
	if r := rt.addJob(job); r != ResultOK {
		caller.tcb.sleep.release()
		return 0, r
	}
	if r := k.taskWakeup(caller.tcb, driver); r != ResultOK {
		caller.tcb.sleep.release()
		return 0, r
	}
	if r := k.taskSleepWait(caller.tcb); r != ResultOK {
		return 0, r
	}

	return int(job.count), job.result
}

// Copyright 2019 Santiago Germino (royconejo@gmail.com)
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package kernel

// TaskDriverOp selects a driver job's direction, grounded on
// OS_TaskDriverOp (private/syscall.h). Read/Write name the storage driver's
// operations; Recv/Send are the same two values under the names the UART
// driver uses them by, exactly as in the original.
type TaskDriverOp uint32

const (
	DriverOpRead  TaskDriverOp = iota
	DriverOpWrite
)

const (
	DriverOpRecv = DriverOpRead
	DriverOpSend = DriverOpWrite
)

// driverJob is one unit of work queued to a driver task, grounded on
// struct OS_DRIVER_StorageJob / the UART equivalent. sector is meaningful
// only for the storage driver; the UART driver ignores it.
type driverJob struct {
	op     TaskDriverOp
	buf    []byte
	sector uint32
	count  uint32
	caller *tcb
	result Result
}

// driverRuntime is the job queue and running counters shared by every
// driver-task template, grounded on struct OS_DRIVER_StorageData
// (private/driver/storage.h). The original implements the queue as a
// fixed-capacity ring buffer carved out of the driver task's own stack
// buffer, with next-free-slot pointer arithmetic that only exists because
// C has no growable, bounded FIFO primitive; a buffered channel is the
// direct idiomatic substitute; it gives the same FIFO ordering and the
// same "reject when full" backpressure (OS_Result_BufferFull, here a
// non-blocking channel send) without reimplementing the ring-buffer
// arithmetic by hand.
type driverRuntime struct {
	jobs chan *driverJob

	jobsSucceeded uint64
	jobsFailed    uint64
	unitsRead     uint64
	unitsWritten  uint64
}

func newDriverRuntime(maxJobs uint32) *driverRuntime {
	kassert(maxJobs > 0, "driver runtime: zero job capacity")
	return &driverRuntime{jobs: make(chan *driverJob, maxJobs)}
}

// addJob enqueues job, grounded on OS_DRIVER_StorageJobAdd; it reports
// ResultBufferFull instead of blocking, matching the original's refusal to
// accept more jobs than maxJobs.
func (d *driverRuntime) addJob(job *driverJob) Result {
	select {
	case d.jobs <- job:
		return ResultOK
	default:
		return ResultBufferFull
	}
}

// takeJob dequeues the oldest pending job, grounded on
// OS_DRIVER_StorageJobTake.
func (d *driverRuntime) takeJob() (*driverJob, Result) {
	select {
	case job := <-d.jobs:
		return job, ResultOK
	default:
		return nil, ResultEmpty
	}
}

// jobDone records the outcome of job and wakes its caller, grounded on
// OS_DRIVER_StorageJobDone: the caller task is blocked on its own sleep
// semaphore (see taskSleep in syscall.go), and releasing it is what moves
// the caller back to Ready on the next scheduler pass.
func (d *driverRuntime) jobDone(k *Kernel, driver *tcb, job *driverJob, result Result) Result {
	job.result = result

	if result == ResultOK {
		d.jobsSucceeded++
	} else {
		d.jobsFailed++
	}

	if job.op == DriverOpRead {
		d.unitsRead += uint64(job.count)
	} else {
		d.unitsWritten += uint64(job.count)
	}

	if !job.caller.sleep.release() {
		return ResultError
	}

	k.reschedule(driver)
	return ResultOK
}

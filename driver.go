// Copyright 2019 Santiago Germino (royconejo@gmail.com)
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package kernel

// StorageHandler performs the actual sector I/O a storage driver task
// dispatches jobs to, grounded on the hardware-specific backend the
// original expects a board support package to provide underneath
// OS_DRIVER_Storage*. Read/WriteSectors run on the driver task's own
// goroutine, never the requesting task's.
type StorageHandler interface {
	ReadSectors(buf []byte, sector, count uint32) error
	WriteSectors(buf []byte, sector, count uint32) error
}

// TaskDriverStart creates and queues a storage driver task, grounded on
// OS_TaskDriverStart + OS_DRIVER_StorageInit. maxJobs bounds how many
// requests can be queued before RequestStorageAccess returns
// ResultBufferFull, mirroring OS_DRIVER_StorageInitParams.jobs.
//
// The original requires the caller to keep the OS_TaskDriverStorageAccess
// struct it builds alive in memory until the job completes, since the
// driver only stores a pointer to it (storage.c carries an explicit
// WARNING about this). RequestStorageAccess below allocates its job on the
// Go heap instead, so the garbage collector keeps it alive for exactly as
// long as the driver still holds a reference; there is nothing for a
// caller to get wrong.
func (k *Kernel) TaskDriverStart(description string, handler StorageHandler, maxJobs uint32) (*Task, Result) {
	if description == "" || handler == nil {
		return nil, ResultInvalidParams
	}

	rt := newDriverRuntime(maxJobs)
	entry := func(task *Task) uint32 {
		runStorageDriverLoop(task, rt, handler)
		return 0
	}

	t, r := k.taskStart(description, TaskStorageDriver, PriorityDriverStorage, minTaskBufferSize, entry, rt)
	if r != ResultOK {
		return nil, r
	}
	return &Task{tcb: t, k: k}, ResultOK
}

// runStorageDriverLoop is the storage driver task's entry body, grounded
// on the job-processing half of storage.c: the original has no explicit
// loop (it is reached indirectly through the sleep/wakeup + scheduler
// retry dance), but the effect is the same forever loop of "wait for a job,
// do it, report it done" this makes explicit.
func runStorageDriverLoop(task *Task, rt *driverRuntime, handler StorageHandler) {
	for {
		job, r := rt.takeJob()
		if r != ResultOK {
			if res := task.k.taskSleep(task.tcb); res != ResultOK {
				kassert(false, "storage driver: sleep failed")
			}
			continue
		}

		var err error
		if job.op == DriverOpRead {
			err = handler.ReadSectors(job.buf, job.sector, job.count)
		} else {
			err = handler.WriteSectors(job.buf, job.sector, job.count)
		}

		result := ResultOK
		if err != nil {
			result = ResultError
		}
		rt.jobDone(task.k, task.tcb, job, result)
	}
}

// RequestStorageAccess queues a sector read or write against the named
// storage driver task and blocks caller until it completes, grounded on
// taskDriverStorageAccess (syscall.c): the caller sleeps on its own
// semaphore while the driver task processes the job, and is woken when
// the driver calls jobDone.
//
// The original calls taskSleep before queueing the job and waking the
// driver, relying on a detail of its interrupt-driven scheduler: setting
// up a wait only arms a later context switch (via OS_SchedulerCallPending),
// it does not hand off the CPU there and then, so the same C function keeps
// running long enough to queue the job and wake the driver itself. This
// port's reschedule yields control the moment a wait is configured (see
// taskSleepWait, syscall.go), so calling the original's full taskSleep
// here would leave the job unqueued forever.
//
// But queueing and waking first, then sleeping last, has its own failure
// mode: taskWakeup's reschedule can hand the CPU straight to driver if it
// outranks caller (it outranks every User* caller), and a fast
// driver can run the job and call jobDone before caller ever reaches
// taskSleep, releasing a sleep token caller has not yet acquired. That
// release silently does nothing, and caller later parks on that same
// token forever with no one left to wake it. Claiming caller's sleep
// token before queueing the job closes that gap: by the time jobDone's
// release runs, the token is already acquired, so the release is
// observed, and the final taskSleepWait either suspends normally or (if
// the driver beat it there) returns immediately via the same retry
// taskWaitForSignal always performs.
func (k *Kernel) RequestStorageAccess(caller *Task, description string, op TaskDriverOp, buf []byte, sector, count uint32) Result {
	if caller == nil {
		return ResultNoCurrentTask
	}
	if description == "" || len(buf) == 0 || count == 0 {
		return ResultInvalidParams
	}

	driver := k.taskFind(PriorityDriverStorage, description)
	if driver == nil {
		return ResultNotInitialized
	}
	rt, ok := driver.param.(*driverRuntime)
	kassert(ok, "storage access: driver task missing runtime")

	job := &driverJob{op: op, buf: buf, sector: sector, count: count, caller: caller.tcb}

	if r := k.taskSleepClaim(caller.tcb); r != ResultOK {
		return r
	}
	if r := rt.addJob(job); r != ResultOK {
		caller.tcb.sleep.release()
		return r
	}
	if r := k.taskWakeup(caller.tcb, driver); r != ResultOK {
		caller.tcb.sleep.release()
		return r
	}
	if r := k.taskSleepWait(caller.tcb); r != ResultOK {
		return r
	}

	return job.result
}

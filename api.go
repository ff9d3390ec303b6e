// Copyright 2019 Santiago Germino (royconejo@gmail.com)
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package kernel

// Task is a handle to a running task, grounded on the original's user API
// (api.c/api.h) which always addresses a task through its OS_TaskControl
// buffer pointer. A Task is only ever valid on the goroutine the kernel
// granted it to; calling its methods from any other goroutine is a misuse
// the original rules out with OS_RuntimeTask()/OS_RuntimePrivilegedTask()
// checks this port has no way to observe.
type Task struct {
	tcb *tcb
	k   *Kernel
}

// Description returns the task's registered name.
func (t *Task) Description() string { return t.tcb.description }

// Priority returns the task's scheduling priority.
func (t *Task) Priority() Priority { return t.tcb.priority }

// Yield asks the scheduler to run again, grounded on OS_TaskYield.
func (t *Task) Yield() Result {
	return t.k.taskYield(t.tcb)
}

// Delay suspends the task for ticks ticks measured from now, grounded on
// OS_TaskDelay.
func (t *Task) Delay(ticks Ticks) Result {
	return t.k.delayFrom(t.tcb, ticks, t.k.tick.now())
}

// DelayFrom suspends the task until from+ticks, grounded on
// OS_TaskDelayFrom.
func (t *Task) DelayFrom(ticks, from Ticks) Result {
	return t.k.delayFrom(t.tcb, ticks, from)
}

// PeriodicDelay suspends the task until ticks have elapsed since its last
// wakeup from this same call, grounded on OS_TaskPeriodicDelay. Pass 0 to
// reset the anchor to now without suspending.
func (t *Task) PeriodicDelay(ticks Ticks) Result {
	return t.k.periodicDelay(t.tcb, ticks)
}

// Task has no Terminate method. Unlike the syscall-dispatch original, the
// Go port implements self-termination entirely inside the task's own
// goroutine (see terminateTaskGoroutine in kernel.go): a task ends its own
// execution by returning from its entry function, and that return value
// becomes its retVal. TerminateTask on Kernel covers terminating another
// task from the outside, grounded on the "own task returning" vs
// "terminating another task" branches of taskTerminate (syscall.c).

// AcquireSemaphore waits to take one resource of s, grounded on
// OS_TaskWaitForSignal(OS_TaskSignalType_SemaphoreAcquire, ...).
func (t *Task) AcquireSemaphore(s *Semaphore, timeout Ticks) Result {
	return t.k.waitForSignal(t.tcb, SignalSemaphoreAcquire, semaphoreAcquireAction(s.sem), timeout)
}

// ReleaseSemaphore waits to return one resource of s, grounded on
// OS_TaskWaitForSignal(OS_TaskSignalType_SemaphoreRelease, ...). Releasing
// rarely blocks (it only fails if doing so would exceed s's resource
// count), but the wait path exists in the original and is preserved here.
func (t *Task) ReleaseSemaphore(s *Semaphore, timeout Ticks) Result {
	return t.k.waitForSignal(t.tcb, SignalSemaphoreRelease, semaphoreReleaseAction(s.sem), timeout)
}

// LockMutex waits to lock m, grounded on
// OS_TaskWaitForSignal(OS_TaskSignalType_MutexLock, ...).
func (t *Task) LockMutex(m *Mutex, timeout Ticks) Result {
	return t.k.waitForSignal(t.tcb, SignalMutexLock, mutexLockAction(m.mu), timeout)
}

// UnlockMutex waits to unlock m, grounded on
// OS_TaskWaitForSignal(OS_TaskSignalType_MutexUnlock, ...).
func (t *Task) UnlockMutex(m *Mutex, timeout Ticks) Result {
	return t.k.waitForSignal(t.tcb, SignalMutexUnlock, mutexUnlockAction(m.mu), timeout)
}

// NewMutex creates a mutex owned by this task, grounded on OS_MUTEX_Init
// (which records OS_TaskSelf() as the initial owner).
func (t *Task) NewMutex() *Mutex {
	return &Mutex{mu: newMutex(t.tcb)}
}

// Semaphore is a counting semaphore usable from any task, grounded on
// struct SEMAPHORE (base/semaphore.h).
type Semaphore struct {
	sem *semaphore
}

// NewSemaphore creates a counting semaphore with the given total resources
// and initially available count, grounded on SEMAPHORE_Init.
func (k *Kernel) NewSemaphore(resources, available uint32) *Semaphore {
	return &Semaphore{sem: newSemaphore(resources, available)}
}

// Available reports the semaphore's current resource count, grounded on
// SEMAPHORE_Available.
func (s *Semaphore) Available() uint32 { return s.sem.currentlyAvailable() }

// Mutex is an ownership-tracked lock usable from any task, grounded on
// struct OS_MUTEX (os/mutex.h).
type Mutex struct {
	mu *mutex
}

// TaskStart creates and queues a new generic task, grounded on
// OS_TaskStart (api.c). priority must be within the Kernel/User band;
// Boot and Idle are reserved for the kernel's own bootstrap and idle
// tasks.
func (k *Kernel) TaskStart(description string, priority Priority, bufferSize uint32, entry func(*Task) uint32, param any) (*Task, Result) {
	if priority < PriorityKernelHighest || priority > PriorityUserLowest {
		return nil, ResultInvalidParams
	}
	t, r := k.taskStart(description, TaskGeneric, priority, bufferSize, entryFunc(entry), param)
	if r != ResultOK {
		return nil, r
	}
	return &Task{tcb: t, k: k}, ResultOK
}

// TerminateTask ends target's execution from outside it, grounded on the
// "terminating another task" branch of taskTerminate (syscall.c). caller
// must not be target; a task ends its own execution by returning from its
// entry function instead.
func (k *Kernel) TerminateTask(caller, target *Task, retVal uint32) Result {
	if caller == nil || target == nil {
		return ResultInvalidParams
	}
	return k.terminateOther(caller.tcb, target.tcb, retVal)
}

// FindTaskByDescription looks up a task at priority by name among its
// ready, waiting, and currently running tasks, grounded on taskFind
// (syscall.c).
func (k *Kernel) FindTaskByDescription(priority Priority, description string) *Task {
	t := k.taskFind(priority, description)
	if t == nil {
		return nil
	}
	return &Task{tcb: t, k: k}
}

// ReturnValue reports the value a terminated task returned, grounded on
// OS_TaskReturnValue.
func (t *Task) ReturnValue() (uint32, Result) {
	t.tcb.checkStackBarrier()
	if t.tcb.state != TaskTerminated {
		return 0, ResultInvalidState
	}
	return t.tcb.retValue, ResultOK
}

// Copyright 2019 Santiago Germino (royconejo@gmail.com)
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package kernel

// This file is grounded on private/syscall.c: each exported method below
// corresponds to one OS_Syscall_* case in OS_SyscallHandler, adapted from a
// dispatch-by-enum function taking an opaque params pointer to a plain Go
// method taking its actual arguments.

// taskStart allocates and queues a new task, grounded on taskStart
// (syscall.c). bufferSize is clamped up to the minimum any task needs; the
// original instead rejects an undersized caller-supplied buffer, a check
// that doesn't apply once the kernel owns the allocation.
func (k *Kernel) taskStart(description string, taskType TaskType, priority Priority, bufferSize uint32, entry entryFunc, param any) (*tcb, Result) {
	if description == "" || entry == nil {
		return nil, ResultInvalidParams
	}
	if bufferSize < minTaskBufferSize {
		bufferSize = minTaskBufferSize
	}

	t := newTCB(k, description, taskType, priority, bufferSize, entry, param)

	k.mu.Lock()
	k.tasksReady[priority].push(t)
	k.mu.Unlock()

	go taskGoroutine(k, t)

	return t, ResultOK
}

// taskYield mirrors taskYield (syscall.c): it does nothing but ask the
// scheduler to run again, which may or may not pick a different task.
func (k *Kernel) taskYield(caller *tcb) Result {
	k.reschedule(caller)
	return ResultOK
}

// waitForSignal mirrors taskWaitForSignal (syscall.c). It attempts the
// action once immediately; if that fails and timeout is nonzero, it parks
// caller until the scheduler's retry succeeds or the timeout elapses.
func (k *Kernel) waitForSignal(caller *tcb, sigType SignalType, action sigAction, timeout Ticks) Result {
	if caller == nil {
		return ResultInvalidParams
	}
	if action == nil {
		return ResultInvalidParams
	}

	if action(caller) {
		return ResultOK
	}
	if timeout == 0 {
		return ResultTimeout
	}

	k.mu.Lock()
	caller.sigWaitAction = action
	caller.sigWaitType = sigType
	caller.sigWaitResult = ResultWaiting
	now := k.tick.now()
	if timeout == WaitForever {
		caller.suspendedUntil = WaitForever
	} else {
		caller.suspendedUntil = now + timeout
	}
	k.mu.Unlock()

	k.reschedule(caller)

	return caller.sigWaitResult
}

// delayFrom mirrors taskDelayFrom (syscall.c): suspend caller until
// from+ticks, regardless of when "now" actually is.
func (k *Kernel) delayFrom(caller *tcb, ticks, from Ticks) Result {
	if caller == nil {
		return ResultNoCurrentTask
	}

	k.mu.Lock()
	caller.suspendedUntil = from + ticks
	k.mu.Unlock()

	k.reschedule(caller)
	return ResultOK
}

// periodicDelay mirrors taskPeriodicDelay (syscall.c): ticks==0 resets the
// anchor used by subsequent calls without suspending, any other value
// suspends until lastSuspension+ticks so a period is measured from the
// previous wakeup rather than from "now" (avoiding drift).
func (k *Kernel) periodicDelay(caller *tcb, ticks Ticks) Result {
	if caller == nil {
		return ResultNoCurrentTask
	}

	k.mu.Lock()
	if ticks == 0 {
		caller.lastSuspension = k.tick.now()
		k.mu.Unlock()
		return ResultOK
	}
	caller.suspendedUntil = caller.lastSuspension + ticks
	k.mu.Unlock()

	k.reschedule(caller)
	return ResultOK
}

// taskFind searches ready, waiting and the currently running task at the
// given priority for a task whose description matches, grounded on
// taskFind (syscall.c). The original matches the description by pointer
// identity; this port compares the strings by value, so any task whose
// description has equal contents matches.
func (k *Kernel) taskFind(priority Priority, description string) *tcb {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.taskFindLocked(priority, description)
}

func (k *Kernel) taskFindLocked(priority Priority, description string) *tcb {
	for n := k.tasksWaiting[priority].head; n != nil; n = n.(*tcb).links().next {
		if task := n.(*tcb); task.description == description {
			return task
		}
	}
	for n := k.tasksReady[priority].head; n != nil; n = n.(*tcb).links().next {
		if task := n.(*tcb); task.description == description {
			return task
		}
	}
	if task := k.currentTask; task != nil && task.priority == priority && task.description == description {
		return task
	}
	return nil
}

// taskSleepClaim acquires target's own sleep semaphore token without
// parking it on the resulting wait, the first half of taskSleep split out
// for callers (RequestStorageAccess, RequestUartAccess) that must mark a
// task asleep before handing control to something that might wake it
// again before the caller ever reaches the actual wait. Claiming the token
// up front mirrors the explicit SEMAPHORE_Acquire call taskSleep
// (syscall.c) makes before ever reaching taskWaitForSignal: that first
// acquire always succeeds (the token starts available) and is what
// actually marks the task asleep, so a release arriving afterward has an
// acquired token to land on instead of silently failing against a token
// nobody ever claimed.
func (k *Kernel) taskSleepClaim(target *tcb) Result {
	if target == nil {
		return ResultInvalidParams
	}
	if target.sleep.currentlyAvailable() == 0 {
		return ResultOK // already claimed
	}
	if !target.sleep.acquire() {
		return ResultError
	}
	return ResultOK
}

// taskSleepWait parks target on its already-claimed sleep semaphore, the
// second half of taskSleep split out to run after taskSleepClaim. It
// retries the same acquire the claim just performed; against the
// now-exhausted semaphore that retry fails immediately and drives the
// real suspension, exactly as waitForSignal's first synchronous attempt
// does for any other wait action. If something released the token between
// the claim and this call, the retry instead succeeds immediately and
// target never suspends at all.
func (k *Kernel) taskSleepWait(target *tcb) Result {
	return k.waitForSignal(target, SignalSemaphoreAcquire, semaphoreAcquireAction(target.sleep), WaitForever)
}

// taskSleep puts target to sleep by acquiring its own binary "sleep"
// semaphore as a wait-forever signal, grounded on taskSleep (syscall.c).
// Unlike every other wait action, this one is driven on behalf of a task
// that is not necessarily the caller (a driver waking up, or an external
// caller putting another task to sleep), so it takes target explicitly.
// This is taskSleepClaim immediately followed by taskSleepWait; callers
// that need the two halves separated by other work use those directly.
func (k *Kernel) taskSleep(target *tcb) Result {
	if r := k.taskSleepClaim(target); r != ResultOK {
		return r
	}
	return k.taskSleepWait(target)
}

// taskWakeup releases target's sleep semaphore, grounded on taskWakeup
// (syscall.c). A task cannot wake itself; doing so is a caller bug.
func (k *Kernel) taskWakeup(caller, target *tcb) Result {
	if target == nil {
		return ResultInvalidParams
	}
	kassert(target != caller, "task wakeup: task cannot wake itself")

	if target.sleep.currentlyAvailable() == 0 {
		if !target.sleep.release() {
			return ResultError
		}
		k.reschedule(caller)
	}
	return ResultOK
}

// terminateOther implements the branch of taskTerminate (syscall.c) where
// one task ends another; terminateTaskGoroutine (kernel.go) implements the
// "own task returning" branch.
func (k *Kernel) terminateOther(caller, target *tcb, retVal uint32) Result {
	if caller == nil {
		return ResultNoCurrentTask
	}
	if target == nil {
		return ResultInvalidParams
	}

	k.mu.Lock()
	if target.state == TaskTerminated {
		k.mu.Unlock()
		return ResultInvalidState
	}

	switch target.state {
	case TaskRunning:
		kassert(k.currentTask == target, "terminate: running task mismatch")
		k.currentTask = nil
	case TaskReady:
		k.tasksReady[target.priority].detach(target)
	case TaskWaiting:
		k.tasksWaiting[target.priority].detach(target)
	default:
		k.mu.Unlock()
		return ResultInvalidState
	}

	target.retValue = retVal
	target.state = TaskTerminated
	target.terminatedAt = k.tick.now()
	k.mu.Unlock()

	kassert(caller != target, "terminate: use terminateTaskGoroutine for self-termination")
	k.reschedule(caller)
	// target's goroutine remains parked on its cpuGrant channel forever: it
	// will never be granted the CPU again, same as the original abandoning
	// a terminated task's stack in place without ever resuming it.
	return ResultOK
}

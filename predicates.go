// Copyright 2019 Santiago Germino (royconejo@gmail.com)
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package kernel

// The four sigAction constructors below are grounded on
// taskSigActionSemaphoreAcquire/Release and taskSigActionMutexLock/Unlock
// in syscall.c. Each wraps a single retry attempt at acquiring a resource;
// the scheduler calls the returned predicate once per tick for every task
// parked on it (schedulerUpdateWaitingTasks -> taskUpdateState) until it
// returns true or the task's timeout elapses.
//
// The mutex predicates are where this port's redesign is visible: the
// original evaluates OS_MUTEX_Lock/Unlock with an implicit OS_TaskSelf()
// the scheduler fakes out by temporarily swapping g_OS->currentTask to the
// waiting task first. Here the caller is simply the closure's parameter,
// so no such swap, and no notion of a goroutine-local "current task", is
// needed at all.

func semaphoreAcquireAction(sem *semaphore) sigAction {
	return func(caller *tcb) bool {
		return sem.acquire()
	}
}

func semaphoreReleaseAction(sem *semaphore) sigAction {
	return func(caller *tcb) bool {
		return sem.release()
	}
}

func mutexLockAction(m *mutex) sigAction {
	return func(caller *tcb) bool {
		return m.lock(caller) == ResultOK
	}
}

func mutexUnlockAction(m *mutex) sigAction {
	return func(caller *tcb) bool {
		return m.unlock(caller) == ResultOK
	}
}

// Copyright 2019 Santiago Germino (royconejo@gmail.com)
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package kernel

// mutex is an ownership-tracking binary semaphore, grounded on os/mutex.c.
//
// Unlike the original, which reads the owner through an implicit
// OS_TaskSelf() that the scheduler fakes out when evaluating a waiting
// task's retry condition on its behalf, lock and unlock here take the
// caller explicitly. This is the redesign the original spec flagged: making
// "whose turn is it to retry" an explicit parameter removes the need to
// swap a goroutine-local notion of the current task just to re-run a
// predicate.
type mutex struct {
	sem   *semaphore
	owner *tcb
}

// newMutex mirrors OS_MUTEX_Init: a fresh mutex starts owned by its creator,
// matching the original's "owner = OS_TaskSelf()" at init time, and unlocked
// (one of one resources available).
func newMutex(creator *tcb) *mutex {
	kassert(creator != nil, "mutex init: nil creator")
	return &mutex{
		sem:   newSemaphore(1, 1),
		owner: creator,
	}
}

// lock attempts to acquire m for caller. It returns ResultOK immediately if
// caller already owns an already-locked mutex (the original's
// re-entrant-from-same-task short circuit), ResultOK if the underlying
// semaphore was free, or ResultRetry if another task holds it.
func (m *mutex) lock(caller *tcb) Result {
	kassert(caller != nil, "mutex lock: nil caller")

	if m.sem.currentlyAvailable() == 0 && m.owner == caller {
		return ResultOK
	}

	if m.sem.acquire() {
		m.owner = caller
		return ResultOK
	}

	return ResultRetry
}

// unlock releases m on behalf of caller. The owner check happens before the
// already-unlocked check, exactly as in OS_MUTEX_Unlock: while an owner is
// recorded (a fresh mutex records its creator), a non-owner unlocking an
// already-unlocked mutex gets InvalidCaller, not OK. A successful release
// clears the owner, after which any unlock returns InvalidParams.
func (m *mutex) unlock(caller *tcb) Result {
	kassert(caller != nil, "mutex unlock: nil caller")

	if m.owner == nil {
		return ResultInvalidParams
	}

	if m.owner != caller {
		return ResultInvalidCaller
	}

	if m.sem.currentlyAvailable() != 0 {
		return ResultOK
	}

	if m.sem.release() {
		m.owner = nil
		return ResultOK
	}

	return ResultRetry
}

// Copyright 2019 Santiago Germino (royconejo@gmail.com)
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package kernel

import (
	"sync"
	"time"
)

// bootTaskDescription and idleTaskDescription mirror TaskBootDescription
// and TaskIdleDescription (opaque.h externs, set in the original's board
// support file).
const (
	bootTaskDescription = "boot"
	idleTaskDescription = "idle"
)

// Kernel is a single instance of the scheduler, grounded on struct OS
// (opaque.h) together with the global g_OS it is always accessed through
// in the original. The original design keeps exactly one live OS per
// process (a single microcontroller has one kernel); this port makes that
// explicit by returning an ordinary value from New instead of hiding a
// package-level singleton, so a test can run several kernels concurrently
// without interfering with each other.
type Kernel struct {
	mu sync.Mutex

	lifecycle *kernelLifecycle
	opts      *kernelOptions

	runMode      RunMode
	startedAt    Ticks
	terminatedAt Ticks

	tick  *TickSource
	usage *usageAccounting
	usageCpu cpuUsage

	currentTask  *tcb
	runningSince time.Time

	tasksReady   [priorityCount]queue
	tasksWaiting [priorityCount]queue

	boot *tcb // recycled in place into the idle task once it returns

	// externalBaton is the handoff channel used only between the kernel's
	// external driver (Tick/Start/Forever, which has no tcb of its own) and
	// the idle task's WFI loop, which is the only task body that ever
	// signals it back. Every other reschedule is a direct task-to-task
	// baton pass (switchTo) that never touches this channel.
	externalBaton chan struct{}

	// schedulerCallPending mirrors g_OS_SchedulerCallPending: a diagnostic
	// flag, not a gate. The original sets it when requesting a PendSV and
	// clears it on entry to OS_Scheduler; nothing in scheduler.c branches
	// on its value either.
	schedulerCallPending bool
	tickBarrier          bool
	ticksMissed          uint32

	stopTicker chan struct{}
	tickerDone chan struct{}

	bootFailed chan struct{}
}

// New constructs an uninitialized Kernel. Call Init before starting a boot
// task, grounded on the original's static g_OS allocation followed by a
// separate OS_Init call (api.c).
func New(opts ...KernelOption) *Kernel {
	cfg := resolveKernelOptions(opts)
	k := &Kernel{
		lifecycle:     newKernelLifecycle(),
		opts:          cfg,
		tick:          newTickSource(),
		startedAt:     TicksUndefined,
		terminatedAt:  TicksUndefined,
		externalBaton: make(chan struct{}),
	}
	k.usage = newUsageAccounting(cfg.usageWindow, cfg.tickPeriod.Seconds())
	return k
}

// Init transitions the kernel from Uninitialized to Initialized, grounded
// on OS_Init. Calling it twice, or calling anything else before it, is a
// caller bug and returns ResultInvalidState/ResultAlreadyInitialized.
func (k *Kernel) Init() Result {
	if !k.lifecycle.tryTransition(phaseUninitialized, phaseInitialized) {
		if k.lifecycle.load() != phaseUninitialized {
			return ResultAlreadyInitialized
		}
		return ResultInvalidState
	}
	Info("kernel", "initialized")
	return ResultOK
}

// Start boots the kernel with bootEntry as the boot task body, grounded on
// OS_SyscallBoot + OS_Start. runMode selects whether Terminate is allowed
// (RunModeFinite) or the kernel runs until the process exits
// (RunModeForever). Start blocks until the kernel reaches a terminal state
// when runMode is RunModeFinite; for RunModeForever it returns once the
// boot task's entry function has returned (recycled into idle, or a
// non-zero return that ends the run), and a background ticker paces
// further scheduling.
func (k *Kernel) Start(runMode RunMode, bootEntry entryFunc, param any) Result {
	if k.lifecycle.load() != phaseInitialized {
		return ResultInvalidState
	}
	if runMode == RunModeUndefined {
		return ResultInvalidParams
	}

	k.mu.Lock()
	k.runMode = runMode
	k.boot = newTCB(k, bootTaskDescription, TaskGeneric, PriorityBoot, minTaskBufferSize, bootEntry, param)
	k.tasksReady[PriorityBoot].push(k.boot)
	k.tickBarrier = true // mirrors OS_SchedulerTickBarrier__ACTIVATE before the first switch
	k.mu.Unlock()

	if !k.lifecycle.tryTransition(phaseInitialized, phaseRunning) {
		return ResultInvalidState
	}

	k.bootFailed = make(chan struct{})
	go bootGoroutine(k, k.boot)

	if runMode == RunModeForever {
		k.stopTicker = make(chan struct{})
		k.tickerDone = make(chan struct{})
		go func() {
			defer close(k.tickerDone)
			runTicker(k.opts.tickPeriod, k.stopTicker, k.Tick)
		}()
	}

	k.kickScheduler()

	if runMode == RunModeFinite {
		k.runUntilTerminated()
	}

	return ResultOK
}

// kickScheduler runs the scheduler once without advancing the tick counter
// and without regard to the tick barrier, grounded on the explicit
// OS_SchedulerCallPending() call OS_SyscallStart makes right after creating
// the boot task (private/syscall.c): unlike OS_SchedulerTickCallback (the
// periodic SysTick path Tick below models), that call always requests a
// run regardless of g_OS_SchedulerTickBarrier, which exists only to stop a
// SysTick interrupt landing between taskStart and this explicit call from
// running the scheduler against a half-initialized boot task.
func (k *Kernel) kickScheduler() {
	k.mu.Lock()
	now := k.tick.now()
	next := k.scheduleLocked(now)
	k.mu.Unlock()

	if next == nil {
		return
	}
	k.switchToFromExternal(next)
}

// runUntilTerminated blocks the caller of Start(RunModeFinite, ...) by
// repeatedly ticking until the kernel transitions to Terminated, grounded
// on the original's deterministic test harness driving OS_Scheduler in a
// loop rather than from a real SysTick interrupt.
func (k *Kernel) runUntilTerminated() {
	for k.lifecycle.load() != phaseTerminated {
		k.Tick()
	}
}

// Forever is a convenience wrapper around Start(RunModeForever, ...),
// grounded on the typical embedded main() that never expects OS_Start to
// return.
func (k *Kernel) Forever(bootEntry entryFunc, param any) Result {
	return k.Start(RunModeForever, bootEntry, param)
}

// Tick advances the kernel's notion of time by one tick and, unless the
// tick barrier is active, runs the scheduler, grounded on the chain
// SysTick -> OS_SchedulerTickCallback -> OS_SchedulerCallPending ->
// PendSV -> OS_Scheduler. The tick counter itself always advances (the
// original's SysTick ISR increments its tick counter unconditionally); the
// barrier only ever suppresses this call's scheduler run, recording a
// missed attempt instead, exactly as OS_SchedulerTickCallback does. Tests
// call this directly for deterministic control; Start(RunModeForever, ...)
// calls it from a background ticker instead.
func (k *Kernel) Tick() {
	k.mu.Lock()
	now := k.tick.advance()
	if k.tickBarrier {
		k.ticksMissed++
		k.mu.Unlock()
		return
	}
	next := k.scheduleLocked(now)
	k.mu.Unlock()

	if next == nil {
		return
	}
	k.switchToFromExternal(next)
}

// Terminate stops a RunModeFinite kernel, grounded on OS_Terminate /
// osTerminate (syscall.c): it only records the intent and wakes the
// scheduler; OS_Scheduler notices terminatedAt on its next run and reports
// "closing" to its caller instead of selecting another task.
func (k *Kernel) Terminate() Result {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.runMode != RunModeFinite {
		return ResultInvalidOperation
	}
	if k.terminatedAt != TicksUndefined {
		return ResultOK
	}

	k.terminatedAt = k.tick.now()
	if !k.lifecycle.tryTransition(phaseRunning, phaseTerminating) {
		return ResultInvalidState
	}
	return ResultOK
}

// shutdown finalizes termination once the scheduler observes terminatedAt,
// grounded on OS_SyscallShutdown.
func (k *Kernel) shutdown() {
	if k.stopTicker != nil {
		close(k.stopTicker)
		<-k.tickerDone
	}
	k.lifecycle.store(phaseTerminated)
	Info("kernel", "terminated")
}

// -- scheduler, grounded on scheduler.c --

// scheduleLocked runs one full pass of the scheduler algorithm and returns
// the task selected to run next, or nil if the kernel has just finished
// terminating. Callers must hold k.mu.
func (k *Kernel) scheduleLocked(now Ticks) *tcb {
	if k.terminatedAt != TicksUndefined {
		k.shutdown()
		return nil
	}

	if k.startedAt == TicksUndefined {
		k.startedAt = now
	}

	k.schedulerUpdateWaitingTasks(now)
	k.schedulerLastTaskUpdate(now)
	k.schedulerFindNextTask()
	k.schedulerSetCurrentTaskReadyToRun(now)

	k.usage.updateTarget(now)
	k.schedulerUpdateLastTaskMeasures()
	k.schedulerUpdateOwnMeasures()

	k.schedulerCallPending = false
	k.tickBarrier = false
	if k.ticksMissed > 0 {
		k.ticksMissed = 0
	}

	return k.currentTask
}

// taskSigWaitEnd clears a task's signal-wait bookkeeping, grounded on
// taskSigWaitEnd (scheduler.c).
func taskSigWaitEnd(t *tcb, result Result) {
	t.sigWaitAction = nil
	t.sigWaitResult = result
}

// taskUpdateState recomputes a task's state from its suspension/signal
// fields, grounded on taskUpdateState (scheduler.c). caller is the task
// itself, passed explicitly to sigWaitAction instead of recovered through
// a swapped-in "current task" global (see predicates.go).
func taskUpdateState(t *tcb, now Ticks) {
	if t.suspendedUntil == 0 {
		t.state = TaskReady
		return
	}

	if t.suspendedUntil > now {
		t.state = TaskWaiting
		if t.sigWaitAction == nil {
			return
		}
		if t.sigWaitAction(t) {
			taskSigWaitEnd(t, ResultOK)
			t.suspendedUntil = 0
			t.state = TaskReady
		}
		return
	}

	kassert(t.suspendedUntil <= now, "task update state: suspendedUntil underflow")

	if t.sigWaitAction == nil {
		t.lastSuspension = t.suspendedUntil
	} else {
		taskSigWaitEnd(t, ResultTimeout)
	}
	t.suspendedUntil = 0
	t.state = TaskReady
}

func (k *Kernel) schedulerUpdateWaitingTasks(now Ticks) {
	for i := Priority(0); i < priorityCount; i++ {
		q := &k.tasksWaiting[i]
		var next queueable
		for n := q.head; n != nil; n = next {
			task := n.(*tcb)
			next = task.links().next
			task.checkStackBarrier()

			taskUpdateState(task, now)

			if task.state == TaskReady {
				q.detach(task)
				k.tasksReady[i].push(task)
			}
			task.checkStackBarrier()
		}
	}
}

func (k *Kernel) schedulerLastTaskUpdate(now Ticks) {
	task := k.currentTask
	if task == nil {
		return
	}

	kassert(task.state == TaskRunning, "scheduler: running task in wrong state")
	task.checkStackBarrier()

	elapsed := uint64(time.Since(k.runningSince).Nanoseconds())
	task.runCycles += elapsed

	curMemory := task.usedMemory()
	k.usage.updateCurrentMeasures(&task.usageCpu, &task.usageMemory, elapsed, curMemory)

	taskUpdateState(task, now)

	switch task.state {
	case TaskReady:
		k.tasksReady[task.priority].push(task)
	case TaskWaiting:
		k.tasksWaiting[task.priority].push(task)
	default:
		kassert(false, "scheduler: invalid running task state after update")
	}

	task.checkStackBarrier()
	k.currentTask = nil
}

func (k *Kernel) schedulerFindNextTask() {
	kassert(k.currentTask == nil, "scheduler: task already selected")

	for i := Priority(0); i < priorityCount; i++ {
		q := &k.tasksReady[i]
		if q.head != nil {
			task := q.head.(*tcb)
			q.detach(task)
			k.currentTask = task
			return
		}
	}
}

func (k *Kernel) schedulerSetCurrentTaskReadyToRun(now Ticks) {
	kassert(k.currentTask != nil, "scheduler: no task selected")
	task := k.currentTask
	task.checkStackBarrier()

	task.state = TaskRunning
	if task.startedAt == TicksUndefined {
		task.startedAt = now
	}
	k.runningSince = time.Now()
}

func (k *Kernel) schedulerUpdateLastTaskMeasures() {
	if !k.usage.updateLastMeasures {
		return
	}

	if task := k.currentTask; task != nil {
		k.usage.updateLastMeasuresFor(&task.usageCpu, &task.usageMemory, task.usedMemory(), uint32(len(task.stack)))
	}

	for i := Priority(0); i < priorityCount; i++ {
		for n := k.tasksWaiting[i].head; n != nil; n = n.(*tcb).links().next {
			task := n.(*tcb)
			k.usage.updateLastMeasuresFor(&task.usageCpu, &task.usageMemory, task.usedMemory(), uint32(len(task.stack)))
		}
		for n := k.tasksReady[i].head; n != nil; n = n.(*tcb).links().next {
			task := n.(*tcb)
			k.usage.updateLastMeasuresFor(&task.usageCpu, &task.usageMemory, task.usedMemory(), uint32(len(task.stack)))
		}
	}
}

func (k *Kernel) schedulerUpdateOwnMeasures() {
	elapsed := uint64(time.Since(k.runningSince).Nanoseconds())
	k.usage.updateCurrentMeasures(&k.usageCpu, nil, elapsed, 0)
	if k.usage.updateLastMeasures {
		k.usage.updateLastMeasuresFor(&k.usageCpu, nil, 0, 0)
	}
}

// -- concurrency: baton passing between task goroutines --

// switchTo hands the CPU from a currently-running task goroutine directly
// to another task goroutine, then blocks until it is handed back. This is
// the task-initiated reschedule path (a syscall decided a different task
// should run); switchToFromExternal is its counterpart for the kernel's own
// driver, which has no tcb to receive a grant on.
func (k *Kernel) switchTo(from, to *tcb) {
	to.cpuGrant <- struct{}{}
	<-from.cpuGrant
}

// switchToFromExternal hands the CPU to to and blocks until either the idle
// task's WFI loop hands it back, or bootGoroutine reports a failed boot.
// The latter only ever matters the first time this is called (from
// kickScheduler, handing the CPU to the boot task itself): a boot entry
// that returns non-zero terminates bootGoroutine without ever recycling
// into idle, so there is nobody left to send on externalBaton and this
// call would otherwise block forever. Observing bootFailed instead lets
// the caller return and the next scheduler pass (scheduleLocked seeing
// terminatedAt set) drive the normal shutdown. It must never be called
// with to == an already running task's own switchTo path; only
// Tick()/Start() call it, exactly once per tick.
func (k *Kernel) switchToFromExternal(to *tcb) {
	to.cpuGrant <- struct{}{}
	select {
	case <-k.externalBaton:
	case <-k.bootFailed:
	}
}

// reschedule is the common path a task-owned goroutine calls after any
// syscall that might change who should run: compute the next task under
// k.mu, then either continue inline (next is the caller, nothing to do) or
// hand off the baton and block until it comes back.
func (k *Kernel) reschedule(caller *tcb) {
	k.mu.Lock()
	now := k.tick.now()
	next := k.scheduleLocked(now)
	k.mu.Unlock()

	if next == nil || next == caller {
		return
	}
	k.switchTo(caller, next)
}

// rescheduleAfterTermination is called by a task goroutine that is about to
// end for good (it has already been marked Terminated and removed from
// every queue under k.mu). It hands off the baton without waiting for it
// back, since this goroutine will never run again.
func (k *Kernel) rescheduleAfterTermination(caller *tcb) {
	k.mu.Lock()
	now := k.tick.now()
	next := k.scheduleLocked(now)
	k.mu.Unlock()

	if next == nil {
		return
	}
	next.cpuGrant <- struct{}{}
}

// -- task goroutines --

// taskGoroutine is the body every non-boot task's dedicated goroutine
// runs, grounded on taskCommonReturn (syscall.c): block until granted the
// CPU, run the task's entry function, then terminate through the same path
// OS_TaskTerminate uses for any other task.
func taskGoroutine(k *Kernel, t *tcb) {
	<-t.cpuGrant
	retVal := t.entry(&Task{tcb: t, k: k})
	k.terminateTaskGoroutine(t, retVal)
}

// bootGoroutine is the boot task's dedicated goroutine, grounded on
// taskBootReturn (syscall.c). On success it recycles itself in place into
// the idle task instead of spawning a second goroutine, which is what
// keeps the eventual idle loop and the original boot goroutine's wait on
// the same tcb's channels from racing against each other.
func bootGoroutine(k *Kernel, boot *tcb) {
	<-boot.cpuGrant
	retVal := boot.entry(&Task{tcb: boot, k: k})

	if retVal != 0 {
		k.mu.Lock()
		now := k.tick.now()
		k.currentTask = nil
		boot.retValue = retVal
		boot.state = TaskTerminated
		boot.terminatedAt = now
		k.terminatedAt = now
		k.mu.Unlock()
		k.lifecycle.tryTransition(phaseRunning, phaseTerminating)
		close(k.bootFailed)
		return
	}

	idle := k.recycleBootIntoIdle(boot)
	for {
		k.externalBaton <- struct{}{}
		<-idle.cpuGrant
	}
}

// recycleBootIntoIdle reinitializes the boot tcb in place as the idle task,
// grounded on taskBootEnded (syscall.c): same buffer, same struct, new
// priority/description/entry, pushed onto the ready queue like any freshly
// started task.
func (k *Kernel) recycleBootIntoIdle(boot *tcb) *tcb {
	k.mu.Lock()
	defer k.mu.Unlock()

	kassert(k.currentTask == boot, "boot ended: boot task not current")
	k.currentTask = nil

	boot.description = idleTaskDescription
	boot.priority = PriorityIdle
	boot.state = TaskReady
	boot.startedAt = TicksUndefined
	boot.terminatedAt = TicksUndefined
	boot.suspendedUntil = 0
	boot.lastSuspension = 0
	boot.sigWaitAction = nil
	boot.runCycles = 0
	boot.usageCpu.reset()
	boot.usageMemory.reset()
	boot.initStack()

	k.tasksReady[PriorityIdle].push(boot)
	k.schedulerCallPending = true

	return boot
}

// terminateTaskGoroutine implements taskTerminate for a task ending its own
// execution (syscall.c's "own task returning" branch), then hands off the
// baton one-way since this goroutine will never run again.
func (k *Kernel) terminateTaskGoroutine(t *tcb, retVal uint32) {
	k.mu.Lock()
	kassert(k.currentTask == t, "task terminate: not the running task")
	k.currentTask = nil
	t.retValue = retVal
	t.state = TaskTerminated
	t.terminatedAt = k.tick.now()
	k.mu.Unlock()

	k.rescheduleAfterTermination(t)
}

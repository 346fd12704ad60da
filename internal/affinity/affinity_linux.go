//go:build linux

// Package affinity holds the advisory performance knobs: pinning a goroutine's
// OS thread to a core and raising its scheduling priority. Failures here are
// reported, never fatal; correctness does not depend on placement.
package affinity

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Pin binds the calling OS thread to a single CPU. Callers must have locked
// the goroutine to its thread first (runtime.LockOSThread).
func Pin(cpu int) error {
	var set unix.CPUSet
	set.Zero()
	set.Set(cpu)
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		return fmt.Errorf("pin thread to cpu %d: %w", cpu, err)
	}
	return nil
}

// schedParam mirrors struct sched_param for sched_setscheduler(2).
type schedParam struct {
	Priority int32
}

// RaisePriority moves the calling thread into SCHED_FIFO at maximum priority
// so it preempts all SCHED_OTHER work and lower-priority FIFO tasks. x/sys
// has no wrapper for sched_setscheduler, so the syscall is made directly.
// Typically needs CAP_SYS_NICE.
func RaisePriority() error {
	param := schedParam{Priority: 99}
	_, _, errno := unix.Syscall(unix.SYS_SCHED_SETSCHEDULER,
		0, // this thread
		uintptr(unix.SCHED_FIFO),
		uintptr(unsafe.Pointer(&param)))
	if errno != 0 {
		return fmt.Errorf("set SCHED_FIFO priority: %w", errno)
	}
	return nil
}

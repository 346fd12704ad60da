//go:build !linux

package affinity

import "errors"

var errUnsupported = errors.New("thread affinity is only supported on linux")

// Pin is a no-op stub off Linux.
func Pin(cpu int) error { return errUnsupported }

// RaisePriority is a no-op stub off Linux.
func RaisePriority() error { return errUnsupported }

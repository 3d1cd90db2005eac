// Package affinity pins the calling OS thread to a logical CPU.
//
// Callers must hold runtime.LockOSThread for the pin to stick to the
// goroutine; otherwise the scheduler may move the goroutine to another,
// unpinned thread.
package affinity

import "errors"

// ErrUnsupported is returned on platforms without thread affinity.
var ErrUnsupported = errors.New("affinity: thread pinning not supported on this platform")

// ErrInvalidCPU is returned for CPU indices outside the kernel's mask.
var ErrInvalidCPU = errors.New("affinity: cpu index out of range")

//go:build !linux

package affinity

// Supported reports whether Pin can work on this platform.
func Supported() bool { return false }

// Pin is unavailable off Linux; the experiment runs unpinned.
func Pin(cpu int) error { return ErrUnsupported }

// Current is unavailable off Linux.
func Current() ([]int, error) { return nil, ErrUnsupported }

//go:build linux

package affinity

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// maxCPU is CPU_SETSIZE, the number of CPUs a unix.CPUSet can describe.
const maxCPU = 1024

// Supported reports whether Pin can work on this platform.
func Supported() bool { return true }

// Pin restricts the calling thread to the single logical CPU cpu.
func Pin(cpu int) error {
	if cpu < 0 || cpu >= maxCPU {
		return fmt.Errorf("%w: %d", ErrInvalidCPU, cpu)
	}

	var set unix.CPUSet
	set.Zero()
	set.Set(cpu)

	// pid 0 is the calling thread.
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		return fmt.Errorf("sched_setaffinity(cpu=%d): %w", cpu, err)
	}
	return nil
}

// Current returns the logical CPUs the calling thread may run on.
func Current() ([]int, error) {
	var set unix.CPUSet
	if err := unix.SchedGetaffinity(0, &set); err != nil {
		return nil, fmt.Errorf("sched_getaffinity: %w", err)
	}

	cpus := make([]int, 0, set.Count())
	for cpu := 0; cpu < maxCPU; cpu++ {
		if set.IsSet(cpu) {
			cpus = append(cpus, cpu)
		}
	}
	return cpus, nil
}

package affinity

import (
	"errors"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// restore sets the calling thread's mask back to cpus, as returned by Current.
func restore(cpus []int) error {
	var set unix.CPUSet
	set.Zero()
	for _, cpu := range cpus {
		set.Set(cpu)
	}
	return unix.SchedSetaffinity(0, &set)
}

func TestPinAndRestore(t *testing.T) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	orig, err := Current()
	require.NoError(t, err)
	require.NotEmpty(t, orig)

	target := orig[0]
	if err := Pin(target); err != nil {
		// Containers may forbid changing the mask.
		if errors.Is(err, ErrInvalidCPU) {
			t.Fatalf("Pin(%d) rejected an allowed CPU: %v", target, err)
		}
		t.Skipf("sched_setaffinity not permitted here: %v", err)
	}
	defer func() {
		assert.NoError(t, restore(orig))
	}()

	now, err := Current()
	require.NoError(t, err)
	assert.Equal(t, []int{target}, now)
}

func TestPinMissingCPUReturnsErrno(t *testing.T) {
	missing := maxCPU - 1
	if runtime.NumCPU() > missing {
		t.Skipf("cpu %d exists on this machine", missing)
	}

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	err := Pin(missing)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidCPU)

	var errno unix.Errno
	assert.True(t, errors.As(err, &errno), "expected a wrapped errno, got %v", err)
	assert.Equal(t, unix.EINVAL, errno)
}

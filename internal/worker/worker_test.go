package worker

import (
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/ehrlich-b/go-reorder/internal/affinity"
	"github.com/ehrlich-b/go-reorder/internal/barrier"
	"github.com/ehrlich-b/go-reorder/internal/logging"
	"github.com/ehrlich-b/go-reorder/internal/sema"
)

// newPair wires two workers the way the experiment does: each reads the
// other's slot and both signal the same completion semaphore.
func newPair(t *testing.T, b barrier.Barrier) ([2]*State, [2]*Worker, *sema.Semaphore) {
	t.Helper()

	states := [2]*State{NewState(), NewState()}
	done := sema.New(0)

	var workers [2]*Worker
	for id := range workers {
		w, err := New(Config{
			ID:      id,
			Self:    states[id],
			Peer:    states[1-id],
			Done:    done,
			Barrier: b,
			Logger:  logging.Nop(),
		})
		require.NoError(t, err)
		workers[id] = w
	}
	return states, workers, done
}

func TestNewValidation(t *testing.T) {
	s0, s1 := NewState(), NewState()
	done := sema.New(0)
	b := barrier.New(barrier.Compiler)

	tests := []struct {
		name   string
		config Config
	}{
		{"missing self", Config{Peer: s1, Done: done, Barrier: b}},
		{"missing peer", Config{Self: s0, Done: done, Barrier: b}},
		{"self is peer", Config{Self: s0, Peer: s0, Done: done, Barrier: b}},
		{"missing done", Config{Self: s0, Peer: s1, Barrier: b}},
		{"missing barrier", Config{Self: s0, Peer: s1, Done: done}},
		{"negative cpu", Config{Self: s0, Peer: s1, Done: done, Barrier: b, Pin: true, CPU: -1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, err := New(tt.config)
			assert.Error(t, err)
			assert.Nil(t, w)
		})
	}
}

func TestRoundReadsPeerNotSelf(t *testing.T) {
	states, workers, _ := newPair(t, barrier.New(barrier.Compiler))

	// Worker 0 runs alone: its own store is visible to it, the peer's slot
	// is still clear.
	workers[0].Round()
	assert.Equal(t, int64(1), states[0].WriteVar())
	assert.Equal(t, int64(0), states[0].ReadVar())

	// Worker 1 now sees worker 0's store.
	workers[1].Round()
	assert.Equal(t, int64(1), states[1].WriteVar())
	assert.Equal(t, int64(1), states[1].ReadVar())
}

func TestRoundFenceSitsBetweenWriteAndRead(t *testing.T) {
	states := [2]*State{NewState(), NewState()}
	store(&states[0].readVar, -1)
	store(&states[1].writeVar, 7)

	var fenced bool
	w, err := New(Config{
		ID:   0,
		Self: states[0],
		Peer: states[1],
		Done: sema.New(0),
		Barrier: barrier.Func(func() {
			fenced = true
			assert.Equal(t, int64(1), states[0].WriteVar(), "write must precede the fence")
			assert.Equal(t, int64(-1), states[0].ReadVar(), "read must follow the fence")
		}),
		Logger: logging.Nop(),
	})
	require.NoError(t, err)

	w.Round()
	assert.True(t, fenced)
	assert.Equal(t, int64(7), states[0].ReadVar())
}

func TestResetClearsStaleWrites(t *testing.T) {
	states, workers, _ := newPair(t, barrier.New(barrier.Hardware))

	workers[0].Round()
	workers[1].Round()
	require.Equal(t, int64(1), states[0].WriteVar())
	require.Equal(t, int64(1), states[1].WriteVar())

	states[0].Reset()
	states[1].Reset()
	assert.Equal(t, int64(0), states[0].WriteVar())
	assert.Equal(t, int64(0), states[1].WriteVar())

	// Nothing from the previous round leaks into the next read.
	workers[1].Round()
	assert.Equal(t, int64(0), states[1].ReadVar())
}

func TestRunLoopProtocol(t *testing.T) {
	states, workers, done := newPair(t, barrier.New(barrier.Hardware))

	var g errgroup.Group
	for _, w := range workers {
		g.Go(w.Run)
	}

	// The fallback fence on other architectures is not guaranteed to order
	// plain accesses.
	fenceIsFull := runtime.GOARCH == "amd64" || runtime.GOARCH == "arm64"

	const iterations = 200
	for i := 0; i < iterations; i++ {
		states[0].Reset()
		states[1].Reset()
		states[0].Start()
		states[1].Start()

		done.Acquire(2)
		require.Equal(t, uint32(0), done.Count(), "iteration %d leaked a completion", i)

		// Under a full fence at least one worker must see the other's store.
		r0, r1 := states[0].ReadVar(), states[1].ReadVar()
		require.False(t, fenceIsFull && r0 == 0 && r1 == 0, "iteration %d observed (0,0) with a hardware fence", i)
	}

	for id, w := range workers {
		w.Stop()
		states[id].Start()
	}

	waitErr := make(chan error, 1)
	go func() { waitErr <- g.Wait() }()
	select {
	case err := <-waitErr:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("workers did not exit after Stop")
	}

	for _, w := range workers {
		assert.Equal(t, uint64(iterations), w.Rounds())
		assert.False(t, w.Pinned())
		assert.NoError(t, w.PinError())
		assert.Nil(t, w.CPUMask())
	}
	assert.Equal(t, uint32(0), done.Count())
}

func TestWorkerParksUntilStarted(t *testing.T) {
	states, workers, done := newPair(t, barrier.New(barrier.Compiler))

	var g errgroup.Group
	g.Go(workers[0].Run)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, uint32(0), done.Count(), "worker ran without a start signal")
	assert.Equal(t, uint64(0), workers[0].Rounds())

	states[0].Start()
	done.Acquire(1)
	assert.Equal(t, uint64(1), workers[0].Rounds())

	workers[0].Stop()
	states[0].Start()
	require.NoError(t, g.Wait())
}

func TestPinFailureIsRecorded(t *testing.T) {
	s0, s1 := NewState(), NewState()
	done := sema.New(0)

	w, err := New(Config{
		Self:    s0,
		Peer:    s1,
		Done:    done,
		Barrier: barrier.New(barrier.Compiler),
		Pin:     true,
		CPU:     1 << 20,
		Logger:  logging.Nop(),
	})
	require.NoError(t, err)
	assert.NoError(t, w.PinError(), "no pin attempted before Run")

	var g errgroup.Group
	g.Go(w.Run)

	// Completing a round orders the pin attempt before the checks.
	s0.Start()
	done.Acquire(1)

	assert.False(t, w.Pinned())
	assert.Nil(t, w.CPUMask())
	if affinity.Supported() {
		assert.ErrorIs(t, w.PinError(), affinity.ErrInvalidCPU)
	} else {
		assert.ErrorIs(t, w.PinError(), affinity.ErrUnsupported)
	}

	w.Stop()
	s0.Start()
	require.NoError(t, g.Wait())
}

func TestPinnedWorkerReportsMask(t *testing.T) {
	if !affinity.Supported() {
		t.Skip("thread affinity not supported on this platform")
	}

	s0, s1 := NewState(), NewState()
	done := sema.New(0)

	w, err := New(Config{
		Self:    s0,
		Peer:    s1,
		Done:    done,
		Barrier: barrier.New(barrier.Compiler),
		Pin:     true,
		CPU:     0,
		Logger:  logging.Nop(),
	})
	require.NoError(t, err)

	var g errgroup.Group
	g.Go(w.Run)
	s0.Start()
	done.Acquire(1)

	if !w.Pinned() {
		// Containers may forbid changing the mask.
		t.Logf("pin refused: %v", w.PinError())
		assert.Error(t, w.PinError())
	} else {
		assert.NoError(t, w.PinError())
		assert.Equal(t, []int{0}, w.CPUMask())
	}

	w.Stop()
	s0.Start()
	require.NoError(t, g.Wait())
}

// Package worker implements the racing side of the reorder experiment: two
// long-lived threads that each publish a store, apply a barrier and then
// load the other thread's store.
package worker

import (
	"fmt"
	"runtime"
	"sync/atomic"

	"github.com/ehrlich-b/go-reorder/internal/affinity"
	"github.com/ehrlich-b/go-reorder/internal/barrier"
	"github.com/ehrlich-b/go-reorder/internal/logging"
	"github.com/ehrlich-b/go-reorder/internal/sema"
)

// Config describes one worker.
type Config struct {
	ID      int
	Self    *State          // slots this worker owns
	Peer    *State          // slots whose writeVar this worker reads
	Done    *sema.Semaphore // released once per completed iteration
	Barrier barrier.Barrier
	Pin     bool // pin the worker thread to CPU
	CPU     int
	Logger  *logging.Logger
}

// Worker runs the write/fence/read protocol on its own OS thread.
type Worker struct {
	id      int
	self    *State
	peer    *State
	done    *sema.Semaphore
	barrier barrier.Barrier
	pin     bool
	cpu     int
	logger  *logging.Logger

	stop    atomic.Bool
	pinned  atomic.Bool
	pinErr  atomic.Pointer[error]
	cpuMask atomic.Pointer[[]int]
	rounds  atomic.Uint64
}

// New validates config and creates a worker. The worker does nothing until
// Run is called on a dedicated goroutine.
func New(config Config) (*Worker, error) {
	if config.Self == nil || config.Peer == nil {
		return nil, fmt.Errorf("worker %d: self and peer state are required", config.ID)
	}
	if config.Self == config.Peer {
		return nil, fmt.Errorf("worker %d: peer must be a different state", config.ID)
	}
	if config.Done == nil {
		return nil, fmt.Errorf("worker %d: completion semaphore is required", config.ID)
	}
	if config.Barrier == nil {
		return nil, fmt.Errorf("worker %d: barrier is required", config.ID)
	}
	if config.Pin && config.CPU < 0 {
		return nil, fmt.Errorf("worker %d: invalid cpu %d", config.ID, config.CPU)
	}

	logger := config.Logger
	if logger == nil {
		logger = logging.Default()
	}

	return &Worker{
		id:      config.ID,
		self:    config.Self,
		peer:    config.Peer,
		done:    config.Done,
		barrier: config.Barrier,
		pin:     config.Pin,
		cpu:     config.CPU,
		logger:  logger.WithWorker(config.ID),
	}, nil
}

// ID returns the worker index.
func (w *Worker) ID() int { return w.id }

// Pinned reports whether the affinity request succeeded.
func (w *Worker) Pinned() bool { return w.pinned.Load() }

// PinError returns why the affinity request failed, or nil.
func (w *Worker) PinError() error {
	if err := w.pinErr.Load(); err != nil {
		return *err
	}
	return nil
}

// CPUMask returns the CPUs the pinned thread may run on, or nil when the
// worker is not pinned.
func (w *Worker) CPUMask() []int {
	if mask := w.cpuMask.Load(); mask != nil {
		return *mask
	}
	return nil
}

// Rounds returns the number of completed iterations.
func (w *Worker) Rounds() uint64 { return w.rounds.Load() }

// Run is the worker loop. It locks the goroutine to an OS thread, optionally
// pins that thread, and then serves iterations until Stop is observed after
// a start signal. It always returns nil; the error result lets it run under
// an errgroup.
func (w *Worker) Run() error {
	runtime.LockOSThread()

	if w.pin {
		w.pinThread()
	}
	// A thread with a narrowed CPU mask must not go back to the scheduler's
	// pool. Exiting while still locked makes the runtime destroy it.
	if !w.pinned.Load() {
		defer runtime.UnlockOSThread()
	}

	w.logger.WorkerStarted(w.cpu, w.pinned.Load())

	for {
		w.self.wait()
		if w.stop.Load() {
			w.logger.Debug("worker loop stopping", "rounds", w.rounds.Load())
			return nil
		}

		w.Round()

		w.rounds.Add(1)
		w.done.Release(1)
	}
}

// pinThread applies the configured affinity to the locked thread. Failure
// is recorded and logged; the worker then runs unpinned.
func (w *Worker) pinThread() {
	if err := affinity.Pin(w.cpu); err != nil {
		w.pinErr.Store(&err)
		w.logger.WithError(err).WorkerPinFailed(w.cpu)
		return
	}
	w.pinned.Store(true)

	if mask, err := affinity.Current(); err == nil {
		w.cpuMask.Store(&mask)
	}
}

// Round performs the racy part of one iteration: WRITE, FENCE, READ_PEER.
// It does no synchronization of its own.
func (w *Worker) Round() {
	store(&w.self.writeVar, 1)
	w.barrier.Apply()
	store(&w.self.readVar, load(&w.peer.writeVar))
}

// Stop asks the loop to exit the next time it passes the start gate. The
// caller must open the gate (State.Start) afterwards to wake the worker.
func (w *Worker) Stop() {
	w.stop.Store(true)
}

// Package reorder provides the store-buffering experiment: two worker
// threads race a store against a load of each other's slot, and the
// orchestrator flags every iteration in which both loads missed the peer's
// store, an outcome sequential consistency forbids.
package reorder

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ehrlich-b/go-reorder/internal/affinity"
	"github.com/ehrlich-b/go-reorder/internal/barrier"
	"github.com/ehrlich-b/go-reorder/internal/constants"
	"github.com/ehrlich-b/go-reorder/internal/logging"
	"github.com/ehrlich-b/go-reorder/internal/sema"
	"github.com/ehrlich-b/go-reorder/internal/worker"
)

// FenceKind selects the barrier workers apply between their store and load.
type FenceKind = barrier.Kind

const (
	// CompilerBarrier only stops compiler reordering.
	CompilerBarrier = barrier.Compiler
	// HardwareFence issues a full CPU memory fence.
	HardwareFence = barrier.Hardware
)

// Barrier is the capability workers call between WRITE and READ_PEER.
type Barrier = barrier.Barrier

// BarrierFunc adapts a function to Barrier.
type BarrierFunc = barrier.Func

// ParseFence maps "compiler" or "hardware" to a FenceKind.
func ParseFence(s string) (FenceKind, error) {
	return barrier.ParseKind(s)
}

// Params contains the static configuration of an experiment. It is resolved
// once by New and never re-read.
type Params struct {
	// Fence is the barrier discipline (default from the reorder_mfence tag).
	Fence FenceKind

	// Barrier overrides Fence with a custom implementation when non-nil.
	Barrier Barrier

	// SingleCore pins both workers to CPU (default from the
	// reorder_singlecore tag).
	SingleCore bool
	CPU        int

	// TrackLatency records the rendezvous latency of every iteration.
	TrackLatency bool
}

// DefaultParams returns parameters matching the build-time defaults
func DefaultParams() Params {
	fence := CompilerBarrier
	if constants.DefaultHardwareFence {
		fence = HardwareFence
	}
	return Params{
		Fence:      fence,
		SingleCore: constants.DefaultSingleCore,
		CPU:        constants.DefaultPinnedCPU,
	}
}

// Options contains additional, non-experimental settings
type Options struct {
	// Report receives one line per flagged iteration (default os.Stdout)
	Report io.Writer

	// Logger for diagnostics (if nil, uses logging.Default())
	Logger *logging.Logger

	// Observer for metrics collection (if nil, records to the built-in Metrics)
	Observer Observer
}

// Outcome is the classified result of one iteration.
type Outcome struct {
	Iteration uint64   `json:"iteration"`
	Reads     [2]int64 `json:"reads"`
	Reordered bool     `json:"reordered"`
}

// class indexes the (read0, read1) combination for the outcome histogram.
func (o Outcome) class() int {
	c := 0
	if o.Reads[0] != 0 {
		c |= 2
	}
	if o.Reads[1] != 0 {
		c |= 1
	}
	return c
}

// Experiment owns the two race states, the completion semaphore and the two
// worker threads. Step, Run and Close must be called from a single
// goroutine.
type Experiment struct {
	params  Params
	states  [constants.NumWorkers]*worker.State
	workers [constants.NumWorkers]*worker.Worker
	done    *sema.Semaphore
	group   errgroup.Group

	iteration atomic.Uint64
	closed    atomic.Bool

	report   io.Writer
	logger   *logging.Logger
	metrics  *Metrics
	observer Observer
}

// New validates params, allocates the shared state and starts both workers.
// The workers park on their start gates until the first Step.
func New(params Params, options *Options) (*Experiment, error) {
	if options == nil {
		options = &Options{}
	}

	if params.Barrier == nil && !params.Fence.Valid() {
		return nil, NewError("NEW", ErrCodeInvalidParameters, fmt.Sprintf("unknown fence kind %v", params.Fence))
	}
	if params.SingleCore && params.CPU < 0 {
		return nil, NewError("NEW", ErrCodeInvalidParameters, fmt.Sprintf("invalid cpu %d", params.CPU))
	}

	logger := options.Logger
	if logger == nil {
		logger = logging.Default()
	}

	b := params.Barrier
	fenceName := "custom"
	if b == nil {
		b = barrier.New(params.Fence)
		fenceName = params.Fence.String()
	}
	logger = logger.WithFence(fenceName)

	report := options.Report
	if report == nil {
		report = os.Stdout
	}

	metrics := NewMetrics()
	observer := options.Observer
	if observer == nil {
		observer = NewMetricsObserver(metrics)
	}

	e := &Experiment{
		params:   params,
		done:     sema.New(0),
		report:   report,
		logger:   logger,
		metrics:  metrics,
		observer: observer,
	}

	for id := range e.states {
		e.states[id] = worker.NewState()
	}
	for id := range e.workers {
		w, err := worker.New(worker.Config{
			ID:      id,
			Self:    e.states[id],
			Peer:    e.states[(id+1)%constants.NumWorkers],
			Done:    e.done,
			Barrier: b,
			Pin:     params.SingleCore,
			CPU:     params.CPU,
			Logger:  logger,
		})
		if err != nil {
			werr := NewWorkerError("NEW", id, ErrCodeInvalidParameters, err.Error())
			werr.Inner = err
			return nil, werr
		}
		e.workers[id] = w
	}

	if procs := runtime.GOMAXPROCS(0); procs < constants.MinParallelProcs {
		logger.Warn("GOMAXPROCS too low for workers to run in parallel", "gomaxprocs", procs)
	}
	if params.SingleCore && !affinity.Supported() {
		logger.Info("thread pinning unsupported on this platform, single-core mode disabled")
	}

	for _, w := range e.workers {
		e.group.Go(w.Run)
	}

	logger.Debug("experiment started", "single_core", params.SingleCore, "cpu", params.CPU)
	return e, nil
}

// Step runs exactly one iteration: reset both slots, open both start gates,
// wait for both completions, then classify. A flagged iteration writes one
// report line.
func (e *Experiment) Step() (Outcome, error) {
	if e.closed.Load() {
		return Outcome{}, NewError("STEP", ErrCodeClosed, "experiment closed")
	}

	i := e.iteration.Add(1)

	// The resets are published to each worker by its start semaphore.
	for _, s := range e.states {
		s.Reset()
	}

	var began time.Time
	if e.params.TrackLatency {
		began = time.Now()
	}

	for _, s := range e.states {
		s.Start()
	}

	e.done.Acquire(constants.CompletionPermits)

	var latencyNs uint64
	if e.params.TrackLatency {
		latencyNs = uint64(time.Since(began))
	}

	if leaked := e.done.Count(); leaked != 0 {
		e.logger.WithIteration(i).Error("completion semaphore holds extra permits", "permits", leaked)
	}

	o := Outcome{
		Iteration: i,
		Reads:     [2]int64{e.states[0].ReadVar(), e.states[1].ReadVar()},
	}
	o.Reordered = o.Reads[0] == 0 && o.Reads[1] == 0

	if o.Reordered {
		fmt.Fprintf(e.report, constants.ReportFormat, i)
		if e.logger.DebugEnabled() {
			e.logger.ReorderObserved(i)
		}
	}

	e.observer.ObserveIteration(o, latencyNs)
	return o, nil
}

// Run drives Step until iterations have run (0 means forever) or ctx is
// done. ctx is only checked between iterations.
func (e *Experiment) Run(ctx context.Context, iterations uint64) error {
	if ctx == nil {
		ctx = context.Background()
	}
	stop := ctx.Done()

	for n := uint64(0); iterations == 0 || n < iterations; n++ {
		select {
		case <-stop:
			return ctx.Err()
		default:
		}

		if _, err := e.Step(); err != nil {
			return err
		}
	}
	return nil
}

// Close stops both workers and waits for their threads to exit. It must not
// be called concurrently with Step. Close is idempotent.
func (e *Experiment) Close() error {
	if e.closed.Swap(true) {
		return nil
	}

	for id, w := range e.workers {
		w.Stop()
		e.states[id].Start()
	}

	err := e.group.Wait()
	e.metrics.Stop()
	e.logger.Debug("experiment closed", "iterations", e.iteration.Load())
	return err
}

// Iteration returns the number of iterations run so far.
func (e *Experiment) Iteration() uint64 {
	return e.iteration.Load()
}

// Params returns the configuration the experiment was built with.
func (e *Experiment) Params() Params {
	return e.params
}

// Pinned reports whether every worker thread accepted its CPU pin.
func (e *Experiment) Pinned() bool {
	for _, w := range e.workers {
		if !w.Pinned() {
			return false
		}
	}
	return true
}

// PinError returns the first worker's affinity failure as an *Error with
// code ErrCodeAffinityRejected, ErrCodeAffinityUnsupported or
// ErrCodeInvalidParameters, or nil if no pin failed. The failure is not
// fatal; the worker runs unpinned.
func (e *Experiment) PinError() error {
	for id, w := range e.workers {
		if err := w.PinError(); err != nil {
			return newPinError(id, err)
		}
	}
	return nil
}

func newPinError(worker int, err error) *Error {
	perr := WrapError("PIN", err)
	perr.Worker = worker
	return perr
}

// WorkerInfo describes one worker thread
type WorkerInfo struct {
	ID       int    `json:"id"`
	Pinned   bool   `json:"pinned"`
	CPUMask  []int  `json:"cpu_mask,omitempty"`
	Rounds   uint64 `json:"rounds"`
	PinError string `json:"pin_error,omitempty"`
}

// Info describes an experiment for status output
type Info struct {
	Fence      string          `json:"fence"`
	SingleCore bool            `json:"single_core"`
	Pinned     bool            `json:"pinned"`
	CPU        int             `json:"cpu"`
	Iterations uint64          `json:"iterations"`
	Closed     bool            `json:"closed"`
	Workers    []WorkerInfo    `json:"workers"`
	Metrics    MetricsSnapshot `json:"metrics"`
}

// Info returns a status summary. It is safe to call while Run is active.
func (e *Experiment) Info() Info {
	fence := "custom"
	if e.params.Barrier == nil {
		fence = e.params.Fence.String()
	}
	workers := make([]WorkerInfo, 0, len(e.workers))
	for id, w := range e.workers {
		wi := WorkerInfo{
			ID:      id,
			Pinned:  w.Pinned(),
			CPUMask: w.CPUMask(),
			Rounds:  w.Rounds(),
		}
		if err := w.PinError(); err != nil {
			wi.PinError = newPinError(id, err).Error()
		}
		workers = append(workers, wi)
	}

	return Info{
		Fence:      fence,
		SingleCore: e.params.SingleCore,
		Pinned:     e.params.SingleCore && e.Pinned(),
		CPU:        e.params.CPU,
		Iterations: e.iteration.Load(),
		Closed:     e.closed.Load(),
		Workers:    workers,
		Metrics:    e.metrics.Snapshot(),
	}
}

// Metrics returns the built-in metrics. They are only populated when no
// custom Observer was supplied.
func (e *Experiment) Metrics() *Metrics {
	return e.metrics
}

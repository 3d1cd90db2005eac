package constants

import "time"

// Experiment shape
const (
	// NumWorkers is the number of racing workers. The store-buffering
	// pattern needs exactly two.
	NumWorkers = 2

	// DefaultPinnedCPU is the logical CPU both workers share in
	// single-core mode.
	DefaultPinnedCPU = 0

	// CompletionPermits is how many completion releases the orchestrator
	// waits for per iteration, one per worker.
	CompletionPermits = NumWorkers
)

// Reporting
const (
	// ReportFormat is the line written for each iteration that observed a
	// reorder.
	ReportFormat = "reorders detected after iteration: %d\n"

	// MinParallelProcs is the GOMAXPROCS needed for the orchestrator and
	// both workers to run at the same time.
	MinParallelProcs = NumWorkers + 1
)

// Timing constants for the command-line driver
const (
	// ProgressInterval is how often the driver logs a progress line.
	ProgressInterval = 10 * time.Second

	// ShutdownTimeout bounds how long the driver waits for workers to exit.
	ShutdownTimeout = 1 * time.Second
)

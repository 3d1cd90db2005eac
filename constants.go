package reorder

import "github.com/ehrlich-b/go-reorder/internal/constants"

// Re-export constants for public API
const (
	NumWorkers           = constants.NumWorkers
	DefaultPinnedCPU     = constants.DefaultPinnedCPU
	ReportFormat         = constants.ReportFormat
	DefaultHardwareFence = constants.DefaultHardwareFence
	DefaultSingleCore    = constants.DefaultSingleCore
	MinParallelProcs     = constants.MinParallelProcs
)

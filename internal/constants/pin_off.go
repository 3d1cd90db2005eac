//go:build !reorder_singlecore

package constants

// DefaultSingleCore leaves the workers free to run on separate cores.
// Build with -tags=reorder_singlecore to pin both to DefaultPinnedCPU.
const DefaultSingleCore = false

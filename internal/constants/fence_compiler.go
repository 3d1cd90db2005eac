//go:build !reorder_mfence

package constants

// DefaultHardwareFence selects the compiler-only barrier by default.
// Build with -tags=reorder_mfence to default to the full hardware fence.
const DefaultHardwareFence = false

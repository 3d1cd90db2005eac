//go:build reorder_mfence

package constants

// DefaultHardwareFence is forced on via the reorder_mfence build tag.
const DefaultHardwareFence = true

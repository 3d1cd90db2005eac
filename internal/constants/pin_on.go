//go:build reorder_singlecore

package constants

// DefaultSingleCore is forced on via the reorder_singlecore build tag.
const DefaultSingleCore = true

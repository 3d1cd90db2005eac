//go:build !amd64 && !arm64

package barrier

import "sync/atomic"

// fenceDummy is the target of the read-modify-write used as a fence.
var fenceDummy int64

// FullFence issues a full memory fence equivalent. Go's atomic
// read-modify-write operations are sequentially consistent, so an add of
// zero orders every earlier store before every later load.
func FullFence() {
	atomic.AddInt64(&fenceDummy, 0)
}

//go:build race

package worker

import "sync/atomic"

// Under the race detector the worker-to-worker race would be reported, so
// slots are accessed atomically. Reorder counts from -race builds are
// meaningless.

func load(p *int64) int64 { return atomic.LoadInt64(p) }

func store(p *int64, v int64) { atomic.StoreInt64(p, v) }

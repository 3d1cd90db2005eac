//go:build !race

package worker

// Plain word-sized loads and stores. These must stay ordinary memory
// operations: atomics would add ordering and hide the effect under study.

func load(p *int64) int64 { return *p }

func store(p *int64, v int64) { *p = v }

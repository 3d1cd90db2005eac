//go:build amd64 || arm64

package barrier

// FullFence issues a full memory fence (MFENCE on amd64, DMB ISH on arm64).
//
//go:nosplit
func FullFence()

package reorder

import (
	"sync"
	"sync/atomic"
)

// MockBarrier wraps a Barrier and counts how often workers apply it.
// It is useful for tests that check the experiment drives both workers
// through the fence once per iteration.
type MockBarrier struct {
	inner Barrier
	calls atomic.Uint64
}

// NewMockBarrier creates a counting barrier around inner. A nil inner
// counts without fencing.
func NewMockBarrier(inner Barrier) *MockBarrier {
	return &MockBarrier{inner: inner}
}

// Apply implements Barrier
func (m *MockBarrier) Apply() {
	m.calls.Add(1)
	if m.inner != nil {
		m.inner.Apply()
	}
}

// Calls returns the number of Apply calls so far
func (m *MockBarrier) Calls() uint64 {
	return m.calls.Load()
}

// RecordingObserver keeps every outcome it sees, in order.
type RecordingObserver struct {
	mu       sync.Mutex
	outcomes []Outcome
	latency  []uint64
}

// NewRecordingObserver creates an empty RecordingObserver
func NewRecordingObserver() *RecordingObserver {
	return &RecordingObserver{}
}

// ObserveIteration implements Observer
func (r *RecordingObserver) ObserveIteration(o Outcome, latencyNs uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, o)
	r.latency = append(r.latency, latencyNs)
}

// Outcomes returns a copy of the recorded outcomes
func (r *RecordingObserver) Outcomes() []Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Outcome(nil), r.outcomes...)
}

// Latencies returns a copy of the recorded latencies
func (r *RecordingObserver) Latencies() []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]uint64(nil), r.latency...)
}

// Reorders returns the iterations that were flagged
func (r *RecordingObserver) Reorders() []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	var flagged []uint64
	for _, o := range r.outcomes {
		if o.Reordered {
			flagged = append(flagged, o.Iteration)
		}
	}
	return flagged
}

var (
	_ Barrier  = (*MockBarrier)(nil)
	_ Observer = (*RecordingObserver)(nil)
)

package reorder

import (
	"sync/atomic"
	"time"
)

// LatencyBuckets defines the rendezvous latency histogram buckets in
// nanoseconds. One iteration is two semaphore handoffs each way, so buckets
// cover 100ns to 100ms with logarithmic spacing.
var LatencyBuckets = []uint64{
	100,         // 100ns
	1_000,       // 1us
	10_000,      // 10us
	100_000,     // 100us
	1_000_000,   // 1ms
	10_000_000,  // 10ms
	100_000_000, // 100ms
}

const numLatencyBuckets = 7

// Outcome classes, indexed by (read0 != 0)<<1 | (read1 != 0)
const (
	OutcomeBothZero  = 0 // (0,0): store-load reorder observed
	OutcomeOnlyPeer1 = 1 // (0,1): worker 0 ran first
	OutcomeOnlyPeer0 = 2 // (1,0): worker 1 ran first
	OutcomeBothOne   = 3 // (1,1): the stores overlapped
	numOutcomes      = 4
)

// Metrics tracks iteration counts and outcomes for an experiment
type Metrics struct {
	Iterations atomic.Uint64 // Total iterations classified
	Reorders   atomic.Uint64 // Iterations flagged as reorders

	// Outcome histogram over the four (read0, read1) combinations
	Outcomes [numOutcomes]atomic.Uint64

	// Rendezvous latency, recorded only when Params.TrackLatency is set
	TotalLatencyNs atomic.Uint64
	LatencyCount   atomic.Uint64

	// Latency histogram buckets (cumulative counts)
	// Each bucket[i] contains the count of iterations with latency <= LatencyBuckets[i]
	LatencyBuckets [numLatencyBuckets]atomic.Uint64

	// Experiment lifecycle
	StartTime atomic.Int64 // Start timestamp (UnixNano)
	StopTime  atomic.Int64 // Stop timestamp (UnixNano)
}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// RecordIteration records one classified iteration
func (m *Metrics) RecordIteration(o Outcome, latencyNs uint64) {
	m.Iterations.Add(1)
	if o.Reordered {
		m.Reorders.Add(1)
	}
	m.Outcomes[o.class()].Add(1)
	if latencyNs > 0 {
		m.recordLatency(latencyNs)
	}
}

// recordLatency records rendezvous latency and updates histogram
func (m *Metrics) recordLatency(latencyNs uint64) {
	m.TotalLatencyNs.Add(latencyNs)
	m.LatencyCount.Add(1)

	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			m.LatencyBuckets[i].Add(1)
		}
	}
}

// Stop marks the experiment as stopped
func (m *Metrics) Stop() {
	m.StopTime.Store(time.Now().UnixNano())
}

// MetricsSnapshot is a point-in-time copy of Metrics with derived values
type MetricsSnapshot struct {
	Iterations uint64 `json:"iterations"`
	Reorders   uint64 `json:"reorders"`

	// Outcome counts indexed by OutcomeBothZero..OutcomeBothOne
	Outcomes [numOutcomes]uint64 `json:"outcomes"`

	// Performance
	AvgLatencyNs uint64 `json:"avg_latency_ns"`
	UptimeNs     uint64 `json:"uptime_ns"`

	// Latency percentiles (in nanoseconds)
	LatencyP50Ns  uint64 `json:"latency_p50_ns"`
	LatencyP99Ns  uint64 `json:"latency_p99_ns"`
	LatencyP999Ns uint64 `json:"latency_p999_ns"`

	// Histogram bucket counts (cumulative)
	LatencyHistogram [numLatencyBuckets]uint64 `json:"latency_histogram"`

	// Computed statistics
	IterationsPerSec float64 `json:"iterations_per_sec"`
	ReorderRate      float64 `json:"reorder_rate"` // Percentage of iterations flagged
}

// Snapshot creates a point-in-time snapshot of metrics
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		Iterations: m.Iterations.Load(),
		Reorders:   m.Reorders.Load(),
	}

	for i := range snap.Outcomes {
		snap.Outcomes[i] = m.Outcomes[i].Load()
	}

	latencyCount := m.LatencyCount.Load()
	if latencyCount > 0 {
		snap.AvgLatencyNs = m.TotalLatencyNs.Load() / latencyCount
	}

	startTime := m.StartTime.Load()
	stopTime := m.StopTime.Load()
	if stopTime > 0 {
		snap.UptimeNs = uint64(stopTime - startTime)
	} else {
		snap.UptimeNs = uint64(time.Now().UnixNano() - startTime)
	}

	if snap.UptimeNs > 0 {
		snap.IterationsPerSec = float64(snap.Iterations) / (float64(snap.UptimeNs) / 1e9)
	}

	if snap.Iterations > 0 {
		snap.ReorderRate = float64(snap.Reorders) / float64(snap.Iterations) * 100.0
	}

	for i := 0; i < numLatencyBuckets; i++ {
		snap.LatencyHistogram[i] = m.LatencyBuckets[i].Load()
	}

	if latencyCount > 0 {
		snap.LatencyP50Ns = m.calculatePercentile(0.50)
		snap.LatencyP99Ns = m.calculatePercentile(0.99)
		snap.LatencyP999Ns = m.calculatePercentile(0.999)
	}

	return snap
}

// calculatePercentile estimates the latency at the given percentile (0.0-1.0)
// using linear interpolation between histogram buckets.
func (m *Metrics) calculatePercentile(percentile float64) uint64 {
	total := m.LatencyCount.Load()
	if total == 0 {
		return 0
	}

	targetCount := uint64(float64(total) * percentile)

	prevBucket := uint64(0)
	for i, bucket := range LatencyBuckets {
		bucketCount := m.LatencyBuckets[i].Load()
		if bucketCount >= targetCount {
			prevCount := uint64(0)
			if i > 0 {
				prevCount = m.LatencyBuckets[i-1].Load()
			}
			if bucketCount == prevCount {
				return bucket
			}
			fraction := float64(targetCount-prevCount) / float64(bucketCount-prevCount)
			return prevBucket + uint64(fraction*float64(bucket-prevBucket))
		}
		prevBucket = bucket
	}

	// Latency exceeds all buckets
	return LatencyBuckets[numLatencyBuckets-1]
}

// Reset resets all metrics counters (useful for testing)
func (m *Metrics) Reset() {
	m.Iterations.Store(0)
	m.Reorders.Store(0)
	for i := range m.Outcomes {
		m.Outcomes[i].Store(0)
	}
	m.TotalLatencyNs.Store(0)
	m.LatencyCount.Store(0)
	for i := 0; i < numLatencyBuckets; i++ {
		m.LatencyBuckets[i].Store(0)
	}
	m.StartTime.Store(time.Now().UnixNano())
	m.StopTime.Store(0)
}

// Observer interface allows pluggable metrics collection
type Observer interface {
	// ObserveIteration is called once per classified iteration.
	// latencyNs is 0 unless latency tracking is enabled.
	ObserveIteration(o Outcome, latencyNs uint64)
}

// NoOpObserver is a no-op implementation of Observer
type NoOpObserver struct{}

func (NoOpObserver) ObserveIteration(Outcome, uint64) {}

// MetricsObserver implements Observer using the built-in Metrics
type MetricsObserver struct {
	metrics *Metrics
}

// NewMetricsObserver creates an observer that records to the given metrics
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) ObserveIteration(outcome Outcome, latencyNs uint64) {
	o.metrics.RecordIteration(outcome, latencyNs)
}

// Compile-time interface checks
var (
	_ Observer = (*MetricsObserver)(nil)
	_ Observer = NoOpObserver{}
)

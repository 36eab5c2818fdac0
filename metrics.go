package zcc

import (
	"sync/atomic"
	"time"
)

// PinLatencyBuckets defines the pin-latency histogram buckets in nanoseconds.
// Buckets cover from 1us to 10s with logarithmic spacing; pin calls that
// register memory with a device commonly land in the 10us-10ms range.
var PinLatencyBuckets = []uint64{
	1_000,          // 1us
	10_000,         // 10us
	100_000,        // 100us
	1_000_000,      // 1ms
	10_000_000,     // 10ms
	100_000_000,    // 100ms
	1_000_000_000,  // 1s
	10_000_000_000, // 10s
}

const numPinLatencyBuckets = 8

// Metrics tracks fast-path and reconciler statistics for one cache instance
type Metrics struct {
	// Fast-path counters; Hits + Misses always equals Accesses
	Accesses atomic.Uint64 // Total fast-path calls
	Hits     atomic.Uint64 // Calls that returned a zero-copy grant
	Misses   atomic.Uint64 // Calls that fell back to the copy path

	// Pin/unpin counters
	Pins        atomic.Uint64 // Successful segment registrations
	Unpins      atomic.Uint64 // Successful segment unregistrations
	PinErrors   atomic.Uint64 // Failed registrations
	UnpinErrors atomic.Uint64 // Failed unregistrations

	// Reconciler statistics
	ReconcilePasses atomic.Uint64 // Completed reconciliation passes

	// Pin latency tracking
	TotalPinLatencyNs atomic.Uint64 // Cumulative pin latency in nanoseconds
	PinCount          atomic.Uint64 // Pin operations (for average latency)

	// Pin latency histogram buckets (cumulative counts)
	// Each bucket[i] contains the count of pins with latency <= PinLatencyBuckets[i]
	PinLatency [numPinLatencyBuckets]atomic.Uint64

	// Lifecycle
	StartTime atomic.Int64 // Cache creation timestamp (UnixNano)
}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// RecordAccess records one fast-path call and its outcome
func (m *Metrics) RecordAccess(hit bool) {
	m.Accesses.Add(1)
	if hit {
		m.Hits.Add(1)
	} else {
		m.Misses.Add(1)
	}
}

// RecordPin records a segment registration attempt
func (m *Metrics) RecordPin(latencyNs uint64, success bool) {
	if !success {
		m.PinErrors.Add(1)
		return
	}
	m.Pins.Add(1)
	m.recordPinLatency(latencyNs)
}

// RecordUnpin records a segment unregistration attempt
func (m *Metrics) RecordUnpin(success bool) {
	if !success {
		m.UnpinErrors.Add(1)
		return
	}
	m.Unpins.Add(1)
}

// RecordReconcilePass records one completed reconciliation pass
func (m *Metrics) RecordReconcilePass() {
	m.ReconcilePasses.Add(1)
}

// recordPinLatency records pin latency and updates the histogram
func (m *Metrics) recordPinLatency(latencyNs uint64) {
	m.TotalPinLatencyNs.Add(latencyNs)
	m.PinCount.Add(1)

	// Update histogram buckets (cumulative)
	for i, bucket := range PinLatencyBuckets {
		if latencyNs <= bucket {
			m.PinLatency[i].Add(1)
		}
	}
}

// HitRate returns hits / accesses, or 0.0 before the first access
func (m *Metrics) HitRate() float64 {
	total := m.Accesses.Load()
	if total == 0 {
		return 0.0
	}
	return float64(m.Hits.Load()) / float64(total)
}

// MetricsSnapshot is a point-in-time copy of metrics
type MetricsSnapshot struct {
	// Fast path
	Accesses uint64
	Hits     uint64
	Misses   uint64
	HitRate  float64

	// Pin/unpin
	Pins        uint64
	Unpins      uint64
	PinErrors   uint64
	UnpinErrors uint64

	// Reconciler
	ReconcilePasses uint64

	// Performance
	AvgPinLatencyNs uint64
	UptimeNs        uint64

	// Pin latency percentiles (in nanoseconds)
	PinLatencyP50Ns uint64 // 50th percentile (median)
	PinLatencyP99Ns uint64 // 99th percentile

	// Histogram bucket counts (cumulative)
	PinLatencyHistogram [numPinLatencyBuckets]uint64

	// Computed statistics
	AccessRate float64 // Fast-path calls per second
}

// Snapshot creates a point-in-time snapshot of metrics
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		Accesses:        m.Accesses.Load(),
		Hits:            m.Hits.Load(),
		Misses:          m.Misses.Load(),
		Pins:            m.Pins.Load(),
		Unpins:          m.Unpins.Load(),
		PinErrors:       m.PinErrors.Load(),
		UnpinErrors:     m.UnpinErrors.Load(),
		ReconcilePasses: m.ReconcilePasses.Load(),
	}

	if snap.Accesses > 0 {
		snap.HitRate = float64(snap.Hits) / float64(snap.Accesses)
	}

	// Calculate average pin latency
	totalLatencyNs := m.TotalPinLatencyNs.Load()
	pinCount := m.PinCount.Load()
	if pinCount > 0 {
		snap.AvgPinLatencyNs = totalLatencyNs / pinCount
	}

	snap.UptimeNs = uint64(time.Now().UnixNano() - m.StartTime.Load())

	if snap.UptimeNs > 0 {
		uptimeSeconds := float64(snap.UptimeNs) / 1e9
		snap.AccessRate = float64(snap.Accesses) / uptimeSeconds
	}

	// Copy histogram bucket counts
	for i := 0; i < numPinLatencyBuckets; i++ {
		snap.PinLatencyHistogram[i] = m.PinLatency[i].Load()
	}

	// Calculate percentiles from histogram
	if pinCount > 0 {
		snap.PinLatencyP50Ns = m.calculatePercentile(0.50)
		snap.PinLatencyP99Ns = m.calculatePercentile(0.99)
	}

	return snap
}

// calculatePercentile estimates the pin latency at the given percentile
// (0.0-1.0) using linear interpolation between histogram buckets.
func (m *Metrics) calculatePercentile(percentile float64) uint64 {
	totalPins := m.PinCount.Load()
	if totalPins == 0 {
		return 0
	}

	targetCount := uint64(float64(totalPins) * percentile)

	// Find the bucket containing the target percentile
	prevBucket := uint64(0)
	for i, bucket := range PinLatencyBuckets {
		bucketCount := m.PinLatency[i].Load()
		if bucketCount >= targetCount {
			// Linear interpolation within bucket
			prevCount := uint64(0)
			if i > 0 {
				prevCount = m.PinLatency[i-1].Load()
			}
			if bucketCount == prevCount {
				return bucket
			}
			// Interpolate between prevBucket and bucket
			fraction := float64(targetCount-prevCount) / float64(bucketCount-prevCount)
			return prevBucket + uint64(fraction*float64(bucket-prevBucket))
		}
		prevBucket = bucket
	}

	// If we get here, the latency exceeds all buckets
	return PinLatencyBuckets[numPinLatencyBuckets-1]
}

// Reset resets all metrics counters (useful for testing)
func (m *Metrics) Reset() {
	m.Accesses.Store(0)
	m.Hits.Store(0)
	m.Misses.Store(0)
	m.Pins.Store(0)
	m.Unpins.Store(0)
	m.PinErrors.Store(0)
	m.UnpinErrors.Store(0)
	m.ReconcilePasses.Store(0)
	m.TotalPinLatencyNs.Store(0)
	m.PinCount.Store(0)
	for i := 0; i < numPinLatencyBuckets; i++ {
		m.PinLatency[i].Store(0)
	}
	m.StartTime.Store(time.Now().UnixNano())
}

// Observer interface allows pluggable metrics collection.
// Implementations must be thread-safe as methods are called from the fast
// path and the reconciler concurrently.
type Observer interface {
	// ObserveAccess is called for each fast-path call
	ObserveAccess(hit bool)

	// ObservePin is called for each segment registration attempt
	ObservePin(latencyNs uint64, success bool)

	// ObserveUnpin is called for each segment unregistration attempt
	ObserveUnpin(success bool)

	// ObserveReconcilePass is called after each reconciliation pass
	ObserveReconcilePass()
}

// NoOpObserver is a no-op implementation of Observer
type NoOpObserver struct{}

func (NoOpObserver) ObserveAccess(bool)      {}
func (NoOpObserver) ObservePin(uint64, bool) {}
func (NoOpObserver) ObserveUnpin(bool)       {}
func (NoOpObserver) ObserveReconcilePass()   {}

// MetricsObserver implements Observer using the built-in Metrics
type MetricsObserver struct {
	metrics *Metrics
}

// NewMetricsObserver creates an observer that records to the given metrics
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) ObserveAccess(hit bool) {
	o.metrics.RecordAccess(hit)
}

func (o *MetricsObserver) ObservePin(latencyNs uint64, success bool) {
	o.metrics.RecordPin(latencyNs, success)
}

func (o *MetricsObserver) ObserveUnpin(success bool) {
	o.metrics.RecordUnpin(success)
}

func (o *MetricsObserver) ObserveReconcilePass() {
	o.metrics.RecordReconcilePass()
}

// Compile-time interface check
var _ Observer = (*MetricsObserver)(nil)
var _ Observer = (*NoOpObserver)(nil)

package isamgo

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like Prometheus.
//
// Example Prometheus integration:
//
//	type PrometheusCollector struct {
//	    updateCounter   prometheus.Counter
//	    updateHistogram prometheus.Histogram
//	}
//
//	func (p *PrometheusCollector) RecordUpdate(duration time.Duration, relinearized, reeliminated int, err error) {
//	    p.updateCounter.Inc()
//	    // ... record error state, duration, etc.
//	}
type MetricsCollector interface {
	// RecordUpdate is called after each incremental update.
	// relinearized is the number of variables whose linearization point
	// moved, reeliminated the number of variables refactorized.
	RecordUpdate(duration time.Duration, relinearized, reeliminated int, err error)

	// RecordSnapshot is called after each snapshot save or load.
	RecordSnapshot(duration time.Duration, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordUpdate(time.Duration, int, int, error) {}
func (NoopMetricsCollector) RecordSnapshot(time.Duration, error)         {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	UpdateCount        atomic.Int64
	UpdateErrors       atomic.Int64
	UpdateTotalNanos   atomic.Int64
	RelinearizedTotal  atomic.Int64
	ReeliminatedTotal  atomic.Int64
	SnapshotCount      atomic.Int64
	SnapshotErrors     atomic.Int64
	SnapshotTotalNanos atomic.Int64
}

// RecordUpdate implements MetricsCollector.
func (b *BasicMetricsCollector) RecordUpdate(duration time.Duration, relinearized, reeliminated int, err error) {
	b.UpdateCount.Add(1)
	b.UpdateTotalNanos.Add(duration.Nanoseconds())
	b.RelinearizedTotal.Add(int64(relinearized))
	b.ReeliminatedTotal.Add(int64(reeliminated))
	if err != nil {
		b.UpdateErrors.Add(1)
	}
}

// RecordSnapshot implements MetricsCollector.
func (b *BasicMetricsCollector) RecordSnapshot(duration time.Duration, err error) {
	b.SnapshotCount.Add(1)
	b.SnapshotTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.SnapshotErrors.Add(1)
	}
}

// BasicMetricsStats is a point-in-time snapshot of collected metrics.
type BasicMetricsStats struct {
	UpdateCount       int64
	UpdateErrors      int64
	UpdateAvgNanos    int64
	RelinearizedTotal int64
	ReeliminatedTotal int64
	SnapshotCount     int64
	SnapshotErrors    int64
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	s := BasicMetricsStats{
		UpdateCount:       b.UpdateCount.Load(),
		UpdateErrors:      b.UpdateErrors.Load(),
		RelinearizedTotal: b.RelinearizedTotal.Load(),
		ReeliminatedTotal: b.ReeliminatedTotal.Load(),
		SnapshotCount:     b.SnapshotCount.Load(),
		SnapshotErrors:    b.SnapshotErrors.Load(),
	}
	if s.UpdateCount > 0 {
		s.UpdateAvgNanos = b.UpdateTotalNanos.Load() / s.UpdateCount
	}
	return s
}

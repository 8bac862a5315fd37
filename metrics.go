package blockalloc

import "sync/atomic"

// MetricsCollector receives allocator events.
// Implement it to feed a monitoring system; see the metrics package for a
// Prometheus implementation.
type MetricsCollector interface {
	// RecordAcquire is called after every Acquire. blocks is the run
	// length requested and err is nil on success.
	RecordAcquire(blocks int, err error)

	// RecordRelease is called after a release that returned blocks to the
	// free list.
	RecordRelease(blocks int)

	// RecordSplit is called when a free run is carved into a reserved
	// prefix and a free remainder.
	RecordSplit()

	// RecordCoalesce is called after a free run absorbs its free
	// neighbours. runs is the number of runs absorbed.
	RecordCoalesce(runs int)
}

// NoopMetricsCollector discards every event.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordAcquire(int, error) {}
func (NoopMetricsCollector) RecordRelease(int)        {}
func (NoopMetricsCollector) RecordSplit()             {}
func (NoopMetricsCollector) RecordCoalesce(int)       {}

// BasicMetricsCollector counts events in memory.
// It may be read from other goroutines while the allocator runs.
type BasicMetricsCollector struct {
	Acquires       atomic.Int64
	AcquireErrors  atomic.Int64
	AcquiredBlocks atomic.Int64
	Releases       atomic.Int64
	ReleasedBlocks atomic.Int64
	Splits         atomic.Int64
	Coalesced      atomic.Int64
}

// RecordAcquire implements MetricsCollector.
func (b *BasicMetricsCollector) RecordAcquire(blocks int, err error) {
	b.Acquires.Add(1)
	if err != nil {
		b.AcquireErrors.Add(1)
		return
	}
	b.AcquiredBlocks.Add(int64(blocks))
}

// RecordRelease implements MetricsCollector.
func (b *BasicMetricsCollector) RecordRelease(blocks int) {
	b.Releases.Add(1)
	b.ReleasedBlocks.Add(int64(blocks))
}

// RecordSplit implements MetricsCollector.
func (b *BasicMetricsCollector) RecordSplit() {
	b.Splits.Add(1)
}

// RecordCoalesce implements MetricsCollector.
func (b *BasicMetricsCollector) RecordCoalesce(runs int) {
	b.Coalesced.Add(int64(runs))
}

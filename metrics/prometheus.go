// Package metrics exports allocator events to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dacapoday/blockalloc"
)

const namespace = "blockalloc"

// Prometheus implements blockalloc.MetricsCollector with Prometheus
// counters and gauges. Every series carries a constant "allocator" label.
type Prometheus struct {
	acquires       *prometheus.CounterVec
	acquiredBlocks prometheus.Counter
	releases       prometheus.Counter
	releasedBlocks prometheus.Counter
	splits         prometheus.Counter
	coalesced      prometheus.Counter
	usedBlocks     prometheus.Gauge
	runBlocks      prometheus.Histogram
}

var _ blockalloc.MetricsCollector = (*Prometheus)(nil)

// New creates the collectors for one allocator and registers them with
// reg. A nil reg uses prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer, variant string) (*Prometheus, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	labels := prometheus.Labels{"allocator": variant}

	p := &Prometheus{
		acquires: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "acquires_total",
			Help:        "Acquire calls by outcome",
			ConstLabels: labels,
		}, []string{"status"}),
		acquiredBlocks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "acquired_blocks_total",
			Help:        "Blocks handed out by successful Acquire calls",
			ConstLabels: labels,
		}),
		releases: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "releases_total",
			Help:        "Runs returned to the free list",
			ConstLabels: labels,
		}),
		releasedBlocks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "released_blocks_total",
			Help:        "Blocks returned to the free list",
			ConstLabels: labels,
		}),
		splits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "splits_total",
			Help:        "Free runs split into a reserved prefix and a free remainder",
			ConstLabels: labels,
		}),
		coalesced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "coalesced_runs_total",
			Help:        "Free runs absorbed by a neighbouring free run",
			ConstLabels: labels,
		}),
		usedBlocks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "used_blocks",
			Help:        "Blocks currently held by reserved runs",
			ConstLabels: labels,
		}),
		runBlocks: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        "acquire_run_blocks",
			Help:        "Run length in blocks of successful Acquire calls",
			Buckets:     prometheus.ExponentialBuckets(1, 2, 12),
			ConstLabels: labels,
		}),
	}

	collectors := []prometheus.Collector{
		p.acquires,
		p.acquiredBlocks,
		p.releases,
		p.releasedBlocks,
		p.splits,
		p.coalesced,
		p.usedBlocks,
		p.runBlocks,
	}
	for k, c := range collectors {
		if err := reg.Register(c); err != nil {
			for _, done := range collectors[:k] {
				reg.Unregister(done)
			}
			return nil, err
		}
	}
	return p, nil
}

// RecordAcquire implements blockalloc.MetricsCollector.
func (p *Prometheus) RecordAcquire(blocks int, err error) {
	if err != nil {
		p.acquires.WithLabelValues("error").Inc()
		return
	}
	p.acquires.WithLabelValues("success").Inc()
	p.acquiredBlocks.Add(float64(blocks))
	p.usedBlocks.Add(float64(blocks))
	p.runBlocks.Observe(float64(blocks))
}

// RecordRelease implements blockalloc.MetricsCollector.
func (p *Prometheus) RecordRelease(blocks int) {
	p.releases.Inc()
	p.releasedBlocks.Add(float64(blocks))
	p.usedBlocks.Sub(float64(blocks))
}

// RecordSplit implements blockalloc.MetricsCollector.
func (p *Prometheus) RecordSplit() {
	p.splits.Inc()
}

// RecordCoalesce implements blockalloc.MetricsCollector.
func (p *Prometheus) RecordCoalesce(runs int) {
	p.coalesced.Add(float64(runs))
}

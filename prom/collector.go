// collector.go: Prometheus-backed MetricsCollector
//
// Copyright (c) 2026 The loadcache authors
// SPDX-License-Identifier: MPL-2.0

// Package prom implements the loadcache.MetricsCollector interface on top
// of Prometheus. Registering a Collector exposes hit/miss and load
// counters plus latency histograms for any Prometheus scrape target.
package prom

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector implements loadcache.MetricsCollector using Prometheus
// instruments. Safe for concurrent use; all underlying metric types are
// lock-free counters and histograms.
type Collector struct {
	getLatency  prometheus.Histogram
	loadLatency prometheus.Histogram
	putLatency  prometheus.Histogram

	hits          prometheus.Counter
	misses        prometheus.Counter
	loads         prometheus.Counter
	loadFailures  prometheus.Counter
	refreshes     prometheus.Counter
	refreshErrors prometheus.Counter
	bulkLoads     prometheus.Counter
	bulkKeys      prometheus.Counter
}

// NewCollector creates a Collector and registers its metrics with reg.
// Passing prometheus.DefaultRegisterer wires the default registry.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		getLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "loadcache",
			Name:      "get_latency_seconds",
			Help:      "Latency of read operations.",
			Buckets:   prometheus.ExponentialBuckets(1e-6, 4, 12),
		}),
		loadLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "loadcache",
			Name:      "load_latency_seconds",
			Help:      "Latency of loader invocations.",
			Buckets:   prometheus.ExponentialBuckets(1e-5, 4, 12),
		}),
		putLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "loadcache",
			Name:      "put_latency_seconds",
			Help:      "Latency of put operations.",
			Buckets:   prometheus.ExponentialBuckets(1e-6, 4, 12),
		}),
		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "loadcache",
			Name:      "hits_total",
			Help:      "Number of reads answered from a cached value.",
		}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "loadcache",
			Name:      "misses_total",
			Help:      "Number of reads that started or joined a load.",
		}),
		loads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "loadcache",
			Name:      "loads_total",
			Help:      "Number of completed loader invocations.",
		}),
		loadFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "loadcache",
			Name:      "load_failures_total",
			Help:      "Number of loader invocations that failed.",
		}),
		refreshes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "loadcache",
			Name:      "refreshes_total",
			Help:      "Number of completed refresh-ahead reloads.",
		}),
		refreshErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "loadcache",
			Name:      "refresh_failures_total",
			Help:      "Number of refresh-ahead reloads that failed.",
		}),
		bulkLoads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "loadcache",
			Name:      "bulk_loads_total",
			Help:      "Number of dispatched bulk loader calls.",
		}),
		bulkKeys: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "loadcache",
			Name:      "bulk_keys_total",
			Help:      "Number of keys carried by bulk loader calls.",
		}),
	}

	for _, m := range []prometheus.Collector{
		c.getLatency, c.loadLatency, c.putLatency,
		c.hits, c.misses, c.loads, c.loadFailures,
		c.refreshes, c.refreshErrors, c.bulkLoads, c.bulkKeys,
	} {
		if err := reg.Register(m); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// RecordGet records a read operation.
func (c *Collector) RecordGet(latencyNs int64, hit bool) {
	c.getLatency.Observe(float64(latencyNs) / 1e9)
	if hit {
		c.hits.Inc()
	} else {
		c.misses.Inc()
	}
}

// RecordLoad records a completed loader invocation.
func (c *Collector) RecordLoad(latencyNs int64, success bool) {
	c.loadLatency.Observe(float64(latencyNs) / 1e9)
	c.loads.Inc()
	if !success {
		c.loadFailures.Inc()
	}
}

// RecordBulkLoad records a dispatched bulk loader call.
func (c *Collector) RecordBulkLoad(keys int) {
	c.bulkLoads.Inc()
	c.bulkKeys.Add(float64(keys))
}

// RecordRefresh records a completed refresh-ahead reload.
func (c *Collector) RecordRefresh(success bool) {
	c.refreshes.Inc()
	if !success {
		c.refreshErrors.Inc()
	}
}

// RecordPut records a put operation.
func (c *Collector) RecordPut(latencyNs int64) {
	c.putLatency.Observe(float64(latencyNs) / 1e9)
}

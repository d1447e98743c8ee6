package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for a cache. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	Hits          *prometheus.CounterVec
	Misses        prometheus.Counter
	Writes        *prometheus.CounterVec
	WriteFailures prometheus.Counter
	Evictions     *prometheus.CounterVec
	Expirations   *prometheus.CounterVec
	CorruptReads  prometheus.Counter
	VersionPurges prometheus.Counter
	Sweeps        prometheus.Counter

	MemoryEntries prometheus.Gauge
	StorageBytes  prometheus.Gauge
}

// NewMetrics registers cache metrics under namespace with reg. A nil reg
// registers with the default Prometheus registry.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		Hits: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Cache hits by tier",
		}, []string{"tier"}),
		Misses: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Lookups that missed both tiers",
		}),
		Writes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "writes_total",
			Help:      "Entries written by tier",
		}, []string{"tier"}),
		WriteFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "write_failures_total",
			Help:      "Durable writes dropped because of storage or encoding errors",
		}),
		Evictions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "evictions_total",
			Help:      "Entries evicted for capacity or budget by tier",
		}, []string{"tier"}),
		Expirations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "expirations_total",
			Help:      "Expired entries removed by tier",
		}, []string{"tier"}),
		CorruptReads: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "corrupt_entries_total",
			Help:      "Durable entries removed because they could not be decoded",
		}),
		VersionPurges: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "version_purges_total",
			Help:      "Durable entries removed for carrying another schema version",
		}),
		Sweeps: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "sweeps_total",
			Help:      "Completed eviction sweeps",
		}),
		MemoryEntries: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "memory_entries",
			Help:      "Entries held in the memory tier",
		}),
		StorageBytes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "storage_bytes",
			Help:      "Bytes used by the durable tier",
		}),
	}
}

func (m *Metrics) recordHit(t Tier) {
	if m != nil {
		m.Hits.WithLabelValues(t.String()).Inc()
	}
}

func (m *Metrics) recordMiss() {
	if m != nil {
		m.Misses.Inc()
	}
}

func (m *Metrics) recordWrite(t Tier) {
	if m != nil {
		m.Writes.WithLabelValues(t.String()).Inc()
	}
}

func (m *Metrics) recordWriteFailure() {
	if m != nil {
		m.WriteFailures.Inc()
	}
}

func (m *Metrics) recordEviction(t Tier) {
	if m != nil {
		m.Evictions.WithLabelValues(t.String()).Inc()
	}
}

func (m *Metrics) recordExpired(t Tier) {
	if m != nil {
		m.Expirations.WithLabelValues(t.String()).Inc()
	}
}

func (m *Metrics) recordCorrupt() {
	if m != nil {
		m.CorruptReads.Inc()
	}
}

func (m *Metrics) recordVersionPurge(n int) {
	if m != nil {
		m.VersionPurges.Add(float64(n))
	}
}

func (m *Metrics) recordSweep() {
	if m != nil {
		m.Sweeps.Inc()
	}
}

func (m *Metrics) observeStats(s Stats) {
	if m != nil {
		m.MemoryEntries.Set(float64(s.MemoryEntries))
		m.StorageBytes.Set(float64(s.StorageBytes))
	}
}

package outcome

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PromSink publishes outcome counters. Tenant ids are deliberately not a
// label: cardinality stays bounded, and per-tenant visibility comes from
// the memory sink and the audit stream.
type PromSink struct {
	admitted    *prometheus.CounterVec
	dropped     *prometheus.CounterVec
	rateLimited *prometheus.CounterVec
	rejected    *prometheus.CounterVec
}

// NewPromSink registers the admission counters with the default registry.
func NewPromSink() *PromSink {
	return &PromSink{
		admitted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ingest_items_admitted_total",
			Help: "Telemetry items persisted after admission",
		}, []string{"channel", "transport"}),
		dropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ingest_items_dropped_total",
			Help: "Items discarded by tenant drop filters",
		}, []string{"channel", "transport"}),
		rateLimited: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ingest_rate_limited_total",
			Help: "Submissions rejected by the fixed-window limiter",
		}, []string{"transport"}),
		rejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ingest_rejected_total",
			Help: "Submissions rejected by validation or persistence failure",
		}, []string{"channel", "transport", "verdict"}),
	}
}

// Record bumps counters for one outcome.
func (s *PromSink) Record(o Outcome) {
	switch o.Verdict {
	case VerdictAdmitted:
		s.admitted.WithLabelValues(o.Channel, o.Transport).Add(float64(o.Admitted))
		if o.Dropped > 0 {
			s.dropped.WithLabelValues(o.Channel, o.Transport).Add(float64(o.Dropped))
		}
	case VerdictRateLimited:
		s.rateLimited.WithLabelValues(o.Transport).Inc()
	default:
		s.rejected.WithLabelValues(o.Channel, o.Transport, string(o.Verdict)).Inc()
	}
}

const memorySinkShards = 16

type countShard struct {
	mu     sync.Mutex
	counts map[string]int64
}

// MemorySink keeps per-tenant drop counters in process memory, striped by
// tenant id. Counters reset on restart; they exist for operational
// visibility, not accounting.
type MemorySink struct {
	shards [memorySinkShards]countShard
}

// NewMemorySink returns an empty drop-counter sink.
func NewMemorySink() *MemorySink {
	s := &MemorySink{}
	for i := range s.shards {
		s.shards[i].counts = make(map[string]int64)
	}
	return s
}

// Record accumulates dropped-item counts per tenant.
func (s *MemorySink) Record(o Outcome) {
	if o.Dropped == 0 {
		return
	}
	sh := &s.shards[memoryShardIndex(o.TenantID)]
	sh.mu.Lock()
	sh.counts[o.TenantID] += int64(o.Dropped)
	sh.mu.Unlock()
}

// Dropped returns the running drop count for a tenant.
func (s *MemorySink) Dropped(tenantID string) int64 {
	sh := &s.shards[memoryShardIndex(tenantID)]
	sh.mu.Lock()
	defer sh.mu.Unlock()
	return sh.counts[tenantID]
}

// Snapshot copies every tenant's drop count.
func (s *MemorySink) Snapshot() map[string]int64 {
	out := make(map[string]int64)
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		for tenant, n := range sh.counts {
			out[tenant] = n
		}
		sh.mu.Unlock()
	}
	return out
}

func memoryShardIndex(tenantID string) int {
	// cheap stable hash; tenant ids are short
	var h uint32 = 2166136261
	for i := 0; i < len(tenantID); i++ {
		h ^= uint32(tenantID[i])
		h *= 16777619
	}
	return int(h % memorySinkShards)
}

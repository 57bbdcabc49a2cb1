package svcmetrics

import (
	"testing"

	"github.com/streamrelay/ipxcore/pkg/providerpool"
	"github.com/streamrelay/ipxcore/pkg/sharedstream"
)

type fakeCacheSource struct {
	hits, misses int64
}

func (f fakeCacheSource) CacheStats() (int64, int64) { return f.hits, f.misses }

func TestNewRegistersEveryCollector(t *testing.T) {
	m := New()
	mfs, err := m.CollectRegistry().Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if len(mfs) == 0 {
		t.Fatalf("expected at least one registered metric family")
	}
}

func TestGraceAdmissionAndExhaustedStreamIncrement(t *testing.T) {
	m := New()
	m.GraceAdmission("providerA")
	m.GraceAdmission("providerA")
	m.ExhaustedStream("user-connections-exhausted")

	mfs, err := m.CollectRegistry().Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	found := map[string]float64{}
	for _, mf := range mfs {
		for _, metric := range mf.GetMetric() {
			found[mf.GetName()] += metric.GetCounter().GetValue()
		}
	}
	if found["ipxcore_dispatcher_grace_admissions_total"] != 2 {
		t.Fatalf("grace admissions: got %v, want 2", found["ipxcore_dispatcher_grace_admissions_total"])
	}
	if found["ipxcore_dispatcher_exhausted_streams_total"] != 1 {
		t.Fatalf("exhausted streams: got %v, want 1", found["ipxcore_dispatcher_exhausted_streams_total"])
	}
}

func TestSampleReflectsPoolAndRegistryState(t *testing.T) {
	m := New()
	pp := providerpool.New([]providerpool.InputConfig{
		{ID: 1, Name: "A", URL: "http://a", MaxConnections: 2},
	}, 0, 0, nil)
	pp.Acquire("A", "client1")

	reg := sharedstream.New(nil)

	m.RegisterPageCache("idx", fakeCacheSource{hits: 3, misses: 1})
	m.Sample(pp, reg)

	mfs, err := m.CollectRegistry().Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	var activeConns, hitRatio float64
	var sawActiveConns, sawHitRatio bool
	for _, mf := range mfs {
		switch mf.GetName() {
		case "ipxcore_providerpool_active_connections":
			for _, metric := range mf.GetMetric() {
				activeConns += metric.GetGauge().GetValue()
				sawActiveConns = true
			}
		case "ipxcore_btree_page_cache_hit_ratio":
			for _, metric := range mf.GetMetric() {
				hitRatio = metric.GetGauge().GetValue()
				sawHitRatio = true
			}
		}
	}
	if !sawActiveConns || activeConns != 1 {
		t.Fatalf("active connections: got %v (saw=%v), want 1", activeConns, sawActiveConns)
	}
	if !sawHitRatio || hitRatio != 0.75 {
		t.Fatalf("page cache hit ratio: got %v (saw=%v), want 0.75", hitRatio, sawHitRatio)
	}
}

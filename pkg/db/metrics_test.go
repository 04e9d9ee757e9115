package db

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func describe(c prometheus.Collector) []*prometheus.Desc {
	ch := make(chan *prometheus.Desc, 10)
	go func() {
		c.Describe(ch)
		close(ch)
	}()
	var descs []*prometheus.Desc
	for d := range ch {
		descs = append(descs, d)
	}
	return descs
}

func TestPoolStatsCollector_Describe(t *testing.T) {
	descs := describe(NewPoolStatsCollector(nil, "digest"))

	expected := []string{
		"digest_db_pool_total_conns",
		"digest_db_pool_idle_conns",
		"digest_db_pool_acquired_conns",
		"digest_db_pool_max_conns",
		"digest_db_pool_acquire_wait_seconds_total",
	}
	if len(descs) != len(expected) {
		t.Fatalf("expected %d descriptors, got %d", len(expected), len(descs))
	}
	for i, d := range descs {
		if !strings.Contains(d.String(), `fqName: "`+expected[i]+`"`) {
			t.Errorf("descriptor %d: expected %s, got %s", i, expected[i], d.String())
		}
	}
}

func TestPoolStatsCollector_NilPool(t *testing.T) {
	if n := testutil.CollectAndCount(NewPoolStatsCollector(nil, "digest")); n != 0 {
		t.Errorf("expected 0 metrics for nil pool, got %d", n)
	}
}

func TestRegisterPoolStats_DoubleRegister(t *testing.T) {
	reg := prometheus.NewRegistry()

	first, err := RegisterPoolStats(reg, nil, "digest")
	if err != nil {
		t.Fatalf("first registration failed: %v", err)
	}
	second, err := RegisterPoolStats(reg, nil, "digest")
	if err != nil {
		t.Fatalf("second registration should not error: %v", err)
	}
	if first != second {
		t.Error("second registration should return the existing collector")
	}
}

func TestPoolStatsCollector_Lint(t *testing.T) {
	problems, err := testutil.CollectAndLint(NewPoolStatsCollector(nil, "digest"))
	if err != nil {
		t.Fatalf("CollectAndLint failed: %v", err)
	}
	for _, p := range problems {
		t.Errorf("lint problem: %s", p.Text)
	}
}

package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"transim/plan"
)

func TestObserve(t *testing.T) {
	m := New("")
	reg := prometheus.NewRegistry()
	if err := m.Register(reg); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	// 重复注册被忽略
	if err := m.Register(reg); err != nil {
		t.Fatalf("second Register failed: %v", err)
	}
	m.ObserveRun(256, plan.Stats{Solves: 10, NotConverged: 2, MaxIterations: 5})
	m.ObserveRun(128, plan.Stats{Solves: 4, MaxIterations: 3})
	m.ObserveDivergence()
	m.ObserveBuild(time.Millisecond, nil)
	m.ObserveBuild(time.Millisecond, errors.New("失败"))

	checks := []struct {
		name string
		c    prometheus.Collector
		want float64
	}{
		{"runs", m.Runs, 2},
		{"samples", m.Samples, 384},
		{"solves", m.Solves, 14},
		{"not converged", m.NotConverged, 2},
		{"divergences", m.Divergences, 1},
		{"max iterations", m.MaxIterations, 3},
		{"builds ok", m.Builds.WithLabelValues("ok"), 1},
		{"builds error", m.Builds.WithLabelValues("error"), 1},
	}
	for _, c := range checks {
		if got := testutil.ToFloat64(c.c); got != c.want {
			t.Errorf("%s = %g, want %g", c.name, got, c.want)
		}
	}
	if n := testutil.CollectAndCount(m.BuildSeconds); n != 1 {
		t.Errorf("histogram count = %d", n)
	}
}

func TestNil(t *testing.T) {
	var m *Metrics
	m.ObserveRun(1, plan.Stats{})
	m.ObserveDivergence()
	m.ObserveBuild(0, nil)
	if err := m.Register(prometheus.NewRegistry()); err != nil {
		t.Fatal(err)
	}
}

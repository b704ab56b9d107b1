// Package metrics 导出仿真运行指标。所有方法允许 nil 接收者
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"transim/plan"
)

// Metrics 仿真指标
type Metrics struct {
	Runs          prometheus.Counter
	Samples       prometheus.Counter
	Solves        prometheus.Counter
	NotConverged  prometheus.Counter
	Divergences   prometheus.Counter
	Builds        *prometheus.CounterVec
	BuildSeconds  prometheus.Histogram
	MaxIterations prometheus.Gauge
}

// New 创建指标，namespace 为空时使用 transim
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "transim"
	}
	return &Metrics{
		Runs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "runs_total", Help: "Run 调用次数",
		}),
		Samples: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "samples_total", Help: "输出采样数",
		}),
		Solves: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "newton_solves_total", Help: "非线性子系统求解次数",
		}),
		NotConverged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "newton_not_converged_total", Help: "达到迭代上限仍未收敛的求解次数",
		}),
		Divergences: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "divergences_total", Help: "检测到发散的次数",
		}),
		Builds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "plan_builds_total", Help: "执行计划生成次数",
		}, []string{"result"}),
		BuildSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "plan_build_seconds", Help: "执行计划生成耗时",
			Buckets: prometheus.ExponentialBuckets(1e-5, 4, 10),
		}),
		MaxIterations: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "newton_max_iterations", Help: "最近一次 Run 中单次求解的最大迭代次数",
		}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.Runs, m.Samples, m.Solves, m.NotConverged, m.Divergences,
		m.Builds, m.BuildSeconds, m.MaxIterations,
	}
}

// Register 注册到 r，已注册的指标被忽略
func (m *Metrics) Register(r prometheus.Registerer) error {
	if m == nil {
		return nil
	}
	for _, c := range m.collectors() {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveRun 记录一次 Run
func (m *Metrics) ObserveRun(samples int, st plan.Stats) {
	if m == nil {
		return
	}
	m.Runs.Inc()
	m.Samples.Add(float64(samples))
	m.Solves.Add(float64(st.Solves))
	m.NotConverged.Add(float64(st.NotConverged))
	m.MaxIterations.Set(float64(st.MaxIterations))
}

// ObserveDivergence 记录一次发散
func (m *Metrics) ObserveDivergence() {
	if m == nil {
		return
	}
	m.Divergences.Inc()
}

// ObserveBuild 记录一次执行计划生成
func (m *Metrics) ObserveBuild(d time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.Builds.WithLabelValues(result).Inc()
	m.BuildSeconds.Observe(d.Seconds())
}

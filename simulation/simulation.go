// Package simulation 提供瞬态解的实时执行接口。
//
// Simulation 持有瞬态解、全局状态与配置，配置变化时重新生成执行计划，
// 并通过单个原子指针发布给 Run。Run 可以在实时音频线程中调用，
// 稳定状态下不分配内存、不加锁；同一实例的 Run 与 Reset 不能并发调用。
package simulation

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"transim/expr"
	"transim/logging"
	"transim/metrics"
	"transim/plan"
	"transim/solution"
)

// paramSet 可调参数，数值以原子方式读写
type paramSet struct {
	defs []solution.Parameter
	bits []atomic.Uint64
}

func newParamSet(ts *solution.TransientSolution) *paramSet {
	ps := &paramSet{defs: ts.Parameters, bits: make([]atomic.Uint64, len(ts.Parameters))}
	for i, p := range ts.Parameters {
		ps.bits[i].Store(math.Float64bits(p.Default))
	}
	return ps
}

func (ps *paramSet) load(dst []float64) {
	for i := range dst {
		dst[i] = math.Float64frombits(ps.bits[i].Load())
	}
}

// binding 执行计划与其全局状态，发布后只被 Run 所在线程使用
type binding struct {
	machine  *plan.Machine
	store    *Store
	params   *paramSet
	scratch  []float64 // 参数数值
	nIn      int
	nOut     int
	timeStep float64 // 输出采样周期
	strict   bool
	metrics  *metrics.Metrics
}

// runStats 最近一次 Run 的统计
type runStats struct {
	solves, iterations, notConverged, max atomic.Int64
}

func (r *runStats) store(st plan.Stats) {
	r.solves.Store(st.Solves)
	r.iterations.Store(st.Iterations)
	r.notConverged.Store(st.NotConverged)
	r.max.Store(int64(st.MaxIterations))
}

func (r *runStats) load() plan.Stats {
	return plan.Stats{
		Solves:        r.solves.Load(),
		Iterations:    r.iterations.Load(),
		NotConverged:  r.notConverged.Load(),
		MaxIterations: int(r.max.Load()),
	}
}

// Simulation 瞬态解仿真实例
type Simulation struct {
	id uuid.UUID

	mu       sync.Mutex // 保护配置与重建
	solution *solution.TransientSolution
	cfg      Config
	store    *Store
	version  uint64

	bind   atomic.Pointer[binding]
	params atomic.Pointer[paramSet]
	at     atomic.Int64
	stats  runStats
}

// New 创建仿真实例并生成执行计划
func New(ts *solution.TransientSolution, opts ...func(*Config)) (*Simulation, error) {
	if ts == nil {
		return nil, errors.New("瞬态解不能为空")
	}
	if err := ts.Validate(); err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.Check(); err != nil {
		return nil, err
	}
	s := &Simulation{id: uuid.New(), solution: ts, cfg: cfg.clone(), store: NewStore()}
	s.params.Store(newParamSet(ts))
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.rebuildLocked(); err != nil {
		return nil, err
	}
	return s, nil
}

// job 一次生成所需的快照
type job struct {
	version uint64
	ts      *solution.TransientSolution
	cfg     Config
	store   *Store
	params  *paramSet
	at      int64
}

// prepareLocked 使当前执行计划失效并准备生成。
// 缺少的全局状态键在副本上添加，已有数值保持不变
func (s *Simulation) prepareLocked() job {
	s.version++
	s.bind.Store(nil)
	keys := plan.GlobalKeys(s.solution, s.cfg.Input, s.cfg.Output)
	if s.store.Missing(keys) {
		store := s.store.Clone()
		store.Add(s.solution, keys...)
		s.store = store
	}
	return job{
		version: s.version,
		ts:      s.solution,
		cfg:     s.cfg,
		store:   s.store,
		params:  s.params.Load(),
		at:      s.at.Load(),
	}
}

func (j job) build(id uuid.UUID) (*binding, error) {
	start := time.Now()
	p, err := plan.Build(j.ts, plan.Options{
		Oversample: j.cfg.Oversample,
		Iterations: j.cfg.Iterations,
		Inputs:     j.cfg.Input,
		Outputs:    j.cfg.Output,
		Globals:    j.store.Keys(),
		CheckState: j.cfg.CheckState,
		Log:        j.cfg.Log,
	})
	j.cfg.Metrics.ObserveBuild(time.Since(start), err)
	if err != nil {
		logging.Writef(j.cfg.Log, logging.Error, "[%s] %v", id, err)
		return nil, err
	}
	registers, instructions := p.Size()
	logging.Writef(j.cfg.Log, logging.Verbose, "[%s] 执行计划: %d 个寄存器, %d 条指令, 过采样 %d, 迭代上限 %d",
		id, registers, instructions, p.Oversample, p.Iterations)
	b := &binding{
		machine:  p.Machine(),
		store:    j.store,
		params:   j.params,
		scratch:  make([]float64, len(j.params.defs)),
		nIn:      len(j.cfg.Input),
		nOut:     len(j.cfg.Output),
		timeStep: p.TimeStep * float64(p.Oversample),
		strict:   j.cfg.Strict,
		metrics:  j.cfg.Metrics,
	}
	b.machine.SetTime(float64(j.at) * b.timeStep)
	return b, nil
}

// publishLocked 发布执行计划，配置已被更新时放弃
func (s *Simulation) publishLocked(version uint64, b *binding) bool {
	if version != s.version {
		return false
	}
	s.bind.Store(b)
	return true
}

func (s *Simulation) rebuildLocked() error {
	j := s.prepareLocked()
	b, err := j.build(s.id)
	if err != nil {
		return err
	}
	s.publishLocked(j.version, b)
	return nil
}

// Update 修改配置并立即重新生成执行计划。
// 配置无效时保持原状；生成失败时执行计划为空，Run 输出静音
func (s *Simulation) Update(f func(*Config)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg := s.cfg.clone()
	f(&cfg)
	if err := cfg.Check(); err != nil {
		return err
	}
	s.cfg = cfg.clone()
	return s.rebuildLocked()
}

// UpdateAsync 修改配置并在后台重新生成执行计划，结果从返回的通道得到。
// 生成期间 Run 输出静音；被更新的配置取代的结果返回 ErrStale
func (s *Simulation) UpdateAsync(f func(*Config)) <-chan error {
	done := make(chan error, 1)
	s.mu.Lock()
	cfg := s.cfg.clone()
	f(&cfg)
	if err := cfg.Check(); err != nil {
		s.mu.Unlock()
		done <- err
		close(done)
		return done
	}
	s.cfg = cfg.clone()
	j := s.prepareLocked()
	s.mu.Unlock()
	go func() {
		defer close(done)
		b, err := j.build(s.id)
		if err == nil {
			s.mu.Lock()
			if !s.publishLocked(j.version, b) {
				err = ErrStale
			}
			s.mu.Unlock()
		}
		done <- err
	}()
	return done
}

// SetOversample 设置过采样倍数
func (s *Simulation) SetOversample(n int) error {
	return s.Update(func(c *Config) { c.Oversample = n })
}

// SetIterations 设置 Newton 迭代上限
func (s *Simulation) SetIterations(n int) error {
	return s.Update(func(c *Config) { c.Iterations = n })
}

// SetInput 设置输入表达式
func (s *Simulation) SetInput(list ...expr.Expr) error {
	return s.Update(func(c *Config) { c.Input = list })
}

// SetOutput 设置输出表达式
func (s *Simulation) SetOutput(list ...expr.Expr) error {
	return s.Update(func(c *Config) { c.Output = list })
}

// SetSolution 替换瞬态解。同名的全局状态保留数值，参数恢复默认值
func (s *Simulation) SetSolution(ts *solution.TransientSolution) error {
	if ts == nil {
		return errors.New("瞬态解不能为空")
	}
	if err := ts.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.solution = ts
	s.params.Store(newParamSet(ts))
	return s.rebuildLocked()
}

// Run 处理 n 个采样。in 与 out 的数量和顺序必须与配置的输入输出一致，
// 每个缓冲区长度不小于 n。执行计划为空时输出静音且不推进状态
func (s *Simulation) Run(n int, in, out [][]float64) error {
	if n < 0 {
		return fmt.Errorf("%w: 采样数 %d", ErrBufferMismatch, n)
	}
	b := s.bind.Load()
	if b == nil {
		for _, o := range out {
			clear(o[:min(n, len(o))])
		}
		return nil
	}
	if err := b.check(n, in, out); err != nil {
		return err
	}
	b.params.load(b.scratch)
	st, err := b.machine.Run(n, b.store.values, b.scratch, in, out)
	s.stats.store(st)
	b.metrics.ObserveRun(n, st)
	if err != nil {
		var d *plan.DivergedError
		if errors.As(err, &d) {
			at := s.at.Load()
			b.metrics.ObserveDivergence()
			return &DivergedError{At: at + int64(d.At), Time: float64(at) * b.timeStep, Offset: d.At}
		}
		return err
	}
	s.at.Add(int64(n))
	// 宽松模式只计入 Stats 与指标
	if st.NotConverged > 0 && b.strict {
		return &NotConvergedError{Count: st.NotConverged, Iterations: b.machine.Plan().Iterations}
	}
	return nil
}

func (b *binding) check(n int, in, out [][]float64) error {
	if len(in) != b.nIn || len(out) != b.nOut {
		return fmt.Errorf("%w: 输入 %d/%d, 输出 %d/%d", ErrBufferMismatch, len(in), b.nIn, len(out), b.nOut)
	}
	for i, buf := range in {
		if len(buf) < n {
			return fmt.Errorf("%w: 输入 %d 长度 %d 小于 %d", ErrBufferMismatch, i, len(buf), n)
		}
	}
	for i, buf := range out {
		if len(buf) < n {
			return fmt.Errorf("%w: 输出 %d 长度 %d 小于 %d", ErrBufferMismatch, i, len(buf), n)
		}
	}
	return nil
}

// RunOutput 无输入时处理 n 个采样
func (s *Simulation) RunOutput(n int, out [][]float64) error {
	return s.Run(n, nil, out)
}

// RunMono 单输入单输出，采样数为 len(in)
func (s *Simulation) RunMono(in, out []float64) error {
	return s.Run(len(in), [][]float64{in}, [][]float64{out})
}

// RunInput 单输入多输出，采样数为 len(in)
func (s *Simulation) RunInput(in []float64, out [][]float64) error {
	return s.Run(len(in), [][]float64{in}, out)
}

// Reset 按初始条件重新初始化全局状态，保留执行计划和采样计数
func (s *Simulation) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.store.Reset(s.solution)
	if b := s.bind.Load(); b != nil {
		b.machine.Reset()
	}
}

// SetParameter 设置参数，超出 [Min, Max] 时截断
func (s *Simulation) SetParameter(name string, v float64) error {
	ps := s.params.Load()
	for i, p := range ps.defs {
		if p.Name != name {
			continue
		}
		if p.Min < p.Max {
			v = math.Min(math.Max(v, p.Min), p.Max)
		}
		ps.bits[i].Store(math.Float64bits(v))
		return nil
	}
	return fmt.Errorf("%w: %s", ErrUnknownParameter, name)
}

// Parameter 得到参数当前值
func (s *Simulation) Parameter(name string) (float64, bool) {
	ps := s.params.Load()
	for i, p := range ps.defs {
		if p.Name == name {
			return math.Float64frombits(ps.bits[i].Load()), true
		}
	}
	return 0, false
}

// ID 实例标识
func (s *Simulation) ID() uuid.UUID { return s.id }

// Plan 当前执行计划，为空时返回 nil
func (s *Simulation) Plan() *plan.Plan {
	if b := s.bind.Load(); b != nil {
		return b.machine.Plan()
	}
	return nil
}

// Ready 执行计划是否可用
func (s *Simulation) Ready() bool { return s.bind.Load() != nil }

// Stats 最近一次 Run 的统计
func (s *Simulation) Stats() plan.Stats { return s.stats.load() }

// At 已处理的采样数
func (s *Simulation) At() int64 { return s.at.Load() }

// Time 当前仿真时间
func (s *Simulation) Time() float64 { return float64(s.At()) * s.TimeStep() }

// TimeStep 输出采样周期
func (s *Simulation) TimeStep() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.solution.TimeStep * float64(s.cfg.Oversample)
}

// SampleRate 输出采样率
func (s *Simulation) SampleRate() float64 { return 1 / s.TimeStep() }

// Config 得到配置副本
func (s *Simulation) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.clone()
}

// Solution 得到瞬态解
func (s *Simulation) Solution() *solution.TransientSolution {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.solution
}

// Globals 全局状态快照，不能与 Run 并发调用
func (s *Simulation) Globals() (keys []expr.Expr, values []float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]expr.Expr(nil), s.store.Keys()...), append([]float64(nil), s.store.Values()...)
}

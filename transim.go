// Package transim 加载瞬态解模型，驱动仿真实例处理信号并记录波形。
package transim

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"transim/debug"
	"transim/expr"
	"transim/logging"
	"transim/simulation"
	"transim/solution"
)

// Load 加载 YAML 格式瞬态解
func Load(filename string) (*solution.TransientSolution, error) {
	ts, err := solution.LoadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("加载 %s 失败: %w", filename, err)
	}
	return ts, nil
}

// Open 加载模型并创建仿真实例
func Open(filename string, opts ...func(*simulation.Config)) (*simulation.Simulation, error) {
	ts, err := Load(filename)
	if err != nil {
		return nil, err
	}
	return simulation.New(ts, opts...)
}

// Signal 输入信号，返回第 n 个采样
type Signal func(n int64, rate float64) float64

// Sine 正弦信号
func Sine(freq, amp float64) Signal {
	return func(n int64, rate float64) float64 {
		return amp * math.Sin(2*math.Pi*freq*float64(n)/rate)
	}
}

// Square 方波信号
func Square(freq, amp float64) Signal {
	return func(n int64, rate float64) float64 {
		if math.Mod(freq*float64(n)/rate, 1) < 0.5 {
			return amp
		}
		return -amp
	}
}

// Step 阶跃信号
func Step(amp float64) Signal {
	return func(int64, float64) float64 { return amp }
}

// Impulse 单位冲激，只有第一个采样非零
func Impulse(amp float64) Signal {
	return func(n int64, _ float64) float64 {
		if n == 0 {
			return amp
		}
		return 0
	}
}

// Noise 均匀白噪声，seed 相同时序列相同
func Noise(amp float64, seed uint64) Signal {
	r := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	return func(int64, float64) float64 { return amp * (2*r.Float64() - 1) }
}

// NewSignal 按名称创建信号
func NewSignal(name string, freq, amp float64) (Signal, error) {
	switch name {
	case "sine":
		return Sine(freq, amp), nil
	case "square":
		return Square(freq, amp), nil
	case "step":
		return Step(amp), nil
	case "impulse":
		return Impulse(amp), nil
	case "noise":
		return Noise(amp, 1), nil
	}
	return nil, fmt.Errorf("未知信号类型: %s", name)
}

// Options 驱动参数
type Options struct {
	Samples int64         // 总采样数
	Block   int           // 每次 Run 的采样数
	Inputs  []Signal      // 与仿真输入一一对应
	Record  *debug.Record // 可为空
	Log     logging.Log   // 可为空
}

// Simulate 按块驱动仿真。
// 发散点在第一秒之后时复位全局状态并重试该块；发生在第一秒内，
// 或距上次复位不足一秒时返回错误
func Simulate(sim *simulation.Simulation, o Options) error {
	cfg := sim.Config()
	if len(o.Inputs) != len(cfg.Input) {
		return fmt.Errorf("信号数量 %d 与输入数量 %d 不一致", len(o.Inputs), len(cfg.Input))
	}
	if o.Block <= 0 {
		o.Block = 256
	}
	log := o.Log
	if log == nil {
		log = logging.Null{}
	}
	in := make([][]float64, len(cfg.Input))
	for i := range in {
		in[i] = make([]float64, o.Block)
	}
	out := make([][]float64, len(cfg.Output))
	for i := range out {
		out[i] = make([]float64, o.Block)
	}
	if o.Record != nil {
		names := make([]string, 0, len(in)+len(out))
		for _, e := range cfg.Input {
			names = append(names, expr.Key(e))
		}
		for _, e := range cfg.Output {
			names = append(names, expr.Key(e))
		}
		o.Record.Init(names...)
	}
	rate := sim.SampleRate()
	var lastReset int64 = -1
	for done := int64(0); done < o.Samples; {
		n := int(min(int64(o.Block), o.Samples-done))
		start := sim.At()
		for i, sig := range o.Inputs {
			for k := range n {
				in[i][k] = sig(start+int64(k), rate)
			}
		}
		t0 := sim.Time()
		err := sim.Run(n, in, out)
		var div *simulation.DivergedError
		switch {
		case errors.As(err, &div):
			if o.Record != nil {
				o.Record.Error(div.At, err)
			}
			second := int64(rate)
			if div.At <= second || lastReset >= 0 && div.At-lastReset < second {
				return err
			}
			logging.Writef(log, logging.Warning, "%v, 复位全局状态", err)
			sim.Reset()
			lastReset = div.At
			continue
		case err != nil:
			var nc *simulation.NotConvergedError
			if !errors.As(err, &nc) {
				return err
			}
			logging.Writef(log, logging.Warning, "%v", err)
		}
		if o.Record != nil {
			o.Record.Block(t0, 1/rate, n, append(in, out...)...)
			o.Record.Observe(sim.Stats())
		}
		done += int64(n)
	}
	return nil
}

package solution

import (
	"fmt"
	"io"
	"maps"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"transim/expr"
)

// fileArrow 文件中的赋值
type fileArrow struct {
	Unknown string `yaml:"unknown"`
	Value   string `yaml:"value"`
}

// fileEquation 文件中的残差行
type fileEquation struct {
	Terms    yaml.Node `yaml:"terms"` // 增量 -> 系数，保持文件顺序
	Constant string    `yaml:"constant"`
}

// fileNewton 文件中的非线性子系统
type fileNewton struct {
	Unknowns  []string       `yaml:"unknowns"`
	Deltas    []string       `yaml:"deltas"`
	Guesses   []fileArrow    `yaml:"guesses"`
	Known     []fileArrow    `yaml:"known"`
	Equations []fileEquation `yaml:"equations"`
}

// fileSet 文件中的子系统，linear 与 newton 二选一
type fileSet struct {
	Linear []fileArrow `yaml:"linear"`
	Newton *fileNewton `yaml:"newton"`
}

// fileSolution 瞬态解文件格式
type fileSolution struct {
	TimeStep   float64           `yaml:"timestep"`
	Parameters []Parameter       `yaml:"parameters"`
	Initial    map[string]string `yaml:"initial"`
	Solutions  []fileSet         `yaml:"solutions"`
}

// LoadFile 从 YAML 文件加载瞬态解
func LoadFile(filename string) (*TransientSolution, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return Load(file)
}

// Load 从 YAML 数据加载瞬态解
func Load(r io.Reader) (*TransientSolution, error) {
	var fs fileSolution
	if err := yaml.NewDecoder(r).Decode(&fs); err != nil {
		return nil, fmt.Errorf("解析瞬态解失败: %w", err)
	}
	ts := &TransientSolution{TimeStep: fs.TimeStep}
	for _, p := range fs.Parameters {
		if p.Name == "" {
			return nil, fmt.Errorf("参数缺少名称")
		}
		ts.Parameters = append(ts.Parameters, p)
	}
	// 初始条件按名称排序，保证结果确定
	for _, name := range slices.Sorted(maps.Keys(fs.Initial)) {
		left, err := expr.Parse(name)
		if err != nil {
			return nil, fmt.Errorf("初始条件: %w", err)
		}
		right, err := expr.Parse(fs.Initial[name])
		if err != nil {
			return nil, fmt.Errorf("初始条件 %s: %w", name, err)
		}
		ts.InitialConditions = append(ts.InitialConditions, Arrow{Left: left, Right: right})
	}
	for i, set := range fs.Solutions {
		ss, err := set.build()
		if err != nil {
			return nil, fmt.Errorf("子系统 %d: %w", i, err)
		}
		ts.Solutions = append(ts.Solutions, ss)
	}
	if err := ts.Validate(); err != nil {
		return nil, err
	}
	return ts, nil
}

func (fs fileSet) build() (SolutionSet, error) {
	switch {
	case fs.Newton != nil && fs.Linear != nil:
		return nil, fmt.Errorf("linear 与 newton 不能同时定义")
	case fs.Newton != nil:
		return fs.Newton.build()
	}
	arrows, err := buildArrows(fs.Linear)
	if err != nil {
		return nil, err
	}
	return &LinearSolutions{Solutions: arrows}, nil
}

func (fn *fileNewton) build() (*NewtonIteration, error) {
	var err error
	ni := &NewtonIteration{}
	if ni.Unknown, err = expr.ParseList(fn.Unknowns...); err != nil {
		return nil, err
	}
	if ni.Deltas, err = expr.ParseList(fn.Deltas...); err != nil {
		return nil, err
	}
	if ni.Guesses, err = buildArrows(fn.Guesses); err != nil {
		return nil, err
	}
	if ni.KnownDeltas, err = buildArrows(fn.Known); err != nil {
		return nil, err
	}
	for i, eq := range fn.Equations {
		lc, err := eq.build()
		if err != nil {
			return nil, fmt.Errorf("残差行 %d: %w", i, err)
		}
		ni.Equations = append(ni.Equations, lc)
	}
	return ni, nil
}

func (fe fileEquation) build() (lc LinearCombination, err error) {
	if fe.Constant == "" {
		lc.Constant = expr.Const(0)
	} else if lc.Constant, err = expr.Parse(fe.Constant); err != nil {
		return lc, err
	}
	if fe.Terms.Kind == 0 {
		return lc, nil
	}
	if fe.Terms.Kind != yaml.MappingNode {
		return lc, fmt.Errorf("terms 必须是映射")
	}
	for i := 0; i+1 < len(fe.Terms.Content); i += 2 {
		delta, err := expr.Parse(fe.Terms.Content[i].Value)
		if err != nil {
			return lc, err
		}
		coeff, err := expr.Parse(fe.Terms.Content[i+1].Value)
		if err != nil {
			return lc, err
		}
		lc.Terms = append(lc.Terms, Term{Delta: delta, Coeff: coeff})
	}
	return lc, nil
}

func buildArrows(list []fileArrow) ([]Arrow, error) {
	out := make([]Arrow, 0, len(list))
	for _, a := range list {
		left, err := expr.Parse(a.Unknown)
		if err != nil {
			return nil, err
		}
		right, err := expr.Parse(a.Value)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", a.Unknown, err)
		}
		out = append(out, Arrow{Left: left, Right: right})
	}
	return out, nil
}

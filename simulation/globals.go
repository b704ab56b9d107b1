package simulation

import (
	"maps"
	"slices"

	"transim/expr"
	"transim/solution"
)

// Store 全局状态：上一步值的键与数值。键只增不减
type Store struct {
	keys   []expr.Expr
	index  map[string]int
	values []float64
}

// NewStore 创建空的全局状态
func NewStore() *Store {
	return &Store{index: map[string]int{}}
}

// Add 添加不存在的键，初值取自初始条件中的字面常量，否则为 0。返回新增数量
func (st *Store) Add(ts *solution.TransientSolution, keys ...expr.Expr) int {
	added := 0
	for _, k := range keys {
		key := expr.Key(k)
		if _, ok := st.index[key]; ok {
			continue
		}
		v, _ := ts.InitialValue(k)
		st.index[key] = len(st.keys)
		st.keys = append(st.keys, k)
		st.values = append(st.values, v)
		added++
	}
	return added
}

// Missing 检查是否有键不存在
func (st *Store) Missing(keys []expr.Expr) bool {
	for _, k := range keys {
		if _, ok := st.index[expr.Key(k)]; !ok {
			return true
		}
	}
	return false
}

// Clone 复制
func (st *Store) Clone() *Store {
	return &Store{
		keys:   slices.Clone(st.keys),
		index:  maps.Clone(st.index),
		values: slices.Clone(st.values),
	}
}

// Keys 得到全部键，按添加顺序
func (st *Store) Keys() []expr.Expr { return st.keys }

// Values 得到数值，与 Keys 一一对应
func (st *Store) Values() []float64 { return st.values }

// Len 键数量
func (st *Store) Len() int { return len(st.keys) }

// Get 按键查找
func (st *Store) Get(key expr.Expr) (float64, bool) {
	i, ok := st.index[expr.Key(key)]
	if !ok {
		return 0, false
	}
	return st.values[i], true
}

// Reset 按初始条件重新初始化全部数值
func (st *Store) Reset(ts *solution.TransientSolution) {
	for i, k := range st.keys {
		st.values[i], _ = ts.InitialValue(k)
	}
}

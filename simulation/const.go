package simulation

import "transim/solver"

// 默认参数
var (
	DefaultOversample = 8                        // 过采样倍数
	DefaultIterations = solver.DefaultIterations // Newton 迭代上限
	MaxOversample     = 64                       // 过采样倍数上限
	MaxIterations     = 64                       // 迭代上限的上限
)

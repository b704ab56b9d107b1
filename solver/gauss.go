// Package solver 提供非线性子系统使用的数值求解器：
// 带部分主元的高斯消元、回代以及 Newton-Raphson 迭代驱动。
//
// 增广矩阵 [J | F] 保存在一块连续内存中，行主序，行间距为 Stride，
// 由调用方预先分配并在每次求解时整体重写，求解过程不分配内存。
package solver

import "math"

// Matrix 增广矩阵视图
type Matrix struct {
	Data   []float64 // 底层数据，行主序
	Stride int       // 行间距（列容量）
}

// NewMatrix 分配 rows 行、cols 列的增广矩阵
func NewMatrix(rows, cols int) Matrix {
	return Matrix{Data: make([]float64, rows*cols), Stride: cols}
}

// View 在已有内存上建立矩阵视图
func View(data []float64, stride int) Matrix {
	return Matrix{Data: data, Stride: stride}
}

// Row 得到第 i 行
func (ab Matrix) Row(i int) []float64 {
	return ab.Data[i*ab.Stride : (i+1)*ab.Stride]
}

// At 得到 (i,j) 元素
func (ab Matrix) At(i, j int) float64 { return ab.Data[i*ab.Stride+j] }

// Set 设置 (i,j) 元素
func (ab Matrix) Set(i, j int, v float64) { ab.Data[i*ab.Stride+j] = v }

// Rows 得到容量行数
func (ab Matrix) Rows() int {
	if ab.Stride == 0 {
		return 0
	}
	return len(ab.Data) / ab.Stride
}

// RowReduce 对 m 行、n 个未知量的增广矩阵做前向消元，第 n 列为常数项。
// 对每个主元列 j (0..n-2):
//  1. 在 j..m-1 行中选取第 j 列绝对值最大的行作为主元行
//  2. 主元行与第 j 行交换第 j..n 列
//  3. 对 j 之后的每一行按比例消去第 j 列，比例为零时跳过
//
// 主元为零时不做特殊处理，退化系统会在回代中产生 Inf/NaN。
func RowReduce(ab Matrix, m, n int) {
	for j := 0; j+1 < n; j++ {
		// 选取主元
		pi := j
		best := math.Abs(ab.At(j, j))
		for i := j + 1; i < m; i++ {
			if v := math.Abs(ab.At(i, j)); v > best {
				pi = i
				best = v
			}
		}
		abj := ab.Row(j)
		// 交换主元行
		if pi != j {
			abpi := ab.Row(pi)
			for x := j; x <= n; x++ {
				abj[x], abpi[x] = abpi[x], abj[x]
			}
		}
		// 消去主元之后的行
		p := abj[j]
		for i := j + 1; i < m; i++ {
			abi := ab.Row(i)
			s := abi[j] / p
			if s == 0 {
				continue
			}
			for x := j + 1; x <= n; x++ {
				abi[x] -= abj[x] * s
			}
		}
	}
}

// BackSubstitute 对上三角增广矩阵回代，结果写入 delta[0..n-1]：
//
//	delta[j] = -(Ab[j][n] + Σ_{k>j} Ab[j][k]·delta[k]) / Ab[j][j]
//
// 矩阵表示 J·Δ + F = 0，因此解带负号。
func BackSubstitute(ab Matrix, n int, delta []float64) {
	for j := n - 1; j >= 0; j-- {
		abj := ab.Row(j)
		r := abj[n]
		for k := j + 1; k < n; k++ {
			r += abj[k] * delta[k]
		}
		delta[j] = -r / abj[j]
	}
}

// Solve 消元并回代
func Solve(ab Matrix, m, n int, delta []float64) {
	RowReduce(ab, m, n)
	BackSubstitute(ab, n, delta)
}

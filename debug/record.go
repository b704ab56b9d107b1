// Package debug 记录仿真波形并输出为 JSON、CSV、HTML 曲线或图片
package debug

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"transim/plan"
)

// Record 记录波形
type Record struct {
	Names  []string    // 曲线名称
	Time   []float64   // 时间列
	Series [][]float64 // Series[i] 为第 i 条曲线
	Stats  []plan.Stats
	Events []Event // 发散等事件
}

// Event 运行中的事件
type Event struct {
	At      int64  // 采样下标
	Message string // 描述
}

// Init 初始化曲线
func (list *Record) Init(names ...string) {
	list.Names = append([]string(nil), names...)
	list.Series = make([][]float64, len(names))
	list.Time = list.Time[:0]
	list.Stats = list.Stats[:0]
	list.Events = list.Events[:0]
}

// Update 记录一个时间点
func (list *Record) Update(t float64, values ...float64) {
	list.Time = append(list.Time, t)
	for i := range list.Series {
		v := 0.0
		if i < len(values) {
			v = values[i]
		}
		list.Series[i] = append(list.Series[i], v)
	}
}

// Block 记录一批采样，cols 与 Names 一一对应，第 k 个采样的时间为 t0 + k·dt
func (list *Record) Block(t0, dt float64, n int, cols ...[]float64) {
	for k := range n {
		list.Time = append(list.Time, t0+float64(k)*dt)
	}
	for i := range list.Series {
		if i < len(cols) {
			list.Series[i] = append(list.Series[i], cols[i][:n]...)
		} else {
			list.Series[i] = append(list.Series[i], make([]float64, n)...)
		}
	}
}

// Observe 记录一次 Run 的统计
func (list *Record) Observe(st plan.Stats) { list.Stats = append(list.Stats, st) }

// Error 记录事件
func (list *Record) Error(at int64, err error) {
	list.Events = append(list.Events, Event{At: at, Message: err.Error()})
}

// Len 采样数
func (list *Record) Len() int { return len(list.Time) }

// Render 格式和输出内容
func (list *Record) Render(w io.Writer) error { return json.NewEncoder(w).Encode(list) }

// WriteCSV 按列输出，第一列为时间
func (list *Record) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(append([]string{"t"}, list.Names...)); err != nil {
		return err
	}
	row := make([]string, len(list.Names)+1)
	for k, t := range list.Time {
		row[0] = strconv.FormatFloat(t, 'g', -1, 64)
		for i, s := range list.Series {
			row[i+1] = strconv.FormatFloat(s[k], 'g', -1, 64)
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("写入第 %d 行失败: %w", k, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

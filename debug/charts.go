package debug

import (
	"fmt"
	"io"
	"log"
	"net/http"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"
)

// Charts 曲线绘制
type Charts struct {
	Record
	Title string
}

func legend() charts.GlobalOpts {
	return charts.WithLegendOpts(opts.Legend{
		Type:   "scroll",
		Orient: "vertical",
		Right:  "10",
		Top:    "20",
		Bottom: "20",
	})
}

// Render 格式化
func (c *Charts) Render(w io.Writer) error {
	title := c.Title
	if title == "" {
		title = "仿真波形"
	}
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Theme: types.ThemeWesteros,
		}),
		charts.WithTitleOpts(opts.Title{
			Title:    title,
			Subtitle: "输入输出随时间变化曲线",
		}),
		legend(),
		charts.WithXAxisOpts(opts.XAxis{
			Name:        "t(s)",
			SplitNumber: 20,
		}),
		charts.WithYAxisOpts(opts.YAxis{
			Scale: opts.Bool(true),
		}),
		charts.WithDataZoomOpts(opts.DataZoom{
			Type:       "inside",
			Start:      0,
			End:        100,
			XAxisIndex: []int{0},
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
	)
	line.SetXAxis(c.Time)
	for i, name := range c.Names {
		items := make([]opts.LineData, len(c.Series[i]))
		for k, v := range c.Series[i] {
			items[k] = opts.LineData{Value: v}
		}
		line.AddSeries(name, items, charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}))
	}

	// Newton 统计
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Theme: types.ThemeWesteros,
		}),
		charts.WithTitleOpts(opts.Title{
			Title:    "非线性求解",
			Subtitle: "每批次的最大迭代次数与未收敛次数",
		}),
		legend(),
	)
	batches := make([]string, len(c.Stats))
	maxIter := make([]opts.BarData, len(c.Stats))
	failed := make([]opts.BarData, len(c.Stats))
	for i, st := range c.Stats {
		batches[i] = fmt.Sprintf("%d", i)
		maxIter[i] = opts.BarData{Value: st.MaxIterations}
		failed[i] = opts.BarData{Value: st.NotConverged}
	}
	bar.SetXAxis(batches).
		AddSeries("最大迭代次数", maxIter).
		AddSeries("未收敛次数", failed)

	// 构建界面
	page := components.NewPage()
	page.AddCharts(line, bar)
	return page.Render(w)
}

// Handler 发布到网页面
func (c *Charts) Handler(w http.ResponseWriter, _ *http.Request) {
	if err := c.Render(w); err != nil {
		log.Println(err)
	}
}

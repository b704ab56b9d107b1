// transim 命令行: 加载模型，用信号发生器驱动仿真并输出波形
package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"transim"
	"transim/debug"
	"transim/expr"
	"transim/logging"
	"transim/metrics"
	"transim/simulation"
)

func split(s string) []string {
	var list []string
	for _, v := range strings.Split(s, ",") {
		if v = strings.TrimSpace(v); v != "" {
			list = append(list, v)
		}
	}
	return list
}

func main() {
	model := flag.String("model", "", "模型文件 (YAML)")
	input := flag.String("input", "", "输入表达式，逗号分隔")
	output := flag.String("output", "", "输出表达式，逗号分隔")
	samples := flag.Int64("samples", 48000, "采样数")
	block := flag.Int("block", 256, "每批采样数")
	signal := flag.String("signal", "sine", "输入信号: sine, square, step, impulse, noise")
	freq := flag.Float64("freq", 440, "信号频率 (Hz)")
	amp := flag.Float64("amp", 1, "信号幅值")
	oversample := flag.Int("oversample", simulation.DefaultOversample, "过采样倍数")
	iterations := flag.Int("iterations", simulation.DefaultIterations, "Newton 迭代上限")
	strict := flag.Bool("strict", false, "未收敛时报错")
	csvFile := flag.String("csv", "", "CSV 输出文件")
	imgFile := flag.String("png", "", "波形图片 (png、svg、pdf)")
	htmlFile := flag.String("html", "", "HTML 曲线文件")
	serve := flag.String("serve", "", "运行结束后在该地址发布曲线与指标，如 :8080")
	verbose := flag.Bool("v", false, "输出详细日志")
	flag.Parse()

	if *model == "" {
		flag.Usage()
		os.Exit(2)
	}
	level := logging.Info
	if *verbose {
		level = logging.Verbose
	}
	lg := logging.NewLimited(logging.NewStd("transim ", level), 10, 20)

	in, err := expr.ParseList(split(*input)...)
	if err != nil {
		log.Fatal(err)
	}
	out, err := expr.ParseList(split(*output)...)
	if err != nil {
		log.Fatal(err)
	}
	reg := prometheus.NewRegistry()
	m := metrics.New("transim")
	if err := m.Register(reg); err != nil {
		log.Fatal(err)
	}
	sim, err := transim.Open(*model, func(c *simulation.Config) {
		c.Input, c.Output = in, out
		c.Oversample, c.Iterations = *oversample, *iterations
		c.Strict = *strict
		c.Log, c.Metrics = lg, m
	})
	if err != nil {
		log.Fatal(err)
	}

	signals := make([]transim.Signal, len(in))
	for i := range signals {
		if signals[i], err = transim.NewSignal(*signal, *freq, *amp); err != nil {
			log.Fatal(err)
		}
	}
	var rec debug.Record
	err = transim.Simulate(sim, transim.Options{
		Samples: *samples,
		Block:   *block,
		Inputs:  signals,
		Record:  &rec,
		Log:     lg,
	})
	if err != nil {
		logging.Writef(lg, logging.Error, "%v", err)
	}
	st := sim.Stats()
	fmt.Printf("%d 个采样, 最后一批 Newton 求解 %d 次, 最大迭代 %d 次, 未收敛 %d 次\n",
		sim.At(), st.Solves, st.MaxIterations, st.NotConverged)

	if *csvFile != "" {
		f, err := os.Create(*csvFile)
		if err != nil {
			log.Fatal(err)
		}
		err = rec.WriteCSV(f)
		f.Close()
		if err != nil {
			log.Fatal(err)
		}
	}
	if *imgFile != "" {
		p := &debug.Plot{Record: rec, Title: *model}
		if err := p.Save(*imgFile); err != nil {
			log.Fatal(err)
		}
	}
	charts := &debug.Charts{Record: rec, Title: *model}
	if *htmlFile != "" {
		f, err := os.Create(*htmlFile)
		if err != nil {
			log.Fatal(err)
		}
		err = charts.Render(f)
		f.Close()
		if err != nil {
			log.Fatal(err)
		}
	}
	if *serve != "" {
		http.HandleFunc("/", charts.Handler)
		http.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		logging.Writef(lg, logging.Info, "发布于 %s", *serve)
		log.Fatal(http.ListenAndServe(*serve, nil))
	}
}

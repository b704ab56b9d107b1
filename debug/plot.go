package debug

import (
	"fmt"
	"image/color"
	"io"
	"path/filepath"
	"strings"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

// Plot 波形图片
type Plot struct {
	Record
	Title  string
	Width  vg.Length // 默认 20cm
	Height vg.Length // 默认 10cm
}

func (p *Plot) build() (*plot.Plot, error) {
	pl := plot.New()
	pl.Title.Text = p.Title
	pl.X.Label.Text = "t (s)"
	pl.Add(plotter.NewGrid())
	for i, name := range p.Names {
		xys := make(plotter.XYs, len(p.Time))
		for k, t := range p.Time {
			xys[k].X, xys[k].Y = t, p.Series[i][k]
		}
		l, err := plotter.NewLine(xys)
		if err != nil {
			return nil, fmt.Errorf("曲线 %s: %w", name, err)
		}
		l.Color = plotutil.Color(i)
		l.Width = vg.Points(1)
		pl.Add(l)
		pl.Legend.Add(name, l)
	}
	pl.Legend.Top = true
	pl.BackgroundColor = color.White
	return pl, nil
}

func (p *Plot) size() (vg.Length, vg.Length) {
	w, h := p.Width, p.Height
	if w == 0 {
		w = 20 * vg.Centimeter
	}
	if h == 0 {
		h = 10 * vg.Centimeter
	}
	return w, h
}

// Save 保存为图片，格式由扩展名决定（png、svg、pdf 等）
func (p *Plot) Save(filename string) error {
	pl, err := p.build()
	if err != nil {
		return err
	}
	w, h := p.size()
	return pl.Save(w, h, filename)
}

// Render 按格式写出，format 为 png、svg 等
func (p *Plot) Render(w io.Writer, format string) error {
	pl, err := p.build()
	if err != nil {
		return err
	}
	width, height := p.size()
	wt, err := pl.WriterTo(width, height, strings.TrimPrefix(format, "."))
	if err != nil {
		return err
	}
	_, err = wt.WriteTo(w)
	return err
}

// Format 由文件名得到格式
func Format(filename string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
}

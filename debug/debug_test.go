package debug

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"transim/plan"
)

func sample() Record {
	var r Record
	r.Init("Vin[t]", "Vo[t]")
	r.Block(0, 0.5, 3, []float64{1, 2, 3, 9}, []float64{0.5, 1, 1.5})
	r.Update(1.5, 4)
	r.Observe(plan.Stats{Solves: 3, MaxIterations: 2})
	r.Error(3, errors.New("发散"))
	return r
}

func TestRecord(t *testing.T) {
	r := sample()
	if r.Len() != 4 || len(r.Series[0]) != 4 || r.Series[1][3] != 0 {
		t.Fatalf("record = %+v", r)
	}
	var buf bytes.Buffer
	if err := r.WriteCSV(&buf); err != nil {
		t.Fatal(err)
	}
	want := "t,Vin[t],Vo[t]\n0,1,0.5\n0.5,2,1\n1,3,1.5\n1.5,4,0\n"
	if buf.String() != want {
		t.Errorf("csv = %q", buf.String())
	}
	buf.Reset()
	if err := r.Render(&buf); err != nil {
		t.Fatal(err)
	}
	var back Record
	if err := json.Unmarshal(buf.Bytes(), &back); err != nil {
		t.Fatal(err)
	}
	if len(back.Events) != 1 || back.Events[0].At != 3 || back.Stats[0].Solves != 3 {
		t.Errorf("json = %s", buf.String())
	}
}

func TestCharts(t *testing.T) {
	c := &Charts{Record: sample(), Title: "RC"}
	var buf bytes.Buffer
	if err := c.Render(&buf); err != nil {
		t.Fatal(err)
	}
	html := buf.String()
	for _, s := range []string{"RC", "Vo[t]", "最大迭代次数"} {
		if !strings.Contains(html, s) {
			t.Errorf("page missing %q", s)
		}
	}
}

func TestPlot(t *testing.T) {
	p := &Plot{Record: sample(), Title: "RC"}
	var buf bytes.Buffer
	if err := p.Render(&buf, "svg"); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "<svg") {
		t.Error("not an svg document")
	}
	if Format("out/Wave.PNG") != "png" {
		t.Error("unexpected format")
	}
}

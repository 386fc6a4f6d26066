// Package report renders calibration and prediction charts as HTML pages.
package report

import (
	"fmt"
	"io"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/downtime.report/internal/bayesopt"
	"github.com/banshee-data/downtime.report/internal/mhpdt"
)

// DefaultMaxPoints caps the samples drawn per series.
const DefaultMaxPoints = 5000

// Options controls page rendering.
type Options struct {
	// AssetsHost overrides the echarts script location; empty uses the
	// go-echarts default CDN.
	AssetsHost string
	MaxPoints  int
}

// Input is the data drawn on a page. Truth and Evaluations are optional.
type Input struct {
	Title       string
	Prediction  *mhpdt.Prediction
	Params      mhpdt.Params
	Truth       []int
	Evaluations []bayesopt.Evaluation
}

// Render writes a page with the mhp signal against the predicted and tagged
// states, followed by the optimiser history when present.
func Render(w io.Writer, in Input, o Options) error {
	if in.Prediction == nil {
		return fmt.Errorf("report: no prediction to render")
	}
	if o.MaxPoints <= 0 {
		o.MaxPoints = DefaultMaxPoints
	}

	page := components.NewPage()
	if o.AssetsHost != "" {
		page.SetAssetsHost(o.AssetsHost)
	}
	page.PageTitle = in.Title
	page.AddCharts(signalChart(in, o))
	if len(in.Evaluations) > 0 {
		page.AddCharts(historyChart(in.Evaluations, o))
	}
	return page.Render(w)
}

func stride(n, max int) int {
	if n <= max {
		return 1
	}
	return (n + max - 1) / max
}

func millis(t time.Time) int64 { return t.UnixMilli() }

func signalChart(in Input, o Options) *charts.Line {
	p := in.Prediction
	step := stride(len(p.Timestamps), o.MaxPoints)

	mhp := make([]opts.LineData, 0, len(p.Timestamps)/step+1)
	state := make([]opts.LineData, 0, cap(mhp))
	var truth []opts.LineData
	for i := 0; i < len(p.Timestamps); i += step {
		ts := millis(p.Timestamps[i])
		mhp = append(mhp, opts.LineData{Value: []interface{}{ts, p.MHP[i]}})
		s := 0
		if p.StateFiltered[i] {
			s = 1
		}
		state = append(state, opts.LineData{Value: []interface{}{ts, s}})
		if len(in.Truth) == len(p.Timestamps) {
			truth = append(truth, opts.LineData{Value: []interface{}{ts, in.Truth[i]}})
		}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: in.Title, Width: "100%", Height: "520px", AssetsHost: o.AssetsHost}),
		charts.WithTitleOpts(opts.Title{
			Title: "Machine state",
			Subtitle: fmt.Sprintf("threshold=%.3f andon=%gs up=%ds down=%ds first=%s samples=%d",
				in.Params.MHPThreshold, in.Params.AndonUptimeThreshold,
				in.Params.UpFilterSize, in.Params.DownFilterSize, in.Params.FirstFilter, len(p.Timestamps)),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Right: "5%"}),
		charts.WithXAxisOpts(opts.XAxis{Type: "time", Name: "time"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "mhp"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider"}),
	)
	line.AddSeries("mhp", mhp)
	line.AddSeries("predicted state", state)
	if truth != nil {
		line.AddSeries("tagged state", truth)
	}
	return line
}

func historyChart(evals []bayesopt.Evaluation, o Options) *charts.Scatter {
	data := make([]opts.ScatterData, 0, len(evals))
	for i, e := range evals {
		data = append(data, opts.ScatterData{Value: []interface{}{i + 1, -e.Fun}})
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "360px", AssetsHost: o.AssetsHost}),
		charts.WithTitleOpts(opts.Title{Title: "Optimiser history", Subtitle: fmt.Sprintf("evaluations=%d", len(evals))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Type: "value", Name: "call", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: 0, Max: 1, Name: "F1", NameLocation: "middle", NameGap: 30}),
	)
	scatter.AddSeries("f1", data, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 8}))
	return scatter
}

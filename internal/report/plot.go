package report

import (
	"fmt"
	"image/color"
	"io"
	"slices"
	"strings"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

var (
	mhpColor       = color.RGBA{R: 90, G: 110, B: 200, A: 255}
	predictedColor = color.RGBA{R: 220, G: 60, B: 60, A: 255}
	taggedColor    = color.RGBA{R: 60, G: 170, B: 90, A: 255}
)

// PlotFormats lists the image formats WritePlot accepts.
var PlotFormats = []string{"png", "svg", "pdf"}

// WritePlot draws the mhp signal, the threshold and the predicted (and
// tagged, when present) states as a static image in the given format.
// States are drawn at the threshold height so they share the mhp axis.
func WritePlot(w io.Writer, in Input, format string, o Options) error {
	if in.Prediction == nil {
		return fmt.Errorf("report: no prediction to plot")
	}
	format = strings.ToLower(strings.TrimPrefix(format, "."))
	if !slices.Contains(PlotFormats, format) {
		return fmt.Errorf("report: unsupported plot format %q", format)
	}
	if o.MaxPoints <= 0 {
		o.MaxPoints = DefaultMaxPoints
	}

	pred := in.Prediction
	step := stride(len(pred.Timestamps), o.MaxPoints)
	level := in.Params.MHPThreshold
	if level <= 0 {
		level = 1
	}

	mhp := make(plotter.XYs, 0, len(pred.Timestamps)/step+1)
	predicted := make(plotter.XYs, 0, cap(mhp))
	var tagged plotter.XYs
	for i := 0; i < len(pred.Timestamps); i += step {
		x := float64(pred.Timestamps[i].UnixMilli()) / 1000
		mhp = append(mhp, plotter.XY{X: x, Y: pred.MHP[i]})
		predicted = append(predicted, plotter.XY{X: x, Y: level * boolValue(pred.StateFiltered[i])})
		if i < len(in.Truth) {
			tagged = append(tagged, plotter.XY{X: x, Y: 0.9 * level * float64(in.Truth[i])})
		}
	}

	p := plot.New()
	p.Title.Text = in.Title
	if p.Title.Text == "" {
		p.Title.Text = "Machine state"
	}
	p.X.Label.Text = "Time"
	p.X.Tick.Marker = plot.TimeTicks{Format: "15:04:05"}
	p.Y.Label.Text = "MHP"

	mhpLine, err := plotter.NewLine(mhp)
	if err != nil {
		return fmt.Errorf("report: mhp line: %w", err)
	}
	mhpLine.Color = mhpColor
	mhpLine.Width = vg.Points(1)
	p.Add(mhpLine)
	p.Legend.Add("mhp", mhpLine)

	threshold := plotter.NewFunction(func(float64) float64 { return in.Params.MHPThreshold })
	threshold.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
	threshold.Color = color.Gray{Y: 100}
	p.Add(threshold)
	p.Legend.Add(fmt.Sprintf("threshold %.3f", in.Params.MHPThreshold), threshold)

	predLine, err := plotter.NewLine(predicted)
	if err != nil {
		return fmt.Errorf("report: predicted line: %w", err)
	}
	predLine.Color = predictedColor
	predLine.Width = vg.Points(1.5)
	p.Add(predLine)
	p.Legend.Add("predicted state", predLine)

	if len(tagged) > 0 {
		tagLine, err := plotter.NewLine(tagged)
		if err != nil {
			return fmt.Errorf("report: tagged line: %w", err)
		}
		tagLine.Color = taggedColor
		tagLine.Width = vg.Points(1)
		p.Add(tagLine)
		p.Legend.Add("tagged state", tagLine)
	}
	p.Legend.Top = true

	wt, err := p.WriterTo(14*vg.Inch, 6*vg.Inch, format)
	if err != nil {
		return fmt.Errorf("report: %w", err)
	}
	_, err = wt.WriteTo(w)
	return err
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

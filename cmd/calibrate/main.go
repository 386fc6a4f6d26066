// Command calibrate fits MHPDT detector parameters to a recording of
// accelerations and prints the calibration result as JSON.
//
// Usage:
//
//	calibrate -input recording.csv [-start T] [-stop T] [-chart out.html] [-plot out.png]
//	calibrate -input recording.json -params params.json
//	calibrate -input recording.csv -export request.json
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/banshee-data/downtime.report/internal/accel"
	"github.com/banshee-data/downtime.report/internal/calibration"
	"github.com/banshee-data/downtime.report/internal/config"
	"github.com/banshee-data/downtime.report/internal/mhpdt"
	"github.com/banshee-data/downtime.report/internal/monitoring"
	"github.com/banshee-data/downtime.report/internal/report"
)

type options struct {
	input       string
	configPath  string
	paramsPath  string
	start, stop string
	chart       string
	plot        string
	export      string
	diagnostics bool
	quiet       bool
}

func parseFlags(args []string, stderr io.Writer) (*options, error) {
	fs := flag.NewFlagSet("calibrate", flag.ContinueOnError)
	fs.SetOutput(stderr)
	o := &options{}
	fs.StringVar(&o.input, "input", "", "Accelerations file: .csv (timestamp,x,y,z) or .json request body; - reads JSON from stdin")
	fs.StringVar(&o.configPath, "config", "", "Calibration config JSON")
	fs.StringVar(&o.paramsPath, "params", "", "Apply these model_params instead of calibrating")
	fs.StringVar(&o.start, "start", "", "Start of the calibration period (ISO-8601)")
	fs.StringVar(&o.stop, "stop", "", "End of the calibration period (ISO-8601)")
	fs.StringVar(&o.chart, "chart", "", "Write an HTML chart to this path")
	fs.StringVar(&o.plot, "plot", "", "Write a static plot to this path (.png, .svg or .pdf)")
	fs.StringVar(&o.export, "export", "", "Write the input as a calibration request JSON and exit")
	fs.BoolVar(&o.diagnostics, "diagnostics", false, "Include accuracy, BIC and optimiser history in the output")
	fs.BoolVar(&o.quiet, "quiet", false, "Suppress progress logging")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if o.input == "" {
		return nil, errors.New("-input is required")
	}
	return o, nil
}

func readSamples(path string, stdin io.Reader) ([]accel.Sample, error) {
	if path == "-" {
		return accel.DecodeRequest(stdin)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if strings.EqualFold(filepath.Ext(path), ".csv") {
		return accel.ReadCSV(f)
	}
	return accel.DecodeRequest(f)
}

func loadParams(path string) (mhpdt.Params, error) {
	p := mhpdt.DefaultParams()
	data, err := os.ReadFile(path)
	if err != nil {
		return p, err
	}
	// Accept either a bare parameter object or a calibration result.
	var wrapped struct {
		ModelParams json.RawMessage `json:"model_params"`
	}
	if err := json.Unmarshal(data, &wrapped); err == nil && len(wrapped.ModelParams) > 0 {
		data = wrapped.ModelParams
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("%w: %v", mhpdt.ErrInvalidParameter, err)
	}
	return p, nil
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return accel.ParseTimestamp(s)
}

type diagnostics struct {
	Result       calibration.Result `json:"result"`
	Accuracy     float64            `json:"accuracy"`
	HiddenStates int                `json:"hidden_states"`
	BIC          map[int]float64    `json:"bic"`
	Evaluations  []evaluation       `json:"evaluations"`
}

type evaluation struct {
	Params    mhpdt.Params `json:"params"`
	Objective float64      `json:"objective"`
}

type prediction struct {
	ModelParams  mhpdt.Params        `json:"model_params"`
	StateChanges []mhpdt.StateChange `json:"state_changes"`
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeFile(path string, render func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := render(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (o *options) writeReports(in report.Input) error {
	if o.chart != "" {
		err := writeFile(o.chart, func(w io.Writer) error { return report.Render(w, in, report.Options{}) })
		if err != nil {
			return err
		}
	}
	if o.plot != "" {
		err := writeFile(o.plot, func(w io.Writer) error {
			return report.WritePlot(w, in, filepath.Ext(o.plot), report.Options{})
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	o, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}
	if o.quiet {
		defer monitoring.Quiet()()
	}

	samples, err := readSamples(o.input, stdin)
	if err != nil {
		return fmt.Errorf("reading %s: %w", o.input, err)
	}
	if o.export != "" {
		return writeFile(o.export, func(w io.Writer) error { return accel.EncodeRequest(w, samples, "") })
	}

	from, err := parseTime(o.start)
	if err != nil {
		return err
	}
	to, err := parseTime(o.stop)
	if err != nil {
		return err
	}
	if !from.IsZero() || !to.IsZero() {
		if samples, err = accel.SelectRange(samples, from, to); err != nil {
			return err
		}
	}

	cfg := config.DefaultCalibrationConfig()
	if o.configPath != "" {
		if cfg, err = config.LoadCalibrationConfig(o.configPath); err != nil {
			return err
		}
	}
	pipeline := calibration.NewPipeline(calibration.OptionsFromConfig(cfg))

	if o.paramsPath != "" {
		params, err := loadParams(o.paramsPath)
		if err != nil {
			return err
		}
		pred, err := pipeline.Predict(samples, params)
		if err != nil {
			return err
		}
		if err := o.writeReports(report.Input{Title: "Prediction", Prediction: pred, Params: params}); err != nil {
			return err
		}
		return writeJSON(stdout, prediction{
			ModelParams:  params,
			StateChanges: mhpdt.StateChanges(pred.Timestamps, pred.StateFiltered),
		})
	}

	out, err := pipeline.Calibrate(ctx, samples)
	if err != nil {
		return err
	}
	err = o.writeReports(report.Input{
		Title:       "Calibration",
		Prediction:  out.Prediction,
		Params:      out.Result.ModelParams,
		Truth:       out.Tagging.Labels,
		Evaluations: out.Optimization.Evaluations,
	})
	if err != nil {
		return err
	}
	if !o.diagnostics {
		return writeJSON(stdout, out.Result)
	}
	d := diagnostics{
		Result:       out.Result,
		Accuracy:     out.Accuracy,
		HiddenStates: out.Tagging.States,
		BIC:          out.Tagging.BIC,
	}
	for _, e := range out.Optimization.Evaluations {
		d.Evaluations = append(d.Evaluations, evaluation{Params: pipeline.Options.Params(e.X), Objective: e.Fun})
	}
	return writeJSON(stdout, d)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		log.Fatalf("calibrate: %v", err)
	}
}

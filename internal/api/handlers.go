package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/banshee-data/downtime.report/internal/accel"
	"github.com/banshee-data/downtime.report/internal/calibration"
	"github.com/banshee-data/downtime.report/internal/db"
	"github.com/banshee-data/downtime.report/internal/httputil"
	"github.com/banshee-data/downtime.report/internal/mhpdt"
	"github.com/banshee-data/downtime.report/internal/monitoring"
	"github.com/banshee-data/downtime.report/internal/report"
)

// Journal status of runs that ended in an error.
const statusError = "ERROR"

// RunIDHeader carries the journal id of a calibration or prediction.
const RunIDHeader = "X-Run-ID"

type calibrationDiagnostics struct {
	RunID        string             `json:"run_id"`
	Result       calibration.Result `json:"result"`
	Accuracy     float64            `json:"accuracy"`
	HiddenStates int                `json:"hidden_states"`
	BIC          map[int]float64    `json:"bic"`
	Evaluations  []db.Evaluation    `json:"evaluations"`
	ElapsedMs    int64              `json:"elapsed_ms"`
}

type predictionResponse struct {
	RunID          string              `json:"run_id"`
	ModelType      string              `json:"model_type"`
	ModelParams    mhpdt.Params        `json:"model_params"`
	Samples        int                 `json:"samples"`
	ActiveFraction float64             `json:"active_fraction"`
	StateChanges   []mhpdt.StateChange `json:"state_changes"`
}

type runResponse struct {
	Run         *db.Run         `json:"run"`
	Evaluations []db.Evaluation `json:"evaluations"`
}

// readSamples decodes a CSV body when the content type is text/csv and the
// calibration JSON shape otherwise.
func (s *Server) readSamples(w http.ResponseWriter, r *http.Request) ([]accel.Sample, error) {
	body, err := s.readBody(w, r)
	if err != nil {
		return nil, err
	}
	if mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")); mt == "text/csv" {
		return accel.ReadCSV(bytes.NewReader(body))
	}
	return accel.DecodeRequest(bytes.NewReader(body))
}

// readBody reads the whole request body, failing with *http.MaxBytesError
// past MaxBodyBytes.
func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("reading request body: %w", err)
	}
	return body, nil
}

// parseRange reads the optional start and stop query parameters.
func parseRange(r *http.Request) (from, to time.Time, ranged bool, err error) {
	q := r.URL.Query()
	if v := q.Get("start"); v != "" {
		if from, err = accel.ParseTimestamp(v); err != nil {
			return
		}
		ranged = true
	}
	if v := q.Get("stop"); v != "" {
		if to, err = accel.ParseTimestamp(v); err != nil {
			return
		}
		ranged = true
	}
	return
}

func (s *Server) acquire(ctx context.Context) error {
	select {
	case s.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) release() { <-s.slots }

func (s *Server) handleCalibrate(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	run := &db.Run{ID: db.NewRunID(), Kind: db.KindCalibrate}
	w.Header().Set(RunIDHeader, run.ID)

	fail := func(err error) {
		run.Status = statusError
		run.Error = err.Error()
		run.Duration = time.Since(started)
		s.record(r.Context(), run, nil)
		writeError(w, err)
	}

	samples, err := s.readSamples(w, r)
	if err != nil {
		fail(err)
		return
	}
	run.SampleCount = len(samples)
	from, to, ranged, err := parseRange(r)
	if err != nil {
		fail(err)
		return
	}
	run.RangeStart, run.RangeStop = from, to

	ctx := r.Context()
	if s.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
	}
	if err := s.acquire(ctx); err != nil {
		fail(err)
		return
	}
	defer s.release()

	var out *calibration.Outcome
	if ranged {
		out, err = s.pipeline.CalibrateRange(ctx, samples, from, to)
	} else {
		out, err = s.pipeline.Calibrate(ctx, samples)
	}
	if err != nil {
		fail(err)
		return
	}

	score, accuracy := out.Result.Score, out.Accuracy
	run.Status = string(out.Result.Status)
	run.Score = &score
	run.Accuracy = &accuracy
	run.HiddenStates = out.Tagging.States
	run.Params, _ = json.Marshal(out.Result.ModelParams)
	run.Result, _ = json.Marshal(out.Result)
	run.Duration = time.Since(started)

	evals := s.evaluations(out)
	s.record(r.Context(), run, evals)
	s.recent.add(run.ID, report.Input{
		Title:       "Calibration " + run.ID,
		Prediction:  out.Prediction,
		Params:      out.Result.ModelParams,
		Truth:       out.Tagging.Labels,
		Evaluations: out.Optimization.Evaluations,
	})

	if ok, _ := strconv.ParseBool(r.URL.Query().Get("diagnostics")); ok {
		httputil.WriteJSONOK(w, calibrationDiagnostics{
			RunID:        run.ID,
			Result:       out.Result,
			Accuracy:     out.Accuracy,
			HiddenStates: out.Tagging.States,
			BIC:          out.Tagging.BIC,
			Evaluations:  evals,
			ElapsedMs:    run.Duration.Milliseconds(),
		})
		return
	}
	httputil.WriteJSONOK(w, out.Result)
}

func (s *Server) evaluations(out *calibration.Outcome) []db.Evaluation {
	evals := make([]db.Evaluation, len(out.Optimization.Evaluations))
	for i, e := range out.Optimization.Evaluations {
		params, _ := json.Marshal(s.pipeline.Options.Params(e.X))
		evals[i] = db.Evaluation{Call: i + 1, Params: params, Objective: e.Fun}
	}
	return evals
}

// record journals a run. Journal failures are logged, never returned to
// the caller.
func (s *Server) record(ctx context.Context, run *db.Run, evals []db.Evaluation) {
	if s.journal == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	if err := s.journal.InsertRun(ctx, run); err != nil {
		monitoring.Logf("journal: %v", err)
		return
	}
	if len(evals) > 0 {
		if err := s.journal.InsertEvaluations(ctx, run.ID, evals); err != nil {
			monitoring.Logf("journal: %v", err)
		}
	}
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	run := &db.Run{ID: db.NewRunID(), Kind: db.KindPredict}
	w.Header().Set(RunIDHeader, run.ID)

	fail := func(err error) {
		run.Status = statusError
		run.Error = err.Error()
		run.Duration = time.Since(started)
		s.record(r.Context(), run, nil)
		writeError(w, err)
	}

	data, err := s.readBody(w, r)
	if err != nil {
		fail(err)
		return
	}
	var body map[string]json.RawMessage
	if err := json.Unmarshal(data, &body); err != nil {
		fail(fmt.Errorf("%w: unable to load json: %v", accel.ErrSchema, err))
		return
	}
	params := mhpdt.DefaultParams()
	if raw, ok := body["model_params"]; ok {
		if err := json.Unmarshal(raw, &params); err != nil {
			fail(fmt.Errorf("%w: model_params: %v", mhpdt.ErrInvalidParameter, err))
			return
		}
	}
	raw, ok := body[accel.CalibrationDataKey]
	if !ok {
		fail(accel.ErrMissingData)
		return
	}
	samples, err := accel.DecodeSamples(raw)
	if err != nil {
		fail(err)
		return
	}
	run.SampleCount = len(samples)

	from, to, ranged, err := parseRange(r)
	if err != nil {
		fail(err)
		return
	}
	if ranged {
		run.RangeStart, run.RangeStop = from, to
		if samples, err = accel.SelectRange(samples, from, to); err != nil {
			fail(err)
			return
		}
	}

	pred, err := s.pipeline.Predict(samples, params)
	if err != nil {
		fail(err)
		return
	}

	active := 0
	for _, v := range pred.StateFiltered {
		if v {
			active++
		}
	}
	resp := predictionResponse{
		RunID:          run.ID,
		ModelType:      mhpdt.ModelType,
		ModelParams:    params,
		Samples:        len(pred.StateFiltered),
		ActiveFraction: float64(active) / float64(len(pred.StateFiltered)),
		StateChanges:   mhpdt.StateChanges(pred.Timestamps, pred.StateFiltered),
	}

	run.Status = "OK"
	run.Params, _ = json.Marshal(params)
	run.Result, _ = json.Marshal(resp)
	run.Duration = time.Since(started)
	s.record(r.Context(), run, nil)
	s.recent.add(run.ID, report.Input{Title: "Prediction " + run.ID, Prediction: pred, Params: params})

	httputil.WriteJSONOK(w, resp)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		httputil.WriteKindError(w, http.StatusNotFound, kindNotFound, "run journal disabled")
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			httputil.WriteKindError(w, http.StatusBadRequest, kindInvalidParameter, "limit must be a positive integer")
			return
		}
		limit = n
	}
	runs, err := s.journal.ListRuns(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if runs == nil {
		runs = []db.Run{}
	}
	httputil.WriteJSONOK(w, runs)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		httputil.WriteKindError(w, http.StatusNotFound, kindNotFound, "run journal disabled")
		return
	}
	id := mux.Vars(r)["id"]
	run, err := s.journal.GetRun(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	evals, err := s.journal.Evaluations(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if evals == nil {
		evals = []db.Evaluation{}
	}
	httputil.WriteJSONOK(w, runResponse{Run: run, Evaluations: evals})
}

func (s *Server) handleChart(w http.ResponseWriter, r *http.Request) {
	in, ok := s.recent.get(r.URL.Query().Get("run_id"))
	if !ok {
		httputil.WriteKindError(w, http.StatusNotFound, kindNotFound, "no recent run to chart")
		return
	}
	var buf bytes.Buffer
	if err := report.Render(&buf, in, s.opts.Chart); err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteHTML(w, http.StatusOK, buf.Bytes())
}

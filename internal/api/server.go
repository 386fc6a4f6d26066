// Package api serves the MHPDT calibration and prediction endpoints.
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/banshee-data/downtime.report/internal/calibration"
	"github.com/banshee-data/downtime.report/internal/db"
	"github.com/banshee-data/downtime.report/internal/httputil"
	"github.com/banshee-data/downtime.report/internal/monitoring"
	"github.com/banshee-data/downtime.report/internal/report"
	"github.com/banshee-data/downtime.report/internal/version"
)

// ANSI escape codes for request logging
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// Options configures a Server. Zero values select the defaults.
type Options struct {
	// MaxBodyBytes caps request bodies (default 64MB).
	MaxBodyBytes int64
	// Timeout bounds one calibration; the optimiser stops between
	// evaluations once it expires. Zero means no limit.
	Timeout time.Duration
	// MaxConcurrent limits simultaneous calibrations (default 1).
	MaxConcurrent int
	// RecentCharts is the number of outcomes kept for /api/mhpdt/chart.
	RecentCharts int
	Chart        report.Options
}

type Server struct {
	pipeline *calibration.Pipeline
	// journal is optional; nil disables run recording and the runs endpoints.
	journal *db.DB
	opts    Options
	slots   chan struct{}
	recent  *recentOutcomes
}

func NewServer(p *calibration.Pipeline, journal *db.DB, opts Options) *Server {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 64 << 20
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 1
	}
	if opts.RecentCharts <= 0 {
		opts.RecentCharts = 8
	}
	return &Server{
		pipeline: p,
		journal:  journal,
		opts:     opts,
		slots:    make(chan struct{}, opts.MaxConcurrent),
		recent:   newRecentOutcomes(opts.RecentCharts),
	}
}

// Router returns the API routes.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/api/mhpdt/calibrate", s.handleCalibrate).Methods(http.MethodPost)
	r.HandleFunc("/api/mhpdt/predict", s.handlePredict).Methods(http.MethodPost)
	r.HandleFunc("/api/mhpdt/runs", s.handleListRuns).Methods(http.MethodGet)
	r.HandleFunc("/api/mhpdt/runs/{id}", s.handleGetRun).Methods(http.MethodGet)
	r.HandleFunc("/api/mhpdt/chart", s.handleChart).Methods(http.MethodGet)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteJSONOK(w, map[string]string{"status": "ok", "version": version.Version})
	}).Methods(http.MethodGet)
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		httputil.MethodNotAllowed(w)
	})
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		httputil.NotFound(w, "not found")
	})
	return r
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

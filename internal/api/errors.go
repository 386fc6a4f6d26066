package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/banshee-data/downtime.report/internal/accel"
	"github.com/banshee-data/downtime.report/internal/db"
	"github.com/banshee-data/downtime.report/internal/features"
	"github.com/banshee-data/downtime.report/internal/httputil"
	"github.com/banshee-data/downtime.report/internal/mhpdt"
	"github.com/banshee-data/downtime.report/internal/monitoring"
	"github.com/banshee-data/downtime.report/internal/tagging"
)

// Error kinds reported in the "kind" field of error bodies.
const (
	kindSchema           = "schema"
	kindInsufficientData = "insufficient_data"
	kindDegenerate       = "degenerate_tagging"
	kindInvalidParameter = "invalid_parameter"
	kindTooLarge         = "too_large"
	kindTimeout          = "timeout"
	kindNotFound         = "not_found"
	kindInternal         = "internal"
)

// classify maps an error to its HTTP status and kind.
func classify(err error) (int, string) {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge, kindTooLarge
	case errors.Is(err, tagging.ErrDegenerateTagging):
		return http.StatusUnprocessableEntity, kindDegenerate
	case errors.Is(err, features.ErrInsufficientData):
		return http.StatusBadRequest, kindInsufficientData
	case errors.Is(err, accel.ErrSchema):
		return http.StatusBadRequest, kindSchema
	case errors.Is(err, mhpdt.ErrInvalidParameter):
		return http.StatusBadRequest, kindInvalidParameter
	case errors.Is(err, db.ErrInvalidRunID):
		return http.StatusBadRequest, kindInvalidParameter
	case errors.Is(err, db.ErrRunNotFound):
		return http.StatusNotFound, kindNotFound
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, kindTimeout
	default:
		return http.StatusInternalServerError, kindInternal
	}
}

func writeError(w http.ResponseWriter, err error) {
	status, kind := classify(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		monitoring.Logf("internal error: %v", err)
		msg = "internal error"
	}
	httputil.WriteKindError(w, status, kind, msg)
}

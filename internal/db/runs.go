package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	ErrRunNotFound  = errors.New("run not found")
	ErrInvalidRunID = errors.New("invalid run id")
)

// Run kinds.
const (
	KindCalibrate = "calibrate"
	KindPredict   = "predict"
)

// Run is one journal entry. Params and Result hold the JSON documents
// returned to the caller; Error is set instead of Result on failure.
type Run struct {
	ID           string          `json:"run_id"`
	Kind         string          `json:"kind"`
	CreatedAt    time.Time       `json:"created_at"`
	RangeStart   time.Time       `json:"range_start,omitzero"`
	RangeStop    time.Time       `json:"range_stop,omitzero"`
	SampleCount  int             `json:"sample_count"`
	Status       string          `json:"status"`
	Score        *float64        `json:"score,omitempty"`
	Accuracy     *float64        `json:"accuracy,omitempty"`
	HiddenStates int             `json:"hidden_states,omitempty"`
	Params       json.RawMessage `json:"params,omitempty"`
	Result       json.RawMessage `json:"result,omitempty"`
	Error        string          `json:"error,omitempty"`
	Duration     time.Duration   `json:"duration_ns"`
}

// Evaluation is one optimiser call of a calibration run.
type Evaluation struct {
	Call      int             `json:"call"`
	Params    json.RawMessage `json:"params"`
	Objective float64         `json:"objective"`
}

// NewRunID returns a fresh run identifier.
func NewRunID() string {
	return uuid.NewString()
}

func nullTime(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func nullText(b []byte) sql.NullString {
	if len(b) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}

// InsertRun records r, assigning an ID and creation time when unset.
func (db *DB) InsertRun(ctx context.Context, r *Run) error {
	if r.ID == "" {
		r.ID = NewRunID()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO calibration_runs (
			run_id, kind, created_unix_nanos, range_start_nanos, range_stop_nanos,
			sample_count, status, score, accuracy, hidden_states,
			params_json, result_json, error, duration_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Kind, r.CreatedAt.UnixNano(), nullTime(r.RangeStart), nullTime(r.RangeStop),
		r.SampleCount, r.Status, nullFloat(r.Score), nullFloat(r.Accuracy), r.HiddenStates,
		nullText(r.Params), nullText(r.Result), r.Error, r.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert run %s: %w", r.ID, err)
	}
	return nil
}

// InsertEvaluations records the optimiser history of a run.
func (db *DB) InsertEvaluations(ctx context.Context, runID string, evals []Evaluation) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO run_evaluations (run_id, call, params_json, objective) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range evals {
		if _, err := stmt.ExecContext(ctx, runID, e.Call, string(e.Params), e.Objective); err != nil {
			return fmt.Errorf("failed to insert evaluation %d of run %s: %w", e.Call, runID, err)
		}
	}
	return tx.Commit()
}

const runColumns = `run_id, kind, created_unix_nanos, range_start_nanos, range_stop_nanos,
	sample_count, status, score, accuracy, hidden_states,
	params_json, result_json, error, duration_ms`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var (
		r               Run
		created         int64
		start, stop     sql.NullInt64
		score, accuracy sql.NullFloat64
		hidden          sql.NullInt64
		params, result  sql.NullString
		errText         sql.NullString
		durationMs      int64
	)
	if err := row.Scan(&r.ID, &r.Kind, &created, &start, &stop,
		&r.SampleCount, &r.Status, &score, &accuracy, &hidden,
		&params, &result, &errText, &durationMs); err != nil {
		return nil, err
	}
	r.CreatedAt = time.Unix(0, created).UTC()
	if start.Valid {
		r.RangeStart = time.Unix(0, start.Int64).UTC()
	}
	if stop.Valid {
		r.RangeStop = time.Unix(0, stop.Int64).UTC()
	}
	if score.Valid {
		r.Score = &score.Float64
	}
	if accuracy.Valid {
		r.Accuracy = &accuracy.Float64
	}
	r.HiddenStates = int(hidden.Int64)
	if params.Valid {
		r.Params = json.RawMessage(params.String)
	}
	if result.Valid {
		r.Result = json.RawMessage(result.String)
	}
	r.Error = errText.String
	r.Duration = time.Duration(durationMs) * time.Millisecond
	return &r, nil
}

// GetRun returns the run with the given id.
func (db *DB) GetRun(ctx context.Context, id string) (*Run, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRunID, id)
	}
	row := db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM calibration_runs WHERE run_id = ?`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

// ListRuns returns up to limit runs, newest first.
func (db *DB) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM calibration_runs ORDER BY created_unix_nanos DESC, run_id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// Evaluations returns the optimiser history of a run in call order.
func (db *DB) Evaluations(ctx context.Context, runID string) ([]Evaluation, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT call, params_json, objective FROM run_evaluations WHERE run_id = ? ORDER BY call`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Evaluation
	for rows.Next() {
		var (
			e      Evaluation
			params string
		)
		if err := rows.Scan(&e.Call, &params, &e.Objective); err != nil {
			return nil, err
		}
		e.Params = json.RawMessage(params)
		out = append(out, e)
	}
	return out, rows.Err()
}

// DeleteRunsBefore prunes runs created before cutoff and their evaluations.
func (db *DB) DeleteRunsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := db.ExecContext(ctx,
		`DELETE FROM calibration_runs WHERE created_unix_nanos < ?`, cutoff.UnixNano())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

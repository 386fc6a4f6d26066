package accel

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/relvacode/iso8601"
)

// CalibrationDataKey is the JSON attribute carrying downtime calibration samples.
const CalibrationDataKey = "downTimeCalibrationData"

// ErrMissingData is returned when a request body has no calibration samples.
var ErrMissingData = fmt.Errorf("%w: %s missing from JSON body", ErrSchema, CalibrationDataKey)

type wireVector struct {
	X *float64 `json:"x"`
	Y *float64 `json:"y"`
	Z *float64 `json:"z"`
}

type wireSample struct {
	Timestamp    string      `json:"timestamp"`
	Acceleration *wireVector `json:"acceleration"`
}

// ParseTimestamp parses an ISO-8601 timestamp. Timestamps without an offset
// are interpreted as UTC.
func ParseTimestamp(s string) (time.Time, error) {
	if strings.TrimSpace(s) == "" {
		return time.Time{}, fmt.Errorf("%w: empty timestamp", ErrSchema)
	}
	t, err := iso8601.ParseString(strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: invalid timestamp %q: %v", ErrSchema, s, err)
	}
	return t, nil
}

// DecodeRequest reads a calibration request body of the form
// {"downTimeCalibrationData": [{"timestamp": ..., "acceleration": {"x":..,"y":..,"z":..}}]}.
func DecodeRequest(r io.Reader) ([]Sample, error) {
	var body map[string]json.RawMessage
	if err := json.NewDecoder(r).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: unable to load json: %w", ErrSchema, err)
	}
	raw, ok := body[CalibrationDataKey]
	if !ok || len(raw) == 0 || string(raw) == "null" {
		return nil, ErrMissingData
	}
	return DecodeSamples(raw)
}

// DecodeSamples decodes a JSON array of samples.
func DecodeSamples(data []byte) ([]Sample, error) {
	var wire []wireSample
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchema, err)
	}
	if len(wire) == 0 {
		return nil, ErrMissingData
	}

	samples := make([]Sample, len(wire))
	for i, w := range wire {
		ts, err := ParseTimestamp(w.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("sample %d: %w", i, err)
		}
		if w.Acceleration == nil || w.Acceleration.X == nil || w.Acceleration.Y == nil || w.Acceleration.Z == nil {
			return nil, fmt.Errorf("%w: sample %d is missing an acceleration axis", ErrSchema, i)
		}
		samples[i] = Sample{
			Timestamp: ts,
			Acceleration: Vector{
				X: *w.Acceleration.X,
				Y: *w.Acceleration.Y,
				Z: *w.Acceleration.Z,
			},
		}
	}
	if err := Validate(samples); err != nil {
		return nil, err
	}
	return samples, nil
}

// EncodeRequest writes samples in the calibration request shape under the
// given attribute (CalibrationDataKey when empty).
func EncodeRequest(w io.Writer, samples []Sample, attribute string) error {
	if attribute == "" {
		attribute = CalibrationDataKey
	}
	wire := make([]map[string]interface{}, len(samples))
	for i, s := range samples {
		wire[i] = map[string]interface{}{
			"timestamp":    s.Timestamp.UTC().Format(TimestampLayout),
			"acceleration": s.Acceleration,
		}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]interface{}{attribute: wire})
}

// ReadCSV reads the dashboard upload format: a header row naming at least
// timestamp, x, y and z columns (any order, extra columns ignored).
func ReadCSV(r io.Reader) ([]Sample, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty csv", ErrSchema)
		}
		return nil, fmt.Errorf("%w: reading csv header: %w", ErrSchema, err)
	}
	cols := map[string]int{}
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, required := range []string{"timestamp", "x", "y", "z"} {
		if _, ok := cols[required]; !ok {
			return nil, fmt.Errorf("%w: csv is missing column %q", ErrSchema, required)
		}
	}

	var samples []Sample
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: csv line %d: %w", ErrSchema, line, err)
		}
		ts, err := ParseTimestamp(rec[cols["timestamp"]])
		if err != nil {
			return nil, fmt.Errorf("csv line %d: %w", line, err)
		}
		var v [3]float64
		for axis, name := range []string{"x", "y", "z"} {
			v[axis], err = strconv.ParseFloat(strings.TrimSpace(rec[cols[name]]), 64)
			if err != nil {
				return nil, fmt.Errorf("%w: csv line %d column %s: %v", ErrSchema, line, name, err)
			}
		}
		samples = append(samples, Sample{Timestamp: ts, Acceleration: Vector{X: v[0], Y: v[1], Z: v[2]}})
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("%w: csv has no samples", ErrSchema)
	}
	if err := Validate(samples); err != nil {
		return nil, err
	}
	return samples, nil
}

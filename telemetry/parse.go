package telemetry

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"
)

const (
	// LogLayout is the timestamp format written by the battery logger.
	LogLayout  = "2006-01-02 15:04:05"
	DateLayout = "2006-01-02"

	missingMarker = "N/A"

	// maxRecordedErrors bounds ParseStats.FieldErrors, the per-column counts
	// keep going past it.
	maxRecordedErrors = 20
)

var timestampLayouts = []string{
	LogLayout,
	"2006-01-02T15:04:05",
	time.RFC3339,
	time.RFC3339Nano,
}

// ParseStats counts what the normalizer had to drop or null.
type ParseStats struct {
	Rows          int
	SkippedRows   int
	InvalidFields map[string]int
	UnknownCols   []string
	// FieldErrors holds the first nulled values with their row and reason.
	FieldErrors []FieldParseError `json:",omitempty"`
}

// Parsed is a normalized log.
type Parsed struct {
	Series Series
	Days   []string
	Stats  ParseStats
}

func newReader(r io.Reader) *csv.Reader {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	return reader
}

// ReadRaw returns the header and rows of a log as text, for showing a log
// that Parse rejects. Unreadable rows are left out.
func ReadRaw(r io.Reader) ([]string, [][]string, error) {
	reader := newReader(r)
	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read header: %w", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	var rows [][]string
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		var parseErr *csv.ParseError
		if errors.As(err, &parseErr) {
			continue
		}
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read log: %w", err)
		}
		rows = append(rows, record)
	}
	return header, rows, nil
}

// Parse reads a battery log CSV with a header row. Timestamps without a zone
// are read in loc, nil means local time.
func Parse(r io.Reader, loc *time.Location) (*Parsed, error) {
	if loc == nil {
		loc = time.Local
	}
	reader := newReader(r)

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, &SchemaError{Missing: TimestampColumn}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	tsCol := -1
	columns := make([]int, NumFields)
	for i := range columns {
		columns[i] = -1
	}
	stats := ParseStats{InvalidFields: map[string]int{}}
	for i, name := range header {
		name = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))
		header[i] = name
		if name == TimestampColumn {
			tsCol = i
			continue
		}
		if id, ok := Lookup(name); ok {
			columns[id] = i
		} else {
			stats.UnknownCols = append(stats.UnknownCols, name)
		}
	}
	if tsCol < 0 {
		return nil, &SchemaError{Missing: TimestampColumn, Header: header}
	}

	series := Series{}
	row := 1
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		row++
		var parseErr *csv.ParseError
		if errors.As(err, &parseErr) {
			stats.SkippedRows++
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read log: %w", err)
		}
		stats.Rows++
		if tsCol >= len(record) {
			stats.SkippedRows++
			continue
		}
		ts, err := ParseTimestamp(record[tsCol], loc)
		if err != nil {
			stats.SkippedRows++
			continue
		}

		sample := Sample{Timestamp: ts}
		for id := FieldID(0); id < NumFields; id++ {
			col := columns[id]
			if col < 0 || col >= len(record) {
				continue
			}
			v, perr := parseValue(fields[id], record[col])
			if perr != nil {
				perr.Row = row
				stats.InvalidFields[perr.Column]++
				if len(stats.FieldErrors) < maxRecordedErrors {
					stats.FieldErrors = append(stats.FieldErrors, *perr)
				}
			}
			sample.Values[id] = v
		}
		series = append(series, sample)
	}

	series.SortStable()
	return &Parsed{
		Series: series,
		Days:   series.Days(loc),
		Stats:  stats,
	}, nil
}

// ParseTimestamp accepts the logger's format and ISO variants.
func ParseTimestamp(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp '%s'", s)
}

// parseValue never fails the row, a bad value comes back as null with the
// reason attached.
func parseValue(f Field, raw string) (Value, *FieldParseError) {
	raw = strings.TrimSpace(raw)
	if f.Kind == KindBool {
		// The logger writes Python's True/False, and "N/A" with no battery.
		return BoolValue(raw == "True"), nil
	}
	if raw == "" || strings.EqualFold(raw, missingMarker) {
		return Null, nil
	}

	bad := func(reason string) (Value, *FieldParseError) {
		return Null, &FieldParseError{Column: f.Column, Value: raw, Reason: reason}
	}

	switch f.Kind {
	case KindCategory:
		return TextValue(raw), nil
	case KindDuration:
		secs, err := ParseHMS(raw)
		if err != nil {
			return bad(err.Error())
		}
		if float64(secs) > f.Max {
			return bad("implausible duration")
		}
		return NumberValue(float64(secs)), nil
	case KindNumber:
		n, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return bad("not a number")
		}
		return plausible(f, n)
	}
	return bad("unknown kind")
}

func plausible(f Field, n float64) (Value, *FieldParseError) {
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return Null, &FieldParseError{Column: f.Column, Value: strconv.FormatFloat(n, 'f', -1, 64), Reason: "not finite"}
	}
	if n < f.Min-negativeTolerance || n > f.Max {
		return Null, &FieldParseError{
			Column: f.Column,
			Value:  strconv.FormatFloat(n, 'f', -1, 64),
			Reason: fmt.Sprintf("outside plausible range [%g, %g]", f.Min, f.Max),
		}
	}
	if n < f.Min {
		n = f.Min
	}
	return NumberValue(n), nil
}

// ParseHMS converts "H:M:S" into seconds. Hours may exceed 24.
func ParseHMS(s string) (int, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("expected H:M:S, got '%s'", s)
	}
	var nums [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("bad H:M:S component '%s'", p)
		}
		nums[i] = n
	}
	if nums[1] >= 60 || nums[2] >= 60 {
		return 0, fmt.Errorf("minutes and seconds must be below 60 in '%s'", s)
	}
	return nums[0]*3600 + nums[1]*60 + nums[2], nil
}

// FormatHMS formats seconds the way the logger does, "N/A" for negative values.
func FormatHMS(secs int) string {
	if secs < 0 {
		return missingMarker
	}
	return fmt.Sprintf("%02d:%02d:%02d", secs/3600, (secs%3600)/60, secs%60)
}

package telemetry

import (
	"sort"
	"time"
)

// Value is one typed field of a sample. Invalid values are nulls.
type Value struct {
	Valid  bool
	Number float64 // KindNumber, and seconds for KindDuration
	Text   string  // KindCategory
	Flag   bool    // KindBool
}

// Null is the zero Value.
var Null = Value{}

func NumberValue(v float64) Value { return Value{Valid: true, Number: v} }
func TextValue(s string) Value    { return Value{Valid: true, Text: s} }
func BoolValue(b bool) Value      { return Value{Valid: true, Flag: b} }

// Sample is one timestamped telemetry record.
type Sample struct {
	Timestamp time.Time
	Values    [NumFields]Value
}

// Float returns a numeric or duration field.
func (s Sample) Float(id FieldID) (float64, bool) {
	v := s.Values[id]
	return v.Number, v.Valid
}

// Bool returns a boolean field.
func (s Sample) Bool(id FieldID) (bool, bool) {
	v := s.Values[id]
	return v.Flag, v.Valid
}

// Text returns a categorical field.
func (s Sample) Text(id FieldID) (string, bool) {
	v := s.Values[id]
	return v.Text, v.Valid
}

// Plugged reports the power_plugged flag, false when it is missing.
func (s Sample) Plugged() bool {
	return s.Values[PowerPlugged].Valid && s.Values[PowerPlugged].Flag
}

// Empty reports whether every field is null.
func (s Sample) Empty() bool {
	for _, v := range s.Values {
		if v.Valid {
			return false
		}
	}
	return true
}

// Series is a sequence of samples ordered by timestamp.
type Series []Sample

// SortStable orders samples by timestamp, keeping file order on ties.
func (s Series) SortStable() {
	sort.SliceStable(s, func(i, j int) bool {
		return s[i].Timestamp.Before(s[j].Timestamp)
	})
}

// Span is the time between the first and last sample.
func (s Series) Span() time.Duration {
	if len(s) < 2 {
		return 0
	}
	return s[len(s)-1].Timestamp.Sub(s[0].Timestamp)
}

// Days lists the distinct calendar days present in loc, as ISO dates in
// ascending order. A nil loc means local time.
func (s Series) Days(loc *time.Location) []string {
	if loc == nil {
		loc = time.Local
	}
	seen := map[string]bool{}
	days := []string{}
	for _, sample := range s {
		d := sample.Timestamp.In(loc).Format(DateLayout)
		if !seen[d] {
			seen[d] = true
			days = append(days, d)
		}
	}
	sort.Strings(days)
	return days
}

// Latest returns the last sample with a valid value for id.
func (s Series) Latest(id FieldID) (Sample, bool) {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i].Values[id].Valid {
			return s[i], true
		}
	}
	return Sample{}, false
}

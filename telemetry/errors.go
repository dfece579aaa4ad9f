package telemetry

import "fmt"

// SchemaError means the input cannot be resampled, callers should show it raw.
// Raw is the unparsed log when the caller that hit the error had it.
type SchemaError struct {
	Missing string
	Header  []string
	Raw     []byte
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("missing required column '%s' in header %v", e.Missing, e.Header)
}

// FieldParseError describes a single unparsable field. It is recovered as a
// null value and counted, never returned from Parse.
type FieldParseError struct {
	Row    int
	Column string
	Value  string
	Reason string
}

func (e *FieldParseError) Error() string {
	return fmt.Sprintf("row %d: column '%s' value '%s': %s", e.Row, e.Column, e.Value, e.Reason)
}

package resample

import "github.com/TheCacophonyProject/batterylog/telemetry"

// Policy is how a field's value is produced between two real samples.
type Policy int

const (
	// Interpolate blends linearly, falling back to Nearest when either end is
	// null or the jump between them is too large to trust.
	Interpolate Policy = iota
	// Nearest takes whichever real sample is closer in time.
	Nearest
	// Categorical carries the nearest value over, for text and flags.
	Categorical
)

func (p Policy) String() string {
	switch p {
	case Interpolate:
		return "interpolate"
	case Nearest:
		return "nearest"
	case Categorical:
		return "categorical"
	}
	return "unknown"
}

// PolicyTable holds one policy per telemetry field.
type PolicyTable [telemetry.NumFields]Policy

// Readings that jump in discrete steps; a blend would hide the step.
var sensitive = map[telemetry.FieldID]bool{
	telemetry.Health:     true,
	telemetry.Voltage:    true,
	telemetry.PowerDraw:  true,
	telemetry.CycleCount: true,
	telemetry.ChargeTime: true,
}

// DefaultPolicies derives the table from each field's kind.
func DefaultPolicies() PolicyTable {
	var table PolicyTable
	for _, f := range telemetry.Fields() {
		switch {
		case f.Kind == telemetry.KindCategory || f.Kind == telemetry.KindBool:
			table[f.ID] = Categorical
		case f.Kind == telemetry.KindDuration || sensitive[f.ID]:
			table[f.ID] = Nearest
		default:
			table[f.ID] = Interpolate
		}
	}
	return table
}

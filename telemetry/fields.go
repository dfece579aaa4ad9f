package telemetry

// Kind is how a column's text is interpreted.
type Kind int

const (
	KindNumber Kind = iota
	KindDuration
	KindCategory
	KindBool
)

func (k Kind) String() string {
	switch k {
	case KindNumber:
		return "number"
	case KindDuration:
		return "duration"
	case KindCategory:
		return "category"
	case KindBool:
		return "bool"
	}
	return "unknown"
}

// FieldID indexes Sample.Values. The order follows the columns written by the logger.
type FieldID int

const (
	Percentage FieldID = iota
	TimeLeft
	PowerPlugged
	ScriptRuntime
	CPUPercent
	RAMPercent
	DiskPercent
	BrightnessPercent
	NetworkActivity
	BatteryTemperature
	SystemTemperature
	ChargeTime
	ChargeStatus
	PowerDraw
	DrainRate
	Health
	Voltage
	LoadSeverity
	VoltageStatus
	CycleCount
	TopProcesses

	NumFields
)

// Field describes one column. Min and Max bound plausible numeric values,
// anything outside them is stored as null.
type Field struct {
	ID     FieldID
	Column string
	Kind   Kind
	Min    float64
	Max    float64
}

// negativeTolerance is how far below Min a reading may sit and still be
// clamped to Min rather than nulled.
const negativeTolerance = 0.5

var fields = [NumFields]Field{
	Percentage:         {Percentage, "percentage", KindNumber, 0, 100},
	TimeLeft:           {TimeLeft, "time_left_hms", KindDuration, 0, 7 * 24 * 3600},
	PowerPlugged:       {PowerPlugged, "power_plugged", KindBool, 0, 0},
	ScriptRuntime:      {ScriptRuntime, "script_runtime_hms", KindDuration, 0, 10 * 365 * 24 * 3600},
	CPUPercent:         {CPUPercent, "cpu_percent", KindNumber, 0, 100},
	RAMPercent:         {RAMPercent, "ram_percent", KindNumber, 0, 100},
	DiskPercent:        {DiskPercent, "disk_percent", KindNumber, 0, 100},
	BrightnessPercent:  {BrightnessPercent, "brightness_percent", KindNumber, 0, 100},
	NetworkActivity:    {NetworkActivity, "network_activity_mb", KindNumber, 0, 1e6},
	BatteryTemperature: {BatteryTemperature, "battery_temperature_c", KindNumber, -40, 120},
	SystemTemperature:  {SystemTemperature, "system_temperature_c", KindNumber, -40, 150},
	ChargeTime:         {ChargeTime, "charge_time_min", KindNumber, 0, 7 * 24 * 60},
	ChargeStatus:       {ChargeStatus, "charge_status", KindCategory, 0, 0},
	PowerDraw:          {PowerDraw, "power_draw_w", KindNumber, 0, 500},
	DrainRate:          {DrainRate, "battery_drain_rate_pct_per_hour", KindNumber, 0, 100},
	Health:             {Health, "battery_health_pct", KindNumber, 0, 150},
	Voltage:            {Voltage, "voltage_v", KindNumber, 0, 100},
	LoadSeverity:       {LoadSeverity, "load_severity", KindCategory, 0, 0},
	VoltageStatus:      {VoltageStatus, "voltage_status", KindCategory, 0, 0},
	CycleCount:         {CycleCount, "cycle_count", KindNumber, 0, 15000},
	TopProcesses:       {TopProcesses, "top_10_processes", KindCategory, 0, 0},
}

// TimestampColumn is the only column the normalizer requires.
const TimestampColumn = "timestamp"

// Fields returns the column schema in FieldID order.
func Fields() []Field {
	out := make([]Field, NumFields)
	copy(out, fields[:])
	return out
}

// Info returns the schema entry for id.
func (id FieldID) Info() Field {
	return fields[id]
}

func (id FieldID) String() string {
	if id < 0 || id >= NumFields {
		return "unknown"
	}
	return fields[id].Column
}

// Lookup finds a field by its column name.
func Lookup(column string) (FieldID, bool) {
	for _, f := range fields {
		if f.Column == column {
			return f.ID, true
		}
	}
	return 0, false
}

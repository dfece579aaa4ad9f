package export

import (
	"fmt"
	"io"

	"github.com/TheCacophonyProject/batterylog/pipeline"
	"github.com/TheCacophonyProject/batterylog/telemetry"
	"github.com/xuri/excelize/v2"
)

const (
	SeriesSheet    = "Series"
	AnomaliesSheet = "Anomalies"
	ChargingSheet  = "Charging"
	RawSheet       = "Raw"

	sheetTimeLayout = "2006-01-02 15:04:05"
)

func cellValue(f telemetry.Field, v telemetry.Value) interface{} {
	if !v.Valid {
		return nil
	}
	switch f.Kind {
	case telemetry.KindCategory:
		return v.Text
	case telemetry.KindBool:
		return v.Flag
	case telemetry.KindDuration:
		return telemetry.FormatHMS(int(v.Number))
	}
	return v.Number
}

func writeHeader(f *excelize.File, sheet string, headers []string, style int) error {
	row := make([]interface{}, len(headers))
	for i, h := range headers {
		row[i] = h
	}
	if err := f.SetSheetRow(sheet, "A1", &row); err != nil {
		return err
	}
	last, err := excelize.CoordinatesToCellName(len(headers), 1)
	if err != nil {
		return err
	}
	return f.SetCellStyle(sheet, "A1", last, style)
}

func writeRow(f *excelize.File, sheet string, n int, row []interface{}) error {
	cell, err := excelize.CoordinatesToCellName(1, n)
	if err != nil {
		return err
	}
	return f.SetSheetRow(sheet, cell, &row)
}

// WriteXLSX writes the resampled series, the anomalies and the charging
// intervals of r as a workbook. Gap points are rows with only a timestamp.
func WriteXLSX(w io.Writer, r *pipeline.Result) error {
	f := excelize.NewFile()
	defer f.Close()

	for _, sheet := range []string{SeriesSheet, AnomaliesSheet, ChargingSheet} {
		if _, err := f.NewSheet(sheet); err != nil {
			return fmt.Errorf("failed to create sheet: %w", err)
		}
	}
	f.DeleteSheet("Sheet1")

	headerStyle, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}

	fields := telemetry.Fields()
	headers := []string{telemetry.TimestampColumn}
	for _, fd := range fields {
		headers = append(headers, fd.Column)
	}
	if err := writeHeader(f, SeriesSheet, headers, headerStyle); err != nil {
		return err
	}
	for i, p := range r.Resampled {
		row := []interface{}{p.Timestamp.Format(sheetTimeLayout)}
		if !p.Gap {
			for _, fd := range fields {
				row = append(row, cellValue(fd, p.Values[fd.ID]))
			}
		}
		if err := writeRow(f, SeriesSheet, i+2, row); err != nil {
			return fmt.Errorf("failed to write series row %d: %w", i, err)
		}
	}

	if err := writeHeader(f, AnomaliesSheet, []string{
		"timestamp", "reason", "percentage", "delta", "rate_per_min", "baseline_per_min", "power_state_changed", "description",
	}, headerStyle); err != nil {
		return err
	}
	for i, e := range r.Anomalies {
		row := []interface{}{
			e.Timestamp.Format(sheetTimeLayout), string(e.Reason), e.Percentage, e.Delta,
			e.Rate, e.Baseline, e.PowerStateChanged, e.Reason.Description(),
		}
		if err := writeRow(f, AnomaliesSheet, i+2, row); err != nil {
			return fmt.Errorf("failed to write anomaly row %d: %w", i, err)
		}
	}

	if err := writeHeader(f, ChargingSheet, []string{"start", "end", "plugged", "samples"}, headerStyle); err != nil {
		return err
	}
	for i, iv := range r.Charging {
		row := []interface{}{
			r.Filtered[iv.Start].Timestamp.Format(sheetTimeLayout),
			r.Filtered[iv.End].Timestamp.Format(sheetTimeLayout),
			iv.Plugged, iv.Len(),
		}
		if err := writeRow(f, ChargingSheet, i+2, row); err != nil {
			return fmt.Errorf("failed to write charging row %d: %w", i, err)
		}
	}

	if idx, err := f.GetSheetIndex(SeriesSheet); err == nil {
		f.SetActiveSheet(idx)
	}
	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

// WriteRawXLSX writes header and rows as text to a single Raw sheet, for a
// log that could not be parsed.
func WriteRawXLSX(w io.Writer, header []string, rows [][]string) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", RawSheet); err != nil {
		return fmt.Errorf("failed to create sheet: %w", err)
	}
	headerStyle, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}
	if len(header) > 0 {
		if err := writeHeader(f, RawSheet, header, headerStyle); err != nil {
			return err
		}
	}
	for i, record := range rows {
		row := make([]interface{}, len(record))
		for j, v := range record {
			row[j] = v
		}
		if err := writeRow(f, RawSheet, i+2, row); err != nil {
			return fmt.Errorf("failed to write raw row %d: %w", i, err)
		}
	}
	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

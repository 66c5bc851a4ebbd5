package bloodpressure

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"github.com/ehr/bpcheck/pkg/bpclass"
)

const (
	XLSXContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

	readingsSheet = "Readings"
	summarySheet  = "Summary"
)

var exportHeader = []string{
	"Measured At", "Systolic", "Diastolic", "Heart Rate", "MAP", "Pulse Pressure",
	"Category", "Risk Level", "Urgent Care", "Emergency", "Source", "Note",
}

var exportColumnWidths = []float64{22, 10, 10, 11, 8, 14, 30, 12, 12, 11, 10, 30}

// ExportPatientReadings renders a patient's readings within [from, to] as an
// XLSX workbook: one assessed row per reading, oldest first, plus a trend
// summary sheet.
func (s *Service) ExportPatientReadings(ctx context.Context, patientID uuid.UUID, from, to time.Time) ([]byte, error) {
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		return nil, &ValidationError{Field: "to", Message: "must not be before from"}
	}
	readings, err := s.readings.ListByPatientBetween(ctx, patientID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list readings: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", readingsSheet); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}
	if _, err := f.NewSheet(summarySheet); err != nil {
		return nil, fmt.Errorf("create summary sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
		Border: []excelize.Border{
			{Type: "bottom", Color: "000000", Style: 1},
		},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return nil, fmt.Errorf("create header style: %w", err)
	}
	urgentStyle, err := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#FDE2E1"}, Pattern: 1},
	})
	if err != nil {
		return nil, fmt.Errorf("create urgent style: %w", err)
	}

	if err := f.SetSheetRow(readingsSheet, "A1", &exportHeader); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}
	lastCol, _ := excelize.ColumnNumberToName(len(exportHeader))
	if err := f.SetCellStyle(readingsSheet, "A1", lastCol+"1", headerStyle); err != nil {
		return nil, fmt.Errorf("style header: %w", err)
	}
	for i, w := range exportColumnWidths {
		col, _ := excelize.ColumnNumberToName(i + 1)
		if err := f.SetColWidth(readingsSheet, col, col, w); err != nil {
			return nil, fmt.Errorf("set column width: %w", err)
		}
	}

	measurements := make([]bpclass.Reading, len(readings))
	for i, r := range readings {
		measurements[i] = r.Measurement()
		res := s.StoredAssessment(r)
		cat, _ := bpclass.Lookup(res.Category)

		row := []interface{}{
			r.MeasuredAt.UTC().Format("2006-01-02 15:04:05"),
			r.Systolic, r.Diastolic, optionalInt(r.HeartRate),
			res.MAP, res.PulsePressure,
			cat.Name, res.Risk.String(), yesNo(res.RequiresUrgentCare), yesNo(res.IsEmergency),
			optionalString(r.Source), optionalString(r.Note),
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(readingsSheet, cell, &row); err != nil {
			return nil, fmt.Errorf("write row %d: %w", i+2, err)
		}
		if res.RequiresUrgentCare {
			end, _ := excelize.CoordinatesToCellName(len(exportHeader), i+2)
			if err := f.SetCellStyle(readingsSheet, cell, end, urgentStyle); err != nil {
				return nil, fmt.Errorf("style row %d: %w", i+2, err)
			}
		}
	}
	if err := f.SetPanes(readingsSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return nil, fmt.Errorf("freeze header: %w", err)
	}

	trend := s.analyzer.AnalyzeTrend(measurements)
	cat, _ := bpclass.Lookup(trend.Category)
	summary := [][]interface{}{
		{"Patient", patientID.String()},
		{"Readings", trend.ReadingCount},
		{"Average Systolic", trend.AverageSystolic},
		{"Average Diastolic", trend.AverageDiastolic},
		{"Category", cat.Name},
		{"Trend", trend.Trend.String()},
		{"Systolic Change", trend.SystolicChange},
		{"Diastolic Change", trend.DiastolicChange},
		{"Urgent Care Readings", trend.UrgentCareCount},
		{"Emergency Readings", trend.EmergencyCount},
		{"Description", trend.Description},
	}
	for i, row := range summary {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow(summarySheet, cell, &row); err != nil {
			return nil, fmt.Errorf("write summary: %w", err)
		}
	}
	if err := f.SetCellStyle(summarySheet, "A1", fmt.Sprintf("A%d", len(summary)), headerStyle); err != nil {
		return nil, fmt.Errorf("style summary: %w", err)
	}
	if err := f.SetColWidth(summarySheet, "A", "A", 22); err != nil {
		return nil, fmt.Errorf("set column width: %w", err)
	}
	if err := f.SetColWidth(summarySheet, "B", "B", 60); err != nil {
		return nil, fmt.Errorf("set column width: %w", err)
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func optionalInt(v *int) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func optionalString(v *string) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}

package bloodpressure

import (
	"time"

	"github.com/google/uuid"

	"github.com/ehr/bpcheck/pkg/bpclass"
)

// Reading maps to the bp_reading table.
type Reading struct {
	ID         uuid.UUID `db:"id" json:"id"`
	PatientID  uuid.UUID `db:"patient_id" json:"patient_id"`
	Systolic   int       `db:"systolic" json:"systolic"`
	Diastolic  int       `db:"diastolic" json:"diastolic"`
	HeartRate  *int      `db:"heart_rate" json:"heart_rate,omitempty"`
	MeasuredAt time.Time `db:"measured_at" json:"measured_at"`
	Source     *string   `db:"source" json:"source,omitempty"`
	Note       *string   `db:"note" json:"note,omitempty"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// Measurement converts the stored record into the classifier's input type.
func (r *Reading) Measurement() bpclass.Reading {
	return bpclass.Reading{
		ID:        r.ID.String(),
		Systolic:  r.Systolic,
		Diastolic: r.Diastolic,
		Timestamp: r.MeasuredAt,
	}
}

// AssessedReading pairs a stored reading with its assessment.
type AssessedReading struct {
	Reading    *Reading                 `json:"reading"`
	Assessment bpclass.AssessmentResult `json:"assessment"`
}

// PressureInput is the request body for the stateless classify and assess endpoints.
type PressureInput struct {
	Systolic  int `json:"systolic"`
	Diastolic int `json:"diastolic"`
}

// TrendInput is the request body for the stateless trend endpoint.
type TrendInput struct {
	Readings []bpclass.Reading `json:"readings"`
}

// Reading sources.
const (
	SourceManual = "manual"
	SourceDevice = "device"
	SourceFHIR   = "fhir"
)

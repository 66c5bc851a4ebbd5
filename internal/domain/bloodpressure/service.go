package bloodpressure

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/bpcheck/internal/platform/webhook"
	"github.com/ehr/bpcheck/pkg/bpclass"
)

// Plausibility bounds applied before a reading is stored. The classifier
// itself accepts any integers.
const (
	MaxSystolic  = 350
	MaxDiastolic = 250
	MaxHeartRate = 300
)

// ValidationError reports a rejected request field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Message)
}

// Notifier receives alert events for readings that need urgent care.
type Notifier interface {
	Enqueue(event webhook.Event) bool
}

// AssessmentRecorder observes every assessment the service computes.
type AssessmentRecorder interface {
	RecordAssessment(res bpclass.AssessmentResult)
}

type Service struct {
	readings ReadingRepository
	analyzer *bpclass.Analyzer
	logger   zerolog.Logger
	notifier Notifier
	recorder AssessmentRecorder
}

func NewService(readings ReadingRepository) *Service {
	return &Service{
		readings: readings,
		analyzer: bpclass.NewAnalyzer(),
		logger:   zerolog.Nop(),
	}
}

// SetLogger attaches a logger used for urgent-care and emergency events.
func (s *Service) SetLogger(l zerolog.Logger) {
	s.logger = l
}

func (s *Service) SetNotifier(n Notifier) {
	s.notifier = n
}

func (s *Service) SetRecorder(r AssessmentRecorder) {
	s.recorder = r
}

// SetAnalyzer replaces the default analyzer, e.g. to use another message catalog.
func (s *Service) SetAnalyzer(a *bpclass.Analyzer) {
	s.analyzer = a
}

// -- Stateless classification --

func (s *Service) Categories() []bpclass.Category {
	return bpclass.Categories()
}

func (s *Service) Classify(in PressureInput) bpclass.Category {
	return bpclass.Classify(in.Systolic, in.Diastolic)
}

func (s *Service) Assess(in PressureInput) bpclass.AssessmentResult {
	return s.analyze(in.Systolic, in.Diastolic)
}

func (s *Service) analyze(systolic, diastolic int) bpclass.AssessmentResult {
	res := s.analyzer.Analyze(systolic, diastolic)
	if s.recorder != nil {
		s.recorder.RecordAssessment(res)
	}
	return res
}

// StoredAssessment re-derives the assessment of a stored reading. Unlike
// Assess it is not reported to the recorder, so reads do not count as new
// assessments.
func (s *Service) StoredAssessment(r *Reading) bpclass.AssessmentResult {
	return s.analyzer.Analyze(r.Systolic, r.Diastolic)
}

func (s *Service) Trend(readings []bpclass.Reading) bpclass.TrendResult {
	return s.analyzer.AnalyzeTrend(readings)
}

// -- Stored readings --

func ValidatePressure(systolic, diastolic int) error {
	if systolic <= 0 || systolic > MaxSystolic {
		return &ValidationError{Field: "systolic", Message: fmt.Sprintf("must be between 1 and %d", MaxSystolic)}
	}
	if diastolic <= 0 || diastolic > MaxDiastolic {
		return &ValidationError{Field: "diastolic", Message: fmt.Sprintf("must be between 1 and %d", MaxDiastolic)}
	}
	return nil
}

func (s *Service) RecordReading(ctx context.Context, r *Reading) (*AssessedReading, error) {
	if r.PatientID == uuid.Nil {
		return nil, &ValidationError{Field: "patient_id", Message: "is required"}
	}
	if err := ValidatePressure(r.Systolic, r.Diastolic); err != nil {
		return nil, err
	}
	if r.HeartRate != nil && (*r.HeartRate <= 0 || *r.HeartRate > MaxHeartRate) {
		return nil, &ValidationError{Field: "heart_rate", Message: fmt.Sprintf("must be between 1 and %d", MaxHeartRate)}
	}
	if r.Source != nil {
		switch *r.Source {
		case SourceManual, SourceDevice, SourceFHIR:
		default:
			return nil, &ValidationError{Field: "source", Message: "must be manual, device, or fhir"}
		}
	}
	if r.MeasuredAt.IsZero() {
		r.MeasuredAt = time.Now().UTC()
	}

	if err := s.readings.Create(ctx, r); err != nil {
		return nil, fmt.Errorf("create reading: %w", err)
	}

	res := s.analyze(r.Systolic, r.Diastolic)
	if res.RequiresUrgentCare {
		evt := s.logger.Warn()
		if res.IsEmergency {
			evt = s.logger.Error()
		}
		evt.Str("reading_id", r.ID.String()).
			Str("patient_id", r.PatientID.String()).
			Str("category", res.Category.String()).
			Int("systolic", r.Systolic).
			Int("diastolic", r.Diastolic).
			Bool("emergency", res.IsEmergency).
			Msg("reading requires urgent care")
	}
	assessed := &AssessedReading{Reading: r, Assessment: res}
	if res.RequiresUrgentCare && s.notifier != nil {
		s.alert(assessed)
	}
	return assessed, nil
}

func (s *Service) alert(a *AssessedReading) {
	eventType := webhook.EventReadingUrgent
	if a.Assessment.IsEmergency {
		eventType = webhook.EventReadingEmergency
	}
	evt, err := webhook.NewEvent(eventType, "BloodPressureReading", a.Reading.ID.String(), a)
	if err != nil {
		s.logger.Error().Err(err).Str("reading_id", a.Reading.ID.String()).Msg("failed to build alert event")
		return
	}
	if !s.notifier.Enqueue(evt) {
		s.logger.Warn().Str("reading_id", a.Reading.ID.String()).Str("event_type", eventType).Msg("alert not queued")
	}
}

func (s *Service) GetReading(ctx context.Context, id uuid.UUID) (*AssessedReading, error) {
	r, err := s.readings.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return &AssessedReading{Reading: r, Assessment: s.StoredAssessment(r)}, nil
}

func (s *Service) DeleteReading(ctx context.Context, id uuid.UUID) error {
	return s.readings.Delete(ctx, id)
}

func (s *Service) ListReadings(ctx context.Context, limit, offset int) ([]*Reading, int, error) {
	return s.readings.List(ctx, limit, offset)
}

func (s *Service) ListReadingsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Reading, int, error) {
	return s.readings.ListByPatient(ctx, patientID, limit, offset)
}

// PatientTrend analyzes every stored reading of a patient within [from, to].
func (s *Service) PatientTrend(ctx context.Context, patientID uuid.UUID, from, to time.Time) (bpclass.TrendResult, error) {
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		return bpclass.TrendResult{}, &ValidationError{Field: "to", Message: "must not be before from"}
	}
	readings, err := s.readings.ListByPatientBetween(ctx, patientID, from, to)
	if err != nil {
		return bpclass.TrendResult{}, fmt.Errorf("list readings: %w", err)
	}
	measurements := make([]bpclass.Reading, len(readings))
	for i, r := range readings {
		measurements[i] = r.Measurement()
	}
	return s.analyzer.AnalyzeTrend(measurements), nil
}

// Healthy pings the underlying store.
func (s *Service) Healthy(ctx context.Context) error {
	return s.readings.Ping(ctx)
}

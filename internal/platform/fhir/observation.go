package fhir

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/ehr/bpcheck/pkg/bpclass"
)

const (
	LOINCSystem           = "http://loinc.org"
	UCUMSystem            = "http://unitsofmeasure.org"
	ObservationCategories = "http://terminology.hl7.org/CodeSystem/observation-category"
	InterpretationSystem  = "http://terminology.hl7.org/CodeSystem/v3-ObservationInterpretation"

	LOINCBloodPressurePanel   = "85354-9"
	LOINCSystolic             = "8480-6"
	LOINCDiastolic            = "8462-4"
	LOINCMeanArterialPressure = "8478-0"
)

// Observation is the subset of the FHIR R4 Observation resource needed to
// carry a blood pressure panel.
type Observation struct {
	ResourceType      string                 `json:"resourceType"`
	ID                string                 `json:"id,omitempty"`
	Status            string                 `json:"status,omitempty"`
	Category          []CodeableConcept      `json:"category,omitempty"`
	Code              CodeableConcept        `json:"code"`
	Subject           *Reference             `json:"subject,omitempty"`
	EffectiveDateTime string                 `json:"effectiveDateTime,omitempty"`
	Interpretation    []CodeableConcept      `json:"interpretation,omitempty"`
	Component         []ObservationComponent `json:"component,omitempty"`
}

type ObservationComponent struct {
	Code           CodeableConcept   `json:"code"`
	ValueQuantity  *Quantity         `json:"valueQuantity,omitempty"`
	Interpretation []CodeableConcept `json:"interpretation,omitempty"`
}

// ObservationError describes why an Observation could not be read as a
// blood pressure measurement. Expression is a FHIRPath to the element.
type ObservationError struct {
	Expression string
	Message    string
}

func (e *ObservationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Expression, e.Message)
}

// ParseObservations decodes a single Observation or a Bundle of them and
// reports which of the two it was. Non-Observation bundle entries are skipped.
func ParseObservations(data []byte) (observations []*Observation, bundle bool, err error) {
	var head struct {
		ResourceType string `json:"resourceType"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, false, fmt.Errorf("decode resource: %w", err)
	}

	switch head.ResourceType {
	case "Observation":
		var obs Observation
		if err := json.Unmarshal(data, &obs); err != nil {
			return nil, false, fmt.Errorf("decode Observation: %w", err)
		}
		return []*Observation{&obs}, false, nil
	case "Bundle":
		var b Bundle
		if err := json.Unmarshal(data, &b); err != nil {
			return nil, false, fmt.Errorf("decode Bundle: %w", err)
		}
		var out []*Observation
		for i, e := range b.Entry {
			if len(e.Resource) == 0 {
				continue
			}
			if err := json.Unmarshal(e.Resource, &head); err != nil {
				return nil, false, fmt.Errorf("decode Bundle.entry[%d]: %w", i, err)
			}
			if head.ResourceType != "Observation" {
				continue
			}
			var obs Observation
			if err := json.Unmarshal(e.Resource, &obs); err != nil {
				return nil, false, fmt.Errorf("decode Bundle.entry[%d]: %w", i, err)
			}
			out = append(out, &obs)
		}
		return out, true, nil
	default:
		return nil, false, &ObservationError{Expression: "resourceType", Message: fmt.Sprintf("expected Observation or Bundle, got %q", head.ResourceType)}
	}
}

// IsBloodPressure reports whether obs is coded as the LOINC blood pressure panel.
func IsBloodPressure(obs *Observation) bool {
	return obs != nil && obs.Code.HasCode(LOINCBloodPressurePanel)
}

// ReadingFromObservation extracts systolic, diastolic and effective time from
// a blood pressure panel. Component values are rounded to whole mmHg.
func ReadingFromObservation(obs *Observation) (bpclass.Reading, error) {
	if !IsBloodPressure(obs) {
		return bpclass.Reading{}, &ObservationError{Expression: "Observation.code", Message: "not a blood pressure panel (LOINC " + LOINCBloodPressurePanel + ")"}
	}

	sys, ok := componentValue(obs, LOINCSystolic)
	if !ok {
		return bpclass.Reading{}, &ObservationError{Expression: "Observation.component", Message: "missing systolic component (LOINC " + LOINCSystolic + ")"}
	}
	dia, ok := componentValue(obs, LOINCDiastolic)
	if !ok {
		return bpclass.Reading{}, &ObservationError{Expression: "Observation.component", Message: "missing diastolic component (LOINC " + LOINCDiastolic + ")"}
	}

	r := bpclass.Reading{
		ID:        obs.ID,
		Systolic:  int(math.Round(sys)),
		Diastolic: int(math.Round(dia)),
	}
	if obs.EffectiveDateTime != "" {
		ts, err := parseFlexDate(obs.EffectiveDateTime)
		if err != nil {
			return bpclass.Reading{}, &ObservationError{Expression: "Observation.effectiveDateTime", Message: err.Error()}
		}
		r.Timestamp = ts
	}
	return r, nil
}

func componentValue(obs *Observation, code string) (float64, bool) {
	for _, c := range obs.Component {
		if c.Code.HasCode(code) && c.ValueQuantity != nil && c.ValueQuantity.Value != nil {
			return *c.ValueQuantity.Value, true
		}
	}
	return 0, false
}

// parseFlexDate accepts the FHIR dateTime precisions we expect from devices.
func parseFlexDate(s string) (time.Time, error) {
	layouts := []string{
		time.RFC3339Nano,
		"2006-01-02T15:04:05",
		"2006-01-02",
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable dateTime %q", s)
}

// NewBloodPressureObservation builds a final vital-signs blood pressure panel.
func NewBloodPressureObservation(r bpclass.Reading, subject string) *Observation {
	obs := &Observation{
		ResourceType: "Observation",
		ID:           r.ID,
		Status:       "final",
		Category: []CodeableConcept{{
			Coding: []Coding{{System: ObservationCategories, Code: "vital-signs", Display: "Vital Signs"}},
		}},
		Code: CodeableConcept{
			Coding: []Coding{{System: LOINCSystem, Code: LOINCBloodPressurePanel, Display: "Blood pressure panel with all children optional"}},
			Text:   "Blood pressure",
		},
		Component: []ObservationComponent{
			mmHgComponent(LOINCSystolic, "Systolic blood pressure", r.Systolic),
			mmHgComponent(LOINCDiastolic, "Diastolic blood pressure", r.Diastolic),
		},
	}
	if subject != "" {
		obs.Subject = &Reference{Reference: subject}
	}
	if !r.Timestamp.IsZero() {
		obs.EffectiveDateTime = r.Timestamp.UTC().Format(time.RFC3339)
	}
	return obs
}

func mmHgComponent(code, display string, value int) ObservationComponent {
	v := float64(value)
	return ObservationComponent{
		Code:          CodeableConcept{Coding: []Coding{{System: LOINCSystem, Code: code, Display: display}}},
		ValueQuantity: &Quantity{Value: &v, Unit: "mmHg", System: UCUMSystem, Code: "mm[Hg]"},
	}
}

// Interpret annotates obs with the assessment: an overall interpretation for
// the category, and derived MAP and pulse pressure components with their own
// interpretations. Previously derived components are replaced.
func Interpret(obs *Observation, res bpclass.AssessmentResult) {
	cat, _ := bpclass.Lookup(res.Category)
	overall := CategoryInterpretation(res)
	overall.Text = cat.Name
	obs.Interpretation = []CodeableConcept{overall}

	kept := obs.Component[:0]
	for _, c := range obs.Component {
		if c.Code.HasCode(LOINCMeanArterialPressure) || c.Code.Text == pulsePressureText {
			continue
		}
		kept = append(kept, c)
	}
	obs.Component = kept

	meanAP := mmHgComponent(LOINCMeanArterialPressure, "Mean blood pressure", res.MAP)
	meanAP.Interpretation = []CodeableConcept{statusInterpretation(res.MAPStatus)}

	pp := float64(res.PulsePressure)
	pulse := ObservationComponent{
		Code:           CodeableConcept{Text: pulsePressureText},
		ValueQuantity:  &Quantity{Value: &pp, Unit: "mmHg", System: UCUMSystem, Code: "mm[Hg]"},
		Interpretation: []CodeableConcept{statusInterpretation(res.PulsePressureStatus)},
	}
	obs.Component = append(obs.Component, meanAP, pulse)
}

const pulsePressureText = "Pulse pressure"

// CategoryInterpretation maps an assessment onto the v3 interpretation codes:
// L for hypotension, N for low risk, H for moderate and high risk, HH above.
func CategoryInterpretation(res bpclass.AssessmentResult) CodeableConcept {
	var coding Coding
	switch {
	case res.Category == bpclass.Hypotension:
		coding = Coding{System: InterpretationSystem, Code: "L", Display: "Low"}
	case res.Risk >= bpclass.RiskVeryHigh:
		coding = Coding{System: InterpretationSystem, Code: "HH", Display: "Critical high"}
	case res.Risk >= bpclass.RiskModerate:
		coding = Coding{System: InterpretationSystem, Code: "H", Display: "High"}
	default:
		coding = Coding{System: InterpretationSystem, Code: "N", Display: "Normal"}
	}
	return CodeableConcept{Coding: []Coding{coding}}
}

func statusInterpretation(s bpclass.MetricStatus) CodeableConcept {
	switch s {
	case bpclass.StatusLow:
		return CodeableConcept{Coding: []Coding{{System: InterpretationSystem, Code: "L", Display: "Low"}}}
	case bpclass.StatusHigh:
		return CodeableConcept{Coding: []Coding{{System: InterpretationSystem, Code: "H", Display: "High"}}}
	default:
		return CodeableConcept{Coding: []Coding{{System: InterpretationSystem, Code: "N", Display: "Normal"}}}
	}
}

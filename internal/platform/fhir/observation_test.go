package fhir

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ehr/bpcheck/pkg/bpclass"
)

const bpObservationJSON = `{
  "resourceType": "Observation",
  "id": "bp-1",
  "status": "final",
  "code": {"coding": [{"system": "http://loinc.org", "code": "85354-9"}]},
  "subject": {"reference": "Patient/123"},
  "effectiveDateTime": "2024-05-01T08:30:00Z",
  "component": [
    {"code": {"coding": [{"system": "http://loinc.org", "code": "8480-6"}]}, "valueQuantity": {"value": 120.4, "unit": "mmHg"}},
    {"code": {"coding": [{"system": "http://loinc.org", "code": "8462-4"}]}, "valueQuantity": {"value": 79.6, "unit": "mmHg"}}
  ]
}`

func TestParseObservations_Single(t *testing.T) {
	obs, isBundle, err := ParseObservations([]byte(bpObservationJSON))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if isBundle {
		t.Error("single resource reported as bundle")
	}
	if len(obs) != 1 || obs[0].ID != "bp-1" {
		t.Fatalf("expected observation bp-1, got %+v", obs)
	}
}

func TestParseObservations_Bundle(t *testing.T) {
	body := `{"resourceType":"Bundle","type":"collection","entry":[
		{"resource":` + bpObservationJSON + `},
		{"resource":{"resourceType":"Patient","id":"123"}},
		{"fullUrl":"urn:uuid:empty"}
	]}`

	obs, isBundle, err := ParseObservations([]byte(body))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !isBundle {
		t.Error("expected bundle flag")
	}
	if len(obs) != 1 {
		t.Fatalf("expected 1 observation (Patient skipped), got %d", len(obs))
	}
}

func TestParseObservations_WrongResourceType(t *testing.T) {
	_, _, err := ParseObservations([]byte(`{"resourceType":"Patient"}`))
	var oerr *ObservationError
	if !errors.As(err, &oerr) {
		t.Fatalf("expected ObservationError, got %v", err)
	}
	if oerr.Expression != "resourceType" {
		t.Errorf("expected expression resourceType, got %q", oerr.Expression)
	}
}

func TestParseObservations_InvalidJSON(t *testing.T) {
	_, _, err := ParseObservations([]byte(`{not json`))
	if err == nil {
		t.Fatal("expected decode error")
	}
	var oerr *ObservationError
	if errors.As(err, &oerr) {
		t.Error("decode failures should not be ObservationError")
	}
}

func TestReadingFromObservation(t *testing.T) {
	obs, _, err := ParseObservations([]byte(bpObservationJSON))
	if err != nil {
		t.Fatal(err)
	}

	r, err := ReadingFromObservation(obs[0])
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Systolic != 120 || r.Diastolic != 80 {
		t.Errorf("expected 120/80 after rounding, got %d/%d", r.Systolic, r.Diastolic)
	}
	if r.ID != "bp-1" {
		t.Errorf("expected id bp-1, got %q", r.ID)
	}
	want := time.Date(2024, 5, 1, 8, 30, 0, 0, time.UTC)
	if !r.Timestamp.Equal(want) {
		t.Errorf("expected timestamp %v, got %v", want, r.Timestamp)
	}
}

func TestReadingFromObservation_Errors(t *testing.T) {
	tests := []struct {
		name       string
		mutate     func(*Observation)
		expression string
	}{
		{"not a bp panel", func(o *Observation) { o.Code = CodeableConcept{Coding: []Coding{{Code: "8867-4"}}} }, "Observation.code"},
		{"missing diastolic", func(o *Observation) { o.Component = o.Component[:1] }, "Observation.component"},
		{"missing systolic value", func(o *Observation) { o.Component[0].ValueQuantity = nil }, "Observation.component"},
		{"bad date", func(o *Observation) { o.EffectiveDateTime = "yesterday" }, "Observation.effectiveDateTime"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obs, _, err := ParseObservations([]byte(bpObservationJSON))
			if err != nil {
				t.Fatal(err)
			}
			tt.mutate(obs[0])

			_, err = ReadingFromObservation(obs[0])
			var oerr *ObservationError
			if !errors.As(err, &oerr) {
				t.Fatalf("expected ObservationError, got %v", err)
			}
			if oerr.Expression != tt.expression {
				t.Errorf("expected expression %q, got %q", tt.expression, oerr.Expression)
			}
		})
	}
}

func TestParseFlexDate(t *testing.T) {
	for _, in := range []string{"2024-05-01T08:30:00.123+02:00", "2024-05-01T08:30:00", "2024-05-01"} {
		if _, err := parseFlexDate(in); err != nil {
			t.Errorf("parseFlexDate(%q): %v", in, err)
		}
	}
	if _, err := parseFlexDate("05/01/2024"); err == nil {
		t.Error("expected error for US date format")
	}
}

func TestNewBloodPressureObservation_RoundTrip(t *testing.T) {
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	obs := NewBloodPressureObservation(bpclass.Reading{ID: "r1", Systolic: 142, Diastolic: 91, Timestamp: ts}, "Patient/abc")

	if obs.Subject == nil || obs.Subject.Reference != "Patient/abc" {
		t.Errorf("unexpected subject %+v", obs.Subject)
	}
	if obs.EffectiveDateTime != "2024-01-02T03:04:05Z" {
		t.Errorf("unexpected effectiveDateTime %q", obs.EffectiveDateTime)
	}

	r, err := ReadingFromObservation(obs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Systolic != 142 || r.Diastolic != 91 || !r.Timestamp.Equal(ts) {
		t.Errorf("round trip mismatch: %+v", r)
	}
}

func TestCategoryInterpretation(t *testing.T) {
	tests := []struct {
		systolic, diastolic int
		want                string
	}{
		{115, 75, "N"},   // optimal
		{125, 82, "N"},   // normal
		{132, 86, "H"},   // high-normal
		{150, 95, "H"},   // grade 1
		{145, 70, "H"},   // isolated systolic
		{185, 115, "HH"}, // grade 3
		{230, 100, "HH"}, // crisis
		{85, 55, "L"},    // hypotension
	}

	for _, tt := range tests {
		res := bpclass.Analyze(tt.systolic, tt.diastolic)
		got := CategoryInterpretation(res)
		if len(got.Coding) != 1 || got.Coding[0].Code != tt.want {
			t.Errorf("%d/%d: expected %s, got %+v", tt.systolic, tt.diastolic, tt.want, got.Coding)
		}
		if got.Coding[0].System != InterpretationSystem {
			t.Errorf("unexpected system %q", got.Coding[0].System)
		}
	}
}

func TestInterpret(t *testing.T) {
	obs := NewBloodPressureObservation(bpclass.Reading{Systolic: 120, Diastolic: 80}, "")
	res := bpclass.Analyze(120, 80)

	// Applying twice must not duplicate derived components.
	Interpret(obs, res)
	Interpret(obs, res)

	if len(obs.Component) != 4 {
		t.Fatalf("expected 4 components (sys, dia, MAP, pulse pressure), got %d", len(obs.Component))
	}
	if len(obs.Interpretation) != 1 || obs.Interpretation[0].Text != "Normal" {
		t.Errorf("unexpected interpretation %+v", obs.Interpretation)
	}

	meanAP := obs.Component[2]
	if !meanAP.Code.HasCode(LOINCMeanArterialPressure) {
		t.Errorf("expected MAP component, got %+v", meanAP.Code)
	}
	if *meanAP.ValueQuantity.Value != 93 {
		t.Errorf("expected MAP 93, got %v", *meanAP.ValueQuantity.Value)
	}
	pulse := obs.Component[3]
	if pulse.Code.Text != "Pulse pressure" || *pulse.ValueQuantity.Value != 40 {
		t.Errorf("unexpected pulse pressure component %+v", pulse)
	}
	if pulse.Interpretation[0].Coding[0].Code != "N" {
		t.Errorf("expected normal pulse pressure, got %+v", pulse.Interpretation)
	}

	raw, err := json.Marshal(obs)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(raw), `"code":"mm[Hg]"`) {
		t.Errorf("expected UCUM mm[Hg] units in %s", raw)
	}
}

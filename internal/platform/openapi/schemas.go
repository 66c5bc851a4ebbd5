package openapi

import (
	"github.com/ehr/bpcheck/pkg/bpclass"
)

func buildComponentSchemas() map[string]interface{} {
	return map[string]interface{}{
		// classification
		"Range":            buildRangeSchema(),
		"Category":         buildCategorySchema(),
		"PressureInput":    buildPressureInputSchema(),
		"AssessmentResult": buildAssessmentSchema(),
		"TrendReading":     buildTrendReadingSchema(),
		"TrendInput":       object(map[string]interface{}{"readings": arrayOf("TrendReading")}, "readings"),
		"TrendResult":      buildTrendResultSchema(),

		// stored readings
		"Reading":         buildReadingSchema(),
		"AssessedReading": object(map[string]interface{}{"reading": ref("Reading"), "assessment": ref("AssessmentResult")}),
		"ReadingPage":     buildReadingPageSchema(),

		// FHIR
		"Coding":           buildCodingSchema(),
		"CodeableConcept":  object(map[string]interface{}{"coding": arrayOf("Coding"), "text": str()}),
		"Quantity":         buildQuantitySchema(),
		"Reference":        object(map[string]interface{}{"reference": str(), "type": str(), "display": str()}),
		"Observation":      buildObservationSchema(),
		"Bundle":           buildBundleSchema(),
		"OperationOutcome": buildOperationOutcomeSchema(),
	}
}

func object(props map[string]interface{}, required ...string) map[string]interface{} {
	s := map[string]interface{}{"type": "object", "properties": props}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func str() map[string]interface{}     { return map[string]interface{}{"type": "string"} }
func integer() map[string]interface{} { return map[string]interface{}{"type": "integer"} }
func number() map[string]interface{}  { return map[string]interface{}{"type": "number"} }
func boolean() map[string]interface{} { return map[string]interface{}{"type": "boolean"} }

func dateTime() map[string]interface{} {
	return map[string]interface{}{"type": "string", "format": "date-time"}
}

func uuidString() map[string]interface{} {
	return map[string]interface{}{"type": "string", "format": "uuid"}
}

func enum(values []string) map[string]interface{} {
	return map[string]interface{}{"type": "string", "enum": values}
}

// ── Enumerations ────────────────────────────────────────────────────────

func categoryCodes() []string {
	cats := bpclass.Categories()
	out := make([]string, len(cats))
	for i, c := range cats {
		out[i] = c.Code.String()
	}
	return out
}

func riskLevels() []string {
	var out []string
	for r := bpclass.RiskLow; r <= bpclass.RiskCritical; r++ {
		out = append(out, r.String())
	}
	return out
}

func metricStatuses() []string {
	return []string{bpclass.StatusLow.String(), bpclass.StatusNormal.String(), bpclass.StatusHigh.String()}
}

func trendDirections() []string {
	var out []string
	for d := bpclass.TrendInsufficientData; d <= bpclass.TrendWorsening; d++ {
		out = append(out, d.String())
	}
	return out
}

// ── Classification schemas ──────────────────────────────────────────────

func buildRangeSchema() map[string]interface{} {
	return object(map[string]interface{}{"min": integer(), "max": integer()}, "min", "max")
}

func buildCategorySchema() map[string]interface{} {
	return object(map[string]interface{}{
		"code":            enum(categoryCodes()),
		"name":            str(),
		"systolic":        ref("Range"),
		"diastolic":       ref("Range"),
		"risk_level":      enum(riskLevels()),
		"description":     str(),
		"recommendations": map[string]interface{}{"type": "array", "items": str()},
	}, "code", "name", "risk_level")
}

func buildPressureInputSchema() map[string]interface{} {
	return object(map[string]interface{}{
		"systolic":  integer(),
		"diastolic": integer(),
	}, "systolic", "diastolic")
}

func buildAssessmentSchema() map[string]interface{} {
	return object(map[string]interface{}{
		"category":               enum(categoryCodes()),
		"risk_level":             enum(riskLevels()),
		"risk_assessment":        str(),
		"map":                    integer(),
		"map_status":             enum(metricStatuses()),
		"map_message":            str(),
		"pulse_pressure":         integer(),
		"pulse_pressure_status":  enum(metricStatuses()),
		"pulse_pressure_message": str(),
		"requires_urgent_care":   boolean(),
		"is_emergency":           boolean(),
		"inverted":               boolean(),
	})
}

func buildTrendReadingSchema() map[string]interface{} {
	return object(map[string]interface{}{
		"id":        str(),
		"systolic":  integer(),
		"diastolic": integer(),
		"timestamp": dateTime(),
	}, "systolic", "diastolic")
}

func buildTrendResultSchema() map[string]interface{} {
	return object(map[string]interface{}{
		"category":          enum(categoryCodes()),
		"average_systolic":  integer(),
		"average_diastolic": integer(),
		"trend":             enum(trendDirections()),
		"description":       str(),
		"systolic_change":   number(),
		"diastolic_change":  number(),
		"urgent_care_count": integer(),
		"emergency_count":   integer(),
		"reading_count":     integer(),
	})
}

// ── Stored reading schemas ──────────────────────────────────────────────

func buildReadingSchema() map[string]interface{} {
	return object(map[string]interface{}{
		"id":          uuidString(),
		"patient_id":  uuidString(),
		"systolic":    integer(),
		"diastolic":   integer(),
		"heart_rate":  integer(),
		"measured_at": dateTime(),
		"source":      enum([]string{"manual", "device", "fhir"}),
		"note":        str(),
		"created_at":  dateTime(),
	}, "patient_id", "systolic", "diastolic")
}

func buildReadingPageSchema() map[string]interface{} {
	return object(map[string]interface{}{
		"data":     arrayOf("Reading"),
		"total":    integer(),
		"limit":    integer(),
		"offset":   integer(),
		"has_more": boolean(),
	})
}

// ── FHIR schemas ────────────────────────────────────────────────────────

func buildCodingSchema() map[string]interface{} {
	return object(map[string]interface{}{
		"system":  map[string]interface{}{"type": "string", "format": "uri"},
		"code":    str(),
		"display": str(),
	})
}

func buildQuantitySchema() map[string]interface{} {
	return object(map[string]interface{}{
		"value":  number(),
		"unit":   str(),
		"system": map[string]interface{}{"type": "string", "format": "uri"},
		"code":   str(),
	})
}

func buildObservationSchema() map[string]interface{} {
	component := object(map[string]interface{}{
		"code":           ref("CodeableConcept"),
		"valueQuantity":  ref("Quantity"),
		"interpretation": arrayOf("CodeableConcept"),
	}, "code")
	return object(map[string]interface{}{
		"resourceType":      enum([]string{"Observation"}),
		"id":                str(),
		"status":            str(),
		"category":          arrayOf("CodeableConcept"),
		"code":              ref("CodeableConcept"),
		"subject":           ref("Reference"),
		"effectiveDateTime": dateTime(),
		"interpretation":    arrayOf("CodeableConcept"),
		"component":         map[string]interface{}{"type": "array", "items": component},
	}, "resourceType", "code")
}

func buildBundleSchema() map[string]interface{} {
	entry := object(map[string]interface{}{
		"fullUrl":  str(),
		"resource": map[string]interface{}{"type": "object"},
		"search":   object(map[string]interface{}{"mode": str()}),
	})
	link := object(map[string]interface{}{"relation": str(), "url": str()}, "relation", "url")
	return object(map[string]interface{}{
		"resourceType": enum([]string{"Bundle"}),
		"id":           str(),
		"type":         enum([]string{"searchset", "collection"}),
		"total":        integer(),
		"timestamp":    dateTime(),
		"link":         map[string]interface{}{"type": "array", "items": link},
		"entry":        map[string]interface{}{"type": "array", "items": entry},
	}, "resourceType", "type")
}

func buildOperationOutcomeSchema() map[string]interface{} {
	issue := object(map[string]interface{}{
		"severity":    enum([]string{"fatal", "error", "warning", "information"}),
		"code":        str(),
		"diagnostics": str(),
		"expression":  map[string]interface{}{"type": "array", "items": str()},
	}, "severity", "code")
	return object(map[string]interface{}{
		"resourceType": enum([]string{"OperationOutcome"}),
		"issue":        map[string]interface{}{"type": "array", "items": issue},
	}, "resourceType", "issue")
}

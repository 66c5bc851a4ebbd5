// Package bpclass classifies blood-pressure readings against the ESH
// thresholds and derives the secondary hemodynamic metrics.
//
// Every function in this package is pure. The category table is built at
// compile time and never written afterwards, so all calls are safe for
// concurrent use.
package bpclass

import "fmt"

// CategoryCode identifies one entry of the category table.
type CategoryCode int

const (
	Optimal CategoryCode = iota
	Normal
	HighNormal
	Grade1Hypertension
	Grade2Hypertension
	Grade3Hypertension
	IsolatedSystolicHypertension
	HypertensiveCrisis
	Hypotension

	numCategories
)

var categoryCodes = [numCategories]string{
	Optimal:                      "optimal",
	Normal:                       "normal",
	HighNormal:                   "high_normal",
	Grade1Hypertension:           "grade1_hypertension",
	Grade2Hypertension:           "grade2_hypertension",
	Grade3Hypertension:           "grade3_hypertension",
	IsolatedSystolicHypertension: "isolated_systolic_hypertension",
	HypertensiveCrisis:           "hypertensive_crisis",
	Hypotension:                  "hypotension",
}

// String returns the short code.
func (c CategoryCode) String() string {
	if c < 0 || c >= numCategories {
		return fmt.Sprintf("CategoryCode(%d)", int(c))
	}
	return categoryCodes[c]
}

// Valid reports whether c names an entry of the table.
func (c CategoryCode) Valid() bool {
	return c >= 0 && c < numCategories
}

func (c CategoryCode) MarshalText() ([]byte, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("invalid category code %d", int(c))
	}
	return []byte(categoryCodes[c]), nil
}

func (c *CategoryCode) UnmarshalText(text []byte) error {
	code, ok := ParseCategoryCode(string(text))
	if !ok {
		return fmt.Errorf("unknown category code %q", string(text))
	}
	*c = code
	return nil
}

// ParseCategoryCode maps a short code back to its CategoryCode.
func ParseCategoryCode(s string) (CategoryCode, bool) {
	for i, code := range categoryCodes {
		if code == s {
			return CategoryCode(i), true
		}
	}
	return 0, false
}

// RiskLevel is ordered: RiskLow < RiskModerate < RiskHigh < RiskVeryHigh < RiskCritical.
type RiskLevel int

const (
	RiskLow RiskLevel = iota
	RiskModerate
	RiskHigh
	RiskVeryHigh
	RiskCritical

	numRiskLevels
)

var riskLevelNames = [numRiskLevels]string{
	RiskLow:      "low",
	RiskModerate: "moderate",
	RiskHigh:     "high",
	RiskVeryHigh: "very_high",
	RiskCritical: "critical",
}

func (r RiskLevel) String() string {
	if r < 0 || r >= numRiskLevels {
		return fmt.Sprintf("RiskLevel(%d)", int(r))
	}
	return riskLevelNames[r]
}

func (r RiskLevel) MarshalText() ([]byte, error) {
	if r < 0 || r >= numRiskLevels {
		return nil, fmt.Errorf("invalid risk level %d", int(r))
	}
	return []byte(riskLevelNames[r]), nil
}

func (r *RiskLevel) UnmarshalText(text []byte) error {
	for i, name := range riskLevelNames {
		if name == string(text) {
			*r = RiskLevel(i)
			return nil
		}
	}
	return fmt.Errorf("unknown risk level %q", string(text))
}

// Range is an inclusive mmHg interval.
type Range struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

// Contains reports whether v lies within the inclusive interval.
func (r Range) Contains(v int) bool {
	return v >= r.Min && v <= r.Max
}

// Category is one row of the classification table. The ranges describe the
// category for legends; Classify decides by its own ordered rules, and the
// ranges of different categories may overlap.
type Category struct {
	Code            CategoryCode `json:"code"`
	Name            string       `json:"name"`
	Systolic        Range        `json:"systolic"`
	Diastolic       Range        `json:"diastolic"`
	Risk            RiskLevel    `json:"risk_level"`
	Description     string       `json:"description"`
	Recommendations []string     `json:"recommendations"`
}

var categoryTable = [numCategories]Category{
	Optimal: {
		Code:        Optimal,
		Name:        "Optimal",
		Systolic:    Range{Min: 0, Max: 119},
		Diastolic:   Range{Min: 0, Max: 79},
		Risk:        RiskLow,
		Description: "Blood pressure is in the optimal range.",
		Recommendations: []string{
			"Maintain a healthy lifestyle",
			"Recheck blood pressure at least every 5 years",
		},
	},
	Normal: {
		Code:        Normal,
		Name:        "Normal",
		Systolic:    Range{Min: 120, Max: 129},
		Diastolic:   Range{Min: 80, Max: 84},
		Risk:        RiskLow,
		Description: "Blood pressure is normal.",
		Recommendations: []string{
			"Maintain a healthy lifestyle",
			"Recheck blood pressure at least every 3 years",
		},
	},
	HighNormal: {
		Code:        HighNormal,
		Name:        "High-Normal",
		Systolic:    Range{Min: 130, Max: 139},
		Diastolic:   Range{Min: 85, Max: 89},
		Risk:        RiskModerate,
		Description: "Blood pressure is at the upper end of the normal range.",
		Recommendations: []string{
			"Reduce salt intake and alcohol consumption",
			"Exercise regularly and keep a healthy weight",
			"Recheck blood pressure at least once a year",
		},
	},
	Grade1Hypertension: {
		Code:        Grade1Hypertension,
		Name:        "Grade 1 Hypertension",
		Systolic:    Range{Min: 140, Max: 159},
		Diastolic:   Range{Min: 90, Max: 99},
		Risk:        RiskHigh,
		Description: "Mild hypertension.",
		Recommendations: []string{
			"Confirm with repeated measurements over several weeks",
			"Start lifestyle interventions",
			"Discuss treatment options with a physician",
		},
	},
	Grade2Hypertension: {
		Code:        Grade2Hypertension,
		Name:        "Grade 2 Hypertension",
		Systolic:    Range{Min: 160, Max: 179},
		Diastolic:   Range{Min: 100, Max: 109},
		Risk:        RiskHigh,
		Description: "Moderate hypertension.",
		Recommendations: []string{
			"See a physician within a few weeks",
			"Drug treatment is usually indicated",
			"Monitor blood pressure at home regularly",
		},
	},
	Grade3Hypertension: {
		Code:        Grade3Hypertension,
		Name:        "Grade 3 Hypertension",
		Systolic:    Range{Min: 180, Max: 219},
		Diastolic:   Range{Min: 110, Max: 119},
		Risk:        RiskVeryHigh,
		Description: "Severe hypertension.",
		Recommendations: []string{
			"See a physician promptly",
			"Immediate drug treatment is usually indicated",
			"Check for symptoms of organ damage",
		},
	},
	IsolatedSystolicHypertension: {
		Code:        IsolatedSystolicHypertension,
		Name:        "Isolated Systolic Hypertension",
		Systolic:    Range{Min: 140, Max: 300},
		Diastolic:   Range{Min: 0, Max: 89},
		Risk:        RiskHigh,
		Description: "Elevated systolic pressure with normal diastolic pressure.",
		Recommendations: []string{
			"Discuss the finding with a physician",
			"Monitor blood pressure at home regularly",
			"Reduce salt intake and exercise regularly",
		},
	},
	HypertensiveCrisis: {
		Code:        HypertensiveCrisis,
		Name:        "Hypertensive Crisis",
		Systolic:    Range{Min: 220, Max: 300},
		Diastolic:   Range{Min: 120, Max: 200},
		Risk:        RiskCritical,
		Description: "Blood pressure is dangerously high.",
		Recommendations: []string{
			"Seek emergency medical care immediately",
			"Call emergency services if chest pain, shortness of breath, or vision changes occur",
		},
	},
	Hypotension: {
		Code:        Hypotension,
		Name:        "Hypotension",
		Systolic:    Range{Min: 0, Max: 89},
		Diastolic:   Range{Min: 0, Max: 59},
		Risk:        RiskModerate,
		Description: "Blood pressure is lower than normal.",
		Recommendations: []string{
			"Drink enough fluids",
			"Stand up slowly",
			"See a physician if dizziness or fainting occurs",
		},
	},
}

// Categories returns the full table in table order. The returned slice and
// its recommendation lists are copies.
func Categories() []Category {
	out := make([]Category, 0, numCategories)
	for _, c := range categoryTable {
		out = append(out, c.clone())
	}
	return out
}

// Lookup returns the table entry for code.
func Lookup(code CategoryCode) (Category, bool) {
	if !code.Valid() {
		return Category{}, false
	}
	return categoryTable[code].clone(), true
}

func (c Category) clone() Category {
	recs := make([]string, len(c.Recommendations))
	copy(recs, c.Recommendations)
	c.Recommendations = recs
	return c
}

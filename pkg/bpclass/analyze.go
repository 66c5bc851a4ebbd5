package bpclass

// AssessmentResult is the full assessment of a single reading.
type AssessmentResult struct {
	Category       CategoryCode `json:"category"`
	Risk           RiskLevel    `json:"risk_level"`
	RiskAssessment string       `json:"risk_assessment"`

	MAP        int          `json:"map"`
	MAPStatus  MetricStatus `json:"map_status"`
	MAPMessage string       `json:"map_message"`

	PulsePressure        int          `json:"pulse_pressure"`
	PulsePressureStatus  MetricStatus `json:"pulse_pressure_status"`
	PulsePressureMessage string       `json:"pulse_pressure_message"`

	RequiresUrgentCare bool `json:"requires_urgent_care"`
	IsEmergency        bool `json:"is_emergency"`

	// Inverted is set when diastolic exceeds systolic. The pulse pressure is
	// reported as the negative value it computes to.
	Inverted bool `json:"inverted,omitempty"`
}

// RequiresUrgentCare reports systolic >= 180 or diastolic >= 110. It is
// evaluated on the raw values and does not depend on the category table.
func RequiresUrgentCare(systolic, diastolic int) bool {
	return systolic >= 180 || diastolic >= 110
}

// IsEmergency reports systolic >= 220 or diastolic >= 120.
func IsEmergency(systolic, diastolic int) bool {
	return systolic >= 220 || diastolic >= 120
}

// Analyzer produces assessments using a particular message catalog. The zero
// value is not usable; construct one with NewAnalyzer.
type Analyzer struct {
	messages Messages
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithMessages replaces the default English catalog. Entries missing from
// the supplied maps fall back to the default text.
func WithMessages(m Messages) Option {
	return func(a *Analyzer) {
		a.messages = mergeMessages(DefaultMessages(), m)
	}
}

func NewAnalyzer(opts ...Option) *Analyzer {
	a := &Analyzer{messages: DefaultMessages()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

var defaultAnalyzer = NewAnalyzer()

// Analyze assesses a reading with the default catalog.
func Analyze(systolic, diastolic int) AssessmentResult {
	return defaultAnalyzer.Analyze(systolic, diastolic)
}

// Analyze classifies the reading and derives MAP, pulse pressure and the
// urgent-care and emergency flags.
func (a *Analyzer) Analyze(systolic, diastolic int) AssessmentResult {
	code := ClassifyCode(systolic, diastolic)
	risk := categoryTable[code].Risk

	meanAP := MeanArterialPressure(systolic, diastolic)
	mapStatus := AssessMAP(meanAP)

	pp := PulsePressure(systolic, diastolic)
	ppStatus := AssessPulsePressure(pp)

	return AssessmentResult{
		Category:             code,
		Risk:                 risk,
		RiskAssessment:       a.messages.Risk[risk],
		MAP:                  meanAP,
		MAPStatus:            mapStatus,
		MAPMessage:           a.messages.MAP[mapStatus],
		PulsePressure:        pp,
		PulsePressureStatus:  ppStatus,
		PulsePressureMessage: a.messages.PulsePressure[ppStatus],
		RequiresUrgentCare:   RequiresUrgentCare(systolic, diastolic),
		IsEmergency:          IsEmergency(systolic, diastolic),
		Inverted:             diastolic > systolic,
	}
}

func mergeMessages(base, override Messages) Messages {
	for k, v := range override.Risk {
		base.Risk[k] = v
	}
	for k, v := range override.MAP {
		base.MAP[k] = v
	}
	for k, v := range override.PulsePressure {
		base.PulsePressure[k] = v
	}
	for k, v := range override.TrendFormat {
		base.TrendFormat[k] = v
	}
	if override.InsufficientData != "" {
		base.InsufficientData = override.InsufficientData
	}
	return base
}

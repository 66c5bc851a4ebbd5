package bpclass

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMeanArterialPressure(t *testing.T) {
	tests := []struct {
		systolic, diastolic, want int
	}{
		{120, 80, 93},
		{90, 60, 70},
		{180, 110, 133},
		{100, 50, 67},
		{121, 80, 94}, // 93.67
		{122, 80, 94}, // 94.00
		{80, 120, 107},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, MeanArterialPressure(tt.systolic, tt.diastolic), "MAP(%d,%d)", tt.systolic, tt.diastolic)
	}
}

func TestAssessMAP(t *testing.T) {
	assert.Equal(t, StatusLow, AssessMAP(69))
	assert.Equal(t, StatusNormal, AssessMAP(70))
	assert.Equal(t, StatusNormal, AssessMAP(100))
	assert.Equal(t, StatusHigh, AssessMAP(101))
}

func TestPulsePressure(t *testing.T) {
	assert.Equal(t, 40, PulsePressure(120, 80))
	assert.Equal(t, StatusNormal, AssessPulsePressure(PulsePressure(120, 80)))
	assert.Equal(t, -10, PulsePressure(80, 90))
}

func TestAssessPulsePressure(t *testing.T) {
	assert.Equal(t, StatusLow, AssessPulsePressure(39))
	assert.Equal(t, StatusNormal, AssessPulsePressure(40))
	assert.Equal(t, StatusNormal, AssessPulsePressure(60))
	assert.Equal(t, StatusHigh, AssessPulsePressure(61))
	assert.Equal(t, StatusLow, AssessPulsePressure(-5))
}

func TestAnalyze_Normal(t *testing.T) {
	res := Analyze(120, 80)

	assert.Equal(t, Normal, res.Category)
	assert.Equal(t, RiskLow, res.Risk)
	assert.NotEmpty(t, res.RiskAssessment)
	assert.Equal(t, 93, res.MAP)
	assert.Equal(t, StatusNormal, res.MAPStatus)
	assert.Equal(t, 40, res.PulsePressure)
	assert.Equal(t, StatusNormal, res.PulsePressureStatus)
	assert.False(t, res.RequiresUrgentCare)
	assert.False(t, res.IsEmergency)
	assert.False(t, res.Inverted)
}

func TestAnalyze_MetricsIndependentOfCategory(t *testing.T) {
	// optimal category, wide pulse pressure
	res := Analyze(118, 50)
	assert.Equal(t, Optimal, res.Category)
	assert.Equal(t, StatusHigh, res.PulsePressureStatus)
	assert.Equal(t, StatusNormal, res.MAPStatus)
}

func TestAnalyze_UrgentAndEmergencyFlags(t *testing.T) {
	tests := []struct {
		name          string
		s, d          int
		urgent, emerg bool
	}{
		{"below thresholds", 179, 109, false, false},
		{"urgent by systolic", 180, 80, true, false},
		{"urgent by diastolic", 150, 110, true, false},
		{"emergency by systolic", 220, 80, true, true},
		{"emergency by diastolic", 150, 120, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Analyze(tt.s, tt.d)
			assert.Equal(t, tt.urgent, res.RequiresUrgentCare)
			assert.Equal(t, tt.emerg, res.IsEmergency)
		})
	}
}

func TestAnalyze_UrgentCareDoesNotFollowCategory(t *testing.T) {
	// isolated systolic hypertension by category, urgent by predicate
	res := Analyze(190, 85)
	assert.Equal(t, IsolatedSystolicHypertension, res.Category)
	assert.True(t, res.RequiresUrgentCare)
}

func TestAnalyze_InvertedReading(t *testing.T) {
	res := Analyze(80, 95)
	assert.True(t, res.Inverted)
	assert.Equal(t, -15, res.PulsePressure)
	assert.Equal(t, StatusLow, res.PulsePressureStatus)
}

func TestAnalyze_Idempotent(t *testing.T) {
	a := Analyze(152, 96)
	b := Analyze(152, 96)
	assert.Equal(t, a, b)
}

func TestAnalyzer_WithMessages(t *testing.T) {
	a := NewAnalyzer(WithMessages(Messages{
		Risk: map[RiskLevel]string{RiskCritical: "Notfall"},
	}))

	res := a.Analyze(230, 100)
	assert.Equal(t, "Notfall", res.RiskAssessment)

	// untouched entries keep the default text
	res = a.Analyze(120, 80)
	assert.Equal(t, DefaultMessages().Risk[RiskLow], res.RiskAssessment)

	// the package default is unaffected
	assert.Equal(t, DefaultMessages().Risk[RiskCritical], Analyze(230, 100).RiskAssessment)
}

func TestDefaultMessages_Complete(t *testing.T) {
	m := DefaultMessages()
	for r := RiskLow; r < numRiskLevels; r++ {
		require.NotEmpty(t, m.Risk[r], r.String())
	}
	for _, s := range []MetricStatus{StatusLow, StatusNormal, StatusHigh} {
		require.NotEmpty(t, m.MAP[s])
		require.NotEmpty(t, m.PulsePressure[s])
	}
	assert.Contains(t, m.MAP[StatusLow], "inadequate organ perfusion")
	for _, d := range []TrendDirection{TrendImproving, TrendStable, TrendWorsening} {
		require.NotEmpty(t, m.TrendFormat[d])
	}
}

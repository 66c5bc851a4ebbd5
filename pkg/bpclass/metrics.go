package bpclass

import (
	"fmt"
	"math"
)

// MetricStatus buckets a derived metric.
type MetricStatus int

const (
	StatusLow MetricStatus = iota
	StatusNormal
	StatusHigh
)

var metricStatusNames = [...]string{
	StatusLow:    "low",
	StatusNormal: "normal",
	StatusHigh:   "high",
}

func (s MetricStatus) String() string {
	if s < 0 || int(s) >= len(metricStatusNames) {
		return fmt.Sprintf("MetricStatus(%d)", int(s))
	}
	return metricStatusNames[s]
}

func (s MetricStatus) MarshalText() ([]byte, error) {
	if s < 0 || int(s) >= len(metricStatusNames) {
		return nil, fmt.Errorf("invalid metric status %d", int(s))
	}
	return []byte(metricStatusNames[s]), nil
}

func (s *MetricStatus) UnmarshalText(text []byte) error {
	for i, name := range metricStatusNames {
		if name == string(text) {
			*s = MetricStatus(i)
			return nil
		}
	}
	return fmt.Errorf("unknown metric status %q", string(text))
}

const (
	mapLowBelow  = 70
	mapHighAbove = 100

	pulsePressureLowBelow  = 40
	pulsePressureHighAbove = 60
)

// MeanArterialPressure returns diastolic + (systolic-diastolic)/3 rounded
// half away from zero.
func MeanArterialPressure(systolic, diastolic int) int {
	return int(math.Round(float64(diastolic) + float64(systolic-diastolic)/3))
}

// PulsePressure returns systolic - diastolic. The result is negative when
// diastolic exceeds systolic.
func PulsePressure(systolic, diastolic int) int {
	return systolic - diastolic
}

// AssessMAP buckets a mean arterial pressure: <70 low, 70..100 normal, >100 high.
func AssessMAP(meanArterialPressure int) MetricStatus {
	switch {
	case meanArterialPressure < mapLowBelow:
		return StatusLow
	case meanArterialPressure > mapHighAbove:
		return StatusHigh
	default:
		return StatusNormal
	}
}

// AssessPulsePressure buckets a pulse pressure: <40 low, 40..60 normal, >60 high.
func AssessPulsePressure(pulsePressure int) MetricStatus {
	switch {
	case pulsePressure < pulsePressureLowBelow:
		return StatusLow
	case pulsePressure > pulsePressureHighAbove:
		return StatusHigh
	default:
		return StatusNormal
	}
}

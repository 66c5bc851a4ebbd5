package bpclass

// Messages holds the human-readable text placed into results. Results always
// carry the codes as well, so callers that render their own labels can ignore
// these strings or supply a translated catalog through WithMessages.
type Messages struct {
	Risk          map[RiskLevel]string
	MAP           map[MetricStatus]string
	PulsePressure map[MetricStatus]string

	// TrendFormat receives the systolic and diastolic change, in that order.
	TrendFormat      map[TrendDirection]string
	InsufficientData string
}

// DefaultMessages returns the English catalog. Each call returns fresh maps.
func DefaultMessages() Messages {
	return Messages{
		Risk: map[RiskLevel]string{
			RiskLow:      "Low cardiovascular risk. Keep up your current habits.",
			RiskModerate: "Moderate risk. Lifestyle changes and regular monitoring are recommended.",
			RiskHigh:     "High risk. Consult a physician about further evaluation and treatment.",
			RiskVeryHigh: "Very high risk. Seek medical attention promptly.",
			RiskCritical: "Critical. Seek emergency medical care immediately.",
		},
		MAP: map[MetricStatus]string{
			StatusLow:    "Mean arterial pressure is low and may indicate inadequate organ perfusion.",
			StatusNormal: "Mean arterial pressure is within the normal range.",
			StatusHigh:   "Mean arterial pressure is elevated, which increases strain on the heart and vessels.",
		},
		PulsePressure: map[MetricStatus]string{
			StatusLow:    "Pulse pressure is low, which may indicate reduced cardiac output.",
			StatusNormal: "Pulse pressure is within the normal range.",
			StatusHigh:   "Pulse pressure is high, which may indicate arterial stiffness.",
		},
		TrendFormat: map[TrendDirection]string{
			TrendImproving: "Blood pressure is improving (systolic %+.1f mmHg, diastolic %+.1f mmHg).",
			TrendStable:    "Blood pressure is stable (systolic %+.1f mmHg, diastolic %+.1f mmHg).",
			TrendWorsening: "Blood pressure is worsening (systolic %+.1f mmHg, diastolic %+.1f mmHg).",
		},
		InsufficientData: "At least 3 readings are needed to determine a trend.",
	}
}

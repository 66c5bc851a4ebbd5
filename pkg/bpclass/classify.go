package bpclass

// ClassifyCode maps a reading to its category code. The rules are evaluated
// top to bottom and the first match wins; reordering them changes results at
// the boundaries (145/70 is isolated systolic, not grade 1).
//
// Inputs are not validated. Any pair of integers yields a category.
func ClassifyCode(systolic, diastolic int) CategoryCode {
	if systolic >= 220 || diastolic >= 120 {
		return HypertensiveCrisis
	} else if systolic <= 89 && diastolic <= 59 {
		return Hypotension
	} else if systolic >= 140 && diastolic < 90 {
		return IsolatedSystolicHypertension
	} else if systolic >= 180 || diastolic >= 110 {
		return Grade3Hypertension
	} else if systolic >= 160 || diastolic >= 100 {
		return Grade2Hypertension
	} else if systolic >= 140 || diastolic >= 90 {
		return Grade1Hypertension
	} else if systolic >= 130 || diastolic >= 85 {
		return HighNormal
	} else if systolic >= 120 || diastolic >= 80 {
		return Normal
	}
	return Optimal
}

// Classify returns the table entry for a reading. See ClassifyCode.
func Classify(systolic, diastolic int) Category {
	return categoryTable[ClassifyCode(systolic, diastolic)].clone()
}

package bpclass

import (
	"fmt"
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"
)

// TrendDirection is the outcome of comparing early and late readings.
type TrendDirection int

const (
	TrendInsufficientData TrendDirection = iota
	TrendImproving
	TrendStable
	TrendWorsening
)

var trendNames = [...]string{
	TrendInsufficientData: "insufficient_data",
	TrendImproving:        "improving",
	TrendStable:           "stable",
	TrendWorsening:        "worsening",
}

func (t TrendDirection) String() string {
	if t < 0 || int(t) >= len(trendNames) {
		return fmt.Sprintf("TrendDirection(%d)", int(t))
	}
	return trendNames[t]
}

func (t TrendDirection) MarshalText() ([]byte, error) {
	if t < 0 || int(t) >= len(trendNames) {
		return nil, fmt.Errorf("invalid trend direction %d", int(t))
	}
	return []byte(trendNames[t]), nil
}

func (t *TrendDirection) UnmarshalText(text []byte) error {
	for i, name := range trendNames {
		if name == string(text) {
			*t = TrendDirection(i)
			return nil
		}
	}
	return fmt.Errorf("unknown trend direction %q", string(text))
}

// MinTrendReadings is the smallest series for which a direction is computed.
const MinTrendReadings = 3

// Diastolic changes matter at smaller magnitudes, hence the asymmetry.
const (
	systolicTrendThreshold  = 5.0
	diastolicTrendThreshold = 3.0
)

// Reading is a single timestamped measurement in mmHg.
type Reading struct {
	ID        string    `json:"id,omitempty"`
	Systolic  int       `json:"systolic"`
	Diastolic int       `json:"diastolic"`
	Timestamp time.Time `json:"timestamp"`
}

// TrendResult summarizes a series of readings.
type TrendResult struct {
	// Category is classified from the rounded average systolic and diastolic
	// of all readings. With no readings it is the first table entry.
	Category         CategoryCode   `json:"category"`
	AverageSystolic  int            `json:"average_systolic"`
	AverageDiastolic int            `json:"average_diastolic"`
	Trend            TrendDirection `json:"trend"`
	Description      string         `json:"description"`
	SystolicChange   float64        `json:"systolic_change"`
	DiastolicChange  float64        `json:"diastolic_change"`
	UrgentCareCount  int            `json:"urgent_care_count"`
	EmergencyCount   int            `json:"emergency_count"`
	ReadingCount     int            `json:"reading_count"`
}

// AnalyzeTrend summarizes readings with the default catalog.
func AnalyzeTrend(readings []Reading) TrendResult {
	return defaultAnalyzer.AnalyzeTrend(readings)
}

// AnalyzeTrend computes the aggregate category, the urgent-care and
// emergency counts, and the trend direction. The direction compares the mean
// of the earliest n/3 readings with the mean of the latest n/3; readings in
// between do not contribute. The caller's slice is not reordered.
func (a *Analyzer) AnalyzeTrend(readings []Reading) TrendResult {
	res := TrendResult{
		Category:     categoryTable[0].Code,
		Trend:        TrendInsufficientData,
		Description:  a.messages.InsufficientData,
		ReadingCount: len(readings),
	}
	if len(readings) == 0 {
		return res
	}

	sys := make([]float64, len(readings))
	dia := make([]float64, len(readings))
	for i, r := range readings {
		sys[i] = float64(r.Systolic)
		dia[i] = float64(r.Diastolic)
		if RequiresUrgentCare(r.Systolic, r.Diastolic) {
			res.UrgentCareCount++
		}
		if IsEmergency(r.Systolic, r.Diastolic) {
			res.EmergencyCount++
		}
	}
	res.AverageSystolic = int(math.Round(stat.Mean(sys, nil)))
	res.AverageDiastolic = int(math.Round(stat.Mean(dia, nil)))
	res.Category = ClassifyCode(res.AverageSystolic, res.AverageDiastolic)

	if len(readings) < MinTrendReadings {
		return res
	}

	sorted := make([]Reading, len(readings))
	copy(sorted, readings)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	window := len(sorted) / 3
	firstSys, firstDia := windowMeans(sorted[:window])
	lastSys, lastDia := windowMeans(sorted[len(sorted)-window:])
	res.SystolicChange = lastSys - firstSys
	res.DiastolicChange = lastDia - firstDia

	switch {
	case res.SystolicChange <= -systolicTrendThreshold || res.DiastolicChange <= -diastolicTrendThreshold:
		res.Trend = TrendImproving
	case res.SystolicChange >= systolicTrendThreshold || res.DiastolicChange >= diastolicTrendThreshold:
		res.Trend = TrendWorsening
	default:
		res.Trend = TrendStable
	}
	res.Description = fmt.Sprintf(a.messages.TrendFormat[res.Trend], res.SystolicChange, res.DiastolicChange)
	return res
}

func windowMeans(window []Reading) (systolic, diastolic float64) {
	sys := make([]float64, len(window))
	dia := make([]float64, len(window))
	for i, r := range window {
		sys[i] = float64(r.Systolic)
		dia[i] = float64(r.Diastolic)
	}
	return stat.Mean(sys, nil), stat.Mean(dia, nil)
}

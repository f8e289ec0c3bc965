package stats

import (
	"math"
	"strings"
)

// Summary is the statistics payload of a completed run. The core fields are
// always present; analysis-specific additions go in Extra, keyed by their
// dashboard payload names.
type Summary struct {
	AnalysisType string `json:"analysisType"`

	TotalRecords   int     `json:"totalRecords"`
	UniqueVehicles int     `json:"uniqueVehicles"`
	AvgSpeed       float64 `json:"avgSpeed"`
	MaxSpeed       float64 `json:"maxSpeed"`
	MinSpeed       float64 `json:"minSpeed"`

	TotalDistanceKm           float64          `json:"totalDistanceKm"`
	TotalEmissionsKgCO2e      float64          `json:"totalEmissionsKgCO2e"`
	EmissionsPerVehicleKgCO2e *float64         `json:"emissionsPerVehicleKgCO2e"`
	SpeedPercentiles          SpeedPercentiles `json:"speedPercentiles"`
	CongestionAreas           int              `json:"congestionAreas"`

	DroppedRows int    `json:"droppedRows"`
	Note        string `json:"note,omitempty"`

	Extra map[string]any `json:"extra,omitempty"`
}

// SetExtra records an analysis-specific value.
func (s *Summary) SetExtra(key string, v any) {
	if s.Extra == nil {
		s.Extra = make(map[string]any)
	}
	s.Extra[key] = v
}

// SetNotes joins non-fatal conditions into the Note field.
func (s *Summary) SetNotes(notes []string) {
	s.Note = strings.Join(notes, "; ")
}

// Round2 rounds to two decimals for presentation and maps NaN/Inf to 0.
func Round2(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return math.Round(v*100) / 100
}

// Rounded returns a copy with every reported float rounded to two decimals.
// Percentile monotonicity survives rounding because rounding is monotone.
func (s Summary) Rounded() Summary {
	s.AvgSpeed = Round2(s.AvgSpeed)
	s.MaxSpeed = Round2(s.MaxSpeed)
	s.MinSpeed = Round2(s.MinSpeed)
	s.TotalDistanceKm = Round2(s.TotalDistanceKm)
	s.TotalEmissionsKgCO2e = Round2(s.TotalEmissionsKgCO2e)
	if s.EmissionsPerVehicleKgCO2e != nil {
		v := Round2(*s.EmissionsPerVehicleKgCO2e)
		s.EmissionsPerVehicleKgCO2e = &v
	}
	s.SpeedPercentiles = SpeedPercentiles{
		P25: Round2(s.SpeedPercentiles.P25),
		P50: Round2(s.SpeedPercentiles.P50),
		P75: Round2(s.SpeedPercentiles.P75),
		P95: Round2(s.SpeedPercentiles.P95),
	}
	return s
}

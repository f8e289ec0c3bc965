// Package units converts GPS speeds between display units. Parsed points carry
// km/h; the spd column of an upload is m/s.
package units

import (
	"slices"
	"strings"
)

const (
	MPS  = "mps"
	MPH  = "mph"
	KMPH = "kmph"
	KPH  = "kph"
)

// ValidUnits lists the accepted unit names, case-sensitive.
var ValidUnits = []string{MPS, MPH, KMPH, KPH}

func IsValid(unit string) bool {
	return slices.Contains(ValidUnits, unit)
}

// GetValidUnitsString returns ValidUnits joined for flag help and error messages.
func GetValidUnitsString() string {
	return strings.Join(ValidUnits, ", ")
}

// Label returns the short display label for unit, e.g. "km/h".
func Label(unit string) string {
	switch unit {
	case MPH:
		return "mph"
	case KMPH, KPH:
		return "km/h"
	default:
		return "m/s"
	}
}

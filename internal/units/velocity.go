package units

// Conversion factors from meters per second.
const (
	KMPHPerMPS = 3.6
	MPHPerMPS  = 2.2369362920544
)

// ConvertSpeed converts a speed from meters per second to the target units.
// GPS traces report spd in m/s; the analysis works in km/h.
func ConvertSpeed(speedMPS float64, targetUnits string) float64 {
	switch targetUnits {
	case MPS:
		return speedMPS
	case MPH:
		return speedMPS * MPHPerMPS
	case KMPH, KPH:
		return speedMPS * KMPHPerMPS
	default:
		return speedMPS
	}
}

// ConvertToMPS converts a speed in the given units back to meters per second.
func ConvertToMPS(speed float64, fromUnits string) float64 {
	switch fromUnits {
	case MPH:
		return speed / MPHPerMPS
	case KMPH, KPH:
		return speed / KMPHPerMPS
	default:
		return speed
	}
}

// FromKMPH converts a km/h value, as stored on parsed points, to unit.
func FromKMPH(speedKMPH float64, unit string) float64 {
	return ConvertSpeed(ConvertToMPS(speedKMPH, KMPH), unit)
}

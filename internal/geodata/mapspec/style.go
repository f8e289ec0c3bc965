package mapspec

// Heatmap palettes per analysis type.
var (
	PaletteRoutes = []Gradient{
		{0.0, "blue"}, {0.25, "cyan"}, {0.5, "lime"}, {0.75, "yellow"}, {1.0, "red"},
	}
	PalettePickups = []Gradient{
		{0.0, "blue"}, {0.5, "cyan"}, {0.75, "lightgreen"}, {1.0, "green"},
	}
	PaletteDropoffs = []Gradient{
		{0.0, "yellow"}, {0.5, "orange"}, {0.75, "darkorange"}, {1.0, "red"},
	}
	PaletteCongestion = []Gradient{
		{0.0, "green"}, {0.3, "yellow"}, {0.6, "orange"}, {0.8, "red"}, {1.0, "darkred"},
	}
	PaletteDemand = []Gradient{
		{0.0, "blue"}, {0.25, "cyan"}, {0.5, "yellow"}, {0.75, "orange"}, {1.0, "red"},
	}
	PaletteEmissions = PaletteDemand
)

// Speed color bands in km/h.
const (
	SpeedBandRed    = 20.0
	SpeedBandOrange = 40.0
	SpeedBandYellow = 60.0
)

// SpeedColor returns the segment color for a speed: red below 20 km/h,
// orange below 40, yellow below 60, green otherwise.
func SpeedColor(kmh float64) string {
	switch {
	case kmh < SpeedBandRed:
		return "red"
	case kmh < SpeedBandOrange:
		return "orange"
	case kmh < SpeedBandYellow:
		return "yellow"
	default:
		return "green"
	}
}

// RampColor picks the palette color whose stop is the largest not above v.
func RampColor(palette []Gradient, v float64) string {
	if len(palette) == 0 {
		return ""
	}
	c := palette[0].Color
	for _, g := range palette {
		if v >= g.Stop {
			c = g.Color
		}
	}
	return c
}

package geodata

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIngest_ConvertsSpeed(t *testing.T) {
	in := "randomized_id,lat,lng,alt,spd,azm\nA,51.1,71.4,350,10.0,90\n"
	res, err := Ingest(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, res.Points, 1)

	p := res.Points[0]
	if p.SpeedKmh != 36.0 {
		t.Errorf("SpeedKmh = %v, want exactly 36.0", p.SpeedKmh)
	}
	assert.Equal(t, GeoPoint{VehicleID: "A", Lat: 51.1, Lng: 71.4, Alt: 350, SpeedKmh: 36, Azimuth: 90, Row: 0}, p)
}

func TestIngest_HeaderHandling(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"canonical", "randomized_id,lat,lng,alt,spd,azm"},
		{"reordered", "spd,azm,lat,lng,alt,randomized_id"},
		{"mixed case and spaces", " Randomized_ID , LAT,Lng,ALT, Spd,azm"},
		{"extra columns", "randomized_id,lat,lng,alt,spd,azm,note"},
		{"byte order mark", "\ufeffrandomized_id,lat,lng,alt,spd,azm"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cols := strings.Split(tt.header, ",")
			values := map[string]string{
				"randomized_id": "V1", "lat": "51.1", "lng": "71.4", "alt": "300", "spd": "2", "azm": "180",
			}
			row := make([]string, len(cols))
			for i, c := range cols {
				name := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(c, "\ufeff")))
				row[i] = values[name]
			}
			in := tt.header + "\n" + strings.Join(row, ",") + "\n"

			res, err := Ingest(strings.NewReader(in))
			require.NoError(t, err)
			require.Len(t, res.Points, 1)
			assert.Equal(t, "V1", res.Points[0].VehicleID)
			assert.Equal(t, 51.1, res.Points[0].Lat)
			assert.Equal(t, 7.2, res.Points[0].SpeedKmh)
		})
	}
}

func TestIngest_SchemaError(t *testing.T) {
	_, err := Ingest(strings.NewReader("randomized_id,lat,lng,spd\nA,1,2,3\n"))
	var se *SchemaError
	require.True(t, errors.As(err, &se), "want SchemaError, got %v", err)
	assert.Equal(t, []string{"alt", "azm"}, se.Missing)
	assert.Contains(t, err.Error(), "missing required columns: alt, azm")

	_, err = Ingest(strings.NewReader("randomized_id,lat,lat,lng,alt,spd,azm\n"))
	require.True(t, errors.As(err, &se))
	assert.Equal(t, []string{"lat"}, se.Duplicate)
}

func TestIngest_Empty(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"no input", ""},
		{"header only", "randomized_id,lat,lng,alt,spd,azm\n"},
		{"blank lines only", "randomized_id,lat,lng,alt,spd,azm\n\n,,,,,\n"},
		{"all rows malformed", "randomized_id,lat,lng,alt,spd,azm\nA,x,1,1,1,1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Ingest(strings.NewReader(tt.in))
			assert.ErrorIs(t, err, ErrEmptyDataset)
		})
	}
}

func TestIngest_DropsMalformedRows(t *testing.T) {
	in := strings.Join([]string{
		"randomized_id,lat,lng,alt,spd,azm",
		"A,51.1,71.4,350,5,90",
		"A,abc,71.4,350,5,90",     // non-numeric lat
		"A,51.1,71.4,350,fast,90", // non-numeric speed
		",51.1,71.4,350,5,90",     // empty id
		"A,91,71.4,350,5,90",      // lat out of range
		"A,51.1,181,350,5,90",     // lng out of range
		"A,51.1,71.4,350,NaN,90",  // NaN speed
		"A,51.1,71.4",             // short row
		"B,51.2,71.5,351,6,45",
	}, "\n")

	res, err := Ingest(strings.NewReader(in))
	require.NoError(t, err)
	assert.Equal(t, 9, res.TotalRows)
	assert.Equal(t, 7, res.DroppedRows)
	require.Len(t, res.Points, 2)
	assert.Equal(t, 0, res.Points[0].Row)
	assert.Equal(t, 8, res.Points[1].Row)
}

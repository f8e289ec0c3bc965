package geodata

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/banshee-data/geotracks/internal/units"
)

// Column names of the GPS trace CSV.
const (
	ColVehicleID = "randomized_id"
	ColLat       = "lat"
	ColLng       = "lng"
	ColAlt       = "alt"
	ColSpeed     = "spd"
	ColAzimuth   = "azm"
)

// RequiredColumns lists the header fields every input must carry.
var RequiredColumns = []string{ColVehicleID, ColLat, ColLng, ColAlt, ColSpeed, ColAzimuth}

// IngestResult is the output of Ingest.
type IngestResult struct {
	Points      []GeoPoint
	TotalRows   int
	DroppedRows int
}

// Ingest parses GPS trace CSV text. The header must contain every column in
// RequiredColumns (any order, case-insensitive, extra columns ignored).
// Malformed rows are dropped and counted rather than failing the whole input.
// Speed is converted from m/s to km/h on the way in.
func Ingest(r io.Reader) (*IngestResult, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrEmptyDataset
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	idx, err := indexColumns(header)
	if err != nil {
		return nil, err
	}

	res := &IngestResult{}
	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				res.TotalRows++
				res.DroppedRows++
				continue
			}
			return nil, fmt.Errorf("failed to read CSV row %d: %w", res.TotalRows+1, err)
		}
		if isBlankRecord(record) {
			continue
		}

		row := res.TotalRows
		res.TotalRows++
		p, ok := parseRecord(record, idx, row)
		if !ok {
			res.DroppedRows++
			continue
		}
		res.Points = append(res.Points, p)
	}

	if len(res.Points) == 0 {
		return res, ErrEmptyDataset
	}
	return res, nil
}

type columnIndex struct {
	vehicleID, lat, lng, alt, spd, azm int
}

func indexColumns(header []string) (columnIndex, error) {
	positions := make(map[string]int, len(header))
	var dup []string
	for i, h := range header {
		name := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if _, seen := positions[name]; seen {
			if isRequired(name) {
				dup = append(dup, name)
			}
			continue
		}
		positions[name] = i
	}

	var missing []string
	for _, col := range RequiredColumns {
		if _, ok := positions[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 || len(dup) > 0 {
		return columnIndex{}, &SchemaError{Missing: missing, Duplicate: dup}
	}

	return columnIndex{
		vehicleID: positions[ColVehicleID],
		lat:       positions[ColLat],
		lng:       positions[ColLng],
		alt:       positions[ColAlt],
		spd:       positions[ColSpeed],
		azm:       positions[ColAzimuth],
	}, nil
}

func isRequired(name string) bool {
	for _, col := range RequiredColumns {
		if col == name {
			return true
		}
	}
	return false
}

func isBlankRecord(record []string) bool {
	for _, f := range record {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

// parseRecord validates one row. Any missing field, non-numeric value or
// out-of-range coordinate rejects the row.
func parseRecord(record []string, idx columnIndex, row int) (GeoPoint, bool) {
	field := func(i int) (string, bool) {
		if i >= len(record) {
			return "", false
		}
		return strings.TrimSpace(record[i]), true
	}

	vid, ok := field(idx.vehicleID)
	if !ok || vid == "" {
		return GeoPoint{}, false
	}

	var vals [5]float64
	for k, i := range [5]int{idx.lat, idx.lng, idx.alt, idx.spd, idx.azm} {
		s, ok := field(i)
		if !ok {
			return GeoPoint{}, false
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return GeoPoint{}, false
		}
		vals[k] = v
	}

	lat, lng := vals[0], vals[1]
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return GeoPoint{}, false
	}

	return GeoPoint{
		VehicleID: vid,
		Lat:       lat,
		Lng:       lng,
		Alt:       vals[2],
		SpeedKmh:  units.ConvertSpeed(vals[3], units.KMPH),
		Azimuth:   vals[4],
		Row:       row,
	}, true
}

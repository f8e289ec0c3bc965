package geodata

import (
	"errors"
	"fmt"
	"strings"
)

// ErrEmptyDataset is returned when the input has no data rows, or none that
// survive row validation.
var ErrEmptyDataset = errors.New("dataset is empty: no valid rows")

// SchemaError reports required columns that are missing from the header or
// appear in it more than once.
type SchemaError struct {
	Missing   []string
	Duplicate []string
}

func (e *SchemaError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, fmt.Sprintf("missing required columns: %s", strings.Join(e.Missing, ", ")))
	}
	if len(e.Duplicate) > 0 {
		parts = append(parts, fmt.Sprintf("duplicate columns: %s", strings.Join(e.Duplicate, ", ")))
	}
	if len(parts) == 0 {
		return "invalid CSV schema"
	}
	return "invalid CSV schema: " + strings.Join(parts, "; ")
}

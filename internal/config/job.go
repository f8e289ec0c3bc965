package config

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/banshee-data/geotracks/internal/geodata"
)

// Analysis types accepted by the pipeline.
const (
	AnalysisPopularRoutes = "popular-routes"
	AnalysisEndpoints     = "endpoints"
	AnalysisTrajectories  = "trajectories"
	AnalysisSpeed         = "speed"
	AnalysisGHG           = "ghg"
)

// AnalysisTypes lists every supported analysis type in display order.
var AnalysisTypes = []string{
	AnalysisPopularRoutes,
	AnalysisEndpoints,
	AnalysisTrajectories,
	AnalysisSpeed,
	AnalysisGHG,
}

// Visualization carries per-job rendering hints.
type Visualization struct {
	ShowHeatmap  *bool  `json:"showHeatmap,omitempty" yaml:"showHeatmap,omitempty"`
	ShowClusters *bool  `json:"showClusters,omitempty" yaml:"showClusters,omitempty"`
	Intensity    string `json:"intensity,omitempty" yaml:"intensity,omitempty" validate:"omitempty,oneof=low medium high"`
}

// GetShowHeatmap returns showHeatmap or true.
func (v Visualization) GetShowHeatmap() bool {
	return v.ShowHeatmap == nil || *v.ShowHeatmap
}

// GetShowClusters returns showClusters or true.
func (v Visualization) GetShowClusters() bool {
	return v.ShowClusters == nil || *v.ShowClusters
}

// JobConfig is the per-job configuration submitted with an upload.
type JobConfig struct {
	AnalysisType   string          `json:"analysisType" yaml:"analysisType" validate:"required,oneof=popular-routes endpoints trajectories speed ghg"`
	MaxProcessRows *int            `json:"maxProcessRows,omitempty" yaml:"maxProcessRows,omitempty" validate:"omitempty,gt=0"`
	Filters        geodata.Filters `json:"filters" yaml:"filters"`
	Visualization  Visualization   `json:"visualization" yaml:"visualization"`
}

// Normalize trims and lowercases the enumerated string fields.
func (j *JobConfig) Normalize() {
	j.AnalysisType = strings.ToLower(strings.TrimSpace(j.AnalysisType))
	j.Visualization.Intensity = strings.ToLower(strings.TrimSpace(j.Visualization.Intensity))
}

// Validate normalizes the job config and checks it against its tags.
func (j *JobConfig) Validate() error {
	j.Normalize()
	if err := validate.Struct(j); err != nil {
		return fmt.Errorf("invalid job config: %w", err)
	}
	if f := j.Filters; len(f.SpeedRange) == 2 && f.SpeedRange[0] > f.SpeedRange[1] {
		return fmt.Errorf("invalid job config: speedRange min %v exceeds max %v", f.SpeedRange[0], f.SpeedRange[1])
	}
	if f := j.Filters; len(f.BBox) == 4 && (f.BBox[0] > f.BBox[2] || f.BBox[1] > f.BBox[3]) {
		return fmt.Errorf("invalid job config: bbox must be [minLat, minLng, maxLat, maxLng]")
	}
	return nil
}

// EffectiveMaxRows returns the job override when set, else the deployment value.
func (j *JobConfig) EffectiveMaxRows(c *AnalysisConfig) int {
	if j.MaxProcessRows != nil && *j.MaxProcessRows > 0 {
		return *j.MaxProcessRows
	}
	return c.GetMaxProcessRows()
}

// EffectiveIntensity returns the job intensity or the deployment default.
func (j *JobConfig) EffectiveIntensity(c *AnalysisConfig) string {
	if j.Visualization.Intensity != "" {
		return j.Visualization.Intensity
	}
	return c.GetDefaultIntensity()
}

// ParseJSONObject decodes an optional JSON form field into v. An empty or
// whitespace-only string leaves v unchanged.
func ParseJSONObject(raw string, v any) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("failed to parse JSON: %w", err)
	}
	return nil
}

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// DefaultConfigPath is where the server looks for an analysis config when no
// path is given.
const DefaultConfigPath = "config/analysis.yaml"

// Environment overrides, applied after the file is loaded.
const (
	EnvMaxProcessRows    = "MAX_PROCESS_ROWS"
	EnvEmissionsFactor   = "EF_KG_PER_KM"
	EnvMaxConcurrentJobs = "MAX_CONCURRENT_JOBS"
	EnvMaxUploadMB       = "MAX_UPLOAD_MB"
)

// AnalysisConfig holds the deployment-wide analysis parameters. Every field is
// optional; the Get* accessors supply defaults for omitted values so partial
// configs are safe.
type AnalysisConfig struct {
	// Sampling
	MaxProcessRows *int   `json:"max_process_rows,omitempty" yaml:"max_process_rows,omitempty" validate:"omitempty,gt=0"`
	SampleSeed     *int64 `json:"sample_seed,omitempty" yaml:"sample_seed,omitempty"`

	// Emissions
	EmissionsFactorKgPerKm *float64 `json:"ef_kg_per_km,omitempty" yaml:"ef_kg_per_km,omitempty" validate:"omitempty,gt=0"`

	// Density
	DefaultIntensity *string `json:"default_intensity,omitempty" yaml:"default_intensity,omitempty" validate:"omitempty,oneof=low medium high"`

	// Endpoint clustering (pickups/drop-offs)
	EndpointEpsMeters *float64 `json:"endpoint_eps_meters,omitempty" yaml:"endpoint_eps_meters,omitempty" validate:"omitempty,gt=0"`
	EndpointMinPts    *int     `json:"endpoint_min_pts,omitempty" yaml:"endpoint_min_pts,omitempty" validate:"omitempty,gte=1"`

	// Demand hotspots over all points
	DemandEpsMeters *float64 `json:"demand_eps_meters,omitempty" yaml:"demand_eps_meters,omitempty" validate:"omitempty,gt=0"`
	DemandMinPts    *int     `json:"demand_min_pts,omitempty" yaml:"demand_min_pts,omitempty" validate:"omitempty,gte=1"`

	// Congestion
	CongestionSpeedKmh  *float64 `json:"congestion_speed_kmh,omitempty" yaml:"congestion_speed_kmh,omitempty" validate:"omitempty,gt=0"`
	CongestionMinPoints *int     `json:"congestion_min_points,omitempty" yaml:"congestion_min_points,omitempty" validate:"omitempty,gte=1"`
	CongestionEpsMeters *float64 `json:"congestion_eps_meters,omitempty" yaml:"congestion_eps_meters,omitempty" validate:"omitempty,gt=0"`
	CongestionMinPts    *int     `json:"congestion_min_pts,omitempty" yaml:"congestion_min_pts,omitempty" validate:"omitempty,gte=1"`

	// Map assembly
	MaxPolylines      *int     `json:"max_polylines,omitempty" yaml:"max_polylines,omitempty" validate:"omitempty,gte=0"`
	SimplifyTolerance *float64 `json:"simplify_tolerance_deg,omitempty" yaml:"simplify_tolerance_deg,omitempty" validate:"omitempty,gte=0"`

	// Job layer
	MaxConcurrentJobs *int `json:"max_concurrent_jobs,omitempty" yaml:"max_concurrent_jobs,omitempty" validate:"omitempty,gte=1"`
	MaxUploadMB       *int `json:"max_upload_mb,omitempty" yaml:"max_upload_mb,omitempty" validate:"omitempty,gte=1"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyAnalysisConfig returns an AnalysisConfig with all fields unset, which
// resolves to the defaults through the Get* accessors.
func EmptyAnalysisConfig() *AnalysisConfig {
	return &AnalysisConfig{}
}

// LoadAnalysisConfig loads an AnalysisConfig from a .json, .yaml or .yml file.
func LoadAnalysisConfig(path string) (*AnalysisConfig, error) {
	cleanPath := filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(cleanPath))
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyAnalysisConfig()
	if ext == ".json" {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from the process environment. lookup is usually
// os.LookupEnv.
func (c *AnalysisConfig) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvMaxProcessRows); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", EnvMaxProcessRows, v, err)
		}
		c.MaxProcessRows = ptrInt(n)
	}
	if v, ok := lookup(EnvEmissionsFactor); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", EnvEmissionsFactor, v, err)
		}
		c.EmissionsFactorKgPerKm = ptrFloat64(f)
	}
	if v, ok := lookup(EnvMaxConcurrentJobs); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", EnvMaxConcurrentJobs, v, err)
		}
		c.MaxConcurrentJobs = ptrInt(n)
	}
	if v, ok := lookup(EnvMaxUploadMB); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", EnvMaxUploadMB, v, err)
		}
		c.MaxUploadMB = ptrInt(n)
	}
	return c.Validate()
}

var validate = validator.New()

// Validate checks that the configuration values are valid.
func (c *AnalysisConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	return nil
}

// GetMaxProcessRows returns the max_process_rows value or the default.
func (c *AnalysisConfig) GetMaxProcessRows() int {
	if c.MaxProcessRows == nil {
		return 50000
	}
	return *c.MaxProcessRows
}

// GetSampleSeed returns the sample_seed value or the default.
func (c *AnalysisConfig) GetSampleSeed() int64 {
	if c.SampleSeed == nil {
		return 42
	}
	return *c.SampleSeed
}

// GetEmissionsFactorKgPerKm returns the ef_kg_per_km value or the default.
func (c *AnalysisConfig) GetEmissionsFactorKgPerKm() float64 {
	if c.EmissionsFactorKgPerKm == nil {
		return 0.192
	}
	return *c.EmissionsFactorKgPerKm
}

// GetDefaultIntensity returns the default_intensity value or "medium".
func (c *AnalysisConfig) GetDefaultIntensity() string {
	if c.DefaultIntensity == nil || *c.DefaultIntensity == "" {
		return "medium"
	}
	return *c.DefaultIntensity
}

// GetEndpointEpsMeters returns the endpoint_eps_meters value or the default.
func (c *AnalysisConfig) GetEndpointEpsMeters() float64 {
	if c.EndpointEpsMeters == nil {
		return 200
	}
	return *c.EndpointEpsMeters
}

// GetEndpointMinPts returns the endpoint_min_pts value or the default.
func (c *AnalysisConfig) GetEndpointMinPts() int {
	if c.EndpointMinPts == nil {
		return 5
	}
	return *c.EndpointMinPts
}

// GetDemandEpsMeters returns the demand_eps_meters value or the default.
func (c *AnalysisConfig) GetDemandEpsMeters() float64 {
	if c.DemandEpsMeters == nil {
		return 200
	}
	return *c.DemandEpsMeters
}

// GetDemandMinPts returns the demand_min_pts value or the default.
func (c *AnalysisConfig) GetDemandMinPts() int {
	if c.DemandMinPts == nil {
		return 10
	}
	return *c.DemandMinPts
}

// GetCongestionSpeedKmh returns the congestion_speed_kmh value or the default.
func (c *AnalysisConfig) GetCongestionSpeedKmh() float64 {
	if c.CongestionSpeedKmh == nil {
		return 20
	}
	return *c.CongestionSpeedKmh
}

// GetCongestionMinPoints returns the congestion_min_points value or the default.
func (c *AnalysisConfig) GetCongestionMinPoints() int {
	if c.CongestionMinPoints == nil {
		return 5
	}
	return *c.CongestionMinPoints
}

// GetCongestionEpsMeters returns the congestion_eps_meters value or the default.
func (c *AnalysisConfig) GetCongestionEpsMeters() float64 {
	if c.CongestionEpsMeters == nil {
		return 100
	}
	return *c.CongestionEpsMeters
}

// GetCongestionMinPts returns the congestion_min_pts value or the default.
func (c *AnalysisConfig) GetCongestionMinPts() int {
	if c.CongestionMinPts == nil {
		return 5
	}
	return *c.CongestionMinPts
}

// GetMaxPolylines returns the max_polylines value or the default.
func (c *AnalysisConfig) GetMaxPolylines() int {
	if c.MaxPolylines == nil {
		return 50
	}
	return *c.MaxPolylines
}

// GetSimplifyTolerance returns the simplify_tolerance_deg value or the default
// (about 5 m).
func (c *AnalysisConfig) GetSimplifyTolerance() float64 {
	if c.SimplifyTolerance == nil {
		return 4.5e-5
	}
	return *c.SimplifyTolerance
}

// GetMaxConcurrentJobs returns the max_concurrent_jobs value or the default.
func (c *AnalysisConfig) GetMaxConcurrentJobs() int {
	if c.MaxConcurrentJobs == nil {
		return 2
	}
	return *c.MaxConcurrentJobs
}

// GetMaxUploadMB returns the max_upload_mb value or the default.
func (c *AnalysisConfig) GetMaxUploadMB() int {
	if c.MaxUploadMB == nil {
		return 200
	}
	return *c.MaxUploadMB
}

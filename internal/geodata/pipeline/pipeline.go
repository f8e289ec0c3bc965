// Package pipeline wires the geodata stages into one synchronous run:
// ingest, filter, sample, reconstruct, then the density, clustering and
// statistics engines for the requested analysis type, and finally assembly
// of the statistics summary and map specification.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/geotracks/internal/config"
	"github.com/banshee-data/geotracks/internal/geodata"
	"github.com/banshee-data/geotracks/internal/geodata/density"
	"github.com/banshee-data/geotracks/internal/geodata/mapspec"
	"github.com/banshee-data/geotracks/internal/geodata/stats"
	"github.com/banshee-data/geotracks/internal/monitoring"
)

// ErrUnknownAnalysis is returned for an analysis type the pipeline does not
// implement.
var ErrUnknownAnalysis = errors.New("unknown analysis type")

var logf = monitoring.Tagged("pipeline")

// Result is the output of one analysis run.
type Result struct {
	Summary stats.Summary `json:"statistics"`
	Map     mapspec.Spec  `json:"map"`
}

// Prepare reads CSV text and builds the immutable Dataset shared by every
// analysis of the upload. Schema and empty-input errors are fatal.
func Prepare(r io.Reader, job *config.JobConfig, cfg *config.AnalysisConfig) (*geodata.Dataset, error) {
	in, err := geodata.Ingest(r)
	if err != nil {
		return nil, fmt.Errorf("ingest: %w", err)
	}
	ds := geodata.Build(in, geodata.BuildConfig{
		Filters: job.Filters,
		Sampling: geodata.SampleConfig{
			MaxRows: job.EffectiveMaxRows(cfg),
			Seed:    cfg.GetSampleSeed(),
		},
	})
	logf("prepared dataset: %d rows read, %d dropped, %d points, %d vehicles (%s)",
		ds.TotalRows, ds.DroppedRows, len(ds.Points), ds.VehicleCount(), ds.Sampling.Policy)
	return ds, nil
}

// Analyze runs the engines for job.AnalysisType over ds and assembles the
// result. It does no I/O and is deterministic for a given dataset and config.
// ds is only read, so Analyze may run concurrently over the same dataset.
func Analyze(ds *geodata.Dataset, job *config.JobConfig, cfg *config.AnalysisConfig) (*Result, error) {
	build, ok := builders[job.AnalysisType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAnalysis, job.AnalysisType)
	}
	intensity, err := density.ParseIntensity(job.EffectiveIntensity(cfg))
	if err != nil {
		return nil, err
	}

	a := &assembler{
		ds:        ds,
		job:       job,
		cfg:       cfg,
		level:     intensity.Level(),
		kin:       stats.ComputeKinematics(ds),
		notes:     append([]string(nil), ds.Notes...),
		intensity: intensity,
	}
	a.summary = a.baseSummary()
	a.spec = mapspec.Spec{
		AnalysisType: job.AnalysisType,
		Center:       center(ds.Points),
		Zoom:         mapspec.DefaultZoom,
		Intensity:    string(intensity),
	}
	build(a)

	a.summary.SetNotes(a.notes)
	return &Result{Summary: a.summary.Rounded(), Map: a.spec}, nil
}

// Run is Prepare followed by Analyze.
func Run(r io.Reader, job *config.JobConfig, cfg *config.AnalysisConfig) (*Result, error) {
	if _, ok := builders[job.AnalysisType]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAnalysis, job.AnalysisType)
	}
	ds, err := Prepare(r, job, cfg)
	if err != nil {
		return nil, err
	}
	return Analyze(ds, job, cfg)
}

// RunAll analyzes one dataset for several analysis types concurrently.
// Results are returned in the order of types. The first error cancels the
// remaining analyses' contexts and is returned.
func RunAll(ctx context.Context, ds *geodata.Dataset, types []string, job config.JobConfig, cfg *config.AnalysisConfig) ([]*Result, error) {
	results := make([]*Result, len(types))
	g, ctx := errgroup.WithContext(ctx)
	for i, typ := range types {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			j := job
			j.AnalysisType = typ
			res, err := Analyze(ds, &j, cfg)
			if err != nil {
				return fmt.Errorf("%s: %w", typ, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func center(points []geodata.GeoPoint) mapspec.LatLng {
	if len(points) == 0 {
		return mapspec.LatLng{}
	}
	var lat, lng float64
	for _, p := range points {
		lat += p.Lat
		lng += p.Lng
	}
	n := float64(len(points))
	return mapspec.LatLng{Lat: lat / n, Lng: lng / n}
}

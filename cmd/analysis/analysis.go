// Command analysis runs GPS trace analyses on a local CSV file and writes the
// map, GeoJSON and statistics artifacts to a directory, without the server.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/banshee-data/geotracks/internal/config"
	"github.com/banshee-data/geotracks/internal/geodata/mapspec"
	"github.com/banshee-data/geotracks/internal/geodata/pipeline"
	"github.com/banshee-data/geotracks/internal/render"
	"github.com/banshee-data/geotracks/internal/units"
)

type options struct {
	input      string
	outDir     string
	types      []string
	configPath string
	filters    string
	maxRows    int
	intensity  string
	histogram  bool
	speedUnit  string
}

func parseOptions(args []string, stderr io.Writer) (*options, error) {
	fs := flag.NewFlagSet("analysis", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var o options
	var types string
	var all bool
	fs.StringVar(&o.outDir, "out", "analysis-out", "Output directory")
	fs.StringVar(&types, "type", config.AnalysisSpeed, "Analysis type(s), comma separated: "+strings.Join(config.AnalysisTypes, ", "))
	fs.BoolVar(&all, "all", false, "Run every analysis type")
	fs.StringVar(&o.configPath, "config", "", "Analysis config file (.yaml or .json)")
	fs.StringVar(&o.filters, "filters", "", `Filters as JSON, e.g. {"speedRange":[0,60]}`)
	fs.IntVar(&o.maxRows, "max-rows", 0, "Sample at most this many rows (0 uses the config value)")
	fs.StringVar(&o.intensity, "intensity", "", "Heat intensity: low, medium or high")
	fs.BoolVar(&o.histogram, "histogram", true, "Write a speed histogram PNG")
	fs.StringVar(&o.speedUnit, "speed-unit", units.KMPH, "Histogram speed unit: "+units.GetValidUnitsString())
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: analysis [flags] <tracks.csv>\n\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return nil, errors.New("exactly one input CSV is required")
	}
	o.input = fs.Arg(0)

	if all {
		o.types = append([]string(nil), config.AnalysisTypes...)
	} else {
		for _, t := range strings.Split(types, ",") {
			if t = strings.TrimSpace(t); t != "" {
				o.types = append(o.types, t)
			}
		}
	}
	if len(o.types) == 0 {
		return nil, errors.New("no analysis type given")
	}
	if !units.IsValid(o.speedUnit) {
		return nil, fmt.Errorf("invalid -speed-unit %q, expected one of %s", o.speedUnit, units.GetValidUnitsString())
	}
	return &o, nil
}

// jobConfig builds and validates the shared job config; AnalysisType is set
// to the first requested type for validation and overridden per analysis.
func (o *options) jobConfig() (config.JobConfig, error) {
	job := config.JobConfig{AnalysisType: o.types[0]}
	if err := config.ParseJSONObject(o.filters, &job.Filters); err != nil {
		return job, fmt.Errorf("filters: %w", err)
	}
	if o.maxRows > 0 {
		job.MaxProcessRows = &o.maxRows
	}
	job.Visualization.Intensity = o.intensity
	for _, t := range o.types {
		check := job
		check.AnalysisType = t
		if err := check.Validate(); err != nil {
			return job, err
		}
	}
	return job, job.Validate()
}

func run(ctx context.Context, o *options, stdout io.Writer) error {
	cfg := config.EmptyAnalysisConfig()
	if o.configPath != "" {
		loaded, err := config.LoadAnalysisConfig(o.configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return err
	}
	job, err := o.jobConfig()
	if err != nil {
		return err
	}

	f, err := os.Open(o.input)
	if err != nil {
		return err
	}
	ds, err := pipeline.Prepare(f, &job, cfg)
	f.Close()
	if err != nil {
		return err
	}

	results, err := pipeline.RunAll(ctx, ds, o.types, job, cfg)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(o.outDir, 0o755); err != nil {
		return err
	}

	for i, res := range results {
		if err := writeResult(o.outDir, o.types[i], res); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "%-15s %d records, %d vehicles -> %s\n",
			o.types[i], res.Summary.TotalRecords, res.Summary.UniqueVehicles,
			filepath.Join(o.outDir, o.types[i]+".html"))
	}

	if o.histogram {
		path := filepath.Join(o.outDir, "speeds.png")
		err := render.SaveSpeedHistogram(path, ds.Speeds(), 0, "Speed distribution", o.speedUnit)
		switch {
		case errors.Is(err, render.ErrNoSpeeds):
			fmt.Fprintln(stdout, "no speeds to plot; skipping histogram")
		case err != nil:
			return err
		default:
			fmt.Fprintf(stdout, "speed histogram -> %s\n", path)
		}
	}
	return nil
}

func writeResult(dir, name string, res *pipeline.Result) error {
	html, err := os.Create(filepath.Join(dir, name+".html"))
	if err != nil {
		return err
	}
	err = render.WriteMapHTML(html, &res.Map, &res.Summary)
	if cerr := html.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("%s map: %w", name, err)
	}

	gj, err := mapspec.ToGeoJSON(&res.Map).MarshalJSON()
	if err != nil {
		return fmt.Errorf("%s geojson: %w", name, err)
	}
	if err := os.WriteFile(filepath.Join(dir, name+".geojson"), gj, 0o644); err != nil {
		return err
	}

	summary, err := json.MarshalIndent(res.Summary.Rounded(), "", "  ")
	if err != nil {
		return fmt.Errorf("%s summary: %w", name, err)
	}
	return os.WriteFile(filepath.Join(dir, name+"_summary.json"), append(summary, '\n'), 0o644)
}

func main() {
	o, err := parseOptions(os.Args[1:], os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		log.Fatal(err)
	}
	if err := run(context.Background(), o, os.Stdout); err != nil {
		log.Fatalf("analysis failed: %v", err)
	}
}

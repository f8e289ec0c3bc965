// Package jobs runs analysis jobs asynchronously on behalf of the HTTP API.
// Jobs are persisted in the job store; at most MaxConcurrentJobs run at once
// and the rest wait as pending.
package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/geotracks/internal/config"
	"github.com/banshee-data/geotracks/internal/db"
	"github.com/banshee-data/geotracks/internal/geodata/mapspec"
	"github.com/banshee-data/geotracks/internal/geodata/pipeline"
	"github.com/banshee-data/geotracks/internal/geodata/stats"
	"github.com/banshee-data/geotracks/internal/monitoring"
	"github.com/banshee-data/geotracks/internal/render"
	"github.com/banshee-data/geotracks/internal/units"
)

var logf = monitoring.Tagged("jobs")

// Progress checkpoints reported while a job runs.
const (
	ProgressStarted   = 10
	ProgressPrepared  = 30
	ProgressAnalyzed  = 55
	ProgressRendered  = 80
	ProgressCompleted = 100
)

// MapsURLPrefix is the URL path under which map artifacts are served.
const MapsURLPrefix = "/api/maps/"

// Results is the payload stored for a completed job.
type Results struct {
	MapURL       string        `json:"mapUrl"`
	GeoJSONURL   string        `json:"geojsonUrl"`
	HistogramURL string        `json:"histogramUrl,omitempty"`
	Statistics   stats.Summary `json:"statistics"`
}

// Manager coordinates job lifecycle. It is safe for concurrent use.
type Manager struct {
	store   *db.JobStore
	cfg     *config.AnalysisConfig
	mapsDir string
	sem     chan struct{}
	now     func() time.Time

	ctx      context.Context
	shutdown context.CancelFunc
	wg       sync.WaitGroup

	mu      sync.Mutex
	cancels map[string]context.CancelFunc

	// onProgress is called after each recorded checkpoint; tests use it to
	// pause a job at a known stage.
	onProgress func(id string, progress int)
}

// NewManager creates a manager writing map artifacts to mapsDir.
func NewManager(store *db.JobStore, cfg *config.AnalysisConfig, mapsDir string) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		store:    store,
		cfg:      cfg,
		mapsDir:  mapsDir,
		sem:      make(chan struct{}, cfg.GetMaxConcurrentJobs()),
		now:      time.Now,
		ctx:      ctx,
		shutdown: cancel,
		cancels:  make(map[string]context.CancelFunc),
	}
}

// MapsDir returns the directory holding map artifacts.
func (m *Manager) MapsDir() string { return m.mapsDir }

// NewJobID returns an id of the form job_xxxxxxxx.
func NewJobID() string {
	return "job_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
}

// Submit validates job, records it as pending and starts it in the
// background. uploadPath must name a readable CSV file.
func (m *Manager) Submit(id string, job config.JobConfig, uploadPath, uploadName string) (*db.Job, error) {
	if err := job.Validate(); err != nil {
		return nil, err
	}
	cfgJSON, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("encode job config: %w", err)
	}
	rec := &db.Job{
		ID:           id,
		AnalysisType: job.AnalysisType,
		Status:       db.StatusPending,
		ConfigJSON:   cfgJSON,
		UploadPath:   uploadPath,
		UploadName:   uploadName,
		CreatedAt:    m.now().UnixNano(),
	}
	if err := m.store.Insert(rec); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(m.ctx)
	m.mu.Lock()
	m.cancels[id] = cancel
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer m.forget(id)
		m.run(ctx, id, job, uploadPath)
	}()

	logf("queued %s (%s) from %s", id, job.AnalysisType, uploadName)
	return rec, nil
}

// Get returns the job record.
func (m *Manager) Get(id string) (*db.Job, error) { return m.store.Get(id) }

// List returns jobs newest first.
func (m *Manager) List(limit int) ([]*db.Job, error) { return m.store.List(limit) }

// ActiveJobs returns the number of pending or running jobs.
func (m *Manager) ActiveJobs() int {
	n, err := m.store.CountActive()
	if err != nil {
		logf("count active jobs: %v", err)
		return 0
	}
	return n
}

// Cancel marks the job cancelled and interrupts it at the next stage
// boundary. Work already done is discarded.
func (m *Manager) Cancel(id string) error {
	if err := m.store.Cancel(id, m.now()); err != nil {
		return err
	}
	m.mu.Lock()
	cancel := m.cancels[id]
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	logf("cancelled %s", id)
	return nil
}

// Purge deletes a finished job together with its upload and map artifacts.
// A job must be cancelled and have stopped before it can be purged.
func (m *Manager) Purge(id string) error {
	j, err := m.store.Get(id)
	if err != nil {
		return err
	}
	m.mu.Lock()
	_, running := m.cancels[id]
	m.mu.Unlock()
	if running || !j.Status.Finished() {
		return fmt.Errorf("job %s: %w", id, db.ErrJobActive)
	}
	if err := m.store.Delete(id); err != nil {
		return err
	}
	if j.UploadPath != "" {
		if err := os.Remove(j.UploadPath); err != nil && !os.IsNotExist(err) {
			logf("remove upload of %s: %v", id, err)
		}
	}
	m.removeArtifacts(id)
	logf("purged %s", id)
	return nil
}

// Wait blocks until every submitted job has finished.
func (m *Manager) Wait() { m.wg.Wait() }

// Shutdown interrupts running jobs and waits for them or for ctx.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.shutdown()
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) forget(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cancel, ok := m.cancels[id]; ok {
		cancel()
		delete(m.cancels, id)
	}
}

func (m *Manager) run(ctx context.Context, id string, job config.JobConfig, uploadPath string) {
	select {
	case m.sem <- struct{}{}:
		defer func() { <-m.sem }()
	case <-ctx.Done():
		m.interrupted(id, ctx.Err())
		return
	}

	started, err := m.store.Start(id, m.now())
	if err != nil {
		logf("start %s: %v", id, err)
		return
	}
	if !started {
		logf("%s no longer pending; skipping", id)
		return
	}

	results, err := m.execute(ctx, id, job, uploadPath)
	if err != nil {
		if ctx.Err() != nil {
			m.interrupted(id, err)
			return
		}
		logf("%s failed: %v", id, err)
		m.fail(id, err.Error())
		return
	}

	payload, err := json.Marshal(results)
	if err != nil {
		logf("%s failed: encode results: %v", id, err)
		m.fail(id, fmt.Sprintf("encode results: %v", err))
		return
	}
	ok, err := m.store.Complete(id, payload, m.now())
	if err != nil {
		logf("complete %s: %v", id, err)
		return
	}
	if !ok {
		logf("%s was cancelled; discarding results", id)
		m.removeArtifacts(id)
		return
	}
	m.progress(id, ProgressCompleted)
	logf("completed %s: %d records, %d vehicles", id, results.Statistics.TotalRecords, results.Statistics.UniqueVehicles)
}

// fail records msg as the job's error. A job that already reached a final
// status is left unchanged.
func (m *Manager) fail(id, msg string) {
	if _, err := m.store.Fail(id, msg, m.now()); err != nil {
		logf("record failure of %s: %v", id, err)
	}
}

// interrupted handles a job stopped by Cancel or Shutdown. A cancelled job
// already has its final status; a shutdown leaves it to be failed on the
// next start.
func (m *Manager) interrupted(id string, err error) {
	m.removeArtifacts(id)
	if m.ctx.Err() != nil {
		logf("%s interrupted by shutdown: %v", id, err)
		return
	}
	logf("%s stopped: %v", id, err)
}

func (m *Manager) execute(ctx context.Context, id string, job config.JobConfig, uploadPath string) (*Results, error) {
	m.progress(id, ProgressStarted)

	f, err := os.Open(uploadPath)
	if err != nil {
		return nil, fmt.Errorf("open upload: %w", err)
	}
	ds, err := pipeline.Prepare(f, &job, m.cfg)
	f.Close()
	if err != nil {
		return nil, err
	}
	if err := m.checkpoint(ctx, id, ProgressPrepared); err != nil {
		return nil, err
	}

	res, err := pipeline.Analyze(ds, &job, m.cfg)
	if err != nil {
		return nil, err
	}
	if err := m.checkpoint(ctx, id, ProgressAnalyzed); err != nil {
		return nil, err
	}

	out := &Results{Statistics: res.Summary}
	if out.MapURL, out.GeoJSONURL, err = m.writeMap(id, res); err != nil {
		return nil, err
	}
	if err := m.writeHistogram(id, ds.Speeds()); err == nil {
		out.HistogramURL = MapsURLPrefix + id + "_speeds.png"
	} else if !errors.Is(err, render.ErrNoSpeeds) {
		return nil, err
	}
	if err := m.checkpoint(ctx, id, ProgressRendered); err != nil {
		return nil, err
	}
	return out, nil
}

func (m *Manager) checkpoint(ctx context.Context, id string, progress int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.progress(id, progress)
	return ctx.Err()
}

func (m *Manager) progress(id string, progress int) {
	if progress < ProgressCompleted {
		if _, err := m.store.SetProgress(id, progress); err != nil {
			logf("progress %s: %v", id, err)
		}
	}
	if m.onProgress != nil {
		m.onProgress(id, progress)
	}
}

// writeMap writes <id>.html and <id>.geojson. The HTML page is written even
// when the map has no layers so the map URL always resolves.
func (m *Manager) writeMap(id string, res *pipeline.Result) (mapURL, geojsonURL string, err error) {
	if err := os.MkdirAll(m.mapsDir, 0o755); err != nil {
		return "", "", fmt.Errorf("create maps dir: %w", err)
	}

	var html bytes.Buffer
	if err := render.WriteMapHTML(&html, &res.Map, &res.Summary); err != nil {
		return "", "", err
	}
	if err := writeFileAtomic(filepath.Join(m.mapsDir, id+".html"), html.Bytes()); err != nil {
		return "", "", err
	}

	gj, err := mapspec.ToGeoJSON(&res.Map).MarshalJSON()
	if err != nil {
		return "", "", fmt.Errorf("encode geojson: %w", err)
	}
	if err := writeFileAtomic(filepath.Join(m.mapsDir, id+".geojson"), gj); err != nil {
		return "", "", err
	}
	return MapsURLPrefix + id + ".html", MapsURLPrefix + id + ".geojson", nil
}

func (m *Manager) writeHistogram(id string, speeds []float64) error {
	var buf bytes.Buffer
	if err := render.WriteSpeedHistogramPNG(&buf, speeds, 0, "Speed distribution", units.KMPH); err != nil {
		return err
	}
	return writeFileAtomic(filepath.Join(m.mapsDir, id+"_speeds.png"), buf.Bytes())
}

func (m *Manager) removeArtifacts(id string) {
	for _, name := range []string{id + ".html", id + ".geojson", id + "_speeds.png"} {
		if err := os.Remove(filepath.Join(m.mapsDir, name)); err != nil && !os.IsNotExist(err) {
			logf("remove %s: %v", name, err)
		}
	}
}

func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename %s: %w", filepath.Base(path), err)
	}
	return nil
}

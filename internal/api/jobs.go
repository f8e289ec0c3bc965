package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/banshee-data/geotracks/internal/config"
	"github.com/banshee-data/geotracks/internal/db"
	"github.com/banshee-data/geotracks/internal/httputil"
	"github.com/banshee-data/geotracks/internal/jobs"
	"github.com/banshee-data/geotracks/internal/monitoring"
)

// multipartMemory is the part of a multipart body held in memory before
// ParseMultipartForm spills file parts to disk.
const multipartMemory = 32 << 20

// formSlack covers the non-file form fields and multipart framing on top
// of the upload size limit.
const formSlack = 1 << 20

// JobView is the API representation of a job.
type JobView struct {
	ID          string          `json:"id"`
	Status      db.Status       `json:"status"`
	Config      json.RawMessage `json:"config,omitempty"`
	CreatedAt   string          `json:"createdAt"`
	StartedAt   *string         `json:"startedAt"`
	CompletedAt *string         `json:"completedAt"`
	Error       *string         `json:"error"`
	Progress    int             `json:"progress"`
	Results     json.RawMessage `json:"results,omitempty"`
}

func formatNanos(ns int64) string {
	return time.Unix(0, ns).UTC().Format(time.RFC3339Nano)
}

func optionalTime(ns *int64) *string {
	if ns == nil {
		return nil
	}
	s := formatNanos(*ns)
	return &s
}

func newJobView(j *db.Job) JobView {
	v := JobView{
		ID:          j.ID,
		Status:      j.Status,
		Config:      j.ConfigJSON,
		CreatedAt:   formatNanos(j.CreatedAt),
		StartedAt:   optionalTime(j.StartedAt),
		CompletedAt: optionalTime(j.CompletedAt),
		Progress:    j.Progress,
		Results:     j.ResultsJSON,
	}
	if j.Error != "" {
		msg := j.Error
		v.Error = &msg
	}
	return v
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.listJobs(w, r)
	case http.MethodPost:
		s.createJob(w, r)
	default:
		httputil.MethodNotAllowed(w)
	}
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	switch r.Method {
	case http.MethodGet:
		j, err := s.jobs.Get(id)
		if errors.Is(err, db.ErrJobNotFound) {
			httputil.NotFound(w, "Job not found")
			return
		}
		if err != nil {
			httputil.InternalServerError(w, err.Error())
			return
		}
		httputil.WriteJSONOK(w, newJobView(j))
	case http.MethodDelete:
		if r.URL.Query().Get("purge") == "true" {
			s.purgeJob(w, id)
			return
		}
		err := s.jobs.Cancel(id)
		switch {
		case errors.Is(err, db.ErrJobNotFound):
			httputil.NotFound(w, "Job not found")
		case errors.Is(err, db.ErrJobFinished):
			httputil.BadRequest(w, "Cannot cancel completed job")
		case err != nil:
			httputil.InternalServerError(w, err.Error())
		default:
			httputil.WriteJSONOK(w, map[string]bool{"success": true})
		}
	default:
		httputil.MethodNotAllowed(w)
	}
}

// purgeJob serves DELETE /api/jobs/{id}?purge=true, removing a finished job
// with its upload and map artifacts.
func (s *Server) purgeJob(w http.ResponseWriter, id string) {
	err := s.jobs.Purge(id)
	switch {
	case errors.Is(err, db.ErrJobNotFound):
		httputil.NotFound(w, "Job not found")
	case errors.Is(err, db.ErrJobActive):
		httputil.WriteJSONError(w, http.StatusConflict, "Cancel the job before purging it")
	case err != nil:
		httputil.InternalServerError(w, err.Error())
	default:
		httputil.WriteJSONOK(w, map[string]bool{"success": true})
	}
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			httputil.BadRequest(w, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	list, err := s.jobs.List(limit)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	views := make([]JobView, 0, len(list))
	for _, j := range list {
		views = append(views, newJobView(j))
	}
	httputil.WriteJSONOK(w, views)
}

func (s *Server) maxUploadBytes() int64 {
	return int64(s.cfg.GetMaxUploadMB()) << 20
}

func isCSVUpload(h *multipart.FileHeader) bool {
	if strings.EqualFold(filepath.Ext(h.Filename), ".csv") {
		return true
	}
	return strings.Contains(strings.ToLower(h.Header.Get("Content-Type")), "csv")
}

// parseJobForm builds the job config from the multipart form fields.
func parseJobForm(r *http.Request) (config.JobConfig, error) {
	job := config.JobConfig{AnalysisType: r.FormValue("analysisType")}
	if err := config.ParseJSONObject(r.FormValue("filters"), &job.Filters); err != nil {
		return job, fmt.Errorf("filters: %w", err)
	}
	if err := config.ParseJSONObject(r.FormValue("visualization"), &job.Visualization); err != nil {
		return job, fmt.Errorf("visualization: %w", err)
	}
	if raw := strings.TrimSpace(r.FormValue("maxProcessRows")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return job, fmt.Errorf("maxProcessRows must be an integer")
		}
		job.MaxProcessRows = &n
	}
	return job, job.Validate()
}

func (s *Server) createJob(w http.ResponseWriter, r *http.Request) {
	limit := s.maxUploadBytes()
	r.Body = http.MaxBytesReader(w, r.Body, limit+formSlack)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httputil.PayloadTooLarge(w, "CSV too large")
			return
		}
		httputil.BadRequest(w, "invalid multipart form: "+err.Error())
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("csvFile")
	if err != nil {
		httputil.BadRequest(w, "csvFile is required")
		return
	}
	defer file.Close()
	if !isCSVUpload(header) {
		httputil.BadRequest(w, "File must be a CSV")
		return
	}
	if header.Size > limit {
		httputil.PayloadTooLarge(w, "CSV too large")
		return
	}

	job, err := parseJobForm(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	id := jobs.NewJobID()
	name := filepath.Base(header.Filename)
	path, err := s.saveUpload(id, name, file, limit)
	if errors.Is(err, errUploadTooLarge) {
		httputil.PayloadTooLarge(w, "CSV too large")
		return
	}
	if err != nil {
		monitoring.Logf("save upload for %s: %v", id, err)
		httputil.InternalServerError(w, "failed to store upload")
		return
	}

	rec, err := s.jobs.Submit(id, job, path, name)
	if err != nil {
		os.Remove(path)
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, newJobView(rec))
}

var errUploadTooLarge = errors.New("upload exceeds size limit")

// saveUpload copies the upload to <uploadsDir>/<id>_<name>.
func (s *Server) saveUpload(id, name string, src io.Reader, limit int64) (string, error) {
	if err := os.MkdirAll(s.uploadsDir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(s.uploadsDir, id+"_"+name)
	dst, err := os.Create(path)
	if err != nil {
		return "", err
	}
	n, err := io.Copy(dst, io.LimitReader(src, limit+1))
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err == nil && n > limit {
		err = errUploadTooLarge
	}
	if err != nil {
		os.Remove(path)
		return "", err
	}
	return path, nil
}

package api

import (
	"errors"
	"net/http"
	"os"
	"strconv"

	"github.com/banshee-data/geotracks/internal/db"
	"github.com/banshee-data/geotracks/internal/geodata"
	"github.com/banshee-data/geotracks/internal/geodata/stats"
	"github.com/banshee-data/geotracks/internal/httputil"
)

// trafficSource picks the upload to query: the named job's, or the newest
// job upload still on disk. ok is false when there is nothing to read.
func (s *Server) trafficSource(jobID string) (path string, ok bool, status int, msg string) {
	if jobID != "" {
		j, err := s.jobs.Get(jobID)
		if errors.Is(err, db.ErrJobNotFound) {
			return "", false, http.StatusNotFound, "Job not found"
		}
		if err != nil {
			return "", false, http.StatusInternalServerError, err.Error()
		}
		if _, err := os.Stat(j.UploadPath); err != nil {
			return "", false, http.StatusNotFound, "Job data file not found"
		}
		return j.UploadPath, true, 0, ""
	}

	list, err := s.jobs.List(0)
	if err != nil {
		return "", false, http.StatusInternalServerError, err.Error()
	}
	for _, j := range list {
		if j.UploadPath == "" {
			continue
		}
		if _, err := os.Stat(j.UploadPath); err == nil {
			return j.UploadPath, true, 0, ""
		}
	}
	return "", false, 0, ""
}

func parseFloatParam(r *http.Request, name string, def float64, required bool) (float64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		if required {
			return 0, errors.New(name + " is required")
		}
		return def, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, errors.New(name + " must be a number")
	}
	return v, nil
}

func parseIntParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New(name + " must be an integer")
	}
	return v, nil
}

func (s *Server) handleTrafficAnalysis(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	var q stats.TrafficQuery
	var err error
	if q.Lat, err = parseFloatParam(r, "lat", 0, true); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if q.Lng, err = parseFloatParam(r, "lng", 0, true); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if q.RadiusM, err = parseFloatParam(r, "radius_m", stats.DefaultTrafficRadiusM, false); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if q.WindowSec, err = parseIntParam(r, "time_window_sec", 30); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	path, ok, status, msg := s.trafficSource(r.URL.Query().Get("job_id"))
	if status != 0 {
		httputil.WriteJSONError(w, status, msg)
		return
	}
	if !ok {
		httputil.WriteJSONOK(w, stats.TrafficReport{Message: "No data available"})
		return
	}

	f, err := os.Open(path)
	if err != nil {
		httputil.NotFound(w, "Job data file not found")
		return
	}
	defer f.Close()
	in, err := geodata.Ingest(f)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	rep, err := stats.AnalyzeTraffic(in.Points, q)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, rep)
}

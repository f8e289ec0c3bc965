package api

import (
	"net/http"
	"time"

	"github.com/banshee-data/geotracks/internal/httputil"
)

type healthResponse struct {
	Status         string  `json:"status"`
	Version        string  `json:"version"`
	Timestamp      string  `json:"timestamp"`
	MaxProcessRows int     `json:"max_process_rows"`
	EFKgPerKm      float64 `json:"ef_kg_per_km"`
	ActiveJobs     int     `json:"active_jobs"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, healthResponse{
		Status:         "healthy",
		Version:        s.version,
		Timestamp:      s.now().UTC().Format(time.RFC3339),
		MaxProcessRows: s.cfg.GetMaxProcessRows(),
		EFKgPerKm:      s.cfg.GetEmissionsFactorKgPerKm(),
		ActiveJobs:     s.jobs.ActiveJobs(),
	})
}

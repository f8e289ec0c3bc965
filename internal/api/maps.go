package api

import (
	"errors"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/banshee-data/geotracks/internal/httputil"
)

var artifactTypes = map[string]string{
	".html":    "text/html; charset=utf-8",
	".geojson": "application/geo+json",
	".png":     "image/png",
}

// validArtifactName reports whether name is a plain file name in the maps
// directory with a known artifact extension.
func validArtifactName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	if strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return false
	}
	_, ok := artifactTypes[strings.ToLower(filepath.Ext(name))]
	return ok
}

func (s *Server) handleMap(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		httputil.MethodNotAllowed(w)
		return
	}
	name := r.PathValue("filename")
	if !validArtifactName(name) {
		httputil.BadRequest(w, "Invalid filename")
		return
	}

	root, err := os.OpenRoot(s.jobs.MapsDir())
	if err != nil {
		httputil.NotFound(w, "Map not found")
		return
	}
	defer root.Close()

	f, err := root.Open(name)
	if errors.Is(err, fs.ErrNotExist) {
		httputil.NotFound(w, "Map not found")
		return
	}
	if err != nil {
		httputil.BadRequest(w, "Invalid filename")
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		httputil.NotFound(w, "Map not found")
		return
	}
	w.Header().Set("Content-Type", artifactTypes[strings.ToLower(filepath.Ext(name))])
	http.ServeContent(w, r, name, info.ModTime(), f)
}

package api

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"lynus-agent/pkg/version"
)

const serviceName = "Lynus AI Backend"

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": serviceName,
		"version": version.Version,
	})
}

// staticHandler serves a single-page app from dir, falling back to
// index.html for unknown paths. Without an index it answers with a banner.
// Unmatched /api/ paths always get a JSON 404.
func staticHandler(dir string) http.Handler {
	files := http.FileServer(http.Dir(dir))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/") || r.URL.Path == "/api" {
			writeError(w, http.StatusNotFound, "Endpoint not found")
			return
		}
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		index := filepath.Join(dir, "index.html")
		if dir == "" || !isFile(index) {
			writeBanner(w)
			return
		}
		clean := filepath.Clean("/" + r.URL.Path)
		if clean != "/" && isFile(filepath.Join(dir, filepath.FromSlash(clean))) {
			files.ServeHTTP(w, r)
			return
		}
		http.ServeFile(w, r, index)
	})
}

func writeBanner(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]any{
		"message": serviceName + " is running",
		"version": version.Version,
		"endpoints": map[string]string{
			"auth":   "/api/auth",
			"tasks":  "/api/tasks",
			"agent":  "/api/agent",
			"health": "/api/health",
		},
	})
}

func isFile(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && !fi.IsDir()
}

package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gorilla/mux"
)

// adminHandler serves operational endpoints. It runs on its own listener
// so none of its routes can shadow a cached file.
func (s *Server) adminHandler() http.Handler {
	router := mux.NewRouter()

	router.Handle("/metrics", s.metrics.Handler()).Methods("GET")
	router.HandleFunc("/health", s.healthHandler).Methods("GET", "HEAD")
	router.HandleFunc("/cache", s.cacheIndexHandler).Methods("GET", "HEAD")

	return recoveryMiddleware(s.logger, loggingMiddleware(s.logger, router))
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status":        "healthy",
		"timestamp":     time.Now().Format(time.RFC3339),
		"version":       s.version,
		"uptime":        time.Since(s.started).Round(time.Second).String(),
		"cache_entries": s.cache.Len(),
		"cache_bytes":   s.cache.Size(),
		"cache_size":    humanize.IBytes(uint64(s.cache.Size())),
		"tls":           s.tlsConfig != nil,
	}

	writeJSON(w, health)
}

type cacheIndexEntry struct {
	Path        string    `json:"path"`
	Size        int64     `json:"size"`
	ContentType string    `json:"content_type"`
	ETag        string    `json:"etag"`
	ModTime     time.Time `json:"mod_time"`
	GzipSize    int       `json:"gzip_size,omitempty"`
}

func (s *Server) cacheIndexHandler(w http.ResponseWriter, r *http.Request) {
	paths := s.cache.Paths()
	entries := make([]cacheIndexEntry, 0, len(paths))
	for _, p := range paths {
		e, ok := s.cache.Lookup(p)
		if !ok {
			continue
		}
		entries = append(entries, cacheIndexEntry{
			Path:        e.Path,
			Size:        e.Size(),
			ContentType: e.ContentType,
			ETag:        e.ETag,
			ModTime:     e.ModTime,
			GzipSize:    len(e.Gzip),
		})
	}

	writeJSON(w, map[string]interface{}{
		"count":   len(entries),
		"bytes":   s.cache.Size(),
		"entries": entries,
	})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	jsonData, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		http.Error(w, "500 internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(jsonData)
}

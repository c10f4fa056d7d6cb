package server

import (
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/JamesGuthrie/httpserve/internal/cache"
	"github.com/JamesGuthrie/httpserve/internal/metrics"
)

// HandlerOptions tune how cache entries are served.
type HandlerOptions struct {
	// IndexFile is looked up for request paths ending in "/". Empty
	// disables the fallback.
	IndexFile string
	// Gzip serves precompressed variants to clients that accept them.
	Gzip bool

	Metrics *metrics.Metrics
}

// Handler answers GET and HEAD requests from the cache. It never touches
// the filesystem.
type Handler struct {
	cache *cache.Cache
	opts  HandlerOptions
}

// NewHandler creates a handler over c. A nil cache serves 404 for
// everything.
func NewHandler(c *cache.Cache, opts HandlerOptions) *Handler {
	return &Handler{cache: c, opts: opts}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "405 method not allowed", http.StatusMethodNotAllowed)
		return
	}

	entry, ok := h.resolve(r.URL.Path)
	h.opts.Metrics.RecordCacheAccess(ok)
	if !ok {
		http.Error(w, "404 page not found", http.StatusNotFound)
		return
	}

	h.serveEntry(w, r, entry)
}

// resolve maps a request path to a cache entry. A path ending in "/"
// only ever resolves to its index document, so "/index.html/" is a miss.
func (h *Handler) resolve(raw string) (*cache.Entry, bool) {
	key, ok := normalizePath(raw)
	if !ok {
		return nil, false
	}
	if strings.HasSuffix(key, "/") {
		if h.opts.IndexFile == "" {
			return nil, false
		}
		return h.cache.Lookup(key + h.opts.IndexFile)
	}
	return h.cache.Lookup(key)
}

// normalizePath turns a decoded request path into a cache key. Paths that
// are empty, relative or carry a NUL byte have no key. A trailing "/"
// survives cleaning so directory requests stay distinguishable from files.
func normalizePath(raw string) (string, bool) {
	if raw == "" || raw[0] != '/' {
		return "", false
	}
	if strings.IndexByte(raw, 0) >= 0 {
		return "", false
	}
	// Clean resolves every ".." against the leading "/", so the key can
	// never climb above the root.
	clean := path.Clean(raw)
	if clean != "/" && strings.HasSuffix(raw, "/") {
		clean += "/"
	}
	return clean, true
}

func (h *Handler) serveEntry(w http.ResponseWriter, r *http.Request, entry *cache.Entry) {
	hdr := w.Header()

	body := entry.Content
	etag := entry.ETag
	if h.opts.Gzip && entry.Gzip != nil {
		hdr.Add("Vary", "Accept-Encoding")
		if acceptsGzip(r.Header.Get("Accept-Encoding")) {
			body = entry.Gzip
			etag = gzipETag(entry.ETag)
			hdr.Set("Content-Encoding", "gzip")
		}
	}

	if etag != "" {
		hdr.Set("ETag", etag)
	}
	if !entry.ModTime.IsZero() {
		hdr.Set("Last-Modified", entry.ModTime.UTC().Format(http.TimeFormat))
	}

	if notModified(r, etag, entry.ModTime) {
		hdr.Del("Content-Encoding")
		w.WriteHeader(http.StatusNotModified)
		return
	}

	hdr.Set("Content-Type", entry.ContentType)
	hdr.Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(http.StatusOK)

	if r.Method == http.MethodHead {
		return
	}
	w.Write(body)
}

// notModified evaluates If-None-Match, or If-Modified-Since when no entity
// tag was sent.
func notModified(r *http.Request, etag string, modTime time.Time) bool {
	if inm := r.Header.Get("If-None-Match"); inm != "" {
		return etagMatches(inm, etag)
	}
	ims := r.Header.Get("If-Modified-Since")
	if ims == "" || modTime.IsZero() {
		return false
	}
	t, err := http.ParseTime(ims)
	if err != nil {
		return false
	}
	return !modTime.Truncate(time.Second).After(t)
}

// etagMatches applies the weak comparison If-None-Match requires.
func etagMatches(header, etag string) bool {
	if etag == "" {
		return false
	}
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" {
			return true
		}
		if strings.TrimPrefix(candidate, "W/") == strings.TrimPrefix(etag, "W/") {
			return true
		}
	}
	return false
}

func gzipETag(etag string) string {
	if etag == "" {
		return ""
	}
	return strings.TrimSuffix(etag, `"`) + `-gzip"`
}

// acceptsGzip reports whether an Accept-Encoding header allows gzip.
func acceptsGzip(header string) bool {
	for _, part := range strings.Split(header, ",") {
		coding, params, _ := strings.Cut(strings.TrimSpace(part), ";")
		coding = strings.ToLower(strings.TrimSpace(coding))
		if coding != "gzip" && coding != "*" {
			continue
		}
		q := strings.TrimSpace(params)
		if strings.HasPrefix(q, "q=") {
			if v, err := strconv.ParseFloat(strings.TrimPrefix(q, "q="), 64); err == nil && v == 0 {
				continue
			}
		}
		return true
	}
	return false
}

package server

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/JamesGuthrie/httpserve/internal/cache"
	"github.com/JamesGuthrie/httpserve/internal/metrics"
)

var testModTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// newTestCache builds a small site: an index page and an empty
// stylesheet.
func newTestCache(t *testing.T) *cache.Cache {
	t.Helper()
	b := cache.NewBuilder()
	for _, e := range []*cache.Entry{
		{Path: "/index.html", Content: []byte("hello world!"), ContentType: "text/html", ETag: `"abc"`, ModTime: testModTime},
		{Path: "/css/site.css", Content: []byte{}, ContentType: "text/css", ETag: `"empty"`, ModTime: testModTime},
		{Path: "/docs/index.html", Content: []byte("docs"), ContentType: "text/html", ETag: `"docs"`, ModTime: testModTime},
	} {
		if err := b.Add(e); err != nil {
			t.Fatal(err)
		}
	}
	return b.Build()
}

func gzipped(t *testing.T, s string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	zw.Write([]byte(s))
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestHandlerGet(t *testing.T) {
	h := NewHandler(newTestCache(t), HandlerOptions{IndexFile: "index.html"})

	tests := []struct {
		name        string
		path        string
		status      int
		body        string
		contentType string
	}{
		{"index", "/index.html", http.StatusOK, "hello world!", "text/html"},
		{"empty stylesheet", "/css/site.css", http.StatusOK, "", "text/css"},
		{"root falls back to index", "/", http.StatusOK, "hello world!", "text/html"},
		{"directory with index", "/docs/", http.StatusOK, "docs", "text/html"},
		{"directory without slash", "/docs", http.StatusNotFound, "404 page not found\n", ""},
		{"directory without index", "/css/", http.StatusNotFound, "404 page not found\n", ""},
		{"missing", "/nope.html", http.StatusNotFound, "404 page not found\n", ""},
		{"case sensitive", "/INDEX.html", http.StatusNotFound, "404 page not found\n", ""},
		{"dot segments", "/css/../index.html", http.StatusOK, "hello world!", "text/html"},
		{"double slash", "//index.html", http.StatusOK, "hello world!", "text/html"},
		{"escape attempt", "/../../etc/passwd", http.StatusNotFound, "404 page not found\n", ""},
		{"backslash", "/css\\site.css", http.StatusNotFound, "404 page not found\n", ""},
		{"file with trailing slash", "/index.html/", http.StatusNotFound, "404 page not found\n", ""},
		{"stylesheet with trailing slash", "/css/site.css/", http.StatusNotFound, "404 page not found\n", ""},
		{"dot segments to directory", "/docs/x/../", http.StatusOK, "docs", "text/html"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			r.URL.Path = tt.path
			w := httptest.NewRecorder()
			h.ServeHTTP(w, r)

			if w.Code != tt.status {
				t.Fatalf("status = %d, want %d", w.Code, tt.status)
			}
			if w.Body.String() != tt.body {
				t.Errorf("body = %q, want %q", w.Body.String(), tt.body)
			}
			if tt.contentType != "" {
				if got := w.Header().Get("Content-Type"); got != tt.contentType {
					t.Errorf("Content-Type = %q, want %q", got, tt.contentType)
				}
				if got := w.Header().Get("Content-Length"); got != strconv.Itoa(len(tt.body)) {
					t.Errorf("Content-Length = %q, want %d", got, len(tt.body))
				}
			}
		})
	}
}

func TestHandlerIndexFallbackDisabled(t *testing.T) {
	h := NewHandler(newTestCache(t), HandlerOptions{})

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 with no index document", w.Code)
	}
}

func TestHandlerMethodNotAllowed(t *testing.T) {
	h := NewHandler(newTestCache(t), HandlerOptions{IndexFile: "index.html"})

	for _, method := range []string{"POST", "PUT", "DELETE", "PATCH", "OPTIONS"} {
		t.Run(method, func(t *testing.T) {
			w := httptest.NewRecorder()
			h.ServeHTTP(w, httptest.NewRequest(method, "/index.html", nil))

			if w.Code != http.StatusMethodNotAllowed {
				t.Errorf("status = %d, want 405", w.Code)
			}
			if got := w.Header().Get("Allow"); got != "GET, HEAD" {
				t.Errorf("Allow = %q", got)
			}
		})
	}
}

func TestHandlerHead(t *testing.T) {
	h := NewHandler(newTestCache(t), HandlerOptions{})

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("HEAD", "/index.html", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if w.Body.Len() != 0 {
		t.Errorf("HEAD wrote a body: %q", w.Body.String())
	}
	if got := w.Header().Get("Content-Length"); got != "12" {
		t.Errorf("Content-Length = %q, want 12", got)
	}
}

func TestHandlerConditional(t *testing.T) {
	h := NewHandler(newTestCache(t), HandlerOptions{})

	tests := []struct {
		name   string
		header string
		value  string
		status int
	}{
		{"matching etag", "If-None-Match", `"abc"`, http.StatusNotModified},
		{"weak etag", "If-None-Match", `W/"abc"`, http.StatusNotModified},
		{"etag list", "If-None-Match", `"zzz", "abc"`, http.StatusNotModified},
		{"wildcard", "If-None-Match", `*`, http.StatusNotModified},
		{"stale etag", "If-None-Match", `"old"`, http.StatusOK},
		{"not modified since", "If-Modified-Since", testModTime.Format(http.TimeFormat), http.StatusNotModified},
		{"modified since", "If-Modified-Since", testModTime.Add(-time.Hour).Format(http.TimeFormat), http.StatusOK},
		{"bad date", "If-Modified-Since", "yesterday", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/index.html", nil)
			r.Header.Set(tt.header, tt.value)
			w := httptest.NewRecorder()
			h.ServeHTTP(w, r)

			if w.Code != tt.status {
				t.Fatalf("status = %d, want %d", w.Code, tt.status)
			}
			if w.Header().Get("ETag") != `"abc"` {
				t.Errorf("ETag = %q", w.Header().Get("ETag"))
			}
			if tt.status == http.StatusNotModified && w.Body.Len() != 0 {
				t.Errorf("304 carried a body")
			}
		})
	}
}

func TestHandlerGzip(t *testing.T) {
	page := strings.Repeat("<p>compress me</p>", 100)
	gz := gzipped(t, page)

	b := cache.NewBuilder()
	b.Add(&cache.Entry{Path: "/page.html", Content: []byte(page), ContentType: "text/html", ETag: `"page"`, Gzip: gz})
	c := b.Build()

	tests := []struct {
		name     string
		enabled  bool
		accept   string
		wantGzip bool
	}{
		{"accepted", true, "gzip, deflate, br", true},
		{"wildcard", true, "*", true},
		{"not accepted", true, "br", false},
		{"refused with q=0", true, "gzip;q=0, identity", false},
		{"no header", true, "", false},
		{"disabled", false, "gzip", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandler(c, HandlerOptions{Gzip: tt.enabled})
			r := httptest.NewRequest("GET", "/page.html", nil)
			if tt.accept != "" {
				r.Header.Set("Accept-Encoding", tt.accept)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, r)

			encoded := w.Header().Get("Content-Encoding") == "gzip"
			if encoded != tt.wantGzip {
				t.Fatalf("Content-Encoding = %q, want gzip %v", w.Header().Get("Content-Encoding"), tt.wantGzip)
			}
			want := []byte(page)
			if tt.wantGzip {
				want = gz
			}
			if !bytes.Equal(w.Body.Bytes(), want) {
				t.Error("unexpected body")
			}
			if tt.enabled && w.Header().Get("Vary") != "Accept-Encoding" {
				t.Errorf("Vary = %q", w.Header().Get("Vary"))
			}
			if tt.wantGzip && w.Header().Get("ETag") == `"page"` {
				t.Error("gzip variant shares the identity ETag")
			}
			if w.Header().Get("Content-Type") != "text/html" {
				t.Errorf("Content-Type = %q", w.Header().Get("Content-Type"))
			}
		})
	}
}

func TestHandlerNilCache(t *testing.T) {
	h := NewHandler(nil, HandlerOptions{IndexFile: "index.html"})
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestHandlerCountsCacheAccess(t *testing.T) {
	m := metrics.New()
	h := NewHandler(newTestCache(t), HandlerOptions{Metrics: m})

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/index.html", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/missing", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("POST", "/index.html", nil))

	if got := testutil.ToFloat64(m.CacheHits); got != 1 {
		t.Errorf("hits = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.CacheMisses); got != 1 {
		t.Errorf("misses = %v, want 1", got)
	}
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"/", "/", true},
		{"/a/b.css", "/a/b.css", true},
		{"/a/./b.css", "/a/b.css", true},
		{"/a/../../b.css", "/b.css", true},
		{"/a/", "/a/", true},
		{"/a/b/../", "/a/", true},
		{"/a/..", "/", true},
		{"", "", false},
		{"a/b", "", false},
		{"/a\x00b", "", false},
		{"/a\\b", "/a\\b", true},
	}

	for _, tt := range tests {
		got, ok := normalizePath(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("normalizePath(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

// newManyFileCache returns a cache of n small text files.
func newManyFileCache(t *testing.T, n int) *cache.Cache {
	t.Helper()
	b := cache.NewBuilder()
	for i := 0; i < n; i++ {
		err := b.Add(&cache.Entry{
			Path:        fmt.Sprintf("/file-%03d.txt", i),
			Content:     []byte(fmt.Sprintf("content %d", i)),
			ContentType: "text/plain",
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	return b.Build()
}

package server

import (
	"crypto/tls"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/JamesGuthrie/httpserve/internal/cache"
	"github.com/JamesGuthrie/httpserve/internal/config"
	"github.com/JamesGuthrie/httpserve/internal/logging"
	"github.com/JamesGuthrie/httpserve/internal/metrics"
	"github.com/JamesGuthrie/httpserve/internal/security"
)

// Listener names.
const (
	HTTPListener  = "http"
	HTTPSListener = "https"
	AdminListener = "admin"
)

// Options carry the collaborators of a Server.
type Options struct {
	Logger  *logging.Logger
	Metrics *metrics.Metrics
	// TLSConfig enables the HTTPS listener.
	TLSConfig *tls.Config
	Version   string
}

// Server owns the listeners that serve one cache.
type Server struct {
	cfg       *config.ServerConfig
	cache     *cache.Cache
	logger    *logging.Logger
	metrics   *metrics.Metrics
	limiter   *security.RateLimiter
	tlsConfig *tls.Config
	version   string
	started   time.Time

	mu        sync.Mutex
	listeners []*listener

	shutdownOnce sync.Once
	shutdownErr  error
}

type listener struct {
	name string
	srv  *http.Server
	ln   net.Listener
	tls  bool
}

package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/JamesGuthrie/httpserve/internal/cache"
	"github.com/JamesGuthrie/httpserve/internal/config"
	"github.com/JamesGuthrie/httpserve/internal/logging"
	"github.com/JamesGuthrie/httpserve/internal/security"
)

const defaultShutdownTimeout = 30 * time.Second

// New creates a server for a loaded cache. Nothing is bound until Listen.
func New(cfg *config.ServerConfig, c *cache.Cache, opts Options) (*Server, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewDiscard()
	}

	s := &Server{
		cfg:       cfg,
		cache:     c,
		logger:    logger,
		metrics:   opts.Metrics,
		tlsConfig: opts.TLSConfig,
		version:   opts.Version,
		started:   time.Now(),
	}

	if cfg.RateLimit.Rate > 0 {
		limiter, err := security.NewRateLimiter(security.RateLimitConfig{
			Rate:    cfg.RateLimit.Rate,
			Burst:   cfg.RateLimit.Burst,
			Clients: cfg.RateLimit.Clients,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("create rate limiter: %w", err)
		}
		s.limiter = limiter
	}

	return s, nil
}

// Handler returns the public request chain.
func (s *Server) Handler() http.Handler {
	return s.buildHandler(s.cfg.TLS.Port)
}

// buildHandler wraps the cache handler in the middleware chain. tlsPort is
// where plaintext clients are redirected to.
func (s *Server) buildHandler(tlsPort int) http.Handler {
	var handler http.Handler = NewHandler(s.cache, HandlerOptions{
		IndexFile: s.cfg.IndexFile,
		Gzip:      s.cfg.Gzip,
		Metrics:   s.metrics,
	})

	// innermost first
	handler = RedirectMiddleware(s.cfg.RedirectHTTP, RedirectOptions{
		TLSPort:    tlsPort,
		TrustProxy: s.cfg.TrustProxy,
	})(handler)
	handler = security.SecurityHeadersMiddleware(handler)
	if s.limiter != nil {
		handler = s.limiter.Middleware(handler)
	}
	handler = s.metrics.HTTPMiddleware(handler)
	handler = loggingMiddleware(s.logger, handler)
	handler = requestIDMiddleware(handler)
	handler = recoveryMiddleware(s.logger, handler)

	return handler
}

// Listen binds every configured listener. If one fails the ones already
// bound are closed again.
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.listeners) > 0 {
		return errors.New("server already listening")
	}

	type binding struct {
		name string
		addr string
		tls  bool
	}
	bindings := []binding{{HTTPListener, s.cfg.ListenAddr(), false}}
	if s.tlsConfig != nil {
		bindings = append(bindings, binding{HTTPSListener, s.cfg.TLSListenAddr(), true})
	}
	if s.cfg.AdminAddress != "" {
		bindings = append(bindings, binding{AdminListener, s.cfg.AdminAddress, false})
	}

	var bound []*listener
	for _, sp := range bindings {
		ln, err := net.Listen("tcp", sp.addr)
		if err != nil {
			for _, l := range bound {
				l.ln.Close()
			}
			return fmt.Errorf("listen %s on %s: %w", sp.name, sp.addr, err)
		}
		bound = append(bound, &listener{name: sp.name, ln: ln, tls: sp.tls})
	}
	s.listeners = bound

	// handlers are built once every address is known
	tlsPort := s.cfg.TLS.Port
	for _, l := range bound {
		if tcp, ok := l.ln.Addr().(*net.TCPAddr); ok && l.tls {
			tlsPort = tcp.Port
		}
	}
	public := s.buildHandler(tlsPort)
	for _, l := range bound {
		handler := public
		if l.name == AdminListener {
			handler = s.adminHandler()
		}
		l.srv = &http.Server{
			Handler:      handler,
			ReadTimeout:  s.cfg.ReadTimeout,
			WriteTimeout: s.cfg.WriteTimeout,
			IdleTimeout:  s.cfg.IdleTimeout,
		}
		if l.tls {
			l.srv.TLSConfig = s.tlsConfig.Clone()
		}
		s.logger.Info("Listening", map[string]interface{}{
			"listener": l.name,
			"address":  l.ln.Addr().String(),
		})
	}

	return nil
}

// Addr returns the bound address of a listener, or nil.
func (s *Server) Addr(name string) net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, l := range s.listeners {
		if l.name == name {
			return l.ln.Addr()
		}
	}
	return nil
}

// Serve runs every bound listener until ctx is cancelled or one of them
// fails, then shuts all of them down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	listeners := s.listeners
	s.mu.Unlock()

	if len(listeners) == 0 {
		return errors.New("server is not listening")
	}

	g, gctx := errgroup.WithContext(ctx)
	// one listener stopping for any reason stops the rest
	gctx, stop := context.WithCancel(gctx)
	defer stop()

	for _, l := range listeners {
		g.Go(func() error {
			defer stop()

			var err error
			if l.tls {
				err = l.srv.ServeTLS(l.ln, "", "")
			} else {
				err = l.srv.Serve(l.ln)
			}
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("%s listener: %w", l.name, err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()

		timeout := s.cfg.ShutdownTimeout
		if timeout <= 0 {
			timeout = defaultShutdownTimeout
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		return s.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// Shutdown gracefully stops every listener. Later calls return the result
// of the first.
func (s *Server) Shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(func() {
		s.shutdownErr = s.shutdown(ctx)
	})
	return s.shutdownErr
}

func (s *Server) shutdown(ctx context.Context) error {
	s.mu.Lock()
	listeners := s.listeners
	s.mu.Unlock()

	s.logger.Info("Shutting down server", nil)

	var errs []error
	for _, l := range listeners {
		if err := l.srv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s listener: %w", l.name, err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	s.logger.Info("Server shutdown completed", nil)
	return nil
}

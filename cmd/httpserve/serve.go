package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/JamesGuthrie/httpserve/internal/acme"
	"github.com/JamesGuthrie/httpserve/internal/config"
	"github.com/JamesGuthrie/httpserve/internal/loader"
	"github.com/JamesGuthrie/httpserve/internal/logging"
	"github.com/JamesGuthrie/httpserve/internal/metrics"
	"github.com/JamesGuthrie/httpserve/internal/server"
)

// run loads the cache, binds every listener and serves until ctx is done.
// Nothing is bound if loading fails.
func run(ctx context.Context, cfg *config.ServerConfig) error {
	logger, err := newLogger(cfg.Log)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Close()
	logger.StartAutoRotate(time.Minute, ctx.Done())

	maxBytes, err := cfg.MaxCacheBytes()
	if err != nil {
		return err
	}

	start := time.Now()
	c, err := loader.Load(cfg.Root, loader.Options{
		MaxBytes: maxBytes,
		Gzip:     cfg.Gzip,
		Logger:   logger,
	})
	if err != nil {
		logger.Error("Failed to load directory", map[string]interface{}{"root": cfg.Root, "error": err})
		return err
	}

	m := metrics.New()
	m.UpdateCache(c.Len(), c.Size(), time.Since(start))

	var tlsConfig *tls.Config
	if cfg.TLSEnabled() {
		tlsConfig, err = acme.ServerTLSConfig(cfg, logger)
		if err != nil {
			return fmt.Errorf("configure tls: %w", err)
		}
	}

	srv, err := server.New(cfg, c, server.Options{
		Logger:    logger,
		Metrics:   m,
		TLSConfig: tlsConfig,
		Version:   version,
	})
	if err != nil {
		return fmt.Errorf("create server: %w", err)
	}

	if err := srv.Listen(); err != nil {
		return err
	}
	logger.Info("Server started", map[string]interface{}{
		"address":  cfg.ListenAddr(),
		"tls":      tlsConfig != nil,
		"redirect": cfg.RedirectHTTP,
		"version":  version,
	})

	if err := srv.Serve(ctx); err != nil {
		return err
	}
	logger.Info("Server stopped", nil)
	return nil
}

func newLogger(cfg config.LogConfig) (*logging.Logger, error) {
	level, err := logging.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	format := logging.HumanFormat
	if cfg.Format == string(logging.JSONFormat) {
		format = logging.JSONFormat
	}
	return logging.NewLogger(logging.Config{
		Format: format,
		Level:  level,
		Dir:    cfg.Dir,
	})
}

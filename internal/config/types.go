package config

import (
	"net"
	"strconv"
	"time"
)

// ServerConfig is the effective configuration of one httpserve process.
type ServerConfig struct {
	Root         string `yaml:"root" mapstructure:"root"`
	Address      string `yaml:"address" mapstructure:"address"`
	Port         int    `yaml:"port" mapstructure:"port"`
	RedirectHTTP bool   `yaml:"redirect_http" mapstructure:"redirect_http"`
	// TrustProxy lets X-Forwarded-Proto decide whether a request is
	// plaintext. Only enable it behind a proxy that controls the header.
	TrustProxy   bool   `yaml:"trust_proxy" mapstructure:"trust_proxy"`

	IndexFile    string `yaml:"index" mapstructure:"index"`
	Gzip         bool   `yaml:"gzip" mapstructure:"gzip"`
	MaxCacheSize string `yaml:"max_cache_size" mapstructure:"max_cache_size"`

	ReadTimeout     time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`

	AdminAddress string `yaml:"admin_address" mapstructure:"admin_address"`

	TLS       TLSConfig       `yaml:"tls" mapstructure:"tls"`
	ACME      ACMEConfig      `yaml:"acme" mapstructure:"acme"`
	RateLimit RateLimitConfig `yaml:"rate_limit" mapstructure:"rate_limit"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// TLSConfig configures the HTTPS listener from certificate files.
type TLSConfig struct {
	Port     int    `yaml:"port" mapstructure:"port"`
	CertFile string `yaml:"cert" mapstructure:"cert"`
	KeyFile  string `yaml:"key" mapstructure:"key"`
}

// ACMEConfig configures automatic certificates. Domains must resolve to
// this host and port 80 must reach it for the http-01 challenge.
type ACMEConfig struct {
	Domains []string `yaml:"domains" mapstructure:"domains"`
	Email   string   `yaml:"email" mapstructure:"email"`
	Dir     string   `yaml:"dir" mapstructure:"dir"`
	CA      string   `yaml:"ca" mapstructure:"ca"`
}

// RateLimitConfig configures per-client token buckets. Rate 0 disables it.
type RateLimitConfig struct {
	Rate    float64 `yaml:"rate" mapstructure:"rate"`
	Burst   int64   `yaml:"burst" mapstructure:"burst"`
	Clients int     `yaml:"clients" mapstructure:"clients"`
}

// LogConfig selects the log format, level and destination. An empty Dir
// logs to stdout.
type LogConfig struct {
	Format string `yaml:"format" mapstructure:"format"`
	Level  string `yaml:"level" mapstructure:"level"`
	Dir    string `yaml:"dir" mapstructure:"dir"`
}

// LetsEncryptCA is the production ACME directory used by default.
const LetsEncryptCA = "https://acme-v02.api.letsencrypt.org/directory"

// Default returns the built-in configuration.
func Default() *ServerConfig {
	return &ServerConfig{
		Address:         "127.0.0.1",
		Port:            3000,
		IndexFile:       "index.html",
		MaxCacheSize:    "0",
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: 30 * time.Second,
		TLS: TLSConfig{
			Port: 3443,
		},
		ACME: ACMEConfig{
			Dir: "certs",
			CA:  LetsEncryptCA,
		},
		RateLimit: RateLimitConfig{
			Clients: 10000,
		},
		Log: LogConfig{
			Format: "human",
			Level:  "info",
		},
	}
}

// ListenAddr is the plaintext listener address.
func (c *ServerConfig) ListenAddr() string {
	return net.JoinHostPort(c.Address, strconv.Itoa(c.Port))
}

// TLSListenAddr is the HTTPS listener address.
func (c *ServerConfig) TLSListenAddr() string {
	return net.JoinHostPort(c.Address, strconv.Itoa(c.TLS.Port))
}

// TLSEnabled reports whether an HTTPS listener should be started.
func (c *ServerConfig) TLSEnabled() bool {
	return c.TLS.CertFile != "" || len(c.ACME.Domains) > 0
}

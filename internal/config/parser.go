package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable, e.g. HTTPSERVE_PORT or
// HTTPSERVE_TLS_PORT.
const EnvPrefix = "HTTPSERVE"

// NewViper returns a viper instance with every key defaulted and
// environment lookup enabled. Flags are bound on top by the caller.
func NewViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v
}

// SetDefaults registers the values of Default under their config keys.
func SetDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("root", d.Root)
	v.SetDefault("address", d.Address)
	v.SetDefault("port", d.Port)
	v.SetDefault("redirect_http", d.RedirectHTTP)
	v.SetDefault("trust_proxy", d.TrustProxy)
	v.SetDefault("index", d.IndexFile)
	v.SetDefault("gzip", d.Gzip)
	v.SetDefault("max_cache_size", d.MaxCacheSize)
	v.SetDefault("read_timeout", d.ReadTimeout)
	v.SetDefault("write_timeout", d.WriteTimeout)
	v.SetDefault("idle_timeout", d.IdleTimeout)
	v.SetDefault("shutdown_timeout", d.ShutdownTimeout)
	v.SetDefault("admin_address", d.AdminAddress)

	v.SetDefault("tls.port", d.TLS.Port)
	v.SetDefault("tls.cert", d.TLS.CertFile)
	v.SetDefault("tls.key", d.TLS.KeyFile)

	v.SetDefault("acme.domains", []string{})
	v.SetDefault("acme.email", d.ACME.Email)
	v.SetDefault("acme.dir", d.ACME.Dir)
	v.SetDefault("acme.ca", d.ACME.CA)

	v.SetDefault("rate_limit.rate", d.RateLimit.Rate)
	v.SetDefault("rate_limit.burst", d.RateLimit.Burst)
	v.SetDefault("rate_limit.clients", d.RateLimit.Clients)

	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.dir", d.Log.Dir)
}

// Load reads the optional config file named by the "config" key and
// unmarshals the merged result. It does not validate.
func Load(v *viper.Viper) (*ServerConfig, error) {
	if file := v.GetString("config"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", file, err)
		}
	}

	var cfg ServerConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration before anything is loaded or bound.
func (c *ServerConfig) Validate() error {
	var errs []error

	if c.Root == "" {
		errs = append(errs, &ConfigError{Field: "root", Message: "a directory to serve is required"})
	}
	if c.Port < 0 || c.Port > 65535 {
		errs = append(errs, &ConfigError{Field: "port", Message: fmt.Sprintf("%d is not a valid port", c.Port)})
	}
	if c.TLS.Port < 0 || c.TLS.Port > 65535 {
		errs = append(errs, &ConfigError{Field: "tls.port", Message: fmt.Sprintf("%d is not a valid port", c.TLS.Port)})
	}
	if (c.TLS.CertFile == "") != (c.TLS.KeyFile == "") {
		errs = append(errs, &ConfigError{Field: "tls", Message: "cert and key must be set together"})
	}
	if c.TLS.CertFile != "" && len(c.ACME.Domains) > 0 {
		errs = append(errs, &ConfigError{Field: "acme.domains", Message: "cannot be combined with tls.cert"})
	}
	if _, err := c.MaxCacheBytes(); err != nil {
		errs = append(errs, &ConfigError{Field: "max_cache_size", Message: err.Error()})
	}
	if strings.Contains(c.IndexFile, "/") {
		errs = append(errs, &ConfigError{Field: "index", Message: "must be a file name"})
	}
	if c.RateLimit.Rate < 0 || c.RateLimit.Burst < 0 {
		errs = append(errs, &ConfigError{Field: "rate_limit", Message: "must not be negative"})
	}
	switch c.Log.Format {
	case "", "human", "json":
	default:
		errs = append(errs, &ConfigError{Field: "log.format", Message: fmt.Sprintf("unknown format %q", c.Log.Format)})
	}

	return errors.Join(errs...)
}

// MaxCacheBytes parses MaxCacheSize. Zero means unlimited.
func (c *ServerConfig) MaxCacheBytes() (int64, error) {
	if c.MaxCacheSize == "" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(c.MaxCacheSize)
	if err != nil {
		return 0, err
	}
	return int64(n), nil
}

// Dump renders the configuration as YAML.
func Dump(c *ServerConfig) ([]byte, error) {
	return yaml.Marshal(c)
}

// ConfigError names the offending key.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

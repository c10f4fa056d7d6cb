package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.ListenAddr() != "127.0.0.1:3000" {
		t.Errorf("ListenAddr() = %q, want 127.0.0.1:3000", cfg.ListenAddr())
	}
	if cfg.TLSListenAddr() != "127.0.0.1:3443" {
		t.Errorf("TLSListenAddr() = %q", cfg.TLSListenAddr())
	}
	if cfg.RedirectHTTP {
		t.Error("redirect must be off by default")
	}
	if cfg.TrustProxy {
		t.Error("forwarded headers must not be trusted by default")
	}
	if cfg.TLSEnabled() {
		t.Error("TLS must be off by default")
	}
	if cfg.IndexFile != "index.html" {
		t.Errorf("IndexFile = %q", cfg.IndexFile)
	}
	if cfg.ShutdownTimeout != 30*time.Second {
		t.Errorf("ShutdownTimeout = %v", cfg.ShutdownTimeout)
	}
	if n, err := cfg.MaxCacheBytes(); err != nil || n != 0 {
		t.Errorf("MaxCacheBytes() = %d, %v", n, err)
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(NewViper())
	if err != nil {
		t.Fatal(err)
	}
	want := Default()
	if cfg.Address != want.Address || cfg.Port != want.Port || cfg.TLS.Port != want.TLS.Port {
		t.Errorf("Load() = %+v, want defaults", cfg)
	}
	if cfg.ReadTimeout != want.ReadTimeout || cfg.ACME.CA != want.ACME.CA {
		t.Errorf("Load() = %+v, want defaults", cfg)
	}
}

func TestLoadPrecedence(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "httpserve.yaml")
	body := `
address: 0.0.0.0
port: 8000
gzip: true
tls:
  port: 8443
log:
  format: json
`
	if err := os.WriteFile(file, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("HTTPSERVE_PORT", "8080")
	t.Setenv("HTTPSERVE_TLS_PORT", "9443")
	t.Setenv("HTTPSERVE_ACME_DOMAINS", "example.com,www.example.com")
	t.Setenv("HTTPSERVE_TRUST_PROXY", "true")

	v := NewViper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.IntP("port", "p", 3000, "")
	fs.String("config", "", "")
	if err := v.BindPFlag("port", fs.Lookup("port")); err != nil {
		t.Fatal(err)
	}
	if err := v.BindPFlag("config", fs.Lookup("config")); err != nil {
		t.Fatal(err)
	}
	if err := fs.Parse([]string{"-p", "9000", "--config", file}); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(v)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		got  interface{}
		want interface{}
	}{
		{"flag beats env and file", cfg.Port, 9000},
		{"env beats file", cfg.TLS.Port, 9443},
		{"file beats default", cfg.Address, "0.0.0.0"},
		{"file bool", cfg.Gzip, true},
		{"nested file key", cfg.Log.Format, "json"},
		{"default survives", cfg.IndexFile, "index.html"},
		{"env bool", cfg.TrustProxy, true},
		{"env list", strings.Join(cfg.ACME.Domains, " "), "example.com www.example.com"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %v, want %v", tt.got, tt.want)
			}
		})
	}
}

func TestLoadMissingConfigFile(t *testing.T) {
	v := NewViper()
	v.Set("config", filepath.Join(t.TempDir(), "missing.yaml"))

	if _, err := Load(v); err == nil {
		t.Fatal("Load() with a missing config file succeeded")
	}
}

func TestValidate(t *testing.T) {
	valid := func() *ServerConfig {
		cfg := Default()
		cfg.Root = "/srv/www"
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*ServerConfig)
		field  string
	}{
		{"valid", func(*ServerConfig) {}, ""},
		{"ephemeral port", func(c *ServerConfig) { c.Port = 0 }, ""},
		{"missing root", func(c *ServerConfig) { c.Root = "" }, "root"},
		{"port too large", func(c *ServerConfig) { c.Port = 70000 }, "port"},
		{"negative tls port", func(c *ServerConfig) { c.TLS.Port = -1 }, "tls.port"},
		{"cert without key", func(c *ServerConfig) { c.TLS.CertFile = "cert.pem" }, "tls"},
		{"cert and acme", func(c *ServerConfig) {
			c.TLS.CertFile, c.TLS.KeyFile = "cert.pem", "key.pem"
			c.ACME.Domains = []string{"example.com"}
		}, "acme.domains"},
		{"bad cache size", func(c *ServerConfig) { c.MaxCacheSize = "lots" }, "max_cache_size"},
		{"index with slash", func(c *ServerConfig) { c.IndexFile = "a/index.html" }, "index"},
		{"negative rate", func(c *ServerConfig) { c.RateLimit.Rate = -1 }, "rate_limit"},
		{"unknown log format", func(c *ServerConfig) { c.Log.Format = "xml" }, "log.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()

			if tt.field == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			var ce *ConfigError
			if !errors.As(err, &ce) {
				t.Fatalf("Validate() error = %v, want *ConfigError", err)
			}
			if ce.Field != tt.field {
				t.Errorf("Field = %q, want %q", ce.Field, tt.field)
			}
		})
	}
}

func TestMaxCacheBytes(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"", 0},
		{"0", 0},
		{"512", 512},
		{"1KiB", 1024},
		{"2MB", 2000000},
		{"1 GiB", 1 << 30},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			cfg := Default()
			cfg.MaxCacheSize = tt.in
			got, err := cfg.MaxCacheBytes()
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("MaxCacheBytes(%q) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestTLSEnabled(t *testing.T) {
	cfg := Default()
	cfg.ACME.Domains = []string{"example.com"}
	if !cfg.TLSEnabled() {
		t.Error("ACME domains should enable TLS")
	}

	cfg = Default()
	cfg.TLS.CertFile, cfg.TLS.KeyFile = "cert.pem", "key.pem"
	if !cfg.TLSEnabled() {
		t.Error("certificate files should enable TLS")
	}
}

func TestDump(t *testing.T) {
	cfg := Default()
	cfg.Root = "/srv/www"

	data, err := Dump(cfg)
	if err != nil {
		t.Fatal(err)
	}
	out := string(data)
	for _, want := range []string{"root: /srv/www", "port: 3000", "read_timeout: 30s", "tls:", "port: 3443"} {
		if !strings.Contains(out, want) {
			t.Errorf("Dump() missing %q:\n%s", want, out)
		}
	}
}

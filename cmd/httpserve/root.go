package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/JamesGuthrie/httpserve/internal/config"
)

// flagKeys maps each persistent flag to its config key.
var flagKeys = map[string]string{
	"address":        "address",
	"port":           "port",
	"redirect-http":  "redirect_http",
	"trust-proxy":    "trust_proxy",
	"index":          "index",
	"gzip":           "gzip",
	"max-cache-size": "max_cache_size",
	"tls-port":       "tls.port",
	"tls-cert":       "tls.cert",
	"tls-key":        "tls.key",
	"acme-domain":    "acme.domains",
	"acme-email":     "acme.email",
	"acme-dir":       "acme.dir",
	"acme-ca":        "acme.ca",
	"admin-address":  "admin_address",
	"rate-limit":     "rate_limit.rate",
	"rate-burst":     "rate_limit.burst",
	"log-format":     "log.format",
	"log-level":      "log.level",
	"log-dir":        "log.dir",
	"config":         "config",
}

func newRootCmd() *cobra.Command {
	v := config.NewViper()

	cmd := &cobra.Command{
		Use:   "httpserve [flags] DIR",
		Short: "Serve a directory over HTTP from memory",
		Long: `httpserve loads every file below DIR into memory at startup and answers
all requests from that cache. The directory is never read again, so changes
on disk need a restart.`,
		Version:       version,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(v, args)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}
	cmd.SetVersionTemplate("httpserve version {{.Version}}\n")

	addFlags(cmd.PersistentFlags())
	cobra.CheckErr(bindFlags(v, cmd.PersistentFlags()))

	cmd.AddCommand(newConfigCmd(v))
	return cmd
}

func addFlags(fs *pflag.FlagSet) {
	d := config.Default()

	fs.StringP("address", "a", d.Address, "address to bind to")
	fs.IntP("port", "p", d.Port, "port to listen on")
	fs.BoolP("redirect-http", "r", false, "redirect plaintext requests to https")
	fs.Bool("trust-proxy", false, "trust X-Forwarded-Proto when deciding whether a request is plaintext")
	fs.String("index", d.IndexFile, "document served for paths ending in /, empty to disable")
	fs.Bool("gzip", false, "serve precompressed gzip variants to clients that accept them")
	fs.String("max-cache-size", d.MaxCacheSize, "refuse to load more than this much content, e.g. 512MiB (0 = unlimited)")

	fs.Int("tls-port", d.TLS.Port, "port of the https listener")
	fs.String("tls-cert", "", "certificate file for the https listener")
	fs.String("tls-key", "", "private key file for the https listener")
	fs.StringSlice("acme-domain", nil, "obtain a certificate for this domain via ACME (repeatable)")
	fs.String("acme-email", "", "contact email for the ACME account")
	fs.String("acme-dir", d.ACME.Dir, "directory holding ACME account and certificates")
	fs.String("acme-ca", d.ACME.CA, "ACME directory URL")

	fs.String("admin-address", "", "address for /metrics, /health and /cache (empty = disabled)")
	fs.Float64("rate-limit", 0, "requests per second allowed per client (0 = unlimited)")
	fs.Int64("rate-burst", 0, "burst size per client (default: rate rounded up)")

	fs.String("log-format", d.Log.Format, "log format: human or json")
	fs.String("log-level", d.Log.Level, "log level: debug, info, warning or error")
	fs.String("log-dir", "", "write logs to this directory instead of stdout")

	fs.String("config", "", "config file (yaml, toml or json)")
}

func bindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	for flag, key := range flagKeys {
		if err := v.BindPFlag(key, fs.Lookup(flag)); err != nil {
			return err
		}
	}
	return nil
}

// resolveConfig merges flags, environment, config file and defaults. A
// positional DIR overrides every other source for the root.
func resolveConfig(v *viper.Viper, args []string) (*config.ServerConfig, error) {
	if len(args) > 0 {
		v.Set("root", args[0])
	}
	return config.Load(v)
}

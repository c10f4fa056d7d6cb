package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/JamesGuthrie/httpserve/internal/config"
)

func newConfigCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "config [flags] [DIR]",
		Short: "Print the effective configuration",
		Long: `Print the configuration httpserve would run with, after merging flags,
HTTPSERVE_* environment variables, the config file and defaults.

Examples:
  httpserve config ./public
  HTTPSERVE_PORT=8080 httpserve config --gzip ./public > httpserve.yaml`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(v, args)
			if err != nil {
				return err
			}
			out, err := config.Dump(cfg)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
}

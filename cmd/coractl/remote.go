package main

import (
	"github.com/spf13/cobra"

	"github.com/cora-hq/cora/internal/smoke"
)

func newHealthCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check CORA server health",
		Long: `Check the health of a running CORA server.

Examples:
  coractl health
  coractl health --server https://api.cora.app`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := smoke.New(opts.serverURL, cmd.OutOrStdout()).Health(cmd.Context())
			if err != nil {
				return err
			}
			printf(cmd, "Server Status: %s\n", body.Get("status").String())
			printf(cmd, "Server URL: %s\n", opts.serverURL)
			printf(cmd, "Version: %s\n", body.Get("version").String())
			printf(cmd, "Database: %s\n", body.Get("database").String())
			if cache := body.Get("cache"); cache.Exists() {
				printf(cmd, "Cache: %s\n", cache.String())
			}
			printf(cmd, "Uptime: %ds\n", body.Get("uptime_seconds").Int())
			return nil
		},
	}
}

func newSmokeCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "smoke",
		Short: "Run the end-to-end smoke suite against a server",
		Long: `Register a throwaway account and exercise auth, expenses, onboarding,
feedback and chat against a running server. Exits non-zero on any failure.

Examples:
  coractl smoke --server http://localhost:8080`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := smoke.New(opts.serverURL, cmd.OutOrStdout()).Run(cmd.Context())
			return err
		},
	}
}

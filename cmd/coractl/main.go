// Package main implements coractl, the CORA operations CLI: schema migrations,
// feature flags, session cleanup, admin access and checks against a live server.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cora-hq/cora/internal/app"
	"github.com/cora-hq/cora/internal/config"
	"github.com/cora-hq/cora/internal/storage/sqlstore"
	"github.com/cora-hq/cora/pkg/logging"
)

// version is set with -ldflags.
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// options holds the persistent flags shared by every command.
type options struct {
	configPath string
	serverURL  string
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:   "coractl",
		Short: "Operate a CORA deployment",
		Long: `coractl manages the CORA database and checks a running server.

Database commands read the same configuration as the server: an optional
YAML file (--config), a .env file and CORA_* environment variables.`,
		Version:       version,
		SilenceUsage:  true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to a YAML config file")
	root.PersistentFlags().StringVar(&opts.serverURL, "server", "http://localhost:8080", "CORA server URL")

	root.AddCommand(
		newMigrateCmd(opts),
		newFlagsCmd(opts),
		newSessionsCmd(opts),
		newUsersCmd(opts),
		newHealthCmd(opts),
		newSmokeCmd(opts),
	)
	return root
}

func (o *options) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	logging.Setup(cfg.Log.Level, cfg.Log.Format)
	return cfg, nil
}

// openStore opens the configured database, migrating it the way the server does.
func (o *options) openStore() (*sqlstore.Store, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	return app.OpenStore(cfg)
}

// withStore runs fn against an opened store and closes it afterwards.
func (o *options) withStore(cmd *cobra.Command, fn func(ctx context.Context, store *sqlstore.Store) error) error {
	store, err := o.openStore()
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(cmd.Context(), store)
}

func printf(cmd *cobra.Command, format string, args ...any) {
	fmt.Fprintf(cmd.OutOrStdout(), format, args...)
}

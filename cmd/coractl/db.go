package main

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/cora-hq/cora/internal/auth"
	"github.com/cora-hq/cora/internal/events"
	"github.com/cora-hq/cora/internal/models"
	"github.com/cora-hq/cora/internal/service"
	"github.com/cora-hq/cora/internal/storage"
	"github.com/cora-hq/cora/internal/storage/sqlstore"
)

func newMigrateCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}

	// Migration commands open the store without migrating it first.
	open := func() (*sqlstore.Store, error) {
		cfg, err := opts.loadConfig()
		if err != nil {
			return nil, err
		}
		return sqlstore.Open(cfg.Database.Driver, cfg.Database.DSN.Value())
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				store, err := open()
				if err != nil {
					return err
				}
				defer store.Close()
				if err := store.Migrate(); err != nil {
					return err
				}
				return printVersion(cmd, store)
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the most recent migration",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				store, err := open()
				if err != nil {
					return err
				}
				defer store.Close()
				if err := store.MigrateDown(); err != nil {
					return err
				}
				return printVersion(cmd, store)
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the current schema version",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				store, err := open()
				if err != nil {
					return err
				}
				defer store.Close()
				return printVersion(cmd, store)
			},
		},
	)
	return cmd
}

func printVersion(cmd *cobra.Command, store *sqlstore.Store) error {
	version, dirty, applied, err := store.Version()
	if err != nil {
		return err
	}
	switch {
	case !applied:
		printf(cmd, "schema version: none\n")
	case dirty:
		printf(cmd, "schema version: %d (dirty)\n", version)
	default:
		printf(cmd, "schema version: %d\n", version)
	}
	return nil
}

func newFlagsCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "flags",
		Short: "List and change feature flags",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List feature flags",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withStore(cmd, func(ctx context.Context, store *sqlstore.Store) error {
				flags, err := flagService(store).List(ctx)
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "NAME\tENABLED\tROLLOUT\tDESCRIPTION")
				for _, f := range flags {
					fmt.Fprintf(w, "%s\t%t\t%d%%\t%s\n", f.Name, f.Enabled, f.RolloutPercentage, f.Description)
				}
				return w.Flush()
			})
		},
	}

	var (
		enabled     bool
		rollout     int
		description string
	)
	set := &cobra.Command{
		Use:   "set NAME",
		Short: "Create or update a feature flag",
		Long: `Create or update a feature flag. Only the flags given are changed.

Examples:
  # Turn the sales chat off
  coractl flags set cora_chat --enabled=false

  # Roll receipt splitting out to a quarter of users
  coractl flags set receipt_split --enabled --rollout 25`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var in service.FlagInput
			if cmd.Flags().Changed("enabled") {
				in.Enabled = &enabled
			}
			if cmd.Flags().Changed("rollout") {
				in.RolloutPercentage = &rollout
			}
			if cmd.Flags().Changed("description") {
				in.Description = &description
			}
			if in.Enabled == nil && in.RolloutPercentage == nil && in.Description == nil {
				return errors.New("nothing to change: pass --enabled, --rollout or --description")
			}

			return opts.withStore(cmd, func(ctx context.Context, store *sqlstore.Store) error {
				flag, err := flagService(store).Upsert(ctx, "", args[0], in)
				if err != nil {
					return err
				}
				printf(cmd, "%s: enabled=%t rollout=%d%%\n", flag.Name, flag.Enabled, flag.RolloutPercentage)
				return nil
			})
		},
	}
	set.Flags().BoolVar(&enabled, "enabled", false, "turn the flag on or off")
	set.Flags().IntVar(&rollout, "rollout", 100, "percentage of subjects that see the flag (0-100)")
	set.Flags().StringVar(&description, "description", "", "human-readable description")

	cmd.AddCommand(list, set)
	return cmd
}

// flagService records CLI changes in the audit log without an actor.
func flagService(store *sqlstore.Store) *service.FlagService {
	return service.NewFlagService(store, service.NewAuditService(store), events.Noop{})
}

func newSessionsCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Manage login sessions",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "purge",
		Short: "Delete expired and revoked sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withStore(cmd, func(ctx context.Context, store *sqlstore.Store) error {
				start := time.Now()
				n, err := auth.NewSessionManager(store, nil).Purge(ctx)
				if err != nil {
					return err
				}
				printf(cmd, "purged %d sessions in %s\n", n, time.Since(start).Round(time.Millisecond))
				return nil
			})
		},
	})
	return cmd
}

func newUsersCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Manage user accounts",
	}

	setAdmin := func(admin bool) func(cmd *cobra.Command, args []string) error {
		return func(cmd *cobra.Command, args []string) error {
			return opts.withStore(cmd, func(ctx context.Context, store *sqlstore.Store) error {
				user, err := store.GetUserByEmail(ctx, models.NormalizeEmail(args[0]))
				if errors.Is(err, storage.ErrNotFound) {
					return fmt.Errorf("no user with email %s", args[0])
				}
				if err != nil {
					return err
				}
				if err := store.SetAdmin(ctx, user.ID, admin); err != nil {
					return err
				}
				action := service.ActionUserDemoted
				if admin {
					action = service.ActionUserPromoted
				}
				service.NewAuditService(store).RecordAction(ctx, user.ID, action, "user", user.ID, nil)
				printf(cmd, "%s: admin=%t\n", user.Email, admin)
				return nil
			})
		}
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "promote EMAIL",
			Short: "Grant admin access",
			Args:  cobra.ExactArgs(1),
			RunE:  setAdmin(true),
		},
		&cobra.Command{
			Use:   "demote EMAIL",
			Short: "Revoke admin access",
			Args:  cobra.ExactArgs(1),
			RunE:  setAdmin(false),
		},
	)
	return cmd
}

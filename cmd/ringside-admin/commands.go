package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/artpar/ringside/internal/config"
	"github.com/artpar/ringside/internal/engine"
	"github.com/artpar/ringside/internal/seed"
)

type app struct {
	configPath string
	verbose    bool
}

func rootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "ringside-admin",
		Short:         "Ringside maintenance: migrations, seed data, admin accounts",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "path to config file")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "log to stderr")

	root.AddCommand(a.migrateCmd())
	root.AddCommand(a.repairSchemaCmd())
	root.AddCommand(a.seedCmd())
	root.AddCommand(a.unseedCmd())
	root.AddCommand(a.batchesCmd())
	root.AddCommand(a.createAdminCmd())
	root.AddCommand(a.expirePaymentsCmd())
	return root
}

// open loads the config and opens the store, applying pending migrations.
func (a *app) open(cmd *cobra.Command) (*config.Config, *engine.Store, *slog.Logger, error) {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, nil, err
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if a.verbose {
		logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	if cfg.Database.Driver == "sqlite3" && cfg.Database.DSN != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Database.DSN), 0o755); err != nil {
			return nil, nil, nil, err
		}
	}
	store, err := engine.OpenDB(cfg.Database.Driver, cfg.Database.DSN, engine.Schema(), logger)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open database: %w", err)
	}
	return cfg, store, logger, nil
}

func (a *app) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, store, _, err := a.open(cmd)
			if err != nil {
				return err
			}
			defer store.Close()
			fmt.Fprintf(cmd.OutOrStdout(), "Database is up to date (%d resources).\n", len(store.Resources()))
			return nil
		},
	}
}

func (a *app) repairSchemaCmd() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "repair-schema",
		Short: "Add missing columns and backfill empty slugs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, store, _, err := a.open(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			actions, err := store.RepairSchema(cmd.Context(), dryRun)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(actions) == 0 {
				fmt.Fprintln(out, "Schema is consistent.")
				return nil
			}
			for _, action := range actions {
				fmt.Fprintln(out, action)
			}
			if dryRun {
				fmt.Fprintf(out, "Dry run: %d repairs not applied.\n", len(actions))
			} else {
				fmt.Fprintf(out, "Applied %d repairs.\n", len(actions))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "show repairs without applying them")
	return cmd
}

func (a *app) seedCmd() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "seed <file>",
		Short: "Insert the rows of a YAML seed file",
		Long: `Insert the rows of a YAML seed file as a named batch.

Rows are inserted parents first. "@resource:slug" values are replaced by the
reference id of that row. A failed run removes the rows it inserted.

Examples:
  ringside-admin seed seeds/demo.yaml
  ringside-admin seed seeds/demo.yaml --dry-run`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := seed.Load(args[0])
			if err != nil {
				return err
			}
			_, store, logger, err := a.open(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			result, err := seed.New(store, logger).Seed(cmd.Context(), f, dryRun)
			if err != nil {
				return err
			}
			printResult(cmd.OutOrStdout(), result, "Seeded", "Would seed")
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "validate and list rows without inserting them")
	return cmd
}

func (a *app) unseedCmd() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "unseed <batch>",
		Short: "Delete the rows a seed batch inserted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, store, logger, err := a.open(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			result, err := seed.New(store, logger).Unseed(cmd.Context(), args[0], dryRun)
			if err != nil {
				return err
			}
			printResult(cmd.OutOrStdout(), result, "Removed", "Would remove")
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "list rows without deleting them")
	return cmd
}

func (a *app) batchesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "batches",
		Short: "List applied seed batches",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, store, logger, err := a.open(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			batches, err := seed.New(store, logger).Batches(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(batches) == 0 {
				fmt.Fprintln(out, "No seed batches.")
				return nil
			}
			names := make([]string, 0, len(batches))
			for name := range batches {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				fmt.Fprintf(out, "%s\t%d rows\n", name, batches[name])
			}
			return nil
		},
	}
}

func (a *app) createAdminCmd() *cobra.Command {
	var email, name, password string
	cmd := &cobra.Command{
		Use:   "create-admin",
		Short: "Create an admin account or reset its password",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if password == "" {
				password = os.Getenv("RINGSIDE_ADMIN_PASSWORD")
			}
			if password == "" {
				return errors.New("--password or RINGSIDE_ADMIN_PASSWORD is required")
			}
			_, store, _, err := a.open(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			user, err := store.UpsertAdmin(cmd.Context(), email, name, password)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Admin %s (%s) is ready.\n", user.Email, user.ReferenceID)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "login email")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&password, "password", "", "password (or RINGSIDE_ADMIN_PASSWORD)")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func (a *app) expirePaymentsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "expire-payments",
		Short: "Fail bookings left unpaid past the pending TTL",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, store, logger, err := a.open(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			bus := engine.NewBus(store, logger)
			engine.RegisterHandlers(bus)
			expirer := engine.NewPaymentExpirer(store, bus, cfg.Payments.PendingTTL, cfg.Payments.SweepInterval, logger)

			n, err := expirer.Sweep(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Expired %d bookings.\n", n)
			return nil
		},
	}
}

func printResult(w io.Writer, result seed.Result, done, planned string) {
	verb := done
	if result.DryRun {
		verb = planned
	}
	for _, rec := range result.Records {
		ref := rec.ReferenceID
		if ref == "" {
			ref = "-"
		}
		fmt.Fprintf(w, "  %-9s %-24s %s\n", rec.Resource, ref, rec.Title)
	}
	fmt.Fprintf(w, "%s %d rows in batch %q.\n", verb, len(result.Records), result.Batch)
}

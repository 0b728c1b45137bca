package main

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/crmsync/backend/internal/application/syncsvc"
	"github.com/crmsync/backend/internal/domain/customer"
	"github.com/crmsync/backend/internal/infrastructure/scheduler"
	"github.com/crmsync/backend/internal/infrastructure/source"
)

type rootOptions struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "crmsync",
		Short: "Sync source customers into CRM contacts and deals",
		Long: `crmsync pulls customer records from the source API into a local cache
and reconciles every unsynced record into a CRM contact plus a deal.

Settings come from config.toml (., ./config, /etc/crmsync) and environment
variables with the CRMSYNC_ prefix or their legacy names.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "Path to config file (default: search config.toml)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level override (debug, info, warn, error)")
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return asUsage(err)
	})

	root.AddCommand(
		newInitDBCmd(opts),
		newImportAllCmd(opts),
		newImportTodayCmd(opts),
		newSyncCRMCmd(opts),
		newRunCmd(opts),
		newDaemonCmd(opts),
		newLoadFileCmd(opts),
		newStatusCmd(opts),
	)
	return root
}

// withApp builds the app, runs fn and always releases resources
func withApp(opts *rootOptions, daemon bool, fn func(a *app) error) error {
	a, err := newApp(opts.configPath, opts.logLevel, daemon)
	if err != nil {
		return err
	}
	defer a.close()
	return fn(a)
}

func newInitDBCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "init-db",
		Short: "Create the cache tables",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(opts, false, func(a *app) error {
				if _, err := a.openDatabase(); err != nil {
					return err
				}
				a.logger.Info("Database initialized",
					zap.String("driver", a.cfg.Database.Driver),
					zap.String("path", a.cfg.Database.Path),
				)
				return nil
			})
		},
	}
}

func newImportAllCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import-all",
		Short: "Import every source record into the cache",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(opts, false, func(a *app) error {
				svc, err := a.syncService()
				if err != nil {
					return err
				}
				res, err := svc.ImportAll(cmd.Context())
				printImport(cmd.OutOrStdout(), res)
				return err
			})
		},
	}
}

func newImportTodayCmd(opts *rootOptions) *cobra.Command {
	var day string
	cmd := &cobra.Command{
		Use:   "import-today",
		Short: "Import the records registered on one day (default: today)",
		Args:  usageArgs(cobra.NoArgs),
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			if day == "" {
				return nil
			}
			if _, err := time.Parse(syncsvc.DayLayout, day); err != nil {
				return asUsage(fmt.Errorf("--date must be YYYY-MM-DD, got %q", day))
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(opts, false, func(a *app) error {
				svc, err := a.syncService()
				if err != nil {
					return err
				}
				res, err := svc.ImportChangedToday(cmd.Context(), day)
				printImport(cmd.OutOrStdout(), res)
				return err
			})
		},
	}
	cmd.Flags().StringVar(&day, "date", "", "Reference date YYYY-MM-DD in the source timezone")
	return cmd
}

func newSyncCRMCmd(opts *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "sync-crm",
		Short: "Push unsynced cached customers into the CRM",
		Args:  usageArgs(cobra.NoArgs),
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			if limit < 0 {
				return asUsage(fmt.Errorf("--limit must not be negative"))
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(opts, false, func(a *app) error {
				svc, err := a.syncService()
				if err != nil {
					return err
				}
				res, err := svc.PushUnsynced(cmd.Context(), limit)
				printPush(cmd.OutOrStdout(), res)
				return err
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum records to push (0 = configured batch limit)")
	return cmd
}

func newRunCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Import everything, then push unsynced records",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(opts, false, func(a *app) error {
				svc, err := a.syncService()
				if err != nil {
					return err
				}
				imported, pushed, err := svc.Run(cmd.Context())
				printImport(cmd.OutOrStdout(), imported)
				printPush(cmd.OutOrStdout(), pushed)
				return err
			})
		},
	}
}

func newDaemonCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Run the sync loop until interrupted",
		Long: `Run the sync loop. On the first start a full import runs once; then every
interval the records registered today are imported and unsynced ones pushed.
SIGINT or SIGTERM stops the loop after the current step.`,
		Args: usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(opts, true, func(a *app) error {
				tally := &syncsvc.Tally{}
				svc, err := a.syncService(tally)
				if err != nil {
					return err
				}
				cfg := scheduler.DefaultSyncDaemonConfig()
				cfg.Interval = a.cfg.Sync.Interval
				daemon, err := scheduler.NewSyncDaemon(cfg, svc, a.logger)
				if err != nil {
					return err
				}

				start := time.Now()
				err = daemon.Run(cmd.Context())
				a.logger.Info("Daemon exited", since(start),
					zap.Int("imported", tally.Count(customer.EventImported)),
					zap.Int("synced", tally.Count(customer.EventSynced)),
					zap.Int("skipped", tally.Count(customer.EventSkipped)),
					zap.Int("deal_failures", tally.Count(customer.EventDealFailed)),
				)
				return err
			})
		},
	}
}

func newLoadFileCmd(opts *rootOptions) *cobra.Command {
	var (
		path        string
		commitEvery int
	)
	cmd := &cobra.Command{
		Use:   "load-file",
		Short: "Import a saved source response from disk",
		Args:  usageArgs(cobra.NoArgs),
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			if path == "" {
				return asUsage(fmt.Errorf("--path is required"))
			}
			if commitEvery < 0 {
				return asUsage(fmt.Errorf("--commit-every must not be negative"))
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(opts, false, func(a *app) error {
				scan, err := source.LoadFile(cmd.Context(), path)
				if err != nil {
					return err
				}
				svc, err := a.storeService()
				if err != nil {
					return err
				}
				res, err := svc.ImportFromFile(cmd.Context(), scan, commitEvery)
				printImport(cmd.OutOrStdout(), res)
				if err != nil {
					return err
				}
				counts, err := svc.Counts(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Cached customers: %d\n", counts.Total)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&path, "path", "", "Path to a saved JSON response ({\"items\": [...]})")
	cmd.Flags().IntVar(&commitEvery, "commit-every", 0, "Commit every N records (0 = configured value)")
	return cmd
}

func newStatusCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show cache totals and watermarks",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(opts, false, func(a *app) error {
				svc, err := a.storeService()
				if err != nil {
					return err
				}
				counts, err := svc.Counts(cmd.Context())
				if err != nil {
					return err
				}
				marks, err := svc.Watermarks(cmd.Context())
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Customers: %d total, %d synced, %d unsynced\n", counts.Total, counts.Synced, counts.Unsynced)
				if len(marks) == 0 {
					fmt.Fprintln(out, "Watermarks: none")
					return nil
				}
				fmt.Fprintln(out, "Watermarks:")
				for _, label := range slices.Sorted(maps.Keys(marks)) {
					fmt.Fprintf(out, "  %s = %s\n", label, marks[label])
				}
				return nil
			})
		},
	}
}

func printImport(w io.Writer, res syncsvc.ImportResult) {
	fmt.Fprintf(w, "Import %s: processed %d, imported %d, failed %d, pages %d",
		res.Label, res.Processed, res.Imported, res.Failed, res.Stats.Pages)
	if res.Stats.Truncated {
		fmt.Fprint(w, " (truncated at page limit)")
	}
	fmt.Fprintln(w)
}

func printPush(w io.Writer, res syncsvc.PushResult) {
	fmt.Fprintf(w, "Push: attempted %d, synced %d, skipped %d, failed %d\n",
		res.Attempted, res.Synced, res.Skipped, res.Failed)
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dharsanguruparan/indexqueue/internal/app"
	"github.com/dharsanguruparan/indexqueue/internal/config"
	"github.com/dharsanguruparan/indexqueue/internal/database"
	"github.com/dharsanguruparan/indexqueue/internal/worker"
)

var sitesFile string

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "indexqueue: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "indexqueue",
		Short: "Index queue operator CLI",
		Long: `indexqueue inspects and maintains the index queue: it rebuilds the queue of a site,
shows statistics and failed items, resets errors, runs an indexing pass and migrates the schema.
Connection settings are read from the INDEXQUEUE_* environment variables.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&sitesFile, "sites", "", "Site configuration file (overrides INDEXQUEUE_SITES_FILE)")
	cmd.AddCommand(
		newInitializeCmd(),
		newStatsCmd(),
		newErrorsCmd(),
		newResetErrorsCmd(),
		newIndexCmd(),
		newMigrateCmd(),
	)
	return cmd
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if sitesFile != "" {
		cfg.SitesFile = sitesFile
	}
	app.SetupLog(cfg.Debug)
	return cfg, nil
}

func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := app.New(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(cmd.Context(), a)
}

func rootArg(args []string) (int, error) {
	root, err := strconv.Atoi(args[0])
	if err != nil || root <= 0 {
		return 0, fmt.Errorf("invalid root page id %q", args[0])
	}
	return root, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newInitializeCmd() *cobra.Command {
	var configuration string
	cmd := &cobra.Command{
		Use:   "initialize <root>",
		Short: "Rebuild the queue of a site",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := rootArg(args)
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				counts, err := a.Queue.Initialize(ctx, root, configuration)
				if counts != nil {
					if perr := printJSON(cmd.OutOrStdout(), counts); perr != nil {
						return perr
					}
				}
				return err
			})
		},
	}
	cmd.Flags().StringVarP(&configuration, "configuration", "c", "", "Only initialize this indexing configuration")
	return cmd
}

func newStatsCmd() *cobra.Command {
	var configuration string
	cmd := &cobra.Command{
		Use:   "stats <root>",
		Short: "Show queue statistics of a site",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := rootArg(args)
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				stats, err := a.Queue.StatisticsBySite(ctx, root, configuration)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), stats)
			})
		},
	}
	cmd.Flags().StringVarP(&configuration, "configuration", "c", "", "Only count this indexing configuration")
	return cmd
}

func newErrorsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "errors <root>",
		Short: "List failed items of a site",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := rootArg(args)
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				items, err := a.Queue.ErrorsBySite(ctx, root)
				if err != nil {
					return err
				}
				for _, it := range items {
					fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s:%d\t%s\n", it.ID, it.ItemType, it.ItemUID, it.Errors)
				}
				return nil
			})
		},
	}
}

func newResetErrorsCmd() *cobra.Command {
	var item int64
	cmd := &cobra.Command{
		Use:   "reset-errors [root]",
		Short: "Clear error markers of a site, of one item, or of the whole queue",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				var (
					n   int64
					err error
				)
				switch {
				case item > 0:
					n, err = a.Queue.ResetErrorByItem(ctx, item)
				case len(args) == 1:
					root, rerr := rootArg(args)
					if rerr != nil {
						return rerr
					}
					n, err = a.Queue.ResetErrorsBySite(ctx, root)
				default:
					n, err = a.Queue.ResetAllErrors(ctx)
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "reset %d items\n", n)
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&item, "item", 0, "Only reset this queue item id")
	return cmd
}

func newIndexCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "index <root>",
		Short: "Run one indexing pass over the due items of a site",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := rootArg(args)
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				cfg := a.Config
				p := worker.NewProcessor(a.Queue, a.Indexer, a.Monitor, worker.Options{
					WorkerID:    cfg.WorkerID + "-cli",
					BatchSize:   cfg.IndexBatchSize,
					Concurrency: cfg.Concurrency,
					Lease:       cfg.LeaseDuration,
				})
				sum, err := p.RunSite(ctx, root, limit)
				if perr := printJSON(cmd.OutOrStdout(), sum); perr != nil {
					return perr
				}
				return err
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Maximum number of items (defaults to INDEXQUEUE_BATCH_SIZE)")
	return cmd
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the queue tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			pool, err := database.Connect(cmd.Context(), cfg.DatabaseURL, 1)
			if err != nil {
				return err
			}
			defer pool.Close()
			if err := database.EnsureSchema(cmd.Context(), pool); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
			return nil
		},
	}
}

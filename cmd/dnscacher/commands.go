package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/lc/dnscacher/internal/buildinfo"
	"github.com/lc/dnscacher/internal/config"
	"github.com/lc/dnscacher/internal/mapping"
	"github.com/lc/dnscacher/internal/reconcile"
)

func newRootCmd(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "dnscacher",
		Short: "Cache domain to IPv4 mappings for ipset blocklists",
		Long: `dnscacher resolves the domains of a blocklist, keeps the results in a
persistent cache and prints them or loads them into an ipset.`,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			switch cmd.CommandPath() {
			case "dnscacher version", "dnscacher config init":
				return nil
			}
			return a.setup(cmd)
		},
	}

	f := rootCmd.PersistentFlags()
	f.StringVar(&a.flags.config, "config", "", "Configuration file (default "+config.DefaultPath()+")")
	f.StringSliceVarP(&a.flags.output, "output", "o", nil, "Output kinds: ips, domains, mappings, ipset")
	f.IntVarP(&a.flags.jobs, "jobs", "j", config.DefaultJobs, "Maximum lookups in flight")
	f.StringVarP(&a.flags.logLevel, "loglevel", "l", "info", "Log level: debug, info, warn, error")
	f.StringVarP(&a.flags.mappings, "mappings", "m", "", "Mappings file")
	f.StringVarP(&a.flags.ipset, "ipset", "i", config.DefaultIPSetName, "ipset name")
	f.IntVarP(&a.flags.part, "part", "p", config.DefaultPart, "Percentage of cached domains refreshed per run")
	f.StringVar(&a.flags.logFile, "log", "", "Log file")
	f.DurationVarP(&a.flags.timeout, "timeout", "t", config.DefaultTimeout, "Per-lookup timeout")
	f.BoolVarP(&a.flags.quiet, "quiet", "q", false, "Only log to the log file")
	f.BoolVarP(&a.flags.debug, "debug", "d", false, "Use a small built-in domain list and debug logging")
	f.StringSliceVar(&a.flags.resolvers, "resolver", nil, "Upstream resolvers (default "+config.DefaultResolver+")")
	f.Float64Var(&a.flags.rateLimit, "rate-limit", 0, "Maximum queries per second, 0 for unlimited")
	f.StringVar(&a.flags.textfile, "metrics-textfile", "", "Write Prometheus metrics to this file")
	f.BoolVar(&a.flags.noProgress, "no-progress", false, "Do not print resolution progress")

	rootCmd.AddCommand(
		newUpdateCmd(a),
		newAddCmd(a),
		newRefreshCmd(a),
		newGetCmd(a),
		newIPSetCmd(a),
		newStatsCmd(a),
		newConfigCmd(a),
		newVersionCmd(),
	)
	return rootCmd
}

// runFunc is one of the reconciling operations.
type runFunc func(ctx context.Context, r *reconcile.Reconciler, args []string) (*mapping.Mapping, reconcile.Report, error)

// reconcileCmd builds a command that runs fn, prints the result and
// optionally syncs the ipset.
func reconcileCmd(a *app, cmd *cobra.Command, fn runFunc) *cobra.Command {
	var ipsetSync bool
	cmd.Flags().BoolVar(&ipsetSync, "ipset-sync", false, "Load the resulting addresses into the ipset")
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		m, rep, err := fn(cmd.Context(), a.reconciler(), args)
		if err != nil {
			return err
		}
		a.finish()
		a.logger.Debugw("report", "report", rep)

		if err := a.render(cmd.OutOrStdout(), m); err != nil {
			return err
		}
		if ipsetSync {
			return a.sync(cmd.Context(), m)
		}
		return nil
	}
	return cmd
}

func newUpdateCmd(a *app) *cobra.Command {
	return reconcileCmd(a, &cobra.Command{
		Use:   "update <source>",
		Short: "Reconcile the cache with a domain source",
		Long: `Resolve the domains new to the source, refresh a share of the retained
ones and drop those no longer listed.`,
		Args: cobra.MaximumNArgs(1),
	}, func(ctx context.Context, r *reconcile.Reconciler, args []string) (*mapping.Mapping, reconcile.Report, error) {
		target, err := a.target(ctx, args)
		if err != nil {
			return nil, reconcile.Report{}, err
		}
		return r.Update(ctx, target)
	})
}

func newAddCmd(a *app) *cobra.Command {
	return reconcileCmd(a, &cobra.Command{
		Use:   "add <source>",
		Short: "Resolve the domains of a source missing from the cache",
		Args:  cobra.MaximumNArgs(1),
	}, func(ctx context.Context, r *reconcile.Reconciler, args []string) (*mapping.Mapping, reconcile.Report, error) {
		target, err := a.target(ctx, args)
		if err != nil {
			return nil, reconcile.Report{}, err
		}
		return r.Add(ctx, target)
	})
}

func newRefreshCmd(a *app) *cobra.Command {
	return reconcileCmd(a, &cobra.Command{
		Use:   "refresh",
		Short: "Re-resolve a share of the cached domains",
		Args:  cobra.NoArgs,
	}, func(ctx context.Context, r *reconcile.Reconciler, _ []string) (*mapping.Mapping, reconcile.Report, error) {
		return r.Refresh(ctx)
	})
}

func newGetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get",
		Short: "Print the cache",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := a.store().Load()
			if err != nil {
				return err
			}
			return a.render(cmd.OutOrStdout(), m)
		},
	}
}

func newIPSetCmd(a *app) *cobra.Command {
	var block, persist bool
	cmd := &cobra.Command{
		Use:   "ipset",
		Short: "Load the cached addresses into the ipset",
		Long: `Create the ipset if needed and replace its contents with the cached
addresses. With --block an iptables rule dropping traffic from the set is
inserted, and with --persist the ruleset is saved.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := a.store().Load()
			if err != nil {
				return err
			}
			fw, err := a.firewall()
			if err != nil {
				return err
			}
			if err := fw.Sync(cmd.Context(), a.cfg.IPSet.Name, m.IPs()); err != nil {
				return err
			}
			if block || persist {
				if err := fw.Block(cmd.Context(), a.cfg.IPSet.Name, persist); err != nil {
					return err
				}
			}
			color.New(color.FgGreen).Fprintf(cmd.ErrOrStderr(), "Loaded %d addresses into %s\n", len(m.IPs()), a.cfg.IPSet.Name)
			return nil
		},
	}
	cmd.Flags().BoolVar(&block, "block", false, "Insert an iptables rule dropping traffic from the set")
	cmd.Flags().BoolVar(&persist, "persist", false, "Save the iptables ruleset (implies --block)")
	return cmd
}

func newStatsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Summarise the cache",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := a.store().Load()
			if err != nil {
				return err
			}

			saved := "never"
			if fi, err := os.Stat(a.cfg.Mappings); err == nil {
				saved = fi.ModTime().Format("2006-01-02 15:04:05")
			}

			table := tablewriter.NewWriter(cmd.OutOrStdout())
			table.SetHeader([]string{"Key", "Value"})
			table.SetHeaderColor(
				tablewriter.Colors{tablewriter.Bold},
				tablewriter.Colors{tablewriter.Bold},
			)
			table.SetBorder(false)
			table.SetColumnColor(
				tablewriter.Colors{tablewriter.FgCyanColor},
				tablewriter.Colors{},
			)
			table.AppendBulk([][]string{
				{"Mappings file", a.cfg.Mappings},
				{"Last saved", saved},
				{"Domains", strconv.Itoa(m.Len())},
				{"Unresolved", strconv.Itoa(m.Unresolved())},
				{"Addresses", strconv.Itoa(len(m.IPs()))},
				{"ipset", a.cfg.IPSet.Name},
			})
			table.Render()
			return nil
		},
	}
}

func newConfigCmd(a *app) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Show or create the configuration file",
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			b, err := config.Marshal(a.cfg, "config.yaml")
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(b)
			return err
		},
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p := config.New(a.flags.config)
			if _, err := os.Stat(p.Path()); err == nil && !force {
				return fmt.Errorf("%w: %s already exists, use --force to overwrite", errUsage, p.Path())
			}
			if err := p.Save(config.Default()); err != nil {
				return err
			}
			color.New(color.FgGreen).Fprintf(cmd.ErrOrStderr(), "Wrote %s\n", p.Path())
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")

	configCmd.AddCommand(showCmd, initCmd)
	return configCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "dnscacher %s (%s)\n", buildinfo.Version, buildinfo.Commit)
		},
	}
}

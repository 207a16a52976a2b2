package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"spot_trader/internal/config"

	"github.com/spf13/cobra"
)

// withApp loads the config, wires the components and runs fn with a bounded
// context. Used by the one-shot subcommands.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
	defer cancel()

	a, err := build(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func positionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "positions",
		Short: "Show live positions with unrealized P/L",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				s, err := a.trader.Summary(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), s)
				return nil
			})
		},
	}
}

func reconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Resolve pending entries against the exchange and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				return a.trader.Reconcile(ctx)
			})
		},
	}
}

func unhaltCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unhalt SYMBOL",
		Short: "Clear a halt so automated entries resume for SYMBOL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sym := strings.ToUpper(args[0])
			return withApp(cmd, func(ctx context.Context, a *app) error {
				ok, err := a.trader.UnhaltSymbol(ctx, sym)
				if err != nil {
					return err
				}
				if !ok {
					fmt.Fprintf(cmd.OutOrStdout(), "%s was not halted.\n", sym)
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s unhalted.\n", sym)
				return nil
			})
		},
	}
}

func historyCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List the most recent closed trades",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				trades, err := a.history.Recent(ctx, limit)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(trades) == 0 {
					fmt.Fprintln(out, "No closed trades.")
					return nil
				}
				for _, tr := range trades {
					fmt.Fprintf(out, "%s  %-12s %-14s entry %s exit %s qty %s  P/L %s (%s%%)\n",
						tr.ExitTime.Format("2006-01-02 15:04"), tr.Symbol, tr.CloseReason,
						tr.EntryPrice, tr.ExitPrice, tr.Quantity, tr.PnL.StringFixed(2), tr.PnLPercent.StringFixed(2))
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of trades to show")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "spot_trader %s (default config %s)\n", readVersion(), config.DefaultFile)
		},
	}
}

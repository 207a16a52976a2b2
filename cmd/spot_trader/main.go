package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"spot_trader/internal/config"
	"spot_trader/internal/dashboard"
	"spot_trader/internal/logger"
	"spot_trader/internal/telegram"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const VersionFile = "version.latest"

var (
	configPath string
	paper      bool
	statusAddr string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "spot_trader",
		Short: "Automated spot-market trader",
		Long: `spot_trader scans the top-volume spot instruments every cycle, enters on
RSI/MACD/MA consensus with a limit order below market, and exits on a fixed
stop-loss or a trailing stop.`,
		SilenceUsage: true,
		RunE:         runTrader,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultFile, "Trading parameters file")
	rootCmd.PersistentFlags().BoolVar(&paper, "paper", false, "Simulate orders in memory against live market data")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the trading loop until interrupted",
		RunE:  runTrader,
	}
	for _, c := range []*cobra.Command{rootCmd, runCmd} {
		c.Flags().StringVar(&statusAddr, "status-addr", "", "Serve the status stream on this address (e.g. :8080)")
	}

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(positionsCmd())
	rootCmd.AddCommand(reconcileCmd())
	rootCmd.AddCommand(unhaltCmd())
	rootCmd.AddCommand(historyCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	if cmd.Flags().Changed("paper") {
		os.Setenv("TRADER_PAPER", fmt.Sprint(paper))
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if statusAddr != "" {
		cfg.StatusAddr = statusAddr
	}
	return cfg, nil
}

func runTrader(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		log.Fatalf("CRITICAL: %v", err)
	}
	if rot := logger.Setup(cfg.Logging.File, cfg.Logging.MaxSizeMB, cfg.Logging.MaxBackups, cfg.Logging.Level); rot != nil {
		defer rot.Close()
	}

	ctx, cancel := signalContext()
	defer cancel()

	app, err := build(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	mode := "LIVE"
	if cfg.Paper {
		mode = "PAPER"
	}
	log.Printf("Spot Trader %s initialized (%s on %s, quote %s)", readVersion(), mode, cfg.Exchange, cfg.QuoteAsset)
	log.Printf("Cycle interval: %s | Top %d by volume | Max open %d | Stop %.2f%% | Trailing %.2f%%",
		cfg.Scanner.CycleInterval, cfg.Scanner.TopN, cfg.Scanner.MaxOpenPositions,
		cfg.Risk.StopLossPercent, cfg.Risk.TrailingStopPercent)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		return app.trader.Run(gctx)
	})
	if tg, ok := app.notifier.(*telegram.Client); ok {
		g.Go(func() error { return tg.Listen(gctx, app.trader.HandleCommand) })
		tg.Notify(fmt.Sprintf("🚀 *Spot Trader %s started* (%s, %s)", readVersion(), mode, cfg.Exchange))
	}
	if cfg.StatusAddr != "" {
		g.Go(func() error {
			return dashboard.Serve(gctx, cfg.StatusAddr, dashboard.NewHandler(app.trader, 0))
		})
	}

	err = g.Wait()
	app.notifier.Notify("🛑 Spot Trader stopped.")
	log.Println("🛑 Main loop stopped")
	return err
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-c:
			log.Println("⚠️ Trader shutting down: system signal received.")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(c)
	}()
	return ctx, cancel
}

func readVersion() string {
	version, err := os.ReadFile(VersionFile)
	if err != nil {
		return "v0.0.0-dev"
	}
	return strings.TrimSpace(string(version))
}

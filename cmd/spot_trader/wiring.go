package main

import (
	"context"
	"log"

	"spot_trader/internal/config"
	"spot_trader/internal/indicators"
	"spot_trader/internal/market"
	"spot_trader/internal/market/alpaca"
	"spot_trader/internal/market/binance"
	"spot_trader/internal/position"
	"spot_trader/internal/risk"
	"spot_trader/internal/signal"
	"spot_trader/internal/storage"
	"spot_trader/internal/telegram"
	"spot_trader/internal/trader"

	"github.com/shopspring/decimal"
)

// app holds the wired components and the resources to release on exit.
type app struct {
	trader   *trader.Trader
	store    storage.Store
	history  storage.History
	notifier trader.Notifier
	closers  []func() error
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			log.Printf("Warning: close: %v", err)
		}
	}
}

func build(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{notifier: nopNotifier{}}

	policy, err := riskPolicy(cfg)
	if err != nil {
		return nil, err
	}

	exchange := newExchange(cfg)

	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.store = store
	a.closers = append(a.closers, store.Close)

	journal, history, err := a.openJournal(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.history = history

	if tg := telegram.FromEnv(); tg != nil {
		a.notifier = tg
	}

	a.trader = trader.New(trader.Deps{
		Feed:     exchange,
		Gateway:  exchange,
		Store:    store,
		Journal:  journal,
		Notifier: a.notifier,
		Engine:   indicators.NewEngine(indicators.DefaultConfig()),
		Fusion: signal.NewFusion(signal.Thresholds{
			RSIOversold:   cfg.SignalThresholds.RSIOversold,
			RSIOverbought: cfg.SignalThresholds.RSIOverbought,
		}),
		Machine: position.New(policy, cfg.Risk.PendingTimeout),
	}, trader.Options{
		Interval:      cfg.Scanner.CycleInterval,
		TopN:          cfg.Scanner.TopN,
		RefreshEvery:  cfg.Scanner.RefreshEveryCycles,
		MaxOpen:       cfg.Scanner.MaxOpenPositions,
		Concurrency:   cfg.Scanner.Concurrency,
		Lookback:      cfg.Candles.Lookback,
		EntryCooldown: cfg.Risk.EntryCooldown,
	})
	return a, nil
}

func riskPolicy(cfg *config.Config) (risk.Policy, error) {
	p := risk.Policy{
		EntryOffsetPercent:  decimal.NewFromFloat(cfg.Risk.EntryOffsetPercent),
		StopLossPercent:     decimal.NewFromFloat(cfg.Risk.StopLossPercent),
		TrailingStopPercent: decimal.NewFromFloat(cfg.Risk.TrailingStopPercent),
		PositionSizeQuote:   decimal.NewFromFloat(cfg.Risk.PositionSize),
	}
	return p, p.Validate()
}

// newExchange returns the configured venue, with orders simulated in memory
// when running in paper mode.
func newExchange(cfg *config.Config) market.Exchange {
	var ex market.Exchange
	switch cfg.Exchange {
	case config.ExchangeAlpaca:
		ex = alpaca.NewProvider(alpaca.Options{
			APIKey:     cfg.AlpacaKeyID,
			APISecret:  cfg.AlpacaSecretKey,
			BaseURL:    cfg.AlpacaBaseURL,
			QuoteAsset: cfg.QuoteAsset,
		})
	default:
		ex = binance.NewClient(binance.Options{
			APIKey:     cfg.BinanceAPIKey,
			SecretKey:  cfg.BinanceAPISecret,
			Testnet:    cfg.BinanceTestnet,
			QuoteAsset: cfg.QuoteAsset,
			Interval:   cfg.Candles.Interval,
		})
	}
	if cfg.Paper {
		return market.NewPaper(ex)
	}
	return ex
}

func openStore(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	if cfg.Storage.Backend == config.StoragePostgres {
		ps, err := storage.OpenPostgresStore(ctx, cfg.DatabaseURL, storage.DefaultPoolConfig())
		if err != nil {
			return nil, err
		}
		log.Println("Position store: postgres")
		return ps, nil
	}

	fs, err := storage.OpenFileStore(cfg.Storage.StateFile)
	if err != nil {
		return nil, err
	}
	log.Printf("Position store: %s", cfg.Storage.StateFile)
	return fs, nil
}

// openJournal always writes the trade log file and, when DATABASE_URL is set,
// mirrors trades into Postgres. History is read from Postgres when available.
func (a *app) openJournal(cfg *config.Config) (storage.Journal, storage.History, error) {
	file, err := storage.NewFileJournal(cfg.Storage.TradeLog)
	if err != nil {
		return nil, nil, err
	}
	if cfg.DatabaseURL == "" {
		return file, file, nil
	}

	db, err := storage.OpenGormJournal(cfg.DatabaseURL)
	if err != nil {
		log.Printf("Warning: trade journal database unavailable, using %s only: %v", cfg.Storage.TradeLog, err)
		return file, file, nil
	}
	a.closers = append(a.closers, db.Close)
	return storage.MultiJournal{file, db}, db, nil
}

type nopNotifier struct{}

func (nopNotifier) Notify(string) {}

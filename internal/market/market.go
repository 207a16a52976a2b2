package market

import (
	"context"
	"errors"

	"spot_trader/internal/models"

	"github.com/shopspring/decimal"
)

var (
	// ErrRateLimited means the exchange throttled us; retry next cycle.
	ErrRateLimited = errors.New("rate limited")
	// ErrUnavailable covers network failures and exchange-side 5xx; retry next cycle.
	ErrUnavailable = errors.New("exchange unavailable")
	// ErrUnavailableInstrument means the symbol exists but is not trading.
	ErrUnavailableInstrument = errors.New("instrument unavailable")
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInvalidSymbol         = errors.New("invalid symbol")
	// ErrRejected is any other definitive order rejection.
	ErrRejected = errors.New("order rejected")
	// ErrOrderNotFound is returned by Cancel and FillStatus for unknown orders.
	ErrOrderNotFound = errors.New("order not found")
)

// IsTransient reports whether err should simply be retried next cycle.
func IsTransient(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrUnavailable)
}

// IsRejection reports whether the exchange definitively refused a request.
func IsRejection(err error) bool {
	return errors.Is(err, ErrRejected) ||
		errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrInvalidSymbol) ||
		errors.Is(err, ErrUnavailableInstrument)
}

// Feed is the read-only market data source.
type Feed interface {
	// Candles returns up to lookback closed candles, oldest first.
	Candles(ctx context.Context, symbol string, lookback int) (models.CandleSeries, error)
	CurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
	// TopVolumeInstruments returns the n most traded instruments by quote volume.
	TopVolumeInstruments(ctx context.Context, n int) ([]models.Instrument, error)
	// Instrument returns the precision rules and status of one symbol.
	Instrument(ctx context.Context, symbol string) (models.Instrument, error)
}

// Gateway places and tracks orders.
type Gateway interface {
	PlaceLimitBuy(ctx context.Context, inst models.Instrument, price, qty decimal.Decimal) (orderID string, err error)
	// PlaceSell sells qty at market and returns the average fill price.
	PlaceSell(ctx context.Context, inst models.Instrument, qty decimal.Decimal) (fillPrice decimal.Decimal, err error)
	// Cancel returns false if the order was already done.
	Cancel(ctx context.Context, symbol, orderID string) (bool, error)
	FillStatus(ctx context.Context, symbol, orderID string) (models.FillStatus, error)
}

// Exchange is a venue that is both a Feed and a Gateway.
type Exchange interface {
	Feed
	Gateway
}

// StableAssets are excluded from volume ranking.
var StableAssets = map[string]bool{
	"USDT":  true,
	"USDC":  true,
	"BUSD":  true,
	"TUSD":  true,
	"USDP":  true,
	"DAI":   true,
	"FDUSD": true,
}

package alpaca

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"spot_trader/internal/market"
	"spot_trader/internal/models"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/shopspring/decimal"
)

// Provider trades Alpaca crypto pairs such as "BTC/USD".
type Provider struct {
	mdClient    *marketdata.Client
	tradeClient *alpaca.Client
	quoteAsset  string
	timeframe   marketdata.TimeFrame
	barSpan     time.Duration
}

// The asset endpoint carries no precision rules for crypto pairs. Orders
// accept up to 9 decimals in price and quantity and at least $1 notional.
var (
	cryptoIncrement   = decimal.New(1, -9)
	cryptoMinNotional = decimal.NewFromInt(1)
)

// Ensure Provider implements the interface
var _ market.Exchange = (*Provider)(nil)

// Options configures a Provider. Empty credentials fall back to the APCA_*
// environment variables read by the SDK.
type Options struct {
	APIKey     string
	APISecret  string
	BaseURL    string
	QuoteAsset string
}

// NewProvider returns a new Alpaca provider using hourly bars.
func NewProvider(opt Options) *Provider {
	quote := opt.QuoteAsset
	if quote == "" {
		quote = "USD"
	}
	return &Provider{
		mdClient: marketdata.NewClient(marketdata.ClientOpts{
			APIKey:    opt.APIKey,
			APISecret: opt.APISecret,
		}),
		tradeClient: alpaca.NewClient(alpaca.ClientOpts{
			APIKey:    opt.APIKey,
			APISecret: opt.APISecret,
			BaseURL:   opt.BaseURL,
		}),
		quoteAsset: quote,
		timeframe:  marketdata.OneHour,
		barSpan:    time.Hour,
	}
}

// --- Market Data ---

func (p *Provider) Candles(ctx context.Context, symbol string, lookback int) (models.CandleSeries, error) {
	if err := ctx.Err(); err != nil {
		return models.CandleSeries{}, err
	}
	// Ask for a wider window than needed; crypto bars can have gaps.
	start := time.Now().Add(-time.Duration(lookback*2) * p.barSpan)
	bars, err := p.mdClient.GetCryptoBars(symbol, marketdata.GetCryptoBarsRequest{
		TimeFrame: p.timeframe,
		Start:     start,
	})
	if err != nil {
		return models.CandleSeries{}, mapError(err)
	}

	if len(bars) > lookback {
		bars = bars[len(bars)-lookback:]
	}

	series := models.CandleSeries{Symbol: symbol, Interval: p.timeframe.String(), Candles: make([]models.Candle, 0, len(bars))}
	for _, b := range bars {
		series.Candles = append(series.Candles, models.Candle{
			OpenTime: b.Timestamp,
			Open:     b.Open,
			High:     b.High,
			Low:      b.Low,
			Close:    b.Close,
			Volume:   b.Volume,
		})
	}
	return series, nil
}

func (p *Provider) CurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Zero, err
	}
	trade, err := p.mdClient.GetLatestCryptoTrade(symbol, marketdata.GetLatestCryptoTradeRequest{})
	if err != nil {
		return decimal.Zero, mapError(err)
	}
	if trade == nil || trade.Price <= 0 {
		return decimal.Zero, fmt.Errorf("%w: no trade found for %s", market.ErrUnavailableInstrument, symbol)
	}
	return decimal.NewFromFloat(trade.Price), nil
}

// TopVolumeInstruments ranks active crypto pairs in the quote asset by the
// notional volume of their daily bar.
func (p *Provider) TopVolumeInstruments(ctx context.Context, n int) ([]models.Instrument, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	assets, err := p.tradeClient.GetAssets(alpaca.GetAssetsRequest{
		Status:     "active",
		AssetClass: "crypto",
	})
	if err != nil {
		return nil, mapError(err)
	}

	bySymbol := make(map[string]models.Instrument)
	var symbols []string
	for _, a := range assets {
		inst := mapAsset(a)
		if !inst.Tradable || inst.QuoteAsset != p.quoteAsset || market.StableAssets[inst.BaseAsset] {
			continue
		}
		bySymbol[inst.Symbol] = inst
		symbols = append(symbols, inst.Symbol)
	}
	if len(symbols) == 0 {
		return nil, nil
	}

	snaps, err := p.mdClient.GetCryptoSnapshots(symbols, marketdata.GetCryptoSnapshotRequest{})
	if err != nil {
		return nil, mapError(err)
	}

	ranked := make([]models.Instrument, 0, len(snaps))
	for sym, snap := range snaps {
		inst, ok := bySymbol[sym]
		if !ok || snap.DailyBar == nil {
			continue
		}
		price := snap.DailyBar.VWAP
		if price <= 0 {
			price = snap.DailyBar.Close
		}
		inst.QuoteVolume = decimal.NewFromFloat(snap.DailyBar.Volume * price)
		ranked = append(ranked, inst)
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].QuoteVolume.GreaterThan(ranked[j].QuoteVolume)
	})
	if len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked, nil
}

func (p *Provider) Instrument(ctx context.Context, symbol string) (models.Instrument, error) {
	if err := ctx.Err(); err != nil {
		return models.Instrument{}, err
	}
	a, err := p.tradeClient.GetAsset(symbol)
	if err != nil {
		return models.Instrument{}, mapError(err)
	}
	return mapAsset(*a), nil
}

// --- Execution ---

func (p *Provider) PlaceLimitBuy(ctx context.Context, inst models.Instrument, price, qty decimal.Decimal) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	o, err := p.tradeClient.PlaceOrder(alpaca.PlaceOrderRequest{
		Symbol:      inst.Symbol,
		Qty:         &qty,
		Side:        alpaca.Buy,
		Type:        alpaca.Limit,
		LimitPrice:  &price,
		TimeInForce: alpaca.GTC,
	})
	if err != nil {
		return "", mapError(err)
	}
	return o.ID, nil
}

// PlaceSell submits a market sell and polls briefly for its average fill price.
func (p *Provider) PlaceSell(ctx context.Context, inst models.Instrument, qty decimal.Decimal) (decimal.Decimal, error) {
	o, err := p.tradeClient.PlaceOrder(alpaca.PlaceOrderRequest{
		Symbol:      inst.Symbol,
		Qty:         &qty,
		Side:        alpaca.Sell,
		Type:        alpaca.Market,
		TimeInForce: alpaca.GTC,
	})
	if err != nil {
		return decimal.Zero, mapError(err)
	}

	// Query every 500ms for 5 seconds
	for i := 0; i < 10; i++ {
		if o.FilledAvgPrice != nil && o.FilledAvgPrice.IsPositive() && strings.EqualFold(o.Status, "filled") {
			return *o.FilledAvgPrice, nil
		}
		select {
		case <-ctx.Done():
			return decimal.Zero, ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
		if o, err = p.tradeClient.GetOrder(o.ID); err != nil {
			return decimal.Zero, mapError(err)
		}
	}
	return decimal.Zero, fmt.Errorf("%w: sell %s for %s not filled in time (status %s)", market.ErrUnavailable, o.ID, inst.Symbol, o.Status)
}

func (p *Provider) Cancel(ctx context.Context, _ string, orderID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if err := p.tradeClient.CancelOrder(orderID); err != nil {
		var apiErr *alpaca.APIError
		// 422: order is no longer cancelable
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnprocessableEntity {
			return false, nil
		}
		return false, mapOrderError(orderID, err)
	}
	return true, nil
}

func (p *Provider) FillStatus(ctx context.Context, _ string, orderID string) (models.FillStatus, error) {
	if err := ctx.Err(); err != nil {
		return models.FillStatus{}, err
	}
	o, err := p.tradeClient.GetOrder(orderID)
	if err != nil {
		return models.FillStatus{}, mapOrderError(orderID, err)
	}
	return mapFillStatus(o), nil
}

// --- Helpers ---

func mapAsset(a alpaca.Asset) models.Instrument {
	base, quote, _ := strings.Cut(a.Symbol, "/")
	return models.Instrument{
		Symbol:      a.Symbol,
		BaseAsset:   base,
		QuoteAsset:  quote,
		TickSize:    cryptoIncrement,
		StepSize:    cryptoIncrement,
		MinQty:      cryptoIncrement,
		MinNotional: cryptoMinNotional,
		Tradable:    a.Tradable && string(a.Status) == "active",
	}
}

func mapFillStatus(o *alpaca.Order) models.FillStatus {
	st := models.FillStatus{Quantity: o.FilledQty}
	if o.FilledAvgPrice != nil {
		st.Price = *o.FilledAvgPrice
	}
	switch strings.ToLower(o.Status) {
	case "filled":
		st.State = models.OrderFilled
	case "canceled", "expired", "rejected", "done_for_day":
		st.State = models.OrderCancelled
	default:
		st.State = models.OrderPending
	}
	return st
}

// mapOrderError maps a 404 on an order endpoint to ErrOrderNotFound.
func mapOrderError(orderID string, err error) error {
	var apiErr *alpaca.APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s: %w", market.ErrOrderNotFound, orderID, err)
	}
	return mapError(err)
}

// mapError classifies SDK errors into the market error taxonomy.
func mapError(err error) error {
	var apiErr *alpaca.APIError
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("%w: %w", market.ErrUnavailable, err)
	}
	msg := strings.ToLower(apiErr.Message)
	switch {
	case apiErr.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %w", market.ErrRateLimited, err)
	case apiErr.StatusCode >= 500:
		return fmt.Errorf("%w: %w", market.ErrUnavailable, err)
	case apiErr.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %w", market.ErrInvalidSymbol, err)
	case strings.Contains(msg, "insufficient"):
		return fmt.Errorf("%w: %w", market.ErrInsufficientBalance, err)
	case strings.Contains(msg, "not tradable") || strings.Contains(msg, "not active"):
		return fmt.Errorf("%w: %w", market.ErrUnavailableInstrument, err)
	}
	return fmt.Errorf("%w: %w", market.ErrRejected, err)
}

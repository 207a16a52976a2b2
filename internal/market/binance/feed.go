package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"time"

	"spot_trader/internal/market"
	"spot_trader/internal/models"

	"github.com/shopspring/decimal"
)

// Candles fetches the latest lookback klines for symbol.
func (c *Client) Candles(ctx context.Context, symbol string, lookback int) (models.CandleSeries, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", c.interval)
	params.Set("limit", strconv.Itoa(lookback))

	var raw [][]json.RawMessage
	if err := c.publicGet(ctx, "/api/v3/klines", params, &raw); err != nil {
		return models.CandleSeries{}, err
	}

	series := models.CandleSeries{Symbol: symbol, Interval: c.interval, Candles: make([]models.Candle, 0, len(raw))}
	for i, k := range raw {
		if len(k) < 6 {
			return models.CandleSeries{}, fmt.Errorf("kline %d for %s: %d fields", i, symbol, len(k))
		}
		var openTime int64
		if err := json.Unmarshal(k[0], &openTime); err != nil {
			return models.CandleSeries{}, fmt.Errorf("kline %d open time: %w", i, err)
		}
		vals := make([]float64, 5)
		for j := range vals {
			v, err := parseValue(k[j+1])
			if err != nil {
				return models.CandleSeries{}, fmt.Errorf("kline %d field %d: %w", i, j+1, err)
			}
			vals[j] = v
		}
		series.Candles = append(series.Candles, models.Candle{
			OpenTime: time.UnixMilli(openTime).UTC(),
			Open:     vals[0],
			High:     vals[1],
			Low:      vals[2],
			Close:    vals[3],
			Volume:   vals[4],
		})
	}
	return series, nil
}

// parseValue reads a kline field that Binance sends as a quoted number.
func parseValue(raw json.RawMessage) (float64, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strconv.ParseFloat(s, 64)
	}
	var f float64
	err := json.Unmarshal(raw, &f)
	return f, err
}

func (c *Client) CurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	params := url.Values{}
	params.Set("symbol", symbol)

	var resp struct {
		Symbol string          `json:"symbol"`
		Price  decimal.Decimal `json:"price"`
	}
	if err := c.publicGet(ctx, "/api/v3/ticker/price", params, &resp); err != nil {
		return decimal.Zero, err
	}
	if !resp.Price.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %s has no price", market.ErrUnavailableInstrument, symbol)
	}
	return resp.Price, nil
}

// TopVolumeInstruments ranks trading pairs quoted in the client's quote asset
// by 24h quote volume, skipping stablecoin bases.
func (c *Client) TopVolumeInstruments(ctx context.Context, n int) ([]models.Instrument, error) {
	instruments, err := c.exchangeInfo(ctx, true)
	if err != nil {
		return nil, err
	}

	var tickers []struct {
		Symbol      string          `json:"symbol"`
		QuoteVolume decimal.Decimal `json:"quoteVolume"`
	}
	if err := c.publicGet(ctx, "/api/v3/ticker/24hr", nil, &tickers); err != nil {
		return nil, err
	}

	var ranked []models.Instrument
	for _, t := range tickers {
		inst, ok := instruments[t.Symbol]
		if !ok || !inst.Tradable || inst.QuoteAsset != c.quoteAsset || market.StableAssets[inst.BaseAsset] {
			continue
		}
		inst.QuoteVolume = t.QuoteVolume
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

// Instrument returns cached exchange rules for symbol.
func (c *Client) Instrument(ctx context.Context, symbol string) (models.Instrument, error) {
	instruments, err := c.exchangeInfo(ctx, false)
	if err != nil {
		return models.Instrument{}, err
	}
	inst, ok := instruments[symbol]
	if !ok {
		return models.Instrument{}, fmt.Errorf("%w: %s", market.ErrInvalidSymbol, symbol)
	}
	return inst, nil
}

type symbolInfo struct {
	Symbol     string            `json:"symbol"`
	Status     string            `json:"status"`
	BaseAsset  string            `json:"baseAsset"`
	QuoteAsset string            `json:"quoteAsset"`
	Filters    []json.RawMessage `json:"filters"`
}

type symbolFilter struct {
	FilterType  string          `json:"filterType"`
	TickSize    decimal.Decimal `json:"tickSize"`
	StepSize    decimal.Decimal `json:"stepSize"`
	MinQty      decimal.Decimal `json:"minQty"`
	MinNotional decimal.Decimal `json:"minNotional"`
}

// exchangeInfo returns the symbol rules, refreshing them when stale or forced.
func (c *Client) exchangeInfo(ctx context.Context, force bool) (map[string]models.Instrument, error) {
	c.mu.Lock()
	if !force && len(c.instruments) > 0 && time.Since(c.infoAt) < c.infoTTL {
		cached := c.instruments
		c.mu.Unlock()
		return cached, nil
	}
	c.mu.Unlock()

	var resp struct {
		Symbols []symbolInfo `json:"symbols"`
	}
	if err := c.publicGet(ctx, "/api/v3/exchangeInfo", nil, &resp); err != nil {
		return nil, err
	}

	out := make(map[string]models.Instrument, len(resp.Symbols))
	for _, s := range resp.Symbols {
		inst := models.Instrument{
			Symbol:     s.Symbol,
			BaseAsset:  s.BaseAsset,
			QuoteAsset: s.QuoteAsset,
			Tradable:   s.Status == "TRADING",
		}
		for _, raw := range s.Filters {
			var f symbolFilter
			if err := json.Unmarshal(raw, &f); err != nil {
				continue
			}
			switch f.FilterType {
			case "PRICE_FILTER":
				inst.TickSize = f.TickSize
			case "LOT_SIZE":
				inst.StepSize = f.StepSize
				inst.MinQty = f.MinQty
			case "NOTIONAL", "MIN_NOTIONAL":
				inst.MinNotional = f.MinNotional
			}
		}
		out[s.Symbol] = inst
	}

	c.mu.Lock()
	c.instruments = out
	c.infoAt = time.Now()
	c.mu.Unlock()
	return out, nil
}

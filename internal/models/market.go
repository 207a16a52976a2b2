package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Instrument is a tradable spot pair with its exchange precision rules.
type Instrument struct {
	Symbol      string          `json:"symbol"`
	BaseAsset   string          `json:"base_asset"`
	QuoteAsset  string          `json:"quote_asset"`
	TickSize    decimal.Decimal `json:"tick_size"`
	StepSize    decimal.Decimal `json:"step_size"`
	MinQty      decimal.Decimal `json:"min_qty"`
	MinNotional decimal.Decimal `json:"min_notional"`
	QuoteVolume decimal.Decimal `json:"quote_volume"`
	Tradable    bool            `json:"tradable"`
}

// Candle represents a candlestick for a timeframe.
type Candle struct {
	OpenTime time.Time
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
}

// CandleSeries is ordered oldest first.
type CandleSeries struct {
	Symbol   string
	Interval string
	Candles  []Candle
}

// Len returns the number of candles.
func (s CandleSeries) Len() int { return len(s.Candles) }

// Closes returns the close prices in order.
func (s CandleSeries) Closes() []float64 {
	out := make([]float64, len(s.Candles))
	for i, c := range s.Candles {
		out[i] = c.Close
	}
	return out
}

// Head returns a series holding the first n candles. The backing array is shared.
func (s CandleSeries) Head(n int) CandleSeries {
	if n > len(s.Candles) {
		n = len(s.Candles)
	}
	return CandleSeries{Symbol: s.Symbol, Interval: s.Interval, Candles: s.Candles[:n]}
}

// IndicatorSnapshot holds the indicator values as of the last candle of a series.
type IndicatorSnapshot struct {
	Symbol     string    `json:"symbol"`
	RSI        float64   `json:"rsi"`
	MACDLine   float64   `json:"macd_line"`
	MACDSignal float64   `json:"macd_signal"`
	MA20       float64   `json:"ma20"`
	MA50       float64   `json:"ma50"`
	Price      float64   `json:"price"`
	AsOf       time.Time `json:"as_of"`
}

// Direction is the fused trading decision.
type Direction string

const (
	Buy  Direction = "BUY"
	Sell Direction = "SELL"
	Hold Direction = "HOLD"
)

// Signal is the majority-vote output for one instrument.
type Signal struct {
	Symbol    string    `json:"symbol"`
	Direction Direction `json:"direction"`
	VoteCount int       `json:"vote_count"`
	BuyVotes  int       `json:"buy_votes"`
	SellVotes int       `json:"sell_votes"`
	Audit     bool      `json:"audit,omitempty"`
	AsOf      time.Time `json:"as_of"`
}

// OrderStatus is the exchange-side state of an entry order.
type OrderStatus string

const (
	OrderPending   OrderStatus = "PENDING"
	OrderFilled    OrderStatus = "FILLED"
	OrderCancelled OrderStatus = "CANCELLED"
)

// FillStatus reports an order's progress. A CANCELLED order may still carry
// a partial fill in Quantity.
type FillStatus struct {
	State    OrderStatus
	Price    decimal.Decimal
	Quantity decimal.Decimal
}

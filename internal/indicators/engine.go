package indicators

import (
	"errors"
	"fmt"
	"math"

	"spot_trader/internal/models"
)

var (
	// ErrInsufficientData is returned when a series is shorter than the
	// longest lookback.
	ErrInsufficientData = errors.New("insufficient candle history")
	// ErrInvalidCandle is returned when a close price is not a positive number.
	ErrInvalidCandle = errors.New("invalid candle")
)

// Config holds indicator periods.
type Config struct {
	RSIPeriod  int
	MACDFast   int
	MACDSlow   int
	MACDSignal int
	MAShort    int
	MALong     int
}

// DefaultConfig is RSI(14), MACD(12,26,9), MA20 and MA50.
func DefaultConfig() Config {
	return Config{
		RSIPeriod:  14,
		MACDFast:   12,
		MACDSlow:   26,
		MACDSignal: 9,
		MAShort:    20,
		MALong:     50,
	}
}

// Engine turns candle series into indicator snapshots. It holds no state.
type Engine struct {
	cfg Config
}

func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// MinCandles is the shortest series Evaluate accepts.
func (e *Engine) MinCandles() int {
	n := e.cfg.MALong
	if need := e.cfg.MACDSlow + e.cfg.MACDSignal - 1; need > n {
		n = need
	}
	if need := e.cfg.RSIPeriod + 1; need > n {
		n = need
	}
	return n
}

// Evaluate computes the snapshot as of the last candle of series.
func (e *Engine) Evaluate(series models.CandleSeries) (models.IndicatorSnapshot, error) {
	if series.Len() < e.MinCandles() {
		return models.IndicatorSnapshot{}, fmt.Errorf("%w: %s has %d candles, need %d",
			ErrInsufficientData, series.Symbol, series.Len(), e.MinCandles())
	}

	closes := series.Closes()
	for i, c := range closes {
		if c <= 0 || math.IsNaN(c) || math.IsInf(c, 0) {
			return models.IndicatorSnapshot{}, fmt.Errorf("%w: %s close[%d]=%v", ErrInvalidCandle, series.Symbol, i, c)
		}
	}

	last := len(closes) - 1
	rsi := RSI(closes, e.cfg.RSIPeriod)
	line, sig := MACD(closes, e.cfg.MACDFast, e.cfg.MACDSlow, e.cfg.MACDSignal)

	return models.IndicatorSnapshot{
		Symbol:     series.Symbol,
		RSI:        rsi[last],
		MACDLine:   line[last],
		MACDSignal: sig[last],
		MA20:       SMA(closes, e.cfg.MAShort),
		MA50:       SMA(closes, e.cfg.MALong),
		Price:      closes[last],
		AsOf:       series.Candles[last].OpenTime,
	}, nil
}

// EvaluateWithPrevious also returns the snapshot as of the second to last
// candle, or nil when the series is too short for it.
func (e *Engine) EvaluateWithPrevious(series models.CandleSeries) (models.IndicatorSnapshot, *models.IndicatorSnapshot, error) {
	cur, err := e.Evaluate(series)
	if err != nil {
		return cur, nil, err
	}
	if series.Len()-1 < e.MinCandles() {
		return cur, nil, nil
	}
	prev, err := e.Evaluate(series.Head(series.Len() - 1))
	if err != nil {
		return cur, nil, nil
	}
	return cur, &prev, nil
}

package indicators

import (
	"errors"
	"testing"
	"time"

	"spot_trader/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seriesFrom(symbol string, closes []float64) models.CandleSeries {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s := models.CandleSeries{Symbol: symbol, Interval: "1h"}
	for i, c := range closes {
		s.Candles = append(s.Candles, models.Candle{
			OpenTime: start.Add(time.Duration(i) * time.Hour),
			Open:     c, High: c, Low: c, Close: c, Volume: 1,
		})
	}
	return s
}

func linear(n int, from, step float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = from + float64(i)*step
	}
	return out
}

func TestEvaluate_InsufficientData(t *testing.T) {
	e := NewEngine(DefaultConfig())
	_, err := e.Evaluate(seriesFrom("BTCUSDT", linear(49, 1, 1)))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInsufficientData))

	_, err = e.Evaluate(seriesFrom("BTCUSDT", linear(50, 1, 1)))
	assert.NoError(t, err)
}

func TestEvaluate_RisingSeries(t *testing.T) {
	e := NewEngine(DefaultConfig())
	snap, err := e.Evaluate(seriesFrom("BTCUSDT", linear(60, 1, 1)))
	require.NoError(t, err)

	assert.Equal(t, 100.0, snap.RSI)
	assert.InDelta(t, 50.5, snap.MA20, 1e-9)
	assert.InDelta(t, 35.5, snap.MA50, 1e-9)
	assert.InDelta(t, 7.0, snap.MACDLine, 1e-6)
	assert.InDelta(t, 7.0, snap.MACDSignal, 1e-6)
	assert.Equal(t, 60.0, snap.Price)
	assert.Equal(t, "BTCUSDT", snap.Symbol)
}

func TestEvaluate_FlatSeries(t *testing.T) {
	e := NewEngine(DefaultConfig())
	snap, err := e.Evaluate(seriesFrom("ETHUSDT", linear(80, 10, 0)))
	require.NoError(t, err)

	assert.Equal(t, 50.0, snap.RSI)
	assert.InDelta(t, 0, snap.MACDLine, 1e-12)
	assert.InDelta(t, 10, snap.MA20, 1e-12)
}

func TestEvaluate_DoesNotMutateInput(t *testing.T) {
	e := NewEngine(DefaultConfig())
	closes := linear(70, 5, 0.5)
	s := seriesFrom("SOLUSDT", closes)
	before := append([]models.Candle(nil), s.Candles...)

	_, _, err := e.EvaluateWithPrevious(s)
	require.NoError(t, err)
	assert.Equal(t, before, s.Candles)
}

func TestEvaluate_InvalidClose(t *testing.T) {
	e := NewEngine(DefaultConfig())
	closes := linear(60, 1, 1)
	closes[10] = 0
	_, err := e.Evaluate(seriesFrom("BTCUSDT", closes))
	assert.True(t, errors.Is(err, ErrInvalidCandle))
}

func TestEvaluateWithPrevious(t *testing.T) {
	e := NewEngine(DefaultConfig())

	_, prev, err := e.EvaluateWithPrevious(seriesFrom("BTCUSDT", linear(50, 1, 1)))
	require.NoError(t, err)
	assert.Nil(t, prev)

	cur, prev, err := e.EvaluateWithPrevious(seriesFrom("BTCUSDT", linear(51, 1, 1)))
	require.NoError(t, err)
	require.NotNil(t, prev)
	assert.Equal(t, 50.0, prev.Price)
	assert.Equal(t, 51.0, cur.Price)
}

func TestRSI_FallingIsZero(t *testing.T) {
	rsi := RSI(linear(30, 100, -1), 14)
	assert.Equal(t, 0.0, rsi[29])
	assert.Equal(t, 0.0, rsi[5])
}

func TestEMA_SeededWithSMA(t *testing.T) {
	out := EMA([]float64{2, 4, 6, 8}, 3)
	assert.Equal(t, 0.0, out[1])
	assert.InDelta(t, 4.0, out[2], 1e-12)
	assert.InDelta(t, 6.0, out[3], 1e-12)
}

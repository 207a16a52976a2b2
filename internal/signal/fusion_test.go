package signal

import (
	"testing"

	"spot_trader/internal/models"

	"github.com/stretchr/testify/assert"
)

func neutral() models.IndicatorSnapshot {
	return models.IndicatorSnapshot{
		Symbol:     "BTCUSDT",
		RSI:        50,
		MACDLine:   1,
		MACDSignal: 1,
		MA20:       100,
		MA50:       100,
		Price:      100,
	}
}

func TestFuse_RSIAndMACDCrossBuy(t *testing.T) {
	f := NewFusion(DefaultThresholds())
	prev := neutral()
	prev.MACDLine, prev.MACDSignal = 0.9, 1.0

	snap := neutral()
	snap.RSI = 25
	snap.MACDLine, snap.MACDSignal = 1.2, 1.0

	sig := f.Fuse(snap, &prev)
	assert.Equal(t, models.Buy, sig.Direction)
	assert.Equal(t, 2, sig.VoteCount)
	assert.Equal(t, 0, sig.SellVotes)
}

func TestFuse_UnanimousBuy(t *testing.T) {
	f := NewFusion(DefaultThresholds())
	prev := neutral()
	prev.MACDLine, prev.MACDSignal = 0.5, 0.6

	snap := neutral()
	snap.RSI = 25
	snap.MACDLine, snap.MACDSignal = 0.7, 0.6
	snap.Price, snap.MA20, snap.MA50 = 105, 100, 95

	sig := f.Fuse(snap, &prev)
	assert.Equal(t, models.Buy, sig.Direction)
	assert.Equal(t, 3, sig.VoteCount)
}

func TestFuse_SplitVotesHold(t *testing.T) {
	f := NewFusion(DefaultThresholds())
	snap := neutral()
	// rsi buys, macd (no previous) and ma sell
	snap.RSI = 25
	snap.MACDLine, snap.MACDSignal = 0, 1
	snap.Price, snap.MA20, snap.MA50 = 90, 95, 100

	sig := f.Fuse(snap, nil)
	assert.Equal(t, models.Hold, sig.Direction)
	assert.Equal(t, 1, sig.BuyVotes)
	assert.Equal(t, 2, sig.SellVotes)
	assert.False(t, sig.Audit)
}

func TestFuse_SellMajority(t *testing.T) {
	f := NewFusion(DefaultThresholds())
	snap := neutral()
	snap.RSI = 75
	snap.Price, snap.MA20, snap.MA50 = 90, 95, 100

	sig := f.Fuse(snap, nil)
	assert.Equal(t, models.Sell, sig.Direction)
	assert.Equal(t, 2, sig.VoteCount)
}

func TestFuse_AllNeutral(t *testing.T) {
	sig := NewFusion(DefaultThresholds()).Fuse(neutral(), nil)
	assert.Equal(t, models.Hold, sig.Direction)
	assert.Equal(t, 0, sig.VoteCount)
}

func TestFuse_NoCrossWithPrevious(t *testing.T) {
	f := NewFusion(DefaultThresholds())
	prev := neutral()
	prev.MACDLine, prev.MACDSignal = 2, 1

	snap := neutral()
	snap.MACDLine, snap.MACDSignal = 3, 1
	snap.Price, snap.MA20, snap.MA50 = 110, 105, 100

	// line stayed above signal: no MACD vote, only the MA vote
	sig := f.Fuse(snap, &prev)
	assert.Equal(t, models.Hold, sig.Direction)
	assert.Equal(t, 1, sig.BuyVotes)
}

func TestFuse_CustomThresholds(t *testing.T) {
	f := NewFusion(Thresholds{RSIOversold: 40, RSIOverbought: 60})
	snap := neutral()
	snap.RSI = 35
	snap.Price, snap.MA20, snap.MA50 = 110, 105, 100

	assert.Equal(t, models.Buy, f.Fuse(snap, nil).Direction)
}

func TestFuse_NeverBuyAndSellMajority(t *testing.T) {
	f := NewFusion(DefaultThresholds())
	rsis := []float64{10, 50, 90}
	macds := [][2]float64{{2, 1}, {1, 1}, {0, 1}}
	mas := [][3]float64{{110, 105, 100}, {100, 100, 100}, {90, 95, 100}}

	for _, r := range rsis {
		for _, m := range macds {
			for _, ma := range mas {
				snap := neutral()
				snap.RSI = r
				snap.MACDLine, snap.MACDSignal = m[0], m[1]
				snap.Price, snap.MA20, snap.MA50 = ma[0], ma[1], ma[2]
				sig := f.Fuse(snap, nil)

				assert.False(t, sig.BuyVotes >= 2 && sig.SellVotes >= 2)
				if sig.Direction == models.Buy {
					assert.GreaterOrEqual(t, sig.BuyVotes, 2)
					assert.Zero(t, sig.SellVotes)
				}
				if sig.Direction == models.Sell {
					assert.GreaterOrEqual(t, sig.SellVotes, 2)
					assert.Zero(t, sig.BuyVotes)
				}
			}
		}
	}
}

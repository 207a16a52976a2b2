package signal

import (
	"log"

	"spot_trader/internal/models"
)

// Thresholds are the RSI bounds for the oversold and overbought votes.
type Thresholds struct {
	RSIOversold   float64
	RSIOverbought float64
}

// DefaultThresholds returns RSI 30 / 70.
func DefaultThresholds() Thresholds {
	return Thresholds{RSIOversold: 30, RSIOverbought: 70}
}

// Fusion combines the RSI, MACD and moving average votes into one Signal.
type Fusion struct {
	th Thresholds
}

func NewFusion(th Thresholds) *Fusion {
	return &Fusion{th: th}
}

// Fuse votes on snap. previous is the snapshot the MACD cross is measured
// against; without it the vote falls back to the sign of line - signal.
func (f *Fusion) Fuse(snap models.IndicatorSnapshot, previous *models.IndicatorSnapshot) models.Signal {
	votes := []models.Direction{
		f.rsiVote(snap),
		macdVote(snap, previous),
		maVote(snap),
	}

	sig := models.Signal{Symbol: snap.Symbol, AsOf: snap.AsOf}
	for _, v := range votes {
		switch v {
		case models.Buy:
			sig.BuyVotes++
		case models.Sell:
			sig.SellVotes++
		}
	}

	switch {
	case sig.BuyVotes >= 2 && sig.SellVotes >= 2:
		// Unreachable with three voters; kept as a guard if voters are added.
		sig.Direction = models.Hold
		sig.Audit = true
		log.Printf("AUDIT: [%s] conflicting votes buy=%d sell=%d", snap.Symbol, sig.BuyVotes, sig.SellVotes)
	case sig.BuyVotes >= 2 && sig.SellVotes == 0:
		sig.Direction = models.Buy
	case sig.SellVotes >= 2 && sig.BuyVotes == 0:
		sig.Direction = models.Sell
	default:
		sig.Direction = models.Hold
	}

	switch sig.Direction {
	case models.Buy:
		sig.VoteCount = sig.BuyVotes
	case models.Sell:
		sig.VoteCount = sig.SellVotes
	default:
		sig.VoteCount = max(sig.BuyVotes, sig.SellVotes)
	}
	return sig
}

func (f *Fusion) rsiVote(s models.IndicatorSnapshot) models.Direction {
	switch {
	case s.RSI < f.th.RSIOversold:
		return models.Buy
	case s.RSI > f.th.RSIOverbought:
		return models.Sell
	}
	return models.Hold
}

func macdVote(s models.IndicatorSnapshot, prev *models.IndicatorSnapshot) models.Direction {
	if prev == nil {
		switch {
		case s.MACDLine > s.MACDSignal:
			return models.Buy
		case s.MACDLine < s.MACDSignal:
			return models.Sell
		}
		return models.Hold
	}
	switch {
	case prev.MACDLine <= prev.MACDSignal && s.MACDLine > s.MACDSignal:
		return models.Buy
	case prev.MACDLine >= prev.MACDSignal && s.MACDLine < s.MACDSignal:
		return models.Sell
	}
	return models.Hold
}

func maVote(s models.IndicatorSnapshot) models.Direction {
	switch {
	case s.Price > s.MA20 && s.MA20 > s.MA50:
		return models.Buy
	case s.Price < s.MA20 && s.MA20 < s.MA50:
		return models.Sell
	}
	return models.Hold
}

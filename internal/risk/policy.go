package risk

import (
	"errors"
	"fmt"

	"spot_trader/internal/models"

	"github.com/shopspring/decimal"
)

var (
	ErrBelowMinimum  = errors.New("order size below exchange minimum")
	ErrInvalidPolicy = errors.New("invalid risk policy")
)

var hundred = decimal.NewFromInt(100)

// Policy holds the risk parameters. All percentages are expressed as
// numbers like 2 for 2%.
type Policy struct {
	EntryOffsetPercent  decimal.Decimal
	StopLossPercent     decimal.Decimal
	TrailingStopPercent decimal.Decimal
	PositionSizeQuote   decimal.Decimal
}

// Validate rejects non-positive or out of range parameters.
func (p Policy) Validate() error {
	if p.EntryOffsetPercent.IsNegative() || p.EntryOffsetPercent.GreaterThanOrEqual(hundred) {
		return fmt.Errorf("%w: entry offset %s%%", ErrInvalidPolicy, p.EntryOffsetPercent)
	}
	if !p.StopLossPercent.IsPositive() || p.StopLossPercent.GreaterThanOrEqual(hundred) {
		return fmt.Errorf("%w: stop loss %s%%", ErrInvalidPolicy, p.StopLossPercent)
	}
	if !p.TrailingStopPercent.IsPositive() || p.TrailingStopPercent.GreaterThanOrEqual(hundred) {
		return fmt.Errorf("%w: trailing stop %s%%", ErrInvalidPolicy, p.TrailingStopPercent)
	}
	if !p.PositionSizeQuote.IsPositive() {
		return fmt.Errorf("%w: position size %s", ErrInvalidPolicy, p.PositionSizeQuote)
	}
	return nil
}

func below(price, pct decimal.Decimal) decimal.Decimal {
	return price.Mul(hundred.Sub(pct)).Div(hundred)
}

// EntryLimitPrice is the buy limit placed below the market price.
func (p Policy) EntryLimitPrice(marketPrice decimal.Decimal) decimal.Decimal {
	return below(marketPrice, p.EntryOffsetPercent)
}

// StopLossPrice is the fixed stop under the entry price.
func (p Policy) StopLossPrice(entryPrice decimal.Decimal) decimal.Decimal {
	return below(entryPrice, p.StopLossPercent)
}

// TrailingStopPrice is the exit level under the running peak.
func (p Policy) TrailingStopPrice(peakPrice decimal.Decimal) decimal.Decimal {
	return below(peakPrice, p.TrailingStopPercent)
}

// ShouldArm reports whether the trailing stop becomes active.
func (p Policy) ShouldArm(price, entryPrice decimal.Decimal) bool {
	return price.GreaterThan(entryPrice)
}

// EntryQuantity sizes an entry at limitPrice from PositionSizeQuote,
// floored to the instrument's step size.
func (p Policy) EntryQuantity(limitPrice decimal.Decimal, inst models.Instrument) (decimal.Decimal, error) {
	if !limitPrice.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: non-positive price %s", ErrBelowMinimum, limitPrice)
	}
	qty := RoundQuantity(p.PositionSizeQuote.Div(limitPrice), inst.StepSize)
	if !qty.IsPositive() || qty.LessThan(inst.MinQty) {
		return decimal.Zero, fmt.Errorf("%w: qty %s < min %s", ErrBelowMinimum, qty, inst.MinQty)
	}
	if inst.MinNotional.IsPositive() && qty.Mul(limitPrice).LessThan(inst.MinNotional) {
		return decimal.Zero, fmt.Errorf("%w: notional %s < min %s", ErrBelowMinimum, qty.Mul(limitPrice), inst.MinNotional)
	}
	return qty, nil
}

// RoundPrice floors price to a multiple of tick. A zero tick is a no-op.
func RoundPrice(price, tick decimal.Decimal) decimal.Decimal {
	return floorTo(price, tick)
}

// RoundQuantity floors qty to a multiple of step. A zero step is a no-op.
func RoundQuantity(qty, step decimal.Decimal) decimal.Decimal {
	return floorTo(qty, step)
}

func floorTo(v, inc decimal.Decimal) decimal.Decimal {
	if !inc.IsPositive() {
		return v
	}
	return v.Div(inc).Floor().Mul(inc)
}

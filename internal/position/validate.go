package position

import (
	"fmt"

	"spot_trader/internal/models"
)

// Validate checks a single Position against the lifecycle invariants.
func Validate(p models.Position) error {
	switch p.State {
	case models.StatePendingEntry:
		if !p.LimitPrice.IsPositive() || !p.RequestedQty.IsPositive() {
			return fmt.Errorf("%w: %s pending without price or quantity", ErrInvariant, p.Symbol)
		}
		if p.EntryOrderID == "" {
			return fmt.Errorf("%w: %s pending without order id", ErrInvariant, p.Symbol)
		}
	case models.StateOpen, models.StateTrailing:
		if !p.EntryPrice.IsPositive() || !p.Quantity.IsPositive() {
			return fmt.Errorf("%w: %s holding without entry price or quantity", ErrInvariant, p.Symbol)
		}
		if p.StopLossPrice.GreaterThanOrEqual(p.EntryPrice) {
			return fmt.Errorf("%w: %s stop %s >= entry %s", ErrInvariant, p.Symbol, p.StopLossPrice, p.EntryPrice)
		}
		if p.PeakPrice.LessThan(p.EntryPrice) {
			return fmt.Errorf("%w: %s peak %s < entry %s", ErrInvariant, p.Symbol, p.PeakPrice, p.EntryPrice)
		}
		if (p.State == models.StateTrailing) != p.TrailingArmed {
			return fmt.Errorf("%w: %s state %s with armed=%t", ErrInvariant, p.Symbol, p.State, p.TrailingArmed)
		}
	case models.StateClosed, models.StateCancelled:
		if p.ClosedAt == nil {
			return fmt.Errorf("%w: %s %s without close time", ErrInvariant, p.Symbol, p.State)
		}
	case models.StateNone, "":
	default:
		return fmt.Errorf("%w: %s unknown state %q", ErrInvariant, p.Symbol, p.State)
	}
	return nil
}

// CheckTransition verifies that next may replace prev in the store. A
// terminal prev may only be replaced by a brand new Position.
func CheckTransition(prev, next models.Position) error {
	if prev.ID != next.ID {
		if stateOf(prev).IsLive() {
			return fmt.Errorf("%w: %s replacing live position %s", ErrInvalidTransition, next.Symbol, prev.ID)
		}
		if next.State != models.StatePendingEntry {
			return fmt.Errorf("%w: %s new position must start in %s", ErrInvalidTransition, next.Symbol, models.StatePendingEntry)
		}
		return nil
	}

	if prev.State != next.State && !stateOf(prev).CanTransitionTo(next.State) {
		return fmt.Errorf("%w: %s %s -> %s", ErrInvalidTransition, next.Symbol, prev.State, next.State)
	}
	if prev.TrailingArmed && !next.TrailingArmed {
		return fmt.Errorf("%w: %s trailing stop un-armed", ErrInvariant, next.Symbol)
	}
	if prev.State.IsHolding() && next.State.IsHolding() && next.PeakPrice.LessThan(prev.PeakPrice) {
		return fmt.Errorf("%w: %s peak decreased %s -> %s", ErrInvariant, next.Symbol, prev.PeakPrice, next.PeakPrice)
	}
	return nil
}

package position

import (
	"errors"
	"fmt"
	"time"

	"spot_trader/internal/models"
	"spot_trader/internal/risk"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrInvalidTransition = errors.New("invalid position state transition")
	ErrInvariant         = errors.New("position invariant violated")

	ErrNoBuySignal   = errors.New("no buy signal")
	ErrPositionLive  = errors.New("position already live")
	ErrCapReached    = errors.New("max open positions reached")
	ErrHalted        = errors.New("instrument halted")
	ErrNotTradable   = errors.New("instrument not tradable")
	ErrInvalidMarket = errors.New("invalid market price")
)

// Action is a side effect the caller must perform before committing the
// Position returned alongside it.
type Action int

const (
	ActionNone Action = iota
	ActionPlaceLimitBuy
	ActionCancel
	ActionSell
)

func (a Action) String() string {
	switch a {
	case ActionPlaceLimitBuy:
		return "PLACE_LIMIT_BUY"
	case ActionCancel:
		return "CANCEL"
	case ActionSell:
		return "SELL"
	}
	return "NONE"
}

// Decision pairs a requested side effect with the reason that will be
// recorded if it completes.
type Decision struct {
	Action Action
	Reason models.CloseReason
}

// EntryPlan is a sized, rounded limit buy ready to be placed.
type EntryPlan struct {
	Instrument    models.Instrument
	MarketPrice   decimal.Decimal
	LimitPrice    decimal.Decimal
	Quantity      decimal.Decimal
	StopLossPrice decimal.Decimal
}

// Machine computes Position transitions. It never talks to the exchange or
// the store; every method returns a new value and leaves its input alone.
type Machine struct {
	Policy         risk.Policy
	PendingTimeout time.Duration
}

func New(policy risk.Policy, pendingTimeout time.Duration) *Machine {
	return &Machine{Policy: policy, PendingTimeout: pendingTimeout}
}

func stateOf(p models.Position) models.PositionState {
	if p.State == "" {
		return models.StateNone
	}
	return p.State
}

// PlanEntry decides whether a BUY signal becomes an entry order. existing is
// the stored Position for the instrument, or the zero value.
func (m *Machine) PlanEntry(existing models.Position, inst models.Instrument, sig models.Signal,
	marketPrice decimal.Decimal, liveCount, maxOpen int) (EntryPlan, error) {

	if sig.Direction != models.Buy {
		return EntryPlan{}, ErrNoBuySignal
	}
	if stateOf(existing).IsLive() {
		return EntryPlan{}, ErrPositionLive
	}
	if existing.Halted {
		return EntryPlan{}, fmt.Errorf("%w: %s", ErrHalted, existing.HaltReason)
	}
	if !inst.Tradable {
		return EntryPlan{}, ErrNotTradable
	}
	if liveCount >= maxOpen {
		return EntryPlan{}, fmt.Errorf("%w (%d/%d)", ErrCapReached, liveCount, maxOpen)
	}
	if !marketPrice.IsPositive() {
		return EntryPlan{}, fmt.Errorf("%w: %s", ErrInvalidMarket, marketPrice)
	}

	limit := risk.RoundPrice(m.Policy.EntryLimitPrice(marketPrice), inst.TickSize)
	if !limit.IsPositive() {
		return EntryPlan{}, fmt.Errorf("%w: limit rounds to %s", ErrInvalidMarket, limit)
	}
	qty, err := m.Policy.EntryQuantity(limit, inst)
	if err != nil {
		return EntryPlan{}, err
	}

	return EntryPlan{
		Instrument:    inst,
		MarketPrice:   marketPrice,
		LimitPrice:    limit,
		Quantity:      qty,
		StopLossPrice: m.Policy.StopLossPrice(limit),
	}, nil
}

// Pending is the NONE -> PENDING_ENTRY transition after the limit order was accepted.
func (m *Machine) Pending(plan EntryPlan, orderID string, now time.Time) models.Position {
	return models.Position{
		ID:            uuid.NewString(),
		Symbol:        plan.Instrument.Symbol,
		State:         models.StatePendingEntry,
		EntryOrderID:  orderID,
		LimitPrice:    plan.LimitPrice,
		RequestedQty:  plan.Quantity,
		StopLossPrice: plan.StopLossPrice,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// ReviewPending advances a PENDING_ENTRY position from the order's fill status.
// A returned ActionCancel means the order should be cancelled and, once that
// succeeds, the Position passed to Cancelled.
func (m *Machine) ReviewPending(p models.Position, status models.FillStatus, tradable bool, now time.Time) (models.Position, Decision, error) {
	if p.State != models.StatePendingEntry {
		return p, Decision{}, fmt.Errorf("%w: review of %s position", ErrInvalidTransition, p.State)
	}

	switch status.State {
	case models.OrderFilled:
		price, qty := status.Price, status.Quantity
		if !price.IsPositive() {
			price = p.LimitPrice
		}
		if !qty.IsPositive() {
			qty = p.RequestedQty
		}
		return m.open(p, price, qty, now), Decision{}, nil

	case models.OrderCancelled:
		if status.Quantity.IsPositive() {
			price := status.Price
			if !price.IsPositive() {
				price = p.LimitPrice
			}
			return m.open(p, price, status.Quantity, now), Decision{}, nil
		}
		next, err := m.Cancelled(p, models.ReasonExternalCancel, now)
		return next, Decision{}, err
	}

	if !tradable {
		return p, Decision{Action: ActionCancel, Reason: models.ReasonUntradeable}, nil
	}
	if m.PendingTimeout > 0 && now.Sub(p.CreatedAt) >= m.PendingTimeout {
		return p, Decision{Action: ActionCancel, Reason: models.ReasonTimeout}, nil
	}
	return p, Decision{}, nil
}

// AfterCancel resolves a PENDING_ENTRY position once a cancel request
// succeeded. Fills that landed before the cancel open the position.
func (m *Machine) AfterCancel(p models.Position, status models.FillStatus, reason models.CloseReason, now time.Time) (models.Position, error) {
	if status.Quantity.IsPositive() {
		if p.State != models.StatePendingEntry {
			return p, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, p.State, models.StateOpen)
		}
		price := status.Price
		if !price.IsPositive() {
			price = p.LimitPrice
		}
		return m.open(p, price, status.Quantity, now), nil
	}
	return m.Cancelled(p, reason, now)
}

func (m *Machine) open(p models.Position, price, qty decimal.Decimal, now time.Time) models.Position {
	opened := now
	p.State = models.StateOpen
	p.EntryPrice = price
	p.Quantity = qty
	p.PeakPrice = price
	p.TrailingArmed = false
	p.OpenedAt = &opened
	p.UpdatedAt = now
	if !p.StopLossPrice.IsPositive() || p.StopLossPrice.GreaterThanOrEqual(price) {
		p.StopLossPrice = m.Policy.StopLossPrice(price)
	}
	return p
}

// Cancelled is the PENDING_ENTRY -> CANCELLED transition.
func (m *Machine) Cancelled(p models.Position, reason models.CloseReason, now time.Time) (models.Position, error) {
	if !p.State.CanTransitionTo(models.StateCancelled) {
		return p, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, p.State, models.StateCancelled)
	}
	closed := now
	p.State = models.StateCancelled
	p.CloseReason = reason
	p.ClosedAt = &closed
	p.UpdatedAt = now
	return p, nil
}

// Tick evaluates a holding position against the current price and signal.
// Checks run in order stop-loss, signal exit, trailing stop; the first hit
// returns ActionSell with the Position unchanged. Otherwise the peak is
// raised and the trailing stop armed as needed.
func (m *Machine) Tick(p models.Position, price decimal.Decimal, dir models.Direction, now time.Time) (models.Position, Decision, error) {
	if !p.State.IsHolding() {
		return p, Decision{}, fmt.Errorf("%w: tick on %s position", ErrInvalidTransition, p.State)
	}

	if price.LessThanOrEqual(p.StopLossPrice) {
		return p, Decision{Action: ActionSell, Reason: models.ReasonStopLoss}, nil
	}
	if dir == models.Sell {
		return p, Decision{Action: ActionSell, Reason: models.ReasonSignalExit}, nil
	}
	if p.TrailingArmed && price.LessThanOrEqual(m.Policy.TrailingStopPrice(p.PeakPrice)) {
		return p, Decision{Action: ActionSell, Reason: models.ReasonTrailingStop}, nil
	}

	changed := false
	if price.GreaterThan(p.PeakPrice) {
		p.PeakPrice = price
		changed = true
	}
	if !p.TrailingArmed && m.Policy.ShouldArm(price, p.EntryPrice) {
		p.TrailingArmed = true
		p.State = models.StateTrailing
		changed = true
	}
	if changed {
		p.UpdatedAt = now
	}
	return p, Decision{}, nil
}

// Close is the OPEN|TRAILING -> CLOSED transition after the sell filled.
func (m *Machine) Close(p models.Position, fillPrice decimal.Decimal, reason models.CloseReason, now time.Time) (models.Position, error) {
	if !p.State.CanTransitionTo(models.StateClosed) {
		return p, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, p.State, models.StateClosed)
	}
	closed := now
	p.State = models.StateClosed
	p.ExitPrice = fillPrice
	p.RealizedPnL = fillPrice.Sub(p.EntryPrice).Mul(p.Quantity)
	p.CloseReason = reason
	p.ClosedAt = &closed
	p.UpdatedAt = now
	return p, nil
}

// Halt marks the Position so no automated entry is attempted for its symbol.
func Halt(p models.Position, reason string, now time.Time) models.Position {
	p.Halted = true
	p.HaltReason = reason
	p.UpdatedAt = now
	return p
}

// Unhalt clears a halt set by Halt.
func Unhalt(p models.Position, now time.Time) models.Position {
	p.Halted = false
	p.HaltReason = ""
	p.UpdatedAt = now
	return p
}

package position

import (
	"errors"
	"testing"
	"time"

	"spot_trader/internal/models"
	"spot_trader/internal/risk"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func testMachine() *Machine {
	return New(risk.Policy{
		EntryOffsetPercent:  d("0.2"),
		StopLossPercent:     d("2"),
		TrailingStopPercent: d("1.5"),
		PositionSizeQuote:   d("100"),
	}, 5*time.Minute)
}

func btc() models.Instrument {
	return models.Instrument{
		Symbol:   "BTCUSDT",
		TickSize: d("0.01"),
		StepSize: d("0.00001"),
		MinQty:   d("0.00001"),
		Tradable: true,
	}
}

func openAt(entry string) models.Position {
	opened := t0
	return models.Position{
		ID:            "pos-1",
		Symbol:        "BTCUSDT",
		State:         models.StateOpen,
		EntryOrderID:  "1",
		EntryPrice:    d(entry),
		Quantity:      d("1"),
		StopLossPrice: testMachine().Policy.StopLossPrice(d(entry)),
		PeakPrice:     d(entry),
		CreatedAt:     t0,
		OpenedAt:      &opened,
	}
}

func TestPlanEntry(t *testing.T) {
	m := testMachine()
	buy := models.Signal{Symbol: "BTCUSDT", Direction: models.Buy, VoteCount: 2}

	plan, err := m.PlanEntry(models.Position{}, btc(), buy, d("100"), 0, 20)
	require.NoError(t, err)
	assert.True(t, plan.LimitPrice.Equal(d("99.8")))
	assert.True(t, plan.StopLossPrice.Equal(d("97.804")))
	assert.True(t, plan.Quantity.Equal(d("1.002")), plan.Quantity.String())

	p := m.Pending(plan, "order-1", t0)
	assert.Equal(t, models.StatePendingEntry, p.State)
	assert.NotEmpty(t, p.ID)
	assert.NoError(t, Validate(p))
}

func TestPlanEntry_Skips(t *testing.T) {
	m := testMachine()
	buy := models.Signal{Direction: models.Buy}

	_, err := m.PlanEntry(models.Position{}, btc(), models.Signal{Direction: models.Hold}, d("100"), 0, 20)
	assert.True(t, errors.Is(err, ErrNoBuySignal))

	_, err = m.PlanEntry(openAt("100"), btc(), buy, d("100"), 1, 20)
	assert.True(t, errors.Is(err, ErrPositionLive))

	_, err = m.PlanEntry(models.Position{}, btc(), buy, d("100"), 20, 20)
	assert.True(t, errors.Is(err, ErrCapReached))

	halted := Halt(models.Position{State: models.StateClosed}, "bad stop", t0)
	_, err = m.PlanEntry(halted, btc(), buy, d("100"), 0, 20)
	assert.True(t, errors.Is(err, ErrHalted))

	inst := btc()
	inst.Tradable = false
	_, err = m.PlanEntry(models.Position{}, inst, buy, d("100"), 0, 20)
	assert.True(t, errors.Is(err, ErrNotTradable))

	inst = btc()
	inst.MinQty = d("5")
	_, err = m.PlanEntry(models.Position{}, inst, buy, d("100"), 0, 20)
	assert.True(t, errors.Is(err, risk.ErrBelowMinimum))
}

func TestTick_StopLoss(t *testing.T) {
	m := testMachine()
	p := openAt("100")
	require.True(t, p.StopLossPrice.Equal(d("98")))

	next, dec, err := m.Tick(p, d("97"), models.Hold, t0)
	require.NoError(t, err)
	assert.Equal(t, ActionSell, dec.Action)
	assert.Equal(t, models.ReasonStopLoss, dec.Reason)
	assert.Equal(t, p, next)

	closed, err := m.Close(next, d("97"), dec.Reason, t0)
	require.NoError(t, err)
	assert.Equal(t, models.StateClosed, closed.State)
	assert.True(t, closed.RealizedPnL.IsNegative())
	assert.NoError(t, Validate(closed))
}

func TestTick_TrailingStop(t *testing.T) {
	m := testMachine()
	p := openAt("100")

	p, dec, err := m.Tick(p, d("110"), models.Hold, t0)
	require.NoError(t, err)
	assert.Equal(t, ActionNone, dec.Action)
	assert.True(t, p.TrailingArmed)
	assert.Equal(t, models.StateTrailing, p.State)
	assert.True(t, p.PeakPrice.Equal(d("110")))
	assert.True(t, m.Policy.TrailingStopPrice(p.PeakPrice).Equal(d("108.35")))

	p, dec, err = m.Tick(p, d("108"), models.Hold, t0)
	require.NoError(t, err)
	assert.Equal(t, ActionSell, dec.Action)
	assert.Equal(t, models.ReasonTrailingStop, dec.Reason)

	closed, err := m.Close(p, d("108"), dec.Reason, t0)
	require.NoError(t, err)
	assert.True(t, closed.RealizedPnL.IsPositive())
	assert.Equal(t, models.ReasonTrailingStop, closed.CloseReason)
}

func TestTick_StopLossBeatsTrailingAndSignal(t *testing.T) {
	m := testMachine()
	p := openAt("100")
	p.State = models.StateTrailing
	p.TrailingArmed = true
	p.PeakPrice = d("101")

	// 97 is below both the stop (98) and the trailing level (99.485)
	_, dec, err := m.Tick(p, d("97"), models.Sell, t0)
	require.NoError(t, err)
	assert.Equal(t, models.ReasonStopLoss, dec.Reason)
}

func TestTick_SignalExitBeforeTrailing(t *testing.T) {
	m := testMachine()
	p := openAt("100")
	p.State = models.StateTrailing
	p.TrailingArmed = true
	p.PeakPrice = d("110")

	_, dec, err := m.Tick(p, d("108"), models.Sell, t0)
	require.NoError(t, err)
	assert.Equal(t, models.ReasonSignalExit, dec.Reason)
}

func TestTick_PeakMonotonicAndArmingSticky(t *testing.T) {
	m := testMachine()
	p := openAt("100")
	prices := []string{"99", "100.5", "102", "101.9", "103", "102.5", "102.2"}

	for _, s := range prices {
		next, dec, err := m.Tick(p, d(s), models.Hold, t0)
		require.NoError(t, err)
		require.Equal(t, ActionNone, dec.Action, s)
		assert.True(t, next.PeakPrice.GreaterThanOrEqual(p.PeakPrice))
		if p.TrailingArmed {
			assert.True(t, next.TrailingArmed)
		}
		assert.NoError(t, CheckTransition(p, next))
		p = next
	}
	assert.True(t, p.PeakPrice.Equal(d("103")))
	assert.True(t, p.TrailingArmed)
}

func TestTick_RejectsNonHolding(t *testing.T) {
	m := testMachine()
	_, _, err := m.Tick(models.Position{State: models.StatePendingEntry}, d("1"), models.Hold, t0)
	assert.True(t, errors.Is(err, ErrInvalidTransition))
}

func pending(m *Machine) models.Position {
	plan, _ := m.PlanEntry(models.Position{}, btc(), models.Signal{Direction: models.Buy}, d("100"), 0, 20)
	return m.Pending(plan, "order-1", t0)
}

func TestReviewPending_Filled(t *testing.T) {
	m := testMachine()
	p := pending(m)

	next, dec, err := m.ReviewPending(p, models.FillStatus{State: models.OrderFilled, Price: d("99.8"), Quantity: d("1.002")}, true, t0.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, ActionNone, dec.Action)
	assert.Equal(t, models.StateOpen, next.State)
	assert.True(t, next.PeakPrice.Equal(d("99.8")))
	assert.True(t, next.StopLossPrice.LessThan(next.EntryPrice))
	assert.NoError(t, Validate(next))
	assert.NoError(t, CheckTransition(p, next))
}

func TestReviewPending_TimeoutThenFreshEntry(t *testing.T) {
	m := testMachine()
	p := pending(m)

	same, dec, err := m.ReviewPending(p, models.FillStatus{State: models.OrderPending}, true, t0.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, ActionNone, dec.Action)
	assert.Equal(t, p, same)

	_, dec, err = m.ReviewPending(p, models.FillStatus{State: models.OrderPending}, true, t0.Add(6*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, ActionCancel, dec.Action)
	assert.Equal(t, models.ReasonTimeout, dec.Reason)

	cancelled, err := m.AfterCancel(p, models.FillStatus{State: models.OrderCancelled}, dec.Reason, t0.Add(6*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, models.StateCancelled, cancelled.State)

	plan, err := m.PlanEntry(cancelled, btc(), models.Signal{Direction: models.Buy}, d("100"), 0, 20)
	require.NoError(t, err)
	fresh := m.Pending(plan, "order-2", t0.Add(7*time.Minute))
	assert.NotEqual(t, cancelled.ID, fresh.ID)
	assert.NoError(t, CheckTransition(cancelled, fresh))
}

func TestReviewPending_Untradeable(t *testing.T) {
	m := testMachine()
	_, dec, err := m.ReviewPending(pending(m), models.FillStatus{State: models.OrderPending}, false, t0)
	require.NoError(t, err)
	assert.Equal(t, ActionCancel, dec.Action)
	assert.Equal(t, models.ReasonUntradeable, dec.Reason)
}

func TestReviewPending_ExternalCancel(t *testing.T) {
	m := testMachine()
	p := pending(m)

	next, _, err := m.ReviewPending(p, models.FillStatus{State: models.OrderCancelled}, true, t0)
	require.NoError(t, err)
	assert.Equal(t, models.StateCancelled, next.State)
	assert.Equal(t, models.ReasonExternalCancel, next.CloseReason)

	partial, _, err := m.ReviewPending(p, models.FillStatus{State: models.OrderCancelled, Price: d("99.8"), Quantity: d("0.5")}, true, t0)
	require.NoError(t, err)
	assert.Equal(t, models.StateOpen, partial.State)
	assert.True(t, partial.Quantity.Equal(d("0.5")))
}

func TestTerminalNeverReopens(t *testing.T) {
	m := testMachine()
	closed, err := m.Close(openAt("100"), d("101"), models.ReasonSignalExit, t0)
	require.NoError(t, err)

	_, err = m.Close(closed, d("101"), models.ReasonSignalExit, t0)
	assert.True(t, errors.Is(err, ErrInvalidTransition))

	reopened := closed
	reopened.State = models.StateOpen
	assert.Error(t, CheckTransition(closed, reopened))

	_, err = m.Cancelled(closed, models.ReasonTimeout, t0)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	p := openAt("100")
	assert.NoError(t, Validate(p))

	bad := p
	bad.StopLossPrice = d("100")
	assert.True(t, errors.Is(Validate(bad), ErrInvariant))

	bad = p
	bad.PeakPrice = d("99")
	assert.Error(t, Validate(bad))

	bad = p
	bad.TrailingArmed = true
	assert.Error(t, Validate(bad))
}

func TestCheckTransition_LiveNotReplaced(t *testing.T) {
	live := openAt("100")
	fresh := live
	fresh.ID = "pos-2"
	fresh.State = models.StatePendingEntry
	assert.True(t, errors.Is(CheckTransition(live, fresh), ErrInvalidTransition))
}

package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPositionState_Transitions(t *testing.T) {
	legal := [][2]PositionState{
		{StateNone, StatePendingEntry},
		{StatePendingEntry, StateOpen},
		{StatePendingEntry, StateCancelled},
		{StateOpen, StateTrailing},
		{StateOpen, StateClosed},
		{StateTrailing, StateClosed},
	}
	for _, tr := range legal {
		assert.Truef(t, tr[0].CanTransitionTo(tr[1]), "%s -> %s", tr[0], tr[1])
	}

	illegal := [][2]PositionState{
		{StateTrailing, StateOpen},
		{StateOpen, StatePendingEntry},
		{StateClosed, StateOpen},
		{StateCancelled, StatePendingEntry},
		{StateNone, StateOpen},
		{StatePendingEntry, StateClosed},
	}
	for _, tr := range illegal {
		assert.Falsef(t, tr[0].CanTransitionTo(tr[1]), "%s -> %s", tr[0], tr[1])
	}

	assert.True(t, StateClosed.IsTerminal())
	assert.True(t, StateCancelled.IsTerminal())
	assert.False(t, StateTrailing.IsTerminal())
	assert.True(t, StatePendingEntry.IsLive())
	assert.False(t, StatePendingEntry.IsHolding())
}

func TestPosition_JSONRoundTrip(t *testing.T) {
	created := time.Date(2025, 3, 1, 11, 55, 0, 0, time.UTC)
	opened := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	closed := opened.Add(90 * time.Minute)
	p := Position{
		ID:            "f3a1",
		Symbol:        "BTCUSDT",
		State:         StateClosed,
		EntryOrderID:  "42",
		LimitPrice:    decimal.RequireFromString("99.8"),
		RequestedQty:  decimal.RequireFromString("0.50100"),
		EntryPrice:    decimal.RequireFromString("100"),
		Quantity:      decimal.RequireFromString("0.5"),
		StopLossPrice: decimal.RequireFromString("98"),
		PeakPrice:     decimal.RequireFromString("105.5"),
		TrailingArmed: true,
		CreatedAt:     created,
		OpenedAt:      &opened,
		ClosedAt:      &closed,
		ExitPrice:     decimal.RequireFromString("103.9175"),
		RealizedPnL:   decimal.RequireFromString("1.95875"),
		CloseReason:   ReasonTrailingStop,
		Halted:        true,
		HaltReason:    "sell rejected: insufficient balance",
		UpdatedAt:     closed,
	}

	b, err := json.Marshal(p)
	require.NoError(t, err)

	var got Position
	require.NoError(t, json.Unmarshal(b, &got))

	assert.Equal(t, p.ID, got.ID)
	assert.Equal(t, p.Symbol, got.Symbol)
	assert.Equal(t, p.State, got.State)
	assert.Equal(t, p.EntryOrderID, got.EntryOrderID)
	assert.True(t, p.LimitPrice.Equal(got.LimitPrice), "limit price %s", got.LimitPrice)
	assert.True(t, p.RequestedQty.Equal(got.RequestedQty), "requested qty %s", got.RequestedQty)
	assert.True(t, p.EntryPrice.Equal(got.EntryPrice))
	assert.True(t, p.Quantity.Equal(got.Quantity))
	assert.True(t, p.StopLossPrice.Equal(got.StopLossPrice))
	assert.True(t, p.PeakPrice.Equal(got.PeakPrice))
	assert.True(t, got.TrailingArmed)
	assert.True(t, created.Equal(got.CreatedAt))
	require.NotNil(t, got.OpenedAt)
	assert.True(t, opened.Equal(*got.OpenedAt))
	require.NotNil(t, got.ClosedAt)
	assert.True(t, closed.Equal(*got.ClosedAt))
	assert.True(t, p.ExitPrice.Equal(got.ExitPrice), "exit price %s", got.ExitPrice)
	assert.True(t, p.RealizedPnL.Equal(got.RealizedPnL), "realized pnl %s", got.RealizedPnL)
	assert.Equal(t, ReasonTrailingStop, got.CloseReason)
	assert.True(t, got.Halted)
	assert.Equal(t, p.HaltReason, got.HaltReason)
	assert.True(t, closed.Equal(got.UpdatedAt))
}

func TestPosition_JSONRoundTripPending(t *testing.T) {
	created := time.Date(2025, 3, 1, 11, 55, 0, 0, time.UTC)
	p := Position{
		ID:           "b7",
		Symbol:       "ETHUSDT",
		State:        StatePendingEntry,
		EntryOrderID: "43",
		LimitPrice:   decimal.RequireFromString("1996"),
		RequestedQty: decimal.RequireFromString("0.05"),
		CreatedAt:    created,
		UpdatedAt:    created,
	}

	b, err := json.Marshal(p)
	require.NoError(t, err)

	var got Position
	require.NoError(t, json.Unmarshal(b, &got))

	assert.Equal(t, StatePendingEntry, got.State)
	assert.True(t, p.LimitPrice.Equal(got.LimitPrice))
	assert.True(t, p.RequestedQty.Equal(got.RequestedQty))
	assert.Nil(t, got.OpenedAt)
	assert.Nil(t, got.ClosedAt)
	assert.Equal(t, ReasonNone, got.CloseReason)
	assert.False(t, got.Halted)
	assert.Empty(t, got.HaltReason)
}

func TestNewTradeRecord(t *testing.T) {
	opened := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	closed := opened.Add(3 * time.Hour)
	p := Position{
		ID:          "id-1",
		Symbol:      "ETHUSDT",
		State:       StateClosed,
		EntryPrice:  decimal.NewFromInt(100),
		ExitPrice:   decimal.NewFromInt(97),
		Quantity:    decimal.NewFromInt(2),
		RealizedPnL: decimal.NewFromInt(-6),
		CloseReason: ReasonStopLoss,
		OpenedAt:    &opened,
		ClosedAt:    &closed,
	}

	rec := NewTradeRecord(p)
	assert.Equal(t, "ETHUSDT", rec.Symbol)
	assert.Equal(t, ReasonStopLoss, rec.CloseReason)
	assert.True(t, rec.PnLPercent.Equal(decimal.NewFromInt(-3)), rec.PnLPercent.String())
	assert.Equal(t, closed, rec.ExitTime)
}

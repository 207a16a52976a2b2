package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PositionState is the lifecycle stage of a Position.
type PositionState string

const (
	StateNone         PositionState = "NONE"
	StatePendingEntry PositionState = "PENDING_ENTRY"
	StateOpen         PositionState = "OPEN"
	StateTrailing     PositionState = "TRAILING"
	StateClosed       PositionState = "CLOSED"
	StateCancelled    PositionState = "CANCELLED"
)

// forward lists the states reachable from each state in one step.
var forward = map[PositionState][]PositionState{
	StateNone:         {StatePendingEntry},
	StatePendingEntry: {StateOpen, StateCancelled},
	StateOpen:         {StateTrailing, StateClosed},
	StateTrailing:     {StateClosed},
}

// CanTransitionTo reports whether next is a legal successor of s.
func (s PositionState) CanTransitionTo(next PositionState) bool {
	for _, n := range forward[s] {
		if n == next {
			return true
		}
	}
	return false
}

// IsTerminal is true for CLOSED and CANCELLED.
func (s PositionState) IsTerminal() bool {
	return s == StateClosed || s == StateCancelled
}

// IsLive is true while the position holds an order or inventory.
func (s PositionState) IsLive() bool {
	return s == StatePendingEntry || s == StateOpen || s == StateTrailing
}

// IsHolding is true once the entry order has filled and until exit.
func (s PositionState) IsHolding() bool {
	return s == StateOpen || s == StateTrailing
}

// CloseReason records why a position left the live states.
type CloseReason string

const (
	ReasonNone           CloseReason = ""
	ReasonStopLoss       CloseReason = "stop-loss"
	ReasonTrailingStop   CloseReason = "trailing-stop"
	ReasonSignalExit     CloseReason = "signal-exit"
	ReasonTimeout        CloseReason = "timeout"
	ReasonUntradeable    CloseReason = "untradeable"
	ReasonRejected       CloseReason = "rejected"
	ReasonExternalCancel CloseReason = "external-cancel"
)

// Position is one instrument's trade lifecycle. At most one live Position
// exists per symbol; terminal ones remain in the store until replaced.
type Position struct {
	ID            string          `json:"id"`
	Symbol        string          `json:"symbol"`
	State         PositionState   `json:"state"`
	EntryOrderID  string          `json:"entry_order_id,omitempty"`
	LimitPrice    decimal.Decimal `json:"limit_price"`
	RequestedQty  decimal.Decimal `json:"requested_qty"`
	EntryPrice    decimal.Decimal `json:"entry_price"`
	Quantity      decimal.Decimal `json:"quantity"`
	StopLossPrice decimal.Decimal `json:"stop_loss_price"`
	PeakPrice     decimal.Decimal `json:"peak_price"`
	TrailingArmed bool            `json:"trailing_armed"`
	CreatedAt     time.Time       `json:"created_at"`
	OpenedAt      *time.Time      `json:"opened_at,omitempty"`
	ClosedAt      *time.Time      `json:"closed_at,omitempty"`
	ExitPrice     decimal.Decimal `json:"exit_price"`
	RealizedPnL   decimal.Decimal `json:"realized_pnl"`
	CloseReason   CloseReason     `json:"close_reason,omitempty"`
	Halted        bool            `json:"halted,omitempty"`
	HaltReason    string          `json:"halt_reason,omitempty"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// UnrealizedPnL is (price - entry) * quantity for a holding position, zero otherwise.
func (p Position) UnrealizedPnL(price decimal.Decimal) decimal.Decimal {
	if !p.State.IsHolding() {
		return decimal.Zero
	}
	return price.Sub(p.EntryPrice).Mul(p.Quantity)
}

// PortfolioState is the on-disk document of the file store.
type PortfolioState struct {
	Version   string              `json:"version"`
	LastSync  string              `json:"last_sync"`
	Positions map[string]Position `json:"positions"`
}

// TradeRecord is the journal row written when a position closes.
type TradeRecord struct {
	PositionID  string          `json:"position_id"`
	Symbol      string          `json:"symbol"`
	EntryTime   time.Time       `json:"entry_time"`
	ExitTime    time.Time       `json:"exit_time"`
	EntryPrice  decimal.Decimal `json:"entry_price"`
	ExitPrice   decimal.Decimal `json:"exit_price"`
	Quantity    decimal.Decimal `json:"quantity"`
	PnL         decimal.Decimal `json:"pnl"`
	PnLPercent  decimal.Decimal `json:"pnl_percent"`
	CloseReason CloseReason     `json:"reason"`
}

// NewTradeRecord builds the journal row for a CLOSED position.
func NewTradeRecord(p Position) TradeRecord {
	rec := TradeRecord{
		PositionID:  p.ID,
		Symbol:      p.Symbol,
		EntryPrice:  p.EntryPrice,
		ExitPrice:   p.ExitPrice,
		Quantity:    p.Quantity,
		PnL:         p.RealizedPnL,
		CloseReason: p.CloseReason,
	}
	if p.OpenedAt != nil {
		rec.EntryTime = *p.OpenedAt
	}
	if p.ClosedAt != nil {
		rec.ExitTime = *p.ClosedAt
	}
	if !p.EntryPrice.IsZero() {
		rec.PnLPercent = p.ExitPrice.Sub(p.EntryPrice).Div(p.EntryPrice).Mul(decimal.NewFromInt(100)).Round(4)
	}
	return rec
}

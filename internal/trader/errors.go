package trader

import (
	"context"
	"errors"
	"fmt"

	"spot_trader/internal/indicators"
	"spot_trader/internal/market"
	"spot_trader/internal/position"
	"spot_trader/internal/storage"
)

// Kind is the failure class of one instrument evaluation.
type Kind int

const (
	KindUnknown Kind = iota
	// KindData: bad or short candle history. Skip this cycle.
	KindData
	// KindTransient: rate limits, timeouts, exchange outages. Retried next cycle.
	KindTransient
	// KindRejection: the exchange refused the request definitively.
	KindRejection
	// KindPersistence: a mutation could not be made durable.
	KindPersistence
	// KindInvariant: the stored Position is inconsistent. Needs an operator.
	KindInvariant
	// KindCanceled: the cycle context ended.
	KindCanceled
)

func (k Kind) String() string {
	switch k {
	case KindData:
		return "DataError"
	case KindTransient:
		return "ExchangeTransientError"
	case KindRejection:
		return "ExchangeRejectionError"
	case KindPersistence:
		return "PersistenceError"
	case KindInvariant:
		return "InvariantViolationError"
	case KindCanceled:
		return "Canceled"
	}
	return "UnknownError"
}

// Fatal reports whether the kind must be escalated to the operator.
func (k Kind) Fatal() bool {
	return k == KindPersistence || k == KindInvariant
}

// EvalError is a classified failure of one instrument's evaluation.
type EvalError struct {
	Symbol string
	Kind   Kind
	Err    error
}

func (e *EvalError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Symbol, e.Kind, e.Err)
}

func (e *EvalError) Unwrap() error { return e.Err }

// Classify maps an error from the feed, gateway, engine or store onto a Kind.
func Classify(err error) Kind {
	var ee *EvalError
	switch {
	case err == nil:
		return KindUnknown
	case errors.As(err, &ee):
		return ee.Kind
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	case errors.Is(err, storage.ErrPersistence):
		return KindPersistence
	case errors.Is(err, position.ErrInvariant), errors.Is(err, position.ErrInvalidTransition):
		return KindInvariant
	case errors.Is(err, indicators.ErrInsufficientData), errors.Is(err, indicators.ErrInvalidCandle):
		return KindData
	case market.IsTransient(err):
		return KindTransient
	case market.IsRejection(err), errors.Is(err, market.ErrOrderNotFound):
		return KindRejection
	}
	return KindUnknown
}

func wrap(symbol string, err error) error {
	if err == nil {
		return nil
	}
	var ee *EvalError
	if errors.As(err, &ee) {
		return err
	}
	return &EvalError{Symbol: symbol, Kind: Classify(err), Err: err}
}

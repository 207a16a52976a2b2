package trader

import (
	"context"
	"errors"
	"fmt"
	"log"

	"spot_trader/internal/logger"
	"spot_trader/internal/market"
	"spot_trader/internal/models"
	"spot_trader/internal/position"
	"spot_trader/internal/risk"

	"github.com/shopspring/decimal"
)

// evaluate runs one instrument through the pipeline. The symbol lock is held
// for the whole evaluation, so no two evaluations see the same Position.
func (t *Trader) evaluate(ctx context.Context, sym string, existing models.Position) error {
	lock := t.symbolLock(sym)
	lock.Lock()
	defer lock.Unlock()

	if reason, halted := t.memHalt(sym); halted {
		log.Printf("[%s] halted after store failure (%s), skipping", sym, reason)
		return nil
	}
	if err := ctx.Err(); err != nil {
		return wrap(sym, err)
	}

	if existing.State.IsLive() {
		if err := position.Validate(existing); err != nil {
			if existing.Halted {
				log.Printf("[%s] halted, skipping: %s", sym, existing.HaltReason)
				return nil
			}
			t.haltStored(ctx, existing, err)
			return wrap(sym, err)
		}
	}

	var inst models.Instrument
	var err error
	if existing.State.IsLive() {
		inst, err = t.liveInstrument(ctx, sym)
	} else {
		inst, err = t.instrument(ctx, sym)
	}
	if err != nil {
		return wrap(sym, err)
	}

	switch {
	case existing.State == models.StatePendingEntry:
		return wrap(sym, t.reviewPending(ctx, inst, existing))
	case existing.State.IsHolding():
		return wrap(sym, t.manage(ctx, inst, existing))
	}
	return wrap(sym, t.considerEntry(ctx, inst, existing))
}

// signalFor fuses a fresh snapshot, priced at the live price, against the
// snapshot remembered from the previous cycle.
func (t *Trader) signalFor(ctx context.Context, sym string, price decimal.Decimal) (models.Signal, error) {
	series, err := t.feed.Candles(ctx, sym, t.opts.Lookback)
	if err != nil {
		return models.Signal{}, err
	}
	snap, seed, err := t.engine.EvaluateWithPrevious(series)
	if err != nil {
		return models.Signal{}, err
	}
	snap.Price, _ = price.Float64()

	if prev, ok := t.swapPrevious(sym, snap); ok {
		seed = &prev
	}
	sig := t.fusion.Fuse(snap, seed)
	logger.Debugf("[%s] RSI %.1f MACD %.4f/%.4f MA20 %.4f MA50 %.4f -> %s (%d/3)",
		sym, snap.RSI, snap.MACDLine, snap.MACDSignal, snap.MA20, snap.MA50, sig.Direction, sig.VoteCount)
	return sig, nil
}

func (t *Trader) considerEntry(ctx context.Context, inst models.Instrument, existing models.Position) error {
	sym := inst.Symbol
	if existing.Halted || t.Paused() || t.inCooldown(sym) || !inst.Tradable {
		return nil
	}

	price, err := t.feed.CurrentPrice(ctx, sym)
	if err != nil {
		return err
	}
	sig, err := t.signalFor(ctx, sym, price)
	if err != nil {
		return err
	}
	if sig.Direction != models.Buy {
		return nil
	}

	plan, err := t.machine.PlanEntry(existing, inst, sig, price, t.slotsInUse(), t.opts.MaxOpen)
	switch {
	case errors.Is(err, position.ErrCapReached), errors.Is(err, risk.ErrBelowMinimum):
		log.Printf("[%s] BUY signal ignored: %v", sym, err)
		return nil
	case err != nil:
		return err
	}
	if !t.reserveSlot() {
		log.Printf("[%s] BUY signal ignored: %v", sym, position.ErrCapReached)
		return nil
	}

	orderID, err := t.gateway.PlaceLimitBuy(ctx, inst, plan.LimitPrice, plan.Quantity)
	if err != nil {
		t.releaseSlot()
		if market.IsRejection(err) {
			t.startCooldown(sym)
		}
		return err
	}

	next := t.machine.Pending(plan, orderID, t.now())
	if err := t.commit(ctx, existing, next); err != nil {
		t.releaseSlot()
		// The order exists on the exchange but not in the store.
		if ok, cerr := t.gateway.Cancel(context.WithoutCancel(ctx), sym, orderID); cerr != nil || !ok {
			log.Printf("CRITICAL: [%s] unrecorded order %s may still be open (cancel: %v)", sym, orderID, cerr)
		}
		return err
	}

	log.Printf("[%s] ENTRY: limit buy %s @ %s (market %s, stop %s, order %s)",
		sym, plan.Quantity, plan.LimitPrice, price, plan.StopLossPrice, orderID)
	t.notifier.Notify(fmt.Sprintf("🟢 *ENTRY* %s\nLimit buy %s @ %s\nStop: %s | Votes: %d/3",
		sym, plan.Quantity, plan.LimitPrice, plan.StopLossPrice, sig.VoteCount))
	return nil
}

func (t *Trader) reviewPending(ctx context.Context, inst models.Instrument, p models.Position) error {
	sym := inst.Symbol
	status, err := t.gateway.FillStatus(ctx, sym, p.EntryOrderID)
	if errors.Is(err, market.ErrOrderNotFound) || market.IsRejection(err) {
		if !errors.Is(err, market.ErrOrderNotFound) {
			// Best effort: the order may still rest on the book.
			if _, cerr := t.gateway.Cancel(ctx, sym, p.EntryOrderID); cerr != nil {
				log.Printf("[%s] cancel of rejected entry %s: %v", sym, p.EntryOrderID, cerr)
			}
		}
		next, cerr := t.machine.Cancelled(p, models.ReasonRejected, t.now())
		if cerr != nil {
			return cerr
		}
		if cerr := t.commit(ctx, p, next); cerr != nil {
			return cerr
		}
		t.announce(p, next)
		return err
	}
	if err != nil {
		return err
	}

	next, dec, err := t.machine.ReviewPending(p, status, inst.Tradable, t.now())
	if err != nil {
		return err
	}
	if dec.Action == position.ActionCancel {
		log.Printf("[%s] cancelling entry order %s (%s)", sym, p.EntryOrderID, dec.Reason)
		if next, err = t.cancelEntry(ctx, inst, p, dec.Reason); err != nil {
			return err
		}
	}
	if next.State == p.State {
		return nil
	}

	if err := t.commit(ctx, p, next); err != nil {
		return err
	}
	t.announce(p, next)
	return nil
}

// cancelEntry cancels the entry order and resolves the Position from the
// order's final fill, so fills racing the cancel are not lost.
func (t *Trader) cancelEntry(ctx context.Context, inst models.Instrument, p models.Position, reason models.CloseReason) (models.Position, error) {
	sym := inst.Symbol
	if _, err := t.gateway.Cancel(ctx, sym, p.EntryOrderID); err != nil && !errors.Is(err, market.ErrOrderNotFound) {
		return p, err
	}

	status, err := t.gateway.FillStatus(ctx, sym, p.EntryOrderID)
	switch {
	case errors.Is(err, market.ErrOrderNotFound):
		return t.machine.Cancelled(p, models.ReasonRejected, t.now())
	case err != nil:
		return p, err
	case status.State == models.OrderPending:
		return p, fmt.Errorf("%w: order %s still open after cancel", market.ErrUnavailable, p.EntryOrderID)
	}
	return t.machine.AfterCancel(p, status, reason, t.now())
}

// manage checks stops and signal exits for a holding position. A missing
// signal only disables the signal exit; stops are always evaluated.
func (t *Trader) manage(ctx context.Context, inst models.Instrument, p models.Position) error {
	sym := inst.Symbol
	price, err := t.feed.CurrentPrice(ctx, sym)
	if err != nil {
		return err
	}

	dir := models.Hold
	if sig, err := t.signalFor(ctx, sym, price); err != nil {
		log.Printf("[%s] no signal this cycle, checking stops only: %v", sym, err)
	} else {
		dir = sig.Direction
	}

	next, dec, err := t.machine.Tick(p, price, dir, t.now())
	if err != nil {
		return err
	}
	if dec.Action == position.ActionSell {
		return t.exit(ctx, inst, p, price, dec.Reason)
	}

	if next.PeakPrice.Equal(p.PeakPrice) && next.TrailingArmed == p.TrailingArmed {
		return nil
	}
	if err := t.commit(ctx, p, next); err != nil {
		return err
	}
	if next.TrailingArmed && !p.TrailingArmed {
		log.Printf("[%s] trailing stop armed at %s (entry %s)", sym, price, p.EntryPrice)
	}
	return nil
}

func (t *Trader) exit(ctx context.Context, inst models.Instrument, p models.Position, price decimal.Decimal, reason models.CloseReason) error {
	sym := inst.Symbol
	log.Printf("[%s] EXIT (%s): price %s, entry %s, stop %s, peak %s",
		sym, reason, price, p.EntryPrice, p.StopLossPrice, p.PeakPrice)

	fill, err := t.gateway.PlaceSell(ctx, inst, p.Quantity)
	if err != nil {
		return err
	}
	closed, err := t.machine.Close(p, fill, reason, t.now())
	if err != nil {
		return err
	}

	rec := models.NewTradeRecord(closed)
	if t.journal != nil {
		if err := t.journal.Record(context.WithoutCancel(ctx), rec); err != nil {
			log.Printf("ERROR: [%s] trade journal: %v", sym, err)
		}
	}
	if err := t.commit(ctx, p, closed); err != nil {
		return err
	}

	t.notifier.Notify(fmt.Sprintf("🔴 *EXIT* %s (%s)\nSold %s @ %s\nP/L: %s (%s%%)",
		sym, reason, closed.Quantity, fill, closed.RealizedPnL.StringFixed(2), rec.PnLPercent.StringFixed(2)))
	return nil
}

// haltStored marks an inconsistent Position halted in the store.
func (t *Trader) haltStored(ctx context.Context, p models.Position, cause error) {
	if p.Halted {
		return
	}
	halted := position.Halt(p, cause.Error(), t.now())

	t.commitMu.Lock()
	defer t.commitMu.Unlock()
	if err := t.store.Save(context.WithoutCancel(ctx), halted); err != nil {
		t.haltInMemory(p.Symbol, err.Error())
		log.Printf("CRITICAL: [%s] could not persist halt: %v", p.Symbol, err)
	}
}

func (t *Trader) announce(prev, next models.Position) {
	switch next.State {
	case models.StateOpen:
		log.Printf("[%s] FILLED: %s @ %s (stop %s)", next.Symbol, next.Quantity, next.EntryPrice, next.StopLossPrice)
		t.notifier.Notify(fmt.Sprintf("✅ *FILLED* %s\n%s @ %s\nStop: %s",
			next.Symbol, next.Quantity, next.EntryPrice, next.StopLossPrice))
	case models.StateCancelled:
		t.startCooldown(next.Symbol)
		log.Printf("[%s] entry %s cancelled (%s)", next.Symbol, prev.EntryOrderID, next.CloseReason)
		t.notifier.Notify(fmt.Sprintf("⚪ *CANCELLED* %s entry (%s)", next.Symbol, next.CloseReason))
	}
}

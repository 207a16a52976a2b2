package trader

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"spot_trader/internal/models"
	"spot_trader/internal/position"
)

// Reconcile checks every PENDING_ENTRY in the store against the exchange and
// advances it to OPEN or CANCELLED before the first cycle runs.
func (t *Trader) Reconcile(ctx context.Context) error {
	positions, err := t.store.Load(ctx)
	if err != nil {
		return wrap("*", err)
	}

	var errs []error
	pending := 0
	for _, sym := range sortedSymbols(positions) {
		p := positions[sym]
		if err := position.Validate(p); err != nil {
			log.Printf("CRITICAL: [%s] stored position is inconsistent: %v", sym, err)
		}
		if p.State != models.StatePendingEntry {
			continue
		}
		pending++
		if err := t.reconcileOne(ctx, sym, p); err != nil {
			t.report(err)
			errs = append(errs, err)
		}
	}
	log.Printf("Reconciliation: %d pending entries checked, %d failed", pending, len(errs))
	return errors.Join(errs...)
}

func (t *Trader) reconcileOne(ctx context.Context, sym string, p models.Position) error {
	lock := t.symbolLock(sym)
	lock.Lock()
	defer lock.Unlock()

	inst, err := t.liveInstrument(ctx, sym)
	if err != nil {
		// Without rules we can still resolve fills; only cancellation needs them.
		log.Printf("[%s] instrument lookup failed during reconcile: %v", sym, err)
		inst = models.Instrument{Symbol: sym, Tradable: true}
	}
	return wrap(sym, t.reviewPending(ctx, inst, p))
}

// HaltSymbol blocks automated entries for sym until UnhaltSymbol.
func (t *Trader) HaltSymbol(ctx context.Context, sym, reason string) error {
	lock := t.symbolLock(sym)
	lock.Lock()
	defer lock.Unlock()

	positions, err := t.store.Load(ctx)
	if err != nil {
		return err
	}
	p, ok := positions[sym]
	if !ok {
		p = models.Position{Symbol: sym}
	}
	if p.Halted {
		return nil
	}
	next := position.Halt(p, reason, t.now())

	t.commitMu.Lock()
	defer t.commitMu.Unlock()
	return t.store.Save(ctx, next)
}

// UnhaltSymbol clears both the stored halt and any in-memory halt for sym.
// It reports whether anything was halted.
func (t *Trader) UnhaltSymbol(ctx context.Context, sym string) (bool, error) {
	lock := t.symbolLock(sym)
	lock.Lock()
	defer lock.Unlock()

	t.mu.Lock()
	_, wasMem := t.memHalts[sym]
	delete(t.memHalts, sym)
	t.mu.Unlock()

	positions, err := t.store.Load(ctx)
	if err != nil {
		return wasMem, err
	}
	p, ok := positions[sym]
	if !ok || !p.Halted {
		return wasMem, nil
	}

	t.commitMu.Lock()
	defer t.commitMu.Unlock()
	if err := t.store.Save(ctx, position.Unhalt(p, t.now())); err != nil {
		return false, err
	}
	log.Printf("[%s] unhalted by operator", sym)
	return true, nil
}

// Summary renders the live positions with their unrealized P/L at the
// current price. Prices that cannot be fetched are shown as unknown.
func (t *Trader) Summary(ctx context.Context) (string, error) {
	positions, err := t.store.Load(ctx)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	total := 0
	for _, sym := range sortedSymbols(positions) {
		p := positions[sym]
		if !p.State.IsLive() {
			continue
		}
		total++
		if p.State == models.StatePendingEntry {
			sb.WriteString(fmt.Sprintf("• %s PENDING %s @ %s (order %s)\n", sym, p.RequestedQty, p.LimitPrice, p.EntryOrderID))
			continue
		}
		price, err := t.feed.CurrentPrice(ctx, sym)
		if err != nil {
			sb.WriteString(fmt.Sprintf("• %s %s %s @ %s | price unknown\n", sym, p.State, p.Quantity, p.EntryPrice))
			continue
		}
		sb.WriteString(fmt.Sprintf("• %s %s %s @ %s | now %s | P/L %s\n",
			sym, p.State, p.Quantity, p.EntryPrice, price, p.UnrealizedPnL(price).StringFixed(2)))
	}
	if total == 0 {
		return "No open positions.", nil
	}
	return fmt.Sprintf("%d live positions:\n%s", total, sb.String()), nil
}

func (t *Trader) logShutdownSummary() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	summary, err := t.Summary(ctx)
	if err != nil {
		log.Printf("ERROR: shutdown summary: %v", err)
		return
	}
	log.Printf("Shutdown summary:\n%s", summary)
}

func sortedSymbols(positions map[string]models.Position) []string {
	out := make([]string, 0, len(positions))
	for sym := range positions {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

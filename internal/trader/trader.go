package trader

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"spot_trader/internal/indicators"
	"spot_trader/internal/market"
	"spot_trader/internal/models"
	"spot_trader/internal/position"
	"spot_trader/internal/signal"
	"spot_trader/internal/storage"

	"golang.org/x/sync/errgroup"
)

// Notifier delivers operator messages. telegram.Client implements it.
type Notifier interface {
	Notify(text string)
}

type nopNotifier struct{}

func (nopNotifier) Notify(string) {}

// Options are the scheduling knobs of a Trader.
type Options struct {
	Interval      time.Duration
	TopN          int
	RefreshEvery  int // cycles between top-volume refreshes
	MaxOpen       int
	Concurrency   int
	Lookback      int
	EntryCooldown time.Duration // after a cancelled entry
}

func (o Options) withDefaults() Options {
	if o.Interval <= 0 {
		o.Interval = time.Minute
	}
	if o.TopN <= 0 {
		o.TopN = 20
	}
	if o.RefreshEvery <= 0 {
		o.RefreshEvery = 10
	}
	if o.MaxOpen <= 0 {
		o.MaxOpen = 20
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 4
	}
	if o.Lookback <= 0 {
		o.Lookback = 100
	}
	return o
}

// Deps are the collaborators of a Trader. Journal and Notifier are optional.
type Deps struct {
	Feed     market.Feed
	Gateway  market.Gateway
	Store    storage.Store
	Journal  storage.Journal
	Notifier Notifier
	Engine   *indicators.Engine
	Fusion   *signal.Fusion
	Machine  *position.Machine
}

// CycleStats summarizes the last completed cycle.
type CycleStats struct {
	Cycle     int
	StartedAt time.Time
	Duration  time.Duration
	Evaluated int
	Failed    int
	Live      int
}

// Trader runs the evaluation cycle over the tracked instruments.
type Trader struct {
	feed     market.Feed
	gateway  market.Gateway
	store    storage.Store
	journal  storage.Journal
	notifier Notifier
	engine   *indicators.Engine
	fusion   *signal.Fusion
	machine  *position.Machine
	opts     Options
	now      func() time.Time

	startedAt time.Time

	// commitMu serializes every store write.
	commitMu sync.Mutex

	mu          sync.Mutex
	symbolLocks map[string]*sync.Mutex
	universe    []models.Instrument
	instruments map[string]models.Instrument
	previous    map[string]remembered
	memHalts    map[string]string
	cooldown    map[string]time.Time
	paused      bool
	cycle       int
	liveAtStart int
	reserved    int
	last        CycleStats
}

func New(d Deps, opts Options) *Trader {
	if d.Notifier == nil {
		d.Notifier = nopNotifier{}
	}
	if d.Engine == nil {
		d.Engine = indicators.NewEngine(indicators.DefaultConfig())
	}
	if d.Fusion == nil {
		d.Fusion = signal.NewFusion(signal.DefaultThresholds())
	}
	return &Trader{
		feed:        d.Feed,
		gateway:     d.Gateway,
		store:       d.Store,
		journal:     d.Journal,
		notifier:    d.Notifier,
		engine:      d.Engine,
		fusion:      d.Fusion,
		machine:     d.Machine,
		opts:        opts.withDefaults(),
		now:         time.Now,
		startedAt:   time.Now(),
		symbolLocks: make(map[string]*sync.Mutex),
		instruments: make(map[string]models.Instrument),
		previous:    make(map[string]remembered),
		memHalts:    make(map[string]string),
		cooldown:    make(map[string]time.Time),
	}
}

// Run reconciles pending entries and then evaluates one cycle per interval
// until ctx is cancelled. The cycle in flight always finishes and persists
// before Run returns.
func (t *Trader) Run(ctx context.Context) error {
	if err := t.Reconcile(ctx); err != nil {
		log.Printf("ERROR: startup reconciliation: %v", err)
	}

	for {
		start := time.Now()
		if err := t.RunCycle(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("ERROR: cycle failed: %v", err)
		}

		wait := t.opts.Interval - time.Since(start)
		if wait < 0 {
			log.Printf("WARN: cycle overran interval by %s", -wait)
			wait = 0
		}

		select {
		case <-ctx.Done():
			t.logShutdownSummary()
			return nil
		case <-time.After(wait):
		}
	}
}

// RunCycle evaluates every tracked instrument once. Instrument failures are
// logged and isolated; only a failure to load the store fails the cycle.
func (t *Trader) RunCycle(ctx context.Context) error {
	start := t.now()

	t.mu.Lock()
	t.cycle++
	cycle := t.cycle
	t.mu.Unlock()

	if cycle == 1 || (cycle-1)%t.opts.RefreshEvery == 0 {
		if err := t.refreshUniverse(ctx); err != nil {
			log.Printf("WARN: top volume refresh failed, keeping %d instruments: %v", len(t.Universe()), err)
		}
	}

	positions, err := t.store.Load(ctx)
	if err != nil {
		t.notifier.Notify(fmt.Sprintf("🚨 *STORE UNREADABLE*: cycle %d skipped: %v", cycle, err))
		return wrap("*", err)
	}

	live := storage.LiveCount(positions)
	symbols := t.selectSymbols(positions, live)

	t.mu.Lock()
	t.liveAtStart = live
	t.reserved = 0
	t.mu.Unlock()

	var (
		g      errgroup.Group
		failMu sync.Mutex
		failed int
	)
	g.SetLimit(t.opts.Concurrency)
	for _, sym := range symbols {
		existing := positions[sym]
		g.Go(func() error {
			if err := t.evaluate(ctx, sym, existing); err != nil {
				t.report(err)
				failMu.Lock()
				failed++
				failMu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	stats := CycleStats{
		Cycle:     cycle,
		StartedAt: start,
		Duration:  t.now().Sub(start),
		Evaluated: len(symbols),
		Failed:    failed,
		Live:      t.slotsInUse(),
	}
	t.mu.Lock()
	t.last = stats
	t.mu.Unlock()

	log.Printf("Cycle %d: evaluated %d instruments (%d failed), %d/%d live, took %s",
		cycle, stats.Evaluated, stats.Failed, stats.Live, t.opts.MaxOpen, stats.Duration.Round(time.Millisecond))
	return ctx.Err()
}

func (t *Trader) refreshUniverse(ctx context.Context) error {
	top, err := t.feed.TopVolumeInstruments(ctx, t.opts.TopN)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.universe = top
	for _, inst := range top {
		t.instruments[inst.Symbol] = inst
	}
	log.Printf("Tracking top %d instruments by volume", len(top))
	return nil
}

// selectSymbols returns the symbols to evaluate this cycle: every live
// position, plus the volume universe while entries are possible.
func (t *Trader) selectSymbols(positions map[string]models.Position, live int) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	seen := make(map[string]bool)
	var out []string
	for sym, p := range positions {
		if p.State.IsLive() {
			seen[sym] = true
			out = append(out, sym)
		}
	}
	sort.Strings(out)

	if live >= t.opts.MaxOpen || t.paused {
		return out
	}
	for _, inst := range t.universe {
		if !seen[inst.Symbol] {
			seen[inst.Symbol] = true
			out = append(out, inst.Symbol)
		}
	}
	return out
}

func (t *Trader) symbolLock(sym string) *sync.Mutex {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.symbolLocks[sym]
	if !ok {
		l = &sync.Mutex{}
		t.symbolLocks[sym] = l
	}
	return l
}

func (t *Trader) slotsInUse() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.liveAtStart + t.reserved
}

// reserveSlot claims one entry slot against MaxOpen.
func (t *Trader) reserveSlot() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.liveAtStart+t.reserved >= t.opts.MaxOpen {
		return false
	}
	t.reserved++
	return true
}

func (t *Trader) releaseSlot() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.reserved > 0 {
		t.reserved--
	}
}

// instrument returns cached rules for sym, asking the feed for symbols that
// left the volume universe.
func (t *Trader) instrument(ctx context.Context, sym string) (models.Instrument, error) {
	t.mu.Lock()
	inst, ok := t.instruments[sym]
	t.mu.Unlock()
	if ok {
		return inst, nil
	}
	inst, err := t.feed.Instrument(ctx, sym)
	if err != nil {
		return models.Instrument{}, err
	}
	t.mu.Lock()
	t.instruments[sym] = inst
	t.mu.Unlock()
	return inst, nil
}

// liveInstrument re-reads the rules of a symbol with a live position so a
// suspension is seen even after the symbol left the volume ranking. When the
// feed fails the cached rules are used; a definitive refusal marks them
// untradeable.
func (t *Trader) liveInstrument(ctx context.Context, sym string) (models.Instrument, error) {
	inst, err := t.feed.Instrument(ctx, sym)
	if err == nil {
		t.mu.Lock()
		t.instruments[sym] = inst
		t.mu.Unlock()
		return inst, nil
	}

	t.mu.Lock()
	cached, ok := t.instruments[sym]
	if ok && market.IsRejection(err) {
		cached.Tradable = false
		t.instruments[sym] = cached
	}
	t.mu.Unlock()
	if !ok {
		return models.Instrument{}, err
	}
	log.Printf("[%s] instrument refresh failed, using cached rules (tradable=%t): %v", sym, cached.Tradable, err)
	return cached, nil
}

// commit persists next in place of prev. It refuses writes that would break
// the lifecycle rules and runs detached from ctx cancellation so a finished
// side effect is always recorded.
func (t *Trader) commit(ctx context.Context, prev, next models.Position) error {
	if err := position.Validate(next); err != nil {
		return err
	}
	if err := position.CheckTransition(prev, next); err != nil {
		return err
	}

	t.commitMu.Lock()
	defer t.commitMu.Unlock()

	if err := t.store.Save(context.WithoutCancel(ctx), next); err != nil {
		t.haltInMemory(next.Symbol, err.Error())
		return err
	}
	return nil
}

// remembered is the last snapshot of a symbol and when it was taken.
type remembered struct {
	snap models.IndicatorSnapshot
	at   time.Time
}

// swapPrevious stores snap for sym and returns the one it replaces, if that
// was taken within the last two intervals. Older snapshots (the symbol was
// skipped while paused, halted or cooling down) are not a valid cross
// reference.
func (t *Trader) swapPrevious(sym string, snap models.IndicatorSnapshot) (models.IndicatorSnapshot, bool) {
	now := t.now()
	t.mu.Lock()
	defer t.mu.Unlock()
	prev, ok := t.previous[sym]
	t.previous[sym] = remembered{snap: snap, at: now}
	if !ok || now.Sub(prev.at) > 2*t.opts.Interval {
		return models.IndicatorSnapshot{}, false
	}
	return prev.snap, true
}

func (t *Trader) haltInMemory(sym, reason string) {
	t.mu.Lock()
	t.memHalts[sym] = reason
	t.mu.Unlock()
}

func (t *Trader) memHalt(sym string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.memHalts[sym]
	return r, ok
}

func (t *Trader) inCooldown(sym string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	until, ok := t.cooldown[sym]
	if !ok {
		return false
	}
	if t.now().Before(until) {
		return true
	}
	delete(t.cooldown, sym)
	return false
}

func (t *Trader) startCooldown(sym string) {
	if t.opts.EntryCooldown <= 0 {
		return
	}
	t.mu.Lock()
	t.cooldown[sym] = t.now().Add(t.opts.EntryCooldown)
	t.mu.Unlock()
}

// report logs a classified evaluation failure and escalates fatal ones.
func (t *Trader) report(err error) {
	var ee *EvalError
	if !errors.As(err, &ee) {
		ee = &EvalError{Symbol: "?", Kind: Classify(err), Err: err}
	}

	switch ee.Kind {
	case KindCanceled:
		log.Printf("[%s] evaluation interrupted: %v", ee.Symbol, ee.Err)
	case KindData, KindTransient:
		log.Printf("[%s] skipped (%s): %v", ee.Symbol, ee.Kind, ee.Err)
	case KindRejection:
		log.Printf("ERROR: [%s] %s: %v", ee.Symbol, ee.Kind, ee.Err)
		t.notifier.Notify(fmt.Sprintf("⚠️ *%s* rejected by exchange: %v", ee.Symbol, ee.Err))
	case KindPersistence, KindInvariant:
		log.Printf("CRITICAL: [%s] %s: %v", ee.Symbol, ee.Kind, ee.Err)
		t.notifier.Notify(fmt.Sprintf("🚨 *%s* %s, automated entries halted: %v", ee.Symbol, ee.Kind, ee.Err))
	default:
		log.Printf("ERROR: [%s] %v", ee.Symbol, ee.Err)
	}
}

// Universe returns the current volume-ranked instrument set.
func (t *Trader) Universe() []models.Instrument {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]models.Instrument(nil), t.universe...)
}

// LastCycle returns statistics of the most recent cycle.
func (t *Trader) LastCycle() CycleStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last
}

// Positions returns a fresh snapshot of the store.
func (t *Trader) Positions(ctx context.Context) (map[string]models.Position, error) {
	return t.store.Load(ctx)
}

func (t *Trader) SetPaused(paused bool) {
	t.mu.Lock()
	t.paused = paused
	t.mu.Unlock()
}

func (t *Trader) Paused() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.paused
}

package market

import (
	"context"
	"fmt"
	"log"
	"sync"

	"spot_trader/internal/models"

	"github.com/shopspring/decimal"
)

type paperOrder struct {
	symbol string
	price  decimal.Decimal
	qty    decimal.Decimal
	status models.OrderStatus
}

// Paper simulates order execution against a live Feed. Limit buys fill once
// the market trades at or below the limit; sells fill at the current price.
type Paper struct {
	Feed

	mu     sync.Mutex
	seq    int
	orders map[string]*paperOrder
}

var _ Exchange = (*Paper)(nil)

func NewPaper(feed Feed) *Paper {
	return &Paper{Feed: feed, orders: make(map[string]*paperOrder)}
}

func (p *Paper) PlaceLimitBuy(_ context.Context, inst models.Instrument, price, qty decimal.Decimal) (string, error) {
	if !price.IsPositive() || !qty.IsPositive() {
		return "", fmt.Errorf("%w: price %s qty %s", ErrRejected, price, qty)
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	p.seq++
	id := fmt.Sprintf("paper-%d", p.seq)
	p.orders[id] = &paperOrder{symbol: inst.Symbol, price: price, qty: qty, status: models.OrderPending}
	log.Printf("[PAPER] %s limit buy %s @ %s (order %s)", inst.Symbol, qty, price, id)
	return id, nil
}

func (p *Paper) PlaceSell(ctx context.Context, inst models.Instrument, qty decimal.Decimal) (decimal.Decimal, error) {
	price, err := p.CurrentPrice(ctx, inst.Symbol)
	if err != nil {
		return decimal.Zero, err
	}
	log.Printf("[PAPER] %s market sell %s @ %s", inst.Symbol, qty, price)
	return price, nil
}

func (p *Paper) Cancel(_ context.Context, _ string, orderID string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	o, ok := p.orders[orderID]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	if o.status != models.OrderPending {
		return false, nil
	}
	o.status = models.OrderCancelled
	return true, nil
}

func (p *Paper) FillStatus(ctx context.Context, _ string, orderID string) (models.FillStatus, error) {
	p.mu.Lock()
	o, ok := p.orders[orderID]
	if !ok {
		p.mu.Unlock()
		return models.FillStatus{}, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	status, symbol, limit := o.status, o.symbol, o.price
	p.mu.Unlock()

	if status == models.OrderPending {
		price, err := p.CurrentPrice(ctx, symbol)
		if err != nil {
			return models.FillStatus{}, err
		}
		if price.LessThanOrEqual(limit) {
			p.mu.Lock()
			if o.status == models.OrderPending {
				o.status = models.OrderFilled
			}
			status = o.status
			p.mu.Unlock()
		}
	}

	switch status {
	case models.OrderFilled:
		return models.FillStatus{State: status, Price: o.price, Quantity: o.qty}, nil
	case models.OrderCancelled:
		return models.FillStatus{State: status}, nil
	}
	return models.FillStatus{State: models.OrderPending}, nil
}

package binance

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"

	"spot_trader/internal/market"
	"spot_trader/internal/models"

	"github.com/shopspring/decimal"
)

type orderResponse struct {
	Symbol              string          `json:"symbol"`
	OrderID             int64           `json:"orderId"`
	Status              string          `json:"status"`
	Price               decimal.Decimal `json:"price"`
	OrigQty             decimal.Decimal `json:"origQty"`
	ExecutedQty         decimal.Decimal `json:"executedQty"`
	CummulativeQuoteQty decimal.Decimal `json:"cummulativeQuoteQty"`
	Fills               []struct {
		Price decimal.Decimal `json:"price"`
		Qty   decimal.Decimal `json:"qty"`
	} `json:"fills"`
}

// avgPrice is the volume weighted fill price, or zero if nothing executed.
func (o orderResponse) avgPrice() decimal.Decimal {
	if o.ExecutedQty.IsPositive() && o.CummulativeQuoteQty.IsPositive() {
		return o.CummulativeQuoteQty.Div(o.ExecutedQty)
	}
	var qty, quote decimal.Decimal
	for _, f := range o.Fills {
		qty = qty.Add(f.Qty)
		quote = quote.Add(f.Price.Mul(f.Qty))
	}
	if qty.IsPositive() {
		return quote.Div(qty)
	}
	return decimal.Zero
}

// PlaceLimitBuy places a GTC limit buy and returns the exchange order id.
func (c *Client) PlaceLimitBuy(ctx context.Context, inst models.Instrument, price, qty decimal.Decimal) (string, error) {
	params := url.Values{}
	params.Set("symbol", inst.Symbol)
	params.Set("side", "BUY")
	params.Set("type", "LIMIT")
	params.Set("timeInForce", "GTC")
	params.Set("quantity", qty.String())
	params.Set("price", price.String())
	params.Set("newOrderRespType", "FULL")

	var resp orderResponse
	if err := c.signedRequest(ctx, http.MethodPost, "/api/v3/order", params, &resp); err != nil {
		return "", err
	}
	id := strconv.FormatInt(resp.OrderID, 10)
	log.Printf("[%s] Limit BUY placed: %s @ %s (order %s, %s)", inst.Symbol, qty, price, id, resp.Status)
	return id, nil
}

// PlaceSell sells qty at market and returns the average fill price.
func (c *Client) PlaceSell(ctx context.Context, inst models.Instrument, qty decimal.Decimal) (decimal.Decimal, error) {
	params := url.Values{}
	params.Set("symbol", inst.Symbol)
	params.Set("side", "SELL")
	params.Set("type", "MARKET")
	params.Set("quantity", qty.String())
	params.Set("newOrderRespType", "FULL")

	var resp orderResponse
	if err := c.signedRequest(ctx, http.MethodPost, "/api/v3/order", params, &resp); err != nil {
		return decimal.Zero, err
	}
	price := resp.avgPrice()
	if !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %s market sell %d returned no fills (status %s)",
			market.ErrRejected, inst.Symbol, resp.OrderID, resp.Status)
	}
	log.Printf("[%s] Market SELL filled: %s @ %s (order %d)", inst.Symbol, resp.ExecutedQty, price, resp.OrderID)
	return price, nil
}

// Cancel cancels an open order. It returns false when the order had
// already finished on the exchange.
func (c *Client) Cancel(ctx context.Context, symbol, orderID string) (bool, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", orderID)

	err := c.signedRequest(ctx, http.MethodDelete, "/api/v3/order", params, nil)
	if err == nil {
		return true, nil
	}
	if apiErr, ok := asAPIError(err); ok && apiErr.Code == codeCancelRejected {
		return false, nil
	}
	return false, err
}

// FillStatus maps the exchange order status onto PENDING, FILLED or CANCELLED.
func (c *Client) FillStatus(ctx context.Context, symbol, orderID string) (models.FillStatus, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", orderID)

	var resp orderResponse
	if err := c.signedRequest(ctx, http.MethodGet, "/api/v3/order", params, &resp); err != nil {
		return models.FillStatus{}, fmt.Errorf("%s order %s: %w", symbol, orderID, err)
	}

	st := models.FillStatus{Price: resp.avgPrice(), Quantity: resp.ExecutedQty}
	switch resp.Status {
	case "FILLED":
		st.State = models.OrderFilled
	case "CANCELED", "REJECTED", "EXPIRED", "EXPIRED_IN_MATCH":
		st.State = models.OrderCancelled
	default:
		// NEW, PARTIALLY_FILLED, PENDING_CANCEL
		st.State = models.OrderPending
	}
	return st, nil
}

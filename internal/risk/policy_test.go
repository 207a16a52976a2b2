package risk

import (
	"errors"
	"testing"

	"spot_trader/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func testPolicy() Policy {
	return Policy{
		EntryOffsetPercent:  d("0.2"),
		StopLossPercent:     d("2"),
		TrailingStopPercent: d("1.5"),
		PositionSizeQuote:   d("100"),
	}
}

func TestPolicy_Prices(t *testing.T) {
	p := testPolicy()
	assert.True(t, p.EntryLimitPrice(d("100")).Equal(d("99.8")))
	assert.True(t, p.StopLossPrice(d("100")).Equal(d("98")))
	assert.True(t, p.TrailingStopPrice(d("110")).Equal(d("108.35")))
	assert.True(t, p.ShouldArm(d("100.01"), d("100")))
	assert.False(t, p.ShouldArm(d("100"), d("100")))
}

func TestPolicy_StopBelowEntry(t *testing.T) {
	p := testPolicy()
	for _, e := range []string{"0.0001", "1", "99.8", "65000"} {
		entry := d(e)
		assert.True(t, p.StopLossPrice(entry).LessThan(entry), e)
		assert.True(t, p.TrailingStopPrice(entry).LessThan(entry), e)
	}
}

func TestPolicy_Validate(t *testing.T) {
	assert.NoError(t, testPolicy().Validate())

	bad := testPolicy()
	bad.StopLossPercent = decimal.Zero
	assert.True(t, errors.Is(bad.Validate(), ErrInvalidPolicy))

	bad = testPolicy()
	bad.TrailingStopPercent = d("100")
	assert.Error(t, bad.Validate())

	bad = testPolicy()
	bad.PositionSizeQuote = d("-1")
	assert.Error(t, bad.Validate())
}

func TestRounding(t *testing.T) {
	assert.True(t, RoundPrice(d("99.876"), d("0.01")).Equal(d("99.87")))
	assert.True(t, RoundQuantity(d("1.23456"), d("0.001")).Equal(d("1.234")))
	assert.True(t, RoundQuantity(d("1.23456"), decimal.Zero).Equal(d("1.23456")))
	assert.True(t, RoundPrice(d("12345"), d("10")).Equal(d("12340")))
}

func TestEntryQuantity(t *testing.T) {
	p := testPolicy()
	inst := models.Instrument{
		Symbol:      "ETHUSDT",
		StepSize:    d("0.0001"),
		MinQty:      d("0.0001"),
		MinNotional: d("5"),
	}

	qty, err := p.EntryQuantity(d("2500"), inst)
	require.NoError(t, err)
	assert.True(t, qty.Equal(d("0.04")), qty.String())

	inst.MinQty = d("1")
	_, err = p.EntryQuantity(d("2500"), inst)
	assert.True(t, errors.Is(err, ErrBelowMinimum))

	inst.MinQty = d("0.0001")
	inst.MinNotional = d("150")
	_, err = p.EntryQuantity(d("2500"), inst)
	assert.True(t, errors.Is(err, ErrBelowMinimum))
}

package oracle

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func fixedRef(price decimal.Decimal, err error) ReferencePriceFunc {
	return func(ctx context.Context, a, b string) (decimal.Decimal, error) {
		return price, err
	}
}

func TestValidate_AcceptsWithinDeviation(t *testing.T) {
	v := New(fixedRef(decimal.NewFromFloat(2000), nil))
	res := v.Validate(context.Background(), "WETH", "USDC", decimal.NewFromFloat(2010), 0.1, false)
	assert.True(t, res.IsValid)
	assert.Equal(t, RecommendationAccept, res.Recommendation)
}

func TestValidate_RejectsBeyondDeviation(t *testing.T) {
	v := New(fixedRef(decimal.NewFromFloat(2000), nil))
	res := v.Validate(context.Background(), "WETH", "USDC", decimal.NewFromFloat(2200), 0.1, false)
	assert.False(t, res.IsValid)
	assert.Equal(t, RecommendationReject, res.Recommendation)
}

func TestValidate_RejectsHighManipulationScoreRegardlessOfPrice(t *testing.T) {
	v := New(fixedRef(decimal.NewFromFloat(2000), nil))
	res := v.Validate(context.Background(), "WETH", "USDC", decimal.NewFromFloat(2000), 0.85, false)
	assert.False(t, res.IsValid)
	assert.Equal(t, RecommendationReject, res.Recommendation)
}

func TestValidate_MissingDataNeverAcceptsLargeTrade(t *testing.T) {
	v := New(fixedRef(decimal.Zero, assertErr))
	res := v.Validate(context.Background(), "WETH", "USDC", decimal.NewFromFloat(2000), 0.1, true)
	assert.NotEqual(t, RecommendationAccept, res.Recommendation)
	assert.Contains(t, res.Warnings, "reference price unavailable")
}

var assertErr = assertError("no data")

type assertError string

func (e assertError) Error() string { return string(e) }

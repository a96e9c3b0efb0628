package strategy

import (
	"testing"

	"backtest-drift-monitor/internal/models"
	"backtest-drift-monitor/internal/portfolio"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func tick(price float64) models.Tick {
	return models.Tick{Prices: map[string]float64{"BTC": price}}
}

func TestNewGrid_Validation(t *testing.T) {
	_, err := NewGrid("", 0.01, 1, zap.NewNop())
	assert.Error(t, err)
	_, err = NewGrid("BTC", 0, 1, zap.NewNop())
	assert.Error(t, err)
	_, err = NewGrid("BTC", 1, 1, zap.NewNop())
	assert.Error(t, err)
	_, err = NewGrid("BTC", 0.1, 0, zap.NewNop())
	assert.Error(t, err)
}

func TestGrid_BuysLowSellsHigh(t *testing.T) {
	g, err := NewGrid("BTC", 0.1, 1, zap.NewNop())
	require.NoError(t, err)
	p := portfolio.Initialize(1000)

	assert.Empty(t, g.OnTick(tick(100), p), "first tick only sets the reference")
	assert.Equal(t, 100.0, g.RefPrice())

	assert.Empty(t, g.OnTick(tick(95), p), "inside the grid")

	signals := g.OnTick(tick(89), p)
	require.Len(t, signals, 1)
	assert.Equal(t, models.Buy, signals[0].Side)
	assert.Equal(t, 1.0, signals[0].Quantity)
	assert.Equal(t, 89.0, g.RefPrice())

	p = portfolio.ApplyBuy(p, "BTC", 1, 89, 0, nil).Portfolio

	signals = g.OnTick(tick(99), p)
	require.Len(t, signals, 1)
	assert.Equal(t, models.Sell, signals[0].Side)
	assert.Equal(t, 1.0, signals[0].Quantity)
	assert.Contains(t, signals[0].Reason, "upper grid")
}

func TestGrid_SellCappedAtHolding(t *testing.T) {
	g, err := NewGrid("BTC", 0.1, 5, zap.NewNop())
	require.NoError(t, err)
	p := portfolio.ApplyBuy(portfolio.Initialize(1000), "BTC", 2, 100, 0, nil).Portfolio

	g.OnTick(tick(100), p)
	signals := g.OnTick(tick(120), p)
	require.Len(t, signals, 1)
	assert.Equal(t, 2.0, signals[0].Quantity)
}

func TestGrid_NoSellWithoutPositionFollowsPrice(t *testing.T) {
	g, err := NewGrid("BTC", 0.1, 1, zap.NewNop())
	require.NoError(t, err)
	p := portfolio.Initialize(1000)

	g.OnTick(tick(100), p)
	assert.Empty(t, g.OnTick(tick(130), p))
	assert.Equal(t, 130.0, g.RefPrice())
}

func TestGrid_SkipsBuyWithoutCash(t *testing.T) {
	g, err := NewGrid("BTC", 0.1, 1, zap.NewNop())
	require.NoError(t, err)
	p := portfolio.Initialize(50)

	g.OnTick(tick(100), p)
	assert.Empty(t, g.OnTick(tick(80), p))
	assert.Equal(t, 100.0, g.RefPrice(), "reference kept when the buy is skipped")
}

func TestGrid_IgnoresOtherInstruments(t *testing.T) {
	g, err := NewGrid("BTC", 0.1, 1, zap.NewNop())
	require.NoError(t, err)
	assert.Empty(t, g.OnTick(models.Tick{Prices: map[string]float64{"ETH": 10}}, portfolio.Initialize(100)))
	assert.Zero(t, g.RefPrice())
}

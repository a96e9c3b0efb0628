package monitoring

import (
	"math"
	"testing"
	"time"

	"backtest-drift-monitor/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func snapshotsFixture() []models.PortfolioSnapshot {
	at := func(d, h int) time.Time { return time.Date(2024, 3, d, h, 0, 0, 0, time.UTC) }
	// deliberately out of order
	return []models.PortfolioSnapshot{
		{Timestamp: at(2, 9), CumulativeReturn: 0.21, Drawdown: 0},
		{Timestamp: at(1, 10), CumulativeReturn: 0.0, Drawdown: 0},
		{Timestamp: at(1, 20), CumulativeReturn: 0.1, Drawdown: 0},
		{Timestamp: at(3, 23), CumulativeReturn: 0.089, Drawdown: 0.1},
		{Timestamp: at(3, 12), CumulativeReturn: 0.15, Drawdown: 0.05},
	}
}

func TestDailyMetrics(t *testing.T) {
	metrics := DailyMetrics("dep-1", snapshotsFixture())
	require.Len(t, metrics, 3)

	assert.Equal(t, "dep-1", metrics[0].DeploymentID)
	assert.True(t, metrics[0].Date.Equal(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)))

	// last snapshot of each day drives the daily return
	assert.InDelta(t, 0.1, metrics[0].DailyReturn, 1e-12)
	assert.InDelta(t, 0.1, metrics[1].DailyReturn, 1e-12)
	assert.InDelta(t, -0.1, metrics[2].DailyReturn, 1e-12)
	assert.Equal(t, 0.089, metrics[2].CumulativeReturn)
	assert.Equal(t, -0.1, metrics[2].Drawdown, "drawdown is stored signed")

	assert.Equal(t, 3, metrics[2].TotalTrades)
	assert.Equal(t, 2, metrics[2].WinningTrades)
	assert.Equal(t, 1, metrics[2].LosingTrades)
	assert.InDelta(t, 2.0/3.0, metrics[2].WinRate, 1e-12)

	assert.Zero(t, metrics[0].Volatility, "single observation has no dispersion")
	assert.Greater(t, metrics[2].Volatility, 0.0)

	assert.Empty(t, DailyMetrics("dep-1", nil))
}

func TestBaselineFromSnapshots(t *testing.T) {
	b := BaselineFromSnapshots(snapshotsFixture())
	require.NotNil(t, b.Sharpe)
	require.NotNil(t, b.Return)
	require.NotNil(t, b.MaxDrawdown)
	require.NotNil(t, b.WinRate)
	require.NotNil(t, b.Volatility)

	assert.Equal(t, 0.089, *b.Return)
	assert.Equal(t, 0.1, *b.MaxDrawdown)
	assert.InDelta(t, 2.0/3.0, *b.WinRate, 1e-12)

	returns := []float64{0.1, 0.1, -0.1}
	m := (0.1 + 0.1 - 0.1) / 3
	var sq float64
	for _, r := range returns {
		sq += (r - m) * (r - m)
	}
	vol := math.Sqrt(sq/3) * math.Sqrt(252)
	assert.InDelta(t, vol, *b.Volatility, 1e-9)
	assert.InDelta(t, m*252/vol, *b.Sharpe, 1e-9)

	empty := BaselineFromSnapshots(nil)
	assert.Nil(t, empty.Sharpe)
	assert.Nil(t, empty.Return)
}

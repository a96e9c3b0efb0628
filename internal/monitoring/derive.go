package monitoring

import (
	"sort"
	"time"

	"backtest-drift-monitor/internal/models"
)

// DailyMetrics turns a snapshot series into one PerformanceMetric per UTC day,
// using the last snapshot of each day. Sharpe and volatility are computed over
// the trailing DefaultWindowDays daily returns. Trades are counted as
// non-flat days, so WinRate is the share of profitable days so far.
func DailyMetrics(deploymentID string, snapshots []models.PortfolioSnapshot) []models.PerformanceMetric {
	days := lastPerDay(snapshots)

	out := make([]models.PerformanceMetric, 0, len(days))
	returns := make([]float64, 0, len(days))
	prevCum := 0.0
	winning, losing := 0, 0

	for _, s := range days {
		daily := 0.0
		if 1+prevCum != 0 {
			daily = (1+s.CumulativeReturn)/(1+prevCum) - 1
		}
		prevCum = s.CumulativeReturn
		returns = append(returns, daily)

		switch {
		case daily > 0:
			winning++
		case daily < 0:
			losing++
		}

		window := returns
		if len(window) > DefaultWindowDays {
			window = window[len(window)-DefaultWindowDays:]
		}
		_, vol, sharpe := annualize(window)

		m := models.PerformanceMetric{
			DeploymentID:     deploymentID,
			Date:             truncateDay(s.Timestamp),
			DailyReturn:      daily,
			CumulativeReturn: s.CumulativeReturn,
			SharpeRatio:      sharpe,
			Drawdown:         -s.Drawdown,
			Volatility:       vol,
			TotalTrades:      winning + losing,
			WinningTrades:    winning,
			LosingTrades:     losing,
		}
		if m.TotalTrades > 0 {
			m.WinRate = float64(winning) / float64(m.TotalTrades)
		}
		out = append(out, m)
	}
	return out
}

// BaselineFromSnapshots derives the backtest baseline stored on a deployment.
// An empty series yields an empty baseline.
func BaselineFromSnapshots(snapshots []models.PortfolioSnapshot) models.BacktestBaseline {
	daily := DailyMetrics("", snapshots)
	if len(daily) == 0 {
		return models.BacktestBaseline{}
	}

	returns := make([]float64, len(daily))
	for i, m := range daily {
		returns[i] = m.DailyReturn
	}
	_, vol, sharpe := annualize(returns)

	maxDD := 0.0
	for _, s := range snapshots {
		if s.Drawdown > maxDD {
			maxDD = s.Drawdown
		}
	}

	last := daily[len(daily)-1]
	return models.BacktestBaseline{
		Sharpe:      models.Float(sharpe),
		Return:      models.Float(last.CumulativeReturn),
		MaxDrawdown: models.Float(maxDD),
		WinRate:     models.Float(last.WinRate),
		Volatility:  models.Float(vol),
	}
}

func lastPerDay(snapshots []models.PortfolioSnapshot) []models.PortfolioSnapshot {
	sorted := append([]models.PortfolioSnapshot(nil), snapshots...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })

	var days []models.PortfolioSnapshot
	for _, s := range sorted {
		n := len(days)
		if n > 0 && truncateDay(days[n-1].Timestamp).Equal(truncateDay(s.Timestamp)) {
			days[n-1] = s
			continue
		}
		days = append(days, s)
	}
	return days
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

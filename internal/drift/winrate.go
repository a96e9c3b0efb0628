package drift

import (
	"fmt"

	"backtest-drift-monitor/internal/models"
)

// win rate thresholds are absolute drops (0.15 = 15 percentage points)
var winRateThresholds = thresholds{medium: 0.15, high: 0.25, critical: 0.40}

// winRateFloor forces critical regardless of the baseline.
const winRateFloor = 0.40

// WinRateDetector flags a live win rate below the backtest win rate,
// measured in absolute percentage points.
type WinRateDetector struct{}

func (WinRateDetector) Type() models.DriftType { return models.DriftWinRate }

func (d WinRateDetector) Detect(dep models.Deployment, m models.PerformanceMetric) (*models.DriftAlert, error) {
	if m.TotalTrades == 0 {
		return nil, nil
	}
	expected := dep.Baseline.WinRateOrDefault()
	actual := m.WinRate
	if err := checkFinite("win rate", expected, actual); err != nil {
		return nil, err
	}

	drop := expected - actual
	deviation := (actual - expected) * 100
	details := map[string]float64{"drop_points": drop * 100, "total_trades": float64(m.TotalTrades)}

	if actual < winRateFloor {
		return newAlert(dep, alertParams{
			driftType:    d.Type(),
			severity:     models.SeverityCritical,
			expected:     expected,
			actual:       actual,
			deviation:    deviation,
			threshold:    winRateThresholds.medium * 100,
			message:      fmt.Sprintf("Win rate %.1f%% is below the %.0f%% floor (backtest %.1f%%)", actual*100, winRateFloor*100, expected*100),
			hardOverride: "win_rate_floor",
			details:      details,
		}), nil
	}

	severity, ok := winRateThresholds.classify(drop)
	if !ok {
		return nil, nil
	}

	return newAlert(dep, alertParams{
		driftType: d.Type(),
		severity:  severity,
		expected:  expected,
		actual:    actual,
		deviation: deviation,
		threshold: winRateThresholds.medium * 100,
		message: fmt.Sprintf("Win rate dropped %.1f points from backtest (expected %.1f%%, actual %.1f%%)",
			drop*100, expected*100, actual*100),
		details: details,
	}), nil
}

package drift

import (
	"fmt"

	"backtest-drift-monitor/internal/models"
)

var sharpeThresholds = thresholds{medium: 0.30, high: 0.50, critical: 0.70}

// SharpeDetector flags a live Sharpe ratio below the backtest Sharpe. When no
// backtest Sharpe is recorded the deployment's own Sharpe ratio is the baseline.
type SharpeDetector struct{}

func (SharpeDetector) Type() models.DriftType { return models.DriftSharpe }

func (d SharpeDetector) Detect(dep models.Deployment, m models.PerformanceMetric) (*models.DriftAlert, error) {
	var expected float64
	switch {
	case dep.Baseline.Sharpe != nil:
		expected = *dep.Baseline.Sharpe
	case dep.SharpeRatio != nil:
		expected = *dep.SharpeRatio
	default:
		return nil, nil
	}
	actual := m.SharpeRatio
	if err := checkFinite("sharpe", expected, actual); err != nil {
		return nil, err
	}
	// a non-positive baseline has no meaningful fractional degradation
	if expected <= 0 {
		return nil, nil
	}

	degradation := (expected - actual) / expected
	severity, ok := sharpeThresholds.classify(degradation)
	if !ok {
		return nil, nil
	}

	return newAlert(dep, alertParams{
		driftType: d.Type(),
		severity:  severity,
		expected:  expected,
		actual:    actual,
		deviation: relativeDeviation(expected, actual),
		threshold: sharpeThresholds.medium * 100,
		message: fmt.Sprintf("Sharpe ratio degraded %.1f%% from backtest (expected %.2f, actual %.2f)",
			degradation*100, expected, actual),
		details: map[string]float64{"degradation": degradation},
	}), nil
}

package drift

import (
	"fmt"

	"backtest-drift-monitor/internal/models"
)

var volatilityThresholds = thresholds{medium: 0.50, high: 1.00, critical: 1.50}

// VolatilityDetector flags live volatility above the backtest volatility.
type VolatilityDetector struct{}

func (VolatilityDetector) Type() models.DriftType { return models.DriftVolatility }

func (d VolatilityDetector) Detect(dep models.Deployment, m models.PerformanceMetric) (*models.DriftAlert, error) {
	expected := dep.Baseline.VolatilityOrDefault()
	actual := m.Volatility
	if err := checkFinite("volatility", expected, actual); err != nil {
		return nil, err
	}
	if expected <= 0 {
		return nil, nil
	}

	increase := (actual - expected) / expected
	severity, ok := volatilityThresholds.classify(increase)
	if !ok {
		return nil, nil
	}

	return newAlert(dep, alertParams{
		driftType: d.Type(),
		severity:  severity,
		expected:  expected,
		actual:    actual,
		deviation: relativeDeviation(expected, actual),
		threshold: volatilityThresholds.medium * 100,
		message: fmt.Sprintf("Volatility is %.1f%% above backtest (expected %.2f%%, actual %.2f%%)",
			increase*100, expected*100, actual*100),
		details: map[string]float64{"increase": increase},
	}), nil
}

package drift

import (
	"fmt"

	"backtest-drift-monitor/internal/models"
)

var returnThresholds = thresholds{medium: 0.40, high: 0.60, critical: 0.80}

// ReturnDetector flags live cumulative return falling short of the backtest
// return. Any negative live return is critical.
type ReturnDetector struct{}

func (ReturnDetector) Type() models.DriftType { return models.DriftReturn }

func (d ReturnDetector) Detect(dep models.Deployment, m models.PerformanceMetric) (*models.DriftAlert, error) {
	expected := dep.Baseline.ReturnOrDefault()
	actual := m.CumulativeReturn
	if err := checkFinite("cumulative return", expected, actual); err != nil {
		return nil, err
	}

	if actual < 0 {
		return newAlert(dep, alertParams{
			driftType:    d.Type(),
			severity:     models.SeverityCritical,
			expected:     expected,
			actual:       actual,
			deviation:    relativeDeviation(expected, actual),
			threshold:    returnThresholds.medium * 100,
			message:      fmt.Sprintf("Live cumulative return is negative (%.2f%%) against a backtest return of %.2f%%", actual*100, expected*100),
			hardOverride: "negative_return",
		}), nil
	}

	if expected <= 0 {
		return nil, nil
	}

	underperformance := (expected - actual) / expected
	severity, ok := returnThresholds.classify(underperformance)
	if !ok {
		return nil, nil
	}

	return newAlert(dep, alertParams{
		driftType: d.Type(),
		severity:  severity,
		expected:  expected,
		actual:    actual,
		deviation: relativeDeviation(expected, actual),
		threshold: returnThresholds.medium * 100,
		message: fmt.Sprintf("Cumulative return underperforms backtest by %.1f%% (expected %.2f%%, actual %.2f%%)",
			underperformance*100, expected*100, actual*100),
		details: map[string]float64{"underperformance": underperformance},
	}), nil
}

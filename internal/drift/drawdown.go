package drift

import (
	"fmt"
	"math"

	"backtest-drift-monitor/internal/models"
)

var drawdownThresholds = thresholds{medium: 0.25, high: 0.50, critical: 0.75}

// DrawdownDetector flags a live drawdown deeper than the backtest max
// drawdown. Reaching the deployment's hard limit is critical.
type DrawdownDetector struct{}

func (DrawdownDetector) Type() models.DriftType { return models.DriftMaxDrawdown }

func (d DrawdownDetector) Detect(dep models.Deployment, m models.PerformanceMetric) (*models.DriftAlert, error) {
	expected := dep.Baseline.MaxDrawdownOrDefault()
	// metric drawdown is stored signed (<= 0)
	actual := math.Abs(m.Drawdown)
	if err := checkFinite("drawdown", expected, actual); err != nil {
		return nil, err
	}

	if dep.MaxDrawdownLimit > 0 && actual >= dep.MaxDrawdownLimit {
		return newAlert(dep, alertParams{
			driftType:    d.Type(),
			severity:     models.SeverityCritical,
			expected:     expected,
			actual:       actual,
			deviation:    relativeDeviation(expected, actual),
			threshold:    drawdownThresholds.medium * 100,
			message:      fmt.Sprintf("Drawdown %.2f%% breached the hard limit of %.2f%%", actual*100, dep.MaxDrawdownLimit*100),
			hardOverride: "max_drawdown_limit",
			details:      map[string]float64{"limit": dep.MaxDrawdownLimit},
		}), nil
	}

	if expected <= 0 {
		return nil, nil
	}

	increase := (actual - expected) / expected
	severity, ok := drawdownThresholds.classify(increase)
	if !ok {
		return nil, nil
	}

	return newAlert(dep, alertParams{
		driftType: d.Type(),
		severity:  severity,
		expected:  expected,
		actual:    actual,
		deviation: relativeDeviation(expected, actual),
		threshold: drawdownThresholds.medium * 100,
		message: fmt.Sprintf("Drawdown is %.1f%% deeper than backtest (expected %.2f%%, actual %.2f%%)",
			increase*100, expected*100, actual*100),
		details: map[string]float64{"increase": increase},
	}), nil
}

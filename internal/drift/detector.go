package drift

import (
	"fmt"
	"math"

	"backtest-drift-monitor/internal/models"
)

// Detector compares one live metric against a deployment's backtest baseline.
// Detect returns (nil, nil) when there is no finding or not enough data.
type Detector interface {
	Type() models.DriftType
	Detect(dep models.Deployment, m models.PerformanceMetric) (*models.DriftAlert, error)
}

// DefaultDetectors returns the five standard detectors in evaluation order.
func DefaultDetectors() []Detector {
	return []Detector{
		SharpeDetector{},
		ReturnDetector{},
		DrawdownDetector{},
		WinRateDetector{},
		VolatilityDetector{},
	}
}

// thresholds are fractional degradation boundaries for medium, high and critical.
type thresholds struct {
	medium, high, critical float64
}

// boundaryEpsilon lets a degradation that lands on a boundary, give or take
// float rounding, count as reaching it.
const boundaryEpsilon = 1e-9

// classify maps a degradation to a severity. ok is false below medium.
func (t thresholds) classify(degradation float64) (models.Severity, bool) {
	degradation += boundaryEpsilon
	switch {
	case degradation >= t.critical:
		return models.SeverityCritical, true
	case degradation >= t.high:
		return models.SeverityHigh, true
	case degradation >= t.medium:
		return models.SeverityMedium, true
	}
	return "", false
}

// relativeDeviation returns (actual-expected)/|expected| in percent. With a
// zero expectation it falls back to the absolute difference in percent.
func relativeDeviation(expected, actual float64) float64 {
	if expected == 0 {
		return actual * 100
	}
	return (actual - expected) / math.Abs(expected) * 100
}

func checkFinite(name string, values ...float64) error {
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%s: non-finite value %v", name, v)
		}
	}
	return nil
}

var metricLabels = map[models.DriftType]string{
	models.DriftSharpe:      "Sharpe ratio",
	models.DriftReturn:      "cumulative return",
	models.DriftMaxDrawdown: "max drawdown",
	models.DriftWinRate:     "win rate",
	models.DriftVolatility:  "volatility",
}

// recommendation returns the operator guidance attached to an alert.
func recommendation(t models.DriftType, s models.Severity) string {
	label := metricLabels[t]
	switch s {
	case models.SeverityCritical:
		return fmt.Sprintf("Consider immediate demotion: live %s has diverged severely from the backtest.", label)
	case models.SeverityHigh:
		return fmt.Sprintf("Reduce allocation and review strategy parameters; %s is well outside backtest expectations.", label)
	case models.SeverityMedium:
		return fmt.Sprintf("Monitor closely; %s is drifting from backtest expectations.", label)
	}
	return "No action required."
}

type alertParams struct {
	driftType    models.DriftType
	severity     models.Severity
	expected     float64
	actual       float64
	deviation    float64
	threshold    float64
	message      string
	hardOverride string
	details      map[string]float64
}

func newAlert(dep models.Deployment, s alertParams) *models.DriftAlert {
	return &models.DriftAlert{
		DeploymentID:     dep.ID,
		DriftType:        s.driftType,
		Severity:         s.severity,
		ExpectedValue:    s.expected,
		ActualValue:      s.actual,
		DeviationPercent: s.deviation,
		Threshold:        s.threshold,
		Message:          s.message,
		Metadata: models.AlertMetadata{
			Recommendation: recommendation(s.driftType, s.severity),
			HardOverride:   s.hardOverride,
			Details:        s.details,
		},
	}
}

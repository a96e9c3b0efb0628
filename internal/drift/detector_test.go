package drift

import (
	"math"
	"testing"

	"backtest-drift-monitor/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSharpeDetector(t *testing.T) {
	tests := []struct {
		name     string
		dep      models.Deployment
		actual   float64
		severity models.Severity // empty means no alert
	}{
		{"critical at 75% degradation", models.Deployment{Baseline: models.BacktestBaseline{Sharpe: models.Float(2.0)}}, 0.5, models.SeverityCritical},
		{"high at 50%", models.Deployment{Baseline: models.BacktestBaseline{Sharpe: models.Float(2.0)}}, 1.0, models.SeverityHigh},
		{"medium at 37.5%", models.Deployment{Baseline: models.BacktestBaseline{Sharpe: models.Float(2.0)}}, 1.25, models.SeverityMedium},
		{"no alert at 25%", models.Deployment{Baseline: models.BacktestBaseline{Sharpe: models.Float(2.0)}}, 1.5, ""},
		{"outperforming", models.Deployment{Baseline: models.BacktestBaseline{Sharpe: models.Float(2.0)}}, 3.0, ""},
		{"falls back to live sharpe", models.Deployment{SharpeRatio: models.Float(1.0)}, 0.2, models.SeverityCritical},
		{"no baseline at all", models.Deployment{}, -3, ""},
		{"non-positive baseline", models.Deployment{Baseline: models.BacktestBaseline{Sharpe: models.Float(0)}}, -1, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			alert, err := SharpeDetector{}.Detect(tt.dep, models.PerformanceMetric{SharpeRatio: tt.actual})
			require.NoError(t, err)
			if tt.severity == "" {
				assert.Nil(t, alert)
				return
			}
			require.NotNil(t, alert)
			assert.Equal(t, tt.severity, alert.Severity)
			assert.Equal(t, models.DriftSharpe, alert.DriftType)
			assert.Equal(t, 30.0, alert.Threshold)
		})
	}
}

func TestSharpeDetector_ScenarioE(t *testing.T) {
	dep := models.Deployment{ID: "dep-1", Baseline: models.BacktestBaseline{Sharpe: models.Float(2.0)}}
	alert, err := SharpeDetector{}.Detect(dep, models.PerformanceMetric{SharpeRatio: 0.5})
	require.NoError(t, err)
	require.NotNil(t, alert)

	assert.Equal(t, models.SeverityCritical, alert.Severity)
	assert.Equal(t, "dep-1", alert.DeploymentID)
	assert.Equal(t, 2.0, alert.ExpectedValue)
	assert.Equal(t, 0.5, alert.ActualValue)
	assert.InDelta(t, -75.0, alert.DeviationPercent, 1e-9)
	assert.InDelta(t, 0.75, alert.Metadata.Details["degradation"], 1e-9)
	assert.Contains(t, alert.Metadata.Recommendation, "Consider immediate demotion")
	assert.Contains(t, alert.Message, "75.0%")
}

func TestReturnDetector(t *testing.T) {
	withReturn := func(r float64) models.Deployment {
		return models.Deployment{Baseline: models.BacktestBaseline{Return: models.Float(r)}}
	}

	t.Run("scenario F negative return is critical", func(t *testing.T) {
		for _, expected := range []float64{0.5, 0.01, 0, -0.2} {
			alert, err := ReturnDetector{}.Detect(withReturn(expected), models.PerformanceMetric{CumulativeReturn: -0.05})
			require.NoError(t, err)
			require.NotNil(t, alert, "expected %v", expected)
			assert.Equal(t, models.SeverityCritical, alert.Severity)
			assert.Equal(t, "negative_return", alert.Metadata.HardOverride)
		}
	})

	tests := []struct {
		name     string
		expected float64
		actual   float64
		severity models.Severity
	}{
		{"critical at 90% short", 0.5, 0.05, models.SeverityCritical},
		{"high at 70% short", 0.5, 0.15, models.SeverityHigh},
		{"medium at 50% short", 0.5, 0.25, models.SeverityMedium},
		{"no alert at 20% short", 0.5, 0.4, ""},
		{"zero baseline, positive actual", 0, 0.1, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			alert, err := ReturnDetector{}.Detect(withReturn(tt.expected), models.PerformanceMetric{CumulativeReturn: tt.actual})
			require.NoError(t, err)
			if tt.severity == "" {
				assert.Nil(t, alert)
				return
			}
			require.NotNil(t, alert)
			assert.Equal(t, tt.severity, alert.Severity)
			assert.Empty(t, alert.Metadata.HardOverride)
			assert.Equal(t, 40.0, alert.Threshold)
		})
	}

	t.Run("default baseline", func(t *testing.T) {
		// default 10%, actual 1% is 90% short
		alert, err := ReturnDetector{}.Detect(models.Deployment{}, models.PerformanceMetric{CumulativeReturn: 0.01})
		require.NoError(t, err)
		require.NotNil(t, alert)
		assert.Equal(t, models.DefaultBacktestReturn, alert.ExpectedValue)
		assert.Equal(t, models.SeverityCritical, alert.Severity)
	})
}

func TestDrawdownDetector(t *testing.T) {
	base := models.BacktestBaseline{MaxDrawdown: models.Float(0.2)}

	tests := []struct {
		name     string
		limit    float64
		drawdown float64
		severity models.Severity
		override bool
	}{
		{"within baseline", 0, -0.1, "", false},
		{"medium at 35% deeper", 0, -0.27, models.SeverityMedium, false},
		{"high at 60% deeper", 0, -0.32, models.SeverityHigh, false},
		{"critical at 100% deeper", 0, -0.4, models.SeverityCritical, false},
		{"hard limit reached", 0.22, -0.22, models.SeverityCritical, true},
		{"hard limit not reached", 0.5, -0.21, "", false},
		{"positive drawdown magnitude accepted", 0, 0.4, models.SeverityCritical, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dep := models.Deployment{MaxDrawdownLimit: tt.limit, Baseline: base}
			alert, err := DrawdownDetector{}.Detect(dep, models.PerformanceMetric{Drawdown: tt.drawdown})
			require.NoError(t, err)
			if tt.severity == "" {
				assert.Nil(t, alert)
				return
			}
			require.NotNil(t, alert)
			assert.Equal(t, tt.severity, alert.Severity)
			assert.Equal(t, math.Abs(tt.drawdown), alert.ActualValue)
			if tt.override {
				assert.Equal(t, "max_drawdown_limit", alert.Metadata.HardOverride)
			} else {
				assert.Empty(t, alert.Metadata.HardOverride)
			}
		})
	}
}

func TestWinRateDetector(t *testing.T) {
	dep := models.Deployment{Baseline: models.BacktestBaseline{WinRate: models.Float(0.70)}}

	tests := []struct {
		name     string
		trades   int
		winRate  float64
		severity models.Severity
		override bool
	}{
		{"no trades", 0, 0.1, "", false},
		{"small drop", 10, 0.65, "", false},
		{"medium at 20 points", 10, 0.50, models.SeverityMedium, false},
		{"high at 28 points", 10, 0.42, models.SeverityHigh, false},
		{"floor forces critical", 10, 0.39, models.SeverityCritical, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			alert, err := WinRateDetector{}.Detect(dep, models.PerformanceMetric{WinRate: tt.winRate, TotalTrades: tt.trades})
			require.NoError(t, err)
			if tt.severity == "" {
				assert.Nil(t, alert)
				return
			}
			require.NotNil(t, alert)
			assert.Equal(t, tt.severity, alert.Severity)
			assert.InDelta(t, (tt.winRate-0.70)*100, alert.DeviationPercent, 1e-9)
			assert.Equal(t, 15.0, alert.Threshold)
			assert.Equal(t, tt.override, alert.Metadata.HardOverride != "")
		})
	}

	t.Run("floor applies even with a low baseline", func(t *testing.T) {
		low := models.Deployment{Baseline: models.BacktestBaseline{WinRate: models.Float(0.38)}}
		alert, err := WinRateDetector{}.Detect(low, models.PerformanceMetric{WinRate: 0.38, TotalTrades: 4})
		require.NoError(t, err)
		require.NotNil(t, alert)
		assert.Equal(t, models.SeverityCritical, alert.Severity)
	})
}

func TestVolatilityDetector(t *testing.T) {
	dep := models.Deployment{Baseline: models.BacktestBaseline{Volatility: models.Float(0.2)}}

	tests := []struct {
		actual   float64
		severity models.Severity
	}{
		{0.25, ""},
		{0.32, models.SeverityMedium},
		{0.4, models.SeverityHigh},
		{0.6, models.SeverityCritical},
		{0.1, ""},
	}
	for _, tt := range tests {
		alert, err := VolatilityDetector{}.Detect(dep, models.PerformanceMetric{Volatility: tt.actual})
		require.NoError(t, err)
		if tt.severity == "" {
			assert.Nil(t, alert, "actual %v", tt.actual)
			continue
		}
		require.NotNil(t, alert, "actual %v", tt.actual)
		assert.Equal(t, tt.severity, alert.Severity, "actual %v", tt.actual)
	}

	alert, err := VolatilityDetector{}.Detect(models.Deployment{}, models.PerformanceMetric{Volatility: 0.75})
	require.NoError(t, err)
	require.NotNil(t, alert)
	assert.Equal(t, models.DefaultBacktestVolatility, alert.ExpectedValue)
	assert.Equal(t, models.SeverityHigh, alert.Severity)
}

func TestDetectors_BoundaryDegradationAlerts(t *testing.T) {
	winDep := models.Deployment{Baseline: models.BacktestBaseline{WinRate: models.Float(0.60)}}
	alert, err := WinRateDetector{}.Detect(winDep, models.PerformanceMetric{WinRate: 0.45, TotalTrades: 10})
	require.NoError(t, err)
	require.NotNil(t, alert, "a 15 point drop reaches medium")
	assert.Equal(t, models.SeverityMedium, alert.Severity)

	volDep := models.Deployment{Baseline: models.BacktestBaseline{Volatility: models.Float(0.20)}}
	alert, err = VolatilityDetector{}.Detect(volDep, models.PerformanceMetric{Volatility: 0.30})
	require.NoError(t, err)
	require.NotNil(t, alert, "a 50% increase reaches medium")
	assert.Equal(t, models.SeverityMedium, alert.Severity)

	sev, ok := sharpeThresholds.classify(0.2999)
	assert.False(t, ok, "clearly below medium, got %s", sev)
}

func TestDetectors_RejectNonFinite(t *testing.T) {
	dep := models.Deployment{Baseline: models.BacktestBaseline{Sharpe: models.Float(1)}}
	m := models.PerformanceMetric{
		SharpeRatio:      math.NaN(),
		CumulativeReturn: math.Inf(1),
		Drawdown:         math.NaN(),
		WinRate:          math.NaN(),
		TotalTrades:      1,
		Volatility:       math.Inf(-1),
	}
	for _, d := range DefaultDetectors() {
		alert, err := d.Detect(dep, m)
		assert.Error(t, err, string(d.Type()))
		assert.Nil(t, alert)
	}
}

func TestRecommendationWording(t *testing.T) {
	assert.Contains(t, recommendation(models.DriftVolatility, models.SeverityCritical), "Consider immediate demotion")
	assert.Contains(t, recommendation(models.DriftVolatility, models.SeverityHigh), "Reduce allocation")
	assert.Contains(t, recommendation(models.DriftVolatility, models.SeverityMedium), "Monitor closely")
}

package monitoring

import (
	"context"
	"fmt"
	"math"
	"time"

	"backtest-drift-monitor/internal/models"
	"backtest-drift-monitor/internal/persistence"

	"go.uber.org/zap"
)

// DefaultWindowDays is the rolling window used when none is given.
const DefaultWindowDays = 30

// Trend windows and thresholds.
const (
	ShortTrendWindow     = 7
	LongTrendWindow      = 30
	trendSharpeThreshold = 0.2
)

// Trend classifications.
const (
	TrendImproving        = "improving"
	TrendDegrading        = "degrading"
	TrendStable           = "stable"
	TrendInsufficientData = "insufficient_data"
)

// Comparison statuses.
const (
	StatusBetter     = "better"
	StatusWorse      = "worse"
	StatusSimilar    = "similar"
	StatusNoBaseline = "no_baseline"
)

// PerformanceSummary describes the whole metric history of a deployment.
type PerformanceSummary struct {
	DeploymentID     string    `json:"deployment_id"`
	TotalDays        int       `json:"total_days"`
	ProfitableDays   int       `json:"profitable_days"`
	LosingDays       int       `json:"losing_days"`
	AvgDailyReturn   float64   `json:"avg_daily_return"`
	BestDay          float64   `json:"best_day"`
	WorstDay         float64   `json:"worst_day"`
	BestDayDate      time.Time `json:"best_day_date"`
	WorstDayDate     time.Time `json:"worst_day_date"`
	CumulativeReturn float64   `json:"cumulative_return"`
	CurrentDrawdown  float64   `json:"current_drawdown"`
	MaxDrawdown      float64   `json:"max_drawdown"` // most negative drawdown observed
	SharpeRatio      float64   `json:"sharpe_ratio"` // latest rolling Sharpe
	TotalTrades      int       `json:"total_trades"`
	StartDate        time.Time `json:"start_date"`
	EndDate          time.Time `json:"end_date"`
}

// RollingStatistics are computed over the metrics of the last WindowDays days.
type RollingStatistics struct {
	WindowDays       int       `json:"window_days"`
	DataPoints       int       `json:"data_points"`
	AvgDailyReturn   float64   `json:"avg_daily_return"`
	Volatility       float64   `json:"volatility"`
	AnnualizedReturn float64   `json:"annualized_return"`
	SharpeRatio      float64   `json:"sharpe_ratio"`
	CumulativeReturn float64   `json:"cumulative_return"`
	MaxDrawdown      float64   `json:"max_drawdown"`
	WinRate          float64   `json:"win_rate"`
	StartDate        time.Time `json:"start_date"`
	EndDate          time.Time `json:"end_date"`
}

// PerformanceTrend compares a short window against a long one.
type PerformanceTrend struct {
	Trend       string             `json:"trend"`
	ShortTerm   *RollingStatistics `json:"short_term"`
	LongTerm    *RollingStatistics `json:"long_term"`
	SharpeDelta float64            `json:"sharpe_delta"`
	ReturnDelta float64            `json:"return_delta"`
}

// MetricComparison is one line of a backtest comparison.
type MetricComparison struct {
	Metric        string   `json:"metric"`
	Live          float64  `json:"live"`
	Backtest      *float64 `json:"backtest,omitempty"`
	Difference    float64  `json:"difference"` // relative, or absolute when the backtest value is 0
	Tolerance     float64  `json:"tolerance"`
	LowerIsBetter bool     `json:"lower_is_better"`
	Status        string   `json:"status"`
}

// BacktestComparison lines up live metrics against the deployment baseline.
type BacktestComparison struct {
	DeploymentID string             `json:"deployment_id"`
	AsOf         time.Time          `json:"as_of"`
	Metrics      []MetricComparison `json:"metrics"`
}

// Aggregator computes monitoring statistics from the stored metric series.
type Aggregator struct {
	deployments persistence.DeploymentRepository
	metrics     persistence.MetricRepository
	logger      *zap.Logger
	now         func() time.Time
}

func NewAggregator(deployments persistence.DeploymentRepository, metrics persistence.MetricRepository, logger *zap.Logger) *Aggregator {
	return &Aggregator{
		deployments: deployments,
		metrics:     metrics,
		logger:      logger.Named("monitoring"),
		now:         time.Now,
	}
}

// WithClock replaces the clock used to bound rolling windows.
func (a *Aggregator) WithClock(now func() time.Time) *Aggregator {
	a.now = now
	return a
}

// GetPerformanceSummary summarizes every stored metric of a deployment. A
// deployment without metrics yields a zero summary.
func (a *Aggregator) GetPerformanceSummary(ctx context.Context, deploymentID string) (*PerformanceSummary, error) {
	series, err := a.metrics.ListMetrics(ctx, deploymentID)
	if err != nil {
		return nil, fmt.Errorf("list metrics for %s: %w", deploymentID, err)
	}

	s := &PerformanceSummary{DeploymentID: deploymentID, TotalDays: len(series)}
	if len(series) == 0 {
		return s, nil
	}

	returns := make([]float64, len(series))
	s.BestDay, s.WorstDay = math.Inf(-1), math.Inf(1)
	for i, m := range series {
		returns[i] = m.DailyReturn
		switch {
		case m.DailyReturn > 0:
			s.ProfitableDays++
		case m.DailyReturn < 0:
			s.LosingDays++
		}
		if m.DailyReturn > s.BestDay {
			s.BestDay, s.BestDayDate = m.DailyReturn, m.Date
		}
		if m.DailyReturn < s.WorstDay {
			s.WorstDay, s.WorstDayDate = m.DailyReturn, m.Date
		}
		if m.Drawdown < s.MaxDrawdown {
			s.MaxDrawdown = m.Drawdown
		}
	}

	last := series[len(series)-1]
	s.AvgDailyReturn = mean(returns)
	s.CumulativeReturn = last.CumulativeReturn
	s.CurrentDrawdown = last.Drawdown
	s.SharpeRatio = last.SharpeRatio
	s.TotalTrades = last.TotalTrades
	s.StartDate = series[0].Date
	s.EndDate = last.Date
	return s, nil
}

// GetRollingStatistics computes statistics over the last windowDays days.
// windowDays <= 0 uses DefaultWindowDays.
func (a *Aggregator) GetRollingStatistics(ctx context.Context, deploymentID string, windowDays int) (*RollingStatistics, error) {
	if windowDays <= 0 {
		windowDays = DefaultWindowDays
	}
	series, err := a.metrics.ListMetrics(ctx, deploymentID)
	if err != nil {
		return nil, fmt.Errorf("list metrics for %s: %w", deploymentID, err)
	}
	return rollingStatistics(series, windowDays, a.now()), nil
}

func rollingStatistics(series []models.PerformanceMetric, windowDays int, now time.Time) *RollingStatistics {
	cutoff := now.AddDate(0, 0, -windowDays)
	var window []models.PerformanceMetric
	for _, m := range series {
		if !m.Date.Before(cutoff) {
			window = append(window, m)
		}
	}

	stats := &RollingStatistics{WindowDays: windowDays, DataPoints: len(window)}
	if len(window) == 0 {
		return stats
	}

	returns := make([]float64, len(window))
	profitable := 0
	for i, m := range window {
		returns[i] = m.DailyReturn
		if m.DailyReturn > 0 {
			profitable++
		}
		if m.Drawdown < stats.MaxDrawdown {
			stats.MaxDrawdown = m.Drawdown
		}
	}

	stats.AvgDailyReturn = mean(returns)
	stats.AnnualizedReturn, stats.Volatility, stats.SharpeRatio = annualize(returns)
	stats.CumulativeReturn = window[len(window)-1].CumulativeReturn
	stats.WinRate = float64(profitable) / float64(len(window))
	stats.StartDate = window[0].Date
	stats.EndDate = window[len(window)-1].Date
	return stats
}

// GetPerformanceTrend classifies the recent direction of a deployment by
// comparing the 7-day window with the 30-day window.
func (a *Aggregator) GetPerformanceTrend(ctx context.Context, deploymentID string) (*PerformanceTrend, error) {
	series, err := a.metrics.ListMetrics(ctx, deploymentID)
	if err != nil {
		return nil, fmt.Errorf("list metrics for %s: %w", deploymentID, err)
	}
	now := a.now()
	short := rollingStatistics(series, ShortTrendWindow, now)
	long := rollingStatistics(series, LongTrendWindow, now)

	t := &PerformanceTrend{ShortTerm: short, LongTerm: long}
	if short.DataPoints == 0 || long.DataPoints == 0 {
		t.Trend = TrendInsufficientData
		return t, nil
	}

	t.SharpeDelta = short.SharpeRatio - long.SharpeRatio
	t.ReturnDelta = short.AnnualizedReturn - long.AnnualizedReturn
	switch {
	case t.SharpeDelta > trendSharpeThreshold && t.ReturnDelta > 0:
		t.Trend = TrendImproving
	case t.SharpeDelta < -trendSharpeThreshold && t.ReturnDelta < 0:
		t.Trend = TrendDegrading
	default:
		t.Trend = TrendStable
	}
	a.logger.Debug("Performance trend classified",
		zap.String("deployment_id", deploymentID),
		zap.String("trend", t.Trend),
		zap.Float64("sharpe_delta", t.SharpeDelta),
		zap.Float64("return_delta", t.ReturnDelta),
	)
	return t, nil
}

type comparedMetric struct {
	name          string
	tolerance     float64
	lowerIsBetter bool
}

var comparedMetrics = []comparedMetric{
	{"sharpe_ratio", 0.30, false},
	{"cumulative_return", 0.40, false},
	{"max_drawdown", 0.25, true},
	{"volatility", 0.50, true},
}

// CompareToBacktest compares the latest live figures of a deployment with
// its backtest baseline. Drawdown is compared as a positive magnitude.
func (a *Aggregator) CompareToBacktest(ctx context.Context, deploymentID string) (*BacktestComparison, error) {
	dep, err := a.deployments.GetDeployment(ctx, deploymentID)
	if err != nil {
		return nil, fmt.Errorf("load deployment %s: %w", deploymentID, err)
	}
	summary, err := a.GetPerformanceSummary(ctx, deploymentID)
	if err != nil {
		return nil, err
	}
	if summary.TotalDays == 0 {
		return nil, fmt.Errorf("no live metrics for %s: %w", deploymentID, persistence.ErrNotFound)
	}
	latest, err := a.metrics.LatestMetric(ctx, deploymentID)
	if err != nil {
		return nil, fmt.Errorf("latest metric for %s: %w", deploymentID, err)
	}

	live := map[string]float64{
		"sharpe_ratio":      latest.SharpeRatio,
		"cumulative_return": latest.CumulativeReturn,
		"max_drawdown":      math.Abs(summary.MaxDrawdown),
		"volatility":        latest.Volatility,
	}
	baseline := map[string]*float64{
		"sharpe_ratio":      dep.Baseline.Sharpe,
		"cumulative_return": dep.Baseline.Return,
		"max_drawdown":      dep.Baseline.MaxDrawdown,
		"volatility":        dep.Baseline.Volatility,
	}

	c := &BacktestComparison{DeploymentID: deploymentID, AsOf: latest.Date}
	for _, cm := range comparedMetrics {
		c.Metrics = append(c.Metrics, compareMetric(cm, live[cm.name], baseline[cm.name]))
	}
	return c, nil
}

func compareMetric(cm comparedMetric, live float64, backtest *float64) MetricComparison {
	out := MetricComparison{
		Metric:        cm.name,
		Live:          live,
		Backtest:      backtest,
		Tolerance:     cm.tolerance,
		LowerIsBetter: cm.lowerIsBetter,
	}
	if backtest == nil {
		out.Status = StatusNoBaseline
		return out
	}

	bt := *backtest
	if bt == 0 {
		out.Difference = live - bt
	} else {
		out.Difference = (live - bt) / math.Abs(bt)
	}

	// improvement > 0 means live is doing better than the backtest
	improvement := out.Difference
	if cm.lowerIsBetter {
		improvement = -improvement
	}
	switch {
	case math.Abs(improvement) <= cm.tolerance:
		out.Status = StatusSimilar
	case improvement > 0:
		out.Status = StatusBetter
	default:
		out.Status = StatusWorse
	}
	return out
}

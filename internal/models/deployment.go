package models

import "time"

// DeploymentStatus is the lifecycle state of a live strategy deployment.
type DeploymentStatus string

const (
	DeploymentActive   DeploymentStatus = "active"
	DeploymentPaused   DeploymentStatus = "paused"
	DeploymentDemoted  DeploymentStatus = "demoted"
	DeploymentArchived DeploymentStatus = "archived"
)

// Defaults applied by the drift detectors when a baseline field is absent.
const (
	DefaultBacktestReturn      = 0.10
	DefaultBacktestMaxDrawdown = 0.15
	DefaultBacktestWinRate     = 0.55
	DefaultBacktestVolatility  = 0.25
)

// BacktestBaseline holds the backtest-derived expectations a deployment is
// compared against. A nil field means the baseline was never recorded.
// MaxDrawdown is a positive magnitude (0.2 = 20%).
type BacktestBaseline struct {
	Sharpe      *float64 `json:"backtest_sharpe,omitempty"`
	Return      *float64 `json:"backtest_return,omitempty"`
	MaxDrawdown *float64 `json:"backtest_max_drawdown,omitempty"`
	WinRate     *float64 `json:"backtest_win_rate,omitempty"`
	Volatility  *float64 `json:"backtest_volatility,omitempty"`
}

// ReturnOrDefault returns the recorded return baseline or DefaultBacktestReturn.
func (b BacktestBaseline) ReturnOrDefault() float64 {
	return valueOr(b.Return, DefaultBacktestReturn)
}

// MaxDrawdownOrDefault returns the recorded drawdown baseline or DefaultBacktestMaxDrawdown.
func (b BacktestBaseline) MaxDrawdownOrDefault() float64 {
	return valueOr(b.MaxDrawdown, DefaultBacktestMaxDrawdown)
}

// WinRateOrDefault returns the recorded win-rate baseline or DefaultBacktestWinRate.
func (b BacktestBaseline) WinRateOrDefault() float64 {
	return valueOr(b.WinRate, DefaultBacktestWinRate)
}

// VolatilityOrDefault returns the recorded volatility baseline or DefaultBacktestVolatility.
func (b BacktestBaseline) VolatilityOrDefault() float64 {
	return valueOr(b.Volatility, DefaultBacktestVolatility)
}

func valueOr(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}

// Float returns a pointer to v, for populating baseline fields.
func Float(v float64) *float64 { return &v }

// AlertDigest is a compact description of one alert inside DriftMetrics.
type AlertDigest struct {
	DriftType        DriftType `json:"drift_type"`
	Severity         Severity  `json:"severity"`
	DeviationPercent float64   `json:"deviation_percent"`
}

// DriftMetrics is the deployment-level summary of the latest detection pass.
// It is overwritten wholesale on every pass that produces alerts.
type DriftMetrics struct {
	TotalAlerts    int           `json:"total_alerts"`
	CriticalAlerts int           `json:"critical_alerts"`
	LatestAlerts   []AlertDigest `json:"latest_alerts"`
}

// Deployment is a live strategy deployment. The drift engine reads it and
// updates only the drift aggregate fields.
type Deployment struct {
	ID                  string           `json:"id"`
	StrategyID          string           `json:"strategy_id"`
	Status              DeploymentStatus `json:"status"`
	MaxDrawdownLimit    float64          `json:"max_drawdown_limit"` // hard limit as a positive fraction, 0 disables
	SharpeRatio         *float64         `json:"sharpe_ratio,omitempty"`
	DriftAlertCount     int              `json:"drift_alert_count"`
	LastDriftDetectedAt *time.Time       `json:"last_drift_detected_at,omitempty"`
	DriftMetrics        *DriftMetrics    `json:"drift_metrics,omitempty"`
	Baseline            BacktestBaseline `json:"metadata"`
	CreatedAt           time.Time        `json:"created_at"`
}

// IsActive reports whether drift detection should run for the deployment.
func (d Deployment) IsActive() bool {
	return d.Status == DeploymentActive
}

// PerformanceMetric is one day of live performance for a deployment.
// Drawdown is signed: 0 at a peak, negative below it.
type PerformanceMetric struct {
	DeploymentID     string    `json:"deployment_id"`
	Date             time.Time `json:"date"`
	DailyReturn      float64   `json:"daily_return"`
	CumulativeReturn float64   `json:"cumulative_return"`
	SharpeRatio      float64   `json:"sharpe_ratio"`
	Drawdown         float64   `json:"drawdown"`
	WinRate          float64   `json:"win_rate"`
	Volatility       float64   `json:"volatility"`
	TotalTrades      int       `json:"total_trades"`
	WinningTrades    int       `json:"winning_trades"`
	LosingTrades     int       `json:"losing_trades"`
}

package reporter

import (
	"fmt"
	"io"
	"math"
	"sort"
	"time"

	"backtest-drift-monitor/internal/backtest"
	"backtest-drift-monitor/internal/drift"
	"backtest-drift-monitor/internal/models"
	"backtest-drift-monitor/internal/monitoring"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// Metrics 存储计算出的所有回测性能指标
type Metrics struct {
	InitialBalance   float64
	FinalBalance     float64
	TotalProfit      float64
	ProfitPercentage float64
	Ticks            int
	FillsApplied     int
	FillsRejected    int
	Signals          int
	WinRate          float64 // 盈利天数占比 (%)
	MaxDrawdown      float64 // (%)
	SharpeRatio      float64
	Volatility       float64 // 年化波动率 (%)
	EndingCash       float64 // 期末现金
	EndingAssetValue float64 // 期末持仓市值
	OpenPositions    int
	StartTime        time.Time
	EndTime          time.Time
}

// GenerateReport 根据回测结果计算性能指标并以表格形式写入 w
func GenerateReport(w io.Writer, res *backtest.Result, source string) *Metrics {
	m := calculateMetrics(res)

	t := newTable(w)
	t.SetTitle("回测结果报告 " + res.RunID)
	t.AppendRows([]table.Row{
		{"数据文件", source},
		{"回测周期", fmt.Sprintf("%s 到 %s", m.StartTime.Format("2006-01-02 15:04"), m.EndTime.Format("2006-01-02 15:04"))},
	})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"初始资金", fmt.Sprintf("%.2f", m.InitialBalance)},
		{"最终资金", fmt.Sprintf("%.2f", m.FinalBalance)},
		{"总利润", fmt.Sprintf("%.2f", m.TotalProfit)},
		{"收益率", fmt.Sprintf("%.2f%%", m.ProfitPercentage)},
	})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"Tick 数量", m.Ticks},
		{"成交 (已执行/被拒绝)", fmt.Sprintf("%d / %d", m.FillsApplied, m.FillsRejected)},
		{"策略信号", m.Signals},
		{"盈利天数占比", fmt.Sprintf("%.2f%%", m.WinRate)},
		{"最大回撤", fmt.Sprintf("%.2f%%", m.MaxDrawdown)},
		{"夏普比率", fmt.Sprintf("%.2f", m.SharpeRatio)},
		{"年化波动率", fmt.Sprintf("%.2f%%", m.Volatility)},
	})
	if ex := res.Execution; ex != nil {
		t.AppendSeparator()
		t.AppendRows([]table.Row{
			{"模拟撮合 (成交/丢弃)", fmt.Sprintf("%d / %d", ex.Filled, ex.Dropped)},
			{"累计手续费", fmt.Sprintf("%.4f", ex.TotalFees)},
			{"累计滑点成本", fmt.Sprintf("%.4f", ex.TotalSlippage)},
		})
	}
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"期末现金", fmt.Sprintf("%.2f", m.EndingCash)},
		{"期末持仓市值", fmt.Sprintf("%.2f (%d 个持仓)", m.EndingAssetValue, m.OpenPositions)},
	})
	t.Render()
	return m
}

func calculateMetrics(res *backtest.Result) *Metrics {
	m := &Metrics{
		InitialBalance: res.InitialCapital,
		FinalBalance:   res.Final.TotalValue,
		Ticks:          res.Ticks,
		FillsApplied:   res.FillsApplied,
		FillsRejected:  res.FillsRejected,
		Signals:        res.Signals,
		EndingCash:     res.Final.CashBalance,
		OpenPositions:  len(res.Final.Positions),
	}
	m.EndingAssetValue = m.FinalBalance - m.EndingCash
	m.TotalProfit = m.FinalBalance - m.InitialBalance
	if m.InitialBalance != 0 {
		m.ProfitPercentage = (m.TotalProfit / m.InitialBalance) * 100
	}

	equity := make([]float64, len(res.Snapshots))
	for i, s := range res.Snapshots {
		equity[i] = s.PortfolioValue
	}
	// 续跑的结果只包含新 tick, 检查点中的回撤状态覆盖了之前的历史
	m.MaxDrawdown = math.Max(res.Drawdown.MaxDrawdown, calculateMaxDrawdown(equity)) * 100

	if len(res.Snapshots) > 0 {
		m.StartTime = res.Snapshots[0].Timestamp
		m.EndTime = res.Snapshots[len(res.Snapshots)-1].Timestamp

		baseline := monitoring.BaselineFromSnapshots(res.Snapshots)
		if baseline.Sharpe != nil {
			m.SharpeRatio = *baseline.Sharpe
		}
		if baseline.WinRate != nil {
			m.WinRate = *baseline.WinRate * 100
		}
		if baseline.Volatility != nil {
			m.Volatility = *baseline.Volatility * 100
		}
	}
	return m
}

func calculateMaxDrawdown(equityCurve []float64) float64 {
	if len(equityCurve) < 2 {
		return 0.0
	}
	peak := equityCurve[0]
	maxDrawdown := 0.0

	for _, equity := range equityCurve {
		if equity > peak {
			peak = equity
		}
		if peak <= 0 {
			continue
		}
		drawdown := (peak - equity) / peak
		if drawdown > maxDrawdown {
			maxDrawdown = drawdown
		}
	}
	return maxDrawdown
}

// WriteAlerts renders alerts as a table, most severe first.
func WriteAlerts(w io.Writer, alerts []models.DriftAlert) {
	sorted := append([]models.DriftAlert(nil), alerts...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Severity.Rank() > sorted[j].Severity.Rank()
	})

	t := newTable(w)
	t.SetTitle(fmt.Sprintf("Drift alerts (%d)", len(sorted)))
	t.AppendHeader(table.Row{"ID", "Deployment", "Type", "Severity", "Expected", "Actual", "Deviation", "Created", "Status"})
	for _, a := range sorted {
		status := "active"
		if a.Resolved {
			status = "resolved (" + string(a.ResolutionType) + ")"
		}
		t.AppendRow(table.Row{
			a.ID,
			a.DeploymentID,
			string(a.DriftType),
			severityText(a.Severity),
			fmt.Sprintf("%.4f", a.ExpectedValue),
			fmt.Sprintf("%.4f", a.ActualValue),
			fmt.Sprintf("%.1f", a.DeviationPercent),
			a.CreatedAt.Format(time.RFC3339),
			status,
		})
	}
	t.Render()
}

// WriteDriftSummary renders the active-alert histogram of a deployment.
func WriteDriftSummary(w io.Writer, s *drift.Summary) {
	t := newTable(w)
	t.SetTitle("Drift summary " + s.DeploymentID)
	t.AppendRow(table.Row{"total alerts", s.TotalAlerts})
	t.AppendRow(table.Row{"active alerts", s.ActiveAlerts})
	t.AppendSeparator()
	for _, sev := range []models.Severity{models.SeverityCritical, models.SeverityHigh, models.SeverityMedium, models.SeverityLow} {
		t.AppendRow(table.Row{"severity " + string(sev), s.BySeverity[sev]})
	}
	types := make([]string, 0, len(s.ByType))
	for dt := range s.ByType {
		types = append(types, string(dt))
	}
	sort.Strings(types)
	for _, dt := range types {
		t.AppendRow(table.Row{"type " + dt, s.ByType[models.DriftType(dt)]})
	}
	if s.OldestActive != nil {
		t.AppendSeparator()
		t.AppendRow(table.Row{"oldest active", s.OldestActive.Format(time.RFC3339)})
		t.AppendRow(table.Row{"newest active", s.NewestActive.Format(time.RFC3339)})
	}
	t.Render()
}

// WriteMonitoring renders the monitoring view of a deployment. Nil parts are skipped.
func WriteMonitoring(w io.Writer, summary *monitoring.PerformanceSummary, rolling *monitoring.RollingStatistics,
	trend *monitoring.PerformanceTrend, comparison *monitoring.BacktestComparison) {
	if summary != nil {
		t := newTable(w)
		t.SetTitle("Performance " + summary.DeploymentID)
		t.AppendRows([]table.Row{
			{"period", fmt.Sprintf("%s .. %s", summary.StartDate.Format("2006-01-02"), summary.EndDate.Format("2006-01-02"))},
			{"days (profitable/losing)", fmt.Sprintf("%d (%d/%d)", summary.TotalDays, summary.ProfitableDays, summary.LosingDays)},
			{"avg daily return", pct(summary.AvgDailyReturn)},
			{"best day", fmt.Sprintf("%s on %s", pct(summary.BestDay), summary.BestDayDate.Format("2006-01-02"))},
			{"worst day", fmt.Sprintf("%s on %s", pct(summary.WorstDay), summary.WorstDayDate.Format("2006-01-02"))},
			{"cumulative return", pct(summary.CumulativeReturn)},
			{"current / max drawdown", pct(summary.CurrentDrawdown) + " / " + pct(summary.MaxDrawdown)},
			{"sharpe", fmt.Sprintf("%.2f", summary.SharpeRatio)},
			{"trades", summary.TotalTrades},
		})
		t.Render()
	}

	if rolling != nil {
		t := newTable(w)
		t.SetTitle(fmt.Sprintf("Rolling %d days (%d points)", rolling.WindowDays, rolling.DataPoints))
		t.AppendRows([]table.Row{
			{"avg daily return", pct(rolling.AvgDailyReturn)},
			{"annualized return", pct(rolling.AnnualizedReturn)},
			{"volatility", pct(rolling.Volatility)},
			{"sharpe", fmt.Sprintf("%.2f", rolling.SharpeRatio)},
			{"cumulative return", pct(rolling.CumulativeReturn)},
			{"max drawdown", pct(rolling.MaxDrawdown)},
			{"win rate", pct(rolling.WinRate)},
		})
		t.Render()
	}

	if trend != nil {
		t := newTable(w)
		t.SetTitle("Trend")
		t.AppendRows([]table.Row{
			{"trend", trend.Trend},
			{"sharpe delta", fmt.Sprintf("%+.2f", trend.SharpeDelta)},
			{"return delta", fmt.Sprintf("%+.4f", trend.ReturnDelta)},
		})
		t.Render()
	}

	if comparison != nil {
		t := newTable(w)
		t.SetTitle("Live vs backtest")
		t.AppendHeader(table.Row{"Metric", "Live", "Backtest", "Difference", "Tolerance", "Status"})
		for _, mc := range comparison.Metrics {
			bt := "-"
			if mc.Backtest != nil {
				bt = fmt.Sprintf("%.4f", *mc.Backtest)
			}
			t.AppendRow(table.Row{mc.Metric, fmt.Sprintf("%.4f", mc.Live), bt,
				fmt.Sprintf("%.4f", mc.Difference), fmt.Sprintf("%.2f", mc.Tolerance), mc.Status})
		}
		t.Render()
	}
}

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	return t
}

func severityText(s models.Severity) string {
	switch s {
	case models.SeverityCritical:
		return text.Colors{text.FgHiRed, text.Bold}.Sprint(string(s))
	case models.SeverityHigh:
		return text.FgRed.Sprint(string(s))
	case models.SeverityMedium:
		return text.FgYellow.Sprint(string(s))
	}
	return string(s)
}

func pct(v float64) string {
	return fmt.Sprintf("%.2f%%", v*100)
}

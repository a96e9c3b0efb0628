package exchange

import "backtest-drift-monitor/internal/models"

// Executor 将策略信号转换为成交记录。
// 回测驱动器通过该接口在模拟撮合与外部撮合之间切换。
type Executor interface {
	// Execute prices a signal against the tick prices. ok is false when the
	// signal cannot be filled.
	Execute(signal models.Signal, prices map[string]float64) (fill models.Fill, ok bool)
}

// StatsReporter is implemented by executors that keep execution totals.
type StatsReporter interface {
	Stats() Stats
}

package exchange

import (
	"sync"

	"backtest-drift-monitor/internal/models"
)

// Simulator 模拟交易所撮合, 为回测中的策略信号生成带滑点和手续费的成交。
type Simulator struct {
	FeeRate      float64 // 手续费率
	SlippageRate float64 // 滑点率

	mu            sync.Mutex
	totalFees     float64 // 累积总手续费
	totalSlippage float64 // 累积滑点成本
	filled        int
	dropped       int
}

// NewSimulator 创建一个新的 Simulator 实例。
func NewSimulator(cfg models.BacktestConfig) *Simulator {
	return &Simulator{
		FeeRate:      cfg.FeeRate,
		SlippageRate: cfg.SlippageRate,
	}
}

// Execute 以当前 tick 价格为基准撮合信号。
// 买单成交价为 price*(1+slippage), 卖单为 price*(1-slippage),
// 手续费 = 成交价 * 数量 * 费率。缺少价格或数量非正的信号被丢弃。
func (s *Simulator) Execute(signal models.Signal, prices map[string]float64) (models.Fill, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	price, ok := prices[signal.InstrumentID]
	if !ok || price <= 0 || signal.Quantity <= 0 {
		s.dropped++
		return models.Fill{}, false
	}

	// --- 1. 计算包含滑点的成交价 ---
	var executionPrice float64
	switch signal.Side {
	case models.Buy:
		executionPrice = price * (1 + s.SlippageRate)
	case models.Sell:
		executionPrice = price * (1 - s.SlippageRate)
	default:
		s.dropped++
		return models.Fill{}, false
	}

	// --- 2. 计算手续费 ---
	fee := executionPrice * signal.Quantity * s.FeeRate

	s.totalFees += fee
	if executionPrice > price {
		s.totalSlippage += (executionPrice - price) * signal.Quantity
	} else {
		s.totalSlippage += (price - executionPrice) * signal.Quantity
	}
	s.filled++

	return models.Fill{
		Timestamp:    signal.Timestamp,
		InstrumentID: signal.InstrumentID,
		Side:         signal.Side,
		Quantity:     signal.Quantity,
		Price:        executionPrice,
		Fee:          fee,
	}, true
}

// Stats 返回累计的撮合统计。
type Stats struct {
	Filled        int
	Dropped       int
	TotalFees     float64
	TotalSlippage float64
}

func (s *Simulator) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Filled:        s.filled,
		Dropped:       s.dropped,
		TotalFees:     s.totalFees,
		TotalSlippage: s.totalSlippage,
	}
}

package strategy

import (
	"fmt"
	"math"

	"backtest-drift-monitor/internal/models"

	"go.uber.org/zap"
)

// Grid 是单品种网格策略: 价格相对参考价下跌一个网格间距时买入,
// 上涨一个网格间距且有持仓时卖出, 每次成交后参考价移动到当前价格。
type Grid struct {
	InstrumentID string
	Spacing      float64 // 网格间距比例, e.g. 0.01 = 1%
	Quantity     float64 // 每格交易数量

	logger   *zap.Logger
	refPrice float64
}

// NewGrid 创建网格策略实例
func NewGrid(instrumentID string, spacing, quantity float64, logger *zap.Logger) (*Grid, error) {
	if instrumentID == "" {
		return nil, fmt.Errorf("grid strategy requires an instrument")
	}
	if spacing <= 0 || spacing >= 1 {
		return nil, fmt.Errorf("grid spacing must be in (0, 1), got %v", spacing)
	}
	if quantity <= 0 {
		return nil, fmt.Errorf("grid quantity must be positive, got %v", quantity)
	}
	return &Grid{
		InstrumentID: instrumentID,
		Spacing:      spacing,
		Quantity:     quantity,
		logger:       logger.Named("grid"),
	}, nil
}

func (g *Grid) Name() string {
	return fmt.Sprintf("grid(%s, %.4f)", g.InstrumentID, g.Spacing)
}

// RefPrice returns the current grid reference price, 0 before the first tick.
func (g *Grid) RefPrice() float64 { return g.refPrice }

func (g *Grid) OnTick(tick models.Tick, portfolio models.Portfolio) []models.Signal {
	price, ok := tick.Prices[g.InstrumentID]
	if !ok || price <= 0 {
		return nil
	}

	// 第一个有效价格作为网格参考价
	if g.refPrice == 0 {
		g.refPrice = price
		g.logger.Debug("Grid initialised", zap.String("instrument", g.InstrumentID), zap.Float64("ref_price", price))
		return nil
	}

	lower := g.refPrice * (1 - g.Spacing)
	upper := g.refPrice * (1 + g.Spacing)

	switch {
	case price <= lower:
		// 现金不足时不下单, 避免产生必然被拒绝的买单
		if portfolio.CashBalance < price*g.Quantity {
			g.logger.Debug("Grid buy skipped, insufficient cash",
				zap.Float64("price", price), zap.Float64("cash", portfolio.CashBalance))
			return nil
		}
		g.refPrice = price
		return []models.Signal{{
			Timestamp:    tick.Timestamp,
			InstrumentID: g.InstrumentID,
			Side:         models.Buy,
			Quantity:     g.Quantity,
			Reason:       fmt.Sprintf("price %.4f crossed lower grid %.4f", price, lower),
		}}

	case price >= upper:
		held := portfolio.Positions[g.InstrumentID].Quantity
		if held <= 0 {
			// 空仓时上移参考价, 跟随趋势
			g.refPrice = price
			return nil
		}
		g.refPrice = price
		return []models.Signal{{
			Timestamp:    tick.Timestamp,
			InstrumentID: g.InstrumentID,
			Side:         models.Sell,
			Quantity:     math.Min(held, g.Quantity),
			Reason:       fmt.Sprintf("price %.4f crossed upper grid %.4f", price, upper),
		}}
	}
	return nil
}

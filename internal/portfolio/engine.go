// Package portfolio implements the portfolio state engine: pure transitions
// from one Portfolio value to the next. No function here mutates its input;
// every result carries a freshly allocated Positions map, so independent
// simulations can run in parallel without locking.
package portfolio

import (
	"math"
	"sort"
	"time"

	"backtest-drift-monitor/internal/models"
)

// Rejection messages returned in TradeResult.Error.
const (
	ErrInsufficientCash = "Insufficient cash balance for buy trade"
	ErrNoPosition       = "No position to sell"
	ErrInvalidTrade     = "Trade quantity and price must be positive"
)

// Initialize returns an all-cash portfolio.
func Initialize(initialCapital float64) models.Portfolio {
	return models.Portfolio{
		CashBalance: initialCapital,
		Positions:   make(map[string]models.Position),
		TotalValue:  initialCapital,
	}
}

// UpdateValues revalues every position whose price is known and carries the
// stored value forward for the rest.
func UpdateValues(p models.Portfolio, prices map[string]float64) models.Portfolio {
	next := p.Clone()
	next.TotalValue = next.CashBalance + revalue(next.Positions, prices)
	return next
}

// ApplyBuy deducts quantity×price+fee from cash and grows (or opens) the
// position at a quantity-weighted average price. When currentPrices is nil
// only the traded instrument's price is treated as known.
func ApplyBuy(p models.Portfolio, instrumentID string, quantity, price, fee float64, currentPrices map[string]float64) models.TradeResult {
	if !validTrade(quantity, price, fee) {
		return reject(p, ErrInvalidTrade)
	}

	cost := quantity*price + fee
	if p.CashBalance < cost {
		return reject(p, ErrInsufficientCash)
	}

	next := p.Clone()
	next.CashBalance -= cost

	if existing, ok := next.Positions[instrumentID]; ok {
		newQty := existing.Quantity + quantity
		newAvg := (existing.AveragePrice*existing.Quantity + price*quantity) / newQty
		next.Positions[instrumentID] = models.Position{
			InstrumentID: instrumentID,
			Quantity:     newQty,
			AveragePrice: newAvg,
			TotalValue:   newQty * price,
		}
	} else {
		next.Positions[instrumentID] = models.Position{
			InstrumentID: instrumentID,
			Quantity:     quantity,
			AveragePrice: price,
			TotalValue:   quantity * price,
		}
	}

	next.TotalValue = next.CashBalance + revalue(next.Positions, tradePrices(instrumentID, price, currentPrices))
	return models.TradeResult{Portfolio: next, Success: true}
}

// ApplySell sells up to the held quantity; requests above it are clamped,
// not rejected. Cash grows by proceeds minus fee. A fully sold position is
// removed; a partial one keeps its average price and is valued at the sell
// price.
func ApplySell(p models.Portfolio, instrumentID string, quantity, price, fee float64, currentPrices map[string]float64) models.TradeResult {
	existing, ok := p.Positions[instrumentID]
	if !ok || existing.Quantity <= 0 {
		return reject(p, ErrNoPosition)
	}
	if !validTrade(quantity, price, fee) {
		return reject(p, ErrInvalidTrade)
	}

	sellQty := quantity
	if sellQty > existing.Quantity {
		sellQty = existing.Quantity
	}

	next := p.Clone()
	next.CashBalance += sellQty*price - fee

	remaining := existing.Quantity - sellQty
	if remaining <= 0 {
		delete(next.Positions, instrumentID)
	} else {
		next.Positions[instrumentID] = models.Position{
			InstrumentID: instrumentID,
			Quantity:     remaining,
			AveragePrice: existing.AveragePrice,
			TotalValue:   remaining * price,
		}
	}

	next.TotalValue = next.CashBalance + revalue(next.Positions, tradePrices(instrumentID, price, currentPrices))
	return models.TradeResult{Portfolio: next, Success: true}
}

// CalculatePositionsValue sums price×quantity for positions with a known
// price and the stored TotalValue for the others.
func CalculatePositionsValue(positions map[string]models.Position, prices map[string]float64) float64 {
	var total float64
	for id, pos := range positions {
		if price, ok := prices[id]; ok {
			total += pos.Quantity * price
		} else {
			total += pos.TotalValue
		}
	}
	return total
}

// UpdateDrawdown folds currentValue into the drawdown state. PeakValue and
// MaxDrawdown never decrease.
func UpdateDrawdown(currentValue float64, state models.DrawdownState) models.DrawdownState {
	peak := state.PeakValue
	if currentValue > peak {
		peak = currentValue
	}

	var current float64
	if peak != 0 {
		current = (peak - currentValue) / peak
	}

	maxDD := state.MaxDrawdown
	if current > maxDD {
		maxDD = current
	}

	return models.DrawdownState{
		PeakValue:       peak,
		MaxDrawdown:     maxDD,
		CurrentDrawdown: current,
	}
}

// CreateSnapshot projects the portfolio at timestamp. Holdings without a
// known price are displayed with price and value 0.
func CreateSnapshot(p models.Portfolio, timestamp time.Time, prices map[string]float64, initialCapital float64, dd models.DrawdownState) models.PortfolioSnapshot {
	holdings := make(map[string]models.HoldingSnapshot, len(p.Positions))
	for id, pos := range p.Positions {
		price := prices[id]
		holdings[id] = models.HoldingSnapshot{
			Quantity: pos.Quantity,
			Price:    price,
			Value:    pos.Quantity * price,
		}
	}

	var cumulative float64
	if initialCapital > 0 {
		cumulative = (p.TotalValue - initialCapital) / initialCapital
	}

	return models.PortfolioSnapshot{
		Timestamp:        timestamp,
		PortfolioValue:   p.TotalValue,
		CashBalance:      p.CashBalance,
		Holdings:         holdings,
		CumulativeReturn: cumulative,
		Drawdown:         dd.CurrentDrawdown,
	}
}

// Serialize produces the checkpoint form. Positions are ordered by
// instrument id so equal portfolios serialize identically.
func Serialize(p models.Portfolio) models.SerializablePortfolio {
	ids := make([]string, 0, len(p.Positions))
	for id := range p.Positions {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	positions := make([]models.SerializablePosition, 0, len(ids))
	for _, id := range ids {
		pos := p.Positions[id]
		positions = append(positions, models.SerializablePosition{
			InstrumentID: id,
			Quantity:     pos.Quantity,
			AveragePrice: pos.AveragePrice,
		})
	}

	return models.SerializablePortfolio{
		CashBalance: p.CashBalance,
		Positions:   positions,
	}
}

// Deserialize rebuilds a Portfolio from a checkpoint, valuing each position
// at currentPrices when known and at its average price otherwise.
func Deserialize(s models.SerializablePortfolio, currentPrices map[string]float64) models.Portfolio {
	positions := make(map[string]models.Position, len(s.Positions))
	var positionsValue float64
	for _, sp := range s.Positions {
		price, ok := currentPrices[sp.InstrumentID]
		if !ok {
			price = sp.AveragePrice
		}
		value := sp.Quantity * price
		positions[sp.InstrumentID] = models.Position{
			InstrumentID: sp.InstrumentID,
			Quantity:     sp.Quantity,
			AveragePrice: sp.AveragePrice,
			TotalValue:   value,
		}
		positionsValue += value
	}

	return models.Portfolio{
		CashBalance: s.CashBalance,
		Positions:   positions,
		TotalValue:  s.CashBalance + positionsValue,
	}
}

// revalue updates the values of positions (which must be a map owned by the
// caller) and returns their sum.
func revalue(positions map[string]models.Position, prices map[string]float64) float64 {
	for id, pos := range positions {
		if price, ok := prices[id]; ok {
			pos.TotalValue = pos.Quantity * price
			positions[id] = pos
		}
	}
	return CalculatePositionsValue(positions, prices)
}

// validTrade also fails on NaN, which slips past plain <= comparisons.
func validTrade(quantity, price, fee float64) bool {
	return quantity > 0 && price > 0 && fee >= 0 &&
		!math.IsInf(quantity, 0) && !math.IsInf(price, 0) && !math.IsInf(fee, 0)
}

func tradePrices(instrumentID string, price float64, currentPrices map[string]float64) map[string]float64 {
	if currentPrices != nil {
		return currentPrices
	}
	return map[string]float64{instrumentID: price}
}

func reject(p models.Portfolio, msg string) models.TradeResult {
	return models.TradeResult{Portfolio: p, Success: false, Error: msg}
}

package models

import "time"

// Position is a holding in a single instrument.
// TotalValue is a cached valuation; it is carried forward unchanged when no
// price for the instrument is known.
type Position struct {
	InstrumentID string  `json:"instrument_id"`
	Quantity     float64 `json:"quantity"`
	AveragePrice float64 `json:"average_price"`
	TotalValue   float64 `json:"total_value"`
}

// Portfolio is treated as an immutable value: engine operations return a new
// Portfolio with a fresh Positions map and never write to their input.
type Portfolio struct {
	CashBalance float64             `json:"cash_balance"`
	Positions   map[string]Position `json:"positions"`
	TotalValue  float64             `json:"total_value"`
}

// Clone returns a copy whose Positions map is distinct from p's.
func (p Portfolio) Clone() Portfolio {
	positions := make(map[string]Position, len(p.Positions))
	for id, pos := range p.Positions {
		positions[id] = pos
	}
	p.Positions = positions
	return p
}

// TradeResult is the outcome of ApplyBuy/ApplySell. On rejection Success is
// false, Error explains why and Portfolio is the unchanged input.
type TradeResult struct {
	Portfolio Portfolio `json:"portfolio"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
}

// DrawdownState tracks the running peak and drawdowns of a simulation.
type DrawdownState struct {
	PeakValue       float64 `json:"peak_value"`
	MaxDrawdown     float64 `json:"max_drawdown"`
	CurrentDrawdown float64 `json:"current_drawdown"`
}

// HoldingSnapshot is the display form of one position inside a snapshot.
type HoldingSnapshot struct {
	Quantity float64 `json:"quantity"`
	Value    float64 `json:"value"`
	Price    float64 `json:"price"`
}

// PortfolioSnapshot is a write-once, point-in-time projection of a portfolio.
type PortfolioSnapshot struct {
	Timestamp        time.Time                  `json:"timestamp"`
	PortfolioValue   float64                    `json:"portfolio_value"`
	CashBalance      float64                    `json:"cash_balance"`
	Holdings         map[string]HoldingSnapshot `json:"holdings"`
	CumulativeReturn float64                    `json:"cumulative_return"`
	Drawdown         float64                    `json:"drawdown"`
}

// SerializablePosition omits TotalValue; it is recomputed on load.
type SerializablePosition struct {
	InstrumentID string  `json:"instrument_id"`
	Quantity     float64 `json:"quantity"`
	AveragePrice float64 `json:"average_price"`
}

// SerializablePortfolio is the checkpoint form of a Portfolio.
type SerializablePortfolio struct {
	CashBalance float64                `json:"cash_balance"`
	Positions   []SerializablePosition `json:"positions"`
}

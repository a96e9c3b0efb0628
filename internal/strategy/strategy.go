package strategy

import "backtest-drift-monitor/internal/models"

// Strategy emits trading signals from market ticks. Implementations may keep
// state between ticks and are driven by one goroutine at a time.
type Strategy interface {
	Name() string
	OnTick(tick models.Tick, portfolio models.Portfolio) []models.Signal
}

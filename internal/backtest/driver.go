// Package backtest drives a portfolio through a sequence of ticks using the
// portfolio engine, optionally generating fills from a strategy.
package backtest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"backtest-drift-monitor/internal/exchange"
	"backtest-drift-monitor/internal/models"
	"backtest-drift-monitor/internal/persistence"
	"backtest-drift-monitor/internal/portfolio"
	"backtest-drift-monitor/internal/strategy"

	"go.uber.org/zap"
)

// Fill statuses written to the journal.
const (
	FillApplied  = "applied"
	FillRejected = "rejected"
)

// ErrNoCheckpoint is returned by Resume when the run has never been checkpointed.
var ErrNoCheckpoint = errors.New("no checkpoint for run")

// Recorder journals what a run produces. Implementations must be safe to call
// from the single goroutine running the driver.
type Recorder interface {
	RecordSnapshot(runID string, s models.PortfolioSnapshot) error
	RecordFill(runID string, f models.Fill, status, reason string) error
	RecordSignal(runID string, s models.Signal) error
}

// NopRecorder discards everything.
type NopRecorder struct{}

func (NopRecorder) RecordSnapshot(string, models.PortfolioSnapshot) error { return nil }
func (NopRecorder) RecordFill(string, models.Fill, string, string) error { return nil }
func (NopRecorder) RecordSignal(string, models.Signal) error { return nil }

// Result summarises one Run.
type Result struct {
	RunID          string
	InitialCapital float64
	Final          models.Portfolio
	Drawdown       models.DrawdownState
	Snapshots      []models.PortfolioSnapshot
	Ticks          int
	FillsApplied   int
	FillsRejected  int
	Signals        int
	// Execution is nil when the executor does not report totals.
	Execution      *exchange.Stats
	StartTime      time.Time
	EndTime        time.Time
}

// Option configures a Driver.
type Option func(*Driver)

// WithStrategy makes the driver ask s for signals on every tick.
func WithStrategy(s strategy.Strategy) Option {
	return func(d *Driver) { d.strategy = s }
}

// WithExecutor replaces the default fill simulator.
func WithExecutor(e exchange.Executor) Option {
	return func(d *Driver) { d.executor = e }
}

// WithStateRepository enables checkpointing.
func WithStateRepository(r persistence.StateRepository) Option {
	return func(d *Driver) { d.repo = r }
}

// WithRecorder sets the journal.
func WithRecorder(r Recorder) Option {
	return func(d *Driver) { d.recorder = r }
}

// Driver is a strictly sequential fold of ticks into a portfolio. A Driver is
// not safe for concurrent use; run independent simulations on separate Drivers.
type Driver struct {
	runID    string
	cfg      models.BacktestConfig
	strategy strategy.Strategy
	executor exchange.Executor
	repo     persistence.StateRepository
	recorder Recorder
	logger   *zap.Logger

	initialCapital float64
	portfolio      models.Portfolio
	drawdown       models.DrawdownState
	tickCount      int
	lastTick       time.Time
	resumed        bool
}

func NewDriver(runID string, cfg models.BacktestConfig, logger *zap.Logger, opts ...Option) *Driver {
	d := &Driver{
		runID:          runID,
		cfg:            cfg,
		recorder:       NopRecorder{},
		logger:         logger.Named("backtest").With(zap.String("run_id", runID)),
		initialCapital: cfg.InitialCapital,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.executor == nil {
		d.executor = exchange.NewSimulator(cfg)
	}
	d.portfolio = portfolio.Initialize(cfg.InitialCapital)
	return d
}

// Resume restores the driver from the run's last checkpoint. Positions are
// valued at prices where known. Ticks at or before the checkpoint's last tick
// are skipped by the next Run.
func (d *Driver) Resume(ctx context.Context, runID string, prices map[string]float64) (models.Portfolio, error) {
	if err := ctx.Err(); err != nil {
		return models.Portfolio{}, err
	}
	if d.repo == nil {
		return models.Portfolio{}, fmt.Errorf("resume %s: no state repository configured", runID)
	}
	state, err := d.repo.LoadState(runID)
	if err != nil {
		return models.Portfolio{}, fmt.Errorf("load checkpoint %s: %w", runID, err)
	}
	if state == nil {
		return models.Portfolio{}, fmt.Errorf("resume %s: %w", runID, ErrNoCheckpoint)
	}

	d.runID = state.RunID
	d.initialCapital = state.InitialCapital
	d.portfolio = portfolio.Deserialize(state.Checkpoint, prices)
	d.drawdown = state.Drawdown
	d.tickCount = state.TickCount
	d.lastTick = state.LastTickTime
	d.resumed = true

	d.logger.Info("Resumed from checkpoint",
		zap.Int("tick_count", d.tickCount),
		zap.Time("last_tick", d.lastTick),
		zap.Float64("total_value", d.portfolio.TotalValue))
	return d.portfolio, nil
}

// Run applies ticks in order. On context cancellation the partial result is
// returned together with ctx.Err().
func (d *Driver) Run(ctx context.Context, ticks []models.Tick) (*Result, error) {
	result := &Result{
		RunID:          d.runID,
		InitialCapital: d.initialCapital,
		StartTime:      time.Now(),
		Snapshots:      make([]models.PortfolioSnapshot, 0, len(ticks)),
	}

	d.logger.Info("Backtest started", zap.Int("ticks", len(ticks)), zap.Float64("initial_capital", d.initialCapital))

	for _, tick := range ticks {
		if err := ctx.Err(); err != nil {
			d.finish(result)
			d.logger.Warn("Backtest interrupted", zap.Int("processed", result.Ticks), zap.Error(err))
			return result, err
		}
		if d.resumed && !tick.Timestamp.After(d.lastTick) {
			continue
		}
		d.step(tick, result)
	}

	d.checkpoint()
	d.finish(result)
	d.logger.Info("Backtest finished",
		zap.Int("ticks", result.Ticks),
		zap.Int("fills_applied", result.FillsApplied),
		zap.Int("fills_rejected", result.FillsRejected),
		zap.Float64("final_value", result.Final.TotalValue),
		zap.Float64("max_drawdown", result.Drawdown.MaxDrawdown))
	return result, nil
}

func (d *Driver) step(tick models.Tick, result *Result) {
	fills := append([]models.Fill(nil), tick.Fills...)

	if d.strategy != nil {
		for _, signal := range d.strategy.OnTick(tick, d.portfolio) {
			result.Signals++
			if err := d.recorder.RecordSignal(d.runID, signal); err != nil {
				d.logger.Error("Failed to journal signal", zap.Error(err))
			}
			if fill, ok := d.executor.Execute(signal, tick.Prices); ok {
				fills = append(fills, fill)
			}
		}
	}

	for _, fill := range fills {
		var res models.TradeResult
		switch fill.Side {
		case models.Buy:
			res = portfolio.ApplyBuy(d.portfolio, fill.InstrumentID, fill.Quantity, fill.Price, fill.Fee, tick.Prices)
		case models.Sell:
			res = portfolio.ApplySell(d.portfolio, fill.InstrumentID, fill.Quantity, fill.Price, fill.Fee, tick.Prices)
		default:
			res = models.TradeResult{Portfolio: d.portfolio, Error: fmt.Sprintf("unknown side %q", fill.Side)}
		}

		status := FillApplied
		if res.Success {
			d.portfolio = res.Portfolio
			result.FillsApplied++
		} else {
			status = FillRejected
			result.FillsRejected++
			d.logger.Warn("Fill rejected",
				zap.String("instrument", fill.InstrumentID),
				zap.String("side", string(fill.Side)),
				zap.Float64("quantity", fill.Quantity),
				zap.Float64("price", fill.Price),
				zap.String("reason", res.Error))
		}
		if err := d.recorder.RecordFill(d.runID, fill, status, res.Error); err != nil {
			d.logger.Error("Failed to journal fill", zap.Error(err))
		}
	}

	d.portfolio = portfolio.UpdateValues(d.portfolio, tick.Prices)
	d.drawdown = portfolio.UpdateDrawdown(d.portfolio.TotalValue, d.drawdown)
	snapshot := portfolio.CreateSnapshot(d.portfolio, tick.Timestamp, tick.Prices, d.initialCapital, d.drawdown)
	result.Snapshots = append(result.Snapshots, snapshot)
	if err := d.recorder.RecordSnapshot(d.runID, snapshot); err != nil {
		d.logger.Error("Failed to journal snapshot", zap.Error(err))
	}

	result.Ticks++
	d.tickCount++
	d.lastTick = tick.Timestamp
	if d.cfg.CheckpointInterval > 0 && d.tickCount%d.cfg.CheckpointInterval == 0 {
		d.checkpoint()
	}
}

func (d *Driver) checkpoint() {
	if d.repo == nil {
		return
	}
	state := &models.RunState{
		RunID:          d.runID,
		Version:        models.RunStateVersion,
		InitialCapital: d.initialCapital,
		Checkpoint:     portfolio.Serialize(d.portfolio),
		Drawdown:       d.drawdown,
		TickCount:      d.tickCount,
		LastTickTime:   d.lastTick,
		LastUpdateTime: time.Now(),
	}
	if err := d.repo.SaveState(state); err != nil {
		d.logger.Error("CRITICAL: Failed to save checkpoint", zap.Error(err))
		return
	}
	d.logger.Debug("Checkpoint saved", zap.Int("tick_count", d.tickCount))
}

func (d *Driver) finish(result *Result) {
	result.Final = d.portfolio
	result.Drawdown = d.drawdown
	result.EndTime = time.Now()
	if sr, ok := d.executor.(exchange.StatsReporter); ok {
		stats := sr.Stats()
		result.Execution = &stats
	}
}

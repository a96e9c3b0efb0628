package statemanager

import (
	"context"
	"sync"
	"time"

	"backtest-drift-monitor/internal/models"
	"backtest-drift-monitor/internal/persistence"
	"backtest-drift-monitor/internal/portfolio"

	"go.uber.org/zap"
)

// EventType defines the type of a normalized event
type EventType int

const (
	FillEvent EventType = iota
	PriceEvent
	ResetEvent
	barrierEvent
)

// NormalizedEvent is a standardized internal representation of an event.
// Data is a models.Fill for FillEvent, a map[string]float64 for PriceEvent
// and a *models.RunState for ResetEvent.
type NormalizedEvent struct {
	Type      EventType
	Timestamp time.Time
	Data      interface{}
}

// Option configures a StateManager.
type Option func(*StateManager)

// WithSnapshotSink registers a callback invoked from the event loop with the
// snapshot produced by every state-changing event.
func WithSnapshotSink(fn func(models.PortfolioSnapshot)) Option {
	return func(sm *StateManager) { sm.sink = fn }
}

// StateManager owns the live portfolio of one deployment. All mutations go
// through a single event loop; checkpoints are persisted asynchronously.
type StateManager struct {
	mu             sync.RWMutex
	runID          string
	initialCapital float64
	portfolio      models.Portfolio
	drawdown       models.DrawdownState
	prices         map[string]float64
	tickCount      int
	lastTick       time.Time

	repo            persistence.StateRepository
	sink            func(models.PortfolioSnapshot)
	eventChannel    chan NormalizedEvent
	persistenceChan chan *models.RunState
	stopChan        chan struct{}
	wg              sync.WaitGroup
	logger          *zap.Logger
}

// NewStateManager creates a new StateManager holding an all-cash portfolio.
func NewStateManager(runID string, initialCapital float64, repo persistence.StateRepository, logger *zap.Logger, opts ...Option) *StateManager {
	sm := &StateManager{
		runID:           runID,
		initialCapital:  initialCapital,
		portfolio:       portfolio.Initialize(initialCapital),
		prices:          make(map[string]float64),
		repo:            repo,
		eventChannel:    make(chan NormalizedEvent, 1024),  // Buffered channel
		persistenceChan: make(chan *models.RunState, 128), // Buffered channel for checkpoints to be persisted
		stopChan:        make(chan struct{}),
		logger:          logger.Named("statemanager").With(zap.String("run_id", runID)),
	}
	for _, opt := range opts {
		opt(sm)
	}
	return sm
}

// Start begins the state manager's event processing and persistence loops.
func (sm *StateManager) Start() {
	sm.wg.Add(2)
	go sm.eventLoop()
	go sm.persistenceLoop()
	sm.logger.Sugar().Info("StateManager started.")
}

// Stop shuts down both loops and waits for them. The newest queued
// checkpoint is still written.
func (sm *StateManager) Stop() {
	close(sm.stopChan)
	sm.wg.Wait()
	sm.logger.Sugar().Info("StateManager stopped.")
}

// DispatchEvent sends an event to the StateManager for processing.
func (sm *StateManager) DispatchEvent(event NormalizedEvent) {
	sm.eventChannel <- event
}

// Sync blocks until every event dispatched before it has been processed.
func (sm *StateManager) Sync(ctx context.Context) error {
	done := make(chan struct{})
	select {
	case sm.eventChannel <- NormalizedEvent{Type: barrierEvent, Data: done}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// GetSnapshot projects the current portfolio at ts using the last known prices.
func (sm *StateManager) GetSnapshot(ts time.Time) models.PortfolioSnapshot {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return portfolio.CreateSnapshot(sm.portfolio, ts, sm.prices, sm.initialCapital, sm.drawdown)
}

// Portfolio returns a copy of the current portfolio.
func (sm *StateManager) Portfolio() models.Portfolio {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.portfolio.Clone()
}

// eventLoop is the core processing loop that handles all incoming events serially.
func (sm *StateManager) eventLoop() {
	defer sm.wg.Done()
	for {
		select {
		case event := <-sm.eventChannel:
			sm.processEvent(event)
		case <-sm.stopChan:
			return
		}
	}
}

// persistenceLoop handles the asynchronous saving of checkpoints.
func (sm *StateManager) persistenceLoop() {
	defer sm.wg.Done()
	for {
		select {
		case stateToSave := <-sm.persistenceChan:
			sm.save(stateToSave)
		case <-sm.stopChan:
			// 退出前只保存最新的检查点
			var latest *models.RunState
		drain:
			for {
				select {
				case s := <-sm.persistenceChan:
					latest = s
				default:
					break drain
				}
			}
			if latest != nil {
				sm.save(latest)
			}
			return
		}
	}
}

func (sm *StateManager) save(state *models.RunState) {
	if sm.repo == nil {
		return
	}
	if err := sm.repo.SaveState(state); err != nil {
		sm.logger.Sugar().Errorf("CRITICAL: Failed to save state: %v", err)
	}
}

// processEvent contains the logic to mutate the state based on an event.
func (sm *StateManager) processEvent(event NormalizedEvent) {
	var changed bool

	switch event.Type {
	case FillEvent:
		if fill, ok := event.Data.(models.Fill); ok {
			changed = sm.handleFill(fill)
		} else {
			sm.logger.Sugar().Warnf("Received FillEvent with unexpected data type: %T", event.Data)
		}
	case PriceEvent:
		if prices, ok := event.Data.(map[string]float64); ok {
			sm.mu.Lock()
			for id, p := range prices {
				sm.prices[id] = p
			}
			sm.portfolio = portfolio.UpdateValues(sm.portfolio, sm.prices)
			sm.mu.Unlock()
			changed = true
		} else {
			sm.logger.Sugar().Warnf("Received PriceEvent with unexpected data type: %T", event.Data)
		}
	case ResetEvent:
		if state, ok := event.Data.(*models.RunState); ok && state != nil {
			sm.mu.Lock()
			sm.initialCapital = state.InitialCapital
			sm.portfolio = portfolio.Deserialize(state.Checkpoint, sm.prices)
			sm.drawdown = state.Drawdown
			sm.tickCount = state.TickCount
			sm.lastTick = state.LastTickTime
			sm.mu.Unlock()
			sm.logger.Sugar().Info("State has been reset.")
			changed = true
		} else {
			sm.logger.Sugar().Warnf("Received ResetEvent with unexpected data type: %T", event.Data)
		}
	case barrierEvent:
		if done, ok := event.Data.(chan struct{}); ok {
			close(done)
		}
		return
	}

	if !changed {
		return
	}

	sm.mu.Lock()
	if event.Type != ResetEvent {
		sm.drawdown = portfolio.UpdateDrawdown(sm.portfolio.TotalValue, sm.drawdown)
		sm.tickCount++
		if event.Timestamp.After(sm.lastTick) {
			sm.lastTick = event.Timestamp
		}
	}
	snapshot := portfolio.CreateSnapshot(sm.portfolio, event.Timestamp, sm.prices, sm.initialCapital, sm.drawdown)
	checkpoint := sm.checkpointLocked()
	sm.mu.Unlock()

	if sm.sink != nil && event.Type != ResetEvent {
		sm.sink(snapshot)
	}

	// After processing, send a copy of the new state to the persistence channel.
	select {
	case sm.persistenceChan <- checkpoint:
	case <-sm.stopChan:
	}
}

func (sm *StateManager) handleFill(fill models.Fill) bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if fill.Price > 0 {
		sm.prices[fill.InstrumentID] = fill.Price
	}

	var res models.TradeResult
	switch fill.Side {
	case models.Buy:
		res = portfolio.ApplyBuy(sm.portfolio, fill.InstrumentID, fill.Quantity, fill.Price, fill.Fee, sm.prices)
	case models.Sell:
		res = portfolio.ApplySell(sm.portfolio, fill.InstrumentID, fill.Quantity, fill.Price, fill.Fee, sm.prices)
	default:
		sm.logger.Sugar().Warnf("Ignoring fill with unknown side %q", fill.Side)
		return false
	}

	if !res.Success {
		sm.logger.Sugar().Warnf("Live fill rejected: %s (instrument=%s side=%s qty=%.8f price=%.8f)",
			res.Error, fill.InstrumentID, fill.Side, fill.Quantity, fill.Price)
		return false
	}

	sm.portfolio = res.Portfolio
	sm.logger.Sugar().Debugf("Applied live fill: %s %s %.8f @ %.8f", fill.Side, fill.InstrumentID, fill.Quantity, fill.Price)
	return true
}

func (sm *StateManager) checkpointLocked() *models.RunState {
	return &models.RunState{
		RunID:          sm.runID,
		Version:        models.RunStateVersion,
		InitialCapital: sm.initialCapital,
		Checkpoint:     portfolio.Serialize(sm.portfolio),
		Drawdown:       sm.drawdown,
		TickCount:      sm.tickCount,
		LastTickTime:   sm.lastTick,
		LastUpdateTime: time.Now(),
	}
}

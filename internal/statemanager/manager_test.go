package statemanager

import (
	"context"
	"sync"
	"testing"
	"time"

	"backtest-drift-monitor/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// mockStateRepository is a mock implementation of the StateRepository interface for testing.
type mockStateRepository struct {
	sync.Mutex
	savedState *models.RunState
	saveCount  int
	saveError  error
}

func (m *mockStateRepository) SaveState(state *models.RunState) error {
	m.Lock()
	defer m.Unlock()
	copied := *state
	m.savedState = &copied
	m.saveCount++
	return m.saveError
}

func (m *mockStateRepository) LoadState(string) (*models.RunState, error) {
	m.Lock()
	defer m.Unlock()
	return m.savedState, nil
}

func (m *mockStateRepository) Close() error {
	return nil
}

func (m *mockStateRepository) getSavedState() *models.RunState {
	m.Lock()
	defer m.Unlock()
	return m.savedState
}

func (m *mockStateRepository) saves() int {
	m.Lock()
	defer m.Unlock()
	return m.saveCount
}

var base = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func syncNow(t *testing.T, sm *StateManager) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, sm.Sync(ctx))
}

// TestNewStateManager verifies that the StateManager is initialized correctly.
func TestNewStateManager(t *testing.T) {
	sm := NewStateManager("live-1", 1000, &mockStateRepository{}, zap.NewNop())
	require.NotNil(t, sm, "StateManager should not be nil")

	snapshot := sm.GetSnapshot(base)
	assert.Equal(t, 1000.0, snapshot.PortfolioValue)
	assert.Equal(t, 1000.0, snapshot.CashBalance)
	assert.Zero(t, snapshot.CumulativeReturn)

	assert.NotNil(t, sm.eventChannel, "eventChannel should be created")
	assert.NotNil(t, sm.persistenceChan, "persistenceChan should be created")
	assert.NotNil(t, sm.stopChan, "stopChan should be created")
}

func TestFillAndPriceEvents(t *testing.T) {
	repo := &mockStateRepository{}
	var mu sync.Mutex
	var snapshots []models.PortfolioSnapshot
	sm := NewStateManager("live-1", 1000, repo, zap.NewNop(), WithSnapshotSink(func(s models.PortfolioSnapshot) {
		mu.Lock()
		defer mu.Unlock()
		snapshots = append(snapshots, s)
	}))
	sm.Start()
	defer sm.Stop()

	sm.DispatchEvent(NormalizedEvent{Type: FillEvent, Timestamp: base,
		Data: models.Fill{InstrumentID: "BTC", Side: models.Buy, Quantity: 1, Price: 100}})
	sm.DispatchEvent(NormalizedEvent{Type: PriceEvent, Timestamp: base.Add(time.Minute),
		Data: map[string]float64{"BTC": 120}})
	syncNow(t, sm)

	p := sm.Portfolio()
	assert.InDelta(t, 900.0, p.CashBalance, 1e-9)
	assert.InDelta(t, 1020.0, p.TotalValue, 1e-9)

	snap := sm.GetSnapshot(base.Add(time.Hour))
	assert.InDelta(t, 0.02, snap.CumulativeReturn, 1e-12)
	assert.Equal(t, 120.0, snap.Holdings["BTC"].Price)

	mu.Lock()
	assert.Len(t, snapshots, 2)
	mu.Unlock()

	assert.Eventually(t, func() bool {
		s := repo.getSavedState()
		return s != nil && s.TickCount == 2
	}, time.Second, 10*time.Millisecond)
	saved := repo.getSavedState()
	assert.Equal(t, "live-1", saved.RunID)
	assert.True(t, saved.LastTickTime.Equal(base.Add(time.Minute)))
	require.Len(t, saved.Checkpoint.Positions, 1)
	assert.Equal(t, 1.0, saved.Checkpoint.Positions[0].Quantity)
}

func TestRejectedFillLeavesStateUntouched(t *testing.T) {
	repo := &mockStateRepository{}
	sm := NewStateManager("live-2", 100, repo, zap.NewNop())
	sm.Start()
	defer sm.Stop()

	sm.DispatchEvent(NormalizedEvent{Type: FillEvent, Timestamp: base,
		Data: models.Fill{InstrumentID: "BTC", Side: models.Sell, Quantity: 1, Price: 100}})
	sm.DispatchEvent(NormalizedEvent{Type: FillEvent, Timestamp: base,
		Data: models.Fill{InstrumentID: "BTC", Side: models.Buy, Quantity: 5, Price: 100}})
	sm.DispatchEvent(NormalizedEvent{Type: PriceEvent, Timestamp: base, Data: "not prices"})
	syncNow(t, sm)

	assert.Equal(t, 100.0, sm.Portfolio().CashBalance)
	assert.Empty(t, sm.Portfolio().Positions)
	assert.Zero(t, repo.saves(), "nothing changed, nothing persisted")
}

// TestStateResetEvent tests the handling of a ResetEvent.
func TestStateResetEvent(t *testing.T) {
	repo := &mockStateRepository{}
	sm := NewStateManager("live-3", 1000, repo, zap.NewNop())
	sm.Start()
	defer sm.Stop()

	sm.DispatchEvent(NormalizedEvent{Type: ResetEvent, Timestamp: base, Data: &models.RunState{
		RunID:          "live-3",
		InitialCapital: 800,
		Checkpoint: models.SerializablePortfolio{
			CashBalance: 500,
			Positions:   []models.SerializablePosition{{InstrumentID: "BTC", Quantity: 2, AveragePrice: 100}},
		},
		Drawdown:  models.DrawdownState{PeakValue: 900, MaxDrawdown: 0.2},
		TickCount: 42,
	}})
	syncNow(t, sm)

	p := sm.Portfolio()
	assert.InDelta(t, 700.0, p.TotalValue, 1e-9, "positions valued at average price until a price arrives")

	sm.DispatchEvent(NormalizedEvent{Type: PriceEvent, Timestamp: base.Add(time.Minute), Data: map[string]float64{"BTC": 150}})
	syncNow(t, sm)

	snap := sm.GetSnapshot(base.Add(time.Minute))
	assert.InDelta(t, 800.0, snap.PortfolioValue, 1e-9)
	assert.Zero(t, snap.CumulativeReturn)
	assert.InDelta(t, (900.0-800.0)/900.0, snap.Drawdown, 1e-12)

	assert.Eventually(t, func() bool {
		s := repo.getSavedState()
		return s != nil && s.TickCount == 43
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, 0.2, repo.getSavedState().Drawdown.MaxDrawdown)
}

// TestStopPersistsLatestState verifies that queued checkpoints are flushed on Stop.
func TestStopPersistsLatestState(t *testing.T) {
	repo := &mockStateRepository{}
	sm := NewStateManager("live-4", 1000, repo, zap.NewNop())
	sm.Start()

	for i := 0; i < 20; i++ {
		sm.DispatchEvent(NormalizedEvent{Type: PriceEvent, Timestamp: base.Add(time.Duration(i) * time.Second),
			Data: map[string]float64{"BTC": float64(100 + i)}})
	}
	syncNow(t, sm)
	sm.Stop()

	saved := repo.getSavedState()
	require.NotNil(t, saved)
	assert.Equal(t, 20, saved.TickCount)
	assert.True(t, saved.LastTickTime.Equal(base.Add(19*time.Second)))
}

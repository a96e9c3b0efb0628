package persistence

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"backtest-drift-monitor/internal/models"
)

// MemoryStore is an in-memory StateRepository and DriftStore. Records are
// copied on the way in and out so callers never share memory with the store.
type MemoryStore struct {
	mu          sync.RWMutex
	states      map[string]models.RunState
	deployments map[string]models.Deployment
	metrics     map[string]map[string]models.PerformanceMetric // deployment -> YYYYMMDD -> metric
	alerts      map[string]models.DriftAlert
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		states:      make(map[string]models.RunState),
		deployments: make(map[string]models.Deployment),
		metrics:     make(map[string]map[string]models.PerformanceMetric),
		alerts:      make(map[string]models.DriftAlert),
	}
}

func (m *MemoryStore) SaveState(state *models.RunState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := *state
	s.Checkpoint.Positions = append([]models.SerializablePosition(nil), state.Checkpoint.Positions...)
	m.states[state.RunID] = s
	return nil
}

func (m *MemoryStore) LoadState(runID string) (*models.RunState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.states[runID]
	if !ok {
		return nil, nil
	}
	s.Checkpoint.Positions = append([]models.SerializablePosition(nil), s.Checkpoint.Positions...)
	return &s, nil
}

func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) GetDeployment(_ context.Context, id string) (*models.Deployment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.deployments[id]
	if !ok {
		return nil, fmt.Errorf("deployment %s: %w", id, ErrNotFound)
	}
	return copyDeployment(d), nil
}

func (m *MemoryStore) SaveDeployment(_ context.Context, d *models.Deployment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deployments[d.ID] = *copyDeployment(*d)
	return nil
}

func (m *MemoryStore) ListDeployments(_ context.Context) ([]models.Deployment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Deployment, 0, len(m.deployments))
	for _, d := range m.deployments {
		out = append(out, *copyDeployment(d))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) SaveMetric(_ context.Context, metric models.PerformanceMetric) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byDay, ok := m.metrics[metric.DeploymentID]
	if !ok {
		byDay = make(map[string]models.PerformanceMetric)
		m.metrics[metric.DeploymentID] = byDay
	}
	byDay[metric.Date.UTC().Format("20060102")] = metric
	return nil
}

func (m *MemoryStore) LatestMetric(ctx context.Context, deploymentID string) (*models.PerformanceMetric, error) {
	metrics, _ := m.ListMetrics(ctx, deploymentID)
	if len(metrics) == 0 {
		return nil, fmt.Errorf("metrics for %s: %w", deploymentID, ErrNotFound)
	}
	latest := metrics[len(metrics)-1]
	return &latest, nil
}

func (m *MemoryStore) ListMetrics(_ context.Context, deploymentID string) ([]models.PerformanceMetric, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	byDay := m.metrics[deploymentID]
	out := make([]models.PerformanceMetric, 0, len(byDay))
	for _, metric := range byDay {
		out = append(out, metric)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func (m *MemoryStore) SaveAlert(_ context.Context, a *models.DriftAlert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts[a.ID] = *a
	return nil
}

func (m *MemoryStore) GetAlert(_ context.Context, id string) (*models.DriftAlert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.alerts[id]
	if !ok {
		return nil, fmt.Errorf("alert %s: %w", id, ErrNotFound)
	}
	return &a, nil
}

func (m *MemoryStore) ListAlerts(_ context.Context, deploymentID string) ([]models.DriftAlert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.DriftAlert
	for _, a := range m.alerts {
		if a.DeploymentID == deploymentID {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// copyDeployment deep-copies the pointer fields so stored records stay isolated.
func copyDeployment(d models.Deployment) *models.Deployment {
	if d.LastDriftDetectedAt != nil {
		t := *d.LastDriftDetectedAt
		d.LastDriftDetectedAt = &t
	}
	if d.DriftMetrics != nil {
		dm := *d.DriftMetrics
		dm.LatestAlerts = append([]models.AlertDigest(nil), d.DriftMetrics.LatestAlerts...)
		d.DriftMetrics = &dm
	}
	if d.SharpeRatio != nil {
		v := *d.SharpeRatio
		d.SharpeRatio = &v
	}
	return &d
}

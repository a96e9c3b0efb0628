package persistence

import (
	"context"
	"errors"

	"backtest-drift-monitor/internal/models"
)

// ErrNotFound is returned when a keyed record does not exist.
var ErrNotFound = errors.New("record not found")

// StateRepository defines the interface for checkpoint persistence.
// It abstracts the underlying storage mechanism (e.g., BadgerDB, in-memory)
// from the backtest driver and the live state manager.
type StateRepository interface {
	// SaveState atomically saves the checkpoint of one run.
	SaveState(state *models.RunState) error

	// LoadState loads the checkpoint of a run.
	// If no state is found, it should return (nil, nil).
	LoadState(runID string) (*models.RunState, error)

	// Close gracefully closes the connection to the database.
	Close() error
}

// DeploymentRepository reads and updates deployment records.
type DeploymentRepository interface {
	GetDeployment(ctx context.Context, id string) (*models.Deployment, error)
	SaveDeployment(ctx context.Context, d *models.Deployment) error
	ListDeployments(ctx context.Context) ([]models.Deployment, error)
}

// MetricRepository stores the daily live performance series.
type MetricRepository interface {
	SaveMetric(ctx context.Context, m models.PerformanceMetric) error
	// LatestMetric returns ErrNotFound when the deployment has no metrics yet.
	LatestMetric(ctx context.Context, deploymentID string) (*models.PerformanceMetric, error)
	// ListMetrics returns metrics ordered by date ascending.
	ListMetrics(ctx context.Context, deploymentID string) ([]models.PerformanceMetric, error)
}

// AlertRepository stores drift alerts.
type AlertRepository interface {
	SaveAlert(ctx context.Context, a *models.DriftAlert) error
	GetAlert(ctx context.Context, id string) (*models.DriftAlert, error)
	// ListAlerts returns every alert of a deployment, newest first.
	ListAlerts(ctx context.Context, deploymentID string) ([]models.DriftAlert, error)
}

// DriftStore groups the repositories the drift engine depends on.
type DriftStore interface {
	DeploymentRepository
	MetricRepository
	AlertRepository
}

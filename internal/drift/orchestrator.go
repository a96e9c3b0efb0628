package drift

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"backtest-drift-monitor/internal/audit"
	"backtest-drift-monitor/internal/metrics"
	"backtest-drift-monitor/internal/models"
	"backtest-drift-monitor/internal/persistence"

	"github.com/google/uuid"
	"github.com/jxskiss/base62"
	"go.uber.org/zap"
)

// ErrAlertNotFound is returned when resolving an alert id that does not exist.
var ErrAlertNotFound = fmt.Errorf("drift alert: %w", persistence.ErrNotFound)

// Summary aggregates the alerts of one deployment.
type Summary struct {
	DeploymentID string                   `json:"deployment_id"`
	TotalAlerts  int                      `json:"total_alerts"`
	ActiveAlerts int                      `json:"active_alerts"`
	BySeverity   map[models.Severity]int  `json:"by_severity"`
	ByType       map[models.DriftType]int `json:"by_type"`
	OldestActive *time.Time               `json:"oldest_active,omitempty"`
	NewestActive *time.Time               `json:"newest_active,omitempty"`
}

// Orchestrator runs the detector set for deployments and records the outcome.
type Orchestrator struct {
	store     persistence.DriftStore
	detectors []Detector
	logger    *zap.Logger
	metrics   *metrics.DriftMetrics
	emitter   audit.Emitter
	now       func() time.Time
	newID     func() string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Option customises an Orchestrator.
type Option func(*Orchestrator)

func WithDetectors(d ...Detector) Option {
	return func(o *Orchestrator) { o.detectors = d }
}

func WithMetrics(m *metrics.DriftMetrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

func WithEmitter(e audit.Emitter) Option {
	return func(o *Orchestrator) { o.emitter = e }
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

func WithIDGenerator(f func() string) Option {
	return func(o *Orchestrator) { o.newID = f }
}

// NewOrchestrator creates an orchestrator using the default detectors.
func NewOrchestrator(store persistence.DriftStore, logger *zap.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:     store,
		detectors: DefaultDetectors(),
		logger:    logger.Named("drift"),
		emitter:   audit.NopEmitter{},
		now:       time.Now,
		newID:     NewID,
		locks:     make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// NewID returns a compact random identifier.
func NewID() string {
	u := uuid.New()
	return base62.EncodeToString(u[:])
}

func (o *Orchestrator) lockFor(deploymentID string) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()
	l, ok := o.locks[deploymentID]
	if !ok {
		l = &sync.Mutex{}
		o.locks[deploymentID] = l
	}
	return l
}

// DetectDrift runs every detector against the latest metric of a deployment
// and returns the alerts it persisted. A missing or inactive deployment, or
// one without metrics, yields an empty result.
func (o *Orchestrator) DetectDrift(ctx context.Context, deploymentID string) ([]models.DriftAlert, error) {
	l := o.lockFor(deploymentID)
	l.Lock()
	defer l.Unlock()

	start := time.Now()
	defer func() {
		if o.metrics != nil {
			o.metrics.ObserveDetection(time.Since(start))
		}
	}()

	log := o.logger.With(zap.String("deployment_id", deploymentID))

	dep, err := o.store.GetDeployment(ctx, deploymentID)
	if errors.Is(err, persistence.ErrNotFound) {
		log.Warn("Deployment not found, skipping drift detection")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load deployment %s: %w", deploymentID, err)
	}
	if !dep.IsActive() {
		log.Debug("Deployment is not active, skipping drift detection", zap.String("status", string(dep.Status)))
		return nil, nil
	}

	metric, err := o.store.LatestMetric(ctx, deploymentID)
	if errors.Is(err, persistence.ErrNotFound) {
		log.Info("No performance metrics yet, skipping drift detection")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load latest metric for %s: %w", deploymentID, err)
	}

	now := o.now()
	var alerts []models.DriftAlert
	for _, d := range o.detectors {
		alert, err := o.runDetector(d, *dep, *metric)
		if err != nil {
			log.Error("Drift detector failed", zap.String("drift_type", string(d.Type())), zap.Error(err))
			if o.metrics != nil {
				o.metrics.RecordDetectorFailure(d.Type())
			}
			continue
		}
		if alert == nil {
			continue
		}

		alert.ID = o.newID()
		alert.DeploymentID = dep.ID
		alert.CreatedAt = now
		if err := o.store.SaveAlert(ctx, alert); err != nil {
			log.Error("Failed to persist drift alert", zap.String("drift_type", string(alert.DriftType)), zap.Error(err))
			continue
		}
		if o.metrics != nil {
			o.metrics.RecordAlert(alert.DriftType, alert.Severity)
		}
		log.Warn("Drift detected",
			zap.String("drift_type", string(alert.DriftType)),
			zap.String("severity", string(alert.Severity)),
			zap.Float64("deviation_percent", alert.DeviationPercent),
		)
		alerts = append(alerts, *alert)
	}

	if len(alerts) == 0 {
		return nil, nil
	}

	before := dep.DriftAlertCount
	dep.DriftAlertCount += len(alerts)
	dep.LastDriftDetectedAt = &now
	dep.DriftMetrics = summarize(alerts)
	if err := o.store.SaveDeployment(ctx, dep); err != nil {
		return alerts, fmt.Errorf("update drift state of %s: %w", deploymentID, err)
	}
	if o.metrics != nil {
		o.metrics.SetDeploymentAlertCount(dep.ID, dep.DriftAlertCount)
	}

	event := audit.Event{
		ID:               o.newID(),
		Type:             audit.EventDriftDetected,
		DeploymentID:     dep.ID,
		Timestamp:        now,
		BeforeAlertCount: before,
		AfterAlertCount:  dep.DriftAlertCount,
	}
	for _, a := range alerts {
		event.DriftTypes = append(event.DriftTypes, a.DriftType)
		event.Severities = append(event.Severities, a.Severity)
	}
	if err := o.emitter.Emit(ctx, event); err != nil {
		log.Error("Failed to emit audit event", zap.Error(err))
	}

	return alerts, nil
}

// runDetector isolates a single detector so a panic only loses its own result.
func (o *Orchestrator) runDetector(d Detector, dep models.Deployment, m models.PerformanceMetric) (alert *models.DriftAlert, err error) {
	defer func() {
		if r := recover(); r != nil {
			alert = nil
			err = fmt.Errorf("detector panicked: %v", r)
		}
	}()
	return d.Detect(dep, m)
}

func summarize(alerts []models.DriftAlert) *models.DriftMetrics {
	s := &models.DriftMetrics{
		TotalAlerts:  len(alerts),
		LatestAlerts: make([]models.AlertDigest, 0, len(alerts)),
	}
	for _, a := range alerts {
		if a.Severity == models.SeverityCritical {
			s.CriticalAlerts++
		}
		s.LatestAlerts = append(s.LatestAlerts, models.AlertDigest{
			DriftType:        a.DriftType,
			Severity:         a.Severity,
			DeviationPercent: a.DeviationPercent,
		})
	}
	return s
}

// DetectAll runs DetectDrift for every active deployment in turn. Failures of
// one deployment are logged and do not stop the pass.
func (o *Orchestrator) DetectAll(ctx context.Context) (map[string][]models.DriftAlert, error) {
	deployments, err := o.store.ListDeployments(ctx)
	if err != nil {
		return nil, fmt.Errorf("list deployments: %w", err)
	}

	results := make(map[string][]models.DriftAlert)
	var errs []error
	for _, dep := range deployments {
		if !dep.IsActive() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return results, err
		}
		alerts, err := o.DetectDrift(ctx, dep.ID)
		if err != nil {
			o.logger.Error("Drift detection failed", zap.String("deployment_id", dep.ID), zap.Error(err))
			errs = append(errs, err)
		}
		if len(alerts) > 0 {
			results[dep.ID] = alerts
		}
	}
	return results, errors.Join(errs...)
}

// GetAllAlerts returns every alert of a deployment, newest first.
func (o *Orchestrator) GetAllAlerts(ctx context.Context, deploymentID string) ([]models.DriftAlert, error) {
	return o.store.ListAlerts(ctx, deploymentID)
}

// GetActiveAlerts returns the unresolved alerts of a deployment, newest first.
func (o *Orchestrator) GetActiveAlerts(ctx context.Context, deploymentID string) ([]models.DriftAlert, error) {
	all, err := o.store.ListAlerts(ctx, deploymentID)
	if err != nil {
		return nil, err
	}
	active := make([]models.DriftAlert, 0, len(all))
	for _, a := range all {
		if !a.Resolved {
			active = append(active, a)
		}
	}
	return active, nil
}

// ResolveAlert marks an alert resolved. Resolving an already resolved alert
// overwrites the resolution and re-stamps ResolvedAt.
func (o *Orchestrator) ResolveAlert(ctx context.Context, alertID string, resolution models.ResolutionType, notes string) (*models.DriftAlert, error) {
	alert, err := o.store.GetAlert(ctx, alertID)
	if errors.Is(err, persistence.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrAlertNotFound, alertID)
	}
	if err != nil {
		return nil, fmt.Errorf("load alert %s: %w", alertID, err)
	}

	if resolution == "" {
		resolution = models.ResolutionManual
	}
	now := o.now()
	alert.Resolved = true
	alert.ResolvedAt = &now
	alert.ResolutionType = resolution
	alert.ResolutionNotes = notes

	if err := o.store.SaveAlert(ctx, alert); err != nil {
		return nil, fmt.Errorf("save resolved alert %s: %w", alertID, err)
	}
	o.logger.Info("Drift alert resolved",
		zap.String("alert_id", alertID),
		zap.String("deployment_id", alert.DeploymentID),
		zap.String("resolution", string(resolution)),
	)
	return alert, nil
}

// GetDriftSummary counts the alerts of a deployment. Severity and type
// histograms and the timestamps cover active alerts only.
func (o *Orchestrator) GetDriftSummary(ctx context.Context, deploymentID string) (*Summary, error) {
	all, err := o.store.ListAlerts(ctx, deploymentID)
	if err != nil {
		return nil, err
	}

	s := &Summary{
		DeploymentID: deploymentID,
		TotalAlerts:  len(all),
		BySeverity: map[models.Severity]int{
			models.SeverityCritical: 0,
			models.SeverityHigh:     0,
			models.SeverityMedium:   0,
			models.SeverityLow:      0,
		},
		ByType: make(map[models.DriftType]int),
	}
	for i := range all {
		a := all[i]
		if a.Resolved {
			continue
		}
		s.ActiveAlerts++
		s.BySeverity[a.Severity]++
		s.ByType[a.DriftType]++

		created := a.CreatedAt
		if s.OldestActive == nil || created.Before(*s.OldestActive) {
			s.OldestActive = &created
		}
		if s.NewestActive == nil || created.After(*s.NewestActive) {
			t := created
			s.NewestActive = &t
		}
	}
	return s, nil
}

package drift

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"backtest-drift-monitor/internal/audit"
	"backtest-drift-monitor/internal/metrics"
	"backtest-drift-monitor/internal/models"
	"backtest-drift-monitor/internal/persistence"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// recordingEmitter captures audit events for assertions.
type recordingEmitter struct {
	sync.Mutex
	events []audit.Event
	err    error
}

func (r *recordingEmitter) Emit(_ context.Context, e audit.Event) error {
	r.Lock()
	defer r.Unlock()
	r.events = append(r.events, e)
	return r.err
}

type panickingDetector struct{}

func (panickingDetector) Type() models.DriftType { return models.DriftVolatility }
func (panickingDetector) Detect(models.Deployment, models.PerformanceMetric) (*models.DriftAlert, error) {
	panic("boom")
}

type failingDetector struct{}

func (failingDetector) Type() models.DriftType { return models.DriftWinRate }
func (failingDetector) Detect(models.Deployment, models.PerformanceMetric) (*models.DriftAlert, error) {
	return nil, errors.New("bad input")
}

var fixedNow = time.Date(2024, 7, 1, 9, 0, 0, 0, time.UTC)

func newTestOrchestrator(t *testing.T, store persistence.DriftStore, opts ...Option) (*Orchestrator, *recordingEmitter) {
	t.Helper()
	em := &recordingEmitter{}
	seq := 0
	base := []Option{
		WithEmitter(em),
		WithClock(func() time.Time { return fixedNow }),
		WithIDGenerator(func() string {
			seq++
			return fmt.Sprintf("id-%03d", seq)
		}),
	}
	return NewOrchestrator(store, zap.NewNop(), append(base, opts...)...), em
}

// seedDegraded stores an active deployment whose latest metric trips the
// Sharpe (critical) and return (critical, negative) detectors only.
func seedDegraded(t *testing.T, store persistence.DriftStore, id string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.SaveDeployment(ctx, &models.Deployment{
		ID:              id,
		Status:          models.DeploymentActive,
		DriftAlertCount: 3,
		DriftMetrics:    &models.DriftMetrics{TotalAlerts: 9, CriticalAlerts: 9},
		Baseline: models.BacktestBaseline{
			Sharpe:      models.Float(2.0),
			Return:      models.Float(0.2),
			MaxDrawdown: models.Float(0.2),
			WinRate:     models.Float(0.6),
			Volatility:  models.Float(0.3),
		},
	}))
	require.NoError(t, store.SaveMetric(ctx, models.PerformanceMetric{
		DeploymentID:     id,
		Date:             fixedNow.AddDate(0, 0, -1),
		SharpeRatio:      0.5,
		CumulativeReturn: -0.05,
		Drawdown:         -0.1,
		WinRate:          0.58,
		Volatility:       0.3,
		TotalTrades:      20,
	}))
}

func TestDetectDrift_ProducesAlertsAndOverwritesMetrics(t *testing.T) {
	ctx := context.Background()
	store := persistence.NewMemoryStore()
	seedDegraded(t, store, "dep-1")
	m := metrics.NewDriftMetrics()
	o, em := newTestOrchestrator(t, store, WithMetrics(m))

	alerts, err := o.DetectDrift(ctx, "dep-1")
	require.NoError(t, err)
	require.Len(t, alerts, 2)
	assert.Equal(t, models.DriftSharpe, alerts[0].DriftType)
	assert.Equal(t, models.DriftReturn, alerts[1].DriftType)
	for _, a := range alerts {
		assert.Equal(t, models.SeverityCritical, a.Severity)
		assert.Equal(t, "dep-1", a.DeploymentID)
		assert.True(t, a.CreatedAt.Equal(fixedNow))
		assert.NotEmpty(t, a.ID)
	}

	stored, err := store.ListAlerts(ctx, "dep-1")
	require.NoError(t, err)
	assert.Len(t, stored, 2)

	dep, err := store.GetDeployment(ctx, "dep-1")
	require.NoError(t, err)
	assert.Equal(t, 5, dep.DriftAlertCount)
	require.NotNil(t, dep.LastDriftDetectedAt)
	assert.True(t, dep.LastDriftDetectedAt.Equal(fixedNow))
	require.NotNil(t, dep.DriftMetrics)
	assert.Equal(t, 2, dep.DriftMetrics.TotalAlerts, "drift metrics are replaced, not merged")
	assert.Equal(t, 2, dep.DriftMetrics.CriticalAlerts)
	assert.Len(t, dep.DriftMetrics.LatestAlerts, 2)

	require.Len(t, em.events, 1)
	ev := em.events[0]
	assert.Equal(t, audit.EventDriftDetected, ev.Type)
	assert.Equal(t, 3, ev.BeforeAlertCount)
	assert.Equal(t, 5, ev.AfterAlertCount)
	assert.ElementsMatch(t, []models.DriftType{models.DriftSharpe, models.DriftReturn}, ev.DriftTypes)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.AlertsTotal.WithLabelValues("sharpe_ratio", "critical")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AlertsTotal.WithLabelValues("cumulative_return", "critical")))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.ActiveAlerts.WithLabelValues("dep-1")))
}

func TestDetectDrift_EmptyResults(t *testing.T) {
	ctx := context.Background()
	store := persistence.NewMemoryStore()
	require.NoError(t, store.SaveDeployment(ctx, &models.Deployment{ID: "paused", Status: models.DeploymentPaused}))
	require.NoError(t, store.SaveDeployment(ctx, &models.Deployment{ID: "fresh", Status: models.DeploymentActive}))
	require.NoError(t, store.SaveDeployment(ctx, &models.Deployment{ID: "healthy", Status: models.DeploymentActive}))
	require.NoError(t, store.SaveMetric(ctx, models.PerformanceMetric{
		DeploymentID:     "healthy",
		Date:             fixedNow,
		CumulativeReturn: 0.12,
		WinRate:          0.6,
		TotalTrades:      5,
		Volatility:       0.2,
	}))
	require.NoError(t, store.SaveMetric(ctx, models.PerformanceMetric{DeploymentID: "paused", Date: fixedNow, CumulativeReturn: -1}))

	o, em := newTestOrchestrator(t, store)
	for _, id := range []string{"missing", "paused", "fresh", "healthy"} {
		alerts, err := o.DetectDrift(ctx, id)
		assert.NoError(t, err, id)
		assert.Empty(t, alerts, id)
	}
	assert.Empty(t, em.events)

	dep, err := store.GetDeployment(ctx, "healthy")
	require.NoError(t, err)
	assert.Nil(t, dep.LastDriftDetectedAt)
	assert.Zero(t, dep.DriftAlertCount)
}

func TestDetectDrift_IsolatesDetectorFailures(t *testing.T) {
	ctx := context.Background()
	store := persistence.NewMemoryStore()
	seedDegraded(t, store, "dep-1")
	m := metrics.NewDriftMetrics()

	o, _ := newTestOrchestrator(t, store,
		WithMetrics(m),
		WithDetectors(panickingDetector{}, failingDetector{}, SharpeDetector{}, ReturnDetector{}),
	)

	alerts, err := o.DetectDrift(ctx, "dep-1")
	require.NoError(t, err)
	assert.Len(t, alerts, 2, "healthy detectors still run after a panic and an error")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DetectorFailures.WithLabelValues("volatility")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DetectorFailures.WithLabelValues("win_rate")))
}

func TestDetectDrift_AuditFailureIsNotFatal(t *testing.T) {
	store := persistence.NewMemoryStore()
	seedDegraded(t, store, "dep-1")
	o, em := newTestOrchestrator(t, store)
	em.err = errors.New("nats down")

	alerts, err := o.DetectDrift(context.Background(), "dep-1")
	require.NoError(t, err)
	assert.Len(t, alerts, 2)
}

func TestDetectDrift_SerializedPerDeployment(t *testing.T) {
	ctx := context.Background()
	store := persistence.NewMemoryStore()
	seedDegraded(t, store, "dep-1")
	o, _ := newTestOrchestrator(t, store, WithIDGenerator(NewID))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := o.DetectDrift(ctx, "dep-1")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	dep, err := store.GetDeployment(ctx, "dep-1")
	require.NoError(t, err)
	assert.Equal(t, 3+8*2, dep.DriftAlertCount, "no increments lost")

	all, err := store.ListAlerts(ctx, "dep-1")
	require.NoError(t, err)
	assert.Len(t, all, 16)
}

func TestDetectAll(t *testing.T) {
	ctx := context.Background()
	store := persistence.NewMemoryStore()
	seedDegraded(t, store, "dep-1")
	seedDegraded(t, store, "dep-2")
	require.NoError(t, store.SaveDeployment(ctx, &models.Deployment{ID: "dep-3", Status: models.DeploymentArchived}))

	o, em := newTestOrchestrator(t, store)
	results, err := o.DetectAll(ctx)
	require.NoError(t, err)
	assert.Len(t, results, 2)
	assert.Len(t, results["dep-1"], 2)
	assert.Len(t, em.events, 2)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = o.DetectAll(cancelled)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAlertsListingAndResolve(t *testing.T) {
	ctx := context.Background()
	store := persistence.NewMemoryStore()
	seedDegraded(t, store, "dep-1")

	now := fixedNow
	seq := 0
	o := NewOrchestrator(store, zap.NewNop(),
		WithClock(func() time.Time { return now }),
		WithIDGenerator(func() string { seq++; return fmt.Sprintf("a%d", seq) }),
	)

	_, err := o.DetectDrift(ctx, "dep-1")
	require.NoError(t, err)
	now = now.Add(time.Hour)
	_, err = o.DetectDrift(ctx, "dep-1")
	require.NoError(t, err)

	all, err := o.GetAllAlerts(ctx, "dep-1")
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.True(t, all[0].CreatedAt.After(all[3].CreatedAt), "newest first")

	resolved, err := o.ResolveAlert(ctx, all[0].ID, models.ResolutionFalsePositive, "data glitch")
	require.NoError(t, err)
	assert.True(t, resolved.Resolved)
	assert.Equal(t, models.ResolutionFalsePositive, resolved.ResolutionType)
	assert.Equal(t, "data glitch", resolved.ResolutionNotes)
	firstStamp := *resolved.ResolvedAt

	now = now.Add(time.Hour)
	again, err := o.ResolveAlert(ctx, all[0].ID, "", "")
	require.NoError(t, err)
	assert.True(t, again.ResolvedAt.After(firstStamp), "second resolve re-stamps")
	assert.Equal(t, models.ResolutionManual, again.ResolutionType)

	active, err := o.GetActiveAlerts(ctx, "dep-1")
	require.NoError(t, err)
	assert.Len(t, active, 3)
	for _, a := range active {
		assert.False(t, a.Resolved)
	}

	_, err = o.ResolveAlert(ctx, "nope", models.ResolutionManual, "")
	assert.ErrorIs(t, err, ErrAlertNotFound)
	assert.ErrorIs(t, err, persistence.ErrNotFound)
}

func TestGetDriftSummary(t *testing.T) {
	ctx := context.Background()
	store := persistence.NewMemoryStore()
	t0 := fixedNow
	alerts := []models.DriftAlert{
		{ID: "1", DeploymentID: "dep-1", DriftType: models.DriftSharpe, Severity: models.SeverityCritical, CreatedAt: t0},
		{ID: "2", DeploymentID: "dep-1", DriftType: models.DriftSharpe, Severity: models.SeverityHigh, CreatedAt: t0.Add(time.Hour)},
		{ID: "3", DeploymentID: "dep-1", DriftType: models.DriftVolatility, Severity: models.SeverityMedium, CreatedAt: t0.Add(2 * time.Hour)},
		{ID: "4", DeploymentID: "dep-1", DriftType: models.DriftWinRate, Severity: models.SeverityCritical, CreatedAt: t0.Add(-time.Hour), Resolved: true},
	}
	for i := range alerts {
		require.NoError(t, store.SaveAlert(ctx, &alerts[i]))
	}

	o, _ := newTestOrchestrator(t, store)
	s, err := o.GetDriftSummary(ctx, "dep-1")
	require.NoError(t, err)

	assert.Equal(t, 4, s.TotalAlerts)
	assert.Equal(t, 3, s.ActiveAlerts)
	assert.Equal(t, 1, s.BySeverity[models.SeverityCritical])
	assert.Equal(t, 1, s.BySeverity[models.SeverityHigh])
	assert.Equal(t, 1, s.BySeverity[models.SeverityMedium])
	assert.Equal(t, 0, s.BySeverity[models.SeverityLow])
	assert.Equal(t, 2, s.ByType[models.DriftSharpe])
	assert.Zero(t, s.ByType[models.DriftWinRate])
	require.NotNil(t, s.OldestActive)
	require.NotNil(t, s.NewestActive)
	assert.True(t, s.OldestActive.Equal(t0))
	assert.True(t, s.NewestActive.Equal(t0.Add(2*time.Hour)))

	empty, err := o.GetDriftSummary(ctx, "none")
	require.NoError(t, err)
	assert.Zero(t, empty.TotalAlerts)
	assert.Nil(t, empty.OldestActive)
}

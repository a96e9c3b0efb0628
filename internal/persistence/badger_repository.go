package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"backtest-drift-monitor/internal/models"

	"github.com/dgraph-io/badger/v3"
)

// Key prefixes. Metric keys end in a YYYYMMDD date and alert index keys in a
// zero-padded nanosecond timestamp, so prefix iteration is chronological.
const (
	statePrefix      = "state/"
	deploymentPrefix = "deployment/"
	metricPrefix     = "metric/"
	alertPrefix      = "alert/"
	alertIndexPrefix = "alertidx/"
)

// BadgerStore is the BadgerDB implementation of StateRepository and DriftStore.
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerRepository opens (or creates) a BadgerDB database at dbPath.
func NewBadgerRepository(dbPath string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dbPath)
	// Badger's own logging is disabled to keep the application logs clean.
	// Errors are still returned from DB operations.
	opts.Logger = nil
	return openBadger(opts)
}

// NewInMemoryBadgerRepository opens a BadgerDB that lives only in memory.
func NewInMemoryBadgerRepository() (*BadgerStore, error) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil
	return openBadger(opts)
}

func openBadger(opts badger.Options) (*BadgerStore, error) {
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

// SaveState atomically saves the checkpoint under the run's key.
func (r *BadgerStore) SaveState(state *models.RunState) error {
	if state == nil || state.RunID == "" {
		return errors.New("run state requires a run id")
	}
	return r.put(statePrefix+state.RunID, state)
}

// LoadState loads a run checkpoint.
// If the state key is not found, it returns (nil, nil) to indicate no state is present.
func (r *BadgerStore) LoadState(runID string) (*models.RunState, error) {
	var state models.RunState
	err := r.get(statePrefix+runID, &state)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &state, nil
}

func (r *BadgerStore) GetDeployment(_ context.Context, id string) (*models.Deployment, error) {
	var d models.Deployment
	if err := r.get(deploymentPrefix+id, &d); err != nil {
		return nil, fmt.Errorf("deployment %s: %w", id, err)
	}
	return &d, nil
}

func (r *BadgerStore) SaveDeployment(_ context.Context, d *models.Deployment) error {
	if d == nil || d.ID == "" {
		return errors.New("deployment requires an id")
	}
	return r.put(deploymentPrefix+d.ID, d)
}

func (r *BadgerStore) ListDeployments(_ context.Context) ([]models.Deployment, error) {
	var out []models.Deployment
	err := r.scan(deploymentPrefix, func(val []byte) error {
		var d models.Deployment
		if err := json.Unmarshal(val, &d); err != nil {
			return err
		}
		out = append(out, d)
		return nil
	})
	return out, err
}

// SaveMetric upserts the metric of one deployment-day.
func (r *BadgerStore) SaveMetric(_ context.Context, m models.PerformanceMetric) error {
	if m.DeploymentID == "" {
		return errors.New("metric requires a deployment id")
	}
	return r.put(metricKey(m), m)
}

func (r *BadgerStore) LatestMetric(ctx context.Context, deploymentID string) (*models.PerformanceMetric, error) {
	metrics, err := r.ListMetrics(ctx, deploymentID)
	if err != nil {
		return nil, err
	}
	if len(metrics) == 0 {
		return nil, fmt.Errorf("metrics for %s: %w", deploymentID, ErrNotFound)
	}
	latest := metrics[len(metrics)-1]
	return &latest, nil
}

func (r *BadgerStore) ListMetrics(_ context.Context, deploymentID string) ([]models.PerformanceMetric, error) {
	var out []models.PerformanceMetric
	err := r.scan(metricPrefix+deploymentID+"/", func(val []byte) error {
		var m models.PerformanceMetric
		if err := json.Unmarshal(val, &m); err != nil {
			return err
		}
		out = append(out, m)
		return nil
	})
	return out, err
}

// SaveAlert writes the alert and its per-deployment index entry in one transaction.
func (r *BadgerStore) SaveAlert(_ context.Context, a *models.DriftAlert) error {
	if a == nil || a.ID == "" {
		return errors.New("alert requires an id")
	}
	data, err := json.Marshal(a)
	if err != nil {
		return err
	}
	return r.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(alertPrefix+a.ID), data); err != nil {
			return err
		}
		return txn.Set([]byte(alertIndexKey(a)), nil)
	})
}

func (r *BadgerStore) GetAlert(_ context.Context, id string) (*models.DriftAlert, error) {
	var a models.DriftAlert
	if err := r.get(alertPrefix+id, &a); err != nil {
		return nil, fmt.Errorf("alert %s: %w", id, err)
	}
	return &a, nil
}

func (r *BadgerStore) ListAlerts(_ context.Context, deploymentID string) ([]models.DriftAlert, error) {
	var out []models.DriftAlert
	err := r.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(alertIndexPrefix + deploymentID + "/")
		var ids []string
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := string(it.Item().Key())
			ids = append(ids, key[len(key)-alertIDLen(key):])
		}

		// index order is oldest first
		for i := len(ids) - 1; i >= 0; i-- {
			item, err := txn.Get([]byte(alertPrefix + ids[i]))
			if err != nil {
				return err
			}
			var a models.DriftAlert
			if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &a) }); err != nil {
				return err
			}
			out = append(out, a)
		}
		return nil
	})
	return out, err
}

// Close gracefully closes the connection to the database.
func (r *BadgerStore) Close() error {
	return r.db.Close()
}

func (r *BadgerStore) put(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), data)
	})
}

func (r *BadgerStore) get(key string, v any) error {
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if len(val) == 0 {
				return errors.New("value is empty in database")
			}
			return json.Unmarshal(val, v)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	}
	return err
}

func (r *BadgerStore) scan(prefix string, fn func(val []byte) error) error {
	return r.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		p := []byte(prefix)
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			if err := it.Item().Value(fn); err != nil {
				return err
			}
		}
		return nil
	})
}

func metricKey(m models.PerformanceMetric) string {
	return metricPrefix + m.DeploymentID + "/" + m.Date.UTC().Format("20060102")
}

func alertIndexKey(a *models.DriftAlert) string {
	return fmt.Sprintf("%s%s/%020d/%s", alertIndexPrefix, a.DeploymentID, a.CreatedAt.UnixNano(), a.ID)
}

// alertIDLen returns the length of the id segment after the last '/'.
func alertIDLen(key string) int {
	for i := len(key) - 1; i >= 0; i-- {
		if key[i] == '/' {
			return len(key) - i - 1
		}
	}
	return len(key)
}

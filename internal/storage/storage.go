package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"backtest-drift-monitor/internal/backtest"
	"backtest-drift-monitor/internal/models"

	_ "github.com/mattn/go-sqlite3" // Import the sqlite3 driver
)

// Journal is the SQLite record of backtest runs: one row per snapshot, fill
// and strategy signal. It implements backtest.Recorder.
type Journal struct {
	db *sql.DB
}

var _ backtest.Recorder = (*Journal)(nil)

// RunSummary is the aggregated view of one journaled run.
type RunSummary struct {
	RunID         string
	Snapshots     int
	FillsApplied  int
	FillsRejected int
	Signals       int
	FirstTick     time.Time
	LastTick      time.Time
	FinalValue    float64
}

// InitDB initializes the database connection and creates necessary tables.
func InitDB(dataSourceName string) (*Journal, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err = db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err = createTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return &Journal{db: db}, nil
}

// createTables creates the necessary database tables if they don't exist.
func createTables(db *sql.DB) error {
	// Snapshots are keyed by run and tick time; replaying a resumed run
	// overwrites instead of duplicating.
	createSnapshotsTableSQL := `
	CREATE TABLE IF NOT EXISTS snapshots (
		run_id TEXT NOT NULL,
		ts INTEGER NOT NULL,
		portfolio_value REAL NOT NULL,
		cash_balance REAL NOT NULL,
		cumulative_return REAL NOT NULL,
		drawdown REAL NOT NULL,
		holdings TEXT NOT NULL,
		PRIMARY KEY (run_id, ts)
	);`
	if _, err := db.Exec(createSnapshotsTableSQL); err != nil {
		return err
	}

	createFillsTableSQL := `
	CREATE TABLE IF NOT EXISTS fills (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		ts INTEGER NOT NULL,
		instrument_id TEXT NOT NULL,
		side TEXT NOT NULL,
		quantity REAL NOT NULL,
		price REAL NOT NULL,
		fee REAL NOT NULL,
		status TEXT NOT NULL,
		reason TEXT
	);`
	if _, err := db.Exec(createFillsTableSQL); err != nil {
		return err
	}

	createSignalsTableSQL := `
	CREATE TABLE IF NOT EXISTS signals (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		ts INTEGER NOT NULL,
		instrument_id TEXT NOT NULL,
		side TEXT NOT NULL,
		quantity REAL NOT NULL,
		reason TEXT
	);`
	if _, err := db.Exec(createSignalsTableSQL); err != nil {
		return err
	}

	_, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_fills_run ON fills (run_id, ts);`)
	return err
}

// RecordSnapshot creates or replaces the snapshot row of a tick.
func (j *Journal) RecordSnapshot(runID string, s models.PortfolioSnapshot) error {
	holdings, err := json.Marshal(s.Holdings)
	if err != nil {
		return fmt.Errorf("failed to marshal holdings: %w", err)
	}

	query := `
	INSERT INTO snapshots (run_id, ts, portfolio_value, cash_balance, cumulative_return, drawdown, holdings)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(run_id, ts) DO UPDATE SET
		portfolio_value = excluded.portfolio_value,
		cash_balance = excluded.cash_balance,
		cumulative_return = excluded.cumulative_return,
		drawdown = excluded.drawdown,
		holdings = excluded.holdings;`

	_, err = j.db.Exec(query,
		runID, s.Timestamp.UnixMilli(), s.PortfolioValue, s.CashBalance, s.CumulativeReturn, s.Drawdown, string(holdings),
	)
	if err != nil {
		return fmt.Errorf("failed to save snapshot for run %s: %w", runID, err)
	}
	return nil
}

// RecordFill inserts a fill with its outcome.
func (j *Journal) RecordFill(runID string, f models.Fill, status, reason string) error {
	query := `
	INSERT INTO fills (run_id, ts, instrument_id, side, quantity, price, fee, status, reason)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := j.db.Exec(query,
		runID, f.Timestamp.UnixMilli(), f.InstrumentID, string(f.Side), f.Quantity, f.Price, f.Fee, status, reason,
	)
	if err != nil {
		return fmt.Errorf("failed to insert fill for run %s: %w", runID, err)
	}
	return nil
}

// RecordSignal inserts a strategy signal.
func (j *Journal) RecordSignal(runID string, s models.Signal) error {
	query := `
	INSERT INTO signals (run_id, ts, instrument_id, side, quantity, reason)
	VALUES (?, ?, ?, ?, ?, ?)`

	_, err := j.db.Exec(query, runID, s.Timestamp.UnixMilli(), s.InstrumentID, string(s.Side), s.Quantity, s.Reason)
	if err != nil {
		return fmt.Errorf("failed to insert signal for run %s: %w", runID, err)
	}
	return nil
}

// LoadSnapshots returns the journaled snapshots of a run in tick order.
func (j *Journal) LoadSnapshots(runID string) ([]models.PortfolioSnapshot, error) {
	query := `
	SELECT ts, portfolio_value, cash_balance, cumulative_return, drawdown, holdings
	FROM snapshots WHERE run_id = ? ORDER BY ts ASC`

	rows, err := j.db.Query(query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []models.PortfolioSnapshot
	for rows.Next() {
		var s models.PortfolioSnapshot
		var ts int64
		var holdings string
		if err := rows.Scan(&ts, &s.PortfolioValue, &s.CashBalance, &s.CumulativeReturn, &s.Drawdown, &holdings); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot row: %w", err)
		}
		s.Timestamp = time.UnixMilli(ts).UTC()
		if err := json.Unmarshal([]byte(holdings), &s.Holdings); err != nil {
			return nil, fmt.Errorf("failed to decode holdings at %d: %w", ts, err)
		}
		snapshots = append(snapshots, s)
	}
	return snapshots, rows.Err()
}

// Summary aggregates the journal of one run. It returns sql.ErrNoRows when the
// run has no snapshots.
func (j *Journal) Summary(runID string) (*RunSummary, error) {
	summary := RunSummary{RunID: runID}

	var first, last sql.NullInt64
	err := j.db.QueryRow(`SELECT COUNT(*), MIN(ts), MAX(ts) FROM snapshots WHERE run_id = ?`, runID).
		Scan(&summary.Snapshots, &first, &last)
	if err != nil {
		return nil, fmt.Errorf("failed to count snapshots: %w", err)
	}
	if summary.Snapshots == 0 {
		return nil, sql.ErrNoRows
	}
	summary.FirstTick = time.UnixMilli(first.Int64).UTC()
	summary.LastTick = time.UnixMilli(last.Int64).UTC()

	err = j.db.QueryRow(`SELECT portfolio_value FROM snapshots WHERE run_id = ? AND ts = ?`, runID, last.Int64).
		Scan(&summary.FinalValue)
	if err != nil {
		return nil, fmt.Errorf("failed to read final snapshot: %w", err)
	}

	err = j.db.QueryRow(`
	SELECT
		COALESCE(SUM(CASE WHEN status = 'applied' THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN status = 'rejected' THEN 1 ELSE 0 END), 0)
	FROM fills WHERE run_id = ?`, runID).Scan(&summary.FillsApplied, &summary.FillsRejected)
	if err != nil {
		return nil, fmt.Errorf("failed to count fills: %w", err)
	}

	if err = j.db.QueryRow(`SELECT COUNT(*) FROM signals WHERE run_id = ?`, runID).Scan(&summary.Signals); err != nil {
		return nil, fmt.Errorf("failed to count signals: %w", err)
	}
	return &summary, nil
}

// DeleteRun removes every row of a run, typically before re-running it from scratch.
func (j *Journal) DeleteRun(runID string) error {
	tx, err := j.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() // Rollback on any error

	for _, table := range []string{"snapshots", "fills", "signals"} {
		if _, err := tx.Exec("DELETE FROM "+table+" WHERE run_id = ?", runID); err != nil {
			return fmt.Errorf("failed to clear %s for run %s: %w", table, runID, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit delete of run %s: %w", runID, err)
	}
	return nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}

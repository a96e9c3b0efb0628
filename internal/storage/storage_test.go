package storage

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"backtest-drift-monitor/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := InitDB(filepath.Join(t.TempDir(), "journal.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func TestJournal_RecordAndSummarise(t *testing.T) {
	j := openJournal(t)
	ts := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, j.RecordSignal("r1", models.Signal{Timestamp: ts, InstrumentID: "BTC", Side: models.Buy, Quantity: 1, Reason: "grid"}))
	require.NoError(t, j.RecordFill("r1", models.Fill{Timestamp: ts, InstrumentID: "BTC", Side: models.Buy, Quantity: 1, Price: 100}, "applied", ""))
	require.NoError(t, j.RecordFill("r1", models.Fill{Timestamp: ts, InstrumentID: "BTC", Side: models.Sell, Quantity: 9, Price: 100}, "rejected", "No position to sell"))

	for i, v := range []float64{1000, 1010, 990} {
		require.NoError(t, j.RecordSnapshot("r1", models.PortfolioSnapshot{
			Timestamp:      ts.Add(time.Duration(i) * time.Minute),
			PortfolioValue: v,
			Holdings:       map[string]models.HoldingSnapshot{"BTC": {Quantity: 1, Price: v - 900, Value: v - 900}},
		}))
	}

	summary, err := j.Summary("r1")
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Snapshots)
	assert.Equal(t, 1, summary.FillsApplied)
	assert.Equal(t, 1, summary.FillsRejected)
	assert.Equal(t, 1, summary.Signals)
	assert.Equal(t, 990.0, summary.FinalValue)
	assert.True(t, summary.FirstTick.Equal(ts))
	assert.True(t, summary.LastTick.Equal(ts.Add(2*time.Minute)))

	snapshots, err := j.LoadSnapshots("r1")
	require.NoError(t, err)
	require.Len(t, snapshots, 3)
	assert.Equal(t, 110.0, snapshots[1].Holdings["BTC"].Price)
}

func TestJournal_SnapshotUpsert(t *testing.T) {
	j := openJournal(t)
	ts := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, j.RecordSnapshot("r", models.PortfolioSnapshot{Timestamp: ts, PortfolioValue: 1}))
	require.NoError(t, j.RecordSnapshot("r", models.PortfolioSnapshot{Timestamp: ts, PortfolioValue: 2}))

	snapshots, err := j.LoadSnapshots("r")
	require.NoError(t, err)
	require.Len(t, snapshots, 1)
	assert.Equal(t, 2.0, snapshots[0].PortfolioValue)
}

func TestJournal_DeleteRun(t *testing.T) {
	j := openJournal(t)
	ts := time.Now()
	require.NoError(t, j.RecordSnapshot("gone", models.PortfolioSnapshot{Timestamp: ts}))
	require.NoError(t, j.RecordSnapshot("kept", models.PortfolioSnapshot{Timestamp: ts}))

	require.NoError(t, j.DeleteRun("gone"))

	_, err := j.Summary("gone")
	assert.ErrorIs(t, err, sql.ErrNoRows)
	_, err = j.Summary("kept")
	assert.NoError(t, err)
}

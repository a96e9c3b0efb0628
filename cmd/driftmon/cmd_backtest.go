package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"backtest-drift-monitor/internal/backtest"
	"backtest-drift-monitor/internal/drift"
	"backtest-drift-monitor/internal/feed"
	"backtest-drift-monitor/internal/logger"
	"backtest-drift-monitor/internal/models"
	"backtest-drift-monitor/internal/monitoring"
	"backtest-drift-monitor/internal/persistence"
	"backtest-drift-monitor/internal/reporter"
	"backtest-drift-monitor/internal/storage"
	"backtest-drift-monitor/internal/strategy"

	"github.com/spf13/cobra"
)

var backtestCmd = &cobra.Command{
	Use:   "backtest",
	Short: "Replay a price series through the portfolio engine",
	Long: `Replay a CSV price series (and optional CSV fills) through the portfolio
engine. Snapshots, fills and signals are journaled to SQLite and the portfolio
is checkpointed to the store. With --deployment the derived baseline is
recorded on that deployment for drift detection.

Examples:
  driftmon backtest --ticks data/prices.csv --fills data/fills.csv
  driftmon backtest --ticks data/btc.csv --instrument BTCUSDT --grid-spacing 0.01 --grid-qty 0.01
  driftmon backtest --ticks data/btc.csv --run-id nightly --resume --deployment dep-1`,
	RunE: runBacktest,
}

var (
	btTicksPath   string
	btFillsPath   string
	btCapital     float64
	btRunID       string
	btDeployment  string
	btInstrument  string
	btGridSpacing float64
	btGridQty     float64
	btResume      bool
)

func init() {
	rootCmd.AddCommand(backtestCmd)

	backtestCmd.Flags().StringVar(&btTicksPath, "ticks", "", "CSV of timestamp_ms,instrument,price rows")
	backtestCmd.Flags().StringVar(&btFillsPath, "fills", "", "CSV of timestamp_ms,instrument,side,quantity,price,fee rows")
	backtestCmd.Flags().Float64Var(&btCapital, "capital", 0, "initial capital (default from config)")
	backtestCmd.Flags().StringVar(&btRunID, "run-id", "", "run identifier (generated when empty)")
	backtestCmd.Flags().StringVar(&btDeployment, "deployment", "", "deployment that receives the derived baseline")
	backtestCmd.Flags().StringVar(&btInstrument, "instrument", "", "instrument traded by the grid strategy")
	backtestCmd.Flags().Float64Var(&btGridSpacing, "grid-spacing", 0, "grid spacing ratio, enables the grid strategy (default from config)")
	backtestCmd.Flags().Float64Var(&btGridQty, "grid-qty", 0, "quantity per grid trade (default from config)")
	backtestCmd.Flags().BoolVar(&btResume, "resume", false, "continue the run from its last checkpoint")
	_ = backtestCmd.MarkFlagRequired("ticks")
}

func runBacktest(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	log := logger.L()

	bcfg := cfg.Backtest
	if cmd.Flags().Changed("capital") {
		bcfg.InitialCapital = btCapital
	}
	if cmd.Flags().Changed("grid-spacing") {
		bcfg.GridSpacing = btGridSpacing
	}
	if cmd.Flags().Changed("grid-qty") {
		bcfg.GridQuantity = btGridQty
	}
	if bcfg.InitialCapital <= 0 {
		return fmt.Errorf("initial capital must be positive, got %v", bcfg.InitialCapital)
	}
	if btResume && btRunID == "" {
		return errors.New("--resume requires --run-id")
	}
	runID := btRunID
	if runID == "" {
		runID = drift.NewID()
	}

	ticks, err := feed.NewLoader(log).LoadTicks(btTicksPath, btFillsPath)
	if err != nil {
		return err
	}

	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	if err := os.MkdirAll(filepath.Dir(cfg.JournalPath), 0o755); err != nil {
		return fmt.Errorf("create journal dir: %w", err)
	}
	journal, err := storage.InitDB(cfg.JournalPath)
	if err != nil {
		return err
	}
	defer journal.Close()

	opts := []backtest.Option{
		backtest.WithStateRepository(store),
		backtest.WithRecorder(journal),
	}
	if bcfg.GridSpacing > 0 {
		grid, err := strategy.NewGrid(btInstrument, bcfg.GridSpacing, bcfg.GridQuantity, log)
		if err != nil {
			return err
		}
		opts = append(opts, backtest.WithStrategy(grid))
		logger.S().Infof("Strategy: %s", grid.Name())
	}

	driver := backtest.NewDriver(runID, bcfg, log, opts...)
	if btResume {
		if _, err := driver.Resume(ctx, runID, nil); err != nil {
			return err
		}
	} else if err := journal.DeleteRun(runID); err != nil {
		return err
	}

	res, runErr := driver.Run(ctx, ticks)
	if res == nil {
		return runErr
	}
	reporter.GenerateReport(cmd.OutOrStdout(), res, btTicksPath)
	if runErr != nil {
		return runErr
	}

	if summary, err := journal.Summary(runID); err == nil {
		logger.S().Infof("Journal %s: %d snapshots, %d fills applied, %d rejected, %d signals",
			runID, summary.Snapshots, summary.FillsApplied, summary.FillsRejected, summary.Signals)
	}

	if btDeployment == "" {
		return nil
	}
	snapshots, err := journal.LoadSnapshots(runID)
	if err != nil {
		return err
	}
	return recordBaseline(cmd, store, btDeployment, runID, monitoring.BaselineFromSnapshots(snapshots))
}

// recordBaseline stores the baseline on the deployment, creating an active
// deployment when none exists yet.
func recordBaseline(cmd *cobra.Command, store persistence.DeploymentRepository, deploymentID, strategyID string, baseline models.BacktestBaseline) error {
	ctx := cmd.Context()
	if baseline.Sharpe == nil {
		return fmt.Errorf("run %s has no snapshots to derive a baseline from", strategyID)
	}
	dep, err := store.GetDeployment(ctx, deploymentID)
	if errors.Is(err, persistence.ErrNotFound) {
		dep = &models.Deployment{
			ID:         deploymentID,
			StrategyID: strategyID,
			Status:     models.DeploymentActive,
			CreatedAt:  time.Now().UTC(),
		}
	} else if err != nil {
		return err
	}

	dep.Baseline = baseline
	if err := store.SaveDeployment(ctx, dep); err != nil {
		return err
	}
	logger.S().Infof("Baseline recorded on deployment %s (sharpe=%.2f return=%.4f)",
		deploymentID, *baseline.Sharpe, *baseline.Return)
	return nil
}

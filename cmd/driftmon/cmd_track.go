package main

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"backtest-drift-monitor/internal/feed"
	"backtest-drift-monitor/internal/logger"
	"backtest-drift-monitor/internal/models"
	"backtest-drift-monitor/internal/monitoring"
	"backtest-drift-monitor/internal/persistence"
	"backtest-drift-monitor/internal/statemanager"

	"github.com/spf13/cobra"
)

var trackCmd = &cobra.Command{
	Use:   "track",
	Short: "Derive daily live metrics for a deployment",
	Long: `Replay a deployment's live prices and fills through the live state
manager, derive one performance metric per UTC day and store them for drift
detection. The deployment is created if needed and marked active.

Examples:
  driftmon track --deployment dep-1 --ticks live/prices.csv --fills live/fills.csv
  driftmon track --deployment dep-1 --ticks live/prices.csv --max-dd-limit 0.3`,
	RunE: runTrack,
}

var (
	trackDeployment string
	trackTicksPath  string
	trackFillsPath  string
	trackCapital    float64
	trackDDLimit    float64
)

func init() {
	rootCmd.AddCommand(trackCmd)

	trackCmd.Flags().StringVar(&trackDeployment, "deployment", "", "deployment id")
	trackCmd.Flags().StringVar(&trackTicksPath, "ticks", "", "CSV of live timestamp_ms,instrument,price rows")
	trackCmd.Flags().StringVar(&trackFillsPath, "fills", "", "CSV of live fills")
	trackCmd.Flags().Float64Var(&trackCapital, "capital", 0, "capital allocated to the deployment (default from config)")
	trackCmd.Flags().Float64Var(&trackDDLimit, "max-dd-limit", 0, "hard drawdown limit as a fraction, 0 disables")
	_ = trackCmd.MarkFlagRequired("deployment")
	_ = trackCmd.MarkFlagRequired("ticks")
}

func runTrack(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	log := logger.L()

	capital := cfg.Backtest.InitialCapital
	if cmd.Flags().Changed("capital") {
		capital = trackCapital
	}
	if capital <= 0 {
		return fmt.Errorf("capital must be positive, got %v", capital)
	}

	ticks, err := feed.NewLoader(log).LoadTicks(trackTicksPath, trackFillsPath)
	if err != nil {
		return err
	}

	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	var mu sync.Mutex
	var snapshots []models.PortfolioSnapshot
	sm := statemanager.NewStateManager("live-"+trackDeployment, capital, store, log,
		statemanager.WithSnapshotSink(func(s models.PortfolioSnapshot) {
			mu.Lock()
			defer mu.Unlock()
			snapshots = append(snapshots, s)
		}))
	sm.Start()

	for _, tick := range ticks {
		for _, fill := range tick.Fills {
			sm.DispatchEvent(statemanager.NormalizedEvent{Type: statemanager.FillEvent, Timestamp: tick.Timestamp, Data: fill})
		}
		if len(tick.Prices) > 0 {
			sm.DispatchEvent(statemanager.NormalizedEvent{Type: statemanager.PriceEvent, Timestamp: tick.Timestamp, Data: tick.Prices})
		}
	}
	syncErr := sm.Sync(ctx)
	current := sm.GetSnapshot(ticks[len(ticks)-1].Timestamp)
	sm.Stop()
	if syncErr != nil {
		return syncErr
	}

	mu.Lock()
	daily := monitoring.DailyMetrics(trackDeployment, snapshots)
	mu.Unlock()
	for _, m := range daily {
		if err := store.SaveMetric(ctx, m); err != nil {
			return err
		}
	}

	dep, err := store.GetDeployment(ctx, trackDeployment)
	if errors.Is(err, persistence.ErrNotFound) {
		dep = &models.Deployment{ID: trackDeployment, StrategyID: trackDeployment, CreatedAt: time.Now().UTC()}
	} else if err != nil {
		return err
	}
	dep.Status = models.DeploymentActive
	if cmd.Flags().Changed("max-dd-limit") {
		dep.MaxDrawdownLimit = trackDDLimit
	}
	if err := store.SaveDeployment(ctx, dep); err != nil {
		return err
	}

	logger.S().Infof("Tracked %s: %d daily metrics, value %.2f (cumulative %.2f%%, drawdown %.2f%%)",
		trackDeployment, len(daily), current.PortfolioValue, current.CumulativeReturn*100, current.Drawdown*100)
	return nil
}

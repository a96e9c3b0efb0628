package main

import (
	"errors"

	"backtest-drift-monitor/internal/drift"
	"backtest-drift-monitor/internal/logger"
	"backtest-drift-monitor/internal/monitoring"
	"backtest-drift-monitor/internal/persistence"
	"backtest-drift-monitor/internal/reporter"

	"github.com/spf13/cobra"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Show live performance statistics for a deployment",
	Long: `Show the performance summary, rolling statistics, short/long trend,
backtest comparison and drift summary of one deployment.

Examples:
  driftmon monitor --deployment dep-1
  driftmon monitor --deployment dep-1 --window 14`,
	RunE: runMonitor,
}

var (
	monDeployment string
	monWindow     int
)

func init() {
	rootCmd.AddCommand(monitorCmd)

	monitorCmd.Flags().StringVar(&monDeployment, "deployment", "", "deployment id")
	monitorCmd.Flags().IntVar(&monWindow, "window", 0, "rolling window in days (default from config)")
	_ = monitorCmd.MarkFlagRequired("deployment")
}

func runMonitor(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	log := logger.L()

	window := cfg.Drift.WindowDays
	if cmd.Flags().Changed("window") {
		window = monWindow
	}

	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	agg := monitoring.NewAggregator(store, store, log)

	summary, err := agg.GetPerformanceSummary(ctx, monDeployment)
	if err != nil {
		return err
	}
	rolling, err := agg.GetRollingStatistics(ctx, monDeployment, window)
	if err != nil {
		return err
	}
	trend, err := agg.GetPerformanceTrend(ctx, monDeployment)
	if err != nil {
		return err
	}
	comparison, err := agg.CompareToBacktest(ctx, monDeployment)
	if err != nil && !errors.Is(err, persistence.ErrNotFound) {
		return err
	}

	out := cmd.OutOrStdout()
	reporter.WriteMonitoring(out, summary, rolling, trend, comparison)

	driftSummary, err := drift.NewOrchestrator(store, log).GetDriftSummary(ctx, monDeployment)
	if err != nil {
		return err
	}
	reporter.WriteDriftSummary(out, driftSummary)
	return nil
}

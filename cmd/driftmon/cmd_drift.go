package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"backtest-drift-monitor/internal/drift"
	"backtest-drift-monitor/internal/logger"
	"backtest-drift-monitor/internal/metrics"
	"backtest-drift-monitor/internal/models"
	"backtest-drift-monitor/internal/reporter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var driftCmd = &cobra.Command{
	Use:   "drift",
	Short: "Run drift detection against recorded baselines",
	Long: `Run every drift detector against the latest live metric of one deployment,
or of every active deployment. With --interval the pass repeats until the
process is interrupted; with --metrics-addr Prometheus metrics are served.

Examples:
  driftmon drift
  driftmon drift --deployment dep-1
  driftmon drift --interval 1h --metrics-addr :9102`,
	RunE: runDrift,
}

var (
	driftDeployment  string
	driftInterval    string
	driftMetricsAddr string
)

func init() {
	rootCmd.AddCommand(driftCmd)

	driftCmd.Flags().StringVar(&driftDeployment, "deployment", "", "check only this deployment")
	driftCmd.Flags().StringVar(&driftInterval, "interval", "", "repeat the pass at this interval, e.g. 15m (default from config)")
	driftCmd.Flags().StringVar(&driftMetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (default from config)")
}

func runDrift(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	log := logger.L()

	dcfg := cfg.Drift
	if cmd.Flags().Changed("interval") {
		dcfg.Interval = driftInterval
	}
	if cmd.Flags().Changed("metrics-addr") {
		dcfg.MetricsAddr = driftMetricsAddr
	}
	interval, err := dcfg.ParseInterval()
	if err != nil {
		return err
	}

	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	driftMetrics := metrics.NewDriftMetrics()
	emitter, closeEmitter := newEmitter(log)
	defer closeEmitter()

	orch := drift.NewOrchestrator(store, log, drift.WithMetrics(driftMetrics), drift.WithEmitter(emitter))

	if dcfg.MetricsAddr != "" {
		srv := serveMetrics(dcfg.MetricsAddr, driftMetrics, log)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	pass := func() error {
		var alerts []models.DriftAlert
		if driftDeployment != "" {
			got, err := orch.DetectDrift(ctx, driftDeployment)
			if err != nil {
				return err
			}
			alerts = got
		} else {
			byDeployment, err := orch.DetectAll(ctx)
			if err != nil {
				return err
			}
			for _, a := range byDeployment {
				alerts = append(alerts, a...)
			}
		}
		if len(alerts) == 0 {
			logger.S().Info("No drift detected.")
			return nil
		}
		reporter.WriteAlerts(cmd.OutOrStdout(), alerts)
		return nil
	}

	if err := pass(); err != nil {
		return err
	}
	if interval <= 0 {
		return nil
	}

	logger.S().Infof("Running drift detection every %s", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.S().Info("Drift monitor stopped.")
			return nil
		case <-ticker.C:
			if err := pass(); err != nil {
				if errors.Is(err, context.Canceled) {
					return nil
				}
				log.Error("Drift pass failed", zap.Error(err))
			}
		}
	}
}

func serveMetrics(addr string, m *metrics.DriftMetrics, log *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		log.Info("Serving Prometheus metrics", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Metrics server failed", zap.Error(err))
		}
	}()
	return srv
}

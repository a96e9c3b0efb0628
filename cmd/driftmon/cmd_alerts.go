package main

import (
	"errors"

	"backtest-drift-monitor/internal/drift"
	"backtest-drift-monitor/internal/logger"
	"backtest-drift-monitor/internal/models"
	"backtest-drift-monitor/internal/reporter"

	"github.com/spf13/cobra"
)

// alertsCmd is the parent command for alert operations
var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "List and resolve drift alerts",
}

var alertsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List drift alerts, newest first",
	Long: `List the drift alerts of one deployment, or of every deployment when
--deployment is omitted.

Examples:
  driftmon alerts list --deployment dep-1 --active`,
	RunE: runAlertsList,
}

var alertsResolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Resolve a drift alert",
	Long: `Mark an alert resolved. The resolution type is one of manual,
auto_demotion, false_positive or self_corrected.

Examples:
  driftmon alerts resolve --id 3uZ1pQ --type false_positive --notes "exchange outage"`,
	RunE: runAlertsResolve,
}

var (
	alertsDeployment string
	alertsActiveOnly bool
	resolveID        string
	resolveType      string
	resolveNotes     string
)

func init() {
	rootCmd.AddCommand(alertsCmd)
	alertsCmd.AddCommand(alertsListCmd)
	alertsCmd.AddCommand(alertsResolveCmd)

	alertsListCmd.Flags().StringVar(&alertsDeployment, "deployment", "", "deployment id (default: all deployments)")
	alertsListCmd.Flags().BoolVar(&alertsActiveOnly, "active", false, "only unresolved alerts")

	alertsResolveCmd.Flags().StringVar(&resolveID, "id", "", "alert id")
	alertsResolveCmd.Flags().StringVar(&resolveType, "type", string(models.ResolutionManual), "resolution type")
	alertsResolveCmd.Flags().StringVar(&resolveNotes, "notes", "", "free-form resolution notes")
	_ = alertsResolveCmd.MarkFlagRequired("id")
}

func runAlertsList(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()
	orch := drift.NewOrchestrator(store, logger.L())

	ids := []string{alertsDeployment}
	if alertsDeployment == "" {
		deployments, err := store.ListDeployments(ctx)
		if err != nil {
			return err
		}
		ids = ids[:0]
		for _, d := range deployments {
			ids = append(ids, d.ID)
		}
	}

	var alerts []models.DriftAlert
	for _, id := range ids {
		var got []models.DriftAlert
		if alertsActiveOnly {
			got, err = orch.GetActiveAlerts(ctx, id)
		} else {
			got, err = orch.GetAllAlerts(ctx, id)
		}
		if err != nil {
			return err
		}
		alerts = append(alerts, got...)
	}

	reporter.WriteAlerts(cmd.OutOrStdout(), alerts)
	return nil
}

func runAlertsResolve(cmd *cobra.Command, _ []string) error {
	resolution := models.ResolutionType(resolveType)
	switch resolution {
	case models.ResolutionManual, models.ResolutionAutoDemotion, models.ResolutionFalsePositive, models.ResolutionSelfCorrected:
	default:
		return errors.New("unknown resolution type " + resolveType)
	}

	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	alert, err := drift.NewOrchestrator(store, logger.L()).ResolveAlert(cmd.Context(), resolveID, resolution, resolveNotes)
	if err != nil {
		return err
	}
	reporter.WriteAlerts(cmd.OutOrStdout(), []models.DriftAlert{*alert})
	return nil
}

package main

import (
	"encoding/json"
	"fmt"
	"time"

	"hostel-payments/internal/core/domain"
	"hostel-payments/internal/service"

	"github.com/spf13/cobra"
)

var (
	reconcileFrom string
	reconcileTo   string
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Run a reconciliation now and print the report",
	Long: `Diffs settled ledger payments against the gateway settlement feed.
Without flags the previous calendar day in reconciliation.timezone is used.
Dates are YYYY-MM-DD; --to is exclusive.`,
	RunE: runReconcile,
}

func init() {
	reconcileCmd.Flags().StringVar(&reconcileFrom, "from", "", "first day to include (YYYY-MM-DD)")
	reconcileCmd.Flags().StringVar(&reconcileTo, "to", "", "day after the last one to include (YYYY-MM-DD)")
}

func runReconcile(cmd *cobra.Command, _ []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	loc, err := time.LoadLocation(cfg.Reconciliation.Timezone)
	if err != nil {
		return fmt.Errorf("load timezone: %w", err)
	}
	from, to, err := reconcileRange(reconcileFrom, reconcileTo, time.Now(), loc)
	if err != nil {
		return err
	}

	a, err := newApp(cmd.Context(), cfg, log)
	if err != nil {
		return err
	}
	defer a.close()

	report, err := a.reconciliation.Run(cmd.Context(), from, to, domain.TriggerManual)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return err
	}
	if report.Status == domain.ReconciliationFailed {
		return fmt.Errorf("reconciliation %s finished with status FAILED", report.ID)
	}
	return nil
}

// reconcileRange resolves the --from/--to flags. Empty flags select the
// previous day; a lone --from covers that single day.
func reconcileRange(fromFlag, toFlag string, now time.Time, loc *time.Location) (time.Time, time.Time, error) {
	if fromFlag == "" && toFlag == "" {
		from, to := service.PreviousDay(now, loc)
		return from, to, nil
	}
	if fromFlag == "" {
		return time.Time{}, time.Time{}, fmt.Errorf("--to requires --from")
	}
	from, err := time.ParseInLocation(time.DateOnly, fromFlag, loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid --from: %w", err)
	}
	to := from.AddDate(0, 0, 1)
	if toFlag != "" {
		if to, err = time.ParseInLocation(time.DateOnly, toFlag, loc); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --to: %w", err)
		}
	}
	if !from.Before(to) {
		return time.Time{}, time.Time{}, fmt.Errorf("--from must be before --to")
	}
	return from, to, nil
}

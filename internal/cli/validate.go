package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/vitalsink/vitalsink/internal/output"
	"github.com/vitalsink/vitalsink/internal/validate"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate stored telemetry against range rules",
	Long: `Check stored biometric rows against per-family physiological range
rules and report the failures. Validation is read-only.`,
	RunE: runValidate,
}

var (
	validateUser int64
	validateDays int
)

func init() {
	validateCmd.Flags().Int64Var(&validateUser, "user", 1, "User ID to validate")
	validateCmd.Flags().IntVar(&validateDays, "days", 7, "Number of trailing days to validate")
}

const maxFailuresShown = 20

func runValidate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	st, closeStore, err := openStore(ctx)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer closeStore()

	to := time.Now().UTC()
	from := to.AddDate(0, 0, -validateDays)

	rows, err := st.BiometricRange(ctx, validateUser, from, to)
	if err != nil {
		return fmt.Errorf("reading rows: %w", err)
	}

	report := validate.Check(rows, validate.DefaultRules())

	if jsonOutput {
		return printer.JSON(report)
	}

	printer.Section("Validation Report")
	printer.KeyValue("User", fmt.Sprintf("%d", validateUser))
	printer.KeyValue("Window", fmt.Sprintf("%s to %s", from.Format("2006-01-02"), to.Format("2006-01-02")))
	printer.KeyValue("Rows", fmt.Sprintf("%d", report.Total))
	printer.KeyValue("Valid", fmt.Sprintf("%d (%.1f%%)", report.Valid, report.ValidityRate()*100))
	printer.KeyValue("Invalid", fmt.Sprintf("%d", report.Invalid))

	if len(report.ByType) > 0 {
		printer.Section("By Metric Family")
		table := output.NewTable([]string{"Family", "Rows", "Valid", "Invalid", "Metrics"}, quietMode)
		for family, stats := range report.ByType {
			table.Append([]string{
				family,
				fmt.Sprintf("%d", stats.Total),
				fmt.Sprintf("%d", stats.Valid),
				fmt.Sprintf("%d", stats.Invalid),
				fmt.Sprintf("%d", len(stats.MetricsSeen())),
			})
		}
		table.Render()
	}

	if len(report.Failures) > 0 {
		printer.Section("Failures")
		shown := report.Failures
		if len(shown) > maxFailuresShown {
			shown = shown[:maxFailuresShown]
		}
		table := output.NewTable([]string{"Family", "Metric", "Timestamp", "Reason"}, quietMode)
		for _, f := range shown {
			table.Append([]string{
				f.DataType,
				f.MetricName,
				f.Timestamp.Format("2006-01-02 15:04"),
				f.Reason,
			})
		}
		table.Render()
		if len(report.Failures) > maxFailuresShown {
			printer.Info("%d more failures not shown; use --json for the full report",
				len(report.Failures)-maxFailuresShown)
		}
	}

	for _, rec := range report.Recommendations() {
		printer.Warn("%s", rec)
	}

	if report.Invalid == 0 {
		printer.Success("all %d rows passed", report.Total)
	}
	return nil
}

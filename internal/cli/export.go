package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/vitalsink/vitalsink/internal/export"
	"github.com/vitalsink/vitalsink/internal/jobs"
)

var exportCmd = &cobra.Command{
	Use:   "export [detailed|analytics]",
	Short: "Export stored metrics or analytics bundles",
	Long: `Export daily detailed metrics or computed analytics bundles as CSV,
JSON or a PNG trend chart.

Examples:
  vitals export detailed --user 1 --range month --format csv --out steps.csv
  vitals export detailed --user 1 --format chart --metrics avg_steps --out trend.png
  vitals export analytics --user 1 --format json`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"detailed", "analytics"},
	RunE:      runExport,
}

var (
	exportUser    int64
	exportRange   string
	exportFormat  string
	exportOut     string
	exportMetrics []string
)

func init() {
	exportCmd.Flags().Int64Var(&exportUser, "user", 1, "User ID to export")
	exportCmd.Flags().StringVar(&exportRange, "range", "week", "Time range: week, month or quarter")
	exportCmd.Flags().StringVar(&exportFormat, "format", "csv", "Output format: csv, json or chart")
	exportCmd.Flags().StringVar(&exportOut, "out", "", "Write to file instead of stdout")
	exportCmd.Flags().StringSliceVar(&exportMetrics, "metrics", nil, "Metric names to chart (default: all)")
}

const (
	chartWidth  = 1024
	chartHeight = 512
)

func runExport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	format, err := export.ParseFormat(exportFormat)
	if err != nil {
		return err
	}
	window, err := windowByName(exportRange)
	if err != nil {
		return err
	}

	st, closeStore, err := openStore(ctx)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer closeStore()

	var data []byte
	switch args[0] {
	case "detailed":
		to := time.Now().UTC()
		from := to.AddDate(0, 0, -window.Days)
		points, err := st.DetailedMetricsRange(ctx, exportUser, from, to)
		if err != nil {
			return fmt.Errorf("reading detailed metrics: %w", err)
		}
		switch format {
		case export.FormatCSV:
			data, err = export.DetailedCSV(points)
		case export.FormatJSON:
			data, err = export.DetailedJSON(exportUser, window.Name, points)
		case export.FormatChart:
			if exportOut == "" {
				return fmt.Errorf("--out is required for chart export")
			}
			data, err = export.TrendChart(points, exportMetrics, chartWidth, chartHeight)
		}
		if err != nil {
			return err
		}
	case "analytics":
		results, err := st.AnalyticsResults(ctx, exportUser, "biometric")
		if err != nil {
			return fmt.Errorf("reading analytics results: %w", err)
		}
		switch format {
		case export.FormatCSV:
			data, err = export.AnalyticsCSV(results)
		case export.FormatJSON:
			data, err = export.AnalyticsJSON(results)
		case export.FormatChart:
			return fmt.Errorf("chart export only supports detailed metrics")
		}
		if err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown export target %q (want detailed or analytics)", args[0])
	}

	if exportOut == "" {
		_, err := os.Stdout.Write(data)
		return err
	}
	if err := os.WriteFile(exportOut, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", exportOut, err)
	}
	printer.Success("wrote %d bytes to %s", len(data), exportOut)
	return nil
}

func windowByName(name string) (jobs.Window, error) {
	for _, w := range jobs.Windows() {
		if w.Name == name {
			return w, nil
		}
	}
	return jobs.Window{}, fmt.Errorf("unknown time range %q (want week, month or quarter)", name)
}

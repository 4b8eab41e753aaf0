package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/vitalsink/vitalsink/internal/extract"
	"github.com/vitalsink/vitalsink/internal/jobs"
	"github.com/vitalsink/vitalsink/internal/output"
	"github.com/vitalsink/vitalsink/internal/store"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Run the analytics pipeline for a user right now",
	Long: `Enqueue and immediately process an analytics job for one user,
bypassing the daemon's poll interval. The resulting window bundles are
printed when the job completes.`,
	RunE: runAnalyze,
}

var analyzeUser int64

func init() {
	analyzeCmd.Flags().Int64Var(&analyzeUser, "user", 1, "User ID to analyze")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	st, closeStore, err := openStore(ctx)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer closeStore()

	rules, err := extract.LoadRules(cfg.ExtractRulesPath)
	if err != nil {
		return fmt.Errorf("loading extraction rules: %w", err)
	}
	extractor := extract.New(st, rules)

	procLog := zerolog.New(os.Stderr).With().Timestamp().Logger()
	if quietMode || jsonOutput {
		procLog = zerolog.Nop()
	}
	proc := jobs.NewProcessor(st, extractor, jobs.Options{}, procLog)

	jobID, err := st.EnqueueJob(ctx, analyzeUser)
	if err != nil {
		return fmt.Errorf("enqueueing job: %w", err)
	}

	spinner := output.NewSpinner("Computing analytics windows", quietMode || jsonOutput)
	procErr := proc.Process(ctx, store.AnalyticsJob{ID: jobID, UserID: analyzeUser})
	spinner.Finish()
	if procErr != nil {
		return fmt.Errorf("processing job %d: %w", jobID, procErr)
	}

	results, err := st.AnalyticsResults(ctx, analyzeUser, "biometric")
	if err != nil {
		return fmt.Errorf("reading results: %w", err)
	}

	if jsonOutput {
		type window struct {
			TimeRange string          `json:"time_range"`
			StartDate string          `json:"start_date"`
			EndDate   string          `json:"end_date"`
			Metrics   json.RawMessage `json:"metrics"`
		}
		out := make([]window, 0, len(results))
		for _, res := range results {
			out = append(out, window{
				TimeRange: res.TimeRange,
				StartDate: res.StartDate.Format("2006-01-02"),
				EndDate:   res.EndDate.Format("2006-01-02"),
				Metrics:   json.RawMessage(res.Metrics),
			})
		}
		return printer.JSON(out)
	}

	printer.Success("job %d completed", jobID)
	for _, res := range results {
		printer.Section(fmt.Sprintf("%s (%s to %s)",
			res.TimeRange,
			res.StartDate.Format("2006-01-02"),
			res.EndDate.Format("2006-01-02")))

		var bundle map[string]any
		if err := json.Unmarshal(res.Metrics, &bundle); err != nil {
			printer.Warn("unreadable bundle for %s: %v", res.TimeRange, err)
			continue
		}
		for _, key := range sortedBundleKeys(bundle) {
			if val, ok := bundle[key].(float64); ok {
				printer.KeyValue(key, fmt.Sprintf("%.2f", val))
			}
		}
	}
	return nil
}

func sortedBundleKeys(bundle map[string]any) []string {
	keys := make([]string, 0, len(bundle))
	for key := range bundle {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

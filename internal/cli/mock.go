package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/vitalsink/vitalsink/internal/mockdata"
	"github.com/vitalsink/vitalsink/internal/normalize"
	"github.com/vitalsink/vitalsink/internal/output"
	"github.com/vitalsink/vitalsink/internal/source"
)

var mockCmd = &cobra.Command{
	Use:   "mock",
	Short: "Generate and store synthetic telemetry",
	Long: `Synthesize realistic per-day payloads for every metric family, run them
through the normalizer, and upsert the rows. Generation is deterministic for
a given seed, so repeated runs overwrite the same rows.

An analytics job is enqueued afterwards unless --no-enqueue is set.`,
	RunE: runMock,
}

var (
	mockUser    int64
	mockDays    int
	mockSeed    int64
	mockNoQueue bool
)

func init() {
	mockCmd.Flags().Int64Var(&mockUser, "user", 1, "User ID to generate data for")
	mockCmd.Flags().IntVar(&mockDays, "days", 30, "Number of trailing days to generate")
	mockCmd.Flags().Int64Var(&mockSeed, "seed", 42, "Deterministic generator seed")
	mockCmd.Flags().BoolVar(&mockNoQueue, "no-enqueue", false, "Skip enqueueing an analytics job")
}

func runMock(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	if mockDays < 1 {
		return fmt.Errorf("--days must be at least 1")
	}

	st, closeStore, err := openStore(ctx)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer closeStore()

	gen := mockdata.New(mockSeed)
	today := time.Now().UTC().Truncate(24 * time.Hour)

	progress := output.NewProgress(mockDays, "generating telemetry",
		output.ProgressWithQuiet(quietMode || jsonOutput))

	var totalRows int64
	for i := 0; i < mockDays; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		day := today.AddDate(0, 0, -i)

		for _, family := range source.Families() {
			payload := gen.Payload(family.String(), mockUser, day)
			if payload == nil {
				continue
			}
			res := normalize.Payload(mockUser, day, family.String(), payload)
			if len(res.Rows) == 0 {
				continue
			}
			if err := st.UpsertBiometricRows(ctx, res.Rows); err != nil {
				progress.Finish()
				return fmt.Errorf("storing %s rows for %s: %w", family, day.Format("2006-01-02"), err)
			}
			totalRows += int64(len(res.Rows))
		}
		progress.Increment()
	}
	progress.Finish()

	var jobID int64
	if totalRows > 0 && !mockNoQueue {
		jobID, err = st.EnqueueJob(ctx, mockUser)
		if err != nil {
			return fmt.Errorf("enqueueing analytics job: %w", err)
		}
	}

	if jsonOutput {
		return printer.JSON(map[string]any{
			"user_id": mockUser,
			"days":    mockDays,
			"rows":    totalRows,
			"job_id":  jobID,
		})
	}

	printer.Success("stored %d rows over %d days for user %d", totalRows, mockDays, mockUser)
	if jobID > 0 {
		printer.Info("analytics job %d enqueued", jobID)
	}
	return nil
}

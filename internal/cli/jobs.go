package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vitalsink/vitalsink/internal/output"
	"github.com/vitalsink/vitalsink/internal/store"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and manage the analytics job queue",
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show recent analytics jobs and queue totals",
	RunE:  runJobsList,
}

var jobsEnqueueCmd = &cobra.Command{
	Use:   "enqueue",
	Short: "Queue an analytics recompute for a user",
	RunE:  runJobsEnqueue,
}

var jobsTriggerCmd = &cobra.Command{
	Use:   "trigger",
	Short: "Request an out-of-schedule source fetch for a user",
	RunE:  runJobsTrigger,
}

var jobsRetryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Queue fresh analytics jobs for failed ones",
	RunE:  runJobsRetry,
}

var (
	jobsListLimit  int
	jobsUser       int64
	jobsTriggerDay int
	jobsRetryID    int64
)

func init() {
	jobsListCmd.Flags().IntVar(&jobsListLimit, "limit", 20, "Maximum jobs to list")
	jobsEnqueueCmd.Flags().Int64Var(&jobsUser, "user", 1, "User ID")
	jobsTriggerCmd.Flags().Int64Var(&jobsUser, "user", 1, "User ID")
	jobsTriggerCmd.Flags().IntVar(&jobsTriggerDay, "days", 7, "Days of history to fetch")
	jobsRetryCmd.Flags().Int64Var(&jobsRetryID, "id", 0, "Retry one job by ID (default: all recent failed jobs)")

	jobsCmd.AddCommand(jobsListCmd)
	jobsCmd.AddCommand(jobsEnqueueCmd)
	jobsCmd.AddCommand(jobsTriggerCmd)
	jobsCmd.AddCommand(jobsRetryCmd)
}

func runJobsList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	st, closeStore, err := openStore(ctx)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer closeStore()

	counts, err := st.CountJobsByStatus(ctx)
	if err != nil {
		return fmt.Errorf("counting jobs: %w", err)
	}
	recent, err := st.RecentJobs(ctx, jobsListLimit)
	if err != nil {
		return fmt.Errorf("listing jobs: %w", err)
	}

	if jsonOutput {
		return printer.JSON(map[string]any{
			"counts": counts,
			"jobs":   recent,
		})
	}

	printer.Section("Queue")
	for _, status := range []store.JobStatus{
		store.JobStatusPending,
		store.JobStatusProcessing,
		store.JobStatusCompleted,
		store.JobStatusFailed,
	} {
		printer.KeyValue(string(status), fmt.Sprintf("%d", counts[status]))
	}

	if len(recent) == 0 {
		printer.Info("no jobs recorded yet")
		return nil
	}

	printer.Section("Recent Jobs")
	table := output.NewTable([]string{"ID", "User", "Status", "Created", "Updated"}, quietMode)
	for _, job := range recent {
		table.Append([]string{
			fmt.Sprintf("%d", job.ID),
			fmt.Sprintf("%d", job.UserID),
			string(job.Status),
			job.CreatedAt.Format("2006-01-02 15:04:05"),
			job.UpdatedAt.Format("2006-01-02 15:04:05"),
		})
	}
	table.Render()
	return nil
}

func runJobsEnqueue(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	st, closeStore, err := openStore(ctx)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer closeStore()

	jobID, err := st.EnqueueJob(ctx, jobsUser)
	if err != nil {
		return fmt.Errorf("enqueueing job: %w", err)
	}

	if jsonOutput {
		return printer.JSON(map[string]any{"job_id": jobID, "user_id": jobsUser})
	}
	printer.Success("queued analytics job %d for user %d", jobID, jobsUser)
	return nil
}

func runJobsTrigger(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	st, closeStore, err := openStore(ctx)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer closeStore()

	id, err := st.EnqueueFetchTrigger(ctx, jobsUser, jobsTriggerDay)
	if err != nil {
		return fmt.Errorf("enqueueing fetch trigger: %w", err)
	}

	if jsonOutput {
		return printer.JSON(map[string]any{
			"trigger_id": id,
			"user_id":    jobsUser,
			"days_back":  jobsTriggerDay,
		})
	}
	printer.Success("queued fetch trigger %d for user %d (%d days)", id, jobsUser, jobsTriggerDay)
	printer.Info("the ingest daemon drains triggers on its next cycle")
	return nil
}

const retryScanLimit = 200

// retryFailedJobs queues a fresh job for each recent failed one. Failed rows
// are terminal audit records and never re-enter the queue themselves; the
// replacement job gets its own ID and history. When jobID is non-zero only
// that job is retried, and it must be a recent failed job.
func retryFailedJobs(ctx context.Context, st store.Store, jobID int64) (map[int64]int64, error) {
	recent, err := st.RecentJobs(ctx, retryScanLimit)
	if err != nil {
		return nil, fmt.Errorf("listing jobs: %w", err)
	}

	requeued := map[int64]int64{}
	for _, job := range recent {
		if job.Status != store.JobStatusFailed {
			continue
		}
		if jobID > 0 && job.ID != jobID {
			continue
		}
		newID, err := st.EnqueueJob(ctx, job.UserID)
		if err != nil {
			return nil, fmt.Errorf("requeueing job %d: %w", job.ID, err)
		}
		requeued[job.ID] = newID
	}

	if jobID > 0 && len(requeued) == 0 {
		return nil, fmt.Errorf("job %d is not a recent failed job", jobID)
	}
	return requeued, nil
}

func runJobsRetry(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	st, closeStore, err := openStore(ctx)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer closeStore()

	requeued, err := retryFailedJobs(ctx, st, jobsRetryID)
	if err != nil {
		return err
	}

	if jsonOutput {
		return printer.JSON(map[string]any{"requeued": requeued})
	}
	if len(requeued) == 0 {
		printer.Info("no failed jobs to retry")
		return nil
	}
	for oldID, newID := range requeued {
		printer.Info("failed job %d requeued as job %d", oldID, newID)
	}
	printer.Success("queued %d replacement jobs", len(requeued))
	return nil
}

package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/ternarybob/fibercore/internal/app"
	"github.com/ternarybob/fibercore/internal/models"
)

func newQueueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and maintain the job queues",
	}

	cmd.AddCommand(newQueueStatsCmd())
	cmd.AddCommand(newQueueClearCmd())
	cmd.AddCommand(newQueueDLQCmd())
	return cmd
}

// withQueues opens the stores without starting workers. With the badger backend
// the API process must be stopped first: the database allows one process.
func withQueues(fn func(ctx context.Context, application *app.App) error) error {
	application, err := app.New(config, logger, app.ModeMaintenance)
	if err != nil {
		return err
	}
	defer application.Close()

	return fn(context.Background(), application)
}

func newQueueStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show per-state job counts of every queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := parseOutputFormat(outputFlag)
			if err != nil {
				return err
			}

			return withQueues(func(ctx context.Context, application *app.App) error {
				stats, err := application.QueueManager.Stats(ctx)
				if err != nil {
					return err
				}

				rows := make([][]string, 0, len(stats))
				for _, s := range stats {
					rows = append(rows, []string{
						s.Queue,
						strconv.Itoa(s.Waiting),
						strconv.Itoa(s.Delayed),
						strconv.Itoa(s.Active),
						strconv.Itoa(s.Completed),
						strconv.Itoa(s.Failed),
						strconv.Itoa(s.Repeatable),
					})
				}
				return printOutput(os.Stdout, format, stats,
					[]string{"queue", "waiting", "delayed", "active", "completed", "failed", "repeatable"}, rows)
			})
		},
	}
}

func newQueueClearCmd() *cobra.Command {
	var (
		queues []string
		flush  bool
	)

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Empty queues and remove their repeatable jobs",
		Long: `Pauses each queue, drops waiting and delayed jobs, removes repeatable
registrations and purges completed and failed records. Active jobs are left
to finish. --flush drops the entire queue keyspace instead.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := parseOutputFormat(outputFlag)
			if err != nil {
				return err
			}

			return withQueues(func(ctx context.Context, application *app.App) error {
				if flush {
					if err := application.QueueManager.Flush(ctx); err != nil {
						return err
					}
					fmt.Println("Queue store flushed")
					return nil
				}

				reports, err := application.QueueManager.Clear(ctx, queues...)
				if err != nil {
					return err
				}

				rows := make([][]string, 0, len(reports))
				for _, r := range reports {
					rows = append(rows, []string{
						r.Queue,
						strconv.Itoa(r.Pending),
						strconv.Itoa(r.Repeatables),
						strconv.Itoa(r.Finished),
					})
				}
				return printOutput(os.Stdout, format, reports,
					[]string{"queue", "pending", "repeatables", "finished"}, rows)
			})
		},
	}

	cmd.Flags().StringSliceVar(&queues, "queue", nil, "Queue to clear (repeatable, default all)")
	cmd.Flags().BoolVar(&flush, "flush", false, "Drop the entire queue keyspace")
	return cmd
}

func newQueueDLQCmd() *cobra.Command {
	var (
		queueName string
		retryID   string
		limit     int
	)

	cmd := &cobra.Command{
		Use:   "dlq",
		Short: "List failed jobs or retry one",
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := parseOutputFormat(outputFlag)
			if err != nil {
				return err
			}

			return withQueues(func(ctx context.Context, application *app.App) error {
				if retryID != "" {
					job, err := application.QueueManager.Retry(ctx, retryID)
					if err != nil {
						return err
					}
					fmt.Printf("Job %s re-queued on %s\n", job.ID, job.Queue)
					return nil
				}

				names := models.OltQueues
				if queueName != "" {
					names = []string{queueName}
				}

				var failed []*models.Job
				for _, name := range names {
					jobs, err := application.QueueManager.Failed(ctx, name, limit)
					if err != nil {
						return err
					}
					failed = append(failed, jobs...)
				}

				rows := make([][]string, 0, len(failed))
				for _, job := range failed {
					finished := ""
					if job.FinishedAt != nil {
						finished = job.FinishedAt.Format("2006-01-02 15:04:05")
					}
					rows = append(rows, []string{
						job.ID,
						job.Queue,
						strconv.Itoa(job.AttemptsMade),
						finished,
						job.FailedReason,
					})
				}
				return printOutput(os.Stdout, format, failed,
					[]string{"id", "queue", "attempts", "finished", "reason"}, rows)
			})
		},
	}

	cmd.Flags().StringVar(&queueName, "queue", "", "Only list failed jobs of this queue")
	cmd.Flags().StringVar(&retryID, "retry", "", "Move the failed job with this id back to waiting")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum jobs listed per queue")
	return cmd
}

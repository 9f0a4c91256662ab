package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"interviewprep/pkg/domain"
	"interviewprep/pkg/jobclient"
)

func newJobsCmd(opts *cliOptions) *cobra.Command {
	jobs := &cobra.Command{
		Use:   "jobs",
		Short: "Manage generation jobs",
	}
	jobs.AddCommand(
		newDispatchCmd(opts),
		newWatchCmd(opts),
		newListCmd(opts),
		newGetCmd(opts),
		newCancelCmd(opts),
	)
	return jobs
}

func newDispatchCmd(opts *cliOptions) *cobra.Command {
	var (
		interviewID string
		jobType     string
		input       domain.JobInput
		index       int
		items       []string
		watch       bool
	)
	cmd := &cobra.Command{
		Use:   "dispatch",
		Short: "Queue a generation job",
		Long: `Queue a generation job for an interview.

Examples:
  interviewctl jobs dispatch --interview iv-1 --type questions_generated
  interviewctl jobs dispatch --interview iv-1 --type question_regenerated \
    --qa-version v-3 --item job_competency:4 --item general_personality:0
  interviewctl jobs dispatch --interview iv-1 --type question \
    --category job_competency --index 2 --comment "more concrete" --watch`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if interviewID == "" || jobType == "" {
				return fmt.Errorf("--interview and --type are required")
			}
			if cmd.Flags().Changed("index") {
				input.Index = &index
			}
			refs, err := parseItemRefs(items)
			if err != nil {
				return err
			}
			input.Items = refs

			c, err := opts.client()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			res, err := c.Dispatch(ctx, jobclient.DispatchRequest{
				InterviewID: interviewID,
				Type:        domain.JobType(jobType),
				Data:        input,
			})
			if err != nil {
				return describeAPIError(err)
			}
			fmt.Fprintf(opts.out, "queued %s at %s\n", res.JobID, res.CreatedAt.Format(time.RFC3339))
			if !watch {
				return nil
			}
			return watchJobs(ctx, opts, c, &domain.Job{ID: res.JobID, InterviewID: interviewID, Type: domain.JobType(jobType), Status: domain.JobQueued, CreatedAt: res.CreatedAt})
		},
	}
	f := cmd.Flags()
	f.StringVar(&interviewID, "interview", "", "interview id")
	f.StringVar(&jobType, "type", "", "job type (questions_generated, answers_generated, question, answer, ...)")
	f.StringVar(&input.QAVersionID, "qa-version", "", "source QA version for item jobs")
	f.StringVar(&input.Category, "category", "", "category for a single-item job")
	f.IntVar(&index, "index", 0, "item index for a single-item job")
	f.StringArrayVar(&items, "item", nil, "item as category:index, repeatable")
	f.StringVar(&input.Comment, "comment", "", "instruction for the generator")
	f.BoolVar(&input.AvoidRepeat, "avoid-repeat", false, "ask for content unlike the current item")
	f.BoolVar(&watch, "watch", false, "wait for the job to finish")
	return cmd
}

func newWatchCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Wait for active jobs to finish",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			return watchJobs(cmd.Context(), opts, c, nil)
		},
	}
}

func watchJobs(ctx context.Context, opts *cliOptions, c *jobclient.Client, track *domain.Job) error {
	poller := jobclient.NewPoller(c, jobclient.PollerOptions{Interval: opts.pollInterval})
	poller.OnComplete("cli", func(j domain.Job) {
		switch j.Status {
		case domain.JobCompleted:
			version := ""
			if j.Result != nil {
				version = " version " + j.Result.QAVersionID
			}
			fmt.Fprintf(opts.out, "%s %s completed%s\n", j.ID, j.Type, version)
		default:
			fmt.Fprintf(opts.out, "%s %s failed: %s\n", j.ID, j.Type, j.ErrorMessage)
		}
	})
	if err := poller.Start(ctx); err != nil {
		return describeAPIError(err)
	}
	if track != nil {
		poller.Track(*track)
	}
	active := poller.Active()
	if len(active) == 0 {
		fmt.Fprintln(opts.out, "no active jobs")
		return nil
	}
	for _, j := range active {
		fmt.Fprintf(opts.out, "waiting on %s %s (%s)\n", j.ID, j.Type, j.Status)
	}
	select {
	case <-poller.Done():
		return nil
	case <-ctx.Done():
		poller.Stop()
		return ctx.Err()
	}
}

func newListCmd(opts *cliOptions) *cobra.Command {
	var (
		limit      int
		activeOnly bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			var jobs []domain.Job
			if activeOnly {
				jobs, err = c.ActiveJobs(cmd.Context())
			} else {
				jobs, err = c.RecentJobs(cmd.Context(), limit)
			}
			if err != nil {
				return describeAPIError(err)
			}
			printJobs(opts.out, jobs)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "max jobs to show")
	cmd.Flags().BoolVar(&activeOnly, "active", false, "only queued and processing jobs")
	return cmd
}

func newGetCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <job-id>",
		Short: "Show one job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			job, err := c.GetJob(cmd.Context(), args[0])
			if err != nil {
				return describeAPIError(err)
			}
			printJobs(opts.out, []domain.Job{job})
			if job.ErrorMessage != "" {
				fmt.Fprintf(opts.out, "error: %s\n", job.ErrorMessage)
			}
			return nil
		},
	}
}

func newCancelCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a queued job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			if err := c.Cancel(cmd.Context(), args[0]); err != nil {
				return describeAPIError(err)
			}
			fmt.Fprintf(opts.out, "cancelled %s\n", args[0])
			return nil
		},
	}
}

func printJobs(out io.Writer, jobs []domain.Job) {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTYPE\tSTATUS\tCOST\tCREATED")
	for _, j := range jobs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", j.ID, j.Type, j.Status, j.Cost.String(), j.CreatedAt.Format(time.RFC3339))
	}
	_ = tw.Flush()
}

func parseItemRefs(raw []string) ([]domain.ItemRef, error) {
	refs := make([]domain.ItemRef, 0, len(raw))
	for _, item := range raw {
		category, idx, ok := strings.Cut(item, ":")
		if !ok {
			return nil, fmt.Errorf("item %q: want category:index", item)
		}
		n, err := strconv.Atoi(idx)
		if err != nil {
			return nil, fmt.Errorf("item %q: %w", item, err)
		}
		refs = append(refs, domain.ItemRef{Category: strings.TrimSpace(category), Index: n})
	}
	if len(refs) == 0 {
		return nil, nil
	}
	return refs, nil
}

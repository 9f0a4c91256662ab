package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"interviewprep/pkg/jobclient"
)

const defaultAPIURL = "http://localhost:8080"

type cliOptions struct {
	apiURL       string
	token        string
	pollInterval time.Duration
	out          io.Writer
}

func (o *cliOptions) client() (*jobclient.Client, error) {
	if o.token == "" {
		return nil, errors.New("--token or INTERVIEWPREP_TOKEN is required")
	}
	return jobclient.NewClient(o.apiURL, o.token), nil
}

func newRootCmd(out io.Writer) *cobra.Command {
	opts := &cliOptions{out: out}
	root := &cobra.Command{
		Use:           "interviewctl",
		Short:         "Dispatch and watch interview-prep generation jobs",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	root.PersistentFlags().StringVar(&opts.apiURL, "api-url", envOr("INTERVIEWPREP_API_URL", defaultAPIURL), "API base URL")
	root.PersistentFlags().StringVar(&opts.token, "token", os.Getenv("INTERVIEWPREP_TOKEN"), "user access token")
	root.PersistentFlags().DurationVar(&opts.pollInterval, "poll-interval", jobclient.DefaultPollInterval, "job status poll interval (3s-5s)")

	root.AddCommand(newJobsCmd(opts), newTokensCmd(opts))
	return root
}

func newTokensCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tokens",
		Short: "Show the token balance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			bal, err := c.Balance(cmd.Context())
			if err != nil {
				return describeAPIError(err)
			}
			fmt.Fprintf(opts.out, "balance: %s\n", bal.String())
			return nil
		},
	}
}

// describeAPIError turns dispatch rejections into readable messages.
func describeAPIError(err error) error {
	var apiErr *jobclient.APIError
	if !errors.As(err, &apiErr) {
		return err
	}
	switch apiErr.Status {
	case 402:
		return fmt.Errorf("insufficient tokens: need %s, have %s", apiErr.Required, apiErr.Available)
	case 409:
		if apiErr.ActiveJob != nil {
			j := apiErr.ActiveJob
			return fmt.Errorf("a job is already running: %s (%s, %s)", j.ID, j.Type, j.Status)
		}
	}
	if apiErr.Code != "" {
		return fmt.Errorf("%s (%s)", apiErr.Message, apiErr.Code)
	}
	return apiErr
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

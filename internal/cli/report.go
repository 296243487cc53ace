package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/iliyamo/parking-reservation/internal/app"
	"github.com/iliyamo/parking-reservation/internal/jobs"
	"github.com/iliyamo/parking-reservation/internal/model"
)

// NewReportCommand creates `report --email`, which generates and mails a
// full report synchronously.  The outcome is also recorded as a job.
func NewReportCommand(rootOpts *RootOptions) *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Generate the reservation report now and email it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if email == "" {
				return errors.New("--email is required")
			}
			cfg, logg, err := rootOpts.env(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			store, err := app.OpenStore(ctx, cfg.DB, cfg.DB.AutoMigrate, logg)
			if err != nil {
				return err
			}
			defer store.DB().Close()

			runner, _, err := app.NewRunner(cfg, store, logg, app.RunnerParams{})
			if err != nil {
				return err
			}
			job, err := runner.RunNow(ctx, jobs.ReportRequest(email, 0))
			if err != nil {
				return err
			}
			text := fmt.Sprintf("%s: %s (records=%d revenue=%s artifact=%s)",
				job.Status, job.Message, job.TotalRecords, job.TotalRevenue.StringFixed(2), job.Artifact)
			if err := rootOpts.emit(cmd.OutOrStdout(), text, job); err != nil {
				return err
			}
			if job.Status == model.JobError {
				return errors.New(job.Message)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "recipient address")
	return cmd
}

package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/cwygoda/snapkeeper/internal/adapter/sqlite"
	"github.com/cwygoda/snapkeeper/internal/config"
	"github.com/cwygoda/snapkeeper/internal/domain"
	"github.com/cwygoda/snapkeeper/internal/schedule"
	"github.com/spf13/cobra"
)

func newScheduleCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "schedule",
		Short: "Print the artifacts due for recapture and their delays",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := sqlite.New(a.cfg.DBPath)
			if err != nil {
				return fmt.Errorf("initialize database: %w", err)
			}
			defer repo.Close()

			settings, err := config.OpenSettingsStore(a.cfg.SettingsPath, a.logger)
			if err != nil {
				return fmt.Errorf("load settings: %w", err)
			}

			sched := schedule.New(schedule.Options{
				Snapshots: domain.NewSnapshotService(repo),
				Settings:  settings,
				Logger:    a.logger,
			})
			eligible, err := sched.ComputeEligibleJobs(cmd.Context())
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ARTIFACT\tTITLE\tDELAY")
			for _, job := range eligible {
				fmt.Fprintf(tw, "%d\t%s\t%s\n", job.ArtifactID, job.Title, job.Delay)
			}
			return tw.Flush()
		},
	}
}

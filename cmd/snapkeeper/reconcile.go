package main

import (
	"fmt"
	"path/filepath"

	"github.com/cwygoda/snapkeeper/internal/adapter/sqlite"
	"github.com/cwygoda/snapkeeper/internal/domain"
	"github.com/cwygoda/snapkeeper/internal/orchestrator"
	"github.com/gofrs/flock"
	"github.com/spf13/cobra"
)

func newReconcileCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Mark captures interrupted by a crash as incomplete",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			lock := flock.New(filepath.Join(a.cfg.DataDir, orchestrator.LockFile))
			locked, err := lock.TryLock()
			if err != nil {
				return fmt.Errorf("lock data dir: %w", err)
			}
			if !locked {
				return fmt.Errorf("%w: %s", orchestrator.ErrLocked, a.cfg.DataDir)
			}
			defer lock.Unlock()

			repo, err := sqlite.New(a.cfg.DBPath)
			if err != nil {
				return fmt.Errorf("initialize database: %w", err)
			}
			defer repo.Close()

			n, err := domain.NewSnapshotService(repo).DemoteInProgress(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "demoted %d interrupted snapshots\n", n)
			return nil
		},
	}
}

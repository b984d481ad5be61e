package main

import (
	"fmt"
	"strings"

	"github.com/cwygoda/snapkeeper/internal/adapter/sqlite"
	"github.com/spf13/cobra"
)

func newSearchCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "search <text>",
		Short: "Full-text search over captured pages",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := sqlite.New(a.cfg.DBPath)
			if err != nil {
				return fmt.Errorf("initialize database: %w", err)
			}
			defer repo.Close()

			chunks, err := repo.Index().Search(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, c := range chunks {
				text := strings.ReplaceAll(c.Text, "\n", " ")
				if len(text) > 120 {
					text = text[:120] + "..."
				}
				fmt.Fprintf(out, "%d/%s page %d: %s\n", c.ArtifactID, c.Date, c.Page, text)
			}
			return nil
		},
	}
}

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/cwygoda/snapkeeper/internal/worker"
	"github.com/spf13/cobra"
)

func newDownloadCommand(a *app) *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:    "download",
		Short:  "Download one snapshot read as JSON from stdin (worker process)",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return worker.Serve(ctx, os.Stdin, os.Stdout, a.downloaders(nil), dir)
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "Directory receiving the downloaded pages")
	cmd.MarkFlagRequired("dir")
	return cmd
}

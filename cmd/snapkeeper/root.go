package main

import (
	"fmt"
	"io"
	"os"

	"github.com/cwygoda/snapkeeper/internal/adapter/downloader"
	"github.com/cwygoda/snapkeeper/internal/config"
	"github.com/cwygoda/snapkeeper/internal/download"
	"github.com/cwygoda/snapkeeper/internal/logging"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// app carries the resolved configuration shared by all subcommands.
type app struct {
	cfg    *config.Config
	logger *logrus.Logger
}

func newRootCommand() *cobra.Command {
	a := &app{cfg: config.Default()}
	a.cfg.ApplyEnv()

	cmd := &cobra.Command{
		Use:           "snapkeeper",
		Short:         "Snapkeeper captures and archives periodic snapshots of web content",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			switch a.cfg.Executor {
			case config.ExecutorInProcess, config.ExecutorSubprocess:
			default:
				return fmt.Errorf("unknown executor %q", a.cfg.Executor)
			}
			a.cfg.DBPath = config.ExpandPath(a.cfg.DBPath)
			a.cfg.DataDir = config.ExpandPath(a.cfg.DataDir)
			a.cfg.SettingsPath = config.ExpandPath(a.cfg.SettingsPath)
			a.logger = logging.NewWithOutput(logOutput(cmd), a.cfg.LogLevel, a.cfg.LogFormat)
			return nil
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&a.cfg.DBPath, "db", a.cfg.DBPath, "Path to the snapshot database")
	flags.StringVar(&a.cfg.DataDir, "data-dir", a.cfg.DataDir, "Directory holding captured pages")
	flags.StringVar(&a.cfg.SettingsPath, "settings", a.cfg.SettingsPath, "Path to the settings file")
	flags.StringVar(&a.cfg.LogLevel, "log-level", a.cfg.LogLevel, "Log level (debug, info, warn, error)")
	flags.StringVar(&a.cfg.LogFormat, "log-format", a.cfg.LogFormat, "Log format (text, json)")
	flags.DurationVar(&a.cfg.FetchTimeout, "fetch-timeout", a.cfg.FetchTimeout, "HTTP timeout of one page fetch")

	cmd.AddCommand(newServeCommand(a))
	cmd.AddCommand(newDownloadCommand(a))
	cmd.AddCommand(newReconcileCommand(a))
	cmd.AddCommand(newScheduleCommand(a))
	cmd.AddCommand(newSearchCommand(a))
	return cmd
}

// logOutput keeps stdout free for the worker protocol in the download child.
func logOutput(cmd *cobra.Command) io.Writer {
	if cmd.Name() == "download" {
		return os.Stderr
	}
	return cmd.ErrOrStderr()
}

// downloaders builds the content-type table. A nil renderer disables previews.
func (a *app) downloaders(renderer download.Renderer) *downloader.Table {
	fetcher := download.NewFetcher(download.FetcherConfig{Timeout: a.cfg.FetchTimeout})
	return downloader.NewTable(download.NewBlog(fetcher, renderer, a.logger))
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cwygoda/snapkeeper/internal/adapter/destination"
	"github.com/cwygoda/snapkeeper/internal/adapter/device"
	httpAdapter "github.com/cwygoda/snapkeeper/internal/adapter/http"
	"github.com/cwygoda/snapkeeper/internal/adapter/notify"
	"github.com/cwygoda/snapkeeper/internal/adapter/preview"
	"github.com/cwygoda/snapkeeper/internal/adapter/sqlite"
	"github.com/cwygoda/snapkeeper/internal/capture"
	"github.com/cwygoda/snapkeeper/internal/config"
	"github.com/cwygoda/snapkeeper/internal/domain"
	"github.com/cwygoda/snapkeeper/internal/jobs"
	"github.com/cwygoda/snapkeeper/internal/orchestrator"
	"github.com/cwygoda/snapkeeper/internal/schedule"
	"github.com/cwygoda/snapkeeper/internal/trigger"
	"github.com/cwygoda/snapkeeper/internal/worker"
	"github.com/spf13/cobra"
)

func newServeCommand(a *app) *cobra.Command {
	var sysfsRoot string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler and the HTTP control API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.serve(sysfsRoot)
		},
	}

	flags := cmd.Flags()
	flags.IntVarP(&a.cfg.Port, "port", "p", a.cfg.Port, "HTTP listen port")
	flags.StringVar(&a.cfg.Secret, "secret", a.cfg.Secret, "Shared secret for signed requests (empty disables signing)")
	flags.StringVar(&a.cfg.Executor, "executor", a.cfg.Executor, "Download executor (inprocess, subprocess)")
	flags.StringVar(&a.cfg.ChromeURL, "chrome-url", a.cfg.ChromeURL, "DevTools URL of a running browser for previews")
	flags.StringVar(&sysfsRoot, "sysfs", device.DefaultRoot, "sysfs mount point read for battery and wifi state")
	return cmd
}

func (a *app) serve(sysfsRoot string) error {
	log := a.logger
	log.WithField("port", a.cfg.Port).Info("starting snapkeeper")
	log.WithField("path", a.cfg.DBPath).Info("database")
	log.WithField("path", a.cfg.DataDir).Info("data dir")

	repo, err := sqlite.New(a.cfg.DBPath)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer repo.Close()

	settings, err := config.OpenSettingsStore(a.cfg.SettingsPath, log)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	registry := jobs.New(log)
	defer registry.Close()

	renderer := preview.NewRod(preview.Config{RemoteURL: a.cfg.ChromeURL}, log)
	defer renderer.Close()
	table := a.downloaders(renderer)

	var executor worker.Executor
	switch a.cfg.Executor {
	case config.ExecutorSubprocess:
		sub, err := worker.NewSubprocess("", []string{"--log-level", a.cfg.LogLevel, "--log-format", a.cfg.LogFormat, "--fetch-timeout", a.cfg.FetchTimeout.String()}, log)
		if err != nil {
			return err
		}
		executor = sub
	default:
		executor = worker.NewInProcess(table, log)
	}

	snaps := domain.NewSnapshotService(repo)
	dests := destination.NewSet()
	notifier := notify.NewLog(log)

	captures := capture.New(capture.Options{
		Snapshots:    snaps,
		Index:        repo.Index(),
		Jobs:         registry,
		Executor:     executor,
		Downloaders:  table,
		Destinations: dests,
		DataDir:      a.cfg.DataDir,
		Logger:       log,
	})

	sched := schedule.New(schedule.Options{
		Snapshots: snaps,
		Settings:  settings,
		Device:    device.NewSysfs(sysfsRoot, log),
		Notifier:  notifier,
		Capturer:  captures,
		Running:   registry,
		Logger:    log,
	})
	triggers := trigger.New(sched.Fire, log)
	sched.SetTriggers(triggers)

	orch := orchestrator.New(orchestrator.Options{
		DataDir:       a.cfg.DataDir,
		Settings:      settings,
		Jobs:          registry,
		Capture:       captures,
		Schedule:      sched,
		Triggers:      triggers,
		Destinations:  dests,
		Notifier:      notifier,
		Logger:        log,
		WatchSettings: true,
	})
	if err := orch.Start(context.Background()); err != nil {
		return err
	}

	srv := httpAdapter.NewServer(httpAdapter.Options{
		Addr:          fmt.Sprintf(":%d", a.cfg.Port),
		Secret:        a.cfg.Secret,
		Captures:      captures,
		Scheduler:     sched,
		Search:        repo.Index(),
		Errors:        orch,
		Notifications: notifier,
		Logger:        log,
	})
	if a.cfg.Secret == "" {
		log.Warn("no secret configured, mutating requests are not signed")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	srvErr := make(chan error, 1)
	go func() {
		log.WithField("addr", srv.Addr()).Info("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvErr <- err
		}
	}()

	var runErr error
	select {
	case sig := <-sigCh:
		log.WithField("signal", sig.String()).Info("shutting down")
	case runErr = <-srvErr:
		log.WithError(runErr).Error("HTTP server error")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("HTTP server shutdown error")
	}

	orch.Stop()
	log.Info("shutdown complete")
	return runErr
}

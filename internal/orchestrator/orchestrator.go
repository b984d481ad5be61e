// Package orchestrator owns the process lifetime: it repairs interrupted
// captures at startup, keeps the schedule in line with settings and running
// captures, and routes unread errors to notifications.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/cwygoda/snapkeeper/internal/capture"
	"github.com/cwygoda/snapkeeper/internal/config"
	"github.com/cwygoda/snapkeeper/internal/domain"
	"github.com/cwygoda/snapkeeper/internal/jobs"
	"github.com/cwygoda/snapkeeper/internal/schedule"
	"github.com/gofrs/flock"
	"github.com/sirupsen/logrus"
)

const subscriberTag = "orchestrator"

// LockFile is created in the data directory while an orchestrator runs.
const LockFile = ".snapkeeper.lock"

// ErrLocked is returned when another process owns the data directory.
var ErrLocked = errors.New("data directory in use by another process")

// DestinationConfigurer rebuilds the destination set from settings.
type DestinationConfigurer interface {
	Configure(dests map[string]config.Destination) error
}

// Triggers is the part of the trigger scheduler the orchestrator shuts down.
type Triggers interface {
	Close()
}

// Options holds the collaborators of an Orchestrator.
type Options struct {
	DataDir      string
	Settings     *config.SettingsStore
	Jobs         *jobs.Registry
	Capture      *capture.Manager
	Schedule     *schedule.Manager
	Triggers     Triggers
	Destinations DestinationConfigurer
	Notifier     domain.Notifier
	Logger       logrus.FieldLogger
	// WatchSettings reloads the settings file when it changes on disk.
	WatchSettings bool
}

// Orchestrator is the orchestration manager.
type Orchestrator struct {
	opts   Options
	logger logrus.FieldLogger
	lock   *flock.Flock

	mu     sync.Mutex
	unread int
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an Orchestrator.
func New(opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Orchestrator{
		opts:   opts,
		logger: logger,
		lock:   flock.New(filepath.Join(opts.DataDir, LockFile)),
	}
}

// Start locks the data directory, reconciles interrupted captures, wires the
// change subscriptions and computes the initial schedule.
func (o *Orchestrator) Start(ctx context.Context) error {
	if err := os.MkdirAll(o.opts.DataDir, 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	locked, err := o.lock.TryLock()
	if err != nil {
		return fmt.Errorf("lock data dir: %w", err)
	}
	if !locked {
		return fmt.Errorf("%w: %s", ErrLocked, o.opts.DataDir)
	}

	if _, err := o.opts.Capture.Reconcile(ctx); err != nil {
		o.lock.Unlock()
		return err
	}

	if o.opts.Destinations != nil {
		if err := o.opts.Destinations.Configure(o.opts.Settings.Current().Destinations); err != nil {
			o.logger.WithError(err).Error("orchestrator: destinations")
		}
	}

	o.opts.Capture.OnError(o.recordError)
	o.opts.Settings.Subscribe(subscriberTag, o.settingsChanged)
	o.opts.Jobs.OnJobSetChanged(subscriberTag, o.jobSetChanged)

	runCtx, cancel := context.WithCancel(context.Background())
	o.mu.Lock()
	o.cancel = cancel
	o.mu.Unlock()

	if _, err := o.opts.Schedule.UpdateSchedule(ctx); err != nil {
		o.logger.WithError(err).Error("orchestrator: initial schedule")
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.opts.Schedule.Run(runCtx)
	}()

	if o.opts.WatchSettings {
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			if err := o.opts.Settings.Watch(runCtx); err != nil {
				o.logger.WithError(err).Warn("orchestrator: settings watch stopped")
			}
		}()
	}

	o.logger.WithField("data_dir", o.opts.DataDir).Info("orchestrator: started")
	return nil
}

// Stop unwires subscriptions, stops triggers, waits for running captures to
// finish and releases the data directory.
func (o *Orchestrator) Stop() {
	o.opts.Settings.Unsubscribe(subscriberTag)
	o.opts.Jobs.Off(subscriberTag)
	if o.opts.Triggers != nil {
		o.opts.Triggers.Close()
	}

	o.mu.Lock()
	cancel := o.cancel
	o.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	o.wg.Wait()

	for _, key := range o.opts.Jobs.Running() {
		if err := o.opts.Capture.TerminateDownload(context.Background(), key.ArtifactID, key.Date); err != nil {
			o.logger.WithError(err).WithField("key", key.String()).Warn("orchestrator: cancel on shutdown")
		}
	}
	o.opts.Capture.Wait()

	if err := o.lock.Unlock(); err != nil {
		o.logger.WithError(err).Warn("orchestrator: unlock data dir")
	}
	o.logger.Info("orchestrator: stopped")
}

// UnreadErrors returns the number of errors since the last MarkErrorsRead.
func (o *Orchestrator) UnreadErrors() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.unread
}

// MarkErrorsRead clears the unread-error counter and its notification.
func (o *Orchestrator) MarkErrorsRead(ctx context.Context) {
	o.mu.Lock()
	o.unread = 0
	o.mu.Unlock()
	if o.opts.Notifier != nil {
		o.opts.Notifier.Dismiss(ctx, domain.NotifyUnreadErrors)
	}
}

func (o *Orchestrator) recordError(key domain.Key, err error) {
	o.mu.Lock()
	o.unread++
	n := o.unread
	o.mu.Unlock()

	o.logger.WithError(err).WithFields(logrus.Fields{
		"artifact_id": key.ArtifactID,
		"date":        key.Date,
		"unread":      n,
	}).Warn("orchestrator: capture error")

	if o.opts.Notifier == nil || !o.opts.Settings.Current().Notifications.Errors {
		return
	}
	o.opts.Notifier.Notify(context.Background(), domain.Notification{
		Kind:       domain.NotifyUnreadErrors,
		ArtifactID: key.ArtifactID,
		Title:      unreadTitle(n),
		Message:    err.Error(),
	})
}

func (o *Orchestrator) settingsChanged(s config.Settings) {
	if o.opts.Destinations != nil {
		if err := o.opts.Destinations.Configure(s.Destinations); err != nil {
			o.logger.WithError(err).Error("orchestrator: destinations")
		}
	}
	if !s.Notifications.Running && o.opts.Notifier != nil {
		o.opts.Notifier.Dismiss(context.Background(), domain.NotifyRunning)
	}
	o.opts.Schedule.RequestUpdate()
}

// jobSetChanged runs on the registry's broadcast goroutine. A finished
// capture changes the latest snapshot of its artifact, so it reschedules too.
func (o *Orchestrator) jobSetChanged(running []domain.Key) {
	o.opts.Schedule.RequestUpdate()

	if o.opts.Notifier == nil || !o.opts.Settings.Current().Notifications.Running {
		return
	}
	ctx := context.Background()
	if len(running) == 0 {
		o.opts.Notifier.Dismiss(ctx, domain.NotifyRunning)
		return
	}
	o.opts.Notifier.Notify(ctx, domain.Notification{
		Kind:  domain.NotifyRunning,
		Title: runningTitle(len(running)),
	})
}

func unreadTitle(n int) string {
	if n == 1 {
		return "1 unread error"
	}
	return fmt.Sprintf("%d unread errors", n)
}

func runningTitle(n int) string {
	if n == 1 {
		return "1 capture running"
	}
	return fmt.Sprintf("%d captures running", n)
}

// Package schedule computes which artifacts are due for recapture, keeps the
// pending trigger set in line with it, and runs captures when triggers fire.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cwygoda/snapkeeper/internal/config"
	"github.com/cwygoda/snapkeeper/internal/domain"
	"github.com/cwygoda/snapkeeper/internal/trigger"
	"github.com/sirupsen/logrus"
)

// SettingsSource provides the current user settings.
type SettingsSource interface {
	Current() config.Settings
}

// Capturer starts captures.
type Capturer interface {
	StartCapture(ctx context.Context, artifactID int64, date string) (*domain.Snapshot, error)
	NewDate() string
}

// RunningJobs reports the captures executing right now.
type RunningJobs interface {
	Running() []domain.Key
}

// Triggers is the delayed-execution facility.
type Triggers interface {
	Replace(jobs []domain.ScheduledJob) []string
	Pending() []trigger.Trigger
}

// Options holds the collaborators of a Manager.
type Options struct {
	Snapshots *domain.SnapshotService
	Settings  SettingsSource
	Device    domain.DeviceState
	Notifier  domain.Notifier
	Capturer  Capturer
	// Running excludes artifacts with a live capture. Optional.
	Running RunningJobs
	Logger  logrus.FieldLogger
	// Now defaults to time.Now.
	Now func() time.Time
}

// Manager is the scheduled job manager. Triggers must be attached with
// SetTriggers before UpdateSchedule is used.
type Manager struct {
	snaps    *domain.SnapshotService
	settings SettingsSource
	device   domain.DeviceState
	notifier domain.Notifier
	capturer Capturer
	running  RunningJobs
	logger   logrus.FieldLogger
	now      func() time.Time

	triggers Triggers
	updates  chan struct{}
}

// New creates a Manager.
func New(opts Options) *Manager {
	m := &Manager{
		snaps:    opts.Snapshots,
		settings: opts.Settings,
		device:   opts.Device,
		notifier: opts.Notifier,
		capturer: opts.Capturer,
		running:  opts.Running,
		logger:   opts.Logger,
		now:      opts.Now,
		updates:  make(chan struct{}, 1),
	}
	if m.logger == nil {
		m.logger = logrus.StandardLogger()
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m
}

// SetTriggers attaches the delayed-execution facility.
func (m *Manager) SetTriggers(t Triggers) {
	m.triggers = t
}

// Fire is the trigger callback: it runs the scheduled capture of job.
func (m *Manager) Fire(ctx context.Context, job domain.ScheduledJob) {
	log := m.logger.WithField("artifact_id", job.ArtifactID)
	if _, err := m.RunScheduled(ctx, job.ArtifactID, false); err != nil {
		switch {
		case errors.Is(err, domain.ErrGatingBlocked):
			log.WithError(err).Warn("schedule: capture blocked")
		case errors.Is(err, domain.ErrConcurrentRun):
			log.Info("schedule: capture already running")
		default:
			log.WithError(err).Error("schedule: capture failed to start")
		}
	}
}

// ComputeEligibleJobs evaluates recurrence against the latest snapshot of
// every artifact. Overdue artifacts get a zero delay.
func (m *Manager) ComputeEligibleJobs(ctx context.Context) ([]domain.ScheduledJob, error) {
	s := m.settings.Current()
	if !s.Recurrence.Enabled {
		return nil, nil
	}
	sched, err := s.RecurrenceSchedule()
	if err != nil {
		return nil, fmt.Errorf("recurrence schedule: %w", err)
	}
	latest, err := m.snaps.Store().GetAllLatestPerArtifact(ctx)
	if err != nil {
		return nil, fmt.Errorf("list latest snapshots: %w", err)
	}

	// After the store read: a capture that has persisted its status but not yet
	// left the registry is still excluded.
	running := m.runningArtifacts()

	now := m.now()
	jobs := make([]domain.ScheduledJob, 0, len(latest))
	for _, snap := range latest {
		if snap.Status == domain.StatusInProgress || running[snap.ArtifactID] {
			continue
		}
		last, err := domain.ParseDate(snap.Date)
		if err != nil {
			m.logger.WithFields(logrus.Fields{"artifact_id": snap.ArtifactID, "date": snap.Date}).
				Warn("schedule: unparseable snapshot date, skipping")
			continue
		}
		delay := sched.Next(last).Sub(now)
		if delay < 0 {
			delay = 0
		}
		jobs = append(jobs, domain.ScheduledJob{ArtifactID: snap.ArtifactID, Title: snap.Title, Delay: delay})
	}
	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].Delay != jobs[j].Delay {
			return jobs[i].Delay < jobs[j].Delay
		}
		return jobs[i].ArtifactID < jobs[j].ArtifactID
	})
	return jobs, nil
}

func (m *Manager) runningArtifacts() map[int64]bool {
	if m.running == nil {
		return nil
	}
	out := make(map[int64]bool)
	for _, key := range m.running.Running() {
		out[key.ArtifactID] = true
	}
	return out
}

// UpdateSchedule recomputes the eligible set and replaces all pending triggers with it.
func (m *Manager) UpdateSchedule(ctx context.Context) ([]domain.ScheduledJob, error) {
	jobs, err := m.ComputeEligibleJobs(ctx)
	if err != nil {
		return nil, err
	}
	m.triggers.Replace(jobs)
	m.logger.WithField("jobs", len(jobs)).Info("schedule: updated")
	return jobs, nil
}

// Pending returns the triggers currently waiting to fire.
func (m *Manager) Pending() []trigger.Trigger {
	if m.triggers == nil {
		return nil
	}
	return m.triggers.Pending()
}

// RequestUpdate queues a schedule update. Requests arriving while one is
// queued collapse into it, so the most recent settings always win.
func (m *Manager) RequestUpdate() {
	select {
	case m.updates <- struct{}{}:
	default:
	}
}

// Run processes queued updates until ctx is done.
func (m *Manager) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.updates:
			if _, err := m.UpdateSchedule(ctx); err != nil && ctx.Err() == nil {
				m.logger.WithError(err).Error("schedule: update failed")
			}
		}
	}
}

// RunScheduled starts a capture of artifactID now. Unless force is set the
// device gates are checked first; a failed gate persists a BLOCKED snapshot,
// raises the blocked notification and returns domain.ErrGatingBlocked.
func (m *Manager) RunScheduled(ctx context.Context, artifactID int64, force bool) (*domain.Snapshot, error) {
	if m.runningArtifacts()[artifactID] {
		return nil, fmt.Errorf("%w: artifact %d", domain.ErrConcurrentRun, artifactID)
	}
	s := m.settings.Current()
	if !force {
		if reasons := m.gateFailures(s.Gating); len(reasons) > 0 {
			return m.block(ctx, artifactID, s, strings.Join(reasons, ", "))
		}
	}
	snap, err := m.capturer.StartCapture(ctx, artifactID, "")
	if err != nil {
		return nil, err
	}
	if m.notifier != nil {
		m.notifier.Dismiss(ctx, domain.NotifySchedulingBlocked)
	}
	return snap, nil
}

func (m *Manager) gateFailures(g config.Gating) []string {
	if m.device == nil {
		return nil
	}
	var reasons []string
	if g.MinBattery > 0 && !m.device.IsBatteryAbove(g.MinBattery) {
		reasons = append(reasons, fmt.Sprintf("battery below %d%%", g.MinBattery))
	}
	if g.RequireWifi && !m.device.IsOnWifi() {
		reasons = append(reasons, "not on wifi")
	}
	return reasons
}

func (m *Manager) block(ctx context.Context, artifactID int64, s config.Settings, reason string) (*domain.Snapshot, error) {
	latest, err := m.snaps.Latest(ctx, artifactID)
	if err != nil {
		return nil, err
	}
	snap := latest.Next(m.capturer.NewDate())
	snap.Status = domain.StatusBlocked
	snap.Message = reason
	if err := m.snaps.Save(ctx, &snap); err != nil {
		return nil, fmt.Errorf("save blocked snapshot: %w", err)
	}
	if s.Notifications.Blocked && m.notifier != nil {
		m.notifier.Notify(ctx, domain.Notification{
			Kind:       domain.NotifySchedulingBlocked,
			ArtifactID: artifactID,
			Title:      snap.Title,
			Message:    reason,
		})
	}
	return &snap, fmt.Errorf("%w: %s", domain.ErrGatingBlocked, reason)
}

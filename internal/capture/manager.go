// Package capture drives a snapshot through its lifecycle: duplicate-run
// guarding, IN_PROGRESS bookkeeping, handing the download to an executor,
// and finalizing status, search index, destinations and preview.
package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/cwygoda/snapkeeper/internal/domain"
	"github.com/cwygoda/snapkeeper/internal/download"
	"github.com/cwygoda/snapkeeper/internal/jobs"
	"github.com/cwygoda/snapkeeper/internal/worker"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// maxDestinationWrites bounds concurrent destination writes of one capture.
const maxDestinationWrites = 4

// Destinations resolves a configured destination by name.
type Destinations interface {
	Get(name string) (domain.Destination, error)
}

// ErrorSink receives failures that should be surfaced to the user.
type ErrorSink func(key domain.Key, err error)

// Chunker extracts search chunks from a finished snapshot directory.
type Chunker func(dir string, key domain.Key) ([]domain.Chunk, error)

// Options holds the collaborators of a Manager.
type Options struct {
	Snapshots    *domain.SnapshotService
	Index        domain.SearchIndex
	Jobs         *jobs.Registry
	Executor     worker.Executor
	Downloaders  worker.Downloaders
	Destinations Destinations
	DataDir      string
	Logger       logrus.FieldLogger
	// Chunker defaults to download.Chunks.
	Chunker Chunker
	// Now defaults to time.Now.
	Now func() time.Time
}

// Manager is the snapshot operation manager.
type Manager struct {
	snaps        *domain.SnapshotService
	index        domain.SearchIndex
	jobs         *jobs.Registry
	executor     worker.Executor
	downloaders  worker.Downloaders
	destinations Destinations
	dataDir      string
	logger       logrus.FieldLogger
	chunker      Chunker
	now          func() time.Time

	mu      sync.RWMutex
	onError ErrorSink

	wg sync.WaitGroup
}

// New creates a Manager.
func New(opts Options) *Manager {
	m := &Manager{
		snaps:        opts.Snapshots,
		index:        opts.Index,
		jobs:         opts.Jobs,
		executor:     opts.Executor,
		downloaders:  opts.Downloaders,
		destinations: opts.Destinations,
		dataDir:      opts.DataDir,
		logger:       opts.Logger,
		chunker:      opts.Chunker,
		now:          opts.Now,
	}
	if m.logger == nil {
		m.logger = logrus.StandardLogger()
	}
	if m.chunker == nil {
		m.chunker = download.Chunks
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m
}

// OnError installs the sink for user-visible failures.
func (m *Manager) OnError(sink ErrorSink) {
	m.mu.Lock()
	m.onError = sink
	m.mu.Unlock()
}

// Snapshots returns the snapshot service the manager writes through.
func (m *Manager) Snapshots() *domain.SnapshotService {
	return m.snaps
}

// Jobs returns the running job registry.
func (m *Manager) Jobs() *jobs.Registry {
	return m.jobs
}

// Dir returns the local data directory of a snapshot.
func (m *Manager) Dir(key domain.Key) string {
	return filepath.Join(m.artifactDir(key.ArtifactID), key.Date)
}

func (m *Manager) artifactDir(id int64) string {
	return filepath.Join(m.dataDir, strconv.FormatInt(id, 10))
}

// NewDate returns the date string for a capture starting now.
func (m *Manager) NewDate() string {
	return domain.FormatDate(m.now())
}

// StartCapture begins a capture of artifactID at date. An existing record
// with the same key is retried if its status allows it; otherwise the latest snapshot of the artifact
// is the template. An empty date means now.
func (m *Manager) StartCapture(ctx context.Context, artifactID int64, date string) (*domain.Snapshot, error) {
	if date == "" {
		date = m.NewDate()
	}
	key := domain.Key{ArtifactID: artifactID, Date: date}
	if m.jobs.IsRunning(key) {
		return nil, fmt.Errorf("%w: %s", domain.ErrConcurrentRun, key)
	}

	snap, err := m.snaps.Get(ctx, key)
	if err == nil && !snap.Status.Retryable() {
		return nil, fmt.Errorf("%w: %s is %s", domain.ErrSnapshotFinal, key, snap.Status)
	}
	if errors.Is(err, domain.ErrSnapshotNotFound) {
		latest, lerr := m.snaps.Latest(ctx, artifactID)
		if lerr != nil {
			return nil, lerr
		}
		next := latest.Next(date)
		snap = &next
	} else if err != nil {
		return nil, err
	}
	return m.start(ctx, *snap)
}

// CreateArtifact starts the first capture of a new artifact from template.
func (m *Manager) CreateArtifact(ctx context.Context, template domain.Snapshot) (*domain.Snapshot, error) {
	if template.Date == "" {
		template.Date = m.NewDate()
	}
	existing, err := m.snaps.Store().GetForArtifact(ctx, template.ArtifactID)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return nil, fmt.Errorf("%w: artifact %d already exists", domain.ErrInvalidSnapshot, template.ArtifactID)
	}
	return m.start(ctx, template.Next(template.Date))
}

func (m *Manager) start(ctx context.Context, snap domain.Snapshot) (*domain.Snapshot, error) {
	if err := snap.Validate(); err != nil {
		return nil, err
	}
	if _, err := m.downloaders.Get(snap.Type); err != nil {
		return nil, err
	}

	key := snap.Key()
	jobCtx, cancel := context.WithCancel(context.Background())
	if !m.jobs.Start(key, cancel) {
		cancel()
		return nil, fmt.Errorf("%w: %s", domain.ErrConcurrentRun, key)
	}

	snap.Status = domain.StatusInProgress
	snap.Message = ""
	if err := m.snaps.Save(ctx, &snap); err != nil {
		m.jobs.Finish(key)
		cancel()
		return nil, fmt.Errorf("save snapshot: %w", err)
	}

	m.log(key).WithField("title", snap.Title).Info("capture: started")
	m.wg.Add(1)
	go m.run(jobCtx, cancel, snap)
	return &snap, nil
}

func (m *Manager) run(ctx context.Context, cancel context.CancelFunc, snap domain.Snapshot) {
	defer m.wg.Done()
	defer cancel()
	key := snap.Key()
	res := m.executor.Run(ctx, snap, m.Dir(key), func(msg string) {
		m.jobs.ReportProgress(key, msg)
	})
	if _, err := m.ContinueSavingSnapshot(context.Background(), key, res); err != nil {
		m.log(key).WithError(err).Error("capture: finalize failed")
	}
}

// ContinueSavingSnapshot finalizes a capture after its download finished.
// It returns false without side effects when the key is no longer running,
// which makes repeated calls for the same result no-ops.
func (m *Manager) ContinueSavingSnapshot(ctx context.Context, key domain.Key, res worker.Result) (bool, error) {
	status := domain.StatusDownloadFailed
	if res.Success {
		status = domain.StatusComplete
		if res.Partial {
			status = domain.StatusIncomplete
		}
	}

	// The terminal status is written while the key is still claimed, so
	// job-set listeners never see the job gone with IN_PROGRESS stored.
	var (
		snap *domain.Snapshot
		err  error
	)
	if !m.jobs.FinishWith(key, func() {
		snap, err = m.snaps.SetStatus(ctx, key, status, res.Message)
	}) {
		return false, nil
	}
	if err != nil {
		m.report(key, fmt.Errorf("persist status: %w", err))
		return true, err
	}
	m.log(key).WithFields(logrus.Fields{"status": status, "pages": res.Pages}).Info("capture: finished")

	dir := m.Dir(key)
	if status == domain.StatusDownloadFailed {
		msg := res.Message
		if msg == "" {
			msg = "download failed"
		}
		m.report(key, errors.New(msg))
	} else {
		m.indexSnapshot(ctx, key, dir)
	}
	m.writeDestinations(ctx, *snap, dir)
	m.generatePreview(ctx, *snap, dir)
	return true, nil
}

func (m *Manager) indexSnapshot(ctx context.Context, key domain.Key, dir string) {
	chunks, err := m.chunker(dir, key)
	if err == nil {
		err = m.index.RemoveForSnapshot(ctx, key.ArtifactID, key.Date)
	}
	if err == nil {
		err = m.index.Add(ctx, chunks)
	}
	if err != nil {
		m.log(key).WithError(err).Error("capture: search index update failed")
		m.report(key, fmt.Errorf("search index: %w", err))
		return
	}
	m.log(key).WithField("chunks", len(chunks)).Debug("capture: indexed")
}

// writeDestinations writes snap to every configured destination. Each write
// is independent; failures are logged and reported.
func (m *Manager) writeDestinations(ctx context.Context, snap domain.Snapshot, dir string) {
	if len(snap.Destinations) == 0 || m.destinations == nil {
		return
	}
	key := snap.Key()
	var g errgroup.Group
	g.SetLimit(maxDestinationWrites)
	for _, name := range snap.Destinations {
		g.Go(func() error {
			log := m.log(key).WithField("destination", name)
			dest, err := m.destinations.Get(name)
			if err == nil {
				err = dest.Write(ctx, snap, dir)
			}
			if err != nil {
				log.WithError(err).Error("capture: destination write failed")
				m.report(key, fmt.Errorf("destination %s: %w", name, err))
				return nil
			}
			log.Info("capture: destination written")
			return nil
		})
	}
	g.Wait()
}

func (m *Manager) generatePreview(ctx context.Context, snap domain.Snapshot, dir string) {
	key := snap.Key()
	d, err := m.downloaders.Get(snap.Type)
	if err != nil {
		return
	}
	path, err := d.GeneratePreview(ctx, snap, dir)
	switch {
	case errors.Is(err, download.ErrNoPages):
		m.log(key).Debug("capture: no pages to preview")
	case err != nil:
		m.log(key).WithError(err).Warn("capture: preview failed")
	case path != "":
		m.log(key).WithField("path", path).Debug("capture: preview generated")
	}
}

// TerminateDownload cancels a running capture and records it as INCOMPLETE
// before returning.
func (m *Manager) TerminateDownload(ctx context.Context, artifactID int64, date string) error {
	key := domain.Key{ArtifactID: artifactID, Date: date}
	var err error
	if !m.jobs.CancelWith(key, func() {
		_, err = m.snaps.SetStatus(ctx, key, domain.StatusIncomplete, "cancelled")
	}) {
		return fmt.Errorf("%w: %s", domain.ErrNotRunning, key)
	}
	if err != nil {
		return fmt.Errorf("persist cancellation: %w", err)
	}
	m.log(key).Info("capture: cancelled")
	return nil
}

// Reconcile demotes every IN_PROGRESS record left by a previous process.
func (m *Manager) Reconcile(ctx context.Context) (int64, error) {
	n, err := m.snaps.DemoteInProgress(ctx)
	if err != nil {
		return n, fmt.Errorf("reconcile: %w", err)
	}
	if n > 0 {
		m.logger.WithField("count", n).Warn("capture: demoted interrupted snapshots")
	}
	return n, nil
}

// DeleteArtifact cancels running captures of the artifact and removes its
// metadata, search entries and local data.
func (m *Manager) DeleteArtifact(ctx context.Context, artifactID int64) error {
	snaps, err := m.snaps.Store().GetForArtifact(ctx, artifactID)
	if err != nil {
		return err
	}
	if len(snaps) == 0 {
		return fmt.Errorf("%w: %d", domain.ErrArtifactNotFound, artifactID)
	}
	for _, key := range m.jobs.Running() {
		if key.ArtifactID == artifactID {
			m.jobs.Cancel(key)
		}
	}
	if err := m.snaps.Store().RemoveForArtifact(ctx, artifactID); err != nil {
		return fmt.Errorf("remove metadata: %w", err)
	}
	if err := m.index.RemoveForArtifact(ctx, artifactID); err != nil {
		m.logger.WithError(err).WithField("artifact_id", artifactID).Error("capture: search cleanup failed")
	}
	if err := os.RemoveAll(m.artifactDir(artifactID)); err != nil {
		m.logger.WithError(err).WithField("artifact_id", artifactID).Error("capture: data cleanup failed")
	}
	m.logger.WithField("artifact_id", artifactID).Info("capture: artifact deleted")
	return nil
}

// DeleteSnapshot removes one snapshot, cancelling it first if running.
func (m *Manager) DeleteSnapshot(ctx context.Context, key domain.Key) error {
	if _, err := m.snaps.Get(ctx, key); err != nil {
		return err
	}
	m.jobs.Cancel(key)
	if err := m.snaps.Store().RemoveSnapshot(ctx, key.ArtifactID, key.Date); err != nil {
		return fmt.Errorf("remove metadata: %w", err)
	}
	if err := m.index.RemoveForSnapshot(ctx, key.ArtifactID, key.Date); err != nil {
		m.log(key).WithError(err).Error("capture: search cleanup failed")
	}
	if err := os.RemoveAll(m.Dir(key)); err != nil {
		m.log(key).WithError(err).Error("capture: data cleanup failed")
	}
	m.log(key).Info("capture: snapshot deleted")
	return nil
}

// Wait blocks until every capture goroutine has returned.
func (m *Manager) Wait() {
	m.wg.Wait()
}

func (m *Manager) report(key domain.Key, err error) {
	m.mu.RLock()
	sink := m.onError
	m.mu.RUnlock()
	if sink != nil {
		sink(key, err)
	}
}

func (m *Manager) log(key domain.Key) logrus.FieldLogger {
	return m.logger.WithFields(logrus.Fields{"artifact_id": key.ArtifactID, "date": key.Date})
}

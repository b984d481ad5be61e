// Package trigger is the in-process delayed-execution facility used for
// scheduled captures.
package trigger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cwygoda/snapkeeper/internal/domain"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Func is invoked when a trigger fires.
type Func func(ctx context.Context, job domain.ScheduledJob)

// Trigger is a pending delayed execution.
type Trigger struct {
	ID  string              `json:"id"`
	Job domain.ScheduledJob `json:"job"`
	At  time.Time           `json:"at"`
}

type entry struct {
	Trigger
	timer *time.Timer
}

// Scheduler holds pending triggers keyed by ID.
type Scheduler struct {
	fire   Func
	logger logrus.FieldLogger
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	pending map[string]*entry
	wg      sync.WaitGroup
}

// New creates a Scheduler invoking fire for each trigger that comes due.
func New(fire Func, logger logrus.FieldLogger) *Scheduler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		fire:    fire,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		pending: make(map[string]*entry),
	}
}

// Schedule adds a trigger firing after job.Delay and returns its ID.
func (s *Scheduler) Schedule(job domain.ScheduledJob) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scheduleLocked(job)
}

func (s *Scheduler) scheduleLocked(job domain.ScheduledJob) string {
	id := uuid.NewString()
	e := &entry{Trigger: Trigger{ID: id, Job: job, At: time.Now().Add(job.Delay)}}
	e.timer = time.AfterFunc(job.Delay, func() { s.run(id) })
	s.pending[id] = e
	return id
}

// Replace cancels every pending trigger and schedules jobs, as one step.
func (s *Scheduler) Replace(jobs []domain.ScheduledJob) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelAllLocked()
	ids := make([]string, 0, len(jobs))
	for _, job := range jobs {
		ids = append(ids, s.scheduleLocked(job))
	}
	s.logger.WithField("count", len(jobs)).Debug("trigger: pending set replaced")
	return ids
}

// Cancel removes a pending trigger.
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.pending[id]
	if !ok {
		return false
	}
	e.timer.Stop()
	delete(s.pending, id)
	return true
}

// CancelAll removes every pending trigger.
func (s *Scheduler) CancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelAllLocked()
}

func (s *Scheduler) cancelAllLocked() {
	for id, e := range s.pending {
		e.timer.Stop()
		delete(s.pending, id)
	}
}

// Pending returns the pending triggers ordered by due time.
func (s *Scheduler) Pending() []Trigger {
	s.mu.Lock()
	out := make([]Trigger, 0, len(s.pending))
	for _, e := range s.pending {
		out = append(out, e.Trigger)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].At.Equal(out[j].At) {
			return out[i].At.Before(out[j].At)
		}
		return out[i].Job.ArtifactID < out[j].Job.ArtifactID
	})
	return out
}

// Close cancels pending triggers and waits for running ones to return.
func (s *Scheduler) Close() {
	s.CancelAll()
	s.cancel()
	s.wg.Wait()
}

func (s *Scheduler) run(id string) {
	s.mu.Lock()
	e, ok := s.pending[id]
	if ok {
		delete(s.pending, id)
		s.wg.Add(1)
	}
	s.mu.Unlock()
	if !ok {
		// Superseded by Replace or Cancel after the timer fired.
		return
	}
	defer s.wg.Done()
	if s.ctx.Err() != nil {
		return
	}
	s.logger.WithFields(logrus.Fields{"trigger": id, "artifact_id": e.Job.ArtifactID}).Info("trigger: fired")
	s.fire(s.ctx, e.Job)
}

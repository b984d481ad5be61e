// Package jobs tracks the captures currently executing in this process.
//
// The Registry is the single source of truth for "is X downloading". It owns
// the cancellation handle of every running job, the most recent progress
// message of each job, and the listeners interested in either.
package jobs

import (
	"sort"
	"sync"

	"github.com/cwygoda/snapkeeper/internal/domain"
	"github.com/sirupsen/logrus"
)

// ProgressListener receives progress messages of one job, in report order.
type ProgressListener func(message string)

// SetListener receives the full set of running job keys after a mutation.
type SetListener func(running []domain.Key)

type job struct {
	cancel func()
	// ending is set while a Cancel or Finish callback runs. The job stays
	// registered, but no other Cancel or Finish may claim it.
	ending bool
}

// Subscription identifies one progress listener of a job.
type Subscription uint64

type subscriber struct {
	listener ProgressListener
	queue    []string
	draining bool
	closed   bool
}

// progress serializes delivery to each subscriber without holding the
// registry lock. Whoever enqueues first drains; reentrant reports only enqueue.
type progress struct {
	mu     sync.Mutex
	recent string
	has    bool
	subs   map[Subscription]*subscriber
}

// drainLocked must be called with p.mu held and returns with it released.
func (p *progress) drainLocked(sub *subscriber) {
	if sub.draining {
		p.mu.Unlock()
		return
	}
	sub.draining = true
	for len(sub.queue) > 0 && !sub.closed {
		msg := sub.queue[0]
		sub.queue = sub.queue[1:]
		p.mu.Unlock()
		sub.listener(msg)
		p.mu.Lock()
	}
	sub.draining = false
	p.mu.Unlock()
}

// Registry holds running jobs and their listeners.
type Registry struct {
	mu           sync.Mutex
	jobs         map[domain.Key]*job
	progress     map[domain.Key]*progress
	setListeners map[string]SetListener
	nextSub      Subscription

	changed   chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	logger    logrus.FieldLogger
}

// New creates a Registry and starts its job-set broadcaster.
func New(logger logrus.FieldLogger) *Registry {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	r := &Registry{
		jobs:         make(map[domain.Key]*job),
		progress:     make(map[domain.Key]*progress),
		setListeners: make(map[string]SetListener),
		changed:      make(chan struct{}, 1),
		done:         make(chan struct{}),
		logger:       logger,
	}
	go r.broadcast()
	return r
}

// Close stops the broadcaster. Pending broadcasts are dropped.
func (r *Registry) Close() {
	r.closeOnce.Do(func() { close(r.done) })
}

// Start registers a job. It returns false, leaving the registry untouched,
// if a job with the same key is already running.
func (r *Registry) Start(key domain.Key, cancel func()) bool {
	r.mu.Lock()
	if _, ok := r.jobs[key]; ok {
		r.mu.Unlock()
		return false
	}
	r.jobs[key] = &job{cancel: cancel}
	r.mu.Unlock()

	r.logger.WithField("job", key.String()).Debug("jobs: started")
	r.signal()
	return true
}

// IsRunning reports whether a job is registered for key.
func (r *Registry) IsRunning(key domain.Key) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.jobs[key]
	return ok
}

// Cancel invokes the job's cancellation handle and removes it.
// It returns false if no such job was running.
func (r *Registry) Cancel(key domain.Key) bool {
	return r.CancelWith(key, nil)
}

// CancelWith is Cancel with fn run after the cancellation handle and before
// the job is removed. While fn runs the key still counts as running, so a
// Start of the same key fails and state written by fn cannot race a new run.
func (r *Registry) CancelWith(key domain.Key, fn func()) bool {
	j, ok := r.claim(key)
	if !ok {
		return false
	}
	if j.cancel != nil {
		j.cancel()
	}
	if fn != nil {
		fn()
	}
	r.remove(key)
	r.logger.WithField("job", key.String()).Debug("jobs: cancelled")
	return true
}

// Finish removes a job that ended on its own. It returns false if the job
// was not registered, which makes repeated completion signals a no-op.
func (r *Registry) Finish(key domain.Key) bool {
	return r.FinishWith(key, nil)
}

// FinishWith is Finish with fn run before the job is removed, so listeners
// of the job-set broadcast observe whatever fn persisted.
func (r *Registry) FinishWith(key domain.Key, fn func()) bool {
	if _, ok := r.claim(key); !ok {
		return false
	}
	if fn != nil {
		fn()
	}
	r.remove(key)
	r.logger.WithField("job", key.String()).Debug("jobs: finished")
	return true
}

// claim marks a registered job as ending.
func (r *Registry) claim(key domain.Key) (*job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[key]
	if !ok || j.ending {
		return nil, false
	}
	j.ending = true
	return j, true
}

func (r *Registry) remove(key domain.Key) {
	r.mu.Lock()
	p := r.progress[key]
	delete(r.jobs, key)
	delete(r.progress, key)
	r.mu.Unlock()
	if p != nil {
		p.mu.Lock()
		for _, sub := range p.subs {
			sub.closed = true
			sub.queue = nil
		}
		p.mu.Unlock()
	}
	r.signal()
}

// Running returns the keys of all running jobs, ordered by artifact then date.
func (r *Registry) Running() []domain.Key {
	r.mu.Lock()
	keys := make([]domain.Key, 0, len(r.jobs))
	for k := range r.jobs {
		keys = append(keys, k)
	}
	r.mu.Unlock()
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].ArtifactID != keys[j].ArtifactID {
			return keys[i].ArtifactID < keys[j].ArtifactID
		}
		return keys[i].Date < keys[j].Date
	})
	return keys
}

// Recent returns the last progress message reported for key.
func (r *Registry) Recent(key domain.Key) (string, bool) {
	r.mu.Lock()
	p, ok := r.progress[key]
	r.mu.Unlock()
	if !ok {
		return "", false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.recent, p.has
}

// ReportProgress stores message as the most recent progress of a running
// job and forwards it to every listener of the job. Reports for unknown jobs are dropped.
func (r *Registry) ReportProgress(key domain.Key, message string) {
	r.mu.Lock()
	if _, ok := r.jobs[key]; !ok {
		r.mu.Unlock()
		return
	}
	p := r.progressLocked(key)
	r.mu.Unlock()

	p.mu.Lock()
	p.recent = message
	p.has = true
	subs := make([]*subscriber, 0, len(p.subs))
	for _, sub := range p.subs {
		sub.queue = append(sub.queue, message)
		subs = append(subs, sub)
	}
	p.mu.Unlock()

	for _, sub := range subs {
		p.mu.Lock()
		p.drainLocked(sub)
	}
}

// OnProgress adds a progress listener to key and returns its subscription.
// If progress was already reported, the most recent message is delivered
// before any later report.
func (r *Registry) OnProgress(key domain.Key, l ProgressListener) Subscription {
	r.mu.Lock()
	p := r.progressLocked(key)
	r.nextSub++
	id := r.nextSub
	r.mu.Unlock()

	sub := &subscriber{listener: l}
	p.mu.Lock()
	if p.has {
		sub.queue = append(sub.queue, p.recent)
	}
	p.subs[id] = sub
	p.drainLocked(sub)
	return id
}

// OffProgress removes one progress listener of key. Other listeners stay.
func (r *Registry) OffProgress(key domain.Key, id Subscription) {
	r.mu.Lock()
	p, ok := r.progress[key]
	r.mu.Unlock()
	if !ok {
		return
	}
	p.mu.Lock()
	if sub, ok := p.subs[id]; ok {
		sub.closed = true
		sub.queue = nil
		delete(p.subs, id)
	}
	p.mu.Unlock()
}

func (r *Registry) progressLocked(key domain.Key) *progress {
	p, ok := r.progress[key]
	if !ok {
		p = &progress{subs: make(map[Subscription]*subscriber)}
		r.progress[key] = p
	}
	return p
}

// OnJobSetChanged registers a job-set listener under tag, replacing any
// listener with the same tag. The listener receives the current set shortly after.
func (r *Registry) OnJobSetChanged(tag string, l SetListener) {
	r.mu.Lock()
	r.setListeners[tag] = l
	r.mu.Unlock()
	r.signal()
}

// Off removes the job-set listener registered under tag.
func (r *Registry) Off(tag string) {
	r.mu.Lock()
	delete(r.setListeners, tag)
	r.mu.Unlock()
}

// signal schedules a broadcast. Bursts of mutations coalesce into one.
func (r *Registry) signal() {
	select {
	case r.changed <- struct{}{}:
	default:
	}
}

// broadcast delivers job-set snapshots from a single goroutine, so listeners
// never run on the caller's stack and never observe sets out of order.
func (r *Registry) broadcast() {
	for {
		select {
		case <-r.done:
			return
		case <-r.changed:
		}

		running := r.Running()
		r.mu.Lock()
		tags := make([]string, 0, len(r.setListeners))
		for tag := range r.setListeners {
			tags = append(tags, tag)
		}
		sort.Strings(tags)
		listeners := make([]SetListener, 0, len(tags))
		for _, tag := range tags {
			listeners = append(listeners, r.setListeners[tag])
		}
		r.mu.Unlock()

		for _, l := range listeners {
			l(append([]domain.Key(nil), running...))
		}
	}
}

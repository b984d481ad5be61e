// Package notify surfaces user-facing conditions.
package notify

import (
	"context"
	"sort"
	"sync"

	"github.com/cwygoda/snapkeeper/internal/domain"
	"github.com/sirupsen/logrus"
)

// Log implements domain.Notifier by logging and keeping the active
// notification per kind for the API to show.
type Log struct {
	logger logrus.FieldLogger

	mu     sync.Mutex
	active map[domain.NotificationKind]domain.Notification
}

func NewLog(logger logrus.FieldLogger) *Log {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Log{logger: logger, active: make(map[domain.NotificationKind]domain.Notification)}
}

func (l *Log) Notify(ctx context.Context, n domain.Notification) {
	l.mu.Lock()
	l.active[n.Kind] = n
	l.mu.Unlock()

	entry := l.logger.WithFields(logrus.Fields{"kind": n.Kind, "title": n.Title})
	if n.ArtifactID != 0 {
		entry = entry.WithField("artifact_id", n.ArtifactID)
	}
	switch n.Kind {
	case domain.NotifyRunning:
		entry.Debug(n.Message)
	default:
		entry.Warn(n.Message)
	}
}

func (l *Log) Dismiss(ctx context.Context, kind domain.NotificationKind) {
	l.mu.Lock()
	_, ok := l.active[kind]
	delete(l.active, kind)
	l.mu.Unlock()
	if ok {
		l.logger.WithField("kind", kind).Debug("notification dismissed")
	}
}

// Active returns the current notifications ordered by kind.
func (l *Log) Active() []domain.Notification {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.Notification, 0, len(l.active))
	for _, n := range l.active {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Kind < out[j].Kind })
	return out
}

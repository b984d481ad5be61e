package domain

import (
	"fmt"
	"strings"
	"time"
)

// Status represents the lifecycle state of a snapshot.
type Status string

const (
	// StatusScheduled only appears in scheduler output, never in the store.
	StatusScheduled      Status = "SCHEDULED"
	StatusInProgress     Status = "IN_PROGRESS"
	StatusComplete       Status = "COMPLETE"
	StatusIncomplete     Status = "INCOMPLETE"
	StatusDownloadFailed Status = "DOWNLOAD_FAILED"
	StatusBlocked        Status = "BLOCKED"
)

// Terminal returns true if no running job can still change the status.
func (s Status) Terminal() bool {
	switch s {
	case StatusComplete, StatusIncomplete, StatusDownloadFailed, StatusBlocked:
		return true
	}
	return false
}

// Retryable returns true if a capture may be re-triggered for the same key.
// Every other stored status is final.
func (s Status) Retryable() bool {
	return s == StatusIncomplete || s == StatusDownloadFailed
}

// ContentType selects the downloader that captures a snapshot.
type ContentType string

const (
	ContentBlog ContentType = "blog"
)

// DateLayout is the version marker format. Fixed width UTC, so lexical order is temporal.
const DateLayout = "2006-01-02T15-04-05Z"

// FormatDate renders t as a snapshot date string.
func FormatDate(t time.Time) string {
	return t.UTC().Format(DateLayout)
}

// ParseDate parses a snapshot date string.
func ParseDate(s string) (time.Time, error) {
	return time.Parse(DateLayout, s)
}

// Key identifies a snapshot and the job capturing it.
type Key struct {
	ArtifactID int64  `json:"artifact_id"`
	Date       string `json:"date"`
}

func (k Key) String() string {
	return fmt.Sprintf("%d/%s", k.ArtifactID, k.Date)
}

// Snapshot is one capture attempt of an artifact.
type Snapshot struct {
	ArtifactID   int64             `json:"artifact_id" yaml:"artifact_id"`
	Date         string            `json:"date" yaml:"date"`
	Title        string            `json:"title" yaml:"title"`
	Tags         []string          `json:"tags,omitempty" yaml:"tags,omitempty"`
	Type         ContentType       `json:"type" yaml:"type"`
	Params       map[string]string `json:"params,omitempty" yaml:"params,omitempty"`
	Destinations []string          `json:"destinations,omitempty" yaml:"destinations,omitempty"`
	Status       Status            `json:"status" yaml:"status"`
	Description  string            `json:"description,omitempty" yaml:"description,omitempty"`
	Message      string            `json:"message,omitempty" yaml:"message,omitempty"`
}

// Key returns the composite identity of the snapshot.
func (s Snapshot) Key() Key {
	return Key{ArtifactID: s.ArtifactID, Date: s.Date}
}

// Next returns a copy of s usable as the template of a new capture at date.
func (s *Snapshot) Next(date string) Snapshot {
	next := *s
	next.Date = date
	next.Status = StatusScheduled
	next.Message = ""
	next.Tags = append([]string(nil), s.Tags...)
	next.Destinations = append([]string(nil), s.Destinations...)
	if s.Params != nil {
		next.Params = make(map[string]string, len(s.Params))
		for k, v := range s.Params {
			next.Params[k] = v
		}
	}
	return next
}

// Validate checks the fields the engine relies on.
func (s *Snapshot) Validate() error {
	if s.ArtifactID < 0 {
		return fmt.Errorf("%w: negative artifact id", ErrInvalidSnapshot)
	}
	if strings.TrimSpace(s.Date) == "" {
		return fmt.Errorf("%w: empty date", ErrInvalidSnapshot)
	}
	if s.Type == "" {
		return fmt.Errorf("%w: missing content type", ErrInvalidSnapshot)
	}
	return nil
}

// ScheduledJob is a computed, non-persisted future capture.
type ScheduledJob struct {
	ArtifactID int64         `json:"artifact_id"`
	Title      string        `json:"title"`
	Delay      time.Duration `json:"delay"`
}

// Chunk is a unit of searchable text from a captured page.
type Chunk struct {
	ID         string `json:"id"`
	ArtifactID int64  `json:"artifact_id"`
	Date       string `json:"date"`
	Page       int    `json:"page"`
	Text       string `json:"text"`
}

// DownloadResult is what a downloader reports after a multi-page fetch.
type DownloadResult struct {
	Path    string
	Pages   int
	Partial bool
}

// NotificationKind classifies user-facing conditions.
type NotificationKind string

const (
	NotifySchedulingBlocked NotificationKind = "scheduling_blocked"
	NotifyUnreadErrors      NotificationKind = "unread_errors"
	NotifyRunning           NotificationKind = "running"
)

// Notification is a user-facing condition routed to a Notifier.
type Notification struct {
	Kind       NotificationKind `json:"kind"`
	ArtifactID int64            `json:"artifact_id,omitempty"`
	Title      string           `json:"title"`
	Message    string           `json:"message,omitempty"`
}

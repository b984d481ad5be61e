// Package worker runs captures, either in the calling process or in a
// child `snapkeeper download` process that reports over a JSON-lines pipe.
package worker

import (
	"context"
	"errors"

	"github.com/cwygoda/snapkeeper/internal/domain"
	"github.com/sirupsen/logrus"
)

// Downloaders resolves the downloader for a content type.
type Downloaders interface {
	Get(t domain.ContentType) (domain.Downloader, error)
}

// Result is the outcome of one capture run, as handed back to the capture manager.
type Result struct {
	Success bool
	Partial bool
	Pages   int
	Message string
	Path    string
}

// Executor runs the download of snap into dir. It always produces a Result;
// failures are described by Success and Message.
type Executor interface {
	Run(ctx context.Context, snap domain.Snapshot, dir string, progress domain.ProgressFunc) Result
}

// ResultOf converts a downloader return into a Result.
// Zero pages counts as partial data, not as a failure.
func ResultOf(res domain.DownloadResult, err error) Result {
	r := Result{Pages: res.Pages, Path: res.Path}
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		r.Message = "cancelled"
	case err != nil:
		r.Message = err.Error()
	case res.Pages == 0:
		r.Success = true
		r.Partial = true
		r.Message = "no pages downloaded"
	case res.Partial:
		r.Success = true
		r.Partial = true
		r.Message = "page limit reached"
	default:
		r.Success = true
	}
	return r
}

// InProcess runs downloads on the calling goroutine.
type InProcess struct {
	downloaders Downloaders
	logger      logrus.FieldLogger
}

// NewInProcess creates an in-process executor.
func NewInProcess(downloaders Downloaders, logger logrus.FieldLogger) *InProcess {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &InProcess{downloaders: downloaders, logger: logger}
}

func (e *InProcess) Run(ctx context.Context, snap domain.Snapshot, dir string, progress domain.ProgressFunc) Result {
	d, err := e.downloaders.Get(snap.Type)
	if err != nil {
		return Result{Message: err.Error()}
	}
	e.logger.WithFields(logrus.Fields{
		"artifact_id": snap.ArtifactID,
		"date":        snap.Date,
		"type":        snap.Type,
	}).Info("worker: download started")
	return ResultOf(d.DownloadData(ctx, snap, dir, progress))
}

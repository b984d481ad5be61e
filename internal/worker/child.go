package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/cwygoda/snapkeeper/internal/domain"
)

// Serve is the child side of the subprocess executor. It reads one snapshot
// as JSON from in, downloads it into dir and streams messages to out, ending
// with a done message. The returned error only reports channel failures.
func Serve(ctx context.Context, in io.Reader, out io.Writer, downloaders Downloaders, dir string) error {
	var snap domain.Snapshot
	if err := json.NewDecoder(in).Decode(&snap); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}
	key := snap.Key()
	w := NewWriter(out)

	var writeErr error
	progress := func(msg string) {
		if err := w.Write(Message{ArtifactID: key.ArtifactID, Date: key.Date, Progress: msg}); err != nil && writeErr == nil {
			writeErr = err
		}
	}

	var res Result
	if d, err := downloaders.Get(snap.Type); err != nil {
		res = Result{Message: err.Error()}
	} else {
		res = ResultOf(d.DownloadData(ctx, snap, dir, progress))
	}

	if err := w.Write(DoneMessage(key, res)); err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	return writeErr
}

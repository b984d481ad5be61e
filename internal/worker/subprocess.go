package worker

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/cwygoda/snapkeeper/internal/domain"
	"github.com/sirupsen/logrus"
)

// maxStderr bounds the child stderr kept for error messages.
const maxStderr = 4096

// Subprocess runs each download in a child process speaking the Message protocol.
type Subprocess struct {
	binary string
	args   []string
	logger logrus.FieldLogger
}

// NewSubprocess creates an executor invoking `binary [args...] download --dir <dir>`.
// An empty binary means the running executable.
func NewSubprocess(binary string, args []string, logger logrus.FieldLogger) (*Subprocess, error) {
	if binary == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("resolve executable: %w", err)
		}
		binary = exe
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Subprocess{binary: binary, args: args, logger: logger}, nil
}

func (e *Subprocess) Run(ctx context.Context, snap domain.Snapshot, dir string, progress domain.ProgressFunc) Result {
	log := e.logger.WithFields(logrus.Fields{"artifact_id": snap.ArtifactID, "date": snap.Date})

	input, err := json.Marshal(snap)
	if err != nil {
		return Result{Message: fmt.Sprintf("encode snapshot: %v", err)}
	}

	args := append(append([]string{}, e.args...), "download", "--dir", dir)
	cmd := exec.CommandContext(ctx, e.binary, args...)
	cmd.Stdin = bytes.NewReader(input)
	stderr := &limitedBuffer{max: maxStderr}
	cmd.Stderr = stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Result{Message: fmt.Sprintf("stdout pipe: %v", err)}
	}
	if err := cmd.Start(); err != nil {
		return Result{Message: fmt.Sprintf("start worker: %v", err)}
	}
	log.WithField("pid", cmd.Process.Pid).Debug("worker: child started")

	var final *Result
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		var m Message
		if err := json.Unmarshal(scanner.Bytes(), &m); err != nil {
			log.WithError(err).Warn("worker: malformed message")
			continue
		}
		if m.Key() != snap.Key() {
			log.WithField("got", m.Key().String()).Warn("worker: message for another snapshot")
			continue
		}
		if m.Done {
			r := m.Result()
			final = &r
			continue
		}
		if progress != nil && m.Progress != "" {
			progress(m.Progress)
		}
	}
	waitErr := cmd.Wait()

	switch {
	case ctx.Err() != nil:
		return Result{Message: "cancelled"}
	case final != nil:
		if waitErr != nil {
			log.WithError(waitErr).Warn("worker: child exited after result")
		}
		return *final
	case waitErr != nil:
		return Result{Message: fmt.Sprintf("worker failed: %v: %s", waitErr, strings.TrimSpace(stderr.String()))}
	default:
		return Result{Message: "worker exited without result"}
	}
}

type limitedBuffer struct {
	bytes.Buffer
	max int
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	if room := b.max - b.Len(); room > 0 {
		if len(p) > room {
			b.Buffer.Write(p[:room])
		} else {
			b.Buffer.Write(p)
		}
	}
	return len(p), nil
}

package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cwygoda/snapkeeper/internal/domain"
	"github.com/cwygoda/snapkeeper/internal/trigger"
)

// progressPoll is how often a progress stream checks that its job is still running.
const progressPoll = 500 * time.Millisecond

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListArtifacts(w http.ResponseWriter, r *http.Request) {
	snaps, err := s.captures.Snapshots().Store().GetAllLatestPerArtifact(r.Context())
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	if snaps == nil {
		snaps = []domain.Snapshot{}
	}
	s.writeJSON(w, http.StatusOK, snaps)
}

func (s *Server) handleGetArtifact(w http.ResponseWriter, r *http.Request) {
	id, err := artifactID(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid artifact id")
		return
	}
	snaps, err := s.captures.Snapshots().Store().GetForArtifact(r.Context(), id)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	if len(snaps) == 0 {
		s.writeErr(w, r, domain.ErrArtifactNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, snaps)
}

func (s *Server) handleCreateArtifact(w http.ResponseWriter, r *http.Request) {
	var tmpl domain.Snapshot
	if err := json.NewDecoder(r.Body).Decode(&tmpl); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	snap, err := s.captures.CreateArtifact(r.Context(), tmpl)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, snap)
}

func (s *Server) handleDeleteArtifact(w http.ResponseWriter, r *http.Request) {
	id, err := artifactID(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid artifact id")
		return
	}
	if err := s.captures.DeleteArtifact(r.Context(), id); err != nil {
		s.writeErr(w, r, err)
		return
	}
	s.scheduler.RequestUpdate()
	w.WriteHeader(http.StatusNoContent)
}

// captureRequest is the optional body of a manual capture.
type captureRequest struct {
	Date string `json:"date"`
}

func (s *Server) handleStartCapture(w http.ResponseWriter, r *http.Request) {
	id, err := artifactID(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid artifact id")
		return
	}
	var req captureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	snap, err := s.captures.StartCapture(r.Context(), id, req.Date)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, snap)
}

func (s *Server) handleRunScheduled(w http.ResponseWriter, r *http.Request) {
	id, err := artifactID(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid artifact id")
		return
	}
	force := r.URL.Query().Get("force") == "true"
	snap, err := s.scheduler.RunScheduled(r.Context(), id, force)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, snap)
}

func (s *Server) handleGetSnapshot(w http.ResponseWriter, r *http.Request) {
	key, err := snapshotKey(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid artifact id")
		return
	}
	snap, err := s.captures.Snapshots().Get(r.Context(), key)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleDeleteSnapshot(w http.ResponseWriter, r *http.Request) {
	key, err := snapshotKey(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid artifact id")
		return
	}
	if err := s.captures.DeleteSnapshot(r.Context(), key); err != nil {
		s.writeErr(w, r, err)
		return
	}
	s.scheduler.RequestUpdate()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	key, err := snapshotKey(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid artifact id")
		return
	}
	if err := s.captures.TerminateDownload(r.Context(), key.ArtifactID, key.Date); err != nil {
		s.writeErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// jobResponse describes one running capture.
type jobResponse struct {
	domain.Key
	Progress string `json:"progress,omitempty"`
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	reg := s.captures.Jobs()
	out := []jobResponse{}
	for _, key := range reg.Running() {
		msg, _ := reg.Recent(key)
		out = append(out, jobResponse{Key: key, Progress: msg})
	}
	s.writeJSON(w, http.StatusOK, out)
}

// handleProgress streams the progress of a running capture as server-sent
// events until the capture ends or the client goes away.
func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	key, err := snapshotKey(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid artifact id")
		return
	}
	reg := s.captures.Jobs()
	if !reg.IsRunning(key) {
		s.writeErr(w, r, domain.ErrNotRunning)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	var (
		mu      sync.Mutex
		pending []string
	)
	notify := make(chan struct{}, 1)
	id := reg.OnProgress(key, func(msg string) {
		mu.Lock()
		pending = append(pending, msg)
		mu.Unlock()
		select {
		case notify <- struct{}{}:
		default:
		}
	})
	defer reg.OffProgress(key, id)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	flush := func() {
		mu.Lock()
		batch := pending
		pending = nil
		mu.Unlock()
		for _, msg := range batch {
			fmt.Fprintf(w, "event: progress\ndata: %s\n\n", strings.ReplaceAll(msg, "\n", " "))
		}
		flusher.Flush()
	}

	ticker := time.NewTicker(progressPoll)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-notify:
			flush()
		case <-ticker.C:
			if !reg.IsRunning(key) {
				flush()
				fmt.Fprint(w, "event: done\ndata: \n\n")
				flusher.Flush()
				return
			}
		}
	}
}

// scheduleResponse is the computed schedule plus the armed triggers.
type scheduleResponse struct {
	Eligible []domain.ScheduledJob `json:"eligible"`
	Pending  []trigger.Trigger     `json:"pending"`
}

func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	eligible, err := s.scheduler.ComputeEligibleJobs(r.Context())
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	resp := scheduleResponse{Eligible: eligible, Pending: s.scheduler.Pending()}
	if resp.Eligible == nil {
		resp.Eligible = []domain.ScheduledJob{}
	}
	if resp.Pending == nil {
		resp.Pending = []trigger.Trigger{}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRefreshSchedule(w http.ResponseWriter, r *http.Request) {
	s.scheduler.RequestUpdate()
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		s.writeError(w, http.StatusBadRequest, "q is required")
		return
	}
	if s.search == nil {
		s.writeJSON(w, http.StatusOK, []domain.Chunk{})
		return
	}
	chunks, err := s.search.Search(r.Context(), q)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	if chunks == nil {
		chunks = []domain.Chunk{}
	}
	s.writeJSON(w, http.StatusOK, chunks)
}

func (s *Server) handleErrors(w http.ResponseWriter, r *http.Request) {
	n := 0
	if s.errors != nil {
		n = s.errors.UnreadErrors()
	}
	s.writeJSON(w, http.StatusOK, map[string]int{"unread": n})
}

func (s *Server) handleMarkErrorsRead(w http.ResponseWriter, r *http.Request) {
	if s.errors != nil {
		s.errors.MarkErrorsRead(r.Context())
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	out := []domain.Notification{}
	if s.notifications != nil {
		out = append(out, s.notifications.Active()...)
	}
	s.writeJSON(w, http.StatusOK, out)
}

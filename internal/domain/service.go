package domain

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrConcurrentRun      = errors.New("capture already running")
	ErrSnapshotNotFound   = errors.New("snapshot not found")
	ErrArtifactNotFound   = errors.New("artifact not found")
	ErrInvalidSnapshot    = errors.New("invalid snapshot")
	ErrUnknownContentType = errors.New("unknown content type")
	ErrUnknownDestination = errors.New("unknown destination")
	ErrGatingBlocked      = errors.New("device state gate failed")
	ErrNoLinkedPattern    = errors.New("no linked pagination pattern")
	ErrNotRunning         = errors.New("capture not running")
	ErrSnapshotFinal      = errors.New("snapshot is final")
)

// DownloadError is a capture-fatal failure of the download loop.
type DownloadError struct {
	Page int
	Err  error
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("download failed at page %d: %v", e.Page, e.Err)
}

func (e *DownloadError) Unwrap() error {
	return e.Err
}

// SnapshotService wraps a MetadataStore with key-oriented helpers.
type SnapshotService struct {
	store MetadataStore
}

// NewSnapshotService creates a new SnapshotService.
func NewSnapshotService(store MetadataStore) *SnapshotService {
	return &SnapshotService{store: store}
}

// Store returns the underlying metadata store.
func (s *SnapshotService) Store() MetadataStore {
	return s.store
}

// Get retrieves a snapshot by key.
func (s *SnapshotService) Get(ctx context.Context, key Key) (*Snapshot, error) {
	snaps, err := s.store.GetForArtifact(ctx, key.ArtifactID)
	if err != nil {
		return nil, err
	}
	for i := range snaps {
		if snaps[i].Date == key.Date {
			return &snaps[i], nil
		}
	}
	return nil, ErrSnapshotNotFound
}

// Latest returns the snapshot with the greatest date of an artifact.
func (s *SnapshotService) Latest(ctx context.Context, artifactID int64) (*Snapshot, error) {
	snaps, err := s.store.GetForArtifact(ctx, artifactID)
	if err != nil {
		return nil, err
	}
	if len(snaps) == 0 {
		return nil, ErrArtifactNotFound
	}
	latest := snaps[0]
	for _, snap := range snaps[1:] {
		if snap.Date > latest.Date {
			latest = snap
		}
	}
	return &latest, nil
}

// Save writes a snapshot, replacing any record with the same key.
func (s *SnapshotService) Save(ctx context.Context, snap *Snapshot) error {
	if err := snap.Validate(); err != nil {
		return err
	}
	return s.store.Add(ctx, snap)
}

// SetStatus rewrites the status and message of a stored snapshot.
func (s *SnapshotService) SetStatus(ctx context.Context, key Key, status Status, message string) (*Snapshot, error) {
	snap, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	snap.Status = status
	snap.Message = message
	if err := s.store.Add(ctx, snap); err != nil {
		return nil, err
	}
	return snap, nil
}

// DemoteInProgress rewrites every IN_PROGRESS record to INCOMPLETE (crash recovery).
func (s *SnapshotService) DemoteInProgress(ctx context.Context) (int64, error) {
	snaps, err := s.store.GetAll(ctx)
	if err != nil {
		return 0, err
	}
	var count int64
	for i := range snaps {
		if snaps[i].Status != StatusInProgress {
			continue
		}
		snaps[i].Status = StatusIncomplete
		snaps[i].Message = "interrupted"
		if err := s.store.Add(ctx, &snaps[i]); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

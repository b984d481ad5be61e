package domain

import (
	"context"
	"errors"
	"sort"
	"testing"
)

// mockStore implements MetadataStore for testing.
type mockStore struct {
	snaps  map[Key]Snapshot
	addErr error
}

func newMockStore() *mockStore {
	return &mockStore{snaps: make(map[Key]Snapshot)}
}

func (m *mockStore) Add(ctx context.Context, snap *Snapshot) error {
	if m.addErr != nil {
		return m.addErr
	}
	m.snaps[snap.Key()] = *snap
	return nil
}

func (m *mockStore) RemoveForArtifact(ctx context.Context, artifactID int64) error {
	for k := range m.snaps {
		if k.ArtifactID == artifactID {
			delete(m.snaps, k)
		}
	}
	return nil
}

func (m *mockStore) RemoveSnapshot(ctx context.Context, artifactID int64, date string) error {
	delete(m.snaps, Key{ArtifactID: artifactID, Date: date})
	return nil
}

func (m *mockStore) GetAll(ctx context.Context) ([]Snapshot, error) {
	var out []Snapshot
	for _, s := range m.snaps {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ArtifactID != out[j].ArtifactID {
			return out[i].ArtifactID < out[j].ArtifactID
		}
		return out[i].Date < out[j].Date
	})
	return out, nil
}

func (m *mockStore) GetAllLatestPerArtifact(ctx context.Context) ([]Snapshot, error) {
	return nil, nil
}

func (m *mockStore) GetForArtifact(ctx context.Context, artifactID int64) ([]Snapshot, error) {
	all, _ := m.GetAll(ctx)
	var out []Snapshot
	for _, s := range all {
		if s.ArtifactID == artifactID {
			out = append(out, s)
		}
	}
	return out, nil
}

func seed(m *mockStore, id int64, date string, status Status) {
	m.snaps[Key{ArtifactID: id, Date: date}] = Snapshot{ArtifactID: id, Date: date, Type: ContentBlog, Status: status}
}

func TestSnapshotService_Get(t *testing.T) {
	store := newMockStore()
	seed(store, 1, "a", StatusComplete)
	svc := NewSnapshotService(store)
	ctx := context.Background()

	snap, err := svc.Get(ctx, Key{ArtifactID: 1, Date: "a"})
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if snap.Status != StatusComplete {
		t.Errorf("Get() status = %q, want %q", snap.Status, StatusComplete)
	}

	_, err = svc.Get(ctx, Key{ArtifactID: 1, Date: "b"})
	if !errors.Is(err, ErrSnapshotNotFound) {
		t.Errorf("Get() error = %v, want %v", err, ErrSnapshotNotFound)
	}
}

func TestSnapshotService_Latest(t *testing.T) {
	store := newMockStore()
	seed(store, 1, "1", StatusComplete)
	seed(store, 1, "4", StatusIncomplete)
	seed(store, 2, "2", StatusComplete)
	svc := NewSnapshotService(store)
	ctx := context.Background()

	latest, err := svc.Latest(ctx, 1)
	if err != nil {
		t.Fatalf("Latest() error = %v", err)
	}
	if latest.Date != "4" {
		t.Errorf("Latest() date = %q, want %q", latest.Date, "4")
	}

	_, err = svc.Latest(ctx, 99)
	if !errors.Is(err, ErrArtifactNotFound) {
		t.Errorf("Latest() error = %v, want %v", err, ErrArtifactNotFound)
	}
}

func TestSnapshotService_Save_Invalid(t *testing.T) {
	svc := NewSnapshotService(newMockStore())

	tests := []struct {
		name string
		snap Snapshot
	}{
		{"empty date", Snapshot{ArtifactID: 1, Type: ContentBlog}},
		{"missing type", Snapshot{ArtifactID: 1, Date: "x"}},
		{"negative id", Snapshot{ArtifactID: -1, Date: "x", Type: ContentBlog}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := svc.Save(context.Background(), &tt.snap)
			if !errors.Is(err, ErrInvalidSnapshot) {
				t.Errorf("Save() error = %v, want %v", err, ErrInvalidSnapshot)
			}
		})
	}
}

func TestSnapshotService_SetStatus(t *testing.T) {
	store := newMockStore()
	seed(store, 3, "d", StatusInProgress)
	svc := NewSnapshotService(store)

	snap, err := svc.SetStatus(context.Background(), Key{ArtifactID: 3, Date: "d"}, StatusDownloadFailed, "boom")
	if err != nil {
		t.Fatalf("SetStatus() error = %v", err)
	}
	if snap.Status != StatusDownloadFailed || snap.Message != "boom" {
		t.Errorf("SetStatus() = %+v", snap)
	}
	stored := store.snaps[Key{ArtifactID: 3, Date: "d"}]
	if stored.Status != StatusDownloadFailed {
		t.Errorf("stored status = %q, want %q", stored.Status, StatusDownloadFailed)
	}
}

func TestSnapshotService_DemoteInProgress(t *testing.T) {
	store := newMockStore()
	seed(store, 1, "a", StatusInProgress)
	seed(store, 1, "b", StatusComplete)
	seed(store, 2, "c", StatusInProgress)
	svc := NewSnapshotService(store)
	ctx := context.Background()

	n, err := svc.DemoteInProgress(ctx)
	if err != nil {
		t.Fatalf("DemoteInProgress() error = %v", err)
	}
	if n != 2 {
		t.Errorf("DemoteInProgress() = %d, want 2", n)
	}
	for k, s := range store.snaps {
		if s.Status == StatusInProgress {
			t.Errorf("%s still IN_PROGRESS", k)
		}
	}
	if store.snaps[Key{ArtifactID: 1, Date: "b"}].Status != StatusComplete {
		t.Error("complete snapshot was rewritten")
	}

	// Second run is a no-op.
	n, err = svc.DemoteInProgress(ctx)
	if err != nil || n != 0 {
		t.Errorf("second DemoteInProgress() = %d, %v, want 0, nil", n, err)
	}
}

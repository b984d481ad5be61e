package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/cwygoda/snapkeeper/internal/domain"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS snapshots (
    artifact_id  INTEGER NOT NULL,
    date         TEXT NOT NULL,
    title        TEXT NOT NULL DEFAULT '',
    tags         TEXT NOT NULL DEFAULT '[]',
    type         TEXT NOT NULL,
    params       TEXT NOT NULL DEFAULT '{}',
    destinations TEXT NOT NULL DEFAULT '[]',
    status       TEXT NOT NULL,
    description  TEXT NOT NULL DEFAULT '',
    message      TEXT NOT NULL DEFAULT '',
    updated_at   DATETIME DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (artifact_id, date)
);
CREATE INDEX IF NOT EXISTS idx_snapshots_status ON snapshots(status);
`

const columns = `artifact_id, date, title, tags, type, params, destinations, status, description, message`

// Repository implements domain.MetadataStore using SQLite.
type Repository struct {
	db *sql.DB
}

// New creates a new SQLite repository, initializing the schema if needed.
func New(dbPath string) (*Repository, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, err
	}

	// Initialize schema
	if _, err := db.Exec(schema + searchSchema); err != nil {
		db.Close()
		return nil, err
	}

	return &Repository{db: db}, nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	return r.db.Close()
}

// Index returns the search index stored in the same database.
func (r *Repository) Index() *SearchIndex {
	return &SearchIndex{db: r.db}
}

// Add inserts a snapshot, overwriting any record with the same key.
func (r *Repository) Add(ctx context.Context, snap *domain.Snapshot) error {
	tags, err := marshal(snap.Tags, "[]")
	if err != nil {
		return err
	}
	params, err := marshal(snap.Params, "{}")
	if err != nil {
		return err
	}
	dests, err := marshal(snap.Destinations, "[]")
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO snapshots (`+columns+`, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(artifact_id, date) DO UPDATE SET
		   title = excluded.title, tags = excluded.tags, type = excluded.type,
		   params = excluded.params, destinations = excluded.destinations,
		   status = excluded.status, description = excluded.description,
		   message = excluded.message, updated_at = excluded.updated_at`,
		snap.ArtifactID, snap.Date, snap.Title, tags, snap.Type, params, dests,
		snap.Status, snap.Description, snap.Message, time.Now(),
	)
	return err
}

// RemoveForArtifact deletes every snapshot of an artifact.
func (r *Repository) RemoveForArtifact(ctx context.Context, artifactID int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM snapshots WHERE artifact_id = ?`, artifactID)
	return err
}

// RemoveSnapshot deletes a single snapshot.
func (r *Repository) RemoveSnapshot(ctx context.Context, artifactID int64, date string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM snapshots WHERE artifact_id = ? AND date = ?`, artifactID, date)
	return err
}

// GetAll returns every snapshot ordered by artifact then date.
func (r *Repository) GetAll(ctx context.Context) ([]domain.Snapshot, error) {
	return r.query(ctx,
		`SELECT `+columns+` FROM snapshots ORDER BY artifact_id ASC, date ASC`)
}

// GetAllLatestPerArtifact returns the snapshot with the greatest date of each artifact.
func (r *Repository) GetAllLatestPerArtifact(ctx context.Context) ([]domain.Snapshot, error) {
	return r.query(ctx,
		`SELECT `+columns+` FROM snapshots s
		 WHERE s.date = (SELECT MAX(date) FROM snapshots WHERE artifact_id = s.artifact_id)
		 ORDER BY s.artifact_id ASC`)
}

// GetForArtifact returns the snapshots of one artifact ordered by date.
func (r *Repository) GetForArtifact(ctx context.Context, artifactID int64) ([]domain.Snapshot, error) {
	return r.query(ctx,
		`SELECT `+columns+` FROM snapshots WHERE artifact_id = ? ORDER BY date ASC`, artifactID)
}

func (r *Repository) query(ctx context.Context, q string, args ...any) ([]domain.Snapshot, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	snaps := []domain.Snapshot{}
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, *snap)
	}
	return snaps, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(row scanner) (*domain.Snapshot, error) {
	var snap domain.Snapshot
	var tags, params, dests, typ, status string
	err := row.Scan(&snap.ArtifactID, &snap.Date, &snap.Title, &tags, &typ, &params, &dests,
		&status, &snap.Description, &snap.Message)
	if err == sql.ErrNoRows {
		return nil, domain.ErrSnapshotNotFound
	}
	if err != nil {
		return nil, err
	}
	snap.Type = domain.ContentType(typ)
	snap.Status = domain.Status(status)
	if err := json.Unmarshal([]byte(tags), &snap.Tags); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(params), &snap.Params); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(dests), &snap.Destinations); err != nil {
		return nil, err
	}
	return &snap, nil
}

func marshal(v any, empty string) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	if string(b) == "null" {
		return empty, nil
	}
	return string(b), nil
}

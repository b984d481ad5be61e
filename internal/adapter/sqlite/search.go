package sqlite

import (
	"context"
	"database/sql"
	"strings"

	"github.com/cwygoda/snapkeeper/internal/domain"
)

const searchSchema = `
CREATE TABLE IF NOT EXISTS chunks (
    id          TEXT PRIMARY KEY,
    artifact_id INTEGER NOT NULL,
    date        TEXT NOT NULL,
    page        INTEGER NOT NULL DEFAULT 0,
    text        TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chunks_snapshot ON chunks(artifact_id, date);

CREATE VIRTUAL TABLE IF NOT EXISTS chunks_fts USING fts5(
    text, content='chunks', content_rowid='rowid',
    tokenize='unicode61 remove_diacritics 2'
);

CREATE TRIGGER IF NOT EXISTS chunks_ai AFTER INSERT ON chunks BEGIN
    INSERT INTO chunks_fts(rowid, text) VALUES (new.rowid, new.text);
END;
CREATE TRIGGER IF NOT EXISTS chunks_ad AFTER DELETE ON chunks BEGIN
    INSERT INTO chunks_fts(chunks_fts, rowid, text) VALUES('delete', old.rowid, old.text);
END;
CREATE TRIGGER IF NOT EXISTS chunks_au AFTER UPDATE ON chunks BEGIN
    INSERT INTO chunks_fts(chunks_fts, rowid, text) VALUES('delete', old.rowid, old.text);
    INSERT INTO chunks_fts(rowid, text) VALUES (new.rowid, new.text);
END;
`

const searchLimit = 100

// SearchIndex implements domain.SearchIndex with SQLite FTS5.
type SearchIndex struct {
	db *sql.DB
}

// Add inserts chunks in a single transaction.
func (s *SearchIndex) Add(ctx context.Context, chunks []domain.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO chunks (id, artifact_id, date, page, text) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, c := range chunks {
		if _, err := stmt.ExecContext(ctx, c.ID, c.ArtifactID, c.Date, c.Page, c.Text); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// RemoveForArtifact deletes the chunks of every snapshot of an artifact.
func (s *SearchIndex) RemoveForArtifact(ctx context.Context, artifactID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM chunks WHERE artifact_id = ?`, artifactID)
	return err
}

// RemoveForSnapshot deletes the chunks of one snapshot.
func (s *SearchIndex) RemoveForSnapshot(ctx context.Context, artifactID int64, date string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM chunks WHERE artifact_id = ? AND date = ?`, artifactID, date)
	return err
}

// Search returns the chunks matching every word of text, best match first.
func (s *SearchIndex) Search(ctx context.Context, text string) ([]domain.Chunk, error) {
	q := ftsQuery(text)
	if q == "" {
		return []domain.Chunk{}, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT c.id, c.artifact_id, c.date, c.page, c.text
		 FROM chunks_fts JOIN chunks c ON c.rowid = chunks_fts.rowid
		 WHERE chunks_fts MATCH ?
		 ORDER BY rank LIMIT ?`, q, searchLimit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	chunks := []domain.Chunk{}
	for rows.Next() {
		var c domain.Chunk
		if err := rows.Scan(&c.ID, &c.ArtifactID, &c.Date, &c.Page, &c.Text); err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// ftsQuery quotes each word so user input never reaches the FTS5 query syntax.
func ftsQuery(text string) string {
	words := strings.Fields(text)
	for i, w := range words {
		words[i] = `"` + strings.ReplaceAll(w, `"`, `""`) + `"`
	}
	return strings.Join(words, " ")
}

// Package archive exports episodic memories to portable formats: a SQLite
// database that can be reopened and queried, and JSON lines.
package archive

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/zero-day-ai/tiermem/memory"

	_ "modernc.org/sqlite" // SQLite driver registration
)

const (
	schemaVersion      = 1
	defaultBusyTimeout = 5000
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS memories (
		id                    TEXT PRIMARY KEY,
		source_interaction_id TEXT NOT NULL,
		content               TEXT NOT NULL,
		embedding             BLOB NOT NULL,
		dimensions            INTEGER NOT NULL,
		importance            REAL NOT NULL,
		tags                  TEXT NOT NULL DEFAULT '[]',
		created_at            REAL NOT NULL
	)`,

	`CREATE INDEX IF NOT EXISTS idx_memories_created ON memories(created_at)`,
}

// SQLite is an archive of memories in a SQLite file. Writing a memory that
// is already archived replaces it.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens or creates the archive at path, creating parent
// directories as needed.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("archive: create directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("archive: open %s: %w", path, err)
	}

	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("archive: enable WAL: %w", err)
	}

	if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout=%d", defaultBusyTimeout)); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("archive: set busy_timeout: %w", err)
	}

	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &SQLite{db: db}, nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY)"); err != nil {
		return fmt.Errorf("archive: create schema_version: %w", err)
	}

	var current int
	if err := db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&current); err != nil {
		return fmt.Errorf("archive: read schema version: %w", err)
	}
	if current >= schemaVersion {
		return nil
	}

	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("archive: migrate: %w\nstatement: %s", err, stmt)
		}
	}

	if _, err := db.ExecContext(ctx, "INSERT OR REPLACE INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("archive: record schema version: %w", err)
	}
	return nil
}

// Write archives memories in one transaction and returns how many were
// written.
func (a *SQLite) Write(ctx context.Context, memories []memory.Memory) (int, error) {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("archive: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO memories
		(id, source_interaction_id, content, embedding, dimensions, importance, tags, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("archive: prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, m := range memories {
		tags := m.Tags
		if tags == nil {
			tags = []string{}
		}
		tagsJSON, err := json.Marshal(tags)
		if err != nil {
			return 0, fmt.Errorf("archive: encode tags for %s: %w", m.ID, err)
		}

		if _, err := stmt.ExecContext(ctx,
			m.ID,
			m.SourceInteractionID,
			m.Content,
			encodeEmbedding(m.Embedding),
			len(m.Embedding),
			m.Importance,
			string(tagsJSON),
			float64(m.CreatedAt),
		); err != nil {
			return 0, fmt.Errorf("archive: insert %s: %w", m.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("archive: commit: %w", err)
	}
	return len(memories), nil
}

// Read returns archived memories created within r, oldest first. A nil range
// returns everything.
func (a *SQLite) Read(ctx context.Context, r *memory.TimeRange) ([]memory.Memory, error) {
	query := `SELECT id, source_interaction_id, content, embedding, importance, tags, created_at
		FROM memories`
	var (
		where []string
		args  []any
	)
	if r != nil && r.Start != nil {
		where = append(where, "created_at >= ?")
		args = append(args, float64(*r.Start))
	}
	if r != nil && r.End != nil {
		where = append(where, "created_at <= ?")
		args = append(args, float64(*r.End))
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at ASC, id ASC`

	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("archive: query: %w", err)
	}
	defer rows.Close()

	out := []memory.Memory{}
	for rows.Next() {
		var (
			m       memory.Memory
			blob    []byte
			tags    string
			created float64
		)
		if err := rows.Scan(&m.ID, &m.SourceInteractionID, &m.Content, &blob, &m.Importance, &tags, &created); err != nil {
			return nil, fmt.Errorf("archive: scan: %w", err)
		}
		if m.Embedding, err = decodeEmbedding(blob); err != nil {
			return nil, fmt.Errorf("archive: %s: %w", m.ID, err)
		}
		if err := json.Unmarshal([]byte(tags), &m.Tags); err != nil {
			return nil, fmt.Errorf("archive: %s: decode tags: %w", m.ID, err)
		}
		m.CreatedAt = memory.Timestamp(created)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("archive: iterate: %w", err)
	}
	return out, nil
}

// Count returns the number of archived memories.
func (a *SQLite) Count(ctx context.Context) (int, error) {
	var n int
	if err := a.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM memories").Scan(&n); err != nil {
		return 0, fmt.Errorf("archive: count: %w", err)
	}
	return n, nil
}

// Close closes the database.
func (a *SQLite) Close() error {
	return a.db.Close()
}

// encodeEmbedding packs a vector as little-endian float32s.
func encodeEmbedding(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeEmbedding(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("embedding blob length %d is not a multiple of 4", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}

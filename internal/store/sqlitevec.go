package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
)

func init() {
	sqlite_vec.Auto()
}

const sqliteDDL = `
PRAGMA journal_mode=WAL;
PRAGMA foreign_keys=ON;

CREATE TABLE IF NOT EXISTS chunks (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    chunk_id    TEXT NOT NULL,
    namespace   TEXT NOT NULL DEFAULT '',
    file_path   TEXT NOT NULL,
    symbol_path TEXT NOT NULL DEFAULT '',
    language    TEXT NOT NULL DEFAULT '',
    kind        TEXT NOT NULL DEFAULT '',
    start_line  INTEGER NOT NULL,
    end_line    INTEGER NOT NULL,
    text        TEXT NOT NULL,
    UNIQUE (namespace, chunk_id)
);

CREATE INDEX IF NOT EXISTS idx_chunks_file ON chunks (namespace, file_path);

CREATE TABLE IF NOT EXISTS meta (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`

const dimensionsKey = "dimensions"

// SQLiteVec implements Store backed by SQLite + sqlite-vec. One database
// file holds one namespace; Clear empties the whole file.
//
// The vec0 virtual table is created on the first Upsert, sized to the
// incoming vectors, and the dimension is recorded in the meta table so
// later opens can recreate the table reference and reject mismatched
// vectors.
type SQLiteVec struct {
	db        *sql.DB
	namespace string

	mu   sync.Mutex
	dims int
}

var _ Store = (*SQLiteVec)(nil)

// OpenSQLiteVec creates or opens the database at path and initializes
// the schema. Parent directories are created as needed.
func OpenSQLiteVec(path, namespace string) (*SQLiteVec, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec(sqliteDDL); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	s := &SQLiteVec{db: db, namespace: namespace}

	var raw string
	err = db.QueryRow("SELECT value FROM meta WHERE key = ?", dimensionsKey).Scan(&raw)
	switch {
	case err == sql.ErrNoRows:
		// Fresh database; the vec table appears on first Upsert.
	case err != nil:
		db.Close()
		return nil, fmt.Errorf("read dimensions: %w", err)
	default:
		dims, convErr := strconv.Atoi(raw)
		if convErr != nil || dims <= 0 {
			db.Close()
			return nil, fmt.Errorf("corrupt dimensions value %q", raw)
		}
		if err := s.createVecTable(dims); err != nil {
			db.Close()
			return nil, err
		}
	}
	return s, nil
}

func (s *SQLiteVec) createVecTable(dims int) error {
	ddl := fmt.Sprintf(
		"CREATE VIRTUAL TABLE IF NOT EXISTS vec_chunks USING vec0(chunk_id INTEGER PRIMARY KEY, embedding float[%d])",
		dims,
	)
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("create vec table: %w", err)
	}
	s.dims = dims
	return nil
}

func (s *SQLiteVec) ensureDims(dims int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dims == dims {
		return nil
	}
	if s.dims != 0 {
		return fmt.Errorf("vector dimension %d does not match index dimension %d; clear the index after changing embedding models", dims, s.dims)
	}
	if dims <= 0 {
		return fmt.Errorf("invalid vector dimension %d", dims)
	}
	if err := s.createVecTable(dims); err != nil {
		return err
	}
	_, err := s.db.Exec(
		"INSERT INTO meta (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		dimensionsKey, strconv.Itoa(dims),
	)
	return err
}

func (s *SQLiteVec) Upsert(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	if err := s.ensureDims(len(entries[0].Vector)); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	insertChunk, err := tx.PrepareContext(ctx,
		"INSERT INTO chunks (chunk_id, namespace, file_path, symbol_path, language, kind, start_line, end_line, text) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)",
	)
	if err != nil {
		return err
	}
	defer insertChunk.Close()

	insertVec, err := tx.PrepareContext(ctx, "INSERT INTO vec_chunks (chunk_id, embedding) VALUES (?, ?)")
	if err != nil {
		return err
	}
	defer insertVec.Close()

	for _, e := range entries {
		if len(e.Vector) != s.dims {
			return fmt.Errorf("entry %s has dimension %d, index has %d", e.ID, len(e.Vector), s.dims)
		}
		if err := deleteByChunkID(ctx, tx, s.namespace, e.ID); err != nil {
			return err
		}
		res, err := insertChunk.ExecContext(ctx,
			e.ID, s.namespace,
			e.Meta.FilePath, e.Meta.SymbolPath, e.Meta.Language, e.Meta.Kind,
			e.Meta.StartLine, e.Meta.EndLine, e.Meta.Text,
		)
		if err != nil {
			return fmt.Errorf("insert chunk %s: %w", e.ID, err)
		}
		rowID, err := res.LastInsertId()
		if err != nil {
			return err
		}
		blob, err := sqlite_vec.SerializeFloat32(e.Vector)
		if err != nil {
			return fmt.Errorf("serialize embedding for chunk %s: %w", e.ID, err)
		}
		if _, err := insertVec.ExecContext(ctx, rowID, blob); err != nil {
			return fmt.Errorf("insert embedding for chunk %s: %w", e.ID, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteVec) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, id := range ids {
		if err := deleteByChunkID(ctx, tx, s.namespace, id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// deleteByChunkID removes the chunk row and its vector, if present.
// vec0 tables ignore foreign keys, so the vector is deleted explicitly.
func deleteByChunkID(ctx context.Context, tx *sql.Tx, namespace, chunkID string) error {
	var rowID int64
	err := tx.QueryRowContext(ctx,
		"SELECT id FROM chunks WHERE namespace = ? AND chunk_id = ?", namespace, chunkID,
	).Scan(&rowID)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM vec_chunks WHERE chunk_id = ?", rowID); err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, "DELETE FROM chunks WHERE id = ?", rowID)
	return err
}

func (s *SQLiteVec) Query(ctx context.Context, q Query) ([]Hit, error) {
	if q.TopK <= 0 {
		return nil, nil
	}
	s.mu.Lock()
	dims := s.dims
	s.mu.Unlock()
	if dims == 0 {
		return nil, nil
	}
	if len(q.Vector) != dims {
		return nil, fmt.Errorf("query dimension %d, index has %d", len(q.Vector), dims)
	}
	blob, err := sqlite_vec.SerializeFloat32(q.Vector)
	if err != nil {
		return nil, fmt.Errorf("serialize query embedding: %w", err)
	}

	// The KNN runs in the subquery so the LIMIT reaches vec0; the outer
	// join attaches metadata. Filters thin the k nearest afterwards.
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.chunk_id, knn.distance,
		       c.file_path, c.symbol_path, c.language, c.kind,
		       c.start_line, c.end_line, c.text
		FROM (
		    SELECT chunk_id, distance
		    FROM vec_chunks
		    WHERE embedding MATCH ?
		    ORDER BY distance
		    LIMIT ?
		) AS knn
		JOIN chunks c ON c.id = knn.chunk_id
		WHERE c.namespace = ?
		ORDER BY knn.distance
	`, blob, q.TopK, s.namespace)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var h Hit
		var distance float64
		err := rows.Scan(
			&h.ID, &distance,
			&h.Meta.FilePath, &h.Meta.SymbolPath, &h.Meta.Language, &h.Meta.Kind,
			&h.Meta.StartLine, &h.Meta.EndLine, &h.Meta.Text,
		)
		if err != nil {
			return nil, err
		}
		if !q.matches(h.Meta) {
			continue
		}
		// vec0 reports Euclidean distance; on unit vectors d^2 = 2 - 2cos.
		h.Score = 1 - distance*distance/2
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

func (s *SQLiteVec) ListByFile(ctx context.Context, filePath string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT chunk_id FROM chunks WHERE namespace = ? AND file_path = ? ORDER BY start_line, chunk_id",
		s.namespace, filePath,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLiteVec) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS vec_chunks"); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM chunks"); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM meta WHERE key = ?", dimensionsKey); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	s.dims = 0
	return nil
}

func (s *SQLiteVec) Close() error {
	return s.db.Close()
}

// Namespaces lists the namespaces present in the database file.
func (s *SQLiteVec) Namespaces(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT DISTINCT namespace FROM chunks ORDER BY namespace")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

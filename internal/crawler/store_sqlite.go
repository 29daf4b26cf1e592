package crawler

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS seen_matches (
	match_id TEXT PRIMARY KEY
);
CREATE TABLE IF NOT EXISTS seen_players (
	puuid TEXT PRIMARY KEY
);
CREATE TABLE IF NOT EXISTS frontier (
	position INTEGER PRIMARY KEY,
	puuid TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS crawl_meta (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	session_id TEXT NOT NULL,
	total_collected INTEGER NOT NULL,
	snapshot_counts TEXT NOT NULL,
	last_updated TEXT NOT NULL
);
`

// SQLiteStore keeps crawl state in a local SQLite database
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (creating if needed) the database at path
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}
	// modernc sqlite serializes writers anyway; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Load(ctx context.Context) (*Checkpoint, error) {
	var (
		cp         Checkpoint
		countsJSON string
		updated    string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT session_id, total_collected, snapshot_counts, last_updated FROM crawl_meta WHERE id = 1`,
	).Scan(&cp.SessionID, &cp.TotalCollected, &countsJSON, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoCheckpoint
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load crawl meta: %w", err)
	}

	cp.SnapshotCounts = make(map[int]int)
	if err := json.Unmarshal([]byte(countsJSON), &cp.SnapshotCounts); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot counts: %w", err)
	}
	if cp.LastUpdated, err = time.Parse(time.RFC3339Nano, updated); err != nil {
		return nil, fmt.Errorf("failed to parse last_updated: %w", err)
	}

	if cp.SeenMatchIDs, err = s.column(ctx, `SELECT match_id FROM seen_matches ORDER BY match_id`); err != nil {
		return nil, err
	}
	if cp.SeenPlayerIDs, err = s.column(ctx, `SELECT puuid FROM seen_players ORDER BY puuid`); err != nil {
		return nil, err
	}
	if cp.Frontier, err = s.column(ctx, `SELECT puuid FROM frontier ORDER BY position`); err != nil {
		return nil, err
	}
	return &cp, nil
}

func (s *SQLiteStore) column(ctx context.Context, query string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// Save writes the whole checkpoint in one transaction. Seen ids are insert-only;
// the frontier and meta row are replaced.
func (s *SQLiteStore) Save(ctx context.Context, cp *Checkpoint) error {
	counts, err := json.Marshal(cp.SnapshotCounts)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot counts: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := insertAll(ctx, tx, `INSERT OR IGNORE INTO seen_matches (match_id) VALUES (?)`, cp.SeenMatchIDs); err != nil {
		return fmt.Errorf("failed to save seen matches: %w", err)
	}
	if err := insertAll(ctx, tx, `INSERT OR IGNORE INTO seen_players (puuid) VALUES (?)`, cp.SeenPlayerIDs); err != nil {
		return fmt.Errorf("failed to save seen players: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM frontier`); err != nil {
		return fmt.Errorf("failed to clear frontier: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO frontier (position, puuid) VALUES (?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare frontier insert: %w", err)
	}
	defer stmt.Close()
	for i, puuid := range cp.Frontier {
		if _, err := stmt.ExecContext(ctx, i, puuid); err != nil {
			return fmt.Errorf("failed to save frontier: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO crawl_meta (id, session_id, total_collected, snapshot_counts, last_updated)
		VALUES (1, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			session_id = excluded.session_id,
			total_collected = excluded.total_collected,
			snapshot_counts = excluded.snapshot_counts,
			last_updated = excluded.last_updated`,
		cp.SessionID, cp.TotalCollected, string(counts), cp.LastUpdated.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to save crawl meta: %w", err)
	}

	return tx.Commit()
}

func insertAll(ctx context.Context, tx *sql.Tx, query string, values []string) error {
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, v := range values {
		if _, err := stmt.ExecContext(ctx, v); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

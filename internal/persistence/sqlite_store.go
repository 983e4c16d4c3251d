package persistence

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/chenapple/thesaurus-management/internal/analysis"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db}
	if err := store.init(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
		return fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		return fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		version := migrationVersion(entry.Name())
		if version <= 0 {
			continue
		}
		var exists int
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations WHERE version = ?`, version).Scan(&exists); err != nil {
			return fmt.Errorf("check migration %s: %w", entry.Name(), err)
		}
		if exists > 0 {
			continue
		}
		// embed.FS paths always use forward slashes
		content, err := migrationFiles.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("apply migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES (?)`, version); err != nil {
			return fmt.Errorf("record migration %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// migrationVersion extracts the leading integer from a migration filename (e.g. "001_init.sql" → 1).
func migrationVersion(name string) int {
	for i, c := range name {
		if c < '0' || c > '9' {
			if i == 0 {
				return 0
			}
			n, _ := strconv.Atoi(name[:i])
			return n
		}
	}
	n, _ := strconv.Atoi(name)
	return n
}

// UpsertSession inserts or updates a session. The input terms are written only on insert.
func (s *SQLiteStore) UpsertSession(ctx context.Context, rec SessionRecord) error {
	if strings.TrimSpace(rec.ID) == "" {
		return fmt.Errorf("session id is required")
	}
	termsJSON, err := json.Marshal(nonNil(rec.Terms))
	if err != nil {
		return err
	}
	failedJSON, err := json.Marshal(nonNil(rec.Failed))
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	createdAt := rec.CreatedAt.UTC()
	if createdAt.IsZero() {
		createdAt = now
	}
	updatedAt := rec.UpdatedAt.UTC()
	if updatedAt.IsZero() {
		updatedAt = now
	}

	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO sessions (
			id, source, status, target_acos, terms_json, failed_json, error, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status=excluded.status,
			failed_json=excluded.failed_json,
			error=excluded.error,
			updated_at=excluded.updated_at`,
		rec.ID,
		rec.Source,
		string(rec.Status),
		rec.TargetACOS,
		string(termsJSON),
		string(failedJSON),
		rec.Error,
		createdAt,
		updatedAt,
	)
	return err
}

// GetSession loads a session including its input terms
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (SessionRecord, bool, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, source, status, target_acos, terms_json, failed_json, error, created_at, updated_at
		 FROM sessions
		 WHERE id = ?`,
		id,
	)

	var rec SessionRecord
	var status, termsJSON, failedJSON string
	if err := row.Scan(
		&rec.ID,
		&rec.Source,
		&status,
		&rec.TargetACOS,
		&termsJSON,
		&failedJSON,
		&rec.Error,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	); err != nil {
		if err == sql.ErrNoRows {
			return SessionRecord{}, false, nil
		}
		return SessionRecord{}, false, err
	}
	rec.Status = analysis.Status(status)
	if err := json.Unmarshal([]byte(termsJSON), &rec.Terms); err != nil {
		return SessionRecord{}, false, fmt.Errorf("decode terms of session %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(failedJSON), &rec.Failed); err != nil {
		return SessionRecord{}, false, fmt.Errorf("decode failed targets of session %s: %w", id, err)
	}
	return rec, true, nil
}

// ListSessions returns the most recently updated sessions without their input terms
func (s *SQLiteStore) ListSessions(ctx context.Context, limit int) ([]SessionRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, source, status, target_acos, failed_json, error, created_at, updated_at
		 FROM sessions
		 ORDER BY updated_at DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]SessionRecord, 0)
	for rows.Next() {
		var rec SessionRecord
		var status, failedJSON string
		if err := rows.Scan(&rec.ID, &rec.Source, &status, &rec.TargetACOS, &failedJSON, &rec.Error, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		rec.Status = analysis.Status(status)
		if err := json.Unmarshal([]byte(failedJSON), &rec.Failed); err != nil {
			return nil, err
		}
		ret = append(ret, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ret, nil
}

// SaveTargetResult checkpoints the result of one completed target.
// position orders results the way the targets appear in the input.
func (s *SQLiteStore) SaveTargetResult(ctx context.Context, sessionID string, position int, result analysis.TargetResult) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO target_results (session_id, country, position, result_json, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(session_id, country) DO UPDATE SET
			position=excluded.position,
			result_json=excluded.result_json,
			updated_at=excluded.updated_at`,
		sessionID,
		result.Country,
		position,
		string(payload),
		time.Now().UTC(),
	)
	return err
}

// LoadTargetResults returns the checkpoints of a session in target order
func (s *SQLiteStore) LoadTargetResults(ctx context.Context, sessionID string) ([]TargetCheckpoint, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT session_id, country, position, result_json, updated_at
		 FROM target_results
		 WHERE session_id = ?
		 ORDER BY position ASC, country ASC`,
		sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]TargetCheckpoint, 0)
	for rows.Next() {
		var item TargetCheckpoint
		var resultJSON string
		if err := rows.Scan(&item.SessionID, &item.Country, &item.Position, &resultJSON, &item.UpdatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(resultJSON), &item.Result); err != nil {
			return nil, err
		}
		ret = append(ret, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ret, nil
}

// DeleteSession removes a session and its checkpoints
func (s *SQLiteStore) DeleteSession(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM target_results WHERE session_id = ?`, id); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return err
	}
	return tx.Commit()
}

// DeleteSessionsBefore removes sessions last updated before cutoff, with their checkpoints
func (s *SQLiteStore) DeleteSessionsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx,
		`DELETE FROM target_results WHERE session_id IN (SELECT id FROM sessions WHERE updated_at < ?)`,
		cutoff.UTC(),
	); err != nil {
		return 0, err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE updated_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return n, tx.Commit()
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

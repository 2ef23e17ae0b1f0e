// Package resume persists the "resume this lobby" record (cleared as the
// first cleanup step) and a history of past lobbies, in a profile-local
// SQLite db.
package resume

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/fitlobby/fitlobby/internal/resume/migrations"

	_ "github.com/mattn/go-sqlite3"
)

// Record points at the lobby the user was in when the process last ran.
type Record struct {
	SessionID string
	GroupID   string
	JoinedAt  int64 // unix millis
}

// HistoryEntry is one past (or current) lobby membership.
type HistoryEntry struct {
	SessionID string
	GroupID   string
	JoinedAt  int64
	LeftAt    int64 // zero while still active
}

// DB wraps the profile-local SQLite database.
type DB struct {
	*sql.DB
}

// Open creates a SQLite connection with WAL mode and recommended pragmas.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return &DB{db}, nil
}

// MigrateResult describes what happened during migration.
type MigrateResult struct {
	Version uint
	Dirty   bool
	Changed bool
}

// Migrate runs all pending migrations on the database.
func (db *DB) Migrate() (*MigrateResult, error) {
	source, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return nil, fmt.Errorf("migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(db.DB, &sqlite3.Config{})
	if err != nil {
		return nil, fmt.Errorf("migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return nil, fmt.Errorf("migration instance: %w", err)
	}

	err = m.Up()
	changed := true
	if errors.Is(err, migrate.ErrNoChange) {
		changed = false
		err = nil
	}
	if err != nil {
		return nil, fmt.Errorf("migration up: %w", err)
	}

	version, dirty, _ := m.Version()
	return &MigrateResult{Version: version, Dirty: dirty, Changed: changed}, nil
}

// SaveActive records the lobby to resume, replacing any previous record, and
// opens a history row.
func (db *DB) SaveActive(sessionID, groupID string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO active_lobby (id, session_id, group_id, joined_at)
		VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			session_id = excluded.session_id,
			group_id = excluded.group_id,
			joined_at = excluded.joined_at`,
		sessionID, groupID, now)
	if err != nil {
		return err
	}
	_, err = db.Exec(`
		INSERT INTO lobby_history (session_id, group_id, joined_at)
		VALUES (?, ?, ?)`,
		sessionID, groupID, now)
	return err
}

// LoadActive returns the resume record, or nil when none is stored.
func (db *DB) LoadActive() (*Record, error) {
	var rec Record
	err := db.QueryRow(`SELECT session_id, group_id, joined_at FROM active_lobby WHERE id = 1`).
		Scan(&rec.SessionID, &rec.GroupID, &rec.JoinedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// LoadActiveSessionID returns the remembered session id, or "" when none is
// stored.
func (db *DB) LoadActiveSessionID() (string, error) {
	rec, err := db.LoadActive()
	if err != nil || rec == nil {
		return "", err
	}
	return rec.SessionID, nil
}

// ClearActive removes the resume record and closes the open history row.
// Idempotent: a second call with nothing stored is a no-op.
func (db *DB) ClearActive() error {
	rec, err := db.LoadActive()
	if err != nil {
		return err
	}
	if rec == nil {
		return nil
	}
	now := time.Now().UnixMilli()
	if _, err := db.Exec(`
		UPDATE lobby_history SET left_at = ?
		WHERE session_id = ? AND left_at IS NULL`,
		now, rec.SessionID); err != nil {
		return err
	}
	_, err = db.Exec(`DELETE FROM active_lobby WHERE id = 1`)
	return err
}

// History returns the most recent lobby memberships, newest first.
func (db *DB) History(limit int) ([]HistoryEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.Query(`
		SELECT session_id, group_id, joined_at, COALESCE(left_at, 0)
		FROM lobby_history
		ORDER BY joined_at DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		if err := rows.Scan(&e.SessionID, &e.GroupID, &e.JoinedAt, &e.LeftAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

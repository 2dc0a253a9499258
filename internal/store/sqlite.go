// Package store provides storage backends for HealthLog.
//
// This file implements an SQLite-backed store for session records and log
// entries.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "embed"

	"github.com/BTreeMap/HealthLog/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	// Apply options
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	// Determine DSN (required)
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	// Ensure the directory exists
	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	// Run migrations to ensure tables exist
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

// SaveSession stores or replaces a session record. The full record is
// serialized to JSON; the stage column is kept alongside for inspection and
// indexing.
func (s *SQLiteStore) SaveSession(sess models.Session) error {
	if sess.ID == "" {
		return models.ErrEmptySessionID
	}
	stateJSON, err := json.Marshal(sess)
	if err != nil {
		slog.Error("SQLiteStore SaveSession JSON marshal failed", "error", err, "sessionID", sess.ID)
		return err
	}

	query := `
		INSERT OR REPLACE INTO sessions (id, stage, state_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`
	_, err = s.db.Exec(query, sess.ID, string(sess.Stage), string(stateJSON), sess.CreatedAt, sess.UpdatedAt)
	if err != nil {
		slog.Error("SQLiteStore SaveSession failed", "error", err, "sessionID", sess.ID)
		return fmt.Errorf("failed to save session %s: %w", sess.ID, err)
	}
	slog.Debug("SQLiteStore SaveSession succeeded", "sessionID", sess.ID, "stage", sess.Stage)
	return nil
}

// GetSession retrieves a session record, or (nil, nil) if absent.
func (s *SQLiteStore) GetSession(id string) (*models.Session, error) {
	query := `SELECT state_json, created_at, updated_at FROM sessions WHERE id = ?`

	var stateJSON string
	var sess models.Session

	err := s.db.QueryRow(query, id).Scan(&stateJSON, &sess.CreatedAt, &sess.UpdatedAt)
	if err == sql.ErrNoRows {
		slog.Debug("SQLiteStore GetSession not found", "sessionID", id)
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetSession failed", "error", err, "sessionID", id)
		return nil, err
	}

	createdAt, updatedAt := sess.CreatedAt, sess.UpdatedAt
	if err := json.Unmarshal([]byte(stateJSON), &sess); err != nil {
		slog.Error("SQLiteStore GetSession JSON unmarshal failed", "error", err, "sessionID", id)
		return nil, fmt.Errorf("failed to decode session %s: %w", id, err)
	}
	// Column values are authoritative for identity and timestamps.
	sess.ID = id
	sess.CreatedAt = createdAt
	sess.UpdatedAt = updatedAt

	slog.Debug("SQLiteStore GetSession found", "sessionID", id, "stage", sess.Stage)
	return &sess, nil
}

// DeleteSession removes a session record.
func (s *SQLiteStore) DeleteSession(id string) error {
	_, err := s.db.Exec(`DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		slog.Error("SQLiteStore DeleteSession failed", "error", err, "sessionID", id)
		return err
	}
	slog.Debug("SQLiteStore DeleteSession succeeded", "sessionID", id)
	return nil
}

// AddLogEntry appends one log entry to the history.
func (s *SQLiteStore) AddLogEntry(e models.LogEntry) error {
	if err := e.Validate(); err != nil {
		return err
	}
	query := `INSERT INTO log_entries (session_id, entry_date, label, notes, created_at) VALUES (?, ?, ?, ?, ?)`
	_, err := s.db.Exec(query, e.SessionID, e.Date, e.Label, e.Notes, e.CreatedAt)
	if err != nil {
		slog.Error("SQLiteStore AddLogEntry failed", "error", err, "sessionID", e.SessionID)
		return fmt.Errorf("failed to insert log entry for %s: %w", e.SessionID, err)
	}
	slog.Debug("SQLiteStore AddLogEntry succeeded", "sessionID", e.SessionID, "label", e.Label)
	return nil
}

// GetLogEntries returns the log entries for a session, newest first.
func (s *SQLiteStore) GetLogEntries(sessionID string) ([]models.LogEntry, error) {
	query := `SELECT id, session_id, entry_date, label, notes, created_at
			  FROM log_entries WHERE session_id = ? ORDER BY id DESC`
	rows, err := s.db.Query(query, sessionID)
	if err != nil {
		slog.Error("SQLiteStore GetLogEntries query failed", "error", err, "sessionID", sessionID)
		return nil, fmt.Errorf("failed to query log entries: %w", err)
	}
	defer rows.Close()

	var entries []models.LogEntry
	for rows.Next() {
		var e models.LogEntry
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Date, &e.Label, &e.Notes, &e.CreatedAt); err != nil {
			slog.Error("SQLiteStore GetLogEntries scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan log entry row: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		slog.Error("SQLiteStore GetLogEntries rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate log entry rows: %w", err)
	}
	slog.Debug("SQLiteStore GetLogEntries succeeded", "sessionID", sessionID, "count", len(entries))
	return entries, nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close SQLite database", "error", err)
	} else {
		slog.Debug("SQLite database connection closed successfully")
	}
	return err
}

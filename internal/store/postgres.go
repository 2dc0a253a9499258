// Package store provides storage backends for HealthLog.
//
// This file implements a PostgreSQL-backed store for session records and log
// entries.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/BTreeMap/HealthLog/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	// Apply options
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	// Determine DSN (required)
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	// Configure connection pool for better performance
	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}
	// Run migrations to ensure tables exist
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

// SaveSession stores or updates a session record.
func (s *PostgresStore) SaveSession(sess models.Session) error {
	if sess.ID == "" {
		return models.ErrEmptySessionID
	}
	stateJSON, err := json.Marshal(sess)
	if err != nil {
		slog.Error("PostgresStore SaveSession JSON marshal failed", "error", err, "sessionID", sess.ID)
		return err
	}

	query := `
		INSERT INTO sessions (id, stage, state_json, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id)
		DO UPDATE SET
			stage = EXCLUDED.stage,
			state_json = EXCLUDED.state_json,
			updated_at = EXCLUDED.updated_at`
	_, err = s.db.Exec(query, sess.ID, string(sess.Stage), stateJSON, sess.CreatedAt, sess.UpdatedAt)
	if err != nil {
		slog.Error("PostgresStore SaveSession failed", "error", err, "sessionID", sess.ID)
		return fmt.Errorf("failed to save session %s: %w", sess.ID, err)
	}
	slog.Debug("PostgresStore SaveSession succeeded", "sessionID", sess.ID, "stage", sess.Stage)
	return nil
}

// GetSession retrieves a session record, or (nil, nil) if absent.
func (s *PostgresStore) GetSession(id string) (*models.Session, error) {
	query := `SELECT state_json, created_at, updated_at FROM sessions WHERE id = $1`

	var stateJSON []byte
	var sess models.Session

	err := s.db.QueryRow(query, id).Scan(&stateJSON, &sess.CreatedAt, &sess.UpdatedAt)
	if err == sql.ErrNoRows {
		slog.Debug("PostgresStore GetSession not found", "sessionID", id)
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetSession failed", "error", err, "sessionID", id)
		return nil, err
	}

	createdAt, updatedAt := sess.CreatedAt, sess.UpdatedAt
	if err := json.Unmarshal(stateJSON, &sess); err != nil {
		slog.Error("PostgresStore GetSession JSON unmarshal failed", "error", err, "sessionID", id)
		return nil, fmt.Errorf("failed to decode session %s: %w", id, err)
	}
	// Column values are authoritative for identity and timestamps.
	sess.ID = id
	sess.CreatedAt = createdAt
	sess.UpdatedAt = updatedAt

	slog.Debug("PostgresStore GetSession found", "sessionID", id, "stage", sess.Stage)
	return &sess, nil
}

// DeleteSession removes a session record.
func (s *PostgresStore) DeleteSession(id string) error {
	_, err := s.db.Exec(`DELETE FROM sessions WHERE id = $1`, id)
	if err != nil {
		slog.Error("PostgresStore DeleteSession failed", "error", err, "sessionID", id)
		return err
	}
	slog.Debug("PostgresStore DeleteSession succeeded", "sessionID", id)
	return nil
}

// AddLogEntry appends one log entry to the history.
func (s *PostgresStore) AddLogEntry(e models.LogEntry) error {
	if err := e.Validate(); err != nil {
		return err
	}
	query := `INSERT INTO log_entries (session_id, entry_date, label, notes, created_at) VALUES ($1, $2, $3, $4, $5)`
	_, err := s.db.Exec(query, e.SessionID, e.Date, e.Label, e.Notes, e.CreatedAt)
	if err != nil {
		slog.Error("PostgresStore AddLogEntry failed", "error", err, "sessionID", e.SessionID)
		return fmt.Errorf("failed to insert log entry for %s: %w", e.SessionID, err)
	}
	slog.Debug("PostgresStore AddLogEntry succeeded", "sessionID", e.SessionID, "label", e.Label)
	return nil
}

// GetLogEntries returns the log entries for a session, newest first.
func (s *PostgresStore) GetLogEntries(sessionID string) ([]models.LogEntry, error) {
	query := `SELECT id, session_id, entry_date, label, notes, created_at
			  FROM log_entries WHERE session_id = $1 ORDER BY id DESC`
	rows, err := s.db.Query(query, sessionID)
	if err != nil {
		slog.Error("PostgresStore GetLogEntries query failed", "error", err, "sessionID", sessionID)
		return nil, fmt.Errorf("failed to query log entries: %w", err)
	}
	defer rows.Close()

	var entries []models.LogEntry
	for rows.Next() {
		var e models.LogEntry
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Date, &e.Label, &e.Notes, &e.CreatedAt); err != nil {
			slog.Error("PostgresStore GetLogEntries scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan log entry row: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		slog.Error("PostgresStore GetLogEntries rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate log entry rows: %w", err)
	}
	slog.Debug("PostgresStore GetLogEntries succeeded", "sessionID", sessionID, "count", len(entries))
	return entries, nil
}

// Close closes the PostgreSQL database connection.
func (s *PostgresStore) Close() error {
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close PostgreSQL database", "error", err)
	} else {
		slog.Debug("PostgreSQL database connection closed successfully")
	}
	return err
}

// Package store provides storage backends for HealthLog.
//
// Session records and log entry history can be kept in SQLite (default),
// PostgreSQL, or an in-memory store for tests and ephemeral runs.
package store

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/HealthLog/internal/models"
)

// Store defines the persistence interface for session records and the local
// log entry history. GetSession returns (nil, nil) when no record exists;
// not-found is not an error.
type Store interface {
	SaveSession(s models.Session) error
	GetSession(id string) (*models.Session, error)
	DeleteSession(id string) error
	AddLogEntry(e models.LogEntry) error
	GetLogEntries(sessionID string) ([]models.LogEntry, error)
	Close() error
}

// Opts holds configuration options for store backends.
type Opts struct {
	// DSN is the database connection string: a file path for SQLite or a
	// connection string/URL for PostgreSQL.
	DSN string
}

// Option configures a store backend.
type Option func(*Opts)

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType returns "postgres" for PostgreSQL-style DSNs (URL scheme or
// key=value keywords) and "sqlite" for anything else, which is treated as a
// file path.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite"
}

// InMemoryStore is a simple in-memory store for session records and log
// entries. Safe for concurrent use.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]models.Session
	entries  []models.LogEntry
	nextID   int64
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		sessions: make(map[string]models.Session),
	}
}

// SaveSession stores or replaces a session record.
func (s *InMemoryStore) SaveSession(sess models.Session) error {
	if sess.ID == "" {
		return models.ErrEmptySessionID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = sess
	return nil
}

// GetSession retrieves a session record, or (nil, nil) if absent.
func (s *InMemoryStore) GetSession(id string) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, nil
	}
	return &sess, nil
}

// DeleteSession removes a session record. Deleting an absent record is a no-op.
func (s *InMemoryStore) DeleteSession(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

// AddLogEntry appends one log entry to the history.
func (s *InMemoryStore) AddLogEntry(e models.LogEntry) error {
	if err := e.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	e.ID = s.nextID
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	s.entries = append(s.entries, e)
	return nil
}

// GetLogEntries returns the log entries for a session, newest first.
func (s *InMemoryStore) GetLogEntries(sessionID string) ([]models.LogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.LogEntry
	for _, e := range s.entries {
		if e.SessionID == sessionID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}

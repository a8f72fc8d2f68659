// Package history keeps an append-only audit log of geolocation lookups
// in SQLite. Entries are never consulted to answer a lookup.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS lookups (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	id         TEXT NOT NULL UNIQUE,
	ip         TEXT NOT NULL,
	continent  TEXT NOT NULL DEFAULT '',
	country    TEXT NOT NULL DEFAULT '',
	city       TEXT NOT NULL DEFAULT '',
	error_code TEXT NOT NULL DEFAULT '',
	reason     TEXT NOT NULL DEFAULT '',
	elapsed    INTEGER NOT NULL DEFAULT 0,
	time       TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_lookups_ip ON lookups(ip);
CREATE INDEX IF NOT EXISTS idx_lookups_time ON lookups(time);
`

// timeLayout is fixed width so stored times sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Entry is one recorded lookup.
type Entry struct {
	ID        string        `json:"id"`
	IP        string        `json:"ip"`
	Continent string        `json:"continent"`
	Country   string        `json:"country"`
	City      string        `json:"city"`
	ErrorCode string        `json:"error_code,omitempty"`
	Reason    string        `json:"reason,omitempty"`
	Elapsed   time.Duration `json:"elapsed"`
	Time      time.Time     `json:"time"`
}

// Failed reports whether the lookup returned an error.
func (e Entry) Failed() bool {
	return e.ErrorCode != ""
}

// SQLiteStoreConfig configures the SQLite history store.
type SQLiteStoreConfig struct {
	// DSN is the database connection string.
	DSN string

	// RetentionAge deletes entries older than this duration (0 = no age pruning).
	RetentionAge time.Duration

	// RetentionCount keeps at most this many entries (0 = no count pruning).
	RetentionCount int

	// PruneInterval is how often to run pruning (default 1 hour).
	PruneInterval time.Duration
}

// SQLiteStore persists lookup entries to SQLite, in WAL mode, with an
// optional background pruner.
type SQLiteStore struct {
	db   *sql.DB
	cfg  SQLiteStoreConfig
	stop chan struct{}
	done chan struct{}
}

// NewSQLiteStore opens (or creates) a history store.
func NewSQLiteStore(cfg SQLiteStoreConfig) (*SQLiteStore, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("history: dsn is required")
	}
	if cfg.PruneInterval <= 0 {
		cfg.PruneInterval = time.Hour
	}

	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("history: open: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("history: set WAL mode: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("history: create schema: %w", err)
	}

	s := &SQLiteStore{
		db:   db,
		cfg:  cfg,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}

	if cfg.RetentionAge > 0 || cfg.RetentionCount > 0 {
		go s.pruneLoop()
	} else {
		close(s.done)
	}

	return s, nil
}

// Append stores an entry, assigning an ID and timestamp when missing.
func (s *SQLiteStore) Append(ctx context.Context, entry Entry) (Entry, error) {
	if strings.TrimSpace(entry.IP) == "" {
		return Entry{}, fmt.Errorf("history: entry ip is required")
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Time.IsZero() {
		entry.Time = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO lookups (id, ip, continent, country, city, error_code, reason, elapsed, time)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID,
		entry.IP,
		entry.Continent,
		entry.Country,
		entry.City,
		entry.ErrorCode,
		entry.Reason,
		int64(entry.Elapsed),
		entry.Time.UTC().Format(timeLayout),
	)
	if err != nil {
		return Entry{}, fmt.Errorf("history: append: %w", err)
	}
	return entry, nil
}

// ListFilter narrows List results.
type ListFilter struct {
	IP    string
	Limit int
}

// List returns entries newest first.
func (s *SQLiteStore) List(ctx context.Context, filter ListFilter) ([]Entry, error) {
	query := `SELECT id, ip, continent, country, city, error_code, reason, elapsed, time FROM lookups`
	var args []any
	if ip := strings.TrimSpace(filter.IP); ip != "" {
		query += " WHERE ip = ?"
		args = append(args, ip)
	}
	query += " ORDER BY seq DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("history: list: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

// Count returns the number of stored entries.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM lookups`).Scan(&n); err != nil {
		return 0, fmt.Errorf("history: count: %w", err)
	}
	return n, nil
}

// Close stops the background pruner and closes the database connection.
func (s *SQLiteStore) Close() error {
	select {
	case <-s.stop:
		// Already closed.
	default:
		close(s.stop)
	}
	<-s.done
	return s.db.Close()
}

// Prune runs a single pruning pass. Exported for testing.
func (s *SQLiteStore) Prune(ctx context.Context) error {
	if s.cfg.RetentionAge > 0 {
		cutoff := time.Now().UTC().Add(-s.cfg.RetentionAge).Format(timeLayout)
		if _, err := s.db.ExecContext(ctx,
			`DELETE FROM lookups WHERE time < ?`, cutoff,
		); err != nil {
			return fmt.Errorf("history: prune by age: %w", err)
		}
	}

	if s.cfg.RetentionCount > 0 {
		if _, err := s.db.ExecContext(ctx,
			`DELETE FROM lookups WHERE seq NOT IN (
				SELECT seq FROM lookups ORDER BY seq DESC LIMIT ?
			)`, s.cfg.RetentionCount,
		); err != nil {
			return fmt.Errorf("history: prune by count: %w", err)
		}
	}

	return nil
}

func (s *SQLiteStore) pruneLoop() {
	defer close(s.done)

	_ = s.Prune(context.Background())
	ticker := time.NewTicker(s.cfg.PruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			_ = s.Prune(context.Background())
		}
	}
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	var entries []Entry
	for rows.Next() {
		var (
			e           Entry
			elapsedNano int64
			timeStr     string
		)
		if err := rows.Scan(
			&e.ID,
			&e.IP,
			&e.Continent,
			&e.Country,
			&e.City,
			&e.ErrorCode,
			&e.Reason,
			&elapsedNano,
			&timeStr,
		); err != nil {
			return nil, fmt.Errorf("history: scan: %w", err)
		}
		e.Elapsed = time.Duration(elapsedNano)
		t, err := time.Parse(timeLayout, timeStr)
		if err != nil {
			return nil, fmt.Errorf("history: parse time %q: %w", timeStr, err)
		}
		e.Time = t
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

package history

// SQLite-backed storage slots for session snapshots.
// The database is opened lazily and created on first use.
// If opening the DB or executing queries fails, the slot falls back to in-memory storage.

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/glebarez/go-sqlite"

	"github.com/comigor/parley/internal/logger"
)

// ErrQuotaExceeded is returned by Save when a snapshot is larger than the slot quota.
var ErrQuotaExceeded = errors.New("storage quota exceeded")

// Slot is a single named value in durable local storage.
type Slot interface {
	// Load returns the stored bytes, or nil when nothing was saved yet.
	Load(ctx context.Context) ([]byte, error)
	Save(ctx context.Context, data []byte) error
}

func checkQuota(data []byte, quota int) error {
	if quota > 0 && len(data) > quota {
		return fmt.Errorf("%w: %d bytes > %d", ErrQuotaExceeded, len(data), quota)
	}
	return nil
}

// MemorySlot keeps the value in process memory.
type MemorySlot struct {
	mu    sync.Mutex
	data  []byte
	quota int
}

// NewMemorySlot returns an empty slot; quota <= 0 means unlimited.
func NewMemorySlot(quota int) *MemorySlot {
	return &MemorySlot{quota: quota}
}

func (m *MemorySlot) Load(context.Context) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		return nil, nil
	}
	return append([]byte(nil), m.data...), nil
}

func (m *MemorySlot) Save(_ context.Context, data []byte) error {
	if err := checkQuota(data, m.quota); err != nil {
		return err
	}
	m.mu.Lock()
	m.data = append([]byte(nil), data...)
	m.mu.Unlock()
	return nil
}

// SQLiteSlot stores its value as one row of the slots table.
type SQLiteSlot struct {
	path  string
	name  string
	quota int

	dbOnce  sync.Once
	db      *sql.DB
	initErr error

	fallback *MemorySlot
}

// NewSQLiteSlot returns a slot named name inside the database at path.
// Nothing is opened until the first Load or Save.
func NewSQLiteSlot(path, name string, quota int) *SQLiteSlot {
	return &SQLiteSlot{
		path:     path,
		name:     name,
		quota:    quota,
		fallback: NewMemorySlot(quota),
	}
}

// initDB lazily opens the SQLite database and creates the slots table if it doesn't exist.
func (s *SQLiteSlot) initDB() {
	var err error
	s.db, err = sql.Open("sqlite", "file:"+s.path+"?_pragma=busy_timeout(10000)")
	if err != nil {
		s.initErr = err
		logger.L.Warn("sqlite open failed; using in-memory storage", "path", s.path, "error", err)
		return
	}
	if _, err = s.db.Exec(`CREATE TABLE IF NOT EXISTS slots (
        name TEXT PRIMARY KEY,
        value BLOB,
        updated_at DATETIME
    );`); err != nil {
		s.initErr = err
		logger.L.Warn("sqlite table creation failed; using in-memory storage", "path", s.path, "error", err)
		return
	}
	logger.L.Info("sqlite storage initialized", "path", s.path, "slot", s.name)
}

func (s *SQLiteSlot) ready() bool {
	s.dbOnce.Do(s.initDB)
	return s.initErr == nil && s.db != nil
}

// Load reads the slot value, falling back to the in-memory copy when the
// database is unavailable.
func (s *SQLiteSlot) Load(ctx context.Context) ([]byte, error) {
	if !s.ready() {
		return s.fallback.Load(ctx)
	}
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM slots WHERE name = ?;`, s.name).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load slot %q: %w", s.name, err)
	}
	return data, nil
}

// Save replaces the slot value. Concurrent writers are last-write-wins.
func (s *SQLiteSlot) Save(ctx context.Context, data []byte) error {
	if err := checkQuota(data, s.quota); err != nil {
		return err
	}
	if !s.ready() {
		return s.fallback.Save(ctx, data)
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO slots (name, value, updated_at) VALUES (?,?,?)
        ON CONFLICT(name) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at;`,
		s.name, data, time.Now().UTC())
	if err != nil {
		logger.L.Error("failed to store slot in sqlite; falling back to memory", "slot", s.name, "error", err)
		return s.fallback.Save(ctx, data)
	}
	return nil
}

// Close releases the database handle if one was opened.
func (s *SQLiteSlot) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

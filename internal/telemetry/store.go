package telemetry

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS records (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	Time TEXT,
	IP TEXT,
	Model TEXT,
	Type TEXT,
	CompletionTokens INTEGER,
	PromptTokens INTEGER,
	TotalTokens INTEGER,
	Tool BOOLEAN,
	Multimodal BOOLEAN,
	Headers TEXT,
	Request TEXT,
	Response TEXT
)`

const postgresSchema = `
CREATE TABLE IF NOT EXISTS records (
	id BIGSERIAL PRIMARY KEY,
	Time TEXT,
	IP TEXT,
	Model TEXT,
	Type TEXT,
	CompletionTokens INTEGER,
	PromptTokens INTEGER,
	TotalTokens INTEGER,
	Tool BOOLEAN,
	Multimodal BOOLEAN,
	Headers TEXT,
	Request TEXT,
	Response TEXT
)`

// Store writes Records to SQLite or Postgres. The rotation lock quiesces
// writers while the SQLite file is archived and re-created; inserts take
// the read side, rotation the write side.
type Store struct {
	mu     sync.RWMutex
	db     *sql.DB
	driver string
	// path is the SQLite file path; empty for Postgres, which never rotates.
	path   string
	logger *slog.Logger
}

// Open connects the record store. A DSN starting with postgres:// (or
// postgresql://) selects the Postgres backend; anything else is treated
// as a SQLite file path, created on demand.
func Open(dsn string, logger *slog.Logger) (*Store, error) {
	s := &Store{logger: logger}
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		s.driver = "postgres"
		if err := s.open(dsn); err != nil {
			return nil, err
		}
		return s, nil
	}
	s.driver = "sqlite"
	s.path = strings.TrimPrefix(dsn, "sqlite:")
	if err := s.open(s.path); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) open(dsn string) error {
	schema := sqliteSchema
	if s.driver == "postgres" {
		schema = postgresSchema
	}
	db, err := sql.Open(s.driver, dsn)
	if err != nil {
		return fmt.Errorf("opening record store: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return fmt.Errorf("creating records table: %w", err)
	}
	s.db = db
	s.logger.Info("record store ready", "driver", s.driver)
	return nil
}

// Log inserts one record, rotating the SQLite file first when the month
// has rolled over. Errors are logged and swallowed; telemetry must never
// fail a request.
func (s *Store) Log(rec *Record) {
	s.RotateIfNeeded()

	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `INSERT INTO records (
		Time, IP, Model, Type, CompletionTokens, PromptTokens, TotalTokens,
		Tool, Multimodal, Headers, Request, Response
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if s.driver == "postgres" {
		query = `INSERT INTO records (
			Time, IP, Model, Type, CompletionTokens, PromptTokens, TotalTokens,
			Tool, Multimodal, Headers, Request, Response
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	}

	_, err := s.db.Exec(query,
		rec.Time, rec.IP, rec.Model, rec.Type,
		rec.CompletionTokens, rec.PromptTokens, rec.TotalTokens,
		rec.Tool, rec.Multimodal, rec.Headers, rec.Request, rec.Response)
	if err != nil {
		s.logger.Error("failed to write telemetry record", "error", err)
	}
}

// RotateIfNeeded archives the SQLite file as record_YYYYMM.db when its
// last modification falls in an earlier month, then re-creates the store.
// Serialized by the rotation lock, which also blocks in-flight inserts.
func (s *Store) RotateIfNeeded() {
	if s.driver != "sqlite" || s.path == "" {
		return
	}
	info, err := os.Stat(s.path)
	if err != nil {
		return
	}
	mod := info.ModTime()
	now := time.Now()
	if mod.Year() == now.Year() && mod.Month() == now.Month() {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Re-check under the lock: another writer may have rotated already.
	info, err = os.Stat(s.path)
	if err != nil {
		return
	}
	mod = info.ModTime()
	if mod.Year() == now.Year() && mod.Month() == now.Month() {
		return
	}

	dir := filepath.Dir(s.path)
	archive := filepath.Join(dir, fmt.Sprintf("record_%s.db", mod.Format("200601")))
	if _, err := os.Stat(archive); err == nil {
		archive = filepath.Join(dir,
			fmt.Sprintf("record_%s_%d.db", mod.Format("200601"), time.Now().Unix()))
		s.logger.Warn("archive file already exists, adding timestamp suffix", "archive", archive)
	}

	s.logger.Info("rotating record store", "from", s.path, "to", archive)
	_ = s.db.Close()
	if err := os.Rename(s.path, archive); err != nil {
		s.logger.Error("failed to archive record store", "error", err)
	}
	if err := s.open(s.path); err != nil {
		s.logger.Error("failed to re-open record store after rotation", "error", err)
	}
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

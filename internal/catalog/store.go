// Package catalog persists discovery passes to SQLite so the host can show
// what was found, skipped and when.
//
// Storage location defaults to .plugdisc/catalog.db. Two drivers are
// supported: "sqlite" (modernc.org/sqlite, pure Go) and "sqlite3"
// (github.com/mattn/go-sqlite3, cgo).
package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"plugdisc/internal/logging"
	"plugdisc/internal/registry"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// Supported driver names.
const (
	DriverPure = "sqlite"
	DriverCgo  = "sqlite3"
)

// Module statuses recorded per pass.
const (
	StatusRegistered = "registered"
	StatusDuplicate  = "duplicate"
	StatusFailed     = "failed"
)

// Store records discovery passes.
type Store struct {
	db     *sql.DB
	mu     sync.RWMutex
	path   string
	logger *zap.Logger
}

// Pass is one recorded discovery pass.
type Pass struct {
	ID         string
	Root       string
	StartedAt  time.Time
	DurationMs int64
	Scanned    int
	Registered int
	Failed     int
	Duplicates int
}

// Module is one module outcome within a pass.
type Module struct {
	PassID   string
	Position int
	Name     string
	Path     string
	Kind     string
	Status   string
	Error    string
}

// Open opens (creating if needed) the catalog at path using driver.
func Open(driver, path string, logger *zap.Logger) (*Store, error) {
	logger = logging.For(logger, logging.CategoryCatalog)

	switch driver {
	case DriverPure, DriverCgo:
	default:
		return nil, fmt.Errorf("unsupported catalog driver %q", driver)
	}

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			logger.Error("Failed to create catalog directory", zap.String("path", path), zap.Error(err))
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open(driver, path)
	if err != nil {
		logger.Error("Failed to open catalog database", zap.String("path", path), zap.Error(err))
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Writes are serialised by mu; one connection also keeps :memory: stable.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, path: path, logger: logger}
	if err := s.initialize(); err != nil {
		logger.Error("Failed to initialize catalog schema", zap.Error(err))
		db.Close()
		return nil, err
	}

	logger.Debug("Catalog opened", zap.String("path", path), zap.String("driver", driver))
	return s, nil
}

func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS discovery_passes (
		id TEXT PRIMARY KEY,
		root TEXT NOT NULL,
		started_at TEXT NOT NULL,
		duration_ms INTEGER NOT NULL,
		scanned INTEGER NOT NULL,
		registered INTEGER NOT NULL,
		failed INTEGER NOT NULL,
		duplicates INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS discovered_modules (
		pass_id TEXT NOT NULL REFERENCES discovery_passes(id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		name TEXT NOT NULL,
		path TEXT,
		kind TEXT,
		status TEXT NOT NULL,
		error TEXT,
		PRIMARY KEY (pass_id, position)
	);

	CREATE INDEX IF NOT EXISTS idx_discovery_passes_started ON discovery_passes(started_at);
	CREATE INDEX IF NOT EXISTS idx_discovered_modules_name ON discovered_modules(name);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Record stores report and every module outcome in one transaction.
func (s *Store) Record(ctx context.Context, report *registry.Report) error {
	if report == nil {
		return fmt.Errorf("nil report")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	registered := 0
	if report.Registry != nil {
		registered = report.Registry.Len()
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO discovery_passes
		(id, root, started_at, duration_ms, scanned, registered, failed, duplicates)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		report.PassID, report.Root, report.StartedAt.UTC().Format(time.RFC3339Nano),
		report.Duration.Milliseconds(), report.Scanned, registered,
		len(report.Failures), len(report.Duplicates),
	)
	if err != nil {
		return fmt.Errorf("failed to insert pass: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO discovered_modules (pass_id, position, name, path, kind, status, error)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare module insert: %w", err)
	}
	defer stmt.Close()

	pos := 0
	insert := func(name, path, kind, status, errText string) error {
		_, err := stmt.ExecContext(ctx, report.PassID, pos, name, path, kind, status, errText)
		pos++
		return err
	}

	if report.Registry != nil {
		for _, ext := range report.Registry.List() {
			if err := insert(ext.Name, ext.Module.Path, string(ext.Module.Kind), StatusRegistered, ""); err != nil {
				return fmt.Errorf("failed to insert module %s: %w", ext.Name, err)
			}
		}
	}
	for _, ref := range report.Duplicates {
		if err := insert(ref.Name, ref.Path, string(ref.Kind), StatusDuplicate, ""); err != nil {
			return fmt.Errorf("failed to insert module %s: %w", ref.Name, err)
		}
	}
	for _, f := range report.Failures {
		if err := insert(f.Module, f.Path, string(f.Kind), StatusFailed, f.Err.Error()); err != nil {
			return fmt.Errorf("failed to insert module %s: %w", f.Module, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit pass: %w", err)
	}

	s.logger.Debug("Recorded discovery pass",
		zap.String("pass_id", report.PassID),
		zap.Int("modules", pos))
	return nil
}

// ObservePass implements registry.Observer. Failures are logged, not
// returned.
func (s *Store) ObservePass(report *registry.Report) {
	if err := s.Record(context.Background(), report); err != nil {
		s.logger.Warn("Failed to record discovery pass", zap.Error(err))
	}
}

// Passes returns up to limit passes, newest first.
func (s *Store) Passes(ctx context.Context, limit int) ([]Pass, error) {
	if limit <= 0 {
		limit = 20
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, root, started_at, duration_ms, scanned, registered, failed, duplicates
		FROM discovery_passes
		ORDER BY started_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query passes: %w", err)
	}
	defer rows.Close()

	var passes []Pass
	for rows.Next() {
		var p Pass
		var started string
		if err := rows.Scan(&p.ID, &p.Root, &started, &p.DurationMs, &p.Scanned, &p.Registered, &p.Failed, &p.Duplicates); err != nil {
			return nil, fmt.Errorf("failed to scan pass: %w", err)
		}
		if t, err := time.Parse(time.RFC3339Nano, started); err == nil {
			p.StartedAt = t
		}
		passes = append(passes, p)
	}
	return passes, rows.Err()
}

// Modules returns the module outcomes of one pass in recorded order.
func (s *Store) Modules(ctx context.Context, passID string) ([]Module, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT pass_id, position, name, COALESCE(path, ''), COALESCE(kind, ''), status, COALESCE(error, '')
		FROM discovered_modules
		WHERE pass_id = ?
		ORDER BY position`, passID)
	if err != nil {
		return nil, fmt.Errorf("failed to query modules: %w", err)
	}
	defer rows.Close()

	var modules []Module
	for rows.Next() {
		var m Module
		if err := rows.Scan(&m.PassID, &m.Position, &m.Name, &m.Path, &m.Kind, &m.Status, &m.Error); err != nil {
			return nil, fmt.Errorf("failed to scan module: %w", err)
		}
		modules = append(modules, m)
	}
	return modules, rows.Err()
}

// Path returns the database location.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

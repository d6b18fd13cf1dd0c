package db

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

var ErrClosed = errors.New("store is closed")

// ErrRejected marks a Replace that failed because the new file could not be
// opened or prepared. The previous database is back in place.
var ErrRejected = errors.New("replacement database rejected")

// gooseMu serialises goose's package-level configuration.
var gooseMu sync.Mutex

// Store is the handle to the single-file database. Every operation runs
// under a shared lock; Replace takes the lock exclusively so nobody observes
// a half-swapped file.
type Store struct {
	mu   sync.RWMutex
	path string
	db   *sql.DB
}

// Open opens (creating if needed) the database file at path and brings the
// schema up to date.
func Open(ctx context.Context, path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	conn, err := open(ctx, path)
	if err != nil {
		return nil, err
	}
	return &Store{path: path, db: conn}, nil
}

// Transactions begin IMMEDIATE so concurrent writers queue on the busy
// timeout instead of failing the read-to-write lock upgrade.
func dsn(path string) string {
	return "file:" + path + "?_foreign_keys=on&_busy_timeout=5000&_txlock=immediate"
}

func open(ctx context.Context, path string) (*sql.DB, error) {
	conn, err := sql.Open("sqlite3", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := migrate(ctx, conn); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

func migrate(ctx context.Context, conn *sql.DB) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, conn, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

func (s *Store) Path() string {
	return s.path
}

// View runs fn with the live connection pool under the shared lock.
func (s *Store) View(ctx context.Context, fn func(conn *sql.DB) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(s.db)
}

// Tx runs fn inside a transaction under the shared lock.
func (s *Store) Tx(ctx context.Context, fn func(tx DBTX) error) error {
	return s.View(ctx, func(conn *sql.DB) error {
		return WithTx(ctx, conn, nil, func(_ context.Context, tx DBTX) error {
			return fn(tx)
		})
	})
}

// Snapshot writes a read-consistent copy of the database to w.
func (s *Store) Snapshot(ctx context.Context, w io.Writer) error {
	dir, err := os.MkdirTemp("", "worklog-snapshot-*")
	if err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	defer os.RemoveAll(dir)
	target := filepath.Join(dir, "app.db")

	err = s.View(ctx, func(conn *sql.DB) error {
		_, err := conn.ExecContext(ctx, "VACUUM INTO ?", target)
		return err
	})
	if err != nil {
		return fmt.Errorf("vacuum into snapshot: %w", err)
	}

	f, err := os.Open(target)
	if err != nil {
		return fmt.Errorf("open snapshot: %w", err)
	}
	defer f.Close()
	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("copy snapshot: %w", err)
	}
	return nil
}

// CreateTemp creates a scratch file next to the database file so that a
// later Replace is a same-filesystem rename.
func (s *Store) CreateTemp() (*os.File, error) {
	return os.CreateTemp(filepath.Dir(s.path), ".restore-*.db")
}

// Replace swaps the database file for src while holding the exclusive lock.
// src must already be validated. prepare runs against the new file before
// the lock is released. When the new file cannot be opened or prepared the
// previous file is put back and reopened.
func (s *Store) Replace(ctx context.Context, src string, prepare func(ctx context.Context, conn *sql.DB) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return ErrClosed
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	s.db = nil

	previous := s.path + ".previous"
	if err := os.Rename(s.path, previous); err != nil {
		return s.reopen(ctx, fmt.Errorf("move current database aside: %w", err))
	}
	removeSidecars(s.path)

	if err := os.Rename(src, s.path); err != nil {
		_ = os.Rename(previous, s.path)
		return s.reopen(ctx, fmt.Errorf("move restored database in place: %w", err))
	}

	conn, err := open(ctx, s.path)
	if err == nil && prepare != nil {
		if err = prepare(ctx, conn); err != nil {
			conn.Close()
		}
	}
	if err != nil {
		_ = os.Remove(s.path)
		removeSidecars(s.path)
		_ = os.Rename(previous, s.path)
		return s.reopen(ctx, fmt.Errorf("%w: %w", ErrRejected, err))
	}

	s.db = conn
	_ = os.Remove(previous)
	return nil
}

// reopen restores s.db after a failed Replace and returns cause.
func (s *Store) reopen(ctx context.Context, cause error) error {
	conn, err := open(ctx, s.path)
	if err != nil {
		return errors.Join(cause, fmt.Errorf("reopen database: %w", err))
	}
	s.db = conn
	return cause
}

func removeSidecars(path string) {
	for _, suffix := range []string{"-journal", "-wal", "-shm"} {
		_ = os.Remove(path + suffix)
	}
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

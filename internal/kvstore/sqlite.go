package kvstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// DB is a SQLite-backed slot store. One DB is opened per process and shared by
// all slot handles; the handles see each other's writes through the shared
// watcher registry.
type DB struct {
	db *sql.DB

	mu       sync.Mutex
	watchers map[string]map[int64]chan string // slot name -> watcher id -> stream
	nextID   int64
	closed   bool
}

// Open creates or opens the slot database at dbPath.
func Open(dbPath string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL mode for concurrent readers while a write commits.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &DB{
		db:       db,
		watchers: make(map[string]map[int64]chan string),
	}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *DB) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS slots (
		name TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *DB) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database and terminates every watcher stream.
func (s *DB) Close() error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		for _, byID := range s.watchers {
			for _, ch := range byID {
				close(ch)
			}
		}
		s.watchers = make(map[string]map[int64]chan string)
	}
	s.mu.Unlock()
	return s.db.Close()
}

// Slot returns a handle to the named slot. Reading an unset slot yields
// defaultValue. Multiple handles to the same name share one durable value.
func (s *DB) Slot(name, defaultValue string) Slot {
	return &slot{db: s, name: name, defaultValue: defaultValue}
}

type slot struct {
	db           *DB
	name         string
	defaultValue string
}

func (sl *slot) Read(ctx context.Context) (string, error) {
	row := sl.db.db.QueryRowContext(ctx, `SELECT value FROM slots WHERE name = ?`, sl.name)
	var value string
	err := row.Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return sl.defaultValue, nil
	}
	if err != nil {
		return "", fmt.Errorf("read slot %q: %w", sl.name, err)
	}
	return value, nil
}

func (sl *slot) Write(ctx context.Context, value string) error {
	query := `
		INSERT INTO slots (name, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`
	if _, err := sl.db.db.ExecContext(ctx, query, sl.name, value, time.Now().Unix()); err != nil {
		return fmt.Errorf("write slot %q: %w", sl.name, err)
	}
	sl.db.notify(sl.name, value)
	return nil
}

func (sl *slot) Watch(ctx context.Context) <-chan string {
	out := make(chan string, 1)

	current, err := sl.Read(ctx)
	if err != nil {
		// A watcher has no error channel; deliver the default and let the
		// next successful write correct it.
		current = sl.defaultValue
	}
	out <- current

	sl.db.mu.Lock()
	if sl.db.closed {
		sl.db.mu.Unlock()
		close(out)
		return out
	}
	sl.db.nextID++
	id := sl.db.nextID
	if sl.db.watchers[sl.name] == nil {
		sl.db.watchers[sl.name] = make(map[int64]chan string)
	}
	sl.db.watchers[sl.name][id] = out
	sl.db.mu.Unlock()

	go func() {
		<-ctx.Done()
		sl.db.mu.Lock()
		defer sl.db.mu.Unlock()
		if sl.db.closed {
			return
		}
		if ch, ok := sl.db.watchers[sl.name][id]; ok {
			delete(sl.db.watchers[sl.name], id)
			close(ch)
		}
	}()

	return out
}

// notify pushes a new value to every watcher of the slot. Channels are
// conflating: a slow watcher keeps only the most recent snapshot.
func (s *DB) notify(name, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.watchers[name] {
		select {
		case ch <- value:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- value
		}
	}
}

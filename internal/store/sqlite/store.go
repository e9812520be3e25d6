// Package sqlite implements the connection store backed by a SQLite database.
// It manages stored upstream connections and server settings.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/koltyakov/wazuhproxy/internal/auth"
)

// Store wraps a SQLite database connection for all persistence operations.
type Store struct {
	db *sql.DB

	getConnectionStmt *sql.Stmt

	sealerMu sync.RWMutex
	sealer   *auth.Sealer
}

const defaultMaxOpenConns = 10
const defaultMaxIdleConns = 10

const getConnectionQuery = `
SELECT id, url, port, username, password_sealed, filter_type, cluster_name, manager_name, created_at
FROM connections
WHERE id = ?`

// OpenOptions controls SQLite connection pool sizing.
type OpenOptions struct {
	MaxOpenConns int
	MaxIdleConns int
}

// Open creates or opens the SQLite database at path, runs migrations, and
// enables WAL mode for improved concurrent read performance.
func Open(path string) (*Store, error) {
	return OpenWithOptions(path, OpenOptions{})
}

// OpenWithOptions creates or opens the SQLite database at path with tunable
// connection pool settings, runs migrations, and enables WAL mode.
func OpenWithOptions(path string, opts OpenOptions) (*Store, error) {
	if err := ensureParentDir(path); err != nil {
		return nil, err
	}
	// Append per-connection PRAGMAs to the DSN so every pooled connection gets them.
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	dsn := path + sep + "_pragma=foreign_keys(1)&_pragma=synchronous(normal)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	maxOpenConns := opts.MaxOpenConns
	if maxOpenConns <= 0 {
		maxOpenConns = defaultMaxOpenConns
	}
	maxIdleConns := opts.MaxIdleConns
	if maxIdleConns <= 0 {
		maxIdleConns = defaultMaxIdleConns
	}
	if maxIdleConns > maxOpenConns {
		maxIdleConns = maxOpenConns
	}

	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)

	// journal_mode and busy_timeout are database-wide; set them once here.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite setup (%s): %w", pragma, err)
		}
	}
	s := &Store{db: db}
	if err := s.Migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.prepareStatements(context.Background()); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	stmtErr := s.closePreparedStatements()
	return errors.Join(stmtErr, s.db.Close())
}

// SetSealer installs the sealer used to protect stored passwords. It must be
// called before any connection is created or read.
func (s *Store) SetSealer(sealer *auth.Sealer) {
	s.sealerMu.Lock()
	s.sealer = sealer
	s.sealerMu.Unlock()
}

func (s *Store) currentSealer() (*auth.Sealer, error) {
	s.sealerMu.RLock()
	defer s.sealerMu.RUnlock()
	if s.sealer == nil {
		return nil, errors.New("store sealer is not configured")
	}
	return s.sealer, nil
}

func (s *Store) prepareStatements(ctx context.Context) error {
	var err error
	if s.getConnectionStmt, err = s.db.PrepareContext(ctx, getConnectionQuery); err != nil {
		return fmt.Errorf("prepare get connection query: %w", err)
	}
	return nil
}

func (s *Store) closePreparedStatements() error {
	return closeStmt(&s.getConnectionStmt)
}

func closeStmt(stmt **sql.Stmt) error {
	if stmt == nil || *stmt == nil {
		return nil
	}
	err := (*stmt).Close()
	*stmt = nil
	return err
}

// Migrate creates all required tables and indexes if they do not already exist.
func (s *Store) Migrate(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS connections (
	id TEXT PRIMARY KEY,
	url TEXT NOT NULL,
	port INTEGER NOT NULL,
	username TEXT NOT NULL,
	password_sealed TEXT NOT NULL,
	filter_type TEXT NOT NULL DEFAULT '',
	cluster_name TEXT NULL,
	manager_name TEXT NULL,
	created_at DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS server_settings (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_connections_created_at ON connections(created_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

package store

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"go.uber.org/zap"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

var ErrClosed = errors.New("store is closed")

// File is one entry of a durable image.
type File struct {
	Mode uint32
	Data []byte
}

// Config configures the durable store.
type Config struct {
	// Path of the SQLite database file, or ":memory:" with PoolSize 1.
	Path string
	// PoolSize defaults to max(NumCPU, 4).
	PoolSize int
	// CompressAbove is the blob size above which file data is zstd
	// compressed. Zero disables compression.
	CompressAbove int
}

// Store keeps named durable images and a small key/value table.
type Store struct {
	pool   *sqlitex.Pool
	codec  *codec
	logger *zap.Logger
	path   string
}

const schema = `
CREATE TABLE IF NOT EXISTS meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS files (
	store TEXT NOT NULL,
	path  TEXT NOT NULL,
	mode  INTEGER NOT NULL DEFAULT 420,
	data  BLOB NOT NULL,
	PRIMARY KEY (store, path)
);
`

// Open opens (creating if needed) the database at cfg.Path.
func Open(cfg Config, logger *zap.Logger) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("store: path is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = runtime.NumCPU()
		if poolSize < 4 {
			poolSize = 4
		}
	}

	pool, err := sqlitex.NewPool(cfg.Path, sqlitex.PoolOptions{
		PoolSize:    poolSize,
		PrepareConn: prepareConn,
	})
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", cfg.Path, err)
	}

	c, err := newCodec(cfg.CompressAbove)
	if err != nil {
		pool.Close()
		return nil, err
	}

	logger.Info("Durable store opened",
		zap.String("path", cfg.Path),
		zap.Int("pool_size", poolSize),
	)

	return &Store{pool: pool, codec: c, logger: logger, path: cfg.Path}, nil
}

func prepareConn(conn *sqlite.Conn) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("store: %s: %w", pragma, err)
		}
	}
	if err := sqlitex.ExecuteScript(conn, schema, nil); err != nil {
		return fmt.Errorf("store: schema: %w", err)
	}
	return nil
}

// Get returns the value stored under key.
func (s *Store) Get(ctx context.Context, key string) (value string, found bool, err error) {
	conn, err := s.take(ctx)
	if err != nil {
		return "", false, err
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, "SELECT value FROM meta WHERE key = ?", &sqlitex.ExecOptions{
		Args: []any{key},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			value = stmt.ColumnText(0)
			found = true
			return nil
		},
	})
	if err != nil {
		return "", false, fmt.Errorf("store: get %s: %w", key, err)
	}
	return value, found, nil
}

// Set stores value under key.
func (s *Store) Set(ctx context.Context, key, value string) error {
	conn, err := s.take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		"INSERT INTO meta (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		&sqlitex.ExecOptions{Args: []any{key, value}})
	if err != nil {
		return fmt.Errorf("store: set %s: %w", key, err)
	}
	return nil
}

// DeleteStore removes every file of the named image.
func (s *Store) DeleteStore(ctx context.Context, name string) error {
	conn, err := s.take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	if err := sqlitex.Execute(conn, "DELETE FROM files WHERE store = ?", &sqlitex.ExecOptions{
		Args: []any{name},
	}); err != nil {
		return fmt.Errorf("store: delete %s: %w", name, err)
	}

	s.logger.Info("Durable image deleted", zap.String("store", name), zap.Int("files", conn.Changes()))
	return nil
}

// LoadImage reads the whole named image.
func (s *Store) LoadImage(ctx context.Context, name string) (map[string]File, error) {
	conn, err := s.take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	files := make(map[string]File)
	err = sqlitex.Execute(conn, "SELECT path, mode, data FROM files WHERE store = ?", &sqlitex.ExecOptions{
		Args: []any{name},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			blob := make([]byte, stmt.ColumnLen(2))
			stmt.ColumnBytes(2, blob)
			data, err := s.codec.decode(blob)
			if err != nil {
				return fmt.Errorf("%s: %w", stmt.ColumnText(0), err)
			}
			files[stmt.ColumnText(0)] = File{Mode: uint32(stmt.ColumnInt64(1)), Data: data}
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("store: load %s: %w", name, err)
	}
	return files, nil
}

// SaveImage replaces the named image with files in a single transaction.
func (s *Store) SaveImage(ctx context.Context, name string, files map[string]File) (err error) {
	conn, err := s.take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("store: save %s: begin: %w", name, err)
	}
	defer endTransaction(&err)

	if err = sqlitex.Execute(conn, "DELETE FROM files WHERE store = ?", &sqlitex.ExecOptions{
		Args: []any{name},
	}); err != nil {
		return fmt.Errorf("store: save %s: %w", name, err)
	}

	for path, f := range files {
		if err = sqlitex.Execute(conn,
			"INSERT INTO files (store, path, mode, data) VALUES (?, ?, ?, ?)",
			&sqlitex.ExecOptions{Args: []any{name, path, int64(f.Mode), s.codec.encode(f.Data)}},
		); err != nil {
			return fmt.Errorf("store: save %s/%s: %w", name, path, err)
		}
	}
	return nil
}

// Close closes all connections. Borrowed connections must be returned first.
func (s *Store) Close() error {
	s.codec.close()
	if err := s.pool.Close(); err != nil {
		s.logger.Error("Failed to close durable store", zap.String("path", s.path), zap.Error(err))
		return fmt.Errorf("store: close %s: %w", s.path, err)
	}
	s.logger.Info("Durable store closed", zap.String("path", s.path))
	return nil
}

func (s *Store) take(ctx context.Context) (*sqlite.Conn, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: take: %w", err)
	}
	if conn == nil {
		return nil, ErrClosed
	}
	return conn, nil
}

package store

import (
	"context"
	"fmt"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/offs-project/offs/internal/id_service"
	"github.com/offs-project/offs/internal/log_service"
)

// schema is shared by server and client stores. The journal tables are
// created on every store but only ever populated on clients.
const schema = `
CREATE TABLE IF NOT EXISTS file (
    id                TEXT PRIMARY KEY,
    parent            TEXT REFERENCES file (id) ON DELETE CASCADE ON UPDATE CASCADE,
    name              TEXT    NOT NULL,
    dirent_version    INTEGER NOT NULL,
    content_version   INTEGER NOT NULL,
    retrieved_version INTEGER NOT NULL DEFAULT 0,
    file_type         INTEGER NOT NULL,
    mode              INTEGER NOT NULL,
    dev               INTEGER NOT NULL DEFAULT 0,
    uid               INTEGER NOT NULL DEFAULT 0,
    gid               INTEGER NOT NULL DEFAULT 0,
    size              INTEGER NOT NULL DEFAULT 0,
    atim              INTEGER NOT NULL,
    atimns            INTEGER NOT NULL,
    mtim              INTEGER NOT NULL,
    mtimns            INTEGER NOT NULL,
    ctim              INTEGER NOT NULL,
    ctimns            INTEGER NOT NULL,
    UNIQUE (parent, name)
);

CREATE INDEX IF NOT EXISTS file_parent ON file (parent);

CREATE TABLE IF NOT EXISTS blob (
    id      TEXT PRIMARY KEY,
    content BLOB NOT NULL
);

CREATE TABLE IF NOT EXISTS chunk (
    file    TEXT NOT NULL REFERENCES file (id) ON DELETE CASCADE ON UPDATE CASCADE,
    blob    TEXT NOT NULL,
    "index" INTEGER NOT NULL,
    PRIMARY KEY (file, "index")
);

CREATE INDEX IF NOT EXISTS chunk_blob ON chunk (blob);

CREATE TABLE IF NOT EXISTS journal (
    seq        INTEGER PRIMARY KEY AUTOINCREMENT,
    file       TEXT NOT NULL,
    operation  BLOB NOT NULL,
    created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS journal_chunk (
    seq     INTEGER NOT NULL REFERENCES journal (seq) ON DELETE CASCADE,
    blob    TEXT NOT NULL,
    "index" INTEGER NOT NULL,
    PRIMARY KEY (seq, "index")
);

CREATE TABLE IF NOT EXISTS kv (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`

// Store is a SQLite-backed directory index, chunk map and blob store.
// The same layout backs the server's authoritative tree and each
// client's cache; clients additionally use the journal tables.
//
// All access goes through Update or View, which hand out a Tx bound to
// a pooled connection. Connections are not safe for concurrent use, so
// a Tx must never escape its closure.
type Store struct {
	pool *sqlitex.Pool
	path string
	ls   log_service.LogService
}

func Open(path string, ls log_service.LogService) (*Store, error) {
	pool, err := sqlitex.NewPool(path, sqlitex.PoolOptions{
		PoolSize: 4,
		PrepareConn: func(conn *sqlite.Conn) error {
			return prepareConnection(conn)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open store %s: %w", path, err)
	}

	s := &Store{pool: pool, path: path, ls: ls}

	if err := s.Update(context.Background(), func(tx *Tx) error {
		if err := tx.EnsureRootDirectory(); err != nil {
			return err
		}
		return tx.CollectGarbageBlobs()
	}); err != nil {
		pool.Close()
		return nil, err
	}

	ls.Info(log_service.LogEvent{
		Message:  "Store opened",
		Metadata: map[string]any{"path": path},
	})

	return s, nil
}

func prepareConnection(conn *sqlite.Conn) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
		"PRAGMA cache_size=-32000",
	}
	for _, pragma := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	return sqlitex.ExecuteScript(conn, schema, nil)
}

func (s *Store) Close() error {
	if err := s.pool.Close(); err != nil {
		return fmt.Errorf("failed to close store %s: %w", s.path, err)
	}
	return nil
}

func (s *Store) Path() string {
	return s.path
}

// Update runs fn inside a single write transaction. Any error rolls
// the whole transaction back.
func (s *Store) Update(ctx context.Context, fn func(tx *Tx) error) (err error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("failed to take store connection: %w", err)
	}
	defer s.pool.Put(conn)

	endFn, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer endFn(&err)

	return fn(&Tx{conn: conn})
}

// View runs fn with snapshot-consistent read access: fn runs inside one
// deferred transaction, so all of its statements read the same snapshot.
func (s *Store) View(ctx context.Context, fn func(tx *Tx) error) (err error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("failed to take store connection: %w", err)
	}
	defer s.pool.Put(conn)

	endFn := sqlitex.Transaction(conn)
	defer endFn(&err)

	return fn(&Tx{conn: conn})
}

// Tx is a handle on one store connection, scoped to an Update or View
// closure.
type Tx struct {
	conn *sqlite.Conn
}

// EnsureRootDirectory bootstraps the root dirent if the store is
// fresh. Root carries the fixed id, an empty name and no parent.
func (tx *Tx) EnsureRootDirectory() error {
	exists, err := tx.Exists(id_service.RootID)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	return tx.CreateDirEntity(id_service.RootID, id_service.RootParent, "",
		TypeDirectory, 0o755, 0, NewTimespec(0, 0))
}

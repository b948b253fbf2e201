package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"sort"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/corteximus/agentcore/pkg/agenterr"
)

// SQLStore is an alternative durable-store backend on top of SQLite,
// grounded on the teacher's SQL task-store selection pattern
// (pkg/task/factory.go chooses a SQL-backed TaskStore when configured
// instead of the in-memory default). It satisfies the same narrow Store
// interface as FileStore, so the orchestrator, checkpoint manager and
// tracer are indifferent to which backend is wired in.
//
// Writes are still "atomic" in the sense the core cares about: a row either
// fully commits or the transaction rolls back, so readers never observe a
// half-written value.
type SQLStore struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLStore opens (creating if necessary) a SQLite database at path and
// ensures the single key-value table exists.
func NewSQLStore(path string) (*SQLStore, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, agenterr.Wrap(agenterr.KindFatal, agenterr.ReasonStoreIO, "open sqlite store", err)
	}
	const schema = `CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value BLOB NOT NULL
	)`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, agenterr.Wrap(agenterr.KindFatal, agenterr.ReasonStoreIO, "create kv table", err)
	}
	return &SQLStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SQLStore) Close() error { return s.db.Close() }

// Write upserts value (as JSON) at key inside a transaction.
func (s *SQLStore) Write(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return agenterr.Wrap(agenterr.KindFatal, agenterr.ReasonStoreIO, "marshal value", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return agenterr.Wrap(agenterr.KindFatal, agenterr.ReasonStoreIO, "begin tx", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO kv (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, data); err != nil {
		tx.Rollback()
		return agenterr.Wrap(agenterr.KindFatal, agenterr.ReasonStoreIO, "upsert kv row", err)
	}
	if err := tx.Commit(); err != nil {
		return agenterr.Wrap(agenterr.KindFatal, agenterr.ReasonStoreIO, "commit tx", err)
	}
	return nil
}

// Read loads the JSON value at key into out.
func (s *SQLStore) Read(ctx context.Context, key string, out any) error {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&data)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return agenterr.Wrap(agenterr.KindFatal, agenterr.ReasonStoreIO, "query kv row", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return agenterr.Wrap(agenterr.KindFatal, agenterr.ReasonCheckpointCorruption, "corrupt JSON at "+key, err)
	}
	return nil
}

// List returns every key whose value begins with prefix, including those
// nested below intermediate "directories" (tasks/<id>/task.json under the
// "tasks" prefix), sorted lexically — matching FileStore's recursive
// semantics.
func (s *SQLStore) List(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key FROM kv WHERE key LIKE ? || '%'`, prefix)
	if err != nil {
		return nil, agenterr.Wrap(agenterr.KindFatal, agenterr.ReasonStoreIO, "list kv rows", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, agenterr.Wrap(agenterr.KindFatal, agenterr.ReasonStoreIO, "scan kv row", err)
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// Delete removes the row at key, if present.
func (s *SQLStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return agenterr.Wrap(agenterr.KindFatal, agenterr.ReasonStoreIO, "delete kv row", err)
	}
	return nil
}

var _ Store = (*SQLStore)(nil)
var _ Store = (*FileStore)(nil)

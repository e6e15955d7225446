package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

// SQLiteProvider stores generations in a SQLite database.
type SQLiteProvider struct {
	db         *sql.DB
	writeMutex *sync.Mutex
}

// memoryDBs names in-memory databases, one per provider.
var memoryDBs atomic.Int64

// NewSQLiteProvider opens (and migrates) the database with the given file name.
// If file name is empty, a new in-memory db is opened.
// It is shared by the connections of the provider only.
func NewSQLiteProvider(filename string) (SQLiteProvider, error) {
	if filename == "" {
		filename = fmt.Sprintf("file:offline-cache-%d?mode=memory&cache=shared", memoryDBs.Add(1))
	}
	db, err := sql.Open("sqlite", filename)
	if err != nil {
		return SQLiteProvider{}, err
	}
	for _, stmt := range []string{
		`CREATE TABLE IF NOT EXISTS generations (
			name TEXT PRIMARY KEY,
			created_at INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS entries (
			generation TEXT,
			key TEXT,
			stored_at INTEGER,
			bytes BLOB,
			PRIMARY KEY (generation, key)
		)`,
		"PRAGMA journal_mode=WAL",
	} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return SQLiteProvider{}, err
		}
	}
	return SQLiteProvider{
		db:         db,
		writeMutex: &sync.Mutex{},
	}, nil
}

func (s SQLiteProvider) Close() error {
	return s.db.Close()
}

func (s SQLiteProvider) Create(ctx context.Context, name string) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO generations (name, created_at) VALUES (?, ?)", name, time.Now().Unix())
	return err
}

func (s SQLiteProvider) Names(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT name FROM generations ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	names := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return names, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s SQLiteProvider) Has(ctx context.Context, name string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM generations WHERE name = ?", name).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func (s SQLiteProvider) Delete(ctx context.Context, name string) (bool, error) {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, "DELETE FROM entries WHERE generation = ?", name); err != nil {
		return false, err
	}
	result, err := tx.ExecContext(ctx, "DELETE FROM generations WHERE name = ?", name)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, tx.Commit()
}

func (s SQLiteProvider) Get(ctx context.Context, name, key string) ([]byte, bool, error) {
	var bytes []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT bytes FROM entries WHERE generation = ? AND key = ?", name, key).Scan(&bytes)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return bytes, true, nil
}

func (s SQLiteProvider) Put(ctx context.Context, name, key string, value []byte) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	now := time.Now().Unix()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx,
		"INSERT OR IGNORE INTO generations (name, created_at) VALUES (?, ?)", name, now); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT OR REPLACE INTO entries (generation, key, stored_at, bytes) VALUES (?, ?, ?, ?)",
		name, key, now, value); err != nil {
		return err
	}
	return tx.Commit()
}

func (s SQLiteProvider) Keys(ctx context.Context, name string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT key FROM entries WHERE generation = ? ORDER BY key", name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	keys := make([]string, 0)
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return keys, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

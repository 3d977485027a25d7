package main

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// TranscriptCache is the only state that crosses fetch boundaries. It is
// best effort throughout: a miss or a store error skips reuse, never aborts
// a fetch.
type TranscriptCache interface {
	Get(key string) (string, bool)
	Put(key, value string) error
}

// SQLiteCache stores serialized results in a single-table sqlite database.
type SQLiteCache struct {
	db *sql.DB
}

func OpenSQLiteCache(path string) (*SQLiteCache, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS transcripts (
		key        TEXT PRIMARY KEY,
		value      TEXT NOT NULL,
		fetched_at TIMESTAMP NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("init cache schema: %w", err)
	}
	return &SQLiteCache{db: db}, nil
}

func (c *SQLiteCache) Get(key string) (string, bool) {
	var value string
	if err := c.db.QueryRow(`SELECT value FROM transcripts WHERE key = ?`, key).Scan(&value); err != nil {
		return "", false
	}
	return value, true
}

func (c *SQLiteCache) Put(key, value string) error {
	_, err := c.db.Exec(
		`INSERT OR REPLACE INTO transcripts (key, value, fetched_at) VALUES (?, ?, ?)`,
		key, value, time.Now().UTC())
	return err
}

// Stats reports the number of cached transcripts, for the health endpoint.
func (c *SQLiteCache) Stats() (int, error) {
	var n int
	err := c.db.QueryRow(`SELECT COUNT(*) FROM transcripts`).Scan(&n)
	return n, err
}

func (c *SQLiteCache) Close() error {
	return c.db.Close()
}

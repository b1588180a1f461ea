package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/promptforge/teleprompt/pkg/errors"
)

// SQLiteCache persists predictions across optimization runs.
type SQLiteCache struct {
	db *sql.DB
}

// NewSQLiteCache opens (or creates) a cache database at path. WAL mode is
// enabled for concurrent readers during parallel evaluation.
func NewSQLiteCache(path string) (*SQLiteCache, error) {
	if path == "" {
		return nil, errors.New(errors.InvalidConfig, "cache path is required")
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrap(err, errors.InvalidConfig, "failed to open cache database")
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	c := &SQLiteCache{db: db}
	if err := c.initDB(); err != nil {
		db.Close()
		return nil, err
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, errors.Wrap(err, errors.InvalidConfig, "failed to enable WAL mode")
	}
	if _, err := db.Exec("PRAGMA synchronous=NORMAL"); err != nil {
		db.Close()
		return nil, errors.Wrap(err, errors.InvalidConfig, "failed to set synchronous pragma")
	}

	return c, nil
}

func (c *SQLiteCache) initDB() error {
	_, err := c.db.Exec(`
		CREATE TABLE IF NOT EXISTS predictions (
			key        TEXT PRIMARY KEY,
			outputs    BLOB NOT NULL,
			expires_at INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL
		)`)
	if err != nil {
		return errors.Wrap(err, errors.InvalidConfig, "failed to initialize cache schema")
	}
	return nil
}

var _ Cache = (*SQLiteCache)(nil)

func (c *SQLiteCache) Get(ctx context.Context, key string) (map[string]interface{}, bool, error) {
	var blob []byte
	var expiresAt int64
	err := c.db.QueryRowContext(ctx,
		"SELECT outputs, expires_at FROM predictions WHERE key = ?", key).Scan(&blob, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, errors.ExecutionFailed, "cache read failed")
	}

	if expiresAt > 0 && time.Now().Unix() > expiresAt {
		_, _ = c.db.ExecContext(ctx, "DELETE FROM predictions WHERE key = ?", key)
		return nil, false, nil
	}

	var outputs map[string]interface{}
	if err := json.Unmarshal(blob, &outputs); err != nil {
		return nil, false, errors.Wrap(err, errors.ExecutionFailed, "cache entry corrupt")
	}
	return outputs, true, nil
}

func (c *SQLiteCache) Set(ctx context.Context, key string, outputs map[string]interface{}, ttl time.Duration) error {
	blob, err := json.Marshal(outputs)
	if err != nil {
		return errors.Wrap(err, errors.InvalidInput, "outputs are not serializable")
	}

	var expiresAt int64
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl).Unix()
	}

	_, err = c.db.ExecContext(ctx,
		`INSERT INTO predictions (key, outputs, expires_at, created_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET outputs = excluded.outputs, expires_at = excluded.expires_at`,
		key, blob, expiresAt, time.Now().Unix())
	if err != nil {
		return errors.Wrap(err, errors.ExecutionFailed, "cache write failed")
	}
	return nil
}

func (c *SQLiteCache) Clear(ctx context.Context) error {
	_, err := c.db.ExecContext(ctx, "DELETE FROM predictions")
	if err != nil {
		return errors.Wrap(err, errors.ExecutionFailed, "cache clear failed")
	}
	return nil
}

func (c *SQLiteCache) Close() error {
	return c.db.Close()
}

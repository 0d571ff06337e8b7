package fetch

import (
	"database/sql"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Cache is the persistent URL -> body store. Entries past their TTL are
// logically absent: Get treats them as misses and Put overwrites them.
// The cache lives in its own database file and is always safe to delete;
// nothing downstream reads it.
type Cache struct {
	db *sql.DB
}

func OpenCache(path string) (*Cache, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS cache_entries (
		url TEXT PRIMARY KEY,
		body BLOB NOT NULL,
		fetched_at DATETIME NOT NULL,
		ttl_seconds INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_cache_fetched ON cache_entries(fetched_at);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}

	return &Cache{db: db}, nil
}

func (c *Cache) Close() error {
	return c.db.Close()
}

// Get returns the cached body and its retrieval time for url if a live
// entry exists.
func (c *Cache) Get(url string, now time.Time) ([]byte, time.Time, bool, error) {
	var body []byte
	var fetchedAt time.Time
	var ttlSeconds int64

	err := c.db.QueryRow(`
		SELECT body, fetched_at, ttl_seconds FROM cache_entries WHERE url = ?`, url).
		Scan(&body, &fetchedAt, &ttlSeconds)
	if err == sql.ErrNoRows {
		return nil, time.Time{}, false, nil
	}
	if err != nil {
		return nil, time.Time{}, false, err
	}

	if now.After(fetchedAt.Add(time.Duration(ttlSeconds) * time.Second)) {
		return nil, time.Time{}, false, nil
	}
	return body, fetchedAt, true, nil
}

// Put stores or overwrites the entry for url.
func (c *Cache) Put(url string, body []byte, now time.Time, ttl time.Duration) error {
	_, err := c.db.Exec(`
		INSERT INTO cache_entries (url, body, fetched_at, ttl_seconds)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(url) DO UPDATE SET
			body = excluded.body,
			fetched_at = excluded.fetched_at,
			ttl_seconds = excluded.ttl_seconds`,
		url, body, now.UTC(), int64(ttl.Seconds()))
	return err
}

// PurgeExpired drops entries whose TTL has lapsed. Housekeeping only;
// Get never returns expired rows regardless.
func (c *Cache) PurgeExpired(now time.Time) (int64, error) {
	res, err := c.db.Exec(`
		DELETE FROM cache_entries
		WHERE datetime(fetched_at, '+' || ttl_seconds || ' seconds') < datetime(?)`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Package pending stores workout finishes that could not reach the backend,
// so they survive restarts and can be replayed later.
package pending

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kinevo/sessiond/internal/models"
)

// The queue is a single JSON document under one well-known key. Replay always
// consumes the whole list, so list-at-a-time storage keeps load/save trivially
// atomic.
const queueKey = "pending_finishes"

// Queue is the durable offline-finish queue backed by SQLite at dir/state.db.
type Queue struct {
	db *sql.DB
}

// Open opens (or creates) the queue database under dir.
func Open(dir string) (*Queue, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating state dir %s: %w", dir, err)
	}

	dbPath := filepath.Join(dir, "state.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening state db: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS kv_store (
		key        TEXT PRIMARY KEY,
		value      TEXT NOT NULL,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating state table: %w", err)
	}

	return &Queue{db: db}, nil
}

// Load returns the queued finishes, oldest first. An absent key is an empty
// queue.
func (q *Queue) Load() ([]models.PendingFinish, error) {
	var raw string
	err := q.db.QueryRow(`SELECT value FROM kv_store WHERE key = ?`, queueKey).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading pending finishes: %w", err)
	}

	var list []models.PendingFinish
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		return nil, fmt.Errorf("decoding pending finishes: %w", err)
	}
	return list, nil
}

// Save replaces the stored queue with list. An empty list clears the key.
func (q *Queue) Save(list []models.PendingFinish) error {
	if len(list) == 0 {
		_, err := q.db.Exec(`DELETE FROM kv_store WHERE key = ?`, queueKey)
		return err
	}

	raw, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("encoding pending finishes: %w", err)
	}
	_, err = q.db.Exec(
		`INSERT OR REPLACE INTO kv_store (key, value, updated_at) VALUES (?, ?, ?)`,
		queueKey, string(raw), time.Now().UTC(),
	)
	return err
}

// Append adds one finish to the tail of the queue.
func (q *Queue) Append(f models.PendingFinish) error {
	list, err := q.Load()
	if err != nil {
		return err
	}
	return q.Save(append(list, f))
}

// Len reports the number of queued finishes.
func (q *Queue) Len() (int, error) {
	list, err := q.Load()
	if err != nil {
		return 0, err
	}
	return len(list), nil
}

// Close closes the queue database.
func (q *Queue) Close() error {
	return q.db.Close()
}

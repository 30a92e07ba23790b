package progress

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"iptv-session/work/logger"
)

// Position is one saved resume point for a VOD item.
type Position struct {
	ItemID    string    `json:"itemId"`
	Seconds   float64   `json:"seconds"`
	Duration  float64   `json:"duration"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// nearEndFraction: positions past this share of the duration count as
// watched and clear the resume point instead of saving it.
const nearEndFraction = 0.95

// Store persists VOD resume positions in SQLite so playback picks up where
// the viewer left off across restarts.
type Store struct {
	db *sql.DB
}

// Open creates (or opens) the store at path and runs the schema.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create progress directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)&_pragma=synchronous(normal)", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open progress database: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS playback_progress (
			item_id    TEXT PRIMARY KEY,
			seconds    REAL NOT NULL,
			duration   REAL NOT NULL DEFAULT 0,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create progress schema: %w", err)
	}

	logger.Debug("[PROGRESS] store opened at %s", path)
	return &Store{db: db}, nil
}

// Save upserts the resume point for an item. A position near the end of a
// known duration means the item was watched to completion, which clears
// the resume point instead.
func (s *Store) Save(itemID string, seconds, duration float64) error {
	if itemID == "" || seconds < 0 {
		return fmt.Errorf("invalid progress record")
	}
	if duration > 0 && seconds >= duration*nearEndFraction {
		return s.Delete(itemID)
	}

	_, err := s.db.Exec(`
		INSERT INTO playback_progress (item_id, seconds, duration, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(item_id) DO UPDATE SET
			seconds = excluded.seconds,
			duration = excluded.duration,
			updated_at = CURRENT_TIMESTAMP
	`, itemID, seconds, duration)
	if err != nil {
		return fmt.Errorf("failed to save progress: %w", err)
	}
	return nil
}

// Get returns the resume point for an item, reporting whether one exists.
func (s *Store) Get(itemID string) (Position, bool, error) {
	var pos Position
	err := s.db.QueryRow(`
		SELECT item_id, seconds, duration, updated_at
		FROM playback_progress WHERE item_id = ?
	`, itemID).Scan(&pos.ItemID, &pos.Seconds, &pos.Duration, &pos.UpdatedAt)
	if err == sql.ErrNoRows {
		return Position{}, false, nil
	}
	if err != nil {
		return Position{}, false, fmt.Errorf("failed to read progress: %w", err)
	}
	return pos, true, nil
}

// Delete clears the resume point for an item.
func (s *Store) Delete(itemID string) error {
	_, err := s.db.Exec(`DELETE FROM playback_progress WHERE item_id = ?`, itemID)
	if err != nil {
		return fmt.Errorf("failed to delete progress: %w", err)
	}
	return nil
}

// Prune drops resume points that have not been touched within maxAge.
func (s *Store) Prune(maxAge time.Duration) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM playback_progress WHERE updated_at < ?`, time.Now().Add(-maxAge))
	if err != nil {
		return 0, fmt.Errorf("failed to prune progress: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

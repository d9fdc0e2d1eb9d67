// Package opstate persists operator-facing runtime state: the pause
// flag and a log of published posts. It backs the /status, /stats and
// /log operator commands and survives restarts, unlike in-process
// counters.
package opstate

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Post kinds recorded in the post log.
const (
	KindText  = "text"
	KindImage = "image"
	KindReply = "reply"
)

// PostEntry is one published post as recorded in the log.
type PostEntry struct {
	TweetID  string
	Kind     string
	Text     string
	PostedAt time.Time
}

// Store persists operator state in SQLite. All public methods are safe
// for concurrent use (SQLite serializes writes).
type Store struct {
	db *sql.DB
}

// NewStore opens the operator state store at the given database path.
// The schema is created automatically on first use.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS flags (
		key        TEXT PRIMARY KEY,
		value      TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS post_log (
		id        INTEGER PRIMARY KEY AUTOINCREMENT,
		tweet_id  TEXT NOT NULL,
		kind      TEXT NOT NULL,
		text      TEXT NOT NULL,
		posted_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_post_log_posted_at ON post_log (posted_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Paused reports whether posting is paused. A missing flag means not
// paused.
func (s *Store) Paused() (bool, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM flags WHERE key = 'paused'`).Scan(&value)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get paused: %w", err)
	}
	return value == "true", nil
}

// SetPaused sets the pause flag.
func (s *Store) SetPaused(paused bool) error {
	value := "false"
	if paused {
		value = "true"
	}
	_, err := s.db.Exec(
		`INSERT INTO flags (key, value, updated_at) VALUES ('paused', ?, ?)
		 ON CONFLICT (key) DO UPDATE
		 SET value = excluded.value, updated_at = excluded.updated_at`,
		value, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("set paused: %w", err)
	}
	return nil
}

// RecordPost appends a published post to the log.
func (s *Store) RecordPost(tweetID, kind, text string, postedAt time.Time) error {
	_, err := s.db.Exec(
		`INSERT INTO post_log (tweet_id, kind, text, posted_at) VALUES (?, ?, ?, ?)`,
		tweetID, kind, text, postedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("record post %s: %w", tweetID, err)
	}
	return nil
}

// PostsSince counts logged posts of any kind at or after the cutoff.
func (s *Store) PostsSince(cutoff time.Time) (int, error) {
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM post_log WHERE posted_at >= ?`,
		cutoff.UTC().Format(time.RFC3339),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count posts: %w", err)
	}
	return n, nil
}

// PostIDsSince returns tweet IDs logged at or after the cutoff, oldest
// first.
func (s *Store) PostIDsSince(cutoff time.Time) ([]string, error) {
	rows, err := s.db.Query(
		`SELECT tweet_id FROM post_log WHERE posted_at >= ? ORDER BY id`,
		cutoff.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return nil, fmt.Errorf("post ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CountSinceByKind counts logged posts of one kind at or after the
// cutoff.
func (s *Store) CountSinceByKind(kind string, cutoff time.Time) (int, error) {
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM post_log WHERE kind = ? AND posted_at >= ?`,
		kind, cutoff.UTC().Format(time.RFC3339),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count %s posts: %w", kind, err)
	}
	return n, nil
}

// RecentPosts returns the newest n log entries, newest first.
func (s *Store) RecentPosts(n int) ([]PostEntry, error) {
	rows, err := s.db.Query(
		`SELECT tweet_id, kind, text, posted_at FROM post_log
		 ORDER BY id DESC LIMIT ?`, n,
	)
	if err != nil {
		return nil, fmt.Errorf("recent posts: %w", err)
	}
	defer rows.Close()

	var out []PostEntry
	for rows.Next() {
		var e PostEntry
		var ts string
		if err := rows.Scan(&e.TweetID, &e.Kind, &e.Text, &ts); err != nil {
			return nil, fmt.Errorf("scan post: %w", err)
		}
		if t, err := time.Parse(time.RFC3339, ts); err == nil {
			e.PostedAt = t
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

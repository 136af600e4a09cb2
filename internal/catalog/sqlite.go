package catalog

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS episodes (
	id          TEXT PRIMARY KEY,
	feed_title  TEXT NOT NULL,
	title       TEXT NOT NULL,
	source_url  TEXT NOT NULL,
	downloaded  INTEGER NOT NULL DEFAULT 0,
	local_path  TEXT NOT NULL DEFAULT '',
	added_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_episodes_source_url ON episodes(source_url);
`

// Store is the sqlite-backed episode catalog.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the catalog database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog db: %w", err)
	}
	// The single worker plus CLI callers share this handle; sqlite
	// serializes writers anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init catalog schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Add inserts an episode, assigning an ID when empty, and returns it.
// Re-adding an existing URL returns the already-stored episode.
func (s *Store) Add(ep Episode) (Episode, error) {
	if existing, err := s.FindByURL(ep.SourceURL); err == nil {
		return existing, nil
	}

	if ep.ID == "" {
		ep.ID = uuid.New().String()
	}
	if ep.AddedAt.IsZero() {
		ep.AddedAt = time.Now()
	}

	_, err := s.db.Exec(`
		INSERT INTO episodes (id, feed_title, title, source_url, downloaded, local_path, added_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			feed_title=excluded.feed_title,
			title=excluded.title,
			source_url=excluded.source_url
	`, ep.ID, ep.FeedTitle, ep.Title, ep.SourceURL, boolToInt(ep.Downloaded), ep.LocalPath, ep.AddedAt.Unix())
	if err != nil {
		return Episode{}, fmt.Errorf("failed to insert episode: %w", err)
	}
	return ep, nil
}

// Resolve implements Resolver.
func (s *Store) Resolve(key string) (Episode, error) {
	row := s.db.QueryRow(`
		SELECT id, feed_title, title, source_url, downloaded, local_path, added_at
		FROM episodes WHERE id = ?
	`, key)
	return scanEpisode(row)
}

// FindByURL returns the episode with the given source URL.
func (s *Store) FindByURL(url string) (Episode, error) {
	row := s.db.QueryRow(`
		SELECT id, feed_title, title, source_url, downloaded, local_path, added_at
		FROM episodes WHERE source_url = ?
		ORDER BY added_at DESC LIMIT 1
	`, url)
	return scanEpisode(row)
}

// MarkDownloaded flips the downloaded flag and records the final path.
func (s *Store) MarkDownloaded(key, localPath string) error {
	result, err := s.db.Exec(`
		UPDATE episodes SET downloaded = 1, local_path = ? WHERE id = ?
	`, localPath, key)
	if err != nil {
		return fmt.Errorf("failed to mark downloaded: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// ClearDownloaded resets the downloaded flag, e.g. after the file was
// removed from disk.
func (s *Store) ClearDownloaded(key string) error {
	_, err := s.db.Exec(`
		UPDATE episodes SET downloaded = 0, local_path = '' WHERE id = ?
	`, key)
	return err
}

// List returns all episodes, newest first.
func (s *Store) List() ([]Episode, error) {
	rows, err := s.db.Query(`
		SELECT id, feed_title, title, source_url, downloaded, local_path, added_at
		FROM episodes ORDER BY added_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query episodes: %w", err)
	}
	defer rows.Close()

	var eps []Episode
	for rows.Next() {
		ep, err := scanEpisode(rows)
		if err != nil {
			return nil, err
		}
		eps = append(eps, ep)
	}
	return eps, rows.Err()
}

// Remove deletes an episode from the catalog.
func (s *Store) Remove(key string) error {
	_, err := s.db.Exec(`DELETE FROM episodes WHERE id = ?`, key)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEpisode(row rowScanner) (Episode, error) {
	var ep Episode
	var downloaded int
	var addedAt int64
	err := row.Scan(&ep.ID, &ep.FeedTitle, &ep.Title, &ep.SourceURL, &downloaded, &ep.LocalPath, &addedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return Episode{}, ErrNotFound
		}
		return Episode{}, fmt.Errorf("failed to scan episode: %w", err)
	}
	ep.Downloaded = downloaded != 0
	ep.AddedAt = time.Unix(addedAt, 0)
	return ep, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
